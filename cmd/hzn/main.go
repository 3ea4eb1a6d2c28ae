// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"

	"github.com/horizon-userland/horizon/lib/process"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
	process.RunExitHooks()
}

func run() error {
	return root(os.Stdout).Execute(os.Args[1:])
}
