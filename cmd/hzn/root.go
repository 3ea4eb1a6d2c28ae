// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"io"

	"github.com/horizon-userland/horizon/cmd/hzn/cli"
)

func root(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:        "hzn",
		Summary:     "Horizon userland tool",
		Description: "Run the GPU driver stack against the emulated kernel and inspect IPC captures.",
		Subcommands: []*cli.Command{
			demoCommand(stdout),
			traceCommand(stdout),
			versionCommand(stdout),
		},
	}
}
