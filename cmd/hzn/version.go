// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/pflag"

	"github.com/horizon-userland/horizon/cmd/hzn/cli"
	"github.com/horizon-userland/horizon/lib/version"
)

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	Go        string `json:"go"`
	Platform  string `json:"platform"`
}

func versionCommand(stdout io.Writer) *cli.Command {
	var (
		output cli.JSONOutput
		short  bool
	)
	return &cli.Command{
		Name:    "version",
		Summary: "Print build information",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("version", pflag.ContinueOnError)
			output.AddFlag(flagSet)
			flagSet.BoolVar(&short, "short", false, "print only the version number")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			info := versionInfo{
				Version:   version.Short(),
				Commit:    version.Commit(),
				BuildTime: version.BuildTime,
				Go:        runtime.Version(),
				Platform:  runtime.GOOS + "/" + runtime.GOARCH,
			}
			if done, err := output.EmitJSON(stdout, info); done {
				return err
			}
			if short {
				_, err := fmt.Fprintln(stdout, version.Short())
				return err
			}
			_, err := fmt.Fprintln(stdout, "hzn "+version.Full())
			return err
		},
	}
}
