// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the command framework for hzn: a tree of commands
// with pflag flag sets, typo suggestions for unknown commands and
// flags, structured help, and the CLI's logger and output helpers.
package cli
