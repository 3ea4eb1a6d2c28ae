// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func TestExecuteDispatchesToSubcommand(t *testing.T) {
	var called string
	root := &Command{
		Name: "hzn",
		Subcommands: []*Command{
			{Name: "version", Run: func([]string) error { called = "version"; return nil }},
			{Name: "demo", Run: func([]string) error { called = "demo"; return nil }},
		},
	}

	if err := root.Execute([]string{"demo"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if called != "demo" {
		t.Errorf("dispatched to %q, want demo", called)
	}
}

func TestExecuteNestedSubcommands(t *testing.T) {
	var received []string
	root := &Command{
		Name: "hzn",
		Subcommands: []*Command{{
			Name: "trace",
			Subcommands: []*Command{{
				Name: "dump",
				Run:  func(args []string) error { received = args; return nil },
			}},
		}},
	}

	if err := root.Execute([]string{"trace", "dump", "capture.hzt"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(received) != 1 || received[0] != "capture.hzt" {
		t.Errorf("args = %v, want [capture.hzt]", received)
	}
}

func TestExecuteParsesFlags(t *testing.T) {
	var output JSONOutput
	var limit int
	var received []string
	command := &Command{
		Name: "dump",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("dump", pflag.ContinueOnError)
			output.AddFlag(flagSet)
			flagSet.IntVar(&limit, "limit", 0, "records to print")
			return flagSet
		},
		Run: func(args []string) error { received = args; return nil },
	}

	if err := command.Execute([]string{"--json", "--limit", "5", "capture.hzt"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !output.OutputJSON || limit != 5 {
		t.Errorf("json = %v, limit = %d", output.OutputJSON, limit)
	}
	if len(received) != 1 || received[0] != "capture.hzt" {
		t.Errorf("args = %v", received)
	}
}

func TestUnknownFlagSuggestion(t *testing.T) {
	command := &Command{
		Name: "demo",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("demo", pflag.ContinueOnError)
			flagSet.String("config", "", "config file")
			flagSet.String("trace", "", "capture file")
			return flagSet
		},
		Run: func([]string) error { return nil },
	}

	err := command.Execute([]string{"--cnofig", "x.yaml"})
	if err == nil {
		t.Fatal("Execute succeeded with an unknown flag")
	}
	if !strings.Contains(err.Error(), "did you mean --config") {
		t.Errorf("error = %q, want a suggestion for --config", err)
	}
	if !strings.Contains(err.Error(), "--help") {
		t.Errorf("error = %q, should point to --help", err)
	}

	err = command.Execute([]string{"--zzzzzzzzzz"})
	if err == nil || strings.Contains(err.Error(), "did you mean") {
		t.Errorf("error = %v, want no suggestion for a distant flag", err)
	}
}

func TestUnknownSubcommandSuggestion(t *testing.T) {
	root := &Command{
		Name:        "hzn",
		Subcommands: []*Command{{Name: "demo"}, {Name: "trace"}, {Name: "version"}},
	}

	err := root.Execute([]string{"trcae"})
	if err == nil || !strings.Contains(err.Error(), `did you mean "trace"`) {
		t.Errorf("error = %v, want a suggestion for trace", err)
	}
	err = root.Execute([]string{"zzzzzzz"})
	if err == nil || strings.Contains(err.Error(), "did you mean") {
		t.Errorf("error = %v, want no suggestion", err)
	}
}

func TestSubcommandRequired(t *testing.T) {
	root := &Command{Name: "hzn", Subcommands: []*Command{{Name: "demo"}}}
	if err := root.Execute(nil); err == nil {
		t.Error("Execute with no arguments succeeded")
	}
}

func TestCommandWithoutRun(t *testing.T) {
	root := &Command{Name: "hzn", Subcommands: []*Command{{Name: "empty"}}}
	err := root.Execute([]string{"empty"})
	if err == nil || !strings.Contains(err.Error(), "hzn empty") {
		t.Errorf("error = %v, want one naming the command path", err)
	}
}

func TestHelpFlags(t *testing.T) {
	for _, arg := range []string{"-h", "--help", "help"} {
		ran := false
		command := &Command{Name: "demo", Run: func([]string) error { ran = true; return nil }}
		if err := command.Execute([]string{arg}); err != nil {
			t.Errorf("Execute(%q): %v", arg, err)
		}
		if ran {
			t.Errorf("Execute(%q) ran the command", arg)
		}
	}
}

func TestPrintHelp(t *testing.T) {
	trace := &Command{
		Name:    "trace",
		Summary: "Inspect IPC captures",
		Subcommands: []*Command{
			{Name: "dump", Summary: "Print the records in a capture"},
		},
		Examples: []Example{{Description: "Print a capture", Command: "hzn trace dump capture.hzt"}},
	}
	root := &Command{Name: "hzn", Subcommands: []*Command{trace}}
	trace.parent = root

	var buffer bytes.Buffer
	trace.PrintHelp(&buffer)
	help := buffer.String()
	for _, want := range []string{
		"Inspect IPC captures",
		"hzn trace <command> [flags]",
		"dump",
		"Print the records in a capture",
		"# Print a capture",
		"Run 'hzn trace <command> --help'",
	} {
		if !strings.Contains(help, want) {
			t.Errorf("help is missing %q:\n%s", want, help)
		}
	}
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"", "abc", 3},
		{"trace", "trace", 0},
		{"trcae", "trace", 2},
		{"demo", "dem", 1},
		{"kitten", "sitting", 3},
	}
	for _, test := range tests {
		if got := levenshtein(test.a, test.b); got != test.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", test.a, test.b, got, test.want)
		}
	}
}
