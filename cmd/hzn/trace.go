// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/horizon-userland/horizon/cmd/hzn/cli"
	"github.com/horizon-userland/horizon/lib/codec"
	"github.com/horizon-userland/horizon/lib/ipc"
	"github.com/horizon-userland/horizon/lib/ipctrace"
	"github.com/horizon-userland/horizon/lib/result"
)

func traceCommand(stdout io.Writer) *cli.Command {
	return &cli.Command{
		Name:    "trace",
		Summary: "Inspect IPC captures",
		Description: `Read a capture written by "hzn demo --trace". Every frame's digest is
verified while reading; a damaged capture is reported at the first bad
frame.`,
		Subcommands: []*cli.Command{
			traceDumpCommand(stdout),
			traceSummaryCommand(stdout),
		},
	}
}

func traceDumpCommand(stdout io.Writer) *cli.Command {
	var (
		output   cli.JSONOutput
		limit    int
		diagnose bool
	)
	return &cli.Command{
		Name:    "dump",
		Summary: "Print the records in a capture",
		Usage:   "hzn trace dump <capture> [flags]",
		Examples: []cli.Example{
			{Description: "Show the first ten exchanges", Command: "hzn trace dump demo.hzt --limit 10"},
			{Description: "Show records in CBOR diagnostic notation", Command: "hzn trace dump demo.hzt --diag"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("dump", pflag.ContinueOnError)
			output.AddFlag(flagSet)
			flagSet.IntVar(&limit, "limit", 0, "print at most this many records (0 for all)")
			flagSet.BoolVar(&diagnose, "diag", false, "print each record in CBOR diagnostic notation")
			return flagSet
		},
		Run: func(args []string) error {
			records, err := readCapture(args)
			if err != nil {
				return err
			}
			if limit > 0 && len(records) > limit {
				records = records[:limit]
			}
			if done, err := output.EmitJSON(stdout, records); done {
				return err
			}
			if diagnose {
				return diagnoseRecords(stdout, records)
			}
			return dumpRecords(stdout, records)
		},
	}
}

func traceSummaryCommand(stdout io.Writer) *cli.Command {
	var output cli.JSONOutput
	return &cli.Command{
		Name:    "summary",
		Summary: "Count the exchanges in a capture by command",
		Usage:   "hzn trace summary <capture> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("summary", pflag.ContinueOnError)
			output.AddFlag(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			records, err := readCapture(args)
			if err != nil {
				return err
			}
			summary := summarize(records)
			if done, err := output.EmitJSON(stdout, summary); done {
				return err
			}
			return printSummary(stdout, summary)
		},
	}
}

func readCapture(args []string) ([]ipctrace.Record, error) {
	if len(args) != 1 {
		return nil, errors.New("expected exactly one capture file")
	}
	file, err := os.Open(args[0])
	if err != nil {
		return nil, err
	}
	defer file.Close()
	records, err := ipctrace.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", args[0], err)
	}
	return records, nil
}

func messageTypeName(t uint32) string {
	switch ipc.MessageType(t) {
	case ipc.MessageTypeRequest:
		return "request"
	case ipc.MessageTypeClose:
		return "close"
	}
	return fmt.Sprintf("type(%d)", t)
}

// outcome is the result column: the kernel error if the request was
// not delivered, otherwise the service's result code.
func outcome(record ipctrace.Record) string {
	if record.Error != "" {
		return record.Error
	}
	if record.Result == 0 {
		return "ok"
	}
	return result.Code(record.Result).Error()
}

func dumpRecords(w io.Writer, records []ipctrace.Record) error {
	tw := tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "SEQ\tTIME\tSESSION\tTYPE\tCMD\tDURATION\tRESULT\n")
	for _, record := range records {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\t%s\n",
			record.Sequence,
			record.Time.Format("15:04:05.000000"),
			record.Session,
			messageTypeName(record.Type),
			record.Command,
			record.Duration,
			outcome(record),
		)
	}
	return tw.Flush()
}

func diagnoseRecords(w io.Writer, records []ipctrace.Record) error {
	for _, record := range records {
		data, err := codec.Marshal(record)
		if err != nil {
			return err
		}
		notation, err := codec.Diagnose(data)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintln(w, notation); err != nil {
			return err
		}
	}
	return nil
}

// commandSummary aggregates the exchanges of one message type and
// command id.
type commandSummary struct {
	Type     string        `json:"type"`
	Command  uint32        `json:"command"`
	Count    int           `json:"count"`
	Failures int           `json:"failures"`
	Total    time.Duration `json:"total"`
}

func summarize(records []ipctrace.Record) []commandSummary {
	type key struct {
		typ     uint32
		command uint32
	}
	index := make(map[key]int)
	var summary []commandSummary
	for _, record := range records {
		k := key{record.Type, record.Command}
		position, ok := index[k]
		if !ok {
			position = len(summary)
			index[k] = position
			summary = append(summary, commandSummary{Type: messageTypeName(record.Type), Command: record.Command})
		}
		entry := &summary[position]
		entry.Count++
		entry.Total += record.Duration
		if record.Error != "" || record.Result != 0 {
			entry.Failures++
		}
	}
	slices.SortFunc(summary, func(a, b commandSummary) int {
		return cmp.Or(cmp.Compare(a.Type, b.Type), cmp.Compare(a.Command, b.Command))
	})
	return summary
}

func printSummary(w io.Writer, summary []commandSummary) error {
	tw := tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "TYPE\tCMD\tCOUNT\tFAILURES\tTOTAL\n")
	for _, entry := range summary {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\n", entry.Type, entry.Command, entry.Count, entry.Failures, entry.Total)
	}
	return tw.Flush()
}
