// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

package ipctrace

import (
	"log/slog"
	"sync/atomic"

	"github.com/horizon-userland/horizon/lib/clock"
	"github.com/horizon-userland/horizon/lib/ipc"
	"github.com/horizon-userland/horizon/lib/kernel"
)

// RecorderOptions configures a Recorder.
type RecorderOptions struct {
	// Clock timestamps records. Defaults to the real clock.
	Clock clock.Clock

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Recorder is a kernel.Kernel that records every SendSyncRequest to a
// Writer and otherwise forwards to the wrapped kernel.
type Recorder struct {
	kernel.Kernel

	writer   *Writer
	clock    clock.Clock
	logger   *slog.Logger
	sequence atomic.Uint64
	dropped  atomic.Uint64
}

// NewRecorder wraps k.
func NewRecorder(k kernel.Kernel, writer *Writer, options RecorderOptions) *Recorder {
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	return &Recorder{Kernel: k, writer: writer, clock: options.Clock, logger: options.Logger}
}

// SendSyncRequest forwards the request and records the exchange.
func (r *Recorder) SendSyncRequest(session kernel.Handle, cmd *kernel.CommandBuffer) error {
	request := *cmd
	start := r.clock.Now()
	err := r.Kernel.SendSyncRequest(session, cmd)

	record := Record{
		Sequence: r.sequence.Add(1),
		Time:     start,
		Duration: r.clock.Now().Sub(start),
		Session:  session,
		Request:  trim(&request),
	}
	if incoming, parseErr := ipc.ParseRequest(&request); parseErr == nil {
		record.Type = uint32(incoming.Type)
		record.Command = incoming.ID
	}
	if err != nil {
		record.Error = err.Error()
	} else {
		record.Reply = trim(cmd)
		if reply, parseErr := ipc.ParseReply(cmd); parseErr == nil {
			record.Result = uint32(reply.Result)
		}
	}

	if writeErr := r.writer.Write(record); writeErr != nil {
		r.dropped.Add(1)
		r.logger.Warn("dropping ipc capture record", "sequence", record.Sequence, "error", writeErr)
	}
	return err
}

// Recorded returns how many exchanges were seen, and how many of those
// could not be written.
func (r *Recorder) Recorded() (seen, dropped uint64) {
	return r.sequence.Load(), r.dropped.Load()
}
