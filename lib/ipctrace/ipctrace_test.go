// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

package ipctrace

import (
	"bytes"
	"errors"
	"io"
	"slices"
	"testing"
	"time"

	"github.com/horizon-userland/horizon/lib/emu/smsrv"
	"github.com/horizon-userland/horizon/lib/ipc"
	"github.com/horizon-userland/horizon/lib/kernel"
	"github.com/horizon-userland/horizon/lib/result"
	"github.com/horizon-userland/horizon/lib/sm"
	"github.com/horizon-userland/horizon/lib/testutil"
)

func sampleRecords(n int) []Record {
	records := make([]Record, n)
	for index := range records {
		var cmd kernel.CommandBuffer
		reply := &ipc.Reply{Raw: []uint32{uint32(index), 0xC0080101, 0, 0}}
		ipc.MarshalReply(&cmd, reply)
		records[index] = Record{
			Sequence: uint64(index + 1),
			Time:     testutil.Epoch.Add(time.Duration(index) * time.Millisecond),
			Duration: time.Microsecond,
			Session:  0x102,
			Type:     4,
			Command:  1,
			Request:  trim(&cmd),
			Reply:    trim(&cmd),
		}
	}
	return records
}

func TestWriteReadRoundTrip(t *testing.T) {
	for _, compression := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(compression.String(), func(t *testing.T) {
			var file bytes.Buffer
			writer, err := NewWriter(&file, WriterOptions{Compression: compression, FrameRecords: 8})
			if err != nil {
				t.Fatalf("NewWriter: %v", err)
			}
			records := sampleRecords(20)
			for _, record := range records {
				if err := writer.Write(record); err != nil {
					t.Fatalf("Write: %v", err)
				}
			}
			if err := writer.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}
			if frames, count := writer.Stats(); frames != 3 || count != 20 {
				t.Errorf("Stats() = %d frames, %d records; want 3, 20", frames, count)
			}

			read, err := ReadAll(&file)
			if err != nil {
				t.Fatalf("ReadAll: %v", err)
			}
			if len(read) != len(records) {
				t.Fatalf("read %d records, want %d", len(read), len(records))
			}
			for index := range records {
				got, want := read[index], records[index]
				if got.Sequence != want.Sequence || !got.Time.Equal(want.Time) || got.Duration != want.Duration ||
					got.Session != want.Session || got.Command != want.Command ||
					!bytes.Equal(got.Request, want.Request) || !bytes.Equal(got.Reply, want.Reply) {
					t.Errorf("record %d = %+v, want %+v", index, got, want)
				}
			}
		})
	}
}

func TestCompressedFramesAreSmaller(t *testing.T) {
	sizes := make(map[Compression]int)
	for _, compression := range []Compression{CompressionNone, CompressionZstd} {
		var file bytes.Buffer
		writer, err := NewWriter(&file, WriterOptions{Compression: compression})
		if err != nil {
			t.Fatalf("NewWriter: %v", err)
		}
		for _, record := range sampleRecords(50) {
			writer.Write(record)
		}
		writer.Close()
		sizes[compression] = file.Len()
	}
	if sizes[CompressionZstd] >= sizes[CompressionNone] {
		t.Errorf("zstd capture is %d bytes, uncompressed %d", sizes[CompressionZstd], sizes[CompressionNone])
	}
}

func TestCorruptFrameIsRejected(t *testing.T) {
	var file bytes.Buffer
	writer, err := NewWriter(&file, WriterOptions{})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for _, record := range sampleRecords(3) {
		writer.Write(record)
	}
	writer.Close()

	data := file.Bytes()
	data[len(data)-1] ^= 0xFF
	if _, err := ReadAll(bytes.NewReader(data)); !errors.Is(err, ErrCorrupt) {
		t.Errorf("ReadAll of corrupted file = %v, want ErrCorrupt", err)
	}
}

func TestTruncatedFrame(t *testing.T) {
	var file bytes.Buffer
	writer, err := NewWriter(&file, WriterOptions{})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	for _, record := range sampleRecords(2) {
		writer.Write(record)
	}
	writer.Close()

	truncated := file.Bytes()[:file.Len()-5]
	if _, err := ReadAll(bytes.NewReader(truncated)); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("ReadAll of truncated file = %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestNotATrace(t *testing.T) {
	for _, input := range [][]byte{nil, []byte("HZN"), []byte("not a capture file")} {
		if _, err := NewReader(bytes.NewReader(input)); !errors.Is(err, ErrNotTrace) {
			t.Errorf("NewReader(%q) = %v, want ErrNotTrace", input, err)
		}
	}
}

func TestWriteAfterClose(t *testing.T) {
	writer, err := NewWriter(io.Discard, WriterOptions{})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	writer.Close()
	if err := writer.Write(Record{}); err == nil {
		t.Error("Write after Close succeeded")
	}
	if err := writer.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestParseCompression(t *testing.T) {
	for _, compression := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		parsed, err := ParseCompression(compression.String())
		if err != nil || parsed != compression {
			t.Errorf("ParseCompression(%q) = %v, %v", compression.String(), parsed, err)
		}
	}
	if _, err := ParseCompression("gzip"); err == nil {
		t.Error("ParseCompression(gzip) succeeded")
	}
}

func TestTrimKeepsSignificantWords(t *testing.T) {
	var cmd kernel.CommandBuffer
	cmd[0], cmd[9] = 4, 1
	trimmed := trim(&cmd)
	if len(trimmed) != 12 {
		t.Fatalf("len(trim) = %d, want 12", len(trimmed))
	}
	record := Record{Request: trimmed}
	if *record.RequestBuffer() != cmd {
		t.Error("RequestBuffer did not restore the command buffer")
	}
	if !slices.Equal(record.RequestWords(), []uint32{4, 0, 0x100}) {
		t.Errorf("RequestWords() = %#x", record.RequestWords())
	}
}

func TestRecorderCapturesExchanges(t *testing.T) {
	system := testutil.NewSystem(t)
	var file bytes.Buffer
	writer, err := NewWriter(&file, WriterOptions{Compression: CompressionLZ4})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	recorder := NewRecorder(system.Kernel, writer, RecorderOptions{Clock: system.Clock, Logger: testutil.Logger(t)})

	locator := sm.NewLocator(recorder, sm.Options{Logger: testutil.Logger(t)})
	if err := locator.Acquire(); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := locator.GetService("missing"); !errors.Is(err, sm.ErrServiceNotFound) {
		t.Fatalf("GetService = %v", err)
	}
	locator.Release()
	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	records, err := ReadAll(&file)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	// initialize, get service, close
	if len(records) != 3 {
		t.Fatalf("captured %d records, want 3", len(records))
	}
	if records[0].Command != smsrv.CommandInitialize || records[0].Type != uint32(ipc.MessageTypeRequest) {
		t.Errorf("first record: type %d command %d", records[0].Type, records[0].Command)
	}
	if records[1].Command != smsrv.CommandGetService || records[1].Result != uint32(result.SMNotRegistered) {
		t.Errorf("second record: command %d result %#x", records[1].Command, records[1].Result)
	}
	if records[2].Type != uint32(ipc.MessageTypeClose) {
		t.Errorf("third record type = %d, want close", records[2].Type)
	}
	for index, record := range records {
		if record.Sequence != uint64(index+1) {
			t.Errorf("record %d has sequence %d", index, record.Sequence)
		}
		if record.Session != records[0].Session {
			t.Errorf("record %d on session %v, want %v", index, record.Session, records[0].Session)
		}
	}
	if seen, dropped := recorder.Recorded(); seen != 3 || dropped != 0 {
		t.Errorf("Recorded() = %d, %d", seen, dropped)
	}
}

func TestRecorderKeepsKernelErrors(t *testing.T) {
	system := testutil.NewSystem(t)
	writer, err := NewWriter(io.Discard, WriterOptions{})
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	recorder := NewRecorder(system.Kernel, writer, RecorderOptions{Clock: system.Clock})

	var cmd kernel.CommandBuffer
	err = recorder.SendSyncRequest(0x999, &cmd)
	if !errors.Is(err, result.KernelInvalidHandle) {
		t.Errorf("SendSyncRequest = %v, want invalid handle", err)
	}
}
