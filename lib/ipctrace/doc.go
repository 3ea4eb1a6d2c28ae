// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

// Package ipctrace captures IPC traffic to a file and reads it back.
//
// A [Recorder] wraps a kernel.Kernel. Every SendSyncRequest through it
// produces a [Record] holding the request and reply command buffers,
// the session, the decoded command id and result, and timing. Records
// go to a [Writer], which batches them into frames:
//
//	file   = magic frame*
//	frame  = tag(1) uncompressed(4) compressed(4) digest(32) payload
//
// The payload is a CBOR sequence of records (lib/codec), optionally
// compressed with LZ4 or zstd. The digest is a keyed BLAKE3 hash of
// the uncompressed payload; a [Reader] rejects frames whose digest
// does not match with ErrCorrupt. Integers in the frame header are
// little-endian.
//
// Recording never changes the outcome of a request: failures to write
// a record are logged and the request's own result is returned.
package ipctrace
