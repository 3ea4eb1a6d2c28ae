// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

// Package kernel defines the kernel primitives the rest of the library
// is written against.
//
// The platform kernel is an external collaborator: this package only
// names the calls and the values that cross the boundary. Handles are
// 32-bit process-local identifiers; messages are exchanged through a
// fixed-size command buffer that the kernel reads on send and
// overwrites with the reply. An in-process implementation lives in
// lib/emu.
package kernel

import (
	"fmt"
	"time"
)

// Handle is a process-local identifier for a kernel object.
type Handle uint32

const (
	// HandleInvalid is the empty handle. Closing it is never attempted.
	HandleInvalid Handle = 0

	// CurrentThread is the pseudo-handle for the calling thread.
	CurrentThread Handle = 0xFFFF8000

	// CurrentProcess is the pseudo-handle for the calling process.
	// The driver registration handshake copies it to the driver
	// service as the owner of the transfer memory.
	CurrentProcess Handle = 0xFFFF8001
)

// String formats h in hex, the way handles appear in kernel logs.
func (h Handle) String() string { return fmt.Sprintf("%#x", uint32(h)) }

// IsPseudo reports whether h is one of the pseudo-handles, which are
// not entries in the handle table and are never closed.
func (h Handle) IsPseudo() bool { return h == CurrentThread || h == CurrentProcess }

// CommandBufferSize is the size of the per-thread IPC command buffer.
const CommandBufferSize = 0x100

// CommandBuffer holds one outgoing request and, after
// SendSyncRequest returns, the reply.
type CommandBuffer [CommandBufferSize]byte

// Permission is a memory permission mask.
type Permission uint32

const (
	PermissionNone      Permission = 0
	PermissionRead      Permission = 1
	PermissionWrite     Permission = 2
	PermissionExecute   Permission = 4
	PermissionReadWrite            = PermissionRead | PermissionWrite
)

// WaitInfinite is the timeout that never expires.
const WaitInfinite time.Duration = -1

// Memory resolves caller memory to the addresses that appear in
// message descriptors and memory-registration calls.
type Memory interface {
	// Pin makes b addressable by the kernel and returns its address.
	// The address stays valid until unpin is called. An empty b pins
	// to address zero.
	Pin(b []byte) (address uint64, unpin func())
}

// Kernel is the set of kernel calls the library needs. Implementations
// must be safe for concurrent use.
//
// Errors returned by these calls are kernel result codes
// (lib/result.Code) or wrap one.
type Kernel interface {
	Memory

	// CloseHandle removes h from the handle table. Pseudo-handles and
	// HandleInvalid are rejected.
	CloseHandle(h Handle) error

	// ConnectToNamedPort opens a new session to a well-known port.
	ConnectToNamedPort(name string) (Handle, error)

	// SendSyncRequest delivers the request in cmd to the session's
	// server and blocks until the reply has been written back into
	// cmd. Handles listed for move in the request are consumed even if
	// the call fails.
	SendSyncRequest(session Handle, cmd *CommandBuffer) error

	// CreateTransferMemory registers a page-aligned region so that its
	// access can be handed to another process.
	CreateTransferMemory(address, size uint64, permission Permission) (Handle, error)

	// WaitSynchronization blocks until one of handles is signaled or
	// timeout passes, and returns the index of the signaled handle.
	// A timeout of zero polls; WaitInfinite never expires.
	WaitSynchronization(handles []Handle, timeout time.Duration) (int, error)

	// ResetSignal clears the signaled state of an event or process.
	ResetSignal(h Handle) error
}
