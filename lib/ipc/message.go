// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"github.com/horizon-userland/horizon/lib/kernel"
	"github.com/horizon-userland/horizon/lib/kobject"
	"github.com/horizon-userland/horizon/lib/result"
)

// Request is an outgoing service request.
type Request struct {
	// ID is the command id.
	ID uint32

	// Raw is the ordered parameter words.
	Raw []uint32

	// Buffers are translated into descriptors in order; see
	// BufferType for the descriptors each type produces.
	Buffers []Buffer

	// CopyHandles are duplicated into the service. The caller keeps
	// its handles; pseudo-handles are allowed.
	CopyHandles []kernel.Handle

	// MoveHandles are transferred to the service. Send claims every
	// owner before anything else, so after Send the owners are empty
	// whether or not the request was delivered.
	MoveHandles []*kobject.Object

	// SendPID asks the kernel to attach the caller's process id.
	SendPID bool
}

// ResponseFormat is the shape a successful response must have. A
// response with a nonzero result is not checked against it.
type ResponseFormat struct {
	RawWords    int
	CopyHandles int
	MoveHandles int
}

// Response is a decoded service response.
type Response struct {
	// Result is the service's result code.
	Result result.Code

	// Raw is the ordered response words.
	Raw []uint32

	// CopyHandles and MoveHandles own the received handles, copies
	// first, in the order the service sent them. The caller owns them
	// and must take or close each.
	CopyHandles []*kobject.Object
	MoveHandles []*kobject.Object
}

// Err returns the result as an error, or nil on success.
func (r *Response) Err() error { return r.Result.Err() }

// Close releases every received handle that has not been taken.
func (r *Response) Close() {
	for _, owner := range r.CopyHandles {
		owner.Close()
	}
	for _, owner := range r.MoveHandles {
		owner.Close()
	}
}
