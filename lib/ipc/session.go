// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"fmt"
	"log/slog"

	"github.com/horizon-userland/horizon/lib/kernel"
	"github.com/horizon-userland/horizon/lib/kobject"
	"github.com/horizon-userland/horizon/lib/result"
)

// Session owns a session handle to a service.
type Session struct {
	object *kobject.Object
}

// NewSession takes ownership of the session held by object, emptying
// it.
func NewSession(object *kobject.Object) *Session {
	return &Session{object: kobject.NewKind(object.Kernel(), object.Claim(), kobject.KindSession)}
}

// Handle borrows the session handle.
func (s *Session) Handle() kernel.Handle { return s.object.Handle() }

// Valid reports whether the session is open.
func (s *Session) Valid() bool { return s.object.Valid() }

// Send sends request on the session. See Send.
func (s *Session) Send(request *Request, format ResponseFormat) (*Response, error) {
	h := s.object.Handle()
	if h == kernel.HandleInvalid {
		for _, owner := range request.MoveHandles {
			owner.Close()
		}
		return nil, fmt.Errorf("ipc: request %d on closed session: %w", request.ID, result.KernelInvalidHandle)
	}
	return Send(s.object.Kernel(), h, request, format)
}

// Call is Send followed by a result check: a nonzero result is
// returned as an error wrapping the result code, along with the
// response.
func (s *Session) Call(request *Request, format ResponseFormat) (*Response, error) {
	response, err := s.Send(request, format)
	if err != nil {
		return nil, err
	}
	if err := response.Err(); err != nil {
		return response, fmt.Errorf("ipc: request %d: %w", request.ID, err)
	}
	return response, nil
}

// Close tells the service the session is ending, then releases the
// handle. The close message is best-effort. Close is idempotent.
func (s *Session) Close() error {
	h := s.object.Handle()
	if h == kernel.HandleInvalid {
		return nil
	}
	var cmd kernel.CommandBuffer
	MarshalClose(&cmd)
	if err := s.object.Kernel().SendSyncRequest(h, &cmd); err != nil {
		slog.Debug("session close message not delivered", "session", h, "error", err)
	}
	return s.object.Close()
}
