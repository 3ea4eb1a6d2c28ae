// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

package emu

import (
	"errors"
	"fmt"

	"github.com/horizon-userland/horizon/lib/ipc"
	"github.com/horizon-userland/horizon/lib/kernel"
	"github.com/horizon-userland/horizon/lib/result"
)

// Handler serves requests arriving on a port's sessions. The reply's
// handles are values in the serving process's table: copies are
// duplicated into the client, moves are transferred out of the
// server's table.
type Handler interface {
	HandleRequest(call *Call) *ipc.Reply
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(call *Call) *ipc.Reply

// HandleRequest calls f.
func (f HandlerFunc) HandleRequest(call *Call) *ipc.Reply { return f(call) }

// Disconnecter is implemented by handlers that keep per-session state.
// Disconnect runs once, when the last handle to the session closes.
type Disconnecter interface {
	Disconnect(session uint64)
}

// Port accepts sessions on behalf of a serving process.
type Port struct {
	name    string
	owner   *Process
	handler Handler
}

// NewPort creates a port served by handler in owner's context. Named
// ports are published with Kernel.RegisterNamedPort; other ports are
// reached through a process that connects to them (the service
// manager).
func NewPort(name string, owner *Process, handler Handler) *Port {
	return &Port{name: name, owner: owner, handler: handler}
}

// Name returns the port name.
func (p *Port) Name() string { return p.name }

func (p *Port) disconnect(s *session) {
	if d, ok := p.handler.(Disconnecter); ok {
		d.Disconnect(s.id)
	}
}

// Call is a request delivered to a Handler. Handles in the embedded
// Incoming are values in Process's table.
type Call struct {
	*ipc.Incoming

	// Session identifies the session the request arrived on.
	Session uint64

	// Process is the serving process.
	Process *Process

	// Client is the process that sent the request.
	Client *Process

	x, a, b, c [][]byte
}

// Input returns the index-th send buffer: the A buffer if it is
// populated, otherwise the X buffer.
func (c *Call) Input(index int) []byte {
	if index < len(c.a) && c.a[index] != nil {
		return c.a[index]
	}
	if index < len(c.x) {
		return c.x[index]
	}
	return nil
}

// Output returns the index-th receive buffer: the B buffer if it is
// populated, otherwise the C buffer.
func (c *Call) Output(index int) []byte {
	if index < len(c.b) && c.b[index] != nil {
		return c.b[index]
	}
	if index < len(c.c) {
		return c.c[index]
	}
	return nil
}

// deliver runs one request from process from over the session h.
func (k *Kernel) deliver(from *Process, h kernel.Handle, cmd *kernel.CommandBuffer) error {
	k.mu.Lock()
	o, err := from.lookupLocked(h)
	k.mu.Unlock()
	if err != nil {
		return err
	}
	s, ok := o.(*session)
	if !ok {
		return fmt.Errorf("handle %s is a %s, not a session: %w", h, o.kind(), result.KernelInvalidHandle)
	}

	s.serve.Lock()
	defer s.serve.Unlock()

	incoming, parseErr := ipc.ParseRequest(cmd)
	server := s.port.owner

	// Moved handles leave the sender whatever happens next.
	k.mu.Lock()
	moved, moveErr := k.transferLocked(from, server, incoming.MoveHandles)
	if s.closed {
		k.mu.Unlock()
		k.closeAll(server, moved)
		return fmt.Errorf("session %s: %w", h, result.KernelSessionClosed)
	}
	if parseErr == nil && incoming.Type == ipc.MessageTypeClose {
		s.closed = true
		k.mu.Unlock()
		return nil
	}
	copied, copyErr := k.duplicateLocked(from, server, incoming.CopyHandles)
	k.mu.Unlock()

	if err := errors.Join(parseErr, moveErr, copyErr); err != nil {
		k.closeAll(server, moved)
		k.closeAll(server, copied)
		return err
	}

	call := &Call{Incoming: incoming, Session: s.id, Process: server, Client: from}
	call.MoveHandles = moved
	call.CopyHandles = copied
	if incoming.SendPID {
		call.PID = from.id
	}
	if err := k.resolveBuffers(call); err != nil {
		k.closeAll(server, moved)
		k.closeAll(server, copied)
		return err
	}

	k.logger.Debug("ipc request",
		"port", s.port.name,
		"session", s.id,
		"command", incoming.ID,
		"raw_words", len(incoming.Raw),
	)
	reply := s.port.handler.HandleRequest(call)
	if reply == nil {
		reply = ipc.ErrorReply(result.HIPCUnknownCommand)
	}

	k.mu.Lock()
	outgoing := &ipc.Reply{Result: reply.Result, Raw: reply.Raw}
	outgoing.CopyHandles, err = k.duplicateLocked(server, from, reply.CopyHandles)
	if err == nil {
		outgoing.MoveHandles, err = k.transferLocked(server, from, reply.MoveHandles)
	}
	k.mu.Unlock()
	if err != nil {
		return fmt.Errorf("emu: %s replied with a bad handle: %w", s.port.name, err)
	}
	return ipc.MarshalReply(cmd, outgoing)
}

// transferLocked moves handles from one table to another. Every handle
// is taken out of from even if some are invalid.
func (k *Kernel) transferLocked(from, to *Process, handles []kernel.Handle) ([]kernel.Handle, error) {
	var errs []error
	translated := make([]kernel.Handle, 0, len(handles))
	for _, h := range handles {
		o, err := from.removeLocked(h)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		translated = append(translated, to.insertLocked(o))
		k.releaseLocked(o)
	}
	return translated, errors.Join(errs...)
}

// duplicateLocked copies handles into another table. CurrentProcess
// copies a handle to the sending process.
func (k *Kernel) duplicateLocked(from, to *Process, handles []kernel.Handle) ([]kernel.Handle, error) {
	translated := make([]kernel.Handle, 0, len(handles))
	for _, h := range handles {
		o, err := from.lookupLocked(h)
		if err != nil {
			for _, undo := range translated {
				undone, _ := to.removeLocked(undo)
				k.releaseLocked(undone)
			}
			return nil, err
		}
		translated = append(translated, to.insertLocked(o))
	}
	return translated, nil
}

func (k *Kernel) closeAll(p *Process, handles []kernel.Handle) {
	for _, h := range handles {
		p.CloseHandle(h)
	}
}

func (k *Kernel) resolveBuffers(call *Call) error {
	resolve := func(list []ipc.Descriptor) ([][]byte, error) {
		buffers := make([][]byte, len(list))
		for index, d := range list {
			if d.Null() {
				continue
			}
			data, ok := k.pins.resolve(d.Address, d.Size)
			if !ok {
				return nil, fmt.Errorf("buffer at %#x+%#x is not mapped: %w", d.Address, d.Size, result.KernelInvalidAddress)
			}
			buffers[index] = data
		}
		return buffers, nil
	}
	var err error
	if call.x, err = resolve(call.X); err != nil {
		return err
	}
	if call.a, err = resolve(call.A); err != nil {
		return err
	}
	if call.b, err = resolve(call.B); err != nil {
		return err
	}
	call.c, err = resolve(call.C)
	return err
}
