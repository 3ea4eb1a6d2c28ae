// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"fmt"

	"github.com/horizon-userland/horizon/lib/kernel"
	"github.com/horizon-userland/horizon/lib/result"
)

// Incoming is a request as a service sees it.
type Incoming struct {
	Type MessageType

	// ID is the command id. Zero for close messages.
	ID uint32

	Raw []uint32

	SendPID bool
	PID     uint64

	CopyHandles []kernel.Handle
	MoveHandles []kernel.Handle

	X, A, B, W, C []Descriptor
}

// Reply is a response as a service writes it.
type Reply struct {
	Result      result.Code
	Raw         []uint32
	CopyHandles []kernel.Handle
	MoveHandles []kernel.Handle
}

// ErrorReply is a reply carrying only a failure code.
func ErrorReply(code result.Code) *Reply { return &Reply{Result: code} }

// ParseRequest decodes the request in cmd. Handles are returned as
// found in the buffer even when decoding fails partway, so the kernel
// can consume the moved ones.
func ParseRequest(cmd *kernel.CommandBuffer) (*Incoming, error) {
	var m message
	err := parse(cmd, &m)
	incoming := &Incoming{
		Type:        m.typ,
		ID:          m.value,
		Raw:         m.raw,
		SendPID:     m.sendPID,
		PID:         m.pid,
		CopyHandles: m.copies,
		MoveHandles: m.moves,
		X:           m.x,
		A:           m.a,
		B:           m.b,
		W:           m.w,
		C:           m.c,
	}
	if err != nil {
		return incoming, fmt.Errorf("ipc: malformed request: %w", err)
	}
	switch m.typ {
	case MessageTypeClose:
		return incoming, nil
	case MessageTypeRequest:
	default:
		return incoming, fmt.Errorf("ipc: message type %d: %w", m.typ, result.HIPCInvalidMessage)
	}
	if m.magic != requestMagic {
		return incoming, fmt.Errorf("ipc: request magic %#x: %w", m.magic, result.HIPCInvalidMessage)
	}
	return incoming, nil
}

// ParseReply decodes the reply in cmd. It takes no ownership of the
// handles it lists; tools that only observe traffic use it.
func ParseReply(cmd *kernel.CommandBuffer) (*Reply, error) {
	var m message
	if err := parse(cmd, &m); err != nil {
		return nil, fmt.Errorf("ipc: malformed reply: %w", err)
	}
	if m.magic != responseMagic {
		return nil, fmt.Errorf("ipc: reply magic %#x: %w", m.magic, result.IPCInvalidResponseMagic)
	}
	return &Reply{Result: result.Code(m.value), Raw: m.raw, CopyHandles: m.copies, MoveHandles: m.moves}, nil
}

// MarshalReply writes reply into cmd.
func MarshalReply(cmd *kernel.CommandBuffer, reply *Reply) error {
	outgoing := &message{
		typ:    MessageTypeReply,
		copies: reply.CopyHandles,
		moves:  reply.MoveHandles,
		magic:  responseMagic,
		value:  uint32(reply.Result),
		raw:    reply.Raw,
	}
	if err := outgoing.marshal(cmd); err != nil {
		return fmt.Errorf("ipc: reply: %w", err)
	}
	return nil
}

// MarshalClose writes a session-close message into cmd.
func MarshalClose(cmd *kernel.CommandBuffer) {
	*cmd = kernel.CommandBuffer{}
	w := &writer{cmd: cmd}
	w.put(uint32(MessageTypeClose))
	w.put(0)
}
