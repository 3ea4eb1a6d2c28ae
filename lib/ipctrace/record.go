// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

package ipctrace

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/horizon-userland/horizon/lib/kernel"
)

// Record is one captured request/reply exchange.
type Record struct {
	// Sequence numbers records from 1 in capture order.
	Sequence uint64 `json:"sequence"`

	// Time is when the request was sent.
	Time time.Time `json:"time"`

	// Duration is how long the request blocked.
	Duration time.Duration `json:"duration"`

	Session kernel.Handle `json:"session"`

	// Type and Command are decoded from the request; Command is zero
	// for close messages.
	Type    uint32 `json:"type"`
	Command uint32 `json:"command"`

	// Result is decoded from the reply. It is zero when the request
	// failed in the kernel or the reply was not a valid response.
	Result uint32 `json:"result"`

	// Error is the kernel error, if the request was not delivered.
	Error string `json:"error,omitempty"`

	// Request and Reply are the command buffer contents with trailing
	// zero words removed. Reply is empty if the kernel failed.
	Request []byte `json:"request"`
	Reply   []byte `json:"reply,omitempty"`
}

// RequestWords returns the request command buffer as words.
func (r *Record) RequestWords() []uint32 { return words(r.Request) }

// ReplyWords returns the reply command buffer as words.
func (r *Record) ReplyWords() []uint32 { return words(r.Reply) }

// RequestBuffer restores the full request command buffer.
func (r *Record) RequestBuffer() *kernel.CommandBuffer {
	var cmd kernel.CommandBuffer
	copy(cmd[:], r.Request)
	return &cmd
}

// ReplyBuffer restores the full reply command buffer.
func (r *Record) ReplyBuffer() *kernel.CommandBuffer {
	var cmd kernel.CommandBuffer
	copy(cmd[:], r.Reply)
	return &cmd
}

// trim returns a copy of cmd without its trailing zero words.
func trim(cmd *kernel.CommandBuffer) []byte {
	end := len(cmd)
	for end >= 4 && bytes.Equal(cmd[end-4:end], []byte{0, 0, 0, 0}) {
		end -= 4
	}
	return bytes.Clone(cmd[:end])
}

func words(data []byte) []uint32 {
	list := make([]uint32, len(data)/4)
	for index := range list {
		list[index] = binary.LittleEndian.Uint32(data[index*4:])
	}
	return list
}
