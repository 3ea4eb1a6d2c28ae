// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"encoding/binary"
	"fmt"

	"github.com/horizon-userland/horizon/lib/kernel"
	"github.com/horizon-userland/horizon/lib/result"
)

// MessageType is the type field of header word 0.
type MessageType uint16

const (
	MessageTypeReply   MessageType = 0
	MessageTypeClose   MessageType = 2
	MessageTypeRequest MessageType = 4
)

const (
	requestMagic  = 0x49434653 // "SFCI"
	responseMagic = 0x4F434653 // "SFCO"

	wordCount = kernel.CommandBufferSize / 4

	// rawHeaderWords is the alignment padding budget plus the magic,
	// version, id and token words.
	rawHeaderWords = 8

	maxDescriptors = 0xF
	maxReceive     = 0xF - 2
	maxRawWords    = 0x3FF
)

// message is the decoded form shared by requests and replies. value is
// the command id of a request or the result code of a reply.
type message struct {
	typ            MessageType
	x, a, b, w, c  []Descriptor
	sendPID        bool
	pid            uint64
	copies, moves  []kernel.Handle
	magic, version uint32
	value, token   uint32
	raw            []uint32
}

type writer struct {
	cmd   *kernel.CommandBuffer
	index int
	err   error
}

func (w *writer) put(v uint32) {
	if w.err != nil {
		return
	}
	if w.index >= wordCount {
		w.err = fmt.Errorf("message exceeds %d words: %w", wordCount, result.IPCMessageTooLarge)
		return
	}
	binary.LittleEndian.PutUint32(w.cmd[w.index*4:], v)
	w.index++
}

type reader struct {
	cmd   *kernel.CommandBuffer
	index int
	err   error
}

func (r *reader) next() uint32 {
	if r.err != nil {
		return 0
	}
	if r.index >= wordCount {
		r.err = fmt.Errorf("message runs past the command buffer: %w", result.HIPCInvalidMessage)
		return 0
	}
	v := binary.LittleEndian.Uint32(r.cmd[r.index*4:])
	r.index++
	return v
}

func (m *message) checkCounts() error {
	switch {
	case len(m.x) > maxDescriptors, len(m.a) > maxDescriptors, len(m.b) > maxDescriptors, len(m.w) > maxDescriptors:
		return fmt.Errorf("more than %d descriptors of one kind: %w", maxDescriptors, result.IPCTooManyDescriptors)
	case len(m.c) > maxReceive:
		return fmt.Errorf("more than %d receive-pointer descriptors: %w", maxReceive, result.IPCTooManyDescriptors)
	case len(m.copies) > maxDescriptors, len(m.moves) > maxDescriptors:
		return fmt.Errorf("more than %d handles of one kind: %w", maxDescriptors, result.IPCTooManyDescriptors)
	case len(m.raw)+rawHeaderWords > maxRawWords:
		return fmt.Errorf("%d raw words: %w", len(m.raw), result.IPCMessageTooLarge)
	}
	return nil
}

// marshal writes m into cmd. The command buffer is assumed to be
// 16-byte aligned, as the kernel's per-thread buffer is.
func (m *message) marshal(cmd *kernel.CommandBuffer) error {
	if err := m.checkCounts(); err != nil {
		return err
	}
	*cmd = kernel.CommandBuffer{}
	w := &writer{cmd: cmd}

	rawWords := uint32(rawHeaderWords + len(m.raw))
	var receiveFlags uint32
	if len(m.c) > 0 {
		receiveFlags = uint32(len(m.c)) + 2
	}
	hasHandles := m.sendPID || len(m.copies) > 0 || len(m.moves) > 0

	w.put(uint32(m.typ) | uint32(len(m.x))<<16 | uint32(len(m.a))<<20 | uint32(len(m.b))<<24 | uint32(len(m.w))<<28)
	header1 := rawWords | receiveFlags<<10
	if hasHandles {
		header1 |= 1 << 31
	}
	w.put(header1)

	if hasHandles {
		var descriptor uint32
		if m.sendPID {
			descriptor |= 1
		}
		descriptor |= uint32(len(m.copies))<<1 | uint32(len(m.moves))<<5
		w.put(descriptor)
		if m.sendPID {
			w.put(uint32(m.pid))
			w.put(uint32(m.pid >> 32))
		}
		for _, h := range m.copies {
			w.put(uint32(h))
		}
		for _, h := range m.moves {
			w.put(uint32(h))
		}
	}

	for _, d := range m.x {
		word0, word1 := encodeX(d)
		w.put(word0)
		w.put(word1)
	}
	for _, list := range [][]Descriptor{m.a, m.b, m.w} {
		for _, d := range list {
			word0, word1, word2 := encodeMapped(d)
			w.put(word0)
			w.put(word1)
			w.put(word2)
		}
	}

	rawStart := w.index
	for w.index%4 != 0 {
		w.put(0)
	}
	w.put(m.magic)
	w.put(m.version)
	w.put(m.value)
	w.put(m.token)
	for _, word := range m.raw {
		w.put(word)
	}

	if len(m.c) > 0 {
		w.index = rawStart + int(rawWords)
		for _, d := range m.c {
			word0, word1 := encodeC(d)
			w.put(word0)
			w.put(word1)
		}
	}
	return w.err
}

// parse decodes cmd. Handles read before a failure are left in m so
// the caller can release them.
func parse(cmd *kernel.CommandBuffer, m *message) error {
	r := &reader{cmd: cmd}
	header0 := r.next()
	header1 := r.next()

	m.typ = MessageType(header0 & 0xFFFF)
	counts := [4]uint32{header0 >> 16 & 0xF, header0 >> 20 & 0xF, header0 >> 24 & 0xF, header0 >> 28 & 0xF}
	rawWords := int(header1 & 0x3FF)
	receiveFlags := header1 >> 10 & 0xF

	if header1>>31 != 0 {
		descriptor := r.next()
		m.sendPID = descriptor&1 != 0
		copies := int(descriptor >> 1 & 0xF)
		moves := int(descriptor >> 5 & 0xF)
		if m.sendPID {
			low := r.next()
			m.pid = uint64(low) | uint64(r.next())<<32
		}
		for range copies {
			m.copies = append(m.copies, kernel.Handle(r.next()))
		}
		for range moves {
			m.moves = append(m.moves, kernel.Handle(r.next()))
		}
	}

	for range counts[0] {
		word0 := r.next()
		m.x = append(m.x, decodeX(word0, r.next()))
	}
	for list, target := range []*[]Descriptor{&m.a, &m.b, &m.w} {
		for range counts[list+1] {
			word0 := r.next()
			word1 := r.next()
			*target = append(*target, decodeMapped(word0, word1, r.next()))
		}
	}
	if r.err != nil {
		return r.err
	}

	if rawWords == 0 {
		return nil
	}
	if rawWords < rawHeaderWords {
		return fmt.Errorf("raw section of %d words: %w", rawWords, result.HIPCInvalidMessage)
	}
	rawStart := r.index
	for r.index%4 != 0 {
		r.index++
	}
	m.magic = r.next()
	m.version = r.next()
	m.value = r.next()
	m.token = r.next()
	// The padding budget not spent before the header trails the raw
	// words.
	payload := rawWords - rawHeaderWords
	for range payload {
		m.raw = append(m.raw, r.next())
	}

	switch {
	case receiveFlags == 1:
		return fmt.Errorf("inline receive buffers are not supported: %w", result.HIPCInvalidMessage)
	case receiveFlags >= 2:
		r.index = rawStart + rawWords
		for range receiveFlags - 2 {
			word0 := r.next()
			m.c = append(m.c, decodeC(word0, r.next()))
		}
	}
	return r.err
}
