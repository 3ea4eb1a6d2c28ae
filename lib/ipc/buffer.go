// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"fmt"

	"github.com/horizon-userland/horizon/lib/result"
)

// BufferType is the transfer mode of a request buffer. Bits 6-7 carry
// the mapping flags of A and B descriptors.
type BufferType uint32

const (
	// BufferSendMapped is sent as an A descriptor. Textual path
	// arguments use it.
	BufferSendMapped BufferType = 0x05

	// BufferReceiveMapped is sent as a B descriptor.
	BufferReceiveMapped BufferType = 0x06

	// BufferSendPointer is sent as an X descriptor.
	BufferSendPointer BufferType = 0x09

	// BufferReceivePointer is sent as a C descriptor.
	BufferReceivePointer BufferType = 0x0A

	// BufferSendAuto is sent as an A descriptor paired with a null X
	// descriptor; the service reads whichever is populated.
	BufferSendAuto BufferType = 0x21

	// BufferReceiveAuto is sent as a B descriptor paired with a null C
	// descriptor.
	BufferReceiveAuto BufferType = 0x22
)

const bufferFlagsShift = 6

// WithFlags returns t with the A/B mapping flags set.
func (t BufferType) WithFlags(flags uint32) BufferType {
	return t.base() | BufferType(flags&3)<<bufferFlagsShift
}

// Flags returns the A/B mapping flags.
func (t BufferType) Flags() uint32 { return uint32(t) >> bufferFlagsShift & 3 }

func (t BufferType) base() BufferType { return t &^ (3 << bufferFlagsShift) }

func (t BufferType) String() string {
	switch t.base() {
	case BufferSendMapped:
		return "send-mapped"
	case BufferReceiveMapped:
		return "receive-mapped"
	case BufferSendPointer:
		return "send-pointer"
	case BufferReceivePointer:
		return "receive-pointer"
	case BufferSendAuto:
		return "send-auto"
	case BufferReceiveAuto:
		return "receive-auto"
	}
	return fmt.Sprintf("buffer-type(%#x)", uint32(t))
}

// Buffer is a request buffer. Send buffers must stay valid until Send
// returns. The service writes receive buffers in place; after Send
// returns they hold exactly what the service wrote.
type Buffer struct {
	Data []byte
	Type BufferType
}

// DescriptorKind identifies one of the five descriptor lists.
type DescriptorKind uint8

const (
	DescriptorX DescriptorKind = iota
	DescriptorA
	DescriptorB
	DescriptorW
	DescriptorC
)

func (k DescriptorKind) String() string {
	return [...]string{"X", "A", "B", "W", "C"}[k]
}

// Descriptor is a decoded buffer descriptor. A null descriptor has a
// zero address and size.
type Descriptor struct {
	Address uint64
	Size    uint64

	// Flags are the A/B/W mapping flags.
	Flags uint32

	// Counter is the X descriptor index.
	Counter uint32
}

// Null reports whether d describes no buffer.
func (d Descriptor) Null() bool { return d.Address == 0 && d.Size == 0 }

// Field widths of the packed descriptor formats.
const (
	pointerAddressLimit = 1 << 39
	pointerSizeLimit    = 1 << 16
	mappedAddressLimit  = 1 << 39
	mappedSizeLimit     = 1 << 36
	receiveAddressLimit = 1 << 48
)

func checkDescriptor(kind DescriptorKind, d Descriptor) error {
	addressLimit, sizeLimit := uint64(mappedAddressLimit), uint64(mappedSizeLimit)
	switch kind {
	case DescriptorX:
		addressLimit, sizeLimit = pointerAddressLimit, pointerSizeLimit
	case DescriptorC:
		addressLimit, sizeLimit = receiveAddressLimit, pointerSizeLimit
	}
	if d.Address >= addressLimit {
		return fmt.Errorf("%s descriptor address %#x: %w", kind, d.Address, result.KernelInvalidAddress)
	}
	if d.Size >= sizeLimit {
		return fmt.Errorf("%s descriptor size %#x: %w", kind, d.Size, result.IPCMessageTooLarge)
	}
	return nil
}

func encodeX(d Descriptor) (uint32, uint32) {
	word0 := d.Counter&0x3F |
		uint32(d.Address>>36&0x7)<<6 |
		(d.Counter>>9&0x7)<<9 |
		uint32(d.Address>>32&0xF)<<12 |
		uint32(d.Size&0xFFFF)<<16
	return word0, uint32(d.Address)
}

func decodeX(word0, word1 uint32) Descriptor {
	return Descriptor{
		Address: uint64(word1) | uint64(word0>>12&0xF)<<32 | uint64(word0>>6&0x7)<<36,
		Size:    uint64(word0 >> 16),
		Counter: word0&0x3F | (word0>>9&0x7)<<9,
	}
}

func encodeMapped(d Descriptor) (uint32, uint32, uint32) {
	word2 := d.Flags&0x3 |
		uint32(d.Address>>36&0x7)<<2 |
		uint32(d.Size>>32&0xF)<<24 |
		uint32(d.Address>>32&0xF)<<28
	return uint32(d.Size), uint32(d.Address), word2
}

func decodeMapped(word0, word1, word2 uint32) Descriptor {
	return Descriptor{
		Size:    uint64(word0) | uint64(word2>>24&0xF)<<32,
		Address: uint64(word1) | uint64(word2>>28&0xF)<<32 | uint64(word2>>2&0x7)<<36,
		Flags:   word2 & 0x3,
	}
}

func encodeC(d Descriptor) (uint32, uint32) {
	return uint32(d.Address), uint32(d.Address>>32&0xFFFF) | uint32(d.Size&0xFFFF)<<16
}

func decodeC(word0, word1 uint32) Descriptor {
	return Descriptor{
		Address: uint64(word0) | uint64(word1&0xFFFF)<<32,
		Size:    uint64(word1 >> 16),
	}
}
