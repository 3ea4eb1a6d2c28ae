// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"fmt"

	"github.com/horizon-userland/horizon/lib/kernel"
	"github.com/horizon-userland/horizon/lib/kobject"
	"github.com/horizon-userland/horizon/lib/result"
)

// Send delivers request over session, which it borrows, and decodes
// the reply. The returned error reports transport failures only; a
// service failure is a nil error with a nonzero Response.Result, and in
// that case every handle the service sent has already been released.
func Send(k kernel.Kernel, session kernel.Handle, request *Request, format ResponseFormat) (*Response, error) {
	moves := make([]kernel.Handle, len(request.MoveHandles))
	for index, owner := range request.MoveHandles {
		moves[index] = owner.Claim()
	}

	outgoing := &message{
		typ:     MessageTypeRequest,
		sendPID: request.SendPID,
		copies:  request.CopyHandles,
		moves:   moves,
		magic:   requestMagic,
		value:   request.ID,
		raw:     request.Raw,
	}

	for _, buffer := range request.Buffers {
		address, unpin := k.Pin(buffer.Data)
		defer unpin()
		if err := outgoing.addBuffer(buffer, address); err != nil {
			releaseAll(k, moves)
			return nil, fmt.Errorf("ipc: request %d: %w", request.ID, err)
		}
	}

	var cmd kernel.CommandBuffer
	if err := outgoing.marshal(&cmd); err != nil {
		releaseAll(k, moves)
		return nil, fmt.Errorf("ipc: request %d: %w", request.ID, err)
	}
	if err := k.SendSyncRequest(session, &cmd); err != nil {
		return nil, fmt.Errorf("ipc: sending request %d on session %s: %w", request.ID, session, err)
	}
	response, err := decodeResponse(k, &cmd, format)
	if err != nil {
		return nil, fmt.Errorf("ipc: response to request %d: %w", request.ID, err)
	}
	return response, nil
}

func (m *message) addBuffer(buffer Buffer, address uint64) error {
	d := Descriptor{Address: address, Size: uint64(len(buffer.Data)), Flags: buffer.Type.Flags()}
	var kind DescriptorKind
	switch buffer.Type.base() {
	case BufferSendMapped:
		kind = DescriptorA
		m.a = append(m.a, d)
	case BufferReceiveMapped:
		kind = DescriptorB
		m.b = append(m.b, d)
	case BufferSendPointer:
		kind = DescriptorX
		d.Flags, d.Counter = 0, uint32(len(m.x))
		m.x = append(m.x, d)
	case BufferReceivePointer:
		kind = DescriptorC
		d.Flags = 0
		m.c = append(m.c, d)
	case BufferSendAuto:
		kind = DescriptorA
		m.a = append(m.a, d)
		m.x = append(m.x, Descriptor{Counter: uint32(len(m.x))})
	case BufferReceiveAuto:
		kind = DescriptorB
		m.b = append(m.b, d)
		m.c = append(m.c, Descriptor{})
	default:
		return fmt.Errorf("buffer type %s: %w", buffer.Type, result.IPCUnsupportedBuffer)
	}
	return checkDescriptor(kind, d)
}

func decodeResponse(k kernel.Kernel, cmd *kernel.CommandBuffer, format ResponseFormat) (*Response, error) {
	var incoming message
	err := parse(cmd, &incoming)
	release := func() {
		releaseAll(k, incoming.copies)
		releaseAll(k, incoming.moves)
	}
	switch {
	case err != nil:
		release()
		return nil, err
	case incoming.magic != responseMagic:
		release()
		return nil, fmt.Errorf("magic %#x: %w", incoming.magic, result.IPCInvalidResponseMagic)
	}

	response := &Response{Result: result.Code(incoming.value), Raw: incoming.raw}
	if !response.Result.IsOK() {
		release()
		return response, nil
	}
	if len(incoming.raw) != format.RawWords {
		release()
		return nil, fmt.Errorf("got %d raw words, want %d: %w", len(incoming.raw), format.RawWords, result.IPCUnexpectedRawSize)
	}
	if len(incoming.copies) != format.CopyHandles || len(incoming.moves) != format.MoveHandles {
		release()
		return nil, fmt.Errorf("got %d copy and %d move handles, want %d and %d: %w",
			len(incoming.copies), len(incoming.moves), format.CopyHandles, format.MoveHandles, result.IPCUnexpectedHandles)
	}

	response.CopyHandles = owners(k, incoming.copies)
	response.MoveHandles = owners(k, incoming.moves)
	return response, nil
}

func owners(k kernel.Kernel, handles []kernel.Handle) []*kobject.Object {
	if len(handles) == 0 {
		return nil
	}
	list := make([]*kobject.Object, len(handles))
	for index, h := range handles {
		list[index] = kobject.New(k, h)
	}
	return list
}

// releaseAll closes raw handles through owners so release failures
// follow the kobject policy.
func releaseAll(k kernel.Kernel, handles []kernel.Handle) {
	for _, h := range handles {
		if h != kernel.HandleInvalid && !h.IsPseudo() {
			kobject.New(k, h).Close()
		}
	}
}
