// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

package emu

import (
	"fmt"

	"github.com/horizon-userland/horizon/lib/kernel"
	"github.com/horizon-userland/horizon/lib/result"
)

// firstHandle is the first value a handle table hands out.
const firstHandle kernel.Handle = 0x101

// Process is an emulated process with its own handle table.
type Process struct {
	objectHeader
	kernel *Kernel
	id     uint64
	name   string

	handles map[kernel.Handle]object
	next    kernel.Handle
	closes  map[kernel.Handle]int
}

// ID returns the process id.
func (p *Process) ID() uint64 { return p.id }

// Name returns the process name.
func (p *Process) Name() string { return p.name }

func (p *Process) insertLocked(o object) kernel.Handle {
	h := p.next
	p.next++
	p.handles[h] = o
	o.header().refs++
	return h
}

func (p *Process) lookupLocked(h kernel.Handle) (object, error) {
	if h == kernel.CurrentProcess {
		return p, nil
	}
	o, ok := p.handles[h]
	if !ok {
		return nil, fmt.Errorf("handle %s in process %q: %w", h, p.name, result.KernelInvalidHandle)
	}
	return o, nil
}

// removeLocked takes h out of the table without dropping the object's
// reference; the caller transfers or releases it.
func (p *Process) removeLocked(h kernel.Handle) (object, error) {
	if h.IsPseudo() || h == kernel.HandleInvalid {
		return nil, fmt.Errorf("handle %s in process %q: %w", h, p.name, result.KernelInvalidHandle)
	}
	o, ok := p.handles[h]
	if !ok {
		return nil, fmt.Errorf("handle %s in process %q: %w", h, p.name, result.KernelInvalidHandle)
	}
	delete(p.handles, h)
	return o, nil
}

// CloseHandle closes h in p's table.
func (p *Process) CloseHandle(h kernel.Handle) error {
	k := p.kernel
	k.mu.Lock()
	p.closes[h]++
	o, err := p.removeLocked(h)
	var finalize func()
	if err == nil {
		finalize = k.releaseLocked(o)
	}
	k.mu.Unlock()
	if finalize != nil {
		finalize()
	}
	return err
}

// Connect opens a session to port and returns its handle in p's table.
func (p *Process) Connect(port *Port) (kernel.Handle, error) {
	k := p.kernel
	k.mu.Lock()
	defer k.mu.Unlock()
	k.nextSession++
	s := &session{id: k.nextSession, port: port}
	k.live[s.kind()]++
	return p.insertLocked(s), nil
}

// TransferMemory returns the region behind a transfer-memory handle in
// p's table.
func (p *Process) TransferMemory(h kernel.Handle) ([]byte, error) {
	k := p.kernel
	k.mu.Lock()
	defer k.mu.Unlock()
	o, err := p.lookupLocked(h)
	if err != nil {
		return nil, err
	}
	memory, ok := o.(*transferMemory)
	if !ok {
		return nil, fmt.Errorf("handle %s is a %s, not transfer memory: %w", h, o.kind(), result.KernelInvalidHandle)
	}
	return memory.data, nil
}

// IsProcess reports whether h refers to a process, and which.
func (p *Process) IsProcess(h kernel.Handle) (uint64, bool) {
	k := p.kernel
	k.mu.Lock()
	defer k.mu.Unlock()
	o, err := p.lookupLocked(h)
	if err != nil {
		return 0, false
	}
	target, ok := o.(*Process)
	if !ok {
		return 0, false
	}
	return target.id, true
}

// HandleCount returns the number of open handles in p's table.
func (p *Process) HandleCount() int {
	p.kernel.mu.Lock()
	defer p.kernel.mu.Unlock()
	return len(p.handles)
}

// Handles returns the open handles in p's table.
func (p *Process) Handles() []kernel.Handle {
	p.kernel.mu.Lock()
	defer p.kernel.mu.Unlock()
	handles := make([]kernel.Handle, 0, len(p.handles))
	for h := range p.handles {
		handles = append(handles, h)
	}
	return handles
}

// CloseCount returns how many times CloseHandle was called with h,
// including failed calls.
func (p *Process) CloseCount(h kernel.Handle) int {
	p.kernel.mu.Lock()
	defer p.kernel.mu.Unlock()
	return p.closes[h]
}
