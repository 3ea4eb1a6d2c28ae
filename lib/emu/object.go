// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

package emu

import (
	"sync"

	"github.com/horizon-userland/horizon/lib/kernel"
	"github.com/horizon-userland/horizon/lib/kobject"
)

// object is a kernel object. Reference counts and the fields of the
// concrete types are guarded by Kernel.mu unless noted.
type object interface {
	header() *objectHeader
	kind() kobject.Kind
}

type objectHeader struct {
	refs int
}

func (h *objectHeader) header() *objectHeader { return h }

type waitable interface {
	object
	signaled() bool
}

// session is the kernel side of a client session to a port.
type session struct {
	objectHeader
	id   uint64
	port *Port

	// serve serializes delivery on the session.
	serve  sync.Mutex
	closed bool
}

func (*session) kind() kobject.Kind { return kobject.KindSession }

// Event is a signalable synchronization object.
type Event struct {
	objectHeader
	kernel *Kernel
	signal bool
}

func (*Event) kind() kobject.Kind { return kobject.KindEvent }

func (e *Event) signaled() bool { return e.signal }

// Signal sets the event and wakes waiters.
func (e *Event) Signal() {
	e.kernel.mu.Lock()
	e.signal = true
	e.kernel.broadcastLocked()
	e.kernel.mu.Unlock()
}

// Signaled reports the event's state.
func (e *Event) Signaled() bool {
	e.kernel.mu.Lock()
	defer e.kernel.mu.Unlock()
	return e.signal
}

type transferMemory struct {
	objectHeader
	address    uint64
	data       []byte
	permission kernel.Permission
}

func (*transferMemory) kind() kobject.Kind { return kobject.KindTransferMemory }

func (p *Process) kind() kobject.Kind { return kobject.KindProcess }

func (p *Process) signaled() bool { return false }
