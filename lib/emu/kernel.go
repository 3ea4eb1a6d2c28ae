// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

package emu

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/horizon-userland/horizon/lib/clock"
	"github.com/horizon-userland/horizon/lib/kernel"
	"github.com/horizon-userland/horizon/lib/kobject"
	"github.com/horizon-userland/horizon/lib/result"
)

// Options configures a Kernel.
type Options struct {
	// Clock drives wait timeouts. Defaults to clock.Real.
	Clock clock.Clock

	// Logger receives request traces at debug level. Defaults to
	// slog.Default.
	Logger *slog.Logger
}

// Kernel is an in-process kernel. The kernel.Kernel methods act on
// behalf of the application process returned by Application.
type Kernel struct {
	clock  clock.Clock
	logger *slog.Logger
	pins   *pinTable

	mu          sync.Mutex
	application *Process
	processes   []*Process
	namedPorts  map[string]*Port
	nextProcess uint64
	nextSession uint64
	live        map[kobject.Kind]int

	// changed is closed and replaced whenever an object is signaled.
	changed chan struct{}
}

var _ kernel.Kernel = (*Kernel)(nil)

// New creates a kernel with an application process and no ports.
func New(options Options) *Kernel {
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	k := &Kernel{
		clock:       options.Clock,
		logger:      options.Logger,
		pins:        newPinTable(),
		namedPorts:  make(map[string]*Port),
		nextProcess: 0x50,
		live:        make(map[kobject.Kind]int),
		changed:     make(chan struct{}),
	}
	k.application = k.NewProcess("application")
	return k
}

// NewProcess creates a process with an empty handle table.
func (k *Kernel) NewProcess(name string) *Process {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.nextProcess++
	p := &Process{
		kernel:  k,
		id:      k.nextProcess,
		name:    name,
		handles: make(map[kernel.Handle]object),
		next:    firstHandle,
		closes:  make(map[kernel.Handle]int),
	}
	k.processes = append(k.processes, p)
	return p
}

// Application returns the process the kernel.Kernel methods act for.
func (k *Kernel) Application() *Process { return k.application }

// Clock returns the kernel's clock.
func (k *Kernel) Clock() clock.Clock { return k.clock }

// Logger returns the kernel's logger.
func (k *Kernel) Logger() *slog.Logger { return k.logger }

// RegisterNamedPort makes port reachable through ConnectToNamedPort.
func (k *Kernel) RegisterNamedPort(port *Port) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, exists := k.namedPorts[port.name]; exists {
		return fmt.Errorf("emu: named port %q already registered", port.name)
	}
	k.namedPorts[port.name] = port
	return nil
}

// Stats counts live kernel objects.
type Stats struct {
	// Handles is the number of open handles in the application.
	Handles int

	Sessions         int
	TransferMemories int
	Events           int

	// Pinned is the number of memory regions currently pinned.
	Pinned int
}

// Stats returns the current object counts.
func (k *Kernel) Stats() Stats {
	k.mu.Lock()
	stats := Stats{
		Handles:          len(k.application.handles),
		Sessions:         k.live[kobject.KindSession],
		TransferMemories: k.live[kobject.KindTransferMemory],
		Events:           k.live[kobject.KindEvent],
	}
	k.mu.Unlock()
	stats.Pinned = k.pins.count()
	return stats
}

// CreateEvent creates an unsignaled event and returns its handle in
// the application's table.
func (k *Kernel) CreateEvent() (kernel.Handle, *Event) {
	k.mu.Lock()
	defer k.mu.Unlock()
	event := &Event{kernel: k}
	k.live[event.kind()]++
	return k.application.insertLocked(event), event
}

func (k *Kernel) broadcastLocked() {
	close(k.changed)
	k.changed = make(chan struct{})
}

// releaseLocked drops one reference to o. When o dies it returns the
// finalization to run after k.mu is released.
func (k *Kernel) releaseLocked(o object) func() {
	header := o.header()
	header.refs--
	if header.refs > 0 {
		return nil
	}
	if _, isProcess := o.(*Process); isProcess {
		return nil
	}
	k.live[o.kind()]--
	if s, ok := o.(*session); ok {
		return func() { s.port.disconnect(s) }
	}
	return nil
}

// Pin implements kernel.Memory.
func (k *Kernel) Pin(b []byte) (uint64, func()) { return k.pins.pin(b) }

// CloseHandle implements kernel.Kernel.
func (k *Kernel) CloseHandle(h kernel.Handle) error { return k.application.CloseHandle(h) }

// ConnectToNamedPort implements kernel.Kernel.
func (k *Kernel) ConnectToNamedPort(name string) (kernel.Handle, error) {
	k.mu.Lock()
	port, ok := k.namedPorts[name]
	k.mu.Unlock()
	if !ok {
		return kernel.HandleInvalid, fmt.Errorf("named port %q: %w", name, result.KernelNotFound)
	}
	return k.application.Connect(port)
}

// SendSyncRequest implements kernel.Kernel.
func (k *Kernel) SendSyncRequest(h kernel.Handle, cmd *kernel.CommandBuffer) error {
	return k.deliver(k.application, h, cmd)
}

// CreateTransferMemory implements kernel.Kernel.
func (k *Kernel) CreateTransferMemory(address, size uint64, permission kernel.Permission) (kernel.Handle, error) {
	if address%pageSize != 0 {
		return kernel.HandleInvalid, fmt.Errorf("transfer memory address %#x: %w", address, result.KernelInvalidAddress)
	}
	if size == 0 || size%pageSize != 0 {
		return kernel.HandleInvalid, fmt.Errorf("transfer memory size %#x: %w", size, result.KernelInvalidSize)
	}
	data, ok := k.pins.resolve(address, size)
	if !ok {
		return kernel.HandleInvalid, fmt.Errorf("transfer memory at %#x is not mapped: %w", address, result.KernelInvalidAddress)
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	memory := &transferMemory{address: address, data: data, permission: permission}
	k.live[memory.kind()]++
	return k.application.insertLocked(memory), nil
}

// WaitSynchronization implements kernel.Kernel.
func (k *Kernel) WaitSynchronization(handles []kernel.Handle, timeout time.Duration) (int, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		expired = k.clock.After(timeout)
	}
	for {
		k.mu.Lock()
		changed := k.changed
		for index, h := range handles {
			o, err := k.application.lookupLocked(h)
			if err != nil {
				k.mu.Unlock()
				return -1, err
			}
			w, ok := o.(waitable)
			if !ok {
				k.mu.Unlock()
				return -1, fmt.Errorf("handle %s is a %s and cannot be waited on: %w", h, o.kind(), result.KernelInvalidHandle)
			}
			if w.signaled() {
				k.mu.Unlock()
				return index, nil
			}
		}
		k.mu.Unlock()

		if timeout == 0 {
			return -1, result.KernelTimedOut
		}
		select {
		case <-changed:
		case <-expired:
			return -1, result.KernelTimedOut
		}
	}
}

// ResetSignal implements kernel.Kernel.
func (k *Kernel) ResetSignal(h kernel.Handle) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	o, err := k.application.lookupLocked(h)
	if err != nil {
		return err
	}
	event, ok := o.(*Event)
	if !ok {
		return fmt.Errorf("handle %s is a %s and has no signal to reset: %w", h, o.kind(), result.KernelInvalidHandle)
	}
	event.signal = false
	return nil
}
