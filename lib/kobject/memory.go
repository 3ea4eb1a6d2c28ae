// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

package kobject

import (
	"fmt"
	"sync"

	"github.com/horizon-userland/horizon/lib/arena"
	"github.com/horizon-userland/horizon/lib/kernel"
	"github.com/horizon-userland/horizon/lib/result"
)

// MemoryAlignment is the alignment the kernel requires of the base
// address and length of a region registered as transfer memory.
const MemoryAlignment = 0x1000

// TransferMemory owns a transfer-memory handle together with a view of
// the region it registers. When the region was allocated by
// AllocateTransferMemory, TransferMemory also owns the backing arena
// and releases it after the handle.
type TransferMemory struct {
	*Object

	mu      sync.Mutex
	view    []byte
	address uint64
	unpin   func()
	arena   *arena.Arena
}

// NewTransferMemory registers memory, which the caller keeps owning,
// as transfer memory. The region's kernel address and its length must
// both be multiples of MemoryAlignment. The caller must keep memory
// alive and unmoved until the TransferMemory is closed.
func NewTransferMemory(k kernel.Kernel, memory []byte, permission kernel.Permission) (*TransferMemory, error) {
	return register(k, memory, permission, nil)
}

// AllocateTransferMemory allocates a page-aligned arena of size bytes
// and registers it as transfer memory. Closing the result releases the
// handle and then the arena.
func AllocateTransferMemory(k kernel.Kernel, size int, permission kernel.Permission, options arena.Options) (*TransferMemory, error) {
	if size <= 0 || size%MemoryAlignment != 0 {
		return nil, fmt.Errorf("kobject: transfer memory size %#x: %w", size, result.KernelInvalidSize)
	}
	backing, err := arena.New(size, options)
	if err != nil {
		return nil, err
	}
	memory, err := register(k, backing.Bytes()[:size], permission, backing)
	if err != nil {
		backing.Close()
		return nil, err
	}
	return memory, nil
}

func register(k kernel.Kernel, memory []byte, permission kernel.Permission, owned *arena.Arena) (*TransferMemory, error) {
	if len(memory) == 0 || len(memory)%MemoryAlignment != 0 {
		return nil, fmt.Errorf("kobject: transfer memory length %#x: %w", len(memory), result.KernelInvalidSize)
	}
	address, unpin := k.Pin(memory)
	if address%MemoryAlignment != 0 {
		unpin()
		return nil, fmt.Errorf("kobject: transfer memory address %#x: %w", address, result.KernelInvalidAddress)
	}
	h, err := k.CreateTransferMemory(address, uint64(len(memory)), permission)
	if err != nil {
		unpin()
		return nil, fmt.Errorf("kobject: creating transfer memory: %w", err)
	}
	return &TransferMemory{
		Object:  NewKind(k, h, KindTransferMemory),
		view:    memory,
		address: address,
		unpin:   unpin,
		arena:   owned,
	}, nil
}

// Bytes returns the registered region. It must not be written while a
// request that references it is in flight.
func (m *TransferMemory) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view
}

// Address returns the region's kernel address.
func (m *TransferMemory) Address() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.address
}

// Size returns the region length in bytes.
func (m *TransferMemory) Size() int { return len(m.Bytes()) }

// OwnsMemory reports whether closing m also releases the region.
func (m *TransferMemory) OwnsMemory() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.arena != nil
}

// Move transfers the handle and the region to a new owner and empties
// m. Closing the emptied m releases nothing.
func (m *TransferMemory) Move() *TransferMemory {
	m.mu.Lock()
	defer m.mu.Unlock()
	moved := &TransferMemory{
		Object:  m.Object.Move(),
		view:    m.view,
		address: m.address,
		unpin:   m.unpin,
		arena:   m.arena,
	}
	m.view, m.address, m.unpin, m.arena = nil, 0, nil, nil
	return moved
}

// Claim empties m without releasing anything and returns the handle
// with a function that releases the region. The caller must close the
// handle before calling release; the kernel still references the
// region until then. Calling release again does nothing.
func (m *TransferMemory) Claim() (h kernel.Handle, release func() error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h = m.Object.Claim()
	unpin, backing := m.unpin, m.arena
	m.view, m.address, m.unpin, m.arena = nil, 0, nil, nil
	return h, sync.OnceValue(func() error { return releaseRegion(unpin, backing) })
}

// Close releases the handle, then the backing arena if m owns it.
// Close is idempotent.
func (m *TransferMemory) Close() error {
	return releaseRegion(m.closeHandle())
}

func (m *TransferMemory) closeHandle() (func(), *arena.Arena) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Object.Close()
	unpin, backing := m.unpin, m.arena
	m.unpin, m.arena = nil, nil
	return unpin, backing
}

func releaseRegion(unpin func(), backing *arena.Arena) error {
	if unpin != nil {
		unpin()
	}
	if backing != nil {
		if err := backing.Close(); err != nil {
			return fmt.Errorf("kobject: releasing transfer memory backing: %w", err)
		}
	}
	return nil
}

// SharedMemory owns a handle to a shared-memory object mapped into this
// process at a region the caller supplies. It never owns the region.
type SharedMemory struct {
	*Object

	mu   sync.Mutex
	view []byte
}

// NewSharedMemory takes ownership of h and records the view it is
// mapped at.
func NewSharedMemory(k kernel.Kernel, h kernel.Handle, view []byte) *SharedMemory {
	return &SharedMemory{Object: NewKind(k, h, KindSharedMemory), view: view}
}

// Bytes returns the mapped view, or nil once m has been moved from.
func (m *SharedMemory) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view
}

// Move transfers the handle and the view to a new owner and empties m.
func (m *SharedMemory) Move() *SharedMemory {
	m.mu.Lock()
	defer m.mu.Unlock()
	moved := &SharedMemory{Object: m.Object.Move(), view: m.view}
	m.view = nil
	return moved
}
