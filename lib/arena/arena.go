// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

// Package arena provides page-aligned memory regions allocated outside
// the Go heap.
//
// An Arena is what the library registers with the kernel as transfer
// memory: the kernel requires a page-aligned base and a page-multiple
// length, and the region must never move while a privileged party has
// access to it. Memory comes from an anonymous mmap, so the garbage
// collector neither sees nor relocates it, and the base address is
// always page-aligned. Optionally the region is locked into RAM with
// mlock.
//
// Arenas are never resized. Close unmaps the region; using the bytes
// after Close panics.
package arena

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Options configures a new Arena.
type Options struct {
	// Lock pins the region into physical memory with mlock. This
	// commonly needs a raised RLIMIT_MEMLOCK for multi-megabyte
	// regions.
	Lock bool
}

// Arena is a page-aligned anonymous mapping. It must not be copied.
type Arena struct {
	mu     sync.Mutex
	data   []byte
	length int
	locked bool
	closed bool
}

// PageSize returns the system page size.
func PageSize() int { return unix.Getpagesize() }

// AlignUp rounds n up to a multiple of alignment, which must be a power
// of two.
func AlignUp(n, alignment int) int {
	return (n + alignment - 1) &^ (alignment - 1)
}

// New maps a zeroed region of at least size bytes, rounded up to the
// page size.
func New(size int, options Options) (*Arena, error) {
	if size <= 0 {
		return nil, fmt.Errorf("arena: size must be positive, got %d", size)
	}
	length := AlignUp(size, PageSize())

	data, err := unix.Mmap(-1, 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("arena: mmap of %d bytes failed: %w", length, err)
	}

	if options.Lock {
		if err := unix.Mlock(data); err != nil {
			unix.Munmap(data)
			return nil, fmt.Errorf("arena: mlock of %d bytes failed: %w", length, err)
		}
	}

	return &Arena{data: data, length: length, locked: options.Lock}, nil
}

// Bytes returns the whole region. The slice aliases the mapping and is
// invalid after Close. Panics if the arena is closed.
func (a *Arena) Bytes() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		panic("arena: use of closed arena")
	}
	return a.data
}

// Len returns the region length in bytes. It stays valid after Close.
func (a *Arena) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.length
}

// Locked reports whether the region was locked into memory.
func (a *Arena) Locked() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.locked
}

// Closed reports whether Close has been called.
func (a *Arena) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// Close unlocks and unmaps the region. Close is idempotent.
func (a *Arena) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true

	var firstError error
	if a.locked {
		if err := unix.Munlock(a.data); err != nil {
			firstError = fmt.Errorf("arena: munlock failed: %w", err)
		}
	}
	if err := unix.Munmap(a.data); err != nil && firstError == nil {
		firstError = fmt.Errorf("arena: munmap failed: %w", err)
	}
	a.data = nil
	return firstError
}
