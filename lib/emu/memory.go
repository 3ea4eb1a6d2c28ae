// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

package emu

import (
	"sync"
	"unsafe"
)

const (
	pageSize = 0x1000

	// firstAddress is where pinned regions start being mapped.
	firstAddress = 0x10000000
)

type region struct {
	address uint64
	data    []byte
}

// pinTable maps pinned caller memory to kernel addresses.
type pinTable struct {
	mu      sync.Mutex
	next    uint64
	regions map[uint64]*region
}

func newPinTable() *pinTable {
	return &pinTable{next: firstAddress, regions: make(map[uint64]*region)}
}

func (t *pinTable) pin(b []byte) (uint64, func()) {
	if len(b) == 0 {
		return 0, func() {}
	}
	offset := uint64(uintptr(unsafe.Pointer(unsafe.SliceData(b)))) % pageSize

	t.mu.Lock()
	address := t.next + offset
	// Leave an unmapped guard page between regions.
	t.next = (address+uint64(len(b))+pageSize-1)&^(pageSize-1) + pageSize
	t.regions[address] = &region{address: address, data: b}
	t.mu.Unlock()

	var once sync.Once
	return address, func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.regions, address)
			t.mu.Unlock()
		})
	}
}

// resolve returns the pinned memory backing [address, address+size).
func (t *pinTable) resolve(address, size uint64) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range t.regions {
		end := r.address + uint64(len(r.data))
		if address >= r.address && address+size <= end {
			start := address - r.address
			return r.data[start : start+size : start+size], true
		}
	}
	return nil, false
}

func (t *pinTable) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.regions)
}
