// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

package kobject

import (
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"
	"unsafe"

	"github.com/horizon-userland/horizon/lib/arena"
	"github.com/horizon-userland/horizon/lib/kernel"
	"github.com/horizon-userland/horizon/lib/result"
)

// recordingKernel counts CloseHandle calls per handle. Handles listed
// in live close successfully once; anything else fails.
type recordingKernel struct {
	mu        sync.Mutex
	live      map[kernel.Handle]bool
	closes    map[kernel.Handle]int
	waits     []kernel.Handle
	resets    []kernel.Handle
	nextTmem  kernel.Handle
	tmemCalls int
	pinned    int
}

func newRecordingKernel(handles ...kernel.Handle) *recordingKernel {
	k := &recordingKernel{
		live:     make(map[kernel.Handle]bool),
		closes:   make(map[kernel.Handle]int),
		nextTmem: 0x900,
	}
	for _, h := range handles {
		k.live[h] = true
	}
	return k
}

func (k *recordingKernel) closeCount(h kernel.Handle) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.closes[h]
}

func (k *recordingKernel) Pin(b []byte) (uint64, func()) {
	if len(b) == 0 {
		return 0, func() {}
	}
	k.mu.Lock()
	k.pinned++
	k.mu.Unlock()
	return uint64(uintptr(unsafe.Pointer(unsafe.SliceData(b)))), func() {
		k.mu.Lock()
		k.pinned--
		k.mu.Unlock()
	}
}

func (k *recordingKernel) pinCount() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.pinned
}

func (k *recordingKernel) CloseHandle(h kernel.Handle) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.closes[h]++
	if !k.live[h] {
		return result.KernelInvalidHandle
	}
	delete(k.live, h)
	return nil
}

func (k *recordingKernel) ConnectToNamedPort(string) (kernel.Handle, error) {
	return 0, result.KernelNotFound
}

func (k *recordingKernel) SendSyncRequest(kernel.Handle, *kernel.CommandBuffer) error {
	return result.KernelSessionClosed
}

func (k *recordingKernel) CreateTransferMemory(address, size uint64, _ kernel.Permission) (kernel.Handle, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.tmemCalls++
	k.nextTmem++
	k.live[k.nextTmem] = true
	return k.nextTmem, nil
}

func (k *recordingKernel) WaitSynchronization(handles []kernel.Handle, timeout time.Duration) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.waits = append(k.waits, handles...)
	if timeout == 0 {
		return -1, result.KernelTimedOut
	}
	return 0, nil
}

func (k *recordingKernel) ResetSignal(h kernel.Handle) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.resets = append(k.resets, h)
	return nil
}

func withPolicy(t *testing.T, p ReleasePolicy) {
	t.Helper()
	previous := SetReleasePolicy(p)
	t.Cleanup(func() { SetReleasePolicy(previous) })
}

func TestCloseReleasesOnce(t *testing.T) {
	k := newRecordingKernel(0x101)
	owner := New(k, 0x101)

	if !owner.Valid() {
		t.Fatal("Valid() = false for a fresh owner")
	}
	owner.Close()
	owner.Close()

	if got := k.closeCount(0x101); got != 1 {
		t.Errorf("CloseHandle called %d times, want 1", got)
	}
	if owner.Valid() {
		t.Error("Valid() = true after Close")
	}
}

func TestMoveReleasesOnce(t *testing.T) {
	k := newRecordingKernel(0x101)
	source := NewKind(k, 0x101, KindSession)
	moved := source.Move()

	if source.Valid() {
		t.Error("source still valid after Move")
	}
	if moved.Handle() != 0x101 {
		t.Errorf("moved Handle() = %s, want 0x101", moved.Handle())
	}
	if moved.Kind() != KindSession {
		t.Errorf("moved Kind() = %s, want session", moved.Kind())
	}

	// Both owners go out of scope.
	source.Close()
	moved.Close()

	if got := k.closeCount(0x101); got != 1 {
		t.Errorf("CloseHandle called %d times, want 1", got)
	}
}

func TestMoveChain(t *testing.T) {
	k := newRecordingKernel(0x200)
	owners := []*Object{New(k, 0x200)}
	for range 4 {
		owners = append(owners, owners[len(owners)-1].Move())
	}
	for _, owner := range owners {
		owner.Close()
	}
	if got := k.closeCount(0x200); got != 1 {
		t.Errorf("CloseHandle called %d times, want 1", got)
	}
}

func TestClaimDoesNotRelease(t *testing.T) {
	k := newRecordingKernel(0x101)
	owner := New(k, 0x101)

	if h := owner.Claim(); h != 0x101 {
		t.Errorf("Claim() = %s, want 0x101", h)
	}
	owner.Close()
	if got := k.closeCount(0x101); got != 0 {
		t.Errorf("CloseHandle called %d times after Claim, want 0", got)
	}
	if h := owner.Claim(); h != kernel.HandleInvalid {
		t.Errorf("second Claim() = %s, want empty", h)
	}
}

func TestEmptyOwner(t *testing.T) {
	k := newRecordingKernel()
	owner := New(k, kernel.HandleInvalid)
	if owner.Valid() {
		t.Error("owner of HandleInvalid is valid")
	}
	owner.Close()
	if len(k.closes) != 0 {
		t.Errorf("closing an empty owner called the kernel: %v", k.closes)
	}
}

func TestPseudoHandlePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("owning CurrentProcess did not panic")
		}
	}()
	New(newRecordingKernel(), kernel.CurrentProcess)
}

func TestReleaseFailureBestEffort(t *testing.T) {
	withPolicy(t, ReleaseBestEffort)
	k := newRecordingKernel() // 0x300 is not live, so closing it fails
	owner := New(k, 0x300)
	if err := owner.Close(); err != nil {
		t.Errorf("Close() = %v, want nil under best-effort policy", err)
	}
	if owner.Valid() {
		t.Error("owner still valid after a failed release")
	}
}

func TestReleaseFailureStrictPanics(t *testing.T) {
	withPolicy(t, ReleaseStrict)
	k := newRecordingKernel()
	owner := New(k, 0x300)
	defer func() {
		if recover() == nil {
			t.Error("failed release did not panic under strict policy")
		}
	}()
	owner.Close()
}

func TestWaitableOperations(t *testing.T) {
	k := newRecordingKernel(0x400)
	event := NewEvent(k, 0x400)

	if err := event.Wait(time.Second); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if err := event.Wait(0); !errors.Is(err, result.KernelTimedOut) {
		t.Errorf("polling Wait = %v, want timed out", err)
	}
	if err := event.ResetSignal(); err != nil {
		t.Fatalf("ResetSignal: %v", err)
	}
	if len(k.waits) != 2 || k.waits[0] != 0x400 {
		t.Errorf("waits = %v", k.waits)
	}
	if len(k.resets) != 1 || k.resets[0] != 0x400 {
		t.Errorf("resets = %v", k.resets)
	}

	moved := event.Move()
	if moved.Kind() != KindEvent {
		t.Errorf("moved Kind() = %s", moved.Kind())
	}
	moved.Close()
	if k.closeCount(0x400) != 1 {
		t.Errorf("CloseHandle called %d times, want 1", k.closeCount(0x400))
	}
}

func TestWaitOnEmptyOwner(t *testing.T) {
	k := newRecordingKernel(0x400)
	event := NewEvent(k, 0x400)
	event.Close()

	withPolicy(t, ReleaseBestEffort)
	if err := event.Wait(time.Second); !errors.Is(err, result.KernelInvalidHandle) {
		t.Errorf("Wait after Close = %v, want invalid handle", err)
	}
	if len(k.waits) != 0 {
		t.Errorf("Wait after Close reached the kernel: %v", k.waits)
	}

	withPolicy(t, ReleaseStrict)
	defer func() {
		if recover() == nil {
			t.Error("ResetSignal after Close did not panic under strict policy")
		}
	}()
	event.ResetSignal()
}

func TestAllocatedTransferMemory(t *testing.T) {
	k := newRecordingKernel()
	memory, err := AllocateTransferMemory(k, 0x4000, kernel.PermissionNone, arena.Options{})
	if err != nil {
		t.Fatalf("AllocateTransferMemory: %v", err)
	}
	if memory.Size() != 0x4000 {
		t.Errorf("Size() = %#x, want 0x4000", memory.Size())
	}
	if memory.Address()%MemoryAlignment != 0 {
		t.Errorf("Address() = %#x is not page-aligned", memory.Address())
	}
	if !memory.OwnsMemory() {
		t.Error("OwnsMemory() = false for allocated memory")
	}
	h := memory.Handle()
	memory.Close()
	memory.Close()
	if k.closeCount(h) != 1 {
		t.Errorf("CloseHandle called %d times, want 1", k.closeCount(h))
	}
}

func TestTransferMemoryMoveCarriesRegion(t *testing.T) {
	k := newRecordingKernel()
	source, err := AllocateTransferMemory(k, 0x4000, kernel.PermissionNone, arena.Options{})
	if err != nil {
		t.Fatalf("AllocateTransferMemory: %v", err)
	}
	h, address := source.Handle(), source.Address()

	moved := source.Move()
	source.Close()

	if k.closeCount(h) != 0 {
		t.Fatalf("closing the moved-from owner closed handle %s", h)
	}
	if k.pinCount() != 1 {
		t.Errorf("pinned regions = %d after closing the source, want 1", k.pinCount())
	}
	if source.Valid() || source.OwnsMemory() || source.Bytes() != nil || source.Address() != 0 {
		t.Errorf("source still holds state after Move: valid %v, owns %v, %d bytes, address %#x",
			source.Valid(), source.OwnsMemory(), len(source.Bytes()), source.Address())
	}
	if moved.Handle() != h || moved.Address() != address || moved.Size() != 0x4000 || !moved.OwnsMemory() {
		t.Errorf("moved = handle %s address %#x size %#x owns %v, want %s %#x 0x4000 true",
			moved.Handle(), moved.Address(), moved.Size(), moved.OwnsMemory(), h, address)
	}
	moved.Bytes()[0x3fff] = 1

	moved.Close()
	if k.closeCount(h) != 1 {
		t.Errorf("CloseHandle called %d times, want 1", k.closeCount(h))
	}
	if k.pinCount() != 0 {
		t.Errorf("pinned regions = %d after closing the new owner, want 0", k.pinCount())
	}
}

func TestTransferMemoryClaimHandsOverRegion(t *testing.T) {
	k := newRecordingKernel()
	memory, err := AllocateTransferMemory(k, 0x2000, kernel.PermissionNone, arena.Options{})
	if err != nil {
		t.Fatalf("AllocateTransferMemory: %v", err)
	}

	h, release := memory.Claim()
	memory.Close()
	if k.closeCount(h) != 0 || k.pinCount() != 1 {
		t.Fatalf("Close after Claim released state: %d closes, %d pinned", k.closeCount(h), k.pinCount())
	}
	if memory.OwnsMemory() {
		t.Error("OwnsMemory() = true after Claim")
	}

	if err := k.CloseHandle(h); err != nil {
		t.Fatalf("CloseHandle(%s): %v", h, err)
	}
	if err := release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := release(); err != nil {
		t.Fatalf("second release: %v", err)
	}
	if k.pinCount() != 0 {
		t.Errorf("pinned regions = %d after release, want 0", k.pinCount())
	}
}

func TestTransferMemoryAccessorsDuringClose(t *testing.T) {
	k := newRecordingKernel()
	memory, err := AllocateTransferMemory(k, 0x1000, kernel.PermissionNone, arena.Options{})
	if err != nil {
		t.Fatalf("AllocateTransferMemory: %v", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 100 {
			memory.OwnsMemory()
			memory.Bytes()
		}
	}()
	memory.Close()
	<-done
	if memory.OwnsMemory() {
		t.Error("OwnsMemory() = true after Close")
	}
}

func TestSharedMemoryMoveKeepsView(t *testing.T) {
	k := newRecordingKernel(0x700)
	view := make([]byte, 0x1000)
	source := NewSharedMemory(k, 0x700, view)

	moved := source.Move()
	source.Close()
	if k.closeCount(0x700) != 0 {
		t.Fatal("closing the moved-from owner closed the handle")
	}
	if source.Bytes() != nil {
		t.Error("source still has a view after Move")
	}
	if got := moved.Bytes(); len(got) != len(view) || &got[0] != &view[0] {
		t.Error("moved owner lost the mapped view")
	}
	moved.Close()
	if k.closeCount(0x700) != 1 {
		t.Errorf("CloseHandle called %d times, want 1", k.closeCount(0x700))
	}
}

func TestTransferMemoryRejectsBadRegions(t *testing.T) {
	k := newRecordingKernel()
	if _, err := AllocateTransferMemory(k, 0x1001, kernel.PermissionNone, arena.Options{}); !errors.Is(err, result.KernelInvalidSize) {
		t.Errorf("unaligned size error = %v, want invalid size", err)
	}

	backing, err := arena.New(0x2000, arena.Options{})
	if err != nil {
		t.Fatalf("arena.New: %v", err)
	}
	defer backing.Close()
	if _, err := NewTransferMemory(k, backing.Bytes()[8:8+0x1000], kernel.PermissionNone); !errors.Is(err, result.KernelInvalidAddress) {
		t.Errorf("unaligned address error = %v, want invalid address", err)
	}
	if k.tmemCalls != 0 {
		t.Errorf("CreateTransferMemory called %d times for rejected regions", k.tmemCalls)
	}

	borrowed, err := NewTransferMemory(k, backing.Bytes()[:0x1000], kernel.PermissionNone)
	if err != nil {
		t.Fatalf("NewTransferMemory: %v", err)
	}
	if borrowed.OwnsMemory() {
		t.Error("OwnsMemory() = true for caller-supplied memory")
	}
	borrowed.Close()
	if backing.Closed() {
		t.Error("closing borrowed transfer memory closed the caller's arena")
	}
}

func TestLeakedOwnerIsClosedByCleanup(t *testing.T) {
	k := newRecordingKernel(0x500)
	func() {
		New(k, 0x500)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for k.closeCount(0x500) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("leaked owner was never closed")
		}
		runtime.GC()
		time.Sleep(10 * time.Millisecond)
	}
	if got := k.closeCount(0x500); got != 1 {
		t.Errorf("CloseHandle called %d times, want 1", got)
	}
}

func TestClosedOwnerIsNotClosedAgainByCleanup(t *testing.T) {
	k := newRecordingKernel(0x600)
	func() {
		New(k, 0x600).Close()
	}()
	for range 5 {
		runtime.GC()
		time.Sleep(5 * time.Millisecond)
	}
	if got := k.closeCount(0x600); got != 1 {
		t.Errorf("CloseHandle called %d times, want 1", got)
	}
}
