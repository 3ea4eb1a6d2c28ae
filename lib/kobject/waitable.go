// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

package kobject

import (
	"time"

	"github.com/horizon-userland/horizon/lib/kernel"
)

// Waitable owns a handle to a synchronization object: an event, a
// process or a debug target. It must not be closed while a Wait on it
// is in progress.
type Waitable struct {
	*Object
}

// NewWaitable takes ownership of h, a handle to an object of the given
// kind.
func NewWaitable(k kernel.Kernel, h kernel.Handle, kind Kind) *Waitable {
	return &Waitable{Object: NewKind(k, h, kind)}
}

// NewEvent takes ownership of an event handle.
func NewEvent(k kernel.Kernel, h kernel.Handle) *Waitable { return NewWaitable(k, h, KindEvent) }

// NewProcess takes ownership of a process handle.
func NewProcess(k kernel.Kernel, h kernel.Handle) *Waitable { return NewWaitable(k, h, KindProcess) }

// NewDebug takes ownership of a debug-target handle.
func NewDebug(k kernel.Kernel, h kernel.Handle) *Waitable { return NewWaitable(k, h, KindDebug) }

// Move transfers the handle to a new Waitable and empties w.
func (w *Waitable) Move() *Waitable { return &Waitable{Object: w.Object.Move()} }

// Wait blocks until the object is signaled or timeout passes. A zero
// timeout polls; kernel.WaitInfinite never expires. A timeout is
// reported as result.KernelTimedOut.
func (w *Waitable) Wait(timeout time.Duration) error {
	h, err := w.use("wait")
	if err != nil {
		return err
	}
	_, err = w.kernel.WaitSynchronization([]kernel.Handle{h}, timeout)
	return err
}

// ResetSignal clears the signaled state.
func (w *Waitable) ResetSignal() error {
	h, err := w.use("reset signal")
	if err != nil {
		return err
	}
	return w.kernel.ResetSignal(h)
}

// WaitAny blocks until one of objects is signaled and returns its
// index.
func WaitAny(k kernel.Kernel, timeout time.Duration, objects ...*Waitable) (int, error) {
	handles := make([]kernel.Handle, len(objects))
	for index, object := range objects {
		h, err := object.use("wait")
		if err != nil {
			return -1, err
		}
		handles[index] = h
	}
	return k.WaitSynchronization(handles, timeout)
}
