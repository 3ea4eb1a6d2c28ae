// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

package kobject

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/horizon-userland/horizon/lib/kernel"
	"github.com/horizon-userland/horizon/lib/result"
)

// Kind names the type of kernel object a handle refers to. It is
// descriptive only; the kernel is the authority on what a handle is.
type Kind int

const (
	KindUnknown Kind = iota
	KindSession
	KindPort
	KindEvent
	KindProcess
	KindDebug
	KindResourceLimit
	KindTransferMemory
	KindSharedMemory
)

var kindNames = [...]string{
	KindUnknown:        "object",
	KindSession:        "session",
	KindPort:           "port",
	KindEvent:          "event",
	KindProcess:        "process",
	KindDebug:          "debug",
	KindResourceLimit:  "resource-limit",
	KindTransferMemory: "transfer-memory",
	KindSharedMemory:   "shared-memory",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ReleasePolicy selects what happens when the kernel reports a failure
// closing an owned handle, or when an empty owner is used.
type ReleasePolicy int32

const (
	// ReleaseBestEffort logs the failure and continues.
	ReleaseBestEffort ReleasePolicy = iota

	// ReleaseStrict panics.
	ReleaseStrict
)

func (p ReleasePolicy) String() string {
	if p == ReleaseStrict {
		return "strict"
	}
	return "best-effort"
}

var (
	policy atomic.Int32
	logger atomic.Pointer[slog.Logger]
)

// SetReleasePolicy sets the process-wide release policy and returns the
// previous one.
func SetReleasePolicy(p ReleasePolicy) ReleasePolicy {
	return ReleasePolicy(policy.Swap(int32(p)))
}

// CurrentReleasePolicy returns the process-wide release policy.
func CurrentReleasePolicy() ReleasePolicy { return ReleasePolicy(policy.Load()) }

// SetLogger sets the logger used for release failures and leaks. A nil
// logger restores slog.Default.
func SetLogger(l *slog.Logger) { logger.Store(l) }

func log() *slog.Logger {
	if l := logger.Load(); l != nil {
		return l
	}
	return slog.Default()
}

// noCopy makes go vet's copylocks check flag copies of owners.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Object owns one kernel handle.
type Object struct {
	_ noCopy

	kernel kernel.Kernel
	kind   Kind

	mu      sync.Mutex
	handle  kernel.Handle
	cleanup runtime.Cleanup
	armed   bool
}

// New takes ownership of h. HandleInvalid yields an empty owner.
// Pseudo-handles are never owned; passing one panics.
func New(k kernel.Kernel, h kernel.Handle) *Object {
	return NewKind(k, h, KindUnknown)
}

// NewKind is New with a descriptive kind attached.
func NewKind(k kernel.Kernel, h kernel.Handle, kind Kind) *Object {
	if h.IsPseudo() {
		panic(fmt.Sprintf("kobject: pseudo-handle %s cannot be owned", h))
	}
	o := &Object{kernel: k, kind: kind, handle: h}
	if h != kernel.HandleInvalid {
		o.arm()
	}
	return o
}

type leaked struct {
	kernel kernel.Kernel
	handle kernel.Handle
	kind   Kind
}

func closeLeaked(l leaked) {
	log().Warn("kernel handle leaked, closing it from cleanup",
		"handle", l.handle, "kind", l.kind)
	if err := l.kernel.CloseHandle(l.handle); err != nil {
		log().Error("closing leaked handle failed", "handle", l.handle, "error", err)
	}
}

// arm registers the leak cleanup. The caller holds o.mu or has not yet
// published o.
func (o *Object) arm() {
	o.cleanup = runtime.AddCleanup(o, closeLeaked, leaked{kernel: o.kernel, handle: o.handle, kind: o.kind})
	o.armed = true
}

// take empties o and returns the handle it held. The caller holds o.mu.
func (o *Object) take() kernel.Handle {
	h := o.handle
	o.handle = kernel.HandleInvalid
	if o.armed {
		o.cleanup.Stop()
		o.armed = false
	}
	return h
}

// Kernel returns the kernel the handle belongs to.
func (o *Object) Kernel() kernel.Kernel { return o.kernel }

// Kind returns the descriptive kind.
func (o *Object) Kind() Kind { return o.kind }

// Handle returns the held handle without affecting ownership, or
// HandleInvalid if o is empty. The value must not be closed by the
// caller and must not be used after o is closed.
func (o *Object) Handle() kernel.Handle {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.handle
}

// Valid reports whether o holds a handle.
func (o *Object) Valid() bool { return o.Handle() != kernel.HandleInvalid }

// Move transfers the handle to a new owner and empties o.
func (o *Object) Move() *Object {
	o.mu.Lock()
	h := o.take()
	o.mu.Unlock()
	return NewKind(o.kernel, h, o.kind)
}

// Claim empties o without releasing the handle and returns it. The
// caller becomes responsible for the handle.
func (o *Object) Claim() kernel.Handle {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.take()
}

// Close releases the handle if o holds one. It always returns nil; a
// kernel failure is handled by the release policy. Close on an empty
// owner does nothing.
func (o *Object) Close() error {
	o.mu.Lock()
	h := o.take()
	o.mu.Unlock()
	if h == kernel.HandleInvalid {
		return nil
	}
	if err := o.kernel.CloseHandle(h); err != nil {
		releaseFailed(h, o.kind, err)
	}
	return nil
}

func releaseFailed(h kernel.Handle, kind Kind, err error) {
	if CurrentReleasePolicy() == ReleaseStrict {
		panic(fmt.Sprintf("kobject: closing %s handle %s failed: %v", kind, h, err))
	}
	log().Warn("closing kernel handle failed", "handle", h, "kind", kind, "error", err)
}

// use returns the held handle for an operation. On an empty owner it
// panics under ReleaseStrict and otherwise returns an invalid-handle
// error, without calling the kernel.
func (o *Object) use(operation string) (kernel.Handle, error) {
	h := o.Handle()
	if h != kernel.HandleInvalid {
		return h, nil
	}
	if CurrentReleasePolicy() == ReleaseStrict {
		panic(fmt.Sprintf("kobject: %s on empty %s owner", operation, o.kind))
	}
	return kernel.HandleInvalid, fmt.Errorf("kobject: %s on empty %s owner: %w", operation, o.kind, result.KernelInvalidHandle)
}

// String describes o for logs.
func (o *Object) String() string {
	h := o.Handle()
	if h == kernel.HandleInvalid {
		return o.kind.String() + "(empty)"
	}
	return fmt.Sprintf("%s(%s)", o.kind, h)
}
