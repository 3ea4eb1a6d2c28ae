// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

package nv

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/horizon-userland/horizon/lib/arena"
	"github.com/horizon-userland/horizon/lib/ipc"
	"github.com/horizon-userland/horizon/lib/kernel"
	"github.com/horizon-userland/horizon/lib/kobject"
	"github.com/horizon-userland/horizon/lib/nvioc"
	"github.com/horizon-userland/horizon/lib/process"
	"github.com/horizon-userland/horizon/lib/result"
	"github.com/horizon-userland/horizon/lib/rollback"
	"github.com/horizon-userland/horizon/lib/sm"
)

// DefaultServiceName is the driver service variant for applications.
const DefaultServiceName = "nvdrv:a"

// DefaultTransferMemorySize is the size of the region lent to the
// driver at registration.
const DefaultTransferMemorySize = 3 << 20

const (
	commandOpen       = 0
	commandIoctl      = 1
	commandClose      = 2
	commandInitialize = 3
)

// Options configures a Driver.
type Options struct {
	// ServiceName selects the driver service variant. Defaults to
	// DefaultServiceName.
	ServiceName string

	// TransferMemorySize is rounded up to the page size. Defaults to
	// DefaultTransferMemorySize.
	TransferMemorySize int

	// LockMemory locks the transfer memory into RAM.
	LockMemory bool

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// ExitHooks receives the force-release hook. Nil uses the
	// process-wide registry.
	ExitHooks *process.Registry
}

// Driver is a reference-counted session to the GPU driver service.
// The zero value is not usable; construct with NewDriver.
type Driver struct {
	kernel  kernel.Kernel
	locator *sm.Locator
	options Options
	logger  *slog.Logger

	// mu serializes Acquire and Release.
	mu   sync.Mutex
	refs int
	hook *process.Hook

	// use guards the live state. Commands hold it shared; teardown
	// holds it exclusively.
	use      sync.RWMutex
	session  *ipc.Session
	memory   *kobject.TransferMemory
	teardown *rollback.Stack
}

// NewDriver returns a Driver that resolves the service through locator.
// Nothing is opened until the first Acquire.
func NewDriver(k kernel.Kernel, locator *sm.Locator, options Options) *Driver {
	if options.ServiceName == "" {
		options.ServiceName = DefaultServiceName
	}
	if options.TransferMemorySize <= 0 {
		options.TransferMemorySize = DefaultTransferMemorySize
	}
	options.TransferMemorySize = arena.AlignUp(options.TransferMemorySize, kobject.MemoryAlignment)
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	return &Driver{
		kernel:  k,
		locator: locator,
		options: options,
		logger:  options.Logger.With("service", options.ServiceName),
	}
}

// Acquire takes a reference, initializing the driver session on the
// first one. A failed Acquire leaves no handles, memory or references
// behind.
func (d *Driver) Acquire() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.refs > 0 {
		d.refs++
		return nil
	}

	if err := d.locator.Acquire(); err != nil {
		return fmt.Errorf("nv: %w", err)
	}
	// The locator is only needed to resolve the service name. This
	// deferred release runs after the rollback below.
	defer d.locator.Release()

	var undo rollback.Stack
	defer func() {
		if err := undo.Unwind(); err != nil {
			d.logger.Warn("rolling back driver initialization", "error", err)
		}
	}()

	session, err := d.locator.GetService(d.options.ServiceName)
	if err != nil {
		return fmt.Errorf("nv: %w", err)
	}
	undo.Push("driver session", session.Close)

	memory, err := kobject.AllocateTransferMemory(d.kernel, d.options.TransferMemorySize,
		kernel.PermissionNone, arena.Options{Lock: d.options.LockMemory})
	if err != nil {
		return fmt.Errorf("nv: allocating transfer memory: %w", err)
	}
	undo.Push("transfer memory", memory.Close)

	if err := handshake(session, memory); err != nil {
		return err
	}

	d.use.Lock()
	d.session = session
	d.memory = memory
	d.teardown = undo.Release()
	d.use.Unlock()
	d.refs = 1

	register := process.OnExit
	if d.options.ExitHooks != nil {
		register = d.options.ExitHooks.OnExit
	}
	d.hook = register("nv: "+d.options.ServiceName, d.forceRelease)

	d.logger.Debug("driver initialized",
		"session", session.Handle(),
		"transfer_memory", memory.Handle(),
		"size", memory.Size())
	return nil
}

func handshake(session *ipc.Session, memory *kobject.TransferMemory) error {
	request := &ipc.Request{
		ID:          commandInitialize,
		Raw:         []uint32{uint32(memory.Size())},
		CopyHandles: []kernel.Handle{kernel.CurrentProcess, memory.Handle()},
	}
	response, err := session.Call(request, ipc.ResponseFormat{RawWords: 1})
	if err != nil {
		if response != nil {
			response.Close()
		}
		return fmt.Errorf("nv: initialize: %w", err)
	}
	if status := nvioc.Errno(response.Raw[0]); status != nvioc.ErrnoSuccess {
		return &DriverError{Op: "initialize", Code: result.NVInitializeFailed, Errno: status}
	}
	return nil
}

// Release drops a reference. The last Release closes the transfer
// memory and the session. Releasing without a matching Acquire is
// logged and ignored.
func (d *Driver) Release() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.refs == 0 {
		d.logger.Warn("driver released more times than acquired")
		return
	}
	d.refs--
	if d.refs > 0 {
		return
	}
	if d.hook != nil {
		d.hook.Cancel()
		d.hook = nil
	}
	d.teardownLocked()
}

// forceRelease tears down regardless of the reference count. It runs
// from the exit hook.
func (d *Driver) forceRelease() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.refs == 0 {
		return
	}
	d.logger.Warn("driver still referenced at exit; forcing release", "refs", d.refs)
	d.refs = 0
	d.hook = nil
	d.teardownLocked()
}

func (d *Driver) teardownLocked() {
	d.use.Lock()
	teardown := d.teardown
	d.session, d.memory, d.teardown = nil, nil, nil
	d.use.Unlock()

	if err := teardown.Unwind(); err != nil {
		d.logger.Warn("driver teardown", "error", err)
	}
	d.logger.Debug("driver finalized")
}

// Refs returns the current reference count.
func (d *Driver) Refs() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.refs
}

// TransferMemorySize returns the size of the region lent to the driver.
func (d *Driver) TransferMemorySize() int { return d.options.TransferMemorySize }

// Open opens a device node and returns its descriptor.
func (d *Driver) Open(path string) (uint32, error) {
	request := &ipc.Request{
		ID:      commandOpen,
		Buffers: []ipc.Buffer{{Data: []byte(path), Type: ipc.BufferSendMapped}},
	}
	response, err := d.call("open "+path, request, 2)
	if err != nil {
		return 0, err
	}
	if status := nvioc.Errno(response.Raw[1]); status != nvioc.ErrnoSuccess {
		return 0, &DriverError{Op: "open " + path, Code: result.NVOpenFailed, Errno: status}
	}
	return response.Raw[0], nil
}

// Ioctl issues a control command on fd. arg carries the input and is
// overwritten with the driver's output; its length must be rq.Size().
func (d *Driver) Ioctl(fd uint32, rq nvioc.Request, arg []byte) error {
	request := &ipc.Request{
		ID:  commandIoctl,
		Raw: []uint32{fd, uint32(rq), 0, 0},
		Buffers: []ipc.Buffer{
			{Data: arg, Type: ipc.BufferSendAuto},
			{Data: arg, Type: ipc.BufferReceiveAuto},
		},
	}
	op := "ioctl " + rq.String()
	response, err := d.call(op, request, 1)
	if err != nil {
		return err
	}
	if status := nvioc.Errno(response.Raw[0]); status != nvioc.ErrnoSuccess {
		return &DriverError{Op: op, Code: result.NVIoctlFailed, Errno: status}
	}
	return nil
}

// Close closes a device descriptor.
func (d *Driver) Close(fd uint32) error {
	request := &ipc.Request{ID: commandClose, Raw: []uint32{fd}}
	op := fmt.Sprintf("close fd %d", fd)
	response, err := d.call(op, request, 1)
	if err != nil {
		return err
	}
	if status := nvioc.Errno(response.Raw[0]); status != nvioc.ErrnoSuccess {
		return &DriverError{Op: op, Code: result.NVCloseFailed, Errno: status}
	}
	return nil
}

func (d *Driver) call(op string, request *ipc.Request, rawWords int) (*ipc.Response, error) {
	d.use.RLock()
	defer d.use.RUnlock()
	if d.session == nil {
		return nil, fmt.Errorf("nv: %s: %w", op, result.ModuleNotInitialized)
	}
	response, err := d.session.Call(request, ipc.ResponseFormat{RawWords: rawWords})
	if err != nil {
		if response != nil {
			response.Close()
		}
		return nil, fmt.Errorf("nv: %s: %w", op, err)
	}
	return response, nil
}
