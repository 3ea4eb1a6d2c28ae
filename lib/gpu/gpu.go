// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

// Package gpu manages GPU buffers and waits on GPU fences through the
// driver service.
//
// A [GPU] is reference-counted like the driver it is built on. The
// first Initialize acquires the [nv.Driver] and opens the address
// space, nvmap and nvhost-ctrl device nodes; the last Finalize closes
// them in reverse order and releases the driver. Every operation fails
// with result.ModuleNotInitialized while the GPU is not initialized.
//
// Buffers come from CreateBuffer, which reserves a new allocation, or
// ImportBuffer, which attaches to an allocation another process shares
// by its id. Either way a Buffer is destroyed exactly once.
package gpu

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/horizon-userland/horizon/lib/nv"
	"github.com/horizon-userland/horizon/lib/nvioc"
	"github.com/horizon-userland/horizon/lib/process"
	"github.com/horizon-userland/horizon/lib/result"
	"github.com/horizon-userland/horizon/lib/rollback"
)

// Device node paths.
const (
	DeviceAddressSpace = "/dev/nvhost-as-gpu"
	DeviceNvmap        = "/dev/nvmap"
	DeviceCtrl         = "/dev/nvhost-ctrl"
)

// Devices names the device nodes Initialize opens.
type Devices struct {
	AddressSpace string
	Nvmap        string
	Ctrl         string
}

// DefaultDevices returns the standard device node paths.
func DefaultDevices() Devices {
	return Devices{AddressSpace: DeviceAddressSpace, Nvmap: DeviceNvmap, Ctrl: DeviceCtrl}
}

// Options configures a GPU.
type Options struct {
	// MinAlignment is the smallest buffer alignment accepted. Zero
	// imposes no minimum beyond a power of two.
	MinAlignment uint32

	// Devices overrides individual device paths; empty fields use the
	// defaults.
	Devices Devices

	// Logger defaults to slog.Default.
	Logger *slog.Logger

	// ExitHooks receives the force-finalize hook. Nil uses the
	// process-wide registry.
	ExitHooks *process.Registry
}

// GPU is the reference-counted buffer and fence subsystem.
type GPU struct {
	driver  *nv.Driver
	options Options
	logger  *slog.Logger

	mu   sync.Mutex
	refs int
	hook *process.Hook

	use      sync.RWMutex
	open     bool
	fds      descriptors
	teardown *rollback.Stack
}

type descriptors struct {
	addressSpace uint32
	nvmap        uint32
	ctrl         uint32
}

// New returns a GPU on top of driver. Nothing is opened until the
// first Initialize.
func New(driver *nv.Driver, options Options) *GPU {
	defaults := DefaultDevices()
	if options.Devices.AddressSpace == "" {
		options.Devices.AddressSpace = defaults.AddressSpace
	}
	if options.Devices.Nvmap == "" {
		options.Devices.Nvmap = defaults.Nvmap
	}
	if options.Devices.Ctrl == "" {
		options.Devices.Ctrl = defaults.Ctrl
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	return &GPU{driver: driver, options: options, logger: options.Logger}
}

// Initialize takes a reference, opening the device nodes on the first
// one. A failed Initialize leaves the driver and the device nodes as
// they were.
func (g *GPU) Initialize() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refs > 0 {
		g.refs++
		return nil
	}

	var undo rollback.Stack
	defer func() {
		if err := undo.Unwind(); err != nil {
			g.logger.Warn("rolling back gpu initialization", "error", err)
		}
	}()

	if err := g.driver.Acquire(); err != nil {
		return fmt.Errorf("gpu: %w", err)
	}
	undo.PushFunc("driver", g.driver.Release)

	var fds descriptors
	for _, device := range []struct {
		path string
		fd   *uint32
	}{
		{g.options.Devices.AddressSpace, &fds.addressSpace},
		{g.options.Devices.Nvmap, &fds.nvmap},
		{g.options.Devices.Ctrl, &fds.ctrl},
	} {
		fd, err := g.driver.Open(device.path)
		if err != nil {
			return fmt.Errorf("gpu: %w", err)
		}
		*device.fd = fd
		undo.Push(device.path, func() error { return g.driver.Close(fd) })
	}

	g.use.Lock()
	g.open = true
	g.fds = fds
	g.teardown = undo.Release()
	g.use.Unlock()
	g.refs = 1

	register := process.OnExit
	if g.options.ExitHooks != nil {
		register = g.options.ExitHooks.OnExit
	}
	g.hook = register("gpu", g.forceFinalize)

	g.logger.Debug("gpu initialized",
		"address_space_fd", fds.addressSpace,
		"nvmap_fd", fds.nvmap,
		"ctrl_fd", fds.ctrl)
	return nil
}

// Finalize drops a reference. The last Finalize closes the device
// nodes and releases the driver. Finalizing without a matching
// Initialize is logged and ignored.
func (g *GPU) Finalize() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refs == 0 {
		g.logger.Warn("gpu finalized more times than initialized")
		return
	}
	g.refs--
	if g.refs > 0 {
		return
	}
	if g.hook != nil {
		g.hook.Cancel()
		g.hook = nil
	}
	g.teardownLocked()
}

func (g *GPU) forceFinalize() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refs == 0 {
		return
	}
	g.logger.Warn("gpu still initialized at exit; forcing finalize", "refs", g.refs)
	g.refs = 0
	g.hook = nil
	g.teardownLocked()
}

func (g *GPU) teardownLocked() {
	g.use.Lock()
	teardown := g.teardown
	g.open = false
	g.fds = descriptors{}
	g.teardown = nil
	g.use.Unlock()

	if err := teardown.Unwind(); err != nil {
		g.logger.Warn("gpu teardown", "error", err)
	}
	g.logger.Debug("gpu finalized")
}

// Refs returns the current reference count.
func (g *GPU) Refs() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.refs
}

// ioctl marshals argument, issues rq on the device chosen by device,
// and decodes the driver's output back into argument.
func (g *GPU) ioctl(device func(descriptors) uint32, rq nvioc.Request, argument any) error {
	g.use.RLock()
	defer g.use.RUnlock()
	if !g.open {
		return fmt.Errorf("gpu: %v: %w", rq, result.ModuleNotInitialized)
	}
	data, err := nvioc.Marshal(argument)
	if err != nil {
		return fmt.Errorf("gpu: %w", err)
	}
	if err := g.driver.Ioctl(device(g.fds), rq, data); err != nil {
		return fmt.Errorf("gpu: %w", err)
	}
	return nvioc.Unmarshal(data, argument)
}

func nvmapDevice(fds descriptors) uint32 { return fds.nvmap }
func ctrlDevice(fds descriptors) uint32  { return fds.ctrl }

func (g *GPU) initialized() error {
	g.use.RLock()
	defer g.use.RUnlock()
	if !g.open {
		return result.ModuleNotInitialized
	}
	return nil
}

// Fence is a point on a sync point's timeline.
type Fence struct {
	ID    uint32
	Value uint32
}

// WaitFence blocks until the fence's sync point reaches its value or
// timeout passes. A negative timeout waits forever and a zero timeout
// polls; any other timeout is rounded up to whole milliseconds. A
// timeout is reported as an error for which IsTimeout returns true.
func (g *GPU) WaitFence(fence Fence, timeout time.Duration) error {
	wait := nvioc.SyncptWait{ID: fence.ID, Threshold: fence.Value, Timeout: fenceTimeout(timeout)}
	if err := g.ioctl(ctrlDevice, nvioc.CtrlSyncptWait, &wait); err != nil {
		return fmt.Errorf("waiting for sync point %d to reach %d: %w", fence.ID, fence.Value, err)
	}
	return nil
}

// fenceTimeout converts timeout to the driver's millisecond argument,
// where -1 means no limit.
func fenceTimeout(timeout time.Duration) int32 {
	if timeout < 0 {
		return -1
	}
	milliseconds := timeout.Milliseconds()
	if timeout%time.Millisecond != 0 {
		milliseconds++
	}
	return int32(min(milliseconds, 1<<31-1))
}

// SyncpointValue reads the current value of a sync point.
func (g *GPU) SyncpointValue(id uint32) (uint32, error) {
	read := nvioc.SyncptRead{ID: id}
	if err := g.ioctl(ctrlDevice, nvioc.CtrlSyncptRead, &read); err != nil {
		return 0, err
	}
	return read.Value, nil
}

// IsTimeout reports whether err is a fence wait that timed out.
func IsTimeout(err error) bool {
	return errors.Is(err, nvioc.ErrnoTimeout) || errors.Is(err, result.KernelTimedOut)
}
