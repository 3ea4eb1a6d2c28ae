// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

package gpu

import (
	"errors"
	"testing"
	"time"

	"github.com/horizon-userland/horizon/lib/emu/nvsrv"
	"github.com/horizon-userland/horizon/lib/nv"
	"github.com/horizon-userland/horizon/lib/nvioc"
	"github.com/horizon-userland/horizon/lib/process"
	"github.com/horizon-userland/horizon/lib/result"
	"github.com/horizon-userland/horizon/lib/sm"
	"github.com/horizon-userland/horizon/lib/testutil"
)

func newGPU(t *testing.T, options Options) (*GPU, *testutil.System) {
	t.Helper()
	system := testutil.NewSystem(t)
	logger := testutil.Logger(t)
	locator := sm.NewLocator(system.Kernel, sm.Options{Logger: logger})
	driver := nv.NewDriver(system.Kernel, locator, nv.Options{
		TransferMemorySize: 0x10000,
		Logger:             logger,
		ExitHooks:          &process.Registry{},
	})
	options.Logger = logger
	if options.ExitHooks == nil {
		options.ExitHooks = &process.Registry{}
	}
	return New(driver, options), system
}

func initialized(t *testing.T, options Options) (*GPU, *testutil.System) {
	t.Helper()
	gpu, system := newGPU(t, options)
	if err := gpu.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(gpu.Finalize)
	return gpu, system
}

func TestInitializeTwiceFinalizeTwice(t *testing.T) {
	gpu, system := newGPU(t, Options{})

	for range 2 {
		if err := gpu.Initialize(); err != nil {
			t.Fatalf("Initialize: %v", err)
		}
	}
	if got := system.NV.Commands(nvsrv.CommandOpen); got != 3 {
		t.Errorf("open requests = %d, want 3", got)
	}
	if system.NV.OpenFiles() != 3 {
		t.Errorf("OpenFiles() = %d, want 3", system.NV.OpenFiles())
	}

	gpu.Finalize()
	if stats := system.Kernel.Stats(); stats.Sessions == 0 {
		t.Fatal("driver session closed after the first Finalize")
	}
	if system.NV.OpenFiles() != 3 {
		t.Errorf("OpenFiles() = %d after first Finalize, want 3", system.NV.OpenFiles())
	}

	gpu.Finalize()
	if stats := system.Kernel.Stats(); stats.Sessions != 0 || stats.Handles != 0 {
		t.Errorf("after second Finalize: %+v", stats)
	}
	if got := system.NV.Commands(nvsrv.CommandClose); got != 3 {
		t.Errorf("close requests = %d, want 3", got)
	}
	if gpu.Refs() != 0 {
		t.Errorf("Refs() = %d", gpu.Refs())
	}
}

func TestInitializeRollsBackOnOpenFailure(t *testing.T) {
	gpu, system := newGPU(t, Options{})
	system.NV.FailOpen(nvsrv.DeviceCtrl, nvioc.ErrnoResourceError)

	err := gpu.Initialize()
	if !errors.Is(err, result.NVOpenFailed) {
		t.Fatalf("Initialize error = %v, want NVOpenFailed", err)
	}
	if gpu.Refs() != 0 {
		t.Errorf("Refs() = %d after failed Initialize", gpu.Refs())
	}
	if system.NV.OpenFiles() != 0 {
		t.Errorf("OpenFiles() = %d, want the opened devices closed", system.NV.OpenFiles())
	}
	if stats := system.Kernel.Stats(); stats.Handles != 0 {
		t.Errorf("after failed Initialize: %+v", stats)
	}
}

func TestOperationsRequireInitialize(t *testing.T) {
	gpu, system := newGPU(t, Options{})

	if _, err := gpu.CreateBuffer(BufferSpec{Size: 0x1000, Alignment: 0x1000}); !errors.Is(err, result.ModuleNotInitialized) {
		t.Errorf("CreateBuffer error = %v", err)
	}
	if _, err := gpu.ImportBuffer(1); !errors.Is(err, result.ModuleNotInitialized) {
		t.Errorf("ImportBuffer error = %v", err)
	}
	if err := gpu.WaitFence(Fence{ID: 1, Value: 1}, 0); !errors.Is(err, result.ModuleNotInitialized) {
		t.Errorf("WaitFence error = %v", err)
	}
	if _, err := gpu.SyncpointValue(1); !errors.Is(err, result.ModuleNotInitialized) {
		t.Errorf("SyncpointValue error = %v", err)
	}
	if system.NV.TotalIoctls() != 0 {
		t.Errorf("%d control commands issued", system.NV.TotalIoctls())
	}
}

func TestMisalignedBufferIssuesNoCommands(t *testing.T) {
	gpu, system := initialized(t, Options{})

	_, err := gpu.CreateBuffer(BufferSpec{Address: 0x1001, Size: 0x1000, Alignment: 0x1000})
	if !errors.Is(err, result.GPUBufferUnaligned) {
		t.Fatalf("CreateBuffer error = %v, want GPUBufferUnaligned", err)
	}
	if system.NV.TotalIoctls() != 0 {
		t.Errorf("%d control commands issued", system.NV.TotalIoctls())
	}
	if system.NV.Crashed() {
		t.Error("driver crashed")
	}
}

func TestInvalidAlignment(t *testing.T) {
	gpu, system := initialized(t, Options{MinAlignment: 0x100})

	for _, alignment := range []uint32{0, 3, 0x1800, 0x80} {
		_, err := gpu.CreateBuffer(BufferSpec{Size: 0x1000, Alignment: alignment})
		if !errors.Is(err, result.GPUInvalidAlignment) {
			t.Errorf("alignment %#x: error = %v, want GPUInvalidAlignment", alignment, err)
		}
	}
	if system.NV.TotalIoctls() != 0 {
		t.Errorf("%d control commands issued", system.NV.TotalIoctls())
	}
}

func TestCreateBuffer(t *testing.T) {
	gpu, system := initialized(t, Options{})

	buffer, err := gpu.CreateBuffer(BufferSpec{Address: 0x20000, Size: 0x4000, HeapMask: 1, Flags: 2, Alignment: 0x1000, Kind: 0xFE})
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	if buffer.Size() != 0x4000 || buffer.Alignment() != 0x1000 || buffer.Kind() != 0xFE || buffer.Imported() {
		t.Errorf("buffer = size %#x alignment %#x kind %#x imported %v",
			buffer.Size(), buffer.Alignment(), buffer.Kind(), buffer.Imported())
	}
	if system.NV.Ioctls(nvioc.NvmapCreate) != 1 || system.NV.Ioctls(nvioc.NvmapAlloc) != 1 {
		t.Errorf("create %d, alloc %d, want one each",
			system.NV.Ioctls(nvioc.NvmapCreate), system.NV.Ioctls(nvioc.NvmapAlloc))
	}

	info, err := buffer.Destroy()
	if err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if info.RefCount != 0 || info.Size != 0x4000 || info.Flags != 2 {
		t.Errorf("FreeInfo = %+v", info)
	}
	if system.NV.Allocations() != 0 {
		t.Errorf("Allocations() = %d after Destroy", system.NV.Allocations())
	}
}

func TestCreateFailureLeavesNothing(t *testing.T) {
	gpu, system := initialized(t, Options{})

	_, err := gpu.CreateBuffer(BufferSpec{Size: 0, Alignment: 0x1000})
	if !errors.Is(err, result.NVIoctlFailed) || !errors.Is(err, nvioc.ErrnoBadParameter) {
		t.Fatalf("CreateBuffer error = %v", err)
	}
	if system.NV.Allocations() != 0 {
		t.Errorf("Allocations() = %d", system.NV.Allocations())
	}
}

func TestDestroyTwice(t *testing.T) {
	gpu, system := initialized(t, Options{})

	buffer, err := gpu.CreateBuffer(BufferSpec{Size: 0x1000, Alignment: 0x1000})
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	if _, err := buffer.Destroy(); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	frees := system.NV.Ioctls(nvioc.NvmapFree)

	_, err = buffer.Destroy()
	if !errors.Is(err, ErrBufferDestroyed) || !errors.Is(err, result.GPUBufferDestroyed) {
		t.Errorf("second Destroy error = %v", err)
	}
	if _, err := buffer.ID(); !errors.Is(err, ErrBufferDestroyed) {
		t.Errorf("ID after Destroy error = %v", err)
	}
	if system.NV.Ioctls(nvioc.NvmapFree) != frees {
		t.Error("second Destroy issued a command")
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	gpu, system := initialized(t, Options{})

	original, err := gpu.CreateBuffer(BufferSpec{Address: 0x10000, Size: 0x3000, Alignment: 0x10000, Kind: 7})
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	id, err := original.ID()
	if err != nil {
		t.Fatalf("ID: %v", err)
	}

	imported, err := gpu.ImportBuffer(id)
	if err != nil {
		t.Fatalf("ImportBuffer: %v", err)
	}
	if !imported.Imported() {
		t.Error("Imported() = false")
	}
	if imported.Size() != original.Size() || imported.Alignment() != original.Alignment() || imported.Kind() != original.Kind() {
		t.Errorf("imported (%#x, %#x, %d) != original (%#x, %#x, %d)",
			imported.Size(), imported.Alignment(), imported.Kind(),
			original.Size(), original.Alignment(), original.Kind())
	}
	if got := system.NV.Ioctls(nvioc.NvmapParam); got != 3 {
		t.Errorf("parameter queries = %d, want 3", got)
	}

	info, err := original.Destroy()
	if err != nil {
		t.Fatalf("Destroy original: %v", err)
	}
	if info.RefCount != 1 {
		t.Errorf("RefCount after first free = %d, want 1", info.RefCount)
	}
	if info, err = imported.Destroy(); err != nil || info.RefCount != 0 {
		t.Errorf("Destroy imported: %+v, %v", info, err)
	}
	if system.NV.Allocations() != 0 {
		t.Errorf("Allocations() = %d", system.NV.Allocations())
	}
}

func TestImportRederivesProperties(t *testing.T) {
	gpu, _ := initialized(t, Options{})

	// The buffer's real properties differ from anything a caller might
	// assume from its id or a previous import.
	original, err := gpu.CreateBuffer(BufferSpec{Size: 0x5000, Alignment: 0x20000, Kind: 0x3C})
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	defer original.Destroy()
	id, err := original.ID()
	if err != nil {
		t.Fatalf("ID: %v", err)
	}

	imported, err := gpu.ImportBuffer(id)
	if err != nil {
		t.Fatalf("ImportBuffer: %v", err)
	}
	defer imported.Destroy()
	if imported.Size() != 0x5000 || imported.Alignment() != 0x20000 || imported.Kind() != 0x3C {
		t.Errorf("imported = (%#x, %#x, %#x)", imported.Size(), imported.Alignment(), imported.Kind())
	}
}

func TestImportUnknownID(t *testing.T) {
	gpu, _ := initialized(t, Options{})
	if _, err := gpu.ImportBuffer(999); !errors.Is(err, nvioc.ErrnoBadParameter) {
		t.Errorf("ImportBuffer error = %v", err)
	}
}

func TestWaitFenceSatisfied(t *testing.T) {
	gpu, system := initialized(t, Options{})
	system.NV.IncrementSyncpoint(4)
	system.NV.IncrementSyncpoint(4)

	if err := gpu.WaitFence(Fence{ID: 4, Value: 2}, 0); err != nil {
		t.Errorf("WaitFence: %v", err)
	}
	value, err := gpu.SyncpointValue(4)
	if err != nil {
		t.Fatalf("SyncpointValue: %v", err)
	}
	if value != 2 {
		t.Errorf("SyncpointValue = %d, want 2", value)
	}
}

func TestWaitFenceTimesOut(t *testing.T) {
	gpu, system := initialized(t, Options{})

	done := testutil.Go(func() error {
		return gpu.WaitFence(Fence{ID: 9, Value: 1}, 50*time.Millisecond)
	})
	system.Clock.WaitForTimers(1)
	testutil.RequireNoReceive(t, done, 10*time.Millisecond, "wait returned before its timeout")
	system.Clock.Advance(50 * time.Millisecond)

	err := testutil.RequireReceive(t, done, 5*time.Second, "wait did not time out")
	if !IsTimeout(err) {
		t.Errorf("WaitFence error = %v, want a timeout", err)
	}
	if !errors.Is(err, result.NVIoctlFailed) {
		t.Errorf("WaitFence error = %v, want NVIoctlFailed", err)
	}
}

func TestWaitFenceSubMillisecondTimeoutWaits(t *testing.T) {
	gpu, system := initialized(t, Options{})

	done := testutil.Go(func() error {
		return gpu.WaitFence(Fence{ID: 3, Value: 1}, 500*time.Microsecond)
	})
	testutil.RequireNoReceive(t, done, 10*time.Millisecond, "sub-millisecond wait returned without waiting")
	system.Clock.WaitForTimers(1)
	system.Clock.Advance(time.Millisecond)

	if err := testutil.RequireReceive(t, done, 5*time.Second, "wait did not time out"); !IsTimeout(err) {
		t.Errorf("WaitFence error = %v, want a timeout", err)
	}
}

func TestFenceTimeout(t *testing.T) {
	tests := []struct {
		timeout time.Duration
		want    int32
	}{
		{-1, -1},
		{0, 0},
		{time.Nanosecond, 1},
		{999 * time.Microsecond, 1},
		{time.Millisecond, 1},
		{1500 * time.Microsecond, 2},
		{5 * time.Second, 5000},
		{1 << 62, 1<<31 - 1},
	}
	for _, test := range tests {
		if got := fenceTimeout(test.timeout); got != test.want {
			t.Errorf("fenceTimeout(%v) = %d, want %d", test.timeout, got, test.want)
		}
	}
}

func TestWaitFenceWakesOnIncrement(t *testing.T) {
	gpu, system := initialized(t, Options{})

	done := testutil.Go(func() error {
		return gpu.WaitFence(Fence{ID: 2, Value: 1}, -1)
	})
	testutil.RequireNoReceive(t, done, 10*time.Millisecond, "wait returned before the sync point moved")
	system.NV.IncrementSyncpoint(2)

	if err := testutil.RequireReceive(t, done, 5*time.Second, "wait did not wake"); err != nil {
		t.Errorf("WaitFence: %v", err)
	}
}

func TestIsTimeout(t *testing.T) {
	if IsTimeout(errors.New("other")) {
		t.Error("IsTimeout matched an unrelated error")
	}
	if !IsTimeout(result.KernelTimedOut) {
		t.Error("IsTimeout missed KernelTimedOut")
	}
	if !IsTimeout(&nv.DriverError{Op: "wait", Code: result.NVIoctlFailed, Errno: nvioc.ErrnoTimeout}) {
		t.Error("IsTimeout missed ErrnoTimeout")
	}
}

func TestExitHookForcesFinalize(t *testing.T) {
	hooks := &process.Registry{}
	gpu, system := newGPU(t, Options{ExitHooks: hooks})
	if err := gpu.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	hooks.Run()
	if gpu.Refs() != 0 {
		t.Errorf("Refs() = %d after exit hooks", gpu.Refs())
	}
	if system.NV.OpenFiles() != 0 {
		t.Errorf("OpenFiles() = %d after exit hooks", system.NV.OpenFiles())
	}
	if stats := system.Kernel.Stats(); stats.Handles != 0 {
		t.Errorf("after exit hooks: %+v", stats)
	}
}
