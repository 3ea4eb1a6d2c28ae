// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/horizon-userland/horizon/cmd/hzn/cli"
	"github.com/horizon-userland/horizon/lib/arena"
	"github.com/horizon-userland/horizon/lib/config"
	"github.com/horizon-userland/horizon/lib/emu"
	"github.com/horizon-userland/horizon/lib/emu/nvsrv"
	"github.com/horizon-userland/horizon/lib/emu/smsrv"
	"github.com/horizon-userland/horizon/lib/gpu"
	"github.com/horizon-userland/horizon/lib/ipctrace"
	"github.com/horizon-userland/horizon/lib/kernel"
	"github.com/horizon-userland/horizon/lib/kobject"
	"github.com/horizon-userland/horizon/lib/nv"
	"github.com/horizon-userland/horizon/lib/process"
	"github.com/horizon-userland/horizon/lib/result"
	"github.com/horizon-userland/horizon/lib/sm"
)

const (
	demoBufferSize      = 0x4000
	demoBufferAlignment = 0x1000
	demoSyncpoint       = 0

	// demoShortWait is the fence timeout that is expected to expire.
	demoShortWait = 10 * time.Millisecond
	demoLongWait  = 5 * time.Second
)

type demoFlags struct {
	output      cli.JSONOutput
	configPath  string
	tracePath   string
	compression string
	service     string
}

// demoOptions is everything a demo run needs once configuration and
// flags are resolved.
type demoOptions struct {
	config *config.Config
	logger *slog.Logger

	// exitHooks receives the driver and GPU exit hooks. Nil uses the
	// process-wide registry.
	exitHooks *process.Registry
}

type bufferReport struct {
	Handle    uint32 `json:"handle"`
	ID        uint32 `json:"id"`
	Size      uint32 `json:"size"`
	Alignment uint32 `json:"alignment"`
	Kind      uint8  `json:"kind"`
}

type freeReport struct {
	RefCount uint64 `json:"ref_count"`
	Size     uint32 `json:"size"`
	Flags    uint32 `json:"flags"`
}

type traceReport struct {
	Path        string `json:"path"`
	Compression string `json:"compression"`
	Frames      int    `json:"frames"`
	Records     int    `json:"records"`
	Dropped     uint64 `json:"dropped"`
}

type demoReport struct {
	Service            string       `json:"service"`
	TransferMemorySize int          `json:"transfer_memory_size"`
	StrictRelease      bool         `json:"strict_release"`
	MisalignedRejected bool         `json:"misaligned_rejected"`
	Buffer             bufferReport `json:"buffer"`
	Imported           bufferReport `json:"imported"`
	Freed              []freeReport `json:"freed"`
	Syncpoint          uint32       `json:"syncpoint"`
	FenceTimedOut      bool         `json:"fence_timed_out"`
	FenceSignaled      bool         `json:"fence_signaled"`
	Trace              *traceReport `json:"trace,omitempty"`

	// Kernel is the emulated kernel's object count after the GPU is
	// finalized.
	Kernel emu.Stats `json:"kernel"`
}

func demoCommand(stdout io.Writer) *cli.Command {
	var flags demoFlags
	return &cli.Command{
		Name:    "demo",
		Summary: "Run the driver and buffer lifecycle on the emulated kernel",
		Description: `Boot the emulated kernel with its service manager and GPU driver
service, then acquire the driver session, initialize the GPU, create,
export, import and free a buffer, and wait on a fence twice: once until
it times out and once until it is signaled.

Configuration is read from --config or $HZN_CONFIG when either is set.
With trace.path configured (or --trace), every IPC exchange is captured
for "hzn trace".`,
		Examples: []cli.Example{
			{Description: "Run with defaults", Command: "hzn demo"},
			{Description: "Capture the IPC traffic with LZ4 frames", Command: "hzn demo --trace demo.hzt --compression lz4"},
		},
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("demo", pflag.ContinueOnError)
			flags.output.AddFlag(flagSet)
			flagSet.StringVar(&flags.configPath, "config", "", "configuration file (default $"+config.EnvironmentVariable+")")
			flagSet.StringVar(&flags.tracePath, "trace", "", "write an IPC capture to this file")
			flagSet.StringVar(&flags.compression, "compression", "", "capture compression: none, lz4 or zstd")
			flagSet.StringVar(&flags.service, "service", "", "driver service name")
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			level, err := cli.ParseLevel(cfg.LogLevel)
			if err != nil {
				return err
			}
			report, err := runDemo(demoOptions{config: cfg, logger: cli.NewCommandLogger(level)})
			if err != nil {
				return err
			}
			if done, err := flags.output.EmitJSON(stdout, report); done {
				return err
			}
			return printDemoReport(stdout, report)
		},
	}
}

// loadConfig reads the configuration file, if one is named, and
// applies flag overrides.
func loadConfig(flags demoFlags) (*config.Config, error) {
	var cfg *config.Config
	var err error
	switch {
	case flags.configPath != "":
		cfg, err = config.LoadFile(flags.configPath)
	case os.Getenv(config.EnvironmentVariable) != "":
		cfg, err = config.Load()
	default:
		cfg = config.Default()
	}
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}
	if flags.tracePath != "" {
		cfg.Trace.Path = flags.tracePath
	}
	if flags.compression != "" {
		cfg.Trace.Compression = flags.compression
	}
	if flags.service != "" {
		cfg.Driver.Service = flags.service
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runDemo(options demoOptions) (report *demoReport, err error) {
	cfg, logger := options.config, options.logger

	kobject.SetLogger(logger)
	policy := kobject.ReleaseBestEffort
	if cfg.StrictReleaseEnabled() {
		policy = kobject.ReleaseStrict
	}
	defer kobject.SetReleasePolicy(kobject.SetReleasePolicy(policy))

	system := emu.New(emu.Options{Logger: logger.With("component", "emu")})
	smServer, err := smsrv.New(system)
	if err != nil {
		return nil, fmt.Errorf("starting service manager: %w", err)
	}
	nvServer, err := nvsrv.New(system, smServer)
	if err != nil {
		return nil, fmt.Errorf("starting driver service: %w", err)
	}

	report = &demoReport{
		Service:       cfg.Driver.Service,
		StrictRelease: policy == kobject.ReleaseStrict,
	}

	var k kernel.Kernel = system
	if cfg.Trace.Path != "" {
		recorder, finish, err := startCapture(system, cfg.Trace, logger)
		if err != nil {
			return nil, err
		}
		defer func() {
			trace, captureErr := finish()
			if report != nil {
				report.Trace = trace
			}
			err = errors.Join(err, captureErr)
		}()
		k = recorder
	}

	locator := sm.NewLocator(k, sm.Options{Logger: logger})
	driver := nv.NewDriver(k, locator, nv.Options{
		ServiceName:        cfg.Driver.Service,
		TransferMemorySize: cfg.Driver.TransferMemorySize,
		LockMemory:         cfg.Driver.LockMemory,
		Logger:             logger,
		ExitHooks:          options.exitHooks,
	})
	report.TransferMemorySize = driver.TransferMemorySize()

	g := gpu.New(driver, gpu.Options{
		MinAlignment: cfg.GPU.MinAlignment,
		Devices: gpu.Devices{
			AddressSpace: cfg.GPU.Devices.AddressSpace,
			Nvmap:        cfg.GPU.Devices.Nvmap,
			Ctrl:         cfg.GPU.Devices.Ctrl,
		},
		Logger:    logger,
		ExitHooks: options.exitHooks,
	})
	if err := g.Initialize(); err != nil {
		return nil, fmt.Errorf("initializing gpu: %w", err)
	}
	finalized := false
	defer func() {
		if !finalized {
			g.Finalize()
		}
	}()

	if err := exerciseBuffers(k, g, report); err != nil {
		return nil, err
	}
	if err := exerciseFences(g, nvServer, report); err != nil {
		return nil, err
	}
	g.Finalize()
	finalized = true
	report.Kernel = system.Stats()
	return report, nil
}

// exerciseBuffers runs the allocate, export, import and free sequence
// over page-aligned backing memory.
func exerciseBuffers(k kernel.Kernel, g *gpu.GPU, report *demoReport) error {
	backing, err := arena.New(demoBufferSize, arena.Options{})
	if err != nil {
		return err
	}
	defer backing.Close()
	address, unpin := k.Pin(backing.Bytes())
	defer unpin()

	spec := gpu.BufferSpec{
		Address:   address + 1,
		Size:      demoBufferSize,
		HeapMask:  1,
		Alignment: demoBufferAlignment,
	}
	if _, err := g.CreateBuffer(spec); !errors.Is(err, result.GPUBufferUnaligned) {
		return fmt.Errorf("misaligned buffer was not rejected: %v", err)
	}
	report.MisalignedRejected = true

	spec.Address = address
	buffer, err := g.CreateBuffer(spec)
	if err != nil {
		return fmt.Errorf("creating buffer: %w", err)
	}
	id, err := buffer.ID()
	if err != nil {
		buffer.Destroy()
		return fmt.Errorf("exporting buffer: %w", err)
	}
	report.Buffer = describeBuffer(buffer, id)

	imported, err := g.ImportBuffer(id)
	if err != nil {
		buffer.Destroy()
		return fmt.Errorf("importing buffer %d: %w", id, err)
	}
	report.Imported = describeBuffer(imported, id)

	for _, b := range []*gpu.Buffer{imported, buffer} {
		info, err := b.Destroy()
		if err != nil {
			return fmt.Errorf("freeing buffer handle %d: %w", b.Handle(), err)
		}
		report.Freed = append(report.Freed, freeReport(info))
	}
	return nil
}

func describeBuffer(b *gpu.Buffer, id uint32) bufferReport {
	return bufferReport{Handle: b.Handle(), ID: id, Size: b.Size(), Alignment: b.Alignment(), Kind: b.Kind()}
}

// exerciseFences waits on the next value of a sync point until it
// times out, then signals it and waits again.
func exerciseFences(g *gpu.GPU, nvServer *nvsrv.Server, report *demoReport) error {
	value, err := g.SyncpointValue(demoSyncpoint)
	if err != nil {
		return fmt.Errorf("reading sync point: %w", err)
	}
	fence := gpu.Fence{ID: demoSyncpoint, Value: value + 1}

	err = g.WaitFence(fence, demoShortWait)
	if !gpu.IsTimeout(err) {
		return fmt.Errorf("unsignaled fence did not time out: %v", err)
	}
	report.FenceTimedOut = true

	go nvServer.IncrementSyncpoint(demoSyncpoint)
	if err := g.WaitFence(fence, demoLongWait); err != nil {
		return fmt.Errorf("waiting for signaled fence: %w", err)
	}
	report.FenceSignaled = true

	report.Syncpoint, err = g.SyncpointValue(demoSyncpoint)
	return err
}

// startCapture wraps k in a Recorder writing to the configured file.
// finish flushes the capture and closes the file.
func startCapture(k kernel.Kernel, trace config.TraceConfig, logger *slog.Logger) (*ipctrace.Recorder, func() (*traceReport, error), error) {
	compression, err := ipctrace.ParseCompression(trace.Compression)
	if err != nil {
		return nil, nil, err
	}
	file, err := os.Create(trace.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("creating capture: %w", err)
	}
	writer, err := ipctrace.NewWriter(file, ipctrace.WriterOptions{Compression: compression, FrameRecords: trace.FrameRecords})
	if err != nil {
		file.Close()
		return nil, nil, err
	}
	recorder := ipctrace.NewRecorder(k, writer, ipctrace.RecorderOptions{Logger: logger})
	logger.Info("capturing ipc", "path", trace.Path, "compression", compression.String())

	finish := func() (*traceReport, error) {
		closeErr := errors.Join(writer.Close(), file.Close())
		frames, records := writer.Stats()
		_, dropped := recorder.Recorded()
		return &traceReport{
			Path:        trace.Path,
			Compression: compression.String(),
			Frames:      frames,
			Records:     records,
			Dropped:     dropped,
		}, closeErr
	}
	return recorder, finish, nil
}

func printDemoReport(w io.Writer, report *demoReport) error {
	var err error
	printf := func(format string, args ...any) {
		if err == nil {
			_, err = fmt.Fprintf(w, format, args...)
		}
	}
	printf("driver session      %s (%#x bytes transfer memory, %s release)\n",
		report.Service, report.TransferMemorySize, releaseName(report.StrictRelease))
	printf("misaligned buffer   rejected=%v\n", report.MisalignedRejected)
	printf("buffer              handle=%d id=%d size=%#x align=%#x kind=%d\n",
		report.Buffer.Handle, report.Buffer.ID, report.Buffer.Size, report.Buffer.Alignment, report.Buffer.Kind)
	printf("imported            handle=%d id=%d size=%#x align=%#x kind=%d\n",
		report.Imported.Handle, report.Imported.ID, report.Imported.Size, report.Imported.Alignment, report.Imported.Kind)
	for _, freed := range report.Freed {
		printf("freed               refs=%d size=%#x flags=%#x\n", freed.RefCount, freed.Size, freed.Flags)
	}
	printf("fence               timed_out=%v signaled=%v syncpoint=%d\n",
		report.FenceTimedOut, report.FenceSignaled, report.Syncpoint)
	if report.Trace != nil {
		printf("capture             %s (%s, %d records in %d frames, %d dropped)\n",
			report.Trace.Path, report.Trace.Compression, report.Trace.Records, report.Trace.Frames, report.Trace.Dropped)
	}
	printf("kernel              handles=%d sessions=%d pinned=%d\n",
		report.Kernel.Handles, report.Kernel.Sessions, report.Kernel.Pinned)
	return err
}

func releaseName(strict bool) string {
	if strict {
		return "strict"
	}
	return "best-effort"
}
