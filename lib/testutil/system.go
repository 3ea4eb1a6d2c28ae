// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"log/slog"
	"testing"
	"time"

	"github.com/horizon-userland/horizon/lib/clock"
	"github.com/horizon-userland/horizon/lib/emu"
	"github.com/horizon-userland/horizon/lib/emu/nvsrv"
	"github.com/horizon-userland/horizon/lib/emu/smsrv"
)

// Epoch is the fake clock's starting time.
var Epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// System is an emulated kernel with its system services.
type System struct {
	Kernel *emu.Kernel
	Clock  *clock.FakeClock
	SM     *smsrv.Server
	NV     *nvsrv.Server
}

// NewSystem boots a System. At cleanup it fails the test if the
// application leaked handles or left memory pinned; tests that leak on
// purpose close what they hold before returning.
func NewSystem(t *testing.T) *System {
	t.Helper()
	fake := clock.Fake(Epoch)
	k := emu.New(emu.Options{Clock: fake, Logger: Logger(t)})
	sm, err := smsrv.New(k)
	if err != nil {
		t.Fatalf("starting service manager: %v", err)
	}
	nv, err := nvsrv.New(k, sm)
	if err != nil {
		t.Fatalf("starting driver service: %v", err)
	}
	t.Cleanup(func() {
		if stats := k.Stats(); stats.Handles != 0 || stats.Pinned != 0 {
			t.Errorf("application leaked %d handles and %d pinned regions: %v",
				stats.Handles, stats.Pinned, k.Application().Handles())
		}
	})
	return &System{Kernel: k, Clock: fake, SM: sm, NV: nv}
}

// Logger returns a logger that writes through t.Log at debug level.
func Logger(t *testing.T) *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	w.t.Log(string(p))
	return len(p), nil
}
