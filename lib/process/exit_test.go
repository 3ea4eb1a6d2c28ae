// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"reflect"
	"testing"
)

func TestRunOrder(t *testing.T) {
	var registry Registry
	var order []string
	registry.OnExit("gpu", func() { order = append(order, "gpu") })
	registry.OnExit("nv", func() { order = append(order, "nv") })
	registry.OnExit("sm", func() { order = append(order, "sm") })

	if got, want := registry.Pending(), []string{"sm", "nv", "gpu"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Pending() = %v, want %v", got, want)
	}

	registry.Run()

	if want := []string{"sm", "nv", "gpu"}; !reflect.DeepEqual(order, want) {
		t.Errorf("run order = %v, want %v", order, want)
	}
}

func TestHooksRunAtMostOnce(t *testing.T) {
	var registry Registry
	calls := 0
	registry.OnExit("once", func() { calls++ })

	registry.Run()
	registry.Run()

	if calls != 1 {
		t.Errorf("hook ran %d times, want 1", calls)
	}
}

func TestCancel(t *testing.T) {
	var registry Registry
	ran := false
	hook := registry.OnExit("cancelled", func() { ran = true })

	if !hook.Cancel() {
		t.Error("first Cancel() = false, want true")
	}
	if hook.Cancel() {
		t.Error("second Cancel() = true, want false")
	}
	registry.Run()
	if ran {
		t.Error("cancelled hook ran")
	}
}

func TestCancelAfterRun(t *testing.T) {
	var registry Registry
	hook := registry.OnExit("ran", func() {})
	registry.Run()
	if hook.Cancel() {
		t.Error("Cancel() after Run = true, want false")
	}
}

func TestHookCancellingItselfDoesNotDeadlock(t *testing.T) {
	var registry Registry
	var hook *Hook
	cancelled := true
	hook = registry.OnExit("self", func() { cancelled = hook.Cancel() })

	registry.Run()

	if cancelled {
		t.Error("Cancel() inside the running hook = true, want false")
	}
}

func TestHookRegisteredDuringRunAlsoRuns(t *testing.T) {
	var registry Registry
	lateRan := false
	registry.OnExit("outer", func() {
		registry.OnExit("late", func() { lateRan = true })
	})

	registry.Run()

	if !lateRan {
		t.Error("hook registered during Run did not run")
	}
	if len(registry.Pending()) != 0 {
		t.Errorf("Pending() = %v after Run", registry.Pending())
	}
}
