// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"fmt"
	"os"
	"sync"
)

// Hook is a registered exit hook.
type Hook struct {
	registry *Registry
	name     string
	run      func()
}

// Name returns the name the hook was registered with.
func (h *Hook) Name() string { return h.name }

// Cancel unregisters the hook. It reports whether the hook was still
// pending; false means it already ran or was already cancelled.
func (h *Hook) Cancel() bool {
	return h.registry.remove(h)
}

// Registry is an ordered set of pending exit hooks. The package-level
// functions use a process-wide registry; tests construct their own.
type Registry struct {
	mu    sync.Mutex
	hooks []*Hook
}

// OnExit registers run under name and returns the hook.
func (r *Registry) OnExit(name string, run func()) *Hook {
	hook := &Hook{registry: r, name: name, run: run}
	r.mu.Lock()
	r.hooks = append(r.hooks, hook)
	r.mu.Unlock()
	return hook
}

// Pending returns the names of hooks that have not run, in the order
// they would run.
func (r *Registry) Pending() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.hooks))
	for index := len(r.hooks) - 1; index >= 0; index-- {
		names = append(names, r.hooks[index].name)
	}
	return names
}

// Run runs every pending hook in reverse registration order. Hooks are
// removed before they run, so a hook that re-enters the registry (for
// example by cancelling itself) does not deadlock and never runs twice.
func (r *Registry) Run() {
	for {
		r.mu.Lock()
		if len(r.hooks) == 0 {
			r.mu.Unlock()
			return
		}
		last := len(r.hooks) - 1
		hook := r.hooks[last]
		r.hooks = r.hooks[:last]
		r.mu.Unlock()

		hook.run()
	}
}

func (r *Registry) remove(target *Hook) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for index, hook := range r.hooks {
		if hook == target {
			r.hooks = append(r.hooks[:index], r.hooks[index+1:]...)
			return true
		}
	}
	return false
}

var defaultRegistry Registry

// OnExit registers an exit hook in the process-wide registry.
func OnExit(name string, run func()) *Hook {
	return defaultRegistry.OnExit(name, run)
}

// RunExitHooks runs the process-wide hooks. Call it at the end of main
// when main returns normally.
func RunExitHooks() {
	defaultRegistry.Run()
}

// Exit runs the process-wide exit hooks and exits with code.
func Exit(code int) {
	RunExitHooks()
	os.Exit(code)
}

// Fatal writes "error: err" to stderr, runs exit hooks, and exits with
// code 1. Use it in main() for errors from run() where the structured
// logger may not be initialized.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	Exit(1)
}
