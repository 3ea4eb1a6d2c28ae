// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

// Package process owns process exit for Horizon binaries.
//
// Go has no atexit: deferred functions do not run when os.Exit is
// called, and nothing runs when main returns. Modules that hold kernel
// sessions register an exit hook with [OnExit] as a safety net, so a
// session is released even if a user forgot to release it. Binaries
// must leave through [Exit] or [Fatal] (or call [RunExitHooks] at the
// end of main) for the hooks to run.
//
// Hooks run in reverse registration order. Each hook runs at most once;
// a hook cancelled by explicit teardown never runs.
package process
