// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

// Package kobject wraps raw kernel handles in owners that release them
// exactly once.
//
// An [Object] owns one handle. Close releases it if the owner is
// non-empty and makes the owner empty; calling Close again does
// nothing. Move transfers the handle to a new owner and empties the
// source, so letting both the old and the new owner be closed releases
// the handle once. Claim empties the owner without releasing, for
// handing the handle to a call that takes responsibility for it (a
// move-handle transfer, for example).
//
// Owners are only ever used through pointers; the constructors return
// pointers and the types carry a vet copylocks marker.
//
// The kernel's close call does not fail for valid handles. When it
// does, the failure is routed through the package [ReleasePolicy]
// rather than returned: [ReleaseStrict] panics, which surfaces the bug
// during development, and [ReleaseBestEffort] logs it and continues.
//
// As a safety net, a non-empty owner that becomes unreachable is
// closed by a runtime cleanup and the leak is logged. This is not the
// primary discipline: code is expected to close every owner it holds.
//
// Specializations add operations for particular object kinds:
// [Waitable] for events, processes and debug targets, and
// [TransferMemory] for memory registered with the kernel, which also
// owns its backing [arena.Arena] when it allocated one itself.
package kobject
