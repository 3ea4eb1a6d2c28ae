// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

// Package nv is the client of the GPU driver service.
//
// A [Driver] holds one session to the service, shared by any number of
// users through Acquire and Release. The first Acquire initializes:
//
//  1. acquire the service locator (held only for the duration)
//  2. open a session to the driver service
//  3. allocate a page-aligned arena and register it as transfer memory
//  4. send the registration handshake, which copies the current
//     process pseudo-handle and the transfer memory to the service
//
// Every step that succeeds pushes its undo action. If a later step
// fails the actions run in reverse and the Driver is left exactly as
// if Acquire had never been called. The last Release runs the same
// actions: the transfer memory (handle, then arena) and then the
// session.
//
// Commands (Open, Ioctl, Close) fail with result.ModuleNotInitialized
// when no reference is held. They take a read lock, so teardown waits
// for in-flight commands.
//
// On the first Acquire the Driver also registers a process exit hook
// that force-releases the session if users are still holding it when
// the process exits through process.Exit. It is a safety net; the last
// Release cancels it.
package nv
