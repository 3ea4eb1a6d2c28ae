// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

// Package emu is an in-process kernel that implements kernel.Kernel,
// together with the service-side machinery to host system services
// that speak the real command-buffer layout.
//
// The emulated kernel keeps one handle table per process. Calls made
// through the kernel.Kernel methods act as the application process;
// services run as their own processes, see requests with handles
// translated into their own tables, and reply through the same
// translation. Handle values are never reused, so a second close of
// the same value is reported as an invalid handle instead of silently
// closing an unrelated object.
//
// Memory passed to Pin is given a kernel address below 2^39 that
// preserves the region's offset within its page, so alignment checks
// made against the address hold for the real memory too. Descriptors
// in a request are resolved back to the pinned memory, and services
// read and write it in place.
//
// Requests on one session are delivered one at a time in issue order.
// Requests on different sessions may run concurrently.
//
// The services themselves live in subpackages: smsrv for the service
// manager and nvsrv for the GPU driver service.
package emu
