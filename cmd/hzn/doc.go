// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

// Hzn drives the Horizon userland against the in-process emulated
// kernel. "hzn demo" boots the emulated system, runs the driver and GPU
// buffer lifecycle end to end and optionally captures every IPC
// exchange; "hzn trace" inspects captures; "hzn version" prints build
// information.
package main
