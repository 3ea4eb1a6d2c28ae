// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [NewSystem] boots an emulated kernel with the service manager and
// the GPU driver service registered, on a fake clock, and fails the
// test at cleanup if the application process still holds handles or
// pinned memory. It is the fixture for every package that talks to
// services.
//
// [Go], [RequireReceive] and [RequireNoReceive] run a blocking call in
// the background and observe its completion with a real-time safety
// valve, so a call that never returns fails the test instead of
// hanging it. Timeouts under test are driven by the fake clock; these
// helpers are the only place tests use the wall clock.
//
// Helpers call t.Fatalf on failure rather than returning errors.
package testutil
