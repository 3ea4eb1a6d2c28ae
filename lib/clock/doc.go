// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock is the time source for every timed kernel and driver
// operation: wait timeouts in the emulated kernel, sync point waits in
// the emulated driver, and capture timestamps.
//
// Production code uses Real. Tests use Fake, whose time only moves
// when Advance is called, so a timeout can be made to expire
// deterministically:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go wait(fake, 50*time.Millisecond)
//	fake.WaitForTimers(1)          // the wait has registered its timer
//	fake.Advance(50 * time.Millisecond)
package clock
