// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

package nv

import (
	"fmt"

	"github.com/horizon-userland/horizon/lib/nvioc"
	"github.com/horizon-userland/horizon/lib/result"
)

// DriverError is a failure reported by the driver service in a status
// word. errors.Is matches both Code and Errno:
//
//	if errors.Is(err, nvioc.ErrnoTimeout) { ... }
//	if errors.Is(err, result.NVIoctlFailed) { ... }
type DriverError struct {
	// Op describes the command, for example "open /dev/nvmap" or
	// "ioctl NVMAP_IOC_ALLOC".
	Op string

	// Code classifies the failure: NVInitializeFailed, NVOpenFailed,
	// NVIoctlFailed or NVCloseFailed.
	Code result.Code

	// Errno is the driver's status word.
	Errno nvioc.Errno
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("nv: %s: %v: %v", e.Op, e.Code, e.Errno)
}

func (e *DriverError) Unwrap() []error { return []error{e.Code, e.Errno} }
