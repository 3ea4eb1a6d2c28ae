// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

package nvioc

import "fmt"

// Errno is the driver service's status word. Zero is success. Errno
// implements error so a status can be matched with errors.Is.
type Errno uint32

const (
	ErrnoSuccess            Errno = 0
	ErrnoNotImplemented     Errno = 1
	ErrnoNotSupported       Errno = 2
	ErrnoNotInitialized     Errno = 3
	ErrnoBadParameter       Errno = 4
	ErrnoTimeout            Errno = 5
	ErrnoInsufficientMemory Errno = 6
	ErrnoReadOnlyAttribute  Errno = 7
	ErrnoInvalidState       Errno = 8
	ErrnoInvalidAddress     Errno = 9
	ErrnoInvalidSize        Errno = 10
	ErrnoBadValue           Errno = 11
	ErrnoAlreadyAllocated   Errno = 13
	ErrnoBusy               Errno = 14
	ErrnoResourceError      Errno = 15
	ErrnoCountMismatch      Errno = 16
)

var errnoNames = map[Errno]string{
	ErrnoSuccess:            "success",
	ErrnoNotImplemented:     "not implemented",
	ErrnoNotSupported:       "not supported",
	ErrnoNotInitialized:     "not initialized",
	ErrnoBadParameter:       "bad parameter",
	ErrnoTimeout:            "timeout",
	ErrnoInsufficientMemory: "insufficient memory",
	ErrnoReadOnlyAttribute:  "read-only attribute",
	ErrnoInvalidState:       "invalid state",
	ErrnoInvalidAddress:     "invalid address",
	ErrnoInvalidSize:        "invalid size",
	ErrnoBadValue:           "bad value",
	ErrnoAlreadyAllocated:   "already allocated",
	ErrnoBusy:               "busy",
	ErrnoResourceError:      "resource error",
	ErrnoCountMismatch:      "count mismatch",
}

func (e Errno) Error() string {
	if name, ok := errnoNames[e]; ok {
		return fmt.Sprintf("nv errno %d (%s)", uint32(e), name)
	}
	return fmt.Sprintf("nv errno %d", uint32(e))
}
