// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

package result

import "fmt"

// Code is a packed result code. The zero value is success.
type Code uint32

// OK is the success code.
const OK Code = 0

const (
	moduleBits      = 9
	descriptionBits = 13

	moduleMask      = 1<<moduleBits - 1
	descriptionMask = 1<<descriptionBits - 1
)

// Module ids.
const (
	ModuleKernel  uint32 = 1
	ModuleHIPC    uint32 = 11
	ModuleSM      uint32 = 21
	ModuleLibrary uint32 = 348
)

// Make packs a module and description into a Code. Values wider than
// their fields are truncated.
func Make(module, description uint32) Code {
	return Code(module&moduleMask | (description&descriptionMask)<<moduleBits)
}

// Module returns the module id (bits 0-8).
func (c Code) Module() uint32 { return uint32(c) & moduleMask }

// Description returns the description (bits 9-21).
func (c Code) Description() uint32 { return uint32(c) >> moduleBits & descriptionMask }

// IsOK reports whether c is success.
func (c Code) IsOK() bool { return c == OK }

// Err returns nil for OK and c otherwise. Use it to turn a code
// reported by a service into an error return.
func (c Code) Err() error {
	if c == OK {
		return nil
	}
	return c
}

// String returns the "2MMM-DDDD" form of c.
func (c Code) String() string {
	return fmt.Sprintf("%04d-%04d", 2000+c.Module(), c.Description())
}

// Error implements error. Known codes include their meaning.
func (c Code) Error() string {
	if name, ok := names[c]; ok {
		return fmt.Sprintf("%s (%s)", name, c)
	}
	module := moduleNames[c.Module()]
	if module == "" {
		module = "module " + fmt.Sprint(c.Module())
	}
	return fmt.Sprintf("%s error %s", module, c)
}

// Must panics if err is non-nil and otherwise returns v. It is meant
// for setup code where a failure is a programming error.
func Must[T any](v T, err error) T {
	if err != nil {
		panic(fmt.Sprintf("result: unexpected failure: %v", err))
	}
	return v
}
