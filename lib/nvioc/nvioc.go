// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

// Package nvioc is the control-command ABI of the GPU driver service:
// the request numbers of the nvmap and nvhost-ctrl commands this
// library issues, and their fixed little-endian argument layouts.
//
// A request number encodes its direction, argument size, device magic
// and command number the way Linux ioctl numbers do; the numbers are
// driver-defined constants passed through unchanged.
package nvioc

import (
	"encoding/binary"
	"fmt"
)

// Request is a control-command number.
type Request uint32

const (
	NvmapCreate Request = 0xC0080101
	NvmapFromID Request = 0xC0080103
	NvmapAlloc  Request = 0xC0200104
	NvmapFree   Request = 0xC0180105
	NvmapParam  Request = 0xC00C0109
	NvmapGetID  Request = 0xC008010E

	CtrlSyncptRead Request = 0xC0080014
	CtrlSyncptWait Request = 0xC00C0016
)

// Direction bits of a request number.
const (
	DirectionWrite = 1
	DirectionRead  = 2
)

// Number returns the command number (bits 0-7).
func (r Request) Number() uint8 { return uint8(r) }

// Magic returns the device magic (bits 8-15).
func (r Request) Magic() uint8 { return uint8(r >> 8) }

// Size returns the argument size in bytes (bits 16-29).
func (r Request) Size() int { return int(r >> 16 & 0x3FFF) }

// Direction returns the direction bits (30-31).
func (r Request) Direction() uint32 { return uint32(r) >> 30 }

var requestNames = map[Request]string{
	NvmapCreate:    "NVMAP_IOC_CREATE",
	NvmapFromID:    "NVMAP_IOC_FROM_ID",
	NvmapAlloc:     "NVMAP_IOC_ALLOC",
	NvmapFree:      "NVMAP_IOC_FREE",
	NvmapParam:     "NVMAP_IOC_PARAM",
	NvmapGetID:     "NVMAP_IOC_GET_ID",
	CtrlSyncptRead: "NVHOST_IOC_CTRL_SYNCPT_READ",
	CtrlSyncptWait: "NVHOST_IOC_CTRL_SYNCPT_WAIT",
}

func (r Request) String() string {
	if name, ok := requestNames[r]; ok {
		return name
	}
	return fmt.Sprintf("ioctl(%#08x)", uint32(r))
}

// Param selects the buffer property an NvmapParam command queries.
type Param uint32

const (
	ParamSize      Param = 1
	ParamAlignment Param = 2
	ParamBase      Param = 3
	ParamHeap      Param = 4
	ParamKind      Param = 5
)

// Create is the NvmapCreate argument. Handle is written by the driver.
type Create struct {
	Size   uint32
	Handle uint32
}

// FromID is the NvmapFromID argument. Handle is written by the driver.
type FromID struct {
	ID     uint32
	Handle uint32
}

// Alloc is the NvmapAlloc argument.
type Alloc struct {
	Handle   uint32
	HeapMask uint32
	Flags    uint32
	Align    uint32
	Kind     uint8
	_        [7]byte
	Address  uint64
}

// Free is the NvmapFree argument. RefCount, Size and Flags are written
// by the driver.
type Free struct {
	Handle   uint32
	_        uint32
	RefCount uint64
	Size     uint32
	Flags    uint32
}

// ParamQuery is the NvmapParam argument. Value is written by the
// driver.
type ParamQuery struct {
	Handle uint32
	Param  Param
	Value  uint32
}

// GetID is the NvmapGetID argument. ID is written by the driver.
type GetID struct {
	ID     uint32
	Handle uint32
}

// SyncptRead is the CtrlSyncptRead argument. Value is written by the
// driver.
type SyncptRead struct {
	ID    uint32
	Value uint32
}

// SyncptWait is the CtrlSyncptWait argument. Timeout is in
// milliseconds; -1 waits forever.
type SyncptWait struct {
	ID        uint32
	Threshold uint32
	Timeout   int32
}

// Marshal encodes an argument struct in its wire layout.
func Marshal(argument any) ([]byte, error) {
	size := binary.Size(argument)
	if size < 0 {
		return nil, fmt.Errorf("nvioc: %T has no fixed layout", argument)
	}
	buffer := make([]byte, size)
	if _, err := binary.Encode(buffer, binary.LittleEndian, argument); err != nil {
		return nil, fmt.Errorf("nvioc: encoding %T: %w", argument, err)
	}
	return buffer, nil
}

// Unmarshal decodes data into the argument struct argument points to.
func Unmarshal(data []byte, argument any) error {
	if _, err := binary.Decode(data, binary.LittleEndian, argument); err != nil {
		return fmt.Errorf("nvioc: decoding %T: %w", argument, err)
	}
	return nil
}
