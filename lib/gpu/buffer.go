// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

package gpu

import (
	"fmt"
	"sync"

	"github.com/horizon-userland/horizon/lib/nvioc"
	"github.com/horizon-userland/horizon/lib/result"
)

// ErrBufferDestroyed is returned by operations on a destroyed Buffer.
// It wraps result.GPUBufferDestroyed.
var ErrBufferDestroyed = fmt.Errorf("gpu: buffer already destroyed: %w", result.GPUBufferDestroyed)

// BufferSpec describes a buffer to allocate.
type BufferSpec struct {
	// Address is the backing address the allocation is placed at. It
	// must be a multiple of Alignment.
	Address uint64

	Size     uint32
	HeapMask uint32
	Flags    uint32

	// Alignment must be a power of two no smaller than the GPU's
	// MinAlignment.
	Alignment uint32

	Kind uint8
}

// FreeInfo is what the driver reports when a buffer handle is freed.
type FreeInfo struct {
	// RefCount is the number of handles still referring to the
	// allocation.
	RefCount uint64
	Size     uint32
	Flags    uint32
}

// Buffer is a handle to a GPU allocation. Properties are fixed when
// the buffer is created or imported.
type Buffer struct {
	gpu *GPU

	handle    uint32
	size      uint32
	alignment uint32
	kind      uint8
	imported  bool

	mu        sync.Mutex
	destroyed bool
}

// Handle returns the driver's handle for the buffer.
func (b *Buffer) Handle() uint32 { return b.handle }

// Size returns the allocation size in bytes.
func (b *Buffer) Size() uint32 { return b.size }

// Alignment returns the allocation's alignment in bytes.
func (b *Buffer) Alignment() uint32 { return b.alignment }

// Kind returns the driver's memory kind for the allocation.
func (b *Buffer) Kind() uint8 { return b.kind }

// Imported reports whether the buffer came from ImportBuffer.
func (b *Buffer) Imported() bool { return b.imported }

// CreateBuffer reserves a new allocation. The alignment and address
// are checked before any command is sent: the driver does not survive
// an allocation at a misaligned address.
func (g *GPU) CreateBuffer(spec BufferSpec) (*Buffer, error) {
	if err := g.initialized(); err != nil {
		return nil, fmt.Errorf("gpu: create buffer: %w", err)
	}
	align := spec.Alignment
	if align == 0 || align&(align-1) != 0 || align < g.options.MinAlignment {
		return nil, fmt.Errorf("gpu: alignment %#x: %w", align, result.GPUInvalidAlignment)
	}
	if spec.Address%uint64(align) != 0 {
		return nil, fmt.Errorf("gpu: address %#x is not %#x-aligned: %w", spec.Address, align, result.GPUBufferUnaligned)
	}

	create := nvioc.Create{Size: spec.Size}
	if err := g.ioctl(nvmapDevice, nvioc.NvmapCreate, &create); err != nil {
		return nil, err
	}

	alloc := nvioc.Alloc{
		Handle:   create.Handle,
		HeapMask: spec.HeapMask,
		Flags:    spec.Flags,
		Align:    align,
		Kind:     spec.Kind,
		Address:  spec.Address,
	}
	if err := g.ioctl(nvmapDevice, nvioc.NvmapAlloc, &alloc); err != nil {
		if _, freeErr := g.free(create.Handle); freeErr != nil {
			g.logger.Warn("freeing buffer handle after failed alloc", "handle", create.Handle, "error", freeErr)
		}
		return nil, err
	}

	g.logger.Debug("buffer allocated",
		"handle", create.Handle,
		"size", spec.Size,
		"alignment", align,
		"address", spec.Address)
	return &Buffer{
		gpu:       g,
		handle:    create.Handle,
		size:      spec.Size,
		alignment: align,
		kind:      spec.Kind,
	}, nil
}

// ImportBuffer attaches to the allocation with the given id and reads
// its size, alignment and kind back from the driver.
func (g *GPU) ImportBuffer(id uint32) (*Buffer, error) {
	fromID := nvioc.FromID{ID: id}
	if err := g.ioctl(nvmapDevice, nvioc.NvmapFromID, &fromID); err != nil {
		return nil, err
	}

	values := make(map[nvioc.Param]uint32, 3)
	for _, param := range []nvioc.Param{nvioc.ParamSize, nvioc.ParamAlignment, nvioc.ParamKind} {
		query := nvioc.ParamQuery{Handle: fromID.Handle, Param: param}
		if err := g.ioctl(nvmapDevice, nvioc.NvmapParam, &query); err != nil {
			if _, freeErr := g.free(fromID.Handle); freeErr != nil {
				g.logger.Warn("freeing imported buffer handle", "handle", fromID.Handle, "error", freeErr)
			}
			return nil, fmt.Errorf("importing buffer %d: %w", id, err)
		}
		values[param] = query.Value
	}

	return &Buffer{
		gpu:       g,
		handle:    fromID.Handle,
		size:      values[nvioc.ParamSize],
		alignment: values[nvioc.ParamAlignment],
		kind:      uint8(values[nvioc.ParamKind]),
		imported:  true,
	}, nil
}

// ID returns the process-independent id other processes import the
// buffer by.
func (b *Buffer) ID() (uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed {
		return 0, ErrBufferDestroyed
	}
	getID := nvioc.GetID{Handle: b.handle}
	if err := b.gpu.ioctl(nvmapDevice, nvioc.NvmapGetID, &getID); err != nil {
		return 0, err
	}
	return getID.ID, nil
}

// Destroy frees the buffer's handle and returns what the driver
// reported. A second Destroy returns ErrBufferDestroyed. A Buffer whose
// free command failed is still considered destroyed.
func (b *Buffer) Destroy() (FreeInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed {
		return FreeInfo{}, ErrBufferDestroyed
	}
	if err := b.gpu.initialized(); err != nil {
		return FreeInfo{}, fmt.Errorf("gpu: destroy buffer: %w", err)
	}
	b.destroyed = true
	return b.gpu.free(b.handle)
}

func (g *GPU) free(handle uint32) (FreeInfo, error) {
	free := nvioc.Free{Handle: handle}
	if err := g.ioctl(nvmapDevice, nvioc.NvmapFree, &free); err != nil {
		return FreeInfo{}, err
	}
	return FreeInfo{RefCount: free.RefCount, Size: free.Size, Flags: free.Flags}, nil
}
