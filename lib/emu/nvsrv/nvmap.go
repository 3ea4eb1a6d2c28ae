// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

package nvsrv

import (
	"github.com/horizon-userland/horizon/lib/nvioc"
)

// errnoCrashed is returned internally by a command that took the
// service down. It never reaches a client as a status word.
const errnoCrashed nvioc.Errno = 0xFFFFFFFF

// nvmap executes an nvmap command on argument in place.
func (s *Server) nvmap(c *client, request nvioc.Request, argument []byte) nvioc.Errno {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch request {
	case nvioc.NvmapCreate:
		var create nvioc.Create
		nvioc.Unmarshal(argument, &create)
		if create.Size == 0 {
			return nvioc.ErrnoBadParameter
		}
		a := &allocation{id: s.nextID, size: create.Size}
		s.nextID++
		s.allocations[a.id] = a
		create.Handle = s.addHandleLocked(c, a)
		return encode(argument, &create)

	case nvioc.NvmapFromID:
		var fromID nvioc.FromID
		nvioc.Unmarshal(argument, &fromID)
		a, ok := s.allocations[fromID.ID]
		if !ok {
			return nvioc.ErrnoBadParameter
		}
		fromID.Handle = s.addHandleLocked(c, a)
		return encode(argument, &fromID)

	case nvioc.NvmapAlloc:
		var alloc nvioc.Alloc
		nvioc.Unmarshal(argument, &alloc)
		a, ok := c.handles[alloc.Handle]
		if !ok {
			return nvioc.ErrnoBadParameter
		}
		if alloc.Align == 0 || alloc.Align&(alloc.Align-1) != 0 {
			return nvioc.ErrnoBadParameter
		}
		if alloc.Address%uint64(alloc.Align) != 0 {
			s.crashed = true
			s.logger.Error("nvmap alloc at misaligned address, service crashed",
				"address", alloc.Address, "align", alloc.Align)
			return errnoCrashed
		}
		if a.allocated {
			return nvioc.ErrnoAlreadyAllocated
		}
		a.allocated = true
		a.heapMask = alloc.HeapMask
		a.flags = alloc.Flags
		a.align = alloc.Align
		a.kind = alloc.Kind
		a.address = alloc.Address
		return nvioc.ErrnoSuccess

	case nvioc.NvmapFree:
		var free nvioc.Free
		nvioc.Unmarshal(argument, &free)
		a, ok := c.handles[free.Handle]
		if !ok {
			return nvioc.ErrnoBadParameter
		}
		delete(c.handles, free.Handle)
		s.dropLocked(a)
		free.RefCount = uint64(a.refs)
		free.Size = a.size
		free.Flags = a.flags
		return encode(argument, &free)

	case nvioc.NvmapParam:
		var query nvioc.ParamQuery
		nvioc.Unmarshal(argument, &query)
		a, ok := c.handles[query.Handle]
		if !ok {
			return nvioc.ErrnoBadParameter
		}
		switch query.Param {
		case nvioc.ParamSize:
			query.Value = a.size
		case nvioc.ParamAlignment:
			query.Value = a.align
		case nvioc.ParamBase:
			query.Value = uint32(a.address)
		case nvioc.ParamHeap:
			query.Value = a.heapMask
		case nvioc.ParamKind:
			query.Value = uint32(a.kind)
		default:
			return nvioc.ErrnoBadParameter
		}
		return encode(argument, &query)

	case nvioc.NvmapGetID:
		var getID nvioc.GetID
		nvioc.Unmarshal(argument, &getID)
		a, ok := c.handles[getID.Handle]
		if !ok {
			return nvioc.ErrnoBadParameter
		}
		getID.ID = a.id
		return encode(argument, &getID)
	}
	return nvioc.ErrnoNotSupported
}

func (s *Server) addHandleLocked(c *client, a *allocation) uint32 {
	h := c.nextHandle
	c.nextHandle++
	c.handles[h] = a
	a.refs++
	return h
}

// dropLocked releases one handle's reference to a. The identity dies
// with its last handle.
func (s *Server) dropLocked(a *allocation) {
	a.refs--
	if a.refs == 0 {
		delete(s.allocations, a.id)
	}
}

func encode(argument []byte, value any) nvioc.Errno {
	encoded, err := nvioc.Marshal(value)
	if err != nil {
		return nvioc.ErrnoBadValue
	}
	copy(argument, encoded)
	return nvioc.ErrnoSuccess
}
