// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

package nvsrv

import (
	"time"

	"github.com/horizon-userland/horizon/lib/nvioc"
)

// IncrementSyncpoint advances sync point id by one, as completed
// hardware work would, and returns the new value.
func (s *Server) IncrementSyncpoint(id uint32) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncpoints[id%SyncpointCount]++
	close(s.syncpointChanged)
	s.syncpointChanged = make(chan struct{})
	return s.syncpoints[id%SyncpointCount]
}

// Syncpoint returns the current value of sync point id.
func (s *Server) Syncpoint(id uint32) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncpoints[id%SyncpointCount]
}

// ctrl executes an nvhost-ctrl command on argument in place.
func (s *Server) ctrl(request nvioc.Request, argument []byte) nvioc.Errno {
	switch request {
	case nvioc.CtrlSyncptRead:
		var read nvioc.SyncptRead
		nvioc.Unmarshal(argument, &read)
		if read.ID >= SyncpointCount {
			return nvioc.ErrnoBadParameter
		}
		read.Value = s.Syncpoint(read.ID)
		return encode(argument, &read)

	case nvioc.CtrlSyncptWait:
		var wait nvioc.SyncptWait
		nvioc.Unmarshal(argument, &wait)
		if wait.ID >= SyncpointCount {
			return nvioc.ErrnoBadParameter
		}
		return s.waitSyncpoint(wait)
	}
	return nvioc.ErrnoNotSupported
}

// waitSyncpoint blocks until the sync point reaches the threshold or
// the timeout passes. A zero timeout polls; a negative one never
// expires.
func (s *Server) waitSyncpoint(wait nvioc.SyncptWait) nvioc.Errno {
	var expired <-chan time.Time
	if wait.Timeout > 0 {
		expired = s.clock.After(time.Duration(wait.Timeout) * time.Millisecond)
	}
	for {
		s.mu.Lock()
		reached := reachedThreshold(s.syncpoints[wait.ID], wait.Threshold)
		changed := s.syncpointChanged
		s.mu.Unlock()
		if reached {
			return nvioc.ErrnoSuccess
		}
		if wait.Timeout == 0 {
			return nvioc.ErrnoTimeout
		}
		select {
		case <-changed:
		case <-expired:
			return nvioc.ErrnoTimeout
		}
	}
}

// reachedThreshold compares sync point values with wraparound.
func reachedThreshold(value, threshold uint32) bool {
	return int32(value-threshold) >= 0
}
