// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

// Package smsrv is an emulated service manager. It publishes the "sm:"
// named port, tracks which sessions have sent the initialize request,
// and resolves service names to new sessions on registered ports.
package smsrv

import (
	"encoding/binary"
	"log/slog"
	"sync"

	"github.com/horizon-userland/horizon/lib/emu"
	"github.com/horizon-userland/horizon/lib/ipc"
	"github.com/horizon-userland/horizon/lib/kernel"
	"github.com/horizon-userland/horizon/lib/result"
)

// PortName is the named port of the service manager.
const PortName = "sm:"

// Command ids.
const (
	CommandInitialize = 0
	CommandGetService = 1
)

// Server is the service manager.
type Server struct {
	kernel  *emu.Kernel
	process *emu.Process
	logger  *slog.Logger

	mu          sync.Mutex
	services    map[string]*emu.Port
	initialized map[uint64]uint64 // session -> client pid
	lookups     map[string]int

	// InitializeResult, when set, is returned by every initialize
	// request instead of success.
	InitializeResult result.Code
}

// New creates the service manager and registers its named port.
func New(k *emu.Kernel) (*Server, error) {
	s := &Server{
		kernel:      k,
		process:     k.NewProcess("sm"),
		logger:      k.Logger().With("service", PortName),
		services:    make(map[string]*emu.Port),
		initialized: make(map[uint64]uint64),
		lookups:     make(map[string]int),
	}
	if err := k.RegisterNamedPort(emu.NewPort(PortName, s.process, s)); err != nil {
		return nil, err
	}
	return s, nil
}

// Process returns the service manager's process.
func (s *Server) Process() *emu.Process { return s.process }

// Register makes a service reachable by name.
func (s *Server) Register(name string, port *emu.Port) error {
	if len(name) == 0 || len(name) > 8 {
		return result.SMInvalidServiceName
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.services[name]; exists {
		return result.SMAlreadyRegistered
	}
	s.services[name] = port
	return nil
}

// Sessions returns the number of sessions that have initialized and
// not disconnected.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.initialized)
}

// Lookups returns how many get-service requests named name succeeded.
func (s *Server) Lookups(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookups[name]
}

// HandleRequest implements emu.Handler.
func (s *Server) HandleRequest(call *emu.Call) *ipc.Reply {
	switch call.ID {
	case CommandInitialize:
		if !call.SendPID {
			return ipc.ErrorReply(result.SMInvalidClient)
		}
		if !s.InitializeResult.IsOK() {
			return ipc.ErrorReply(s.InitializeResult)
		}
		s.mu.Lock()
		s.initialized[call.Session] = call.PID
		s.mu.Unlock()
		s.logger.Debug("client initialized", "pid", call.PID, "session", call.Session)
		return &ipc.Reply{}

	case CommandGetService:
		return s.getService(call)
	}
	return ipc.ErrorReply(result.HIPCUnknownCommand)
}

func (s *Server) getService(call *emu.Call) *ipc.Reply {
	if len(call.Raw) < 2 {
		return ipc.ErrorReply(result.HIPCInvalidCommandBuf)
	}
	name := DecodeName(call.Raw[0], call.Raw[1])

	s.mu.Lock()
	_, initialized := s.initialized[call.Session]
	port, ok := s.services[name]
	s.mu.Unlock()
	if !initialized {
		return ipc.ErrorReply(result.SMInvalidClient)
	}
	if !ok {
		s.logger.Debug("service not registered", "name", name)
		return ipc.ErrorReply(result.SMNotRegistered)
	}

	h, err := s.process.Connect(port)
	if err != nil {
		return ipc.ErrorReply(result.SMOutOfSessions)
	}
	s.mu.Lock()
	s.lookups[name]++
	s.mu.Unlock()
	return &ipc.Reply{MoveHandles: []kernel.Handle{h}}
}

// Disconnect implements emu.Disconnecter.
func (s *Server) Disconnect(session uint64) {
	s.mu.Lock()
	delete(s.initialized, session)
	s.mu.Unlock()
}

// DecodeName unpacks a service name from its two raw words.
func DecodeName(low, high uint32) string {
	var packed [8]byte
	binary.LittleEndian.PutUint32(packed[0:], low)
	binary.LittleEndian.PutUint32(packed[4:], high)
	length := 0
	for length < len(packed) && packed[length] != 0 {
		length++
	}
	return string(packed[:length])
}
