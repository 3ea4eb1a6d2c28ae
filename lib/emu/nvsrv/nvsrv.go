// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

// Package nvsrv is an emulated GPU driver service. It accepts the
// transfer-memory registration handshake, opens device nodes, and
// executes the nvmap and nvhost-ctrl control commands against an
// in-memory model of buffer allocations and sync points.
//
// Like the real driver, it does not survive an allocation at an
// address that violates the requested alignment: the command puts the
// service into a crashed state in which every later request fails.
//
// Counters and fault injection exist for tests: per-command counts,
// a forced initialize status, and per-path open failures.
package nvsrv

import (
	"bytes"
	"log/slog"
	"sync"

	"github.com/horizon-userland/horizon/lib/clock"
	"github.com/horizon-userland/horizon/lib/emu"
	"github.com/horizon-userland/horizon/lib/emu/smsrv"
	"github.com/horizon-userland/horizon/lib/ipc"
	"github.com/horizon-userland/horizon/lib/kernel"
	"github.com/horizon-userland/horizon/lib/nvioc"
	"github.com/horizon-userland/horizon/lib/result"
)

// ServiceNames are the names the service registers under.
var ServiceNames = []string{"nvdrv", "nvdrv:a", "nvdrv:s", "nvdrv:t"}

// Command ids.
const (
	CommandOpen       = 0
	CommandIoctl      = 1
	CommandClose      = 2
	CommandInitialize = 3
)

// Device paths.
const (
	DeviceNvmap      = "/dev/nvmap"
	DeviceCtrl       = "/dev/nvhost-ctrl"
	DeviceAddressGPU = "/dev/nvhost-as-gpu"
)

// SyncpointCount is the number of hardware sync points.
const SyncpointCount = 192

const invalidFD = 0xFFFFFFFF

// Server is the driver service.
type Server struct {
	process *emu.Process
	clock   clock.Clock
	logger  *slog.Logger

	mu          sync.Mutex
	clients     map[uint64]*client
	allocations map[uint32]*allocation
	nextID      uint32
	syncpoints  [SyncpointCount]uint32
	// syncpointChanged is closed and replaced on every increment.
	syncpointChanged chan struct{}
	crashed          bool

	commands map[uint32]int
	ioctls   map[nvioc.Request]int

	initializeStatus nvioc.Errno
	failOpen         map[string]nvioc.Errno
}

type client struct {
	initialized    bool
	transferMemory kernel.Handle
	memorySize     uint32
	files          map[uint32]string
	nextFD         uint32
	handles        map[uint32]*allocation
	nextHandle     uint32
}

type allocation struct {
	id        uint32
	size      uint32
	align     uint32
	kind      uint8
	heapMask  uint32
	flags     uint32
	address   uint64
	allocated bool
	refs      int
}

// New creates the driver service and registers it with the service
// manager.
func New(k *emu.Kernel, sm *smsrv.Server) (*Server, error) {
	s := &Server{
		process:          k.NewProcess("nvservices"),
		clock:            k.Clock(),
		logger:           k.Logger().With("service", "nvdrv"),
		clients:          make(map[uint64]*client),
		allocations:      make(map[uint32]*allocation),
		nextID:           1,
		syncpointChanged: make(chan struct{}),
		commands:         make(map[uint32]int),
		ioctls:           make(map[nvioc.Request]int),
		failOpen:         make(map[string]nvioc.Errno),
	}
	port := emu.NewPort("nvdrv", s.process, s)
	for _, name := range ServiceNames {
		if err := sm.Register(name, port); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Process returns the service's process.
func (s *Server) Process() *emu.Process { return s.process }

// SetInitializeStatus makes every later initialize request answer with
// status instead of success.
func (s *Server) SetInitializeStatus(status nvioc.Errno) {
	s.mu.Lock()
	s.initializeStatus = status
	s.mu.Unlock()
}

// FailOpen makes opening path fail with errno. ErrnoSuccess clears it.
func (s *Server) FailOpen(path string, errno nvioc.Errno) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if errno == nvioc.ErrnoSuccess {
		delete(s.failOpen, path)
		return
	}
	s.failOpen[path] = errno
}

// Commands returns how many requests with the given command id were
// served.
func (s *Server) Commands(id uint32) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commands[id]
}

// Ioctls returns how many times request was issued.
func (s *Server) Ioctls(request nvioc.Request) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ioctls[request]
}

// TotalIoctls returns the number of control commands issued.
func (s *Server) TotalIoctls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, count := range s.ioctls {
		total += count
	}
	return total
}

// Clients returns the number of initialized sessions.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, c := range s.clients {
		if c.initialized {
			count++
		}
	}
	return count
}

// OpenFiles returns the number of open device descriptors across all
// sessions.
func (s *Server) OpenFiles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, c := range s.clients {
		count += len(c.files)
	}
	return count
}

// Allocations returns the number of live buffer identities.
func (s *Server) Allocations() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.allocations)
}

// Crashed reports whether a misaligned allocation took the service
// down.
func (s *Server) Crashed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.crashed
}

// HandleRequest implements emu.Handler.
func (s *Server) HandleRequest(call *emu.Call) *ipc.Reply {
	s.mu.Lock()
	s.commands[call.ID]++
	crashed := s.crashed
	c := s.clients[call.Session]
	if c == nil {
		c = &client{files: make(map[uint32]string), nextFD: 1, handles: make(map[uint32]*allocation), nextHandle: 1}
		s.clients[call.Session] = c
	}
	s.mu.Unlock()

	if crashed {
		s.closeReceived(call)
		return ipc.ErrorReply(result.KernelSessionClosed)
	}

	switch call.ID {
	case CommandInitialize:
		return s.initialize(call, c)
	case CommandOpen:
		return s.open(call, c)
	case CommandIoctl:
		return s.ioctl(call, c)
	case CommandClose:
		return s.close(call, c)
	}
	s.closeReceived(call)
	return ipc.ErrorReply(result.HIPCUnknownCommand)
}

func (s *Server) closeReceived(call *emu.Call) {
	for _, h := range call.CopyHandles {
		s.process.CloseHandle(h)
	}
	for _, h := range call.MoveHandles {
		s.process.CloseHandle(h)
	}
}

func (s *Server) initialize(call *emu.Call, c *client) *ipc.Reply {
	if len(call.Raw) != 1 || len(call.CopyHandles) != 2 {
		s.closeReceived(call)
		return ipc.ErrorReply(result.HIPCInvalidCommandBuf)
	}
	size := call.Raw[0]
	processHandle, memoryHandle := call.CopyHandles[0], call.CopyHandles[1]
	defer s.process.CloseHandle(processHandle)

	if _, ok := s.process.IsProcess(processHandle); !ok {
		s.process.CloseHandle(memoryHandle)
		return &ipc.Reply{Raw: []uint32{uint32(nvioc.ErrnoBadParameter)}}
	}
	memory, err := s.process.TransferMemory(memoryHandle)
	if err != nil || uint32(len(memory)) != size {
		s.process.CloseHandle(memoryHandle)
		return &ipc.Reply{Raw: []uint32{uint32(nvioc.ErrnoBadParameter)}}
	}

	s.mu.Lock()
	status := s.initializeStatus
	if status == nvioc.ErrnoSuccess && c.initialized {
		status = nvioc.ErrnoInvalidState
	}
	if status != nvioc.ErrnoSuccess {
		s.mu.Unlock()
		s.process.CloseHandle(memoryHandle)
		return &ipc.Reply{Raw: []uint32{uint32(status)}}
	}
	c.initialized = true
	c.transferMemory = memoryHandle
	c.memorySize = size
	s.mu.Unlock()

	s.logger.Debug("client registered transfer memory", "session", call.Session, "size", size)
	return &ipc.Reply{Raw: []uint32{0}}
}

func (s *Server) open(call *emu.Call, c *client) *ipc.Reply {
	s.closeReceived(call)
	path := string(bytes.TrimRight(call.Input(0), "\x00"))

	s.mu.Lock()
	defer s.mu.Unlock()
	reply := func(fd uint32, errno nvioc.Errno) *ipc.Reply {
		return &ipc.Reply{Raw: []uint32{fd, uint32(errno)}}
	}
	if !c.initialized {
		return reply(invalidFD, nvioc.ErrnoNotInitialized)
	}
	if errno, ok := s.failOpen[path]; ok {
		return reply(invalidFD, errno)
	}
	switch path {
	case DeviceNvmap, DeviceCtrl, DeviceAddressGPU:
	default:
		return reply(invalidFD, nvioc.ErrnoNotSupported)
	}
	fd := c.nextFD
	c.nextFD++
	c.files[fd] = path
	return reply(fd, nvioc.ErrnoSuccess)
}

func (s *Server) close(call *emu.Call, c *client) *ipc.Reply {
	s.closeReceived(call)
	if len(call.Raw) < 1 {
		return ipc.ErrorReply(result.HIPCInvalidCommandBuf)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !c.initialized {
		return &ipc.Reply{Raw: []uint32{uint32(nvioc.ErrnoNotInitialized)}}
	}
	if _, ok := c.files[call.Raw[0]]; !ok {
		return &ipc.Reply{Raw: []uint32{uint32(nvioc.ErrnoBadParameter)}}
	}
	delete(c.files, call.Raw[0])
	return &ipc.Reply{Raw: []uint32{0}}
}

func (s *Server) ioctl(call *emu.Call, c *client) *ipc.Reply {
	s.closeReceived(call)
	if len(call.Raw) < 2 {
		return ipc.ErrorReply(result.HIPCInvalidCommandBuf)
	}
	fd, request := call.Raw[0], nvioc.Request(call.Raw[1])
	input, output := call.Input(0), call.Output(0)

	s.mu.Lock()
	s.ioctls[request]++
	path, open := c.files[fd]
	initialized := c.initialized
	s.mu.Unlock()

	reply := func(errno nvioc.Errno) *ipc.Reply {
		return &ipc.Reply{Raw: []uint32{uint32(errno)}}
	}
	if !initialized {
		return reply(nvioc.ErrnoNotInitialized)
	}
	if !open {
		return reply(nvioc.ErrnoBadParameter)
	}
	if len(input) != request.Size() || len(output) != request.Size() {
		return reply(nvioc.ErrnoInvalidSize)
	}
	argument := bytes.Clone(input)

	var errno nvioc.Errno
	switch path {
	case DeviceNvmap:
		errno = s.nvmap(c, request, argument)
	case DeviceCtrl:
		errno = s.ctrl(request, argument)
	default:
		errno = nvioc.ErrnoNotSupported
	}
	if errno == errnoCrashed {
		return ipc.ErrorReply(result.KernelSessionClosed)
	}
	if errno == nvioc.ErrnoSuccess {
		copy(output, argument)
	}
	return reply(errno)
}

// Disconnect implements emu.Disconnecter. It drops everything the
// session held.
func (s *Server) Disconnect(session uint64) {
	s.mu.Lock()
	c := s.clients[session]
	delete(s.clients, session)
	if c != nil {
		for _, a := range c.handles {
			s.dropLocked(a)
		}
	}
	s.mu.Unlock()
	if c != nil && c.transferMemory != kernel.HandleInvalid {
		s.process.CloseHandle(c.transferMemory)
	}
}
