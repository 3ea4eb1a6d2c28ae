// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

// Package sm resolves service names to sessions through the service
// manager.
//
// A [Locator] owns the bootstrap session to the "sm:" named port. The
// session is reference-counted: the first Acquire connects and sends
// the initialize handshake, the last Release closes it. If the
// handshake fails the port session is closed before Acquire returns,
// so a failed Acquire leaves nothing behind.
//
// Users share one Locator by passing it explicitly; there is no
// package-level instance.
package sm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/horizon-userland/horizon/lib/ipc"
	"github.com/horizon-userland/horizon/lib/kernel"
	"github.com/horizon-userland/horizon/lib/kobject"
	"github.com/horizon-userland/horizon/lib/result"
	"github.com/horizon-userland/horizon/lib/rollback"
)

// PortName is the service manager's named port.
const PortName = "sm:"

// MaxNameLength is the longest service name the protocol carries.
const MaxNameLength = 8

const (
	commandInitialize = 0
	commandGetService = 1
)

// ErrServiceNotFound is returned by GetService for a name nobody has
// registered. The error also wraps result.SMNotRegistered.
var ErrServiceNotFound = errors.New("service not found")

// Options configures a Locator.
type Options struct {
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Locator is a reference-counted session to the service manager.
type Locator struct {
	kernel kernel.Kernel
	logger *slog.Logger

	mu      sync.Mutex
	refs    int
	session *ipc.Session
}

// NewLocator returns a Locator that has not connected yet.
func NewLocator(k kernel.Kernel, options Options) *Locator {
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	return &Locator{kernel: k, logger: options.Logger}
}

// Acquire takes a reference, connecting on the first one.
func (l *Locator) Acquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.refs > 0 {
		l.refs++
		return nil
	}

	var undo rollback.Stack
	defer func() {
		if err := undo.Unwind(); err != nil {
			l.logger.Warn("rolling back service manager connection", "error", err)
		}
	}()

	h, err := l.kernel.ConnectToNamedPort(PortName)
	if err != nil {
		return fmt.Errorf("sm: connecting to %q: %w", PortName, err)
	}
	session := ipc.NewSession(kobject.NewKind(l.kernel, h, kobject.KindSession))
	undo.Push("sm session", session.Close)

	request := &ipc.Request{ID: commandInitialize, Raw: []uint32{0, 0}, SendPID: true}
	if _, err := session.Call(request, ipc.ResponseFormat{}); err != nil {
		return fmt.Errorf("sm: initialize: %w", err)
	}

	undo.Release()
	l.session = session
	l.refs = 1
	l.logger.Debug("service manager session opened", "session", h)
	return nil
}

// Release drops a reference, closing the session with the last one.
// Releasing without a matching Acquire is logged and ignored.
func (l *Locator) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.refs == 0 {
		l.logger.Warn("service manager released more times than acquired")
		return
	}
	l.refs--
	if l.refs > 0 {
		return
	}
	l.session.Close()
	l.session = nil
	l.logger.Debug("service manager session closed")
}

// Refs returns the current reference count.
func (l *Locator) Refs() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refs
}

// GetService opens a new session to the named service. The Locator
// must be acquired.
func (l *Locator) GetService(name string) (*ipc.Session, error) {
	low, high, err := EncodeName(name)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.refs == 0 {
		return nil, fmt.Errorf("sm: get service %q: %w", name, result.ModuleNotInitialized)
	}

	request := &ipc.Request{ID: commandGetService, Raw: []uint32{low, high}}
	response, err := l.session.Send(request, ipc.ResponseFormat{MoveHandles: 1})
	if err != nil {
		return nil, fmt.Errorf("sm: get service %q: %w", name, err)
	}
	switch response.Result {
	case result.OK:
	case result.SMNotRegistered:
		return nil, fmt.Errorf("sm: service %q: %w: %w", name, ErrServiceNotFound, response.Result)
	default:
		return nil, fmt.Errorf("sm: get service %q: %w", name, response.Result)
	}
	return ipc.NewSession(response.MoveHandles[0]), nil
}

// EncodeName packs a service name into the two raw words of a lookup
// request: the bytes in order, little-endian, zero-padded to eight.
func EncodeName(name string) (low, high uint32, err error) {
	if len(name) > MaxNameLength {
		return 0, 0, fmt.Errorf("sm: service name %q: %w", name, result.ServiceNameTooLong)
	}
	var packed [MaxNameLength]byte
	copy(packed[:], name)
	return binary.LittleEndian.Uint32(packed[0:]), binary.LittleEndian.Uint32(packed[4:]), nil
}
