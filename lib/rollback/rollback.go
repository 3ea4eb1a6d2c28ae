// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

// Package rollback records undo actions for multi-step initialization.
//
// Each step that acquires a resource pushes the action that releases
// it. If a later step fails, Unwind runs the recorded actions in
// reverse order, leaving nothing acquired. If every step succeeds, the
// caller takes the stack with Release and keeps it as its teardown:
// teardown is then exactly the reverse of the steps that succeeded.
//
//	var undo rollback.Stack
//	defer undo.Unwind()
//	session, err := connect()
//	if err != nil {
//	    return err
//	}
//	undo.Push("session", session.Close)
//	...
//	m.teardown = undo.Release()
package rollback

import "go.uber.org/multierr"

// Stack is a LIFO list of named undo actions. The zero value is empty
// and ready to use. A Stack is not safe for concurrent use.
type Stack struct {
	steps []step
}

type step struct {
	name string
	undo func() error
}

// Push records undo as the release action for the step called name.
func (s *Stack) Push(name string, undo func() error) {
	s.steps = append(s.steps, step{name: name, undo: undo})
}

// PushFunc records an undo action that cannot fail.
func (s *Stack) PushFunc(name string, undo func()) {
	s.Push(name, func() error {
		undo()
		return nil
	})
}

// Len returns the number of recorded steps.
func (s *Stack) Len() int { return len(s.steps) }

// Names returns step names in the order Unwind would run them.
func (s *Stack) Names() []string {
	names := make([]string, 0, len(s.steps))
	for index := len(s.steps) - 1; index >= 0; index-- {
		names = append(names, s.steps[index].name)
	}
	return names
}

// Unwind runs every recorded action in reverse order and empties the
// stack. All actions run even if some fail; the failures are combined
// into the returned error, each prefixed with its step name.
func (s *Stack) Unwind() error {
	var combined error
	for len(s.steps) > 0 {
		last := len(s.steps) - 1
		current := s.steps[last]
		s.steps = s.steps[:last]
		if err := current.undo(); err != nil {
			combined = multierr.Append(combined, &StepError{Step: current.name, Err: err})
		}
	}
	return combined
}

// Release moves the recorded steps into a new Stack and leaves s
// empty, so a deferred Unwind on s does nothing.
func (s *Stack) Release() *Stack {
	released := &Stack{steps: s.steps}
	s.steps = nil
	return released
}

// StepError is an undo failure for one step.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return "undo " + e.Step + ": " + e.Err.Error() }

func (e *StepError) Unwrap() error { return e.Err }

// Errors splits an error returned by Unwind into its step failures.
func Errors(err error) []error { return multierr.Errors(err) }
