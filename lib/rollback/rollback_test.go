// Copyright 2026 The Horizon Authors
// SPDX-License-Identifier: Apache-2.0

package rollback

import (
	"errors"
	"reflect"
	"testing"
)

func TestUnwindRunsInReverse(t *testing.T) {
	var stack Stack
	var order []string
	for _, name := range []string{"locator", "session", "arena", "transfer-memory"} {
		stack.PushFunc(name, func() { order = append(order, name) })
	}

	if got, want := stack.Names(), []string{"transfer-memory", "arena", "session", "locator"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
	if err := stack.Unwind(); err != nil {
		t.Fatalf("Unwind: %v", err)
	}
	if want := []string{"transfer-memory", "arena", "session", "locator"}; !reflect.DeepEqual(order, want) {
		t.Errorf("unwind order = %v, want %v", order, want)
	}
	if stack.Len() != 0 {
		t.Errorf("Len() = %d after Unwind", stack.Len())
	}
}

func TestUnwindContinuesPastFailures(t *testing.T) {
	var stack Stack
	first := errors.New("close session failed")
	second := errors.New("unmap failed")
	ran := 0
	stack.Push("session", func() error { ran++; return first })
	stack.PushFunc("handle", func() { ran++ })
	stack.Push("arena", func() error { ran++; return second })

	err := stack.Unwind()
	if ran != 3 {
		t.Errorf("%d actions ran, want 3", ran)
	}
	if !errors.Is(err, first) || !errors.Is(err, second) {
		t.Errorf("Unwind error %v does not wrap both failures", err)
	}
	failures := Errors(err)
	if len(failures) != 2 {
		t.Fatalf("Errors() returned %d failures, want 2", len(failures))
	}
	var stepError *StepError
	if !errors.As(failures[0], &stepError) || stepError.Step != "arena" {
		t.Errorf("first failure = %v, want the arena step", failures[0])
	}
}

func TestReleaseLeavesSourceEmpty(t *testing.T) {
	var stack Stack
	ran := false
	stack.PushFunc("session", func() { ran = true })

	teardown := stack.Release()
	if err := stack.Unwind(); err != nil {
		t.Fatalf("Unwind on released stack: %v", err)
	}
	if ran {
		t.Fatal("released step ran when the source stack unwound")
	}
	if teardown.Len() != 1 {
		t.Fatalf("teardown Len() = %d, want 1", teardown.Len())
	}
	if err := teardown.Unwind(); err != nil {
		t.Fatalf("teardown Unwind: %v", err)
	}
	if !ran {
		t.Error("teardown did not run the released step")
	}
}

func TestUnwindEmpty(t *testing.T) {
	var stack Stack
	if err := stack.Unwind(); err != nil {
		t.Errorf("Unwind on empty stack = %v", err)
	}
}
