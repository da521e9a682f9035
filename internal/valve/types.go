// Package valve holds the gate valve registry: the in-memory open and lock
// state of every configured valve and the rules for changing it.
// It performs no I/O itself; pin changes go through an injected Driver and
// observers are told about changes through Notifiers.
package valve

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrOutOfRange is returned for an index outside [0, N).
	ErrOutOfRange = errors.New("valve index out of range")
	// ErrLocked is returned when an open/close is attempted on a locked valve.
	ErrLocked = errors.New("valve is locked")
	// ErrDriver wraps failures reported by the pin driver.
	ErrDriver = errors.New("driver failed")
	// ErrNoValves is returned when the registry is built from an empty list.
	ErrNoValves = errors.New("no valves configured")
)

// Spec is the static configuration of one valve.
type Spec struct {
	Pin  int
	Name string
}

// Valve is a point-in-time copy of one valve's state.
type Valve struct {
	Index  int
	Name   string
	Pin    int
	Open   bool
	Locked bool
}

// StatusText returns "Open" or "Close".
func (v Valve) StatusText() string {
	if v.Open {
		return "Open"
	}
	return "Close"
}

// LockText returns "Locked" or "Unlocked".
func (v Valve) LockText() string {
	if v.Locked {
		return "Locked"
	}
	return "Unlocked"
}

// Driver asserts the physical state of a valve.
type Driver interface {
	// Apply drives valve index to open (true) or closed (false).
	Apply(index int, open bool) error
}

// EventKind names a successful mutation.
type EventKind string

const (
	EventOpen   EventKind = "OPEN"
	EventClose  EventKind = "CLOSE"
	EventLock   EventKind = "LOCK"
	EventUnlock EventKind = "UNLOCK"
)

// Event describes a successful mutation. Valve is the state after it.
type Event struct {
	Time  time.Time
	Kind  EventKind
	Valve Valve
}

// Notifier receives events after the mutation that produced them has
// completed. Implementations must not call back into the Registry's
// mutating methods.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, event Event)

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, event Event) {
	f(ctx, event)
}

// BatchResult reports which valves a SetOpenAll call drove and which it
// skipped because they were locked.
type BatchResult struct {
	Updated       []int
	SkippedLocked []int
}

func openKind(open bool) EventKind {
	if open {
		return EventOpen
	}
	return EventClose
}

func lockKind(locked bool) EventKind {
	if locked {
		return EventLock
	}
	return EventUnlock
}
