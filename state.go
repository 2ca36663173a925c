package waitmux

import (
	"sync/atomic"
)

// PoolState represents the current lifecycle state of a Pool.
//
// State Machine:
//
//	StateOpen (0) → StateClosing (1)  [Close() begins]
//	StateClosing (1) → StateClosed (2) [all workers exited, handles closed]
//
// State Transition Rules:
//   - Use TryTransition() (CAS) to claim the Open→Closing step exactly once
//   - Use Store() for the final, irreversible Closed transition
type PoolState uint64

const (
	// StateOpen indicates the pool accepts new registrations.
	StateOpen PoolState = 0
	// StateClosing indicates Close has been called but workers are still
	// draining.
	StateClosing PoolState = 1
	// StateClosed indicates every worker goroutine has exited and every
	// pool-owned handle has been closed.
	StateClosed PoolState = 2
)

// String returns a human-readable representation of the state.
func (s PoolState) String() string {
	switch s {
	case StateOpen:
		return "Open"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// fastState is a lock-free state machine with cache-line padding, guarding
// a Pool's lifecycle transitions.
type fastState struct { // betteralign:ignore
	_ [64]byte      //nolint:unused
	v atomic.Uint64
	_ [56]byte //nolint:unused
}

// newFastState creates a new state machine in the Open state.
func newFastState() *fastState {
	s := &fastState{}
	s.v.Store(uint64(StateOpen))
	return s
}

// Load returns the current state atomically.
func (s *fastState) Load() PoolState {
	return PoolState(s.v.Load())
}

// Store atomically stores a new state.
func (s *fastState) Store(state PoolState) {
	s.v.Store(uint64(state))
}

// TryTransition attempts to atomically transition from one state to
// another. Returns true if the transition was successful.
func (s *fastState) TryTransition(from, to PoolState) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}

// IsClosed returns true if the pool has fully shut down.
func (s *fastState) IsClosed() bool {
	return s.Load() == StateClosed
}

// CanAcceptWork returns true if the pool can accept new registrations.
func (s *fastState) CanAcceptWork() bool {
	return s.Load() == StateOpen
}
