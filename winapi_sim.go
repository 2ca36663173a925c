package waitmux

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// simEvent models one synthetic wait object.
type simEvent struct {
	manualReset bool
	signaled    bool
	abandoned   bool
}

// SimulatedAPI is an in-memory [API] implementation good enough to drive
// every test in this package on any GOOS. It is not a general Win32
// emulator and must never be used in production: it exists purely so the
// pool/group/async logic can be exercised without a real Windows host.
type SimulatedAPI struct {
	mu     sync.Mutex
	cond   *sync.Cond
	events map[Handle]*simEvent
	next   uint64
}

// NewSimulatedAPI returns a fresh, empty SimulatedAPI.
func NewSimulatedAPI() *SimulatedAPI {
	s := &SimulatedAPI{events: make(map[Handle]*simEvent)}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *SimulatedAPI) allocLocked() Handle {
	s.next++
	return Handle(s.next)
}

// NewHandle creates a synthetic wait handle outside of CreateEvent,
// simulating a caller-owned wait object (e.g. a handle the test pretends
// came from somewhere other than this package).
func (s *SimulatedAPI) NewHandle(manualReset bool) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.allocLocked()
	s.events[h] = &simEvent{manualReset: manualReset}
	return h
}

// Signal marks h as signaled and wakes any blocked wait.
func (s *SimulatedAPI) Signal(h Handle) {
	s.mu.Lock()
	if ev, ok := s.events[h]; ok {
		ev.signaled = true
	}
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Abandon marks h as signaled via an abandoned-mutex outcome.
func (s *SimulatedAPI) Abandon(h Handle) {
	s.mu.Lock()
	if ev, ok := s.events[h]; ok {
		ev.signaled = true
		ev.abandoned = true
	}
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Reset clears h's signaled state.
func (s *SimulatedAPI) Reset(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev, ok := s.events[h]; ok {
		ev.signaled = false
		ev.abandoned = false
	}
}

func (s *SimulatedAPI) CreateEvent(manualReset, initialState bool) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := s.allocLocked()
	s.events[h] = &simEvent{manualReset: manualReset, signaled: initialState}
	return h, nil
}

func (s *SimulatedAPI) SetEvent(h Handle) error {
	s.mu.Lock()
	ev, ok := s.events[h]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("waitmux: simulated SetEvent: unknown handle %v", h)
	}
	ev.signaled = true
	s.mu.Unlock()
	s.cond.Broadcast()
	return nil
}

func (s *SimulatedAPI) CloseHandle(h Handle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[h]; !ok {
		return fmt.Errorf("waitmux: simulated CloseHandle: unknown handle %v", h)
	}
	delete(s.events, h)
	s.cond.Broadcast()
	return nil
}

// checkLocked reports the current outcome for h without blocking. done is
// false only when h exists but isn't signaled yet.
func (s *SimulatedAPI) checkLocked(h Handle) (result WaitResult, err error, done bool) {
	ev, ok := s.events[h]
	if !ok {
		return 0, fmt.Errorf("waitmux: simulated: unknown handle %v", h), true
	}
	if !ev.signaled {
		return WaitTimeout, nil, false
	}
	result = WaitSignaled
	if ev.abandoned {
		result = WaitAbandoned
	}
	if !ev.manualReset {
		ev.signaled = false
		ev.abandoned = false
	}
	return result, nil, true
}

func (s *SimulatedAPI) WaitForSingleObject(h Handle, timeoutMs uint32) (WaitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timeoutMs == 0 {
		result, err, done := s.checkLocked(h)
		if !done {
			return WaitTimeout, nil
		}
		return result, err
	}

	var expired atomic.Bool
	if timeoutMs != infiniteTimeout {
		timer := time.AfterFunc(time.Duration(timeoutMs)*time.Millisecond, func() {
			expired.Store(true)
			s.mu.Lock()
			s.cond.Broadcast()
			s.mu.Unlock()
		})
		defer timer.Stop()
	}

	for {
		result, err, done := s.checkLocked(h)
		if done {
			return result, err
		}
		if expired.Load() {
			return WaitTimeout, nil
		}
		s.cond.Wait()
	}
}

// WaitForMultipleObjects blocks indefinitely for any handle to signal,
// matching the real API's always-infinite, always-wait-any contract.
func (s *SimulatedAPI) WaitForMultipleObjects(handles []Handle) (int, WaitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		for i, h := range handles {
			ev, ok := s.events[h]
			if !ok {
				return 0, 0, fmt.Errorf("waitmux: simulated WaitForMultipleObjects: unknown handle %v", h)
			}
			if ev.signaled {
				result := WaitSignaled
				if ev.abandoned {
					result = WaitAbandoned
				}
				if !ev.manualReset {
					ev.signaled = false
					ev.abandoned = false
				}
				return i, result, nil
			}
		}
		s.cond.Wait()
	}
}
