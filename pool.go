// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package waitmux

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNoAPI is returned by [New] when no [API] implementation was configured
// via [WithAPI] and the platform has no built-in default (i.e. GOOS is not
// windows).
var ErrNoAPI = errors.New("waitmux: no API implementation configured; use WithAPI")

// Pool is the process-wide (or explicitly constructed) registry tying
// together handle placement, callback delivery, and waitGroup lifecycle.
//
// Pool methods are safe for concurrent use from any goroutine. A single
// mutex (mu) guards jobsByHandle, groupOf, and nonFull; it is always
// acquired before a waitGroup's own handoff lock, by both coordinators
// (Register/Unregister/Close) and by a group's worker goroutine, so lock
// order is never inverted.
type Pool struct {
	opts *poolOptions

	mu           sync.Mutex
	jobsByHandle map[Handle][]*waitJob
	groupOf      map[Handle]*waitGroup
	nonFull      []*waitGroup // ascending by len(handles); never full or empty

	groupSeq int64
	state    *fastState
	closeCh  chan struct{}
	workers  sync.WaitGroup
}

// New constructs a Pool. Without [WithAPI], GOOS=windows builds default to
// the real Win32 [API]; every other platform requires one to be supplied
// (typically a [SimulatedAPI]) and New returns [ErrNoAPI] otherwise.
func New(opts ...PoolOption) (*Pool, error) {
	cfg, err := resolvePoolOptions(opts)
	if err != nil {
		return nil, err
	}
	if cfg.api == nil {
		cfg.api = defaultAPI()
	}
	if cfg.api == nil {
		return nil, ErrNoAPI
	}

	return &Pool{
		opts:         cfg,
		jobsByHandle: make(map[Handle][]*waitJob),
		groupOf:      make(map[Handle]*waitGroup),
		state:        newFastState(),
		closeCh:      make(chan struct{}),
	}, nil
}

var (
	defaultPoolOnce sync.Once
	defaultPoolVal  *Pool
)

// Default returns the process-wide default [Pool], lazily constructed with
// no options (the real Win32 [API] on GOOS=windows). It panics if
// construction fails, e.g. because a non-Windows GOOS was never given a
// [SimulatedAPI] some other way; production code on Windows should not hit
// this path, and tests should construct their own [Pool] with [New] instead
// of relying on Default.
func Default() *Pool {
	defaultPoolOnce.Do(func() {
		p, err := New()
		if err != nil {
			panic(err)
		}
		defaultPoolVal = p
	})
	return defaultPoolVal
}

// effectiveMaxGroupSize returns the configured maximum number of caller
// handles per group, or 1 under [VariantPair] (every registration gets its
// own dedicated group).
func (p *Pool) effectiveMaxGroupSize() int {
	if p.opts.variant == VariantPair {
		return 1
	}
	return p.opts.maxGroupSize
}

// RegisterWait registers cb to run on a pool worker goroutine when h becomes
// signaled. Registering the same handle more than once coalesces into a
// single kernel wait slot; every distinct callback still gets its own
// [Token] and runs independently when the handle fires.
func (p *Pool) RegisterWait(h Handle, cb Callback) (Token, error) {
	if cb == nil {
		panic("waitmux: RegisterWait: nil callback")
	}
	return p.registerWaitInternal(h, func(error) { cb() })
}

// registerWaitInternal is RegisterWait's building block: it threads an error
// (nil, or an [*AbandonedMutexError]) to the callback, which [Pool.Wait]
// needs and the public [Callback] contract deliberately does not expose.
func (p *Pool) registerWaitInternal(h Handle, cb func(error)) (Token, error) {
	job := &waitJob{handle: h, callback: cb}
	tok := Token{handle: h, job: job}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.state.CanAcceptWork() {
		return Token{}, ErrPoolClosed
	}

	if jobs, ok := p.jobsByHandle[h]; ok {
		p.jobsByHandle[h] = append(jobs, job)
		return tok, nil
	}

	g, err := p.placeLocked(h)
	if err != nil {
		return Token{}, WrapError(fmt.Sprintf("waitmux: registering handle %v", h), err)
	}
	p.jobsByHandle[h] = []*waitJob{job}
	p.groupOf[h] = g
	p.reindexLocked(g)

	return tok, nil
}

// UnregisterWait cancels a registration made by RegisterWait (or the
// internal variant Wait uses). See [UnregisterStatus] for the three-way
// outcome.
func (p *Pool) UnregisterWait(tok Token) (UnregisterStatus, error) {
	p.mu.Lock()

	jobs, ok := p.jobsByHandle[tok.handle]
	if !ok {
		p.mu.Unlock()
		return NotFound, nil
	}

	signaled, err := isSignaled(p.opts.api, tok.handle)
	if err != nil {
		p.mu.Unlock()
		return 0, err
	}
	if signaled {
		p.mu.Unlock()
		return AlreadySignaled, nil
	}

	if len(jobs) > 1 {
		for i, j := range jobs {
			if j == tok.job {
				jobs = append(jobs[:i:i], jobs[i+1:]...)
				p.jobsByHandle[tok.handle] = jobs
				p.mu.Unlock()
				return Removed, nil
			}
		}
		p.mu.Unlock()
		panic("waitmux: UnregisterWait: token not found among handle's registrations")
	}

	if jobs[0] != tok.job {
		p.mu.Unlock()
		panic("waitmux: UnregisterWait: token not found among handle's registrations")
	}

	delete(p.jobsByHandle, tok.handle)
	g, ok := p.groupOf[tok.handle]
	if !ok {
		p.mu.Unlock()
		panic("waitmux: UnregisterWait: handle has no owning group")
	}
	delete(p.groupOf, tok.handle)
	p.removeFromNonFullLocked(g)

	if err := p.wakeAndMutateLocked(g, func() { delete(g.handles, tok.handle) }); err != nil {
		p.mu.Unlock()
		return 0, WrapError(fmt.Sprintf("waitmux: unregistering handle %v", tok.handle), err)
	}
	p.reindexLocked(g)

	p.mu.Unlock()
	return Removed, nil
}

// placeLocked picks (or creates) the group a new handle should join, per the
// "largest non-full group" packing policy: reusing the fullest group that
// still has room minimizes the number of live worker goroutines. Must be
// called with mu held.
func (p *Pool) placeLocked(h Handle) (*waitGroup, error) {
	max := p.effectiveMaxGroupSize()
	if n := len(p.nonFull); n > 0 {
		last := p.nonFull[n-1]
		if len(last.handles) < max {
			p.nonFull = p.nonFull[:n-1]
			if err := p.wakeAndMutateLocked(last, func() { last.handles[h] = struct{}{} }); err != nil {
				return nil, err
			}
			return last, nil
		}
	}
	return p.newGroupLocked(h)
}

// newGroupLocked allocates a fresh group containing only h and launches its
// worker goroutine. Must be called with mu held.
func (p *Pool) newGroupLocked(h Handle) (*waitGroup, error) {
	ce, err := p.opts.api.CreateEvent(true, false)
	if err != nil {
		return nil, &OsError{Op: "CreateEvent", Err: err}
	}

	p.groupSeq++
	g := newWaitGroup(p.groupSeq, ce)
	g.handles[h] = struct{}{}

	p.workers.Add(1)
	go func() {
		defer p.workers.Done()
		defer func() {
			if r := recover(); r != nil {
				err, ok := r.(error)
				if !ok {
					err = fmt.Errorf("waitmux: worker panic: %v", r)
				}
				p.opts.onWorkerError(err)
			}
		}()
		g.run(p)
	}()

	return g, nil
}

// wakeAndMutateLocked implements the cancel/wake protocol: it signals g's
// current cancel event (waking its worker out of WaitForMultipleObjects),
// installs a fresh unsignaled one in its place, and runs mutate to add or
// remove a handle, all while g's own handoff lock is held so the worker
// never observes a half-applied mutation. The old cancel event is left for
// the worker to close once it notices the invalidation.
//
// Must be called with mu held; acquires g.mu internally (mu before g.mu,
// matching the order used by a group's own worker loop).
func (p *Pool) wakeAndMutateLocked(g *waitGroup, mutate func()) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	old := g.cancelEvent
	if err := p.opts.api.SetEvent(old); err != nil {
		return &OsError{Op: "SetEvent", Err: err}
	}

	fresh, err := p.opts.api.CreateEvent(true, false)
	if err != nil {
		return &OsError{Op: "CreateEvent", Err: err}
	}

	g.cancelEvent = fresh
	mutate()
	return nil
}

// removeFromNonFullLocked removes g from the non-full index by identity, a
// no-op if g was full (and therefore absent). Must be called with mu held.
func (p *Pool) removeFromNonFullLocked(g *waitGroup) {
	for i, x := range p.nonFull {
		if x == g {
			p.nonFull = append(p.nonFull[:i:i], p.nonFull[i+1:]...)
			return
		}
	}
}

// reindexLocked inserts g back into the non-full index at its new sorted
// position, unless it is now full or empty. Must be called with mu held.
func (p *Pool) reindexLocked(g *waitGroup) {
	max := p.effectiveMaxGroupSize()
	size := len(g.handles)
	if size == 0 || size >= max {
		return
	}
	i := sort.Search(len(p.nonFull), func(i int) bool { return len(p.nonFull[i].handles) >= size })
	p.nonFull = append(p.nonFull, nil)
	copy(p.nonFull[i+1:], p.nonFull[i:])
	p.nonFull[i] = g
}

// Close signals every live group's cancel event, waits for every worker
// goroutine to exit, and transitions the pool to its closed state.
// Registrations attempted after Close has begun return [ErrPoolClosed];
// every [Pool.Wait] call blocked at the time of Close returns once its
// registration unwinds (observing [ErrPoolClosed] or its own context's
// cancellation, whichever comes first). Caller-supplied wait handles are
// never closed by Close; only this pool's own cancel events are.
//
// Close is safe to call more than once and from multiple goroutines; only
// the first call does any work, and every caller blocks until it finishes.
func (p *Pool) Close() error {
	p.mu.Lock()
	if !p.state.TryTransition(StateOpen, StateClosing) {
		p.mu.Unlock()
		p.workers.Wait()
		return nil
	}

	close(p.closeCh)

	seen := make(map[*waitGroup]struct{}, len(p.groupOf))
	for _, g := range p.groupOf {
		seen[g] = struct{}{}
	}
	p.mu.Unlock()

	for g := range seen {
		g.mu.Lock()
		g.closing = true
		if err := p.opts.api.SetEvent(g.cancelEvent); err != nil {
			p.opts.onWorkerError(&OsError{Op: "SetEvent", Err: err})
		}
		g.mu.Unlock()
	}

	p.workers.Wait()
	p.state.Store(StateClosed)
	return nil
}

// Closed reports whether the pool has fully shut down: every worker
// goroutine has exited and every pool-owned cancel event has been closed.
// It returns false while a concurrent Close is still draining workers (see
// [PoolState]); poll it after an asynchronous Close if the caller needs to
// know shutdown has completed without blocking on Close's own return.
func (p *Pool) Closed() bool {
	return p.state.IsClosed()
}

// reportFatalError logs a worker-fatal OS error and panics with it; the
// panic is recovered at the worker goroutine's launch site (newGroupLocked)
// and delivered to [WithOnWorkerError] without crashing the process.
func (p *Pool) reportFatalError(err error) {
	LogError(p.opts.logger, "group", "fatal worker error", err, nil)
	panic(err)
}

// reportNonFatalError logs and delivers err to [WithOnWorkerError] without
// interrupting the worker loop, for failures (e.g. closing a retired cancel
// event) that don't invalidate the group's in-flight wait.
func (p *Pool) reportNonFatalError(err error) {
	LogError(p.opts.logger, "group", "non-fatal worker error", err, nil)
	p.opts.onWorkerError(err)
}
