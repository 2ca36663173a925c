// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package waitmux

import (
	"fmt"
	"sync"
)

// waitGroup is at most [Pool]'s effective group size worth of caller handles
// plus one manual-reset cancel event, serviced by a single worker goroutine.
//
// mu is the handoff lock between that worker and any coordinator (Register/
// Unregister) mutating this group's handles or cancelEvent: the worker only
// ever holds it briefly, to snapshot state before blocking in
// WaitForMultipleObjects and to inspect/mutate state after waking, and never
// while blocked in the syscall itself. A coordinator acquiring mu is therefore
// guaranteed the worker is either parked in the blocking call or about to
// re-enter it with whatever the coordinator just installed.
type waitGroup struct {
	id          int64
	mu          sync.Mutex
	handles     map[Handle]struct{}
	cancelEvent Handle
	closing     bool
}

func newWaitGroup(id int64, cancelEvent Handle) *waitGroup {
	return &waitGroup{
		id:          id,
		handles:     make(map[Handle]struct{}),
		cancelEvent: cancelEvent,
	}
}

// run is the worker loop. It owns cancelEvent exclusively: only it ever
// closes a cancel event, either the one its current iteration waited on,
// after observing (under mu) that the event is signaled, or the group's
// current one when the group retires because its last handle fired.
//
// Each iteration:
//  1. snapshot [cancelEvent, handles...] under mu, then release mu before
//     blocking;
//  2. block in WaitForMultipleObjects over that snapshot;
//  3. reacquire the pool lock, then this group's lock, in that fixed order
//     (every coordinator path uses the same order, so this never deadlocks);
//  4. if cancelEvent is itself signaled, the coordinator invalidated this
//     iteration's snapshot (by adding/removing a handle, or by closing the
//     pool): close the stale event and either exit (pool closing, or no
//     handles remain) or loop with whatever fresh cancelEvent/handles the
//     coordinator installed;
//  5. otherwise a genuine caller handle fired: remove it from every pool and
//     group structure, then invoke its callbacks on this goroutine outside
//     both locks.
func (g *waitGroup) run(p *Pool) {
	for {
		g.mu.Lock()
		snapshot := make([]Handle, 0, len(g.handles)+1)
		snapshot = append(snapshot, g.cancelEvent)
		for h := range g.handles {
			snapshot = append(snapshot, h)
		}
		g.mu.Unlock()

		waitedCancelEvent := snapshot[0]

		index, result, err := p.opts.api.WaitForMultipleObjects(snapshot)
		if err != nil {
			p.reportFatalError(&OsError{Op: "WaitForMultipleObjects", Err: err})
			return
		}

		p.mu.Lock()
		g.mu.Lock()

		// Check the event this iteration actually blocked on, not whatever
		// g.cancelEvent happens to hold now: wakeAndMutateLocked always
		// installs a fresh, unsignaled replacement before releasing g.mu, so
		// by the time this goroutine can reacquire it, g.cancelEvent is
		// already that replacement rather than the one that woke us.
		cancelSignaled, sigErr := isSignaled(p.opts.api, waitedCancelEvent)
		if sigErr != nil {
			g.mu.Unlock()
			p.mu.Unlock()
			p.reportFatalError(sigErr)
			return
		}

		if cancelSignaled {
			closing := g.closing
			if closing {
				// Pool shutdown: abandon every still-registered handle in
				// this group rather than deliver or leave dangling pool
				// bookkeeping that would outlive this group's cancelEvent.
				for h := range g.handles {
					delete(p.jobsByHandle, h)
					delete(p.groupOf, h)
				}
				p.removeFromNonFullLocked(g)
				g.handles = nil
			}
			empty := len(g.handles) == 0
			g.mu.Unlock()
			p.mu.Unlock()

			if err := p.opts.api.CloseHandle(waitedCancelEvent); err != nil {
				p.reportNonFatalError(&OsError{Op: "CloseHandle", Err: err})
			}
			if closing || empty {
				return
			}
			continue
		}

		h := snapshot[index]
		var wakeErr error
		if result == WaitAbandoned {
			wakeErr = &AbandonedMutexError{Handle: h}
			LogWarn(p.opts.logger, "group", "abandoned mutex treated as signal", map[string]interface{}{"handle": h})
		}

		jobs := p.jobsByHandle[h]
		delete(p.jobsByHandle, h)
		delete(p.groupOf, h)
		if len(g.handles) < p.effectiveMaxGroupSize() {
			p.removeFromNonFullLocked(g)
		}
		delete(g.handles, h)
		empty := len(g.handles) == 0
		if !empty {
			p.reindexLocked(g)
		}
		var closeCancel Handle
		if empty {
			closeCancel = g.cancelEvent
		}

		g.mu.Unlock()
		p.mu.Unlock()

		for _, job := range jobs {
			p.invokeJob(job, wakeErr)
		}

		if empty {
			if err := p.opts.api.CloseHandle(closeCancel); err != nil {
				p.reportNonFatalError(&OsError{Op: "CloseHandle", Err: err})
			}
			return
		}
	}
}

// invokeJob runs a single callback, recovering and logging any panic rather
// than letting it take down the worker goroutine.
func (p *Pool) invokeJob(job *waitJob, wakeErr error) {
	defer func() {
		if r := recover(); r != nil {
			LogError(p.opts.logger, "wait", "callback panicked", fmt.Errorf("%v", r), map[string]interface{}{"handle": job.handle})
		}
	}()
	job.callback(wakeErr)
}
