// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package waitmux

import (
	"context"
	"sync/atomic"
)

// Wait blocks until h becomes signaled or ctx is done, using the [Default]
// pool.
func Wait(ctx context.Context, h Handle) error {
	return Default().Wait(ctx, h)
}

// RegisterWait registers cb on the [Default] pool. See [Pool.RegisterWait].
func RegisterWait(h Handle, cb Callback) (Token, error) {
	return Default().RegisterWait(h, cb)
}

// UnregisterWait cancels a registration made on the [Default] pool. See
// [Pool.UnregisterWait].
func UnregisterWait(tok Token) (UnregisterStatus, error) {
	return Default().UnregisterWait(tok)
}

// Wait blocks until h becomes signaled, ctx is done, or the pool is closed,
// whichever happens first.
//
// It probes h for an already-signaled fast path before registering anything
// (so a pre-signaled handle never spawns a worker goroutine), then registers
// a callback that delivers onto a buffered channel and races that channel
// against ctx.Done() and the pool's own shutdown.
//
// If ctx is cancelled (or the pool closes) before the handle fires, Wait
// attempts to unregister the callback. Because the underlying signal is
// edge-triggered — by the time the cancellation is observed, the callback
// may already be running on a worker goroutine, or have already run — a
// level-triggered "reschedule in flight" latch plus [Pool.UnregisterWait]'s
// own status resolve the race:
//
//   - [Removed]: the registration was cancelled cleanly before it could
//     fire; Wait returns the context/pool error.
//   - [AlreadySignaled]: the handle had already fired by the time
//     UnregisterWait's probe ran, but the worker hasn't delivered yet; Wait
//     waits (briefly) for that delivery rather than reporting cancellation
//     for an event that in fact already happened.
//   - [NotFound]: the worker already removed this handle's registration.
//     While the pool is open that only happens on the signal path, which
//     delivers after releasing the pool lock, so Wait waits for that
//     delivery even if the latch is not set yet. Once the pool is closing,
//     a registration can also be purged without delivery: Wait then waits
//     for the delivery if the latch is set and returns [ErrPoolClosed]
//     otherwise.
func (p *Pool) Wait(ctx context.Context, h Handle) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	signaled, err := isSignaled(p.opts.api, h)
	if err != nil {
		return err
	}
	if signaled {
		return nil
	}

	done := make(chan error, 1)
	var latch atomic.Bool

	tok, err := p.registerWaitInternal(h, func(wakeErr error) {
		latch.Store(true)
		select {
		case done <- wakeErr:
		default:
		}
	})
	if err != nil {
		return err
	}

	var closedByPool bool
	select {
	case werr := <-done:
		return werr
	case <-ctx.Done():
	case <-p.closeCh:
		closedByPool = true
	}

	status, uerr := p.UnregisterWait(tok)
	switch status {
	case Removed:
		if closedByPool {
			return ErrPoolClosed
		}
		return ctx.Err()
	case AlreadySignaled:
		return <-done
	case NotFound:
		if latch.Load() || p.state.CanAcceptWork() {
			// While the pool is open only the worker's signal path removes a
			// registration, and it delivers after releasing the pool lock,
			// so the latch may not be set yet.
			return <-done
		}
		// The pool is shutting down: its closing worker purges registrations
		// without delivering them; see waitGroup.run's closing path.
		return ErrPoolClosed
	default:
		if uerr != nil {
			return uerr
		}
		panic("waitmux: Wait: unexpected UnregisterWait status")
	}
}
