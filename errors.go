// Package waitmux error types, modeled on ES2022-style cause chains.
package waitmux

import (
	"errors"
	"fmt"
)

// ErrPoolClosed is returned by registration methods once a Pool has been
// closed. It is never wrapped; callers should match it with [errors.Is].
var ErrPoolClosed = errors.New("waitmux: pool closed")

// OsError wraps a failed Win32 call made through an [API] implementation.
type OsError struct {
	// Op names the failing operation, e.g. "CreateEvent", "SetEvent",
	// "WaitForMultipleObjects".
	Op  string
	Err error
}

// Error implements the error interface.
func (e *OsError) Error() string {
	return fmt.Sprintf("waitmux: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying OS error for use with [errors.Is] and
// [errors.As].
func (e *OsError) Unwrap() error {
	return e.Err
}

// AbandonedMutexError indicates that WaitForMultipleObjects reported a
// WAIT_ABANDONED_0-relative return code: the mutex was signaled because its
// owning thread exited without releasing it, and the data it protects may be
// in an inconsistent state.
type AbandonedMutexError struct {
	// Handle is the abandoned mutex handle.
	Handle Handle
}

// Error implements the error interface.
func (e *AbandonedMutexError) Error() string {
	return fmt.Sprintf("waitmux: abandoned mutex: handle %v", e.Handle)
}

// WrapError wraps an error with a message, preserving the cause chain.
//
// The result satisfies errors.Is(result, cause) == true.
func WrapError(message string, cause error) error {
	return fmt.Errorf("%s: %w", message, cause)
}
