package waitmux

// WaitResult is the outcome of a single-object wait.
type WaitResult int

const (
	// WaitSignaled indicates the object was signaled.
	WaitSignaled WaitResult = iota
	// WaitTimeout indicates the wait timed out without the object
	// signaling.
	WaitTimeout
	// WaitAbandoned indicates the object was a mutex abandoned by its
	// owning thread.
	WaitAbandoned
)

// infiniteTimeout is the WaitForSingleObject/WaitForMultipleObjects
// timeoutMs value meaning "block forever", matching Win32's INFINITE.
const infiniteTimeout = 0xFFFFFFFF

// API is the set of Win32 wait primitives this package is built on. The
// rest of the package never calls golang.org/x/sys/windows directly; it
// goes through an API implementation instead, which is what lets
// [SimulatedAPI] stand in during tests on any platform.
type API interface {
	// WaitForSingleObject blocks up to timeoutMs milliseconds (0 means an
	// immediate poll, never blocking) for h to signal.
	WaitForSingleObject(h Handle, timeoutMs uint32) (WaitResult, error)

	// WaitForMultipleObjects blocks indefinitely until any handle in
	// handles signals, returning its index. It is always a "wait any"
	// call; callers needing a timeout race it against their own context
	// instead.
	WaitForMultipleObjects(handles []Handle) (signaledIndex int, result WaitResult, err error)

	// CreateEvent creates a new event object. manualReset selects between
	// manual-reset and auto-reset semantics; initialState selects the
	// event's initial signaled state.
	CreateEvent(manualReset, initialState bool) (Handle, error)

	// SetEvent signals h.
	SetEvent(h Handle) error

	// CloseHandle releases h. Only ever called by this package on handles
	// it created itself (cancel events); caller-supplied wait handles are
	// never closed by this package.
	CloseHandle(h Handle) error
}

// isSignaled reports whether h is currently signaled, using a zero-timeout
// WaitForSingleObject. This never blocks and is the building block for both
// the worker loop's cancel/real-signal race check and UnregisterWait's
// give-up check.
func isSignaled(api API, h Handle) (bool, error) {
	result, err := api.WaitForSingleObject(h, 0)
	if err != nil {
		return false, &OsError{Op: "WaitForSingleObject", Err: err}
	}
	return result != WaitTimeout, nil
}
