//go:build windows

package waitmux

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

const (
	waitObject0     = 0x00000000
	waitAbandoned0  = 0x00000080
	waitTimeoutCode = 0x00000102
	waitFailed      = 0xFFFFFFFF
)

var (
	modkernel32                = windows.NewLazySystemDLL("kernel32.dll")
	procWaitForMultipleObjects = modkernel32.NewProc("WaitForMultipleObjects")
)

// winAPI is the production API implementation, backed directly by Win32
// wait calls via golang.org/x/sys/windows.
type winAPI struct{}

// NewWindowsAPI returns the real API implementation. Only meaningful on
// GOOS=windows; this is the default used by [New] when no [WithAPI] option
// is supplied on that platform.
func NewWindowsAPI() API {
	return winAPI{}
}

// defaultAPI returns the real Win32 API, used by New when no WithAPI option
// was supplied.
func defaultAPI() API {
	return winAPI{}
}

func (winAPI) WaitForSingleObject(h Handle, timeoutMs uint32) (WaitResult, error) {
	event, err := windows.WaitForSingleObject(windows.Handle(h), timeoutMs)
	if err != nil {
		return 0, err
	}
	switch event {
	case waitObject0:
		return WaitSignaled, nil
	case waitTimeoutCode:
		return WaitTimeout, nil
	case waitAbandoned0:
		return WaitAbandoned, nil
	default:
		return 0, syscallUnexpected(event)
	}
}

// WaitForMultipleObjects waits for any (bWaitAll=FALSE) of handles to
// signal, blocking indefinitely. golang.org/x/sys/windows does not export
// this call, so it is bound by hand to kernel32.dll.
func (winAPI) WaitForMultipleObjects(handles []Handle) (int, WaitResult, error) {
	n := len(handles)
	if n == 0 || n > maxWaitObjects {
		panic("waitmux: WaitForMultipleObjects: invalid handle count")
	}

	raw := make([]windows.Handle, n)
	for i, h := range handles {
		raw[i] = windows.Handle(h)
	}

	ret, _, callErr := procWaitForMultipleObjects.Call(
		uintptr(n),
		uintptr(unsafe.Pointer(&raw[0])),
		0, // bWaitAll = FALSE
		uintptr(infiniteTimeout),
	)

	code := uint32(ret)
	switch {
	case code == waitFailed:
		return 0, 0, callErr
	case code >= waitAbandoned0 && code < waitAbandoned0+uint32(n):
		return int(code - waitAbandoned0), WaitAbandoned, nil
	case code < uint32(n):
		return int(code), WaitSignaled, nil
	default:
		return 0, 0, syscallUnexpected(code)
	}
}

func (winAPI) CreateEvent(manualReset, initialState bool) (Handle, error) {
	h, err := windows.CreateEvent(nil, boolToUint32(manualReset), boolToUint32(initialState), nil)
	if err != nil {
		return 0, err
	}
	return Handle(h), nil
}

func (winAPI) SetEvent(h Handle) error {
	return windows.SetEvent(windows.Handle(h))
}

func (winAPI) CloseHandle(h Handle) error {
	return windows.CloseHandle(windows.Handle(h))
}

func boolToUint32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

type unexpectedReturnCode uint32

func (c unexpectedReturnCode) Error() string {
	return fmt.Sprintf("waitmux: unexpected wait return code %#x", uint32(c))
}

func syscallUnexpected(code uint32) error {
	return unexpectedReturnCode(code)
}
