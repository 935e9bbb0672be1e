//go:build windows

package supervisor

import "dpibreak/internal/winsvc"

// WindowsLock is a no-op Locker: the Service Control Manager already
// refuses to start a second instance of a registered service, so there is
// no separate file-lock primitive to take.
type WindowsLock struct{}

// NewWindowsLock returns a no-op Locker for Windows.
func NewWindowsLock() *WindowsLock { return &WindowsLock{} }

// Acquire always succeeds.
func (WindowsLock) Acquire() error { return nil }

// Release always succeeds.
func (WindowsLock) Release() error { return nil }

// RunAsService adapts winsvc.RunService to the body-function shape Run
// uses: runFunc starts the diverter loop and blocks; stopFunc requests its
// shutdown. Use this instead of Run when IsWindowsService() is true.
func RunAsService(runFunc func() error, stopFunc func()) error {
	return winsvc.RunService(runFunc, stopFunc)
}

// IsWindowsService reports whether the current process was launched by
// the Windows Service Control Manager.
func IsWindowsService() bool {
	return winsvc.IsWindowsService()
}
