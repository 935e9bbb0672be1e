//go:build linux

package supervisor

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// FileLock is a Locker backed by flock(2) on a PID file. Acquire fails
// immediately (LOCK_NB) if another instance already holds the lock, rather
// than blocking — a second dpibreak process should report "already
// running" and exit non-zero, not queue up behind the first.
type FileLock struct {
	path string
	file *os.File
}

// NewFileLock returns a FileLock for the given PID file path.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// Acquire opens (creating if necessary) the PID file, takes an exclusive
// non-blocking flock, and writes the current PID into it.
func (l *FileLock) Acquire() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open pid file %s: %w", l.path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return fmt.Errorf("another instance is already running (flock %s): %w", l.path, err)
	}

	if err := f.Truncate(0); err != nil {
		f.Close()
		return fmt.Errorf("truncate pid file %s: %w", l.path, err)
	}
	if _, err := f.WriteAt([]byte(fmt.Sprintf("%d\n", os.Getpid())), 0); err != nil {
		f.Close()
		return fmt.Errorf("write pid file %s: %w", l.path, err)
	}

	l.file = f
	return nil
}

// Release unlocks and closes the PID file. It does not remove the file:
// a stale, unlocked PID file is harmless and the next Acquire overwrites it.
func (l *FileLock) Release() error {
	if l.file == nil {
		return nil
	}
	defer l.file.Close()
	return unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
}
