// Package lockfile provides cross-process mutual exclusion for hammockd's
// daemon singleton: only one instance may hold the cgroup hierarchy and
// Wayland connection at a time.
package lockfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
)

const lockFileName = "hammockd.lock"

// Lock is an flock(2)-backed singleton lock. The lock file's contents are
// the holder's PID, written once acquired, purely for operator diagnostics
// ("fuser" or a stray cat); the lock itself is the flock, not the content.
type Lock struct {
	path string
	file *os.File
}

// New creates a Lock for the given directory. The lock file is created
// inside dir as "hammockd.lock".
func New(dir string) *Lock {
	return &Lock{path: filepath.Join(dir, lockFileName)}
}

// TryLock attempts to acquire the lock without blocking, returning false if
// another hammockd process already holds it.
func (l *Lock) TryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, fmt.Errorf("create lock dir: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return false, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if err == syscall.EWOULDBLOCK {
			return false, nil
		}
		return false, fmt.Errorf("flock: %w", err)
	}

	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0)
	}

	l.file = f
	return true, nil
}

// Unlock releases the lock and closes the lock file.
func (l *Lock) Unlock() error {
	if l.file == nil {
		return nil
	}

	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		_ = l.file.Close()
		l.file = nil
		return fmt.Errorf("funlock: %w", err)
	}

	err := l.file.Close()
	l.file = nil
	return err
}

// Path returns the lock file path, mainly for logging at startup.
func (l *Lock) Path() string {
	return l.path
}
