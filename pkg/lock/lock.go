// Package lock implements the advisory exclusive lock every mutating
// operation against an installation root takes before touching its
// databases or VFS (spec.md §3 "Ownership", §5 "Shared-resource policy").
package lock

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// File is an open, advisory-locked file. Close releases the lock and
// closes the descriptor.
type File struct {
	f *os.File
}

// ErrLocked is returned by TryLock when another process already holds the
// lock.
var ErrLocked = fmt.Errorf("lock: already held by another process")

// Callers pass the full lock path (installation.Root.LockPath, i.e.
// "<root>/.moss/.moss-lockfile") so the package stays agnostic of
// installation layout conventions.

// TryLock attempts a non-blocking exclusive flock on path, creating the
// file if necessary. It returns ErrLocked immediately if contended.
func TryLock(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("lock: open %s: %w", path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("lock: flock %s: %w", path, err)
	}

	return &File{f: f}, nil
}

// Lock blocks until the exclusive flock on path is acquired, logging a
// contention notice via notify (if non-nil) the first time it would block.
func Lock(path string, notify func()) (*File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("lock: open %s: %w", path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if err != unix.EWOULDBLOCK {
			f.Close()
			return nil, fmt.Errorf("lock: flock %s: %w", path, err)
		}
		if notify != nil {
			notify()
		}
		if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
			f.Close()
			return nil, fmt.Errorf("lock: blocking flock %s: %w", path, err)
		}
	}

	return &File{f: f}, nil
}

// Close releases the lock and closes the underlying descriptor.
func (l *File) Close() error {
	if l.f == nil {
		return nil
	}
	_ = unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	err := l.f.Close()
	l.f = nil
	return err
}
