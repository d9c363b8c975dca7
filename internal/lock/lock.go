// Package lock guarantees at most one reclamation run per host at a time.
package lock

import (
	"fmt"

	"github.com/gofrs/flock"
)

// RunLock is an OS-level exclusive file lock on a well-known path. The
// kernel drops it when the holding process dies, so a crashed run can never
// leave it held.
type RunLock struct {
	fl   *flock.Flock
	held bool
}

// New prepares a lock on the given path without acquiring it.
func New(path string) *RunLock {
	return &RunLock{fl: flock.New(path)}
}

// Path returns the lock file path, for diagnostics.
func (l *RunLock) Path() string {
	return l.fl.Path()
}

// Acquire takes the lock without blocking. If another run holds it the
// error is immediate; a scheduled invocation must exit rather than queue
// behind the current run.
func (l *RunLock) Acquire() error {
	ok, err := l.fl.TryLock()
	if err != nil {
		return fmt.Errorf("locking %s: %w", l.fl.Path(), err)
	}
	if !ok {
		return fmt.Errorf("another run holds the lock at %s", l.fl.Path())
	}
	l.held = true
	return nil
}

// Release drops the lock. Safe to call when not held, and safe to call
// more than once.
func (l *RunLock) Release() {
	if !l.held {
		return
	}
	l.held = false
	// An unlock failure leaves nothing actionable; process exit releases
	// the flock regardless.
	_ = l.fl.Unlock()
}
