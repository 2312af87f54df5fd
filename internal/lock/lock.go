// Package lock provides the exclusive lock consulted by the task queue worker
// before each attempt. Whoever holds it (a one-shot CLI run, a maintenance
// job) pauses queued scraping until it is released.
package lock

import (
	"context"
	"sync"
)

// Local is an in-process lock.
type Local struct {
	mu   sync.Mutex
	held bool
}

// NewLocal returns an unheld Local lock.
func NewLocal() *Local {
	return &Local{}
}

// TryAcquire takes the lock if it is free.
func (l *Local) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held {
		return false
	}
	l.held = true
	return true
}

// Release frees the lock.
func (l *Local) Release() {
	l.mu.Lock()
	l.held = false
	l.mu.Unlock()
}

// Held reports whether the lock is taken.
func (l *Local) Held(context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held, nil
}
