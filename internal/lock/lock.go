// Package lock provides a mutual-exclusion lock whose acquisition waits a bounded time.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrLockTimeout indicates the lock was not acquired within the allowed wait.
var ErrLockTimeout = errors.New("lock: timeout")

// Mutex is a document-scoped exclusive lock. The zero value is not usable; call New.
type Mutex struct {
	name string
	sem  *semaphore.Weighted
}

// New constructs an unlocked Mutex; name appears in timeout errors.
func New(name string) *Mutex {
	return &Mutex{name: name, sem: semaphore.NewWeighted(1)}
}

// Name returns the label given to New.
func (m *Mutex) Name() string {
	return m.name
}

// Acquire waits up to timeout for the lock and returns the function that releases it.
// The release function is idempotent.
func (m *Mutex) Acquire(ctx context.Context, timeout time.Duration) (func(), error) {
	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := m.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s after %s", ErrLockTimeout, m.name, timeout)
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		m.sem.Release(1)
	}, nil
}

// TryAcquire takes the lock only when it is free.
func (m *Mutex) TryAcquire() (func(), bool) {
	if !m.sem.TryAcquire(1) {
		return nil, false
	}
	released := false
	return func() {
		if released {
			return
		}
		released = true
		m.sem.Release(1)
	}, true
}
