// Package lease provides short-lived named leases used to keep a single
// caller working on a resource at a time across stateless instances.
package lease

import (
	"context"
	"errors"
	"time"
)

// ErrHeld is returned when another holder owns the lease.
var ErrHeld = errors.New("lease: already held")

// Locker acquires named leases.
type Locker interface {
	// Acquire takes the lease for name, held for at most ttl.
	// It returns ErrHeld when someone else holds it. The returned release
	// function is safe to call more than once.
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(), err error)
}

// NoopLocker grants every lease. Used when no coordination backend is configured.
type NoopLocker struct{}

// Acquire always succeeds.
func (NoopLocker) Acquire(context.Context, string, time.Duration) (func(), error) {
	return func() {}, nil
}
