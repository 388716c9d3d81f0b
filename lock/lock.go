// Package lock serializes cycle close and invoice generation per account.
// Local is enough for a single process; Redis coordinates several.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrNotAcquired is returned when a lease could not be obtained before the
// context ended.
var ErrNotAcquired = errors.New("lock: not acquired")

// Locker hands out exclusive leases on string keys.
type Locker interface {
	// Acquire blocks until the key is free or ctx is done. ttl bounds how
	// long a lease survives a holder that never releases it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// Lease is a held lock.
type Lease interface {
	Release(ctx context.Context) error
}

// AccountKey is the lock key guarding an account's cycle transitions.
func AccountKey(accountID string) string {
	return "tally:lock:account:" + accountID
}
