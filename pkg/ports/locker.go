package ports

import (
	"context"
	"time"
)

// UnlockFunc releases a distributed lock.
type UnlockFunc func(ctx context.Context) error

// DistributedLocker coordinates turn execution across replicas. The executor
// already rejects concurrent turns within one process; a locker extends that
// guarantee to a fleet.
type DistributedLocker interface {
	// Lock acquires a lock for the key (conversation ID). It blocks until
	// the lock is acquired or the context is canceled. The returned
	// UnlockFunc MUST be called to release the lock.
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}
