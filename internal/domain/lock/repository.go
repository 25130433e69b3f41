package lock

import (
	"context"
	"time"
)

// AcquireParams tunes a lock acquisition attempt
type AcquireParams struct {
	Owner         string
	Now           time.Time
	TTL           time.Duration
	StaleTakeover time.Duration
	OwnerStale    time.Duration
}

// Repository implements the distributed lock primitive with conditional
// writes against the durable store. At most one concurrent holder exists
// per (project, subscription); losers fail fast.
type Repository interface {
	// Acquire inserts the lock row if absent, or takes over a stale one
	// atomically. Returns false when another live holder exists.
	Acquire(ctx context.Context, projectID, subscriptionID string, params AcquireParams) (bool, error)

	// Extend pushes ExpiresAt forward only while owner still holds the
	// lock; false means ownership was lost
	Extend(ctx context.Context, projectID, subscriptionID, owner string, now time.Time, ttl time.Duration) (bool, error)

	// Release deletes the lock if owned
	Release(ctx context.Context, projectID, subscriptionID, owner string) error

	Get(ctx context.Context, projectID, subscriptionID string) (*SubscriptionLock, error)
}
