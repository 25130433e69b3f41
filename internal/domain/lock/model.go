package lock

import (
	"time"
)

// SubscriptionLock is a row in the durable store granting one worker
// exclusive access to a (project, subscription) pair until ExpiresAt
type SubscriptionLock struct {
	ProjectID      string    `db:"project_id" json:"project_id"`
	SubscriptionID string    `db:"subscription_id" json:"subscription_id"`
	Owner          string    `db:"owner" json:"owner"`
	AcquiredAt     time.Time `db:"acquired_at" json:"acquired_at"`
	ExpiresAt      time.Time `db:"expires_at" json:"expires_at"`
}

// Stale reports whether the lock may be taken over at now: either the
// lease expired longer than staleTakeover ago, or the owner has been
// holding since before ownerStale
func (l *SubscriptionLock) Stale(now time.Time, staleTakeover, ownerStale time.Duration) bool {
	if l.ExpiresAt.Before(now.Add(-staleTakeover)) {
		return true
	}
	return now.Sub(l.AcquiredAt) > ownerStale
}
