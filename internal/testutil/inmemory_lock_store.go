package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/Abaso007/builderai-sub001/internal/domain/lock"
	ierr "github.com/Abaso007/builderai-sub001/internal/errors"
)

// InMemoryLockStore implements lock.Repository with the same conditional
// takeover semantics as the SQL store
type InMemoryLockStore struct {
	mu    sync.Mutex
	locks map[string]*lock.SubscriptionLock
}

func NewInMemoryLockStore() *InMemoryLockStore {
	return &InMemoryLockStore{
		locks: make(map[string]*lock.SubscriptionLock),
	}
}

func (s *InMemoryLockStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locks = make(map[string]*lock.SubscriptionLock)
}

func lockKey(projectID, subscriptionID string) string {
	return projectID + ":" + subscriptionID
}

func (s *InMemoryLockStore) Acquire(ctx context.Context, projectID, subscriptionID string, params lock.AcquireParams) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := params.Now.UTC()
	key := lockKey(projectID, subscriptionID)

	if existing, ok := s.locks[key]; ok {
		if !existing.Stale(now, params.StaleTakeover, params.OwnerStale) {
			return false, nil
		}
	}

	s.locks[key] = &lock.SubscriptionLock{
		ProjectID:      projectID,
		SubscriptionID: subscriptionID,
		Owner:          params.Owner,
		AcquiredAt:     now,
		ExpiresAt:      now.Add(params.TTL),
	}
	return true, nil
}

func (s *InMemoryLockStore) Extend(ctx context.Context, projectID, subscriptionID, owner string, now time.Time, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.locks[lockKey(projectID, subscriptionID)]
	if !ok || existing.Owner != owner {
		return false, nil
	}
	existing.ExpiresAt = now.UTC().Add(ttl)
	return true, nil
}

func (s *InMemoryLockStore) Release(ctx context.Context, projectID, subscriptionID, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := lockKey(projectID, subscriptionID)
	if existing, ok := s.locks[key]; ok && existing.Owner == owner {
		delete(s.locks, key)
	}
	return nil
}

func (s *InMemoryLockStore) Get(ctx context.Context, projectID, subscriptionID string) (*lock.SubscriptionLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.locks[lockKey(projectID, subscriptionID)]
	if !ok {
		return nil, ierr.NewError("subscription lock not found").
			WithReportableDetails(map[string]any{
				"subscription_id": subscriptionID,
			}).
			Mark(ierr.ErrNotFound)
	}
	clone := *existing
	return &clone, nil
}
