package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Abaso007/builderai-sub001/internal/domain/entitlement"
	ierr "github.com/Abaso007/builderai-sub001/internal/errors"
)

// InMemoryEntitlementStore implements the durable entitlement.Repository.
// States are keyed by (project, customer, feature slug); Upsert preserves
// the mutable usage counters of an existing row like the SQL store does.
type InMemoryEntitlementStore struct {
	mu     sync.RWMutex
	states map[string]*entitlement.EntitlementState
}

func NewInMemoryEntitlementStore() *InMemoryEntitlementStore {
	return &InMemoryEntitlementStore{
		states: make(map[string]*entitlement.EntitlementState),
	}
}

func (s *InMemoryEntitlementStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = make(map[string]*entitlement.EntitlementState)
}

func copyEntitlementState(state *entitlement.EntitlementState) *entitlement.EntitlementState {
	clone := *state
	clone.Grants = make([]entitlement.GrantSnapshot, len(state.Grants))
	copy(clone.Grants, state.Grants)
	return &clone
}

func (s *InMemoryEntitlementStore) Upsert(ctx context.Context, state *entitlement.EntitlementState) (*entitlement.EntitlementState, error) {
	if err := state.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := state.Key()
	stored := copyEntitlementState(state)
	if existing, ok := s.states[key]; ok {
		stored.ID = existing.ID
		stored.CurrentCycleUsage = existing.CurrentCycleUsage
		stored.AccumulatedUsage = existing.AccumulatedUsage
		stored.LastSyncAt = existing.LastSyncAt
		stored.CreatedAt = existing.CreatedAt
	}
	stored.UpdatedAt = time.Now().UTC()
	s.states[key] = stored
	return copyEntitlementState(stored), nil
}

func (s *InMemoryEntitlementStore) Get(ctx context.Context, projectID, customerID, featureSlug string) (*entitlement.EntitlementState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[entitlement.StateKey(projectID, customerID, featureSlug)]
	if !ok {
		return nil, ierr.NewError("entitlement not found").
			WithReportableDetails(map[string]any{
				"customer_id":  customerID,
				"feature_slug": featureSlug,
			}).
			Mark(ierr.ErrEntitlementNotFound)
	}
	return copyEntitlementState(state), nil
}

func (s *InMemoryEntitlementStore) ListByCustomer(ctx context.Context, projectID, customerID string) ([]*entitlement.EntitlementState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*entitlement.EntitlementState
	for _, state := range s.states {
		if state.ProjectID == projectID && state.CustomerID == customerID {
			out = append(out, copyEntitlementState(state))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].FeatureSlug < out[j].FeatureSlug
	})
	return out, nil
}

func (s *InMemoryEntitlementStore) UpdateCounters(ctx context.Context, state *entitlement.EntitlementState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.states[state.Key()]
	if !ok {
		return ierr.NewError("entitlement not found").
			Mark(ierr.ErrEntitlementNotFound)
	}
	existing.CurrentCycleUsage = state.CurrentCycleUsage
	existing.AccumulatedUsage = state.AccumulatedUsage
	existing.LastSyncAt = state.LastSyncAt
	existing.NextRevalidateAt = state.NextRevalidateAt
	existing.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryEntitlementStore) Delete(ctx context.Context, projectID, customerID, featureSlug string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.states, entitlement.StateKey(projectID, customerID, featureSlug))
	return nil
}
