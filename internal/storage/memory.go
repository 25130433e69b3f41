package storage

import (
	"context"
	"strings"
	"sync"

	"github.com/Abaso007/builderai-sub001/internal/domain/entitlement"
	ierr "github.com/Abaso007/builderai-sub001/internal/errors"
)

// MemoryStateStore is the in-process state backend used by tests and
// single-node deployments
type MemoryStateStore struct {
	mu     sync.RWMutex
	states map[string]*entitlement.EntitlementState
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{
		states: make(map[string]*entitlement.EntitlementState),
	}
}

func (s *MemoryStateStore) Get(_ context.Context, key string) (*entitlement.EntitlementState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[key]
	if !ok {
		return nil, ierr.NewError("entitlement state not in hot storage").
			WithReportableDetails(map[string]any{"key": key}).
			Mark(ierr.ErrEntitlementNotFound)
	}

	clone := *state
	return &clone, nil
}

func (s *MemoryStateStore) Set(_ context.Context, state *entitlement.EntitlementState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *state
	s.states[state.Key()] = &clone
	return nil
}

func (s *MemoryStateStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, key)
	return nil
}

func (s *MemoryStateStore) DeleteByCustomer(_ context.Context, projectID, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := entitlement.StateKey(projectID, customerID, "")
	for key := range s.states {
		if strings.HasPrefix(key, prefix) {
			delete(s.states, key)
		}
	}
	return nil
}
