package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Abaso007/builderai-sub001/internal/domain/subscription"
	ierr "github.com/Abaso007/builderai-sub001/internal/errors"
)

// InMemorySubscriptionStore implements subscription.Repository over fixture
// data seeded directly by tests
type InMemorySubscriptionStore struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription.Subscription
	phases        map[string]*subscription.Phase
	items         map[string]*subscription.Item
}

func NewInMemorySubscriptionStore() *InMemorySubscriptionStore {
	return &InMemorySubscriptionStore{
		subscriptions: make(map[string]*subscription.Subscription),
		phases:        make(map[string]*subscription.Phase),
		items:         make(map[string]*subscription.Item),
	}
}

func (s *InMemorySubscriptionStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions = make(map[string]*subscription.Subscription)
	s.phases = make(map[string]*subscription.Phase)
	s.items = make(map[string]*subscription.Item)
}

// AddSubscription seeds a subscription fixture
func (s *InMemorySubscriptionStore) AddSubscription(sub *subscription.Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *sub
	s.subscriptions[sub.ID] = &clone
}

// AddPhase seeds a phase fixture
func (s *InMemorySubscriptionStore) AddPhase(phase *subscription.Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *phase
	s.phases[phase.ID] = &clone
}

// AddItem seeds an item fixture
func (s *InMemorySubscriptionStore) AddItem(item *subscription.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *item
	s.items[item.ID] = &clone
}

func (s *InMemorySubscriptionStore) Get(ctx context.Context, projectID, subscriptionID string) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[subscriptionID]
	if !ok || sub.ProjectID != projectID {
		return nil, ierr.NewErrorf("subscription %s not found", subscriptionID).
			Mark(ierr.ErrNotFound)
	}
	clone := *sub
	return &clone, nil
}

func (s *InMemorySubscriptionStore) GetCurrentPhaseForCustomer(ctx context.Context, projectID, customerID string, t time.Time) (*subscription.Phase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, phase := range s.phases {
		if phase.ProjectID != projectID || !phase.ActiveAt(t) {
			continue
		}
		sub, ok := s.subscriptions[phase.SubscriptionID]
		if !ok || sub.CustomerID != customerID {
			continue
		}
		clone := *phase
		return &clone, nil
	}
	return nil, ierr.NewError("no active phase found for customer").
		WithReportableDetails(map[string]any{"customer_id": customerID}).
		Mark(ierr.ErrNotFound)
}

func (s *InMemorySubscriptionStore) ListPhasesForMaterialization(ctx context.Context, projectID, subscriptionID string, t time.Time, lookback time.Duration, limit int) ([]*subscription.PhaseWithItems, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var phases []*subscription.Phase
	for _, phase := range s.phases {
		if phase.ProjectID != projectID || phase.SubscriptionID != subscriptionID {
			continue
		}
		if phase.StartAt.After(t) {
			continue
		}
		if phase.EndAt != nil && phase.EndAt.Before(t.Add(-lookback)) {
			continue
		}
		phases = append(phases, phase)
	}
	sort.Slice(phases, func(i, j int) bool {
		return phases[i].StartAt.Before(phases[j].StartAt)
	})
	if limit > 0 && len(phases) > limit {
		phases = phases[:limit]
	}

	out := make([]*subscription.PhaseWithItems, 0, len(phases))
	for _, phase := range phases {
		pw := &subscription.PhaseWithItems{Phase: *phase}
		for _, item := range s.items {
			if item.SubscriptionPhaseID == phase.ID {
				clone := *item
				pw.Items = append(pw.Items, &clone)
			}
		}
		sort.Slice(pw.Items, func(i, j int) bool {
			return pw.Items[i].ID < pw.Items[j].ID
		})
		out = append(out, pw)
	}
	return out, nil
}

func (s *InMemorySubscriptionStore) ListItems(ctx context.Context, projectID, phaseID string) ([]*subscription.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*subscription.Item
	for _, item := range s.items {
		if item.ProjectID == projectID && item.SubscriptionPhaseID == phaseID {
			clone := *item
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out, nil
}
