package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Abaso007/builderai-sub001/internal/domain/billingperiod"
	ierr "github.com/Abaso007/builderai-sub001/internal/errors"
	"github.com/Abaso007/builderai-sub001/internal/types"
)

// InMemoryBillingPeriodStore implements billingperiod.Repository with the
// cycle uniqueness tuple enforced on create
type InMemoryBillingPeriodStore struct {
	mu      sync.RWMutex
	periods map[string]*billingperiod.BillingPeriod
}

func NewInMemoryBillingPeriodStore() *InMemoryBillingPeriodStore {
	return &InMemoryBillingPeriodStore{
		periods: make(map[string]*billingperiod.BillingPeriod),
	}
}

func (s *InMemoryBillingPeriodStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.periods = make(map[string]*billingperiod.BillingPeriod)
}

func copyBillingPeriod(p *billingperiod.BillingPeriod) *billingperiod.BillingPeriod {
	clone := *p
	return &clone
}

func (s *InMemoryBillingPeriodStore) Create(ctx context.Context, period *billingperiod.BillingPeriod) (*billingperiod.BillingPeriod, error) {
	if period == nil {
		return nil, ierr.NewError("billing period cannot be nil").
			Mark(ierr.ErrValidation)
	}
	if err := period.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.periods {
		if existing.ProjectID == period.ProjectID &&
			existing.SubscriptionID == period.SubscriptionID &&
			existing.SubscriptionPhaseID == period.SubscriptionPhaseID &&
			existing.SubscriptionItemID == period.SubscriptionItemID &&
			existing.CycleStartAt.Equal(period.CycleStartAt) &&
			existing.CycleEndAt.Equal(period.CycleEndAt) {
			return nil, ierr.NewError("billing period already exists").
				WithReportableDetails(map[string]any{
					"subscription_item_id": period.SubscriptionItemID,
					"cycle_start_at":       period.CycleStartAt,
				}).
				Mark(ierr.ErrAlreadyExists)
		}
	}

	s.periods[period.ID] = copyBillingPeriod(period)
	return copyBillingPeriod(period), nil
}

func (s *InMemoryBillingPeriodStore) Get(ctx context.Context, id string) (*billingperiod.BillingPeriod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.periods[id]
	if !ok {
		return nil, ierr.NewErrorf("billing period %s not found", id).
			Mark(ierr.ErrNotFound)
	}
	return copyBillingPeriod(p), nil
}

func (s *InMemoryBillingPeriodStore) GetLastForItem(ctx context.Context, projectID, subscriptionItemID string) (*billingperiod.BillingPeriod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var last *billingperiod.BillingPeriod
	for _, p := range s.periods {
		if p.ProjectID != projectID || p.SubscriptionItemID != subscriptionItemID {
			continue
		}
		if last == nil || p.CycleEndAt.After(last.CycleEndAt) {
			last = p
		}
	}
	if last == nil {
		return nil, ierr.NewError("no billing period found for item").
			WithReportableDetails(map[string]any{
				"subscription_item_id": subscriptionItemID,
			}).
			Mark(ierr.ErrNotFound)
	}
	return copyBillingPeriod(last), nil
}

func (s *InMemoryBillingPeriodStore) ListBySubscription(ctx context.Context, projectID, subscriptionID string) ([]*billingperiod.BillingPeriod, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*billingperiod.BillingPeriod
	for _, p := range s.periods {
		if p.ProjectID == projectID && p.SubscriptionID == subscriptionID {
			out = append(out, copyBillingPeriod(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CycleStartAt.Equal(out[j].CycleStartAt) {
			return out[i].CycleStartAt.Before(out[j].CycleStartAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *InMemoryBillingPeriodStore) MarkInvoiced(ctx context.Context, projectID string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		p, ok := s.periods[id]
		if !ok || p.ProjectID != projectID {
			return ierr.NewErrorf("billing period %s not found", id).
				Mark(ierr.ErrNotFound)
		}
		p.PeriodStatus = types.BillingPeriodStatusInvoiced
		p.UpdatedAt = time.Now().UTC()
	}
	return nil
}
