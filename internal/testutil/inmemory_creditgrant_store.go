package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Abaso007/builderai-sub001/internal/domain/creditgrant"
	ierr "github.com/Abaso007/builderai-sub001/internal/errors"
)

// InMemoryCreditGrantStore implements creditgrant.Repository. The eligible
// listing mirrors the SQL ordering: soonest expiry first, open-ended last.
type InMemoryCreditGrantStore struct {
	mu     sync.RWMutex
	grants map[string]*creditgrant.CreditGrant
}

func NewInMemoryCreditGrantStore() *InMemoryCreditGrantStore {
	return &InMemoryCreditGrantStore{
		grants: make(map[string]*creditgrant.CreditGrant),
	}
}

func (s *InMemoryCreditGrantStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grants = make(map[string]*creditgrant.CreditGrant)
}

func copyCreditGrant(cg *creditgrant.CreditGrant) *creditgrant.CreditGrant {
	clone := *cg
	return &clone
}

func (s *InMemoryCreditGrantStore) Create(ctx context.Context, cg *creditgrant.CreditGrant) (*creditgrant.CreditGrant, error) {
	if cg == nil {
		return nil, ierr.NewError("credit grant cannot be nil").
			Mark(ierr.ErrValidation)
	}
	if err := cg.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.grants[cg.ID]; exists {
		return nil, ierr.NewError("credit grant already exists").
			WithReportableDetails(map[string]any{"credit_grant_id": cg.ID}).
			Mark(ierr.ErrAlreadyExists)
	}
	s.grants[cg.ID] = copyCreditGrant(cg)
	return copyCreditGrant(cg), nil
}

func (s *InMemoryCreditGrantStore) Get(ctx context.Context, id string) (*creditgrant.CreditGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cg, ok := s.grants[id]
	if !ok {
		return nil, ierr.NewErrorf("credit grant %s not found", id).
			Mark(ierr.ErrNotFound)
	}
	return copyCreditGrant(cg), nil
}

func (s *InMemoryCreditGrantStore) Update(ctx context.Context, cg *creditgrant.CreditGrant) (*creditgrant.CreditGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.grants[cg.ID]; !ok {
		return nil, ierr.NewErrorf("credit grant %s not found", cg.ID).
			Mark(ierr.ErrNotFound)
	}
	clone := copyCreditGrant(cg)
	clone.UpdatedAt = time.Now().UTC()
	s.grants[cg.ID] = clone
	return copyCreditGrant(clone), nil
}

func (s *InMemoryCreditGrantStore) ListEligibleForUpdate(ctx context.Context, projectID, customerID, currency, provider string, at time.Time) ([]*creditgrant.CreditGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*creditgrant.CreditGrant
	for _, cg := range s.grants {
		if cg.ProjectID != projectID || cg.CustomerID != customerID {
			continue
		}
		if cg.Eligible(currency, provider, at) {
			out = append(out, copyCreditGrant(cg))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if (a.ExpiresAt == nil) != (b.ExpiresAt == nil) {
			return a.ExpiresAt != nil
		}
		if a.ExpiresAt != nil && !a.ExpiresAt.Equal(*b.ExpiresAt) {
			return a.ExpiresAt.Before(*b.ExpiresAt)
		}
		return a.ID < b.ID
	})
	return out, nil
}

// InMemoryCreditApplicationStore implements the credit application ledger
type InMemoryCreditApplicationStore struct {
	mu   sync.RWMutex
	apps map[string]*creditgrant.Application
}

func NewInMemoryCreditApplicationStore() *InMemoryCreditApplicationStore {
	return &InMemoryCreditApplicationStore{
		apps: make(map[string]*creditgrant.Application),
	}
}

func (s *InMemoryCreditApplicationStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apps = make(map[string]*creditgrant.Application)
}

func (s *InMemoryCreditApplicationStore) Create(ctx context.Context, app *creditgrant.Application) (*creditgrant.Application, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.apps[app.ID]; exists {
		return nil, ierr.NewError("credit application already exists").
			WithReportableDetails(map[string]any{"application_id": app.ID}).
			Mark(ierr.ErrAlreadyExists)
	}
	clone := *app
	s.apps[app.ID] = &clone
	out := clone
	return &out, nil
}

func (s *InMemoryCreditApplicationStore) ListByInvoice(ctx context.Context, invoiceID string) ([]*creditgrant.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*creditgrant.Application
	for _, app := range s.apps {
		if app.InvoiceID == invoiceID {
			clone := *app
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out, nil
}
