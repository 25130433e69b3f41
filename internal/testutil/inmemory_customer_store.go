package testutil

import (
	"context"
	"sync"

	"github.com/Abaso007/builderai-sub001/internal/domain/customer"
	ierr "github.com/Abaso007/builderai-sub001/internal/errors"
)

// InMemoryCustomerStore implements customer.Repository over seeded fixtures
type InMemoryCustomerStore struct {
	mu        sync.RWMutex
	customers map[string]*customer.Customer
}

func NewInMemoryCustomerStore() *InMemoryCustomerStore {
	return &InMemoryCustomerStore{
		customers: make(map[string]*customer.Customer),
	}
}

func (s *InMemoryCustomerStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers = make(map[string]*customer.Customer)
}

// AddCustomer seeds a customer fixture
func (s *InMemoryCustomerStore) AddCustomer(c *customer.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *c
	if c.ProviderCustomerIDs != nil {
		clone.ProviderCustomerIDs = c.ProviderCustomerIDs.Merge(nil)
	}
	s.customers[c.ID] = &clone
}

func (s *InMemoryCustomerStore) Get(ctx context.Context, projectID, customerID string) (*customer.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.customers[customerID]
	if !ok || c.ProjectID != projectID {
		return nil, ierr.NewErrorf("customer %s not found", customerID).
			Mark(ierr.ErrNotFound)
	}
	clone := *c
	return &clone, nil
}
