package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Abaso007/builderai-sub001/internal/domain/invoice"
	ierr "github.com/Abaso007/builderai-sub001/internal/errors"
)

// InMemoryInvoiceStore implements invoice.Repository
type InMemoryInvoiceStore struct {
	mu       sync.RWMutex
	invoices map[string]*invoice.Invoice
}

func NewInMemoryInvoiceStore() *InMemoryInvoiceStore {
	return &InMemoryInvoiceStore{
		invoices: make(map[string]*invoice.Invoice),
	}
}

func (s *InMemoryInvoiceStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invoices = make(map[string]*invoice.Invoice)
}

func copyInvoice(inv *invoice.Invoice) *invoice.Invoice {
	clone := *inv
	clone.PaymentAttempts = make([]invoice.PaymentAttempt, len(inv.PaymentAttempts))
	copy(clone.PaymentAttempts, inv.PaymentAttempts)
	if inv.Metadata != nil {
		clone.Metadata = make(map[string]string, len(inv.Metadata))
		for k, v := range inv.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}

func (s *InMemoryInvoiceStore) Create(ctx context.Context, inv *invoice.Invoice) (*invoice.Invoice, error) {
	if inv == nil {
		return nil, ierr.NewError("invoice cannot be nil").
			Mark(ierr.ErrValidation)
	}
	if err := inv.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.invoices[inv.ID]; exists {
		return nil, ierr.NewError("invoice already exists").
			WithReportableDetails(map[string]any{"invoice_id": inv.ID}).
			Mark(ierr.ErrAlreadyExists)
	}
	s.invoices[inv.ID] = copyInvoice(inv)
	return copyInvoice(inv), nil
}

func (s *InMemoryInvoiceStore) Get(ctx context.Context, id string) (*invoice.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invoices[id]
	if !ok {
		return nil, ierr.NewErrorf("invoice %s not found", id).
			Mark(ierr.ErrNotFound)
	}
	return copyInvoice(inv), nil
}

func (s *InMemoryInvoiceStore) Update(ctx context.Context, inv *invoice.Invoice) (*invoice.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.invoices[inv.ID]; !ok {
		return nil, ierr.NewErrorf("invoice %s not found", inv.ID).
			Mark(ierr.ErrNotFound)
	}
	clone := copyInvoice(inv)
	clone.UpdatedAt = time.Now().UTC()
	s.invoices[inv.ID] = clone
	return copyInvoice(clone), nil
}

func (s *InMemoryInvoiceStore) ListBySubscription(ctx context.Context, projectID, subscriptionID string) ([]*invoice.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*invoice.Invoice
	for _, inv := range s.invoices {
		if inv.ProjectID == projectID && inv.SubscriptionID == subscriptionID {
			out = append(out, copyInvoice(inv))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// InMemoryInvoiceLineItemStore implements invoice.LineItemRepository
type InMemoryInvoiceLineItemStore struct {
	mu    sync.RWMutex
	items map[string]*invoice.LineItem
}

func NewInMemoryInvoiceLineItemStore() *InMemoryInvoiceLineItemStore {
	return &InMemoryInvoiceLineItemStore{
		items: make(map[string]*invoice.LineItem),
	}
}

func (s *InMemoryInvoiceLineItemStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]*invoice.LineItem)
}

func copyLineItem(li *invoice.LineItem) *invoice.LineItem {
	clone := *li
	return &clone
}

func (s *InMemoryInvoiceLineItemStore) CreateBulk(ctx context.Context, items []*invoice.LineItem) ([]*invoice.LineItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*invoice.LineItem, 0, len(items))
	for _, li := range items {
		if err := li.Validate(); err != nil {
			return nil, err
		}
		if _, exists := s.items[li.ID]; exists {
			return nil, ierr.NewError("invoice line item already exists").
				WithReportableDetails(map[string]any{"line_item_id": li.ID}).
				Mark(ierr.ErrAlreadyExists)
		}
		s.items[li.ID] = copyLineItem(li)
		out = append(out, copyLineItem(li))
	}
	return out, nil
}

func (s *InMemoryInvoiceLineItemStore) ListByInvoice(ctx context.Context, invoiceID string) ([]*invoice.LineItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*invoice.LineItem
	for _, li := range s.items {
		if li.InvoiceID == invoiceID {
			out = append(out, copyLineItem(li))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *InMemoryInvoiceLineItemStore) ApplyUpdates(ctx context.Context, invoiceID string, updates []invoice.LineItemUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range updates {
		li, ok := s.items[u.ID]
		if !ok || li.InvoiceID != invoiceID {
			return ierr.NewErrorf("invoice line item %s not found", u.ID).
				Mark(ierr.ErrNotFound)
		}
		li.Quantity = u.Quantity
		li.UnitAmountCents = u.UnitAmountCents
		li.AmountSubtotal = u.AmountSubtotal
		li.AmountTotal = u.AmountTotal
		if u.Description != "" {
			li.Description = u.Description
		}
		li.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (s *InMemoryInvoiceLineItemStore) SetProviderIDs(ctx context.Context, invoiceID string, providerIDs map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for lineItemID, providerID := range providerIDs {
		li, ok := s.items[lineItemID]
		if !ok || li.InvoiceID != invoiceID {
			return ierr.NewErrorf("invoice line item %s not found", lineItemID).
				Mark(ierr.ErrNotFound)
		}
		id := providerID
		li.ItemProviderID = &id
		li.UpdatedAt = time.Now().UTC()
	}
	return nil
}
