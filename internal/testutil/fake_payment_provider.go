package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	ierr "github.com/Abaso007/builderai-sub001/internal/errors"
	"github.com/Abaso007/builderai-sub001/internal/provider"
)

// FakeProviderName is the provider name fixtures should bill against
const FakeProviderName = "fake"

// FakePaymentProvider implements provider.PaymentProvider in memory. Knobs
// let tests force total mismatches and payment outcomes.
type FakePaymentProvider struct {
	mu       sync.Mutex
	seq      int
	invoices map[string]*provider.ProviderInvoice

	// TotalOverride replaces the computed item sum in every read-back,
	// forcing a total mismatch
	TotalOverride *decimal.Decimal

	// PaymentResults is consumed front to back by CollectPayment; when
	// empty the payment succeeds
	PaymentResults []*provider.PaymentResult

	// CollectErr makes CollectPayment fail at the transport level
	CollectErr error

	// InvoiceStatusOverride replaces the status in every read-back, for
	// polling scenarios
	InvoiceStatusOverride *provider.ProviderInvoiceStatus

	SentInvoiceIDs []string
}

func NewFakePaymentProvider() *FakePaymentProvider {
	return &FakePaymentProvider{
		invoices: make(map[string]*provider.ProviderInvoice),
	}
}

func (p *FakePaymentProvider) Name() string {
	return FakeProviderName
}

func (p *FakePaymentProvider) nextID(prefix string) string {
	p.seq++
	return fmt.Sprintf("%s_%06d", prefix, p.seq)
}

func (p *FakePaymentProvider) view(inv *provider.ProviderInvoice) *provider.ProviderInvoice {
	clone := *inv
	clone.Items = make([]provider.ProviderLineItem, len(inv.Items))
	copy(clone.Items, inv.Items)

	total := decimal.Zero
	for _, item := range clone.Items {
		total = total.Add(item.AmountCents)
	}
	clone.TotalCents = total
	if p.TotalOverride != nil {
		clone.TotalCents = *p.TotalOverride
	}
	if p.InvoiceStatusOverride != nil {
		clone.Status = *p.InvoiceStatusOverride
	}
	return &clone
}

func (p *FakePaymentProvider) CreateInvoice(ctx context.Context, payload *provider.InvoicePayload) (*provider.ProviderInvoice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	inv := &provider.ProviderInvoice{
		ID:     p.nextID("fake_in"),
		URL:    "https://pay.example.com/" + p.nextID("url"),
		Status: provider.ProviderInvoiceDraft,
	}
	p.invoices[inv.ID] = inv
	return p.view(inv), nil
}

func (p *FakePaymentProvider) UpdateInvoice(ctx context.Context, providerInvoiceID string, payload *provider.InvoicePayload) (*provider.ProviderInvoice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	inv, ok := p.invoices[providerInvoiceID]
	if !ok {
		return nil, ierr.NewErrorf("provider invoice %s not found", providerInvoiceID).
			Mark(ierr.ErrProviderFailed)
	}
	return p.view(inv), nil
}

func (p *FakePaymentProvider) GetInvoice(ctx context.Context, providerInvoiceID string) (*provider.ProviderInvoice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	inv, ok := p.invoices[providerInvoiceID]
	if !ok {
		return nil, ierr.NewErrorf("provider invoice %s not found", providerInvoiceID).
			Mark(ierr.ErrProviderFailed)
	}
	return p.view(inv), nil
}

func (p *FakePaymentProvider) AddInvoiceItem(ctx context.Context, providerInvoiceID string, item *provider.LineItemPayload) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	inv, ok := p.invoices[providerInvoiceID]
	if !ok {
		return "", ierr.NewErrorf("provider invoice %s not found", providerInvoiceID).
			Mark(ierr.ErrProviderFailed)
	}

	metadata := make(map[string]string, len(item.Metadata))
	for k, v := range item.Metadata {
		metadata[k] = v
	}
	providerItem := provider.ProviderLineItem{
		ID:          p.nextID("fake_ii"),
		AmountCents: item.AmountCents,
		Description: item.Description,
		Metadata:    metadata,
	}
	inv.Items = append(inv.Items, providerItem)
	return providerItem.ID, nil
}

func (p *FakePaymentProvider) UpdateInvoiceItem(ctx context.Context, providerItemID string, item *provider.LineItemPayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, inv := range p.invoices {
		for idx := range inv.Items {
			if inv.Items[idx].ID == providerItemID {
				inv.Items[idx].AmountCents = item.AmountCents
				inv.Items[idx].Description = item.Description
				return nil
			}
		}
	}
	return ierr.NewErrorf("provider invoice item %s not found", providerItemID).
		Mark(ierr.ErrProviderFailed)
}

func (p *FakePaymentProvider) FinalizeInvoice(ctx context.Context, providerInvoiceID string) (*provider.ProviderInvoice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	inv, ok := p.invoices[providerInvoiceID]
	if !ok {
		return nil, ierr.NewErrorf("provider invoice %s not found", providerInvoiceID).
			Mark(ierr.ErrProviderFailed)
	}
	if inv.Status == provider.ProviderInvoiceDraft {
		inv.Status = provider.ProviderInvoiceOpen
	}
	return p.view(inv), nil
}

func (p *FakePaymentProvider) SendInvoice(ctx context.Context, providerInvoiceID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.invoices[providerInvoiceID]; !ok {
		return ierr.NewErrorf("provider invoice %s not found", providerInvoiceID).
			Mark(ierr.ErrProviderFailed)
	}
	p.SentInvoiceIDs = append(p.SentInvoiceIDs, providerInvoiceID)
	return nil
}

func (p *FakePaymentProvider) CollectPayment(ctx context.Context, providerInvoiceID, paymentMethodID string) (*provider.PaymentResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.CollectErr != nil {
		return nil, p.CollectErr
	}
	inv, ok := p.invoices[providerInvoiceID]
	if !ok {
		return nil, ierr.NewErrorf("provider invoice %s not found", providerInvoiceID).
			Mark(ierr.ErrProviderFailed)
	}

	if len(p.PaymentResults) > 0 {
		result := p.PaymentResults[0]
		p.PaymentResults = p.PaymentResults[1:]
		if result.Status == provider.PaymentStatusPaid {
			inv.Status = provider.ProviderInvoicePaid
		}
		return result, nil
	}

	inv.Status = provider.ProviderInvoicePaid
	return &provider.PaymentResult{
		Status:     provider.PaymentStatusPaid,
		InvoiceURL: inv.URL,
	}, nil
}
