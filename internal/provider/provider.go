package provider

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Abaso007/builderai-sub001/internal/types"
)

// ProviderInvoiceStatus is the lifecycle status of an invoice at the
// payment provider
type ProviderInvoiceStatus string

const (
	ProviderInvoiceDraft         ProviderInvoiceStatus = "draft"
	ProviderInvoiceOpen          ProviderInvoiceStatus = "open"
	ProviderInvoicePaid          ProviderInvoiceStatus = "paid"
	ProviderInvoiceUncollectible ProviderInvoiceStatus = "uncollectible"
	ProviderInvoiceVoid          ProviderInvoiceStatus = "void"
)

// Finalized reports whether the provider already moved the invoice past
// the draft stage, meaning finalize must not be called again
func (s ProviderInvoiceStatus) Finalized() bool {
	switch s {
	case ProviderInvoiceOpen, ProviderInvoicePaid, ProviderInvoiceUncollectible, ProviderInvoiceVoid:
		return true
	}
	return false
}

// Terminal reports whether the provider invoice reached a final state
func (s ProviderInvoiceStatus) Terminal() bool {
	return s == ProviderInvoicePaid || s == ProviderInvoiceVoid
}

// CustomField is a label/value pair rendered on the provider invoice
type CustomField struct {
	Name  string
	Value string
}

// InvoicePayload carries everything the provider needs to create or
// update an invoice shell
type InvoicePayload struct {
	ProviderCustomerID string
	Currency           string
	CollectionMethod   types.CollectionMethod
	CustomerName       string
	Email              string
	Description        string
	DueDate            *time.Time
	CustomFields       []CustomField
	Metadata           map[string]string
}

// LineItemPayload carries one line item upserted onto a provider invoice
type LineItemPayload struct {
	ProviderCustomerID string
	Currency           string
	Description        string
	AmountCents        decimal.Decimal
	PeriodStart        time.Time
	PeriodEnd          time.Time
	Metadata           map[string]string
}

// ProviderLineItem is one line item read back from the provider
type ProviderLineItem struct {
	ID          string
	AmountCents decimal.Decimal
	Description string
	Metadata    map[string]string
}

// ProviderInvoice is the provider-side view of an invoice
type ProviderInvoice struct {
	ID         string
	URL        string
	Status     ProviderInvoiceStatus
	TotalCents decimal.Decimal
	Items      []ProviderLineItem
}

// SubscriptionItemID returns the provider item carrying the given
// subscription item id in its metadata, or nil
func (i *ProviderInvoice) ItemBySubscriptionItemID(subscriptionItemID string) *ProviderLineItem {
	for idx := range i.Items {
		if i.Items[idx].Metadata[types.MetadataKeySubscriptionItemID] == subscriptionItemID {
			return &i.Items[idx]
		}
	}
	return nil
}

// CreditItem returns the provider's credit line item, or nil
func (i *ProviderInvoice) CreditItem() *ProviderLineItem {
	for idx := range i.Items {
		if i.Items[idx].Metadata[types.MetadataKeyKind] == types.MetadataKindCreditApplied {
			return &i.Items[idx]
		}
	}
	return nil
}

// PaymentStatus is the outcome of a collection attempt at the provider
type PaymentStatus string

const (
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusFailed  PaymentStatus = "failed"
)

// PaymentResult reports one collection attempt
type PaymentResult struct {
	Status     PaymentStatus
	ErrorCode  string
	InvoiceURL string
}

// PaymentProvider abstracts the external billing provider. Calls are
// remote and must never run inside a database transaction.
type PaymentProvider interface {
	Name() string

	CreateInvoice(ctx context.Context, payload *InvoicePayload) (*ProviderInvoice, error)
	UpdateInvoice(ctx context.Context, providerInvoiceID string, payload *InvoicePayload) (*ProviderInvoice, error)
	GetInvoice(ctx context.Context, providerInvoiceID string) (*ProviderInvoice, error)

	// AddInvoiceItem returns the new provider item id
	AddInvoiceItem(ctx context.Context, providerInvoiceID string, item *LineItemPayload) (string, error)
	UpdateInvoiceItem(ctx context.Context, providerItemID string, item *LineItemPayload) error

	FinalizeInvoice(ctx context.Context, providerInvoiceID string) (*ProviderInvoice, error)
	SendInvoice(ctx context.Context, providerInvoiceID string) error
	CollectPayment(ctx context.Context, providerInvoiceID, paymentMethodID string) (*PaymentResult, error)
}
