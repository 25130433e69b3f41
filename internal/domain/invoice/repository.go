package invoice

import (
	"context"
)

// Repository defines the interface for invoice storage operations
type Repository interface {
	Create(ctx context.Context, inv *Invoice) (*Invoice, error)
	Get(ctx context.Context, id string) (*Invoice, error)
	Update(ctx context.Context, inv *Invoice) (*Invoice, error)
	ListBySubscription(ctx context.Context, projectID, subscriptionID string) ([]*Invoice, error)
}

// LineItemRepository defines the interface for invoice line item storage
type LineItemRepository interface {
	CreateBulk(ctx context.Context, items []*LineItem) ([]*LineItem, error)
	ListByInvoice(ctx context.Context, invoiceID string) ([]*LineItem, error)

	// ApplyUpdates applies the priced fields of the finalization pass in
	// one batch statement
	ApplyUpdates(ctx context.Context, invoiceID string, updates []LineItemUpdate) error

	// SetProviderIDs persists the provider item id per line item
	SetProviderIDs(ctx context.Context, invoiceID string, providerIDs map[string]string) error
}
