package creditgrant

import (
	"context"
	"time"
)

// Repository defines the interface for credit grant storage operations
type Repository interface {
	Create(ctx context.Context, grant *CreditGrant) (*CreditGrant, error)
	Get(ctx context.Context, id string) (*CreditGrant, error)
	Update(ctx context.Context, grant *CreditGrant) (*CreditGrant, error)

	// ListEligibleForUpdate returns active, unexpired grants matching the
	// currency and provider ordered by expiry ascending (soonest first,
	// open-ended last), locked for update inside the caller's transaction
	ListEligibleForUpdate(ctx context.Context, projectID, customerID, currency, provider string, at time.Time) ([]*CreditGrant, error)
}

// ApplicationRepository defines the interface for the credit application
// ledger
type ApplicationRepository interface {
	Create(ctx context.Context, app *Application) (*Application, error)
	ListByInvoice(ctx context.Context, invoiceID string) ([]*Application, error)
}
