package billingperiod

import (
	"context"
)

// Repository defines the interface for billing period storage operations
type Repository interface {
	// Create inserts a period; a conflict on the cycle uniqueness tuple
	// returns an already-exists error and writes nothing
	Create(ctx context.Context, period *BillingPeriod) (*BillingPeriod, error)

	Get(ctx context.Context, id string) (*BillingPeriod, error)

	// GetLastForItem returns the stored period with the latest cycle end
	// for a subscription item, or a not-found error
	GetLastForItem(ctx context.Context, projectID, subscriptionItemID string) (*BillingPeriod, error)

	ListBySubscription(ctx context.Context, projectID, subscriptionID string) ([]*BillingPeriod, error)

	// MarkInvoiced transitions periods to the invoiced status
	MarkInvoiced(ctx context.Context, projectID string, ids []string) error
}
