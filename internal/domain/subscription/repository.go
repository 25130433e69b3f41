package subscription

import (
	"context"
	"time"
)

// Repository defines the read surface over subscriptions, phases and items
type Repository interface {
	Get(ctx context.Context, projectID, subscriptionID string) (*Subscription, error)

	// GetCurrentPhaseForCustomer returns the phase covering t for the
	// customer's subscription, or a not-found error
	GetCurrentPhaseForCustomer(ctx context.Context, projectID, customerID string, t time.Time) (*Phase, error)

	// ListPhasesForMaterialization returns phases of the subscription
	// that are active at t or ended within the lookback window, with
	// their items, bounded by limit
	ListPhasesForMaterialization(ctx context.Context, projectID, subscriptionID string, t time.Time, lookback time.Duration, limit int) ([]*PhaseWithItems, error)

	ListItems(ctx context.Context, projectID, phaseID string) ([]*Item, error)
}
