package entitlement

import (
	"context"
)

// Repository defines the interface for durable entitlement state storage.
// The durable store is the source of truth; the hot store is advisory.
type Repository interface {
	// Upsert writes the static part of the state keyed by
	// (project, customer, feature slug). Mutable counters of an existing
	// row are preserved; the caller normalizes cycle usage first.
	Upsert(ctx context.Context, state *EntitlementState) (*EntitlementState, error)

	Get(ctx context.Context, projectID, customerID, featureSlug string) (*EntitlementState, error)
	ListByCustomer(ctx context.Context, projectID, customerID string) ([]*EntitlementState, error)

	// UpdateCounters persists the mutable usage counters and
	// revalidation bookkeeping of an existing state
	UpdateCounters(ctx context.Context, state *EntitlementState) error

	Delete(ctx context.Context, projectID, customerID, featureSlug string) error
}
