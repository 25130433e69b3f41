package events

import (
	"context"
)

// Analytics is the ingest and rollup backend for usage and verification
// records. Calls carry request-scoped deadlines; the core never retries.
type Analytics interface {
	// GetUsageBillingFeatures aggregates usage per feature over a window
	GetUsageBillingFeatures(ctx context.Context, params *UsageQueryParams) ([]*FeatureUsage, error)

	// IngestFeaturesUsage appends a batch of usage records
	IngestFeaturesUsage(ctx context.Context, records []*UsageRecord) (*IngestResult, error)

	// IngestFeaturesVerification appends a batch of verification records
	IngestFeaturesVerification(ctx context.Context, records []*VerificationRecord) (*IngestResult, error)
}
