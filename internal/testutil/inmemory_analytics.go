package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Abaso007/builderai-sub001/internal/domain/events"
	ierr "github.com/Abaso007/builderai-sub001/internal/errors"
	"github.com/Abaso007/builderai-sub001/internal/types"
)

// InMemoryAnalytics implements events.Analytics over in-process slices and
// aggregates with the same window semantics as the columnar store
type InMemoryAnalytics struct {
	mu            sync.RWMutex
	usage         []*events.UsageRecord
	verifications []*events.VerificationRecord

	// FailIngest makes every ingest call fail, for requeue tests
	FailIngest bool
}

func NewInMemoryAnalytics() *InMemoryAnalytics {
	return &InMemoryAnalytics{}
}

func (a *InMemoryAnalytics) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.usage = nil
	a.verifications = nil
	a.FailIngest = false
}

// SeedUsage records a raw usage event directly, bypassing the ingest path
func (a *InMemoryAnalytics) SeedUsage(projectID, customerID, featureSlug string, amount decimal.Decimal, at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.usage = append(a.usage, &events.UsageRecord{
		ID:          types.GenerateUUIDWithPrefix(types.UUID_PREFIX_USAGE_RECORD),
		ProjectID:   projectID,
		CustomerID:  customerID,
		FeatureSlug: featureSlug,
		Amount:      amount,
		Timestamp:   at,
	})
}

// UsageRecords returns a copy of every ingested usage record
func (a *InMemoryAnalytics) UsageRecords() []*events.UsageRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*events.UsageRecord, len(a.usage))
	copy(out, a.usage)
	return out
}

// VerificationRecords returns a copy of every ingested verification record
func (a *InMemoryAnalytics) VerificationRecords() []*events.VerificationRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*events.VerificationRecord, len(a.verifications))
	copy(out, a.verifications)
	return out
}

func (a *InMemoryAnalytics) GetUsageBillingFeatures(ctx context.Context, params *events.UsageQueryParams) ([]*events.FeatureUsage, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	result := make([]*events.FeatureUsage, 0, len(params.Features))
	for _, f := range params.Features {
		if !f.AggregationMethod.Fetchable() {
			return nil, ierr.NewErrorf("aggregation method %s is not fetchable", f.AggregationMethod).
				Mark(ierr.ErrValidation)
		}
		result = append(result, a.aggregateFeature(params, f))
	}
	return result, nil
}

func (a *InMemoryAnalytics) aggregateFeature(params *events.UsageQueryParams, f events.BillingFeature) *events.FeatureUsage {
	windowStart := params.StartAt
	if f.AggregationMethod.NeverResets() {
		windowStart = time.Time{}
	}

	var matched []*events.UsageRecord
	for _, r := range a.usage {
		if r.ProjectID != params.ProjectID ||
			r.CustomerID != params.CustomerID ||
			r.FeatureSlug != f.FeatureSlug {
			continue
		}
		if r.Timestamp.Before(windowStart) || !r.Timestamp.Before(params.EndAt) {
			continue
		}
		matched = append(matched, r)
	}

	usage := &events.FeatureUsage{FeatureSlug: f.FeatureSlug}
	switch f.AggregationMethod {
	case types.AggregationCount, types.AggregationCountAll:
		usage.Usage = decimal.NewFromInt(int64(len(matched)))
	case types.AggregationMax:
		for _, r := range matched {
			if r.Amount.GreaterThan(usage.Usage) {
				usage.Usage = r.Amount
			}
		}
	case types.AggregationLastDuringPeriod:
		var lastAt time.Time
		for _, r := range matched {
			if !r.Timestamp.Before(lastAt) {
				lastAt = r.Timestamp
				usage.Usage = r.Amount
			}
		}
	default:
		for _, r := range matched {
			usage.Usage = usage.Usage.Add(r.Amount)
		}
	}

	if f.AggregationMethod.NeverResets() {
		accumulated := usage.Usage
		usage.AccumulatedUsage = &accumulated
	}
	return usage
}

func (a *InMemoryAnalytics) IngestFeaturesUsage(ctx context.Context, records []*events.UsageRecord) (*events.IngestResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.FailIngest {
		return nil, ierr.NewError("analytics backend unavailable").
			Mark(ierr.ErrStorageFailed)
	}
	a.usage = append(a.usage, records...)
	return &events.IngestResult{SuccessfulRows: len(records)}, nil
}

func (a *InMemoryAnalytics) IngestFeaturesVerification(ctx context.Context, records []*events.VerificationRecord) (*events.IngestResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.FailIngest {
		return nil, ierr.NewError("analytics backend unavailable").
			Mark(ierr.ErrStorageFailed)
	}
	a.verifications = append(a.verifications, records...)
	return &events.IngestResult{SuccessfulRows: len(records)}, nil
}
