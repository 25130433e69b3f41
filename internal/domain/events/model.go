package events

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Abaso007/builderai-sub001/internal/types"
)

// UsageRecord is one buffered consumption event awaiting analytics ingest.
// Records are ordered within a (customer, feature) pair.
type UsageRecord struct {
	ID                string          `json:"id"`
	ProjectID         string          `json:"project_id"`
	CustomerID        string          `json:"customer_id"`
	FeatureSlug       string          `json:"feature_slug"`
	Amount            decimal.Decimal `json:"amount"`
	CycleUsage        decimal.Decimal `json:"cycle_usage"`
	AccumulatedUsage  decimal.Decimal `json:"accumulated_usage"`
	IdempotenceKey    string          `json:"idempotence_key"`
	RequestID         string          `json:"request_id"`
	Timestamp         time.Time       `json:"timestamp"`
	Metadata          types.Metadata  `json:"metadata,omitempty"`
}

// VerificationRecord is one buffered verify outcome awaiting ingest
type VerificationRecord struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"project_id"`
	CustomerID   string    `json:"customer_id"`
	FeatureSlug  string    `json:"feature_slug"`
	Allowed      bool      `json:"allowed"`
	DeniedReason string    `json:"denied_reason,omitempty"`
	Latency      float64   `json:"latency_ms"`
	RequestID    string    `json:"request_id"`
	Timestamp    time.Time `json:"timestamp"`
}

// BillingFeature identifies one feature in a usage query
type BillingFeature struct {
	FeatureSlug       string                  `json:"feature_slug"`
	AggregationMethod types.AggregationMethod `json:"aggregation_method"`
	FeatureType       types.FeatureType       `json:"feature_type"`
}

// UsageQueryParams is a windowed usage aggregation request
type UsageQueryParams struct {
	ProjectID  string           `json:"project_id"`
	CustomerID string           `json:"customer_id"`
	Features   []BillingFeature `json:"features"`
	StartAt    time.Time        `json:"start_at"`
	EndAt      time.Time        `json:"end_at"`
}

// FeatureUsage is one aggregated usage row per feature
type FeatureUsage struct {
	FeatureSlug      string           `json:"feature_slug"`
	Usage            decimal.Decimal  `json:"usage"`
	AccumulatedUsage *decimal.Decimal `json:"accumulated_usage,omitempty"`
}

// IngestResult reports the outcome of one batched ingest
type IngestResult struct {
	SuccessfulRows  int `json:"successful_rows"`
	QuarantinedRows int `json:"quarantined_rows"`
}
