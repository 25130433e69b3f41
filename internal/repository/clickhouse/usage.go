package clickhouse

import (
	"context"
	"encoding/json"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/Abaso007/builderai-sub001/internal/clickhouse"
	"github.com/Abaso007/builderai-sub001/internal/domain/events"
	ierr "github.com/Abaso007/builderai-sub001/internal/errors"
	"github.com/Abaso007/builderai-sub001/internal/logger"
	"github.com/Abaso007/builderai-sub001/internal/types"
)

const ingestBatchSize = 100

type UsageRepository struct {
	store  *clickhouse.ClickHouseStore
	logger *logger.Logger
}

func NewUsageRepository(store *clickhouse.ClickHouseStore, logger *logger.Logger) events.Analytics {
	return &UsageRepository{
		store:  store,
		logger: logger,
	}
}

// GetUsageBillingFeatures aggregates usage per feature over the window.
// Methods with the _all suffix ignore the window start and roll up the
// customer's full history up to the window end.
func (r *UsageRepository) GetUsageBillingFeatures(ctx context.Context, params *events.UsageQueryParams) ([]*events.FeatureUsage, error) {
	result := make([]*events.FeatureUsage, 0, len(params.Features))

	for _, f := range params.Features {
		if !f.AggregationMethod.Fetchable() {
			return nil, ierr.NewErrorf("aggregation method %s is not fetchable", f.AggregationMethod).
				Mark(ierr.ErrValidation)
		}

		usage, err := r.aggregateFeature(ctx, params, f)
		if err != nil {
			return nil, err
		}
		result = append(result, usage)
	}
	return result, nil
}

func (r *UsageRepository) aggregateFeature(ctx context.Context, params *events.UsageQueryParams, f events.BillingFeature) (*events.FeatureUsage, error) {
	windowStart := params.StartAt
	if f.AggregationMethod.NeverResets() {
		// full-history rollup, only the end bound applies
		windowStart = time.Time{}
	}

	query := `
	SELECT ` + aggregateExpr(f.AggregationMethod) + `
	FROM usage_records
	WHERE project_id = ?
		AND customer_id = ?
		AND feature_slug = ?
		AND timestamp >= ?
		AND timestamp < ?`

	args := []interface{}{
		params.ProjectID,
		params.CustomerID,
		f.FeatureSlug,
		windowStart,
		params.EndAt,
	}

	usage := &events.FeatureUsage{FeatureSlug: f.FeatureSlug}

	switch f.AggregationMethod {
	case types.AggregationCount, types.AggregationCountAll:
		var count uint64
		if err := r.store.GetConn().QueryRow(ctx, query, args...).Scan(&count); err != nil {
			return nil, ierr.WithError(err).
				WithHint("Failed to aggregate usage").
				WithReportableDetails(map[string]interface{}{
					"feature_slug": f.FeatureSlug,
				}).
				Mark(ierr.ErrStorageFailed)
		}
		usage.Usage = decimal.NewFromUint64(count)
	default:
		var amount decimal.Decimal
		if err := r.store.GetConn().QueryRow(ctx, query, args...).Scan(&amount); err != nil {
			return nil, ierr.WithError(err).
				WithHint("Failed to aggregate usage").
				WithReportableDetails(map[string]interface{}{
					"feature_slug": f.FeatureSlug,
				}).
				Mark(ierr.ErrStorageFailed)
		}
		usage.Usage = amount
	}

	if f.AggregationMethod.NeverResets() {
		accumulated := usage.Usage
		usage.AccumulatedUsage = &accumulated
	}
	return usage, nil
}

func aggregateExpr(method types.AggregationMethod) string {
	switch method {
	case types.AggregationMax:
		return "max(amount)"
	case types.AggregationCount, types.AggregationCountAll:
		return "count()"
	case types.AggregationLastDuringPeriod:
		return "argMax(amount, timestamp)"
	default:
		return "sum(amount)"
	}
}

// IngestFeaturesUsage appends usage records in batches of 100
func (r *UsageRepository) IngestFeaturesUsage(ctx context.Context, records []*events.UsageRecord) (*events.IngestResult, error) {
	result := &events.IngestResult{}
	if len(records) == 0 {
		return result, nil
	}

	for _, batch := range lo.Chunk(records, ingestBatchSize) {
		prepared, err := r.store.GetConn().PrepareBatch(ctx, `
		INSERT INTO usage_records (
			id, project_id, customer_id, feature_slug, amount, cycle_usage,
			accumulated_usage, idempotence_key, request_id, timestamp, metadata
		)`)
		if err != nil {
			return result, ierr.WithError(err).
				WithHint("Failed to prepare usage batch").
				Mark(ierr.ErrStorageFailed)
		}

		for _, record := range batch {
			metadataJSON, err := json.Marshal(record.Metadata)
			if err != nil {
				result.QuarantinedRows++
				continue
			}
			if err := prepared.Append(
				record.ID,
				record.ProjectID,
				record.CustomerID,
				record.FeatureSlug,
				record.Amount,
				record.CycleUsage,
				record.AccumulatedUsage,
				record.IdempotenceKey,
				record.RequestID,
				record.Timestamp,
				string(metadataJSON),
			); err != nil {
				return result, ierr.WithError(err).
					WithHint("Failed to append usage record to batch").
					WithReportableDetails(map[string]interface{}{
						"record_id": record.ID,
					}).
					Mark(ierr.ErrStorageFailed)
			}
		}

		if err := prepared.Send(); err != nil {
			return result, ierr.WithError(err).
				WithHint("Failed to send usage batch").
				Mark(ierr.ErrStorageFailed)
		}
		result.SuccessfulRows += len(batch)
	}

	return result, nil
}

// IngestFeaturesVerification appends verification records in batches of 100
func (r *UsageRepository) IngestFeaturesVerification(ctx context.Context, records []*events.VerificationRecord) (*events.IngestResult, error) {
	result := &events.IngestResult{}
	if len(records) == 0 {
		return result, nil
	}

	for _, batch := range lo.Chunk(records, ingestBatchSize) {
		prepared, err := r.store.GetConn().PrepareBatch(ctx, `
		INSERT INTO verification_records (
			id, project_id, customer_id, feature_slug, allowed, denied_reason,
			latency_ms, request_id, timestamp
		)`)
		if err != nil {
			return result, ierr.WithError(err).
				WithHint("Failed to prepare verification batch").
				Mark(ierr.ErrStorageFailed)
		}

		for _, record := range batch {
			if err := prepared.Append(
				record.ID,
				record.ProjectID,
				record.CustomerID,
				record.FeatureSlug,
				record.Allowed,
				record.DeniedReason,
				record.Latency,
				record.RequestID,
				record.Timestamp,
			); err != nil {
				return result, ierr.WithError(err).
					WithHint("Failed to append verification record to batch").
					WithReportableDetails(map[string]interface{}{
						"record_id": record.ID,
					}).
					Mark(ierr.ErrStorageFailed)
			}
		}

		if err := prepared.Send(); err != nil {
			return result, ierr.WithError(err).
				WithHint("Failed to send verification batch").
				Mark(ierr.ErrStorageFailed)
		}
		result.SuccessfulRows += len(batch)
	}

	return result, nil
}
