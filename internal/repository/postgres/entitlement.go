package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Abaso007/builderai-sub001/internal/cache"
	"github.com/Abaso007/builderai-sub001/internal/domain/entitlement"
	ierr "github.com/Abaso007/builderai-sub001/internal/errors"
	"github.com/Abaso007/builderai-sub001/internal/logger"
	"github.com/Abaso007/builderai-sub001/internal/postgres"
)

type entitlementRepository struct {
	client postgres.IClient
	logger *logger.Logger
	cache  cache.Cache
}

func NewEntitlementRepository(client postgres.IClient, logger *logger.Logger, cache cache.Cache) entitlement.Repository {
	return &entitlementRepository{client: client, logger: logger, cache: cache}
}

const entitlementColumns = `
	id, project_id, customer_id, feature_slug, feature_type,
	aggregation_method, reset_config, merging_policy, "limit",
	allow_overage, grants, effective_at, expires_at, version,
	current_cycle_usage, accumulated_usage, last_sync_at,
	next_revalidate_at, computed_at, status, created_at, updated_at`

// Upsert writes the static part of the state. On conflict the mutable
// usage counters of the existing row survive; only the derived fields
// and revalidation bookkeeping are replaced.
func (r *entitlementRepository) Upsert(ctx context.Context, state *entitlement.EntitlementState) (*entitlement.EntitlementState, error) {
	query := `
	INSERT INTO entitlements (` + entitlementColumns + `
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		$16, $17, $18, $19, $20, $21, $22
	)
	ON CONFLICT (project_id, customer_id, feature_slug) DO UPDATE SET
		feature_type = EXCLUDED.feature_type,
		aggregation_method = EXCLUDED.aggregation_method,
		reset_config = EXCLUDED.reset_config,
		merging_policy = EXCLUDED.merging_policy,
		"limit" = EXCLUDED."limit",
		allow_overage = EXCLUDED.allow_overage,
		grants = EXCLUDED.grants,
		effective_at = EXCLUDED.effective_at,
		expires_at = EXCLUDED.expires_at,
		version = EXCLUDED.version,
		next_revalidate_at = EXCLUDED.next_revalidate_at,
		computed_at = EXCLUDED.computed_at,
		status = EXCLUDED.status,
		updated_at = EXCLUDED.updated_at
	RETURNING ` + entitlementColumns

	resetConfigJSON, err := marshalResetConfig(state.ResetConfig)
	if err != nil {
		return nil, err
	}
	grantsJSON, err := json.Marshal(state.Grants)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to serialize grant snapshots").
			Mark(ierr.ErrSystem)
	}

	row := r.client.Querier(ctx).QueryRowxContext(ctx, query,
		state.ID,
		state.ProjectID,
		state.CustomerID,
		state.FeatureSlug,
		state.FeatureType,
		state.AggregationMethod,
		resetConfigJSON,
		state.MergingPolicy,
		nullDecimal(state.Limit),
		state.AllowOverage,
		grantsJSON,
		state.EffectiveAt,
		state.ExpiresAt,
		state.Version,
		state.CurrentCycleUsage,
		state.AccumulatedUsage,
		state.LastSyncAt,
		state.NextRevalidateAt,
		state.ComputedAt,
		state.Status,
		state.CreatedAt,
		state.UpdatedAt,
	)

	stored, err := scanEntitlement(row)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to upsert entitlement state").
			Mark(ierr.ErrDatabase)
	}

	r.cache.Delete(ctx, cache.GenerateKey(cache.PrefixEntitlement, stored.ProjectID, stored.CustomerID, stored.FeatureSlug))
	return stored, nil
}

func (r *entitlementRepository) Get(ctx context.Context, projectID, customerID, featureSlug string) (*entitlement.EntitlementState, error) {
	query := `
	SELECT ` + entitlementColumns + `
	FROM entitlements
	WHERE project_id = $1 AND customer_id = $2 AND feature_slug = $3`

	row := r.client.Querier(ctx).QueryRowxContext(ctx, query, projectID, customerID, featureSlug)
	state, err := scanEntitlement(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ierr.NewError("entitlement not found").
				WithReportableDetails(map[string]any{
					"customer_id":  customerID,
					"feature_slug": featureSlug,
				}).
				Mark(ierr.ErrEntitlementNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get entitlement state").
			Mark(ierr.ErrDatabase)
	}
	return state, nil
}

func (r *entitlementRepository) ListByCustomer(ctx context.Context, projectID, customerID string) ([]*entitlement.EntitlementState, error) {
	query := `
	SELECT ` + entitlementColumns + `
	FROM entitlements
	WHERE project_id = $1 AND customer_id = $2
	ORDER BY feature_slug ASC`

	rows, err := r.client.Querier(ctx).QueryxContext(ctx, query, projectID, customerID)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list entitlement states").
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	var states []*entitlement.EntitlementState
	for rows.Next() {
		state, err := scanEntitlement(rows)
		if err != nil {
			return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
		}
		states = append(states, state)
	}
	if err := rows.Err(); err != nil {
		return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	return states, nil
}

func (r *entitlementRepository) UpdateCounters(ctx context.Context, state *entitlement.EntitlementState) error {
	query := `
	UPDATE entitlements SET
		current_cycle_usage = $4,
		accumulated_usage = $5,
		last_sync_at = $6,
		next_revalidate_at = $7,
		updated_at = $8
	WHERE project_id = $1 AND customer_id = $2 AND feature_slug = $3`

	res, err := r.client.Querier(ctx).ExecContext(ctx, query,
		state.ProjectID,
		state.CustomerID,
		state.FeatureSlug,
		state.CurrentCycleUsage,
		state.AccumulatedUsage,
		state.LastSyncAt,
		state.NextRevalidateAt,
		time.Now().UTC(),
	)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to update entitlement counters").
			Mark(ierr.ErrDatabase)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ierr.NewError("entitlement not found").
			Mark(ierr.ErrEntitlementNotFound)
	}
	return nil
}

func (r *entitlementRepository) Delete(ctx context.Context, projectID, customerID, featureSlug string) error {
	query := `DELETE FROM entitlements WHERE project_id = $1 AND customer_id = $2 AND feature_slug = $3`

	if _, err := r.client.Querier(ctx).ExecContext(ctx, query, projectID, customerID, featureSlug); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to delete entitlement state").
			Mark(ierr.ErrDatabase)
	}

	r.cache.Delete(ctx, cache.GenerateKey(cache.PrefixEntitlement, projectID, customerID, featureSlug))
	return nil
}

func scanEntitlement(row rowScanner) (*entitlement.EntitlementState, error) {
	var s entitlement.EntitlementState
	var resetConfigJSON, grantsJSON []byte
	var limit decimal.NullDecimal

	err := row.Scan(
		&s.ID,
		&s.ProjectID,
		&s.CustomerID,
		&s.FeatureSlug,
		&s.FeatureType,
		&s.AggregationMethod,
		&resetConfigJSON,
		&s.MergingPolicy,
		&limit,
		&s.AllowOverage,
		&grantsJSON,
		&s.EffectiveAt,
		&s.ExpiresAt,
		&s.Version,
		&s.CurrentCycleUsage,
		&s.AccumulatedUsage,
		&s.LastSyncAt,
		&s.NextRevalidateAt,
		&s.ComputedAt,
		&s.Status,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(resetConfigJSON) > 0 {
		if err := json.Unmarshal(resetConfigJSON, &s.ResetConfig); err != nil {
			return nil, err
		}
	}
	if len(grantsJSON) > 0 {
		if err := json.Unmarshal(grantsJSON, &s.Grants); err != nil {
			return nil, err
		}
	}
	if limit.Valid {
		s.Limit = &limit.Decimal
	}
	return &s, nil
}
