package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Abaso007/builderai-sub001/internal/cache"
	"github.com/Abaso007/builderai-sub001/internal/domain/grant"
	ierr "github.com/Abaso007/builderai-sub001/internal/errors"
	"github.com/Abaso007/builderai-sub001/internal/logger"
	"github.com/Abaso007/builderai-sub001/internal/postgres"
	"github.com/Abaso007/builderai-sub001/internal/types"
)

type grantRepository struct {
	client postgres.IClient
	logger *logger.Logger
	cache  cache.Cache
}

func NewGrantRepository(client postgres.IClient, logger *logger.Logger, cache cache.Cache) grant.Repository {
	return &grantRepository{client: client, logger: logger, cache: cache}
}

const grantColumns = `
	id, project_id, subject_type, subject_id, feature_plan_version_id,
	feature_slug, feature_type, aggregation_method, reset_config, type,
	priority, effective_at, expires_at, "limit", units, allow_overage,
	auto_renew, anchor, deleted, subscription_id, subscription_phase_id,
	subscription_item_id, status, created_at, updated_at`

func (r *grantRepository) Create(ctx context.Context, g *grant.Grant) (*grant.Grant, error) {
	query := `
	INSERT INTO grants (` + grantColumns + `
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		$16, $17, $18, $19, $20, $21, $22, $23, $24, $25
	)
	ON CONFLICT ON CONSTRAINT grants_identity_key DO NOTHING
	`

	resetConfigJSON, err := marshalResetConfig(g.ResetConfig)
	if err != nil {
		return nil, err
	}

	res, err := r.client.Querier(ctx).ExecContext(ctx, query,
		g.ID,
		g.ProjectID,
		g.SubjectType,
		g.SubjectID,
		g.FeaturePlanVersionID,
		g.FeatureSlug,
		g.FeatureType,
		g.AggregationMethod,
		resetConfigJSON,
		g.Type,
		g.Priority,
		g.EffectiveAt,
		g.ExpiresAt,
		nullDecimal(g.Limit),
		nullDecimal(g.Units),
		g.AllowOverage,
		g.AutoRenew,
		g.Anchor,
		g.Deleted,
		g.SubscriptionID,
		g.SubscriptionPhaseID,
		g.SubscriptionItemID,
		g.Status,
		g.CreatedAt,
		g.UpdatedAt,
	)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to create grant").
			Mark(ierr.ErrDatabase)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	if affected == 0 {
		return nil, ierr.NewError("grant already exists").
			WithHint("A grant with the same identity already exists").
			WithReportableDetails(map[string]any{
				"subject_id":   g.SubjectID,
				"feature_slug": g.FeatureSlug,
			}).
			Mark(ierr.ErrAlreadyExists)
	}

	r.cache.DeleteByPrefix(ctx, cache.PrefixGrant)
	return g, nil
}

func (r *grantRepository) Get(ctx context.Context, id string) (*grant.Grant, error) {
	query := `SELECT ` + grantColumns + ` FROM grants WHERE id = $1`

	row := r.client.Querier(ctx).QueryRowxContext(ctx, query, id)
	g, err := scanGrant(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ierr.NewErrorf("grant %s not found", id).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get grant").
			Mark(ierr.ErrDatabase)
	}
	return g, nil
}

func (r *grantRepository) Update(ctx context.Context, g *grant.Grant) (*grant.Grant, error) {
	query := `
	UPDATE grants SET
		priority = $3, effective_at = $4, expires_at = $5, "limit" = $6,
		units = $7, allow_overage = $8, auto_renew = $9, anchor = $10,
		deleted = $11, status = $12, updated_at = $13
	WHERE id = $1 AND project_id = $2
	`

	res, err := r.client.Querier(ctx).ExecContext(ctx, query,
		g.ID,
		g.ProjectID,
		g.Priority,
		g.EffectiveAt,
		g.ExpiresAt,
		nullDecimal(g.Limit),
		nullDecimal(g.Units),
		g.AllowOverage,
		g.AutoRenew,
		g.Anchor,
		g.Deleted,
		g.Status,
		time.Now().UTC(),
	)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to update grant").
			Mark(ierr.ErrDatabase)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, ierr.NewErrorf("grant %s not found", g.ID).
			Mark(ierr.ErrNotFound)
	}

	r.cache.DeleteByPrefix(ctx, cache.PrefixGrant)
	return g, nil
}

func (r *grantRepository) Delete(ctx context.Context, id string) error {
	query := `UPDATE grants SET deleted = true, updated_at = $2 WHERE id = $1`

	res, err := r.client.Querier(ctx).ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to delete grant").
			Mark(ierr.ErrDatabase)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ierr.NewErrorf("grant %s not found", id).
			Mark(ierr.ErrNotFound)
	}

	r.cache.DeleteByPrefix(ctx, cache.PrefixGrant)
	return nil
}

func (r *grantRepository) ListBySubjects(ctx context.Context, projectID string, subjects []types.GrantSubject, start time.Time, end *time.Time) ([]*grant.Grant, error) {
	if len(subjects) == 0 {
		return nil, nil
	}

	args := []interface{}{projectID, start}
	subjectClauses := make([]string, 0, len(subjects))
	for _, s := range subjects {
		subjectClauses = append(subjectClauses,
			fmt.Sprintf("(subject_type = $%d AND subject_id = $%d)", len(args)+1, len(args)+2))
		args = append(args, s.Type, s.ID)
	}

	query := `
	SELECT ` + grantColumns + `
	FROM grants
	WHERE project_id = $1
		AND deleted = false
		AND (expires_at IS NULL OR expires_at > $2)
		AND (` + strings.Join(subjectClauses, " OR ") + `)`

	if end != nil {
		query += fmt.Sprintf(" AND effective_at < $%d", len(args)+1)
		args = append(args, *end)
	}
	query += " ORDER BY priority DESC, id ASC"

	return r.queryGrants(ctx, query, args...)
}

func (r *grantRepository) ListOverlapping(ctx context.Context, projectID string, subject types.GrantSubject, featureSlug string, start time.Time, end *time.Time) ([]*grant.Grant, error) {
	query := `
	SELECT ` + grantColumns + `
	FROM grants
	WHERE project_id = $1
		AND subject_type = $2
		AND subject_id = $3
		AND feature_slug = $4
		AND deleted = false
		AND (expires_at IS NULL OR expires_at > $5)`

	args := []interface{}{projectID, subject.Type, subject.ID, featureSlug, start}
	if end != nil {
		query += " AND effective_at < $6"
		args = append(args, *end)
	}
	query += " ORDER BY priority DESC, id ASC"

	return r.queryGrants(ctx, query, args...)
}

func (r *grantRepository) ListOverlappingByFeature(ctx context.Context, projectID, featureSlug string, start time.Time, end *time.Time) ([]*grant.Grant, error) {
	query := `
	SELECT ` + grantColumns + `
	FROM grants
	WHERE project_id = $1
		AND feature_slug = $2
		AND deleted = false
		AND (expires_at IS NULL OR expires_at > $3)`

	args := []interface{}{projectID, featureSlug, start}
	if end != nil {
		query += " AND effective_at < $4"
		args = append(args, *end)
	}
	query += " ORDER BY priority DESC, id ASC"

	return r.queryGrants(ctx, query, args...)
}

func (r *grantRepository) FindCovering(ctx context.Context, projectID, customerID, featurePlanVersionID string, start time.Time, end *time.Time) (*grant.Grant, error) {
	query := `
	SELECT ` + grantColumns + `
	FROM grants
	WHERE project_id = $1
		AND subject_type = $2
		AND subject_id = $3
		AND feature_plan_version_id = $4
		AND deleted = false
		AND effective_at <= $5`

	args := []interface{}{projectID, types.GrantSubjectCustomer, customerID, featurePlanVersionID, start}
	if end != nil {
		query += " AND (expires_at IS NULL OR expires_at >= $6)"
		args = append(args, *end)
	} else {
		query += " AND expires_at IS NULL"
	}
	query += " ORDER BY priority DESC, id ASC LIMIT 1"

	row := r.client.Querier(ctx).QueryRowxContext(ctx, query, args...)
	g, err := scanGrant(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ierr.NewError("no covering grant found").
				WithReportableDetails(map[string]any{
					"customer_id":             customerID,
					"feature_plan_version_id": featurePlanVersionID,
				}).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to find covering grant").
			Mark(ierr.ErrDatabase)
	}
	return g, nil
}

func (r *grantRepository) ListExpiring(ctx context.Context, projectID string, before time.Time) ([]*grant.Grant, error) {
	query := `
	SELECT ` + grantColumns + `
	FROM grants
	WHERE project_id = $1
		AND deleted = false
		AND auto_renew = true
		AND expires_at IS NOT NULL
		AND expires_at <= $2
	ORDER BY expires_at ASC, id ASC`

	return r.queryGrants(ctx, query, projectID, before)
}

func (r *grantRepository) queryGrants(ctx context.Context, query string, args ...interface{}) ([]*grant.Grant, error) {
	rows, err := r.client.Querier(ctx).QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list grants").
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	var grants []*grant.Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	return grants, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanGrant(row rowScanner) (*grant.Grant, error) {
	var g grant.Grant
	var resetConfigJSON []byte
	var limit, units decimal.NullDecimal

	err := row.Scan(
		&g.ID,
		&g.ProjectID,
		&g.SubjectType,
		&g.SubjectID,
		&g.FeaturePlanVersionID,
		&g.FeatureSlug,
		&g.FeatureType,
		&g.AggregationMethod,
		&resetConfigJSON,
		&g.Type,
		&g.Priority,
		&g.EffectiveAt,
		&g.ExpiresAt,
		&limit,
		&units,
		&g.AllowOverage,
		&g.AutoRenew,
		&g.Anchor,
		&g.Deleted,
		&g.SubscriptionID,
		&g.SubscriptionPhaseID,
		&g.SubscriptionItemID,
		&g.Status,
		&g.CreatedAt,
		&g.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(resetConfigJSON) > 0 {
		if err := json.Unmarshal(resetConfigJSON, &g.ResetConfig); err != nil {
			return nil, err
		}
	}
	if limit.Valid {
		g.Limit = &limit.Decimal
	}
	if units.Valid {
		g.Units = &units.Decimal
	}
	return &g, nil
}

func marshalResetConfig(cfg *types.BillingConfig) ([]byte, error) {
	if cfg == nil {
		return nil, nil
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to serialize reset config").
			Mark(ierr.ErrSystem)
	}
	return raw, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}
