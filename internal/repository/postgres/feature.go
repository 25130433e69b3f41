package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/Abaso007/builderai-sub001/internal/cache"
	"github.com/Abaso007/builderai-sub001/internal/domain/feature"
	ierr "github.com/Abaso007/builderai-sub001/internal/errors"
	"github.com/Abaso007/builderai-sub001/internal/logger"
	"github.com/Abaso007/builderai-sub001/internal/postgres"
)

type featureRepository struct {
	client postgres.IClient
	logger *logger.Logger
	cache  cache.Cache
}

func NewFeatureRepository(client postgres.IClient, logger *logger.Logger, cache cache.Cache) feature.Repository {
	return &featureRepository{client: client, logger: logger, cache: cache}
}

func (r *featureRepository) CreateFeature(ctx context.Context, f *feature.Feature) (*feature.Feature, error) {
	query := `
	INSERT INTO features (
		id, project_id, slug, name, description, feature_type, status,
		created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	if _, err := r.client.Querier(ctx).ExecContext(ctx, query,
		f.ID,
		f.ProjectID,
		f.Slug,
		f.Name,
		f.Description,
		f.FeatureType,
		f.Status,
		f.CreatedAt,
		f.UpdatedAt,
	); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to create feature").
			Mark(ierr.ErrDatabase)
	}
	return f, nil
}

func (r *featureRepository) GetFeatureBySlug(ctx context.Context, projectID, slug string) (*feature.Feature, error) {
	cacheKey := cache.GenerateKey(cache.PrefixFeature, projectID, slug)
	if cached, ok := r.cache.Get(ctx, cacheKey); ok {
		if f, ok := cached.(*feature.Feature); ok {
			return f, nil
		}
	}

	query := `
	SELECT id, project_id, slug, name, description, feature_type, status,
		created_at, updated_at
	FROM features
	WHERE project_id = $1 AND slug = $2`

	var f feature.Feature
	err := r.client.Querier(ctx).GetContext(ctx, &f, query, projectID, slug)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ierr.NewErrorf("feature %s not found", slug).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get feature").
			Mark(ierr.ErrDatabase)
	}

	r.cache.Set(ctx, cacheKey, &f, 0)
	return &f, nil
}

const planVersionColumns = `
	id, project_id, feature_id, feature_slug, plan_id, plan_version_id,
	feature_type, aggregation_method, config, billing_config, reset_config,
	"limit", allow_overage, currency, status, created_at, updated_at`

func (r *featureRepository) CreatePlanVersion(ctx context.Context, version *feature.FeaturePlanVersion) (*feature.FeaturePlanVersion, error) {
	query := `
	INSERT INTO feature_plan_versions (` + planVersionColumns + `
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		$16, $17
	)`

	configJSON, err := json.Marshal(version.Config)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to serialize price config").
			Mark(ierr.ErrSystem)
	}
	billingConfigJSON, err := json.Marshal(version.BillingConfig)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to serialize billing config").
			Mark(ierr.ErrSystem)
	}
	resetConfigJSON, err := marshalResetConfig(version.ResetConfig)
	if err != nil {
		return nil, err
	}

	if _, err := r.client.Querier(ctx).ExecContext(ctx, query,
		version.ID,
		version.ProjectID,
		version.FeatureID,
		version.FeatureSlug,
		version.PlanID,
		version.PlanVersionID,
		version.FeatureType,
		version.AggregationMethod,
		configJSON,
		billingConfigJSON,
		resetConfigJSON,
		nullDecimal(version.Limit),
		version.AllowOverage,
		version.Currency,
		version.Status,
		version.CreatedAt,
		version.UpdatedAt,
	); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to create feature plan version").
			Mark(ierr.ErrDatabase)
	}
	return version, nil
}

func (r *featureRepository) GetPlanVersion(ctx context.Context, id string) (*feature.FeaturePlanVersion, error) {
	query := `SELECT ` + planVersionColumns + ` FROM feature_plan_versions WHERE id = $1`

	row := r.client.Querier(ctx).QueryRowxContext(ctx, query, id)
	version, err := scanPlanVersion(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ierr.NewErrorf("feature plan version %s not found", id).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get feature plan version").
			Mark(ierr.ErrDatabase)
	}
	return version, nil
}

func (r *featureRepository) ListPlanVersionsByIDs(ctx context.Context, ids []string) ([]*feature.FeaturePlanVersion, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT ` + planVersionColumns + ` FROM feature_plan_versions WHERE id = ANY($1)`
	return r.queryPlanVersions(ctx, query, pq.Array(ids))
}

func (r *featureRepository) ListPlanVersionsByPlanVersion(ctx context.Context, projectID, planVersionID string) ([]*feature.FeaturePlanVersion, error) {
	query := `
	SELECT ` + planVersionColumns + `
	FROM feature_plan_versions
	WHERE project_id = $1 AND plan_version_id = $2
	ORDER BY feature_slug ASC`

	return r.queryPlanVersions(ctx, query, projectID, planVersionID)
}

func (r *featureRepository) queryPlanVersions(ctx context.Context, query string, args ...interface{}) ([]*feature.FeaturePlanVersion, error) {
	rows, err := r.client.Querier(ctx).QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list feature plan versions").
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	var versions []*feature.FeaturePlanVersion
	for rows.Next() {
		version, err := scanPlanVersion(rows)
		if err != nil {
			return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
		}
		versions = append(versions, version)
	}
	if err := rows.Err(); err != nil {
		return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	return versions, nil
}

func scanPlanVersion(row rowScanner) (*feature.FeaturePlanVersion, error) {
	var v feature.FeaturePlanVersion
	var configJSON, billingConfigJSON, resetConfigJSON []byte
	var limit decimal.NullDecimal

	err := row.Scan(
		&v.ID,
		&v.ProjectID,
		&v.FeatureID,
		&v.FeatureSlug,
		&v.PlanID,
		&v.PlanVersionID,
		&v.FeatureType,
		&v.AggregationMethod,
		&configJSON,
		&billingConfigJSON,
		&resetConfigJSON,
		&limit,
		&v.AllowOverage,
		&v.Currency,
		&v.Status,
		&v.CreatedAt,
		&v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &v.Config); err != nil {
			return nil, err
		}
	}
	if len(billingConfigJSON) > 0 {
		if err := json.Unmarshal(billingConfigJSON, &v.BillingConfig); err != nil {
			return nil, err
		}
	}
	if len(resetConfigJSON) > 0 {
		if err := json.Unmarshal(resetConfigJSON, &v.ResetConfig); err != nil {
			return nil, err
		}
	}
	if limit.Valid {
		v.Limit = &limit.Decimal
	}
	return &v, nil
}
