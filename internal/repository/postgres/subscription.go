package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/Abaso007/builderai-sub001/internal/domain/subscription"
	ierr "github.com/Abaso007/builderai-sub001/internal/errors"
	"github.com/Abaso007/builderai-sub001/internal/logger"
	"github.com/Abaso007/builderai-sub001/internal/postgres"
)

type subscriptionRepository struct {
	client postgres.IClient
	logger *logger.Logger
}

func NewSubscriptionRepository(client postgres.IClient, logger *logger.Logger) subscription.Repository {
	return &subscriptionRepository{client: client, logger: logger}
}

func (r *subscriptionRepository) Get(ctx context.Context, projectID, subscriptionID string) (*subscription.Subscription, error) {
	query := `
	SELECT id, project_id, customer_id, plan_id, plan_version_id, currency,
		payment_provider, collection_method, payment_method_id, status,
		created_at, updated_at
	FROM subscriptions
	WHERE project_id = $1 AND id = $2`

	var s subscription.Subscription
	err := r.client.Querier(ctx).GetContext(ctx, &s, query, projectID, subscriptionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ierr.NewErrorf("subscription %s not found", subscriptionID).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get subscription").
			Mark(ierr.ErrDatabase)
	}
	return &s, nil
}

func (r *subscriptionRepository) GetCurrentPhaseForCustomer(ctx context.Context, projectID, customerID string, t time.Time) (*subscription.Phase, error) {
	query := `
	SELECT p.id, p.project_id, p.subscription_id, p.plan_id,
		p.plan_version_id, p.start_at, p.end_at, p.trial_ends_at,
		p.status, p.created_at, p.updated_at
	FROM subscription_phases p
	JOIN subscriptions s ON s.id = p.subscription_id AND s.project_id = p.project_id
	WHERE p.project_id = $1
		AND s.customer_id = $2
		AND p.start_at <= $3
		AND (p.end_at IS NULL OR p.end_at > $3)
	ORDER BY p.start_at DESC
	LIMIT 1`

	var p subscription.Phase
	err := r.client.Querier(ctx).GetContext(ctx, &p, query, projectID, customerID, t)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ierr.NewError("no active subscription phase for customer").
				WithReportableDetails(map[string]any{
					"customer_id": customerID,
				}).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get current subscription phase").
			Mark(ierr.ErrDatabase)
	}
	return &p, nil
}

// ListPhasesForMaterialization returns the phases the materializer must
// consider at t: currently active, or ended inside the lookback window so
// their trailing cycles still get billing periods.
func (r *subscriptionRepository) ListPhasesForMaterialization(ctx context.Context, projectID, subscriptionID string, t time.Time, lookback time.Duration, limit int) ([]*subscription.PhaseWithItems, error) {
	query := `
	SELECT id, project_id, subscription_id, plan_id, plan_version_id,
		start_at, end_at, trial_ends_at, status, created_at, updated_at
	FROM subscription_phases
	WHERE project_id = $1
		AND subscription_id = $2
		AND start_at <= $3
		AND (end_at IS NULL OR end_at > $4)
	ORDER BY start_at ASC
	LIMIT $5`

	var phases []subscription.Phase
	err := r.client.Querier(ctx).SelectContext(ctx, &phases, query,
		projectID, subscriptionID, t, t.Add(-lookback), limit)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list subscription phases").
			Mark(ierr.ErrDatabase)
	}

	result := make([]*subscription.PhaseWithItems, 0, len(phases))
	for i := range phases {
		items, err := r.ListItems(ctx, projectID, phases[i].ID)
		if err != nil {
			return nil, err
		}
		result = append(result, &subscription.PhaseWithItems{
			Phase: phases[i],
			Items: items,
		})
	}
	return result, nil
}

func (r *subscriptionRepository) ListItems(ctx context.Context, projectID, phaseID string) ([]*subscription.Item, error) {
	query := `
	SELECT id, project_id, subscription_id, subscription_phase_id,
		feature_plan_version_id, feature_slug, quantity, when_to_bill,
		billing_config, status, created_at, updated_at
	FROM subscription_items
	WHERE project_id = $1 AND subscription_phase_id = $2
	ORDER BY id ASC`

	rows, err := r.client.Querier(ctx).QueryxContext(ctx, query, projectID, phaseID)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list subscription items").
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	var items []*subscription.Item
	for rows.Next() {
		var item subscription.Item
		var billingConfigJSON []byte
		if err := rows.Scan(
			&item.ID,
			&item.ProjectID,
			&item.SubscriptionID,
			&item.SubscriptionPhaseID,
			&item.FeaturePlanVersionID,
			&item.FeatureSlug,
			&item.Quantity,
			&item.WhenToBill,
			&billingConfigJSON,
			&item.Status,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
		}
		if len(billingConfigJSON) > 0 {
			if err := json.Unmarshal(billingConfigJSON, &item.BillingConfig); err != nil {
				return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
			}
		}
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	return items, nil
}
