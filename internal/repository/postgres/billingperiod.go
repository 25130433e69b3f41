package postgres

import (
	"context"
	"database/sql"

	"github.com/lib/pq"

	"github.com/Abaso007/builderai-sub001/internal/domain/billingperiod"
	ierr "github.com/Abaso007/builderai-sub001/internal/errors"
	"github.com/Abaso007/builderai-sub001/internal/logger"
	"github.com/Abaso007/builderai-sub001/internal/postgres"
	"github.com/Abaso007/builderai-sub001/internal/types"
)

type billingPeriodRepository struct {
	client postgres.IClient
	logger *logger.Logger
}

func NewBillingPeriodRepository(client postgres.IClient, logger *logger.Logger) billingperiod.Repository {
	return &billingPeriodRepository{client: client, logger: logger}
}

const billingPeriodColumns = `
	id, project_id, subscription_id, subscription_phase_id,
	subscription_item_id, cycle_start_at, cycle_end_at, period_status,
	period_type, invoice_at, when_to_bill, statement_key, grant_id,
	status, created_at, updated_at`

// Create inserts the period. The cycle uniqueness tuple (project,
// subscription, phase, item, cycle start, cycle end) carries a unique
// index; a conflicting insert writes nothing.
func (r *billingPeriodRepository) Create(ctx context.Context, period *billingperiod.BillingPeriod) (*billingperiod.BillingPeriod, error) {
	query := `
	INSERT INTO billing_periods (` + billingPeriodColumns + `
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16
	)
	ON CONFLICT ON CONSTRAINT billing_periods_cycle_key DO NOTHING
	`

	res, err := r.client.Querier(ctx).ExecContext(ctx, query,
		period.ID,
		period.ProjectID,
		period.SubscriptionID,
		period.SubscriptionPhaseID,
		period.SubscriptionItemID,
		period.CycleStartAt,
		period.CycleEndAt,
		period.PeriodStatus,
		period.PeriodType,
		period.InvoiceAt,
		period.WhenToBill,
		period.StatementKey,
		period.GrantID,
		period.Status,
		period.CreatedAt,
		period.UpdatedAt,
	)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to create billing period").
			Mark(ierr.ErrDatabase)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	if affected == 0 {
		return nil, ierr.NewError("billing period already exists").
			WithReportableDetails(map[string]any{
				"subscription_item_id": period.SubscriptionItemID,
				"cycle_start_at":       period.CycleStartAt,
				"cycle_end_at":         period.CycleEndAt,
			}).
			Mark(ierr.ErrAlreadyExists)
	}
	return period, nil
}

func (r *billingPeriodRepository) Get(ctx context.Context, id string) (*billingperiod.BillingPeriod, error) {
	query := `SELECT ` + billingPeriodColumns + ` FROM billing_periods WHERE id = $1`

	row := r.client.Querier(ctx).QueryRowxContext(ctx, query, id)
	period, err := scanBillingPeriod(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ierr.NewErrorf("billing period %s not found", id).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get billing period").
			Mark(ierr.ErrDatabase)
	}
	return period, nil
}

func (r *billingPeriodRepository) GetLastForItem(ctx context.Context, projectID, subscriptionItemID string) (*billingperiod.BillingPeriod, error) {
	query := `
	SELECT ` + billingPeriodColumns + `
	FROM billing_periods
	WHERE project_id = $1 AND subscription_item_id = $2
	ORDER BY cycle_end_at DESC
	LIMIT 1`

	row := r.client.Querier(ctx).QueryRowxContext(ctx, query, projectID, subscriptionItemID)
	period, err := scanBillingPeriod(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ierr.NewError("no billing period found for item").
				WithReportableDetails(map[string]any{
					"subscription_item_id": subscriptionItemID,
				}).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get last billing period").
			Mark(ierr.ErrDatabase)
	}
	return period, nil
}

func (r *billingPeriodRepository) ListBySubscription(ctx context.Context, projectID, subscriptionID string) ([]*billingperiod.BillingPeriod, error) {
	query := `
	SELECT ` + billingPeriodColumns + `
	FROM billing_periods
	WHERE project_id = $1 AND subscription_id = $2
	ORDER BY cycle_start_at ASC, subscription_item_id ASC`

	rows, err := r.client.Querier(ctx).QueryxContext(ctx, query, projectID, subscriptionID)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list billing periods").
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	var periods []*billingperiod.BillingPeriod
	for rows.Next() {
		period, err := scanBillingPeriod(rows)
		if err != nil {
			return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
		}
		periods = append(periods, period)
	}
	if err := rows.Err(); err != nil {
		return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	return periods, nil
}

func (r *billingPeriodRepository) MarkInvoiced(ctx context.Context, projectID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	query := `
	UPDATE billing_periods
	SET period_status = $1, updated_at = NOW()
	WHERE project_id = $2 AND id = ANY($3)`

	if _, err := r.client.Querier(ctx).ExecContext(ctx, query,
		types.BillingPeriodStatusInvoiced, projectID, pq.Array(ids)); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to mark billing periods invoiced").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func scanBillingPeriod(row rowScanner) (*billingperiod.BillingPeriod, error) {
	var p billingperiod.BillingPeriod
	err := row.Scan(
		&p.ID,
		&p.ProjectID,
		&p.SubscriptionID,
		&p.SubscriptionPhaseID,
		&p.SubscriptionItemID,
		&p.CycleStartAt,
		&p.CycleEndAt,
		&p.PeriodStatus,
		&p.PeriodType,
		&p.InvoiceAt,
		&p.WhenToBill,
		&p.StatementKey,
		&p.GrantID,
		&p.Status,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
