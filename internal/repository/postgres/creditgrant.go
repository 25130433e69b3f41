package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/Abaso007/builderai-sub001/internal/domain/creditgrant"
	ierr "github.com/Abaso007/builderai-sub001/internal/errors"
	"github.com/Abaso007/builderai-sub001/internal/logger"
	"github.com/Abaso007/builderai-sub001/internal/postgres"
)

type creditGrantRepository struct {
	client postgres.IClient
	logger *logger.Logger
}

func NewCreditGrantRepository(client postgres.IClient, logger *logger.Logger) creditgrant.Repository {
	return &creditGrantRepository{client: client, logger: logger}
}

const creditGrantColumns = `
	id, project_id, customer_id, total_amount, amount_used, currency,
	payment_provider, expires_at, active, status, created_at, updated_at`

func (r *creditGrantRepository) Create(ctx context.Context, grant *creditgrant.CreditGrant) (*creditgrant.CreditGrant, error) {
	query := `
	INSERT INTO credit_grants (` + creditGrantColumns + `
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
	)`

	if _, err := r.client.Querier(ctx).ExecContext(ctx, query,
		grant.ID,
		grant.ProjectID,
		grant.CustomerID,
		grant.TotalAmount,
		grant.AmountUsed,
		grant.Currency,
		grant.PaymentProvider,
		grant.ExpiresAt,
		grant.Active,
		grant.Status,
		grant.CreatedAt,
		grant.UpdatedAt,
	); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to create credit grant").
			Mark(ierr.ErrDatabase)
	}
	return grant, nil
}

func (r *creditGrantRepository) Get(ctx context.Context, id string) (*creditgrant.CreditGrant, error) {
	query := `SELECT ` + creditGrantColumns + ` FROM credit_grants WHERE id = $1`

	row := r.client.Querier(ctx).QueryRowxContext(ctx, query, id)
	grant, err := scanCreditGrant(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ierr.NewErrorf("credit grant %s not found", id).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get credit grant").
			Mark(ierr.ErrDatabase)
	}
	return grant, nil
}

func (r *creditGrantRepository) Update(ctx context.Context, grant *creditgrant.CreditGrant) (*creditgrant.CreditGrant, error) {
	query := `
	UPDATE credit_grants SET
		amount_used = $3, active = $4, expires_at = $5, status = $6,
		updated_at = NOW()
	WHERE id = $1 AND project_id = $2`

	res, err := r.client.Querier(ctx).ExecContext(ctx, query,
		grant.ID,
		grant.ProjectID,
		grant.AmountUsed,
		grant.Active,
		grant.ExpiresAt,
		grant.Status,
	)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to update credit grant").
			Mark(ierr.ErrDatabase)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, ierr.NewErrorf("credit grant %s not found", grant.ID).
			Mark(ierr.ErrNotFound)
	}
	return grant, nil
}

// ListEligibleForUpdate locks the matching rows inside the caller's
// transaction so concurrent finalizers serialize on the same grants.
// Soonest expiry first; open-ended grants last.
func (r *creditGrantRepository) ListEligibleForUpdate(ctx context.Context, projectID, customerID, currency, provider string, at time.Time) ([]*creditgrant.CreditGrant, error) {
	query := `
	SELECT ` + creditGrantColumns + `
	FROM credit_grants
	WHERE project_id = $1
		AND customer_id = $2
		AND currency = $3
		AND payment_provider = $4
		AND active = true
		AND (expires_at IS NULL OR expires_at > $5)
		AND total_amount > amount_used
	ORDER BY expires_at ASC NULLS LAST, id ASC
	FOR UPDATE`

	rows, err := r.client.Querier(ctx).QueryxContext(ctx, query, projectID, customerID, currency, provider, at)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list eligible credit grants").
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	var grants []*creditgrant.CreditGrant
	for rows.Next() {
		grant, err := scanCreditGrant(rows)
		if err != nil {
			return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
		}
		grants = append(grants, grant)
	}
	if err := rows.Err(); err != nil {
		return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	return grants, nil
}

func scanCreditGrant(row rowScanner) (*creditgrant.CreditGrant, error) {
	var g creditgrant.CreditGrant
	err := row.Scan(
		&g.ID,
		&g.ProjectID,
		&g.CustomerID,
		&g.TotalAmount,
		&g.AmountUsed,
		&g.Currency,
		&g.PaymentProvider,
		&g.ExpiresAt,
		&g.Active,
		&g.Status,
		&g.CreatedAt,
		&g.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

type creditApplicationRepository struct {
	client postgres.IClient
	logger *logger.Logger
}

func NewCreditApplicationRepository(client postgres.IClient, logger *logger.Logger) creditgrant.ApplicationRepository {
	return &creditApplicationRepository{client: client, logger: logger}
}

func (r *creditApplicationRepository) Create(ctx context.Context, app *creditgrant.Application) (*creditgrant.Application, error) {
	query := `
	INSERT INTO credit_grant_applications (
		id, project_id, invoice_id, credit_grant_id, amount_applied,
		status, created_at, updated_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	if _, err := r.client.Querier(ctx).ExecContext(ctx, query,
		app.ID,
		app.ProjectID,
		app.InvoiceID,
		app.CreditGrantID,
		app.AmountApplied,
		app.Status,
		app.CreatedAt,
		app.UpdatedAt,
	); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to create credit application").
			Mark(ierr.ErrDatabase)
	}
	return app, nil
}

func (r *creditApplicationRepository) ListByInvoice(ctx context.Context, invoiceID string) ([]*creditgrant.Application, error) {
	query := `
	SELECT id, project_id, invoice_id, credit_grant_id, amount_applied,
		status, created_at, updated_at
	FROM credit_grant_applications
	WHERE invoice_id = $1
	ORDER BY created_at ASC, id ASC`

	rows, err := r.client.Querier(ctx).QueryxContext(ctx, query, invoiceID)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list credit applications").
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	var apps []*creditgrant.Application
	for rows.Next() {
		var app creditgrant.Application
		if err := rows.Scan(
			&app.ID,
			&app.ProjectID,
			&app.InvoiceID,
			&app.CreditGrantID,
			&app.AmountApplied,
			&app.Status,
			&app.CreatedAt,
			&app.UpdatedAt,
		); err != nil {
			return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
		}
		apps = append(apps, &app)
	}
	if err := rows.Err(); err != nil {
		return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	return apps, nil
}
