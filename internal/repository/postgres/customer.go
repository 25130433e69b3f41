package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/Abaso007/builderai-sub001/internal/domain/customer"
	ierr "github.com/Abaso007/builderai-sub001/internal/errors"
	"github.com/Abaso007/builderai-sub001/internal/logger"
	"github.com/Abaso007/builderai-sub001/internal/postgres"
)

type customerRepository struct {
	client postgres.IClient
	logger *logger.Logger
}

func NewCustomerRepository(client postgres.IClient, logger *logger.Logger) customer.Repository {
	return &customerRepository{client: client, logger: logger}
}

func (r *customerRepository) Get(ctx context.Context, projectID, customerID string) (*customer.Customer, error) {
	query := `
	SELECT id, project_id, name, email, default_payment_method_id,
		provider_customer_ids, status, created_at, updated_at
	FROM customers
	WHERE project_id = $1 AND id = $2`

	var c customer.Customer
	var providerIDsJSON []byte

	err := r.client.Querier(ctx).QueryRowxContext(ctx, query, projectID, customerID).Scan(
		&c.ID,
		&c.ProjectID,
		&c.Name,
		&c.Email,
		&c.DefaultPaymentMethodID,
		&providerIDsJSON,
		&c.Status,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ierr.NewErrorf("customer %s not found", customerID).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get customer").
			Mark(ierr.ErrDatabase)
	}

	if len(providerIDsJSON) > 0 {
		if err := json.Unmarshal(providerIDsJSON, &c.ProviderCustomerIDs); err != nil {
			return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
		}
	}
	return &c, nil
}
