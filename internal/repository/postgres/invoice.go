package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Abaso007/builderai-sub001/internal/domain/invoice"
	ierr "github.com/Abaso007/builderai-sub001/internal/errors"
	"github.com/Abaso007/builderai-sub001/internal/logger"
	"github.com/Abaso007/builderai-sub001/internal/postgres"
)

type invoiceRepository struct {
	client postgres.IClient
	logger *logger.Logger
}

func NewInvoiceRepository(client postgres.IClient, logger *logger.Logger) invoice.Repository {
	return &invoiceRepository{client: client, logger: logger}
}

const invoiceColumns = `
	id, project_id, subscription_id, customer_id, invoice_status,
	subtotal_cents, total_cents, amount_credit_used, currency,
	payment_provider, collection_method, payment_method_id,
	provider_invoice_id, provider_invoice_url, payment_attempts,
	due_at, past_due_at, issue_date, sent_at, paid_at, metadata,
	status, created_at, updated_at`

func (r *invoiceRepository) Create(ctx context.Context, inv *invoice.Invoice) (*invoice.Invoice, error) {
	query := `
	INSERT INTO invoices (` + invoiceColumns + `
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		$16, $17, $18, $19, $20, $21, $22, $23, $24
	)`

	attemptsJSON, metadataJSON, err := marshalInvoiceFields(inv)
	if err != nil {
		return nil, err
	}

	if _, err := r.client.Querier(ctx).ExecContext(ctx, query,
		inv.ID,
		inv.ProjectID,
		inv.SubscriptionID,
		inv.CustomerID,
		inv.InvoiceStatus,
		inv.SubtotalCents,
		inv.TotalCents,
		inv.AmountCreditUsed,
		inv.Currency,
		inv.PaymentProvider,
		inv.CollectionMethod,
		inv.PaymentMethodID,
		inv.ProviderInvoiceID,
		inv.ProviderInvoiceURL,
		attemptsJSON,
		inv.DueAt,
		inv.PastDueAt,
		inv.IssueDate,
		inv.SentAt,
		inv.PaidAt,
		metadataJSON,
		inv.Status,
		inv.CreatedAt,
		inv.UpdatedAt,
	); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to create invoice").
			Mark(ierr.ErrDatabase)
	}
	return inv, nil
}

func (r *invoiceRepository) Get(ctx context.Context, id string) (*invoice.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`

	row := r.client.Querier(ctx).QueryRowxContext(ctx, query, id)
	inv, err := scanInvoice(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ierr.NewErrorf("invoice %s not found", id).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get invoice").
			Mark(ierr.ErrDatabase)
	}
	return inv, nil
}

func (r *invoiceRepository) Update(ctx context.Context, inv *invoice.Invoice) (*invoice.Invoice, error) {
	query := `
	UPDATE invoices SET
		invoice_status = $3,
		subtotal_cents = $4,
		total_cents = $5,
		amount_credit_used = $6,
		payment_method_id = $7,
		provider_invoice_id = $8,
		provider_invoice_url = $9,
		payment_attempts = $10,
		due_at = $11,
		past_due_at = $12,
		issue_date = $13,
		sent_at = $14,
		paid_at = $15,
		metadata = $16,
		updated_at = NOW()
	WHERE id = $1 AND project_id = $2`

	attemptsJSON, metadataJSON, err := marshalInvoiceFields(inv)
	if err != nil {
		return nil, err
	}

	res, err := r.client.Querier(ctx).ExecContext(ctx, query,
		inv.ID,
		inv.ProjectID,
		inv.InvoiceStatus,
		inv.SubtotalCents,
		inv.TotalCents,
		inv.AmountCreditUsed,
		inv.PaymentMethodID,
		inv.ProviderInvoiceID,
		inv.ProviderInvoiceURL,
		attemptsJSON,
		inv.DueAt,
		inv.PastDueAt,
		inv.IssueDate,
		inv.SentAt,
		inv.PaidAt,
		metadataJSON,
	)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to update invoice").
			Mark(ierr.ErrDatabase)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return nil, ierr.NewErrorf("invoice %s not found", inv.ID).
			Mark(ierr.ErrNotFound)
	}
	return inv, nil
}

func (r *invoiceRepository) ListBySubscription(ctx context.Context, projectID, subscriptionID string) ([]*invoice.Invoice, error) {
	query := `
	SELECT ` + invoiceColumns + `
	FROM invoices
	WHERE project_id = $1 AND subscription_id = $2
	ORDER BY created_at ASC, id ASC`

	rows, err := r.client.Querier(ctx).QueryxContext(ctx, query, projectID, subscriptionID)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list invoices").
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	var invoices []*invoice.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
		}
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	return invoices, nil
}

func marshalInvoiceFields(inv *invoice.Invoice) ([]byte, []byte, error) {
	attemptsJSON, err := json.Marshal(inv.PaymentAttempts)
	if err != nil {
		return nil, nil, ierr.WithError(err).
			WithHint("Failed to serialize payment attempts").
			Mark(ierr.ErrSystem)
	}
	metadataJSON, err := json.Marshal(inv.Metadata)
	if err != nil {
		return nil, nil, ierr.WithError(err).
			WithHint("Failed to serialize metadata").
			Mark(ierr.ErrSystem)
	}
	return attemptsJSON, metadataJSON, nil
}

func scanInvoice(row rowScanner) (*invoice.Invoice, error) {
	var inv invoice.Invoice
	var attemptsJSON, metadataJSON []byte

	err := row.Scan(
		&inv.ID,
		&inv.ProjectID,
		&inv.SubscriptionID,
		&inv.CustomerID,
		&inv.InvoiceStatus,
		&inv.SubtotalCents,
		&inv.TotalCents,
		&inv.AmountCreditUsed,
		&inv.Currency,
		&inv.PaymentProvider,
		&inv.CollectionMethod,
		&inv.PaymentMethodID,
		&inv.ProviderInvoiceID,
		&inv.ProviderInvoiceURL,
		&attemptsJSON,
		&inv.DueAt,
		&inv.PastDueAt,
		&inv.IssueDate,
		&inv.SentAt,
		&inv.PaidAt,
		&metadataJSON,
		&inv.Status,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(attemptsJSON) > 0 {
		if err := json.Unmarshal(attemptsJSON, &inv.PaymentAttempts); err != nil {
			return nil, err
		}
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &inv.Metadata); err != nil {
			return nil, err
		}
	}
	return &inv, nil
}

type lineItemRepository struct {
	client postgres.IClient
	logger *logger.Logger
}

func NewLineItemRepository(client postgres.IClient, logger *logger.Logger) invoice.LineItemRepository {
	return &lineItemRepository{client: client, logger: logger}
}

const lineItemColumns = `
	id, project_id, invoice_id, feature_plan_version_id,
	subscription_item_id, kind, quantity, unit_amount_cents,
	amount_subtotal, amount_total, description, cycle_start_at,
	cycle_end_at, proration_factor, item_provider_id, status,
	created_at, updated_at`

func (r *lineItemRepository) CreateBulk(ctx context.Context, items []*invoice.LineItem) ([]*invoice.LineItem, error) {
	if len(items) == 0 {
		return items, nil
	}

	valueClauses := make([]string, 0, len(items))
	args := make([]interface{}, 0, len(items)*18)
	for _, li := range items {
		placeholders := make([]string, 18)
		for j := range placeholders {
			placeholders[j] = fmt.Sprintf("$%d", len(args)+j+1)
		}
		valueClauses = append(valueClauses, "("+strings.Join(placeholders, ", ")+")")
		args = append(args,
			li.ID,
			li.ProjectID,
			li.InvoiceID,
			li.FeaturePlanVersionID,
			li.SubscriptionItemID,
			li.Kind,
			li.Quantity,
			li.UnitAmountCents,
			li.AmountSubtotal,
			li.AmountTotal,
			li.Description,
			li.CycleStartAt,
			li.CycleEndAt,
			li.ProrationFactor,
			li.ItemProviderID,
			li.Status,
			li.CreatedAt,
			li.UpdatedAt,
		)
	}

	query := `INSERT INTO invoice_line_items (` + lineItemColumns + `) VALUES ` +
		strings.Join(valueClauses, ", ")

	if _, err := r.client.Querier(ctx).ExecContext(ctx, query, args...); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to create invoice line items").
			Mark(ierr.ErrDatabase)
	}
	return items, nil
}

func (r *lineItemRepository) ListByInvoice(ctx context.Context, invoiceID string) ([]*invoice.LineItem, error) {
	query := `
	SELECT ` + lineItemColumns + `
	FROM invoice_line_items
	WHERE invoice_id = $1
	ORDER BY cycle_start_at ASC, id ASC`

	rows, err := r.client.Querier(ctx).QueryxContext(ctx, query, invoiceID)
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to list invoice line items").
			Mark(ierr.ErrDatabase)
	}
	defer rows.Close()

	var items []*invoice.LineItem
	for rows.Next() {
		li, err := scanLineItem(rows)
		if err != nil {
			return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
		}
		items = append(items, li)
	}
	if err := rows.Err(); err != nil {
		return nil, ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	return items, nil
}

// ApplyUpdates writes the priced fields of the finalization pass back to
// the line items in a single VALUES join
func (r *lineItemRepository) ApplyUpdates(ctx context.Context, invoiceID string, updates []invoice.LineItemUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	valueClauses := make([]string, 0, len(updates))
	args := []interface{}{invoiceID}
	for _, u := range updates {
		valueClauses = append(valueClauses, fmt.Sprintf(
			"($%d, $%d::numeric, $%d::numeric, $%d::numeric, $%d::numeric, $%d)",
			len(args)+1, len(args)+2, len(args)+3, len(args)+4, len(args)+5, len(args)+6))
		args = append(args, u.ID, u.Quantity, u.UnitAmountCents, u.AmountSubtotal, u.AmountTotal, u.Description)
	}

	query := `
	UPDATE invoice_line_items AS li SET
		quantity = v.quantity,
		unit_amount_cents = v.unit_amount_cents,
		amount_subtotal = v.amount_subtotal,
		amount_total = v.amount_total,
		description = v.description,
		updated_at = NOW()
	FROM (VALUES ` + strings.Join(valueClauses, ", ") + `)
		AS v(id, quantity, unit_amount_cents, amount_subtotal, amount_total, description)
	WHERE li.id = v.id AND li.invoice_id = $1`

	if _, err := r.client.Querier(ctx).ExecContext(ctx, query, args...); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to apply line item updates").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *lineItemRepository) SetProviderIDs(ctx context.Context, invoiceID string, providerIDs map[string]string) error {
	if len(providerIDs) == 0 {
		return nil
	}

	valueClauses := make([]string, 0, len(providerIDs))
	args := []interface{}{invoiceID}
	for id, providerID := range providerIDs {
		valueClauses = append(valueClauses, fmt.Sprintf("($%d, $%d)", len(args)+1, len(args)+2))
		args = append(args, id, providerID)
	}

	query := `
	UPDATE invoice_line_items AS li SET
		item_provider_id = v.item_provider_id,
		updated_at = NOW()
	FROM (VALUES ` + strings.Join(valueClauses, ", ") + `)
		AS v(id, item_provider_id)
	WHERE li.id = v.id AND li.invoice_id = $1`

	if _, err := r.client.Querier(ctx).ExecContext(ctx, query, args...); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to set line item provider ids").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func scanLineItem(row rowScanner) (*invoice.LineItem, error) {
	var li invoice.LineItem
	err := row.Scan(
		&li.ID,
		&li.ProjectID,
		&li.InvoiceID,
		&li.FeaturePlanVersionID,
		&li.SubscriptionItemID,
		&li.Kind,
		&li.Quantity,
		&li.UnitAmountCents,
		&li.AmountSubtotal,
		&li.AmountTotal,
		&li.Description,
		&li.CycleStartAt,
		&li.CycleEndAt,
		&li.ProrationFactor,
		&li.ItemProviderID,
		&li.Status,
		&li.CreatedAt,
		&li.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &li, nil
}
