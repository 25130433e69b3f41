package creditgrant

import (
	"time"

	"github.com/shopspring/decimal"

	ierr "github.com/Abaso007/builderai-sub001/internal/errors"
	"github.com/Abaso007/builderai-sub001/internal/types"
)

// CreditGrant is an allowance applied to future invoices of the same
// currency and payment provider. Amounts are integer minor units.
type CreditGrant struct {
	ID              string           `db:"id" json:"id"`
	CustomerID      string           `db:"customer_id" json:"customer_id"`
	TotalAmount     decimal.Decimal  `db:"total_amount" json:"total_amount"`
	AmountUsed      decimal.Decimal  `db:"amount_used" json:"amount_used"`
	Currency        string           `db:"currency" json:"currency"`
	PaymentProvider string           `db:"payment_provider" json:"payment_provider"`
	ExpiresAt       *time.Time       `db:"expires_at" json:"expires_at,omitempty"`
	Active          bool             `db:"active" json:"active"`
	types.BaseModel
}

func (c *CreditGrant) Validate() error {
	if c.CustomerID == "" {
		return ierr.NewError("customer_id is required").
			Mark(ierr.ErrValidation)
	}
	if c.Currency == "" {
		return ierr.NewError("currency is required").
			Mark(ierr.ErrValidation)
	}
	if !c.TotalAmount.IsPositive() {
		return ierr.NewError("total_amount must be positive").
			WithReportableDetails(map[string]any{"total_amount": c.TotalAmount}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// Available returns the unconsumed remainder of the grant
func (c *CreditGrant) Available() decimal.Decimal {
	return c.TotalAmount.Sub(c.AmountUsed)
}

// Eligible reports whether the grant may be applied to an invoice of the
// given currency and provider at t
func (c *CreditGrant) Eligible(currency, provider string, t time.Time) bool {
	if !c.Active {
		return false
	}
	if c.Currency != currency || c.PaymentProvider != provider {
		return false
	}
	if c.ExpiresAt != nil && !t.Before(*c.ExpiresAt) {
		return false
	}
	return c.Available().IsPositive()
}

// Application is the per-invoice credit application ledger row that makes
// credit application idempotent across finalization reruns
type Application struct {
	ID            string          `db:"id" json:"id"`
	InvoiceID     string          `db:"invoice_id" json:"invoice_id"`
	CreditGrantID string          `db:"credit_grant_id" json:"credit_grant_id"`
	AmountApplied decimal.Decimal `db:"amount_applied" json:"amount_applied"`
	types.BaseModel
}
