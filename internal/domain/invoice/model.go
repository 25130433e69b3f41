package invoice

import (
	"time"

	"github.com/shopspring/decimal"

	ierr "github.com/Abaso007/builderai-sub001/internal/errors"
	"github.com/Abaso007/builderai-sub001/internal/types"
)

// Invoice belongs to one (project, subscription). Amounts are integer
// minor units in Currency.
type Invoice struct {
	ID             string `db:"id" json:"id"`
	SubscriptionID string `db:"subscription_id" json:"subscription_id"`
	CustomerID     string `db:"customer_id" json:"customer_id"`

	InvoiceStatus    types.InvoiceStatus    `db:"invoice_status" json:"invoice_status"`
	SubtotalCents    decimal.Decimal        `db:"subtotal_cents" json:"subtotal_cents"`
	TotalCents       decimal.Decimal        `db:"total_cents" json:"total_cents"`
	AmountCreditUsed decimal.Decimal        `db:"amount_credit_used" json:"amount_credit_used"`
	Currency         string                 `db:"currency" json:"currency"`
	PaymentProvider  string                 `db:"payment_provider" json:"payment_provider"`
	CollectionMethod types.CollectionMethod `db:"collection_method" json:"collection_method"`
	PaymentMethodID  string                 `db:"payment_method_id" json:"payment_method_id"`

	ProviderInvoiceID  *string `db:"provider_invoice_id" json:"provider_invoice_id,omitempty"`
	ProviderInvoiceURL *string `db:"provider_invoice_url" json:"provider_invoice_url,omitempty"`

	PaymentAttempts []PaymentAttempt `db:"payment_attempts" json:"payment_attempts"`

	DueAt     *time.Time `db:"due_at" json:"due_at,omitempty"`
	PastDueAt *time.Time `db:"past_due_at" json:"past_due_at,omitempty"`
	IssueDate *time.Time `db:"issue_date" json:"issue_date,omitempty"`
	SentAt    *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	PaidAt    *time.Time `db:"paid_at" json:"paid_at,omitempty"`

	Metadata types.Metadata `db:"metadata" json:"metadata"`

	types.BaseModel
}

func (i *Invoice) Validate() error {
	if i.SubscriptionID == "" {
		return ierr.NewError("subscription_id is required").
			Mark(ierr.ErrValidation)
	}
	if i.CustomerID == "" {
		return ierr.NewError("customer_id is required").
			Mark(ierr.ErrValidation)
	}
	if i.Currency == "" {
		return ierr.NewError("currency is required").
			Mark(ierr.ErrValidation)
	}
	if err := i.InvoiceStatus.Validate(); err != nil {
		return err
	}
	return i.CollectionMethod.Validate()
}

// AttemptCount returns the number of recorded payment attempts
func (i *Invoice) AttemptCount() int {
	return len(i.PaymentAttempts)
}

// AddAttempt appends a payment attempt record
func (i *Invoice) AddAttempt(status types.PaymentAttemptStatus, errCode string, at time.Time) {
	i.PaymentAttempts = append(i.PaymentAttempts, PaymentAttempt{
		ID:        types.GenerateUUIDWithPrefix(types.UUID_PREFIX_PAYMENT_ATTEMPT),
		Status:    status,
		ErrorCode: errCode,
		CreatedAt: at,
	})
}

// SetNote records a diagnostic note in the invoice metadata for forensic
// inspection
func (i *Invoice) SetNote(reason, note string) {
	if i.Metadata == nil {
		i.Metadata = types.Metadata{}
	}
	i.Metadata[types.MetadataKeyReason] = reason
	i.Metadata[types.MetadataKeyNote] = note
}

// PaymentAttempt records the outcome of one collection attempt
type PaymentAttempt struct {
	ID        string                     `db:"id" json:"id"`
	Status    types.PaymentAttemptStatus `db:"status" json:"status"`
	ErrorCode string                     `db:"error_code" json:"error_code,omitempty"`
	CreatedAt time.Time                  `db:"created_at" json:"created_at"`
}
