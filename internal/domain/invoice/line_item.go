package invoice

import (
	"time"

	"github.com/shopspring/decimal"

	ierr "github.com/Abaso007/builderai-sub001/internal/errors"
	"github.com/Abaso007/builderai-sub001/internal/types"
)

// LineItem is a child of an invoice bound to a feature plan version and,
// for subscription charges, a subscription item
type LineItem struct {
	ID                   string                `db:"id" json:"id"`
	InvoiceID            string                `db:"invoice_id" json:"invoice_id"`
	FeaturePlanVersionID string                `db:"feature_plan_version_id" json:"feature_plan_version_id"`
	SubscriptionItemID   *string               `db:"subscription_item_id" json:"subscription_item_id,omitempty"`
	Kind                 types.InvoiceItemKind `db:"kind" json:"kind"`

	Quantity        decimal.Decimal `db:"quantity" json:"quantity"`
	UnitAmountCents decimal.Decimal `db:"unit_amount_cents" json:"unit_amount_cents"`
	AmountSubtotal  decimal.Decimal `db:"amount_subtotal" json:"amount_subtotal"`
	AmountTotal     decimal.Decimal `db:"amount_total" json:"amount_total"`
	Description     string          `db:"description" json:"description"`

	CycleStartAt    time.Time       `db:"cycle_start_at" json:"cycle_start_at"`
	CycleEndAt      time.Time       `db:"cycle_end_at" json:"cycle_end_at"`
	ProrationFactor decimal.Decimal `db:"proration_factor" json:"proration_factor"`

	ItemProviderID *string `db:"item_provider_id" json:"item_provider_id,omitempty"`

	types.BaseModel
}

func (li *LineItem) Validate() error {
	if li.InvoiceID == "" {
		return ierr.NewError("invoice_id is required").
			Mark(ierr.ErrValidation)
	}
	if li.FeaturePlanVersionID == "" && li.Kind.Billable() {
		return ierr.NewError("feature_plan_version_id is required for billable items").
			Mark(ierr.ErrValidation)
	}
	return nil
}

// CycleKey groups line items that share a billing cycle
type CycleKey struct {
	Start time.Time
	End   time.Time
}

// CycleKeyOf returns the grouping key of the item
func (li *LineItem) CycleKeyOf() CycleKey {
	return CycleKey{Start: li.CycleStartAt.UTC(), End: li.CycleEndAt.UTC()}
}

// LineItemUpdate carries the priced fields applied back to a line item in
// the finalization batch update
type LineItemUpdate struct {
	ID              string
	Quantity        decimal.Decimal
	UnitAmountCents decimal.Decimal
	AmountSubtotal  decimal.Decimal
	AmountTotal     decimal.Decimal
	Description     string
}
