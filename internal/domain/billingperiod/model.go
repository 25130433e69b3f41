package billingperiod

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	ierr "github.com/Abaso007/builderai-sub001/internal/errors"
	"github.com/Abaso007/builderai-sub001/internal/types"
)

// BillingPeriod is the persistent record of one billing cycle for one
// subscription item. The tuple (project, subscription, phase, item,
// cycle start, cycle end) is unique; re-materialization is a no-op.
type BillingPeriod struct {
	ID                  string                    `db:"id" json:"id"`
	SubscriptionID      string                    `db:"subscription_id" json:"subscription_id"`
	SubscriptionPhaseID string                    `db:"subscription_phase_id" json:"subscription_phase_id"`
	SubscriptionItemID  string                    `db:"subscription_item_id" json:"subscription_item_id"`
	CycleStartAt        time.Time                 `db:"cycle_start_at" json:"cycle_start_at"`
	CycleEndAt          time.Time                 `db:"cycle_end_at" json:"cycle_end_at"`
	PeriodStatus        types.BillingPeriodStatus `db:"period_status" json:"period_status"`
	PeriodType          types.BillingPeriodType   `db:"period_type" json:"period_type"`
	InvoiceAt           time.Time                 `db:"invoice_at" json:"invoice_at"`
	WhenToBill          types.WhenToBill          `db:"when_to_bill" json:"when_to_bill"`
	StatementKey        string                    `db:"statement_key" json:"statement_key"`
	GrantID             string                    `db:"grant_id" json:"grant_id"`
	types.BaseModel
}

func (p *BillingPeriod) Validate() error {
	if p.SubscriptionID == "" || p.SubscriptionPhaseID == "" || p.SubscriptionItemID == "" {
		return ierr.NewError("subscription, phase and item ids are required").
			Mark(ierr.ErrValidation)
	}
	if !p.CycleStartAt.Before(p.CycleEndAt) {
		return ierr.NewError("cycle start must precede cycle end").
			WithReportableDetails(map[string]any{
				"cycle_start_at": p.CycleStartAt,
				"cycle_end_at":   p.CycleEndAt,
			}).
			Mark(ierr.ErrValidation)
	}
	if p.GrantID == "" {
		return ierr.NewError("grant_id is required").
			Mark(ierr.ErrValidation)
	}
	return p.WhenToBill.Validate()
}

// StatementKey groups billing activity sharing identical invoice-affecting
// variables. The format is bit-exact:
// hexSHA256(projectId|customerId|subscriptionId|dec(invoiceAtMs)|currency|paymentProvider|collectionMethod)
func StatementKey(projectID, customerID, subscriptionID string, invoiceAt time.Time, currency, paymentProvider string, collectionMethod types.CollectionMethod) string {
	payload := fmt.Sprintf("%s|%s|%s|%d|%s|%s|%s",
		projectID,
		customerID,
		subscriptionID,
		invoiceAt.UTC().UnixMilli(),
		currency,
		paymentProvider,
		collectionMethod,
	)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
