package subscription

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Abaso007/builderai-sub001/internal/types"
)

// Subscription is the read-only subscription surface produced by the
// upstream CRUD. The billing engine never mutates it.
type Subscription struct {
	ID               string                 `db:"id" json:"id"`
	CustomerID       string                 `db:"customer_id" json:"customer_id"`
	PlanID           string                 `db:"plan_id" json:"plan_id"`
	PlanVersionID    string                 `db:"plan_version_id" json:"plan_version_id"`
	Currency         string                 `db:"currency" json:"currency"`
	PaymentProvider  string                 `db:"payment_provider" json:"payment_provider"`
	CollectionMethod types.CollectionMethod `db:"collection_method" json:"collection_method"`
	PaymentMethodID  string                 `db:"payment_method_id" json:"payment_method_id"`
	types.BaseModel
}

// Phase is one contiguous stretch of a subscription under a single plan
// version, optionally opening with a trial
type Phase struct {
	ID             string     `db:"id" json:"id"`
	SubscriptionID string     `db:"subscription_id" json:"subscription_id"`
	PlanID         string     `db:"plan_id" json:"plan_id"`
	PlanVersionID  string     `db:"plan_version_id" json:"plan_version_id"`
	StartAt        time.Time  `db:"start_at" json:"start_at"`
	EndAt          *time.Time `db:"end_at" json:"end_at,omitempty"`
	TrialEndsAt    *time.Time `db:"trial_ends_at" json:"trial_ends_at,omitempty"`
	types.BaseModel
}

// ActiveAt reports whether the phase covers t
func (p *Phase) ActiveAt(t time.Time) bool {
	if t.Before(p.StartAt) {
		return false
	}
	return p.EndAt == nil || t.Before(*p.EndAt)
}

// Item is one billable feature inside a phase
type Item struct {
	ID                   string              `db:"id" json:"id"`
	SubscriptionID       string              `db:"subscription_id" json:"subscription_id"`
	SubscriptionPhaseID  string              `db:"subscription_phase_id" json:"subscription_phase_id"`
	FeaturePlanVersionID string              `db:"feature_plan_version_id" json:"feature_plan_version_id"`
	FeatureSlug          string              `db:"feature_slug" json:"feature_slug"`
	Quantity             decimal.Decimal     `db:"quantity" json:"quantity"`
	WhenToBill           types.WhenToBill    `db:"when_to_bill" json:"when_to_bill"`
	BillingConfig        types.BillingConfig `db:"billing_config" json:"billing_config"`
	types.BaseModel
}

// PhaseWithItems bundles a phase with its items for materialization
type PhaseWithItems struct {
	Phase Phase
	Items []*Item
}
