package grant

import (
	"time"

	"github.com/shopspring/decimal"

	ierr "github.com/Abaso007/builderai-sub001/internal/errors"
	"github.com/Abaso007/builderai-sub001/internal/types"
)

// Grant is an allocation of a feature to a subject with a priority,
// optional limit and temporal validity. Grants on the same feature slug
// whose active intervals overlap must agree on feature type, aggregation
// method and reset cadence.
type Grant struct {
	ID                   string                  `db:"id" json:"id"`
	SubjectType          types.GrantSubjectType  `db:"subject_type" json:"subject_type"`
	SubjectID            string                  `db:"subject_id" json:"subject_id"`
	FeaturePlanVersionID string                  `db:"feature_plan_version_id" json:"feature_plan_version_id"`
	FeatureSlug          string                  `db:"feature_slug" json:"feature_slug"`
	FeatureType          types.FeatureType       `db:"feature_type" json:"feature_type"`
	AggregationMethod    types.AggregationMethod `db:"aggregation_method" json:"aggregation_method"`
	ResetConfig          *types.BillingConfig    `db:"reset_config" json:"reset_config,omitempty"`
	Type                 types.GrantType         `db:"type" json:"type"`
	Priority             int                     `db:"priority" json:"priority"`
	EffectiveAt          time.Time               `db:"effective_at" json:"effective_at"`
	ExpiresAt            *time.Time              `db:"expires_at" json:"expires_at,omitempty"`
	Limit                *decimal.Decimal        `db:"limit" json:"limit,omitempty"`
	Units                *decimal.Decimal        `db:"units" json:"units,omitempty"`
	AllowOverage         bool                    `db:"allow_overage" json:"allow_overage"`
	AutoRenew            bool                    `db:"auto_renew" json:"auto_renew"`
	Anchor               int                     `db:"anchor" json:"anchor"`
	Deleted              bool                    `db:"deleted" json:"deleted"`

	// backrefs populated when the grant was created by cycle
	// materialization or a subscription change
	SubscriptionID      string `db:"subscription_id" json:"subscription_id,omitempty"`
	SubscriptionPhaseID string `db:"subscription_phase_id" json:"subscription_phase_id,omitempty"`
	SubscriptionItemID  string `db:"subscription_item_id" json:"subscription_item_id,omitempty"`

	types.BaseModel
}

func (g *Grant) Validate() error {
	if err := g.SubjectType.Validate(); err != nil {
		return err
	}
	if g.SubjectID == "" {
		return ierr.NewError("subject_id is required").
			Mark(ierr.ErrValidation)
	}
	if g.FeaturePlanVersionID == "" {
		return ierr.NewError("feature_plan_version_id is required").
			Mark(ierr.ErrValidation)
	}
	if g.FeatureSlug == "" {
		return ierr.NewError("feature_slug is required").
			Mark(ierr.ErrValidation)
	}
	if err := g.Type.Validate(); err != nil {
		return err
	}
	if err := g.FeatureType.Validate(); err != nil {
		return err
	}
	if err := g.AggregationMethod.Validate(); err != nil {
		return err
	}
	if g.EffectiveAt.IsZero() {
		return ierr.NewError("effective_at is required").
			Mark(ierr.ErrValidation)
	}
	if g.ExpiresAt != nil && !g.ExpiresAt.After(g.EffectiveAt) {
		return ierr.NewError("expires_at must be after effective_at").
			WithReportableDetails(map[string]any{
				"effective_at": g.EffectiveAt,
				"expires_at":   g.ExpiresAt,
			}).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// ActiveAt reports whether the grant's validity interval covers t
func (g *Grant) ActiveAt(t time.Time) bool {
	if g.Deleted {
		return false
	}
	if t.Before(g.EffectiveAt) {
		return false
	}
	return g.ExpiresAt == nil || t.Before(*g.ExpiresAt)
}

// Overlaps reports whether the grant's validity intersects [start, end).
// A nil end means an open-ended query window.
func (g *Grant) Overlaps(start time.Time, end *time.Time) bool {
	if g.Deleted {
		return false
	}
	if g.ExpiresAt != nil && !g.ExpiresAt.After(start) {
		return false
	}
	if end != nil && !g.EffectiveAt.Before(*end) {
		return false
	}
	return true
}

// CompatibleWith reports whether two grants on the same feature slug may
// coexist while their intervals overlap
func (g *Grant) CompatibleWith(other *Grant) bool {
	if g.FeatureType != other.FeatureType {
		return false
	}
	if g.AggregationMethod != other.AggregationMethod {
		return false
	}
	return equalResetConfigs(g.ResetConfig, other.ResetConfig)
}

func equalResetConfigs(a, b *types.BillingConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// EffectiveResetConfig returns the grant's reset cadence with the reset
// anchor overridden by the grant's own anchor
func (g *Grant) EffectiveResetConfig() *types.BillingConfig {
	if g.ResetConfig == nil {
		return nil
	}
	cfg := g.ResetConfig.WithAnchor(g.Anchor)
	return &cfg
}
