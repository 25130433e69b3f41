package feature

import (
	"github.com/shopspring/decimal"

	ierr "github.com/Abaso007/builderai-sub001/internal/errors"
	"github.com/Abaso007/builderai-sub001/internal/types"
)

// Feature is a metered or flat capability identified by slug within a project
type Feature struct {
	ID          string            `db:"id" json:"id"`
	Slug        string            `db:"slug" json:"slug"`
	Name        string            `db:"name" json:"name"`
	Description string            `db:"description" json:"description"`
	FeatureType types.FeatureType `db:"feature_type" json:"feature_type"`
	types.BaseModel
}

func (f *Feature) Validate() error {
	if f.Slug == "" {
		return ierr.NewError("slug is required").
			WithHint("Please provide a feature slug").
			Mark(ierr.ErrValidation)
	}
	return f.FeatureType.Validate()
}

// FeaturePlanVersion is a feature's pricing configuration inside one plan
// version. ResetConfig, when set, governs the usage reset cadence
// independently of the billing cadence.
type FeaturePlanVersion struct {
	ID                string                  `db:"id" json:"id"`
	FeatureID         string                  `db:"feature_id" json:"feature_id"`
	FeatureSlug       string                  `db:"feature_slug" json:"feature_slug"`
	PlanID            string                  `db:"plan_id" json:"plan_id"`
	PlanVersionID     string                  `db:"plan_version_id" json:"plan_version_id"`
	FeatureType       types.FeatureType       `db:"feature_type" json:"feature_type"`
	AggregationMethod types.AggregationMethod `db:"aggregation_method" json:"aggregation_method"`
	Config            types.PriceConfig       `db:"config" json:"config"`
	BillingConfig     types.BillingConfig     `db:"billing_config" json:"billing_config"`
	ResetConfig       *types.BillingConfig    `db:"reset_config" json:"reset_config,omitempty"`
	Limit             *decimal.Decimal        `db:"limit" json:"limit,omitempty"`
	AllowOverage      bool                    `db:"allow_overage" json:"allow_overage"`
	Currency          string                  `db:"currency" json:"currency"`
	types.BaseModel
}

func (v *FeaturePlanVersion) Validate() error {
	if v.FeatureSlug == "" {
		return ierr.NewError("feature_slug is required").
			Mark(ierr.ErrValidation)
	}
	if err := v.FeatureType.Validate(); err != nil {
		return err
	}
	if err := v.AggregationMethod.Validate(); err != nil {
		return err
	}
	if err := v.Config.Validate(v.FeatureType); err != nil {
		return err
	}
	if err := v.BillingConfig.Validate(); err != nil {
		return err
	}
	if v.ResetConfig != nil {
		if err := v.ResetConfig.Validate(); err != nil {
			return ierr.WithError(err).
				WithHint("reset config is not a valid cadence").
				Mark(ierr.ErrValidation)
		}
	}
	return nil
}
