package types

import (
	"github.com/shopspring/decimal"

	ierr "github.com/Abaso007/builderai-sub001/internal/errors"
)

// TierMode determines how tiered prices are applied
type TierMode string

const (
	// TierModeGraduated charges each bracket for the units that fall in it
	TierModeGraduated TierMode = "graduated"
	// TierModeVolume charges all units at the bracket the total falls in
	TierModeVolume TierMode = "volume"
)

// PriceTier is one bracket of a tiered price. Units are 1-based and
// inclusive; a nil LastUnit means the bracket is unbounded.
type PriceTier struct {
	FirstUnit  int64           `db:"first_unit" json:"first_unit"`
	LastUnit   *int64          `db:"last_unit" json:"last_unit"`
	UnitAmount decimal.Decimal `db:"unit_amount" json:"unit_amount"`
	FlatAmount decimal.Decimal `db:"flat_amount" json:"flat_amount"`
}

// PriceConfig is the pricing configuration of a feature plan version. The
// populated fields depend on the feature type; Validate rejects ambiguous
// shapes at load so tier and flat configurations are distinguishable.
// All amounts are integer minor units in the owning entity's currency.
type PriceConfig struct {
	TierMode      TierMode        `json:"tier_mode,omitempty"`
	Tiers         []PriceTier     `json:"tiers,omitempty"`
	FlatAmount    decimal.Decimal `json:"flat_amount,omitempty"`
	PackageUnits  int64           `json:"package_units,omitempty"`
	PackageAmount decimal.Decimal `json:"package_amount,omitempty"`
	FreeUnits     int64           `json:"free_units,omitempty"`
}

// Validate checks the config shape against the feature type
func (c PriceConfig) Validate(featureType FeatureType) error {
	switch featureType {
	case FeatureTypeFlat:
		if len(c.Tiers) > 0 {
			return ierr.NewError("flat feature must not carry tiers").
				Mark(ierr.ErrValidation)
		}
		return nil
	case FeatureTypePackage:
		if c.PackageUnits <= 0 {
			return ierr.NewError("package feature requires positive package units").
				WithReportableDetails(map[string]any{"package_units": c.PackageUnits}).
				Mark(ierr.ErrValidation)
		}
		return nil
	case FeatureTypeTier, FeatureTypeUsage:
		return c.validateTiers()
	}
	return featureType.Validate()
}

// validateTiers rejects tier lists with gaps or overlaps. Brackets must be
// sorted, contiguous and end with a single unbounded bracket (or a finite
// ceiling).
func (c PriceConfig) validateTiers() error {
	if len(c.Tiers) == 0 {
		return ierr.NewError("tiered feature requires at least one tier").
			Mark(ierr.ErrValidation)
	}
	if c.TierMode != TierModeGraduated && c.TierMode != TierModeVolume {
		return ierr.NewErrorf("invalid tier mode %q", c.TierMode).
			Mark(ierr.ErrValidation)
	}

	expectedFirst := c.Tiers[0].FirstUnit
	if expectedFirst < 1 {
		return ierr.NewError("first tier must start at unit 1 or above").
			Mark(ierr.ErrValidation)
	}
	for i, tier := range c.Tiers {
		if tier.FirstUnit != expectedFirst {
			return ierr.NewErrorf("tier %d has a gap or overlap at unit %d", i, tier.FirstUnit).
				Mark(ierr.ErrValidation)
		}
		if tier.UnitAmount.IsNegative() || tier.FlatAmount.IsNegative() {
			return ierr.NewErrorf("tier %d has a negative amount", i).
				Mark(ierr.ErrValidation)
		}
		if tier.LastUnit == nil {
			if i != len(c.Tiers)-1 {
				return ierr.NewErrorf("tier %d is unbounded but not last", i).
					Mark(ierr.ErrValidation)
			}
			return nil
		}
		if *tier.LastUnit < tier.FirstUnit {
			return ierr.NewErrorf("tier %d ends before it starts", i).
				Mark(ierr.ErrValidation)
		}
		expectedFirst = *tier.LastUnit + 1
	}
	return nil
}
