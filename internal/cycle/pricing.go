package cycle

import (
	"github.com/shopspring/decimal"

	ierr "github.com/Abaso007/builderai-sub001/internal/errors"
	"github.com/Abaso007/builderai-sub001/internal/types"
)

// PriceParams is one per-feature price computation request. Quantity is the
// billable unit count; Prorate scales the subtotal and is 1 for full cycles.
type PriceParams struct {
	Config      types.PriceConfig
	FeatureType types.FeatureType
	Quantity    decimal.Decimal
	Prorate     decimal.Decimal
}

// PriceResult carries the computed price in integer minor units. TotalPrice
// is the prorated subtotal rounded half-away-from-zero exactly once.
type PriceResult struct {
	UnitPrice     decimal.Decimal
	SubtotalPrice decimal.Decimal
	TotalPrice    decimal.Decimal
}

// CalculatePricePerFeature prices a quantity under the feature's config.
// Tier features use graduated or volume bracket math, package features bill
// whole packages, flat features a fixed amount; usage features price the
// measured quantity through the tier path.
func CalculatePricePerFeature(params PriceParams) (*PriceResult, error) {
	if params.Quantity.IsNegative() {
		return nil, ierr.NewError("quantity cannot be negative").
			WithReportableDetails(map[string]any{"quantity": params.Quantity}).
			Mark(ierr.ErrCycleCalculationFailed)
	}
	if err := params.Config.Validate(params.FeatureType); err != nil {
		return nil, ierr.WithError(err).
			WithHint("price config rejected").
			Mark(ierr.ErrCycleCalculationFailed)
	}

	prorate := params.Prorate
	if prorate.IsZero() {
		prorate = decimal.NewFromInt(1)
	}

	var unit, subtotal decimal.Decimal
	switch params.FeatureType {
	case types.FeatureTypeFlat:
		unit = params.Config.FlatAmount
		subtotal = params.Config.FlatAmount

	case types.FeatureTypePackage:
		packages := params.Quantity.
			Div(decimal.NewFromInt(params.Config.PackageUnits)).
			Ceil()
		unit = params.Config.PackageAmount
		subtotal = packages.Mul(params.Config.PackageAmount)

	case types.FeatureTypeTier, types.FeatureTypeUsage:
		unit, subtotal = calculateTieredPrice(params.Config, params.Quantity)
	}

	// single rounding at the minor unit boundary, half away from zero
	total := subtotal.Mul(prorate).Round(0)

	return &PriceResult{
		UnitPrice:     unit,
		SubtotalPrice: subtotal,
		TotalPrice:    total,
	}, nil
}

func calculateTieredPrice(cfg types.PriceConfig, quantity decimal.Decimal) (unit, subtotal decimal.Decimal) {
	if quantity.IsZero() {
		return decimal.Zero, decimal.Zero
	}

	switch cfg.TierMode {
	case types.TierModeVolume:
		// all units priced at the bracket the total quantity lands in
		selected := cfg.Tiers[len(cfg.Tiers)-1]
		for _, tier := range cfg.Tiers {
			if tier.LastUnit == nil || quantity.LessThanOrEqual(decimal.NewFromInt(*tier.LastUnit)) {
				selected = tier
				break
			}
		}
		return selected.UnitAmount, quantity.Mul(selected.UnitAmount).Add(selected.FlatAmount)

	default: // graduated
		subtotal = decimal.Zero
		unit = decimal.Zero
		for _, tier := range cfg.Tiers {
			first := decimal.NewFromInt(tier.FirstUnit)
			if quantity.LessThan(first) {
				break
			}
			upper := quantity
			if tier.LastUnit != nil && upper.GreaterThan(decimal.NewFromInt(*tier.LastUnit)) {
				upper = decimal.NewFromInt(*tier.LastUnit)
			}
			unitsInTier := upper.Sub(first).Add(decimal.NewFromInt(1))
			subtotal = subtotal.Add(unitsInTier.Mul(tier.UnitAmount)).Add(tier.FlatAmount)
			unit = tier.UnitAmount
		}
		return unit, subtotal
	}
}

// CalculateFreeUnits returns the free allowance embedded in the config:
// either the explicit free units or the offset before the first tier.
func CalculateFreeUnits(cfg types.PriceConfig, featureType types.FeatureType) int64 {
	if cfg.FreeUnits > 0 {
		return cfg.FreeUnits
	}
	if (featureType == types.FeatureTypeTier || featureType == types.FeatureTypeUsage) &&
		len(cfg.Tiers) > 0 && cfg.Tiers[0].FirstUnit > 1 {
		return cfg.Tiers[0].FirstUnit - 1
	}
	return 0
}
