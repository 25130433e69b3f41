package cycle

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ierr "github.com/Abaso007/builderai-sub001/internal/errors"
	"github.com/Abaso007/builderai-sub001/internal/types"
)

func int64Ptr(v int64) *int64 {
	return &v
}

func graduatedTiers() types.PriceConfig {
	return types.PriceConfig{
		TierMode: types.TierModeGraduated,
		Tiers: []types.PriceTier{
			{FirstUnit: 1, LastUnit: int64Ptr(10), UnitAmount: decimal.NewFromInt(100)},
			{FirstUnit: 11, LastUnit: int64Ptr(20), UnitAmount: decimal.NewFromInt(50)},
			{FirstUnit: 21, UnitAmount: decimal.NewFromInt(20)},
		},
	}
}

func TestCalculatePricePerFeature_Graduated(t *testing.T) {
	// 10x100 + 10x50 + 5x20 = 1600
	result, err := CalculatePricePerFeature(PriceParams{
		Config:      graduatedTiers(),
		FeatureType: types.FeatureTypeTier,
		Quantity:    decimal.NewFromInt(25),
		Prorate:     decimal.NewFromInt(1),
	})
	require.NoError(t, err)
	assert.True(t, result.TotalPrice.Equal(decimal.NewFromInt(1600)),
		"expected 1600, got %s", result.TotalPrice)
	assert.True(t, result.SubtotalPrice.Equal(decimal.NewFromInt(1600)))
}

func TestCalculatePricePerFeature_GraduatedStopsAtQuantity(t *testing.T) {
	result, err := CalculatePricePerFeature(PriceParams{
		Config:      graduatedTiers(),
		FeatureType: types.FeatureTypeTier,
		Quantity:    decimal.NewFromInt(5),
		Prorate:     decimal.NewFromInt(1),
	})
	require.NoError(t, err)
	assert.True(t, result.TotalPrice.Equal(decimal.NewFromInt(500)))
}

func TestCalculatePricePerFeature_Volume(t *testing.T) {
	cfg := types.PriceConfig{
		TierMode: types.TierModeVolume,
		Tiers: []types.PriceTier{
			{FirstUnit: 1, LastUnit: int64Ptr(10), UnitAmount: decimal.NewFromInt(100)},
			{FirstUnit: 11, LastUnit: int64Ptr(20), UnitAmount: decimal.NewFromInt(50)},
			{FirstUnit: 21, UnitAmount: decimal.NewFromInt(20)},
		},
	}

	// all 15 units at the bracket containing 15
	result, err := CalculatePricePerFeature(PriceParams{
		Config:      cfg,
		FeatureType: types.FeatureTypeTier,
		Quantity:    decimal.NewFromInt(15),
		Prorate:     decimal.NewFromInt(1),
	})
	require.NoError(t, err)
	assert.True(t, result.TotalPrice.Equal(decimal.NewFromInt(750)))

	// unbounded last bracket
	result, err = CalculatePricePerFeature(PriceParams{
		Config:      cfg,
		FeatureType: types.FeatureTypeTier,
		Quantity:    decimal.NewFromInt(100),
		Prorate:     decimal.NewFromInt(1),
	})
	require.NoError(t, err)
	assert.True(t, result.TotalPrice.Equal(decimal.NewFromInt(2000)))
}

func TestCalculatePricePerFeature_Package(t *testing.T) {
	cfg := types.PriceConfig{
		PackageUnits:  1000,
		PackageAmount: decimal.NewFromInt(500),
	}

	// 2500 units round up to 3 packages
	result, err := CalculatePricePerFeature(PriceParams{
		Config:      cfg,
		FeatureType: types.FeatureTypePackage,
		Quantity:    decimal.NewFromInt(2500),
		Prorate:     decimal.NewFromInt(1),
	})
	require.NoError(t, err)
	assert.True(t, result.TotalPrice.Equal(decimal.NewFromInt(1500)))
}

func TestCalculatePricePerFeature_Flat(t *testing.T) {
	cfg := types.PriceConfig{FlatAmount: decimal.NewFromInt(2900)}

	result, err := CalculatePricePerFeature(PriceParams{
		Config:      cfg,
		FeatureType: types.FeatureTypeFlat,
		Quantity:    decimal.NewFromInt(1),
		Prorate:     decimal.NewFromInt(1),
	})
	require.NoError(t, err)
	assert.True(t, result.TotalPrice.Equal(decimal.NewFromInt(2900)))
}

func TestCalculatePricePerFeature_ProrationRoundsOnce(t *testing.T) {
	cfg := types.PriceConfig{FlatAmount: decimal.NewFromInt(1001)}

	// 1001 * 0.5 = 500.5 rounds half away from zero to 501
	result, err := CalculatePricePerFeature(PriceParams{
		Config:      cfg,
		FeatureType: types.FeatureTypeFlat,
		Quantity:    decimal.NewFromInt(1),
		Prorate:     decimal.NewFromFloat(0.5),
	})
	require.NoError(t, err)
	assert.True(t, result.TotalPrice.Equal(decimal.NewFromInt(501)),
		"expected 501, got %s", result.TotalPrice)
}

func TestCalculatePricePerFeature_NegativeQuantity(t *testing.T) {
	_, err := CalculatePricePerFeature(PriceParams{
		Config:      graduatedTiers(),
		FeatureType: types.FeatureTypeTier,
		Quantity:    decimal.NewFromInt(-1),
		Prorate:     decimal.NewFromInt(1),
	})
	require.Error(t, err)
	assert.Equal(t, ierr.ErrCodeCycleCalculationFailed, ierr.Code(err))
}

func TestCalculatePricePerFeature_RejectsTierGaps(t *testing.T) {
	cfg := types.PriceConfig{
		TierMode: types.TierModeGraduated,
		Tiers: []types.PriceTier{
			{FirstUnit: 1, LastUnit: int64Ptr(10), UnitAmount: decimal.NewFromInt(100)},
			{FirstUnit: 15, UnitAmount: decimal.NewFromInt(50)},
		},
	}
	_, err := CalculatePricePerFeature(PriceParams{
		Config:      cfg,
		FeatureType: types.FeatureTypeTier,
		Quantity:    decimal.NewFromInt(5),
		Prorate:     decimal.NewFromInt(1),
	})
	require.Error(t, err)
}

func TestCalculateFreeUnits(t *testing.T) {
	assert.Equal(t, int64(500),
		CalculateFreeUnits(types.PriceConfig{FreeUnits: 500}, types.FeatureTypeUsage))

	cfg := types.PriceConfig{
		TierMode: types.TierModeGraduated,
		Tiers: []types.PriceTier{
			{FirstUnit: 101, UnitAmount: decimal.NewFromInt(10)},
		},
	}
	assert.Equal(t, int64(100), CalculateFreeUnits(cfg, types.FeatureTypeTier))

	assert.Equal(t, int64(0), CalculateFreeUnits(types.PriceConfig{}, types.FeatureTypeFlat))
}
