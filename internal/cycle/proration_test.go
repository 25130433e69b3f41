package cycle

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Abaso007/builderai-sub001/internal/types"
)

func TestCalculateProration_HalfCycle(t *testing.T) {
	cfg := types.BillingConfig{
		Interval:      types.BillingIntervalDay,
		IntervalCount: 30,
		PlanType:      types.PlanTypeRecurring,
	}
	effectiveStart := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	result, err := CalculateProration(ProrationParams{
		ServiceStart:   effectiveStart,
		ServiceEnd:     effectiveStart.AddDate(0, 0, 15),
		EffectiveStart: effectiveStart,
		BillingConfig:  cfg,
	})
	require.NoError(t, err)

	assert.True(t, result.Factor.Equal(decimal.NewFromFloat(0.5)),
		"expected 0.5, got %s", result.Factor)
	assert.Equal(t, effectiveStart, result.CycleStart)
	assert.Equal(t, effectiveStart.AddDate(0, 0, 30), result.CycleEnd)
}

func TestCalculateProration_FullCycleClampsToOne(t *testing.T) {
	cfg := types.BillingConfig{
		Interval:      types.BillingIntervalMonth,
		IntervalCount: 1,
		PlanType:      types.PlanTypeRecurring,
		Anchor:        1,
	}
	effectiveStart := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	result, err := CalculateProration(ProrationParams{
		ServiceStart:   effectiveStart,
		ServiceEnd:     effectiveStart.AddDate(0, 2, 0),
		EffectiveStart: effectiveStart,
		BillingConfig:  cfg,
	})
	require.NoError(t, err)
	assert.True(t, result.Factor.Equal(decimal.NewFromInt(1)))
}

func TestCalculateProration_InvertedServiceWindow(t *testing.T) {
	cfg := types.BillingConfig{
		Interval:      types.BillingIntervalMonth,
		IntervalCount: 1,
		PlanType:      types.PlanTypeRecurring,
	}
	at := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)

	_, err := CalculateProration(ProrationParams{
		ServiceStart:   at,
		ServiceEnd:     at,
		EffectiveStart: at,
		BillingConfig:  cfg,
	})
	require.Error(t, err)
}
