package cycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Abaso007/builderai-sub001/internal/types"
)

func monthlyConfig(anchor int) types.BillingConfig {
	return types.BillingConfig{
		Interval:      types.BillingIntervalMonth,
		IntervalCount: 1,
		PlanType:      types.PlanTypeRecurring,
		Anchor:        anchor,
	}
}

func TestCalculateCycleWindow_MonthlyAnchored(t *testing.T) {
	effectiveStart := time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC)
	now := time.Date(2025, 3, 20, 12, 0, 0, 0, time.UTC)

	w, err := CalculateCycleWindow(now, effectiveStart, nil, monthlyConfig(15), nil)
	require.NoError(t, err)
	require.NotNil(t, w)

	assert.Equal(t, time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC), w.Start)
	assert.Equal(t, time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC), w.End)
	assert.True(t, w.Contains(now))
}

func TestCalculateCycleWindow_FirstPartialCycle(t *testing.T) {
	// start mid-cycle relative to the anchor: the first window runs from
	// the effective start to the next anchored boundary
	effectiveStart := time.Date(2025, 1, 20, 10, 0, 0, 0, time.UTC)
	now := time.Date(2025, 1, 25, 0, 0, 0, 0, time.UTC)

	w, err := CalculateCycleWindow(now, effectiveStart, nil, monthlyConfig(1), nil)
	require.NoError(t, err)
	require.NotNil(t, w)

	assert.Equal(t, effectiveStart, w.Start)
	assert.Equal(t, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), w.End)
}

func TestCalculateCycleWindow_MonthEndClamping(t *testing.T) {
	// anchor 31 clamps to the last day of shorter months without drifting
	effectiveStart := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	now := time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)

	w, err := CalculateCycleWindow(now, effectiveStart, nil, monthlyConfig(31), nil)
	require.NoError(t, err)
	require.NotNil(t, w)

	assert.Equal(t, time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC), w.Start)
	assert.Equal(t, time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC), w.End)

	// the following cycle realigns to the 31st instead of sticking at 28
	later := time.Date(2025, 3, 30, 0, 0, 0, 0, time.UTC)
	w2, err := CalculateCycleWindow(later, effectiveStart, nil, monthlyConfig(31), nil)
	require.NoError(t, err)
	require.NotNil(t, w2)
	assert.Equal(t, time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC), w2.Start)
	assert.Equal(t, time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC), w2.End)
}

func TestCalculateCycleWindow_OutsideEffectiveRange(t *testing.T) {
	effectiveStart := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	effectiveEnd := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	w, err := CalculateCycleWindow(
		time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
		effectiveStart, &effectiveEnd, monthlyConfig(1), nil)
	require.NoError(t, err)
	assert.Nil(t, w)

	w, err = CalculateCycleWindow(effectiveEnd, effectiveStart, &effectiveEnd, monthlyConfig(1), nil)
	require.NoError(t, err)
	assert.Nil(t, w)
}

func TestCalculateCycleWindow_ClampsToEffectiveEnd(t *testing.T) {
	effectiveStart := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	effectiveEnd := time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC)
	now := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)

	w, err := CalculateCycleWindow(now, effectiveStart, &effectiveEnd, monthlyConfig(1), nil)
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.Equal(t, effectiveEnd, w.End)
}

func TestCalculateCycleWindow_Onetime(t *testing.T) {
	effectiveStart := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := types.BillingConfig{PlanType: types.PlanTypeOnetime}

	w, err := CalculateCycleWindow(
		time.Date(2027, 5, 1, 0, 0, 0, 0, time.UTC), effectiveStart, nil, cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.Equal(t, effectiveStart, w.Start)
	assert.True(t, w.End.After(time.Date(9000, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestCalculateCycleWindow_TrialFlag(t *testing.T) {
	effectiveStart := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	trialEndsAt := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)

	w, err := CalculateCycleWindow(
		time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC),
		effectiveStart, nil, monthlyConfig(1), &trialEndsAt)
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.True(t, w.IsTrial)

	w, err = CalculateCycleWindow(
		time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC),
		effectiveStart, nil, monthlyConfig(1), &trialEndsAt)
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.False(t, w.IsTrial)
}

func TestCalculateNextNCycles_StopsAtReference(t *testing.T) {
	effectiveStart := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	reference := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)

	windows, err := CalculateNextNCycles(reference, effectiveStart, nil, nil, monthlyConfig(1), 0)
	require.NoError(t, err)
	require.Len(t, windows, 3)

	assert.Equal(t, effectiveStart, windows[0].Start)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), windows[2].Start)
	assert.Equal(t, time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), windows[2].End)

	// consecutive windows tile without gaps
	for i := 1; i < len(windows); i++ {
		assert.Equal(t, windows[i-1].End, windows[i].Start)
	}
}

func TestCalculateNextNCycles_RespectsEffectiveEnd(t *testing.T) {
	effectiveStart := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	effectiveEnd := time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC)
	reference := time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)

	windows, err := CalculateNextNCycles(reference, effectiveStart, &effectiveEnd, nil, monthlyConfig(1), 5)
	require.NoError(t, err)
	require.Len(t, windows, 2)
	assert.Equal(t, effectiveEnd, windows[1].End)
}

func TestCalculateNextNCycles_BeforeEffectiveStart(t *testing.T) {
	effectiveStart := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	reference := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	windows, err := CalculateNextNCycles(reference, effectiveStart, nil, nil, monthlyConfig(1), 0)
	require.NoError(t, err)
	assert.Empty(t, windows)
}

func TestCalculateCycleWindow_WeeklyAnchor(t *testing.T) {
	cfg := types.BillingConfig{
		Interval:      types.BillingIntervalWeek,
		IntervalCount: 1,
		PlanType:      types.PlanTypeRecurring,
		Anchor:        1, // Monday
	}
	effectiveStart := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC) // a Monday
	now := time.Date(2025, 1, 16, 0, 0, 0, 0, time.UTC)           // Thursday week 2

	w, err := CalculateCycleWindow(now, effectiveStart, nil, cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, w)
	assert.Equal(t, time.Date(2025, 1, 13, 0, 0, 0, 0, time.UTC), w.Start)
	assert.Equal(t, time.Date(2025, 1, 20, 0, 0, 0, 0, time.UTC), w.End)
}
