package cycle

import (
	"time"

	"github.com/shopspring/decimal"

	ierr "github.com/Abaso007/builderai-sub001/internal/errors"
	"github.com/Abaso007/builderai-sub001/internal/types"
)

// ProrationParams identifies the served slice of a billing cycle
type ProrationParams struct {
	ServiceStart   time.Time
	ServiceEnd     time.Time
	EffectiveStart time.Time
	BillingConfig  types.BillingConfig
}

// ProrationResult carries the proration factor and the reference cycle the
// factor was computed against
type ProrationResult struct {
	Factor     decimal.Decimal
	CycleStart time.Time
	CycleEnd   time.Time
}

// CalculateProration computes the fraction of the billing cycle containing
// ServiceStart that was actually served. The factor is clamped to [0, 1].
func CalculateProration(params ProrationParams) (*ProrationResult, error) {
	if !params.ServiceStart.Before(params.ServiceEnd) {
		return nil, ierr.NewError("service start must precede service end").
			WithReportableDetails(map[string]any{
				"service_start": params.ServiceStart,
				"service_end":   params.ServiceEnd,
			}).
			Mark(ierr.ErrCycleCalculationFailed)
	}

	reference, err := CalculateCycleWindow(
		params.ServiceStart, params.EffectiveStart, nil, params.BillingConfig, nil)
	if err != nil {
		return nil, err
	}
	if reference == nil {
		return nil, ierr.NewError("service start is outside the effective range").
			Mark(ierr.ErrCycleCalculationFailed)
	}

	cycleSeconds := decimal.NewFromFloat(reference.Duration().Seconds())
	if cycleSeconds.IsZero() {
		return nil, ierr.NewError("reference cycle has zero length").
			Mark(ierr.ErrCycleCalculationFailed)
	}

	servedSeconds := decimal.NewFromFloat(params.ServiceEnd.Sub(params.ServiceStart).Seconds())
	factor := servedSeconds.Div(cycleSeconds)
	if factor.GreaterThan(decimal.NewFromInt(1)) {
		factor = decimal.NewFromInt(1)
	}
	if factor.IsNegative() {
		factor = decimal.Zero
	}

	return &ProrationResult{
		Factor:     factor,
		CycleStart: reference.Start,
		CycleEnd:   reference.End,
	}, nil
}
