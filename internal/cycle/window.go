// Package cycle provides the pure calendar and price arithmetic behind
// billing and usage-reset cadences. Everything operates on UTC instants;
// no storage or clock access happens here.
package cycle

import (
	"time"

	ierr "github.com/Abaso007/builderai-sub001/internal/errors"
	"github.com/Abaso007/builderai-sub001/internal/types"
)

// maxCycleSteps bounds anchor iteration so a malformed config cannot spin
const maxCycleSteps = 10000

// Window is a half-open cycle interval [Start, End)
type Window struct {
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	IsTrial bool      `json:"is_trial,omitempty"`
}

// Contains reports whether t falls inside the window
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Duration returns the window length
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// farFuture stands in for an open-ended effective end
var farFuture = time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC)

// CalculateCycleWindow returns the billing or reset window containing now
// for the given cadence, or nil when now lies outside the effective range.
// For onetime plans there is a single window spanning the effective range.
func CalculateCycleWindow(
	now time.Time,
	effectiveStart time.Time,
	effectiveEnd *time.Time,
	cfg types.BillingConfig,
	trialEndsAt *time.Time,
) (*Window, error) {
	now = now.UTC()
	effectiveStart = effectiveStart.UTC()

	if now.Before(effectiveStart) {
		return nil, nil
	}
	if effectiveEnd != nil && !now.Before(effectiveEnd.UTC()) {
		return nil, nil
	}

	if cfg.PlanType == types.PlanTypeOnetime {
		end := farFuture
		if effectiveEnd != nil {
			end = effectiveEnd.UTC()
		}
		w := Window{Start: effectiveStart, End: end}
		w.IsTrial = isTrialWindow(w, trialEndsAt)
		return &w, nil
	}

	if err := cfg.Validate(); err != nil {
		return nil, ierr.WithError(err).
			WithHint("billing config is not a valid cadence").
			Mark(ierr.ErrCycleCalculationFailed)
	}

	iter := newBoundaryIterator(effectiveStart, cfg)
	for i := 0; i < maxCycleSteps; i++ {
		w := iter.next()
		if effectiveEnd != nil && !w.End.Before(effectiveEnd.UTC()) {
			w.End = effectiveEnd.UTC()
		}
		if w.Contains(now) {
			w.IsTrial = isTrialWindow(w, trialEndsAt)
			return &w, nil
		}
		if effectiveEnd != nil && !w.End.Before(effectiveEnd.UTC()) {
			break
		}
	}

	return nil, ierr.NewError("cycle containing reference instant not found").
		WithReportableDetails(map[string]any{
			"now":             now,
			"effective_start": effectiveStart,
		}).
		Mark(ierr.ErrCycleCalculationFailed)
}

// CalculateNextNCycles returns the ordered windows from effectiveStart
// forward. With count zero it stops at the cycle containing the reference
// date; otherwise it yields count additional cycles beyond that one.
func CalculateNextNCycles(
	reference time.Time,
	effectiveStart time.Time,
	effectiveEnd *time.Time,
	trialEndsAt *time.Time,
	cfg types.BillingConfig,
	count int,
) ([]Window, error) {
	reference = reference.UTC()
	effectiveStart = effectiveStart.UTC()

	if reference.Before(effectiveStart) {
		return nil, nil
	}

	if cfg.PlanType == types.PlanTypeOnetime {
		w, err := CalculateCycleWindow(reference, effectiveStart, effectiveEnd, cfg, trialEndsAt)
		if err != nil || w == nil {
			return nil, err
		}
		return []Window{*w}, nil
	}

	if err := cfg.Validate(); err != nil {
		return nil, ierr.WithError(err).
			WithHint("billing config is not a valid cadence").
			Mark(ierr.ErrCycleCalculationFailed)
	}

	windows := make([]Window, 0, 4)
	iter := newBoundaryIterator(effectiveStart, cfg)
	remaining := count
	pastReference := false

	for i := 0; i < maxCycleSteps; i++ {
		w := iter.next()
		if effectiveEnd != nil && !w.Start.Before(effectiveEnd.UTC()) {
			break
		}
		if effectiveEnd != nil && w.End.After(effectiveEnd.UTC()) {
			w.End = effectiveEnd.UTC()
		}
		w.IsTrial = isTrialWindow(w, trialEndsAt)

		if pastReference {
			if remaining <= 0 {
				break
			}
			remaining--
		}
		windows = append(windows, w)

		if !pastReference && w.Contains(reference) {
			pastReference = true
			if remaining <= 0 {
				break
			}
		}
		if effectiveEnd != nil && !w.End.Before(effectiveEnd.UTC()) {
			break
		}
	}

	return windows, nil
}

func isTrialWindow(w Window, trialEndsAt *time.Time) bool {
	return trialEndsAt != nil && !w.End.After(trialEndsAt.UTC())
}

// boundaryIterator yields consecutive cycle windows. Boundaries are always
// computed from the anchored origin with a step multiplier so month-end
// clamping cannot drift the cadence.
type boundaryIterator struct {
	origin         time.Time
	effectiveStart time.Time
	cfg            types.BillingConfig
	step           int
	prev           time.Time
	started        bool
}

func newBoundaryIterator(effectiveStart time.Time, cfg types.BillingConfig) *boundaryIterator {
	return &boundaryIterator{
		origin:         alignToAnchor(effectiveStart, cfg),
		effectiveStart: effectiveStart,
		cfg:            cfg,
	}
}

func (it *boundaryIterator) next() Window {
	if !it.started {
		it.started = true
		it.step = 1
		it.prev = it.effectiveStart
		first := it.boundaryAt(1)
		// effective start already aligned means a full first cycle
		if !first.After(it.effectiveStart) {
			it.step = 2
			first = it.boundaryAt(2)
		}
		w := Window{Start: it.prev, End: first}
		it.prev = first
		return w
	}

	it.step++
	next := it.boundaryAt(it.step)
	w := Window{Start: it.prev, End: next}
	it.prev = next
	return w
}

// boundaryAt computes the k-th boundary after the origin
func (it *boundaryIterator) boundaryAt(k int) time.Time {
	n := it.cfg.IntervalCount * k
	switch it.cfg.Interval {
	case types.BillingIntervalMinute:
		return it.origin.Add(time.Duration(n) * time.Minute)
	case types.BillingIntervalDay:
		return addClampedDate(it.origin, 0, 0, n)
	case types.BillingIntervalWeek:
		return addClampedDate(it.origin, 0, 0, 7*n)
	case types.BillingIntervalMonth:
		return addClampedDate(it.origin, 0, n, 0)
	case types.BillingIntervalYear:
		return addClampedDate(it.origin, n, 0, 0)
	}
	return it.origin
}

// alignToAnchor returns the anchored cycle boundary at or before t.
// The anchor is a day-of-month for month and year intervals, a day-of-week
// (0 = Sunday) for week, an hour for day; minute cadences truncate.
func alignToAnchor(t time.Time, cfg types.BillingConfig) time.Time {
	t = t.UTC()
	switch cfg.Interval {
	case types.BillingIntervalMinute:
		return t.Truncate(time.Minute)

	case types.BillingIntervalDay:
		hour := clampInt(cfg.Anchor, 0, 23)
		b := time.Date(t.Year(), t.Month(), t.Day(), hour, 0, 0, 0, time.UTC)
		if b.After(t) {
			b = b.AddDate(0, 0, -1)
		}
		return b

	case types.BillingIntervalWeek:
		weekday := clampInt(cfg.Anchor, 0, 6)
		b := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		diff := (int(b.Weekday()) - weekday + 7) % 7
		b = b.AddDate(0, 0, -diff)
		if b.After(t) {
			b = b.AddDate(0, 0, -7)
		}
		return b

	case types.BillingIntervalMonth:
		day := clampInt(cfg.Anchor, 1, 31)
		b := dateWithClampedDay(t.Year(), t.Month(), day)
		if b.After(t) {
			b = dateWithClampedDay(t.Year(), t.Month()-1, day)
		}
		return b

	case types.BillingIntervalYear:
		day := clampInt(cfg.Anchor, 1, 31)
		b := dateWithClampedDay(t.Year(), t.Month(), day)
		if b.After(t) {
			b = dateWithClampedDay(t.Year()-1, t.Month(), day)
		}
		return b
	}
	return t
}

// dateWithClampedDay builds a UTC midnight date clamping the day to the
// last valid day of the month
func dateWithClampedDay(year int, month time.Month, day int) time.Time {
	firstOfNext := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC)
	lastDay := firstOfNext.AddDate(0, 0, -1).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// addClampedDate advances t by the given years, months and days, clamping
// the day-of-month to the last valid day instead of rolling over
func addClampedDate(t time.Time, years, months, days int) time.Time {
	y, m, d := t.Date()
	h, min, sec := t.Clock()

	newY := y + years
	newM := time.Month(int(m) + months)
	for newM > 12 {
		newM -= 12
		newY++
	}
	for newM < 1 {
		newM += 12
		newY--
	}

	firstOfNext := time.Date(newY, newM+1, 1, 0, 0, 0, 0, t.Location())
	lastDay := firstOfNext.AddDate(0, 0, -1).Day()

	newD := d
	if newD > lastDay {
		newD = lastDay
	}

	return time.Date(newY, newM, newD, h, min, sec, t.Nanosecond(), t.Location()).AddDate(0, 0, days)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
