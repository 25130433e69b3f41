package types

import (
	ierr "github.com/Abaso007/builderai-sub001/internal/errors"
)

// BillingInterval is the unit of a billing or reset cadence
type BillingInterval string

const (
	BillingIntervalMinute BillingInterval = "minute"
	BillingIntervalDay    BillingInterval = "day"
	BillingIntervalWeek   BillingInterval = "week"
	BillingIntervalMonth  BillingInterval = "month"
	BillingIntervalYear   BillingInterval = "year"
)

func (b BillingInterval) Validate() error {
	switch b {
	case BillingIntervalMinute, BillingIntervalDay, BillingIntervalWeek,
		BillingIntervalMonth, BillingIntervalYear:
		return nil
	}
	return ierr.NewError("invalid billing interval").
		WithHintf("billing interval %s is not supported", b).
		Mark(ierr.ErrValidation)
}

// PlanType distinguishes recurring plans from one-time purchases
type PlanType string

const (
	PlanTypeRecurring PlanType = "recurring"
	PlanTypeOnetime   PlanType = "onetime"
)

func (p PlanType) Validate() error {
	switch p {
	case PlanTypeRecurring, PlanTypeOnetime:
		return nil
	}
	return ierr.NewError("invalid plan type").
		WithHintf("plan type %s is not supported", p).
		Mark(ierr.ErrValidation)
}

// BillingConfig describes a billing or usage-reset cadence. The anchor fixes
// cycle boundaries: day-of-month for month and year intervals, day-of-week
// for week, hour for day; minute intervals are minute aligned.
type BillingConfig struct {
	Interval      BillingInterval `db:"interval" json:"interval"`
	IntervalCount int             `db:"interval_count" json:"interval_count"`
	PlanType      PlanType        `db:"plan_type" json:"plan_type"`
	Anchor        int             `db:"anchor" json:"anchor"`
}

func (c BillingConfig) Validate() error {
	if c.PlanType == PlanTypeOnetime {
		return c.PlanType.Validate()
	}
	if err := c.Interval.Validate(); err != nil {
		return err
	}
	if c.IntervalCount <= 0 {
		return ierr.NewError("interval count must be a positive integer").
			WithHintf("got interval count %d", c.IntervalCount).
			Mark(ierr.ErrValidation)
	}
	return c.PlanType.Validate()
}

// WithAnchor returns a copy of the config with the anchor overridden
func (c BillingConfig) WithAnchor(anchor int) BillingConfig {
	c.Anchor = anchor
	return c
}

// WhenToBill determines whether a billing period is invoiced at its start
// or at its end
type WhenToBill string

const (
	WhenToBillPayInAdvance WhenToBill = "pay_in_advance"
	WhenToBillPayInArrear  WhenToBill = "pay_in_arrear"
)

func (w WhenToBill) Validate() error {
	switch w {
	case WhenToBillPayInAdvance, WhenToBillPayInArrear:
		return nil
	}
	return ierr.NewError("invalid when to bill").
		WithHintf("when to bill %s is not supported", w).
		Mark(ierr.ErrValidation)
}

// CollectionMethod is how payment is taken for an invoice
type CollectionMethod string

const (
	CollectionMethodChargeAutomatically CollectionMethod = "charge_automatically"
	CollectionMethodSendInvoice         CollectionMethod = "send_invoice"
)

func (c CollectionMethod) Validate() error {
	switch c {
	case CollectionMethodChargeAutomatically, CollectionMethodSendInvoice:
		return nil
	}
	return ierr.NewError("invalid collection method").
		WithHintf("collection method %s is not supported", c).
		Mark(ierr.ErrValidation)
}

// BillingPeriodStatus is the lifecycle status of a materialized cycle
type BillingPeriodStatus string

const (
	BillingPeriodStatusPending  BillingPeriodStatus = "pending"
	BillingPeriodStatusInvoiced BillingPeriodStatus = "invoiced"
)

// BillingPeriodType distinguishes trial periods from normal ones
type BillingPeriodType string

const (
	BillingPeriodTypeNormal BillingPeriodType = "normal"
	BillingPeriodTypeTrial  BillingPeriodType = "trial"
)
