package types

import (
	ierr "github.com/Abaso007/builderai-sub001/internal/errors"
)

// GrantType classifies how a grant came to exist. Higher priority values
// win during merging and are consumed first in waterfall attribution.
type GrantType string

const (
	GrantTypeSubscription GrantType = "subscription"
	GrantTypeAddon        GrantType = "addon"
	GrantTypeTrial        GrantType = "trial"
	GrantTypePromotion    GrantType = "promotion"
	GrantTypeManual       GrantType = "manual"
)

// grantPriorities is the fixed type to priority map
var grantPriorities = map[GrantType]int{
	GrantTypeSubscription: 10,
	GrantTypeAddon:        20,
	GrantTypeTrial:        60,
	GrantTypePromotion:    70,
	GrantTypeManual:       80,
}

func (g GrantType) Validate() error {
	if _, ok := grantPriorities[g]; !ok {
		return ierr.NewError("invalid grant type").
			WithHintf("grant type %s is not supported", g).
			Mark(ierr.ErrValidation)
	}
	return nil
}

// Priority returns the fixed priority for the grant type
func (g GrantType) Priority() int {
	return grantPriorities[g]
}

// AutoRenewable reports whether the renewal cadence job may renew grants of
// this type. Subscription and trial grants are renewed only through
// subscription phase transitions.
func (g GrantType) AutoRenewable() bool {
	switch g {
	case GrantTypeAddon, GrantTypePromotion, GrantTypeManual:
		return true
	}
	return false
}

// GrantSubjectType is the scope a grant applies to
type GrantSubjectType string

const (
	GrantSubjectCustomer    GrantSubjectType = "customer"
	GrantSubjectProject     GrantSubjectType = "project"
	GrantSubjectPlan        GrantSubjectType = "plan"
	GrantSubjectPlanVersion GrantSubjectType = "plan_version"
)

func (s GrantSubjectType) Validate() error {
	switch s {
	case GrantSubjectCustomer, GrantSubjectProject, GrantSubjectPlan, GrantSubjectPlanVersion:
		return nil
	}
	return ierr.NewError("invalid grant subject type").
		WithHintf("subject type %s is not supported", s).
		Mark(ierr.ErrValidation)
}

// GrantSubject pairs a subject type with its identifier
type GrantSubject struct {
	Type GrantSubjectType `json:"type"`
	ID   string           `json:"id"`
}
