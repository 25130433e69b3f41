package types

import (
	"strings"

	ierr "github.com/Abaso007/builderai-sub001/internal/errors"
)

// FeatureType determines how a feature is priced and metered
type FeatureType string

const (
	FeatureTypeFlat    FeatureType = "flat"
	FeatureTypeTier    FeatureType = "tier"
	FeatureTypeUsage   FeatureType = "usage"
	FeatureTypePackage FeatureType = "package"
)

func (f FeatureType) Validate() error {
	switch f {
	case FeatureTypeFlat, FeatureTypeTier, FeatureTypeUsage, FeatureTypePackage:
		return nil
	}
	return ierr.NewError("invalid feature type").
		WithHintf("feature type %s is not supported", f).
		Mark(ierr.ErrValidation)
}

// IsMetered reports whether the feature type tracks usage counters
func (f FeatureType) IsMetered() bool {
	return f != FeatureTypeFlat
}

// MergingPolicy returns the policy used to merge multiple active grants
// on a feature of this type into one entitlement
func (f FeatureType) MergingPolicy() MergingPolicy {
	switch f {
	case FeatureTypeFlat:
		return MergingPolicyReplace
	case FeatureTypeUsage:
		return MergingPolicySum
	default:
		// tier and package both keep the single largest grant
		return MergingPolicyMax
	}
}

// MergingPolicy is the rule combining multiple active grants on one feature
type MergingPolicy string

const (
	MergingPolicySum     MergingPolicy = "sum"
	MergingPolicyMax     MergingPolicy = "max"
	MergingPolicyMin     MergingPolicy = "min"
	MergingPolicyReplace MergingPolicy = "replace"
)

// AggregationMethod is the rule used to combine raw usage events into a
// scalar per cycle
type AggregationMethod string

const (
	AggregationSum              AggregationMethod = "sum"
	AggregationMax              AggregationMethod = "max"
	AggregationCount            AggregationMethod = "count"
	AggregationLastDuringPeriod AggregationMethod = "last_during_period"
	AggregationSumAll           AggregationMethod = "sum_all"
	AggregationCountAll         AggregationMethod = "count_all"
)

func (a AggregationMethod) Validate() error {
	switch a {
	case AggregationSum, AggregationMax, AggregationCount,
		AggregationLastDuringPeriod, AggregationSumAll, AggregationCountAll:
		return nil
	}
	return ierr.NewError("invalid aggregation method").
		WithHintf("aggregation method %s is not supported", a).
		Mark(ierr.ErrValidation)
}

// NeverResets reports whether usage accumulated under this method survives
// reset-cycle boundaries. The _all suffix is the schema-level contract.
func (a AggregationMethod) NeverResets() bool {
	return strings.HasSuffix(string(a), "_all")
}

// Reversible reports whether negative usage amounts can be reported for
// this method. max and count cannot be walked back.
func (a AggregationMethod) Reversible() bool {
	switch a {
	case AggregationMax, AggregationCount, AggregationCountAll:
		return false
	}
	return true
}

// Fetchable reports whether the analytics backend can compute this
// aggregation from raw usage records for billing
func (a AggregationMethod) Fetchable() bool {
	switch a {
	case AggregationSum, AggregationMax, AggregationCount,
		AggregationLastDuringPeriod, AggregationSumAll, AggregationCountAll:
		return true
	}
	return false
}
