package service

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/Abaso007/builderai-sub001/internal/domain/entitlement"
	"github.com/Abaso007/builderai-sub001/internal/domain/grant"
	ierr "github.com/Abaso007/builderai-sub001/internal/errors"
	"github.com/Abaso007/builderai-sub001/internal/testutil"
	"github.com/Abaso007/builderai-sub001/internal/types"
)

type EntitlementServiceSuite struct {
	testutil.BaseServiceTestSuite
	manager    GrantsManager
	svc        EntitlementService
	customerID string
}

func TestEntitlementServiceSuite(t *testing.T) {
	suite.Run(t, new(EntitlementServiceSuite))
}

func (s *EntitlementServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	params := newTestServiceParams(&s.BaseServiceTestSuite)
	s.manager = NewGrantsManager(params)
	s.svc = NewEntitlementService(params, s.manager)
	s.customerID = types.GenerateUUIDWithPrefix(types.UUID_PREFIX_CUSTOMER)
}

func (s *EntitlementServiceSuite) seedUsageGrant(slug string, grantType types.GrantType, limit int64, effectiveAt time.Time) *grant.Grant {
	l := decimal.NewFromInt(limit)
	g := &grant.Grant{
		ID:                   types.GenerateUUIDWithPrefix(types.UUID_PREFIX_GRANT),
		SubjectType:          types.GrantSubjectCustomer,
		SubjectID:            s.customerID,
		FeaturePlanVersionID: types.GenerateUUIDWithPrefix(types.UUID_PREFIX_FEATURE_VERSION),
		FeatureSlug:          slug,
		FeatureType:          types.FeatureTypeUsage,
		AggregationMethod:    types.AggregationSum,
		Type:                 grantType,
		Priority:             grantType.Priority(),
		EffectiveAt:          effectiveAt,
		Limit:                &l,
		BaseModel:            types.GetDefaultBaseModel(s.GetContext()),
	}
	created, err := s.GetStores().GrantRepo.Create(s.GetContext(), g)
	s.Require().NoError(err)
	return created
}

func (s *EntitlementServiceSuite) TestVerifyUnknownFeatureDenied() {
	now := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)

	result, err := s.svc.Verify(s.GetContext(), &VerifyRequest{
		CustomerID:  s.customerID,
		FeatureSlug: "ghost-feature",
		Now:         now,
	})
	s.Require().NoError(err)
	s.False(result.Allowed)
	s.Equal(DeniedReasonEntitlementNotFound, result.DeniedReason)

	// the denial is still recorded for analytics
	s.Require().NoError(s.GetStorage().Flush(s.GetContext()))
	records := s.GetAnalytics().VerificationRecords()
	s.Require().Len(records, 1)
	s.False(records[0].Allowed)
	s.Equal(DeniedReasonEntitlementNotFound, records[0].DeniedReason)
	s.Equal(s.customerID, records[0].CustomerID)
}

func (s *EntitlementServiceSuite) TestReportUsageUpdatesHotState() {
	effectiveAt := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)

	s.seedUsageGrant("api-calls", types.GrantTypeSubscription, 100, effectiveAt)
	_, err := s.manager.ComputeGrantsForCustomer(s.GetContext(), s.customerID, now, nil)
	s.Require().NoError(err)

	result, err := s.svc.ReportUsage(s.GetContext(), &ReportUsageRequest{
		CustomerID:  s.customerID,
		FeatureSlug: "api-calls",
		Amount:      decimal.NewFromInt(5),
		Now:         now.Add(time.Minute),
	})
	s.Require().NoError(err)
	s.True(result.Allowed)
	s.True(result.Usage.Equal(decimal.NewFromInt(5)))

	key := entitlement.StateKey(types.DefaultProjectID, s.customerID, "api-calls")
	hot, err := s.GetStorage().Get(s.GetContext(), key)
	s.Require().NoError(err)
	s.True(hot.CurrentCycleUsage.Equal(decimal.NewFromInt(5)))

	s.Require().NoError(s.GetStorage().Flush(s.GetContext()))
	records := s.GetAnalytics().UsageRecords()
	s.Require().Len(records, 1)
	s.True(records[0].Amount.Equal(decimal.NewFromInt(5)))
	s.True(records[0].CycleUsage.Equal(decimal.NewFromInt(5)))
}

func (s *EntitlementServiceSuite) TestReportUsageDeniedOverLimit() {
	effectiveAt := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)

	s.seedUsageGrant("api-calls", types.GrantTypeSubscription, 10, effectiveAt)
	_, err := s.manager.ComputeGrantsForCustomer(s.GetContext(), s.customerID, now, nil)
	s.Require().NoError(err)

	result, err := s.svc.ReportUsage(s.GetContext(), &ReportUsageRequest{
		CustomerID:  s.customerID,
		FeatureSlug: "api-calls",
		Amount:      decimal.NewFromInt(11),
		Now:         now.Add(time.Minute),
	})
	s.Require().NoError(err)
	s.False(result.Allowed)
	s.Equal(DeniedReasonLimitExceeded, result.DeniedReason)

	// denied reports are not buffered as usage
	s.Require().NoError(s.GetStorage().Flush(s.GetContext()))
	s.Empty(s.GetAnalytics().UsageRecords())
}

func (s *EntitlementServiceSuite) TestRevalidationReplacesStaleHotState() {
	effectiveAt := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)

	s.seedUsageGrant("api-calls", types.GrantTypeSubscription, 100, effectiveAt)
	_, err := s.manager.ComputeGrantsForCustomer(s.GetContext(), s.customerID, now, nil)
	s.Require().NoError(err)

	// warm the hot store with the current version
	result, err := s.svc.Verify(s.GetContext(), &VerifyRequest{
		CustomerID:  s.customerID,
		FeatureSlug: "api-calls",
		Now:         now.Add(time.Minute),
	})
	s.Require().NoError(err)
	s.Require().NotNil(result.Limit)
	s.True(result.Limit.Equal(decimal.NewFromInt(100)))

	// the durable state moves under the hot copy
	s.seedUsageGrant("api-calls", types.GrantTypeAddon, 50, effectiveAt)
	_, err = s.manager.ComputeGrantsForCustomer(s.GetContext(), s.customerID, now.Add(2*time.Minute), nil)
	s.Require().NoError(err)

	// past the revalidation deadline the version compare swaps the state in
	result, err = s.svc.Verify(s.GetContext(), &VerifyRequest{
		CustomerID:  s.customerID,
		FeatureSlug: "api-calls",
		Now:         now.Add(s.GetConfig().Entitlement.RevalidateInterval + time.Minute),
	})
	s.Require().NoError(err)
	s.Require().NotNil(result.Limit)
	s.True(result.Limit.Equal(decimal.NewFromInt(150)), "expected 150, got %s", result.Limit)

	key := entitlement.StateKey(types.DefaultProjectID, s.customerID, "api-calls")
	hot, err := s.GetStorage().Get(s.GetContext(), key)
	s.Require().NoError(err)
	durable, err := s.GetStores().EntitlementRepo.Get(s.GetContext(), types.DefaultProjectID, s.customerID, "api-calls")
	s.Require().NoError(err)
	s.Equal(durable.Version, hot.Version)
}

func (s *EntitlementServiceSuite) TestVerifyAllowedAfterResetBoundary() {
	effectiveAt := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	january := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	february := time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)

	l := decimal.NewFromInt(100)
	_, err := s.GetStores().GrantRepo.Create(s.GetContext(), &grant.Grant{
		ID:                   types.GenerateUUIDWithPrefix(types.UUID_PREFIX_GRANT),
		SubjectType:          types.GrantSubjectCustomer,
		SubjectID:            s.customerID,
		FeaturePlanVersionID: types.GenerateUUIDWithPrefix(types.UUID_PREFIX_FEATURE_VERSION),
		FeatureSlug:          "api-calls",
		FeatureType:          types.FeatureTypeUsage,
		AggregationMethod:    types.AggregationSum,
		ResetConfig: &types.BillingConfig{
			Interval:      types.BillingIntervalMonth,
			IntervalCount: 1,
			PlanType:      types.PlanTypeRecurring,
			Anchor:        1,
		},
		Type:        types.GrantTypeSubscription,
		Priority:    types.GrantTypeSubscription.Priority(),
		EffectiveAt: effectiveAt,
		Limit:       &l,
		Anchor:      1,
		BaseModel:   types.GetDefaultBaseModel(s.GetContext()),
	})
	s.Require().NoError(err)

	_, err = s.manager.ComputeGrantsForCustomer(s.GetContext(), s.customerID, january, nil)
	s.Require().NoError(err)

	result, err := s.svc.ReportUsage(s.GetContext(), &ReportUsageRequest{
		CustomerID:  s.customerID,
		FeatureSlug: "api-calls",
		Amount:      decimal.NewFromInt(100),
		Now:         january.Add(time.Minute),
	})
	s.Require().NoError(err)
	s.True(result.Allowed)

	// the limit is fully consumed inside January
	verify, err := s.svc.Verify(s.GetContext(), &VerifyRequest{
		CustomerID:  s.customerID,
		FeatureSlug: "api-calls",
		Now:         january.Add(2 * time.Minute),
	})
	s.Require().NoError(err)
	s.False(verify.Allowed)
	s.Equal(DeniedReasonLimitExceeded, verify.DeniedReason)

	// crossing into February expires the cached state and opens a fresh
	// cycle with a zeroed counter
	verify, err = s.svc.Verify(s.GetContext(), &VerifyRequest{
		CustomerID:  s.customerID,
		FeatureSlug: "api-calls",
		Now:         february,
	})
	s.Require().NoError(err)
	s.True(verify.Allowed)
	s.True(verify.Usage.IsZero())

	key := entitlement.StateKey(types.DefaultProjectID, s.customerID, "api-calls")
	hot, err := s.GetStorage().Get(s.GetContext(), key)
	s.Require().NoError(err)
	s.Equal(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), hot.EffectiveAt)
	s.Require().NotNil(hot.ExpiresAt)
	s.Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), *hot.ExpiresAt)
}

func (s *EntitlementServiceSuite) TestGetCustomerEntitlements() {
	effectiveAt := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)

	s.seedUsageGrant("api-calls", types.GrantTypeSubscription, 100, effectiveAt)
	s.seedUsageGrant("seats", types.GrantTypeSubscription, 5, effectiveAt)
	_, err := s.manager.ComputeGrantsForCustomer(s.GetContext(), s.customerID, now, nil)
	s.Require().NoError(err)

	states, err := s.svc.GetCustomerEntitlements(s.GetContext(), s.customerID)
	s.Require().NoError(err)
	s.Require().Len(states, 2)

	slugs := map[string]bool{}
	for _, st := range states {
		slugs[st.FeatureSlug] = true
		s.Equal(s.customerID, st.CustomerID)
	}
	s.True(slugs["api-calls"])
	s.True(slugs["seats"])
}

func (s *EntitlementServiceSuite) TestInvalidateEntitlementsDrainsBuffers() {
	effectiveAt := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)

	s.seedUsageGrant("api-calls", types.GrantTypeSubscription, 100, effectiveAt)
	_, err := s.manager.ComputeGrantsForCustomer(s.GetContext(), s.customerID, now, nil)
	s.Require().NoError(err)

	_, err = s.svc.ReportUsage(s.GetContext(), &ReportUsageRequest{
		CustomerID:  s.customerID,
		FeatureSlug: "api-calls",
		Amount:      decimal.NewFromInt(3),
		Now:         now.Add(time.Minute),
	})
	s.Require().NoError(err)

	s.Require().NoError(s.svc.InvalidateEntitlements(s.GetContext(), s.customerID, ""))

	// buffered records landed before the hot state was dropped
	s.Require().Len(s.GetAnalytics().UsageRecords(), 1)

	key := entitlement.StateKey(types.DefaultProjectID, s.customerID, "api-calls")
	_, err = s.GetStorage().Get(s.GetContext(), key)
	s.Require().Error(err)
	s.True(ierr.IsNotFound(err))
}
