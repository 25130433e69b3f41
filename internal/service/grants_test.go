package service

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/Abaso007/builderai-sub001/internal/domain/grant"
	ierr "github.com/Abaso007/builderai-sub001/internal/errors"
	"github.com/Abaso007/builderai-sub001/internal/provider"
	"github.com/Abaso007/builderai-sub001/internal/testutil"
	"github.com/Abaso007/builderai-sub001/internal/types"
)

// newTestServiceParams assembles ServiceParams from the suite's in-memory
// stores and fakes
func newTestServiceParams(s *testutil.BaseServiceTestSuite) ServiceParams {
	stores := s.GetStores()
	return ServiceParams{
		Logger:             s.GetLogger(),
		Config:             s.GetConfig(),
		DB:                 s.GetDB(),
		Cache:              s.GetCache(),
		GrantRepo:          stores.GrantRepo,
		EntitlementRepo:    stores.EntitlementRepo,
		BillingPeriodRepo:  stores.BillingPeriodRepo,
		InvoiceRepo:        stores.InvoiceRepo,
		LineItemRepo:       stores.LineItemRepo,
		CreditGrantRepo:    stores.CreditGrantRepo,
		CreditAppRepo:      stores.CreditAppRepo,
		SubscriptionRepo:   stores.SubscriptionRepo,
		CustomerRepo:       stores.CustomerRepo,
		FeatureRepo:        stores.FeatureRepo,
		LockRepo:           stores.LockRepo,
		Analytics:          s.GetAnalytics(),
		EntitlementStorage: s.GetStorage(),
		Providers: map[string]provider.PaymentProvider{
			testutil.FakeProviderName: s.GetProvider(),
		},
	}
}

type GrantsManagerSuite struct {
	testutil.BaseServiceTestSuite
	manager    GrantsManager
	customerID string
}

func TestGrantsManagerSuite(t *testing.T) {
	suite.Run(t, new(GrantsManagerSuite))
}

func (s *GrantsManagerSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	s.manager = NewGrantsManager(newTestServiceParams(&s.BaseServiceTestSuite))
	s.customerID = types.GenerateUUIDWithPrefix(types.UUID_PREFIX_CUSTOMER)
}

func (s *GrantsManagerSuite) newGrant(slug string, featureType types.FeatureType, aggregation types.AggregationMethod, grantType types.GrantType, limit int64, effectiveAt time.Time) *grant.Grant {
	l := decimal.NewFromInt(limit)
	g := &grant.Grant{
		ID:                   types.GenerateUUIDWithPrefix(types.UUID_PREFIX_GRANT),
		SubjectType:          types.GrantSubjectCustomer,
		SubjectID:            s.customerID,
		FeaturePlanVersionID: types.GenerateUUIDWithPrefix(types.UUID_PREFIX_FEATURE_VERSION),
		FeatureSlug:          slug,
		FeatureType:          featureType,
		AggregationMethod:    aggregation,
		Type:                 grantType,
		Priority:             grantType.Priority(),
		EffectiveAt:          effectiveAt,
		Limit:                &l,
		Anchor:               1,
		BaseModel:            types.GetDefaultBaseModel(s.GetContext()),
	}
	return g
}

func (s *GrantsManagerSuite) createGrant(g *grant.Grant) *grant.Grant {
	created, err := s.GetStores().GrantRepo.Create(s.GetContext(), g)
	s.Require().NoError(err)
	return created
}

func (s *GrantsManagerSuite) TestUsageGrantsSumLimits() {
	effectiveAt := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)

	s.createGrant(s.newGrant("api-calls", types.FeatureTypeUsage, types.AggregationSum, types.GrantTypeSubscription, 100, effectiveAt))
	s.createGrant(s.newGrant("api-calls", types.FeatureTypeUsage, types.AggregationSum, types.GrantTypeAddon, 50, effectiveAt))

	states, err := s.manager.ComputeGrantsForCustomer(s.GetContext(), s.customerID, now, nil)
	s.Require().NoError(err)
	s.Require().Len(states, 1)

	state := states[0]
	s.Equal(types.MergingPolicySum, state.MergingPolicy)
	s.Require().NotNil(state.Limit)
	s.True(state.Limit.Equal(decimal.NewFromInt(150)), "expected 150, got %s", state.Limit)
	s.Len(state.Grants, 2)

	state.CurrentCycleUsage = decimal.NewFromInt(149)
	result := s.manager.Verify(state, now)
	s.True(result.Allowed)

	state.CurrentCycleUsage = decimal.NewFromInt(150)
	result = s.manager.Verify(state, now)
	s.False(result.Allowed)
	s.Equal(DeniedReasonLimitExceeded, result.DeniedReason)
}

func (s *GrantsManagerSuite) TestTierGrantsKeepLargest() {
	effectiveAt := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)

	s.createGrant(s.newGrant("seats", types.FeatureTypeTier, types.AggregationMax, types.GrantTypeSubscription, 100, effectiveAt))
	winner := s.createGrant(s.newGrant("seats", types.FeatureTypeTier, types.AggregationMax, types.GrantTypeAddon, 500, effectiveAt))
	s.createGrant(s.newGrant("seats", types.FeatureTypeTier, types.AggregationMax, types.GrantTypeManual, 50, effectiveAt))

	states, err := s.manager.ComputeGrantsForCustomer(s.GetContext(), s.customerID, now, nil)
	s.Require().NoError(err)
	s.Require().Len(states, 1)

	state := states[0]
	s.Equal(types.MergingPolicyMax, state.MergingPolicy)
	s.Require().NotNil(state.Limit)
	s.True(state.Limit.Equal(decimal.NewFromInt(500)), "expected 500, got %s", state.Limit)

	// only the winning grant is retained in the snapshot
	s.Require().Len(state.Grants, 1)
	s.Equal(winner.ID, state.Grants[0].GrantID)
}

func (s *GrantsManagerSuite) TestConsumeAttributesAcrossGrants() {
	effectiveAt := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)

	low := s.createGrant(s.newGrant("api-calls", types.FeatureTypeUsage, types.AggregationSum, types.GrantTypeSubscription, 100, effectiveAt))
	high := s.createGrant(s.newGrant("api-calls", types.FeatureTypeUsage, types.AggregationSum, types.GrantTypeAddon, 50, effectiveAt))

	states, err := s.manager.ComputeGrantsForCustomer(s.GetContext(), s.customerID, now, nil)
	s.Require().NoError(err)
	state := states[0]

	result, err := s.manager.Consume(s.GetContext(), state, decimal.NewFromInt(120), now)
	s.Require().NoError(err)
	s.True(result.Allowed)
	s.True(result.Usage.Equal(decimal.NewFromInt(120)))

	// waterfall: the higher priority grant fills to its limit first
	s.Require().Len(result.ConsumedFrom, 2)
	s.Equal(high.ID, result.ConsumedFrom[0].GrantID)
	s.True(result.ConsumedFrom[0].Amount.Equal(decimal.NewFromInt(50)))
	s.Equal(low.ID, result.ConsumedFrom[1].GrantID)
	s.True(result.ConsumedFrom[1].Amount.Equal(decimal.NewFromInt(70)))

	total := decimal.Zero
	for _, attr := range result.ConsumedFrom {
		total = total.Add(attr.Amount)
	}
	s.True(total.Equal(decimal.NewFromInt(120)))
}

func (s *GrantsManagerSuite) TestConsumeDeniedOverLimit() {
	effectiveAt := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)

	s.createGrant(s.newGrant("api-calls", types.FeatureTypeUsage, types.AggregationSum, types.GrantTypeSubscription, 100, effectiveAt))
	s.createGrant(s.newGrant("api-calls", types.FeatureTypeUsage, types.AggregationSum, types.GrantTypeAddon, 50, effectiveAt))

	states, err := s.manager.ComputeGrantsForCustomer(s.GetContext(), s.customerID, now, nil)
	s.Require().NoError(err)
	state := states[0]

	result, err := s.manager.Consume(s.GetContext(), state, decimal.NewFromInt(149), now)
	s.Require().NoError(err)
	s.True(result.Allowed)

	result, err = s.manager.Consume(s.GetContext(), state, decimal.NewFromInt(2), now)
	s.Require().NoError(err)
	s.False(result.Allowed)
	s.Equal(DeniedReasonLimitExceeded, result.DeniedReason)
	// a denied consumption never moves the counter
	s.True(result.Usage.Equal(decimal.NewFromInt(149)))
	s.True(state.CurrentCycleUsage.Equal(decimal.NewFromInt(149)))
}

func (s *GrantsManagerSuite) TestConsumeOverageGoesToOverageGrant() {
	effectiveAt := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)

	s.createGrant(s.newGrant("api-calls", types.FeatureTypeUsage, types.AggregationSum, types.GrantTypeSubscription, 100, effectiveAt))
	overage := s.newGrant("api-calls", types.FeatureTypeUsage, types.AggregationSum, types.GrantTypeAddon, 50, effectiveAt)
	overage.AllowOverage = true
	overage = s.createGrant(overage)

	states, err := s.manager.ComputeGrantsForCustomer(s.GetContext(), s.customerID, now, nil)
	s.Require().NoError(err)
	state := states[0]

	result, err := s.manager.Consume(s.GetContext(), state, decimal.NewFromInt(200), now)
	s.Require().NoError(err)
	s.True(result.Allowed)
	s.True(result.NotifiedOverLimit)

	// the 50 units beyond the merged limit land on the overage grant
	s.Require().Len(result.ConsumedFrom, 2)
	s.Equal(overage.ID, result.ConsumedFrom[0].GrantID)
	s.True(result.ConsumedFrom[0].Amount.Equal(decimal.NewFromInt(100)))
	s.True(result.ConsumedFrom[0].Overage)
}

func (s *GrantsManagerSuite) TestConsumeNegativeNotReversible() {
	effectiveAt := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)

	s.createGrant(s.newGrant("peak-connections", types.FeatureTypeUsage, types.AggregationMax, types.GrantTypeSubscription, 100, effectiveAt))

	states, err := s.manager.ComputeGrantsForCustomer(s.GetContext(), s.customerID, now, nil)
	s.Require().NoError(err)

	_, err = s.manager.Consume(s.GetContext(), states[0], decimal.NewFromInt(-1), now)
	s.Require().Error(err)
	s.Equal(ierr.ErrCodeIncorrectUsageReporting, ierr.Code(err))
}

func (s *GrantsManagerSuite) TestNormalizeCycleUsageRollsBoundary() {
	effectiveAt := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	computeAt := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)

	g := s.newGrant("api-calls", types.FeatureTypeUsage, types.AggregationSum, types.GrantTypeSubscription, 100, effectiveAt)
	g.ResetConfig = &types.BillingConfig{
		Interval:      types.BillingIntervalMonth,
		IntervalCount: 1,
		PlanType:      types.PlanTypeRecurring,
		Anchor:        1,
	}
	s.createGrant(g)

	states, err := s.manager.ComputeGrantsForCustomer(s.GetContext(), s.customerID, computeAt, nil)
	s.Require().NoError(err)
	state := states[0]
	s.Equal(effectiveAt, state.EffectiveAt)

	state.CurrentCycleUsage = decimal.NewFromInt(30)

	// still inside the January cycle, nothing to roll
	changed, err := s.manager.NormalizeCycleUsage(s.GetContext(), state, computeAt)
	s.Require().NoError(err)
	s.False(changed)

	// February: the cycle counter rolls into the accumulated counter
	rollAt := time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)
	changed, err = s.manager.NormalizeCycleUsage(s.GetContext(), state, rollAt)
	s.Require().NoError(err)
	s.True(changed)
	s.True(state.CurrentCycleUsage.IsZero())
	s.True(state.AccumulatedUsage.Equal(decimal.NewFromInt(30)))
	s.Equal(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), state.EffectiveAt)
}

func (s *GrantsManagerSuite) TestNormalizeCycleUsageWithoutResetConfig() {
	effectiveAt := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	s.createGrant(s.newGrant("api-calls", types.FeatureTypeUsage, types.AggregationSum, types.GrantTypeSubscription, 100, effectiveAt))

	states, err := s.manager.ComputeGrantsForCustomer(s.GetContext(), s.customerID, now, nil)
	s.Require().NoError(err)

	changed, err := s.manager.NormalizeCycleUsage(s.GetContext(), states[0], now)
	s.Require().NoError(err)
	s.False(changed)
}

func (s *GrantsManagerSuite) TestCreateGrantIdentityConflict() {
	effectiveAt := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	g := s.newGrant("api-calls", types.FeatureTypeUsage, types.AggregationSum, types.GrantTypeManual, 100, effectiveAt)
	_, err := s.manager.CreateGrant(s.GetContext(), g)
	s.Require().NoError(err)

	dup := s.newGrant("api-calls", types.FeatureTypeUsage, types.AggregationSum, types.GrantTypeManual, 100, effectiveAt)
	dup.FeaturePlanVersionID = g.FeaturePlanVersionID
	_, err = s.manager.CreateGrant(s.GetContext(), dup)
	s.Require().Error(err)
	s.Equal(ierr.ErrCodeGrantCreateFailed, ierr.Code(err))
}

func (s *GrantsManagerSuite) TestCreateGrantIncompatibleOverlap() {
	effectiveAt := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := s.manager.CreateGrant(s.GetContext(),
		s.newGrant("api-calls", types.FeatureTypeUsage, types.AggregationSum, types.GrantTypeSubscription, 100, effectiveAt))
	s.Require().NoError(err)

	// same slug, overlapping validity, different aggregation
	_, err = s.manager.CreateGrant(s.GetContext(),
		s.newGrant("api-calls", types.FeatureTypeUsage, types.AggregationMax, types.GrantTypeAddon, 50, effectiveAt))
	s.Require().Error(err)
	s.Equal(ierr.ErrCodeGrantCreateFailed, ierr.Code(err))
}

func (s *GrantsManagerSuite) TestRenewExpiringGrants() {
	effectiveAt := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	expiresAt := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	horizon := time.Date(2025, 2, 5, 0, 0, 0, 0, time.UTC)

	g := s.newGrant("api-calls", types.FeatureTypeUsage, types.AggregationSum, types.GrantTypeAddon, 100, effectiveAt)
	g.ExpiresAt = &expiresAt
	g.AutoRenew = true
	s.createGrant(g)

	renewed, err := s.manager.RenewExpiringGrants(s.GetContext(), horizon)
	s.Require().NoError(err)
	s.Equal(1, renewed)

	// the successor opens where the predecessor closes, same duration
	grants, err := s.manager.GetGrantsForCustomer(s.GetContext(), GrantQuery{
		CustomerID: s.customerID,
		StartAt:    expiresAt.Add(time.Hour),
	})
	s.Require().NoError(err)
	s.Require().Len(grants, 1)
	s.Equal(expiresAt, grants[0].EffectiveAt)
	s.Require().NotNil(grants[0].ExpiresAt)
	s.Equal(expiresAt.Add(expiresAt.Sub(effectiveAt)), *grants[0].ExpiresAt)

	// a second run finds the successor already in place
	renewed, err = s.manager.RenewExpiringGrants(s.GetContext(), horizon)
	s.Require().NoError(err)
	s.Equal(0, renewed)
}
