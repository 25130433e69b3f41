package service

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"github.com/Abaso007/builderai-sub001/internal/domain/creditgrant"
	"github.com/Abaso007/builderai-sub001/internal/domain/customer"
	"github.com/Abaso007/builderai-sub001/internal/domain/feature"
	"github.com/Abaso007/builderai-sub001/internal/domain/grant"
	"github.com/Abaso007/builderai-sub001/internal/domain/invoice"
	"github.com/Abaso007/builderai-sub001/internal/domain/lock"
	"github.com/Abaso007/builderai-sub001/internal/domain/subscription"
	ierr "github.com/Abaso007/builderai-sub001/internal/errors"
	"github.com/Abaso007/builderai-sub001/internal/provider"
	"github.com/Abaso007/builderai-sub001/internal/testutil"
	"github.com/Abaso007/builderai-sub001/internal/types"
)

type BillingServiceSuite struct {
	testutil.BaseServiceTestSuite
	billing BillingService

	customerID string
	subID      string
	phaseID    string
	itemID     string
	fpvID      string
}

func TestBillingServiceSuite(t *testing.T) {
	suite.Run(t, new(BillingServiceSuite))
}

func (s *BillingServiceSuite) SetupTest() {
	s.BaseServiceTestSuite.SetupTest()
	params := newTestServiceParams(&s.BaseServiceTestSuite)
	grants := NewGrantsManager(params)
	customers := NewCustomerService(params)
	s.billing = NewBillingService(params, grants, customers)
}

func monthlyBilling() types.BillingConfig {
	return types.BillingConfig{
		Interval:      types.BillingIntervalMonth,
		IntervalCount: 1,
		PlanType:      types.PlanTypeRecurring,
		Anchor:        1,
	}
}

// seedFlatSubscription builds a one-phase subscription billing a single
// flat feature monthly in arrears
func (s *BillingServiceSuite) seedFlatSubscription(flatAmount int64, collection types.CollectionMethod, phaseStart time.Time) {
	ctx := s.GetContext()
	base := types.GetDefaultBaseModel(ctx)
	stores := s.GetStores()

	s.fpvID = types.GenerateUUIDWithPrefix(types.UUID_PREFIX_FEATURE_VERSION)
	_, err := stores.FeatureRepo.CreatePlanVersion(ctx, &feature.FeaturePlanVersion{
		ID:                s.fpvID,
		FeatureID:         types.GenerateUUIDWithPrefix(types.UUID_PREFIX_FEATURE),
		FeatureSlug:       "seats",
		PlanID:            "plan_base",
		PlanVersionID:     "plan_base_v1",
		FeatureType:       types.FeatureTypeFlat,
		AggregationMethod: types.AggregationSum,
		Config:            types.PriceConfig{FlatAmount: decimal.NewFromInt(flatAmount)},
		BillingConfig:     monthlyBilling(),
		Currency:          "usd",
		BaseModel:         base,
	})
	s.Require().NoError(err)

	s.customerID = types.GenerateUUIDWithPrefix(types.UUID_PREFIX_CUSTOMER)
	stores.CustomerRepo.(*testutil.InMemoryCustomerStore).AddCustomer(&customer.Customer{
		ID:    s.customerID,
		Name:  "Acme Corp",
		Email: "billing@acme.test",
		ProviderCustomerIDs: types.Metadata{
			testutil.FakeProviderName: "cus_fake_001",
		},
		BaseModel: base,
	})

	subStore := stores.SubscriptionRepo.(*testutil.InMemorySubscriptionStore)
	s.subID = types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBSCRIPTION)
	subStore.AddSubscription(&subscription.Subscription{
		ID:               s.subID,
		CustomerID:       s.customerID,
		PlanID:           "plan_base",
		PlanVersionID:    "plan_base_v1",
		Currency:         "usd",
		PaymentProvider:  testutil.FakeProviderName,
		CollectionMethod: collection,
		PaymentMethodID:  "pm_001",
		BaseModel:        base,
	})

	s.phaseID = types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBSCRIPTION_PHASE)
	subStore.AddPhase(&subscription.Phase{
		ID:             s.phaseID,
		SubscriptionID: s.subID,
		PlanID:         "plan_base",
		PlanVersionID:  "plan_base_v1",
		StartAt:        phaseStart,
		BaseModel:      base,
	})

	s.itemID = types.GenerateUUIDWithPrefix(types.UUID_PREFIX_SUBSCRIPTION_ITEM)
	subStore.AddItem(&subscription.Item{
		ID:                   s.itemID,
		SubscriptionID:       s.subID,
		SubscriptionPhaseID:  s.phaseID,
		FeaturePlanVersionID: s.fpvID,
		FeatureSlug:          "seats",
		Quantity:             decimal.NewFromInt(1),
		WhenToBill:           types.WhenToBillPayInArrear,
		BillingConfig:        monthlyBilling(),
		BaseModel:            base,
	})
}

func (s *BillingServiceSuite) seedCredit(amount int64, expiresAt time.Time) *creditgrant.CreditGrant {
	cg := &creditgrant.CreditGrant{
		ID:              types.GenerateUUIDWithPrefix(types.UUID_PREFIX_CREDIT_GRANT),
		CustomerID:      s.customerID,
		TotalAmount:     decimal.NewFromInt(amount),
		Currency:        "usd",
		PaymentProvider: testutil.FakeProviderName,
		ExpiresAt:       &expiresAt,
		Active:          true,
		BaseModel:       types.GetDefaultBaseModel(s.GetContext()),
	}
	created, err := s.GetStores().CreditGrantRepo.Create(s.GetContext(), cg)
	s.Require().NoError(err)
	return created
}

func (s *BillingServiceSuite) listInvoices() []*invoice.Invoice {
	invoices, err := s.GetStores().InvoiceRepo.ListBySubscription(
		s.GetContext(), types.DefaultProjectID, s.subID)
	s.Require().NoError(err)
	return invoices
}

func (s *BillingServiceSuite) TestGenerateBillingPeriodsIdempotent() {
	phaseStart := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	s.seedFlatSubscription(1000, types.CollectionMethodChargeAutomatically, phaseStart)

	s.Require().NoError(s.billing.GenerateBillingPeriods(s.GetContext(), s.subID, now))

	periods, err := s.GetStores().BillingPeriodRepo.ListBySubscription(
		s.GetContext(), types.DefaultProjectID, s.subID)
	s.Require().NoError(err)
	s.Require().Len(periods, 3)
	s.Equal(phaseStart, periods[0].CycleStartAt)
	s.Equal(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC), periods[2].CycleEndAt)

	// in arrears only the January and February cycles are due
	invoices := s.listInvoices()
	s.Require().Len(invoices, 2)
	for _, inv := range invoices {
		s.Equal(types.InvoiceStatusDraft, inv.InvoiceStatus)
	}

	// a second run inserts nothing
	s.Require().NoError(s.billing.GenerateBillingPeriods(s.GetContext(), s.subID, now))

	periods, err = s.GetStores().BillingPeriodRepo.ListBySubscription(
		s.GetContext(), types.DefaultProjectID, s.subID)
	s.Require().NoError(err)
	s.Len(periods, 3)
	s.Len(s.listInvoices(), 2)
}

func (s *BillingServiceSuite) TestGenerateReleasesLock() {
	phaseStart := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	s.seedFlatSubscription(1000, types.CollectionMethodChargeAutomatically, phaseStart)

	s.Require().NoError(s.billing.GenerateBillingPeriods(s.GetContext(), s.subID, now))

	_, err := s.GetStores().LockRepo.Get(s.GetContext(), types.DefaultProjectID, s.subID)
	s.Require().Error(err)
	s.True(ierr.IsNotFound(err))
}

func (s *BillingServiceSuite) TestGenerateBusyWhenLockHeld() {
	phaseStart := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)
	s.seedFlatSubscription(1000, types.CollectionMethodChargeAutomatically, phaseStart)

	acquired, err := s.GetStores().LockRepo.Acquire(s.GetContext(), types.DefaultProjectID, s.subID, lock.AcquireParams{
		Owner:         "other-worker",
		Now:           now,
		TTL:           time.Minute,
		StaleTakeover: 2 * time.Minute,
		OwnerStale:    10 * time.Minute,
	})
	s.Require().NoError(err)
	s.Require().True(acquired)

	err = s.billing.GenerateBillingPeriods(s.GetContext(), s.subID, now)
	s.Require().Error(err)
	s.True(ierr.IsSubscriptionBusy(err))
}

func (s *BillingServiceSuite) TestFinalizeAppliesCreditsFIFO() {
	phaseStart := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)
	s.seedFlatSubscription(1000, types.CollectionMethodChargeAutomatically, phaseStart)

	first := s.seedCredit(400, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	second := s.seedCredit(800, time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC))

	s.Require().NoError(s.billing.GenerateBillingPeriods(s.GetContext(), s.subID, now))
	invoices := s.listInvoices()
	s.Require().Len(invoices, 1)

	finalized, err := s.billing.FinalizeInvoice(s.GetContext(), invoices[0].ID, now)
	s.Require().NoError(err)

	s.True(finalized.SubtotalCents.Equal(decimal.NewFromInt(1000)))
	s.True(finalized.AmountCreditUsed.Equal(decimal.NewFromInt(1000)))
	s.True(finalized.TotalCents.IsZero())
	s.Equal(types.InvoiceStatusVoid, finalized.InvoiceStatus)

	// the soonest expiring credit drains first and deactivates
	firstAfter, err := s.GetStores().CreditGrantRepo.Get(s.GetContext(), first.ID)
	s.Require().NoError(err)
	s.True(firstAfter.AmountUsed.Equal(decimal.NewFromInt(400)))
	s.False(firstAfter.Active)

	secondAfter, err := s.GetStores().CreditGrantRepo.Get(s.GetContext(), second.ID)
	s.Require().NoError(err)
	s.True(secondAfter.AmountUsed.Equal(decimal.NewFromInt(600)))
	s.True(secondAfter.Active)

	applications, err := s.GetStores().CreditAppRepo.ListByInvoice(s.GetContext(), finalized.ID)
	s.Require().NoError(err)
	s.Require().Len(applications, 2)
	applied := decimal.Zero
	for _, app := range applications {
		applied = applied.Add(app.AmountApplied)
	}
	s.True(applied.Equal(decimal.NewFromInt(1000)))

	// a rerun neither reprices nor reapplies credit
	again, err := s.billing.FinalizeInvoice(s.GetContext(), finalized.ID, now)
	s.Require().NoError(err)
	s.Equal(types.InvoiceStatusVoid, again.InvoiceStatus)
	applications, err = s.GetStores().CreditAppRepo.ListByInvoice(s.GetContext(), finalized.ID)
	s.Require().NoError(err)
	s.Len(applications, 2)
}

func (s *BillingServiceSuite) TestProviderTotalMismatchRevertsInvoice() {
	phaseStart := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)
	s.seedFlatSubscription(1500, types.CollectionMethodChargeAutomatically, phaseStart)

	s.Require().NoError(s.billing.GenerateBillingPeriods(s.GetContext(), s.subID, now))
	invoices := s.listInvoices()
	s.Require().Len(invoices, 1)
	invoiceID := invoices[0].ID

	mismatch := decimal.NewFromInt(1450)
	s.GetProvider().TotalOverride = &mismatch

	_, err := s.billing.BillingInvoice(s.GetContext(), invoiceID, now)
	s.Require().Error(err)
	s.Equal(ierr.ErrCodeProviderTotalMismatch, ierr.Code(err))

	// the invoice reverts to draft with a forensic note; the provider id
	// is kept so the retry reconciles instead of creating a remote orphan
	reverted, err := s.GetStores().InvoiceRepo.Get(s.GetContext(), invoiceID)
	s.Require().NoError(err)
	s.Equal(types.InvoiceStatusDraft, reverted.InvoiceStatus)
	s.Equal(types.MetadataReasonInvoiceFail, reverted.Metadata[types.MetadataKeyReason])
	s.Require().NotNil(reverted.ProviderInvoiceID)
	providerInvoiceID := *reverted.ProviderInvoiceID

	// a rerun after the provider recovers reconciles the same remote
	// invoice and collects
	s.GetProvider().TotalOverride = nil
	collected, err := s.billing.BillingInvoice(s.GetContext(), invoiceID, now)
	s.Require().NoError(err)
	s.Equal(types.InvoiceStatusPaid, collected.InvoiceStatus)
	s.Require().NotNil(collected.ProviderInvoiceID)
	s.Equal(providerInvoiceID, *collected.ProviderInvoiceID)
	s.NotNil(collected.PaidAt)
	s.True(collected.TotalCents.Equal(decimal.NewFromInt(1500)))
}

func (s *BillingServiceSuite) TestChargeAutomaticallyCollectsPayment() {
	phaseStart := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)
	s.seedFlatSubscription(1200, types.CollectionMethodChargeAutomatically, phaseStart)

	s.Require().NoError(s.billing.GenerateBillingPeriods(s.GetContext(), s.subID, now))
	invoices := s.listInvoices()
	s.Require().Len(invoices, 1)

	collected, err := s.billing.BillingInvoice(s.GetContext(), invoices[0].ID, now)
	s.Require().NoError(err)
	s.Equal(types.InvoiceStatusPaid, collected.InvoiceStatus)
	s.Require().Equal(1, collected.AttemptCount())
	s.Equal(types.PaymentAttemptSucceeded, collected.PaymentAttempts[0].Status)
}

func (s *BillingServiceSuite) TestChargeFailureRecordsAttempt() {
	phaseStart := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)
	s.seedFlatSubscription(1200, types.CollectionMethodChargeAutomatically, phaseStart)

	s.GetProvider().PaymentResults = []*provider.PaymentResult{
		{Status: provider.PaymentStatusFailed, ErrorCode: "card_declined"},
	}

	s.Require().NoError(s.billing.GenerateBillingPeriods(s.GetContext(), s.subID, now))
	invoices := s.listInvoices()
	s.Require().Len(invoices, 1)

	_, err := s.billing.BillingInvoice(s.GetContext(), invoices[0].ID, now)
	s.Require().Error(err)
	s.Equal(ierr.ErrCodeProviderFailed, ierr.Code(err))

	failed, err := s.GetStores().InvoiceRepo.Get(s.GetContext(), invoices[0].ID)
	s.Require().NoError(err)
	s.Equal(types.InvoiceStatusUnpaid, failed.InvoiceStatus)
	s.Require().Equal(1, failed.AttemptCount())
	s.Equal(types.PaymentAttemptFailed, failed.PaymentAttempts[0].Status)
	s.Equal("card_declined", failed.PaymentAttempts[0].ErrorCode)
}

func (s *BillingServiceSuite) TestSendInvoiceWaitsThenAdoptsPaid() {
	phaseStart := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)
	s.seedFlatSubscription(2000, types.CollectionMethodSendInvoice, phaseStart)

	s.Require().NoError(s.billing.GenerateBillingPeriods(s.GetContext(), s.subID, now))
	invoices := s.listInvoices()
	s.Require().Len(invoices, 1)

	sent, err := s.billing.BillingInvoice(s.GetContext(), invoices[0].ID, now)
	s.Require().NoError(err)
	s.Equal(types.InvoiceStatusWaiting, sent.InvoiceStatus)
	s.NotNil(sent.SentAt)
	s.Len(s.GetProvider().SentInvoiceIDs, 1)

	// the customer pays out of band; the next poll adopts the status
	paid := provider.ProviderInvoicePaid
	s.GetProvider().InvoiceStatusOverride = &paid

	settled, err := s.billing.CollectInvoicePayment(s.GetContext(), sent.ID, now.Add(24*time.Hour))
	s.Require().NoError(err)
	s.Equal(types.InvoiceStatusPaid, settled.InvoiceStatus)
	s.NotNil(settled.PaidAt)
}

func (s *BillingServiceSuite) TestCollectDraftInvoiceRejected() {
	phaseStart := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)
	s.seedFlatSubscription(1000, types.CollectionMethodChargeAutomatically, phaseStart)

	s.Require().NoError(s.billing.GenerateBillingPeriods(s.GetContext(), s.subID, now))
	invoices := s.listInvoices()
	s.Require().Len(invoices, 1)

	_, err := s.billing.CollectInvoicePayment(s.GetContext(), invoices[0].ID, now)
	s.Require().Error(err)
	s.Equal(ierr.ErrCodeInvalidOperation, ierr.Code(err))
}

func (s *BillingServiceSuite) TestTrialPhaseMaterializesTrialPeriods() {
	phaseStart := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	trialEnd := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2025, 2, 10, 0, 0, 0, 0, time.UTC)
	s.seedFlatSubscription(1000, types.CollectionMethodChargeAutomatically, phaseStart)

	subStore := s.GetStores().SubscriptionRepo.(*testutil.InMemorySubscriptionStore)
	subStore.AddPhase(&subscription.Phase{
		ID:             s.phaseID,
		SubscriptionID: s.subID,
		PlanID:         "plan_base",
		PlanVersionID:  "plan_base_v1",
		StartAt:        phaseStart,
		TrialEndsAt:    &trialEnd,
		BaseModel:      types.GetDefaultBaseModel(s.GetContext()),
	})

	s.Require().NoError(s.billing.GenerateBillingPeriods(s.GetContext(), s.subID, now))

	periods, err := s.GetStores().BillingPeriodRepo.ListBySubscription(
		s.GetContext(), types.DefaultProjectID, s.subID)
	s.Require().NoError(err)
	s.Require().Len(periods, 2)
	s.Equal(types.BillingPeriodTypeTrial, periods[0].PeriodType)
	s.Equal(types.BillingPeriodTypeNormal, periods[1].PeriodType)

	// the trial cycle is backed by a trial grant expiring with the trial
	g, err := s.GetStores().GrantRepo.Get(s.GetContext(), periods[0].GrantID)
	s.Require().NoError(err)
	s.Equal(types.GrantTypeTrial, g.Type)
	s.Require().NotNil(g.ExpiresAt)
	s.Equal(trialEnd, *g.ExpiresAt)
}

func perUnitUsageVersion(fpvID string, unitAmount int64, base types.BaseModel) *feature.FeaturePlanVersion {
	return &feature.FeaturePlanVersion{
		ID:                fpvID,
		FeatureID:         types.GenerateUUIDWithPrefix(types.UUID_PREFIX_FEATURE),
		FeatureSlug:       "api-calls",
		PlanID:            "plan_base",
		PlanVersionID:     "plan_base_v1",
		FeatureType:       types.FeatureTypeUsage,
		AggregationMethod: types.AggregationSum,
		Config: types.PriceConfig{
			TierMode: types.TierModeGraduated,
			Tiers: []types.PriceTier{
				{FirstUnit: 1, UnitAmount: decimal.NewFromInt(unitAmount)},
			},
		},
		BillingConfig: monthlyBilling(),
		Currency:      "usd",
		BaseModel:     base,
	}
}

func (s *BillingServiceSuite) TestCalculateFeaturePriceWaterfall() {
	base := types.GetDefaultBaseModel(s.GetContext())
	fpv := perUnitUsageVersion(types.GenerateUUIDWithPrefix(types.UUID_PREFIX_FEATURE_VERSION), 2, base)

	effective := time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)
	addonLimit := decimal.NewFromInt(50)
	subLimit := decimal.NewFromInt(100)
	grants := []*grant.Grant{
		{
			ID:                 "grant_addon",
			Type:               types.GrantTypeAddon,
			Priority:           types.GrantTypeAddon.Priority(),
			Limit:              &addonLimit,
			AllowOverage:       true,
			EffectiveAt:        effective,
			SubscriptionItemID: "si_addon",
		},
		{
			ID:                 "grant_sub",
			Type:               types.GrantTypeSubscription,
			Priority:           types.GrantTypeSubscription.Priority(),
			Limit:              &subLimit,
			EffectiveAt:        effective,
			SubscriptionItemID: "si_base",
		},
	}

	slices, err := s.billing.CalculateFeaturePrice(FeaturePriceParams{
		PlanVersion: fpv,
		Grants:      grants,
		Usage:       decimal.NewFromInt(180),
		WindowStart: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		WindowEnd:   time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
	})
	s.Require().NoError(err)
	s.Require().Len(slices, 3)

	s.Require().NotNil(slices[0].GrantID)
	s.Equal("grant_addon", *slices[0].GrantID)
	s.True(slices[0].Quantity.Equal(decimal.NewFromInt(50)))
	s.True(slices[0].TotalPrice.Equal(decimal.NewFromInt(100)))

	s.Require().NotNil(slices[1].GrantID)
	s.Equal("grant_sub", *slices[1].GrantID)
	s.True(slices[1].Quantity.Equal(decimal.NewFromInt(100)))
	s.True(slices[1].TotalPrice.Equal(decimal.NewFromInt(200)))

	// the share beyond every limit bills against the overage capable grant
	s.Nil(slices[2].GrantID)
	s.True(slices[2].Overage)
	s.Equal("si_addon", slices[2].SubscriptionItemID)
	s.True(slices[2].Quantity.Equal(decimal.NewFromInt(30)))
	s.True(slices[2].TotalPrice.Equal(decimal.NewFromInt(60)))
}

func (s *BillingServiceSuite) TestEstimatePriceCurrentUsage() {
	ctx := s.GetContext()
	base := types.GetDefaultBaseModel(ctx)
	now := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)

	fpvID := types.GenerateUUIDWithPrefix(types.UUID_PREFIX_FEATURE_VERSION)
	_, err := s.GetStores().FeatureRepo.CreatePlanVersion(ctx, perUnitUsageVersion(fpvID, 2, base))
	s.Require().NoError(err)

	customerID := types.GenerateUUIDWithPrefix(types.UUID_PREFIX_CUSTOMER)
	limit := decimal.NewFromInt(100)
	created, err := s.GetStores().GrantRepo.Create(ctx, &grant.Grant{
		ID:                   types.GenerateUUIDWithPrefix(types.UUID_PREFIX_GRANT),
		SubjectType:          types.GrantSubjectCustomer,
		SubjectID:            customerID,
		FeaturePlanVersionID: fpvID,
		FeatureSlug:          "api-calls",
		FeatureType:          types.FeatureTypeUsage,
		AggregationMethod:    types.AggregationSum,
		Type:                 types.GrantTypeSubscription,
		Priority:             types.GrantTypeSubscription.Priority(),
		EffectiveAt:          time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Limit:                &limit,
		Anchor:               1,
		SubscriptionItemID:   "si_base",
		BaseModel:            base,
	})
	s.Require().NoError(err)

	s.GetAnalytics().SeedUsage(types.DefaultProjectID, customerID, "api-calls",
		decimal.NewFromInt(30), time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC))

	estimates, err := s.billing.EstimatePriceCurrentUsage(ctx, customerID, now)
	s.Require().NoError(err)
	s.Require().Len(estimates, 1)
	s.Equal("api-calls", estimates[0].FeatureSlug)
	s.True(estimates[0].Usage.Equal(decimal.NewFromInt(30)))

	s.Require().Len(estimates[0].Slices, 1)
	s.Require().NotNil(estimates[0].Slices[0].GrantID)
	s.Equal(created.ID, *estimates[0].Slices[0].GrantID)
	s.True(estimates[0].Slices[0].TotalPrice.Equal(decimal.NewFromInt(60)))
}
