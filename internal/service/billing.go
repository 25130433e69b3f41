package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"

	"github.com/Abaso007/builderai-sub001/internal/cycle"
	"github.com/Abaso007/builderai-sub001/internal/domain/billingperiod"
	"github.com/Abaso007/builderai-sub001/internal/domain/creditgrant"
	"github.com/Abaso007/builderai-sub001/internal/domain/events"
	"github.com/Abaso007/builderai-sub001/internal/domain/feature"
	"github.com/Abaso007/builderai-sub001/internal/domain/grant"
	"github.com/Abaso007/builderai-sub001/internal/domain/invoice"
	"github.com/Abaso007/builderai-sub001/internal/domain/subscription"
	ierr "github.com/Abaso007/builderai-sub001/internal/errors"
	"github.com/Abaso007/builderai-sub001/internal/provider"
	"github.com/Abaso007/builderai-sub001/internal/types"
)

const (
	// materializationLookback includes recently ended phases so their
	// trailing cycles are still billed
	materializationLookback = 7 * 24 * time.Hour

	// materializationBatch bounds the phases processed per run
	materializationBatch = 100
)

// BillingService is the control-plane path run per subscription by a
// scheduler or trigger. Every operation serializes against concurrent
// workers through the subscription lock except invoice finalization,
// which only touches rows keyed by invoice id.
type BillingService interface {
	// GenerateBillingPeriods materializes the billing cycles of the
	// subscription's phases and assembles draft invoices for the periods
	// whose invoice date has passed
	GenerateBillingPeriods(ctx context.Context, subscriptionID string, now time.Time) error

	// FinalizeInvoice prices the draft invoice's line items, applies
	// credits and moves it to unpaid or void
	FinalizeInvoice(ctx context.Context, invoiceID string, now time.Time) (*invoice.Invoice, error)

	// BillingInvoice runs finalize, provider reconciliation and payment
	// collection for one invoice under the subscription lock
	BillingInvoice(ctx context.Context, invoiceID string, now time.Time) (*invoice.Invoice, error)

	// UpsertProviderInvoice mirrors the invoice onto the payment provider
	// and verifies the provider total
	UpsertProviderInvoice(ctx context.Context, invoiceID string, now time.Time) (*invoice.Invoice, error)

	// CollectInvoicePayment advances the invoice through the collection
	// state machine
	CollectInvoicePayment(ctx context.Context, invoiceID string, now time.Time) (*invoice.Invoice, error)

	// EstimatePriceCurrentUsage prices the customer's features at their
	// current measured usage
	EstimatePriceCurrentUsage(ctx context.Context, customerID string, now time.Time) ([]*FeatureEstimate, error)

	// CalculateFeaturePrice attributes usage across grants and prices
	// each share
	CalculateFeaturePrice(params FeaturePriceParams) ([]FeaturePriceSlice, error)
}

type billingService struct {
	ServiceParams
	grants    GrantsManager
	customers CustomerService
}

func NewBillingService(params ServiceParams, grants GrantsManager, customers CustomerService) BillingService {
	return &billingService{
		ServiceParams: params,
		grants:        grants,
		customers:     customers,
	}
}

// --- cycle materialization ---

func (s *billingService) GenerateBillingPeriods(ctx context.Context, subscriptionID string, now time.Time) error {
	return s.withSubscriptionMachine(ctx, machineParams{SubscriptionID: subscriptionID, Now: now, Lock: true}, func(ctx context.Context, machine *SubscriptionMachine) error {
		projectID := types.GetProjectID(ctx)

		sub, err := s.SubscriptionRepo.Get(ctx, projectID, subscriptionID)
		if err != nil {
			return err
		}

		phases, err := s.SubscriptionRepo.ListPhasesForMaterialization(
			ctx, projectID, subscriptionID, now, materializationLookback, materializationBatch)
		if err != nil {
			return err
		}

		itemsByID := make(map[string]*subscription.Item)
		for _, pwi := range phases {
			for _, item := range pwi.Items {
				itemsByID[item.ID] = item
				if err := s.materializeItemPeriods(ctx, sub, &pwi.Phase, item, now); err != nil {
					return err
				}
			}
		}

		return s.assembleDraftInvoices(ctx, sub, itemsByID, now)
	})
}

// materializeItemPeriods advances one subscription item's cycle cursor
// up to the cycle containing now, inside a single transaction
func (s *billingService) materializeItemPeriods(ctx context.Context, sub *subscription.Subscription, phase *subscription.Phase, item *subscription.Item, now time.Time) error {
	cursor := phase.StartAt
	last, err := s.BillingPeriodRepo.GetLastForItem(ctx, sub.ProjectID, item.ID)
	if err != nil && !ierr.IsNotFound(err) {
		return err
	}
	if last != nil {
		cursor = last.CycleEndAt
	}
	if phase.EndAt != nil && !cursor.Before(*phase.EndAt) {
		return nil
	}

	windows, err := cycle.CalculateNextNCycles(now, cursor, phase.EndAt, phase.TrialEndsAt, item.BillingConfig, 0)
	if err != nil {
		return err
	}
	if len(windows) == 0 {
		return nil
	}

	return s.DB.WithTx(ctx, func(ctx context.Context) error {
		for _, w := range windows {
			g, err := s.ensureCycleGrant(ctx, sub, phase, item, w.IsTrial)
			if err != nil {
				return err
			}

			invoiceAt := w.End
			if !w.IsTrial && item.WhenToBill == types.WhenToBillPayInAdvance {
				invoiceAt = w.Start
			}

			periodType := types.BillingPeriodTypeNormal
			if w.IsTrial {
				periodType = types.BillingPeriodTypeTrial
			}

			period := &billingperiod.BillingPeriod{
				ID:                  types.GenerateUUIDWithPrefix(types.UUID_PREFIX_BILLING_PERIOD),
				SubscriptionID:      sub.ID,
				SubscriptionPhaseID: phase.ID,
				SubscriptionItemID:  item.ID,
				CycleStartAt:        w.Start,
				CycleEndAt:          w.End,
				PeriodStatus:        types.BillingPeriodStatusPending,
				PeriodType:          periodType,
				InvoiceAt:           invoiceAt,
				WhenToBill:          item.WhenToBill,
				StatementKey: billingperiod.StatementKey(
					sub.ProjectID, sub.CustomerID, sub.ID, invoiceAt,
					sub.Currency, sub.PaymentProvider, sub.CollectionMethod),
				GrantID:   g.ID,
				BaseModel: types.GetDefaultBaseModel(ctx),
			}
			period.ProjectID = sub.ProjectID

			if _, err := s.BillingPeriodRepo.Create(ctx, period); err != nil {
				if ierr.IsAlreadyExists(err) {
					// cycle already materialized by a previous run
					continue
				}
				return err
			}
		}
		return nil
	})
}

// ensureCycleGrant looks up a grant covering the phase interval for the
// item's feature plan version and customer, creating one when missing.
// Subscription and trial grants never auto renew; phase transitions
// create their successors.
func (s *billingService) ensureCycleGrant(ctx context.Context, sub *subscription.Subscription, phase *subscription.Phase, item *subscription.Item, isTrial bool) (*grant.Grant, error) {
	end := phase.EndAt
	if isTrial {
		end = phase.TrialEndsAt
	}

	existing, err := s.GrantRepo.FindCovering(ctx, sub.ProjectID, sub.CustomerID, item.FeaturePlanVersionID, phase.StartAt, end)
	if err == nil {
		return existing, nil
	}
	if !ierr.IsNotFound(err) {
		return nil, err
	}

	fpv, err := s.FeatureRepo.GetPlanVersion(ctx, item.FeaturePlanVersionID)
	if err != nil {
		return nil, err
	}

	grantType := types.GrantTypeSubscription
	if isTrial {
		grantType = types.GrantTypeTrial
	}

	g := &grant.Grant{
		ID:                   types.GenerateUUIDWithPrefix(types.UUID_PREFIX_GRANT),
		SubjectType:          types.GrantSubjectCustomer,
		SubjectID:            sub.CustomerID,
		FeaturePlanVersionID: item.FeaturePlanVersionID,
		FeatureSlug:          item.FeatureSlug,
		FeatureType:          fpv.FeatureType,
		AggregationMethod:    fpv.AggregationMethod,
		ResetConfig:          fpv.ResetConfig,
		Type:                 grantType,
		Priority:             grantType.Priority(),
		EffectiveAt:          phase.StartAt,
		ExpiresAt:            end,
		Limit:                fpv.Limit,
		AllowOverage:         fpv.AllowOverage,
		AutoRenew:            false,
		SubscriptionID:       sub.ID,
		SubscriptionPhaseID:  phase.ID,
		SubscriptionItemID:   item.ID,
		BaseModel:            types.GetDefaultBaseModel(ctx),
	}
	g.ProjectID = sub.ProjectID

	created, err := s.GrantRepo.Create(ctx, g)
	if err != nil {
		if ierr.IsAlreadyExists(err) {
			return s.GrantRepo.FindCovering(ctx, sub.ProjectID, sub.CustomerID, item.FeaturePlanVersionID, phase.StartAt, end)
		}
		return nil, err
	}
	return created, nil
}

// assembleDraftInvoices turns due pending periods into draft invoices,
// one per statement key, and marks the periods invoiced in the same
// transaction
func (s *billingService) assembleDraftInvoices(ctx context.Context, sub *subscription.Subscription, itemsByID map[string]*subscription.Item, now time.Time) error {
	periods, err := s.BillingPeriodRepo.ListBySubscription(ctx, sub.ProjectID, sub.ID)
	if err != nil {
		return err
	}

	byStatement := make(map[string][]*billingperiod.BillingPeriod)
	keys := make([]string, 0)
	for _, p := range periods {
		if p.PeriodStatus != types.BillingPeriodStatusPending || p.InvoiceAt.After(now) {
			continue
		}
		if _, seen := byStatement[p.StatementKey]; !seen {
			keys = append(keys, p.StatementKey)
		}
		byStatement[p.StatementKey] = append(byStatement[p.StatementKey], p)
	}

	for _, key := range keys {
		group := byStatement[key]
		if err := s.assembleInvoice(ctx, sub, itemsByID, key, group); err != nil {
			return err
		}
	}
	return nil
}

func (s *billingService) assembleInvoice(ctx context.Context, sub *subscription.Subscription, itemsByID map[string]*subscription.Item, statementKey string, periods []*billingperiod.BillingPeriod) error {
	return s.DB.WithTx(ctx, func(ctx context.Context) error {
		inv := &invoice.Invoice{
			ID:               types.GenerateUUIDWithPrefix(types.UUID_PREFIX_INVOICE),
			SubscriptionID:   sub.ID,
			CustomerID:       sub.CustomerID,
			InvoiceStatus:    types.InvoiceStatusDraft,
			SubtotalCents:    decimal.Zero,
			TotalCents:       decimal.Zero,
			AmountCreditUsed: decimal.Zero,
			Currency:         sub.Currency,
			PaymentProvider:  sub.PaymentProvider,
			CollectionMethod: sub.CollectionMethod,
			PaymentMethodID:  sub.PaymentMethodID,
			Metadata:         types.Metadata{types.MetadataKeyStatementKey: statementKey},
			BaseModel:        types.GetDefaultBaseModel(ctx),
		}
		inv.ProjectID = sub.ProjectID

		created, err := s.InvoiceRepo.Create(ctx, inv)
		if err != nil {
			return err
		}

		lineItems := make([]*invoice.LineItem, 0, len(periods))
		periodIDs := make([]string, 0, len(periods))
		for _, p := range periods {
			item := itemsByID[p.SubscriptionItemID]
			if item == nil {
				loaded, err := s.SubscriptionRepo.ListItems(ctx, sub.ProjectID, p.SubscriptionPhaseID)
				if err != nil {
					return err
				}
				for _, it := range loaded {
					itemsByID[it.ID] = it
				}
				item = itemsByID[p.SubscriptionItemID]
			}
			if item == nil {
				return ierr.NewError("billing period references an unknown subscription item").
					WithReportableDetails(map[string]any{
						"billing_period_id":    p.ID,
						"subscription_item_id": p.SubscriptionItemID,
					}).
					Mark(ierr.ErrInvalidOperation)
			}

			kind := types.InvoiceItemKindPeriod
			if p.PeriodType == types.BillingPeriodTypeTrial {
				kind = types.InvoiceItemKindTrial
			}

			factor, err := cyclePeriodFactor(p, item.BillingConfig)
			if err != nil {
				return err
			}

			subItemID := p.SubscriptionItemID
			li := &invoice.LineItem{
				ID:                   types.GenerateUUIDWithPrefix(types.UUID_PREFIX_INVOICE_LINE_ITEM),
				InvoiceID:            created.ID,
				FeaturePlanVersionID: item.FeaturePlanVersionID,
				SubscriptionItemID:   &subItemID,
				Kind:                 kind,
				Quantity:             item.Quantity,
				UnitAmountCents:      decimal.Zero,
				AmountSubtotal:       decimal.Zero,
				AmountTotal:          decimal.Zero,
				Description:          lineItemDescription(item.FeatureSlug, p.CycleStartAt, p.CycleEndAt),
				CycleStartAt:         p.CycleStartAt,
				CycleEndAt:           p.CycleEndAt,
				ProrationFactor:      factor,
				BaseModel:            types.GetDefaultBaseModel(ctx),
			}
			li.ProjectID = sub.ProjectID
			lineItems = append(lineItems, li)
			periodIDs = append(periodIDs, p.ID)
		}

		if _, err := s.LineItemRepo.CreateBulk(ctx, lineItems); err != nil {
			return err
		}
		return s.BillingPeriodRepo.MarkInvoiced(ctx, sub.ProjectID, periodIDs)
	})
}

// cyclePeriodFactor returns the fraction of the full billing cycle the
// period actually covers; clamped final cycles prorate below one
func cyclePeriodFactor(p *billingperiod.BillingPeriod, cfg types.BillingConfig) (decimal.Decimal, error) {
	result, err := cycle.CalculateProration(cycle.ProrationParams{
		ServiceStart:   p.CycleStartAt,
		ServiceEnd:     p.CycleEndAt,
		EffectiveStart: p.CycleStartAt,
		BillingConfig:  cfg,
	})
	if err != nil {
		return decimal.Zero, err
	}
	return result.Factor, nil
}

func lineItemDescription(featureSlug string, start, end time.Time) string {
	return fmt.Sprintf("%s %s to %s", featureSlug,
		start.UTC().Format("2006-01-02"), end.UTC().Format("2006-01-02"))
}

// --- invoice finalization ---

func (s *billingService) FinalizeInvoice(ctx context.Context, invoiceID string, now time.Time) (*invoice.Invoice, error) {
	inv, err := s.InvoiceRepo.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	var out *invoice.Invoice
	// finalize mutates only rows keyed by the invoice id and relies on
	// row level isolation, so it runs without the subscription lock
	err = s.withSubscriptionMachine(ctx, machineParams{SubscriptionID: inv.SubscriptionID, Now: now, Lock: false}, func(ctx context.Context, machine *SubscriptionMachine) error {
		finalized, err := s.finalizeInvoice(ctx, inv, now)
		if err != nil {
			machine.ReportInvoiceFailure(inv.ID, err)
			return err
		}
		machine.ReportInvoiceSuccess(inv.ID)
		out = finalized
		return nil
	})
	return out, err
}

func (s *billingService) finalizeInvoice(ctx context.Context, inv *invoice.Invoice, now time.Time) (*invoice.Invoice, error) {
	if inv.InvoiceStatus != types.InvoiceStatusDraft || inv.ProviderInvoiceID != nil {
		return inv, nil
	}

	allItems, err := s.LineItemRepo.ListByInvoice(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	billable := make([]*invoice.LineItem, 0, len(allItems))
	for _, li := range allItems {
		if li.Kind.Billable() && li.SubscriptionItemID != nil {
			billable = append(billable, li)
		}
	}
	if len(billable) == 0 {
		return inv, nil
	}

	grantRef := now
	if inv.DueAt != nil {
		grantRef = *inv.DueAt
	}
	customerGrants, err := s.grants.GetGrantsForCustomer(ctx, GrantQuery{CustomerID: inv.CustomerID, StartAt: grantRef})
	if err != nil {
		return nil, err
	}
	grantsBySlug := make(map[string][]*grant.Grant)
	for _, g := range customerGrants {
		grantsBySlug[g.FeatureSlug] = append(grantsBySlug[g.FeatureSlug], g)
	}

	fpvByID, err := s.loadPlanVersions(ctx, billable)
	if err != nil {
		return nil, err
	}

	groups := make(map[invoice.CycleKey][]*invoice.LineItem)
	groupKeys := make([]invoice.CycleKey, 0)
	for _, li := range billable {
		key := li.CycleKeyOf()
		if _, seen := groups[key]; !seen {
			groupKeys = append(groupKeys, key)
		}
		groups[key] = append(groups[key], li)
	}

	updates := make([]invoice.LineItemUpdate, 0, len(billable))
	for _, key := range groupKeys {
		groupUpdates, err := s.priceCycleGroup(ctx, inv, key, groups[key], grantsBySlug, fpvByID)
		if err != nil {
			return nil, err
		}
		updates = append(updates, groupUpdates...)
	}

	subtotal := decimal.Zero
	for _, u := range updates {
		subtotal = subtotal.Add(u.AmountTotal)
	}

	err = s.DB.WithTx(ctx, func(ctx context.Context) error {
		if err := s.LineItemRepo.ApplyUpdates(ctx, inv.ID, updates); err != nil {
			return err
		}

		creditUsed, err := s.applyCredits(ctx, inv, subtotal, now)
		if err != nil {
			return err
		}

		inv.SubtotalCents = subtotal
		inv.AmountCreditUsed = creditUsed
		inv.TotalCents = subtotal.Sub(creditUsed)
		if inv.TotalCents.IsNegative() {
			inv.TotalCents = decimal.Zero
		}

		issue := now
		due := issue.AddDate(0, 0, s.Config.Billing.NetTermDays)
		pastDue := due.AddDate(0, 0, s.Config.Billing.GraceDays)
		inv.IssueDate = &issue
		inv.DueAt = &due
		inv.PastDueAt = &pastDue

		if inv.TotalCents.IsZero() {
			inv.InvoiceStatus = types.InvoiceStatusVoid
		} else {
			inv.InvoiceStatus = types.InvoiceStatusUnpaid
		}

		updated, err := s.InvoiceRepo.Update(ctx, inv)
		if err != nil {
			return err
		}
		inv = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *billingService) loadPlanVersions(ctx context.Context, items []*invoice.LineItem) (map[string]*feature.FeaturePlanVersion, error) {
	ids := make([]string, 0, len(items))
	seen := make(map[string]bool)
	for _, li := range items {
		if !seen[li.FeaturePlanVersionID] {
			seen[li.FeaturePlanVersionID] = true
			ids = append(ids, li.FeaturePlanVersionID)
		}
	}
	versions, err := s.FeatureRepo.ListPlanVersionsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*feature.FeaturePlanVersion, len(versions))
	for _, v := range versions {
		byID[v.ID] = v
	}
	return byID, nil
}

// priceCycleGroup prices the line items sharing one billing cycle. Usage
// features are priced from measured usage through waterfall attribution;
// everything else prices its stored quantity directly.
func (s *billingService) priceCycleGroup(ctx context.Context, inv *invoice.Invoice, key invoice.CycleKey, items []*invoice.LineItem, grantsBySlug map[string][]*grant.Grant, fpvByID map[string]*feature.FeaturePlanVersion) ([]invoice.LineItemUpdate, error) {
	usageItems := make([]*invoice.LineItem, 0, len(items))
	directItems := make([]*invoice.LineItem, 0, len(items))
	for _, li := range items {
		fpv := fpvByID[li.FeaturePlanVersionID]
		if fpv != nil && fpv.FeatureType == types.FeatureTypeUsage {
			usageItems = append(usageItems, li)
		} else {
			directItems = append(directItems, li)
		}
	}

	updates := make([]invoice.LineItemUpdate, 0, len(items))

	if len(usageItems) > 0 {
		usageUpdates, err := s.priceUsageItems(ctx, inv, key, usageItems, grantsBySlug, fpvByID)
		if err != nil {
			return nil, err
		}
		updates = append(updates, usageUpdates...)
	}

	for _, li := range directItems {
		fpv := fpvByID[li.FeaturePlanVersionID]
		if fpv == nil {
			// unpriceable without a config, zero out rather than omit
			updates = append(updates, zeroUpdate(li))
			continue
		}
		price, err := cycle.CalculatePricePerFeature(cycle.PriceParams{
			Config:      fpv.Config,
			FeatureType: fpv.FeatureType,
			Quantity:    li.Quantity,
			Prorate:     li.ProrationFactor,
		})
		if err != nil {
			return nil, err
		}
		updates = append(updates, invoice.LineItemUpdate{
			ID:              li.ID,
			Quantity:        li.Quantity,
			UnitAmountCents: price.UnitPrice,
			AmountSubtotal:  price.SubtotalPrice,
			AmountTotal:     price.TotalPrice,
			Description:     li.Description,
		})
	}

	return updates, nil
}

func (s *billingService) priceUsageItems(ctx context.Context, inv *invoice.Invoice, key invoice.CycleKey, items []*invoice.LineItem, grantsBySlug map[string][]*grant.Grant, fpvByID map[string]*feature.FeaturePlanVersion) ([]invoice.LineItemUpdate, error) {
	// one analytics round trip per cycle group
	bySlug := make(map[string][]*invoice.LineItem)
	slugs := make([]string, 0)
	fetch := make([]events.BillingFeature, 0)
	for _, li := range items {
		fpv := fpvByID[li.FeaturePlanVersionID]
		slug := fpv.FeatureSlug
		if _, seen := bySlug[slug]; !seen {
			slugs = append(slugs, slug)
			if fpv.AggregationMethod.Fetchable() {
				fetch = append(fetch, events.BillingFeature{
					FeatureSlug:       slug,
					AggregationMethod: fpv.AggregationMethod,
					FeatureType:       fpv.FeatureType,
				})
			}
		}
		bySlug[slug] = append(bySlug[slug], li)
	}

	usageBySlug := make(map[string]decimal.Decimal)
	if len(fetch) > 0 {
		rows, err := s.Analytics.GetUsageBillingFeatures(ctx, &events.UsageQueryParams{
			ProjectID:  inv.ProjectID,
			CustomerID: inv.CustomerID,
			Features:   fetch,
			StartAt:    key.Start,
			EndAt:      key.End,
		})
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			usageBySlug[row.FeatureSlug] = row.Usage
		}
	}

	updates := make([]invoice.LineItemUpdate, 0, len(items))
	for _, slug := range slugs {
		slugItems := bySlug[slug]
		slugGrants := grantsBySlug[slug]

		// a feature without grants zeroes out rather than disappearing
		if len(slugGrants) == 0 {
			for _, li := range slugItems {
				updates = append(updates, zeroUpdate(li))
			}
			continue
		}

		fpv := fpvByID[slugItems[0].FeaturePlanVersionID]
		slices, err := s.CalculateFeaturePrice(FeaturePriceParams{
			PlanVersion: fpv,
			Grants:      slugGrants,
			Usage:       usageBySlug[slug],
			WindowStart: key.Start,
			WindowEnd:   key.End,
		})
		if err != nil {
			return nil, err
		}

		updates = append(updates, mapSlicesToItems(slugItems, slugGrants, slices)...)
	}
	return updates, nil
}

// mapSlicesToItems folds the priced slices onto invoice line items. A
// slice resolves to an item by the grant's direct subscription item link
// first, then by the first item sharing the grant's feature plan version.
func mapSlicesToItems(items []*invoice.LineItem, grants []*grant.Grant, slices []FeaturePriceSlice) []invoice.LineItemUpdate {
	bySubItemID := make(map[string]*invoice.LineItem, len(items))
	byFpvID := make(map[string]*invoice.LineItem)
	for _, li := range items {
		if li.SubscriptionItemID != nil {
			bySubItemID[*li.SubscriptionItemID] = li
		}
		if _, ok := byFpvID[li.FeaturePlanVersionID]; !ok {
			byFpvID[li.FeaturePlanVersionID] = li
		}
	}

	grantByID := make(map[string]*grant.Grant, len(grants))
	for _, g := range grants {
		grantByID[g.ID] = g
	}

	type accumulator struct {
		quantity decimal.Decimal
		subtotal decimal.Decimal
		total    decimal.Decimal
		unit     decimal.Decimal
		unitSet  bool
	}
	totals := make(map[string]*accumulator, len(items))

	resolve := func(sl FeaturePriceSlice) *invoice.LineItem {
		if sl.SubscriptionItemID != "" {
			if li, ok := bySubItemID[sl.SubscriptionItemID]; ok {
				return li
			}
		}
		if sl.GrantID != nil {
			if g, ok := grantByID[*sl.GrantID]; ok {
				if li, ok := byFpvID[g.FeaturePlanVersionID]; ok {
					return li
				}
			}
		}
		return items[0]
	}

	for _, sl := range slices {
		li := resolve(sl)
		acc := totals[li.ID]
		if acc == nil {
			acc = &accumulator{}
			totals[li.ID] = acc
		}
		acc.quantity = acc.quantity.Add(sl.Quantity)
		acc.subtotal = acc.subtotal.Add(sl.SubtotalPrice)
		acc.total = acc.total.Add(sl.TotalPrice)
		if !acc.unitSet {
			acc.unit = sl.UnitPrice
			acc.unitSet = true
		}
	}

	updates := make([]invoice.LineItemUpdate, 0, len(items))
	for _, li := range items {
		acc := totals[li.ID]
		if acc == nil {
			updates = append(updates, zeroUpdate(li))
			continue
		}
		updates = append(updates, invoice.LineItemUpdate{
			ID:              li.ID,
			Quantity:        acc.quantity,
			UnitAmountCents: acc.unit,
			AmountSubtotal:  acc.subtotal,
			AmountTotal:     acc.total,
			Description:     li.Description,
		})
	}
	return updates
}

func zeroUpdate(li *invoice.LineItem) invoice.LineItemUpdate {
	return invoice.LineItemUpdate{
		ID:          li.ID,
		Quantity:    decimal.Zero,
		Description: li.Description,
	}
}

// applyCredits consumes eligible credit grants FIFO by expiry inside the
// caller's transaction. The application ledger keeps reruns idempotent;
// amounts already recorded for this invoice are never applied twice.
func (s *billingService) applyCredits(ctx context.Context, inv *invoice.Invoice, subtotal decimal.Decimal, now time.Time) (decimal.Decimal, error) {
	applications, err := s.CreditAppRepo.ListByInvoice(ctx, inv.ID)
	if err != nil {
		return decimal.Zero, err
	}
	alreadyApplied := decimal.Zero
	for _, app := range applications {
		alreadyApplied = alreadyApplied.Add(app.AmountApplied)
	}

	remaining := subtotal.Sub(alreadyApplied)
	if !remaining.IsPositive() {
		return alreadyApplied, nil
	}

	eligible, err := s.CreditGrantRepo.ListEligibleForUpdate(
		ctx, inv.ProjectID, inv.CustomerID, inv.Currency, inv.PaymentProvider, now)
	if err != nil {
		return decimal.Zero, err
	}

	applied := alreadyApplied
	for _, cg := range eligible {
		if !remaining.IsPositive() {
			break
		}
		amount := cg.Available()
		if amount.GreaterThan(remaining) {
			amount = remaining
		}
		if !amount.IsPositive() {
			continue
		}

		app := &creditgrant.Application{
			ID:            types.GenerateUUIDWithPrefix(types.UUID_PREFIX_CREDIT_APPLICATION),
			InvoiceID:     inv.ID,
			CreditGrantID: cg.ID,
			AmountApplied: amount,
			BaseModel:     types.GetDefaultBaseModel(ctx),
		}
		app.ProjectID = inv.ProjectID
		if _, err := s.CreditAppRepo.Create(ctx, app); err != nil {
			return decimal.Zero, err
		}

		cg.AmountUsed = cg.AmountUsed.Add(amount)
		if !cg.Available().IsPositive() {
			cg.Active = false
		}
		if _, err := s.CreditGrantRepo.Update(ctx, cg); err != nil {
			return decimal.Zero, err
		}

		applied = applied.Add(amount)
		remaining = remaining.Sub(amount)
	}
	return applied, nil
}

// --- provider reconciliation ---

func (s *billingService) UpsertProviderInvoice(ctx context.Context, invoiceID string, now time.Time) (*invoice.Invoice, error) {
	inv, err := s.InvoiceRepo.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	return s.upsertProviderInvoice(ctx, inv, now)
}

func (s *billingService) upsertProviderInvoice(ctx context.Context, inv *invoice.Invoice, now time.Time) (*invoice.Invoice, error) {
	if inv.InvoiceStatus == types.InvoiceStatusVoid || inv.TotalCents.IsZero() {
		return inv, nil
	}

	// a draft carrying a provider id is a mismatch recovery: the remote
	// invoice exists and must be reconciled, not recreated
	recovering := inv.ProviderInvoiceID != nil && *inv.ProviderInvoiceID != ""
	if recovering && inv.InvoiceStatus != types.InvoiceStatusDraft {
		return inv, nil
	}

	cust, err := s.customers.GetCustomer(ctx, inv.ProjectID, inv.CustomerID)
	if err != nil {
		return nil, err
	}
	prov, err := s.customers.GetPaymentProvider(ctx, inv.ProjectID, inv.PaymentProvider)
	if err != nil {
		return nil, err
	}
	providerCustomerID := cust.ProviderCustomerID(prov.Name())
	if providerCustomerID == "" {
		return nil, ierr.NewError("customer has no identity at the payment provider").
			WithReportableDetails(map[string]any{
				"customer_id": inv.CustomerID,
				"provider":    prov.Name(),
			}).
			Mark(ierr.ErrProviderFailed)
	}

	items, err := s.LineItemRepo.ListByInvoice(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	billable := make([]*invoice.LineItem, 0, len(items))
	for _, li := range items {
		if li.Kind.Billable() && li.SubscriptionItemID != nil && !li.AmountTotal.IsZero() {
			billable = append(billable, li)
		}
	}

	var pInv *provider.ProviderInvoice
	if recovering {
		pInv, err = prov.GetInvoice(ctx, *inv.ProviderInvoiceID)
		if err != nil {
			return nil, err
		}
	} else {
		payload := s.providerInvoicePayload(inv, cust.Name, cust.Email, providerCustomerID, billable)
		pInv, err = prov.CreateInvoice(ctx, payload)
		if err != nil {
			return nil, err
		}

		// persist the provider id right away so any later failure leaves
		// a reconcilable invoice instead of an orphaned remote draft
		inv.ProviderInvoiceID = &pInv.ID
		if pInv.URL != "" {
			url := pInv.URL
			inv.ProviderInvoiceURL = &url
		}
		if inv, err = s.InvoiceRepo.Update(ctx, inv); err != nil {
			return nil, err
		}
	}

	providerItemIDs, err := s.upsertProviderItems(ctx, prov, pInv, inv, billable, providerCustomerID)
	if err != nil {
		return nil, err
	}

	if err := s.upsertProviderCreditLine(ctx, prov, pInv, inv, providerCustomerID); err != nil {
		return nil, err
	}

	// read back and verify the provider agrees on the total before
	// anything becomes collectible
	fresh, err := prov.GetInvoice(ctx, pInv.ID)
	if err != nil {
		return nil, err
	}
	if !fresh.TotalCents.Equal(inv.TotalCents) {
		inv.InvoiceStatus = types.InvoiceStatusDraft
		inv.SetNote(types.MetadataReasonInvoiceFail,
			fmt.Sprintf("provider total %s does not match invoice total %s",
				fresh.TotalCents.String(), inv.TotalCents.String()))
		if _, updErr := s.InvoiceRepo.Update(ctx, inv); updErr != nil {
			s.Logger.Errorw("failed to revert invoice after total mismatch",
				"invoice_id", inv.ID, "error", updErr)
		}
		return nil, ierr.NewError("provider invoice total does not match").
			WithReportableDetails(map[string]any{
				"invoice_id":     inv.ID,
				"invoice_total":  inv.TotalCents,
				"provider_total": fresh.TotalCents,
			}).
			Mark(ierr.ErrProviderTotalMismatch)
	}

	if !fresh.Status.Finalized() {
		finalized, err := prov.FinalizeInvoice(ctx, pInv.ID)
		if err != nil {
			return nil, err
		}
		fresh = finalized
	}

	// the remote invoice reconciled, a recovered draft becomes
	// collectible again
	if recovering && inv.InvoiceStatus == types.InvoiceStatusDraft {
		inv.InvoiceStatus = types.InvoiceStatusUnpaid
	}

	// remote calls are done; persist the provider ids outside any
	// transaction that wrapped them
	inv.ProviderInvoiceID = &fresh.ID
	if fresh.URL != "" {
		url := fresh.URL
		inv.ProviderInvoiceURL = &url
	}
	updated, err := s.InvoiceRepo.Update(ctx, inv)
	if err != nil {
		return nil, err
	}
	if len(providerItemIDs) > 0 {
		if err := s.LineItemRepo.SetProviderIDs(ctx, inv.ID, providerItemIDs); err != nil {
			return nil, err
		}
	}
	return updated, nil
}

func (s *billingService) providerInvoicePayload(inv *invoice.Invoice, customerName, email, providerCustomerID string, billable []*invoice.LineItem) *provider.InvoicePayload {
	statementDate := time.Now().UTC()
	if inv.IssueDate != nil {
		statementDate = *inv.IssueDate
	}

	fields := []provider.CustomField{}
	if start, end, ok := billingPeriodBounds(billable); ok {
		fields = append(fields, provider.CustomField{
			Name:  "Billing Period",
			Value: fmt.Sprintf("%s to %s", start.Format("2006-01-02"), end.Format("2006-01-02")),
		})
	}
	if key := inv.Metadata[types.MetadataKeyStatementKey]; key != "" {
		fields = append(fields, provider.CustomField{Name: "Statement", Value: key})
	}

	return &provider.InvoicePayload{
		ProviderCustomerID: providerCustomerID,
		Currency:           inv.Currency,
		CollectionMethod:   inv.CollectionMethod,
		CustomerName:       customerName,
		Email:              email,
		Description:        fmt.Sprintf("Invoice %s", statementDate.Format("Jan 2, 2006")),
		DueDate:            inv.DueAt,
		CustomFields:       fields,
		Metadata:           map[string]string{types.MetadataKeyStatementKey: inv.Metadata[types.MetadataKeyStatementKey]},
	}
}

func billingPeriodBounds(items []*invoice.LineItem) (time.Time, time.Time, bool) {
	if len(items) == 0 {
		return time.Time{}, time.Time{}, false
	}
	start, end := items[0].CycleStartAt, items[0].CycleEndAt
	for _, li := range items[1:] {
		if li.CycleStartAt.Before(start) {
			start = li.CycleStartAt
		}
		if li.CycleEndAt.After(end) {
			end = li.CycleEndAt
		}
	}
	return start, end, true
}

// upsertProviderItems mirrors the billable line items onto the provider
// invoice with bounded concurrency, matching existing provider items by
// their subscription item id metadata
func (s *billingService) upsertProviderItems(ctx context.Context, prov provider.PaymentProvider, pInv *provider.ProviderInvoice, inv *invoice.Invoice, billable []*invoice.LineItem, providerCustomerID string) (map[string]string, error) {
	var mu sync.Mutex
	providerItemIDs := make(map[string]string, len(billable))

	p := pool.New().
		WithMaxGoroutines(s.Config.Billing.ProviderConcurrency).
		WithErrors().
		WithContext(ctx)

	for _, li := range billable {
		li := li
		p.Go(func(ctx context.Context) error {
			payload := &provider.LineItemPayload{
				ProviderCustomerID: providerCustomerID,
				Currency:           inv.Currency,
				Description:        li.Description,
				AmountCents:        li.AmountTotal,
				PeriodStart:        li.CycleStartAt,
				PeriodEnd:          li.CycleEndAt,
				Metadata: map[string]string{
					types.MetadataKeySubscriptionItemID: *li.SubscriptionItemID,
				},
			}

			if existing := pInv.ItemBySubscriptionItemID(*li.SubscriptionItemID); existing != nil {
				if err := prov.UpdateInvoiceItem(ctx, existing.ID, payload); err != nil {
					return err
				}
				mu.Lock()
				providerItemIDs[li.ID] = existing.ID
				mu.Unlock()
				return nil
			}

			id, err := prov.AddInvoiceItem(ctx, pInv.ID, payload)
			if err != nil {
				return err
			}
			mu.Lock()
			providerItemIDs[li.ID] = id
			mu.Unlock()
			return nil
		})
	}

	if err := p.Wait(); err != nil {
		return nil, err
	}
	return providerItemIDs, nil
}

// upsertProviderCreditLine keeps a single negative credit line on the
// provider invoice when credit was applied
func (s *billingService) upsertProviderCreditLine(ctx context.Context, prov provider.PaymentProvider, pInv *provider.ProviderInvoice, inv *invoice.Invoice, providerCustomerID string) error {
	if !inv.AmountCreditUsed.IsPositive() || !inv.TotalCents.IsPositive() {
		return nil
	}

	start, end := time.Now().UTC(), time.Now().UTC()
	if inv.IssueDate != nil {
		start, end = *inv.IssueDate, *inv.IssueDate
	}

	payload := &provider.LineItemPayload{
		ProviderCustomerID: providerCustomerID,
		Currency:           inv.Currency,
		Description:        "Credit applied",
		AmountCents:        inv.AmountCreditUsed.Neg(),
		PeriodStart:        start,
		PeriodEnd:          end,
		Metadata: map[string]string{
			types.MetadataKeyKind: types.MetadataKindCreditApplied,
		},
	}

	if existing := pInv.CreditItem(); existing != nil {
		return prov.UpdateInvoiceItem(ctx, existing.ID, payload)
	}
	_, err := prov.AddInvoiceItem(ctx, pInv.ID, payload)
	return err
}

// --- payment collection ---

func (s *billingService) CollectInvoicePayment(ctx context.Context, invoiceID string, now time.Time) (*invoice.Invoice, error) {
	inv, err := s.InvoiceRepo.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	return s.collectInvoicePayment(ctx, inv, now)
}

func (s *billingService) collectInvoicePayment(ctx context.Context, inv *invoice.Invoice, now time.Time) (*invoice.Invoice, error) {
	if inv.InvoiceStatus.Terminal() {
		return inv, nil
	}
	if err := s.checkCollectionPreconditions(inv); err != nil {
		return nil, err
	}

	prov, err := s.customers.GetPaymentProvider(ctx, inv.ProjectID, inv.PaymentProvider)
	if err != nil {
		return nil, err
	}

	if inv.InvoiceStatus == types.InvoiceStatusWaiting {
		return s.pollWaitingInvoice(ctx, prov, inv, now)
	}

	switch inv.CollectionMethod {
	case types.CollectionMethodChargeAutomatically:
		return s.chargeInvoice(ctx, prov, inv, now)
	case types.CollectionMethodSendInvoice:
		if err := prov.SendInvoice(ctx, *inv.ProviderInvoiceID); err != nil {
			return nil, err
		}
		inv.InvoiceStatus = types.InvoiceStatusWaiting
		sent := now
		inv.SentAt = &sent
		return s.InvoiceRepo.Update(ctx, inv)
	}
	return nil, inv.CollectionMethod.Validate()
}

func (s *billingService) checkCollectionPreconditions(inv *invoice.Invoice) error {
	if inv.InvoiceStatus == types.InvoiceStatusDraft {
		return ierr.NewError("cannot collect a draft invoice").
			WithReportableDetails(map[string]any{"invoice_id": inv.ID}).
			Mark(ierr.ErrInvalidOperation)
	}
	if inv.InvoiceStatus == types.InvoiceStatusFailed {
		return ierr.NewError("cannot collect a failed invoice").
			WithReportableDetails(map[string]any{"invoice_id": inv.ID}).
			Mark(ierr.ErrInvalidOperation)
	}
	if inv.ProviderInvoiceID == nil || *inv.ProviderInvoiceID == "" {
		return ierr.NewError("invoice has no provider invoice id").
			WithReportableDetails(map[string]any{"invoice_id": inv.ID}).
			Mark(ierr.ErrInvalidOperation)
	}
	if inv.PaymentMethodID == "" {
		return ierr.NewError("invoice has no payment method").
			WithReportableDetails(map[string]any{"invoice_id": inv.ID}).
			Mark(ierr.ErrInvalidOperation)
	}
	return nil
}

// pollWaitingInvoice adopts a terminal provider status or, past the
// attempt and due budgets, gives up on the invoice
func (s *billingService) pollWaitingInvoice(ctx context.Context, prov provider.PaymentProvider, inv *invoice.Invoice, now time.Time) (*invoice.Invoice, error) {
	pInv, err := prov.GetInvoice(ctx, *inv.ProviderInvoiceID)
	if err != nil {
		return nil, err
	}

	switch pInv.Status {
	case provider.ProviderInvoicePaid:
		paid := now
		inv.InvoiceStatus = types.InvoiceStatusPaid
		inv.PaidAt = &paid
		if pInv.URL != "" {
			url := pInv.URL
			inv.ProviderInvoiceURL = &url
		}
		return s.InvoiceRepo.Update(ctx, inv)
	case provider.ProviderInvoiceVoid:
		inv.InvoiceStatus = types.InvoiceStatusVoid
		return s.InvoiceRepo.Update(ctx, inv)
	}

	if inv.AttemptCount() >= s.maxPaymentAttempts() ||
		(inv.PastDueAt != nil && inv.PastDueAt.Before(now)) {
		inv.InvoiceStatus = types.InvoiceStatusFailed
		return s.InvoiceRepo.Update(ctx, inv)
	}
	return inv, nil
}

func (s *billingService) chargeInvoice(ctx context.Context, prov provider.PaymentProvider, inv *invoice.Invoice, now time.Time) (*invoice.Invoice, error) {
	// the provider may have merged or settled the invoice on its side
	pInv, err := prov.GetInvoice(ctx, *inv.ProviderInvoiceID)
	if err != nil {
		return nil, err
	}
	if pInv.Status.Terminal() {
		if pInv.Status == provider.ProviderInvoicePaid {
			paid := now
			inv.InvoiceStatus = types.InvoiceStatusPaid
			inv.PaidAt = &paid
		} else {
			inv.InvoiceStatus = types.InvoiceStatusVoid
		}
		return s.InvoiceRepo.Update(ctx, inv)
	}

	result, err := prov.CollectPayment(ctx, *inv.ProviderInvoiceID, inv.PaymentMethodID)
	if err != nil {
		inv.AddAttempt(types.PaymentAttemptFailed, ierr.Code(err), now)
		if _, updErr := s.InvoiceRepo.Update(ctx, inv); updErr != nil {
			s.Logger.Errorw("failed to record payment attempt",
				"invoice_id", inv.ID, "error", updErr)
		}
		return nil, err
	}

	if result.InvoiceURL != "" {
		url := result.InvoiceURL
		inv.ProviderInvoiceURL = &url
	}

	switch result.Status {
	case provider.PaymentStatusPaid:
		paid := now
		inv.InvoiceStatus = types.InvoiceStatusPaid
		inv.PaidAt = &paid
		inv.AddAttempt(types.PaymentAttemptSucceeded, "", now)
	case provider.PaymentStatusPending:
		inv.InvoiceStatus = types.InvoiceStatusUnpaid
		inv.AddAttempt(types.PaymentAttemptPending, "", now)
	default:
		inv.AddAttempt(types.PaymentAttemptFailed, result.ErrorCode, now)
		if _, updErr := s.InvoiceRepo.Update(ctx, inv); updErr != nil {
			s.Logger.Errorw("failed to record payment attempt",
				"invoice_id", inv.ID, "error", updErr)
		}
		return nil, ierr.NewError("payment was declined").
			WithReportableDetails(map[string]any{
				"invoice_id": inv.ID,
				"error_code": result.ErrorCode,
			}).
			Mark(ierr.ErrProviderFailed)
	}

	return s.InvoiceRepo.Update(ctx, inv)
}

func (s *billingService) maxPaymentAttempts() int {
	if s.Config.Billing.MaxPaymentAttempts > 0 {
		return s.Config.Billing.MaxPaymentAttempts
	}
	return types.MaxPaymentAttempts
}

// --- orchestration ---

func (s *billingService) BillingInvoice(ctx context.Context, invoiceID string, now time.Time) (*invoice.Invoice, error) {
	inv, err := s.InvoiceRepo.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	err = s.withSubscriptionMachine(ctx, machineParams{SubscriptionID: inv.SubscriptionID, Now: now, Lock: true}, func(ctx context.Context, machine *SubscriptionMachine) error {
		finalized, err := s.finalizeInvoice(ctx, inv, now)
		if err != nil {
			machine.ReportInvoiceFailure(inv.ID, err)
			return err
		}
		inv = finalized

		if inv.InvoiceStatus == types.InvoiceStatusVoid {
			machine.ReportInvoiceSuccess(inv.ID)
			return nil
		}

		reconciled, err := s.upsertProviderInvoice(ctx, inv, now)
		if err != nil {
			machine.ReportInvoiceFailure(inv.ID, err)
			return err
		}
		inv = reconciled

		collected, err := s.collectInvoicePayment(ctx, inv, now)
		if err != nil {
			machine.ReportPaymentFailure(inv.ID, err)
			return err
		}
		inv = collected

		machine.ReportInvoiceSuccess(inv.ID)
		return nil
	})
	return inv, err
}
