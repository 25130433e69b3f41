package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Abaso007/builderai-sub001/internal/cycle"
	"github.com/Abaso007/builderai-sub001/internal/domain/events"
	"github.com/Abaso007/builderai-sub001/internal/domain/feature"
	"github.com/Abaso007/builderai-sub001/internal/domain/grant"
	ierr "github.com/Abaso007/builderai-sub001/internal/errors"
	"github.com/Abaso007/builderai-sub001/internal/types"
)

// FeaturePriceParams prices one feature's usage across its grants over a
// billing window. Grants arrive sorted priority descending.
type FeaturePriceParams struct {
	PlanVersion *feature.FeaturePlanVersion
	Grants      []*grant.Grant
	Usage       decimal.Decimal
	WindowStart time.Time
	WindowEnd   time.Time
}

// FeaturePriceSlice is one waterfall-attributed share of a feature price.
// A nil GrantID marks the overage share beyond every grant limit.
type FeaturePriceSlice struct {
	GrantID            *string         `json:"grant_id"`
	SubscriptionItemID string          `json:"subscription_item_id,omitempty"`
	Quantity           decimal.Decimal `json:"quantity"`
	UnitPrice          decimal.Decimal `json:"unit_price"`
	SubtotalPrice      decimal.Decimal `json:"subtotal_price"`
	TotalPrice         decimal.Decimal `json:"total_price"`
	Overage            bool            `json:"overage,omitempty"`
}

// FeatureEstimate is the estimated price of one feature at current usage
type FeatureEstimate struct {
	FeatureSlug string              `json:"feature_slug"`
	Usage       decimal.Decimal     `json:"usage"`
	Slices      []FeaturePriceSlice `json:"slices"`
}

// CalculateFeaturePrice attributes the usage across the grants priority
// descending and prices each share, prorating by the intersection of the
// grant's validity with the billing window. Leftover usage beyond every
// limit becomes an unprorated overage slice.
func (s *billingService) CalculateFeaturePrice(params FeaturePriceParams) ([]FeaturePriceSlice, error) {
	fpv := params.PlanVersion
	if fpv == nil {
		return nil, ierr.NewError("feature plan version is required for pricing").
			Mark(ierr.ErrValidation)
	}

	slices := make([]FeaturePriceSlice, 0, len(params.Grants)+1)
	remaining := params.Usage

	for _, g := range params.Grants {
		if !remaining.IsPositive() {
			break
		}
		serviceStart, serviceEnd, ok := intersectWindow(g, params.WindowStart, params.WindowEnd)
		if !ok {
			continue
		}

		quantity := remaining
		if g.Limit != nil && g.Limit.LessThan(quantity) {
			quantity = *g.Limit
		}
		if !quantity.IsPositive() {
			continue
		}

		prorate := decimal.NewFromInt(1)
		if serviceStart.After(params.WindowStart) || serviceEnd.Before(params.WindowEnd) {
			proration, err := cycle.CalculateProration(cycle.ProrationParams{
				ServiceStart:   serviceStart,
				ServiceEnd:     serviceEnd,
				EffectiveStart: params.WindowStart,
				BillingConfig:  fpv.BillingConfig,
			})
			if err != nil {
				return nil, err
			}
			prorate = proration.Factor
		}

		price, err := cycle.CalculatePricePerFeature(cycle.PriceParams{
			Config:      fpv.Config,
			FeatureType: fpv.FeatureType,
			Quantity:    quantity,
			Prorate:     prorate,
		})
		if err != nil {
			return nil, err
		}

		grantID := g.ID
		slices = append(slices, FeaturePriceSlice{
			GrantID:            &grantID,
			SubscriptionItemID: g.SubscriptionItemID,
			Quantity:           quantity,
			UnitPrice:          price.UnitPrice,
			SubtotalPrice:      price.SubtotalPrice,
			TotalPrice:         price.TotalPrice,
		})
		remaining = remaining.Sub(quantity)
	}

	if remaining.IsPositive() {
		price, err := cycle.CalculatePricePerFeature(cycle.PriceParams{
			Config:      fpv.Config,
			FeatureType: fpv.FeatureType,
			Quantity:    remaining,
			Prorate:     decimal.NewFromInt(1),
		})
		if err != nil {
			return nil, err
		}
		slices = append(slices, FeaturePriceSlice{
			SubscriptionItemID: overageItemID(params.Grants),
			Quantity:           remaining,
			UnitPrice:          price.UnitPrice,
			SubtotalPrice:      price.SubtotalPrice,
			TotalPrice:         price.TotalPrice,
			Overage:            true,
		})
	}

	return slices, nil
}

// intersectWindow clips the grant's validity to the billing window
func intersectWindow(g *grant.Grant, windowStart, windowEnd time.Time) (time.Time, time.Time, bool) {
	start := windowStart
	if g.EffectiveAt.After(start) {
		start = g.EffectiveAt
	}
	end := windowEnd
	if g.ExpiresAt != nil && g.ExpiresAt.Before(end) {
		end = *g.ExpiresAt
	}
	if !start.Before(end) {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

// overageItemID picks the subscription item the overage share bills
// against: the highest priority overage capable grant, else the top grant
func overageItemID(grants []*grant.Grant) string {
	if len(grants) == 0 {
		return ""
	}
	for _, g := range grants {
		if g.AllowOverage {
			return g.SubscriptionItemID
		}
	}
	return grants[0].SubscriptionItemID
}

// EstimatePriceCurrentUsage prices every feature the customer holds
// grants on at its current measured usage, batching the usage fetch per
// unique window
func (s *billingService) EstimatePriceCurrentUsage(ctx context.Context, customerID string, now time.Time) ([]*FeatureEstimate, error) {
	projectID := types.GetProjectID(ctx)

	grants, err := s.grants.GetGrantsForCustomer(ctx, GrantQuery{CustomerID: customerID, StartAt: now})
	if err != nil {
		return nil, err
	}
	if len(grants) == 0 {
		return nil, nil
	}

	bySlug := make(map[string][]*grant.Grant)
	slugs := make([]string, 0)
	fpvIDs := make([]string, 0)
	seenFpv := make(map[string]bool)
	for _, g := range grants {
		if _, seen := bySlug[g.FeatureSlug]; !seen {
			slugs = append(slugs, g.FeatureSlug)
		}
		bySlug[g.FeatureSlug] = append(bySlug[g.FeatureSlug], g)
		if !seenFpv[g.FeaturePlanVersionID] {
			seenFpv[g.FeaturePlanVersionID] = true
			fpvIDs = append(fpvIDs, g.FeaturePlanVersionID)
		}
	}

	versions, err := s.FeatureRepo.ListPlanVersionsByIDs(ctx, fpvIDs)
	if err != nil {
		return nil, err
	}
	fpvByID := make(map[string]*feature.FeaturePlanVersion, len(versions))
	for _, v := range versions {
		fpvByID[v.ID] = v
	}

	// derive the current window per feature and group the usage fetch by
	// unique window so each window costs one analytics query
	type slugWindow struct {
		slug   string
		fpv    *feature.FeaturePlanVersion
		window cycle.Window
	}
	resolved := make([]slugWindow, 0, len(slugs))
	byWindow := make(map[invoiceCycleKey][]events.BillingFeature)

	for _, slug := range slugs {
		best := bySlug[slug][0]
		fpv := fpvByID[best.FeaturePlanVersionID]
		if fpv == nil {
			s.Logger.Warnw("grant references an unknown feature plan version",
				"grant_id", best.ID, "feature_plan_version_id", best.FeaturePlanVersionID)
			continue
		}

		cfg := fpv.BillingConfig
		if reset := best.EffectiveResetConfig(); reset != nil {
			cfg = *reset
		}
		window, err := cycle.CalculateCycleWindow(now, best.EffectiveAt, best.ExpiresAt, cfg, nil)
		if err != nil {
			return nil, err
		}
		if window == nil {
			continue
		}

		resolved = append(resolved, slugWindow{slug: slug, fpv: fpv, window: *window})
		if fpv.AggregationMethod.Fetchable() && fpv.FeatureType.IsMetered() {
			key := invoiceCycleKey{Start: window.Start, End: window.End}
			byWindow[key] = append(byWindow[key], events.BillingFeature{
				FeatureSlug:       slug,
				AggregationMethod: fpv.AggregationMethod,
				FeatureType:       fpv.FeatureType,
			})
		}
	}

	usageBySlug := make(map[string]decimal.Decimal)
	for key, features := range byWindow {
		rows, err := s.Analytics.GetUsageBillingFeatures(ctx, &events.UsageQueryParams{
			ProjectID:  projectID,
			CustomerID: customerID,
			Features:   features,
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

	estimates := make([]*FeatureEstimate, 0, len(resolved))
	for _, sw := range resolved {
		usage := usageBySlug[sw.slug]
		slices, err := s.CalculateFeaturePrice(FeaturePriceParams{
			PlanVersion: sw.fpv,
			Grants:      bySlug[sw.slug],
			Usage:       usage,
			WindowStart: sw.window.Start,
			WindowEnd:   sw.window.End,
		})
		if err != nil {
			return nil, err
		}
		estimates = append(estimates, &FeatureEstimate{
			FeatureSlug: sw.slug,
			Usage:       usage,
			Slices:      slices,
		})
	}
	return estimates, nil
}

// invoiceCycleKey groups work sharing one billing window
type invoiceCycleKey struct {
	Start time.Time
	End   time.Time
}
