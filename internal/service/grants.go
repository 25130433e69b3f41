package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Abaso007/builderai-sub001/internal/cycle"
	"github.com/Abaso007/builderai-sub001/internal/domain/entitlement"
	"github.com/Abaso007/builderai-sub001/internal/domain/grant"
	ierr "github.com/Abaso007/builderai-sub001/internal/errors"
	"github.com/Abaso007/builderai-sub001/internal/types"
)

// Denied reasons surfaced to callers of verify and consume
const (
	DeniedReasonEntitlementError    = "ENTITLEMENT_ERROR"
	DeniedReasonEntitlementNotFound = ierr.ErrCodeEntitlementNotFound
	DeniedReasonLimitExceeded       = ierr.ErrCodeLimitExceeded
)

// VerifyResult is the outcome of one feature access check
type VerifyResult struct {
	Allowed      bool             `json:"allowed"`
	DeniedReason string           `json:"denied_reason,omitempty"`
	Usage        decimal.Decimal  `json:"usage"`
	Limit        *decimal.Decimal `json:"limit,omitempty"`
}

// GrantAttribution is one slice of a consumption attributed to a grant
type GrantAttribution struct {
	GrantID string          `json:"grant_id"`
	Amount  decimal.Decimal `json:"amount"`
	Overage bool            `json:"overage,omitempty"`
}

// ReportUsageResult is the outcome of one consumption report
type ReportUsageResult struct {
	Allowed           bool               `json:"allowed"`
	DeniedReason      string             `json:"denied_reason,omitempty"`
	Usage             decimal.Decimal    `json:"usage"`
	AccumulatedUsage  decimal.Decimal    `json:"accumulated_usage"`
	EffectiveAt       time.Time          `json:"effective_at"`
	Limit             *decimal.Decimal   `json:"limit,omitempty"`
	ConsumedFrom      []GrantAttribution `json:"consumed_from,omitempty"`
	NotifiedOverLimit bool               `json:"notified_over_limit,omitempty"`
}

// GrantQuery scopes a grant aggregation to a customer and a time window.
// A nil EndAt means an open-ended window starting at StartAt.
type GrantQuery struct {
	CustomerID string
	StartAt    time.Time
	EndAt      *time.Time
}

// GrantsManager owns grant lifecycle and the grant-to-entitlement
// reasoning shared by the runtime and billing paths
type GrantsManager interface {
	// CreateGrant validates cross-subject compatibility over the grant's
	// active interval and inserts conflict safe on the identity key
	CreateGrant(ctx context.Context, g *grant.Grant) (*grant.Grant, error)

	// GetGrantsForCustomer loads the grants of all subjects that apply to
	// the customer inside the window, ordered by priority descending
	GetGrantsForCustomer(ctx context.Context, query GrantQuery) ([]*grant.Grant, error)

	// ComputeGrantsForCustomer recomputes and upserts the entitlement
	// states for every feature the customer holds grants on. Usage
	// overrides carry hot counters across a rematerialization.
	ComputeGrantsForCustomer(ctx context.Context, customerID string, now time.Time, usageOverrides map[string]decimal.Decimal) ([]*entitlement.EntitlementState, error)

	// ComputeEntitlementFromGrants merges one feature's grants and
	// upserts the resulting state without clobbering usage counters
	ComputeEntitlementFromGrants(ctx context.Context, customerID, featureSlug string, grants []*grant.Grant, now time.Time, usageOverride *decimal.Decimal) (*entitlement.EntitlementState, error)

	// Verify checks feature access against the cached state
	Verify(state *entitlement.EntitlementState, now time.Time) *VerifyResult

	// Consume records usage against the state and returns the waterfall
	// attribution across its grants
	Consume(ctx context.Context, state *entitlement.EntitlementState, amount decimal.Decimal, now time.Time) (*ReportUsageResult, error)

	// NormalizeCycleUsage rolls the cycle counter into the accumulated
	// counter when the reset boundary has passed. Reports whether the
	// state changed.
	NormalizeCycleUsage(ctx context.Context, state *entitlement.EntitlementState, now time.Time) (bool, error)

	// RenewExpiringGrants creates successor grants for auto-renewable
	// grants expiring before the horizon. Returns the number renewed.
	RenewExpiringGrants(ctx context.Context, horizon time.Time) (int, error)
}

type grantsManager struct {
	ServiceParams
}

func NewGrantsManager(params ServiceParams) GrantsManager {
	return &grantsManager{ServiceParams: params}
}

func (m *grantsManager) CreateGrant(ctx context.Context, g *grant.Grant) (*grant.Grant, error) {
	if g.ID == "" {
		g.ID = types.GenerateUUIDWithPrefix(types.UUID_PREFIX_GRANT)
	}
	if g.ProjectID == "" {
		g.BaseModel = types.GetDefaultBaseModel(ctx)
	}
	g.Priority = g.Type.Priority()

	if err := g.Validate(); err != nil {
		return nil, err
	}

	existing, err := m.GrantRepo.ListOverlappingByFeature(ctx, g.ProjectID, g.FeatureSlug, g.EffectiveAt, g.ExpiresAt)
	if err != nil {
		return nil, err
	}
	for _, other := range existing {
		if !g.CompatibleWith(other) {
			return nil, ierr.NewError("grant conflicts with an overlapping grant on the same feature").
				WithHint("Overlapping grants must agree on feature type, aggregation method and reset cadence").
				WithReportableDetails(map[string]any{
					"feature_slug":      g.FeatureSlug,
					"conflicting_grant": other.ID,
				}).
				Mark(ierr.ErrGrantCreateFailed)
		}
	}

	created, err := m.GrantRepo.Create(ctx, g)
	if err != nil {
		if ierr.IsAlreadyExists(err) {
			return nil, ierr.WithError(err).
				WithHint("A grant with the same subject, feature and validity already exists").
				Mark(ierr.ErrGrantCreateFailed)
		}
		return nil, err
	}
	return created, nil
}

func (m *grantsManager) GetGrantsForCustomer(ctx context.Context, query GrantQuery) ([]*grant.Grant, error) {
	projectID := types.GetProjectID(ctx)

	subjects := []types.GrantSubject{
		{Type: types.GrantSubjectCustomer, ID: query.CustomerID},
		{Type: types.GrantSubjectProject, ID: projectID},
	}

	// plan scoped grants apply only while a subscription phase is active
	phase, err := m.SubscriptionRepo.GetCurrentPhaseForCustomer(ctx, projectID, query.CustomerID, query.StartAt)
	if err != nil && !ierr.IsNotFound(err) {
		return nil, err
	}
	if phase != nil {
		if phase.PlanID != "" {
			subjects = append(subjects, types.GrantSubject{Type: types.GrantSubjectPlan, ID: phase.PlanID})
		}
		if phase.PlanVersionID != "" {
			subjects = append(subjects, types.GrantSubject{Type: types.GrantSubjectPlanVersion, ID: phase.PlanVersionID})
		}
	}

	return m.GrantRepo.ListBySubjects(ctx, projectID, subjects, query.StartAt, query.EndAt)
}

func (m *grantsManager) ComputeGrantsForCustomer(ctx context.Context, customerID string, now time.Time, usageOverrides map[string]decimal.Decimal) ([]*entitlement.EntitlementState, error) {
	grants, err := m.GetGrantsForCustomer(ctx, GrantQuery{CustomerID: customerID, StartAt: now})
	if err != nil {
		return nil, err
	}

	// group per feature slug preserving priority order
	bySlug := make(map[string][]*grant.Grant)
	slugs := make([]string, 0)
	for _, g := range grants {
		if _, seen := bySlug[g.FeatureSlug]; !seen {
			slugs = append(slugs, g.FeatureSlug)
		}
		bySlug[g.FeatureSlug] = append(bySlug[g.FeatureSlug], g)
	}

	states := make([]*entitlement.EntitlementState, 0, len(slugs))
	for _, slug := range slugs {
		var override *decimal.Decimal
		if usage, ok := usageOverrides[slug]; ok {
			override = &usage
		}
		state, err := m.ComputeEntitlementFromGrants(ctx, customerID, slug, bySlug[slug], now, override)
		if err != nil {
			return nil, err
		}
		states = append(states, state)
	}
	return states, nil
}

func (m *grantsManager) ComputeEntitlementFromGrants(ctx context.Context, customerID, featureSlug string, grants []*grant.Grant, now time.Time, usageOverride *decimal.Decimal) (*entitlement.EntitlementState, error) {
	projectID := types.GetProjectID(ctx)
	if len(grants) == 0 {
		return nil, ierr.NewError("cannot compute an entitlement without grants").
			WithReportableDetails(map[string]any{
				"customer_id":  customerID,
				"feature_slug": featureSlug,
			}).
			Mark(ierr.ErrValidation)
	}

	merged := m.mergeGrants(grants, nil)

	// roll the previous cycle forward before static fields move under it
	rolled := false
	if prev, err := m.EntitlementRepo.Get(ctx, projectID, customerID, featureSlug); err == nil {
		changed, err := m.NormalizeCycleUsage(ctx, prev, now)
		if err != nil {
			return nil, err
		}
		rolled = changed
	} else if !ierr.IsNotFound(err) {
		return nil, err
	}

	snapshots := make([]entitlement.GrantSnapshot, 0, len(merged.Retained))
	for _, g := range merged.Retained {
		snapshots = append(snapshots, entitlement.GrantSnapshot{
			GrantID:              g.ID,
			Type:                 g.Type,
			Priority:             g.Priority,
			Limit:                g.Limit,
			AllowOverage:         g.AllowOverage,
			EffectiveAt:          g.EffectiveAt,
			ExpiresAt:            g.ExpiresAt,
			FeaturePlanVersionID: g.FeaturePlanVersionID,
			SubscriptionID:       g.SubscriptionID,
			SubscriptionPhaseID:  g.SubscriptionPhaseID,
			SubscriptionItemID:   g.SubscriptionItemID,
		})
	}

	// the state lives at most until the current reset cycle ends, so a
	// boundary crossing expires the cached copy and forces a recompute
	// on the read path
	effectiveAt := merged.EffectiveAt
	expiresAt := merged.ExpiresAt
	if merged.ResetConfig != nil && !merged.AggregationMethod.NeverResets() {
		window, err := cycle.CalculateCycleWindow(now, merged.EffectiveAt, merged.ExpiresAt, *merged.ResetConfig, nil)
		if err != nil {
			return nil, err
		}
		if window != nil {
			effectiveAt = window.Start
			if expiresAt == nil || window.End.Before(*expiresAt) {
				end := window.End
				expiresAt = &end
			}
		}
	}

	state := &entitlement.EntitlementState{
		ID:                types.GenerateUUIDWithPrefix(types.UUID_PREFIX_ENTITLEMENT),
		CustomerID:        customerID,
		FeatureSlug:       featureSlug,
		FeatureType:       merged.FeatureType,
		AggregationMethod: merged.AggregationMethod,
		ResetConfig:       merged.ResetConfig,
		MergingPolicy:     merged.Policy,
		Limit:             merged.Limit,
		AllowOverage:      merged.AllowOverage,
		Grants:            snapshots,
		EffectiveAt:       effectiveAt,
		ExpiresAt:         expiresAt,
		Version:           entitlement.ComputeVersion(merged.Limit, merged.AllowOverage, merged.Policy, snapshots),
		NextRevalidateAt:  now.Add(m.Config.Entitlement.RevalidateInterval),
		ComputedAt:        now,
		BaseModel:         types.GetDefaultBaseModel(ctx),
	}

	stored, err := m.EntitlementRepo.Upsert(ctx, state)
	if err != nil {
		return nil, err
	}

	// a caller-supplied counter from before a cycle roll belongs to the
	// finished cycle and must not leak into the new one
	if usageOverride != nil && !rolled && !stored.CurrentCycleUsage.Equal(*usageOverride) {
		stored.CurrentCycleUsage = *usageOverride
		stored.LastSyncAt = now
		if err := m.EntitlementRepo.UpdateCounters(ctx, stored); err != nil {
			return nil, err
		}
	}
	return stored, nil
}

// mergedGrants is the intermediate result of collapsing one feature's
// grants into a single effective entitlement
type mergedGrants struct {
	Policy            types.MergingPolicy
	FeatureType       types.FeatureType
	AggregationMethod types.AggregationMethod
	ResetConfig       *types.BillingConfig
	Limit             *decimal.Decimal
	AllowOverage      bool
	EffectiveAt       time.Time
	ExpiresAt         *time.Time
	Retained          []*grant.Grant
}

// mergeGrants collapses grants sorted priority descending. The policy is
// derived from the best grant's feature type unless overridden; feature
// type and aggregation method always follow the best grant, and a
// disagreement among lower grants is logged as a data anomaly but honored.
func (m *grantsManager) mergeGrants(grants []*grant.Grant, policyOverride *types.MergingPolicy) *mergedGrants {
	best := grants[0]
	policy := best.FeatureType.MergingPolicy()
	if policyOverride != nil {
		policy = *policyOverride
	}

	for _, g := range grants[1:] {
		if g.FeatureType != best.FeatureType || g.AggregationMethod != best.AggregationMethod {
			m.Logger.Warnw("overlapping grants disagree on feature semantics",
				"feature_slug", best.FeatureSlug,
				"best_grant", best.ID,
				"grant", g.ID)
		}
	}

	merged := &mergedGrants{
		Policy:            policy,
		FeatureType:       best.FeatureType,
		AggregationMethod: best.AggregationMethod,
	}

	switch policy {
	case types.MergingPolicySum:
		merged.Limit = sumLimits(grants)
		merged.AllowOverage = anyOverage(grants)
		merged.EffectiveAt, merged.ExpiresAt = unionValidity(grants)
		merged.Retained = grants
		merged.ResetConfig = best.EffectiveResetConfig()

	case types.MergingPolicyMax:
		winner := pickByLimit(grants, func(candidate, current decimal.Decimal) bool {
			return candidate.GreaterThan(current)
		})
		merged.Limit = winner.Limit
		merged.AllowOverage = anyOverage(grants)
		merged.EffectiveAt, merged.ExpiresAt = winner.EffectiveAt, winner.ExpiresAt
		merged.Retained = []*grant.Grant{winner}
		merged.ResetConfig = winner.EffectiveResetConfig()

	case types.MergingPolicyMin:
		winner := pickByLimit(grants, func(candidate, current decimal.Decimal) bool {
			return candidate.LessThan(current)
		})
		merged.Limit = winner.Limit
		merged.AllowOverage = allOverage(grants)
		merged.EffectiveAt, merged.ExpiresAt = winner.EffectiveAt, winner.ExpiresAt
		merged.Retained = []*grant.Grant{winner}
		merged.ResetConfig = winner.EffectiveResetConfig()

	default: // replace
		merged.Limit = best.Limit
		merged.AllowOverage = best.AllowOverage
		merged.EffectiveAt, merged.ExpiresAt = best.EffectiveAt, best.ExpiresAt
		merged.Retained = []*grant.Grant{best}
		merged.ResetConfig = best.EffectiveResetConfig()
	}

	return merged
}

func sumLimits(grants []*grant.Grant) *decimal.Decimal {
	var total *decimal.Decimal
	for _, g := range grants {
		if g.Limit == nil {
			continue
		}
		if total == nil {
			v := *g.Limit
			total = &v
			continue
		}
		v := total.Add(*g.Limit)
		total = &v
	}
	return total
}

// pickByLimit returns the highest priority grant whose limit wins under
// better. Grants without a limit only win when every grant is unlimited.
func pickByLimit(grants []*grant.Grant, better func(candidate, current decimal.Decimal) bool) *grant.Grant {
	winner := grants[0]
	for _, g := range grants[1:] {
		if g.Limit == nil {
			continue
		}
		if winner.Limit == nil || better(*g.Limit, *winner.Limit) {
			winner = g
		}
	}
	return winner
}

func anyOverage(grants []*grant.Grant) bool {
	for _, g := range grants {
		if g.AllowOverage {
			return true
		}
	}
	return false
}

func allOverage(grants []*grant.Grant) bool {
	for _, g := range grants {
		if !g.AllowOverage {
			return false
		}
	}
	return true
}

// unionValidity returns the earliest start and latest end over all grants.
// Any open-ended grant makes the union open-ended.
func unionValidity(grants []*grant.Grant) (time.Time, *time.Time) {
	start := grants[0].EffectiveAt
	end := grants[0].ExpiresAt
	for _, g := range grants[1:] {
		if g.EffectiveAt.Before(start) {
			start = g.EffectiveAt
		}
		if end == nil {
			continue
		}
		if g.ExpiresAt == nil {
			end = nil
			continue
		}
		if g.ExpiresAt.After(*end) {
			end = g.ExpiresAt
		}
	}
	return start, end
}

func (m *grantsManager) Verify(state *entitlement.EntitlementState, now time.Time) *VerifyResult {
	if state.FeatureType == types.FeatureTypeFlat {
		one := decimal.NewFromInt(1)
		return &VerifyResult{Allowed: true, Usage: one, Limit: &one}
	}

	if state.ActiveGrantAt(now) == nil {
		return &VerifyResult{
			Allowed:      false,
			DeniedReason: DeniedReasonEntitlementError,
			Usage:        state.CurrentCycleUsage,
			Limit:        state.Limit,
		}
	}

	if state.Limit != nil && state.CurrentCycleUsage.GreaterThanOrEqual(*state.Limit) {
		return &VerifyResult{
			Allowed:      false,
			DeniedReason: DeniedReasonLimitExceeded,
			Usage:        state.CurrentCycleUsage,
			Limit:        state.Limit,
		}
	}

	return &VerifyResult{Allowed: true, Usage: state.CurrentCycleUsage, Limit: state.Limit}
}

func (m *grantsManager) Consume(ctx context.Context, state *entitlement.EntitlementState, amount decimal.Decimal, now time.Time) (*ReportUsageResult, error) {
	if amount.IsNegative() && !state.AggregationMethod.Reversible() {
		return nil, ierr.NewError("negative usage is not allowed for this aggregation").
			WithHintf("aggregation %s cannot be walked back", state.AggregationMethod).
			WithReportableDetails(map[string]any{
				"feature_slug": state.FeatureSlug,
				"amount":       amount,
			}).
			Mark(ierr.ErrIncorrectUsageReporting)
	}

	if _, err := m.NormalizeCycleUsage(ctx, state, now); err != nil {
		return nil, err
	}

	// a snapshot grant may have expired since the state was computed, so
	// the effective limit is re-derived from the grants active right now
	active := activeSnapshots(state, now)
	if len(active) == 0 {
		return &ReportUsageResult{
			Allowed:          false,
			DeniedReason:     DeniedReasonEntitlementError,
			Usage:            state.CurrentCycleUsage,
			AccumulatedUsage: state.AccumulatedUsage,
			EffectiveAt:      state.EffectiveAt,
			Limit:            state.Limit,
		}, nil
	}

	limit, allowOverage := effectiveLimit(state.MergingPolicy, active)

	newUsage := state.CurrentCycleUsage.Add(amount)
	overLimit := limit != nil && newUsage.GreaterThan(*limit)
	if overLimit && !allowOverage {
		return &ReportUsageResult{
			Allowed:          false,
			DeniedReason:     DeniedReasonLimitExceeded,
			Usage:            state.CurrentCycleUsage,
			AccumulatedUsage: state.AccumulatedUsage,
			EffectiveAt:      state.EffectiveAt,
			Limit:            limit,
		}, nil
	}

	state.CurrentCycleUsage = newUsage

	return &ReportUsageResult{
		Allowed:           true,
		Usage:             newUsage,
		AccumulatedUsage:  state.AccumulatedUsage,
		EffectiveAt:       state.EffectiveAt,
		Limit:             limit,
		ConsumedFrom:      attributeConsumption(active, amount),
		NotifiedOverLimit: overLimit,
	}, nil
}

func activeSnapshots(state *entitlement.EntitlementState, now time.Time) []*entitlement.GrantSnapshot {
	active := make([]*entitlement.GrantSnapshot, 0, len(state.Grants))
	for i := range state.Grants {
		g := &state.Grants[i]
		if now.Before(g.EffectiveAt) {
			continue
		}
		if g.ExpiresAt != nil && !now.Before(*g.ExpiresAt) {
			continue
		}
		active = append(active, g)
	}
	return active
}

// effectiveLimit re-applies the merge policy over the still active
// snapshot grants
func effectiveLimit(policy types.MergingPolicy, active []*entitlement.GrantSnapshot) (*decimal.Decimal, bool) {
	switch policy {
	case types.MergingPolicySum:
		var total *decimal.Decimal
		overage := false
		for _, g := range active {
			overage = overage || g.AllowOverage
			if g.Limit == nil {
				continue
			}
			if total == nil {
				v := *g.Limit
				total = &v
				continue
			}
			v := total.Add(*g.Limit)
			total = &v
		}
		return total, overage

	case types.MergingPolicyMax:
		var limit *decimal.Decimal
		overage := false
		for _, g := range active {
			overage = overage || g.AllowOverage
			if g.Limit == nil {
				continue
			}
			if limit == nil || g.Limit.GreaterThan(*limit) {
				limit = g.Limit
			}
		}
		return limit, overage

	case types.MergingPolicyMin:
		var limit *decimal.Decimal
		overage := true
		for _, g := range active {
			overage = overage && g.AllowOverage
			if g.Limit == nil {
				continue
			}
			if limit == nil || g.Limit.LessThan(*limit) {
				limit = g.Limit
			}
		}
		return limit, overage

	default: // replace
		top := active[0]
		return top.Limit, top.AllowOverage
	}
}

// attributeConsumption walks the active grants priority descending,
// attributing min(remaining, grant limit) to each. Any leftover goes to
// the highest priority overage capable grant, falling back to the top
// grant; consumption is never dropped.
func attributeConsumption(active []*entitlement.GrantSnapshot, amount decimal.Decimal) []GrantAttribution {
	if !amount.IsPositive() {
		return []GrantAttribution{{GrantID: active[0].GrantID, Amount: amount}}
	}

	attributions := make([]GrantAttribution, 0, len(active))
	remaining := amount
	for _, g := range active {
		if !remaining.IsPositive() {
			break
		}
		share := remaining
		if g.Limit != nil && g.Limit.LessThan(share) {
			share = *g.Limit
		}
		if !share.IsPositive() {
			continue
		}
		attributions = append(attributions, GrantAttribution{GrantID: g.GrantID, Amount: share})
		remaining = remaining.Sub(share)
	}

	if remaining.IsPositive() {
		target := active[0]
		for _, g := range active {
			if g.AllowOverage {
				target = g
				break
			}
		}
		for i := range attributions {
			if attributions[i].GrantID == target.GrantID {
				attributions[i].Amount = attributions[i].Amount.Add(remaining)
				attributions[i].Overage = true
				return attributions
			}
		}
		attributions = append(attributions, GrantAttribution{GrantID: target.GrantID, Amount: remaining, Overage: true})
	}

	return attributions
}

func (m *grantsManager) NormalizeCycleUsage(ctx context.Context, state *entitlement.EntitlementState, now time.Time) (bool, error) {
	if state.ResetConfig == nil || state.AggregationMethod.NeverResets() {
		return false, nil
	}

	window, err := cycle.CalculateCycleWindow(now, state.EffectiveAt, nil, *state.ResetConfig, nil)
	if err != nil {
		return false, err
	}
	if window == nil || window.Contains(state.EffectiveAt) {
		// still inside the cycle the counters were opened in
		return false, nil
	}

	state.AccumulatedUsage = state.AccumulatedUsage.Add(state.CurrentCycleUsage)
	state.CurrentCycleUsage = decimal.Zero
	state.EffectiveAt = window.Start
	state.NextRevalidateAt = now.Add(time.Hour)

	// effective_at is part of the static row, counters ride separately
	if _, err := m.EntitlementRepo.Upsert(ctx, state); err != nil {
		return false, err
	}
	state.LastSyncAt = now
	if err := m.EntitlementRepo.UpdateCounters(ctx, state); err != nil {
		return false, err
	}
	return true, nil
}

func (m *grantsManager) RenewExpiringGrants(ctx context.Context, horizon time.Time) (int, error) {
	projectID := types.GetProjectID(ctx)
	expiring, err := m.GrantRepo.ListExpiring(ctx, projectID, horizon)
	if err != nil {
		return 0, err
	}

	renewed := 0
	for _, g := range expiring {
		if !g.Type.AutoRenewable() || !g.AutoRenew || g.ExpiresAt == nil {
			continue
		}

		duration := g.ExpiresAt.Sub(g.EffectiveAt)
		nextExpiry := g.ExpiresAt.Add(duration)
		successor := &grant.Grant{
			ID:                   types.GenerateUUIDWithPrefix(types.UUID_PREFIX_GRANT),
			SubjectType:          g.SubjectType,
			SubjectID:            g.SubjectID,
			FeaturePlanVersionID: g.FeaturePlanVersionID,
			FeatureSlug:          g.FeatureSlug,
			FeatureType:          g.FeatureType,
			AggregationMethod:    g.AggregationMethod,
			ResetConfig:          g.ResetConfig,
			Type:                 g.Type,
			Priority:             g.Type.Priority(),
			EffectiveAt:          *g.ExpiresAt,
			ExpiresAt:            &nextExpiry,
			Limit:                g.Limit,
			Units:                g.Units,
			AllowOverage:         g.AllowOverage,
			AutoRenew:            g.AutoRenew,
			Anchor:               g.Anchor,
			SubscriptionID:       g.SubscriptionID,
			SubscriptionPhaseID:  g.SubscriptionPhaseID,
			SubscriptionItemID:   g.SubscriptionItemID,
			BaseModel:            types.GetDefaultBaseModel(ctx),
		}
		successor.ProjectID = g.ProjectID

		if _, err := m.GrantRepo.Create(ctx, successor); err != nil {
			if ierr.IsAlreadyExists(err) {
				// another worker already renewed this grant
				continue
			}
			return renewed, err
		}
		renewed++
	}
	return renewed, nil
}
