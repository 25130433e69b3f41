package service

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Abaso007/builderai-sub001/internal/cache"
	"github.com/Abaso007/builderai-sub001/internal/cycle"
	"github.com/Abaso007/builderai-sub001/internal/domain/entitlement"
	"github.com/Abaso007/builderai-sub001/internal/domain/events"
	ierr "github.com/Abaso007/builderai-sub001/internal/errors"
	"github.com/Abaso007/builderai-sub001/internal/types"
)

// durableLoadRetries bounds retries against the durable store on
// transient errors
const durableLoadRetries = 3

// minSyncSpacing is the floor between two durable counter syncs of the
// same state, regardless of the configured sync interval
const minSyncSpacing = time.Second

// VerifyRequest asks whether a customer may access a feature right now
type VerifyRequest struct {
	CustomerID  string    `json:"customer_id"`
	FeatureSlug string    `json:"feature_slug"`
	RequestID   string    `json:"request_id,omitempty"`
	Now         time.Time `json:"now,omitempty"`
}

// ReportUsageRequest records consumption against a customer's entitlement
type ReportUsageRequest struct {
	CustomerID     string          `json:"customer_id"`
	FeatureSlug    string          `json:"feature_slug"`
	Amount         decimal.Decimal `json:"amount"`
	IdempotenceKey string          `json:"idempotence_key,omitempty"`
	RequestID      string          `json:"request_id,omitempty"`
	Metadata       types.Metadata  `json:"metadata,omitempty"`
	Now            time.Time       `json:"now,omitempty"`
}

// EntitlementService is the runtime read and write path for feature
// access checks and usage reporting
type EntitlementService interface {
	Verify(ctx context.Context, req *VerifyRequest) (*VerifyResult, error)
	ReportUsage(ctx context.Context, req *ReportUsageRequest) (*ReportUsageResult, error)

	// GetCustomerEntitlements returns the durable states of the customer
	GetCustomerEntitlements(ctx context.Context, customerID string) ([]*entitlement.EntitlementState, error)

	// InvalidateEntitlements drains the record buffers and drops hot and
	// cached state for one feature, or all when featureSlug is empty
	InvalidateEntitlements(ctx context.Context, customerID, featureSlug string) error
}

type entitlementService struct {
	ServiceParams
	grants GrantsManager

	syncMu   sync.Mutex
	lastSync map[string]time.Time
}

func NewEntitlementService(params ServiceParams, grants GrantsManager) EntitlementService {
	return &entitlementService{
		ServiceParams: params,
		grants:        grants,
		lastSync:      make(map[string]time.Time),
	}
}

func (s *entitlementService) Verify(ctx context.Context, req *VerifyRequest) (*VerifyResult, error) {
	now := req.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	started := time.Now()

	state, err := s.getStateWithRevalidation(ctx, req.CustomerID, req.FeatureSlug, now, false)
	if err != nil {
		if ierr.IsNotFound(err) {
			result := &VerifyResult{
				Allowed:      false,
				DeniedReason: DeniedReasonEntitlementNotFound,
			}
			s.recordVerification(ctx, req.CustomerID, req.FeatureSlug, req.RequestID, result, started)
			return result, nil
		}
		return nil, err
	}

	result := s.grants.Verify(state, now)
	s.recordVerification(ctx, req.CustomerID, req.FeatureSlug, req.RequestID, result, started)
	return result, nil
}

func (s *entitlementService) ReportUsage(ctx context.Context, req *ReportUsageRequest) (*ReportUsageResult, error) {
	now := req.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	state, err := s.getStateWithRevalidation(ctx, req.CustomerID, req.FeatureSlug, now, false)
	if err != nil {
		return nil, err
	}

	result, err := s.grants.Consume(ctx, state, req.Amount, now)
	if err != nil {
		return nil, err
	}
	if !result.Allowed {
		return result, nil
	}

	if err := s.EntitlementStorage.Set(ctx, state); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to persist usage to hot storage").
			Mark(ierr.ErrStorageFailed)
	}

	s.EntitlementStorage.BufferUsage(&events.UsageRecord{
		ID:               types.GenerateUUIDWithPrefix(types.UUID_PREFIX_USAGE_RECORD),
		ProjectID:        state.ProjectID,
		CustomerID:       req.CustomerID,
		FeatureSlug:      req.FeatureSlug,
		Amount:           req.Amount,
		CycleUsage:       result.Usage,
		AccumulatedUsage: result.AccumulatedUsage,
		IdempotenceKey:   req.IdempotenceKey,
		RequestID:        req.RequestID,
		Timestamp:        now,
		Metadata:         req.Metadata,
	})

	s.scheduleSync(state, now)
	return result, nil
}

// scheduleSync persists the mutable counters to the durable store in the
// background, no more often than the sync interval per state
func (s *entitlementService) scheduleSync(state *entitlement.EntitlementState, now time.Time) {
	spacing := s.Config.Entitlement.SyncInterval
	if spacing < minSyncSpacing {
		spacing = minSyncSpacing
	}

	key := state.Key()
	s.syncMu.Lock()
	if last, ok := s.lastSync[key]; ok && now.Sub(last) < spacing {
		s.syncMu.Unlock()
		return
	}
	s.lastSync[key] = now
	s.syncMu.Unlock()

	snapshot := *state
	snapshot.LastSyncAt = now

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		ctx = types.SetProjectID(ctx, snapshot.ProjectID)

		if err := s.EntitlementRepo.UpdateCounters(ctx, &snapshot); err != nil {
			s.Logger.Errorw("failed to sync entitlement counters",
				"customer_id", snapshot.CustomerID,
				"feature_slug", snapshot.FeatureSlug,
				"error", err)
		}
	}()
}

func (s *entitlementService) recordVerification(ctx context.Context, customerID, featureSlug, requestID string, result *VerifyResult, started time.Time) {
	s.EntitlementStorage.BufferVerification(&events.VerificationRecord{
		ID:           types.GenerateUUIDWithPrefix(types.UUID_PREFIX_VERIFICATION),
		ProjectID:    types.GetProjectID(ctx),
		CustomerID:   customerID,
		FeatureSlug:  featureSlug,
		Allowed:      result.Allowed,
		DeniedReason: result.DeniedReason,
		Latency:      float64(time.Since(started).Microseconds()) / 1000.0,
		RequestID:    requestID,
		Timestamp:    time.Now().UTC(),
	})
}

// getStateWithRevalidation resolves the entitlement state through the
// hot store, falling back to the durable store, and keeps the cached copy
// coherent: an ended cycle forces a recompute that carries the hot usage
// forward, and a passed revalidation deadline forces a version compare
// against the durable row.
func (s *entitlementService) getStateWithRevalidation(ctx context.Context, customerID, featureSlug string, now time.Time, skipCache bool) (*entitlement.EntitlementState, error) {
	projectID := types.GetProjectID(ctx)
	key := entitlement.StateKey(projectID, customerID, featureSlug)

	var state *entitlement.EntitlementState
	if !skipCache {
		cached, err := s.EntitlementStorage.Get(ctx, key)
		if err != nil && !ierr.IsNotFound(err) {
			return nil, err
		}
		state = cached
	}

	if state == nil {
		durable, err := s.loadDurable(ctx, projectID, customerID, featureSlug)
		if err != nil {
			return nil, err
		}
		if err := s.EntitlementStorage.Set(ctx, durable); err != nil {
			return nil, ierr.WithError(err).
				WithHint("Failed to cache entitlement state").
				Mark(ierr.ErrStorageFailed)
		}
		state = durable
	}

	if state.Expired(now) {
		return s.recomputeExpired(ctx, state, customerID, featureSlug, now)
	}

	if !now.Before(state.NextRevalidateAt) {
		return s.revalidate(ctx, state, projectID, customerID, featureSlug, now)
	}

	return state, nil
}

// recomputeExpired rematerializes the customer's entitlements when the
// cached snapshot's validity has ended, carrying the hot cycle usage into
// the recomputed state
func (s *entitlementService) recomputeExpired(ctx context.Context, stale *entitlement.EntitlementState, customerID, featureSlug string, now time.Time) (*entitlement.EntitlementState, error) {
	overrides := map[string]decimal.Decimal{featureSlug: stale.CurrentCycleUsage}
	if s.cycleEnded(stale, now) {
		// the hot counter belongs to the finished cycle, the recompute
		// opens the new one at the rolled durable counter
		overrides = nil
	}
	states, err := s.grants.ComputeGrantsForCustomer(ctx, customerID, now, overrides)
	if err != nil {
		return nil, err
	}

	for _, st := range states {
		if st.FeatureSlug != featureSlug {
			continue
		}
		if err := s.EntitlementStorage.Set(ctx, st); err != nil {
			return nil, ierr.WithError(err).
				WithHint("Failed to cache recomputed entitlement state").
				Mark(ierr.ErrStorageFailed)
		}
		return st, nil
	}

	// no grant covers the feature anymore
	if err := s.EntitlementStorage.Delete(ctx, stale.Key()); err != nil {
		s.Logger.Errorw("failed to drop expired entitlement state",
			"key", stale.Key(), "error", err)
	}
	return nil, ierr.NewError("entitlement expired and no active grant remains").
		WithReportableDetails(map[string]any{
			"customer_id":  customerID,
			"feature_slug": featureSlug,
		}).
		Mark(ierr.ErrEntitlementNotFound)
}

// cycleEnded reports whether the state's reset cycle has rolled past the
// cycle its counters were opened in
func (s *entitlementService) cycleEnded(state *entitlement.EntitlementState, now time.Time) bool {
	if state.ResetConfig == nil || state.AggregationMethod.NeverResets() {
		return false
	}
	window, err := cycle.CalculateCycleWindow(now, state.EffectiveAt, nil, *state.ResetConfig, nil)
	if err != nil {
		return false
	}
	return window == nil || !window.Contains(state.EffectiveAt)
}

// revalidate compares the cached version against the durable row,
// bypassing the read-through cache
func (s *entitlementService) revalidate(ctx context.Context, state *entitlement.EntitlementState, projectID, customerID, featureSlug string, now time.Time) (*entitlement.EntitlementState, error) {
	durable, err := s.EntitlementRepo.Get(ctx, projectID, customerID, featureSlug)
	if err != nil {
		if ierr.IsNotFound(err) {
			if invErr := s.invalidateOne(ctx, projectID, customerID, featureSlug); invErr != nil {
				s.Logger.Errorw("failed to invalidate deleted entitlement",
					"customer_id", customerID, "feature_slug", featureSlug, "error", invErr)
			}
			return nil, err
		}
		return nil, err
	}

	if durable.Version != state.Version {
		if err := s.EntitlementStorage.Set(ctx, durable); err != nil {
			return nil, ierr.WithError(err).
				WithHint("Failed to replace stale entitlement state").
				Mark(ierr.ErrStorageFailed)
		}
		s.cacheDurable(ctx, durable)
		return durable, nil
	}

	state.NextRevalidateAt = now.Add(s.Config.Entitlement.RevalidateInterval)
	if err := s.EntitlementStorage.Set(ctx, state); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to extend entitlement revalidation deadline").
			Mark(ierr.ErrStorageFailed)
	}
	if err := s.EntitlementRepo.UpdateCounters(ctx, state); err != nil {
		s.Logger.Errorw("failed to persist revalidation deadline",
			"customer_id", customerID, "feature_slug", featureSlug, "error", err)
	}
	return state, nil
}

// loadDurable reads the durable state through the in-process cache with
// bounded retries on transient errors
func (s *entitlementService) loadDurable(ctx context.Context, projectID, customerID, featureSlug string) (*entitlement.EntitlementState, error) {
	cacheKey := cache.GenerateKey(cache.PrefixEntitlement, projectID, customerID, featureSlug)
	if v, ok := s.Cache.Get(ctx, cacheKey); ok {
		if state, ok := v.(*entitlement.EntitlementState); ok {
			return state, nil
		}
	}

	var state *entitlement.EntitlementState
	var err error
	for attempt := 0; attempt < durableLoadRetries; attempt++ {
		state, err = s.EntitlementRepo.Get(ctx, projectID, customerID, featureSlug)
		if err == nil || ierr.IsNotFound(err) {
			break
		}
		time.Sleep(time.Duration(attempt+1) * 50 * time.Millisecond)
	}
	if err != nil {
		return nil, err
	}

	s.Cache.Set(ctx, cacheKey, state, s.Config.Entitlement.RevalidateInterval)
	return state, nil
}

func (s *entitlementService) cacheDurable(ctx context.Context, state *entitlement.EntitlementState) {
	cacheKey := cache.GenerateKey(cache.PrefixEntitlement, state.ProjectID, state.CustomerID, state.FeatureSlug)
	s.Cache.Set(ctx, cacheKey, state, s.Config.Entitlement.RevalidateInterval)
}

func (s *entitlementService) GetCustomerEntitlements(ctx context.Context, customerID string) ([]*entitlement.EntitlementState, error) {
	return s.EntitlementRepo.ListByCustomer(ctx, types.GetProjectID(ctx), customerID)
}

func (s *entitlementService) InvalidateEntitlements(ctx context.Context, customerID, featureSlug string) error {
	projectID := types.GetProjectID(ctx)

	// buffered records reference the states being dropped, drain them first
	if err := s.EntitlementStorage.Flush(ctx); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to drain record buffers before invalidation").
			Mark(ierr.ErrStorageFailed)
	}

	if featureSlug != "" {
		return s.invalidateOne(ctx, projectID, customerID, featureSlug)
	}

	if err := s.EntitlementStorage.DeleteByCustomer(ctx, projectID, customerID); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to drop hot entitlement states").
			Mark(ierr.ErrStorageFailed)
	}
	s.Cache.DeleteByPrefix(ctx, cache.GenerateKey(cache.PrefixEntitlement, projectID, customerID))
	return nil
}

func (s *entitlementService) invalidateOne(ctx context.Context, projectID, customerID, featureSlug string) error {
	key := entitlement.StateKey(projectID, customerID, featureSlug)
	if err := s.EntitlementStorage.Delete(ctx, key); err != nil && !ierr.IsNotFound(err) {
		return ierr.WithError(err).
			WithHint("Failed to drop hot entitlement state").
			Mark(ierr.ErrStorageFailed)
	}
	s.Cache.Delete(ctx, cache.GenerateKey(cache.PrefixEntitlement, projectID, customerID, featureSlug))
	return nil
}
