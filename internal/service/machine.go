package service

import (
	"context"
	"sync"
	"time"

	"github.com/Abaso007/builderai-sub001/internal/domain/lock"
	ierr "github.com/Abaso007/builderai-sub001/internal/errors"
	"github.com/Abaso007/builderai-sub001/internal/logger"
	"github.com/Abaso007/builderai-sub001/internal/types"
)

// SubscriptionMachine tracks per-invoice outcomes of one billing run. A
// fresh machine is created per withSubscriptionMachine call and never
// shared.
type SubscriptionMachine struct {
	SubscriptionID string
	ProjectID      string

	mu       sync.Mutex
	logger   *logger.Logger
	shutdown bool
}

func newSubscriptionMachine(projectID, subscriptionID string, log *logger.Logger) *SubscriptionMachine {
	return &SubscriptionMachine{
		SubscriptionID: subscriptionID,
		ProjectID:      projectID,
		logger:         log,
	}
}

func (m *SubscriptionMachine) ReportInvoiceSuccess(invoiceID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger.Infow("invoice processed",
		"subscription_id", m.SubscriptionID, "invoice_id", invoiceID)
}

func (m *SubscriptionMachine) ReportInvoiceFailure(invoiceID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger.Errorw("invoice processing failed",
		"subscription_id", m.SubscriptionID, "invoice_id", invoiceID, "error", err)
}

func (m *SubscriptionMachine) ReportPaymentFailure(invoiceID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger.Errorw("payment collection failed",
		"subscription_id", m.SubscriptionID, "invoice_id", invoiceID, "error", err)
}

func (m *SubscriptionMachine) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdown = true
}

// machineParams tunes one exclusive billing run
type machineParams struct {
	SubscriptionID string
	Now            time.Time
	Lock           bool
	TTL            time.Duration
}

// withSubscriptionMachine serializes the run against other workers via
// the subscription lock, keeps the lease alive with a heartbeat, and
// guarantees machine shutdown plus lock release on every exit path
// including panics.
func (s *billingService) withSubscriptionMachine(ctx context.Context, params machineParams, run func(ctx context.Context, m *SubscriptionMachine) error) (err error) {
	projectID := types.GetProjectID(ctx)
	if params.TTL <= 0 {
		params.TTL = s.Config.Billing.LockTTL
	}
	if params.Now.IsZero() {
		params.Now = time.Now().UTC()
	}

	owner := types.GenerateUUID()
	if params.Lock {
		acquired, acquireErr := s.LockRepo.Acquire(ctx, projectID, params.SubscriptionID, lock.AcquireParams{
			Owner:         owner,
			Now:           params.Now,
			TTL:           params.TTL,
			StaleTakeover: s.Config.Billing.StaleTakeover,
			OwnerStale:    maxHold(params.TTL),
		})
		if acquireErr != nil {
			return acquireErr
		}
		if !acquired {
			return ierr.NewError("subscription is being processed by another worker").
				WithReportableDetails(map[string]any{
					"subscription_id": params.SubscriptionID,
				}).
				Mark(ierr.ErrSubscriptionBusy)
		}
	}

	machine := newSubscriptionMachine(projectID, params.SubscriptionID, s.Logger)

	var stopHeartbeat func()
	if params.Lock {
		stopHeartbeat = s.startHeartbeat(ctx, projectID, params.SubscriptionID, owner, params.TTL)
	}

	defer func() {
		if r := recover(); r != nil {
			s.Logger.Errorw("billing run panicked",
				"subscription_id", params.SubscriptionID, "panic", r)
			err = ierr.NewError("billing run failed").
				WithHint("An unexpected error occurred during billing").
				Mark(ierr.ErrSystem)
		}
		machine.Shutdown()
		if stopHeartbeat != nil {
			stopHeartbeat()
		}
		if params.Lock {
			if releaseErr := s.LockRepo.Release(ctx, projectID, params.SubscriptionID, owner); releaseErr != nil {
				s.Logger.Errorw("failed to release subscription lock",
					"subscription_id", params.SubscriptionID, "error", releaseErr)
			}
		}
	}()

	return run(ctx, machine)
}

// startHeartbeat renews the lease every max(1s, ttl/2) until stopped or
// the maximum hold time elapses. A lost lease stops renewal but does not
// abort in-flight work; the next conditional write fails cleanly instead.
func (s *billingService) startHeartbeat(ctx context.Context, projectID, subscriptionID, owner string, ttl time.Duration) func() {
	interval := ttl / 2
	if interval < time.Second {
		interval = time.Second
	}

	done := make(chan struct{})
	var once sync.Once
	stop := func() { once.Do(func() { close(done) }) }

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		deadline := time.NewTimer(maxHold(ttl))
		defer deadline.Stop()

		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-deadline.C:
				s.Logger.Warnw("maximum lock hold reached, stopping heartbeat",
					"subscription_id", subscriptionID)
				return
			case <-ticker.C:
				extended, err := s.LockRepo.Extend(ctx, projectID, subscriptionID, owner, time.Now().UTC(), ttl)
				if err != nil {
					s.Logger.Errorw("heartbeat extend failed",
						"subscription_id", subscriptionID, "error", err)
					continue
				}
				if !extended {
					s.Logger.Warnw("subscription lock ownership lost, stopping heartbeat",
						"subscription_id", subscriptionID)
					return
				}
			}
		}
	}()

	return stop
}

// maxHold bounds how long one worker may keep the lock alive
func maxHold(ttl time.Duration) time.Duration {
	hold := 10 * ttl
	if hold < 2*time.Minute {
		hold = 2 * time.Minute
	}
	return hold
}
