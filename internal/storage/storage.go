package storage

import (
	"context"
	"sync"
	"time"

	"github.com/Abaso007/builderai-sub001/internal/domain/entitlement"
	"github.com/Abaso007/builderai-sub001/internal/domain/events"
	"github.com/Abaso007/builderai-sub001/internal/logger"
)

// DefaultBufferCapacity bounds each in-process record buffer. When the
// buffer is full the oldest record is dropped and counted.
const DefaultBufferCapacity = 4096

// StateStore is the hot key-value backend holding entitlement states.
// Writes are last-writer-wins; the durable store remains the source of
// truth and a lost write only costs a recompute.
type StateStore interface {
	// Get returns the state at key, or an entitlement not-found error
	Get(ctx context.Context, key string) (*entitlement.EntitlementState, error)
	Set(ctx context.Context, state *entitlement.EntitlementState) error
	Delete(ctx context.Context, key string) error

	// DeleteByCustomer drops every state of the customer
	DeleteByCustomer(ctx context.Context, projectID, customerID string) error
}

// RecordBuffer is an optional durable queue backend for buffered records.
// A state store that implements it carries the usage and verification
// queues outside the process, so buffered records survive a restart and
// keep their append order. Without it records buffer in process memory.
type RecordBuffer interface {
	PushUsage(ctx context.Context, records []*events.UsageRecord) error
	PushVerifications(ctx context.Context, records []*events.VerificationRecord) error

	// DrainUsage pops up to max records from the head of the queue
	DrainUsage(ctx context.Context, max int) ([]*events.UsageRecord, error)
	DrainVerifications(ctx context.Context, max int) ([]*events.VerificationRecord, error)

	// RequeueUsage puts a failed batch back at the head, keeping order
	RequeueUsage(ctx context.Context, records []*events.UsageRecord) error
	RequeueVerifications(ctx context.Context, records []*events.VerificationRecord) error
}

// EntitlementStorage is the hot store plus the buffered ingest path for
// usage and verification records
type EntitlementStorage interface {
	StateStore

	// BufferUsage queues a usage record for the next flush
	BufferUsage(record *events.UsageRecord)

	// BufferVerification queues a verification record for the next flush
	BufferVerification(record *events.VerificationRecord)

	// Flush drains both buffers into the analytics backend. Failed
	// batches are requeued up to capacity.
	Flush(ctx context.Context) error

	// StartFlusher runs Flush on the interval until ctx is done, then
	// performs one final drain
	StartFlusher(ctx context.Context, interval time.Duration)
}

// bufferPushTimeout bounds one durable queue append so the report path
// never hangs on a slow backend
const bufferPushTimeout = 2 * time.Second

type entitlementStorage struct {
	states    StateStore
	buffer    RecordBuffer
	analytics events.Analytics
	logger    *logger.Logger

	mu            sync.Mutex
	usage         []*events.UsageRecord
	verifications []*events.VerificationRecord
	capacity      int
	droppedUsage  int64
	droppedVerifs int64
}

// NewEntitlementStorage wires a state backend and the analytics sink into
// one hot storage facade. A state backend that implements RecordBuffer
// gets the durable queue path; the in-process slices then only hold
// records the backend refused.
func NewEntitlementStorage(states StateStore, analytics events.Analytics, logger *logger.Logger) EntitlementStorage {
	buffer, _ := states.(RecordBuffer)
	return &entitlementStorage{
		states:    states,
		buffer:    buffer,
		analytics: analytics,
		logger:    logger,
		capacity:  DefaultBufferCapacity,
	}
}

func (s *entitlementStorage) Get(ctx context.Context, key string) (*entitlement.EntitlementState, error) {
	return s.states.Get(ctx, key)
}

func (s *entitlementStorage) Set(ctx context.Context, state *entitlement.EntitlementState) error {
	return s.states.Set(ctx, state)
}

func (s *entitlementStorage) Delete(ctx context.Context, key string) error {
	return s.states.Delete(ctx, key)
}

func (s *entitlementStorage) DeleteByCustomer(ctx context.Context, projectID, customerID string) error {
	return s.states.DeleteByCustomer(ctx, projectID, customerID)
}

func (s *entitlementStorage) BufferUsage(record *events.UsageRecord) {
	if s.buffer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), bufferPushTimeout)
		err := s.buffer.PushUsage(ctx, []*events.UsageRecord{record})
		cancel()
		if err == nil {
			return
		}
		s.logger.Errorw("durable usage queue rejected record, buffering in process",
			"error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.usage) >= s.capacity {
		s.usage = s.usage[1:]
		s.droppedUsage++
	}
	s.usage = append(s.usage, record)
}

func (s *entitlementStorage) BufferVerification(record *events.VerificationRecord) {
	if s.buffer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), bufferPushTimeout)
		err := s.buffer.PushVerifications(ctx, []*events.VerificationRecord{record})
		cancel()
		if err == nil {
			return
		}
		s.logger.Errorw("durable verification queue rejected record, buffering in process",
			"error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.verifications) >= s.capacity {
		s.verifications = s.verifications[1:]
		s.droppedVerifs++
	}
	s.verifications = append(s.verifications, record)
}

func (s *entitlementStorage) Flush(ctx context.Context) error {
	var firstErr error
	if s.buffer != nil {
		firstErr = s.flushDurable(ctx)
	}

	s.mu.Lock()
	usage := s.usage
	verifications := s.verifications
	s.usage = nil
	s.verifications = nil
	s.mu.Unlock()

	if len(usage) > 0 {
		if _, err := s.analytics.IngestFeaturesUsage(ctx, usage); err != nil {
			s.logger.Errorw("failed to flush usage records",
				"count", len(usage), "error", err)
			s.requeueUsage(usage)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if len(verifications) > 0 {
		if _, err := s.analytics.IngestFeaturesVerification(ctx, verifications); err != nil {
			s.logger.Errorw("failed to flush verification records",
				"count", len(verifications), "error", err)
			s.requeueVerifications(verifications)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}

// flushDurable drains the durable queues into analytics; a failed batch
// goes back to the head of its queue
func (s *entitlementStorage) flushDurable(ctx context.Context) error {
	var firstErr error

	for {
		usage, err := s.buffer.DrainUsage(ctx, s.capacity)
		if err != nil {
			firstErr = err
			break
		}
		if len(usage) == 0 {
			break
		}
		if _, err := s.analytics.IngestFeaturesUsage(ctx, usage); err != nil {
			s.logger.Errorw("failed to flush durable usage records",
				"count", len(usage), "error", err)
			if reqErr := s.buffer.RequeueUsage(ctx, usage); reqErr != nil {
				s.logger.Errorw("failed to requeue usage records, buffering in process",
					"count", len(usage), "error", reqErr)
				s.requeueUsage(usage)
			}
			firstErr = err
			break
		}
	}

	for {
		verifications, err := s.buffer.DrainVerifications(ctx, s.capacity)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			break
		}
		if len(verifications) == 0 {
			break
		}
		if _, err := s.analytics.IngestFeaturesVerification(ctx, verifications); err != nil {
			s.logger.Errorw("failed to flush durable verification records",
				"count", len(verifications), "error", err)
			if reqErr := s.buffer.RequeueVerifications(ctx, verifications); reqErr != nil {
				s.logger.Errorw("failed to requeue verification records, buffering in process",
					"count", len(verifications), "error", reqErr)
				s.requeueVerifications(verifications)
			}
			if firstErr == nil {
				firstErr = err
			}
			break
		}
	}

	return firstErr
}

func (s *entitlementStorage) requeueUsage(records []*events.UsageRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	combined := append(records, s.usage...)
	if overflow := len(combined) - s.capacity; overflow > 0 {
		combined = combined[overflow:]
		s.droppedUsage += int64(overflow)
	}
	s.usage = combined
}

func (s *entitlementStorage) requeueVerifications(records []*events.VerificationRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	combined := append(records, s.verifications...)
	if overflow := len(combined) - s.capacity; overflow > 0 {
		combined = combined[overflow:]
		s.droppedVerifs += int64(overflow)
	}
	s.verifications = combined
}

func (s *entitlementStorage) StartFlusher(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				// final drain with a fresh context, the parent is gone
				drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				if err := s.Flush(drainCtx); err != nil {
					s.logger.Errorw("final flush failed", "error", err)
				}
				cancel()
				return
			case <-ticker.C:
				if err := s.Flush(ctx); err != nil {
					s.logger.Errorw("periodic flush failed", "error", err)
				}
			}
		}
	}()
}
