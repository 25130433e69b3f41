package storage

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/Abaso007/builderai-sub001/internal/config"
	"github.com/Abaso007/builderai-sub001/internal/domain/entitlement"
	"github.com/Abaso007/builderai-sub001/internal/domain/events"
	ierr "github.com/Abaso007/builderai-sub001/internal/errors"
)

const (
	redisKeyPrefix = "entstate:"

	redisUsageQueueKey = "entbuf:usage"
	redisVerifQueueKey = "entbuf:verifications"
)

// RedisStateStore is the shared hot state backend. States are stored as
// JSON under entstate:<project>:<customer>:<slug> with no TTL; staleness
// is handled by the revalidation deadline inside the state itself.
type RedisStateStore struct {
	client *redis.Client
}

func NewRedisStateStore(cfg *config.Configuration) *RedisStateStore {
	return &RedisStateStore{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}),
	}
}

// NewRedisStateStoreWithClient wraps an existing client, used by tests
func NewRedisStateStoreWithClient(client *redis.Client) *RedisStateStore {
	return &RedisStateStore{client: client}
}

func (s *RedisStateStore) Get(ctx context.Context, key string) (*entitlement.EntitlementState, error) {
	raw, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ierr.NewError("entitlement state not in hot storage").
				WithReportableDetails(map[string]any{"key": key}).
				Mark(ierr.ErrEntitlementNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to read entitlement state from hot storage").
			Mark(ierr.ErrStorageFailed)
	}

	var state entitlement.EntitlementState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, ierr.WithError(err).
			WithHint("Corrupt entitlement state in hot storage").
			Mark(ierr.ErrStorageFailed)
	}
	return &state, nil
}

func (s *RedisStateStore) Set(ctx context.Context, state *entitlement.EntitlementState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return ierr.WithError(err).
			WithHint("Failed to serialize entitlement state").
			Mark(ierr.ErrSystem)
	}

	if err := s.client.Set(ctx, redisKeyPrefix+state.Key(), raw, 0).Err(); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to write entitlement state to hot storage").
			Mark(ierr.ErrStorageFailed)
	}
	return nil
}

func (s *RedisStateStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to delete entitlement state from hot storage").
			Mark(ierr.ErrStorageFailed)
	}
	return nil
}

func (s *RedisStateStore) DeleteByCustomer(ctx context.Context, projectID, customerID string) error {
	pattern := redisKeyPrefix + entitlement.StateKey(projectID, customerID, "*")

	iter := s.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to scan entitlement states").
			Mark(ierr.ErrStorageFailed)
	}

	if len(keys) > 0 {
		if err := s.client.Del(ctx, keys...).Err(); err != nil {
			return ierr.WithError(err).
				WithHint("Failed to delete entitlement states").
				Mark(ierr.ErrStorageFailed)
		}
	}
	return nil
}

// PushUsage appends usage records to the durable queue with RPUSH, so
// buffered records survive a process restart and keep their order
func (s *RedisStateStore) PushUsage(ctx context.Context, records []*events.UsageRecord) error {
	vals, err := marshalQueueRecords(len(records), func(i int) any { return records[i] })
	if err != nil {
		return err
	}
	if err := s.client.RPush(ctx, redisUsageQueueKey, vals...).Err(); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to append usage records to the durable queue").
			Mark(ierr.ErrStorageFailed)
	}
	return nil
}

func (s *RedisStateStore) PushVerifications(ctx context.Context, records []*events.VerificationRecord) error {
	vals, err := marshalQueueRecords(len(records), func(i int) any { return records[i] })
	if err != nil {
		return err
	}
	if err := s.client.RPush(ctx, redisVerifQueueKey, vals...).Err(); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to append verification records to the durable queue").
			Mark(ierr.ErrStorageFailed)
	}
	return nil
}

// DrainUsage pops up to max records from the head of the queue
func (s *RedisStateStore) DrainUsage(ctx context.Context, max int) ([]*events.UsageRecord, error) {
	raw, err := s.popQueue(ctx, redisUsageQueueKey, max)
	if err != nil || len(raw) == 0 {
		return nil, err
	}

	records := make([]*events.UsageRecord, 0, len(raw))
	for _, item := range raw {
		var r events.UsageRecord
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			return nil, ierr.WithError(err).
				WithHint("Corrupt usage record in the durable queue").
				Mark(ierr.ErrStorageFailed)
		}
		records = append(records, &r)
	}
	return records, nil
}

func (s *RedisStateStore) DrainVerifications(ctx context.Context, max int) ([]*events.VerificationRecord, error) {
	raw, err := s.popQueue(ctx, redisVerifQueueKey, max)
	if err != nil || len(raw) == 0 {
		return nil, err
	}

	records := make([]*events.VerificationRecord, 0, len(raw))
	for _, item := range raw {
		var r events.VerificationRecord
		if err := json.Unmarshal([]byte(item), &r); err != nil {
			return nil, ierr.WithError(err).
				WithHint("Corrupt verification record in the durable queue").
				Mark(ierr.ErrStorageFailed)
		}
		records = append(records, &r)
	}
	return records, nil
}

// RequeueUsage puts a failed batch back at the head of the queue. The
// records are pushed in reverse so the batch keeps its original order.
func (s *RedisStateStore) RequeueUsage(ctx context.Context, records []*events.UsageRecord) error {
	n := len(records)
	vals, err := marshalQueueRecords(n, func(i int) any { return records[n-1-i] })
	if err != nil {
		return err
	}
	if err := s.client.LPush(ctx, redisUsageQueueKey, vals...).Err(); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to requeue usage records").
			Mark(ierr.ErrStorageFailed)
	}
	return nil
}

func (s *RedisStateStore) RequeueVerifications(ctx context.Context, records []*events.VerificationRecord) error {
	n := len(records)
	vals, err := marshalQueueRecords(n, func(i int) any { return records[n-1-i] })
	if err != nil {
		return err
	}
	if err := s.client.LPush(ctx, redisVerifQueueKey, vals...).Err(); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to requeue verification records").
			Mark(ierr.ErrStorageFailed)
	}
	return nil
}

func (s *RedisStateStore) popQueue(ctx context.Context, key string, max int) ([]string, error) {
	raw, err := s.client.LPopCount(ctx, key, max).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to drain the durable record queue").
			Mark(ierr.ErrStorageFailed)
	}
	return raw, nil
}

func marshalQueueRecords(n int, at func(i int) any) ([]any, error) {
	vals := make([]any, 0, n)
	for i := 0; i < n; i++ {
		raw, err := json.Marshal(at(i))
		if err != nil {
			return nil, ierr.WithError(err).
				WithHint("Failed to serialize record for the durable queue").
				Mark(ierr.ErrSystem)
		}
		vals = append(vals, raw)
	}
	return vals, nil
}
