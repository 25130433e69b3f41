package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/Abaso007/builderai-sub001/internal/domain/lock"
	ierr "github.com/Abaso007/builderai-sub001/internal/errors"
	"github.com/Abaso007/builderai-sub001/internal/logger"
	"github.com/Abaso007/builderai-sub001/internal/postgres"
)

type lockRepository struct {
	client postgres.IClient
	logger *logger.Logger
}

func NewLockRepository(client postgres.IClient, logger *logger.Logger) lock.Repository {
	return &lockRepository{client: client, logger: logger}
}

// Acquire inserts the lock row, or takes over an existing one only when
// it is stale: lease expired longer than StaleTakeover ago, or held since
// before OwnerStale. The conditional update makes the takeover atomic;
// zero rows affected means another live holder exists.
func (r *lockRepository) Acquire(ctx context.Context, projectID, subscriptionID string, params lock.AcquireParams) (bool, error) {
	query := `
	INSERT INTO subscription_locks (
		project_id, subscription_id, owner, acquired_at, expires_at
	) VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (project_id, subscription_id) DO UPDATE SET
		owner = EXCLUDED.owner,
		acquired_at = EXCLUDED.acquired_at,
		expires_at = EXCLUDED.expires_at
	WHERE subscription_locks.expires_at < $6
		OR subscription_locks.acquired_at < $7`

	now := params.Now.UTC()
	res, err := r.client.Querier(ctx).ExecContext(ctx, query,
		projectID,
		subscriptionID,
		params.Owner,
		now,
		now.Add(params.TTL),
		now.Add(-params.StaleTakeover),
		now.Add(-params.OwnerStale),
	)
	if err != nil {
		return false, ierr.WithError(err).
			WithHint("Failed to acquire subscription lock").
			Mark(ierr.ErrDatabase)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	return affected > 0, nil
}

func (r *lockRepository) Extend(ctx context.Context, projectID, subscriptionID, owner string, now time.Time, ttl time.Duration) (bool, error) {
	query := `
	UPDATE subscription_locks
	SET expires_at = $4
	WHERE project_id = $1 AND subscription_id = $2 AND owner = $3`

	res, err := r.client.Querier(ctx).ExecContext(ctx, query,
		projectID, subscriptionID, owner, now.UTC().Add(ttl))
	if err != nil {
		return false, ierr.WithError(err).
			WithHint("Failed to extend subscription lock").
			Mark(ierr.ErrDatabase)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, ierr.WithError(err).Mark(ierr.ErrDatabase)
	}
	return affected > 0, nil
}

func (r *lockRepository) Release(ctx context.Context, projectID, subscriptionID, owner string) error {
	query := `
	DELETE FROM subscription_locks
	WHERE project_id = $1 AND subscription_id = $2 AND owner = $3`

	if _, err := r.client.Querier(ctx).ExecContext(ctx, query, projectID, subscriptionID, owner); err != nil {
		return ierr.WithError(err).
			WithHint("Failed to release subscription lock").
			Mark(ierr.ErrDatabase)
	}
	return nil
}

func (r *lockRepository) Get(ctx context.Context, projectID, subscriptionID string) (*lock.SubscriptionLock, error) {
	query := `
	SELECT project_id, subscription_id, owner, acquired_at, expires_at
	FROM subscription_locks
	WHERE project_id = $1 AND subscription_id = $2`

	var l lock.SubscriptionLock
	err := r.client.Querier(ctx).GetContext(ctx, &l, query, projectID, subscriptionID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ierr.NewError("subscription lock not found").
				WithReportableDetails(map[string]any{
					"subscription_id": subscriptionID,
				}).
				Mark(ierr.ErrNotFound)
		}
		return nil, ierr.WithError(err).
			WithHint("Failed to get subscription lock").
			Mark(ierr.ErrDatabase)
	}
	return &l, nil
}
