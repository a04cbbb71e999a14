package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// BusyError carries observability details for a contended lease. It matches
// ErrLockBusy under errors.Is.
type BusyError struct {
	Holder        string
	ExpiresAt     time.Time
	CorrelationID string
	QueuePosition int
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("lock held by %s until %s", e.Holder, e.ExpiresAt.Format(time.RFC3339))
}

func (e *BusyError) Is(target error) bool {
	return target == ErrLockBusy
}

// LockStore is the pgx-backed LockManager. Leases live in the
// execution_locks table; expired rows are reclaimed by the next acquirer in
// the same statement, so no background reaper is needed.
type LockStore struct {
	store *Store
}

func NewLockStore(store *Store) *LockStore {
	return &LockStore{store: store}
}

func (l *LockStore) Acquire(ctx context.Context, lockType, resourceID, holder, reason string, ttl time.Duration) (*ExecutionLock, error) {
	lock := &ExecutionLock{
		LockType:      lockType,
		ResourceID:    resourceID,
		Holder:        holder,
		Reason:        reason,
		CorrelationID: uuid.NewString(),
	}
	err := l.store.DB.QueryRow(ctx, `
    INSERT INTO execution_locks (lock_type, resource_id, holder, reason, acquired_at, expires_at, correlation_id)
    VALUES ($1, $2, $3, $4, now(), now() + make_interval(secs => $5), $6)
    ON CONFLICT (lock_type, resource_id) DO UPDATE
      SET holder = EXCLUDED.holder, reason = EXCLUDED.reason,
          acquired_at = now(), expires_at = EXCLUDED.expires_at,
          renewed_at = NULL, correlation_id = EXCLUDED.correlation_id
      WHERE execution_locks.expires_at <= now()
    RETURNING id, acquired_at, expires_at
  `, lockType, resourceID, holder, reason, ttl.Seconds(), lock.CorrelationID).
		Scan(&lock.ID, &lock.AcquiredAt, &lock.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, l.busy(ctx, lockType, resourceID)
	}
	if err != nil {
		return nil, err
	}
	return lock, nil
}

func (l *LockStore) busy(ctx context.Context, lockType, resourceID string) error {
	busy := &BusyError{QueuePosition: 1}
	err := l.store.DB.QueryRow(ctx, `
    SELECT holder, expires_at, correlation_id
    FROM execution_locks
    WHERE lock_type = $1 AND resource_id = $2
  `, lockType, resourceID).Scan(&busy.Holder, &busy.ExpiresAt, &busy.CorrelationID)
	if err != nil {
		// The holder released between our attempts; the caller retries next
		// cycle either way.
		return ErrLockBusy
	}
	return busy
}

func (l *LockStore) Renew(ctx context.Context, lock *ExecutionLock, ttl time.Duration) error {
	err := l.store.DB.QueryRow(ctx, `
    UPDATE execution_locks
    SET expires_at = now() + make_interval(secs => $1), renewed_at = now()
    WHERE id = $2 AND holder = $3 AND expires_at > now()
    RETURNING expires_at, renewed_at
  `, ttl.Seconds(), lock.ID, lock.Holder).Scan(&lock.ExpiresAt, &lock.RenewedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrLockExpired
	}
	return err
}

func (l *LockStore) Release(ctx context.Context, lock *ExecutionLock) error {
	_, err := l.store.DB.Exec(ctx, `
    DELETE FROM execution_locks
    WHERE id = $1 AND holder = $2
  `, lock.ID, lock.Holder)
	return err
}
