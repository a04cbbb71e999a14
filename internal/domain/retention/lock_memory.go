package retention

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLockManager keeps leases in process memory. Suitable for
// single-node deployments and for tests; multi-worker deployments use
// LockStore so leases survive and exclude across processes.
type MemoryLockManager struct {
	mu    sync.Mutex
	locks map[string]*ExecutionLock
	now   func() time.Time
}

func NewMemoryLockManager() *MemoryLockManager {
	return &MemoryLockManager{
		locks: map[string]*ExecutionLock{},
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryLockManager) Acquire(_ context.Context, lockType, resourceID, holder, reason string, ttl time.Duration) (*ExecutionLock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := lockType + "/" + resourceID
	now := m.now()
	if held, ok := m.locks[key]; ok && held.ExpiresAt.After(now) {
		return nil, &BusyError{
			Holder:        held.Holder,
			ExpiresAt:     held.ExpiresAt,
			CorrelationID: held.CorrelationID,
			QueuePosition: 1,
		}
	}

	lock := &ExecutionLock{
		ID:            uuid.NewString(),
		LockType:      lockType,
		ResourceID:    resourceID,
		Holder:        holder,
		Reason:        reason,
		AcquiredAt:    now,
		ExpiresAt:     now.Add(ttl),
		CorrelationID: uuid.NewString(),
	}
	m.locks[key] = lock
	return lock, nil
}

func (m *MemoryLockManager) Renew(_ context.Context, lock *ExecutionLock, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := lock.LockType + "/" + lock.ResourceID
	now := m.now()
	held, ok := m.locks[key]
	if !ok || held.ID != lock.ID || !held.ExpiresAt.After(now) {
		return ErrLockExpired
	}
	held.ExpiresAt = now.Add(ttl)
	renewed := now
	held.RenewedAt = &renewed
	lock.ExpiresAt = held.ExpiresAt
	lock.RenewedAt = held.RenewedAt
	return nil
}

func (m *MemoryLockManager) Release(_ context.Context, lock *ExecutionLock) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := lock.LockType + "/" + lock.ResourceID
	if held, ok := m.locks[key]; ok && held.ID == lock.ID {
		delete(m.locks, key)
	}
	return nil
}
