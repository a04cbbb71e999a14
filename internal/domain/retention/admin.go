package retention

import (
	"context"
	"fmt"
	"time"
)

// Administrative overrides. These are the only way records leave the
// archived/frozen hold states; nothing re-enters the automatic pipeline on
// its own.

// ApproveReview releases a record stalled on manual review into
// deletion_scheduled.
func (e *Engine) ApproveReview(ctx context.Context, orgID, recordID, actor string) (*LifecycleRecord, error) {
	rec, err := e.store.GetRecord(ctx, orgID, recordID)
	if err != nil {
		return nil, err
	}
	if rec.State != StateRetentionPending {
		return nil, fmt.Errorf("%w: %s is %s", ErrInvalidTransition, recordID, rec.State)
	}
	now := e.now()
	TransitionTo(rec, StateDeletionScheduled, now, "manual review approved by "+actor)
	e.metrics.Transition(StateDeletionScheduled)
	if err := e.store.SaveRecord(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// RejectReview freezes a record stalled on manual review; the dispute reason
// lands on the record.
func (e *Engine) RejectReview(ctx context.Context, orgID, recordID, actor, reason string) (*LifecycleRecord, error) {
	rec, err := e.store.GetRecord(ctx, orgID, recordID)
	if err != nil {
		return nil, err
	}
	if rec.State != StateRetentionPending {
		return nil, fmt.Errorf("%w: %s is %s", ErrInvalidTransition, recordID, rec.State)
	}
	now := e.now()
	TransitionTo(rec, StateFrozen, now, "manual review rejected by "+actor+": "+reason)
	e.metrics.Transition(StateFrozen)
	if err := e.store.SaveRecord(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Freeze halts all automatic transitions for a record, e.g. during an active
// user-rights dispute. An in-flight erase cannot be cancelled; terminal
// records cannot be frozen.
func (e *Engine) Freeze(ctx context.Context, orgID, recordID, reason string) (*LifecycleRecord, error) {
	return e.hold(ctx, orgID, recordID, StateFrozen, reason)
}

// Unfreeze returns a frozen record to the state it held before the freeze.
func (e *Engine) Unfreeze(ctx context.Context, orgID, recordID, actor string) (*LifecycleRecord, error) {
	return e.release(ctx, orgID, recordID, StateFrozen, "unfrozen by "+actor)
}

// Archive places a record on indefinite hold, e.g. legal preservation.
func (e *Engine) Archive(ctx context.Context, orgID, recordID, reason string) (*LifecycleRecord, error) {
	return e.hold(ctx, orgID, recordID, StateArchived, reason)
}

// Unarchive returns an archived record to the normal path.
func (e *Engine) Unarchive(ctx context.Context, orgID, recordID, actor string) (*LifecycleRecord, error) {
	return e.release(ctx, orgID, recordID, StateArchived, "unarchived by "+actor)
}

func (e *Engine) hold(ctx context.Context, orgID, recordID, holdState, reason string) (*LifecycleRecord, error) {
	rec, err := e.store.GetRecord(ctx, orgID, recordID)
	if err != nil {
		return nil, err
	}
	if rec.Terminal() || rec.Held() {
		return nil, fmt.Errorf("%w: %s is %s", ErrInvalidTransition, recordID, rec.State)
	}
	now := e.now()
	TransitionTo(rec, holdState, now, reason)
	e.metrics.Transition(holdState)
	if err := e.store.SaveRecord(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (e *Engine) release(ctx context.Context, orgID, recordID, holdState, note string) (*LifecycleRecord, error) {
	rec, err := e.store.GetRecord(ctx, orgID, recordID)
	if err != nil {
		return nil, err
	}
	if rec.State != holdState {
		return nil, fmt.Errorf("%w: %s is %s", ErrInvalidTransition, recordID, rec.State)
	}
	now := e.now()
	prior := PriorState(rec)
	TransitionTo(rec, prior, now, note)
	e.metrics.Transition(prior)
	switch holdState {
	case StateFrozen:
		rec.FrozenAt = nil
	case StateArchived:
		rec.ArchivedAt = nil
	}
	if err := e.store.SaveRecord(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Observe registers a governed resource the moment a collaborator creates
// it, ahead of the sweep's own adoption pass. Idempotent per resource.
func (e *Engine) Observe(ctx context.Context, orgID, dataType, resourceID, userID string, dataCreatedAt time.Time) (*LifecycleRecord, error) {
	table, ok := e.resources.TableFor(dataType)
	if !ok {
		return nil, fmt.Errorf("unknown data type %q", dataType)
	}
	if existing, err := e.store.FindRecord(ctx, orgID, dataType, table, resourceID); err == nil {
		return existing, nil
	}

	now := e.now()
	rec := &LifecycleRecord{
		OrgID:         orgID,
		DataType:      dataType,
		ResourceTable: table,
		ResourceID:    resourceID,
		UserID:        userID,
		State:         StateActive,
		DataCreatedAt: now,
		History:       []StateChange{{State: StateActive, At: now, Note: "observed"}},
	}
	if !dataCreatedAt.IsZero() {
		rec.DataCreatedAt = dataCreatedAt
	}

	policies, err := e.store.PoliciesForType(ctx, orgID, dataType)
	if err != nil {
		return nil, err
	}
	if policy, rerr := Resolve(policies, orgID, dataType, now); rerr == nil {
		ApplySchedule(rec, policy)
	}

	if err := e.store.CreateRecord(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}
