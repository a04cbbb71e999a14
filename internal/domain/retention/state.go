package retention

import "time"

// Schedule is the policy-derived timetable for one record. All three times
// are pure arithmetic over (data_created_at, policy) so they can be
// recomputed identically whenever the effective policy changes:
//
//	eligible = data_created_at + retention_days
//	softAt   = eligible (hard deletion) or eligible + grace_days (soft)
//	eraseAt  = eligible + grace_days
//
// The grace period is the single buffer between eligibility and irreversible
// destruction; soft deletion spends it as tombstone dwell time.
type Schedule struct {
	EligibleAt time.Time
	SoftAt     time.Time
	EraseAt    time.Time
}

func ComputeSchedule(policy RetentionPolicy, dataCreatedAt time.Time) Schedule {
	eligible := dataCreatedAt.AddDate(0, 0, policy.RetentionDays)
	softAt := eligible
	if policy.DeletionMethod == DeletionMethodSoft {
		softAt = eligible.AddDate(0, 0, policy.GraceDays)
	}
	return Schedule{
		EligibleAt: eligible,
		SoftAt:     softAt,
		EraseAt:    eligible.AddDate(0, 0, policy.GraceDays),
	}
}

// ApplySchedule stamps the policy and its timetable onto a record. Called on
// adoption and again whenever the effective policy changes.
func ApplySchedule(rec *LifecycleRecord, policy RetentionPolicy) {
	sched := ComputeSchedule(policy, rec.DataCreatedAt)
	rec.PolicyID = policy.ID
	rec.DeletionMethod = policy.DeletionMethod
	rec.EraseMethod = policy.EraseMethod
	rec.RetentionEligibleAt = &sched.EligibleAt
	rec.SoftDeleteScheduledAt = &sched.SoftAt
	rec.SecureEraseScheduledAt = &sched.EraseAt
}

// Step is the next transition a record is due for.
type Step struct {
	To string
	// Destructive marks transitions that touch the underlying resource
	// (tombstone or erase). The sweep performs at most one destructive step
	// per record per cycle.
	Destructive bool
}

// NextStep returns the transition a record is due for at now, or false when
// the record should not move. Re-evaluating a record already in or past a
// state is a no-op, never an error; the sweep may observe the same record
// more than once under at-least-once scheduling.
func NextStep(rec *LifecycleRecord, policy RetentionPolicy, now time.Time) (Step, bool) {
	if rec.Terminal() || rec.Held() {
		return Step{}, false
	}
	switch rec.State {
	case StateActive:
		if rec.RetentionEligibleAt != nil && !now.Before(*rec.RetentionEligibleAt) {
			return Step{To: StateRetentionPending}, true
		}
	case StateRetentionPending:
		// Manual review stalls the record here until an explicit approval,
		// regardless of elapsed time.
		if policy.AutomaticDeletion && !policy.RequiresManualReview {
			return Step{To: StateDeletionScheduled}, true
		}
	case StateDeletionScheduled:
		if rec.SoftDeleteScheduledAt != nil && !now.Before(*rec.SoftDeleteScheduledAt) {
			return Step{To: StateSoftDeleted, Destructive: true}, true
		}
	case StateSoftDeleted:
		if rec.SecureEraseScheduledAt != nil && !now.Before(*rec.SecureEraseScheduledAt) {
			return Step{To: StateDeletionPending}, true
		}
	case StateDeletionPending:
		return Step{To: StateSecurelyErased, Destructive: true}, true
	}
	return Step{}, false
}

// TransitionTo moves a record into state at now and appends the change to the
// record's transition log. Moving into the current state is a no-op.
func TransitionTo(rec *LifecycleRecord, state string, now time.Time, note string) {
	if rec.State == state {
		return
	}
	at := now
	rec.State = state
	rec.History = append(rec.History, StateChange{State: state, At: at, Note: note})
	switch state {
	case StateSoftDeleted:
		rec.SoftDeletedAt = &at
	case StateSecurelyErased:
		rec.SecureErasedAt = &at
	case StateArchived:
		rec.ArchivedAt = &at
	case StateFrozen:
		rec.FrozenAt = &at
	}
}

// ShortCircuitable reports whether an event trigger may pull the record
// straight to deletion_scheduled. Any pre-erase state qualifies.
func ShortCircuitable(state string) bool {
	switch state {
	case StateActive, StateRetentionPending, StateDeletionScheduled, StateSoftDeleted:
		return true
	}
	return false
}

// PriorState returns the last non-hold state from the transition log, used
// when an administrator lifts an archive or freeze. Records with no usable
// history resume as active.
func PriorState(rec *LifecycleRecord) string {
	for i := len(rec.History) - 1; i >= 0; i-- {
		s := rec.History[i].State
		if s != StateArchived && s != StateFrozen {
			return s
		}
	}
	return StateActive
}
