package retention

import (
	"context"
	"fmt"
)

var eventTriggers = map[string]bool{
	TriggerEventBased:          true,
	TriggerConsentWithdrawal:   true,
	TriggerAccountDeletion:     true,
	TriggerContractTermination: true,
	TriggerManualRequest:       true,
	TriggerLegalObligation:     true,
}

// TriggerEvent is the short-circuit entry point for consent withdrawal,
// account deletion and similar flows. Matching records move straight to
// deletion_scheduled with their time gates pulled to now; policies requiring
// manual review park active records in retention_pending instead. Held
// records are untouched. Returns how many records were affected.
func (e *Engine) TriggerEvent(ctx context.Context, req EventRequest) (int, error) {
	if !eventTriggers[req.Trigger] {
		return 0, fmt.Errorf("unsupported event trigger %q", req.Trigger)
	}
	now := e.now()

	policies, err := e.store.PoliciesForType(ctx, req.OrgID, req.DataType)
	if err != nil {
		return 0, err
	}
	policy, err := Resolve(policies, req.OrgID, req.DataType, now)
	if err != nil {
		return 0, err
	}

	records, err := e.store.RecordsForEvent(ctx, req.OrgID, req.DataType, req.UserID)
	if err != nil {
		return 0, err
	}

	reason := req.Trigger
	if req.Reason != "" {
		reason = req.Trigger + ": " + req.Reason
	}

	affected := 0
	for _, rec := range records {
		if !ShortCircuitable(rec.State) {
			continue
		}
		if rec.PolicyID != policy.ID {
			ApplySchedule(rec, policy)
		}
		rec.DeletionReason = reason

		switch rec.State {
		case StateActive, StateRetentionPending:
			if policy.RequiresManualReview {
				TransitionTo(rec, StateRetentionPending, now, reason)
			} else {
				TransitionTo(rec, StateDeletionScheduled, now, reason)
			}
			at := now
			rec.SoftDeleteScheduledAt = &at
			rec.SecureEraseScheduledAt = &at
		case StateDeletionScheduled:
			at := now
			rec.SoftDeleteScheduledAt = &at
			rec.SecureEraseScheduledAt = &at
		case StateSoftDeleted:
			at := now
			rec.SecureEraseScheduledAt = &at
		}

		if err := e.store.SaveRecord(ctx, rec); err != nil {
			return affected, fmt.Errorf("save record %s: %w", rec.ID, err)
		}
		affected++
	}
	return affected, nil
}
