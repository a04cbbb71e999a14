package retention

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestApproveReviewReleasesStalledRecord(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	engine := testEngine(t, store, newFakeResources(), newTestClock(day(370)))

	policy := seedPolicy(store, RetentionPolicy{
		OrgID: "org-1", DataType: DataTypeProfile,
		RetentionDays: 365, GraceDays: 30,
		Enabled: true, AutomaticDeletion: true, RequiresManualReview: true,
		CreatedAt: day(-1),
	})
	rec := governedRecord(store, policy, "res-1", "", day(0))
	rec.State = StateRetentionPending
	store.records[rec.ID] = rec

	got, err := engine.ApproveReview(ctx, "org-1", rec.ID, "dpo@example.org")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if got.State != StateDeletionScheduled {
		t.Fatalf("state = %s, want deletion_scheduled", got.State)
	}
	mustState(t, store, rec.ID, StateDeletionScheduled)

	// Approval applies to records awaiting review, nothing else.
	if _, err := engine.ApproveReview(ctx, "org-1", rec.ID, "dpo@example.org"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestRejectReviewFreezesRecord(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	engine := testEngine(t, store, newFakeResources(), newTestClock(day(370)))

	policy := seedPolicy(store, RetentionPolicy{
		OrgID: "org-1", DataType: DataTypeProfile,
		RetentionDays: 365, GraceDays: 30, Enabled: true, CreatedAt: day(-1),
	})
	rec := governedRecord(store, policy, "res-1", "", day(0))
	rec.State = StateRetentionPending
	store.records[rec.ID] = rec

	got, err := engine.RejectReview(ctx, "org-1", rec.ID, "dpo@example.org", "subject disputes accuracy")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if got.State != StateFrozen || got.FrozenAt == nil {
		t.Fatalf("record = %+v, want frozen with stamp", got)
	}
	if !strings.Contains(got.History[len(got.History)-1].Note, "subject disputes accuracy") {
		t.Fatalf("note = %q, want dispute reason", got.History[len(got.History)-1].Note)
	}
}

func TestFreezeAndUnfreezeRestoresPriorState(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	engine := testEngine(t, store, newFakeResources(), newTestClock(day(370)))

	policy := seedPolicy(store, RetentionPolicy{
		OrgID: "org-1", DataType: DataTypeProfile,
		RetentionDays: 365, GraceDays: 30, Enabled: true, CreatedAt: day(-1),
	})
	rec := governedRecord(store, policy, "res-1", "", day(0))
	rec.State = StateDeletionScheduled
	rec.History = []StateChange{
		{State: StateActive, At: day(0)},
		{State: StateRetentionPending, At: day(365)},
		{State: StateDeletionScheduled, At: day(365)},
	}
	store.records[rec.ID] = rec

	if _, err := engine.Freeze(ctx, "org-1", rec.ID, "rights dispute"); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	mustState(t, store, rec.ID, StateFrozen)

	got, err := engine.Unfreeze(ctx, "org-1", rec.ID, "dpo@example.org")
	if err != nil {
		t.Fatalf("unfreeze: %v", err)
	}
	if got.State != StateDeletionScheduled {
		t.Fatalf("state = %s, want restored deletion_scheduled", got.State)
	}
	if got.FrozenAt != nil {
		t.Fatal("frozen stamp must clear on release")
	}
}

func TestArchiveBlocksSweepUntilUnarchived(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	resources := newFakeResources()
	clock := newTestClock(day(370))
	engine := testEngine(t, store, resources, clock)

	policy := seedPolicy(store, RetentionPolicy{
		OrgID: "org-1", DataType: DataTypeProfile,
		RetentionDays: 365, GraceDays: 30,
		Enabled: true, AutomaticDeletion: true, CreatedAt: day(-1),
	})
	rec := governedRecord(store, policy, "res-1", "", day(0))

	if _, err := engine.Archive(ctx, "org-1", rec.ID, "legal preservation order"); err != nil {
		t.Fatalf("archive: %v", err)
	}

	// Archived records sit outside the pipeline even past eligibility.
	for i := 0; i < 2; i++ {
		if _, err := engine.SweepPartition(ctx, "org-1", DataTypeProfile); err != nil {
			t.Fatalf("sweep: %v", err)
		}
	}
	mustState(t, store, rec.ID, StateArchived)
	if len(resources.tombstoned) != 0 {
		t.Fatal("archived record must not be tombstoned")
	}

	if _, err := engine.Unarchive(ctx, "org-1", rec.ID, "dpo@example.org"); err != nil {
		t.Fatalf("unarchive: %v", err)
	}
	if _, err := engine.SweepPartition(ctx, "org-1", DataTypeProfile); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	mustState(t, store, rec.ID, StateDeletionScheduled)
}

func TestHoldRejectsTerminalAndHeldRecords(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	engine := testEngine(t, store, newFakeResources(), newTestClock(day(0)))

	erased := seedRecord(store, LifecycleRecord{
		OrgID: "org-1", DataType: DataTypeProfile, ResourceID: "res-1",
		State: StateSecurelyErased,
	})
	if _, err := engine.Freeze(ctx, "org-1", erased.ID, "too late"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}

	frozen := seedRecord(store, LifecycleRecord{
		OrgID: "org-1", DataType: DataTypeProfile, ResourceID: "res-2",
		State: StateFrozen,
	})
	if _, err := engine.Archive(ctx, "org-1", frozen.ID, "stacked hold"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	if _, err := engine.Unarchive(ctx, "org-1", frozen.ID, "dpo"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("unarchive of frozen record: err = %v, want ErrInvalidTransition", err)
	}
}

func TestObserveRegistersResourceOnce(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	engine := testEngine(t, store, newFakeResources(), newTestClock(day(10)))

	seedPolicy(store, RetentionPolicy{
		OrgID: "org-1", DataType: DataTypeBilling,
		RetentionDays: 2555, GraceDays: 0,
		Enabled: true, CreatedAt: day(-1),
	})

	rec, err := engine.Observe(ctx, "org-1", DataTypeBilling, "inv-1", "user-1", day(3))
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if rec.State != StateActive || rec.ResourceTable != "billing_records" {
		t.Fatalf("record = %+v", rec)
	}
	if rec.RetentionEligibleAt == nil || !rec.RetentionEligibleAt.Equal(day(3).AddDate(0, 0, 2555)) {
		t.Fatalf("eligible at = %v", rec.RetentionEligibleAt)
	}

	again, err := engine.Observe(ctx, "org-1", DataTypeBilling, "inv-1", "user-1", day(3))
	if err != nil {
		t.Fatalf("repeat observe: %v", err)
	}
	if again.ID != rec.ID {
		t.Fatalf("repeat observe created %s, want existing %s", again.ID, rec.ID)
	}
	if len(store.records) != 1 {
		t.Fatalf("records = %d, want 1", len(store.records))
	}
}

func TestObserveRejectsUnknownDataType(t *testing.T) {
	store := newMemoryStore()
	engine := testEngine(t, store, newFakeResources(), newTestClock(day(0)))

	if _, err := engine.Observe(context.Background(), "org-1", "telemetry", "x", "", day(0)); err == nil {
		t.Fatal("unknown data type must be rejected")
	}
}
