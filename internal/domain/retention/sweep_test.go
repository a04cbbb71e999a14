package retention

import (
	"context"
	"errors"
	"testing"
	"time"
)

// governedRecord builds a record the way adoption would, schedule included.
func governedRecord(store *memoryStore, policy RetentionPolicy, resourceID, userID string, created time.Time) *LifecycleRecord {
	rec := LifecycleRecord{
		OrgID:         policy.OrgID,
		DataType:      policy.DataType,
		ResourceID:    resourceID,
		UserID:        userID,
		State:         StateActive,
		DataCreatedAt: created,
	}
	ApplySchedule(&rec, policy)
	return seedRecord(store, rec)
}

// The worked example: 365-day retention, 30-day grace, soft deletion. Data
// created on day 0 becomes eligible on day 365 and must be erased by day 395,
// one destructive step per sweep cycle.
func TestSweepWorkedExample(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	resources := newFakeResources()
	clock := newTestClock(day(365))
	engine := testEngine(t, store, resources, clock)

	policy := seedPolicy(store, RetentionPolicy{
		OrgID: "org-1", DataType: DataTypeProfile,
		RetentionDays: 365, GraceDays: 30,
		DeletionMethod: DeletionMethodSoft, EraseMethod: EraseSimpleDelete,
		Enabled: true, AutomaticDeletion: true, CreatedAt: day(-1),
	})
	rec := governedRecord(store, policy, "res-1", "user-1", day(0))

	// Day 365: bookkeeping transitions run; the soft-delete gate at day 395
	// has not opened yet.
	res, err := engine.SweepPartition(ctx, "org-1", DataTypeProfile)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Transitioned != 2 {
		t.Fatalf("transitioned = %d, want 2", res.Transitioned)
	}
	mustState(t, store, rec.ID, StateDeletionScheduled)

	// Day 395: the grace period expires and the tombstone lands. Erase waits
	// for the next cycle.
	clock.Set(day(395))
	if _, err := engine.SweepPartition(ctx, "org-1", DataTypeProfile); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	mustState(t, store, rec.ID, StateSoftDeleted)
	if len(resources.tombstoned) != 1 || resources.tombstoned[0] != "res-1" {
		t.Fatalf("tombstoned = %v, want [res-1]", resources.tombstoned)
	}
	if len(resources.deleted) != 0 {
		t.Fatalf("deleted too early: %v", resources.deleted)
	}

	// Next cycle: erase runs and the certificate is issued atomically.
	res, err = engine.SweepPartition(ctx, "org-1", DataTypeProfile)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Erased != 1 || res.Certificates != 1 {
		t.Fatalf("erased = %d certificates = %d, want 1 and 1", res.Erased, res.Certificates)
	}
	final := mustState(t, store, rec.ID, StateSecurelyErased)
	if final.SecureErasedAt == nil {
		t.Fatal("secure_erased_at not stamped")
	}
	if len(resources.deleted) != 1 {
		t.Fatalf("deleted = %v, want [res-1]", resources.deleted)
	}
	if len(store.certs) != 1 {
		t.Fatalf("certificates = %d, want 1", len(store.certs))
	}
	for _, cert := range store.certs {
		if cert.RecordCount != 1 || cert.EraseMethod != EraseSimpleDelete {
			t.Fatalf("certificate = %+v", cert)
		}
		if cert.UserID != "user-1" {
			t.Fatalf("certificate user = %q, want user-1", cert.UserID)
		}
		if cert.ManifestHash == "" || cert.Signature == "" {
			t.Fatal("certificate missing manifest hash or signature")
		}
	}

	// Terminal records never re-enter the pipeline.
	res, err = engine.SweepPartition(ctx, "org-1", DataTypeProfile)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Transitioned != 0 || res.Erased != 0 {
		t.Fatalf("terminal record moved again: %+v", res)
	}
	if len(store.certs) != 1 {
		t.Fatalf("certificates = %d after idle sweep, want 1", len(store.certs))
	}
}

func TestSweepManualReviewStalls(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	resources := newFakeResources()
	clock := newTestClock(day(1000))
	engine := testEngine(t, store, resources, clock)

	policy := seedPolicy(store, RetentionPolicy{
		OrgID: "org-1", DataType: DataTypeProfile,
		RetentionDays: 365, GraceDays: 30,
		Enabled: true, AutomaticDeletion: true, RequiresManualReview: true,
		CreatedAt: day(-1),
	})
	rec := governedRecord(store, policy, "res-1", "", day(0))

	for i := 0; i < 3; i++ {
		if _, err := engine.SweepPartition(ctx, "org-1", DataTypeProfile); err != nil {
			t.Fatalf("sweep: %v", err)
		}
	}
	mustState(t, store, rec.ID, StateRetentionPending)
	if len(resources.tombstoned) != 0 || len(resources.deleted) != 0 {
		t.Fatal("manual-review record must not be touched")
	}
}

func TestSweepSkipsHeldPartitionUnderContention(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	resources := newFakeResources()
	clock := newTestClock(day(400))
	locks := NewMemoryLockManager()
	engine := NewEngine(store, locks, resources, testIssuer(t), nil, Options{
		Holder: "worker-a", Now: clock.Now,
	})

	policy := seedPolicy(store, RetentionPolicy{
		OrgID: "org-1", DataType: DataTypeProfile,
		RetentionDays: 365, GraceDays: 30,
		Enabled: true, AutomaticDeletion: true, CreatedAt: day(-1),
	})
	rec := governedRecord(store, policy, "res-1", "", day(0))

	held, err := locks.Acquire(ctx, LockTypeSweep, "org-1/"+DataTypeProfile, "worker-b", "test", time.Minute)
	if err != nil {
		t.Fatalf("pre-acquire: %v", err)
	}

	res, err := engine.SweepPartition(ctx, "org-1", DataTypeProfile)
	if err != nil {
		t.Fatalf("contended sweep must not error: %v", err)
	}
	if !res.Skipped {
		t.Fatal("expected sweep to be skipped")
	}
	mustState(t, store, rec.ID, StateActive)

	// Once the other holder releases, the same partition sweeps normally.
	if err := locks.Release(ctx, held); err != nil {
		t.Fatalf("release: %v", err)
	}
	res, err = engine.SweepPartition(ctx, "org-1", DataTypeProfile)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Skipped || res.Transitioned == 0 {
		t.Fatalf("post-release sweep = %+v", res)
	}
}

func TestSweepAdoptsUngovernedResources(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	resources := newFakeResources()
	clock := newTestClock(day(10))
	engine := testEngine(t, store, resources, clock)

	seedPolicy(store, RetentionPolicy{
		OrgID: "org-1", DataType: DataTypeProfile,
		RetentionDays: 365, GraceDays: 30,
		Enabled: true, AutomaticDeletion: true, CreatedAt: day(-1),
	})
	resources.ungoverned[DataTypeProfile] = []ResourceRef{
		{ID: "res-1", UserID: "user-1", CreatedAt: day(0)},
		{ID: "res-2", UserID: "user-2", CreatedAt: day(3)},
	}

	res, err := engine.SweepPartition(ctx, "org-1", DataTypeProfile)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Adopted != 2 {
		t.Fatalf("adopted = %d, want 2", res.Adopted)
	}
	rec, err := store.FindRecord(ctx, "org-1", DataTypeProfile, "learner_profiles", "res-1")
	if err != nil {
		t.Fatalf("adopted record missing: %v", err)
	}
	if rec.RetentionEligibleAt == nil || !rec.RetentionEligibleAt.Equal(day(365)) {
		t.Fatalf("eligible at = %v, want %v", rec.RetentionEligibleAt, day(365))
	}
}

func TestSweepUngovernedPartitionStaysActive(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	resources := newFakeResources()
	clock := newTestClock(day(10))
	engine := testEngine(t, store, resources, clock)

	// No policy at all; data is adopted for visibility but never scheduled.
	resources.ungoverned[DataTypeProfile] = []ResourceRef{{ID: "res-1", CreatedAt: day(0)}}

	res, err := engine.SweepPartition(ctx, "org-1", DataTypeProfile)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Adopted != 1 || res.Transitioned != 0 {
		t.Fatalf("res = %+v, want 1 adoption and no transitions", res)
	}
	rec, err := store.FindRecord(ctx, "org-1", DataTypeProfile, "learner_profiles", "res-1")
	if err != nil {
		t.Fatalf("adopted record missing: %v", err)
	}
	if rec.RetentionEligibleAt != nil || rec.PolicyID != "" {
		t.Fatalf("ungoverned record must carry no schedule: %+v", rec)
	}
}

func TestSweepReschedulesOnPolicyChange(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	resources := newFakeResources()
	clock := newTestClock(day(100))
	engine := testEngine(t, store, resources, clock)

	old := RetentionPolicy{
		ID: "pol-old", OrgID: "org-1", DataType: DataTypeProfile,
		RetentionDays: 365, GraceDays: 30, DeletionMethod: DeletionMethodSoft,
	}
	rec := governedRecord(store, old, "res-1", "", day(0))

	seedPolicy(store, RetentionPolicy{
		ID: "pol-new", OrgID: "org-1", DataType: DataTypeProfile,
		RetentionDays: 500, GraceDays: 10, DeletionMethod: DeletionMethodSoft,
		EraseMethod: EraseOverwriteSingle,
		Enabled:     true, AutomaticDeletion: true, Priority: 5, CreatedAt: day(-1),
	})

	if _, err := engine.SweepPartition(ctx, "org-1", DataTypeProfile); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	got := mustState(t, store, rec.ID, StateActive)
	if got.PolicyID != "pol-new" {
		t.Fatalf("policy = %s, want pol-new", got.PolicyID)
	}
	if got.RetentionEligibleAt == nil || !got.RetentionEligibleAt.Equal(day(500)) {
		t.Fatalf("eligible at = %v, want %v", got.RetentionEligibleAt, day(500))
	}
	if got.EraseMethod != EraseOverwriteSingle {
		t.Fatalf("erase method = %s, want overwrite_single", got.EraseMethod)
	}
}

func TestSweepEraseFailureLeavesRecordRetryable(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	resources := newFakeResources()
	resources.failDelete = true
	clock := newTestClock(day(400))
	engine := testEngine(t, store, resources, clock)

	policy := seedPolicy(store, RetentionPolicy{
		OrgID: "org-1", DataType: DataTypeProfile,
		RetentionDays: 1, GraceDays: 0,
		Enabled: true, AutomaticDeletion: true, CreatedAt: day(-1),
	})
	rec := governedRecord(store, policy, "res-1", "", day(0))
	rec.State = StateDeletionPending
	store.records[rec.ID] = rec

	res, err := engine.SweepPartition(ctx, "org-1", DataTypeProfile)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Failures != 1 || res.Erased != 0 {
		t.Fatalf("res = %+v, want one failure and no erases", res)
	}
	got := mustState(t, store, rec.ID, StateDeletionPending)
	if got.RetryCount != 1 || len(got.Errors) != 1 {
		t.Fatalf("retry = %d errors = %d, want 1 and 1", got.RetryCount, len(got.Errors))
	}
	if len(store.certs) != 0 {
		t.Fatal("no certificate may exist for a failed erase")
	}

	// Once the budget is exhausted the record is left for manual attention.
	got.RetryCount = engine.opts.MaxEraseRetries + 1
	store.records[rec.ID] = got
	res, err = engine.SweepPartition(ctx, "org-1", DataTypeProfile)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	after := mustState(t, store, rec.ID, StateDeletionPending)
	if after.RetryCount != engine.opts.MaxEraseRetries+1 {
		t.Fatalf("retry = %d, exhausted record must not be retried", after.RetryCount)
	}
}

func TestSweepCertificateFailureRollsBackTerminalState(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	store.failFinalize = true
	resources := newFakeResources()
	clock := newTestClock(day(400))
	engine := testEngine(t, store, resources, clock)

	policy := seedPolicy(store, RetentionPolicy{
		OrgID: "org-1", DataType: DataTypeProfile,
		RetentionDays: 1, GraceDays: 0,
		Enabled: true, AutomaticDeletion: true, CreatedAt: day(-1),
	})
	rec := governedRecord(store, policy, "res-1", "", day(0))
	rec.State = StateDeletionPending
	store.records[rec.ID] = rec

	res, err := engine.SweepPartition(ctx, "org-1", DataTypeProfile)
	if err != nil {
		t.Fatalf("sweep itself must not fail: %v", err)
	}
	if res.Erased != 0 || res.Certificates != 0 || res.Failures != 1 {
		t.Fatalf("res = %+v, want rolled-back batch", res)
	}
	got := mustState(t, store, rec.ID, StateDeletionPending)
	if got.SecureErasedAt != nil {
		t.Fatal("erased stamp must be rolled back")
	}
	if got.RetryCount != 1 {
		t.Fatalf("retry = %d, want 1", got.RetryCount)
	}
	if len(store.certs) != 0 {
		t.Fatal("certificate must not be observable without the terminal state")
	}
}

func TestSweepBatchesByEraseMethod(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	resources := newFakeResources()
	clock := newTestClock(day(400))
	engine := testEngine(t, store, resources, clock)

	policy := seedPolicy(store, RetentionPolicy{
		OrgID: "org-1", DataType: DataTypeProfile,
		RetentionDays: 1, GraceDays: 0, EraseMethod: EraseOverwriteMultiple,
		Enabled: true, AutomaticDeletion: true, CreatedAt: day(-1),
	})
	for _, id := range []string{"res-1", "res-2", "res-3"} {
		rec := governedRecord(store, policy, id, "", day(0))
		rec.State = StateDeletionPending
		store.records[rec.ID] = rec
	}

	res, err := engine.SweepPartition(ctx, "org-1", DataTypeProfile)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Erased != 3 || res.Certificates != 1 {
		t.Fatalf("res = %+v, want one certificate over three records", res)
	}
	for _, id := range []string{"res-1", "res-2", "res-3"} {
		if resources.scrubPasses[id] != OverwritePasses {
			t.Fatalf("scrub passes for %s = %d, want %d", id, resources.scrubPasses[id], OverwritePasses)
		}
	}
	for _, cert := range store.certs {
		if cert.UserID != "" {
			t.Fatalf("mixed-user batch must carry no subject, got %q", cert.UserID)
		}
		if cert.EraseMethod != EraseOverwriteMultiple {
			t.Fatalf("erase method = %s", cert.EraseMethod)
		}
	}
}

func TestSweepOrganisationCoversAllDataTypes(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	resources := newFakeResources()
	clock := newTestClock(day(10))
	engine := testEngine(t, store, resources, clock)

	results, err := engine.SweepOrganisation(ctx, "org-1")
	if err != nil {
		t.Fatalf("sweep organisation: %v", err)
	}
	if len(results) != len(DataTypes) {
		t.Fatalf("partitions swept = %d, want %d", len(results), len(DataTypes))
	}
}

func TestSweepIsSafeToRepeat(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	resources := newFakeResources()
	clock := newTestClock(day(366))
	engine := testEngine(t, store, resources, clock)

	policy := seedPolicy(store, RetentionPolicy{
		OrgID: "org-1", DataType: DataTypeProfile,
		RetentionDays: 365, GraceDays: 30,
		Enabled: true, AutomaticDeletion: true, CreatedAt: day(-1),
	})
	rec := governedRecord(store, policy, "res-1", "", day(0))

	if _, err := engine.SweepPartition(ctx, "org-1", DataTypeProfile); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	first := mustState(t, store, rec.ID, StateDeletionScheduled)
	firstHistory := historyStates(first)

	// At-least-once delivery: the same cycle may run twice.
	if _, err := engine.SweepPartition(ctx, "org-1", DataTypeProfile); err != nil {
		t.Fatalf("repeat sweep: %v", err)
	}
	second := mustState(t, store, rec.ID, StateDeletionScheduled)
	if historyStates(second) != firstHistory {
		t.Fatalf("history grew on repeat: %s -> %s", firstHistory, historyStates(second))
	}
}

func TestSweepWrapsLockErrors(t *testing.T) {
	err := &BusyError{Holder: "worker-b", ExpiresAt: day(1)}
	if !errors.Is(err, ErrLockBusy) {
		t.Fatal("BusyError must match ErrLockBusy")
	}
}
