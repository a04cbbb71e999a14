package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"traindesk/internal/platform/metrics"
)

const lockRenewEvery = 100

// Options tune one engine instance.
type Options struct {
	// Holder identifies this worker in execution locks.
	Holder string
	// BatchSize caps how many due records one partition sweep processes.
	BatchSize int
	// MaxEraseRetries bounds erase attempts before a record is left for
	// manual attention and counted as an error by the auditor.
	MaxEraseRetries int
	// LockTTL must exceed the expected sweep duration with margin; long
	// batches renew the lease as they go.
	LockTTL time.Duration
	// Now overrides the clock in tests.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Holder == "" {
		o.Holder = "retention-worker"
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 500
	}
	if o.MaxEraseRetries <= 0 {
		o.MaxEraseRetries = 5
	}
	if o.LockTTL <= 0 {
		o.LockTTL = 5 * time.Minute
	}
	return o
}

// Engine advances lifecycle records through their states, executes secure
// erases and issues certificates. Safe to run on any number of workers; the
// lock manager keeps partitions exclusive.
type Engine struct {
	store     StoreAPI
	locks     LockManager
	resources ResourceStore
	executor  *Executor
	issuer    *Issuer
	metrics   *metrics.Collector
	opts      Options
}

func NewEngine(store StoreAPI, locks LockManager, resources ResourceStore, issuer *Issuer, collector *metrics.Collector, opts Options) *Engine {
	return &Engine{
		store:     store,
		locks:     locks,
		resources: resources,
		executor:  NewExecutor(resources),
		issuer:    issuer,
		metrics:   collector,
		opts:      opts.withDefaults(),
	}
}

func (e *Engine) now() time.Time {
	if e.opts.Now != nil {
		return e.opts.Now()
	}
	return time.Now().UTC()
}

// SweepResult summarises one partition sweep.
type SweepResult struct {
	OrgID        string `json:"orgId"`
	DataType     string `json:"dataType"`
	Skipped      bool   `json:"skipped"`
	Adopted      int    `json:"adopted"`
	Transitioned int    `json:"transitioned"`
	Erased       int    `json:"erased"`
	Certificates int    `json:"certificates"`
	Failures     int    `json:"failures"`
}

// SweepOrganisation sweeps every data-type partition of one tenant.
func (e *Engine) SweepOrganisation(ctx context.Context, orgID string) ([]SweepResult, error) {
	var out []SweepResult
	for _, dataType := range DataTypes {
		res, err := e.SweepPartition(ctx, orgID, dataType)
		if err != nil {
			slog.Warn("partition sweep failed", "orgId", orgID, "dataType", dataType, "err", err)
			continue
		}
		out = append(out, *res)
	}
	return out, nil
}

// SweepPartition runs one sweep cycle for (orgID, dataType) under the
// partition lock. A busy lock is not an error: the partition is being swept
// elsewhere and this worker mutates nothing.
func (e *Engine) SweepPartition(ctx context.Context, orgID, dataType string) (*SweepResult, error) {
	res := &SweepResult{OrgID: orgID, DataType: dataType}
	started := time.Now()

	lock, err := e.locks.Acquire(ctx, LockTypeSweep, orgID+"/"+dataType, e.opts.Holder, "scheduled sweep", e.opts.LockTTL)
	if errors.Is(err, ErrLockBusy) {
		e.metrics.LockContention()
		e.metrics.ObserveSweep("skipped", time.Since(started))
		res.Skipped = true
		return res, nil
	}
	if err != nil {
		e.metrics.ObserveSweep("failed", time.Since(started))
		return nil, fmt.Errorf("acquire partition lock: %w", err)
	}
	defer func() {
		if rerr := e.locks.Release(ctx, lock); rerr != nil {
			slog.Warn("lock release failed", "orgId", orgID, "dataType", dataType, "err", rerr)
		}
	}()

	if err := e.sweepLocked(ctx, orgID, dataType, lock, res); err != nil {
		e.metrics.ObserveSweep("failed", time.Since(started))
		return nil, err
	}
	e.metrics.ObserveSweep("completed", time.Since(started))
	return res, nil
}

func (e *Engine) sweepLocked(ctx context.Context, orgID, dataType string, lock *ExecutionLock, res *SweepResult) error {
	now := e.now()

	policies, err := e.store.PoliciesForType(ctx, orgID, dataType)
	if err != nil {
		return fmt.Errorf("load policies: %w", err)
	}
	policy, err := Resolve(policies, orgID, dataType, now)
	ungoverned := errors.Is(err, ErrPolicyNotFound)
	if err != nil && !ungoverned {
		return err
	}

	adopted, err := e.adopt(ctx, orgID, dataType, policy, !ungoverned, now)
	if err != nil {
		slog.Warn("resource adoption failed", "orgId", orgID, "dataType", dataType, "err", err)
	}
	res.Adopted = adopted
	e.metrics.RecordsAdopted(adopted)

	if ungoverned {
		// No enabled policy: the partition's data stays active indefinitely.
		return nil
	}

	records, err := e.store.DueRecords(ctx, orgID, dataType, e.opts.BatchSize)
	if err != nil {
		return fmt.Errorf("load due records: %w", err)
	}

	eraseBatches := map[string][]*LifecycleRecord{}
	for i, rec := range records {
		if i > 0 && i%lockRenewEvery == 0 {
			if err := e.locks.Renew(ctx, lock, e.opts.LockTTL); err != nil {
				return fmt.Errorf("renew partition lock: %w", err)
			}
		}
		if rec.PolicyID != policy.ID {
			// Effective policy changed; the schedule is recomputed from the
			// same arithmetic it was first derived with.
			ApplySchedule(rec, policy)
		}
		e.advanceRecord(ctx, rec, policy, now, res, eraseBatches)
	}

	for method, batch := range eraseBatches {
		if err := e.eraseAndCertify(ctx, orgID, policy, method, batch, res); err != nil {
			slog.Warn("erase batch failed", "orgId", orgID, "dataType", dataType, "method", method, "size", len(batch), "err", err)
		}
	}
	return nil
}

// advanceRecord chains bookkeeping transitions and performs at most one
// destructive step. Erase-due records are collected per method; everything
// else is persisted here.
func (e *Engine) advanceRecord(ctx context.Context, rec *LifecycleRecord, policy RetentionPolicy, now time.Time, res *SweepResult, eraseBatches map[string][]*LifecycleRecord) {
	for {
		step, ok := NextStep(rec, policy, now)
		if !ok {
			break
		}
		if step.Destructive {
			if step.To == StateSecurelyErased {
				if rec.RetryCount > e.opts.MaxEraseRetries {
					// Out of retry budget; left in deletion_pending for manual
					// attention, surfaced by the auditor as an error record.
					break
				}
				eraseBatches[rec.EraseMethod] = append(eraseBatches[rec.EraseMethod], rec)
				return
			}
			if err := e.resources.Tombstone(ctx, rec.OrgID, rec.DataType, rec.ResourceID, now); err != nil {
				e.recordFailure(ctx, rec, now, fmt.Sprintf("soft delete failed: %v", err))
				res.Failures++
				return
			}
			TransitionTo(rec, StateSoftDeleted, now, "tombstoned by sweep")
			e.metrics.Transition(StateSoftDeleted)
			res.Transitioned++
			break
		}
		TransitionTo(rec, step.To, now, "")
		e.metrics.Transition(step.To)
		res.Transitioned++
	}

	at := now
	rec.LastProcessedAt = &at
	if err := e.store.SaveRecord(ctx, rec); err != nil {
		slog.Warn("record save failed", "recordId", rec.ID, "err", err)
		res.Failures++
	}
}

// eraseAndCertify runs one erase batch and, on success, applies the terminal
// transition together with the certificate as a single atomic unit.
func (e *Engine) eraseAndCertify(ctx context.Context, orgID string, policy RetentionPolicy, method string, batch []*LifecycleRecord, res *SweepResult) error {
	now := e.now()

	result, err := e.executor.Erase(ctx, batch, method, now)
	if err != nil {
		e.metrics.EraseFailure()
		for _, rec := range batch {
			e.recordFailure(ctx, rec, now, err.Error())
			res.Failures++
		}
		return err
	}

	// Event-triggered records carry a deletion reason; everything else was
	// driven by the time gate.
	origin := policy.TriggerType
	if origin == "" {
		origin = TriggerTimeBased
	}
	for _, rec := range batch {
		if rec.DeletionReason != "" {
			origin = TriggerEventBased
			break
		}
	}

	cert, err := e.issuer.Issue(result, orgID, commonUser(batch), policy.LegalBasis, origin, batchDataTypes(batch), now)
	if err != nil {
		e.metrics.EraseFailure()
		for _, rec := range batch {
			e.recordFailure(ctx, rec, now, err.Error())
			res.Failures++
		}
		return err
	}

	for _, rec := range batch {
		TransitionTo(rec, StateSecurelyErased, now, "certificate "+cert.CertificateNumber)
		at := now
		rec.LastProcessedAt = &at
	}
	if err := e.store.FinalizeErasure(ctx, batch, cert); err != nil {
		// The terminal state must never be observable without its
		// certificate; roll the whole batch back to deletion_pending.
		for _, rec := range batch {
			rec.State = StateDeletionPending
			rec.SecureErasedAt = nil
			if n := len(rec.History); n > 0 && rec.History[n-1].State == StateSecurelyErased {
				rec.History = rec.History[:n-1]
			}
			e.recordFailure(ctx, rec, now, fmt.Sprintf("certificate issuance failed: %v", err))
			res.Failures++
		}
		return fmt.Errorf("%w: %v", ErrCertificateIssuance, err)
	}

	e.metrics.Transition(StateSecurelyErased)
	e.metrics.RecordsErased(result.RecordCount)
	e.metrics.CertificateIssued()
	res.Erased += result.RecordCount
	res.Certificates++
	return nil
}

// adopt registers governed resources that have no lifecycle record yet.
func (e *Engine) adopt(ctx context.Context, orgID, dataType string, policy RetentionPolicy, governed bool, now time.Time) (int, error) {
	table, ok := e.resources.TableFor(dataType)
	if !ok {
		return 0, nil
	}
	refs, err := e.resources.ListUngoverned(ctx, orgID, dataType, e.opts.BatchSize)
	if err != nil {
		return 0, err
	}
	adopted := 0
	for _, ref := range refs {
		rec := &LifecycleRecord{
			OrgID:         orgID,
			DataType:      dataType,
			ResourceTable: table,
			ResourceID:    ref.ID,
			UserID:        ref.UserID,
			State:         StateActive,
			DataCreatedAt: ref.CreatedAt,
			History:       []StateChange{{State: StateActive, At: now, Note: "adopted by sweep"}},
		}
		if governed {
			ApplySchedule(rec, policy)
		}
		if err := e.store.CreateRecord(ctx, rec); err != nil {
			slog.Warn("record adoption failed", "orgId", orgID, "dataType", dataType, "resourceId", ref.ID, "err", err)
			continue
		}
		adopted++
	}
	return adopted, nil
}

// recordFailure appends exactly one error entry and one retry increment for
// a failed attempt, leaving the record's state untouched.
func (e *Engine) recordFailure(ctx context.Context, rec *LifecycleRecord, now time.Time, message string) {
	rec.RetryCount++
	rec.Errors = append(rec.Errors, ProcessingError{At: now, Message: message})
	at := now
	rec.LastProcessedAt = &at
	if err := e.store.SaveRecord(ctx, rec); err != nil {
		slog.Warn("record failure save failed", "recordId", rec.ID, "err", err)
	}
}

func commonUser(batch []*LifecycleRecord) string {
	user := ""
	for _, rec := range batch {
		switch {
		case rec.UserID == "":
			return ""
		case user == "":
			user = rec.UserID
		case user != rec.UserID:
			return ""
		}
	}
	return user
}

func batchDataTypes(batch []*LifecycleRecord) []string {
	seen := map[string]bool{}
	var out []string
	for _, rec := range batch {
		if !seen[rec.DataType] {
			seen[rec.DataType] = true
			out = append(out, rec.DataType)
		}
	}
	return out
}
