package retention

import (
	"context"
	"time"
)

// StoreAPI is the durable state the engine reads and writes. The pgx-backed
// Store implements it in production; engine tests run against an in-memory
// fake.
type StoreAPI interface {
	ListOrganisations(ctx context.Context) ([]Organisation, error)

	ListPolicies(ctx context.Context, orgID string) ([]RetentionPolicy, error)
	PoliciesForType(ctx context.Context, orgID, dataType string) ([]RetentionPolicy, error)
	GetPolicy(ctx context.Context, orgID, policyID string) (RetentionPolicy, error)
	CreatePolicy(ctx context.Context, policy RetentionPolicy) (string, error)
	UpdatePolicy(ctx context.Context, policy RetentionPolicy) error
	DeletePolicy(ctx context.Context, orgID, policyID string) error

	GetRecord(ctx context.Context, orgID, recordID string) (*LifecycleRecord, error)
	FindRecord(ctx context.Context, orgID, dataType, resourceTable, resourceID string) (*LifecycleRecord, error)
	CreateRecord(ctx context.Context, rec *LifecycleRecord) error
	SaveRecord(ctx context.Context, rec *LifecycleRecord) error
	ListRecords(ctx context.Context, orgID string, filter RecordFilter, limit, offset int) ([]LifecycleRecord, int, error)
	// DueRecords returns non-terminal, non-held records of one partition,
	// oldest data first.
	DueRecords(ctx context.Context, orgID, dataType string, limit int) ([]*LifecycleRecord, error)
	// RecordsForEvent returns records an event trigger may short-circuit:
	// pre-erase states, optionally narrowed to one user's data.
	RecordsForEvent(ctx context.Context, orgID, dataType, userID string) ([]*LifecycleRecord, error)
	RecordsForType(ctx context.Context, orgID, dataType string) ([]LifecycleRecord, error)
	// FinalizeErasure applies the terminal transition for every record and
	// inserts the covering certificate as a single atomic unit. No record may
	// be observable as erased without the certificate, or vice versa.
	FinalizeErasure(ctx context.Context, records []*LifecycleRecord, cert *DeletionCertificate) error

	GetCertificate(ctx context.Context, orgID, certID string) (*DeletionCertificate, error)
	CertificateByNumber(ctx context.Context, number string) (*DeletionCertificate, error)
	ListCertificates(ctx context.Context, orgID string, limit, offset int) ([]DeletionCertificate, int, error)

	InsertAudit(ctx context.Context, audit *ComplianceAudit) error
	ListAudits(ctx context.Context, orgID string, limit, offset int) ([]ComplianceAudit, int, error)
}

// LockManager hands out expiring leases keyed by (lock type, resource id).
// A crashed holder never blocks a partition past its lease TTL.
type LockManager interface {
	Acquire(ctx context.Context, lockType, resourceID, holder, reason string, ttl time.Duration) (*ExecutionLock, error)
	Renew(ctx context.Context, lock *ExecutionLock, ttl time.Duration) error
	Release(ctx context.Context, lock *ExecutionLock) error
}

// ResourceStore mutates the governed, collaborator-owned resource tables on
// the engine's behalf. Every operation is scoped by organisation and the
// data-type table mapping; unknown data types are rejected.
type ResourceStore interface {
	TableFor(dataType string) (string, bool)
	// ListUngoverned returns governed rows that have no lifecycle record yet
	// so the sweep can adopt them.
	ListUngoverned(ctx context.Context, orgID, dataType string, limit int) ([]ResourceRef, error)
	Tombstone(ctx context.Context, orgID, dataType, resourceID string, at time.Time) error
	Delete(ctx context.Context, orgID, dataType, resourceID string) error
	Scrub(ctx context.Context, orgID, dataType, resourceID string, passes int) error
	DestroyKey(ctx context.Context, orgID, resourceTable, resourceID string) error
	MarkForPhysicalDestruction(ctx context.Context, orgID, dataType, resourceID string, at time.Time) error
}
