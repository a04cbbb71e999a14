package retention

import "time"

type RetentionPolicy struct {
	ID                   string    `json:"id"`
	OrgID                string    `json:"orgId"`
	DataType             string    `json:"dataType"`
	RetentionDays        int       `json:"retentionDays"`
	GraceDays            int       `json:"graceDays"`
	DeletionMethod       string    `json:"deletionMethod"`
	EraseMethod          string    `json:"eraseMethod"`
	TriggerType          string    `json:"triggerType"`
	LegalBasis           string    `json:"legalBasis"`
	Priority             int       `json:"priority"`
	Enabled              bool      `json:"enabled"`
	AutomaticDeletion    bool      `json:"automaticDeletion"`
	RequiresManualReview bool      `json:"requiresManualReview"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// ProcessingError is one failed attempt on a lifecycle record, oldest first.
type ProcessingError struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

// StateChange is one entry of a record's transition log.
type StateChange struct {
	State string    `json:"state"`
	At    time.Time `json:"at"`
	Note  string    `json:"note,omitempty"`
}

// LifecycleRecord is the engine-owned row tracking one governed data item.
// It is never deleted; after the underlying resource is erased the record
// remains as the proof trail.
type LifecycleRecord struct {
	ID            string `json:"id"`
	OrgID         string `json:"orgId"`
	DataType      string `json:"dataType"`
	ResourceTable string `json:"resourceTable"`
	ResourceID    string `json:"resourceId"`
	UserID        string `json:"userId,omitempty"`
	State         string `json:"state"`
	PolicyID      string `json:"policyId,omitempty"`

	DataCreatedAt          time.Time  `json:"dataCreatedAt"`
	RetentionEligibleAt    *time.Time `json:"retentionEligibleAt,omitempty"`
	SoftDeleteScheduledAt  *time.Time `json:"softDeleteScheduledAt,omitempty"`
	SoftDeletedAt          *time.Time `json:"softDeletedAt,omitempty"`
	SecureEraseScheduledAt *time.Time `json:"secureEraseScheduledAt,omitempty"`
	SecureErasedAt         *time.Time `json:"secureErasedAt,omitempty"`
	ArchivedAt             *time.Time `json:"archivedAt,omitempty"`
	FrozenAt               *time.Time `json:"frozenAt,omitempty"`

	DeletionReason  string            `json:"deletionReason,omitempty"`
	DeletionMethod  string            `json:"deletionMethod,omitempty"`
	EraseMethod     string            `json:"eraseMethod,omitempty"`
	RetryCount      int               `json:"retryCount"`
	Errors          []ProcessingError `json:"errors,omitempty"`
	History         []StateChange     `json:"history,omitempty"`
	LastProcessedAt *time.Time        `json:"lastProcessedAt,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// Terminal reports whether no further automatic transition applies.
func (r *LifecycleRecord) Terminal() bool {
	return r.State == StateSecurelyErased
}

// Held reports whether the record sits in a hold state that only an explicit
// administrative action can leave.
func (r *LifecycleRecord) Held() bool {
	return r.State == StateArchived || r.State == StateFrozen
}

// DeletionCertificate is the immutable proof that a batch of records reached
// securely_erased. Written exactly once, in the same transaction as the
// terminal transition.
type DeletionCertificate struct {
	ID                string    `json:"id"`
	CertificateNumber string    `json:"certificateNumber"`
	OrgID             string    `json:"orgId"`
	UserID            string    `json:"userId,omitempty"`
	DataTypes         []string  `json:"dataTypes"`
	RecordCount       int       `json:"recordCount"`
	EraseMethod       string    `json:"eraseMethod"`
	DeletionStartedAt time.Time `json:"deletionStartedAt"`
	DeletionEndedAt   time.Time `json:"deletionEndedAt"`
	ManifestHash      string    `json:"manifestHash"`
	Witness           string    `json:"witness,omitempty"`
	Signature         string    `json:"signature,omitempty"`
	LegalBasis        string    `json:"legalBasis,omitempty"`
	RequestOrigin     string    `json:"requestOrigin,omitempty"`
	ValidFrom         time.Time `json:"validFrom"`
	ValidUntil        time.Time `json:"validUntil"`
	CreatedAt         time.Time `json:"createdAt"`
}

// ComplianceAudit is an append-only snapshot of how well one policy is being
// honoured. New audits supersede old ones; none is ever edited.
type ComplianceAudit struct {
	ID               string    `json:"id"`
	OrgID            string    `json:"orgId"`
	PolicyID         string    `json:"policyId"`
	DataType         string    `json:"dataType"`
	TotalRecords     int       `json:"totalRecords"`
	CompliantRecords int       `json:"compliantRecords"`
	OverdueRecords   int       `json:"overdueRecords"`
	ErrorRecords     int       `json:"errorRecords"`
	ComplianceRate   float64   `json:"complianceRate"`
	RiskLevel        string    `json:"riskLevel"`
	Issues           []string  `json:"issues,omitempty"`
	Recommendations  []string  `json:"recommendations,omitempty"`
	NextAuditDue     time.Time `json:"nextAuditDue"`
	CreatedAt        time.Time `json:"createdAt"`
}

// ExecutionLock is a lease on a (lock type, resource id) pair. Expired rows
// are reclaimable by the next acquirer; nothing queues behind a lease.
type ExecutionLock struct {
	ID            string     `json:"id"`
	LockType      string     `json:"lockType"`
	ResourceID    string     `json:"resourceId"`
	Holder        string     `json:"holder"`
	Reason        string     `json:"reason,omitempty"`
	AcquiredAt    time.Time  `json:"acquiredAt"`
	ExpiresAt     time.Time  `json:"expiresAt"`
	RenewedAt     *time.Time `json:"renewedAt,omitempty"`
	QueuePosition int        `json:"queuePosition,omitempty"`
	CorrelationID string     `json:"correlationId,omitempty"`
}

// ManifestEntry identifies one erased resource inside a deletion manifest.
type ManifestEntry struct {
	ResourceTable string    `json:"resourceTable"`
	ResourceID    string    `json:"resourceId"`
	DataType      string    `json:"dataType"`
	ErasedAt      time.Time `json:"erasedAt"`
}

// Manifest is the evidence an erase run produces. Its canonical JSON hash
// becomes the certificate's manifest hash.
type Manifest struct {
	Method    string          `json:"method"`
	StartedAt time.Time       `json:"startedAt"`
	EndedAt   time.Time       `json:"endedAt"`
	Entries   []ManifestEntry `json:"entries"`
}

// ErasureResult is what a successful erase run hands to the certificate
// issuer.
type ErasureResult struct {
	RecordCount  int
	Method       string
	StartedAt    time.Time
	EndedAt      time.Time
	ManifestHash string
	Manifest     Manifest
}

// RecordFilter narrows administrative record listings.
type RecordFilter struct {
	State    string
	DataType string
}

// Organisation is the tenant registry entry the schedulers iterate.
type Organisation struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ResourceRef points at one governed row in a collaborator-owned table.
type ResourceRef struct {
	ID        string
	UserID    string
	CreatedAt time.Time
}

// EventRequest is the short-circuit entry point payload invoked by consent
// withdrawal, account deletion and similar flows.
type EventRequest struct {
	OrgID    string `json:"orgId"`
	UserID   string `json:"userId,omitempty"`
	DataType string `json:"dataType"`
	Trigger  string `json:"trigger"`
	Reason   string `json:"reason"`
}
