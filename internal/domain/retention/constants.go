package retention

const (
	DataTypeProfile        = "profile"
	DataTypeAuthentication = "authentication"
	DataTypeProgress       = "progress_records"
	DataTypeCommunications = "communications"
	DataTypeAuditLogs      = "audit_logs"
	DataTypeBilling        = "billing_records"
	DataTypeSupportTickets = "support_tickets"
)

var DataTypes = []string{
	DataTypeProfile,
	DataTypeAuthentication,
	DataTypeProgress,
	DataTypeCommunications,
	DataTypeAuditLogs,
	DataTypeBilling,
	DataTypeSupportTickets,
}

const (
	StateActive            = "active"
	StateRetentionPending  = "retention_pending"
	StateDeletionScheduled = "deletion_scheduled"
	StateSoftDeleted       = "soft_deleted"
	StateDeletionPending   = "deletion_pending"
	StateSecurelyErased    = "securely_erased"
	StateArchived          = "archived"
	StateFrozen            = "frozen"
)

const (
	DeletionMethodSoft = "soft"
	DeletionMethodHard = "hard"
)

const (
	EraseSimpleDelete        = "simple_delete"
	EraseOverwriteSingle     = "overwrite_single"
	EraseOverwriteMultiple   = "overwrite_multiple"
	EraseCryptoErase         = "crypto_erase"
	ErasePhysicalDestruction = "physical_destruction"
)

const (
	TriggerTimeBased           = "time_based"
	TriggerEventBased          = "event_based"
	TriggerConsentWithdrawal   = "consent_withdrawal"
	TriggerAccountDeletion     = "account_deletion"
	TriggerContractTermination = "contract_termination"
	TriggerManualRequest       = "manual_request"
	TriggerLegalObligation     = "legal_obligation"
)

const (
	RiskLow      = "low"
	RiskMedium   = "medium"
	RiskHigh     = "high"
	RiskCritical = "critical"
)

// LockTypeSweep guards one (organisation, data type) partition per sweep cycle.
const LockTypeSweep = "retention_sweep"

const OverwritePasses = 3
