package auth

const (
	RoleViewer      = "viewer"
	RoleOperator    = "operator"
	RoleDPO         = "dpo"
	RoleSystemAdmin = "system_admin"
)

const (
	PermPoliciesRead     = "retention.policies.read"
	PermPoliciesWrite    = "retention.policies.write"
	PermRecordsRead      = "retention.records.read"
	PermRecordsReview    = "retention.records.review"
	PermRecordsHold      = "retention.records.hold"
	PermEventsTrigger    = "retention.events.trigger"
	PermSweepRun         = "retention.sweep.run"
	PermCertificatesRead = "retention.certificates.read"
	PermComplianceRead   = "retention.compliance.read"
	PermComplianceRun    = "retention.compliance.run"
	PermAuditRead        = "audit.read"
	PermSystemAdmin      = "admin.system"
)

var DefaultPermissions = []string{
	PermPoliciesRead,
	PermPoliciesWrite,
	PermRecordsRead,
	PermRecordsReview,
	PermRecordsHold,
	PermEventsTrigger,
	PermSweepRun,
	PermCertificatesRead,
	PermComplianceRead,
	PermComplianceRun,
	PermAuditRead,
	PermSystemAdmin,
}

var RolePermissions = map[string][]string{
	RoleViewer: {
		PermPoliciesRead,
		PermRecordsRead,
		PermCertificatesRead,
		PermComplianceRead,
	},
	RoleOperator: {
		PermPoliciesRead,
		PermRecordsRead,
		PermEventsTrigger,
		PermSweepRun,
		PermCertificatesRead,
		PermComplianceRead,
	},
	RoleDPO: {
		PermPoliciesRead,
		PermPoliciesWrite,
		PermRecordsRead,
		PermRecordsReview,
		PermRecordsHold,
		PermEventsTrigger,
		PermSweepRun,
		PermCertificatesRead,
		PermComplianceRead,
		PermComplianceRun,
		PermAuditRead,
	},
	RoleSystemAdmin: {
		PermSystemAdmin,
	},
}
