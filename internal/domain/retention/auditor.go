package retention

import (
	"context"
	"fmt"
	"time"
)

// Risk escalates as the compliance rate drops below these thresholds.
const (
	riskLowThreshold    = 95.0
	riskMediumThreshold = 85.0
	riskHighThreshold   = 70.0
)

// Auditor produces append-only compliance snapshots per policy. Read-only
// with respect to lifecycle records; its only write is the new audit row.
type Auditor struct {
	store      StoreAPI
	maxRetries int
	cadence    time.Duration
	now        func() time.Time
}

func NewAuditor(store StoreAPI, maxRetries int, cadence time.Duration) *Auditor {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	if cadence <= 0 {
		cadence = 7 * 24 * time.Hour
	}
	return &Auditor{store: store, maxRetries: maxRetries, cadence: cadence, now: func() time.Time { return time.Now().UTC() }}
}

// Audit scores how well one policy is being honoured. Records past their
// retry budget count as errors, never as overdue; policy misconfiguration is
// reported through the issues field rather than raised.
func (a *Auditor) Audit(ctx context.Context, orgID, policyID string) (*ComplianceAudit, error) {
	policy, err := a.store.GetPolicy(ctx, orgID, policyID)
	if err != nil {
		return nil, err
	}
	now := a.now()

	records, err := a.store.RecordsForType(ctx, orgID, policy.DataType)
	if err != nil {
		return nil, fmt.Errorf("scan lifecycle records: %w", err)
	}

	audit := &ComplianceAudit{
		OrgID:        orgID,
		PolicyID:     policy.ID,
		DataType:     policy.DataType,
		NextAuditDue: now.Add(a.cadence),
	}

	held := 0
	for i := range records {
		rec := &records[i]
		audit.TotalRecords++
		switch {
		case rec.RetryCount > a.maxRetries:
			audit.ErrorRecords++
		case rec.State == StateSecurelyErased:
			audit.CompliantRecords++
		case rec.State == StateActive || rec.State == StateRetentionPending:
			if rec.RetentionEligibleAt != nil && now.After(*rec.RetentionEligibleAt) {
				audit.OverdueRecords++
			} else {
				audit.CompliantRecords++
			}
		default:
			// Mid-pipeline or deliberately held; the policy is being acted
			// on.
			audit.CompliantRecords++
			if rec.Held() {
				held++
			}
		}
	}

	if audit.TotalRecords == 0 {
		audit.ComplianceRate = 100
	} else {
		audit.ComplianceRate = float64(audit.CompliantRecords) / float64(audit.TotalRecords) * 100
	}
	audit.RiskLevel = riskLevel(audit.ComplianceRate)

	policies, err := a.store.PoliciesForType(ctx, orgID, policy.DataType)
	if err != nil {
		return nil, err
	}
	if ConflictingPriorities(policies, orgID, policy.DataType) {
		audit.Issues = append(audit.Issues,
			fmt.Sprintf("multiple enabled policies for %s share the top priority; effective retention is ambiguous", policy.DataType))
		audit.Recommendations = append(audit.Recommendations, "assign a distinct priority to each enabled policy")
	}
	if audit.ErrorRecords > 0 {
		audit.Issues = append(audit.Issues,
			fmt.Sprintf("%d records exceeded the erase retry budget and need manual attention", audit.ErrorRecords))
	}
	if audit.OverdueRecords > 0 {
		audit.Recommendations = append(audit.Recommendations,
			fmt.Sprintf("%d records are past retention eligibility; check sweep scheduling for %s", audit.OverdueRecords, policy.DataType))
	}
	if held > 0 {
		audit.Recommendations = append(audit.Recommendations,
			fmt.Sprintf("%d records are archived or frozen; review whether the holds still apply", held))
	}

	if err := a.store.InsertAudit(ctx, audit); err != nil {
		return nil, fmt.Errorf("persist audit: %w", err)
	}
	return audit, nil
}

// AuditOrganisation snapshots every enabled policy of one tenant.
func (a *Auditor) AuditOrganisation(ctx context.Context, orgID string) ([]ComplianceAudit, error) {
	policies, err := a.store.ListPolicies(ctx, orgID)
	if err != nil {
		return nil, err
	}
	var out []ComplianceAudit
	for _, policy := range policies {
		if !policy.Enabled {
			continue
		}
		audit, err := a.Audit(ctx, orgID, policy.ID)
		if err != nil {
			return out, fmt.Errorf("audit policy %s: %w", policy.ID, err)
		}
		out = append(out, *audit)
	}
	return out, nil
}

func riskLevel(rate float64) string {
	switch {
	case rate >= riskLowThreshold:
		return RiskLow
	case rate >= riskMediumThreshold:
		return RiskMedium
	case rate >= riskHighThreshold:
		return RiskHigh
	default:
		return RiskCritical
	}
}
