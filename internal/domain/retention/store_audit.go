package retention

import "context"

func (s *Store) InsertAudit(ctx context.Context, audit *ComplianceAudit) error {
	return s.DB.QueryRow(ctx, `
    INSERT INTO compliance_audits (
      org_id, policy_id, data_type, total_records, compliant_records,
      overdue_records, error_records, compliance_rate, risk_level,
      issues, recommendations, next_audit_due
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
    RETURNING id, created_at
  `, audit.OrgID, audit.PolicyID, audit.DataType, audit.TotalRecords,
		audit.CompliantRecords, audit.OverdueRecords, audit.ErrorRecords,
		audit.ComplianceRate, audit.RiskLevel, audit.Issues,
		audit.Recommendations, audit.NextAuditDue).
		Scan(&audit.ID, &audit.CreatedAt)
}

func (s *Store) ListAudits(ctx context.Context, orgID string, limit, offset int) ([]ComplianceAudit, int, error) {
	var total int
	if err := s.DB.QueryRow(ctx,
		"SELECT COUNT(1) FROM compliance_audits WHERE org_id = $1", orgID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.DB.Query(ctx, `
    SELECT id, org_id, policy_id, data_type, total_records, compliant_records,
           overdue_records, error_records, compliance_rate, risk_level,
           issues, recommendations, next_audit_due, created_at
    FROM compliance_audits
    WHERE org_id = $1
    ORDER BY created_at DESC
    LIMIT $2 OFFSET $3
  `, orgID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []ComplianceAudit
	for rows.Next() {
		var a ComplianceAudit
		if err := rows.Scan(&a.ID, &a.OrgID, &a.PolicyID, &a.DataType,
			&a.TotalRecords, &a.CompliantRecords, &a.OverdueRecords,
			&a.ErrorRecords, &a.ComplianceRate, &a.RiskLevel, &a.Issues,
			&a.Recommendations, &a.NextAuditDue, &a.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}
