package retention

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

const policyColumns = `
  id, org_id, data_type, retention_days, grace_days, deletion_method,
  erase_method, trigger_type, legal_basis, priority, enabled,
  automatic_deletion, requires_manual_review, created_at, updated_at`

func (s *Store) ListPolicies(ctx context.Context, orgID string) ([]RetentionPolicy, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT `+policyColumns+`
    FROM retention_policies
    WHERE org_id = $1
    ORDER BY data_type, priority DESC, created_at DESC
  `, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPolicies(rows)
}

func (s *Store) PoliciesForType(ctx context.Context, orgID, dataType string) ([]RetentionPolicy, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT `+policyColumns+`
    FROM retention_policies
    WHERE org_id = $1 AND data_type = $2
    ORDER BY priority DESC, created_at DESC
  `, orgID, dataType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPolicies(rows)
}

func (s *Store) GetPolicy(ctx context.Context, orgID, policyID string) (RetentionPolicy, error) {
	row := s.DB.QueryRow(ctx, `
    SELECT `+policyColumns+`
    FROM retention_policies
    WHERE org_id = $1 AND id = $2
  `, orgID, policyID)
	policy, err := scanPolicy(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return RetentionPolicy{}, ErrPolicyNotFound
	}
	return policy, err
}

func (s *Store) CreatePolicy(ctx context.Context, policy RetentionPolicy) (string, error) {
	var id string
	err := s.DB.QueryRow(ctx, `
    INSERT INTO retention_policies (
      org_id, data_type, retention_days, grace_days, deletion_method,
      erase_method, trigger_type, legal_basis, priority, enabled,
      automatic_deletion, requires_manual_review
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
    RETURNING id
  `, policy.OrgID, policy.DataType, policy.RetentionDays, policy.GraceDays,
		policy.DeletionMethod, policy.EraseMethod, policy.TriggerType,
		policy.LegalBasis, policy.Priority, policy.Enabled,
		policy.AutomaticDeletion, policy.RequiresManualReview).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) UpdatePolicy(ctx context.Context, policy RetentionPolicy) error {
	tag, err := s.DB.Exec(ctx, `
    UPDATE retention_policies
    SET retention_days = $1, grace_days = $2, deletion_method = $3,
        erase_method = $4, trigger_type = $5, legal_basis = $6,
        priority = $7, enabled = $8, automatic_deletion = $9,
        requires_manual_review = $10, updated_at = now()
    WHERE org_id = $11 AND id = $12
  `, policy.RetentionDays, policy.GraceDays, policy.DeletionMethod,
		policy.EraseMethod, policy.TriggerType, policy.LegalBasis,
		policy.Priority, policy.Enabled, policy.AutomaticDeletion,
		policy.RequiresManualReview, policy.OrgID, policy.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPolicyNotFound
	}
	return nil
}

func (s *Store) DeletePolicy(ctx context.Context, orgID, policyID string) error {
	tag, err := s.DB.Exec(ctx, `
    DELETE FROM retention_policies
    WHERE org_id = $1 AND id = $2
  `, orgID, policyID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPolicyNotFound
	}
	return nil
}

func scanPolicy(row pgx.Row) (RetentionPolicy, error) {
	var p RetentionPolicy
	err := row.Scan(&p.ID, &p.OrgID, &p.DataType, &p.RetentionDays, &p.GraceDays,
		&p.DeletionMethod, &p.EraseMethod, &p.TriggerType, &p.LegalBasis,
		&p.Priority, &p.Enabled, &p.AutomaticDeletion, &p.RequiresManualReview,
		&p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func scanPolicies(rows pgx.Rows) ([]RetentionPolicy, error) {
	var out []RetentionPolicy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
