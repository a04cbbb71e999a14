package retention

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const recordColumns = `
  id, org_id, data_type, resource_table, resource_id, user_id, state,
  policy_id, data_created_at, retention_eligible_at, soft_delete_scheduled_at,
  soft_deleted_at, secure_erase_scheduled_at, secure_erased_at, archived_at,
  frozen_at, deletion_reason, deletion_method, erase_method, retry_count,
  processing_errors, state_history, last_processed_at, created_at, updated_at`

func (s *Store) GetRecord(ctx context.Context, orgID, recordID string) (*LifecycleRecord, error) {
	row := s.DB.QueryRow(ctx, `
    SELECT `+recordColumns+`
    FROM lifecycle_records
    WHERE org_id = $1 AND id = $2
  `, orgID, recordID)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	return rec, err
}

func (s *Store) FindRecord(ctx context.Context, orgID, dataType, resourceTable, resourceID string) (*LifecycleRecord, error) {
	row := s.DB.QueryRow(ctx, `
    SELECT `+recordColumns+`
    FROM lifecycle_records
    WHERE org_id = $1 AND data_type = $2 AND resource_table = $3 AND resource_id = $4
  `, orgID, dataType, resourceTable, resourceID)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	return rec, err
}

func (s *Store) CreateRecord(ctx context.Context, rec *LifecycleRecord) error {
	errorsJSON, historyJSON, err := recordJSON(rec)
	if err != nil {
		return err
	}
	return s.DB.QueryRow(ctx, `
    INSERT INTO lifecycle_records (
      org_id, data_type, resource_table, resource_id, user_id, state,
      policy_id, data_created_at, retention_eligible_at,
      soft_delete_scheduled_at, soft_deleted_at, secure_erase_scheduled_at,
      secure_erased_at, archived_at, frozen_at, deletion_reason,
      deletion_method, erase_method, retry_count, processing_errors,
      state_history, last_processed_at
    ) VALUES ($1,$2,$3,$4,NULLIF($5,''),$6,NULLIF($7,'')::uuid,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
    ON CONFLICT (org_id, data_type, resource_table, resource_id) DO UPDATE
      SET updated_at = now()
    RETURNING id
  `, rec.OrgID, rec.DataType, rec.ResourceTable, rec.ResourceID, rec.UserID,
		rec.State, rec.PolicyID, rec.DataCreatedAt, rec.RetentionEligibleAt,
		rec.SoftDeleteScheduledAt, rec.SoftDeletedAt, rec.SecureEraseScheduledAt,
		rec.SecureErasedAt, rec.ArchivedAt, rec.FrozenAt, rec.DeletionReason,
		rec.DeletionMethod, rec.EraseMethod, rec.RetryCount, errorsJSON,
		historyJSON, rec.LastProcessedAt).Scan(&rec.ID)
}

func (s *Store) SaveRecord(ctx context.Context, rec *LifecycleRecord) error {
	errorsJSON, historyJSON, err := recordJSON(rec)
	if err != nil {
		return err
	}
	tag, err := s.DB.Exec(ctx, `
    UPDATE lifecycle_records
    SET state = $1, policy_id = NULLIF($2,'')::uuid, retention_eligible_at = $3,
        soft_delete_scheduled_at = $4, soft_deleted_at = $5,
        secure_erase_scheduled_at = $6, secure_erased_at = $7,
        archived_at = $8, frozen_at = $9, deletion_reason = $10,
        deletion_method = $11, erase_method = $12, retry_count = $13,
        processing_errors = $14, state_history = $15, last_processed_at = $16,
        updated_at = now()
    WHERE org_id = $17 AND id = $18
  `, rec.State, rec.PolicyID, rec.RetentionEligibleAt,
		rec.SoftDeleteScheduledAt, rec.SoftDeletedAt,
		rec.SecureEraseScheduledAt, rec.SecureErasedAt,
		rec.ArchivedAt, rec.FrozenAt, rec.DeletionReason,
		rec.DeletionMethod, rec.EraseMethod, rec.RetryCount,
		errorsJSON, historyJSON, rec.LastProcessedAt, rec.OrgID, rec.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (s *Store) ListRecords(ctx context.Context, orgID string, filter RecordFilter, limit, offset int) ([]LifecycleRecord, int, error) {
	where := "WHERE org_id = $1"
	args := []any{orgID}
	if filter.State != "" {
		args = append(args, filter.State)
		where += fmt.Sprintf(" AND state = $%d", len(args))
	}
	if filter.DataType != "" {
		args = append(args, filter.DataType)
		where += fmt.Sprintf(" AND data_type = $%d", len(args))
	}

	var total int
	if err := s.DB.QueryRow(ctx, "SELECT COUNT(1) FROM lifecycle_records "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := "SELECT " + recordColumns + " FROM lifecycle_records " + where +
		fmt.Sprintf(" ORDER BY data_created_at LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)
	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []LifecycleRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *rec)
	}
	return out, total, rows.Err()
}

func (s *Store) DueRecords(ctx context.Context, orgID, dataType string, limit int) ([]*LifecycleRecord, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT `+recordColumns+`
    FROM lifecycle_records
    WHERE org_id = $1 AND data_type = $2
      AND state NOT IN ($3, $4, $5)
    ORDER BY data_created_at
    LIMIT $6
  `, orgID, dataType, StateSecurelyErased, StateArchived, StateFrozen, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *Store) RecordsForEvent(ctx context.Context, orgID, dataType, userID string) ([]*LifecycleRecord, error) {
	query := `
    SELECT ` + recordColumns + `
    FROM lifecycle_records
    WHERE org_id = $1 AND data_type = $2
      AND state IN ($3, $4, $5, $6)`
	args := []any{orgID, dataType, StateActive, StateRetentionPending, StateDeletionScheduled, StateSoftDeleted}
	if userID != "" {
		args = append(args, userID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	query += " ORDER BY data_created_at"

	rows, err := s.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (s *Store) RecordsForType(ctx context.Context, orgID, dataType string) ([]LifecycleRecord, error) {
	rows, err := s.DB.Query(ctx, `
    SELECT `+recordColumns+`
    FROM lifecycle_records
    WHERE org_id = $1 AND data_type = $2
    ORDER BY data_created_at
  `, orgID, dataType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	recs, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	out := make([]LifecycleRecord, 0, len(recs))
	for _, rec := range recs {
		out = append(out, *rec)
	}
	return out, nil
}

// FinalizeErasure writes the terminal transition of every record and the
// covering certificate in one transaction. Either all of it is visible or
// none of it is.
func (s *Store) FinalizeErasure(ctx context.Context, records []*LifecycleRecord, cert *DeletionCertificate) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := insertCertificateTx(ctx, tx, cert); err != nil {
		return err
	}

	for _, rec := range records {
		errorsJSON, historyJSON, err := recordJSON(rec)
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
      UPDATE lifecycle_records
      SET state = $1, secure_erased_at = $2, retry_count = $3,
          processing_errors = $4, state_history = $5, last_processed_at = $6,
          updated_at = now()
      WHERE org_id = $7 AND id = $8
    `, rec.State, rec.SecureErasedAt, rec.RetryCount, errorsJSON, historyJSON,
			rec.LastProcessedAt, rec.OrgID, rec.ID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", ErrRecordNotFound, rec.ID)
		}
	}

	return tx.Commit(ctx)
}

func recordJSON(rec *LifecycleRecord) ([]byte, []byte, error) {
	errorsJSON, err := json.Marshal(rec.Errors)
	if err != nil {
		return nil, nil, err
	}
	historyJSON, err := json.Marshal(rec.History)
	if err != nil {
		return nil, nil, err
	}
	return errorsJSON, historyJSON, nil
}

func scanRecord(row pgx.Row) (*LifecycleRecord, error) {
	var rec LifecycleRecord
	var userID, policyID *string
	var errorsJSON, historyJSON []byte
	err := row.Scan(&rec.ID, &rec.OrgID, &rec.DataType, &rec.ResourceTable,
		&rec.ResourceID, &userID, &rec.State, &policyID, &rec.DataCreatedAt,
		&rec.RetentionEligibleAt, &rec.SoftDeleteScheduledAt, &rec.SoftDeletedAt,
		&rec.SecureEraseScheduledAt, &rec.SecureErasedAt, &rec.ArchivedAt,
		&rec.FrozenAt, &rec.DeletionReason, &rec.DeletionMethod, &rec.EraseMethod,
		&rec.RetryCount, &errorsJSON, &historyJSON, &rec.LastProcessedAt,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if userID != nil {
		rec.UserID = *userID
	}
	if policyID != nil {
		rec.PolicyID = *policyID
	}
	if len(errorsJSON) > 0 {
		if err := json.Unmarshal(errorsJSON, &rec.Errors); err != nil {
			return nil, err
		}
	}
	if len(historyJSON) > 0 {
		if err := json.Unmarshal(historyJSON, &rec.History); err != nil {
			return nil, err
		}
	}
	return &rec, nil
}

func scanRecords(rows pgx.Rows) ([]*LifecycleRecord, error) {
	var out []*LifecycleRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
