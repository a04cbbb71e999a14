package retention

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ResourceTable describes one governed, collaborator-owned table: where its
// rows live, which column links them to a user and which payload columns get
// overwritten before deletion.
type ResourceTable struct {
	Name         string
	UserColumn   string
	ScrubColumns []string
}

// DefaultResourceTables maps the engine's data types onto the LMS schema.
// Table and column names only ever come from this static map, never from
// callers.
var DefaultResourceTables = map[string]ResourceTable{
	DataTypeProfile:        {Name: "learner_profiles", UserColumn: "user_id", ScrubColumns: []string{"full_name", "email", "phone", "address"}},
	DataTypeAuthentication: {Name: "login_events", UserColumn: "user_id", ScrubColumns: []string{"ip_address", "user_agent"}},
	DataTypeProgress:       {Name: "progress_records", UserColumn: "user_id", ScrubColumns: []string{"notes"}},
	DataTypeCommunications: {Name: "messages", UserColumn: "sender_id", ScrubColumns: []string{"subject", "body"}},
	DataTypeBilling:        {Name: "billing_records", UserColumn: "user_id", ScrubColumns: []string{"card_last4", "invoice_ref"}},
	DataTypeSupportTickets: {Name: "support_tickets", UserColumn: "user_id", ScrubColumns: []string{"subject", "body"}},
	DataTypeAuditLogs:      {Name: "audit_events", UserColumn: "actor_user_id"},
}

// PgResourceStore mutates governed rows through the table allowlist above.
type PgResourceStore struct {
	DB     *pgxpool.Pool
	tables map[string]ResourceTable
}

func NewPgResourceStore(db *pgxpool.Pool) *PgResourceStore {
	return &PgResourceStore{DB: db, tables: DefaultResourceTables}
}

func (p *PgResourceStore) TableFor(dataType string) (string, bool) {
	table, ok := p.tables[dataType]
	return table.Name, ok
}

func (p *PgResourceStore) table(dataType string) (ResourceTable, error) {
	table, ok := p.tables[dataType]
	if !ok {
		return ResourceTable{}, fmt.Errorf("no governed table for data type %q", dataType)
	}
	return table, nil
}

func (p *PgResourceStore) ListUngoverned(ctx context.Context, orgID, dataType string, limit int) ([]ResourceRef, error) {
	table, err := p.table(dataType)
	if err != nil {
		return nil, err
	}
	userCol := "NULL"
	if table.UserColumn != "" {
		userCol = "t." + table.UserColumn + "::text"
	}
	query := fmt.Sprintf(`
    SELECT t.id::text, %s, t.created_at
    FROM %s t
    WHERE t.org_id = $1
      AND NOT EXISTS (
        SELECT 1 FROM lifecycle_records r
        WHERE r.org_id = $1 AND r.resource_table = $2 AND r.resource_id = t.id::text
      )
    ORDER BY t.created_at
    LIMIT $3
  `, userCol, table.Name)

	rows, err := p.DB.Query(ctx, query, orgID, table.Name, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ResourceRef
	for rows.Next() {
		var ref ResourceRef
		var userID *string
		if err := rows.Scan(&ref.ID, &userID, &ref.CreatedAt); err != nil {
			return nil, err
		}
		if userID != nil {
			ref.UserID = *userID
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

// Tombstone reversibly hides a row. Already-tombstoned rows are untouched.
func (p *PgResourceStore) Tombstone(ctx context.Context, orgID, dataType, resourceID string, at time.Time) error {
	table, err := p.table(dataType)
	if err != nil {
		return err
	}
	_, err = p.DB.Exec(ctx, fmt.Sprintf(`
    UPDATE %s SET deleted_at = $1
    WHERE org_id = $2 AND id::text = $3 AND deleted_at IS NULL
  `, table.Name), at, orgID, resourceID)
	return err
}

// Delete removes a row for good. Deleting an already-gone row is a no-op so
// erase retries stay safe.
func (p *PgResourceStore) Delete(ctx context.Context, orgID, dataType, resourceID string) error {
	table, err := p.table(dataType)
	if err != nil {
		return err
	}
	_, err = p.DB.Exec(ctx, fmt.Sprintf(`
    DELETE FROM %s WHERE org_id = $1 AND id::text = $2
  `, table.Name), orgID, resourceID)
	return err
}

// Scrub overwrites the row's payload columns with random data, passes times,
// before the row is deleted.
func (p *PgResourceStore) Scrub(ctx context.Context, orgID, dataType, resourceID string, passes int) error {
	table, err := p.table(dataType)
	if err != nil {
		return err
	}
	if len(table.ScrubColumns) == 0 {
		return nil
	}
	sets := make([]string, 0, len(table.ScrubColumns))
	for _, col := range table.ScrubColumns {
		sets = append(sets, col+" = md5(random()::text)")
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE org_id = $1 AND id::text = $2",
		table.Name, strings.Join(sets, ", "))
	for i := 0; i < passes; i++ {
		if _, err := p.DB.Exec(ctx, query, orgID, resourceID); err != nil {
			return err
		}
	}
	return nil
}

// DestroyKey deletes the wrapped per-record data key; any remaining
// ciphertext is unrecoverable afterwards.
func (p *PgResourceStore) DestroyKey(ctx context.Context, orgID, resourceTable, resourceID string) error {
	_, err := p.DB.Exec(ctx, `
    DELETE FROM record_keys
    WHERE org_id = $1 AND resource_table = $2 AND resource_id = $3
  `, orgID, resourceTable, resourceID)
	return err
}

// MarkForPhysicalDestruction tombstones the row and queues it for the
// operator-run destruction process.
func (p *PgResourceStore) MarkForPhysicalDestruction(ctx context.Context, orgID, dataType, resourceID string, at time.Time) error {
	table, err := p.table(dataType)
	if err != nil {
		return err
	}
	_, err = p.DB.Exec(ctx, fmt.Sprintf(`
    UPDATE %s
    SET deleted_at = COALESCE(deleted_at, $1), destruction_requested_at = $1
    WHERE org_id = $2 AND id::text = $3
  `, table.Name), at, orgID, resourceID)
	return err
}
