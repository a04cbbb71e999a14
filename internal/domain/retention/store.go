package retention

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the pgx-backed StoreAPI implementation.
type Store struct {
	DB *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{DB: db}
}

func (s *Store) ListOrganisations(ctx context.Context) ([]Organisation, error) {
	rows, err := s.DB.Query(ctx, `SELECT id, name FROM organisations ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Organisation
	for rows.Next() {
		var org Organisation
		if err := rows.Scan(&org.ID, &org.Name); err != nil {
			return nil, err
		}
		out = append(out, org)
	}
	return out, nil
}
