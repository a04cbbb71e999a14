package retention

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

const certificateColumns = `
  id, certificate_number, org_id, user_id, data_types, record_count,
  erase_method, deletion_started_at, deletion_ended_at, manifest_hash,
  witness, signature, legal_basis, request_origin, valid_from, valid_until,
  created_at`

// insertCertificateTx is the single write path for certificates; it only
// ever runs inside the transaction that applies the terminal transition.
func insertCertificateTx(ctx context.Context, tx pgx.Tx, cert *DeletionCertificate) error {
	return tx.QueryRow(ctx, `
    INSERT INTO deletion_certificates (
      certificate_number, org_id, user_id, data_types, record_count,
      erase_method, deletion_started_at, deletion_ended_at, manifest_hash,
      witness, signature, legal_basis, request_origin, valid_from, valid_until
    ) VALUES ($1,$2,NULLIF($3,''),$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
    RETURNING id, created_at
  `, cert.CertificateNumber, cert.OrgID, cert.UserID, cert.DataTypes,
		cert.RecordCount, cert.EraseMethod, cert.DeletionStartedAt,
		cert.DeletionEndedAt, cert.ManifestHash, cert.Witness, cert.Signature,
		cert.LegalBasis, cert.RequestOrigin, cert.ValidFrom, cert.ValidUntil).
		Scan(&cert.ID, &cert.CreatedAt)
}

func (s *Store) GetCertificate(ctx context.Context, orgID, certID string) (*DeletionCertificate, error) {
	row := s.DB.QueryRow(ctx, `
    SELECT `+certificateColumns+`
    FROM deletion_certificates
    WHERE org_id = $1 AND id = $2
  `, orgID, certID)
	cert, err := scanCertificate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCertificateNotFound
	}
	return cert, err
}

func (s *Store) CertificateByNumber(ctx context.Context, number string) (*DeletionCertificate, error) {
	row := s.DB.QueryRow(ctx, `
    SELECT `+certificateColumns+`
    FROM deletion_certificates
    WHERE certificate_number = $1
  `, number)
	cert, err := scanCertificate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCertificateNotFound
	}
	return cert, err
}

func (s *Store) ListCertificates(ctx context.Context, orgID string, limit, offset int) ([]DeletionCertificate, int, error) {
	var total int
	if err := s.DB.QueryRow(ctx,
		"SELECT COUNT(1) FROM deletion_certificates WHERE org_id = $1", orgID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.DB.Query(ctx, `
    SELECT `+certificateColumns+`
    FROM deletion_certificates
    WHERE org_id = $1
    ORDER BY created_at DESC
    LIMIT $2 OFFSET $3
  `, orgID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []DeletionCertificate
	for rows.Next() {
		cert, err := scanCertificate(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *cert)
	}
	return out, total, rows.Err()
}

func scanCertificate(row pgx.Row) (*DeletionCertificate, error) {
	var cert DeletionCertificate
	var userID *string
	err := row.Scan(&cert.ID, &cert.CertificateNumber, &cert.OrgID, &userID,
		&cert.DataTypes, &cert.RecordCount, &cert.EraseMethod,
		&cert.DeletionStartedAt, &cert.DeletionEndedAt, &cert.ManifestHash,
		&cert.Witness, &cert.Signature, &cert.LegalBasis, &cert.RequestOrigin,
		&cert.ValidFrom, &cert.ValidUntil, &cert.CreatedAt)
	if err != nil {
		return nil, err
	}
	if userID != nil {
		cert.UserID = *userID
	}
	return &cert, nil
}
