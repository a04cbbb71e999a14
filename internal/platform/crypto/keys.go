package crypto

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"io"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/hkdf"
)

var ErrKeyDestroyed = errors.New("record key has been destroyed")

// KeyStore holds one wrapped data key per governed resource. Field-level
// ciphertext is encrypted under the record key, so deleting the key row is a
// complete crypto-erase of that resource.
type KeyStore struct {
	db  *pgxpool.Pool
	svc *Service
}

func NewKeyStore(db *pgxpool.Pool, svc *Service) *KeyStore {
	return &KeyStore{db: db, svc: svc}
}

// EnsureKey returns the record's data key, minting and storing a wrapped
// copy on first use.
func (k *KeyStore) EnsureKey(ctx context.Context, orgID, resourceTable, resourceID string) ([]byte, error) {
	key, err := k.KeyFor(ctx, orgID, resourceTable, resourceID)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, ErrKeyDestroyed) {
		return nil, err
	}

	key = make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	wrapped, err := k.svc.Encrypt(key)
	if err != nil {
		return nil, err
	}
	_, err = k.db.Exec(ctx, `
    INSERT INTO record_keys (org_id, resource_table, resource_id, key_enc)
    VALUES ($1,$2,$3,$4)
    ON CONFLICT (org_id, resource_table, resource_id) DO NOTHING
  `, orgID, resourceTable, resourceID, wrapped)
	if err != nil {
		return nil, err
	}
	// Lost races hand back the stored key so every caller sees one key.
	return k.KeyFor(ctx, orgID, resourceTable, resourceID)
}

func (k *KeyStore) KeyFor(ctx context.Context, orgID, resourceTable, resourceID string) ([]byte, error) {
	var wrapped []byte
	err := k.db.QueryRow(ctx, `
    SELECT key_enc
    FROM record_keys
    WHERE org_id = $1 AND resource_table = $2 AND resource_id = $3
  `, orgID, resourceTable, resourceID).Scan(&wrapped)
	if err != nil {
		return nil, ErrKeyDestroyed
	}
	return k.svc.Decrypt(wrapped)
}

// DeriveSubkey expands a record key into a purpose-bound subkey so the same
// stored key can cover independent field groups.
func DeriveSubkey(key []byte, purpose string) ([]byte, error) {
	reader := hkdf.New(sha256.New, key, nil, []byte(purpose))
	out := make([]byte, 32)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, err
	}
	return out, nil
}
