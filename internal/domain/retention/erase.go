package retention

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Executor performs the destructive half of the lifecycle. Strategy selection
// comes from the resolved policy, never from caller input.
type Executor struct {
	resources ResourceStore
}

func NewExecutor(resources ResourceStore) *Executor {
	return &Executor{resources: resources}
}

// Erase destroys the underlying resource of every record in the batch using
// method and returns the manifest-backed result. On failure no record state
// has been touched; the caller leaves the batch in deletion_pending with the
// error appended and the retry count incremented. Re-running a partially
// destroyed batch is safe: every strategy tolerates an already-gone resource.
func (e *Executor) Erase(ctx context.Context, batch []*LifecycleRecord, method string, now time.Time) (*ErasureResult, error) {
	if len(batch) == 0 {
		return nil, &EraseError{Method: method, Err: errors.New("empty batch")}
	}

	started := now
	entries := make([]ManifestEntry, 0, len(batch))
	for _, rec := range batch {
		if err := e.eraseOne(ctx, rec, method, now); err != nil {
			return nil, &EraseError{Method: method, Err: err}
		}
		entries = append(entries, ManifestEntry{
			ResourceTable: rec.ResourceTable,
			ResourceID:    rec.ResourceID,
			DataType:      rec.DataType,
			ErasedAt:      now,
		})
	}

	manifest := Manifest{Method: method, StartedAt: started, EndedAt: now, Entries: entries}
	hash, err := HashManifest(manifest)
	if err != nil {
		return nil, &EraseError{Method: method, Err: err}
	}
	return &ErasureResult{
		RecordCount:  len(batch),
		Method:       method,
		StartedAt:    started,
		EndedAt:      now,
		ManifestHash: hash,
		Manifest:     manifest,
	}, nil
}

func (e *Executor) eraseOne(ctx context.Context, rec *LifecycleRecord, method string, now time.Time) error {
	switch method {
	case EraseSimpleDelete:
		return e.resources.Delete(ctx, rec.OrgID, rec.DataType, rec.ResourceID)
	case EraseOverwriteSingle:
		if err := e.resources.Scrub(ctx, rec.OrgID, rec.DataType, rec.ResourceID, 1); err != nil {
			return err
		}
		return e.resources.Delete(ctx, rec.OrgID, rec.DataType, rec.ResourceID)
	case EraseOverwriteMultiple:
		if err := e.resources.Scrub(ctx, rec.OrgID, rec.DataType, rec.ResourceID, OverwritePasses); err != nil {
			return err
		}
		return e.resources.Delete(ctx, rec.OrgID, rec.DataType, rec.ResourceID)
	case EraseCryptoErase:
		// Destroying the wrapped data key renders the ciphertext
		// unrecoverable; the tombstoned row is then deleted as well.
		if err := e.resources.DestroyKey(ctx, rec.OrgID, rec.ResourceTable, rec.ResourceID); err != nil {
			return err
		}
		return e.resources.Delete(ctx, rec.OrgID, rec.DataType, rec.ResourceID)
	case ErasePhysicalDestruction:
		// Software cannot shred the platter. The row is handed to the
		// operator-run destruction process; the manifest still covers it so
		// the certificate chain stays intact.
		return e.resources.MarkForPhysicalDestruction(ctx, rec.OrgID, rec.DataType, rec.ResourceID, now)
	default:
		return fmt.Errorf("unsupported secure-erase method %q", method)
	}
}

// HashManifest returns the hex SHA-256 of the manifest's canonical JSON
// encoding. The hash is what certificates carry and what verification
// recomputes.
func HashManifest(m Manifest) (string, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
