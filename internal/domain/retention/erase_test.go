package retention

import (
	"context"
	"errors"
	"testing"
)

func eraseBatch(n int) []*LifecycleRecord {
	var batch []*LifecycleRecord
	for i := 0; i < n; i++ {
		batch = append(batch, &LifecycleRecord{
			OrgID:         "org-1",
			DataType:      DataTypeProfile,
			ResourceTable: "learner_profiles",
			ResourceID:    string(rune('a' + i)),
		})
	}
	return batch
}

func TestEraseSimpleDelete(t *testing.T) {
	resources := newFakeResources()
	executor := NewExecutor(resources)

	result, err := executor.Erase(context.Background(), eraseBatch(2), EraseSimpleDelete, day(0))
	if err != nil {
		t.Fatalf("erase: %v", err)
	}
	if result.RecordCount != 2 || len(resources.deleted) != 2 {
		t.Fatalf("result = %+v deleted = %v", result, resources.deleted)
	}
	if len(result.Manifest.Entries) != 2 {
		t.Fatalf("manifest entries = %d, want 2", len(result.Manifest.Entries))
	}
	if result.ManifestHash == "" {
		t.Fatal("manifest hash missing")
	}
}

func TestEraseOverwriteScrubsBeforeDelete(t *testing.T) {
	resources := newFakeResources()
	executor := NewExecutor(resources)

	if _, err := executor.Erase(context.Background(), eraseBatch(1), EraseOverwriteSingle, day(0)); err != nil {
		t.Fatalf("erase: %v", err)
	}
	if resources.scrubPasses["a"] != 1 {
		t.Fatalf("scrub passes = %d, want 1", resources.scrubPasses["a"])
	}

	resources = newFakeResources()
	executor = NewExecutor(resources)
	if _, err := executor.Erase(context.Background(), eraseBatch(1), EraseOverwriteMultiple, day(0)); err != nil {
		t.Fatalf("erase: %v", err)
	}
	if resources.scrubPasses["a"] != OverwritePasses {
		t.Fatalf("scrub passes = %d, want %d", resources.scrubPasses["a"], OverwritePasses)
	}
	if len(resources.deleted) != 1 {
		t.Fatal("overwrite must still delete the row")
	}
}

func TestEraseCryptoDestroysKey(t *testing.T) {
	resources := newFakeResources()
	executor := NewExecutor(resources)

	if _, err := executor.Erase(context.Background(), eraseBatch(1), EraseCryptoErase, day(0)); err != nil {
		t.Fatalf("erase: %v", err)
	}
	if len(resources.destroyed) != 1 {
		t.Fatalf("keys destroyed = %v, want one", resources.destroyed)
	}
	if len(resources.deleted) != 1 {
		t.Fatal("crypto erase must also drop the ciphertext row")
	}
}

func TestErasePhysicalDestructionOnlyMarks(t *testing.T) {
	resources := newFakeResources()
	executor := NewExecutor(resources)

	result, err := executor.Erase(context.Background(), eraseBatch(1), ErasePhysicalDestruction, day(0))
	if err != nil {
		t.Fatalf("erase: %v", err)
	}
	if len(resources.marked) != 1 {
		t.Fatalf("marked = %v, want one", resources.marked)
	}
	if len(resources.deleted) != 0 {
		t.Fatal("physical destruction is an operator process, not a row delete")
	}
	if result.ManifestHash == "" {
		t.Fatal("marked rows still enter the manifest")
	}
}

func TestEraseRejectsEmptyBatchAndUnknownMethod(t *testing.T) {
	executor := NewExecutor(newFakeResources())

	if _, err := executor.Erase(context.Background(), nil, EraseSimpleDelete, day(0)); err == nil {
		t.Fatal("empty batch must error")
	}

	_, err := executor.Erase(context.Background(), eraseBatch(1), "degauss", day(0))
	var eraseErr *EraseError
	if !errors.As(err, &eraseErr) {
		t.Fatalf("err = %v, want *EraseError", err)
	}
	if eraseErr.Method != "degauss" {
		t.Fatalf("method = %q", eraseErr.Method)
	}
}

func TestEraseFailureTouchesNoState(t *testing.T) {
	resources := newFakeResources()
	resources.failDelete = true
	executor := NewExecutor(resources)

	batch := eraseBatch(1)
	if _, err := executor.Erase(context.Background(), batch, EraseSimpleDelete, day(0)); err == nil {
		t.Fatal("expected erase failure")
	}
	if batch[0].State != "" || batch[0].RetryCount != 0 {
		t.Fatalf("executor must not mutate records: %+v", batch[0])
	}
}

func TestHashManifestIsDeterministic(t *testing.T) {
	manifest := Manifest{
		Method:    EraseSimpleDelete,
		StartedAt: day(0),
		EndedAt:   day(0),
		Entries: []ManifestEntry{
			{ResourceTable: "learner_profiles", ResourceID: "a", DataType: DataTypeProfile, ErasedAt: day(0)},
		},
	}
	first, err := HashManifest(manifest)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	second, err := HashManifest(manifest)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if first != second {
		t.Fatalf("hash not deterministic: %s vs %s", first, second)
	}

	manifest.Entries[0].ResourceID = "b"
	changed, err := HashManifest(manifest)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if changed == first {
		t.Fatal("different manifests must hash differently")
	}
}
