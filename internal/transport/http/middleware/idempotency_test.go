package middleware

import (
	"context"
	"testing"
)

func TestRequestHashDeterministic(t *testing.T) {
	hash1 := RequestHash([]byte("payload"))
	hash2 := RequestHash([]byte("payload"))
	hash3 := RequestHash([]byte("other"))

	if hash1 != hash2 {
		t.Fatal("expected deterministic hash")
	}
	if hash1 == hash3 {
		t.Fatal("expected different hash for different payload")
	}
}

func TestIdempotencyStoreNilSafe(t *testing.T) {
	var store *IdempotencyStore

	if _, found, err := store.Check(context.Background(), "org", "user", "ep", "key", "hash"); err != nil || found {
		t.Fatalf("nil store Check: found=%v err=%v", found, err)
	}
	if err := store.Save(context.Background(), "org", "user", "ep", "key", "hash", nil); err != nil {
		t.Fatalf("nil store Save: %v", err)
	}
}
