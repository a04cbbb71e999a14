package retention

import (
	"errors"
	"testing"
	"time"
)

func TestResolvePicksHighestPriority(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	policies := []RetentionPolicy{
		{ID: "low", OrgID: "org-1", DataType: DataTypeProfile, Priority: 1, Enabled: true, CreatedAt: base},
		{ID: "high", OrgID: "org-1", DataType: DataTypeProfile, Priority: 10, Enabled: true, CreatedAt: base},
		{ID: "mid", OrgID: "org-1", DataType: DataTypeProfile, Priority: 5, Enabled: true, CreatedAt: base},
	}

	got, err := Resolve(policies, "org-1", DataTypeProfile, base.AddDate(0, 1, 0))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.ID != "high" {
		t.Fatalf("resolved %s, want high", got.ID)
	}
}

func TestResolveTieBreaksOnMostRecent(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	policies := []RetentionPolicy{
		{ID: "older", OrgID: "org-1", DataType: DataTypeProfile, Priority: 5, Enabled: true, CreatedAt: base},
		{ID: "newer", OrgID: "org-1", DataType: DataTypeProfile, Priority: 5, Enabled: true, CreatedAt: base.AddDate(0, 0, 10)},
	}

	got, err := Resolve(policies, "org-1", DataTypeProfile, base.AddDate(0, 1, 0))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.ID != "newer" {
		t.Fatalf("resolved %s, want newer", got.ID)
	}
}

func TestResolveSkipsDisabledAndForeign(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	policies := []RetentionPolicy{
		{ID: "disabled", OrgID: "org-1", DataType: DataTypeProfile, Priority: 100, Enabled: false, CreatedAt: base},
		{ID: "other-org", OrgID: "org-2", DataType: DataTypeProfile, Priority: 100, Enabled: true, CreatedAt: base},
		{ID: "other-type", OrgID: "org-1", DataType: DataTypeBilling, Priority: 100, Enabled: true, CreatedAt: base},
		{ID: "match", OrgID: "org-1", DataType: DataTypeProfile, Priority: 1, Enabled: true, CreatedAt: base},
	}

	got, err := Resolve(policies, "org-1", DataTypeProfile, base.AddDate(0, 1, 0))
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.ID != "match" {
		t.Fatalf("resolved %s, want match", got.ID)
	}
}

func TestResolveIgnoresFuturePolicies(t *testing.T) {
	asOf := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	policies := []RetentionPolicy{
		{ID: "future", OrgID: "org-1", DataType: DataTypeProfile, Priority: 10, Enabled: true, CreatedAt: asOf.AddDate(0, 0, 1)},
	}

	if _, err := Resolve(policies, "org-1", DataTypeProfile, asOf); !errors.Is(err, ErrPolicyNotFound) {
		t.Fatalf("err = %v, want ErrPolicyNotFound", err)
	}
}

func TestResolveNoMatch(t *testing.T) {
	_, err := Resolve(nil, "org-1", DataTypeProfile, time.Now())
	if !errors.Is(err, ErrPolicyNotFound) {
		t.Fatalf("err = %v, want ErrPolicyNotFound", err)
	}
}

func TestConflictingPriorities(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	policies := []RetentionPolicy{
		{ID: "a", OrgID: "org-1", DataType: DataTypeProfile, Priority: 5, Enabled: true, CreatedAt: base},
		{ID: "b", OrgID: "org-1", DataType: DataTypeProfile, Priority: 5, Enabled: true, CreatedAt: base},
		{ID: "c", OrgID: "org-1", DataType: DataTypeProfile, Priority: 1, Enabled: true, CreatedAt: base},
	}
	if !ConflictingPriorities(policies, "org-1", DataTypeProfile) {
		t.Fatal("expected conflicting priorities")
	}

	policies[1].Enabled = false
	if ConflictingPriorities(policies, "org-1", DataTypeProfile) {
		t.Fatal("disabled policy must not conflict")
	}
}
