package retention

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

// memoryStore is the in-memory StoreAPI the engine tests run against. It
// mirrors the pgx store's observable behaviour, including the atomicity of
// FinalizeErasure.
type memoryStore struct {
	mu       sync.Mutex
	orgs     []Organisation
	policies map[string]RetentionPolicy
	records  map[string]*LifecycleRecord
	certs    map[string]DeletionCertificate
	audits   []ComplianceAudit
	seq      int

	failFinalize bool
	failSave     bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		policies: map[string]RetentionPolicy{},
		records:  map[string]*LifecycleRecord{},
		certs:    map[string]DeletionCertificate{},
	}
}

func (m *memoryStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *memoryStore) ListOrganisations(context.Context) ([]Organisation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Organisation(nil), m.orgs...), nil
}

func (m *memoryStore) ListPolicies(_ context.Context, orgID string) ([]RetentionPolicy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []RetentionPolicy
	for _, p := range m.policies {
		if p.OrgID == orgID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryStore) PoliciesForType(_ context.Context, orgID, dataType string) ([]RetentionPolicy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []RetentionPolicy
	for _, p := range m.policies {
		if p.OrgID == orgID && p.DataType == dataType {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryStore) GetPolicy(_ context.Context, orgID, policyID string) (RetentionPolicy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.policies[policyID]
	if !ok || p.OrgID != orgID {
		return RetentionPolicy{}, ErrPolicyNotFound
	}
	return p, nil
}

func (m *memoryStore) CreatePolicy(_ context.Context, policy RetentionPolicy) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if policy.ID == "" {
		policy.ID = m.nextID("pol")
	}
	m.policies[policy.ID] = policy
	return policy.ID, nil
}

func (m *memoryStore) UpdatePolicy(_ context.Context, policy RetentionPolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.policies[policy.ID]; !ok {
		return ErrPolicyNotFound
	}
	m.policies[policy.ID] = policy
	return nil
}

func (m *memoryStore) DeletePolicy(_ context.Context, orgID, policyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.policies[policyID]
	if !ok || p.OrgID != orgID {
		return ErrPolicyNotFound
	}
	delete(m.policies, policyID)
	return nil
}

func (m *memoryStore) GetRecord(_ context.Context, orgID, recordID string) (*LifecycleRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[recordID]
	if !ok || rec.OrgID != orgID {
		return nil, ErrRecordNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *memoryStore) FindRecord(_ context.Context, orgID, dataType, resourceTable, resourceID string) (*LifecycleRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.OrgID == orgID && rec.DataType == dataType &&
			rec.ResourceTable == resourceTable && rec.ResourceID == resourceID {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, ErrRecordNotFound
}

func (m *memoryStore) CreateRecord(_ context.Context, rec *LifecycleRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.records {
		if existing.OrgID == rec.OrgID && existing.DataType == rec.DataType &&
			existing.ResourceTable == rec.ResourceTable && existing.ResourceID == rec.ResourceID {
			rec.ID = existing.ID
			return nil
		}
	}
	if rec.ID == "" {
		rec.ID = m.nextID("rec")
	}
	cp := *rec
	m.records[rec.ID] = &cp
	return nil
}

func (m *memoryStore) SaveRecord(_ context.Context, rec *LifecycleRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSave {
		return errors.New("save rejected")
	}
	if _, ok := m.records[rec.ID]; !ok {
		return ErrRecordNotFound
	}
	cp := *rec
	m.records[rec.ID] = &cp
	return nil
}

func (m *memoryStore) ListRecords(_ context.Context, orgID string, filter RecordFilter, limit, offset int) ([]LifecycleRecord, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []LifecycleRecord
	for _, rec := range m.records {
		if rec.OrgID != orgID {
			continue
		}
		if filter.State != "" && rec.State != filter.State {
			continue
		}
		if filter.DataType != "" && rec.DataType != filter.DataType {
			continue
		}
		all = append(all, *rec)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	total := len(all)
	if offset > len(all) {
		offset = len(all)
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, total, nil
}

func (m *memoryStore) DueRecords(_ context.Context, orgID, dataType string, limit int) ([]*LifecycleRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*LifecycleRecord
	for _, rec := range m.records {
		if rec.OrgID != orgID || rec.DataType != dataType {
			continue
		}
		if rec.Terminal() || rec.Held() {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DataCreatedAt.Before(out[j].DataCreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memoryStore) RecordsForEvent(_ context.Context, orgID, dataType, userID string) ([]*LifecycleRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*LifecycleRecord
	for _, rec := range m.records {
		if rec.OrgID != orgID || rec.DataType != dataType {
			continue
		}
		if !ShortCircuitable(rec.State) {
			continue
		}
		if userID != "" && rec.UserID != userID {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryStore) RecordsForType(_ context.Context, orgID, dataType string) ([]LifecycleRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []LifecycleRecord
	for _, rec := range m.records {
		if rec.OrgID == orgID && rec.DataType == dataType {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryStore) FinalizeErasure(_ context.Context, records []*LifecycleRecord, cert *DeletionCertificate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failFinalize {
		return errors.New("finalize rejected")
	}
	if cert.ID == "" {
		cert.ID = m.nextID("cert")
	}
	m.certs[cert.ID] = *cert
	for _, rec := range records {
		cp := *rec
		m.records[rec.ID] = &cp
	}
	return nil
}

func (m *memoryStore) GetCertificate(_ context.Context, orgID, certID string) (*DeletionCertificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cert, ok := m.certs[certID]
	if !ok || cert.OrgID != orgID {
		return nil, ErrCertificateNotFound
	}
	return &cert, nil
}

func (m *memoryStore) CertificateByNumber(_ context.Context, number string) (*DeletionCertificate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, cert := range m.certs {
		if cert.CertificateNumber == number {
			cp := cert
			return &cp, nil
		}
	}
	return nil, ErrCertificateNotFound
}

func (m *memoryStore) ListCertificates(_ context.Context, orgID string, limit, offset int) ([]DeletionCertificate, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []DeletionCertificate
	for _, cert := range m.certs {
		if cert.OrgID == orgID {
			out = append(out, cert)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	total := len(out)
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

func (m *memoryStore) InsertAudit(_ context.Context, audit *ComplianceAudit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	audit.ID = m.nextID("aud")
	m.audits = append(m.audits, *audit)
	return nil
}

func (m *memoryStore) ListAudits(_ context.Context, orgID string, limit, offset int) ([]ComplianceAudit, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ComplianceAudit
	for _, a := range m.audits {
		if a.OrgID == orgID {
			out = append(out, a)
		}
	}
	total := len(out)
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, total, nil
}

// fakeResources records which destructive calls the engine made.
type fakeResources struct {
	mu         sync.Mutex
	ungoverned map[string][]ResourceRef

	tombstoned  []string
	deleted     []string
	scrubPasses map[string]int
	destroyed   []string
	marked      []string

	failTombstone bool
	failDelete    bool
}

func newFakeResources() *fakeResources {
	return &fakeResources{
		ungoverned:  map[string][]ResourceRef{},
		scrubPasses: map[string]int{},
	}
}

func (f *fakeResources) TableFor(dataType string) (string, bool) {
	table, ok := DefaultResourceTables[dataType]
	return table.Name, ok
}

func (f *fakeResources) ListUngoverned(_ context.Context, _, dataType string, limit int) ([]ResourceRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	refs := f.ungoverned[dataType]
	if limit > 0 && len(refs) > limit {
		refs = refs[:limit]
	}
	return append([]ResourceRef(nil), refs...), nil
}

func (f *fakeResources) Tombstone(_ context.Context, _, _, resourceID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTombstone {
		return errors.New("tombstone rejected")
	}
	f.tombstoned = append(f.tombstoned, resourceID)
	return nil
}

func (f *fakeResources) Delete(_ context.Context, _, _, resourceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDelete {
		return errors.New("delete rejected")
	}
	f.deleted = append(f.deleted, resourceID)
	return nil
}

func (f *fakeResources) Scrub(_ context.Context, _, _, resourceID string, passes int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scrubPasses[resourceID] += passes
	return nil
}

func (f *fakeResources) DestroyKey(_ context.Context, _, _, resourceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = append(f.destroyed, resourceID)
	return nil
}

func (f *fakeResources) MarkForPhysicalDestruction(_ context.Context, _, _, resourceID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, resourceID)
	return nil
}

// testClock is a settable clock shared by an engine and its test.
type testClock struct {
	mu sync.Mutex
	at time.Time
}

func newTestClock(at time.Time) *testClock { return &testClock{at: at} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.at = c.at.Add(d)
}

func (c *testClock) Set(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.at = at
}

func testIssuer(t *testing.T) *Issuer {
	t.Helper()
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate signing key: %v", err)
	}
	return NewIssuer(key, "dpo@traindesk.test")
}

func testEngine(t *testing.T, store *memoryStore, resources *fakeResources, clock *testClock) *Engine {
	t.Helper()
	return NewEngine(store, NewMemoryLockManager(), resources, testIssuer(t), nil, Options{
		Holder: "worker-test",
		Now:    clock.Now,
	})
}

func seedPolicy(store *memoryStore, p RetentionPolicy) RetentionPolicy {
	if p.ID == "" {
		p.ID = store.nextID("pol")
	}
	if p.DeletionMethod == "" {
		p.DeletionMethod = DeletionMethodSoft
	}
	if p.EraseMethod == "" {
		p.EraseMethod = EraseSimpleDelete
	}
	if p.TriggerType == "" {
		p.TriggerType = TriggerTimeBased
	}
	store.policies[p.ID] = p
	return p
}

func seedRecord(store *memoryStore, rec LifecycleRecord) *LifecycleRecord {
	if rec.ID == "" {
		rec.ID = store.nextID("rec")
	}
	if rec.ResourceTable == "" {
		rec.ResourceTable = DefaultResourceTables[rec.DataType].Name
	}
	if rec.State == "" {
		rec.State = StateActive
	}
	store.records[rec.ID] = &rec
	return &rec
}

func mustState(t *testing.T, store *memoryStore, recordID, want string) *LifecycleRecord {
	t.Helper()
	rec, ok := store.records[recordID]
	if !ok {
		t.Fatalf("record %s not found", recordID)
	}
	if rec.State != want {
		t.Fatalf("record %s state = %s, want %s", recordID, rec.State, want)
	}
	return rec
}

func historyStates(rec *LifecycleRecord) string {
	var states []string
	for _, h := range rec.History {
		states = append(states, h.State)
	}
	return strings.Join(states, ",")
}
