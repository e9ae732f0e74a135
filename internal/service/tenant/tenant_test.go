// internal/service/tenant/tenant_test.go
package tenant

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	auditdom "identity-service/internal/domain/audit"
	tenantdom "identity-service/internal/domain/tenant"
	xerrors "identity-service/internal/pkg/errors"
	"identity-service/internal/pkg/session"
	"identity-service/internal/pkg/tenantctx"
	"identity-service/internal/repository/postgres"
	auditsvc "identity-service/internal/service/audit"
)

type fakeCatalog struct {
	tenants     map[uuid.UUID]*tenantdom.Tenant
	members     map[uuid.UUID]map[uuid.UUID]bool
	roles       map[uuid.UUID]map[uuid.UUID][]string
	created     []*tenantdom.Tenant
	softDeleted []uuid.UUID
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		tenants: make(map[uuid.UUID]*tenantdom.Tenant),
		members: make(map[uuid.UUID]map[uuid.UUID]bool),
		roles:   make(map[uuid.UUID]map[uuid.UUID][]string),
	}
}

func (f *fakeCatalog) Create(ctx context.Context, tc *tenantctx.TenantContext, t *tenantdom.Tenant) error {
	for _, existing := range f.tenants {
		if existing.Slug == t.Slug {
			return xerrors.ErrConflict
		}
	}
	f.tenants[t.ID] = t
	f.created = append(f.created, t)
	return nil
}

func (f *fakeCatalog) GetByID(ctx context.Context, tc *tenantctx.TenantContext, id uuid.UUID, opts postgres.QueryOptions) (*tenantdom.Tenant, error) {
	t, ok := f.tenants[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	if t.IsDeleted && !(opts.IgnoreFilters && tc.IsPlatformAdmin) {
		return nil, xerrors.ErrNotFound
	}
	return t, nil
}

func (f *fakeCatalog) List(ctx context.Context, tc *tenantctx.TenantContext, page, pageSize int, opts postgres.QueryOptions) ([]*tenantdom.Tenant, int64, error) {
	var out []*tenantdom.Tenant
	for _, t := range f.tenants {
		if t.IsDeleted && !(opts.IgnoreFilters && tc.IsPlatformAdmin) {
			continue
		}
		out = append(out, t)
	}
	return out, int64(len(out)), nil
}

func (f *fakeCatalog) Update(ctx context.Context, tc *tenantctx.TenantContext, t *tenantdom.Tenant, opts postgres.QueryOptions) error {
	f.tenants[t.ID] = t
	return nil
}

func (f *fakeCatalog) SoftDelete(ctx context.Context, tc *tenantctx.TenantContext, id uuid.UUID) error {
	t, ok := f.tenants[id]
	if !ok || t.IsDeleted {
		return xerrors.ErrNotFound
	}
	t.IsDeleted = true
	f.softDeleted = append(f.softDeleted, id)
	return nil
}

func (f *fakeCatalog) FindByID(ctx context.Context, id uuid.UUID) (*tenantdom.Tenant, error) {
	t, ok := f.tenants[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return t, nil
}

func (f *fakeCatalog) HasActiveMembership(ctx context.Context, userID, tenantID uuid.UUID) (bool, error) {
	return f.members[userID][tenantID], nil
}

func (f *fakeCatalog) AddUserWithRoles(ctx context.Context, tenantID, userID uuid.UUID, roles []string) (*tenantdom.TenantUser, error) {
	if f.members[userID] == nil {
		f.members[userID] = make(map[uuid.UUID]bool)
	}
	f.members[userID][tenantID] = true
	if len(roles) > 0 {
		if f.roles[userID] == nil {
			f.roles[userID] = make(map[uuid.UUID][]string)
		}
		f.roles[userID][tenantID] = append(f.roles[userID][tenantID], roles...)
	}
	return &tenantdom.TenantUser{ID: uuid.New(), TenantID: tenantID, UserID: userID, IsActive: true}, nil
}

func (f *fakeCatalog) RemoveUser(ctx context.Context, tenantID, userID uuid.UUID) error {
	if !f.members[userID][tenantID] {
		return xerrors.ErrNotFound
	}
	f.members[userID][tenantID] = false
	return nil
}

func (f *fakeCatalog) EffectiveRoles(ctx context.Context, userID, tenantID uuid.UUID) ([]string, error) {
	return f.roles[userID][tenantID], nil
}

func (f *fakeCatalog) Memberships(ctx context.Context, userID uuid.UUID) ([]*tenantdom.Summary, error) {
	var out []*tenantdom.Summary
	for tid, active := range f.members[userID] {
		if !active {
			continue
		}
		t := f.tenants[tid]
		out = append(out, &tenantdom.Summary{ID: tid, Name: t.Name, DisplayName: t.DisplayName})
	}
	return out, nil
}

func (f *fakeCatalog) ListMembers(ctx context.Context, tenantID uuid.UUID) ([]*tenantdom.Member, error) {
	return nil, nil
}

type fakeSessions struct {
	recs map[string]*session.Record
}

func (f *fakeSessions) GetSessionData(ctx context.Context, sessionID string) (*session.Record, error) {
	return f.recs[sessionID], nil
}

func (f *fakeSessions) UpdateSessionData(ctx context.Context, rec *session.Record) error {
	f.recs[rec.SessionID] = rec
	return nil
}

type fakeAuditStore struct {
	entries []*auditdom.Entry
}

func (f *fakeAuditStore) Insert(ctx context.Context, entry *auditdom.Entry) error {
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeAuditStore) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*auditdom.Entry, error) {
	return nil, nil
}

func (f *fakeAuditStore) ListByTypeSince(ctx context.Context, eventType auditdom.EventType, since time.Time) ([]*auditdom.Entry, error) {
	return nil, nil
}

func (f *fakeAuditStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeAuditStore) lastType() auditdom.EventType {
	if len(f.entries) == 0 {
		return ""
	}
	return f.entries[len(f.entries)-1].EventType
}

type fixture struct {
	svc      *Service
	catalog  *fakeCatalog
	sessions *fakeSessions
	audits   *fakeAuditStore

	userID   uuid.UUID
	tenantID uuid.UUID
	tc       *tenantctx.TenantContext
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	catalog := newFakeCatalog()
	sessions := &fakeSessions{recs: make(map[string]*session.Record)}
	audits := &fakeAuditStore{}
	auditor := auditsvc.NewService(audits, nil, 90, time.Hour, zap.NewNop())

	userID := uuid.New()
	tenantID := uuid.New()

	catalog.tenants[tenantID] = &tenantdom.Tenant{
		ID:          tenantID,
		Name:        "acme",
		Slug:        "acme",
		DisplayName: "Acme Corp",
		IsActive:    true,
	}
	catalog.members[userID] = map[uuid.UUID]bool{tenantID: true}
	catalog.roles[userID] = map[uuid.UUID][]string{tenantID: {"admin", "member"}}

	sessions.recs["sess-1"] = &session.Record{
		SessionID: "sess-1",
		UserID:    userID,
		Email:     "user@example.com",
		ExpiresAt: time.Now().Add(time.Hour),
	}

	return &fixture{
		svc:      NewService(catalog, sessions, auditor, time.Hour, zap.NewNop()),
		catalog:  catalog,
		sessions: sessions,
		audits:   audits,
		userID:   userID,
		tenantID: tenantID,
		tc: &tenantctx.TenantContext{
			SessionID: "sess-1",
			UserID:    userID,
			Email:     "user@example.com",
		},
	}
}

func TestSelectTenant(t *testing.T) {
	f := newFixture(t)

	err := f.svc.SelectTenant(context.Background(), f.tc, f.tenantID, "10.0.0.1", "ua")
	if err != nil {
		t.Fatalf("SelectTenant: %v", err)
	}

	rec := f.sessions.recs["sess-1"]
	if rec.SelectedTenantID == nil || *rec.SelectedTenantID != f.tenantID {
		t.Fatalf("selection not persisted: %+v", rec)
	}
	if rec.SelectedTenantName != "Acme Corp" {
		t.Errorf("tenant name = %q", rec.SelectedTenantName)
	}
	if len(rec.TenantRoles) != 2 {
		t.Errorf("roles = %v", rec.TenantRoles)
	}
	if f.audits.lastType() != auditdom.EventTenantSelected {
		t.Errorf("last audit event = %q", f.audits.lastType())
	}
}

func TestSelectTenantWithoutMembership(t *testing.T) {
	f := newFixture(t)
	f.catalog.members[f.userID][f.tenantID] = false

	err := f.svc.SelectTenant(context.Background(), f.tc, f.tenantID, "10.0.0.1", "ua")
	if !xerrors.Is(err, xerrors.ErrAccessDenied) {
		t.Fatalf("err = %v, want ErrAccessDenied", err)
	}
}

func TestSelectUnknownTenant(t *testing.T) {
	f := newFixture(t)

	err := f.svc.SelectTenant(context.Background(), f.tc, uuid.New(), "10.0.0.1", "ua")
	if !xerrors.Is(err, xerrors.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSelectDeactivatedTenant(t *testing.T) {
	f := newFixture(t)
	f.catalog.tenants[f.tenantID].IsActive = false

	err := f.svc.SelectTenant(context.Background(), f.tc, f.tenantID, "10.0.0.1", "ua")
	if !xerrors.Is(err, xerrors.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestImpersonateRequiresPlatformAdmin(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Impersonate(context.Background(), f.tc, f.tenantID, "10.0.0.1", "ua")
	if !xerrors.Is(err, xerrors.ErrAccessDenied) {
		t.Fatalf("err = %v, want ErrAccessDenied", err)
	}
}

func TestImpersonate(t *testing.T) {
	f := newFixture(t)
	f.tc.IsPlatformAdmin = true
	// No membership in the target tenant.
	f.catalog.members[f.userID][f.tenantID] = false

	expiresAt, err := f.svc.Impersonate(context.Background(), f.tc, f.tenantID, "10.0.0.1", "ua")
	if err != nil {
		t.Fatalf("Impersonate: %v", err)
	}

	wantExpiry := time.Now().Add(time.Hour)
	if expiresAt.Before(wantExpiry.Add(-10*time.Second)) || expiresAt.After(wantExpiry.Add(10*time.Second)) {
		t.Fatalf("expiry = %v, want ~now+1h", expiresAt)
	}

	rec := f.sessions.recs["sess-1"]
	if !rec.IsImpersonating || rec.ImpersonationExpiresAt == nil {
		t.Fatalf("impersonation not persisted: %+v", rec)
	}
	if rec.SelectedTenantID == nil || *rec.SelectedTenantID != f.tenantID {
		t.Fatal("tenant selection not set")
	}
	if rec.TenantRoles != nil {
		t.Errorf("impersonation carried roles %v", rec.TenantRoles)
	}
	if f.audits.lastType() != auditdom.EventImpersonationStarted {
		t.Errorf("last audit event = %q", f.audits.lastType())
	}
}

func TestImpersonateDeactivatedTenant(t *testing.T) {
	f := newFixture(t)
	f.tc.IsPlatformAdmin = true
	f.catalog.tenants[f.tenantID].IsActive = false

	_, err := f.svc.Impersonate(context.Background(), f.tc, f.tenantID, "10.0.0.1", "ua")
	if !xerrors.Is(err, xerrors.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestStopImpersonation(t *testing.T) {
	f := newFixture(t)
	f.tc.IsPlatformAdmin = true

	if _, err := f.svc.Impersonate(context.Background(), f.tc, f.tenantID, "10.0.0.1", "ua"); err != nil {
		t.Fatalf("Impersonate: %v", err)
	}
	if err := f.svc.StopImpersonation(context.Background(), f.tc, "10.0.0.1", "ua"); err != nil {
		t.Fatalf("StopImpersonation: %v", err)
	}

	rec := f.sessions.recs["sess-1"]
	if rec.IsImpersonating || rec.SelectedTenantID != nil {
		t.Fatalf("impersonation not cleared: %+v", rec)
	}
	if f.audits.lastType() != auditdom.EventImpersonationStopped {
		t.Errorf("last audit event = %q", f.audits.lastType())
	}

	// Idempotent when nothing is active.
	audited := len(f.audits.entries)
	if err := f.svc.StopImpersonation(context.Background(), f.tc, "10.0.0.1", "ua"); err != nil {
		t.Fatalf("second StopImpersonation: %v", err)
	}
	if len(f.audits.entries) != audited {
		t.Error("no-op stop recorded an audit entry")
	}
}

func TestCreateTenantDefaultsDisplayName(t *testing.T) {
	f := newFixture(t)

	created, err := f.svc.CreateTenant(context.Background(), f.tc, &tenantdom.CreateTenantRequest{
		Name: "globex",
		Slug: "globex",
	})
	if err != nil {
		t.Fatalf("CreateTenant: %v", err)
	}
	if created.DisplayName != "globex" {
		t.Errorf("display name = %q, want name fallback", created.DisplayName)
	}
	if !created.IsActive {
		t.Error("new tenant not active")
	}
}

func TestCreateTenantDuplicateSlug(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateTenant(context.Background(), f.tc, &tenantdom.CreateTenantRequest{
		Name: "acme2",
		Slug: "acme",
	})
	if !xerrors.Is(err, xerrors.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
}

func TestPlatformTenantCannotBeDeactivated(t *testing.T) {
	f := newFixture(t)
	f.catalog.tenants[tenantdom.PlatformTenantID] = &tenantdom.Tenant{
		ID:               tenantdom.PlatformTenantID,
		Name:             "platform",
		IsActive:         true,
		IsPlatformTenant: true,
	}

	err := f.svc.DeactivateTenant(context.Background(), f.tc, tenantdom.PlatformTenantID)
	if !xerrors.Is(err, xerrors.ErrInvalidInput) {
		t.Fatalf("DeactivateTenant err = %v, want ErrInvalidInput", err)
	}

	inactive := false
	_, err = f.svc.UpdateTenant(context.Background(), f.tc, tenantdom.PlatformTenantID, &tenantdom.UpdateTenantRequest{
		IsActive: &inactive,
	})
	if !xerrors.Is(err, xerrors.ErrInvalidInput) {
		t.Fatalf("UpdateTenant err = %v, want ErrInvalidInput", err)
	}
}

func TestAddUserToTenantGrantsInitialRoles(t *testing.T) {
	f := newFixture(t)
	newUser := uuid.New()

	tu, err := f.svc.AddUserToTenant(context.Background(), f.tc, f.tenantID, &tenantdom.AddUserRequest{
		UserID: newUser,
		Roles:  []string{"member", "viewer"},
	})
	if err != nil {
		t.Fatalf("AddUserToTenant: %v", err)
	}
	if tu == nil || tu.TenantID != f.tenantID || tu.UserID != newUser {
		t.Fatalf("unexpected membership: %+v", tu)
	}

	if !f.catalog.members[newUser][f.tenantID] {
		t.Fatal("membership not recorded")
	}
	if roles := f.catalog.roles[newUser][f.tenantID]; len(roles) != 2 {
		t.Fatalf("roles = %v, want the initial role set granted with the membership", roles)
	}
}

func TestSelectTenantWhileImpersonatingClearsImpersonation(t *testing.T) {
	f := newFixture(t)
	f.tc.IsPlatformAdmin = true

	otherTenant := uuid.New()
	f.catalog.tenants[otherTenant] = &tenantdom.Tenant{ID: otherTenant, Name: "globex", IsActive: true}

	if _, err := f.svc.Impersonate(context.Background(), f.tc, otherTenant, "10.0.0.1", "ua"); err != nil {
		t.Fatalf("Impersonate: %v", err)
	}
	if err := f.svc.SelectTenant(context.Background(), f.tc, f.tenantID, "10.0.0.1", "ua"); err != nil {
		t.Fatalf("SelectTenant: %v", err)
	}

	rec := f.sessions.recs["sess-1"]
	if rec.IsImpersonating || rec.ImpersonationExpiresAt != nil {
		t.Fatalf("impersonation survived normal selection: %+v", rec)
	}
	if rec.SelectedTenantID == nil || *rec.SelectedTenantID != f.tenantID {
		t.Fatal("selection not applied")
	}
}
