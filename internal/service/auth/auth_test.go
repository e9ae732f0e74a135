// internal/service/auth/auth_test.go
package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"identity-service/internal/config"
	auditdom "identity-service/internal/domain/audit"
	authdom "identity-service/internal/domain/auth"
	lockoutdom "identity-service/internal/domain/lockout"
	tenantdom "identity-service/internal/domain/tenant"
	userdom "identity-service/internal/domain/user"
	xerrors "identity-service/internal/pkg/errors"
	"identity-service/internal/pkg/crypto"
	"identity-service/internal/pkg/oidc"
	"identity-service/internal/pkg/session"
	auditsvc "identity-service/internal/service/audit"
	lockoutsvc "identity-service/internal/service/lockout"
)

const testPassword = "correct-password"

type fakeUsers struct {
	byEmail map[string]*userdom.User
	byID    map[uuid.UUID]*userdom.User
}

func (f *fakeUsers) GetByID(ctx context.Context, id uuid.UUID) (*userdom.User, error) {
	u, ok := f.byID[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return u, nil
}

func (f *fakeUsers) GetByEmail(ctx context.Context, email string) (*userdom.User, error) {
	u, ok := f.byEmail[email]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return u, nil
}

func (f *fakeUsers) UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error {
	f.byID[id].PasswordHash = hash
	return nil
}

func (f *fakeUsers) TouchLastLogin(ctx context.Context, id uuid.UUID) error {
	return nil
}

type fakeMemberships struct {
	memberships []*tenantdom.Summary
	roles       []string
}

func (f *fakeMemberships) Memberships(ctx context.Context, userID uuid.UUID) ([]*tenantdom.Summary, error) {
	return f.memberships, nil
}

func (f *fakeMemberships) EffectiveRoles(ctx context.Context, userID, tenantID uuid.UUID) ([]string, error) {
	return f.roles, nil
}

type fakeLockoutStore struct {
	states map[uuid.UUID]*lockoutdom.State
}

func (f *fakeLockoutStore) Get(ctx context.Context, userID uuid.UUID) (*lockoutdom.State, error) {
	return f.states[userID], nil
}

func (f *fakeLockoutStore) IncrementFailedAttempts(ctx context.Context, userID uuid.UUID) (*lockoutdom.State, error) {
	s, ok := f.states[userID]
	if !ok {
		s = &lockoutdom.State{UserID: userID}
		f.states[userID] = s
	}
	s.FailedAttemptCount++
	copied := *s
	return &copied, nil
}

func (f *fakeLockoutStore) ApplyLockout(ctx context.Context, userID uuid.UUID, end time.Time, consecutive int) error {
	s := f.states[userID]
	s.LockoutEnd = &end
	s.ConsecutiveLockouts = consecutive
	return nil
}

func (f *fakeLockoutStore) Reset(ctx context.Context, userID uuid.UUID, resetConsecutive bool) error {
	s, ok := f.states[userID]
	if !ok {
		return nil
	}
	s.FailedAttemptCount = 0
	if resetConsecutive {
		s.ConsecutiveLockouts = 0
	}
	return nil
}

func (f *fakeLockoutStore) Unlock(ctx context.Context, userID uuid.UUID) error {
	delete(f.states, userID)
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

func (f *fakeAuditStore) hasType(t auditdom.EventType) bool {
	for _, e := range f.entries {
		if e.EventType == t {
			return true
		}
	}
	return false
}

type fixture struct {
	svc    *Service
	users  *fakeUsers
	audits *fakeAuditStore
	user   *userdom.User
	mr     *miniredis.Miniredis
}

func newFixture(t *testing.T, issuerHandler http.HandlerFunc) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	protector, err := crypto.NewProtector("auth-test-key")
	if err != nil {
		t.Fatalf("NewProtector: %v", err)
	}

	if issuerHandler == nil {
		issuerHandler = func(w http.ResponseWriter, r *http.Request) {
			r.ParseForm()
			if r.PostForm.Get("password") != testPassword {
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(`{"error":"invalid_grant"}`))
				return
			}
			w.Write([]byte(`{"access_token":"at","refresh_token":"rt","token_type":"Bearer","expires_in":3600}`))
		}
	}
	srv := httptest.NewServer(issuerHandler)
	t.Cleanup(srv.Close)

	issuer := oidc.New(oidc.Config{IssuerURL: srv.URL, ClientID: "test"})
	store := session.NewStore(client, protector, issuer, 30*time.Minute, zap.NewNop())

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	u := &userdom.User{
		ID:           uuid.New(),
		Email:        "user@example.com",
		PasswordHash: string(hash),
		IsActive:     true,
	}
	users := &fakeUsers{
		byEmail: map[string]*userdom.User{u.Email: u},
		byID:    map[uuid.UUID]*userdom.User{u.ID: u},
	}

	tenantID := uuid.New()
	memberships := &fakeMemberships{
		memberships: []*tenantdom.Summary{{ID: tenantID, Name: "acme", DisplayName: "Acme Corp"}},
		roles:       []string{"member"},
	}

	audits := &fakeAuditStore{}
	auditor := auditsvc.NewService(audits, nil, 90, time.Hour, zap.NewNop())
	locker := lockoutsvc.NewService(
		&fakeLockoutStore{states: make(map[uuid.UUID]*lockoutdom.State)},
		config.LockoutConfig{Threshold: 5, InitialMinutes: 5, Multiplier: 2, MaxMinutes: 1440},
		zap.NewNop(),
	)

	svc := NewService(users, memberships, store, issuer, locker, auditor, 12*time.Hour, zap.NewNop())
	return &fixture{svc: svc, users: users, audits: audits, user: u, mr: mr}
}

func loginRequest(password string) *authdom.LoginRequest {
	return &authdom.LoginRequest{
		Email:     "user@example.com",
		Password:  password,
		IPAddress: "10.0.0.1",
		UserAgent: "test-agent",
	}
}

func TestLoginSuccess(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	result, err := f.svc.Login(ctx, loginRequest(testPassword))
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if result.SessionID == "" {
		t.Fatal("no session id issued")
	}
	if result.User == nil || result.User.Email != "user@example.com" {
		t.Fatalf("unexpected session info: %+v", result.User)
	}

	// Sole membership auto-selected.
	if result.User.SelectedTenantID == nil || result.User.SelectedTenantName != "Acme Corp" {
		t.Fatalf("sole tenant not auto-selected: %+v", result.User)
	}
	if len(result.User.TenantRoles) != 1 {
		t.Errorf("roles = %v", result.User.TenantRoles)
	}

	info, err := f.svc.Session(ctx, result.SessionID)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if info.UserID != f.user.ID {
		t.Fatalf("session user = %v, want %v", info.UserID, f.user.ID)
	}

	if !f.audits.hasType(auditdom.EventLoginSuccess) || !f.audits.hasType(auditdom.EventTokenIssued) {
		t.Error("login audit trail incomplete")
	}
}

func TestLoginUnknownEmail(t *testing.T) {
	f := newFixture(t, nil)

	req := loginRequest(testPassword)
	req.Email = "nobody@example.com"

	_, err := f.svc.Login(context.Background(), req)
	if !xerrors.Is(err, xerrors.ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
	if !f.audits.hasType(auditdom.EventLoginFailed) {
		t.Error("failed login not audited")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.Login(context.Background(), loginRequest("wrong"))
	if !xerrors.Is(err, xerrors.ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
}

func TestLockoutHiddenFromCaller(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		f.svc.Login(ctx, loginRequest("wrong"))
	}
	if !f.audits.hasType(auditdom.EventAccountLocked) {
		t.Fatal("lockout not audited after threshold")
	}

	// Correct password while locked must look identical to a bad one.
	_, err := f.svc.Login(ctx, loginRequest(testPassword))
	if !xerrors.Is(err, xerrors.ErrInvalidCredentials) {
		t.Fatalf("err = %v, want generic ErrInvalidCredentials while locked", err)
	}
}

func TestLoginIssuerRejectsGrant(t *testing.T) {
	// Local credential passes but the issuer disagrees.
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	})

	_, err := f.svc.Login(context.Background(), loginRequest(testPassword))
	if !xerrors.Is(err, xerrors.ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
}

func TestLoginInactiveUser(t *testing.T) {
	f := newFixture(t, nil)
	f.user.IsActive = false

	_, err := f.svc.Login(context.Background(), loginRequest(testPassword))
	if !xerrors.Is(err, xerrors.ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
}

func TestLogoutRemovesSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	result, err := f.svc.Login(ctx, loginRequest(testPassword))
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := f.svc.Logout(ctx, result.SessionID, f.user.ID, "10.0.0.1", "ua"); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	if _, err := f.svc.Session(ctx, result.SessionID); !xerrors.Is(err, xerrors.ErrUnauthenticated) {
		t.Fatalf("session err = %v, want ErrUnauthenticated", err)
	}
	if !f.audits.hasType(auditdom.EventLogout) {
		t.Error("logout not audited")
	}
}

func TestRefreshRotatesAndAudits(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		switch r.PostForm.Get("grant_type") {
		case "password":
			w.Write([]byte(`{"access_token":"at","refresh_token":"rt","token_type":"Bearer","expires_in":3600}`))
		case "refresh_token":
			w.Write([]byte(`{"access_token":"at2","refresh_token":"rt2","token_type":"Bearer","expires_in":3600}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})
	ctx := context.Background()

	result, err := f.svc.Login(ctx, loginRequest(testPassword))
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	rotated, err := f.svc.Refresh(ctx, result.SessionID, f.user.ID, "10.0.0.1", "ua")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if rotated.AccessToken != "at2" || rotated.RefreshToken != "rt2" {
		t.Fatalf("unexpected rotation: %+v", rotated)
	}
	if !f.audits.hasType(auditdom.EventTokenRefreshed) {
		t.Error("refresh not audited")
	}
}

func TestRefreshUnknownSession(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.Refresh(context.Background(), "no-such-session", f.user.ID, "10.0.0.1", "ua")
	if !xerrors.Is(err, xerrors.ErrSessionExpired) {
		t.Fatalf("err = %v, want ErrSessionExpired", err)
	}
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	err := f.svc.ChangePassword(ctx, f.user.ID, &authdom.ChangePasswordRequest{
		CurrentPassword: "wrong",
		NewPassword:     "new-password-123",
	}, "10.0.0.1", "ua")
	if !xerrors.Is(err, xerrors.ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}

	err = f.svc.ChangePassword(ctx, f.user.ID, &authdom.ChangePasswordRequest{
		CurrentPassword: testPassword,
		NewPassword:     "new-password-123",
	}, "10.0.0.1", "ua")
	if err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(f.user.PasswordHash), []byte("new-password-123")) != nil {
		t.Fatal("new password hash not persisted")
	}
	if !f.audits.hasType(auditdom.EventPasswordChanged) {
		t.Error("password change not audited")
	}
}
