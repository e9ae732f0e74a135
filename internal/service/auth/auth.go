// internal/service/auth/auth.go
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"identity-service/internal/domain/audit"
	"identity-service/internal/domain/auth"
	"identity-service/internal/domain/tenant"
	"identity-service/internal/domain/user"
	xerrors "identity-service/internal/pkg/errors"
	"identity-service/internal/pkg/oidc"
	"identity-service/internal/pkg/session"
	auditsvc "identity-service/internal/service/audit"
	lockoutsvc "identity-service/internal/service/lockout"
)

// Users is the slice of the user store the auth flow needs.
type Users interface {
	GetByID(ctx context.Context, id uuid.UUID) (*user.User, error)
	GetByEmail(ctx context.Context, email string) (*user.User, error)
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error
	TouchLastLogin(ctx context.Context, id uuid.UUID) error
}

// Memberships is the slice of the tenant catalog used for auto-selection
// at login.
type Memberships interface {
	Memberships(ctx context.Context, userID uuid.UUID) ([]*tenant.Summary, error)
	EffectiveRoles(ctx context.Context, userID, tenantID uuid.UUID) ([]string, error)
}

// Service drives login, logout, refresh and password changes. Every
// failure path out of Login collapses to the same invalid-credentials
// error: a locked account, a bad password and an unknown email must be
// indistinguishable to the caller.
type Service struct {
	users       Users
	memberships Memberships
	store       *session.Store
	issuer      *oidc.Client
	locker      *lockoutsvc.Service
	auditor     *auditsvc.Service
	sessionTTL  time.Duration
	logger      *zap.Logger
}

func NewService(
	users Users,
	memberships Memberships,
	store *session.Store,
	issuer *oidc.Client,
	locker *lockoutsvc.Service,
	auditor *auditsvc.Service,
	sessionTTL time.Duration,
	logger *zap.Logger,
) *Service {
	if sessionTTL <= 0 {
		sessionTTL = 12 * time.Hour
	}
	return &Service{
		users:       users,
		memberships: memberships,
		store:       store,
		issuer:      issuer,
		locker:      locker,
		auditor:     auditor,
		sessionTTL:  sessionTTL,
		logger:      logger,
	}
}

// Login validates the local credential, exchanges it at the issuer and
// establishes a new session. A user with exactly one tenant membership
// gets that tenant selected automatically.
func (s *Service) Login(ctx context.Context, req *auth.LoginRequest) (*auth.LoginResult, error) {
	u, err := s.users.GetByEmail(ctx, req.Email)
	if err != nil {
		if xerrors.Is(err, xerrors.ErrNotFound) {
			s.recordFailure(ctx, nil, req, "unknown_email")
			return nil, xerrors.ErrInvalidCredentials
		}
		return nil, err
	}
	if !u.IsActive {
		s.recordFailure(ctx, &u.ID, req, "account_disabled")
		return nil, xerrors.ErrInvalidCredentials
	}

	locked, _, err := s.locker.IsLockedOut(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	if locked {
		s.recordFailure(ctx, &u.ID, req, "account_locked")
		return nil, xerrors.ErrInvalidCredentials
	}

	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)) != nil {
		lockedNow, until, lockErr := s.locker.RecordFailedAttempt(ctx, u.ID)
		if lockErr != nil {
			s.logger.Error("failed to count login failure", zap.Error(lockErr))
		}
		if lockedNow && until != nil {
			s.auditor.Record(ctx, auditsvc.Event{
				UserID:    &u.ID,
				Type:      audit.EventAccountLocked,
				IPAddress: req.IPAddress,
				UserAgent: req.UserAgent,
				AdditionalData: map[string]interface{}{
					"lockout_end": until.Format(time.RFC3339),
				},
			})
		}
		s.recordFailure(ctx, &u.ID, req, "invalid_password")
		return nil, xerrors.ErrInvalidCredentials
	}

	if err := s.locker.ResetFailedAttempts(ctx, u.ID); err != nil {
		s.logger.Warn("failed to reset lockout counters", zap.Error(err))
	}

	resp, err := s.issuer.PasswordGrant(ctx, u.Email, req.Password)
	if err != nil {
		if oidc.IsInvalidGrant(err) {
			s.recordFailure(ctx, &u.ID, req, "issuer_rejected_grant")
			return nil, xerrors.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("token issuer unavailable: %w", err)
	}

	now := time.Now()
	rec := &session.Record{
		SessionID:       session.NewID(),
		UserID:          u.ID,
		Email:           u.Email,
		DisplayName:     u.DisplayName.String,
		Claims:          claimsFromIDToken(resp.IDToken),
		IsPlatformAdmin: u.IsPlatformAdmin,
		CreatedAt:       now,
		LastAccessedAt:  now,
		ExpiresAt:       now.Add(s.sessionTTL),
	}
	s.autoSelectTenant(ctx, u.ID, rec)

	tokens := &session.TokenSet{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		IDToken:      resp.IDToken,
		TokenType:    resp.TokenType,
		ExpiresAt:    now.Add(time.Duration(resp.ExpiresIn) * time.Second),
	}

	if err := s.store.StoreSessionData(ctx, rec); err != nil {
		return nil, err
	}
	if err := s.store.StoreTokens(ctx, rec.SessionID, tokens); err != nil {
		return nil, err
	}

	if err := s.users.TouchLastLogin(ctx, u.ID); err != nil {
		s.logger.Warn("failed to record last login", zap.Error(err))
	}

	s.auditor.Record(ctx, auditsvc.Event{
		UserID:    &u.ID,
		Type:      audit.EventLoginSuccess,
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
	})
	s.auditor.Record(ctx, auditsvc.Event{
		UserID:    &u.ID,
		Type:      audit.EventTokenIssued,
		IPAddress: req.IPAddress,
		UserAgent: req.UserAgent,
	})

	return &auth.LoginResult{
		SessionID: rec.SessionID,
		ExpiresAt: rec.ExpiresAt,
		User:      sessionInfo(rec),
	}, nil
}

// Logout revokes the session's tokens at the issuer (best-effort) and
// removes the session.
func (s *Service) Logout(ctx context.Context, sessionID string, userID uuid.UUID, ip, userAgent string) error {
	s.store.RevokeTokens(ctx, sessionID)
	if err := s.store.RemoveSession(ctx, sessionID); err != nil {
		return err
	}

	s.auditor.Record(ctx, auditsvc.Event{
		UserID:    &userID,
		Type:      audit.EventLogout,
		IPAddress: ip,
		UserAgent: userAgent,
	})
	return nil
}

// Refresh rotates the session's tokens. A refresh the issuer rejects
// means the session is no longer viable.
func (s *Service) Refresh(ctx context.Context, sessionID string, userID uuid.UUID, ip, userAgent string) (*session.TokenSet, error) {
	tokens, err := s.store.GetTokens(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if tokens == nil || tokens.RefreshToken == "" {
		return nil, xerrors.ErrSessionExpired
	}

	rotated, err := s.store.RefreshTokens(ctx, sessionID, tokens.RefreshToken)
	if err != nil {
		return nil, err
	}
	if rotated == nil {
		return nil, xerrors.ErrSessionExpired
	}

	s.auditor.Record(ctx, auditsvc.Event{
		UserID:    &userID,
		Type:      audit.EventTokenRefreshed,
		IPAddress: ip,
		UserAgent: userAgent,
	})
	return rotated, nil
}

// Session returns the caller-facing view of the current session.
func (s *Service) Session(ctx context.Context, sessionID string) (*auth.SessionInfo, error) {
	rec, err := s.store.GetSessionData(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, xerrors.ErrUnauthenticated
	}
	return sessionInfo(rec), nil
}

// ChangePassword rotates the local credential after re-verifying the
// current one.
func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, req *auth.ChangePasswordRequest, ip, userAgent string) error {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.CurrentPassword)) != nil {
		return xerrors.ErrInvalidCredentials
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.users.UpdatePasswordHash(ctx, userID, string(hash)); err != nil {
		return err
	}

	s.auditor.Record(ctx, auditsvc.Event{
		UserID:    &userID,
		Type:      audit.EventPasswordChanged,
		IPAddress: ip,
		UserAgent: userAgent,
	})
	return nil
}

func (s *Service) recordFailure(ctx context.Context, userID *uuid.UUID, req *auth.LoginRequest, reason string) {
	s.auditor.Record(ctx, auditsvc.Event{
		UserID:        userID,
		Type:          audit.EventLoginFailed,
		IPAddress:     req.IPAddress,
		UserAgent:     req.UserAgent,
		FailureReason: reason,
	})
}

// autoSelectTenant picks the sole membership, if there is exactly one, so
// single-tenant users skip the selection step.
func (s *Service) autoSelectTenant(ctx context.Context, userID uuid.UUID, rec *session.Record) {
	memberships, err := s.memberships.Memberships(ctx, userID)
	if err != nil {
		s.logger.Warn("failed to load memberships at login", zap.Error(err))
		return
	}
	if len(memberships) != 1 {
		return
	}

	m := memberships[0]
	roles, err := s.memberships.EffectiveRoles(ctx, userID, m.ID)
	if err != nil {
		s.logger.Warn("failed to load roles at login", zap.Error(err))
		roles = m.Roles
	}

	id := m.ID
	rec.SelectedTenantID = &id
	rec.SelectedTenantName = m.DisplayName
	rec.TenantRoles = roles
}

func sessionInfo(rec *session.Record) *auth.SessionInfo {
	info := &auth.SessionInfo{
		UserID:             rec.UserID,
		Email:              rec.Email,
		DisplayName:        rec.DisplayName,
		SelectedTenantName: rec.SelectedTenantName,
		TenantRoles:        rec.TenantRoles,
		IsPlatformAdmin:    rec.IsPlatformAdmin,
		IsImpersonating:    rec.IsImpersonating,
		ExpiresAt:          rec.ExpiresAt,
	}
	if rec.SelectedTenantID != nil {
		id := *rec.SelectedTenantID
		info.SelectedTenantID = &id
	}
	return info
}

// claimsFromIDToken extracts the string claims from the id_token. The
// token arrived over the client-authenticated backchannel, so the
// signature is not re-verified here.
func claimsFromIDToken(idToken string) map[string]string {
	if idToken == "" {
		return nil
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return nil
	}

	out := make(map[string]string, len(claims))
	for k, v := range claims {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}
