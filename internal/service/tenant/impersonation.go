// internal/service/tenant/impersonation.go
package tenant

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"identity-service/internal/domain/audit"
	xerrors "identity-service/internal/pkg/errors"
	"identity-service/internal/pkg/tenantctx"
	auditsvc "identity-service/internal/service/audit"
)

// Impersonate lets a platform admin act inside a tenant without holding a
// membership there. The window is bounded; resolution enforces the expiry
// even when the admin never stops explicitly. No issuer roundtrip happens
// and no new tokens are minted, so stopping is instant and local.
func (s *Service) Impersonate(ctx context.Context, tc *tenantctx.TenantContext, tenantID uuid.UUID, ip, userAgent string) (*time.Time, error) {
	if !tc.IsPlatformAdmin {
		return nil, xerrors.ErrAccessDenied
	}

	t, err := s.catalog.FindByID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if !t.IsActive || t.IsDeleted {
		return nil, xerrors.ErrNotFound
	}

	rec, err := s.sessions.GetSessionData(ctx, tc.SessionID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, xerrors.ErrUnauthenticated
	}

	expiresAt := time.Now().Add(s.impersonationTTL)
	rec.SelectedTenantID = &t.ID
	rec.SelectedTenantName = t.DisplayName
	// No membership, no tenant roles; authority comes from the admin flag.
	rec.TenantRoles = nil
	rec.IsImpersonating = true
	rec.ImpersonationExpiresAt = &expiresAt

	if err := s.sessions.UpdateSessionData(ctx, rec); err != nil {
		return nil, err
	}

	s.logger.Info("impersonation started",
		zap.String("admin_id", tc.UserID.String()),
		zap.String("tenant_id", t.ID.String()),
		zap.Time("expires_at", expiresAt),
	)
	s.auditor.Record(ctx, auditsvc.Event{
		UserID:    &tc.UserID,
		Type:      audit.EventImpersonationStarted,
		IPAddress: ip,
		UserAgent: userAgent,
		AdditionalData: map[string]interface{}{
			"tenant_id":  t.ID.String(),
			"expires_at": expiresAt.Format(time.RFC3339),
		},
	})
	return &expiresAt, nil
}

// StopImpersonation ends the impersonation window and drops the tenant
// selection it carried. Idempotent.
func (s *Service) StopImpersonation(ctx context.Context, tc *tenantctx.TenantContext, ip, userAgent string) error {
	rec, err := s.sessions.GetSessionData(ctx, tc.SessionID)
	if err != nil {
		return err
	}
	if rec == nil {
		return xerrors.ErrUnauthenticated
	}
	if !rec.IsImpersonating {
		return nil
	}

	var tenantID string
	if rec.SelectedTenantID != nil {
		tenantID = rec.SelectedTenantID.String()
	}

	rec.ClearImpersonation()
	if err := s.sessions.UpdateSessionData(ctx, rec); err != nil {
		return err
	}

	s.auditor.Record(ctx, auditsvc.Event{
		UserID:    &tc.UserID,
		Type:      audit.EventImpersonationStopped,
		IPAddress: ip,
		UserAgent: userAgent,
		AdditionalData: map[string]interface{}{
			"tenant_id": tenantID,
		},
	})
	return nil
}
