// internal/pkg/tenantctx/resolver.go
package tenantctx

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"identity-service/internal/domain/tenant"
	xerrors "identity-service/internal/pkg/errors"
	"identity-service/internal/pkg/session"
)

// SessionStore is the slice of the token store the resolver needs.
type SessionStore interface {
	GetSessionData(ctx context.Context, sessionID string) (*session.Record, error)
	UpdateSessionData(ctx context.Context, rec *session.Record) error
}

// Catalog is the slice of the tenant catalog the resolver consults for
// entitlement.
type Catalog interface {
	FindByID(ctx context.Context, id uuid.UUID) (*tenant.Tenant, error)
	HasActiveMembership(ctx context.Context, userID, tenantID uuid.UUID) (bool, error)
}

type Resolver struct {
	sessions SessionStore
	catalog  Catalog
	logger   *zap.Logger
}

func NewResolver(sessions SessionStore, catalog Catalog, logger *zap.Logger) *Resolver {
	return &Resolver{
		sessions: sessions,
		catalog:  catalog,
		logger:   logger,
	}
}

// Resolve reads the session record once and derives the caller's tenant
// context. A session whose tenant selection no longer corresponds to an
// active, non-deleted tenant with an active membership has the stale
// selection cleared rather than served. An impersonation window that has
// lapsed is treated as expired even if it was never explicitly stopped.
func (r *Resolver) Resolve(ctx context.Context, sessionID string) (*TenantContext, error) {
	rec, err := r.sessions.GetSessionData(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if rec == nil {
		return nil, xerrors.ErrUnauthenticated
	}

	dirty := false

	if rec.IsImpersonating {
		if rec.ImpersonationExpiresAt == nil || time.Now().After(*rec.ImpersonationExpiresAt) {
			rec.ClearImpersonation()
			dirty = true
		}
	}

	if rec.SelectedTenantID != nil {
		// Impersonating platform admins hold no membership row in the
		// target tenant; only the tenant itself is re-validated for them.
		valid, err := r.selectionStillValid(ctx, rec.UserID, *rec.SelectedTenantID, !rec.IsImpersonating)
		if err != nil {
			return nil, err
		}
		if !valid {
			r.logger.Info("clearing stale tenant selection",
				zap.String("user_id", rec.UserID.String()),
				zap.String("tenant_id", rec.SelectedTenantID.String()),
			)
			if rec.IsImpersonating {
				rec.ClearImpersonation()
			} else {
				rec.ClearTenantSelection()
			}
			dirty = true
		}
	}

	if dirty {
		if err := r.sessions.UpdateSessionData(ctx, rec); err != nil {
			return nil, fmt.Errorf("failed to persist session cleanup: %w", err)
		}
	}

	tc := &TenantContext{
		SessionID:       rec.SessionID,
		UserID:          rec.UserID,
		Email:           rec.Email,
		TenantName:      rec.SelectedTenantName,
		Roles:           rec.TenantRoles,
		IsPlatformAdmin: rec.IsPlatformAdmin,
		IsImpersonating: rec.IsImpersonating,
	}
	if rec.SelectedTenantID != nil {
		id := *rec.SelectedTenantID
		tc.TenantID = &id
	}
	return tc, nil
}

func (r *Resolver) selectionStillValid(ctx context.Context, userID, tenantID uuid.UUID, checkMembership bool) (bool, error) {
	t, err := r.catalog.FindByID(ctx, tenantID)
	if err != nil {
		if xerrors.Is(err, xerrors.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load selected tenant: %w", err)
	}
	if !t.IsActive || t.IsDeleted {
		return false, nil
	}
	if !checkMembership {
		return true, nil
	}

	ok, err := r.catalog.HasActiveMembership(ctx, userID, tenantID)
	if err != nil {
		return false, fmt.Errorf("failed to check tenant membership: %w", err)
	}
	return ok, nil
}
