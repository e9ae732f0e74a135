// internal/service/tenant/tenant.go
package tenant

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"identity-service/internal/domain/audit"
	"identity-service/internal/domain/tenant"
	xerrors "identity-service/internal/pkg/errors"
	"identity-service/internal/pkg/tenantctx"
	"identity-service/internal/repository/postgres"
	auditsvc "identity-service/internal/service/audit"
)

// Catalog is the tenant persistence surface.
type Catalog interface {
	Create(ctx context.Context, tc *tenantctx.TenantContext, t *tenant.Tenant) error
	GetByID(ctx context.Context, tc *tenantctx.TenantContext, id uuid.UUID, opts postgres.QueryOptions) (*tenant.Tenant, error)
	List(ctx context.Context, tc *tenantctx.TenantContext, page, pageSize int, opts postgres.QueryOptions) ([]*tenant.Tenant, int64, error)
	Update(ctx context.Context, tc *tenantctx.TenantContext, t *tenant.Tenant, opts postgres.QueryOptions) error
	SoftDelete(ctx context.Context, tc *tenantctx.TenantContext, id uuid.UUID) error

	FindByID(ctx context.Context, id uuid.UUID) (*tenant.Tenant, error)
	HasActiveMembership(ctx context.Context, userID, tenantID uuid.UUID) (bool, error)
	AddUserWithRoles(ctx context.Context, tenantID, userID uuid.UUID, roles []string) (*tenant.TenantUser, error)
	RemoveUser(ctx context.Context, tenantID, userID uuid.UUID) error
	EffectiveRoles(ctx context.Context, userID, tenantID uuid.UUID) ([]string, error)
	Memberships(ctx context.Context, userID uuid.UUID) ([]*tenant.Summary, error)
	ListMembers(ctx context.Context, tenantID uuid.UUID) ([]*tenant.Member, error)
}

// Service owns tenant administration, tenant selection and admin
// impersonation.
type Service struct {
	catalog          Catalog
	sessions         tenantctx.SessionStore
	auditor          *auditsvc.Service
	impersonationTTL time.Duration
	logger           *zap.Logger
}

func NewService(catalog Catalog, sessions tenantctx.SessionStore, auditor *auditsvc.Service, impersonationTTL time.Duration, logger *zap.Logger) *Service {
	if impersonationTTL <= 0 {
		impersonationTTL = time.Hour
	}
	return &Service{
		catalog:          catalog,
		sessions:         sessions,
		auditor:          auditor,
		impersonationTTL: impersonationTTL,
		logger:           logger,
	}
}

// SelectTenant switches the session's active tenant. Membership is
// mandatory here even for platform admins; cross-tenant access without a
// membership goes through impersonation so it leaves an audit trail.
func (s *Service) SelectTenant(ctx context.Context, tc *tenantctx.TenantContext, tenantID uuid.UUID, ip, userAgent string) error {
	t, err := s.catalog.FindByID(ctx, tenantID)
	if err != nil {
		return err
	}
	if !t.IsActive || t.IsDeleted {
		return xerrors.ErrNotFound
	}

	ok, err := s.catalog.HasActiveMembership(ctx, tc.UserID, tenantID)
	if err != nil {
		return err
	}
	if !ok {
		return xerrors.ErrAccessDenied
	}

	roles, err := s.catalog.EffectiveRoles(ctx, tc.UserID, tenantID)
	if err != nil {
		return err
	}

	rec, err := s.sessions.GetSessionData(ctx, tc.SessionID)
	if err != nil {
		return err
	}
	if rec == nil {
		return xerrors.ErrUnauthenticated
	}

	if rec.IsImpersonating {
		rec.ClearImpersonation()
	}
	rec.SelectedTenantID = &t.ID
	rec.SelectedTenantName = t.DisplayName
	rec.TenantRoles = roles

	if err := s.sessions.UpdateSessionData(ctx, rec); err != nil {
		return err
	}

	s.auditor.Record(ctx, auditsvc.Event{
		UserID:    &tc.UserID,
		Type:      audit.EventTenantSelected,
		IPAddress: ip,
		UserAgent: userAgent,
		AdditionalData: map[string]interface{}{
			"tenant_id": t.ID.String(),
		},
	})
	return nil
}

// ClearSelection drops the session's active tenant. Clearing while
// impersonating ends the impersonation as well.
func (s *Service) ClearSelection(ctx context.Context, tc *tenantctx.TenantContext) error {
	rec, err := s.sessions.GetSessionData(ctx, tc.SessionID)
	if err != nil {
		return err
	}
	if rec == nil {
		return xerrors.ErrUnauthenticated
	}

	if rec.IsImpersonating {
		rec.ClearImpersonation()
	} else {
		rec.ClearTenantSelection()
	}
	return s.sessions.UpdateSessionData(ctx, rec)
}

// Available lists the tenants the user can select.
func (s *Service) Available(ctx context.Context, userID uuid.UUID) ([]*tenant.Summary, error) {
	return s.catalog.Memberships(ctx, userID)
}

// CreateTenant registers a new tenant.
func (s *Service) CreateTenant(ctx context.Context, tc *tenantctx.TenantContext, req *tenant.CreateTenantRequest) (*tenant.Tenant, error) {
	now := time.Now()
	t := &tenant.Tenant{
		ID:          uuid.New(),
		Name:        req.Name,
		Slug:        req.Slug,
		DisplayName: req.DisplayName,
		IsActive:    true,
		Settings:    req.Settings,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if t.DisplayName == "" {
		t.DisplayName = t.Name
	}

	if err := s.catalog.Create(ctx, tc, t); err != nil {
		return nil, err
	}
	return t, nil
}

// GetTenant returns one tenant. ignoreFilters additionally surfaces
// soft-deleted tenants; it is honored only for platform admins.
func (s *Service) GetTenant(ctx context.Context, tc *tenantctx.TenantContext, id uuid.UUID, ignoreFilters bool) (*tenant.Tenant, error) {
	return s.catalog.GetByID(ctx, tc, id, postgres.QueryOptions{IgnoreFilters: ignoreFilters})
}

// ListTenants pages through the catalog.
func (s *Service) ListTenants(ctx context.Context, tc *tenantctx.TenantContext, page, pageSize int, ignoreFilters bool) (*tenant.ListResponse, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	tenants, total, err := s.catalog.List(ctx, tc, page, pageSize, postgres.QueryOptions{IgnoreFilters: ignoreFilters})
	if err != nil {
		return nil, err
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return &tenant.ListResponse{
		Tenants:    tenants,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}, nil
}

// UpdateTenant applies partial updates. The platform tenant can be renamed
// but never deactivated.
func (s *Service) UpdateTenant(ctx context.Context, tc *tenantctx.TenantContext, id uuid.UUID, req *tenant.UpdateTenantRequest) (*tenant.Tenant, error) {
	t, err := s.catalog.GetByID(ctx, tc, id, postgres.QueryOptions{})
	if err != nil {
		return nil, err
	}

	if req.Name != "" {
		t.Name = req.Name
	}
	if req.DisplayName != "" {
		t.DisplayName = req.DisplayName
	}
	if req.Settings != nil {
		t.Settings = req.Settings
	}
	if req.IsActive != nil {
		if t.IsPlatformTenant && !*req.IsActive {
			return nil, xerrors.ErrInvalidInput
		}
		t.IsActive = *req.IsActive
	}
	t.UpdatedAt = time.Now()

	if err := s.catalog.Update(ctx, tc, t, postgres.QueryOptions{}); err != nil {
		return nil, err
	}
	return t, nil
}

// DeactivateTenant soft-deletes a tenant. The platform tenant is
// permanent.
func (s *Service) DeactivateTenant(ctx context.Context, tc *tenantctx.TenantContext, id uuid.UUID) error {
	if id == tenant.PlatformTenantID {
		return xerrors.ErrInvalidInput
	}

	t, err := s.catalog.GetByID(ctx, tc, id, postgres.QueryOptions{})
	if err != nil {
		return err
	}
	if t.IsPlatformTenant {
		return xerrors.ErrInvalidInput
	}

	if err := s.catalog.SoftDelete(ctx, tc, id); err != nil {
		return err
	}

	s.logger.Info("tenant deactivated",
		zap.String("tenant_id", id.String()),
		zap.String("actor_id", tc.UserID.String()),
	)
	return nil
}

// AddUserToTenant attaches a user with an optional initial role set. The
// membership and its roles land atomically; a soft-deleted membership is
// reactivated rather than duplicated.
func (s *Service) AddUserToTenant(ctx context.Context, tc *tenantctx.TenantContext, tenantID uuid.UUID, req *tenant.AddUserRequest) (*tenant.TenantUser, error) {
	if _, err := s.catalog.GetByID(ctx, tc, tenantID, postgres.QueryOptions{}); err != nil {
		return nil, err
	}
	return s.catalog.AddUserWithRoles(ctx, tenantID, req.UserID, req.Roles)
}

// RemoveUserFromTenant soft-deletes the membership.
func (s *Service) RemoveUserFromTenant(ctx context.Context, tc *tenantctx.TenantContext, tenantID, userID uuid.UUID) error {
	if _, err := s.catalog.GetByID(ctx, tc, tenantID, postgres.QueryOptions{}); err != nil {
		return err
	}
	return s.catalog.RemoveUser(ctx, tenantID, userID)
}

// TenantMembers lists a tenant's memberships for the admin view.
func (s *Service) TenantMembers(ctx context.Context, tc *tenantctx.TenantContext, tenantID uuid.UUID) ([]*tenant.Member, error) {
	if _, err := s.catalog.GetByID(ctx, tc, tenantID, postgres.QueryOptions{}); err != nil {
		return nil, err
	}
	return s.catalog.ListMembers(ctx, tenantID)
}
