// Package tenantctx resolves the caller's active tenant from the current
// session. The resolved TenantContext is passed explicitly to services and
// repositories; nothing in this codebase reads ambient request state for
// tenant scope.
package tenantctx

import (
	"github.com/google/uuid"

	"identity-service/internal/domain/tenant"
)

// TenantContext is the per-request resolution result. It is computed once
// per request (middleware caches it in the request context) and never
// re-resolved within the same request.
type TenantContext struct {
	SessionID string
	UserID    uuid.UUID
	Email     string

	// TenantID is nil when no tenant is selected; callers must route to
	// tenant selection before touching tenant-scoped data.
	TenantID   *uuid.UUID
	TenantName string
	Roles      []string

	IsPlatformAdmin bool
	IsImpersonating bool
}

// HasTenant reports whether a tenant has been resolved.
func (t *TenantContext) HasTenant() bool {
	return t.TenantID != nil
}

// IsPlatformTenant reports whether the resolved tenant is the reserved
// platform tenant.
func (t *TenantContext) IsPlatformTenant() bool {
	return t.TenantID != nil && *t.TenantID == tenant.PlatformTenantID
}
