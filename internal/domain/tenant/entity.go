// internal/domain/tenant/entity.go
package tenant

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// PlatformTenantID is the single reserved tenant representing cross-tenant
// administrative scope. It is never soft-deleted or deactivated.
var PlatformTenantID = uuid.MustParse("00000000-0000-0000-0000-000000000001")

type Tenant struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Slug        string    `json:"slug" db:"slug"`
	DisplayName string    `json:"display_name" db:"display_name"`

	// Status and flags
	IsActive         bool `json:"is_active" db:"is_active"`
	IsPlatformTenant bool `json:"is_platform_tenant" db:"is_platform_tenant"`
	IsDeleted        bool `json:"is_deleted" db:"is_deleted"`

	// Settings is an opaque blob owned by the tenant
	Settings map[string]interface{} `json:"settings,omitempty" db:"settings"`

	// Timestamps
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt time.Time    `json:"updated_at" db:"updated_at"`
	DeletedAt sql.NullTime `json:"deleted_at,omitempty" db:"deleted_at"`
}

// TenantUser links a user to a tenant. Zero-or-one row per (user, tenant)
// pair; soft-deleted memberships are reactivatable.
type TenantUser struct {
	ID        uuid.UUID    `json:"id" db:"id"`
	TenantID  uuid.UUID    `json:"tenant_id" db:"tenant_id"`
	UserID    uuid.UUID    `json:"user_id" db:"user_id"`
	IsActive  bool         `json:"is_active" db:"is_active"`
	IsDeleted bool         `json:"is_deleted" db:"is_deleted"`
	JoinedAt  time.Time    `json:"joined_at" db:"joined_at"`
	DeletedAt sql.NullTime `json:"deleted_at,omitempty" db:"deleted_at"`
}

// RoleAssignment binds a named, tenant-scoped role to a membership. A
// user's effective roles are the union of assignments for their
// TenantUser row in the active tenant.
type RoleAssignment struct {
	ID           uuid.UUID `json:"id" db:"id"`
	TenantUserID uuid.UUID `json:"tenant_user_id" db:"tenant_user_id"`
	RoleName     string    `json:"role_name" db:"role_name"`
	AssignedAt   time.Time `json:"assigned_at" db:"assigned_at"`
}
