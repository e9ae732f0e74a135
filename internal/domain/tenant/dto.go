// internal/domain/tenant/dto.go
package tenant

import (
	"time"

	"github.com/google/uuid"
)

type CreateTenantRequest struct {
	Name        string                 `json:"name" binding:"required"`
	Slug        string                 `json:"slug" binding:"required"`
	DisplayName string                 `json:"display_name"`
	Settings    map[string]interface{} `json:"settings"`
}

type UpdateTenantRequest struct {
	Name        string                 `json:"name"`
	DisplayName string                 `json:"display_name"`
	IsActive    *bool                  `json:"is_active"`
	Settings    map[string]interface{} `json:"settings"`
}

type AddUserRequest struct {
	UserID uuid.UUID `json:"user_id" binding:"required"`
	Roles  []string  `json:"roles"`
}

type SelectTenantRequest struct {
	TenantID uuid.UUID `json:"tenant_id" binding:"required"`
}

type ImpersonateRequest struct {
	TenantID uuid.UUID `json:"tenant_id" binding:"required"`
}

// Summary is the membership-facing view of a tenant.
type Summary struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	DisplayName string    `json:"display_name"`
	Roles       []string  `json:"roles,omitempty"`
	JoinedAt    time.Time `json:"joined_at,omitempty"`
}

// Member is the admin-facing view of a tenant membership.
type Member struct {
	UserID      uuid.UUID `json:"user_id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name,omitempty"`
	Roles       []string  `json:"roles,omitempty"`
	IsActive    bool      `json:"is_active"`
	JoinedAt    time.Time `json:"joined_at"`
}

type ListResponse struct {
	Tenants    []*Tenant `json:"tenants"`
	Total      int64     `json:"total"`
	Page       int       `json:"page"`
	PageSize   int       `json:"page_size"`
	TotalPages int       `json:"total_pages"`
}
