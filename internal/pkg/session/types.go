// internal/pkg/session/types.go
package session

import (
	"time"

	"github.com/google/uuid"
)

// Record is the session metadata stored under the session-data namespace.
// It is owned exclusively by the Store and mutated by the login,
// tenant-selection and impersonation flows.
type Record struct {
	SessionID   string            `json:"session_id"`
	UserID      uuid.UUID         `json:"user_id"`
	Email       string            `json:"email"`
	DisplayName string            `json:"display_name,omitempty"`
	Claims      map[string]string `json:"claims,omitempty"`

	SelectedTenantID   *uuid.UUID `json:"selected_tenant_id,omitempty"`
	SelectedTenantName string     `json:"selected_tenant_name,omitempty"`
	TenantRoles        []string   `json:"tenant_roles,omitempty"`

	IsPlatformAdmin        bool       `json:"is_platform_admin"`
	IsImpersonating        bool       `json:"is_impersonating"`
	ImpersonationExpiresAt *time.Time `json:"impersonation_expires_at,omitempty"`

	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// ClearTenantSelection drops the active tenant and its cached roles.
func (r *Record) ClearTenantSelection() {
	r.SelectedTenantID = nil
	r.SelectedTenantName = ""
	r.TenantRoles = nil
}

// ClearImpersonation resets the impersonation fields and the tenant
// selection they were carrying.
func (r *Record) ClearImpersonation() {
	r.IsImpersonating = false
	r.ImpersonationExpiresAt = nil
	r.ClearTenantSelection()
}

// TokenSet is the OAuth token material for one session. Stored under its
// own key so token rotation does not rewrite session metadata.
type TokenSet struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	IDToken      string    `json:"id_token,omitempty"`
	TokenType    string    `json:"token_type"`
	ExpiresAt    time.Time `json:"expires_at"`
}
