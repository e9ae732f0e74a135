// internal/domain/auth/dto.go
package auth

import (
	"time"

	"github.com/google/uuid"
)

type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`

	// Filled in by the handler, not the client.
	IPAddress string `json:"-"`
	UserAgent string `json:"-"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required,min=8"`
}

// LoginResult carries the new session back to the handler, which owns
// cookie issuance.
type LoginResult struct {
	SessionID string       `json:"-"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *SessionInfo `json:"user"`
}

// SessionInfo is the caller-facing view of the current session.
type SessionInfo struct {
	UserID             uuid.UUID  `json:"user_id"`
	Email              string     `json:"email"`
	DisplayName        string     `json:"display_name,omitempty"`
	SelectedTenantID   *uuid.UUID `json:"selected_tenant_id,omitempty"`
	SelectedTenantName string     `json:"selected_tenant_name,omitempty"`
	TenantRoles        []string   `json:"tenant_roles,omitempty"`
	IsPlatformAdmin    bool       `json:"is_platform_admin"`
	IsImpersonating    bool       `json:"is_impersonating"`
	ExpiresAt          time.Time  `json:"expires_at"`
}
