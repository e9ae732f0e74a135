// internal/domain/user/entity.go
package user

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID           uuid.UUID      `json:"id" db:"id"`
	Email        string         `json:"email" db:"email"`
	PasswordHash string         `json:"-" db:"password_hash"`
	DisplayName  sql.NullString `json:"display_name,omitempty" db:"display_name"`

	IsPlatformAdmin bool `json:"is_platform_admin" db:"is_platform_admin"`
	IsActive        bool `json:"is_active" db:"is_active"`

	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at" db:"updated_at"`
	LastLoginAt sql.NullTime `json:"last_login_at,omitempty" db:"last_login_at"`
}
