// internal/domain/lockout/entity.go
package lockout

import (
	"time"

	"github.com/google/uuid"
)

// State is the per-user progressive lockout counter set.
// LockoutEnd is non-nil only while the account is currently locked;
// ConsecutiveLockouts decays to 0 once 24 hours have elapsed since the
// last lockout ended.
type State struct {
	UserID              uuid.UUID  `json:"user_id" db:"user_id"`
	FailedAttemptCount  int        `json:"failed_attempt_count" db:"failed_attempt_count"`
	LockoutEnd          *time.Time `json:"lockout_end,omitempty" db:"lockout_end"`
	ConsecutiveLockouts int        `json:"consecutive_lockouts" db:"consecutive_lockouts"`
	LastLockoutEnd      *time.Time `json:"last_lockout_end,omitempty" db:"last_lockout_end"`
	UpdatedAt           time.Time  `json:"updated_at" db:"updated_at"`
}
