// internal/domain/audit/entity.go
package audit

import (
	"time"

	"github.com/google/uuid"
)

// EventType classifies an authentication-relevant event.
type EventType string

const (
	EventLoginSuccess         EventType = "login_success"
	EventLoginFailed          EventType = "login_failed"
	EventLogout               EventType = "logout"
	EventPasswordChanged      EventType = "password_changed"
	EventPasswordReset        EventType = "password_reset"
	EventAccountLocked        EventType = "account_locked"
	EventAccountUnlocked      EventType = "account_unlocked"
	EventTokenIssued          EventType = "token_issued"
	EventTokenRefreshed       EventType = "token_refreshed"
	EventTokenRevoked         EventType = "token_revoked"
	EventTenantSelected       EventType = "tenant_selected"
	EventImpersonationStarted EventType = "impersonation_started"
	EventImpersonationStopped EventType = "impersonation_stopped"
)

// successEvents are the success-class event types; everything else is
// failure-class. Derived deterministically, never supplied by callers.
var successEvents = map[EventType]bool{
	EventLoginSuccess:         true,
	EventLogout:               true,
	EventPasswordChanged:      true,
	EventPasswordReset:        true,
	EventAccountUnlocked:      true,
	EventTokenIssued:          true,
	EventTokenRefreshed:       true,
	EventTokenRevoked:         true,
	EventTenantSelected:       true,
	EventImpersonationStarted: true,
	EventImpersonationStopped: true,
}

// IsSuccess reports whether the event type is success-class.
func (e EventType) IsSuccess() bool {
	return successEvents[e]
}

// Entry is an immutable audit record. Entries are only ever removed by the
// time-based retention sweep.
type Entry struct {
	ID             string                 `json:"id" db:"id"`
	UserID         *uuid.UUID             `json:"user_id,omitempty" db:"user_id"`
	EventType      EventType              `json:"event_type" db:"event_type"`
	Timestamp      time.Time              `json:"timestamp" db:"timestamp"`
	IPAddress      string                 `json:"ip_address" db:"ip_address"`
	UserAgent      string                 `json:"user_agent" db:"user_agent"`
	Success        bool                   `json:"success" db:"success"`
	FailureReason  string                 `json:"failure_reason,omitempty" db:"failure_reason"`
	AdditionalData map[string]interface{} `json:"additional_data,omitempty" db:"additional_data"`
}

// SuspiciousActivity is a fixed-threshold anomaly signal: an IP with
// repeated failed logins inside the inspection window.
type SuspiciousActivity struct {
	IPAddress      string    `json:"ip_address"`
	FailedAttempts int       `json:"failed_attempts"`
	DistinctUsers  int       `json:"distinct_users"`
	FirstAttempt   time.Time `json:"first_attempt"`
	LastAttempt    time.Time `json:"last_attempt"`
}
