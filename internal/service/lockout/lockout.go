// internal/service/lockout/lockout.go
package lockout

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"identity-service/internal/config"
	"identity-service/internal/domain/lockout"
)

// decayWindow is how long after a lockout ends the consecutive counter
// survives. A user who stays clean past it starts over at the initial
// duration.
const decayWindow = 24 * time.Hour

// Store is the persistence surface the policy drives.
type Store interface {
	Get(ctx context.Context, userID uuid.UUID) (*lockout.State, error)
	IncrementFailedAttempts(ctx context.Context, userID uuid.UUID) (*lockout.State, error)
	ApplyLockout(ctx context.Context, userID uuid.UUID, end time.Time, consecutive int) error
	Reset(ctx context.Context, userID uuid.UUID, resetConsecutive bool) error
	Unlock(ctx context.Context, userID uuid.UUID) error
}

// Service enforces the progressive lockout policy: repeated failures lock
// the account for initial * multiplier^consecutive minutes, capped at the
// configured maximum. Lockout status must never surface to the login
// caller; callers map a locked account to the same generic
// invalid-credentials outcome as a bad password.
type Service struct {
	store  Store
	cfg    config.LockoutConfig
	logger *zap.Logger
}

func NewService(store Store, cfg config.LockoutConfig, logger *zap.Logger) *Service {
	return &Service{store: store, cfg: cfg, logger: logger}
}

// IsLockedOut reports whether the user is inside an active lockout window,
// and when the window ends.
func (s *Service) IsLockedOut(ctx context.Context, userID uuid.UUID) (bool, *time.Time, error) {
	state, err := s.store.Get(ctx, userID)
	if err != nil {
		return false, nil, err
	}
	if state == nil || state.LockoutEnd == nil {
		return false, nil, nil
	}
	if time.Now().Before(*state.LockoutEnd) {
		end := *state.LockoutEnd
		return true, &end, nil
	}
	return false, nil, nil
}

// RecordFailedAttempt counts one failed login and applies a lockout when
// the failure threshold is reached. It reports whether a new lockout was
// started and its end.
func (s *Service) RecordFailedAttempt(ctx context.Context, userID uuid.UUID) (bool, *time.Time, error) {
	state, err := s.store.IncrementFailedAttempts(ctx, userID)
	if err != nil {
		return false, nil, err
	}

	if state.FailedAttemptCount < s.cfg.Threshold {
		return false, nil, nil
	}
	if state.LockoutEnd != nil && time.Now().Before(*state.LockoutEnd) {
		// Already locked; nothing new to apply.
		return false, nil, nil
	}

	consecutive := s.effectiveConsecutive(state)
	duration := s.lockoutDuration(consecutive)
	end := time.Now().Add(duration)

	if err := s.store.ApplyLockout(ctx, userID, end, consecutive+1); err != nil {
		return false, nil, err
	}

	s.logger.Info("account locked",
		zap.String("user_id", userID.String()),
		zap.Duration("duration", duration),
		zap.Int("consecutive_lockouts", consecutive+1),
	)
	return true, &end, nil
}

// ResetFailedAttempts clears the failure counter after a successful login.
// The consecutive-lockout counter is cleared only once the decay window
// has elapsed since the last lockout ended.
func (s *Service) ResetFailedAttempts(ctx context.Context, userID uuid.UUID) error {
	state, err := s.store.Get(ctx, userID)
	if err != nil {
		return err
	}
	if state == nil {
		return nil
	}

	resetConsecutive := state.LastLockoutEnd == nil ||
		time.Since(*state.LastLockoutEnd) > decayWindow
	return s.store.Reset(ctx, userID, resetConsecutive)
}

// Unlock force-clears an active lockout. Administrative path only.
func (s *Service) Unlock(ctx context.Context, userID uuid.UUID) error {
	return s.store.Unlock(ctx, userID)
}

// State exposes the raw counters for the admin security view.
func (s *Service) State(ctx context.Context, userID uuid.UUID) (*lockout.State, error) {
	return s.store.Get(ctx, userID)
}

// effectiveConsecutive applies decay: a lockout that ended more than the
// decay window ago no longer escalates the next duration.
func (s *Service) effectiveConsecutive(state *lockout.State) int {
	if state.ConsecutiveLockouts == 0 {
		return 0
	}
	if state.LastLockoutEnd != nil && time.Since(*state.LastLockoutEnd) > decayWindow {
		return 0
	}
	return state.ConsecutiveLockouts
}

// lockoutDuration computes initial * multiplier^consecutive minutes,
// capped at the configured maximum. The arithmetic stays in float minutes
// until the final conversion so fractional configurations behave.
func (s *Service) lockoutDuration(consecutive int) time.Duration {
	minutes := s.cfg.InitialMinutes * math.Pow(s.cfg.Multiplier, float64(consecutive))
	if minutes > s.cfg.MaxMinutes {
		minutes = s.cfg.MaxMinutes
	}
	return time.Duration(minutes * float64(time.Minute))
}
