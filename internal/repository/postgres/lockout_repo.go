// internal/repository/postgres/lockout_repo.go
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"identity-service/internal/domain/lockout"
)

// LockoutRepository persists per-user lockout counters. The failed-attempt
// increment is a single atomic upsert so concurrent failures from several
// instances never lose counts.
type LockoutRepository struct {
	db *pgxpool.Pool
}

func NewLockoutRepository(db *pgxpool.Pool) *LockoutRepository {
	return &LockoutRepository{db: db}
}

const lockoutColumns = `user_id, failed_attempt_count, lockout_end,
	consecutive_lockouts, last_lockout_end, updated_at`

func scanLockout(row pgx.Row) (*lockout.State, error) {
	var s lockout.State
	err := row.Scan(
		&s.UserID, &s.FailedAttemptCount, &s.LockoutEnd,
		&s.ConsecutiveLockouts, &s.LastLockoutEnd, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Get returns the user's lockout state, or nil when the user has never
// failed a login.
func (r *LockoutRepository) Get(ctx context.Context, userID uuid.UUID) (*lockout.State, error) {
	query := fmt.Sprintf("SELECT %s FROM lockout_states WHERE user_id = $1", lockoutColumns)

	s, err := scanLockout(r.db.QueryRow(ctx, query, userID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load lockout state: %w", err)
	}
	return s, nil
}

// IncrementFailedAttempts bumps the counter atomically and returns the
// post-increment state.
func (r *LockoutRepository) IncrementFailedAttempts(ctx context.Context, userID uuid.UUID) (*lockout.State, error) {
	query := fmt.Sprintf(`
		INSERT INTO lockout_states (user_id, failed_attempt_count, updated_at)
		VALUES ($1, 1, $2)
		ON CONFLICT (user_id) DO UPDATE
			SET failed_attempt_count = lockout_states.failed_attempt_count + 1,
			    updated_at = $2
		RETURNING %s`, lockoutColumns)

	s, err := scanLockout(r.db.QueryRow(ctx, query, userID, time.Now()))
	if err != nil {
		return nil, fmt.Errorf("failed to increment failed attempts: %w", err)
	}
	return s, nil
}

// ApplyLockout records a new lockout window and advances the consecutive
// counter. The failure counter is left as it stands so the admin status
// view shows the attempts that caused the lock; only a successful login
// or an explicit unlock clears it.
func (r *LockoutRepository) ApplyLockout(ctx context.Context, userID uuid.UUID, end time.Time, consecutive int) error {
	query := `
		UPDATE lockout_states
		SET lockout_end = $1, consecutive_lockouts = $2, updated_at = $3
		WHERE user_id = $4`

	if _, err := r.db.Exec(ctx, query, end, consecutive, time.Now(), userID); err != nil {
		return fmt.Errorf("failed to apply lockout: %w", err)
	}
	return nil
}

// Reset clears the failure counter after a successful login. The active
// window, if any, is retired into last_lockout_end so the consecutive
// counter can decay later; resetConsecutive additionally zeroes it.
func (r *LockoutRepository) Reset(ctx context.Context, userID uuid.UUID, resetConsecutive bool) error {
	query := `
		UPDATE lockout_states
		SET failed_attempt_count = 0,
		    last_lockout_end = COALESCE(lockout_end, last_lockout_end),
		    lockout_end = NULL,
		    consecutive_lockouts = CASE WHEN $1 THEN 0 ELSE consecutive_lockouts END,
		    updated_at = $2
		WHERE user_id = $3`

	if _, err := r.db.Exec(ctx, query, resetConsecutive, time.Now(), userID); err != nil {
		return fmt.Errorf("failed to reset lockout state: %w", err)
	}
	return nil
}

// Unlock force-clears an active lockout window and the failure counter.
func (r *LockoutRepository) Unlock(ctx context.Context, userID uuid.UUID) error {
	query := `
		UPDATE lockout_states
		SET failed_attempt_count = 0,
		    lockout_end = NULL,
		    last_lockout_end = $1,
		    updated_at = $1
		WHERE user_id = $2`

	if _, err := r.db.Exec(ctx, query, time.Now(), userID); err != nil {
		return fmt.Errorf("failed to unlock account: %w", err)
	}
	return nil
}
