// internal/repository/postgres/audit_repo.go
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"identity-service/internal/domain/audit"
)

// AuditRepository appends and queries the immutable audit trail. There is
// no update path: entries only ever leave via the retention sweep.
type AuditRepository struct {
	db *pgxpool.Pool
}

func NewAuditRepository(db *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Insert(ctx context.Context, entry *audit.Entry) error {
	var extra []byte
	if entry.AdditionalData != nil {
		data, err := json.Marshal(entry.AdditionalData)
		if err != nil {
			return fmt.Errorf("failed to encode audit data: %w", err)
		}
		extra = data
	}

	query := `
		INSERT INTO audit_entries
			(id, user_id, event_type, timestamp, ip_address, user_agent,
			 success, failure_reason, additional_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.Exec(ctx, query,
		entry.ID, entry.UserID, entry.EventType, entry.Timestamp,
		entry.IPAddress, entry.UserAgent, entry.Success, entry.FailureReason, extra,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

const auditColumns = `id, user_id, event_type, timestamp, ip_address,
	user_agent, success, failure_reason, additional_data`

func scanAuditEntry(row pgx.Row) (*audit.Entry, error) {
	var e audit.Entry
	var extra []byte
	err := row.Scan(
		&e.ID, &e.UserID, &e.EventType, &e.Timestamp, &e.IPAddress,
		&e.UserAgent, &e.Success, &e.FailureReason, &extra,
	)
	if err != nil {
		return nil, err
	}
	if len(extra) > 0 {
		if err := json.Unmarshal(extra, &e.AdditionalData); err != nil {
			return nil, fmt.Errorf("failed to decode audit data: %w", err)
		}
	}
	return &e, nil
}

// ListByUser returns the user's entries, newest first.
func (r *AuditRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*audit.Entry, error) {
	if limit < 1 {
		limit = 100
	}

	query := fmt.Sprintf(`
		SELECT %s FROM audit_entries
		WHERE user_id = $1
		ORDER BY timestamp DESC
		LIMIT $2`, auditColumns)

	rows, err := r.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	return r.collect(rows)
}

// ListByTypeSince returns all entries of one type at or after the cutoff,
// oldest first.
func (r *AuditRepository) ListByTypeSince(ctx context.Context, eventType audit.EventType, since time.Time) ([]*audit.Entry, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM audit_entries
		WHERE event_type = $1 AND timestamp >= $2
		ORDER BY timestamp ASC`, auditColumns)

	rows, err := r.db.Query(ctx, query, eventType, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	return r.collect(rows)
}

// DeleteOlderThan removes entries past the retention cutoff and reports
// how many were dropped.
func (r *AuditRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `DELETE FROM audit_entries WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep audit entries: %w", err)
	}
	return result.RowsAffected(), nil
}

func (r *AuditRepository) collect(rows pgx.Rows) ([]*audit.Entry, error) {
	var entries []*audit.Entry
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit entries: %w", err)
	}
	return entries, nil
}
