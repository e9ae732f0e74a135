// internal/service/audit/audit.go
package audit

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"identity-service/internal/domain/audit"
)

// suspiciousThreshold is the minimum failed logins from one IP inside the
// inspection window before it is reported.
const suspiciousThreshold = 5

// Store is the persistence surface for audit entries.
type Store interface {
	Insert(ctx context.Context, entry *audit.Entry) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*audit.Entry, error)
	ListByTypeSince(ctx context.Context, eventType audit.EventType, since time.Time) ([]*audit.Entry, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Broadcaster pushes freshly recorded entries to live admin consumers.
type Broadcaster interface {
	BroadcastEntry(entry *audit.Entry)
}

// Service appends to and inspects the audit trail. Recording is
// best-effort: an audit write failure is logged and swallowed so the
// authentication flow it annotates never fails because of it.
type Service struct {
	store       Store
	broadcaster Broadcaster
	retention   time.Duration
	sweepEvery  time.Duration
	logger      *zap.Logger
}

func NewService(store Store, broadcaster Broadcaster, retentionDays int, sweepEvery time.Duration, logger *zap.Logger) *Service {
	if retentionDays < 1 {
		retentionDays = 90
	}
	if sweepEvery <= 0 {
		sweepEvery = 6 * time.Hour
	}
	return &Service{
		store:       store,
		broadcaster: broadcaster,
		retention:   time.Duration(retentionDays) * 24 * time.Hour,
		sweepEvery:  sweepEvery,
		logger:      logger,
	}
}

// Event carries the caller-supplied parts of an audit entry. ID, timestamp
// and the success flag are derived here, never supplied.
type Event struct {
	UserID         *uuid.UUID
	Type           audit.EventType
	IPAddress      string
	UserAgent      string
	FailureReason  string
	AdditionalData map[string]interface{}
}

// Record appends one entry and notifies live consumers.
func (s *Service) Record(ctx context.Context, ev Event) {
	entry := &audit.Entry{
		ID:             ulid.Make().String(),
		UserID:         ev.UserID,
		EventType:      ev.Type,
		Timestamp:      time.Now(),
		IPAddress:      ev.IPAddress,
		UserAgent:      ev.UserAgent,
		Success:        ev.Type.IsSuccess(),
		FailureReason:  ev.FailureReason,
		AdditionalData: ev.AdditionalData,
	}

	if err := s.store.Insert(ctx, entry); err != nil {
		s.logger.Error("failed to record audit entry",
			zap.String("event_type", string(ev.Type)),
			zap.Error(err),
		)
		return
	}

	if s.broadcaster != nil {
		s.broadcaster.BroadcastEntry(entry)
	}
}

// History returns the user's recent entries.
func (s *Service) History(ctx context.Context, userID uuid.UUID, limit int) ([]*audit.Entry, error) {
	return s.store.ListByUser(ctx, userID, limit)
}

// SuspiciousActivity groups failed logins inside the window by source IP
// and reports every IP at or past the threshold, worst first.
func (s *Service) SuspiciousActivity(ctx context.Context, window time.Duration) ([]*audit.SuspiciousActivity, error) {
	since := time.Now().Add(-window)
	entries, err := s.store.ListByTypeSince(ctx, audit.EventLoginFailed, since)
	if err != nil {
		return nil, err
	}

	type bucket struct {
		activity *audit.SuspiciousActivity
		users    map[uuid.UUID]struct{}
	}
	buckets := make(map[string]*bucket)

	for _, e := range entries {
		if e.IPAddress == "" {
			continue
		}
		b, ok := buckets[e.IPAddress]
		if !ok {
			b = &bucket{
				activity: &audit.SuspiciousActivity{
					IPAddress:    e.IPAddress,
					FirstAttempt: e.Timestamp,
					LastAttempt:  e.Timestamp,
				},
				users: make(map[uuid.UUID]struct{}),
			}
			buckets[e.IPAddress] = b
		}
		b.activity.FailedAttempts++
		if e.UserID != nil {
			b.users[*e.UserID] = struct{}{}
		}
		if e.Timestamp.Before(b.activity.FirstAttempt) {
			b.activity.FirstAttempt = e.Timestamp
		}
		if e.Timestamp.After(b.activity.LastAttempt) {
			b.activity.LastAttempt = e.Timestamp
		}
	}

	var flagged []*audit.SuspiciousActivity
	for _, b := range buckets {
		if b.activity.FailedAttempts >= suspiciousThreshold {
			b.activity.DistinctUsers = len(b.users)
			flagged = append(flagged, b.activity)
		}
	}

	sort.Slice(flagged, func(i, j int) bool {
		return flagged[i].FailedAttempts > flagged[j].FailedAttempts
	})
	return flagged, nil
}

// CleanupExpired deletes entries past the retention horizon.
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-s.retention)
	removed, err := s.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.logger.Info("swept expired audit entries", zap.Int64("removed", removed))
	}
	return removed, nil
}

// RunRetentionSweeper periodically applies the retention policy until the
// context is cancelled. Run it in its own goroutine.
func (s *Service) RunRetentionSweeper(ctx context.Context) {
	ticker := time.NewTicker(s.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.CleanupExpired(ctx); err != nil {
				s.logger.Error("audit retention sweep failed", zap.Error(err))
			}
		}
	}
}
