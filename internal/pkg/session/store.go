// internal/pkg/session/store.go
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"identity-service/internal/pkg/crypto"
	"identity-service/internal/pkg/oidc"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	tokenKeyPrefix       = "tokens:"
	sessionKeyPrefix     = "sessiondata:"
	refreshLockKeyPrefix = "refresh:lock:"

	// refreshLockMargin pads the refresh lock past the issuer call
	// timeout. The lock must outlive the slowest possible refresh or a
	// late arrival could race an in-flight one; it still expires so a
	// crashed refresher cannot block others forever.
	refreshLockMargin = 5 * time.Second
	// refreshWait is how long a late arrival waits for the in-flight
	// refresh before giving up.
	refreshWait     = 5 * time.Second
	refreshPollStep = 100 * time.Millisecond
)

// Store keeps session records and encrypted token sets in Redis, and
// drives the refresh/rotation protocol against the external token issuer.
// Tokens and session metadata live under distinct key namespaces so that
// rotating tokens never rewrites session metadata and vice versa.
type Store struct {
	client    *redis.Client
	protector *crypto.Protector
	issuer    *oidc.Client
	logger    *zap.Logger

	// sliding is the inactivity window. Entries self-extend on use but
	// hard-expire at the record's absolute expiry.
	sliding time.Duration
	// lockTTL is the refresh lock lifetime, derived from the issuer
	// timeout so the lock cannot lapse mid-refresh.
	lockTTL time.Duration
}

func NewStore(client *redis.Client, protector *crypto.Protector, issuer *oidc.Client, sliding time.Duration, logger *zap.Logger) *Store {
	if sliding <= 0 {
		sliding = 30 * time.Minute
	}
	return &Store{
		client:    client,
		protector: protector,
		issuer:    issuer,
		logger:    logger,
		sliding:   sliding,
		lockTTL:   issuer.Timeout() + refreshLockMargin,
	}
}

// StoreTokens encrypts and persists a token set for the session.
func (s *Store) StoreTokens(ctx context.Context, sessionID string, tokens *TokenSet) error {
	ttl := s.ttlFor(tokens.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("token set already expired")
	}

	data, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("failed to marshal token set: %w", err)
	}

	sealed, err := s.protector.Seal(data)
	if err != nil {
		return fmt.Errorf("failed to encrypt token set: %w", err)
	}

	if err := s.client.Set(ctx, tokenKey(sessionID), sealed, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store token set: %w", err)
	}
	return nil
}

// GetTokens decrypts and returns the session's token set, or nil if it is
// absent, expired or corrupt. Corruption is treated as absence, not a
// fatal error. A successful read slides the entry's TTL forward.
func (s *Store) GetTokens(ctx context.Context, sessionID string) (*TokenSet, error) {
	sealed, err := s.client.Get(ctx, tokenKey(sessionID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token set: %w", err)
	}

	return s.decodeTokens(ctx, sessionID, sealed)
}

func (s *Store) decodeTokens(ctx context.Context, sessionID, sealed string) (*TokenSet, error) {
	plaintext, err := s.protector.Open(sealed)
	if err != nil {
		s.logger.Warn("discarding undecryptable token set", zap.Error(err))
		return nil, nil
	}

	var tokens TokenSet
	if err := json.Unmarshal(plaintext, &tokens); err != nil {
		s.logger.Warn("discarding unparsable token set", zap.Error(err))
		return nil, nil
	}

	if time.Now().After(tokens.ExpiresAt) {
		return nil, nil
	}

	if ttl := s.ttlFor(tokens.ExpiresAt); ttl > 0 {
		s.client.Expire(ctx, tokenKey(sessionID), ttl)
	}
	return &tokens, nil
}

// StoreSessionData persists the session record under the session-data
// namespace with the same TTL discipline as tokens.
func (s *Store) StoreSessionData(ctx context.Context, rec *Record) error {
	ttl := s.ttlFor(rec.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session already expired")
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal session record: %w", err)
	}

	if err := s.client.Set(ctx, sessionKey(rec.SessionID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session record: %w", err)
	}
	return nil
}

// GetSessionData returns the session record, or nil if absent, expired or
// corrupt. A successful read slides the entry's TTL forward.
func (s *Store) GetSessionData(ctx context.Context, sessionID string) (*Record, error) {
	data, err := s.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		s.logger.Warn("discarding unparsable session record", zap.Error(err))
		return nil, nil
	}

	if time.Now().After(rec.ExpiresAt) {
		return nil, nil
	}

	if ttl := s.ttlFor(rec.ExpiresAt); ttl > 0 {
		s.client.Expire(ctx, sessionKey(sessionID), ttl)
	}
	return &rec, nil
}

// UpdateSessionData rewrites the session record in place, preserving the
// TTL discipline.
func (s *Store) UpdateSessionData(ctx context.Context, rec *Record) error {
	rec.LastAccessedAt = time.Now()
	return s.StoreSessionData(ctx, rec)
}

// IsSessionValid reports whether both a live token set and a live session
// record exist for the id.
func (s *Store) IsSessionValid(ctx context.Context, sessionID string) (bool, error) {
	rec, err := s.GetSessionData(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}

	tokens, err := s.GetTokens(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return tokens != nil, nil
}

// ExtendSession additively extends both records' absolute expiry and
// refreshes the last-accessed timestamp.
func (s *Store) ExtendSession(ctx context.Context, sessionID string, extension time.Duration) error {
	rec, err := s.GetSessionData(ctx, sessionID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("session not found")
	}

	rec.ExpiresAt = rec.ExpiresAt.Add(extension)
	rec.LastAccessedAt = time.Now()
	if err := s.StoreSessionData(ctx, rec); err != nil {
		return err
	}

	tokens, err := s.GetTokens(ctx, sessionID)
	if err != nil || tokens == nil {
		return err
	}
	tokens.ExpiresAt = tokens.ExpiresAt.Add(extension)
	return s.StoreTokens(ctx, sessionID, tokens)
}

// RefreshTokens performs a refresh_token grant against the issuer and
// persists the rotated token set. Refreshes are serialized per session:
// late arrivals wait for the in-flight refresh and reuse its result
// instead of racing the issuer with an already-consumed refresh token.
// On any non-success response nil is returned and stored state is left
// untouched.
func (s *Store) RefreshTokens(ctx context.Context, sessionID, refreshToken string) (*TokenSet, error) {
	lockKey := refreshLockKey(sessionID)

	acquired, err := s.client.SetNX(ctx, lockKey, "1", s.lockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire refresh lock: %w", err)
	}

	if !acquired {
		return s.awaitInflightRefresh(ctx, sessionID)
	}
	defer s.client.Del(context.WithoutCancel(ctx), lockKey)

	resp, err := s.issuer.Refresh(ctx, refreshToken)
	if err != nil {
		s.logger.Warn("token refresh rejected by issuer",
			zap.Error(err),
		)
		return nil, nil
	}

	rotated := &TokenSet{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		IDToken:      resp.IDToken,
		TokenType:    resp.TokenType,
		ExpiresAt:    time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second),
	}
	// Some issuers do not rotate; keep the presented token in that case.
	if rotated.RefreshToken == "" {
		rotated.RefreshToken = refreshToken
	}

	if err := s.StoreTokens(ctx, sessionID, rotated); err != nil {
		return nil, err
	}

	// Session lifetime follows the fresh access token.
	rec, err := s.GetSessionData(ctx, sessionID)
	if err == nil && rec != nil && rotated.ExpiresAt.After(rec.ExpiresAt) {
		rec.ExpiresAt = rotated.ExpiresAt
		if err := s.UpdateSessionData(ctx, rec); err != nil {
			s.logger.Warn("failed to extend session after refresh", zap.Error(err))
		}
	}

	return rotated, nil
}

// awaitInflightRefresh polls until the holder releases the lock, then
// returns whatever token set it persisted. The holder either rotated the
// set or failed and left the old one; a still-stored set is live and
// reusable either way, and an absent one reads as a failed refresh.
func (s *Store) awaitInflightRefresh(ctx context.Context, sessionID string) (*TokenSet, error) {
	deadline := time.Now().Add(refreshWait)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(refreshPollStep):
		}

		exists, err := s.client.Exists(ctx, refreshLockKey(sessionID)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to poll refresh lock: %w", err)
		}
		if exists == 0 {
			return s.GetTokens(ctx, sessionID)
		}
	}
	return nil, nil
}

// RevokeTokens best-effort revokes both tokens at the issuer. Failures
// are logged, never returned: logout must always succeed locally.
// Local deletion is left to RemoveSession.
func (s *Store) RevokeTokens(ctx context.Context, sessionID string) {
	tokens, err := s.GetTokens(ctx, sessionID)
	if err != nil || tokens == nil {
		return
	}

	if err := s.issuer.Revoke(ctx, tokens.AccessToken, "access_token"); err != nil {
		s.logger.Warn("failed to revoke access token", zap.Error(err))
	}
	if tokens.RefreshToken != "" {
		if err := s.issuer.Revoke(ctx, tokens.RefreshToken, "refresh_token"); err != nil {
			s.logger.Warn("failed to revoke refresh token", zap.Error(err))
		}
	}
}

// RemoveSession deletes both keyed records unconditionally (idempotent).
func (s *Store) RemoveSession(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, sessionKey(sessionID), tokenKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to remove session: %w", err)
	}
	return nil
}

// ttlFor caps the sliding window at the record's absolute lifetime.
func (s *Store) ttlFor(expiresAt time.Time) time.Duration {
	ttl := time.Until(expiresAt)
	if ttl > s.sliding {
		return s.sliding
	}
	return ttl
}

func tokenKey(sessionID string) string {
	return tokenKeyPrefix + sessionID
}

func sessionKey(sessionID string) string {
	return sessionKeyPrefix + sessionID
}

func refreshLockKey(sessionID string) string {
	return refreshLockKeyPrefix + sessionID
}
