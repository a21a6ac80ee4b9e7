package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	sessionKeyPrefix = "session:"
	idleTimeout      = 3 * time.Hour
	rememberTimeout  = 30 * 24 * time.Hour
)

// ErrSessionExpired marks a session that is gone from Redis: either it was
// never started, it idled out, or the user logged out.
var ErrSessionExpired = errors.New("session expired")

// SessionStore keeps one Redis key per live session, keyed by the token id
// embedded in the JWT. Every authenticated call refreshes the key's TTL, so
// the TTL acts as an idle timeout rather than an absolute one.
type SessionStore struct {
	client *redis.Client
}

func NewSessionStore(client *redis.Client) *SessionStore {
	return &SessionStore{client: client}
}

func sessionKey(tokenID string) string {
	return sessionKeyPrefix + tokenID
}

func (s *SessionStore) timeout(remember bool) time.Duration {
	if remember {
		return rememberTimeout
	}
	return idleTimeout
}

// Start registers a new session. The stored value records whether this is a
// remember-me session so Touch can re-apply the right window.
func (s *SessionStore) Start(ctx context.Context, tokenID, userID string, remember bool) error {
	value := userID
	if remember {
		value = userID + ":remember"
	}
	if err := s.client.Set(ctx, sessionKey(tokenID), value, s.timeout(remember)).Err(); err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	return nil
}

// Touch slides the session's idle window forward. Returns ErrSessionExpired
// when the key no longer exists.
func (s *SessionStore) Touch(ctx context.Context, tokenID string) error {
	key := sessionKey(tokenID)
	value, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrSessionExpired
		}
		return fmt.Errorf("failed to read session: %w", err)
	}

	remember := len(value) > 9 && value[len(value)-9:] == ":remember"
	if err := s.client.Expire(ctx, key, s.timeout(remember)).Err(); err != nil {
		return fmt.Errorf("failed to refresh session: %w", err)
	}
	return nil
}

// End removes the session immediately (logout)
func (s *SessionStore) End(ctx context.Context, tokenID string) error {
	if err := s.client.Del(ctx, sessionKey(tokenID)).Err(); err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	return nil
}
