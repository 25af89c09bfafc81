package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Presence TTLs. Agents heartbeat every 15s, users every 60s; a
	// missed renewal window marks the peer offline.
	agentOnlineTTL = 60 * time.Second
	userOnlineTTL  = 300 * time.Second

	// onlineMarker is the value stored under presence keys. Absence of
	// the key is authoritative for "offline".
	onlineMarker = "online"

	terminalSessionTTL = 5 * time.Minute
)

// RedisStore handles Redis operations: presence tracking, terminal
// session tokens and user auth sessions.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// Client exposes the underlying client for the bus adapter.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// agentPresenceKey returns the presence key for an agent.
func agentPresenceKey(agentID int64) string {
	return fmt.Sprintf("agent:%d", agentID)
}

// userPresenceKey returns the presence key for a user.
func userPresenceKey(userID string) string {
	return fmt.Sprintf("user:%s", userID)
}

// RegisterAgent marks an agent online. Idempotent: an existing key gets
// its TTL reset.
func (s *RedisStore) RegisterAgent(ctx context.Context, agentID int64) error {
	return s.client.Set(ctx, agentPresenceKey(agentID), onlineMarker, agentOnlineTTL).Err()
}

// RenewAgent resets the agent's presence TTL.
func (s *RedisStore) RenewAgent(ctx context.Context, agentID int64) error {
	return s.RegisterAgent(ctx, agentID)
}

// UnregisterAgent marks an agent offline immediately. Deleting an absent
// key is not an error.
func (s *RedisStore) UnregisterAgent(ctx context.Context, agentID int64) error {
	return s.client.Del(ctx, agentPresenceKey(agentID)).Err()
}

// IsAgentOnline reports whether the agent's presence key exists. Store
// errors degrade to "offline".
func (s *RedisStore) IsAgentOnline(ctx context.Context, agentID int64) bool {
	value, err := s.client.Get(ctx, agentPresenceKey(agentID)).Result()
	if err != nil {
		return false
	}
	return value == onlineMarker
}

// RegisterUser marks a user online.
func (s *RedisStore) RegisterUser(ctx context.Context, userID string) error {
	return s.client.Set(ctx, userPresenceKey(userID), onlineMarker, userOnlineTTL).Err()
}

// RenewUser resets the user's presence TTL.
func (s *RedisStore) RenewUser(ctx context.Context, userID string) error {
	return s.RegisterUser(ctx, userID)
}

// UnregisterUser marks a user offline immediately.
func (s *RedisStore) UnregisterUser(ctx context.Context, userID string) error {
	return s.client.Del(ctx, userPresenceKey(userID)).Err()
}

// IsUserOnline reports whether the user's presence key exists. Store
// errors degrade to "offline".
func (s *RedisStore) IsUserOnline(ctx context.Context, userID string) bool {
	value, err := s.client.Get(ctx, userPresenceKey(userID)).Result()
	if err != nil {
		return false
	}
	return value == onlineMarker
}

// terminalSessionKey returns the key holding a terminal session token.
func terminalSessionKey(sessionID string) string {
	return fmt.Sprintf("sessao-terminal:%s", sessionID)
}

// CreateTerminalSession stores a short-lived terminal session token
// binding a user to a target agent.
func (s *RedisStore) CreateTerminalSession(ctx context.Context, sessionID, userID string, agentID int64) error {
	value := fmt.Sprintf("%s:%d", userID, agentID)
	return s.client.Set(ctx, terminalSessionKey(sessionID), value, terminalSessionTTL).Err()
}

// GetTerminalSession returns the "<userID>:<agentID>" binding for a
// session token, or ErrNotFound when the token expired.
func (s *RedisStore) GetTerminalSession(ctx context.Context, sessionID string) (string, error) {
	value, err := s.client.Get(ctx, terminalSessionKey(sessionID)).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// userSessionKey returns the key holding a user auth session.
func userSessionKey(token string) string {
	return fmt.Sprintf("user-session:%s", token)
}

// GetUserSession resolves an auth session token to a user id. Session
// issuing is owned by the auth service; this side only validates.
func (s *RedisStore) GetUserSession(ctx context.Context, token string) (string, error) {
	userID, err := s.client.Get(ctx, userSessionKey(token)).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return userID, nil
}
