package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds Redis connection configuration. URL, when set, wins
// over the discrete fields (the REDIS_URL environment knob).
type RedisConfig struct {
	URL       string `yaml:"url"`
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// RedisStore implements Store using Redis so session history survives
// restarts and is shared across gateway instances.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisStore creates a new Redis-backed session store.
func NewRedisStore(cfg RedisConfig, sessionTTL time.Duration) (*RedisStore, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.URL != "" {
		parsed, err := redis.ParseURL(cfg.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		opts = parsed
	}
	client := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	keyPrefix := cfg.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "aegis:session:"
	}

	store := &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       sessionTTL + 5*time.Minute, // Keep slightly longer than session timeout
	}

	slog.Info("Redis session store initialized",
		"addr", cfg.Addr,
		"key_prefix", keyPrefix,
	)

	return store, nil
}

func (s *RedisStore) sessionKey(id string) string {
	return s.keyPrefix + id
}

func (s *RedisStore) indexKey() string {
	return s.keyPrefix + "_index"
}

// Get retrieves a session by ID.
func (s *RedisStore) Get(id string) (*SessionState, bool) {
	ctx := context.Background()

	data, err := s.client.Get(ctx, s.sessionKey(id)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		slog.Error("Redis Get error", "session_id", id, "error", err)
		return nil, false
	}

	var state SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		slog.Error("Failed to unmarshal session", "session_id", id, "error", err)
		return nil, false
	}
	return &state, true
}

// Put stores a session with the configured TTL.
func (s *RedisStore) Put(state *SessionState) {
	ctx := context.Background()

	data, err := json.Marshal(state)
	if err != nil {
		slog.Error("Failed to marshal session", "session_id", state.SessionID, "error", err)
		return
	}

	if err := s.client.Set(ctx, s.sessionKey(state.SessionID), data, s.ttl).Err(); err != nil {
		slog.Error("Redis Set error", "session_id", state.SessionID, "error", err)
		return
	}
	if err := s.client.SAdd(ctx, s.indexKey(), state.SessionID).Err(); err != nil {
		slog.Error("Redis SAdd error", "session_id", state.SessionID, "error", err)
	}
}

// Delete removes a session.
func (s *RedisStore) Delete(id string) {
	ctx := context.Background()

	if err := s.client.Del(ctx, s.sessionKey(id)).Err(); err != nil {
		slog.Error("Redis Del error", "session_id", id, "error", err)
	}
	if err := s.client.SRem(ctx, s.indexKey(), id).Err(); err != nil {
		slog.Error("Redis SRem error", "session_id", id, "error", err)
	}
}

// List returns all sessions matching the filter.
func (s *RedisStore) List(filter func(*SessionState) bool) []*SessionState {
	ctx := context.Background()

	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		slog.Error("Redis SMembers error", "error", err)
		return nil
	}

	var result []*SessionState
	for _, id := range ids {
		state, ok := s.Get(id)
		if !ok {
			// Session expired, remove from index
			s.client.SRem(ctx, s.indexKey(), id)
			continue
		}
		if filter == nil || filter(state) {
			result = append(result, state)
		}
	}
	return result
}

// Count returns the number of sessions matching the filter.
func (s *RedisStore) Count(filter func(*SessionState) bool) int {
	return len(s.List(filter))
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
