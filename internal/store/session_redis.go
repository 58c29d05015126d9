package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/MedBay/internal/models"
	"github.com/redis/go-redis/v9"
)

// RedisSessionStore keeps sessions as JSON values in Redis. The key TTL is refreshed on
// every save, so Redis performs idle eviction.
type RedisSessionStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ SessionStore = (*RedisSessionStore)(nil)

// NewRedisSessionStore connects to the configured Redis URL and verifies it with PING.
func NewRedisSessionStore(opts ...SessionOption) (*RedisSessionStore, error) {
	cfg := applySessionOpts(opts)
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		slog.Error("RedisSessionStore: ping failed", "error", err, "addr", redisOpts.Addr)
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	slog.Info("RedisSessionStore: connected", "addr", redisOpts.Addr, "db", redisOpts.DB, "ttl", cfg.TTL)
	return NewRedisSessionStoreWithClient(client, cfg.KeyPrefix, cfg.TTL), nil
}

// NewRedisSessionStoreWithClient wraps an existing client.
func NewRedisSessionStoreWithClient(client *redis.Client, prefix string, ttl time.Duration) *RedisSessionStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &RedisSessionStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisSessionStore) key(userID string) string {
	return s.prefix + userID
}

func (s *RedisSessionStore) Get(ctx context.Context, userID string) (*models.Session, error) {
	data, err := s.client.Get(ctx, s.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get session %s: %w", userID, err)
	}
	var sess models.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", userID, err)
	}
	return &sess, nil
}

func (s *RedisSessionStore) Save(ctx context.Context, sess *models.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.UserID, err)
	}
	if err := s.client.Set(ctx, s.key(sess.UserID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set session %s: %w", sess.UserID, err)
	}
	return nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, s.key(userID)).Err(); err != nil {
		return fmt.Errorf("redis delete session %s: %w", userID, err)
	}
	return nil
}

// Close closes the Redis client.
func (s *RedisSessionStore) Close() error {
	return s.client.Close()
}
