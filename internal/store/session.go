package store

import (
	"context"
	"errors"
	"time"

	"github.com/BTreeMap/MedBay/internal/models"
)

// ErrSessionNotFound is returned by SessionStore.Get for unknown or expired sessions.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore persists conversation sessions keyed by user id. Implementations are safe
// for concurrent use; serializing turns for one user is the caller's job.
type SessionStore interface {
	Get(ctx context.Context, userID string) (*models.Session, error)
	Save(ctx context.Context, s *models.Session) error
	Delete(ctx context.Context, userID string) error
	Close() error
}

// SessionOpts holds configuration for session stores.
type SessionOpts struct {
	TTL           time.Duration
	SweepInterval time.Duration
	RedisURL      string
	KeyPrefix     string
	Now           func() time.Time
}

// SessionOption defines a configuration option for session stores.
type SessionOption func(*SessionOpts)

// WithSessionTTL sets how long an idle session is kept.
func WithSessionTTL(ttl time.Duration) SessionOption {
	return func(o *SessionOpts) { o.TTL = ttl }
}

// WithSweepInterval sets how often the in-memory store evicts idle sessions.
func WithSweepInterval(d time.Duration) SessionOption {
	return func(o *SessionOpts) { o.SweepInterval = d }
}

// WithRedisURL stores sessions in Redis instead of process memory.
func WithRedisURL(url string) SessionOption {
	return func(o *SessionOpts) { o.RedisURL = url }
}

// WithKeyPrefix sets the Redis key prefix.
func WithKeyPrefix(prefix string) SessionOption {
	return func(o *SessionOpts) { o.KeyPrefix = prefix }
}

// WithSessionClock overrides the clock used for idle tracking.
func WithSessionClock(now func() time.Time) SessionOption {
	return func(o *SessionOpts) { o.Now = now }
}

// Session store defaults
const (
	DefaultSessionTTL    = 24 * time.Hour
	DefaultSweepInterval = 5 * time.Minute
	DefaultKeyPrefix     = "medbay:session:"
)

func applySessionOpts(opts []SessionOption) SessionOpts {
	cfg := SessionOpts{
		TTL:           DefaultSessionTTL,
		SweepInterval: DefaultSweepInterval,
		KeyPrefix:     DefaultKeyPrefix,
		Now:           time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// NewSessionStore returns a Redis store when a Redis URL is configured and an in-memory
// store otherwise.
func NewSessionStore(opts ...SessionOption) (SessionStore, error) {
	cfg := applySessionOpts(opts)
	if cfg.RedisURL != "" {
		return NewRedisSessionStore(opts...)
	}
	return NewInMemorySessionStore(opts...), nil
}
