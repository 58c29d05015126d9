package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/MedBay/internal/models"
)

type memoryEntry struct {
	data     []byte
	lastSeen time.Time
}

// InMemorySessionStore keeps sessions in process memory and evicts those idle for longer
// than the TTL. Sessions are stored as JSON snapshots so callers never share a pointer
// with the store.
type InMemorySessionStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

var _ SessionStore = (*InMemorySessionStore)(nil)

// NewInMemorySessionStore creates the store and starts its sweeper. Call Close to stop it.
func NewInMemorySessionStore(opts ...SessionOption) *InMemorySessionStore {
	cfg := applySessionOpts(opts)
	s := &InMemorySessionStore{
		entries: make(map[string]memoryEntry),
		ttl:     cfg.TTL,
		now:     cfg.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	if cfg.TTL > 0 && cfg.SweepInterval > 0 {
		go s.sweepLoop(cfg.SweepInterval)
	} else {
		close(s.done)
	}
	slog.Debug("InMemorySessionStore: created", "ttl", cfg.TTL, "sweep_interval", cfg.SweepInterval)
	return s
}

func (s *InMemorySessionStore) expired(e memoryEntry, now time.Time) bool {
	return s.ttl > 0 && now.Sub(e.lastSeen) > s.ttl
}

func (s *InMemorySessionStore) Get(ctx context.Context, userID string) (*models.Session, error) {
	s.mu.Lock()
	e, ok := s.entries[userID]
	if ok && s.expired(e, s.now()) {
		delete(s.entries, userID)
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	var sess models.Session
	if err := json.Unmarshal(e.data, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", userID, err)
	}
	return &sess, nil
}

func (s *InMemorySessionStore) Save(ctx context.Context, sess *models.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.UserID, err)
	}
	s.mu.Lock()
	s.entries[sess.UserID] = memoryEntry{data: data, lastSeen: s.now()}
	s.mu.Unlock()
	return nil
}

func (s *InMemorySessionStore) Delete(ctx context.Context, userID string) error {
	s.mu.Lock()
	delete(s.entries, userID)
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored sessions, including expired ones not yet swept.
func (s *InMemorySessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep evicts every expired session and returns how many were removed.
func (s *InMemorySessionStore) Sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, e := range s.entries {
		if s.expired(e, now) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed
}

func (s *InMemorySessionStore) sweepLoop(interval time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				slog.Debug("InMemorySessionStore.sweepLoop: evicted idle sessions", "count", n)
			}
		case <-s.stop:
			return
		}
	}
}

// Close stops the sweeper.
func (s *InMemorySessionStore) Close() error {
	s.once.Do(func() { close(s.stop) })
	<-s.done
	return nil
}
