package store

import (
	"context"
	"sync"
	"time"
)

// DedupRepo records inbound channel message IDs so redelivered webhooks and events are
// answered only once.
type DedupRepo interface {
	// RecordInbound stores messageID and reports whether it was new. A false result
	// means the message has been seen before and must be dropped.
	RecordInbound(ctx context.Context, messageID, userID string) (bool, error)
	// MarkProcessed stamps the time the reply for messageID was produced.
	MarkProcessed(ctx context.Context, messageID string) error
	// PruneInbound deletes records received before cutoff and returns how many went.
	PruneInbound(ctx context.Context, cutoff time.Time) (int64, error)
}

// InboundRecord is one row of the inbound deduplication table.
type InboundRecord struct {
	MessageID   string
	UserID      string
	ReceivedAt  time.Time
	ProcessedAt *time.Time
}

// MemoryDedup keeps inbound message IDs in process memory.
type MemoryDedup struct {
	mu      sync.Mutex
	records map[string]*InboundRecord
}

var _ DedupRepo = (*MemoryDedup)(nil)

// NewMemoryDedup creates an empty in-memory dedup table.
func NewMemoryDedup() *MemoryDedup {
	return &MemoryDedup{records: make(map[string]*InboundRecord)}
}

func (m *MemoryDedup) RecordInbound(ctx context.Context, messageID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[messageID]; ok {
		return false, nil
	}
	m.records[messageID] = &InboundRecord{MessageID: messageID, UserID: userID, ReceivedAt: time.Now().UTC()}
	return true, nil
}

func (m *MemoryDedup) MarkProcessed(ctx context.Context, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[messageID]; ok {
		now := time.Now().UTC()
		r.ProcessedAt = &now
	}
	return nil
}

func (m *MemoryDedup) PruneInbound(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, r := range m.records {
		if r.ReceivedAt.Before(cutoff) {
			delete(m.records, id)
			n++
		}
	}
	return n, nil
}

// Record returns a copy of the stored record for messageID.
func (m *MemoryDedup) Record(messageID string) (InboundRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[messageID]
	if !ok {
		return InboundRecord{}, false
	}
	return *r, true
}

// Dedup returns the DedupRepo backing st, or an in-memory one when st has no
// persistent table.
func Dedup(st Store) DedupRepo {
	if d, ok := st.(DedupRepo); ok {
		return d
	}
	return NewMemoryDedup()
}
