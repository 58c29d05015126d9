package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func exerciseDedup(t *testing.T, d DedupRepo) {
	t.Helper()
	ctx := context.Background()

	fresh, err := d.RecordInbound(ctx, "SM100", "twilio:+919876543210")
	if err != nil {
		t.Fatalf("RecordInbound failed: %v", err)
	}
	if !fresh {
		t.Fatal("expected first delivery to be new")
	}
	again, err := d.RecordInbound(ctx, "SM100", "twilio:+919876543210")
	if err != nil {
		t.Fatalf("RecordInbound (redelivery) failed: %v", err)
	}
	if again {
		t.Error("expected redelivery to be reported as duplicate")
	}
	other, err := d.RecordInbound(ctx, "SM101", "twilio:+919876543210")
	if err != nil || !other {
		t.Errorf("expected a different message id to be new, got %v, %v", other, err)
	}
	if err := d.MarkProcessed(ctx, "SM100"); err != nil {
		t.Errorf("MarkProcessed failed: %v", err)
	}
	if err := d.MarkProcessed(ctx, "unknown"); err != nil {
		t.Errorf("MarkProcessed on unknown id should be a no-op, got %v", err)
	}

	if n, err := d.PruneInbound(ctx, time.Now().Add(-time.Hour)); err != nil || n != 0 {
		t.Errorf("expected nothing older than an hour, pruned %d (%v)", n, err)
	}
}

func TestMemoryDedupPrune(t *testing.T) {
	d := NewMemoryDedup()
	ctx := context.Background()
	d.RecordInbound(ctx, "old", "u")
	d.records["old"].ReceivedAt = time.Now().Add(-48 * time.Hour)
	d.RecordInbound(ctx, "new", "u")

	n, err := d.PruneInbound(ctx, time.Now().Add(-24*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("expected 1 pruned, got %d (%v)", n, err)
	}
	if _, ok := d.Record("old"); ok {
		t.Error("old record should be gone")
	}
	if fresh, _ := d.RecordInbound(ctx, "old", "u"); !fresh {
		t.Error("a pruned id should be accepted again")
	}
	if _, ok := d.Record("new"); !ok {
		t.Error("recent record should survive")
	}
}

func TestMemoryDedup(t *testing.T) {
	d := NewMemoryDedup()
	exerciseDedup(t, d)

	r, ok := d.Record("SM100")
	if !ok {
		t.Fatal("expected SM100 to be recorded")
	}
	if r.UserID != "twilio:+919876543210" || r.ProcessedAt == nil {
		t.Errorf("unexpected record: %+v", r)
	}
	if r, _ := d.Record("SM101"); r.ProcessedAt != nil {
		t.Error("SM101 should not be marked processed")
	}
}

func TestSQLiteDedupSurvivesReopen(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "medbay.db")
	s, err := NewSQLiteStore(WithSQLiteDSN(dsn))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	exerciseDedup(t, s)
	s.Close()

	reopened, err := NewSQLiteStore(WithSQLiteDSN(dsn))
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()
	fresh, err := reopened.RecordInbound(context.Background(), "SM100", "twilio:+919876543210")
	if err != nil {
		t.Fatal(err)
	}
	if fresh {
		t.Error("expected message recorded before restart to remain a duplicate")
	}

	n, err := reopened.PruneInbound(context.Background(), time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("PruneInbound failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected both records pruned, got %d", n)
	}
}

func TestPostgresDedup(t *testing.T) {
	connStr := getenvOrSkip(t, "POSTGRES_TEST_DSN")
	s, err := NewPostgresStore(WithPostgresDSN(connStr))
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}
	defer s.Close()
	if _, err := s.db.Exec(`DELETE FROM inbound_dedup WHERE message_id IN ('SM100', 'SM101')`); err != nil {
		t.Fatal(err)
	}
	exerciseDedup(t, s)
}

func TestDedupSelectsBackend(t *testing.T) {
	if _, ok := Dedup(NewInMemoryStore()).(*MemoryDedup); !ok {
		t.Error("expected in-memory store to fall back to MemoryDedup")
	}
	s, err := NewSQLiteStore(WithSQLiteDSN(filepath.Join(t.TempDir(), "medbay.db")))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if got := Dedup(s); got != DedupRepo(s) {
		t.Error("expected SQLite store to serve as its own dedup table")
	}
}
