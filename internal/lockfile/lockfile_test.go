package lockfile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestAcquireWritesHolder(t *testing.T) {
	dir := t.TempDir()
	lock, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer lock.Release()

	if lock.Path() != filepath.Join(dir, LockFileName) {
		t.Errorf("unexpected lock path %q", lock.Path())
	}
	data, err := os.ReadFile(lock.Path())
	if err != nil {
		t.Fatalf("read lock file: %v", err)
	}
	h := parseHolder(string(data))
	if h.PID != os.Getpid() {
		t.Errorf("holder pid = %d, want %d", h.PID, os.Getpid())
	}
	if h.StartedAt.IsZero() || time.Since(h.StartedAt) > time.Minute {
		t.Errorf("unexpected start time %v", h.StartedAt)
	}
}

func TestAcquireConflict(t *testing.T) {
	dir := t.TempDir()
	first, err := Acquire(dir)
	if err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	defer first.Release()

	second, err := Acquire(dir)
	if err == nil {
		second.Release()
		t.Fatal("expected the second Acquire to fail")
	}
	if !errors.Is(err, ErrLocked) {
		t.Errorf("expected ErrLocked, got %v", err)
	}
	var lerr *LockError
	if !errors.As(err, &lerr) {
		t.Fatalf("expected *LockError, got %T", err)
	}
	if lerr.Holder.PID != os.Getpid() {
		t.Errorf("conflict should report the holder pid, got %d", lerr.Holder.PID)
	}
	msg := err.Error()
	for _, want := range []string{"another MedBay server", LockFileName, "running"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q missing %q", msg, want)
		}
	}

	// The failed attempt must not clobber the holder's details.
	data, _ := os.ReadFile(first.Path())
	if parseHolder(string(data)).PID != os.Getpid() {
		t.Errorf("lock file rewritten by the losing process: %q", data)
	}
}

func TestReleaseAndReacquire(t *testing.T) {
	dir := t.TempDir()
	lock, err := Acquire(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := lock.Release(); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if _, err := os.Stat(lock.Path()); !os.IsNotExist(err) {
		t.Error("lock file should be removed on release")
	}
	if err := lock.Release(); err != nil {
		t.Errorf("second Release should be a no-op, got %v", err)
	}
	var nilLock *Lock
	if err := nilLock.Release(); err != nil {
		t.Errorf("nil Release should be a no-op, got %v", err)
	}

	again, err := Acquire(dir)
	if err != nil {
		t.Fatalf("reacquire failed: %v", err)
	}
	again.Release()
}

func TestAcquireCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state", "nested")
	lock, err := Acquire(dir)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer lock.Release()
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		t.Errorf("state directory not created: %v", err)
	}
}

func TestParseHolder(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    Holder
	}{
		{"full", "pid=42\nhost=clinic-1\nstarted_at=2026-01-02T03:04:05Z\n",
			Holder{PID: 42, Host: "clinic-1", StartedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}},
		{"pid only", "pid=7\n", Holder{PID: 7}},
		{"garbage", "not a lock file", Holder{}},
		{"bad pid", "pid=abc\nhost=x\n", Holder{Host: "x"}},
		{"empty", "", Holder{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseHolder(tt.content)
			if got.PID != tt.want.PID || got.Host != tt.want.Host || !got.StartedAt.Equal(tt.want.StartedAt) {
				t.Errorf("parseHolder(%q) = %+v, want %+v", tt.content, got, tt.want)
			}
		})
	}
}

func TestProcessAlive(t *testing.T) {
	if !processAlive(os.Getpid()) {
		t.Error("current process should be alive")
	}
	if processAlive(999999) {
		t.Error("pid 999999 should not be alive")
	}
}
