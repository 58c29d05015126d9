// Package lockfile guards a MedBay state directory against concurrent server processes.
//
// The lock is an flock on a file inside the directory, so the kernel drops it when the
// holding process exits, even on a crash.
package lockfile

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is created inside the state directory.
const LockFileName = "medbay.lock"

// ErrLocked is wrapped by *LockError when another process holds the lock.
var ErrLocked = errors.New("state directory is locked")

// Holder describes the process recorded in a lock file.
type Holder struct {
	PID       int
	Host      string
	StartedAt time.Time
}

func (h Holder) encode() string {
	return fmt.Sprintf("pid=%d\nhost=%s\nstarted_at=%s\n", h.PID, h.Host, h.StartedAt.UTC().Format(time.RFC3339))
}

// parseHolder reads the key=value lines written by encode. Unknown keys are ignored.
func parseHolder(content string) Holder {
	var h Holder
	sc := bufio.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		key, val, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			h.PID, _ = strconv.Atoi(val)
		case "host":
			h.Host = val
		case "started_at":
			h.StartedAt, _ = time.Parse(time.RFC3339, val)
		}
	}
	return h
}

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes the exclusive lock on stateDir, creating the directory if needed. When
// another process holds it, the returned error is a *LockError.
func Acquire(stateDir string) (*Lock, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory %s: %w", stateDir, err)
	}
	path := filepath.Join(stateDir, LockFileName)

	// O_TRUNC would wipe the holder's details before we know we own the lock.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		lerr := &LockError{Path: path, Cause: err}
		if data, rerr := os.ReadFile(path); rerr == nil {
			lerr.Holder = parseHolder(string(data))
		}
		slog.Error("Lockfile.Acquire: state directory in use", "lock_path", path, "holder_pid", lerr.Holder.PID)
		return nil, lerr
	}

	host, _ := os.Hostname()
	holder := Holder{PID: os.Getpid(), Host: host, StartedAt: time.Now()}
	if err := writeHolder(file, holder); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("write lock file %s: %w", path, err)
	}

	slog.Info("Lockfile.Acquire: state directory locked", "lock_path", path, "pid", holder.PID)
	return &Lock{file: file, path: path}, nil
}

func writeHolder(f *os.File, h Holder) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.WriteAt([]byte(h.encode()), 0); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		slog.Warn("Lockfile.writeHolder: sync failed", "error", err)
	}
	return nil
}

// Path is the lock file location.
func (l *Lock) Path() string { return l.path }

// Release unlocks and removes the lock file. Calling it more than once is harmless.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	var errs []error
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		errs = append(errs, fmt.Errorf("unlock: %w", err))
	}
	if err := l.file.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close: %w", err))
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, fmt.Errorf("remove: %w", err))
	}
	l.file = nil
	slog.Info("Lockfile.Release: state directory unlocked", "lock_path", l.path)
	return errors.Join(errs...)
}

// LockError reports a lock held by another process.
type LockError struct {
	Path   string
	Holder Holder
	Cause  error
}

func (e *LockError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "another MedBay server is using this state directory (lock file %s)", e.Path)
	if e.Holder.PID > 0 {
		state := "running"
		if !processAlive(e.Holder.PID) {
			state = "not running, lock may be stale"
		}
		fmt.Fprintf(&b, "; holder pid %d on %q since %s (%s)", e.Holder.PID, e.Holder.Host,
			e.Holder.StartedAt.Format(time.RFC3339), state)
	}
	fmt.Fprintf(&b, "; stop that server or point MEDBAY_STATE_DIR elsewhere, and remove %s only if no server is running", e.Path)
	return b.String()
}

func (e *LockError) Unwrap() []error { return []error{ErrLocked, e.Cause} }

// processAlive sends signal 0 to pid.
func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
