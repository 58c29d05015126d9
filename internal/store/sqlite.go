// Package store provides storage backends for MedBay.
//
// This file implements an SQLite-backed store for users and the vaccination schedule.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "embed"

	"github.com/BTreeMap/MedBay/internal/models"
	"github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

const sqliteSeedVaccination = `INSERT INTO vaccination_schedules (vaccine_name, description, age_due_in_weeks)
VALUES (?, ?, ?) ON CONFLICT (vaccine_name) DO NOTHING`

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("SQLiteStore.NewSQLiteStore: creating SQLite store", "DSN_set", cfg.DSN != "")
	if cfg.DSN == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, ErrNoDSN
	}

	if path := sqliteFilePath(cfg.DSN); path != "" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
			slog.Error("Failed to create database directory", "error", err, "dir", dir)
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY under load.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	if err := seedSchedules(ctx, db, sqliteSeedVaccination); err != nil {
		db.Close()
		return nil, err
	}
	slog.Debug("SQLite migrations applied successfully")
	return &SQLiteStore{db: db}, nil
}

// sqliteFilePath strips the file: scheme and query parameters from a DSN. In-memory
// DSNs return "".
func sqliteFilePath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return ""
	}
	return path
}

func (s *SQLiteStore) AddUser(ctx context.Context, u models.User) (models.User, error) {
	u, err := normalizeUser(u)
	if err != nil {
		return u, err
	}
	u.CreatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (phone_number, full_name, language_preference, created_at) VALUES (?, ?, ?, ?)`,
		u.PhoneNumber, nilIfEmpty(u.FullName), string(u.LanguagePreference), u.CreatedAt)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return u, fmt.Errorf("%w: %s", ErrUserExists, u.PhoneNumber)
		}
		slog.Error("SQLiteStore AddUser failed", "error", err)
		return u, fmt.Errorf("failed to insert user: %w", err)
	}
	if u.ID, err = res.LastInsertId(); err != nil {
		return u, fmt.Errorf("failed to read user id: %w", err)
	}
	slog.Debug("SQLiteStore AddUser succeeded", "id", u.ID)
	return u, nil
}

func (s *SQLiteStore) GetUserByPhone(ctx context.Context, phone string) (models.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, phone_number, full_name, language_preference, created_at FROM users WHERE phone_number = ?`,
		strings.TrimSpace(phone))
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return u, ErrUserNotFound
	}
	if err != nil {
		return u, fmt.Errorf("failed to query user: %w", err)
	}
	return u, nil
}

func (s *SQLiteStore) ListVaccinationSchedules(ctx context.Context) ([]models.VaccinationSchedule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, vaccine_name, description, age_due_in_weeks FROM vaccination_schedules ORDER BY age_due_in_weeks, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query vaccination schedules: %w", err)
	}
	return scanSchedules(rows)
}

func (s *SQLiteStore) VaccinationsDueBy(ctx context.Context, ageWeeks, limit int) ([]models.VaccinationSchedule, error) {
	if limit <= 0 {
		limit = -1 // no upper bound in SQLite
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, vaccine_name, description, age_due_in_weeks FROM vaccination_schedules
		 WHERE age_due_in_weeks <= ? ORDER BY age_due_in_weeks DESC, id LIMIT ?`, ageWeeks, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due vaccinations: %w", err)
	}
	return scanSchedules(rows)
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}
