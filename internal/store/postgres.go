// Package store provides storage backends for MedBay.
//
// This file implements a PostgreSQL-backed store for users and the vaccination schedule.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "embed"

	"github.com/BTreeMap/MedBay/internal/models"
	"github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

// pgUniqueViolation is the SQLSTATE for unique constraint violations.
const pgUniqueViolation = "23505"

//go:embed migrations_postgres.sql
var postgresMigrations string

const postgresSeedVaccination = `INSERT INTO vaccination_schedules (vaccine_name, description, age_due_in_weeks)
VALUES ($1, $2, $3) ON CONFLICT (vaccine_name) DO NOTHING`

type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, ErrNoDSN
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	if err := seedSchedules(ctx, db, postgresSeedVaccination); err != nil {
		db.Close()
		return nil, err
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) AddUser(ctx context.Context, u models.User) (models.User, error) {
	u, err := normalizeUser(u)
	if err != nil {
		return u, err
	}
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO users (phone_number, full_name, language_preference) VALUES ($1, $2, $3)
		 RETURNING id, phone_number, full_name, language_preference, created_at`,
		u.PhoneNumber, nilIfEmpty(u.FullName), string(u.LanguagePreference))
	created, err := scanUser(row)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pgUniqueViolation {
			return u, fmt.Errorf("%w: %s", ErrUserExists, u.PhoneNumber)
		}
		slog.Error("PostgresStore AddUser failed", "error", err)
		return u, fmt.Errorf("failed to insert user: %w", err)
	}
	slog.Debug("PostgresStore AddUser succeeded", "id", created.ID)
	return created, nil
}

func (s *PostgresStore) GetUserByPhone(ctx context.Context, phone string) (models.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, phone_number, full_name, language_preference, created_at FROM users WHERE phone_number = $1`,
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

func (s *PostgresStore) ListVaccinationSchedules(ctx context.Context) ([]models.VaccinationSchedule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, vaccine_name, description, age_due_in_weeks FROM vaccination_schedules ORDER BY age_due_in_weeks, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query vaccination schedules: %w", err)
	}
	return scanSchedules(rows)
}

func (s *PostgresStore) VaccinationsDueBy(ctx context.Context, ageWeeks, limit int) ([]models.VaccinationSchedule, error) {
	var lim any = limit
	if limit <= 0 {
		lim = nil // LIMIT NULL means no limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, vaccine_name, description, age_due_in_weeks FROM vaccination_schedules
		 WHERE age_due_in_weeks <= $1 ORDER BY age_due_in_weeks DESC, id LIMIT $2`, ageWeeks, lim)
	if err != nil {
		return nil, fmt.Errorf("failed to query due vaccinations: %w", err)
	}
	return scanSchedules(rows)
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	return s.db.Close()
}
