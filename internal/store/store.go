// Package store provides storage backends for MedBay.
//
// It includes SQL-backed stores (SQLite, PostgreSQL) and an in-memory store for users,
// the vaccination schedule and medication reminders, plus session stores for conversation
// state.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/MedBay/internal/models"
)

// Sentinel errors shared by all backends.
var (
	ErrUserNotFound  = errors.New("user not found")
	ErrUserExists    = errors.New("user already exists")
	ErrInvalidPhone  = errors.New("invalid phone number")
	ErrNoDSN         = errors.New("database DSN not set")
	ErrStoreNotReady = errors.New("store not initialized")
)

// Store is the persistence interface for users and the vaccination schedule.
type Store interface {
	AddUser(ctx context.Context, u models.User) (models.User, error)
	GetUserByPhone(ctx context.Context, phone string) (models.User, error)
	ListVaccinationSchedules(ctx context.Context) ([]models.VaccinationSchedule, error)
	// VaccinationsDueBy returns up to limit entries due at or before ageWeeks, latest first.
	VaccinationsDueBy(ctx context.Context, ageWeeks, limit int) ([]models.VaccinationSchedule, error)
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
	// Driver is "sqlite3" or "postgres"; empty means detect from the DSN.
	Driver string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithSQLiteDSN configures a SQLite database file.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Driver = "sqlite3"
	}
}

// WithPostgresDSN configures a PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Driver = "postgres"
	}
}

// DetectDSNType returns "postgres" for PostgreSQL URLs and keyword DSNs, otherwise
// "sqlite3".
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return "postgres"
	case strings.Contains(lower, "host=") || strings.Contains(lower, "dbname="):
		return "postgres"
	default:
		return "sqlite3"
	}
}

// NewStore opens the backend selected by the options: PostgreSQL, SQLite, or in-memory
// when no DSN is configured.
func NewStore(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Info("Store.NewStore: no DSN configured, using in-memory store")
		return NewInMemoryStore(), nil
	}
	driver := cfg.Driver
	if driver == "" {
		driver = DetectDSNType(cfg.DSN)
	}
	switch driver {
	case "postgres":
		return NewPostgresStore(opts...)
	case "sqlite3":
		return NewSQLiteStore(opts...)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// ValidatePhone checks the length bounds of a phone number.
func ValidatePhone(phone string) error {
	n := len(strings.TrimSpace(phone))
	if n < models.MinPhoneNumberLength || n > models.MaxPhoneNumberLength {
		return fmt.Errorf("%w: length must be %d-%d characters", ErrInvalidPhone, models.MinPhoneNumberLength, models.MaxPhoneNumberLength)
	}
	return nil
}

// normalizeUser trims input and applies defaults before insert.
func normalizeUser(u models.User) (models.User, error) {
	u.PhoneNumber = strings.TrimSpace(u.PhoneNumber)
	u.FullName = strings.TrimSpace(u.FullName)
	if err := ValidatePhone(u.PhoneNumber); err != nil {
		return u, err
	}
	if u.LanguagePreference == "" {
		u.LanguagePreference = models.DefaultLanguage
	}
	return u, nil
}

// InMemoryStore is a map-backed Store seeded with the default vaccination schedule.
type InMemoryStore struct {
	mu        sync.RWMutex
	users     map[string]models.User
	nextID    int64
	schedules []models.VaccinationSchedule
}

var _ Store = (*InMemoryStore)(nil)

// NewInMemoryStore creates an in-memory store.
func NewInMemoryStore() *InMemoryStore {
	schedules := make([]models.VaccinationSchedule, len(DefaultVaccinationSchedule))
	copy(schedules, DefaultVaccinationSchedule)
	for i := range schedules {
		schedules[i].ID = int64(i + 1)
	}
	return &InMemoryStore{users: make(map[string]models.User), schedules: schedules}
}

func (s *InMemoryStore) AddUser(ctx context.Context, u models.User) (models.User, error) {
	u, err := normalizeUser(u)
	if err != nil {
		return u, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.PhoneNumber]; ok {
		return u, fmt.Errorf("%w: %s", ErrUserExists, u.PhoneNumber)
	}
	s.nextID++
	u.ID = s.nextID
	u.CreatedAt = time.Now().UTC()
	s.users[u.PhoneNumber] = u
	return u, nil
}

func (s *InMemoryStore) GetUserByPhone(ctx context.Context, phone string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[strings.TrimSpace(phone)]
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	return u, nil
}

func (s *InMemoryStore) ListVaccinationSchedules(ctx context.Context) ([]models.VaccinationSchedule, error) {
	s.mu.RLock()
	out := make([]models.VaccinationSchedule, len(s.schedules))
	copy(out, s.schedules)
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].AgeDueInWeeks < out[j].AgeDueInWeeks })
	return out, nil
}

func (s *InMemoryStore) VaccinationsDueBy(ctx context.Context, ageWeeks, limit int) ([]models.VaccinationSchedule, error) {
	s.mu.RLock()
	var due []models.VaccinationSchedule
	for _, v := range s.schedules {
		if v.AgeDueInWeeks <= ageWeeks {
			due = append(due, v)
		}
	}
	s.mu.RUnlock()
	sort.SliceStable(due, func(i, j int) bool { return due[i].AgeDueInWeeks > due[j].AgeDueInWeeks })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }
