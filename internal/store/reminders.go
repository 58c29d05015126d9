package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/MedBay/internal/models"
)

var (
	ErrReminderNotFound = errors.New("reminder not found")
	ErrInvalidReminder  = errors.New("invalid reminder")
)

// ReminderRepo stores medication reminders and their delivery state.
type ReminderRepo interface {
	AddReminder(ctx context.Context, r models.MedicationReminder) (models.MedicationReminder, error)
	// ListReminders returns every reminder ordered by scheduled time.
	ListReminders(ctx context.Context) ([]models.MedicationReminder, error)
	DeleteReminder(ctx context.Context, id int64) error
	// DueReminders returns reminders scheduled within [from, to] that have not been
	// sent, oldest first. Rows in the error state are returned again so they retry.
	DueReminders(ctx context.Context, from, to time.Time) ([]models.MedicationReminder, error)
	SetReminderStatus(ctx context.Context, id int64, status models.ReminderStatus) error
	// RescheduleReminder moves a reminder to next and resets it to scheduled.
	RescheduleReminder(ctx context.Context, id int64, next time.Time) error
}

// normalizeReminder trims and validates input before insert. Times are stored in UTC
// at second precision.
func normalizeReminder(r models.MedicationReminder) (models.MedicationReminder, error) {
	r.MedicineName = strings.TrimSpace(r.MedicineName)
	r.Dosage = strings.TrimSpace(r.Dosage)
	r.UserPhoneNumber = strings.TrimSpace(r.UserPhoneNumber)
	if r.MedicineName == "" {
		return r, fmt.Errorf("%w: medicine name is required", ErrInvalidReminder)
	}
	if r.Dosage == "" {
		return r, fmt.Errorf("%w: dosage is required", ErrInvalidReminder)
	}
	if r.ScheduledAt.IsZero() {
		return r, fmt.Errorf("%w: scheduled time is required", ErrInvalidReminder)
	}
	if err := ValidatePhone(r.UserPhoneNumber); err != nil {
		return r, err
	}
	if r.Recurrence == "" {
		r.Recurrence = models.RecurOnce
	}
	if !r.Recurrence.Valid() {
		return r, fmt.Errorf("%w: unknown recurrence %q", ErrInvalidReminder, r.Recurrence)
	}
	r.ScheduledAt = r.ScheduledAt.UTC().Truncate(time.Second)
	r.Status = models.ReminderScheduled
	r.CreatedAt = time.Now().UTC().Truncate(time.Second)
	return r, nil
}

// scanReminder scans id, medicine_name, dosage, scheduled_at, user_phone_number,
// recurring_type, status, created_at.
func scanReminder(row rowScanner) (models.MedicationReminder, error) {
	var r models.MedicationReminder
	var recur, status string
	if err := row.Scan(&r.ID, &r.MedicineName, &r.Dosage, &r.ScheduledAt, &r.UserPhoneNumber, &recur, &status, &r.CreatedAt); err != nil {
		return r, err
	}
	r.Recurrence = models.Recurrence(recur)
	r.Status = models.ReminderStatus(status)
	r.ScheduledAt = r.ScheduledAt.UTC()
	r.CreatedAt = r.CreatedAt.UTC()
	return r, nil
}

type rowsScanner interface {
	rowScanner
	Next() bool
	Err() error
	Close() error
}

func scanReminders(rows rowsScanner) ([]models.MedicationReminder, error) {
	defer rows.Close()
	out := []models.MedicationReminder{}
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reminder row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reminder rows: %w", err)
	}
	return out, nil
}

// MemoryReminders keeps medication reminders in process memory.
type MemoryReminders struct {
	mu     sync.Mutex
	rows   map[int64]models.MedicationReminder
	nextID int64
}

var _ ReminderRepo = (*MemoryReminders)(nil)

// NewMemoryReminders creates an empty in-memory reminder table.
func NewMemoryReminders() *MemoryReminders {
	return &MemoryReminders{rows: make(map[int64]models.MedicationReminder)}
}

func (m *MemoryReminders) AddReminder(ctx context.Context, r models.MedicationReminder) (models.MedicationReminder, error) {
	r, err := normalizeReminder(r)
	if err != nil {
		return r, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	r.ID = m.nextID
	m.rows[r.ID] = r
	return r, nil
}

func (m *MemoryReminders) ListReminders(ctx context.Context) ([]models.MedicationReminder, error) {
	return m.sorted(func(models.MedicationReminder) bool { return true }), nil
}

func (m *MemoryReminders) DeleteReminder(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[id]; !ok {
		return fmt.Errorf("%w: %d", ErrReminderNotFound, id)
	}
	delete(m.rows, id)
	return nil
}

func (m *MemoryReminders) DueReminders(ctx context.Context, from, to time.Time) ([]models.MedicationReminder, error) {
	return m.sorted(func(r models.MedicationReminder) bool {
		return r.Status != models.ReminderSent && !r.ScheduledAt.Before(from) && !r.ScheduledAt.After(to)
	}), nil
}

func (m *MemoryReminders) SetReminderStatus(ctx context.Context, id int64, status models.ReminderStatus) error {
	return m.update(id, func(r *models.MedicationReminder) { r.Status = status })
}

func (m *MemoryReminders) RescheduleReminder(ctx context.Context, id int64, next time.Time) error {
	return m.update(id, func(r *models.MedicationReminder) {
		r.ScheduledAt = next.UTC().Truncate(time.Second)
		r.Status = models.ReminderScheduled
	})
}

func (m *MemoryReminders) update(id int64, fn func(*models.MedicationReminder)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrReminderNotFound, id)
	}
	fn(&r)
	m.rows[id] = r
	return nil
}

func (m *MemoryReminders) sorted(keep func(models.MedicationReminder) bool) []models.MedicationReminder {
	m.mu.Lock()
	out := []models.MedicationReminder{}
	for _, r := range m.rows {
		if keep(r) {
			out = append(out, r)
		}
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ScheduledAt.Before(out[j].ScheduledAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Reminders returns the ReminderRepo backing st, or an in-memory one when st has no
// persistent table.
func Reminders(st Store) ReminderRepo {
	if r, ok := st.(ReminderRepo); ok {
		return r
	}
	return NewMemoryReminders()
}
