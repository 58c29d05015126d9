package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/BTreeMap/MedBay/internal/models"
)

var _ ReminderRepo = (*SQLiteStore)(nil)

const sqliteReminderColumns = `id, medicine_name, dosage, scheduled_at, user_phone_number, recurring_type, status, created_at`

func (s *SQLiteStore) AddReminder(ctx context.Context, r models.MedicationReminder) (models.MedicationReminder, error) {
	r, err := normalizeReminder(r)
	if err != nil {
		return r, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO schedules (medicine_name, dosage, scheduled_at, user_phone_number, recurring_type, status, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.MedicineName, r.Dosage, r.ScheduledAt, r.UserPhoneNumber, string(r.Recurrence), string(r.Status), r.CreatedAt)
	if err != nil {
		return r, fmt.Errorf("failed to insert reminder: %w", err)
	}
	if r.ID, err = res.LastInsertId(); err != nil {
		return r, fmt.Errorf("failed to read reminder id: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) ListReminders(ctx context.Context) ([]models.MedicationReminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteReminderColumns+` FROM schedules ORDER BY scheduled_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list reminders: %w", err)
	}
	return scanReminders(rows)
}

func (s *SQLiteStore) DeleteReminder(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	return reminderAffected(res, err, id)
}

func (s *SQLiteStore) DueReminders(ctx context.Context, from, to time.Time) ([]models.MedicationReminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteReminderColumns+` FROM schedules
WHERE scheduled_at >= ? AND scheduled_at <= ? AND status != ?
ORDER BY scheduled_at, id`,
		from.UTC().Truncate(time.Second), to.UTC(), string(models.ReminderSent))
	if err != nil {
		return nil, fmt.Errorf("failed to query due reminders: %w", err)
	}
	return scanReminders(rows)
}

func (s *SQLiteStore) SetReminderStatus(ctx context.Context, id int64, status models.ReminderStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE schedules SET status = ? WHERE id = ?`, string(status), id)
	return reminderAffected(res, err, id)
}

func (s *SQLiteStore) RescheduleReminder(ctx context.Context, id int64, next time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET scheduled_at = ?, status = ? WHERE id = ?`,
		next.UTC().Truncate(time.Second), string(models.ReminderScheduled), id)
	return reminderAffected(res, err, id)
}

// reminderAffected maps a single-row write to ErrReminderNotFound when nothing matched.
func reminderAffected(res sql.Result, err error, id int64) error {
	if err != nil {
		return fmt.Errorf("failed to update reminder %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update reminder %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrReminderNotFound, id)
	}
	return nil
}
