package store

import (
	"context"
	"fmt"
	"time"

	"github.com/BTreeMap/MedBay/internal/models"
)

var _ ReminderRepo = (*PostgresStore)(nil)

const postgresReminderColumns = `id, medicine_name, dosage, scheduled_at, user_phone_number, recurring_type, status, created_at`

func (s *PostgresStore) AddReminder(ctx context.Context, r models.MedicationReminder) (models.MedicationReminder, error) {
	r, err := normalizeReminder(r)
	if err != nil {
		return r, err
	}
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO schedules (medicine_name, dosage, scheduled_at, user_phone_number, recurring_type, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		r.MedicineName, r.Dosage, r.ScheduledAt, r.UserPhoneNumber, string(r.Recurrence), string(r.Status), r.CreatedAt,
	).Scan(&r.ID)
	if err != nil {
		return r, fmt.Errorf("failed to insert reminder: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) ListReminders(ctx context.Context) ([]models.MedicationReminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+postgresReminderColumns+` FROM schedules ORDER BY scheduled_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list reminders: %w", err)
	}
	return scanReminders(rows)
}

func (s *PostgresStore) DeleteReminder(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = $1`, id)
	return reminderAffected(res, err, id)
}

func (s *PostgresStore) DueReminders(ctx context.Context, from, to time.Time) ([]models.MedicationReminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+postgresReminderColumns+` FROM schedules
WHERE scheduled_at >= $1 AND scheduled_at <= $2 AND status <> $3
ORDER BY scheduled_at, id`,
		from, to, string(models.ReminderSent))
	if err != nil {
		return nil, fmt.Errorf("failed to query due reminders: %w", err)
	}
	return scanReminders(rows)
}

func (s *PostgresStore) SetReminderStatus(ctx context.Context, id int64, status models.ReminderStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE schedules SET status = $1 WHERE id = $2`, string(status), id)
	return reminderAffected(res, err, id)
}

func (s *PostgresStore) RescheduleReminder(ctx context.Context, id int64, next time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE schedules SET scheduled_at = $1, status = $2 WHERE id = $3`,
		next.UTC().Truncate(time.Second), string(models.ReminderScheduled), id)
	return reminderAffected(res, err, id)
}
