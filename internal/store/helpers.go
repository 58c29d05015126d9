package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/MedBay/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanUser scans the users columns id, phone_number, full_name, language_preference,
// created_at.
func scanUser(row rowScanner) (models.User, error) {
	var u models.User
	var fullName sql.NullString
	var lang string
	if err := row.Scan(&u.ID, &u.PhoneNumber, &fullName, &lang, &u.CreatedAt); err != nil {
		return u, err
	}
	u.FullName = fullName.String
	u.LanguagePreference = models.Language(lang)
	return u, nil
}

// scanSchedules drains rows of id, vaccine_name, description, age_due_in_weeks.
func scanSchedules(rows *sql.Rows) ([]models.VaccinationSchedule, error) {
	defer rows.Close()
	out := []models.VaccinationSchedule{}
	for rows.Next() {
		var v models.VaccinationSchedule
		if err := rows.Scan(&v.ID, &v.VaccineName, &v.Description, &v.AgeDueInWeeks); err != nil {
			return nil, fmt.Errorf("failed to scan vaccination row: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate vaccination rows: %w", err)
	}
	return out, nil
}

// seedSchedules inserts DefaultVaccinationSchedule with an insert-if-absent statement.
func seedSchedules(ctx context.Context, db *sql.DB, insert string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed transaction: %w", err)
	}
	defer tx.Rollback()
	for _, v := range DefaultVaccinationSchedule {
		if _, err := tx.ExecContext(ctx, insert, v.VaccineName, v.Description, v.AgeDueInWeeks); err != nil {
			return fmt.Errorf("seed %s: %w", v.VaccineName, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed transaction: %w", err)
	}
	slog.Debug("Store.seedSchedules: vaccination schedule seeded", "rows", len(DefaultVaccinationSchedule))
	return nil
}
