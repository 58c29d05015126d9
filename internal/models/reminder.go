package models

import "time"

// Recurrence controls how a medication reminder repeats after it is sent.
type Recurrence string

const (
	RecurOnce    Recurrence = "once"
	RecurDaily   Recurrence = "daily"
	RecurWeekly  Recurrence = "weekly"
	RecurMonthly Recurrence = "monthly"
)

// Valid reports whether r is one of the known recurrence types.
func (r Recurrence) Valid() bool {
	switch r {
	case RecurOnce, RecurDaily, RecurWeekly, RecurMonthly:
		return true
	}
	return false
}

// Next returns the occurrence following t. It reports false for once and for unknown
// types. Monthly steps clamp to the last day of a shorter month, so Jan 31 is followed
// by Feb 28 (or 29).
func (r Recurrence) Next(t time.Time) (time.Time, bool) {
	switch r {
	case RecurDaily:
		return t.AddDate(0, 0, 1), true
	case RecurWeekly:
		return t.AddDate(0, 0, 7), true
	case RecurMonthly:
		return addMonthClamped(t), true
	}
	return time.Time{}, false
}

func addMonthClamped(t time.Time) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+1, 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := first.AddDate(0, 1, -1).Day(); d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

// ReminderStatus is the delivery state of a medication reminder.
type ReminderStatus string

const (
	ReminderScheduled ReminderStatus = "scheduled"
	ReminderSent      ReminderStatus = "sent"
	ReminderError     ReminderStatus = "error"
)

// MedicationReminder is one row of the medication schedule. Due reminders are sent to
// UserPhoneNumber over WhatsApp.
type MedicationReminder struct {
	ID              int64          `json:"id"`
	MedicineName    string         `json:"medicine_name"`
	Dosage          string         `json:"dosage"`
	ScheduledAt     time.Time      `json:"scheduled_at"`
	UserPhoneNumber string         `json:"user_phone_number"`
	Recurrence      Recurrence     `json:"recurring_type"`
	Status          ReminderStatus `json:"status"`
	CreatedAt       time.Time      `json:"created_at"`
}
