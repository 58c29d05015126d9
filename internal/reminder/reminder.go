// Package reminder delivers due medication reminders over WhatsApp and advances
// recurring ones to their next occurrence.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/MedBay/internal/metrics"
	"github.com/BTreeMap/MedBay/internal/models"
	"github.com/BTreeMap/MedBay/internal/store"
)

const (
	// DefaultInterval is how often the worker looks for due reminders.
	DefaultInterval = time.Minute
	// DefaultCatchUp bounds how far back a missed reminder is still delivered.
	DefaultCatchUp = 24 * time.Hour
)

// Sender delivers one text message to a phone number.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Opts holds configuration options for the worker.
type Opts struct {
	CatchUp time.Duration
	Now     func() time.Time
	Metrics *metrics.Metrics
}

// Option defines a configuration option for the worker.
type Option func(*Opts)

// WithCatchUp sets how old a reminder may be and still be sent.
func WithCatchUp(d time.Duration) Option {
	return func(o *Opts) { o.CatchUp = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// WithMetrics records delivery outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Opts) { o.Metrics = m }
}

// Worker sends due reminders and applies their recurrence.
type Worker struct {
	repo    store.ReminderRepo
	sender  Sender
	catchUp time.Duration
	now     func() time.Time
	metrics *metrics.Metrics
}

// Result counts what one run did.
type Result struct {
	Sent        int
	Failed      int
	Deleted     int
	Rescheduled int
}

// NewWorker creates a worker reading from repo and sending through sender.
func NewWorker(repo store.ReminderRepo, sender Sender, opts ...Option) *Worker {
	cfg := Opts{CatchUp: DefaultCatchUp, Now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.CatchUp <= 0 {
		cfg.CatchUp = DefaultCatchUp
	}
	return &Worker{repo: repo, sender: sender, catchUp: cfg.CatchUp, now: cfg.Now, metrics: cfg.Metrics}
}

// Text renders the WhatsApp body for r.
func Text(r models.MedicationReminder) string {
	return fmt.Sprintf("MedBay Alert: Time for your medication! 💊 %s, Dosage: %s. Stay healthy!", r.MedicineName, r.Dosage)
}

// Run sends every reminder due between now minus the catch-up window and now. A failed
// send marks the row as error and leaves it due for the next run. A delivered once
// reminder is deleted; a delivered recurring one moves to its next occurrence. Store
// errors are collected and returned after the remaining rows are processed.
func (w *Worker) Run(ctx context.Context) (Result, error) {
	var res Result
	now := w.now().UTC()
	due, err := w.repo.DueReminders(ctx, now.Add(-w.catchUp), now)
	if err != nil {
		return res, fmt.Errorf("load due reminders: %w", err)
	}
	if len(due) == 0 {
		return res, nil
	}
	slog.Debug("Worker.Run: reminders due", "count", len(due))

	var errs []error
	for _, r := range due {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := w.sender.SendMessage(ctx, r.UserPhoneNumber, Text(r)); err != nil {
			slog.Warn("Worker.Run: reminder send failed", "id", r.ID, "error", err)
			w.metrics.Reminder(metrics.OutcomeError)
			res.Failed++
			if err := w.repo.SetReminderStatus(ctx, r.ID, models.ReminderError); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		w.metrics.Reminder(metrics.OutcomeOK)
		res.Sent++
		if err := w.advance(ctx, r, &res); err != nil {
			errs = append(errs, err)
		}
	}
	slog.Info("Worker.Run: reminders processed", "sent", res.Sent, "failed", res.Failed)
	return res, errors.Join(errs...)
}

// advance applies the recurrence of a delivered reminder.
func (w *Worker) advance(ctx context.Context, r models.MedicationReminder, res *Result) error {
	if r.Recurrence == models.RecurOnce {
		if err := w.repo.DeleteReminder(ctx, r.ID); err != nil {
			return err
		}
		res.Deleted++
		return nil
	}
	next, ok := r.Recurrence.Next(r.ScheduledAt)
	if !ok {
		slog.Warn("Worker.advance: unknown recurrence, marking sent", "id", r.ID, "recurrence", r.Recurrence)
		return w.repo.SetReminderStatus(ctx, r.ID, models.ReminderSent)
	}
	if err := w.repo.RescheduleReminder(ctx, r.ID, next); err != nil {
		return err
	}
	res.Rescheduled++
	return nil
}
