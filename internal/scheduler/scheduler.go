// Package scheduler runs MedBay's periodic housekeeping jobs, such as pruning the
// inbound dedup table and expiring locally stored reports.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrInvalidInterval is returned by Every for non-positive intervals.
var ErrInvalidInterval = errors.New("job interval must be positive")

// Task is one run of a job. Returned errors are logged and the job stays scheduled.
type Task func(ctx context.Context) error

type job struct {
	name     string
	interval time.Duration
	task     Task
}

// Scheduler runs registered jobs at fixed intervals until its context ends.
type Scheduler struct {
	mu      sync.Mutex
	jobs    []job
	started bool
	wg      sync.WaitGroup
}

// New creates an empty scheduler.
func New() *Scheduler {
	return &Scheduler{}
}

// Every registers task to run once per interval. Jobs added after Start are ignored.
func (s *Scheduler) Every(name string, interval time.Duration, task Task) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		slog.Warn("Scheduler.Every: already started, job ignored", "job", name)
		return nil
	}
	s.jobs = append(s.jobs, job{name: name, interval: interval, task: task})
	return nil
}

// Start launches one goroutine per job. Each job first runs after one interval.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, j)
	}
	slog.Info("Scheduler.Start: housekeeping started", "jobs", len(s.jobs))
}

// Wait blocks until every job loop has returned after ctx ended.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, j job) {
	defer s.wg.Done()
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, j)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, j job) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Scheduler.runOnce: job panicked", "job", j.name, "panic", r)
		}
	}()
	start := time.Now()
	if err := j.task(ctx); err != nil {
		slog.Error("Scheduler.runOnce: job failed", "job", j.name, "error", err)
		return
	}
	slog.Debug("Scheduler.runOnce: job finished", "job", j.name, "took", time.Since(start))
}
