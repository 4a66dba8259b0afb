package host

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/caffeineduck/goplug/plugin"
)

// Job calls a script function on a cron schedule.
type Job struct {
	// Spec is a five-field cron expression or a descriptor such as "@every 1m".
	Spec string

	// Module is empty for root-level functions.
	Module   string
	Function string
}

func (j Job) target() string {
	if j.Module == "" {
		return j.Function
	}
	return j.Module + "." + j.Function
}

// Scheduler runs Jobs through a Runner. A job that is still running when its
// next activation comes around is skipped.
type Scheduler struct {
	runner *Runner
	cron   *cron.Cron
	logger *slog.Logger

	mu      sync.Mutex
	jobs    []Job
	running bool
}

// NewScheduler creates a scheduler with no jobs.
func NewScheduler(runner *Runner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		runner: runner,
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger: logger.With("component", "host.scheduler"),
	}
}

// Add registers a job. Jobs may be added before or after Start.
func (s *Scheduler) Add(ctx context.Context, job Job) error {
	if job.Function == "" {
		return fmt.Errorf("schedule %q: function required", job.Spec)
	}
	if _, err := cron.ParseStandard(job.Spec); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", job.Spec, err)
	}

	if _, err := s.cron.AddFunc(job.Spec, func() { s.run(ctx, job) }); err != nil {
		return fmt.Errorf("failed to schedule %s: %w", job.target(), err)
	}

	s.mu.Lock()
	s.jobs = append(s.jobs, job)
	s.mu.Unlock()
	return nil
}

// Start begins running jobs. The scheduler stops when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.cron.Start()
	s.running = true
	s.logger.Info("scheduler started", "jobs", len(s.jobs))

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
}

// Stop halts the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("scheduler stopped")
}

// IsRunning reports whether the scheduler has been started and not stopped.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.running
}

// NextRun returns the earliest upcoming activation, or the zero time when
// nothing is scheduled or the scheduler is stopped.
func (s *Scheduler) NextRun() time.Time {
	var next time.Time
	for _, e := range s.cron.Entries() {
		if e.Next.IsZero() {
			continue
		}
		if next.IsZero() || e.Next.Before(next) {
			next = e.Next
		}
	}
	return next
}

func (s *Scheduler) run(ctx context.Context, job Job) {
	start := time.Now()
	_, err := s.runner.Call(ctx, job.Module, job.Function, nil, nil)
	if err != nil {
		s.logger.Error("scheduled call failed",
			"function", job.target(),
			"status", plugin.StatusOf(err).String(),
			"error", err,
		)
		return
	}
	s.logger.Debug("scheduled call completed",
		"function", job.target(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
