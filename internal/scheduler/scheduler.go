// Package scheduler runs stored graphs on cron schedules. It polls the
// store rather than holding per-schedule timers so schedule edits take
// effect without restarting anything.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/nkranes/signalflow/internal/store"
)

// GraphRunner executes a stored graph by ID. Satisfied by an
// executor-constructing closure in the host (avoids an import cycle with the
// engine).
type GraphRunner interface {
	RunGraph(ctx context.Context, graphID string) error
}

// GraphRunnerFunc adapts a function to the GraphRunner interface.
type GraphRunnerFunc func(ctx context.Context, graphID string) error

func (f GraphRunnerFunc) RunGraph(ctx context.Context, graphID string) error {
	return f(ctx, graphID)
}

// Scheduler polls the store for due scheduled runs and executes them.
type Scheduler struct {
	store  store.Store
	runner GraphRunner
	parser cron.Parser
	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex

	inflightMu sync.Mutex
	inflight   map[string]struct{} // schedule IDs currently executing (dedup)
}

// NewScheduler creates a new Scheduler.
func NewScheduler(s store.Store, runner GraphRunner, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:    s,
		runner:   runner,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:   logger,
		inflight: make(map[string]struct{}),
	}
}

// Start launches the background scheduling loop with a 60s ticker.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	// Run an initial tick immediately.
	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick checks all enabled schedules and runs those that are due. Exported so
// hosts and tests can drive the scheduler without the background loop.
func (s *Scheduler) Tick(ctx context.Context) {
	runs, err := s.store.ListScheduledRuns(ctx, store.ScheduledRunFilter{EnabledOnly: true})
	if err != nil {
		s.logger.Error("failed to list scheduled runs", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	for _, run := range runs {
		if run.NextRun == nil || !run.NextRun.After(now) {
			if !s.tryAcquire(run.ID) {
				continue // already running (dedup)
			}
			if err := s.runSchedule(ctx, run, now); err != nil {
				s.logger.Error("failed to run schedule",
					slog.String("schedule_id", run.ID),
					slog.String("graph_id", run.GraphID),
					slog.String("error", err.Error()),
				)
			}
			s.release(run.ID)
		}
	}
}

// runSchedule executes one due schedule and advances its timestamps.
func (s *Scheduler) runSchedule(ctx context.Context, run *store.ScheduledRun, now time.Time) error {
	s.logger.Info("running schedule",
		slog.String("schedule_id", run.ID),
		slog.String("graph_id", run.GraphID),
	)

	if err := s.runner.RunGraph(ctx, run.GraphID); err != nil {
		s.logger.Error("scheduled graph execution failed",
			slog.String("schedule_id", run.ID),
			slog.String("graph_id", run.GraphID),
			slog.String("error", err.Error()),
		)
	}

	// Timestamps advance whether the run succeeded or not; a failing graph
	// must not be retried every tick.
	nextRun, err := s.CalculateNextRun(run.CronExpr, now)
	if err != nil {
		return fmt.Errorf("calculate next run for schedule %q: %w", run.ID, err)
	}

	return s.store.UpdateScheduledRun(ctx, run.ID, store.ScheduledRunUpdate{
		LastRun: &now,
		NextRun: &nextRun,
	})
}

// tryAcquire returns true and marks the schedule as in-flight if it is not
// already running.
func (s *Scheduler) tryAcquire(id string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[id]; ok {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

// release removes the schedule from the in-flight set.
func (s *Scheduler) release(id string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, id)
}

// CalculateNextRun computes the next run time for a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}
