// Package scheduler fires ingestion runs on a cron schedule and guarantees
// that runs never overlap.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/citypulse/citypulse/internal/config"
	"github.com/citypulse/citypulse/internal/metrics"
	"github.com/citypulse/citypulse/internal/models"
	"github.com/robfig/cron/v3"
)

// ErrStopped is returned by Start once the scheduler has been stopped.
var ErrStopped = errors.New("scheduler stopped")

// Runner executes one full ingestion run.
type Runner interface {
	Run(ctx context.Context) (models.RunSummary, error)
}

// Clock abstracts time so tests can drive the schedule.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RealClock returns the wall clock.
func RealClock() Clock { return realClock{} }

// State is the scheduler lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Options configures a Scheduler.
type Options struct {
	Schedule     string // standard 5-field cron expression
	Location     *time.Location
	RunOnStartup bool
}

// OptionsFromConfig maps scraper settings onto scheduler options.
func OptionsFromConfig(cfg config.ScraperConfig) Options {
	return Options{
		Schedule:     cfg.Schedule,
		Location:     cfg.Location(),
		RunOnStartup: cfg.RunOnStartup,
	}
}

// Status is a point-in-time view of the scheduler for the ops endpoint.
type Status struct {
	State        string             `json:"state"`
	NextRun      *time.Time         `json:"next_run,omitempty"`
	LastStarted  *time.Time         `json:"last_started,omitempty"`
	LastFinished *time.Time         `json:"last_finished,omitempty"`
	LastSummary  *models.RunSummary `json:"last_summary,omitempty"`
	LastError    string             `json:"last_error,omitempty"`
}

// Scheduler owns the idle/running/stopped state machine.
type Scheduler struct {
	runner   Runner
	schedule cron.Schedule
	opts     Options
	clock    Clock
	logger   *slog.Logger
	metrics  *metrics.Collector

	mu        sync.Mutex
	state     State
	started   bool
	cancelRun context.CancelFunc
	stopCh    chan struct{}
	runs      sync.WaitGroup

	nextRun      time.Time
	lastStarted  time.Time
	lastFinished time.Time
	lastSummary  *models.RunSummary
	lastErr      error
}

// New parses the schedule and returns an idle scheduler. clock and collector
// may be nil.
func New(runner Runner, opts Options, clock Clock, logger *slog.Logger, collector *metrics.Collector) (*Scheduler, error) {
	if runner == nil {
		return nil, errors.New("scheduler requires a runner")
	}
	if opts.Location == nil {
		return nil, errors.New("scheduler requires a location")
	}
	schedule, err := cron.ParseStandard(opts.Schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", opts.Schedule, err)
	}
	if clock == nil {
		clock = realClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		runner:   runner,
		schedule: schedule,
		opts:     opts,
		clock:    clock,
		logger:   logger.With("component", "scheduler"),
		metrics:  collector,
		state:    StateIdle,
		stopCh:   make(chan struct{}),
	}, nil
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Next returns the next fire time after t, evaluated in the configured zone.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t.In(s.opts.Location))
}

// Trigger starts a run in the background when the scheduler is idle. A
// trigger that arrives while a run is in progress is dropped, not queued.
func (s *Scheduler) Trigger(ctx context.Context) bool {
	s.mu.Lock()
	switch s.state {
	case StateRunning:
		s.mu.Unlock()
		s.logger.Warn("run still in progress, skipping trigger")
		s.metrics.TriggerSkipped()
		return false
	case StateStopped:
		s.mu.Unlock()
		s.logger.Debug("scheduler stopped, ignoring trigger")
		return false
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.state = StateRunning
	s.cancelRun = cancel
	s.lastStarted = s.clock.Now()
	s.runs.Add(1)
	s.mu.Unlock()

	go s.execute(runCtx, cancel)
	return true
}

func (s *Scheduler) execute(ctx context.Context, cancel context.CancelFunc) {
	defer s.runs.Done()
	defer cancel()

	summary, err := s.runner.Run(ctx)

	s.mu.Lock()
	s.cancelRun = nil
	s.lastFinished = s.clock.Now()
	s.lastSummary = &summary
	s.lastErr = err
	if s.state == StateRunning {
		s.state = StateIdle
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("ingestion run failed", "run_id", summary.RunID, "error", err)
		return
	}
	s.logger.Debug("scheduled run returned",
		"run_id", summary.RunID,
		"new", summary.TotalNew,
		"updated", summary.TotalUpdated,
		"skipped", summary.TotalSkipped,
		"stopped", summary.Stopped,
	)
}

// Start runs the optional bootstrap run and then fires the schedule until ctx
// is cancelled or Stop is called. It blocks.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if s.started {
		s.mu.Unlock()
		return errors.New("scheduler already started")
	}
	s.started = true
	s.mu.Unlock()

	s.logger.Info("scheduler started",
		"schedule", s.opts.Schedule,
		"timezone", s.opts.Location.String(),
		"run_on_startup", s.opts.RunOnStartup,
	)

	if s.opts.RunOnStartup {
		s.Trigger(ctx)
	}

	next := s.Next(s.clock.Now())
	for {
		s.mu.Lock()
		s.nextRun = next
		s.mu.Unlock()
		s.logger.Debug("next run scheduled", "at", next)

		select {
		case <-s.clock.After(next.Sub(s.clock.Now())):
			s.Trigger(ctx)
			next = s.following(next)
		case <-s.stopCh:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// following returns the fire time after prev. It advances from prev so a
// wall clock reading slightly behind prev cannot yield prev again, and skips
// fire times already missed.
func (s *Scheduler) following(prev time.Time) time.Time {
	next := s.Next(prev)
	if fromNow := s.Next(s.clock.Now()); fromNow.After(next) {
		return fromNow
	}
	return next
}

// Stop moves the scheduler to stopped, cancels any in-flight run and waits
// for it to return. Calling Stop more than once is safe.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		s.runs.Wait()
		return
	}
	s.state = StateStopped
	cancel := s.cancelRun
	close(s.stopCh)
	s.mu.Unlock()

	if cancel != nil {
		s.logger.Info("stopping in-flight run")
		cancel()
	}
	s.runs.Wait()
	s.logger.Info("scheduler stopped")
}

// Status reports the current state and the last run outcome.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{State: s.state.String(), LastSummary: s.lastSummary}
	if !s.nextRun.IsZero() && s.state != StateStopped {
		t := s.nextRun
		st.NextRun = &t
	}
	if !s.lastStarted.IsZero() {
		t := s.lastStarted
		st.LastStarted = &t
	}
	if !s.lastFinished.IsZero() {
		t := s.lastFinished
		st.LastFinished = &t
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}
