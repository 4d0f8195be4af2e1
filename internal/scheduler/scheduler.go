// Package scheduler fires workflow runs on cron schedules. Schedules
// are supplied by configuration and held in memory; there is no
// persistent job table to recover from.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/xiongQvQ/ZenGrowth/pkg/schema"
)

// Runner is the interface the scheduler uses to start workflow runs.
// Satisfied by the orchestrator (avoids an import cycle).
type Runner interface {
	ExecuteWorkflow(ctx context.Context, mode schema.ExecutionMode) (*schema.WorkflowResult, error)
}

// Schedule maps a cron expression to a recurring workflow run.
type Schedule struct {
	ID      string               `json:"id" yaml:"id"`
	Cron    string               `json:"cron" yaml:"cron"`
	Mode    schema.ExecutionMode `json:"mode,omitempty" yaml:"mode,omitempty"`
	Enabled bool                 `json:"enabled" yaml:"enabled"`
}

// ScheduleStatus is a point-in-time view of one registered schedule.
type ScheduleStatus struct {
	Schedule
	NextRun time.Time `json:"next_run"`
	Running bool      `json:"running"`
}

// DefaultPollInterval is how often the loop checks for due schedules.
const DefaultPollInterval = 60 * time.Second

// Config tunes the scheduling loop.
type Config struct {
	PollInterval time.Duration
}

type entry struct {
	schedule Schedule
	spec     cron.Schedule
	next     time.Time
}

// Scheduler polls registered schedules and fires the due ones.
type Scheduler struct {
	cfg    Config
	runner Runner
	parser cron.Parser
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	order   []string
	cancel  context.CancelFunc
	done    chan struct{}
	runs    sync.WaitGroup

	inflightMu sync.Mutex
	inflight   map[string]struct{} // schedule IDs currently executing (dedup)
}

// New creates a Scheduler. logger may be nil.
func New(cfg Config, runner Runner, logger *slog.Logger) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:      cfg,
		runner:   runner,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:   logger,
		entries:  make(map[string]*entry),
		inflight: make(map[string]struct{}),
	}
}

// Add registers a schedule and computes its first fire time. The cron
// expression uses the standard five fields, minute through day of week.
func (s *Scheduler) Add(sched Schedule) error {
	if sched.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "schedule id cannot be empty")
	}
	switch sched.Mode {
	case "", schema.ModeSequential, schema.ModeParallel:
	default:
		return schema.NewErrorf(schema.ErrCodeValidation,
			"schedule %q: unknown execution mode %q", sched.ID, sched.Mode)
	}
	spec, err := s.parser.Parse(sched.Cron)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"schedule %q: invalid cron expression %q: %v", sched.ID, sched.Cron, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[sched.ID]; ok {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"schedule %q already registered", sched.ID)
	}
	s.entries[sched.ID] = &entry{
		schedule: sched,
		spec:     spec,
		next:     spec.Next(time.Now().UTC()),
	}
	s.order = append(s.order, sched.ID)
	return nil
}

// NextRun returns the computed next fire time for a schedule.
func (s *Scheduler) NextRun(id string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return time.Time{}, false
	}
	return e.next, true
}

// Schedules returns a snapshot of every registered schedule in
// registration order.
func (s *Scheduler) Schedules() []ScheduleStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ScheduleStatus, 0, len(s.order))
	for _, id := range s.order {
		e := s.entries[id]
		out = append(out, ScheduleStatus{
			Schedule: e.schedule,
			NextRun:  e.next,
			Running:  s.isInflight(id),
		})
	}
	return out
}

// Start launches the polling loop. It errors if already started.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	count := len(s.entries)
	s.mu.Unlock()

	go s.loop(loopCtx)
	s.logger.Info("scheduler started",
		"schedules", count, "poll_interval", s.cfg.PollInterval.String())
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	// Catch anything that came due between Add and Start.
	s.tick(ctx, time.Now().UTC())

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tick(ctx, now.UTC())
		}
	}
}

// tick fires every due, enabled schedule in its own goroutine. A
// schedule whose previous run is still going is left due and fires on
// the first poll after that run completes.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	for _, e := range s.claimDue(now) {
		sched := e.schedule
		s.runs.Add(1)
		go func() {
			defer s.runs.Done()
			defer s.release(sched.ID)
			s.fire(ctx, sched)
		}()
	}
}

// claimDue collects due enabled schedules, marks them in-flight, and
// advances their next fire time.
func (s *Scheduler) claimDue(now time.Time) []*entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*entry
	for _, id := range s.order {
		e := s.entries[id]
		if !e.schedule.Enabled || e.next.After(now) {
			continue
		}
		if !s.tryAcquire(id) {
			continue
		}
		e.next = e.spec.Next(now)
		due = append(due, e)
	}
	return due
}

func (s *Scheduler) fire(ctx context.Context, sched Schedule) {
	s.logger.Info("scheduled run starting",
		"schedule_id", sched.ID, "mode", string(sched.Mode))

	result, err := s.runner.ExecuteWorkflow(ctx, sched.Mode)
	if err != nil {
		s.logger.Error("scheduled run failed",
			"schedule_id", sched.ID, "error", err.Error())
		return
	}
	s.logger.Info("scheduled run finished",
		"schedule_id", sched.ID,
		"run_id", result.RunID,
		"completion_rate", result.CompletionRate)
}

// tryAcquire marks the schedule in-flight unless it already is.
func (s *Scheduler) tryAcquire(id string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[id]; ok {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, id)
}

func (s *Scheduler) isInflight(id string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	_, ok := s.inflight[id]
	return ok
}

// Stop cancels the loop and waits for it and any in-flight runs to
// finish. Safe to call more than once.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return nil
	}
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	cancel()
	<-done
	s.runs.Wait()

	s.logger.Info("scheduler stopped")
	return nil
}
