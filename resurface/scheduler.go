// Package resurface runs the periodic jobs that bring deferred, delegated
// and someday tasks back to the user's attention.
package resurface

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/GoCodeAlone/focus/events"
	"github.com/GoCodeAlone/focus/task"
)

// Scheduler owns the cron timers and the run state of the four jobs.
type Scheduler struct {
	cfg    Config
	store  task.Store
	bus    events.Bus
	logger *slog.Logger
	now    func() time.Time
	state  *RunState

	mu      sync.Mutex
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	startup sync.WaitGroup
}

// NewScheduler validates cfg and returns a stopped scheduler.
func NewScheduler(store task.Store, bus events.Bus, cfg Config, logger *slog.Logger) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("resurface config: %w", err)
	}
	if store == nil || bus == nil {
		return nil, fmt.Errorf("resurface: store and bus are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:    cfg,
		store:  store,
		bus:    bus,
		logger: logger,
		now:    time.Now,
		state:  newRunState(),
	}, nil
}

// State returns the scheduler's run bookkeeping.
func (s *Scheduler) State() *RunState { return s.state }

// Start registers the jobs and begins scheduling. Deferred activation and
// the someday check also run once immediately to catch up after downtime.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("scheduler already running")
	}

	cl := cronLogger{l: s.logger}
	c := cron.New(
		cron.WithLocation(s.cfg.location()),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	delegatedAt, _ := dailySpec(s.cfg.DelegatedCheckAt)
	postponeAt, _ := dailySpec(s.cfg.PostponeCheckAt)
	specs := map[Job]string{
		JobDeferredActivation:   everySpec(s.cfg.DeferredCheckInterval),
		JobDelegatedFollowUp:    delegatedAt,
		JobSomedayReview:        everySpec(s.cfg.SomedayCheckInterval),
		JobPostponementAnalysis: postponeAt,
	}
	for _, job := range Jobs {
		if _, err := c.AddFunc(specs[job], s.wrap(job)); err != nil {
			return fmt.Errorf("schedule %s: %w", job, err)
		}
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cron = c
	c.Start()

	catchUp := cron.NewChain(cron.Recover(cl))
	s.startup.Add(1)
	go func() {
		defer s.startup.Done()
		catchUp.Then(cron.FuncJob(s.wrap(JobDeferredActivation))).Run()
		catchUp.Then(cron.FuncJob(s.wrap(JobSomedayReview))).Run()
	}()

	s.logger.Info("resurfacing scheduler started", "location", s.cfg.location().String())
	return nil
}

// Stop stops scheduling new runs and waits for running jobs, bounded by
// the configured stop timeout and ctx. Jobs still running when the wait
// ends are cancelled; their store transaction rolls back.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}
	defer cancel()

	done := make(chan struct{})
	go func() {
		<-c.Stop().Done()
		s.startup.Wait()
		close(done)
	}()

	timer := time.NewTimer(s.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case <-done:
		s.logger.Info("resurfacing scheduler stopped")
		return nil
	case <-timer.C:
		return fmt.Errorf("scheduler stop: jobs still running after %s", s.cfg.StopTimeout)
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// RunJob runs one job now, outside the timer, with the same failure
// handling as a scheduled run. A panicking job is reported as a failure.
func (s *Scheduler) RunJob(ctx context.Context, job Job) error {
	var fn func(context.Context, time.Time) error
	switch job {
	case JobDeferredActivation:
		fn = func(ctx context.Context, now time.Time) error {
			_, err := s.RunDeferredActivation(ctx, now)
			return err
		}
	case JobDelegatedFollowUp:
		fn = func(ctx context.Context, now time.Time) error {
			_, err := s.RunDelegatedFollowUp(ctx, now)
			return err
		}
	case JobSomedayReview:
		fn = func(ctx context.Context, now time.Time) error {
			_, err := s.RunSomedayReview(ctx, now)
			return err
		}
	case JobPostponementAnalysis:
		fn = func(ctx context.Context, now time.Time) error {
			_, err := s.RunPostponementAnalysis(ctx, now)
			return err
		}
	default:
		return fmt.Errorf("unknown job %q", job)
	}

	now := s.now().In(s.cfg.location())
	err := runRecovered(ctx, now, fn)
	s.state.record(job, now, err)
	if err != nil {
		s.logger.Error("resurfacing job failed", "job", string(job), "error", err)
		if perr := s.bus.Publish(context.WithoutCancel(ctx), &events.Event{
			Kind:  events.KindJobFailed,
			Job:   string(job),
			Error: err.Error(),
		}); perr != nil {
			s.logger.Warn("publish job failure", "job", string(job), "error", perr)
		}
	}
	return err
}

func runRecovered(ctx context.Context, now time.Time, fn func(context.Context, time.Time) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx, now)
}

// wrap adapts a job to cron. Failures are reported by RunJob and never
// escape to the timer.
func (s *Scheduler) wrap(job Job) func() {
	return func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()
		if ctx == nil || ctx.Err() != nil {
			return
		}
		_ = s.RunJob(ctx, job)
	}
}

// cronLogger bridges cron's logger to slog.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
