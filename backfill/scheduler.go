package backfill

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const DefaultCron = "0 17 * * *"

// ValidateCron checks a standard five-field cron expression.
func ValidateCron(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	return nil
}

type SchedulerOptions struct {
	Spec     string
	Location *time.Location
	Backfill Options
	// AutoStart starts the cron when Serve is called.
	AutoStart bool
}

type SchedulerStatus struct {
	Running         bool       `json:"isRunning"`
	CronExpression  string     `json:"cronExpression"`
	Timezone        string     `json:"timezone"`
	NextRun         *time.Time `json:"nextRun,omitempty"`
	LastRun         *time.Time `json:"lastRun,omitempty"`
	LastError       string     `json:"lastError,omitempty"`
	BackfillRunning bool       `json:"backfillRunning"`
}

// Scheduler runs a backfill on a cron schedule. It is an explicit handle
// owned by whoever starts it; nothing in the package schedules on its own.
type Scheduler struct {
	orch   *Orchestrator
	opts   SchedulerOptions
	logger *zap.Logger

	mu         sync.Mutex
	base       context.Context
	cron       *cron.Cron
	entry      cron.EntryID
	spec       string
	lastRun    *time.Time
	lastResult *BackfillSummary
	lastErr    string
}

func NewScheduler(orch *Orchestrator, opts SchedulerOptions, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Spec == "" {
		opts.Spec = DefaultCron
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	opts.Backfill.Source = SourceScheduler
	return &Scheduler{
		orch:   orch,
		opts:   opts,
		logger: logger.Named("scheduler"),
		base:   context.Background(),
		spec:   opts.Spec,
	}
}

// Start (re)starts the cron with spec, or with the last used expression
// when spec is empty.
func (s *Scheduler) Start(spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if spec == "" {
		spec = s.spec
	}
	if err := ValidateCron(spec); err != nil {
		return err
	}
	s.stopLocked()

	c := cron.New(
		cron.WithLocation(s.opts.Location),
		cron.WithLogger(cronLogger{s.logger.Sugar()}),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{s.logger.Sugar()})),
	)
	entry, err := c.AddFunc(spec, s.tick)
	if err != nil {
		return fmt.Errorf("schedule backfill: %w", err)
	}
	c.Start()

	s.cron = c
	s.entry = entry
	s.spec = spec
	s.logger.Info("scheduler started",
		zap.String("cron", spec),
		zap.String("timezone", s.opts.Location.String()),
		zap.Time("next_run", c.Entry(entry).Next),
	)
	return nil
}

// Stop halts future ticks. A backfill already running is left to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopLocked() {
		s.logger.Info("scheduler stopped")
	}
}

func (s *Scheduler) stopLocked() bool {
	if s.cron == nil {
		return false
	}
	s.cron.Stop()
	s.cron = nil
	s.entry = 0
	return true
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cron != nil
}

func (s *Scheduler) Status() SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := SchedulerStatus{
		Running:         s.cron != nil,
		CronExpression:  s.spec,
		Timezone:        s.opts.Location.String(),
		LastRun:         s.lastRun,
		LastError:       s.lastErr,
		BackfillRunning: s.orch.Status().Running,
	}
	if s.cron != nil {
		if next := s.cron.Entry(s.entry).Next; !next.IsZero() {
			status.NextRun = &next
		}
	}
	return status
}

// LastResult is the summary of the most recent scheduled run, if any.
func (s *Scheduler) LastResult() *BackfillSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResult
}

func (s *Scheduler) tick() {
	s.mu.Lock()
	ctx := s.base
	s.mu.Unlock()

	started := time.Now()
	s.logger.Info("scheduled backfill triggered")
	summary, err := s.orch.RunBackfill(ctx, s.opts.Backfill)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = &started
	switch {
	case errors.Is(err, ErrRunInProgress):
		s.lastErr = err.Error()
		s.logger.Warn("scheduled backfill skipped", zap.Error(err))
	case err != nil:
		s.lastErr = err.Error()
		s.logger.Error("scheduled backfill failed", zap.Error(err))
	default:
		s.lastErr = ""
		s.lastResult = &summary
	}
}

// Serve implements suture.Service. The cron is started when AutoStart is
// set and stopped when ctx ends; scheduled runs use ctx.
func (s *Scheduler) Serve(ctx context.Context) error {
	s.mu.Lock()
	s.base = ctx
	s.mu.Unlock()

	if s.opts.AutoStart {
		if err := s.Start(""); err != nil {
			return err
		}
	}
	<-ctx.Done()
	s.Stop()
	return ctx.Err()
}

func (s *Scheduler) String() string {
	return "backfill-scheduler"
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
