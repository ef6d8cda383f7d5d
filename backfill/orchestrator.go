package backfill

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pickleball-calendar/api"
	"pickleball-calendar/config"
	"pickleball-calendar/courts"
	"pickleball-calendar/metrics"
)

var ErrRunInProgress = errors.New("backfill already in progress")

// Fetcher returns the raw availability payload for one facility group and date.
type Fetcher interface {
	FetchAvailability(ctx context.Context, date string, group config.FacilityGroup, session api.Session) ([]byte, error)
}

// SessionSource hands out the upstream session used for each request.
type SessionSource interface {
	Session(ctx context.Context, force bool) (api.Session, error)
}

type DayStore interface {
	IsValidForDate(date string) bool
	UpsertDay(date string, parks []courts.Park) error
}

// RunRecorder persists finished backfill summaries.
type RunRecorder interface {
	RecordRun(ctx context.Context, summary BackfillSummary) error
}

// Run sources.
const (
	SourceManual    = "manual"
	SourceScheduler = "scheduler"
	SourceStartup   = "startup"
)

type Options struct {
	SkipExisting         bool          `json:"skipExisting"`
	DelayBetweenRequests time.Duration `json:"delayBetweenRequests"`
	DelayBetweenDates    time.Duration `json:"delayBetweenDates"`
	DaysAhead            int           `json:"daysAhead"`
	// Source labels the run in logs and history.
	Source string `json:"source"`
}

// OptionsFromConfig maps the backfill section of the config onto run options.
func OptionsFromConfig(cfg config.BackfillConfig) Options {
	return Options{
		SkipExisting:         cfg.SkipExisting,
		DelayBetweenRequests: cfg.DelayBetweenRequests,
		DelayBetweenDates:    cfg.DelayBetweenDates,
		DaysAhead:            cfg.DaysAhead,
	}
}

type DateState string

const (
	StatePending         DateState = "pending"
	StateFetchingSources DateState = "fetching-sources"
	StateMerging         DateState = "merging"
	StateCaching         DateState = "caching"
	StateDone            DateState = "done"
	StateFailed          DateState = "failed"
)

type RunError struct {
	Date          string `json:"date"`
	FacilityGroup int    `json:"facilityGroup,omitempty"`
	Error         string `json:"error"`
}

type DateResult struct {
	Date                 string     `json:"date"`
	State                DateState  `json:"state"`
	Skipped              bool       `json:"skipped"`
	SuccessfulFacilities int        `json:"successfulFacilities"`
	FailedFacilities     int        `json:"failedFacilities"`
	Parks                int        `json:"parks"`
	Errors               []RunError `json:"errors"`
}

func (r DateResult) Succeeded() bool {
	return r.State == StateDone && !r.Skipped
}

type BackfillSummary struct {
	RunID                 string        `json:"runId"`
	Source                string        `json:"source"`
	StartedAt             time.Time     `json:"startedAt"`
	Duration              time.Duration `json:"duration"`
	TotalDates            int           `json:"totalDates"`
	ProcessedDates        int           `json:"processedDates"`
	SkippedDates          int           `json:"skippedDates"`
	SuccessfulDates       int           `json:"successfulDates"`
	FailedDates           int           `json:"failedDates"`
	TotalAPIRequests      int           `json:"totalApiRequests"`
	SuccessfulAPIRequests int           `json:"successfulApiRequests"`
	FailedAPIRequests     int           `json:"failedApiRequests"`
	Cancelled             bool          `json:"cancelled"`
	Errors                []RunError    `json:"errors"`
	Dates                 []DateResult  `json:"dates"`
}

type Status struct {
	Running   bool             `json:"isRunning"`
	Source    string           `json:"source,omitempty"`
	StartedAt *time.Time       `json:"startedAt,omitempty"`
	LastRun   *BackfillSummary `json:"lastRun,omitempty"`
}

// Orchestrator drives fetch, merge and cache for a window of dates. Dates
// and sources are processed one at a time; a failing source or date is
// recorded and the run moves on.
type Orchestrator struct {
	groups   []config.FacilityGroup
	fetcher  Fetcher
	sessions SessionSource
	store    DayStore
	recorder RunRecorder
	logger   *zap.Logger
	loc      *time.Location

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	run sync.Mutex // held for the whole of a run

	mu        sync.Mutex
	running   bool
	source    string
	startedAt time.Time
	last      *BackfillSummary
}

type OrchestratorOption func(*Orchestrator)

func WithRecorder(recorder RunRecorder) OrchestratorOption {
	return func(o *Orchestrator) { o.recorder = recorder }
}

func WithLocation(loc *time.Location) OrchestratorOption {
	return func(o *Orchestrator) {
		if loc != nil {
			o.loc = loc
		}
	}
}

func WithClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) { o.now = now }
}

// WithSleep replaces the delay function, mostly so tests do not wait.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) OrchestratorOption {
	return func(o *Orchestrator) { o.sleep = sleep }
}

func NewOrchestrator(groups []config.FacilityGroup, fetcher Fetcher, sessions SessionSource, store DayStore, logger *zap.Logger, opts ...OrchestratorOption) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		groups:   groups,
		fetcher:  fetcher,
		sessions: sessions,
		store:    store,
		logger:   logger.Named("backfill"),
		loc:      time.Local,
		now:      time.Now,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Dates lists today through today+daysAhead in the orchestrator's zone.
func (o *Orchestrator) Dates(daysAhead int) []string {
	now := o.now().In(o.loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, o.loc)
	dates := make([]string, 0, daysAhead+1)
	for i := 0; i <= daysAhead; i++ {
		dates = append(dates, today.AddDate(0, 0, i).Format("2006-01-02"))
	}
	return dates
}

// RunBackfill processes every date in the window. It returns
// ErrRunInProgress without doing anything when another run holds the lock.
func (o *Orchestrator) RunBackfill(ctx context.Context, opts Options) (BackfillSummary, error) {
	if !o.run.TryLock() {
		return BackfillSummary{}, ErrRunInProgress
	}
	defer o.run.Unlock()

	if opts.Source == "" {
		opts.Source = SourceManual
	}
	summary := BackfillSummary{
		RunID:     uuid.NewString(),
		Source:    opts.Source,
		StartedAt: o.now(),
		Errors:    []RunError{},
		Dates:     []DateResult{},
	}
	o.begin(opts.Source, summary.StartedAt)
	defer func() { o.finish(summary) }()

	dates := o.Dates(opts.DaysAhead)
	summary.TotalDates = len(dates)
	logger := o.logger.With(zap.String("run_id", summary.RunID), zap.String("source", opts.Source))
	logger.Info("backfill started",
		zap.Strings("dates", dates),
		zap.Int("facility_groups", len(o.groups)),
		zap.Bool("skip_existing", opts.SkipExisting),
	)

	fetched := false
	for _, date := range dates {
		if ctx.Err() != nil {
			summary.Cancelled = true
			break
		}

		if opts.SkipExisting && o.store.IsValidForDate(date) {
			logger.Info("date already cached, skipping", zap.String("date", date))
			summary.SkippedDates++
			summary.Dates = append(summary.Dates, DateResult{Date: date, State: StateDone, Skipped: true, Errors: []RunError{}})
			metrics.BackfillDatesTotal.WithLabelValues("skipped").Inc()
			continue
		}

		if fetched {
			if err := o.sleep(ctx, opts.DelayBetweenDates); err != nil {
				summary.Cancelled = true
				break
			}
		}
		fetched = true

		result, stats := o.processDate(ctx, date, opts.DelayBetweenRequests)
		summary.ProcessedDates++
		summary.TotalAPIRequests += stats.total
		summary.SuccessfulAPIRequests += stats.successful
		summary.FailedAPIRequests += stats.failed
		summary.Errors = append(summary.Errors, result.Errors...)
		summary.Dates = append(summary.Dates, result)
		if result.State == StateDone {
			summary.SuccessfulDates++
			metrics.BackfillDatesTotal.WithLabelValues("success").Inc()
		} else {
			summary.FailedDates++
			metrics.BackfillDatesTotal.WithLabelValues("failed").Inc()
		}
		if stats.cancelled {
			summary.Cancelled = true
			break
		}
	}

	summary.Duration = o.now().Sub(summary.StartedAt)
	metrics.BackfillRunsTotal.Inc()
	metrics.BackfillDurationSeconds.Observe(summary.Duration.Seconds())
	logger.Info("backfill finished",
		zap.Int("processed", summary.ProcessedDates),
		zap.Int("skipped", summary.SkippedDates),
		zap.Int("successful", summary.SuccessfulDates),
		zap.Int("failed", summary.FailedDates),
		zap.Int("api_requests", summary.TotalAPIRequests),
		zap.Int("api_failures", summary.FailedAPIRequests),
		zap.Bool("cancelled", summary.Cancelled),
		zap.Duration("duration", summary.Duration),
	)

	if o.recorder != nil {
		// recorded even when the caller's context is gone
		if err := o.recorder.RecordRun(context.WithoutCancel(ctx), summary); err != nil {
			logger.Warn("record backfill run", zap.Error(err))
		}
	}
	return summary, nil
}

// RunForDate fetches and caches one date regardless of what is cached.
func (o *Orchestrator) RunForDate(ctx context.Context, date string) (DateResult, error) {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return DateResult{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", date)
	}
	if !o.run.TryLock() {
		return DateResult{}, ErrRunInProgress
	}
	defer o.run.Unlock()

	result, _ := o.processDate(ctx, date, 0)
	return result, nil
}

type requestStats struct {
	total, successful, failed int
	cancelled                 bool
}

func (o *Orchestrator) processDate(ctx context.Context, date string, delay time.Duration) (DateResult, requestStats) {
	logger := o.logger.With(zap.String("date", date))
	result := DateResult{Date: date, State: StatePending, Errors: []RunError{}}
	var stats requestStats

	result.State = StateFetchingSources
	outcomes := make([]SourceOutcome, 0, len(o.groups))
	for i, group := range o.groups {
		if i > 0 {
			if err := o.sleep(ctx, delay); err != nil {
				stats.cancelled = true
				break
			}
		}
		if ctx.Err() != nil {
			stats.cancelled = true
			break
		}
		payload, err := o.fetchSource(ctx, date, group)
		if err != nil {
			logger.Warn("source failed", zap.Int("facility_group", group.ID), zap.Error(err))
		}
		outcomes = append(outcomes, SourceOutcome{Group: group, Payload: payload, Err: err})
	}
	// a cancel during the last fetch must not cache a partial date
	if ctx.Err() != nil {
		stats.cancelled = true
	}

	if stats.cancelled {
		stats.total = len(outcomes)
		for _, outcome := range outcomes {
			if outcome.Err != nil {
				stats.failed++
			} else {
				stats.successful++
			}
		}
		result.State = StateFailed
		result.Errors = append(result.Errors, RunError{Date: date, Error: "cancelled: " + context.Cause(ctx).Error()})
		logger.Warn("date abandoned", zap.Error(ctx.Err()))
		return result, stats
	}

	result.State = StateMerging
	merged, err := MergeSources(date, outcomes)
	stats.total = len(outcomes)
	stats.successful = merged.SuccessfulSources
	stats.failed = merged.FailedSources
	result.SuccessfulFacilities = merged.SuccessfulSources
	result.FailedFacilities = merged.FailedSources
	for _, failure := range merged.Failures {
		result.Errors = append(result.Errors, RunError{Date: date, FacilityGroup: failure.Group.ID, Error: failure.Err.Error()})
	}
	if err != nil {
		result.State = StateFailed
		result.Errors = append(result.Errors, RunError{Date: date, Error: err.Error()})
		logger.Error("no source data for date", zap.Int("failed_sources", merged.FailedSources))
		return result, stats
	}

	result.State = StateCaching
	if err := o.store.UpsertDay(date, merged.Parks); err != nil {
		result.State = StateFailed
		result.Errors = append(result.Errors, RunError{Date: date, Error: "cache: " + err.Error()})
		logger.Error("cache day", zap.Error(err))
		return result, stats
	}

	result.State = StateDone
	result.Parks = len(merged.Parks)
	logger.Info("date cached",
		zap.Int("parks", result.Parks),
		zap.Int("successful_sources", merged.SuccessfulSources),
		zap.Int("failed_sources", merged.FailedSources),
	)
	return result, stats
}

func (o *Orchestrator) fetchSource(ctx context.Context, date string, group config.FacilityGroup) ([]byte, error) {
	session, err := o.sessions.Session(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	return o.fetcher.FetchAvailability(ctx, date, group, session)
}

func (o *Orchestrator) begin(source string, startedAt time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.running = true
	o.source = source
	o.startedAt = startedAt
}

func (o *Orchestrator) finish(summary BackfillSummary) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.running = false
	o.source = ""
	o.startedAt = time.Time{}
	o.last = &summary
}

func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	status := Status{Running: o.running, Source: o.source, LastRun: o.last}
	if o.running {
		started := o.startedAt
		status.StartedAt = &started
	}
	return status
}

func (o *Orchestrator) Groups() []config.FacilityGroup {
	return o.groups
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
