package backfill

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"pickleball-calendar/storage"
)

// RunHistory records backfill summaries in the sqlite runs table.
type RunHistory struct {
	db *sql.DB
}

func OpenRunHistory(path string) (*RunHistory, error) {
	db, err := storage.OpenRunsDB(path)
	if err != nil {
		return nil, fmt.Errorf("open run history: %w", err)
	}
	return &RunHistory{db: db}, nil
}

func (h *RunHistory) RecordRun(ctx context.Context, summary BackfillSummary) error {
	run, err := runFromSummary(summary)
	if err != nil {
		return err
	}
	return storage.AddRun(h.db, run)
}

func (h *RunHistory) List(filter storage.RunFilter) ([]storage.Run, error) {
	return storage.ListRuns(h.db, filter)
}

func (h *RunHistory) Close() error {
	return h.db.Close()
}

func runFromSummary(summary BackfillSummary) (storage.Run, error) {
	errs := summary.Errors
	if errs == nil {
		errs = []RunError{}
	}
	encoded, err := json.Marshal(errs)
	if err != nil {
		return storage.Run{}, fmt.Errorf("encode run errors: %w", err)
	}
	return storage.Run{
		ID:                    summary.RunID,
		Source:                summary.Source,
		StartedAt:             summary.StartedAt.UTC().Format(time.RFC3339),
		DurationMS:            summary.Duration.Milliseconds(),
		TotalDates:            summary.TotalDates,
		ProcessedDates:        summary.ProcessedDates,
		SkippedDates:          summary.SkippedDates,
		SuccessfulDates:       summary.SuccessfulDates,
		FailedDates:           summary.FailedDates,
		TotalAPIRequests:      summary.TotalAPIRequests,
		SuccessfulAPIRequests: summary.SuccessfulAPIRequests,
		FailedAPIRequests:     summary.FailedAPIRequests,
		Errors:                string(encoded),
	}, nil
}
