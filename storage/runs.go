package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// Run is one persisted backfill summary.
type Run struct {
	ID                    string `json:"id"`
	Source                string `json:"source"`
	StartedAt             string `json:"started_at"`
	DurationMS            int64  `json:"duration_ms"`
	TotalDates            int    `json:"total_dates"`
	ProcessedDates        int    `json:"processed_dates"`
	SkippedDates          int    `json:"skipped_dates"`
	SuccessfulDates       int    `json:"successful_dates"`
	FailedDates           int    `json:"failed_dates"`
	TotalAPIRequests      int    `json:"total_api_requests"`
	SuccessfulAPIRequests int    `json:"successful_api_requests"`
	FailedAPIRequests     int    `json:"failed_api_requests"`
	Errors                string `json:"errors"`
}

type RunFilter struct {
	From  string
	To    string
	Limit int
}

func OpenRunsDB(path string) (*sql.DB, error) {
	if err := ensureDir(filepath.Dir(path)); err != nil {
		return nil, err
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return nil, fmt.Errorf("runs path is a directory: %s", path)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if err := ensureRunsSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

func ensureRunsSchema(db *sql.DB) error {
	createTable := `
CREATE TABLE IF NOT EXISTS backfill_runs (
  id TEXT PRIMARY KEY,
  started_at TEXT,
  duration_ms INTEGER,
  total_dates INTEGER,
  processed_dates INTEGER,
  skipped_dates INTEGER,
  successful_dates INTEGER,
  failed_dates INTEGER,
  total_api_requests INTEGER,
  successful_api_requests INTEGER,
  failed_api_requests INTEGER,
  errors TEXT
);`

	if _, err := db.Exec(createTable); err != nil {
		return fmt.Errorf("create runs table: %w", err)
	}

	if _, err := db.Exec("CREATE INDEX IF NOT EXISTS idx_runs_started ON backfill_runs(started_at);"); err != nil {
		return fmt.Errorf("create runs index: %w", err)
	}

	if err := ensureRunsColumns(db, []string{"source"}); err != nil {
		return err
	}

	return nil
}

func ensureRunsColumns(db *sql.DB, columns []string) error {
	rows, err := db.Query("PRAGMA table_info(backfill_runs);")
	if err != nil {
		return fmt.Errorf("inspect runs table: %w", err)
	}
	defer rows.Close()

	existing := map[string]struct{}{}
	for rows.Next() {
		var cid int
		var name string
		var ctype string
		var notnull int
		var dflt sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return fmt.Errorf("inspect runs columns: %w", err)
		}
		existing[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("inspect runs columns: %w", err)
	}

	for _, column := range columns {
		if _, ok := existing[column]; ok {
			continue
		}
		_, err := db.Exec(fmt.Sprintf("ALTER TABLE backfill_runs ADD COLUMN %s TEXT;", column))
		if err != nil {
			return fmt.Errorf("add runs column %s: %w", column, err)
		}
	}
	return nil
}

func AddRun(db *sql.DB, run Run) error {
	query := `
INSERT OR REPLACE INTO backfill_runs (
  id, source, started_at, duration_ms, total_dates, processed_dates, skipped_dates, successful_dates, failed_dates,
  total_api_requests, successful_api_requests, failed_api_requests, errors
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`

	_, err := db.Exec(
		query,
		run.ID,
		run.Source,
		run.StartedAt,
		run.DurationMS,
		run.TotalDates,
		run.ProcessedDates,
		run.SkippedDates,
		run.SuccessfulDates,
		run.FailedDates,
		run.TotalAPIRequests,
		run.SuccessfulAPIRequests,
		run.FailedAPIRequests,
		run.Errors,
	)
	return err
}

// ListRuns returns runs newest first. From and To are YYYY-MM-DD bounds on
// the start date.
func ListRuns(db *sql.DB, filter RunFilter) ([]Run, error) {
	base := `
SELECT id, source, started_at, duration_ms, total_dates, processed_dates, skipped_dates, successful_dates, failed_dates,
  total_api_requests, successful_api_requests, failed_api_requests, errors
FROM backfill_runs`

	conds := []string{}
	args := []any{}

	if filter.From != "" {
		conds = append(conds, "started_at >= ?")
		args = append(args, filter.From)
	}
	if filter.To != "" {
		conds = append(conds, "substr(started_at, 1, 10) <= ?")
		args = append(args, filter.To)
	}

	query := base
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY started_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var run Run
		var source sql.NullString
		var errs sql.NullString
		if err := rows.Scan(
			&run.ID,
			&source,
			&run.StartedAt,
			&run.DurationMS,
			&run.TotalDates,
			&run.ProcessedDates,
			&run.SkippedDates,
			&run.SuccessfulDates,
			&run.FailedDates,
			&run.TotalAPIRequests,
			&run.SuccessfulAPIRequests,
			&run.FailedAPIRequests,
			&errs,
		); err != nil {
			return nil, err
		}
		if source.Valid {
			run.Source = source.String
		}
		if errs.Valid {
			run.Errors = errs.String
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}
