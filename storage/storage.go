package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
)

const (
	runsFile    = "runs.db"
	backupsDir  = "backups"
	monthSuffix = ".json"
)

var monthFilePattern = regexp.MustCompile(`^\d{4}-\d{2}\.json$`)

// RunsPath is the default sqlite run history file inside dir.
func RunsPath(dir string) string {
	return filepath.Join(dir, runsFile)
}

func monthPath(dir, month string) string {
	return filepath.Join(dir, month+monthSuffix)
}

func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	return nil
}
