package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

type CacheHealth struct {
	TotalFiles      int        `json:"totalFiles"`
	AvailableMonths []string   `json:"availableMonths"`
	HealthyFiles    int        `json:"healthyFiles"`
	StaleFiles      int        `json:"staleFiles"`
	InvalidFiles    int        `json:"invalidFiles"`
	OldestData      *time.Time `json:"oldestData"`
	NewestData      *time.Time `json:"newestData"`
}

// Health summarises every month file: fresh files are healthy, readable files
// older than a day are stale.
func (s *Store) Health() (CacheHealth, error) {
	months, err := s.Months()
	if err != nil {
		return CacheHealth{AvailableMonths: []string{}}, err
	}

	health := CacheHealth{
		TotalFiles:      len(months),
		AvailableMonths: months,
	}
	for _, month := range months {
		cache, ok := s.ReadMonth(month)
		if !ok {
			health.InvalidFiles++
			continue
		}
		updated := cache.LastUpdated
		if health.OldestData == nil || updated.Before(*health.OldestData) {
			health.OldestData = &updated
		}
		if health.NewestData == nil || updated.After(*health.NewestData) {
			health.NewestData = &updated
		}
		if s.IsFresh(updated) {
			health.HealthyFiles++
		} else {
			health.StaleFiles++
		}
	}
	return health, nil
}

type FileError struct {
	File  string `json:"file"`
	Error string `json:"error"`
}

type RecoveryResult struct {
	TotalFiles     int         `json:"totalFiles"`
	ValidFiles     int         `json:"validFiles"`
	CorruptedFiles int         `json:"corruptedFiles"`
	RemovedFiles   []string    `json:"removedFiles"`
	Errors         []FileError `json:"errors"`
}

// Recover deletes month files that cannot be decoded or lack required fields.
func (s *Store) Recover() (RecoveryResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := RecoveryResult{RemovedFiles: []string{}, Errors: []FileError{}}
	months, err := s.Months()
	if err != nil {
		return result, err
	}
	result.TotalFiles = len(months)

	for _, month := range months {
		file := month + monthSuffix
		path := monthPath(s.dir, month)

		data, err := os.ReadFile(path)
		if err == nil {
			var cache MonthlyCache
			if err = json.Unmarshal(data, &cache); err == nil {
				if cache.valid() {
					result.ValidFiles++
					continue
				}
				s.logger.Warn("invalid cache structure, removing", zap.String("file", file))
			}
		}
		if err != nil {
			s.logger.Error("unreadable cache file, removing", zap.String("file", file), zap.Error(err))
			result.Errors = append(result.Errors, FileError{File: file, Error: err.Error()})
		}

		if err := os.Remove(path); err != nil {
			s.logger.Error("remove corrupted cache file", zap.String("file", file), zap.Error(err))
			result.Errors = append(result.Errors, FileError{File: file, Error: err.Error()})
			continue
		}
		result.CorruptedFiles++
		result.RemovedFiles = append(result.RemovedFiles, file)
	}
	return result, nil
}

type CleanupOptions struct {
	MaxAgeDays       int
	ProblematicFiles []string
}

type RemovedFile struct {
	Filename string `json:"filename"`
	Reason   string `json:"reason"`
	Size     int64  `json:"size"`
	AgeDays  int    `json:"age"`
}

type CleanupResult struct {
	Success                   bool          `json:"success"`
	Duration                  time.Duration `json:"duration"`
	TotalFilesEvaluated       int           `json:"totalFilesEvaluated"`
	FilesIdentifiedForRemoval int           `json:"filesIdentifiedForRemoval"`
	FilesSuccessfullyRemoved  int           `json:"filesSuccessfullyRemoved"`
	RemovedFiles              []RemovedFile `json:"removedFiles"`
	BackupCreated             bool          `json:"backupCreated"`
	BackupPath                string        `json:"backupPath,omitempty"`
	Errors                    []FileError   `json:"errors,omitempty"`
}

type backupManifest struct {
	Timestamp         time.Time      `json:"timestamp"`
	BackupReason      string         `json:"backupReason"`
	TotalFiles        int            `json:"totalFiles"`
	SuccessfulBackups int            `json:"successfulBackups"`
	FailedBackups     int            `json:"failedBackups"`
	Files             []backupRecord `json:"files"`
}

type backupRecord struct {
	Filename   string `json:"filename"`
	Success    bool   `json:"success"`
	BackupPath string `json:"backupPath,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Cleanup removes month files whose modification time is older than
// MaxAgeDays or that are listed in ProblematicFiles. Every file is copied to
// a timestamped backup directory first; nothing is removed when the backup
// fails.
func (s *Store) Cleanup(opts CleanupOptions) (CleanupResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.now()
	result := CleanupResult{RemovedFiles: []RemovedFile{}}

	months, err := s.Months()
	if err != nil {
		return result, err
	}
	result.TotalFilesEvaluated = len(months)

	problematic := map[string]struct{}{}
	for _, file := range opts.ProblematicFiles {
		problematic[file] = struct{}{}
	}
	maxAge := time.Duration(opts.MaxAgeDays) * 24 * time.Hour

	candidates := []RemovedFile{}
	for _, month := range months {
		file := month + monthSuffix
		info, err := os.Stat(monthPath(s.dir, month))
		if err != nil {
			s.logger.Warn("evaluate cache file", zap.String("file", file), zap.Error(err))
			continue
		}
		age := start.Sub(info.ModTime())
		reasons := []string{}
		if opts.MaxAgeDays > 0 && age > maxAge {
			reasons = append(reasons, fmt.Sprintf("file_too_old (%d days)", int(age.Hours()/24)))
		}
		if _, ok := problematic[file]; ok {
			reasons = append(reasons, "problematic_file")
		}
		if len(reasons) == 0 {
			continue
		}
		candidates = append(candidates, RemovedFile{
			Filename: file,
			Reason:   strings.Join(reasons, ", "),
			Size:     info.Size(),
			AgeDays:  int(age.Hours() / 24),
		})
	}
	result.FilesIdentifiedForRemoval = len(candidates)

	if len(candidates) == 0 {
		result.Success = true
		result.Duration = s.now().Sub(start)
		return result, nil
	}

	backupPath, err := s.backup(candidates, start)
	if err != nil {
		s.logger.Error("cache backup failed, aborting cleanup", zap.Error(err))
		result.Duration = s.now().Sub(start)
		return result, fmt.Errorf("backup before cleanup: %w", err)
	}
	result.BackupCreated = true
	result.BackupPath = backupPath

	for _, candidate := range candidates {
		if err := os.Remove(filepath.Join(s.dir, candidate.Filename)); err != nil {
			s.logger.Error("remove cache file", zap.String("file", candidate.Filename), zap.Error(err))
			result.Errors = append(result.Errors, FileError{File: candidate.Filename, Error: err.Error()})
			continue
		}
		s.logger.Info("removed cache file",
			zap.String("file", candidate.Filename),
			zap.String("reason", candidate.Reason),
		)
		result.RemovedFiles = append(result.RemovedFiles, candidate)
	}
	result.FilesSuccessfullyRemoved = len(result.RemovedFiles)
	result.Success = len(result.Errors) == 0
	result.Duration = s.now().Sub(start)
	return result, nil
}

func (s *Store) backup(files []RemovedFile, at time.Time) (string, error) {
	stamp := strings.NewReplacer(":", "-", ".", "-").Replace(at.UTC().Format("2006-01-02T15:04:05.000Z"))
	dir := filepath.Join(s.dir, backupsDir, "cache-backup-"+stamp)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	manifest := backupManifest{
		Timestamp:    at.UTC(),
		BackupReason: "cache_cleanup",
		TotalFiles:   len(files),
		Files:        make([]backupRecord, 0, len(files)),
	}
	var firstErr error
	for _, file := range files {
		target := filepath.Join(dir, file.Filename)
		if err := copyFile(filepath.Join(s.dir, file.Filename), target); err != nil {
			manifest.FailedBackups++
			manifest.Files = append(manifest.Files, backupRecord{Filename: file.Filename, Error: err.Error()})
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", file.Filename, err)
			}
			continue
		}
		manifest.SuccessfulBackups++
		manifest.Files = append(manifest.Files, backupRecord{Filename: file.Filename, Success: true, BackupPath: target})
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, "backup-manifest.json"), data, 0o644); err != nil {
		return "", err
	}
	if firstErr != nil {
		return dir, firstErr
	}
	return dir, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
