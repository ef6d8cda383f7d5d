package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"pickleball-calendar/courts"
	"pickleball-calendar/metrics"
)

// FreshFor is how long a month file counts as fresh after its last write.
const FreshFor = 24 * time.Hour

// ErrInvalidCache is returned when a cache is missing month, lastUpdated or days.
var ErrInvalidCache = errors.New("invalid cache data: missing required fields")

type ParkListEntry struct {
	Name    string `json:"name"`
	Color   string `json:"color"`
	PDFLink string `json:"pdfLink"`
}

type DayRecord struct {
	Parks []courts.Park `json:"parks"`
}

// MonthlyCache is the content of one YYYY-MM.json file.
type MonthlyCache struct {
	Month       string               `json:"month"`
	LastUpdated time.Time            `json:"lastUpdated"`
	ParkList    []ParkListEntry      `json:"parkList"`
	Days        map[string]DayRecord `json:"days"`
}

func (c *MonthlyCache) valid() bool {
	return c != nil && c.Month != "" && !c.LastUpdated.IsZero() && c.Days != nil
}

// storedMonth mirrors MonthlyCache for decoding, keeping legacy park fields.
type storedMonth struct {
	Month       string               `json:"month"`
	LastUpdated time.Time            `json:"lastUpdated"`
	ParkList    []ParkListEntry      `json:"parkList"`
	Days        map[string]storedDay `json:"days"`
}

type storedDay struct {
	Parks []parkRecord `json:"parks"`
}

// Store owns the monthly JSON cache files in one directory.
type Store struct {
	dir    string
	logger *zap.Logger
	now    func() time.Time
	loc    *time.Location

	// serialises read-modify-write cycles on month files
	mu sync.Mutex
}

type Option func(*Store)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLocation sets the zone used to decide the current month.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func NewStore(dir string, logger *zap.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		dir:    dir,
		logger: logger.Named("cache"),
		now:    time.Now,
		loc:    time.Local,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Dir() string {
	return s.dir
}

// ReadMonth loads a month file. Missing or structurally invalid files report
// false. Parks still in the bookingDetails format are converted and the
// result is written back before returning.
func (s *Store) ReadMonth(month string) (*MonthlyCache, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readMonth(month)
}

func (s *Store) readMonth(month string) (*MonthlyCache, bool) {
	path := monthPath(s.dir, month)
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("read cache file", zap.String("month", month), zap.Error(err))
		}
		return nil, false
	}

	var stored storedMonth
	if err := json.Unmarshal(data, &stored); err != nil {
		s.logger.Warn("decode cache file", zap.String("month", month), zap.Error(err))
		return nil, false
	}

	cache, migrated := convertStored(stored)
	if !cache.valid() {
		s.logger.Warn("invalid cache structure", zap.String("path", path))
		return nil, false
	}

	if migrated > 0 {
		s.logger.Info("migrated legacy park records",
			zap.String("month", month),
			zap.Int("parks", migrated),
		)
		metrics.CacheMigrationsTotal.Inc()
		if err := s.writeMonth(month, cache); err != nil {
			s.logger.Warn("persist migrated cache", zap.String("month", month), zap.Error(err))
		}
	}
	return cache, true
}

// convertStored strips legacy fields and reports how many park records needed
// their bookingDetails converted.
func convertStored(stored storedMonth) (*MonthlyCache, int) {
	cache := &MonthlyCache{
		Month:       stored.Month,
		LastUpdated: stored.LastUpdated,
		ParkList:    stored.ParkList,
	}
	if cache.ParkList == nil {
		cache.ParkList = []ParkListEntry{}
	}
	if stored.Days == nil {
		return cache, 0
	}

	migrated := 0
	cache.Days = make(map[string]DayRecord, len(stored.Days))
	for date, day := range stored.Days {
		parks := make([]courts.Park, 0, len(day.Parks))
		for _, record := range day.Parks {
			if record.needsMigration() {
				record.TimeWindows = DecodeLegacyBookingDetails(*record.BookingDetails)
				migrated++
			}
			parks = append(parks, record.Park)
		}
		cache.Days[date] = DayRecord{Parks: parks}
	}
	return cache, migrated
}

// WriteMonth replaces the month file. The new content is written to a
// temporary file in the same directory and renamed over the old one.
func (s *Store) WriteMonth(month string, cache *MonthlyCache) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeMonth(month, cache)
}

func (s *Store) writeMonth(month string, cache *MonthlyCache) error {
	if month == "" || !cache.valid() {
		metrics.CacheWritesTotal.WithLabelValues("rejected").Inc()
		return ErrInvalidCache
	}
	if err := ensureDir(s.dir); err != nil {
		metrics.CacheWritesTotal.WithLabelValues("error").Inc()
		return err
	}

	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		metrics.CacheWritesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("encode cache %s: %w", month, err)
	}

	if err := writeFileAtomic(monthPath(s.dir, month), data); err != nil {
		metrics.CacheWritesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("write cache %s: %w", month, err)
	}
	metrics.CacheWritesTotal.WithLabelValues("ok").Inc()
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}

// UpsertDay replaces one day's parks in its month file, creating the file
// when needed. New park names join the park list with a hashed colour, and
// every stored park takes its colour from the park list.
func (s *Store) UpsertDay(date string, parks []courts.Park) error {
	month, err := monthOf(date)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cache, ok := s.readMonth(month)
	if !ok {
		cache = &MonthlyCache{
			Month:    month,
			ParkList: []ParkListEntry{},
			Days:     map[string]DayRecord{},
		}
	}

	index := make(map[string]int, len(cache.ParkList))
	for i, entry := range cache.ParkList {
		index[entry.Name] = i
	}
	for _, park := range parks {
		i, ok := index[park.Name]
		if !ok {
			index[park.Name] = len(cache.ParkList)
			cache.ParkList = append(cache.ParkList, ParkListEntry{
				Name:    park.Name,
				Color:   ParkColor(park.Name),
				PDFLink: park.PDFLink,
			})
			continue
		}
		if cache.ParkList[i].Color == "" {
			cache.ParkList[i].Color = ParkColor(park.Name)
		}
		if park.PDFLink != "" && cache.ParkList[i].PDFLink != park.PDFLink {
			cache.ParkList[i].PDFLink = park.PDFLink
		}
	}

	stamped := make([]courts.Park, len(parks))
	for i, park := range parks {
		park.Color = cache.ParkList[index[park.Name]].Color
		stamped[i] = park
	}

	cache.Days[date] = DayRecord{Parks: stamped}
	cache.LastUpdated = s.now().UTC()

	if err := s.writeMonth(month, cache); err != nil {
		return err
	}
	s.logger.Debug("day cached", zap.String("date", date), zap.Int("parks", len(parks)))
	return nil
}

// IsFresh reports whether lastUpdated is less than a day old.
func (s *Store) IsFresh(lastUpdated time.Time) bool {
	if lastUpdated.IsZero() {
		return false
	}
	return s.now().Sub(lastUpdated) < FreshFor
}

// IsValidForDate reports whether the date is cached in a fresh month file.
func (s *Store) IsValidForDate(date string) bool {
	month, err := monthOf(date)
	if err != nil {
		return false
	}
	cache, ok := s.ReadMonth(month)
	if !ok {
		return false
	}
	if _, ok := cache.Days[date]; !ok {
		return false
	}
	return s.IsFresh(cache.LastUpdated)
}

func (s *Store) DayData(date string) (DayRecord, bool) {
	month, err := monthOf(date)
	if err != nil {
		return DayRecord{}, false
	}
	cache, ok := s.ReadMonth(month)
	if !ok {
		return DayRecord{}, false
	}
	day, ok := cache.Days[date]
	return day, ok
}

// Months lists the months that have a cache file, oldest first.
func (s *Store) Months() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}
	months := []string{}
	for _, entry := range entries {
		if entry.IsDir() || !monthFilePattern.MatchString(entry.Name()) {
			continue
		}
		months = append(months, strings.TrimSuffix(entry.Name(), monthSuffix))
	}
	sort.Strings(months)
	return months, nil
}

func (s *Store) CurrentMonth() string {
	return s.now().In(s.loc).Format("2006-01")
}

// Today is the current date in the store's zone.
func (s *Store) Today() time.Time {
	now := s.now().In(s.loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
}

func monthOf(date string) (string, error) {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return "", fmt.Errorf("invalid date %q: expected YYYY-MM-DD", date)
	}
	return date[:7], nil
}
