package backfill

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"pickleball-calendar/api"
	"pickleball-calendar/config"
	"pickleball-calendar/courts"
	"pickleball-calendar/storage"
)

var testNow = time.Date(2025, 3, 15, 18, 0, 0, 0, time.UTC)

type fetchCall struct {
	date  string
	group int
}

type fakeFetcher struct {
	mu       sync.Mutex
	payloads map[int][]byte
	errs     map[int]error
	calls    []fetchCall
	onFetch  func(call fetchCall)
}

func (f *fakeFetcher) FetchAvailability(ctx context.Context, date string, group config.FacilityGroup, session api.Session) ([]byte, error) {
	call := fetchCall{date: date, group: group.ID}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
	if f.onFetch != nil {
		f.onFetch(call)
	}
	if err := f.errs[group.ID]; err != nil {
		return nil, err
	}
	return f.payloads[group.ID], nil
}

type fakeSessions struct {
	err error
}

func (s fakeSessions) Session(ctx context.Context, force bool) (api.Session, error) {
	if s.err != nil {
		return api.Session{}, s.err
	}
	return api.Session{Token: "token"}, nil
}

type fakeStore struct {
	mu      sync.Mutex
	valid   map[string]bool
	days    map[string][]courts.Park
	failing error
}

func newFakeStore() *fakeStore {
	return &fakeStore{valid: map[string]bool{}, days: map[string][]courts.Park{}}
}

func (s *fakeStore) IsValidForDate(date string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.valid[date]
}

func (s *fakeStore) UpsertDay(date string, parks []courts.Park) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing != nil {
		return s.failing
	}
	s.days[date] = parks
	return nil
}

type sleepRecorder struct {
	delays []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func standardFetcher() *fakeFetcher {
	return &fakeFetcher{
		payloads: map[int][]byte{
			29: availability("Kleinman Pickleball Court 1", "Kleinman Pickleball Court 2"),
			33: availability("Pickleball Court 17"),
			35: availability("Brady Pickleball Court 1"),
		},
		errs: map[int]error{},
	}
}

func newTestOrchestrator(fetcher Fetcher, sessions SessionSource, store DayStore, opts ...OrchestratorOption) (*Orchestrator, *sleepRecorder) {
	sleeper := &sleepRecorder{}
	opts = append([]OrchestratorOption{
		WithClock(func() time.Time { return testNow }),
		WithLocation(time.UTC),
		WithSleep(sleeper.sleep),
	}, opts...)
	groups := []config.FacilityGroup{kleinman, geneAutry, monterey}
	return NewOrchestrator(groups, fetcher, sessions, store, zap.NewNop(), opts...), sleeper
}

func TestDatesWindowInLocation(t *testing.T) {
	phoenix := time.FixedZone("MST", -7*60*60)
	orch := NewOrchestrator(nil, nil, nil, nil, nil,
		WithClock(func() time.Time { return time.Date(2025, 3, 16, 3, 0, 0, 0, time.UTC) }),
		WithLocation(phoenix),
	)
	got := orch.Dates(2)
	want := []string{"2025-03-15", "2025-03-16", "2025-03-17"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("Dates() = %v, want %v", got, want)
	}
}

func TestRunBackfillPartialSourceFailure(t *testing.T) {
	fetcher := standardFetcher()
	fetcher.errs[33] = errors.New("upstream returned 502")
	store := newFakeStore()
	orch, _ := newTestOrchestrator(fetcher, fakeSessions{}, store)

	summary, err := orch.RunBackfill(context.Background(), Options{DaysAhead: 0})
	if err != nil {
		t.Fatalf("RunBackfill: %v", err)
	}

	parks := store.days["2025-03-15"]
	if len(parks) != 2 {
		t.Fatalf("expected parks from two sources, got %+v", parks)
	}
	if parks[0].FacilityGroupID != 29 || parks[1].FacilityGroupID != 35 {
		t.Fatalf("unexpected sources: %d, %d", parks[0].FacilityGroupID, parks[1].FacilityGroupID)
	}

	if summary.TotalDates != 1 || summary.ProcessedDates != 1 || summary.SuccessfulDates != 1 || summary.FailedDates != 0 {
		t.Fatalf("unexpected date counts: %+v", summary)
	}
	if summary.TotalAPIRequests != 3 || summary.SuccessfulAPIRequests != 2 || summary.FailedAPIRequests != 1 {
		t.Fatalf("unexpected request counts: %+v", summary)
	}
	if len(summary.Errors) != 1 || summary.Errors[0].FacilityGroup != 33 || summary.Errors[0].Date != "2025-03-15" {
		t.Fatalf("unexpected errors: %+v", summary.Errors)
	}

	day := summary.Dates[0]
	if day.State != StateDone || day.SuccessfulFacilities != 2 || day.FailedFacilities != 1 || day.Parks != 2 {
		t.Fatalf("unexpected date result: %+v", day)
	}
	if summary.RunID == "" || summary.Source != SourceManual {
		t.Fatalf("missing run metadata: %+v", summary)
	}
}

func TestRunBackfillAllSourcesFail(t *testing.T) {
	store := newFakeStore()
	orch, _ := newTestOrchestrator(&fakeFetcher{}, fakeSessions{err: api.ErrNoCSRFToken}, store)

	summary, err := orch.RunBackfill(context.Background(), Options{DaysAhead: 1})
	if err != nil {
		t.Fatalf("RunBackfill: %v", err)
	}
	if len(store.days) != 0 {
		t.Fatalf("nothing should be cached: %+v", store.days)
	}
	if summary.FailedDates != 2 || summary.SuccessfulDates != 0 || summary.FailedAPIRequests != 6 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	day := summary.Dates[0]
	if day.State != StateFailed {
		t.Fatalf("date state = %s", day.State)
	}
	last := day.Errors[len(day.Errors)-1]
	if !strings.Contains(last.Error, ErrNoSourceData.Error()) || last.FacilityGroup != 0 {
		t.Fatalf("unexpected date error: %+v", last)
	}
	if !strings.Contains(day.Errors[0].Error, "session") {
		t.Fatalf("source error should name the session: %+v", day.Errors[0])
	}
}

func TestRunBackfillCacheFailure(t *testing.T) {
	store := newFakeStore()
	store.failing = errors.New("disk full")
	orch, _ := newTestOrchestrator(standardFetcher(), fakeSessions{}, store)

	summary, err := orch.RunBackfill(context.Background(), Options{})
	if err != nil {
		t.Fatalf("RunBackfill: %v", err)
	}
	if summary.FailedDates != 1 || summary.SuccessfulAPIRequests != 3 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if !strings.Contains(summary.Errors[0].Error, "disk full") {
		t.Fatalf("unexpected errors: %+v", summary.Errors)
	}
}

func TestRunBackfillSkipExisting(t *testing.T) {
	fetcher := standardFetcher()
	store := newFakeStore()
	store.valid["2025-03-15"] = true
	orch, _ := newTestOrchestrator(fetcher, fakeSessions{}, store)

	summary, err := orch.RunBackfill(context.Background(), Options{DaysAhead: 1, SkipExisting: true})
	if err != nil {
		t.Fatalf("RunBackfill: %v", err)
	}
	if summary.SkippedDates != 1 || summary.ProcessedDates != 1 || summary.TotalDates != 2 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	for _, call := range fetcher.calls {
		if call.date != "2025-03-16" {
			t.Fatalf("fetched a skipped date: %+v", call)
		}
	}
	if !summary.Dates[0].Skipped || summary.Dates[0].Succeeded() {
		t.Fatalf("first date should be a skip: %+v", summary.Dates[0])
	}

	// without the flag every date is fetched
	fetcher.calls = nil
	if _, err := orch.RunBackfill(context.Background(), Options{DaysAhead: 1}); err != nil {
		t.Fatal(err)
	}
	if len(fetcher.calls) != 6 {
		t.Fatalf("expected 6 fetches, got %d", len(fetcher.calls))
	}
}

func TestRunBackfillDelaysBetweenRequestsAndDates(t *testing.T) {
	orch, sleeper := newTestOrchestrator(standardFetcher(), fakeSessions{}, newFakeStore())

	_, err := orch.RunBackfill(context.Background(), Options{
		DaysAhead:            1,
		DelayBetweenRequests: 500 * time.Millisecond,
		DelayBetweenDates:    time.Second,
	})
	if err != nil {
		t.Fatalf("RunBackfill: %v", err)
	}
	ms := 500 * time.Millisecond
	want := []time.Duration{ms, ms, time.Second, ms, ms}
	if len(sleeper.delays) != len(want) {
		t.Fatalf("delays = %v, want %v", sleeper.delays, want)
	}
	for i := range want {
		if sleeper.delays[i] != want[i] {
			t.Fatalf("delays = %v, want %v", sleeper.delays, want)
		}
	}
}

func TestRunBackfillCancelledMidDate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fetcher := standardFetcher()
	fetcher.onFetch = func(fetchCall) { cancel() }
	store := newFakeStore()
	orch, _ := newTestOrchestrator(fetcher, fakeSessions{}, store)

	summary, err := orch.RunBackfill(ctx, Options{DaysAhead: 2})
	if err != nil {
		t.Fatalf("RunBackfill: %v", err)
	}
	if !summary.Cancelled {
		t.Fatal("summary not marked cancelled")
	}
	if len(fetcher.calls) != 1 {
		t.Fatalf("fetching continued after cancel: %d calls", len(fetcher.calls))
	}
	if len(store.days) != 0 {
		t.Fatal("partial date was cached")
	}
	if summary.ProcessedDates != 1 || summary.FailedDates != 1 || summary.TotalAPIRequests != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestRunBackfillRejectsConcurrentRun(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	fetcher := standardFetcher()
	fetcher.onFetch = func(fetchCall) {
		once.Do(func() { close(entered) })
		<-release
	}
	orch, _ := newTestOrchestrator(fetcher, fakeSessions{}, newFakeStore())

	done := make(chan BackfillSummary)
	go func() {
		summary, _ := orch.RunBackfill(context.Background(), Options{Source: SourceStartup})
		done <- summary
	}()
	<-entered

	if _, err := orch.RunBackfill(context.Background(), Options{}); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}
	if _, err := orch.RunForDate(context.Background(), "2025-03-16"); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}
	status := orch.Status()
	if !status.Running || status.Source != SourceStartup || status.StartedAt == nil {
		t.Fatalf("unexpected running status: %+v", status)
	}

	close(release)
	summary := <-done
	status = orch.Status()
	if status.Running || status.LastRun == nil || status.LastRun.RunID != summary.RunID {
		t.Fatalf("unexpected final status: %+v", status)
	}
}

func TestRunForDate(t *testing.T) {
	store := newFakeStore()
	store.valid["2025-03-20"] = true
	orch, _ := newTestOrchestrator(standardFetcher(), fakeSessions{}, store)

	if _, err := orch.RunForDate(context.Background(), "03/20/2025"); err == nil {
		t.Fatal("expected invalid date error")
	}

	result, err := orch.RunForDate(context.Background(), "2025-03-20")
	if err != nil {
		t.Fatalf("RunForDate: %v", err)
	}
	if !result.Succeeded() || result.Parks != 3 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(store.days["2025-03-20"]) != 3 {
		t.Fatal("cached date was not refreshed")
	}
}

func TestRunBackfillRecordsHistory(t *testing.T) {
	history, err := OpenRunHistory(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("OpenRunHistory: %v", err)
	}
	defer history.Close()

	fetcher := standardFetcher()
	fetcher.errs[35] = errors.New("timeout")
	orch, _ := newTestOrchestrator(fetcher, fakeSessions{}, newFakeStore(), WithRecorder(history))

	summary, err := orch.RunBackfill(context.Background(), Options{Source: SourceScheduler})
	if err != nil {
		t.Fatalf("RunBackfill: %v", err)
	}

	runs, err := history.List(storage.RunFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	run := runs[0]
	if run.ID != summary.RunID || run.Source != SourceScheduler || run.FailedAPIRequests != 1 {
		t.Fatalf("unexpected run: %+v", run)
	}
	if run.StartedAt != "2025-03-15T18:00:00Z" || !strings.Contains(run.Errors, `"facilityGroup":35`) {
		t.Fatalf("unexpected run fields: %+v", run)
	}
}
