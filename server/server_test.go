package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"pickleball-calendar/api"
	"pickleball-calendar/backfill"
	"pickleball-calendar/config"
	"pickleball-calendar/courts"
	"pickleball-calendar/storage"
)

var testNow = time.Date(2025, 3, 15, 18, 0, 0, 0, time.UTC)

const kleinmanPayload = `{
  "headers": {"response_code": "0000", "response_message": "Successful"},
  "body": {"availability": {
    "time_slots": ["09:00:00", "09:30:00"],
    "resources": [{"resource_id": 1, "resource_name": "Kleinman Pickleball Court 1", "time_slot_details": [{"status": 0}, {"status": 1}]}]
  }}
}`

type stubFetcher struct{}

func (stubFetcher) FetchAvailability(ctx context.Context, date string, group config.FacilityGroup, session api.Session) ([]byte, error) {
	return []byte(kleinmanPayload), nil
}

type stubSessionFetcher struct{}

func (stubSessionFetcher) FetchSession(ctx context.Context) (api.Session, error) {
	return api.Session{Token: "fetched-token", Source: api.SourceHTML}, nil
}

type testEnv struct {
	srv       *Server
	store     *storage.Store
	scheduler *backfill.Scheduler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := &config.Config{
		Timezone:       "UTC",
		Server:         config.ServerConfig{Port: 3000},
		Backfill:       config.BackfillConfig{DaysAhead: 0, SkipExisting: true},
		FacilityGroups: config.DefaultFacilityGroups(),
	}
	clock := func() time.Time { return testNow }
	store := storage.NewStore(t.TempDir(), zap.NewNop(), storage.WithClock(clock), storage.WithLocation(time.UTC))
	sessions := api.NewSessionManager(stubSessionFetcher{}, time.Hour, zap.NewNop())
	orch := backfill.NewOrchestrator(cfg.FacilityGroups[:1], stubFetcher{}, sessions, store, zap.NewNop(),
		backfill.WithClock(clock),
		backfill.WithLocation(time.UTC),
		backfill.WithSleep(func(ctx context.Context, d time.Duration) error { return ctx.Err() }),
	)
	scheduler := backfill.NewScheduler(orch, backfill.SchedulerOptions{Location: time.UTC}, zap.NewNop())
	t.Cleanup(scheduler.Stop)

	srv := New(cfg, zap.NewNop(), Deps{
		Store:        store,
		Orchestrator: orch,
		Scheduler:    scheduler,
		Sessions:     sessions,
	})
	srv.now = clock
	return &testEnv{srv: srv, store: store, scheduler: scheduler}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rec, req)

	decoded := map[string]any{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return rec, decoded
}

func (e *testEnv) seed(t *testing.T, date string) {
	t.Helper()
	parks := []courts.Park{{Name: courts.ParkKleinman, TotalCourts: 1, AvailableCourts: 1, Status: courts.StatusAvailable, Courts: []courts.CourtAnalysis{}, TimeWindows: []courts.TimeWindow{}}}
	if err := e.store.UpsertDay(date, parks); err != nil {
		t.Fatalf("UpsertDay: %v", err)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec, body := env.do(t, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("unexpected response %d: %v", rec.Code, body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing X-Request-ID")
	}
}

func TestSystemHealthDegraded(t *testing.T) {
	env := newTestEnv(t)
	_, body := env.do(t, http.MethodGet, "/api/health", "")
	if body["status"] != "degraded" {
		t.Fatalf("expected degraded status, got %v", body["status"])
	}
	warnings, _ := body["warnings"].([]any)
	if len(warnings) != 2 {
		t.Fatalf("unexpected warnings: %v", warnings)
	}

	env.seed(t, "2025-03-15")
	if err := env.scheduler.Start(""); err != nil {
		t.Fatal(err)
	}
	_, body = env.do(t, http.MethodGet, "/api/health", "")
	if body["status"] != "ok" {
		t.Fatalf("expected ok status, got %v", body)
	}
}

func TestCalendarValidation(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		month string
		want  int
	}{
		{"2025-3", http.StatusBadRequest},
		{"march", http.StatusBadRequest},
		{"2025-13", http.StatusBadRequest},
		{"2025-00", http.StatusBadRequest},
		{"2026-04", http.StatusBadRequest},
		{"2026-03", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.month, func(t *testing.T) {
			rec, body := env.do(t, http.MethodGet, "/api/calendar/"+tt.month, "")
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (%v)", rec.Code, tt.want, body)
			}
			if body["error"] == nil {
				t.Fatalf("missing error message: %v", body)
			}
		})
	}
}

func TestCalendar(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodGet, "/api/calendar/2025-03", "")
	if rec.Code != http.StatusNotFound || body["availableMonths"] != nil {
		t.Fatalf("unexpected empty-cache response %d: %v", rec.Code, body)
	}

	env.seed(t, "2025-03-15")

	rec, body = env.do(t, http.MethodGet, "/api/calendar/2025-03", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %v", rec.Code, body)
	}
	if body["month"] != "2025-03" {
		t.Fatalf("missing month: %v", body)
	}
	days, _ := body["days"].(map[string]any)
	if _, ok := days["2025-03-15"]; !ok {
		t.Fatalf("missing cached day: %v", body["days"])
	}
	meta, _ := body["metadata"].(map[string]any)
	if meta["dataAgeHours"] != float64(0) || meta["isStale"] != false {
		t.Fatalf("unexpected metadata: %v", meta)
	}
	if rec.Header().Get("X-Data-Warning") != "" {
		t.Fatal("fresh data flagged as stale")
	}

	rec, body = env.do(t, http.MethodGet, "/api/calendar/2025-04", "")
	if rec.Code != http.StatusNotFound || body["latestAvailable"] != "2025-03" {
		t.Fatalf("unexpected missing-month response %d: %v", rec.Code, body)
	}
}

func TestCalendarStaleHeaders(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "2025-03-15")
	env.srv.now = func() time.Time { return testNow.Add(72 * time.Hour) }

	rec, body := env.do(t, http.MethodGet, "/api/calendar/2025-03", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("X-Data-Warning") == "" || rec.Header().Get("X-Data-Age-Hours") != "72" {
		t.Fatalf("missing stale headers: %v", rec.Header())
	}
	meta, _ := body["metadata"].(map[string]any)
	if meta["isStale"] != true {
		t.Fatalf("unexpected metadata: %v", meta)
	}
}

func TestDay(t *testing.T) {
	env := newTestEnv(t)

	if rec, _ := env.do(t, http.MethodGet, "/api/days/2025-3-1", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid date status = %d", rec.Code)
	}
	rec, body := env.do(t, http.MethodGet, "/api/days/2025-03-15", "")
	if rec.Code != http.StatusNotFound || !strings.Contains(body["error"].(string), "not yet collected") {
		t.Fatalf("unexpected missing-day response %d: %v", rec.Code, body)
	}

	env.seed(t, "2025-03-15")
	rec, body = env.do(t, http.MethodGet, "/api/days/2025-03-15", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	parks, _ := body["parks"].([]any)
	if len(parks) != 1 {
		t.Fatalf("unexpected parks: %v", body)
	}
}

func TestParks(t *testing.T) {
	env := newTestEnv(t)

	_, body := env.do(t, http.MethodGet, "/api/parks", "")
	if body["source"] != storage.ParkListDefaults {
		t.Fatalf("source = %v", body["source"])
	}
	if parks, _ := body["parks"].([]any); len(parks) != 3 {
		t.Fatalf("expected the three configured parks: %v", body["parks"])
	}

	env.seed(t, "2025-03-15")
	_, body = env.do(t, http.MethodGet, "/api/parks", "")
	if body["source"] != storage.ParkListCurrentMonth {
		t.Fatalf("source = %v", body["source"])
	}
	parks, _ := body["parks"].([]any)
	first, _ := parks[0].(map[string]any)
	if first["name"] != courts.ParkKleinman || first["color"] != storage.ParkColor(courts.ParkKleinman) {
		t.Fatalf("unexpected park entry: %v", first)
	}
}

func TestSchedulerEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodPost, "/api/scheduler/start", `{"cronExpression": "every day"}`)
	if rec.Code != http.StatusBadRequest || body["success"] != false {
		t.Fatalf("invalid cron accepted: %d %v", rec.Code, body)
	}

	rec, body = env.do(t, http.MethodPost, "/api/scheduler/start", `{"cronExpression": "0 6 * * *"}`)
	if rec.Code != http.StatusOK || body["success"] != true {
		t.Fatalf("start failed: %d %v", rec.Code, body)
	}
	_, body = env.do(t, http.MethodGet, "/api/scheduler/status", "")
	if body["isRunning"] != true || body["cronExpression"] != "0 6 * * *" || body["nextRun"] == nil {
		t.Fatalf("unexpected status: %v", body)
	}

	rec, _ = env.do(t, http.MethodPost, "/api/scheduler/stop", "")
	if rec.Code != http.StatusOK || env.scheduler.Running() {
		t.Fatalf("stop failed: %d", rec.Code)
	}
}

func TestSchedulerUpdate(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodPost, "/api/scheduler/update", `{"date": "2025-03-16"}`)
	if rec.Code != http.StatusOK || body["success"] != true || body["state"] != string(backfill.StateDone) {
		t.Fatalf("unexpected update response %d: %v", rec.Code, body)
	}
	if _, ok := env.store.DayData("2025-03-16"); !ok {
		t.Fatal("updated date was not cached")
	}

	// no date means today
	if rec, _ := env.do(t, http.MethodPost, "/api/scheduler/update", ""); rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if _, ok := env.store.DayData("2025-03-15"); !ok {
		t.Fatal("today was not cached")
	}

	if rec, _ := env.do(t, http.MethodPost, "/api/scheduler/update", `{"date": "tomorrow"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid date status = %d", rec.Code)
	}
}

func TestBackfillRunAndStatus(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodPost, "/api/backfill/run", `{"daysAhead": 2, "skipExisting": false, "delayBetweenRequests": 0}`)
	if rec.Code != http.StatusOK || body["success"] != true {
		t.Fatalf("unexpected run response %d: %v", rec.Code, body)
	}
	summary, _ := body["summary"].(map[string]any)
	if summary["successfulDates"] != float64(3) || summary["totalApiRequests"] != float64(3) {
		t.Fatalf("unexpected summary: %v", summary)
	}

	if rec, _ := env.do(t, http.MethodPost, "/api/backfill/run", `{"daysAhead": 90}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("out of range daysAhead status = %d", rec.Code)
	}

	_, body = env.do(t, http.MethodGet, "/api/backfill/status", "")
	if body["isRunning"] != false || body["lastRun"] == nil || body["facilityGroups"] != float64(1) {
		t.Fatalf("unexpected status: %v", body)
	}
}

func TestBackfillHistoryDisabled(t *testing.T) {
	env := newTestEnv(t)
	if rec, _ := env.do(t, http.MethodGet, "/api/backfill/history", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestBackfillHistory(t *testing.T) {
	env := newTestEnv(t)
	history, err := backfill.OpenRunHistory(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer history.Close()
	env.srv.deps.History = history

	err = history.RecordRun(context.Background(), backfill.BackfillSummary{RunID: "run-1", Source: backfill.SourceManual, StartedAt: testNow})
	if err != nil {
		t.Fatal(err)
	}

	if rec, _ := env.do(t, http.MethodGet, "/api/backfill/history?limit=zero", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", rec.Code)
	}
	rec, body := env.do(t, http.MethodGet, "/api/backfill/history?from=2025-03-01", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	runs, _ := body["runs"].([]any)
	if len(runs) != 1 {
		t.Fatalf("unexpected runs: %v", body)
	}
}

func TestTokenEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodPost, "/api/backfill/token", `{"sessionCookies": "a=b"}`)
	if rec.Code != http.StatusBadRequest || body["error"] != "Token is required" {
		t.Fatalf("missing token accepted: %d %v", rec.Code, body)
	}

	rec, body = env.do(t, http.MethodPost, "/api/backfill/token", `{"token": "manual-token", "sessionCookies": "JSESSIONID=1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	status, _ := body["tokenStatus"].(map[string]any)
	if status["source"] != api.SourceManual || status["hasCookies"] != true {
		t.Fatalf("unexpected token status: %v", status)
	}

	_, body = env.do(t, http.MethodPost, "/api/backfill/token/refresh", "")
	status, _ = body["tokenStatus"].(map[string]any)
	if body["success"] != true || status["source"] != api.SourceHTML {
		t.Fatalf("refresh did not fetch a new session: %v", body)
	}
}

func TestCacheRecoverAndCleanup(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "2025-03-15")
	if err := os.WriteFile(filepath.Join(env.store.Dir(), "2025-01.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	rec, body := env.do(t, http.MethodPost, "/api/cache/recover", "")
	if rec.Code != http.StatusOK || body["corruptedFiles"] != float64(1) || body["validFiles"] != float64(1) {
		t.Fatalf("unexpected recovery %d: %v", rec.Code, body)
	}

	rec, body = env.do(t, http.MethodPost, "/api/cache/cleanup", `{"problematicFiles": ["2025-03.json"]}`)
	if rec.Code != http.StatusOK || body["filesSuccessfullyRemoved"] != float64(1) || body["backupCreated"] != true {
		t.Fatalf("unexpected cleanup %d: %v", rec.Code, body)
	}
	if months, _ := env.store.Months(); len(months) != 0 {
		t.Fatalf("months left after cleanup: %v", months)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/health", "")

	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "pickleball_http_requests_total") {
		t.Fatalf("metrics not exposed: %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t)
	cfg := *env.srv.cfg
	cfg.Server.RateLimitPerMinute = 2
	limited := New(&cfg, zap.NewNop(), env.srv.deps)

	codes := []int{}
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/parks", nil)
		req.RemoteAddr = "203.0.113.7:4000"
		rec := httptest.NewRecorder()
		limited.Handler().ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status codes: %v", codes)
	}
}
