package server

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"pickleball-calendar/api"
	"pickleball-calendar/backfill"
	"pickleball-calendar/storage"
)

// Calendar data older than this is flagged to clients.
const staleAfterHours = 48

var monthPattern = regexp.MustCompile(`^\d{4}-\d{2}$`)

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": s.now().UTC(),
	})
}

type healthResponse struct {
	Status    string                   `json:"status"`
	Timestamp time.Time                `json:"timestamp"`
	Uptime    float64                  `json:"uptime"`
	Cache     storage.CacheHealth      `json:"cache"`
	Scheduler backfill.SchedulerStatus `json:"scheduler"`
	Backfill  backfillHealth           `json:"backfill"`
	Warnings  []string                 `json:"warnings,omitempty"`
}

type backfillHealth struct {
	FacilityGroups int               `json:"facilityGroups"`
	Session        api.SessionStatus `json:"csrfTokenStatus"`
}

func (s *Server) systemHealth(w http.ResponseWriter, r *http.Request) {
	cache, err := s.deps.Store.Health()
	if err != nil {
		s.log.Error("cache health", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"status":    "error",
			"timestamp": s.now().UTC(),
			"error":     "Health check failed",
			"message":   err.Error(),
		})
		return
	}

	health := healthResponse{
		Status:    "ok",
		Timestamp: s.now().UTC(),
		Uptime:    s.now().Sub(s.started).Seconds(),
		Cache:     cache,
		Scheduler: s.deps.Scheduler.Status(),
		Backfill: backfillHealth{
			FacilityGroups: len(s.deps.Orchestrator.Groups()),
			Session:        s.deps.Sessions.Status(),
		},
	}
	switch {
	case cache.TotalFiles == 0:
		health.Warnings = append(health.Warnings, "No cached data available")
	case cache.StaleFiles > cache.HealthyFiles:
		health.Warnings = append(health.Warnings, "Most cached data is stale")
	}
	if !health.Scheduler.Running {
		health.Warnings = append(health.Warnings, "Scheduler is not running")
	}
	if len(health.Warnings) > 0 {
		health.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, health)
}

type calendarMetadata struct {
	DataAgeHours int       `json:"dataAgeHours"`
	IsStale      bool      `json:"isStale"`
	ServerTime   time.Time `json:"serverTime"`
}

type calendarResponse struct {
	*storage.MonthlyCache
	Metadata calendarMetadata `json:"metadata"`
}

func (s *Server) calendar(w http.ResponseWriter, r *http.Request) {
	month := chi.URLParam(r, "month")
	if !monthPattern.MatchString(month) {
		respondError(w, http.StatusBadRequest, "Invalid month format. Expected YYYY-MM format.", map[string]any{"example": "2025-01"})
		return
	}

	loc := s.cfg.Location()
	requested, err := time.ParseInLocation("2006-01", month, loc)
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid month value. Month must be between 01 and 12.", map[string]any{"example": "2025-01"})
		return
	}
	now := s.now().In(loc)
	limit := time.Date(now.Year()+1, now.Month(), 1, 0, 0, 0, 0, loc)
	if requested.After(limit) {
		respondError(w, http.StatusBadRequest, "Month is too far in the future. Maximum 1 year ahead.", map[string]any{"requestedMonth": month})
		return
	}

	cache, ok := s.deps.Store.ReadMonth(month)
	if !ok {
		extra := map[string]any{"month": month}
		months, err := s.deps.Store.Months()
		switch {
		case err != nil:
			s.log.Error("list cached months", zap.Error(err))
			extra["message"] = "Data collection system may be offline. Please try again later."
		case len(months) == 0:
			extra["message"] = "No court data has been collected yet. The system may still be initializing."
		default:
			extra["message"] = "Data may not have been collected yet for this month."
			extra["availableMonths"] = months
			extra["latestAvailable"] = months[len(months)-1]
		}
		respondError(w, http.StatusNotFound, "No data available for the requested month.", extra)
		return
	}

	age := int(s.now().Sub(cache.LastUpdated).Hours())
	meta := calendarMetadata{
		DataAgeHours: age,
		IsStale:      age > staleAfterHours,
		ServerTime:   s.now().UTC(),
	}
	if meta.IsStale {
		w.Header().Set("X-Data-Warning", "Data may be outdated")
		w.Header().Set("X-Data-Age-Hours", strconv.Itoa(age))
	}
	writeJSON(w, http.StatusOK, calendarResponse{MonthlyCache: cache, Metadata: meta})
}

func (s *Server) day(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")
	if _, err := time.Parse("2006-01-02", date); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid date format. Expected YYYY-MM-DD format.", map[string]any{"example": "2025-01-31"})
		return
	}
	record, ok := s.deps.Store.DayData(date)
	if !ok {
		respondError(w, http.StatusNotFound, "Data not yet collected for this date.", map[string]any{"date": date})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": date, "parks": record.Parks})
}

func (s *Server) parks(w http.ResponseWriter, r *http.Request) {
	defaults := storage.DefaultParkList(s.cfg.DefaultParkLinks())
	parks, source := s.deps.Store.ParkList(defaults)
	writeJSON(w, http.StatusOK, map[string]any{
		"parks":      parks,
		"source":     source,
		"serverTime": s.now().UTC(),
	})
}

func (s *Server) schedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Scheduler.Status())
}

type schedulerStartRequest struct {
	CronExpression string `json:"cronExpression"`
}

func (s *Server) schedulerStart(w http.ResponseWriter, r *http.Request) {
	var req schedulerStartRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", nil)
		return
	}
	if err := s.deps.Scheduler.Start(req.CronExpression); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success":    false,
			"message":    err.Error(),
			"expression": req.CronExpression,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Scheduler started",
		"status":  s.deps.Scheduler.Status(),
	})
}

func (s *Server) schedulerStop(w http.ResponseWriter, r *http.Request) {
	s.deps.Scheduler.Stop()
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Scheduler stopped",
		"status":  s.deps.Scheduler.Status(),
	})
}

type updateRequest struct {
	Date string `json:"date"`
}

type updateResponse struct {
	Success bool `json:"success"`
	backfill.DateResult
}

func (s *Server) schedulerUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", nil)
		return
	}
	if req.Date == "" {
		req.Date = s.deps.Store.Today().Format("2006-01-02")
	}

	// The update runs to completion even if the client goes away.
	result, err := s.deps.Orchestrator.RunForDate(context.WithoutCancel(r.Context()), req.Date)
	if err != nil {
		s.runError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updateResponse{Success: result.Succeeded(), DateResult: result})
}

type backfillStatusResponse struct {
	backfill.Status
	FacilityGroups int               `json:"facilityGroups"`
	Session        api.SessionStatus `json:"csrfToken"`
}

func (s *Server) backfillStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, backfillStatusResponse{
		Status:         s.deps.Orchestrator.Status(),
		FacilityGroups: len(s.deps.Orchestrator.Groups()),
		Session:        s.deps.Sessions.Status(),
	})
}

type backfillRunRequest struct {
	SkipExisting         *bool `json:"skipExisting"`
	DelayBetweenRequests *int  `json:"delayBetweenRequests"`
	DelayBetweenDates    *int  `json:"delayBetweenDates"`
	DaysAhead            *int  `json:"daysAhead"`
}

func (s *Server) backfillRun(w http.ResponseWriter, r *http.Request) {
	var req backfillRunRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", nil)
		return
	}

	opts := backfill.OptionsFromConfig(s.cfg.Backfill)
	opts.Source = backfill.SourceManual
	if req.SkipExisting != nil {
		opts.SkipExisting = *req.SkipExisting
	}
	if req.DelayBetweenRequests != nil {
		opts.DelayBetweenRequests = time.Duration(*req.DelayBetweenRequests) * time.Millisecond
	}
	if req.DelayBetweenDates != nil {
		opts.DelayBetweenDates = time.Duration(*req.DelayBetweenDates) * time.Millisecond
	}
	if req.DaysAhead != nil {
		if *req.DaysAhead < 0 || *req.DaysAhead > 60 {
			respondError(w, http.StatusBadRequest, "daysAhead must be between 0 and 60", nil)
			return
		}
		opts.DaysAhead = *req.DaysAhead
	}

	summary, err := s.deps.Orchestrator.RunBackfill(context.WithoutCancel(r.Context()), opts)
	if err != nil {
		s.runError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": summary.FailedDates == 0,
		"summary": summary,
	})
}

func (s *Server) backfillHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		respondError(w, http.StatusNotFound, "Run history is not enabled", nil)
		return
	}

	filter := storage.RunFilter{
		From:  r.URL.Query().Get("from"),
		To:    r.URL.Query().Get("to"),
		Limit: 20,
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer", nil)
			return
		}
		filter.Limit = limit
	}

	runs, err := s.deps.History.List(filter)
	if err != nil {
		s.log.Error("list backfill runs", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Failed to read run history", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

type tokenRequest struct {
	Token          string `json:"token"`
	SessionCookies string `json:"sessionCookies"`
}

func (s *Server) setToken(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", nil)
		return
	}
	if req.Token == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "Token is required"})
		return
	}
	s.deps.Sessions.Use(req.Token, req.SessionCookies)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"message":     "Token configured",
		"tokenStatus": s.deps.Sessions.Status(),
	})
}

func (s *Server) refreshToken(w http.ResponseWriter, r *http.Request) {
	if _, err := s.deps.Sessions.Session(r.Context(), true); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"success":   false,
			"error":     err.Error(),
			"timestamp": s.now().UTC(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"tokenStatus": s.deps.Sessions.Status(),
	})
}

func (s *Server) cacheRecover(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Store.Recover()
	if err != nil {
		s.log.Error("cache recovery", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Cache recovery failed", map[string]any{"message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type cleanupRequest struct {
	MaxAgeDays       int      `json:"maxAgeDays"`
	ProblematicFiles []string `json:"problematicFiles"`
}

func (s *Server) cacheCleanup(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", nil)
		return
	}
	result, err := s.deps.Store.Cleanup(storage.CleanupOptions{
		MaxAgeDays:       req.MaxAgeDays,
		ProblematicFiles: req.ProblematicFiles,
	})
	if err != nil {
		s.log.Error("cache cleanup", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "Cache cleanup failed", map[string]any{"message": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) runError(w http.ResponseWriter, err error) {
	if errors.Is(err, backfill.ErrRunInProgress) {
		respondError(w, http.StatusConflict, err.Error(), nil)
		return
	}
	respondError(w, http.StatusBadRequest, err.Error(), nil)
}
