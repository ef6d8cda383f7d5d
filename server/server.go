package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"pickleball-calendar/api"
	"pickleball-calendar/backfill"
	"pickleball-calendar/config"
	"pickleball-calendar/storage"
)

// Deps are the components the HTTP surface reads from and drives.
type Deps struct {
	Store        *storage.Store
	Orchestrator *backfill.Orchestrator
	Scheduler    *backfill.Scheduler
	Sessions     *api.SessionManager
	// History is nil when run history is disabled.
	History *backfill.RunHistory
}

// Server serves the calendar API and the operational endpoints.
type Server struct {
	cfg     *config.Config
	log     *zap.Logger
	deps    Deps
	router  chi.Router
	http    *http.Server
	now     func() time.Time
	started time.Time
}

func New(cfg *config.Config, log *zap.Logger, deps Deps) *Server {
	log = log.Named("http")
	s := &Server{
		cfg:     cfg,
		log:     log,
		deps:    deps,
		now:     time.Now,
		started: time.Now(),
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(Metrics)
	r.Use(Logging(log))

	r.Get("/health", s.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		if n := cfg.Server.RateLimitPerMinute; n > 0 {
			r.Use(httprate.LimitByIP(n, time.Minute))
		}

		r.Get("/health", s.systemHealth)
		r.Get("/calendar/{month}", s.calendar)
		r.Get("/days/{date}", s.day)
		r.Get("/parks", s.parks)

		r.Route("/scheduler", func(r chi.Router) {
			r.Get("/status", s.schedulerStatus)
			r.Post("/start", s.schedulerStart)
			r.Post("/stop", s.schedulerStop)
			r.Post("/update", s.schedulerUpdate)
		})

		r.Route("/backfill", func(r chi.Router) {
			r.Get("/status", s.backfillStatus)
			r.Post("/run", s.backfillRun)
			r.Get("/history", s.backfillHistory)
			r.Post("/token", s.setToken)
			r.Post("/token/refresh", s.refreshToken)
		})

		r.Route("/cache", func(r chi.Router) {
			r.Post("/recover", s.cacheRecover)
			r.Post("/cleanup", s.cacheCleanup)
		})
	})

	s.router = r
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Addr() string {
	return s.http.Addr
}

func (s *Server) ListenAndServe() error {
	s.log.Info("starting server", zap.String("addr", s.http.Addr))
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
