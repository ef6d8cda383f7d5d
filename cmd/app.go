package cmd

import (
	"go.uber.org/zap"

	"pickleball-calendar/api"
	"pickleball-calendar/backfill"
	"pickleball-calendar/config"
	"pickleball-calendar/logging"
	"pickleball-calendar/storage"
)

// app holds the components every command builds from the loaded config.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    *storage.Store
	client   *api.Client
	sessions *api.SessionManager
	orch     *backfill.Orchestrator
	history  *backfill.RunHistory
}

func newApp() (*app, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	loc := cfg.Location()
	a := &app{
		cfg:    cfg,
		logger: logger,
		store:  storage.NewStore(cfg.DataDir, logger, storage.WithLocation(loc)),
		client: api.NewClient(cfg.Upstream, logger),
	}
	a.sessions = api.NewSessionManager(a.client, cfg.Upstream.SessionTTL, logger)
	if cfg.Upstream.CSRFToken != "" {
		a.sessions.Use(cfg.Upstream.CSRFToken, cfg.Upstream.SessionCookies)
	}

	opts := []backfill.OrchestratorOption{backfill.WithLocation(loc)}
	if cfg.History.Path != "" {
		history, err := backfill.OpenRunHistory(cfg.History.Path)
		if err != nil {
			_ = logger.Sync()
			return nil, err
		}
		a.history = history
		opts = append(opts, backfill.WithRecorder(history))
	}
	a.orch = backfill.NewOrchestrator(cfg.FacilityGroups, a.client, a.sessions, a.store, logger, opts...)
	return a, nil
}

func (a *app) Close() {
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.logger.Warn("close run history", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

// requireHistory opens run history for commands that only read it.
func (a *app) requireHistory() (*backfill.RunHistory, error) {
	if a.history != nil {
		return a.history, nil
	}
	path := a.cfg.History.Path
	if path == "" {
		path = storage.RunsPath(a.cfg.DataDir)
	}
	history, err := backfill.OpenRunHistory(path)
	if err != nil {
		return nil, err
	}
	a.history = history
	return history, nil
}
