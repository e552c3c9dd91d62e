package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/csai/cyborg-arviz-agent/internal/config"
	"github.com/csai/cyborg-arviz-agent/internal/gameapi"
	"github.com/csai/cyborg-arviz-agent/internal/graph"
	"github.com/csai/cyborg-arviz-agent/internal/metrics"
	"github.com/csai/cyborg-arviz-agent/internal/observability"
	"github.com/csai/cyborg-arviz-agent/internal/session"
	"github.com/csai/cyborg-arviz-agent/internal/simserver"
	"github.com/csai/cyborg-arviz-agent/internal/state"
)

// app is the wiring shared by every command that touches a session.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	metrics  *metrics.Registry
	store    state.Store
	client   *gameapi.Client
	ctrl     *session.Controller
	launcher *simserver.Launcher
	closers  []func() error
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	if profile, _ := cmd.Flags().GetString("profile"); profile != "" {
		cfg.Storage.Profile = profile
	}
	return cfg, nil
}

func newApp(ctx context.Context, cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:     cfg,
		logger:  observability.NewLoggerTo(cmd.ErrOrStderr(), cfg.Observability.LogLevel),
		metrics: metrics.New(),
	}

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	a.store = store
	if c, ok := store.(*state.RedisStore); ok {
		a.closers = append(a.closers, c.Close)
	}

	baseURL := cfg.Game.BaseURL
	if strings.EqualFold(cfg.Simulation.Mode, "docker") {
		launcher, err := simserver.New(ctx, cfg.Simulation, a.logger)
		if err != nil {
			a.close()
			return nil, err
		}
		a.launcher = launcher
		a.closers = append(a.closers, launcher.Close)
		st, err := launcher.Up(ctx)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("simulation up: %w", err)
		}
		baseURL = st.BaseURL
	}

	hc := &http.Client{Transport: observability.TraceTransport(&observability.Transport{Base: http.DefaultTransport, Logger: a.logger})}
	a.client = gameapi.New(gameapi.Config{
		BaseURL:   baseURL,
		Timeout:   time.Duration(cfg.Game.RequestTimeoutSeconds) * time.Second,
		UserAgent: cfg.Game.UserAgent + "/" + version,
	}, hc, a.metrics)

	ctrl, err := session.NewController(ctx, a.client, a.store, graph.NewView(), session.Options{
		Profile: cfg.Storage.Profile,
		BaseURL: baseURL,
		Logger:  a.logger,
		Metrics: a.metrics,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	a.ctrl = ctrl
	return a, nil
}

func openStore(ctx context.Context, cfg config.StorageConfig) (state.Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "redis":
		return state.NewRedisStore(ctx, cfg.RedisURL, time.Duration(cfg.RedisTTLSeconds)*time.Second)
	default:
		return state.NewFileStore(cfg.StateFile)
	}
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close_failed", slog.String("error", err.Error()))
		}
	}
	a.closers = nil
}
