package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/csai/cyborg-arviz-agent/internal/api"
	"github.com/csai/cyborg-arviz-agent/internal/auth"
	"github.com/csai/cyborg-arviz-agent/internal/config"
	"github.com/csai/cyborg-arviz-agent/internal/observability"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose the session over the local control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cmd)
			if err != nil {
				return err
			}
			defer a.close()
			if addr, _ := cmd.Flags().GetString("listen"); addr != "" {
				a.cfg.Server.ListenAddr = addr
			}
			return serve(ctx, a)
		},
	}
	cmd.Flags().String("listen", "", "Listen address (overrides server.listen_addr)")
	return cmd
}

func serve(ctx context.Context, a *app) error {
	cfg, logger := a.cfg, a.logger

	if err := a.ctrl.Resume(ctx); err != nil {
		logger.Warn("session_resume_failed", slog.String("error", err.Error()))
	}

	routes := api.New(cfg, a.ctrl, a.store, a.metrics, logger).Routes()
	protected := auth.NewAuthenticator(cfg.Auth, cfg.Server.HealthPublic).Middleware(routes)
	limited := auth.NewRateLimiter(cfg.RateLimit, a.metrics).Middleware(protected)
	root := observability.Middleware(logger, a.metrics, observability.TraceHandler(limited, "control_api"))

	httpSrv := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      root,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSeconds) * time.Second,
		TLSConfig:    buildTLSConfig(cfg, logger),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("arviz_agent_start",
			slog.String("listen_addr", cfg.Server.ListenAddr),
			slog.String("auth_mode", cfg.Auth.Mode),
			slog.String("game_base_url", a.client.BaseURL()),
			slog.String("profile", cfg.Storage.Profile))
		var err error
		if cfg.Server.TLSCertFile != "" && cfg.Server.TLSKeyFile != "" {
			err = httpSrv.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			err = httpSrv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server_failed", slog.String("error", err.Error()))
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown_failed", slog.String("error", err.Error()))
	}
	logger.Info("arviz_agent_stopped")
	return nil
}

func buildTLSConfig(cfg config.Config, logger *slog.Logger) *tls.Config {
	if cfg.Server.TLSClientCAFile == "" {
		return nil
	}
	caPem, err := os.ReadFile(cfg.Server.TLSClientCAFile)
	if err != nil {
		logger.Warn("tls_client_ca_read_failed", slog.String("error", err.Error()))
		return nil
	}
	pool := x509.NewCertPool()
	if ok := pool.AppendCertsFromPEM(caPem); !ok {
		logger.Warn("tls_client_ca_parse_failed")
		return nil
	}
	tlsCfg := &tls.Config{ClientCAs: pool, MinVersion: tls.VersionTLS12}
	if cfg.Server.TLSRequireClientCert {
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return tlsCfg
}
