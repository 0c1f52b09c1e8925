package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	httphandler "github.com/ericfisherdev/releaseintel/internal/adapter/driving/http"
	"github.com/ericfisherdev/releaseintel/internal/bootstrap"
	"github.com/ericfisherdev/releaseintel/internal/config"
	"github.com/ericfisherdev/releaseintel/internal/logging"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load .env (optional) and configuration.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"collect_interval", cfg.CollectInterval,
		"github_owner", cfg.GitHubOwner,
	)

	// 2. Setup signal-based context (SIGINT, SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Open database, run migrations and wire services.
	app, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := app.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	// 4. Start the collect-then-diagnose loop.
	go app.Cycles.Start(ctx)

	// 5. Create HTTP handler and register API routes.
	apiHandler := httphandler.NewHandler(httphandler.Dependencies{
		RepoStore:   app.RepoStore,
		BuildStore:  app.BuildStore,
		DeployStore: app.DeployStore,
		Metrics:     app.Metrics,
		Detector:    app.Detector,
		Analyzer:    app.Analyzer,
		Diagnostics: app.Diagnostics,
		Cycles:      app.Cycles,
	}, logger)

	// WriteTimeout covers POST /collect, which waits for a full cycle.
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httphandler.NewServeMux(apiHandler, cfg.CORSOrigins, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("http server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			stop()
		}
	}()

	slog.Info("releaseintel started",
		"listen_addr", cfg.ListenAddr,
		"collection_enabled", app.Provider != nil,
		"suggestions_enabled", cfg.SuggestionsEnabled,
	)

	// 6. Wait for shutdown signal.
	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}

	// The deferred app.Close must not run under a cycle still writing.
	if err := app.Cycles.Wait(shutdownCtx); err != nil {
		slog.Error("cycle service did not stop", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}
