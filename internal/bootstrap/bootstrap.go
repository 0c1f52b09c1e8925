// Package bootstrap wires the stores, adapters and services shared by the
// server and the CLI.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	githubadapter "github.com/ericfisherdev/releaseintel/internal/adapter/driven/github"
	"github.com/ericfisherdev/releaseintel/internal/adapter/driven/ollama"
	sqliteadapter "github.com/ericfisherdev/releaseintel/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/releaseintel/internal/application"
	"github.com/ericfisherdev/releaseintel/internal/config"
	"github.com/ericfisherdev/releaseintel/internal/domain/failure"
	"github.com/ericfisherdev/releaseintel/internal/domain/port/driven"
)

// App holds the wired components. Close releases the database.
type App struct {
	DB *sqliteadapter.DB

	RepoStore   *sqliteadapter.RepoRepo
	BuildStore  *sqliteadapter.BuildRepo
	PRStore     *sqliteadapter.PRRepo
	DeployStore *sqliteadapter.DeploymentRepo
	DiagStore   *sqliteadapter.DiagnosticRepo

	// Provider is nil when no GitHub credentials are configured.
	Provider driven.PipelineProvider

	Collector   *application.Collector
	Detector    *application.RegressionDetector
	Diagnostics *application.DiagnosticEngine
	Analyzer    *application.ErrorAnalyzer
	Metrics     *application.MetricsCalculator
	Cycles      *application.CycleService
}

// Open opens and migrates the database, then wires every adapter and service
// from cfg.
func Open(ctx context.Context, cfg *config.Config) (*App, error) {
	db, err := sqliteadapter.NewDB(ctx, cfg.DBPath)
	if err != nil {
		return nil, err
	}
	slog.Info("database opened", "path", db.Path())

	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		_ = db.Close()
		return nil, err
	}
	version, _, err := sqliteadapter.SchemaVersion(db.Writer)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.Info("migrations complete", "schema_version", version)

	app := &App{
		DB:          db,
		RepoStore:   sqliteadapter.NewRepoRepo(db),
		BuildStore:  sqliteadapter.NewBuildRepo(db),
		PRStore:     sqliteadapter.NewPRRepo(db),
		DeployStore: sqliteadapter.NewDeploymentRepo(db),
		DiagStore:   sqliteadapter.NewDiagnosticRepo(db),
	}

	// Leave Provider as a nil interface when disabled; a typed nil pointer
	// would defeat the services' nil checks.
	if cfg.HasGitHubCredentials() {
		client, err := githubadapter.NewClient(cfg.GitHubToken, cfg.GitHubOwner, cfg.GitHubRepos, cfg.GitHubBaseURL)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create github client: %w", err)
		}
		app.Provider = client
		slog.Info("github client created", "owner", cfg.GitHubOwner, "repos", len(cfg.GitHubRepos))
	} else {
		slog.Info("no github credentials configured, collection disabled")
	}

	fixes, err := failure.LoadKnownFixes(cfg.KnownFixesFile)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	slog.Info("known fixes loaded", "entries", fixes.Len())

	var suggester driven.Suggester
	if cfg.SuggestionsEnabled {
		suggester = ollama.NewSuggester(ollama.Config{
			BaseURL: cfg.OllamaURL,
			Model:   cfg.OllamaModel,
			Token:   cfg.OllamaToken,
		})
		slog.Info("suggestions enabled", "url", cfg.OllamaURL, "model", cfg.OllamaModel)
	}

	app.Detector = application.NewRegressionDetector(app.RepoStore, app.BuildStore)
	app.Diagnostics = application.NewDiagnosticEngine(
		app.RepoStore, app.BuildStore, app.DiagStore, app.Detector, suggester, cfg.SuggestionTimeout,
	)
	app.Analyzer = application.NewErrorAnalyzer(app.Provider, app.RepoStore, app.BuildStore, fixes, cfg.LogFetchTimeout)
	app.Metrics = application.NewMetricsCalculator(app.RepoStore, app.BuildStore, app.PRStore, app.DeployStore, app.DiagStore)
	app.Collector = application.NewCollector(
		app.Provider, app.RepoStore, app.BuildStore, app.PRStore, app.DeployStore,
		application.CollectorOptions{
			RunsPerRepo:        cfg.RunsPerRepo,
			PRsPerRepo:         cfg.PRsPerRepo,
			DeploymentsPerRepo: cfg.DeploymentsPerRepo,
			LogFetchTimeout:    cfg.LogFetchTimeout,
		},
	)
	app.Cycles = application.NewCycleService(app.Collector, app.Diagnostics, cfg.CollectInterval)

	return app, nil
}

// Close closes the database.
func (a *App) Close() error {
	return a.DB.Close()
}
