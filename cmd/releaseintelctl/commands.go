package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/ericfisherdev/releaseintel/internal/bootstrap"
	"github.com/ericfisherdev/releaseintel/internal/config"
	"github.com/ericfisherdev/releaseintel/internal/domain/model"
	"github.com/ericfisherdev/releaseintel/internal/domain/port/driven"
	"github.com/ericfisherdev/releaseintel/internal/logging"
)

// withApp loads configuration, wires the application and runs fn with it.
// Logs go to stderr so stdout stays valid JSON.
func withApp(cmd *cobra.Command, fn func(app *bootstrap.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.SetDefault(logging.New(cfg.LogLevel, cfg.LogFormat))

	app, err := bootstrap.Open(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := app.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	return fn(app)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newCollectCmd() *cobra.Command {
	var repo string

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Collect pipeline runs, merged PRs and deployments, then generate diagnostics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(app *bootstrap.App) error {
				ctx := cmd.Context()

				var out struct {
					Collected           any `json:"collected"`
					DiagnosticsInserted int `json:"diagnostics_inserted"`
				}

				if repo != "" {
					stats, err := app.Collector.CollectRepository(ctx, repo)
					if err != nil {
						return err
					}
					out.Collected = stats
				} else {
					stats, err := app.Collector.CollectAll(ctx)
					if err != nil {
						return err
					}
					out.Collected = stats
				}

				inserted, err := app.Diagnostics.Run(ctx)
				if err != nil {
					return err
				}
				out.DiagnosticsInserted = inserted

				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	cmd.Flags().StringVar(&repo, "repo", "", "collect only this owner/repo")

	return cmd
}

func newDiagnoseCmd() *cobra.Command {
	var (
		dryRun bool
		limit  int
		repoID int64
	)

	cmd := &cobra.Command{
		Use:   "diagnose",
		Short: "Generate diagnostics from stored data and list the open ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(app *bootstrap.App) error {
				ctx := cmd.Context()

				if dryRun {
					diags, err := app.Diagnostics.Generate(ctx)
					if err != nil {
						return err
					}
					if diags == nil {
						diags = []model.Diagnostic{}
					}
					return printJSON(cmd.OutOrStdout(), diags)
				}

				inserted, err := app.Diagnostics.Run(ctx)
				if err != nil {
					return err
				}
				var scope *int64
				if repoID > 0 {
					scope = &repoID
				}
				open, err := app.Diagnostics.Open(ctx, limit, scope)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), struct {
					Inserted int                `json:"inserted"`
					Open     []model.Diagnostic `json:"open"`
				}{inserted, open})
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print generated diagnostics without saving them")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum open diagnostics to print")
	cmd.Flags().Int64Var(&repoID, "repository-id", 0, "print open diagnostics of this repository only")

	return cmd
}

func newAnalyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze OWNER/REPO",
		Short: "Analyze the latest pipeline run of a repository against other repositories",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(app *bootstrap.App) error {
				analysis, err := app.Analyzer.AnalyzeLatestFailure(cmd.Context(), args[0])
				if errors.Is(err, driven.ErrProviderUnavailable) {
					return errors.New("analysis needs RELEASEINTEL_GITHUB_TOKEN and RELEASEINTEL_GITHUB_OWNER")
				}
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), analysis)
			})
		},
	}
}

func newBillingCmd() *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "billing",
		Short: "Report build minutes for the 28th-to-28th billing period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ref := time.Now().UTC()
			if date != "" {
				parsed, err := time.Parse(time.DateOnly, date)
				if err != nil {
					return fmt.Errorf("invalid --date %q: expected YYYY-MM-DD", date)
				}
				ref = parsed
			}

			return withApp(cmd, func(app *bootstrap.App) error {
				minutes, err := app.Metrics.BuildMinutesBillingCycle(cmd.Context(), ref)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), minutes)
			})
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "any day in the billing period (YYYY-MM-DD, default today)")

	return cmd
}

func newPatternsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "List the most common stored failure patterns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(app *bootstrap.App) error {
				patterns, err := app.Analyzer.CommonFailurePatterns(cmd.Context(), limit)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), patterns)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "number of patterns")

	return cmd
}
