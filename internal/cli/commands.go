package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/leadflowx/scoring-job/internal/api/handler"
	apistorage "github.com/leadflowx/scoring-job/internal/api/storage"
	"github.com/leadflowx/scoring-job/internal/config"
	"github.com/leadflowx/scoring-job/internal/export"
	"github.com/leadflowx/scoring-job/internal/health"
	"github.com/leadflowx/scoring-job/internal/metrics"
	"github.com/leadflowx/scoring-job/internal/worker"
	"github.com/leadflowx/scoring-job/internal/worker/storage"
	"github.com/leadflowx/scoring-job/shared/postgresql"
)

func buildHealthcheckCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "Probe the database once and exit 0 if it is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			appLogger, err := initLogger(cfg)
			if err != nil {
				return err
			}
			defer appLogger.Close()

			status := probe(cmd.Context(), cfg, appLogger.Logger)

			if err := json.NewEncoder(cmd.OutOrStdout()).Encode(status); err != nil {
				return fmt.Errorf("failed to write health status: %w", err)
			}
			if !status.Healthy() {
				return fmt.Errorf("%w: %s", ErrUnhealthy, status.Reason)
			}
			return nil
		},
	}
}

// probe opens a single connection without retries and checks it within the
// configured probe timeout
func probe(ctx context.Context, cfg *config.Config, log *slog.Logger) health.Status {
	pgConfig := postgresConfig(cfg)
	pgConfig.Retry = postgresql.RetryPolicy{Attempts: 1}
	pgConfig.MaxOpenConns = 1
	pgConfig.MaxIdleConns = 1

	reporter := health.NewReporter(dialChecker{config: pgConfig, logger: log}, cfg.Health.ProbeTimeout, nil)
	return reporter.Check(ctx)
}

// dialChecker connects on every probe so connection setup counts against
// the probe timeout
type dialChecker struct {
	config *postgresql.Config
	logger *slog.Logger
}

func (d dialChecker) HealthCheck(ctx context.Context) error {
	client, err := postgresql.NewClient(ctx, d.config, d.logger)
	if err != nil {
		return err
	}
	defer client.Close()

	return client.HealthCheck(ctx)
}

func buildEnqueueCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue",
		Short: "Create pending work items for today's unscored leads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, err := openSession(ctx, opts, (*config.Config).ValidateScorerConfig)
			if err != nil {
				return err
			}
			defer s.Close()

			runner := worker.NewRunner(&worker.Config{
				Logger:      s.logger.Logger,
				Store:       storage.NewStorage(s.db, s.logger.Logger),
				MaxAttempts: s.cfg.Scorer.MaxAttempts,
				Location:    s.cfg.Location(),
			})

			n, err := runner.Enqueue(ctx)
			if err != nil {
				return fmt.Errorf("failed to enqueue leads: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %d leads\n", n)
			return nil
		},
	}
}

func buildMigrateCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the scoring tables if they do not exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, err := openSession(ctx, opts, nil)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := storage.NewStorage(s.db, s.logger.Logger).ApplySchema(ctx); err != nil {
				return fmt.Errorf("failed to apply schema: %w", err)
			}

			s.logger.Info("Schema applied")
			return nil
		},
	}
}

func buildExportCommand(opts *options) *cobra.Command {
	var (
		out     string
		jobDate string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write result records to an XLSX workbook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if jobDate != "" {
				if _, err := time.Parse(time.DateOnly, jobDate); err != nil {
					return fmt.Errorf("invalid --date %q, expected YYYY-MM-DD", jobDate)
				}
			}

			ctx := cmd.Context()

			s, err := openSession(ctx, opts, nil)
			if err != nil {
				return err
			}
			defer s.Close()

			service := export.NewService(apistorage.NewStorage(s.db), s.logger.Logger)
			data, rows, err := service.ScoresXLSX(ctx, jobDate)
			if err != nil {
				return err
			}

			if err := os.WriteFile(out, data, 0o644); err != nil {
				return fmt.Errorf("failed to write export file: %w", err)
			}

			s.logger.Info("Scores exported",
				slog.String("file", out),
				slog.Int("rows", rows),
				slog.String("job_date", jobDate),
			)
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "scores.xlsx", "output file")
	cmd.Flags().StringVar(&jobDate, "date", "", "only export results of this job date (YYYY-MM-DD)")

	return cmd
}

func buildServeCommand(opts *options) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve health, metrics and the score read API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			s, err := openSession(ctx, opts, func(cfg *config.Config) error {
				if port != 0 {
					cfg.Health.Port = port
				}
				if cfg.Health.Port < config.MinPort || cfg.Health.Port > config.MaxPort {
					return &config.ValidationError{
						Field:   "health.port",
						Message: fmt.Sprintf("invalid health port: %d (must be between %d and %d)", cfg.Health.Port, config.MinPort, config.MaxPort),
					}
				}
				return nil
			})
			if err != nil {
				return err
			}
			defer s.Close()

			collector := metrics.NewCollector()
			if err := collector.RegisterDB(s.db.GetDB().DB, s.cfg.Database.Database); err != nil {
				s.logger.Warn("Failed to register database metrics",
					slog.Any("error", err),
				)
			}

			deps := &handler.Dependencies{
				Logger:  s.logger.Logger,
				Reader:  apistorage.NewStorage(s.db),
				Health:  health.NewReporter(s.db, s.cfg.Health.ProbeTimeout, collector),
				Service: s.cfg.App.Name,
			}

			engine := newEngine(s.cfg.App.Environment, deps, collector.Handler())
			return serveHTTP(ctx, listenAddr(s.cfg.Health.Port), engine, s.logger.Logger)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (defaults to health.port)")

	return cmd
}
