package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/leadflowx/scoring-job/internal/api/handler"
	"github.com/leadflowx/scoring-job/internal/config"
	"github.com/leadflowx/scoring-job/internal/events"
	"github.com/leadflowx/scoring-job/internal/health"
	"github.com/leadflowx/scoring-job/internal/metrics"
	"github.com/leadflowx/scoring-job/internal/worker"
	"github.com/leadflowx/scoring-job/internal/worker/scoring"
	"github.com/leadflowx/scoring-job/internal/worker/storage"
	"github.com/leadflowx/scoring-job/shared/rabbitmq"
)

func buildRunCommand(opts *options) *cobra.Command {
	var (
		loop    bool
		enqueue bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Score today's leads",
		Long: `Enqueue today's unscored leads, then run claim, score and commit cycles
until the queue is empty and exit. With --loop (or SCORER_MODE=loop) a cycle
runs every poll interval until SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScorer(cmd.Context(), opts, loop, enqueue)
		},
	}

	cmd.Flags().BoolVar(&loop, "loop", false, "keep polling for work until interrupted")
	cmd.Flags().BoolVar(&enqueue, "enqueue", true, "enqueue today's unscored leads before claiming")

	return cmd
}

func runScorer(ctx context.Context, opts *options, loop, enqueue bool) error {
	s, err := openSession(ctx, opts, func(cfg *config.Config) error {
		if loop {
			cfg.Scorer.Mode = config.ModeLoop
		}
		return cfg.ValidateScorerConfig()
	})
	if err != nil {
		return err
	}
	defer s.Close()

	cfg, log := s.cfg, s.logger.Logger

	collector := metrics.NewCollector()
	if err := collector.RegisterDB(s.db.GetDB().DB, cfg.Database.Database); err != nil {
		log.Warn("Failed to register database metrics",
			slog.Any("error", err),
		)
	}

	validator, err := scoring.NewValidator()
	if err != nil {
		return fmt.Errorf("failed to initialize lead validator: %w", err)
	}

	var publisher worker.Publisher
	if cfg.RabbitMQ.Enabled {
		rabbitClient, err := rabbitmq.NewClient(ctx, rabbitConfig(&cfg.RabbitMQ), log)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()

		publisher = events.NewPublisher(rabbitClient)
		log.Info("RabbitMQ connection established")
	}

	runner := worker.NewRunner(&worker.Config{
		Logger:          log,
		Store:           storage.NewStorage(s.db, log),
		Validator:       validator,
		Publisher:       publisher,
		Metrics:         collector,
		BatchSize:       cfg.Scorer.BatchSize,
		MaxAttempts:     cfg.Scorer.MaxAttempts,
		PollInterval:    cfg.Scorer.PollInterval,
		ClaimTimeout:    cfg.Scorer.ClaimTimeout,
		StaleRunTimeout: cfg.Scorer.StaleRunTimeout,
		RunRetention:    cfg.Scorer.RunRetention,
		Location:        cfg.Location(),
		EnqueueLeads:    enqueue,
	})

	if cfg.Scorer.Mode != config.ModeLoop {
		_, err := runner.Drain(ctx)
		return exitStatus(log, err)
	}

	if cfg.Health.Enabled {
		serverCtx, stopServer := context.WithCancel(ctx)
		done := make(chan struct{})
		defer func() {
			stopServer()
			<-done
		}()

		deps := &handler.Dependencies{
			Logger:  log,
			Health:  health.NewReporter(s.db, cfg.Health.ProbeTimeout, collector),
			Service: cfg.App.Name,
		}
		engine := newEngine(cfg.App.Environment, deps, collector.Handler())

		go func() {
			defer close(done)
			if err := serveHTTP(serverCtx, listenAddr(cfg.Health.Port), engine, log); err != nil {
				log.Error("Health server failed",
					slog.Any("error", err),
				)
			}
		}()
	}

	return exitStatus(log, runner.Loop(ctx))
}

// exitStatus treats an interrupted run as a clean shutdown. The runner has
// already released its claims and recorded the run as failed.
func exitStatus(log *slog.Logger, err error) error {
	if errors.Is(err, context.Canceled) {
		log.Info("Scoring job interrupted, shutting down")
		return nil
	}
	if err != nil {
		return fmt.Errorf("scoring run failed: %w", err)
	}
	return nil
}
