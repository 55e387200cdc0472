// Package cli wires configuration, the database gateway and the scoring
// components into the scoring-job commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/leadflowx/scoring-job/internal/config"
	"github.com/leadflowx/scoring-job/shared/logger"
	"github.com/leadflowx/scoring-job/shared/postgresql"
	"github.com/leadflowx/scoring-job/shared/rabbitmq"
)

// ConfigPathEnv names the variable holding the default --config value
const ConfigPathEnv = "SCORER_CONFIG_PATH"

// ErrUnhealthy is returned by the healthcheck command when the probe fails
var ErrUnhealthy = errors.New("database is unhealthy")

type options struct {
	configPath string
}

// BuildCLI returns the scoring-job root command
func BuildCLI() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "scoring-job",
		Short: "LeadFlowX lead scoring job",
		Long: `scoring-job scores raw leads stored in PostgreSQL.
Work items are claimed with SKIP LOCKED so any number of instances can run
against the same database.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv(ConfigPathEnv), "config file path (environment variables override it)")

	rootCmd.AddCommand(buildRunCommand(opts))
	rootCmd.AddCommand(buildHealthcheckCommand(opts))
	rootCmd.AddCommand(buildEnqueueCommand(opts))
	rootCmd.AddCommand(buildMigrateCommand(opts))
	rootCmd.AddCommand(buildExportCommand(opts))
	rootCmd.AddCommand(buildServeCommand(opts))

	return rootCmd
}

// loadConfig reads the file named by --config plus the environment and
// checks the database settings
func loadConfig(opts *options) (*config.Config, error) {
	cfg, err := config.FromEnvironment(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// initLogger initializes the application logger. Every record carries the
// service name and environment.
func initLogger(cfg *config.Config) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cfg.Logging.Output,
		EnableSource: cfg.Logging.EnableCaller,
		TimeFormat:   time.RFC3339,
		Attrs: []slog.Attr{
			slog.String("service", cfg.App.Name),
			slog.String("environment", cfg.App.Environment),
		},
	}

	appLogger, err := logger.New(loggerCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return appLogger, nil
}

func postgresConfig(cfg *config.Config) *postgresql.Config {
	return &postgresql.Config{
		Host:             cfg.Database.Host,
		Port:             cfg.Database.Port,
		User:             cfg.Database.User,
		Password:         cfg.Database.Password,
		Database:         cfg.Database.Database,
		SSLMode:          cfg.Database.SSLMode,
		Timezone:         cfg.Database.Timezone,
		ApplicationName:  cfg.App.Name,
		ConnectTimeout:   cfg.Database.ConnectTimeout,
		StatementTimeout: cfg.Database.StatementTimeout,
		MaxOpenConns:     cfg.Database.MaxOpenConns,
		MaxIdleConns:     cfg.Database.MaxIdleConns,
		ConnMaxLifetime:  cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime:  cfg.Database.ConnMaxIdleTime,
		Retry: postgresql.RetryPolicy{
			Attempts:    cfg.Retry.Attempts,
			Interval:    cfg.Retry.Interval,
			Multiplier:  cfg.Retry.Multiplier,
			MaxInterval: cfg.Retry.MaxInterval,
		},
	}
}

func rabbitConfig(cfg *config.RabbitMQConfig) *rabbitmq.Config {
	return &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}
}

// session holds what every database command needs
type session struct {
	cfg    *config.Config
	logger *logger.Logger
	db     *postgresql.Client
}

// openSession loads the configuration, starts the logger and connects to
// PostgreSQL with the configured retry policy
func openSession(ctx context.Context, opts *options, validate func(*config.Config) error) (*session, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	if validate != nil {
		if err := validate(cfg); err != nil {
			return nil, err
		}
	}

	appLogger, err := initLogger(cfg)
	if err != nil {
		return nil, err
	}

	appLogger.Info("Starting scoring job",
		slog.String("version", cfg.App.Version),
	)

	db, err := postgresql.NewClient(ctx, postgresConfig(cfg), appLogger.Logger)
	if err != nil {
		appLogger.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return &session{cfg: cfg, logger: appLogger, db: db}, nil
}

func (s *session) Close() {
	if err := s.db.Close(); err != nil {
		s.logger.Warn("Failed to close database",
			slog.Any("error", err),
		)
	}
	s.logger.Close()
}
