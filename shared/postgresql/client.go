package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Config holds PostgreSQL connection configuration
type Config struct {
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	Timezone         string
	ApplicationName  string
	ConnectTimeout   time.Duration
	StatementTimeout time.Duration
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
	ConnMaxIdleTime  time.Duration
	Retry            RetryPolicy
}

// DSN builds a lib/pq key=value connection string. Unknown keys such as
// statement_timeout and timezone are sent to the server as session settings.
func (c *Config) DSN() string {
	params := map[string]string{
		"host":     c.Host,
		"port":     strconv.Itoa(c.Port),
		"user":     c.User,
		"password": c.Password,
		"dbname":   c.Database,
		"sslmode":  c.SSLMode,
	}
	if c.Timezone != "" {
		params["timezone"] = c.Timezone
	}
	if c.ApplicationName != "" {
		params["application_name"] = c.ApplicationName
	}
	if c.ConnectTimeout > 0 {
		// lib/pq takes whole seconds and reads 0 as no timeout
		params["connect_timeout"] = strconv.FormatInt(int64(math.Ceil(c.ConnectTimeout.Seconds())), 10)
	}
	if c.StatementTimeout > 0 {
		params["statement_timeout"] = strconv.FormatInt(c.StatementTimeout.Milliseconds(), 10)
	}

	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+quoteDSNValue(params[k]))
	}
	return strings.Join(parts, " ")
}

func quoteDSNValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// Client represents a PostgreSQL database client. It owns the connection
// pool for the process lifetime and is passed explicitly to its users.
type Client struct {
	db     *sqlx.DB
	config *Config
	logger *slog.Logger
}

// NewClient opens the pool and verifies it, retrying connectivity failures
// with the configured policy
func NewClient(ctx context.Context, config *Config, logger *slog.Logger) (*Client, error) {
	logger.Info("Connecting to PostgreSQL",
		slog.String("host", config.Host),
		slog.Int("port", config.Port),
		slog.String("database", config.Database),
		slog.Int("max_attempts", config.Retry.Attempts),
	)

	db, err := sqlx.Open("postgres", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	err = Retry(ctx, config.Retry, logger, "connect", func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout(config))
		defer cancel()
		return db.PingContext(pingCtx)
	})
	if err != nil {
		logger.Error("Failed to connect to PostgreSQL",
			slog.Any("error", err),
		)
		db.Close()
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	logger.Info("Successfully connected to PostgreSQL",
		slog.Int("max_open_conns", config.MaxOpenConns),
		slog.Int("max_idle_conns", config.MaxIdleConns),
		slog.Duration("conn_max_lifetime", config.ConnMaxLifetime),
	)

	return NewFromDB(db, config, logger), nil
}

// NewFromDB wraps an already opened pool
func NewFromDB(db *sqlx.DB, config *Config, logger *slog.Logger) *Client {
	return &Client{
		db:     db,
		config: config,
		logger: logger,
	}
}

func pingTimeout(config *Config) time.Duration {
	if config.ConnectTimeout > 0 {
		return config.ConnectTimeout
	}
	return 5 * time.Second
}

// GetDB returns the underlying sqlx.DB instance
func (c *Client) GetDB() *sqlx.DB {
	return c.db
}

// Close closes the database connection
func (c *Client) Close() error {
	c.logger.Info("Closing PostgreSQL connection")

	if c.db != nil {
		if err := c.db.Close(); err != nil {
			c.logger.Error("Failed to close PostgreSQL connection",
				slog.Any("error", err),
			)
			return err
		}
	}

	c.logger.Info("PostgreSQL connection closed successfully")
	return nil
}

// Ping checks the database connection
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) retry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return Retry(ctx, c.config.Retry, c.logger, op, fn)
}

// Exec runs a statement and returns the number of affected rows
func (c *Client) Exec(ctx context.Context, op, query string, args ...interface{}) (int64, error) {
	var affected int64
	err := c.retry(ctx, op, func(ctx context.Context) error {
		result, err := c.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		c.logger.Error("Failed to execute query",
			slog.String("op", op),
			slog.Any("error", err),
		)
		return 0, err
	}
	return affected, nil
}

// Get scans a single row into dest. sql.ErrNoRows is returned unchanged.
func (c *Client) Get(ctx context.Context, op string, dest interface{}, query string, args ...interface{}) error {
	err := c.retry(ctx, op, func(ctx context.Context) error {
		return c.db.GetContext(ctx, dest, query, args...)
	})
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		c.logger.Error("Failed to get row",
			slog.String("op", op),
			slog.Any("error", err),
		)
	}
	return err
}

// Select scans all rows into dest
func (c *Client) Select(ctx context.Context, op string, dest interface{}, query string, args ...interface{}) error {
	err := c.retry(ctx, op, func(ctx context.Context) error {
		return c.db.SelectContext(ctx, dest, query, args...)
	})
	if err != nil {
		c.logger.Error("Failed to select rows",
			slog.String("op", op),
			slog.Any("error", err),
		)
	}
	return err
}

// WithTx runs fn inside one transaction. The transaction is rolled back
// when fn fails and committed otherwise. A connectivity failure while fn
// runs retries fn from the start, so fn must not keep state across calls.
//
// A failed Commit is never retried: the server may have applied the
// transaction before the connection dropped. The error is returned as is
// and callers must treat the outcome as unknown.
func (c *Client) WithTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) error {
	return c.retry(ctx, op, func(ctx context.Context) error {
		tx, err := c.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}

		if err := fn(tx); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				c.logger.Warn("Failed to roll back transaction",
					slog.String("op", op),
					slog.Any("error", rbErr),
				)
			}
			return err
		}

		if err := tx.Commit(); err != nil {
			return &commitError{err: classify(op, err)}
		}
		return nil
	})
}

// HealthCheck performs a single round trip without retrying
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.Ping(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", classify("healthcheck", err))
	}

	var result int
	if err := c.db.GetContext(ctx, &result, "SELECT 1"); err != nil {
		return fmt.Errorf("database query health check failed: %w", classify("healthcheck", err))
	}

	return nil
}
