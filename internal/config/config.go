package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Scorer run modes
const (
	ModeOnce = "once"
	ModeLoop = "loop"
)

// Config represents the complete application configuration
type Config struct {
	App      AppConfig      `yaml:"app"`
	Database DatabaseConfig `yaml:"database"`
	Retry    RetryConfig    `yaml:"retry"`
	Scorer   ScorerConfig   `yaml:"scorer"`
	Health   HealthConfig   `yaml:"health"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	User             string        `yaml:"user"`
	Password         string        `yaml:"password"`
	Database         string        `yaml:"database"`
	SSLMode          string        `yaml:"sslmode"`
	Timezone         string        `yaml:"timezone"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	StatementTimeout time.Duration `yaml:"statement_timeout"`
	MaxOpenConns     int           `yaml:"max_open_conns"`
	MaxIdleConns     int           `yaml:"max_idle_conns"`
	ConnMaxLifetime  time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime  time.Duration `yaml:"conn_max_idle_time"`
}

// RetryConfig holds the backoff policy for transient database failures
type RetryConfig struct {
	Attempts    int           `yaml:"attempts"`
	Interval    time.Duration `yaml:"interval"`
	Multiplier  float64       `yaml:"multiplier"`
	MaxInterval time.Duration `yaml:"max_interval"`
}

// ScorerConfig holds job runner configuration
type ScorerConfig struct {
	Mode            string        `yaml:"mode"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	BatchSize       int           `yaml:"batch_size"`
	MaxAttempts     int           `yaml:"max_attempts"`
	ClaimTimeout    time.Duration `yaml:"claim_timeout"`
	StaleRunTimeout time.Duration `yaml:"stale_run_timeout"`
	RunRetention    time.Duration `yaml:"run_retention"`
}

// HealthConfig holds health reporter configuration
type HealthConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Port         int           `yaml:"port"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

// RabbitMQConfig holds the optional run event publisher configuration
type RabbitMQConfig struct {
	Enabled    bool             `yaml:"enabled"`
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// ValidationError reports a missing or invalid configuration value
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + e.Message
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Default returns the configuration used when no file or variable overrides a value
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:        "leadflowx-scoring-job",
			Version:     "dev",
			Environment: "development",
		},
		Database: DatabaseConfig{
			Port:             5432,
			SSLMode:          "disable",
			Timezone:         "UTC",
			ConnectTimeout:   10 * time.Second,
			StatementTimeout: 30 * time.Second,
			MaxOpenConns:     4,
			MaxIdleConns:     2,
			ConnMaxLifetime:  30 * time.Minute,
			ConnMaxIdleTime:  5 * time.Minute,
		},
		Retry: RetryConfig{
			Attempts:    3,
			Interval:    5 * time.Second,
			Multiplier:  2,
			MaxInterval: time.Minute,
		},
		Scorer: ScorerConfig{
			Mode:            ModeOnce,
			PollInterval:    time.Minute,
			BatchSize:       50,
			MaxAttempts:     3,
			ClaimTimeout:    30 * time.Minute,
			StaleRunTimeout: 4 * time.Hour,
			RunRetention:    30 * 24 * time.Hour,
		},
		Health: HealthConfig{
			Port:         8081,
			ProbeTimeout: 10 * time.Second,
		},
		RabbitMQ: RabbitMQConfig{
			Port:  5672,
			VHost: "/",
			Exchange: ExchangeConfig{
				Name:    "leadflowx.events",
				Type:    "topic",
				Durable: true,
			},
			RoutingKey: "scoring.run.completed",
			Connection: ConnectionConfig{
				RetryAttempts: 3,
				RetryInterval: 2 * time.Second,
				Heartbeat:     10 * time.Second,
			},
			Publish: PublishConfig{
				RetryAttempts:     3,
				RetryInterval:     100 * time.Millisecond,
				BackoffMultiplier: 2,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file on top of the defaults
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// FromEnvironment builds the configuration from an optional file plus the
// process environment. Environment values win over the file.
func FromEnvironment(configPath string) (*Config, error) {
	config := Default()
	if configPath != "" {
		loaded, err := Load(configPath)
		if err != nil {
			return nil, err
		}
		config = loaded
	}

	if err := config.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	return config, nil
}

// ApplyEnv overrides configuration values with environment variables
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	e := envReader{lookup: lookup}

	if raw, ok := lookup("DB_URL"); ok && raw != "" {
		if err := c.Database.applyURL(raw); err != nil {
			return err
		}
	}

	e.setString("DB_HOST", &c.Database.Host)
	e.setInt("DB_PORT", &c.Database.Port)
	e.setString("DB_USER", &c.Database.User)
	e.setString("DB_PASSWORD", &c.Database.Password)
	e.setString("DB_NAME", &c.Database.Database)
	e.setString("DB_SSLMODE", &c.Database.SSLMode)
	e.setString("TZ", &c.Database.Timezone)
	e.setDuration("DB_CONNECT_TIMEOUT", &c.Database.ConnectTimeout)
	e.setDuration("DB_STATEMENT_TIMEOUT", &c.Database.StatementTimeout)

	e.setInt("DB_RETRY_ATTEMPTS", &c.Retry.Attempts)
	e.setDuration("DB_RETRY_INTERVAL", &c.Retry.Interval)
	e.setFloat("DB_RETRY_MULTIPLIER", &c.Retry.Multiplier)
	e.setDuration("DB_RETRY_MAX_INTERVAL", &c.Retry.MaxInterval)

	e.setString("SCORER_MODE", &c.Scorer.Mode)
	e.setDuration("SCORER_POLL_INTERVAL", &c.Scorer.PollInterval)
	e.setInt("SCORER_BATCH_SIZE", &c.Scorer.BatchSize)
	e.setInt("SCORER_MAX_ATTEMPTS", &c.Scorer.MaxAttempts)
	e.setDuration("SCORER_CLAIM_TIMEOUT", &c.Scorer.ClaimTimeout)
	e.setDuration("SCORER_STALE_RUN_TIMEOUT", &c.Scorer.StaleRunTimeout)
	e.setDuration("SCORER_RUN_RETENTION", &c.Scorer.RunRetention)

	e.setBool("HEALTH_ENABLED", &c.Health.Enabled)
	e.setInt("HEALTH_PORT", &c.Health.Port)
	e.setDuration("HEALTH_PROBE_TIMEOUT", &c.Health.ProbeTimeout)

	e.setString("LOG_LEVEL", &c.Logging.Level)
	e.setString("LOG_FORMAT", &c.Logging.Format)
	e.setString("LOG_OUTPUT", &c.Logging.Output)

	e.setBool("RABBITMQ_ENABLED", &c.RabbitMQ.Enabled)
	e.setString("RABBITMQ_HOST", &c.RabbitMQ.Host)
	e.setInt("RABBITMQ_PORT", &c.RabbitMQ.Port)
	e.setString("RABBITMQ_USER", &c.RabbitMQ.User)
	e.setString("RABBITMQ_PASSWORD", &c.RabbitMQ.Password)
	e.setString("RABBITMQ_EXCHANGE", &c.RabbitMQ.Exchange.Name)
	e.setString("RABBITMQ_ROUTING_KEY", &c.RabbitMQ.RoutingKey)

	return e.err
}

// applyURL decomposes a postgres:// URL into the individual connection fields
func (d *DatabaseConfig) applyURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return invalid("DB_URL", "DB_URL is not a valid URL: %v", err)
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return invalid("DB_URL", "DB_URL scheme must be postgres or postgresql, got %q", u.Scheme)
	}

	d.Host = u.Hostname()
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return invalid("DB_URL", "DB_URL port %q is not a number", p)
		}
		d.Port = port
	}
	if u.User != nil {
		d.User = u.User.Username()
		if pw, ok := u.User.Password(); ok {
			d.Password = pw
		}
	}
	if name := strings.TrimPrefix(u.Path, "/"); name != "" {
		d.Database = name
	}
	if mode := u.Query().Get("sslmode"); mode != "" {
		d.SSLMode = mode
	}

	return nil
}

type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func (e *envReader) fail(key, kind, value string) {
	if e.err == nil {
		e.err = invalid(key, "%s must be a %s, got %q", key, kind, value)
	}
}

func (e *envReader) setString(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) setInt(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, "number", v)
			return
		}
		*dst = n
	}
}

func (e *envReader) setFloat(key string, dst *float64) {
	if v, ok := e.get(key); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(key, "number", v)
			return
		}
		*dst = f
	}
}

func (e *envReader) setBool(key string, dst *bool) {
	if v, ok := e.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, "boolean", v)
			return
		}
		*dst = b
	}
}

func (e *envReader) setDuration(key string, dst *time.Duration) {
	if v, ok := e.get(key); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(key, "duration", v)
			return
		}
		*dst = d
	}
}

// Validate checks the settings every command needs: the database connection
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return invalid("database.host", "database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return invalid("database.port", "invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return invalid("database.database", "database name is required")
	}

	if c.Database.User == "" {
		return invalid("database.user", "database user is required")
	}

	if _, err := time.LoadLocation(c.Database.Timezone); err != nil {
		return invalid("database.timezone", "unknown timezone %q", c.Database.Timezone)
	}

	if c.Retry.Attempts < 1 {
		return invalid("retry.attempts", "retry attempts must be at least 1")
	}

	if c.Retry.Interval < 0 {
		return invalid("retry.interval", "retry interval must not be negative")
	}

	if c.Retry.Multiplier < 1 {
		return invalid("retry.multiplier", "retry multiplier must be at least 1")
	}

	return nil
}

// ValidateScorerConfig checks the job runner settings
func (c *Config) ValidateScorerConfig() error {
	if c.Scorer.Mode != ModeOnce && c.Scorer.Mode != ModeLoop {
		return invalid("scorer.mode", "scorer mode must be %q or %q, got %q", ModeOnce, ModeLoop, c.Scorer.Mode)
	}

	if c.Scorer.Mode == ModeLoop && c.Scorer.PollInterval <= 0 {
		return invalid("scorer.poll_interval", "scorer poll_interval must be greater than 0")
	}

	if c.Scorer.BatchSize <= 0 {
		return invalid("scorer.batch_size", "scorer batch_size must be greater than 0")
	}

	if c.Scorer.MaxAttempts <= 0 {
		return invalid("scorer.max_attempts", "scorer max_attempts must be greater than 0")
	}

	if c.Scorer.ClaimTimeout <= 0 {
		return invalid("scorer.claim_timeout", "scorer claim_timeout must be greater than 0")
	}

	if c.Scorer.StaleRunTimeout <= 0 {
		return invalid("scorer.stale_run_timeout", "scorer stale_run_timeout must be greater than 0")
	}

	if c.Scorer.RunRetention <= 0 {
		return invalid("scorer.run_retention", "scorer run_retention must be greater than 0")
	}

	if c.Health.Enabled && (c.Health.Port < MinPort || c.Health.Port > MaxPort) {
		return invalid("health.port", "invalid health port: %d (must be between %d and %d)", c.Health.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Enabled {
		if c.RabbitMQ.Host == "" {
			return invalid("rabbitmq.host", "rabbitmq host is required")
		}
		if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
			return invalid("rabbitmq.port", "invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
		}
		if c.RabbitMQ.Exchange.Name == "" {
			return invalid("rabbitmq.exchange.name", "rabbitmq exchange name is required")
		}
	}

	return nil
}

// Location returns the configured timezone. Validate must have passed.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Database.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
