// Package config manages application configuration loading and validation.
package config

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// StorageConfig selects and configures the ledger store.
type StorageConfig struct {
	Backend Backend      `yaml:"backend"`
	Badger  BadgerConfig `yaml:"badger"`
}

// BadgerConfig configures the embedded store.
type BadgerConfig struct {
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"inMemory"`
}

// TelemetryConfig configures OTLP exporters (metrics only).
type TelemetryConfig struct {
	OTLPEndpoint   string        `yaml:"otlpEndpoint"`
	ServiceName    string        `yaml:"serviceName"`
	EnableMetrics  bool          `yaml:"enableMetrics"`
	ExportInterval time.Duration `yaml:"exportInterval"`
}

// DatabaseConfig controls PostgreSQL connectivity and migration behaviour.
type DatabaseConfig struct {
	DSN               string        `yaml:"dsn"`
	MaxConns          int32         `yaml:"maxConns"`
	MinConns          int32         `yaml:"minConns"`
	MaxConnLifetime   time.Duration `yaml:"maxConnLifetime"`
	MaxConnIdleTime   time.Duration `yaml:"maxConnIdleTime"`
	HealthCheckPeriod time.Duration `yaml:"healthCheckPeriod"`
	RunMigrations     bool          `yaml:"runMigrations"`
}

// LedgerConfig carries ledger service defaults.
type LedgerConfig struct {
	CashCurrency string `yaml:"cashCurrency"`
	ActorType    string `yaml:"actorType"`
}

// LoggingConfig selects the log level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RetryConfig bounds caller-side retries of contended mutations.
type RetryConfig struct {
	InitialInterval time.Duration `yaml:"initialInterval"`
	MaxInterval     time.Duration `yaml:"maxInterval"`
	MaxElapsed      time.Duration `yaml:"maxElapsed"`
}

func (c *DatabaseConfig) applyDefaults() {
	c.DSN = strings.TrimSpace(c.DSN)
	if c.DSN == "" {
		c.DSN = "postgresql://localhost:5432/tradeledger"
	}
	if c.MaxConns <= 0 {
		c.MaxConns = 16
	}
	if c.MinConns <= 0 {
		c.MinConns = 1
	}
	if c.MinConns > c.MaxConns {
		c.MinConns = c.MaxConns
	}
	if c.MaxConnLifetime <= 0 {
		c.MaxConnLifetime = 30 * time.Minute
	}
	if c.MaxConnIdleTime <= 0 {
		c.MaxConnIdleTime = 5 * time.Minute
	}
	if c.HealthCheckPeriod <= 0 {
		c.HealthCheckPeriod = 30 * time.Second
	}
}

func (c DatabaseConfig) validate() error {
	if strings.TrimSpace(c.DSN) == "" {
		return fmt.Errorf("dsn required")
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("maxConns must be >0")
	}
	if c.MinConns < 0 {
		return fmt.Errorf("minConns must be >=0")
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("minConns must be <= maxConns")
	}
	if c.MaxConnLifetime <= 0 {
		return fmt.Errorf("maxConnLifetime must be >0")
	}
	if c.MaxConnIdleTime <= 0 {
		return fmt.Errorf("maxConnIdleTime must be >0")
	}
	if c.HealthCheckPeriod <= 0 {
		return fmt.Errorf("healthCheckPeriod must be >0")
	}
	return nil
}

// AppConfig is the unified ledger configuration sourced from YAML.
type AppConfig struct {
	Environment Environment     `yaml:"environment"`
	Storage     StorageConfig   `yaml:"storage"`
	Database    DatabaseConfig  `yaml:"database"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Ledger      LedgerConfig    `yaml:"ledger"`
	Logging     LoggingConfig   `yaml:"logging"`
	Retry       RetryConfig     `yaml:"retry"`
}

// DefaultAppConfig returns a development configuration backed by an
// in-memory badger store.
func DefaultAppConfig() AppConfig {
	cfg := AppConfig{
		Environment: EnvDev,
		Storage: StorageConfig{
			Backend: BackendBadger,
			Badger:  BadgerConfig{InMemory: true},
		},
	}
	if err := cfg.normalise(); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return cfg
}

// Load reads and validates an AppConfig from the provided YAML file.
func Load(ctx context.Context, configPath string) (AppConfig, error) {
	_ = ctx

	reader, closer, err := openConfigFile(configPath)
	if err != nil {
		return AppConfig{}, err
	}
	defer closer()

	bytes, err := io.ReadAll(reader)
	if err != nil {
		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(bytes)
}

// Parse decodes, normalises and validates YAML configuration bytes.
func Parse(data []byte) (AppConfig, error) {
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.normalise(); err != nil {
		return AppConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c *AppConfig) normalise() error {
	c.Environment = Environment(normalizeIdentifier(string(c.Environment)))
	if c.Environment == "" {
		c.Environment = EnvDev
	}

	c.Storage.Backend = Backend(normalizeIdentifier(string(c.Storage.Backend)))
	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendPostgres
	}
	if path := strings.TrimSpace(c.Storage.Badger.Path); path != "" {
		c.Storage.Badger.Path = filepath.Clean(path)
	}

	c.Telemetry.OTLPEndpoint = strings.TrimSpace(c.Telemetry.OTLPEndpoint)
	c.Telemetry.ServiceName = strings.TrimSpace(c.Telemetry.ServiceName)
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "tradeledger"
	}
	if c.Telemetry.ExportInterval <= 0 {
		c.Telemetry.ExportInterval = 15 * time.Second
	}

	c.Ledger.CashCurrency = strings.ToUpper(strings.TrimSpace(c.Ledger.CashCurrency))
	if c.Ledger.CashCurrency == "" {
		c.Ledger.CashCurrency = "USD"
	}
	c.Ledger.ActorType = normalizeIdentifier(c.Ledger.ActorType)
	if c.Ledger.ActorType == "" {
		c.Ledger.ActorType = "system"
	}

	c.Logging.Level = normalizeIdentifier(c.Logging.Level)
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	c.Logging.Format = normalizeIdentifier(c.Logging.Format)
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	if c.Retry.InitialInterval <= 0 {
		c.Retry.InitialInterval = 10 * time.Millisecond
	}
	if c.Retry.MaxInterval <= 0 {
		c.Retry.MaxInterval = 500 * time.Millisecond
	}
	if c.Retry.MaxElapsed <= 0 {
		c.Retry.MaxElapsed = 5 * time.Second
	}

	c.Database.applyDefaults()

	return nil
}

// Validate performs semantic validation on the configuration.
func (c AppConfig) Validate() error {
	switch c.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("environment must be one of dev, staging, prod")
	}

	switch c.Storage.Backend {
	case BackendPostgres:
		if err := c.Database.validate(); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	case BackendBadger:
		if !c.Storage.Badger.InMemory && strings.TrimSpace(c.Storage.Badger.Path) == "" {
			return fmt.Errorf("storage badger path required unless inMemory")
		}
	default:
		return fmt.Errorf("storage backend must be one of postgres, badger")
	}

	if len(c.Ledger.CashCurrency) != 3 {
		return fmt.Errorf("ledger cashCurrency must be a 3-letter code")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging level %q unsupported", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging format must be text or json")
	}

	if c.Retry.MaxInterval < c.Retry.InitialInterval {
		return fmt.Errorf("retry maxInterval must be >= initialInterval")
	}

	if strings.TrimSpace(c.Telemetry.ServiceName) == "" {
		return fmt.Errorf("telemetry serviceName required")
	}

	return nil
}

func openConfigFile(path string) (io.Reader, func(), error) {
	candidate := strings.TrimSpace(path)
	candidate = filepath.Clean(candidate)

	file, err := os.Open(candidate) // #nosec G304 -- path is operator controlled.
	if err != nil {
		return nil, nil, fmt.Errorf("open app config: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}
