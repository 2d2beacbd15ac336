// Package config loads configuration from an optional YAML file with
// environment-variable overrides on top of built-in defaults.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	configPathEnv = "TRENDSIFT_CONFIG"

	defaultFirehoseURL     = "wss://jetstream2.us-east.bsky.network/subscribe"
	defaultBatchSize       = 500
	defaultRefreshSeconds  = 60
	defaultOpsPort         = 8080
	defaultMigrationsPath  = "migrations"
	defaultDatabaseSSLMode = "disable"
)

// Config holds all configuration for the ingester.
type Config struct {
	Firehose FirehoseConfig `yaml:"firehose"`
	Database DatabaseConfig `yaml:"database"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Ops      OpsConfig      `yaml:"ops"`
}

// FirehoseConfig points at the Jetstream endpoint.
type FirehoseConfig struct {
	URL string `yaml:"url"`
}

// DatabaseConfig describes the Postgres connection.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslMode"`
}

// URL assembles the Postgres connection string.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(d.User),
		url.QueryEscape(d.Password),
		d.Host,
		d.Port,
		d.Name,
		d.SSLMode,
	)
}

// PipelineConfig tunes batching, keyword refresh, and migrations.
type PipelineConfig struct {
	BatchSize              int    `yaml:"batchSize"`
	RefreshIntervalSeconds int    `yaml:"refreshIntervalSeconds"`
	SkipMigrations         bool   `yaml:"skipMigrations"`
	MigrationsPath         string `yaml:"migrationsPath"`
}

// RefreshInterval returns the keyword refresh interval as a duration.
func (p PipelineConfig) RefreshInterval() time.Duration {
	return time.Duration(p.RefreshIntervalSeconds) * time.Second
}

// OpsConfig configures the operational HTTP endpoint.
type OpsConfig struct {
	Port int `yaml:"port"`
}

// Load builds the configuration: defaults, then the YAML file named by
// TRENDSIFT_CONFIG if set, then environment overrides.
func Load() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv(configPathEnv); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Firehose: FirehoseConfig{URL: defaultFirehoseURL},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Name:     "trendsift",
			User:     "postgres",
			Password: "postgres",
			SSLMode:  defaultDatabaseSSLMode,
		},
		Pipeline: PipelineConfig{
			BatchSize:              defaultBatchSize,
			RefreshIntervalSeconds: defaultRefreshSeconds,
			MigrationsPath:         defaultMigrationsPath,
		},
		Ops: OpsConfig{Port: defaultOpsPort},
	}
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("FIREHOSE_URL"); v != "" {
		c.Firehose.URL = v
	}
	if v := os.Getenv("DB_HOST"); v != "" {
		c.Database.Host = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		c.Database.Name = v
	}
	if v := os.Getenv("DB_USER"); v != "" {
		c.Database.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("DB_SSLMODE"); v != "" {
		c.Database.SSLMode = v
	}
	if v := os.Getenv("MIGRATIONS_PATH"); v != "" {
		c.Pipeline.MigrationsPath = v
	}

	var err error
	if c.Database.Port, err = intEnv("DB_PORT", c.Database.Port); err != nil {
		return err
	}
	if c.Pipeline.BatchSize, err = intEnv("BATCH_SIZE", c.Pipeline.BatchSize); err != nil {
		return err
	}
	if c.Pipeline.RefreshIntervalSeconds, err = intEnv("REFRESH_INTERVAL_SECONDS", c.Pipeline.RefreshIntervalSeconds); err != nil {
		return err
	}
	if c.Ops.Port, err = intEnv("OPS_PORT", c.Ops.Port); err != nil {
		return err
	}
	if c.Pipeline.SkipMigrations, err = boolEnv("SKIP_MIGRATIONS", c.Pipeline.SkipMigrations); err != nil {
		return err
	}
	return nil
}

func (c *Config) validate() error {
	if c.Firehose.URL == "" {
		return fmt.Errorf("firehose URL is required")
	}
	if c.Pipeline.BatchSize < 1 {
		return fmt.Errorf("batch size must be positive, got %d", c.Pipeline.BatchSize)
	}
	if c.Pipeline.RefreshIntervalSeconds < 1 {
		return fmt.Errorf("refresh interval must be positive, got %d", c.Pipeline.RefreshIntervalSeconds)
	}
	return nil
}

func intEnv(name string, fallback int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return parsed, nil
}

func boolEnv(name string, fallback bool) (bool, error) {
	v := os.Getenv(name)
	if v == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", name, err)
	}
	return parsed, nil
}
