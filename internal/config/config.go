// Package config loads AgentFS options from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/kittclouds/agentfs/internal/logging"
	"github.com/kittclouds/agentfs/internal/store"
)

// Config holds all AgentFS configuration.
type Config struct {
	Store   StoreConfig
	Logging LogConfig
}

// StoreConfig selects and opens the agent database.
type StoreConfig struct {
	ID          string        `envconfig:"AGENTFS_ID"`
	Path        string        `envconfig:"AGENTFS_PATH"`
	ReadOnly    bool          `envconfig:"AGENTFS_READ_ONLY" default:"false"`
	BusyTimeout time.Duration `envconfig:"AGENTFS_BUSY_TIMEOUT" default:"5s"`
	Migrate     string        `envconfig:"AGENTFS_MIGRATE" default:"auto"`
	ChunkSize   int           `envconfig:"AGENTFS_CHUNK_SIZE" default:"4096"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"AGENTFS_LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"AGENTFS_LOG_DEV" default:"false"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns default configuration: an in-memory database.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			BusyTimeout: 5 * time.Second,
			Migrate:     store.MigrateAuto.String(),
			ChunkSize:   store.DefaultChunkSize,
		},
		Logging: LogConfig{
			Level: "info",
		},
	}
}

// Validate checks values envconfig cannot.
func (c *Config) Validate() error {
	if _, err := store.ParseMigratePolicy(c.Store.Migrate); err != nil {
		return fmt.Errorf("invalid config: AGENTFS_MIGRATE: %w", err)
	}
	if c.Store.ChunkSize <= 0 {
		return fmt.Errorf("invalid config: AGENTFS_CHUNK_SIZE %d: %w", c.Store.ChunkSize, store.ErrInvalidArgument)
	}
	if c.Store.BusyTimeout < 0 {
		return fmt.Errorf("invalid config: AGENTFS_BUSY_TIMEOUT %s: %w", c.Store.BusyTimeout, store.ErrInvalidArgument)
	}
	return nil
}

// MigratePolicy returns the parsed migration policy.
func (c *Config) MigratePolicy() store.MigratePolicy {
	p, err := store.ParseMigratePolicy(c.Store.Migrate)
	if err != nil {
		return store.MigrateAuto
	}
	return p
}

// LoggerConfig converts the logging section for logging.New.
func (c *Config) LoggerConfig() logging.Config {
	cfg := logging.DefaultConfig()
	if c.Logging.Development {
		cfg = logging.DevelopmentConfig()
	}
	cfg.Level = c.Logging.Level
	return cfg
}
