package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Storage backends
const (
	StorageLocal  = "local"
	StorageGCS    = "gcs"
	StorageSQLite = "sqlite"
)

// Config holds all application configuration
type Config struct {
	// HTTP Server
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8080"`

	// Storage
	StorageType   string `env:"STORAGE_TYPE"    envDefault:"local"`
	StorageDir    string `env:"STORAGE_DIR"     envDefault:"./data/timelines"`
	SQLitePath    string `env:"SQLITE_PATH"     envDefault:"./data/timelines.db"`
	GCSProjectID  string `env:"GCS_PROJECT_ID"`
	GCSBucketName string `env:"GCS_BUCKET_NAME"`
	GCSBaseDir    string `env:"GCS_BASE_DIR"    envDefault:"timelines"`

	// Snapshots
	SnapshotMaxRevisions int `env:"SNAPSHOT_MAX_REVISIONS" envDefault:"10"`

	// Sources
	SubscriberBuffer int           `env:"SUBSCRIBER_BUFFER" envDefault:"16"`
	PrepareTimeout   time.Duration `env:"PREPARE_TIMEOUT"   envDefault:"5s"`
	MaxSources       int           `env:"MAX_SOURCES"       envDefault:"100"`

	// Auth
	DefaultTokenExpiration time.Duration `env:"DEFAULT_TOKEN_EXPIRATION" envDefault:"1h"`
	MaxTokenExpiration     time.Duration `env:"MAX_TOKEN_EXPIRATION"     envDefault:"24h"`
}

// Load loads configuration from environment variables with defaults
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values env parsing cannot
func (c *Config) Validate() error {
	switch c.StorageType {
	case StorageLocal, StorageSQLite:
	case StorageGCS:
		if c.GCSBucketName == "" {
			return fmt.Errorf("GCS_BUCKET_NAME is required for gcs storage")
		}
	default:
		return fmt.Errorf("unknown STORAGE_TYPE %q (want local, gcs or sqlite)", c.StorageType)
	}

	if c.SnapshotMaxRevisions < 1 {
		return fmt.Errorf("SNAPSHOT_MAX_REVISIONS must be at least 1, got %d", c.SnapshotMaxRevisions)
	}
	if c.SubscriberBuffer < 1 {
		return fmt.Errorf("SUBSCRIBER_BUFFER must be at least 1, got %d", c.SubscriberBuffer)
	}
	if c.PrepareTimeout <= 0 {
		return fmt.Errorf("PREPARE_TIMEOUT must be positive, got %s", c.PrepareTimeout)
	}
	if c.MaxTokenExpiration < c.DefaultTokenExpiration {
		return fmt.Errorf("MAX_TOKEN_EXPIRATION %s is shorter than DEFAULT_TOKEN_EXPIRATION %s",
			c.MaxTokenExpiration, c.DefaultTokenExpiration)
	}
	return nil
}
