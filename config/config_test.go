package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, StorageLocal, cfg.StorageType)
	assert.Equal(t, 10, cfg.SnapshotMaxRevisions)
	assert.Equal(t, 5*time.Second, cfg.PrepareTimeout)
	assert.Equal(t, time.Hour, cfg.DefaultTokenExpiration)
	assert.Equal(t, 24*time.Hour, cfg.MaxTokenExpiration)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9000")
	t.Setenv("STORAGE_TYPE", "sqlite")
	t.Setenv("SQLITE_PATH", "/tmp/x.db")
	t.Setenv("PREPARE_TIMEOUT", "250ms")
	t.Setenv("MAX_SOURCES", "3")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.HTTPAddr)
	assert.Equal(t, StorageSQLite, cfg.StorageType)
	assert.Equal(t, "/tmp/x.db", cfg.SQLitePath)
	assert.Equal(t, 250*time.Millisecond, cfg.PrepareTimeout)
	assert.Equal(t, 3, cfg.MaxSources)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]map[string]string{
		"bad storage":      {"STORAGE_TYPE": "s3"},
		"gcs needs bucket": {"STORAGE_TYPE": "gcs"},
		"zero revisions":   {"SNAPSHOT_MAX_REVISIONS": "0"},
		"bad duration":     {"PREPARE_TIMEOUT": "soon"},
		"bad int":          {"MAX_SOURCES": "many"},
		"token expiry":     {"DEFAULT_TOKEN_EXPIRATION": "2h", "MAX_TOKEN_EXPIRATION": "1h"},
	}

	for name, vars := range tests {
		t.Run(name, func(t *testing.T) {
			for k, v := range vars {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
