package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmitrijs2005/uploadkeeper/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	var c Config
	c.LoadDefaults()

	assert.Equal(t, 2*time.Second, c.Interval)
	assert.Equal(t, int64(2*1024*1024), c.ChunkSize)
	assert.Equal(t, 3, c.MaxConcurrentChunks)
	assert.Equal(t, 3, c.MaxRetry)
	assert.Equal(t, 2*time.Second, c.RetryDelay)
	assert.Equal(t, 10*time.Second, c.ItemDelay)
	assert.Equal(t, 2*time.Second, c.ProbeTimeout)
	assert.Equal(t, 10*time.Minute, c.EndpointTTL)
	assert.Equal(t, "/api", c.APIPath)
	assert.Equal(t, "md5", c.HashAlgorithm)
	assert.True(t, c.KeepCompletedRecords)
	require.NoError(t, c.Validate())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sys.conf")

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, path, cfg.Path)
	assert.Empty(t, cfg.WatchDirs)
	assert.Equal(t, BackendHTTP, cfg.Backend)
}

func TestLoad_FlagsOverrideFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sys.conf")
	require.NoError(t, os.WriteFile(path, []byte(`{"host": "from-file:8080"}`), 0o600))

	cfg, err := Load(path, []string{"-host", "from-flag:9090", "-state", dir})
	require.NoError(t, err)
	assert.Equal(t, "from-flag:9090", cfg.Host)
	assert.Equal(t, dir, cfg.StateDir)
}

func TestLoadConfig_UsesConfigFlag(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.conf")
	require.NoError(t, os.WriteFile(path, []byte(`{"autoUploadAlbum": true}`), 0o600))

	cfg, err := LoadConfig([]string{"-c", path})
	require.NoError(t, err)
	assert.Equal(t, path, cfg.Path)
	assert.True(t, cfg.AutoUploadAlbum)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"relative watch dir", func(c *Config) { c.WatchDirs = []string{"photos"} }},
		{"zero interval", func(c *Config) { c.Interval = 0 }},
		{"zero chunk size", func(c *Config) { c.ChunkSize = 0 }},
		{"zero concurrency", func(c *Config) { c.MaxConcurrentChunks = 0 }},
		{"zero retries", func(c *Config) { c.MaxRetry = 0 }},
		{"negative delay", func(c *Config) { c.ItemDelay = -time.Second }},
		{"no probe timeout", func(c *Config) { c.ProbeTimeout = 0 }},
		{"unknown state backend", func(c *Config) { c.StateBackend = "redis" }},
		{"unknown backend", func(c *Config) { c.Backend = "ftp" }},
		{"s3 without bucket", func(c *Config) { c.Backend = BackendS3 }},
		{"unknown hash", func(c *Config) { c.HashAlgorithm = "crc32" }},
		{"empty service type", func(c *Config) { c.ServiceType = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c Config
			c.LoadDefaults()
			tt.mutate(&c)
			require.ErrorIs(t, c.Validate(), common.ErrInvalidConfig)
		})
	}
}
