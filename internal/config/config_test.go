package config

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLog() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"), discardLog())

	assert.Equal(t, 4000.0, cfg.Storage.DiskIOCapacityMBps)
	assert.Equal(t, 1250.0, cfg.Network.BandwidthMBps)
	assert.Equal(t, 20, cfg.Migration.DefaultMaxMigrations)
	assert.Equal(t, 300, cfg.Migration.MigrationTimeoutSeconds)
	assert.Equal(t, 90.0, cfg.Migration.HostCPUHighWatermarkPercent)
	assert.Equal(t, 90.0, cfg.Migration.HostMemoryHighWatermarkPercent)
	assert.True(t, cfg.PercentageCacheEnabled())
	assert.True(t, cfg.PrefixCacheEnabled())
}

func TestLoad_FileValuesOverrideDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fdrs_config.yaml")
	content := `
storage:
  disk_io_capacity_mbps: 8000
migration:
  default_max_migrations: 5
optimization:
  enable_percentage_cache: false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg := Load(path, discardLog())

	assert.Equal(t, 8000.0, cfg.Storage.DiskIOCapacityMBps)
	assert.Equal(t, 5, cfg.Migration.DefaultMaxMigrations)
	assert.False(t, cfg.PercentageCacheEnabled())

	// untouched sections keep their defaults
	assert.Equal(t, 1250.0, cfg.Network.BandwidthMBps)
	assert.Equal(t, 90.0, cfg.Migration.HostCPUHighWatermarkPercent)
	assert.True(t, cfg.PrefixCacheEnabled())
}

func TestLoad_PartialSectionKeepsSiblingDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fdrs_config.yaml")
	content := `
migration:
  host_cpu_high_watermark_percent: 85
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg := Load(path, discardLog())
	assert.Equal(t, 85.0, cfg.Migration.HostCPUHighWatermarkPercent)
	assert.Equal(t, 20, cfg.Migration.DefaultMaxMigrations)
	assert.Equal(t, 300, cfg.Migration.MigrationTimeoutSeconds)
}

func TestLoad_InvalidYAMLFallsBackToDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fdrs_config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage: [not: a: mapping"), 0o644))

	cfg := Load(path, discardLog())
	assert.Equal(t, 4000.0, cfg.Storage.DiskIOCapacityMBps)
	assert.Equal(t, 20, cfg.Migration.DefaultMaxMigrations)
}
