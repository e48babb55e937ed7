package config

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds the FDRS configuration surface. File values override the
// defaults field-wise; a missing file falls back to defaults with a warning,
// an unreadable or unparsable one with an error.
type Config struct {
	Storage      StorageConfig      `yaml:"storage"`
	Network      NetworkConfig      `yaml:"network"`
	Performance  PerformanceConfig  `yaml:"performance"`
	Migration    MigrationConfig    `yaml:"migration"`
	Logging      LoggingConfig      `yaml:"logging"`
	Optimization OptimizationConfig `yaml:"optimization"`
}

type StorageConfig struct {
	// DiskIOCapacityMBps is the assumed per-host disk I/O capacity
	// (default 4000, sized for a 2x32 Gbit SAN)
	DiskIOCapacityMBps float64 `yaml:"disk_io_capacity_mbps"`
}

type NetworkConfig struct {
	// BandwidthMBps is the fallback per-host network capacity when pNIC
	// link speeds are unavailable (default 1250, one 10GbE link)
	BandwidthMBps float64 `yaml:"bandwidth_mbps"`
}

type PerformanceConfig struct {
	CPUReadyPercentThreshold float64 `yaml:"cpu_ready_percent_threshold"`
	MemorySwapThreshold      int     `yaml:"memory_swap_threshold"`
	DiskLatencyThresholdMs   int     `yaml:"disk_latency_threshold_ms"`
}

type MigrationConfig struct {
	DefaultMaxMigrations           int     `yaml:"default_max_migrations"`
	MigrationTimeoutSeconds        int     `yaml:"migration_timeout_seconds"`
	HostCPUHighWatermarkPercent    float64 `yaml:"host_cpu_high_watermark_percent"`
	HostMemoryHighWatermarkPercent float64 `yaml:"host_memory_high_watermark_percent"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type OptimizationConfig struct {
	EnablePercentageCache *bool `yaml:"enable_percentage_cache"`
	EnablePrefixCache     *bool `yaml:"enable_prefix_cache"`
}

// Defaults returns the built-in configuration
func Defaults() Config {
	// separate variables: yaml decodes into a non-nil pointer in place, so a
	// shared bool would let one file value flip both flags
	percentageCache, prefixCache := true, true
	return Config{
		Storage: StorageConfig{DiskIOCapacityMBps: 4000},
		Network: NetworkConfig{BandwidthMBps: 1250},
		Performance: PerformanceConfig{
			CPUReadyPercentThreshold: 10.0,
			MemorySwapThreshold:      1000,
			DiskLatencyThresholdMs:   20,
		},
		Migration: MigrationConfig{
			DefaultMaxMigrations:           20,
			MigrationTimeoutSeconds:        300,
			HostCPUHighWatermarkPercent:    90,
			HostMemoryHighWatermarkPercent: 90,
		},
		Logging: LoggingConfig{Level: "info"},
		Optimization: OptimizationConfig{
			EnablePercentageCache: &percentageCache,
			EnablePrefixCache:     &prefixCache,
		},
	}
}

// Load reads the YAML config file at path, merged over the defaults. A
// missing file is not an error.
func Load(path string, log logrus.FieldLogger) Config {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warnf("[ConfigLoader] Config file not found at '%s'. Using default values.", path)
		} else {
			log.Errorf("[ConfigLoader] Error loading config file: %v. Using default values.", err)
		}
		return cfg
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		log.Errorf("[ConfigLoader] Error parsing YAML config file: %v. Using default values.", err)
		return Defaults()
	}

	// Unmarshal zeroes fields the file sets to null or empty sections omit
	// entirely; restore defaults for anything non-positive.
	cfg.fillZeroes()
	log.Infof("[ConfigLoader] Configuration loaded from '%s'.", path)
	return cfg
}

func (c *Config) fillZeroes() {
	d := Defaults()
	if c.Storage.DiskIOCapacityMBps <= 0 {
		c.Storage.DiskIOCapacityMBps = d.Storage.DiskIOCapacityMBps
	}
	if c.Network.BandwidthMBps <= 0 {
		c.Network.BandwidthMBps = d.Network.BandwidthMBps
	}
	if c.Migration.DefaultMaxMigrations <= 0 {
		c.Migration.DefaultMaxMigrations = d.Migration.DefaultMaxMigrations
	}
	if c.Migration.MigrationTimeoutSeconds <= 0 {
		c.Migration.MigrationTimeoutSeconds = d.Migration.MigrationTimeoutSeconds
	}
	if c.Migration.HostCPUHighWatermarkPercent <= 0 {
		c.Migration.HostCPUHighWatermarkPercent = d.Migration.HostCPUHighWatermarkPercent
	}
	if c.Migration.HostMemoryHighWatermarkPercent <= 0 {
		c.Migration.HostMemoryHighWatermarkPercent = d.Migration.HostMemoryHighWatermarkPercent
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if c.Optimization.EnablePercentageCache == nil {
		c.Optimization.EnablePercentageCache = d.Optimization.EnablePercentageCache
	}
	if c.Optimization.EnablePrefixCache == nil {
		c.Optimization.EnablePrefixCache = d.Optimization.EnablePrefixCache
	}
}

// PercentageCacheEnabled reports whether the load evaluator may memoize
// percentage lists
func (c *Config) PercentageCacheEnabled() bool {
	return c.Optimization.EnablePercentageCache == nil || *c.Optimization.EnablePercentageCache
}

// PrefixCacheEnabled reports whether anti-affinity key extraction may be
// memoized
func (c *Config) PrefixCacheEnabled() bool {
	return c.Optimization.EnablePrefixCache == nil || *c.Optimization.EnablePrefixCache
}

// LogSummary logs the effective configuration for debugging
func (c *Config) LogSummary(log logrus.FieldLogger) {
	log.Info("[ConfigLoader] Current Configuration:")
	log.Info(fmt.Sprintf("  Storage Disk I/O Capacity: %.0f MBps", c.Storage.DiskIOCapacityMBps))
	log.Info(fmt.Sprintf("  Network Bandwidth: %.0f MBps", c.Network.BandwidthMBps))
	log.Info(fmt.Sprintf("  Migration Timeout: %ds", c.Migration.MigrationTimeoutSeconds))
	log.Info(fmt.Sprintf("  Default Max Migrations: %d", c.Migration.DefaultMaxMigrations))
	log.Info(fmt.Sprintf("  CPU High Watermark: %.0f%%", c.Migration.HostCPUHighWatermarkPercent))
	log.Info(fmt.Sprintf("  Memory High Watermark: %.0f%%", c.Migration.HostMemoryHighWatermarkPercent))
	log.Info(fmt.Sprintf("  Percentage Cache Enabled: %v", c.PercentageCacheEnabled()))
	log.Info(fmt.Sprintf("  Prefix Cache Enabled: %v", c.PrefixCacheEnabled()))
}
