// Package config loads nexuscore's layered configuration:
// NEXUS_*/MAYASTOR_* environment variables, an optional YAML file, and
// defaults, in that order of precedence, using viper and mapstructure.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/nexusfleet/nexuscore/pkg/rebuild"
)

// Config is nexuscore's process configuration. Dynamic state — which
// nexuses, pools and replicas exist — lives in the control-plane database
// (pkg/controlplane), not here.
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Metrics controls the Prometheus metrics registry (pkg/metrics).
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Database configures the control-plane persistence layer.
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`

	// NexusInfo configures the persistent nexus-info store.
	NexusInfo NexusInfoConfig `mapstructure:"nexus_info" yaml:"nexus_info"`

	// Rebuild configures the per-child rebuild engine defaults.
	Rebuild RebuildConfig `mapstructure:"rebuild" yaml:"rebuild"`

	// Registry configures the fleet cache's refresh cadence and node
	// heartbeat timeout.
	Registry RegistryConfig `mapstructure:"registry" yaml:"registry"`

	// Target configures the share-advertisement retry parameters consumed
	// by the host initiator on reconnect (--tgt-crdt).
	Target TargetConfig `mapstructure:"target" yaml:"target"`

	// Telemetry configures OpenTelemetry trace export (internal/telemetry).
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout bounds graceful shutdown of nexusd.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`
}

// LoggingConfig controls logging behavior (internal/logger).
type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// DatabaseConfig configures the control-plane relational store, either
// SQLite (single-node default) or PostgreSQL (multi-replica deployments).
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" validate:"required,oneof=sqlite postgres" yaml:"driver"`
	DSN    string `mapstructure:"dsn" validate:"required" yaml:"dsn"`
}

// NexusInfoConfig configures the badger-backed nexus-info store.
type NexusInfoConfig struct {
	Dir string `mapstructure:"dir" validate:"required" yaml:"dir"`
}

// RebuildConfig configures rebuild.Options defaults; env vars
// NEXUS_PARTIAL_REBUILD and NEXUS_REBUILD_VERIFY override the file/flag
// values.
type RebuildConfig struct {
	SegmentSize uint64 `mapstructure:"segment_size" validate:"omitempty,min=512" yaml:"segment_size"`
	Partial     bool   `mapstructure:"partial" yaml:"partial"`
	Verify      string `mapstructure:"verify" validate:"omitempty,oneof=off warn fail" yaml:"verify"`
	WorkerDepth int    `mapstructure:"worker_depth" validate:"omitempty,min=1" yaml:"worker_depth"`
}

// ToOptions converts RebuildConfig into rebuild.Options. "warn" and "fail"
// both map to VerifyCompareAfterWrite, under which the engine fails the job
// on a mismatch, so the two values behave the same.
func (c RebuildConfig) ToOptions() rebuild.Options {
	opts := rebuild.Options{
		SegmentSize: c.SegmentSize,
		Partial:     c.Partial,
		WorkerDepth: c.WorkerDepth,
	}
	if c.Verify == "warn" || c.Verify == "fail" {
		opts.Verify = rebuild.VerifyCompareAfterWrite
	}
	return opts
}

// RegistryConfig configures the fleet-cache refresh loop.
type RegistryConfig struct {
	// CachePeriod is the --cache-period flag: how often tracked nodes are
	// re-fetched.
	CachePeriod time.Duration `mapstructure:"cache_period" yaml:"cache_period"`

	// HeartbeatInterval/HeartbeatTimeout correspond to MAYASTOR_HB_INTERVAL_SEC
	// / MAYASTOR_HB_TIMEOUT_SEC — retained under their original
	// environment variable names since they are a consumed external
	// interface, not an internal naming choice.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `mapstructure:"heartbeat_timeout" yaml:"heartbeat_timeout"`
}

// TargetConfig configures share-advertisement retry parameters.
type TargetConfig struct {
	// CrdtMillis is --tgt-crdt: the host-retry delay embedded in share
	// advertisements, in milliseconds.
	CrdtMillis int `mapstructure:"crdt_ms" validate:"omitempty,min=0" yaml:"crdt_ms"`
}

// TelemetryConfig configures the OTLP trace exporter (internal/telemetry).
type TelemetryConfig struct {
	Enabled    bool    `mapstructure:"enabled" yaml:"enabled"`
	Endpoint   string  `mapstructure:"endpoint" validate:"required_if=Enabled true" yaml:"endpoint"`
	Insecure   bool    `mapstructure:"insecure" yaml:"insecure"`
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,min=0,max=1" yaml:"sample_rate"`
}

// Load reads configuration from configPath (if non-empty and present) and
// the environment, applying defaults for anything left unset. A NEXUS_*
// variable overrides a key only when a config file was found and sets that
// key; MAYASTOR_HB_INTERVAL_SEC, MAYASTOR_HB_TIMEOUT_SEC,
// NEXUS_PARTIAL_REBUILD and NEXUS_REBUILD_VERIFY apply with or without a
// file.
func Load(v *viper.Viper, configPath string) (*Config, error) {
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	if found {
		if err := v.Unmarshal(cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
		))); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}
	applyLegacyMayastorEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("NEXUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(".")
	v.AddConfigPath(defaultConfigDir())
	v.SetConfigName("nexusd")
	v.SetConfigType("yaml")
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read config file: %w", err)
	}
	return true, nil
}

// applyLegacyMayastorEnv reads the MAYASTOR_-prefixed environment variables
// by their legacy names, since viper's NEXUS_ prefix would otherwise
// shadow them.
func applyLegacyMayastorEnv(cfg *Config) {
	if s := os.Getenv("MAYASTOR_HB_INTERVAL_SEC"); s != "" {
		if secs, err := time.ParseDuration(s + "s"); err == nil {
			cfg.Registry.HeartbeatInterval = secs
		}
	}
	if s := os.Getenv("MAYASTOR_HB_TIMEOUT_SEC"); s != "" {
		if secs, err := time.ParseDuration(s + "s"); err == nil {
			cfg.Registry.HeartbeatTimeout = secs
		}
	}
	if s := os.Getenv("NEXUS_PARTIAL_REBUILD"); s != "" {
		cfg.Rebuild.Partial = s == "1"
	}
	if s := os.Getenv("NEXUS_REBUILD_VERIFY"); s != "" {
		cfg.Rebuild.Verify = s
	}
}

func defaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "nexuscore")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "nexuscore")
}

func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "INFO", Format: "text", Output: "stdout"},
		Metrics: MetricsConfig{Enabled: false, Port: 9090},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "nexuscore.db",
		},
		NexusInfo: NexusInfoConfig{Dir: "/var/lib/nexuscore/nexus-info"},
		Rebuild: RebuildConfig{
			SegmentSize: rebuild.DefaultSegmentSize,
			Partial:     true,
			Verify:      "off",
			WorkerDepth: rebuild.DefaultWorkerDepth,
		},
		Registry: RegistryConfig{
			CachePeriod:       5 * time.Second,
			HeartbeatInterval: 2 * time.Second,
			HeartbeatTimeout:  10 * time.Second,
		},
		Target:          TargetConfig{CrdtMillis: 100},
		Telemetry:       TelemetryConfig{Enabled: false, SampleRate: 1.0},
		ShutdownTimeout: 30 * time.Second,
	}
}
