package config

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenNoFilePresent(t *testing.T) {
	cfg, err := Load(viper.New(), "/nonexistent/path/nexusd.yaml")
	require.NoError(t, err)
	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.True(t, cfg.Rebuild.Partial)
}

func TestLoad_MayastorEnvOverridesHeartbeat(t *testing.T) {
	t.Setenv("MAYASTOR_HB_INTERVAL_SEC", "7")
	t.Setenv("MAYASTOR_HB_TIMEOUT_SEC", "42")

	cfg, err := Load(viper.New(), "/nonexistent/path/nexusd.yaml")
	require.NoError(t, err)
	assert.Equal(t, 7e9, float64(cfg.Registry.HeartbeatInterval))
	assert.Equal(t, 42e9, float64(cfg.Registry.HeartbeatTimeout))
}

func TestLoad_PartialRebuildEnvOverride(t *testing.T) {
	t.Setenv("NEXUS_PARTIAL_REBUILD", "0")

	cfg, err := Load(viper.New(), "/nonexistent/path/nexusd.yaml")
	require.NoError(t, err)
	assert.False(t, cfg.Rebuild.Partial)
}
