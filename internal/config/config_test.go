package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/orrn/slicer/internal/config"
	"github.com/orrn/slicer/internal/core"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, 8000, cfg.Server.Port)
	require.Equal(t, 2, cfg.Jobs.WorkerCount)
	require.Equal(t, time.Hour, cfg.Jobs.Retention)
	require.Equal(t, 10*time.Minute, cfg.Jobs.QueuedTimeout)
	require.True(t, cfg.Archive.Enabled)
	require.False(t, cfg.Auth.Enabled)
	require.NotEmpty(t, cfg.Profiles)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slicer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9100
jobs:
  worker_count: 4
  retention: 30m
  max_build_volume:
    x: 220
    y: 220
    z: 250
logging:
  level: debug
  format: json
profiles:
  - id: draft
    name: Draft
    parameters:
      layer_height: 0.3
      infill_density: 10
      print_speed: 80
      nozzle_temperature: 210
      bed_temperature: 60
      support_enabled: false
      wall_thickness: 0.8
      top_bottom_thickness: 0.6
      retraction_enabled: false
`), 0644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, 9100, cfg.Server.Port)
	require.Equal(t, 4, cfg.Jobs.WorkerCount)
	require.Equal(t, 30*time.Minute, cfg.Jobs.Retention)
	require.Equal(t, core.BuildVolume{X: 220, Y: 220, Z: 250}, cfg.Jobs.MaxBuildVolume)
	// untouched keys keep their defaults
	require.Equal(t, 100, cfg.Jobs.QueueSize)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Len(t, cfg.Profiles, 1)
	require.Equal(t, "draft", cfg.Profiles[0].ID)
	require.Equal(t, 0.3, *cfg.Profiles[0].Parameters.LayerHeight)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, config.Default().Server, cfg.Server)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a map"), 0644))
	_, err := config.Load(path)
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SLICER_PORT", "9200")
	t.Setenv("SLICER_WORKERS", "6")
	t.Setenv("SLICER_JOB_RETENTION", "2h")
	t.Setenv("SLICER_AUTH_ENABLED", "true")
	t.Setenv("SLICER_LOG_LEVEL", "warn")
	t.Setenv("SLICER_DB_PATH", "/tmp/other.db")

	cfg := config.LoadFromEnv()
	require.Equal(t, 9200, cfg.Server.Port)
	require.Equal(t, 6, cfg.Jobs.WorkerCount)
	require.Equal(t, 2*time.Hour, cfg.Jobs.Retention)
	require.True(t, cfg.Auth.Enabled)
	require.Equal(t, "warn", cfg.Logging.Level)
	require.Equal(t, "/tmp/other.db", cfg.Database.Path)

	// malformed values are ignored
	t.Setenv("SLICER_PORT", "eighty")
	require.Equal(t, 8000, config.LoadFromEnv().Server.Port)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *config.Config)
	}{
		{"port", func(c *config.Config) { c.Server.Port = 0 }},
		{"shutdown timeout", func(c *config.Config) { c.Server.ShutdownTimeout = 0 }},
		{"database path", func(c *config.Config) { c.Database.Path = "" }},
		{"upload size", func(c *config.Config) { c.Storage.MaxUploadSize = 0 }},
		{"workers", func(c *config.Config) { c.Jobs.WorkerCount = 0 }},
		{"retention", func(c *config.Config) { c.Jobs.Retention = 0 }},
		{"build volume", func(c *config.Config) { c.Jobs.MaxBuildVolume.Z = 0 }},
		{"archive days", func(c *config.Config) { c.Archive.Days = 0 }},
		{"log level", func(c *config.Config) { c.Logging.Level = "verbose" }},
		{"log format", func(c *config.Config) { c.Logging.Format = "xml" }},
		{"no profiles", func(c *config.Config) { c.Profiles = nil }},
		{"bad profile", func(c *config.Config) { c.Profiles[0].Parameters.LayerHeight = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}

	cfg := config.Default()
	cfg.Archive.Enabled = false
	cfg.Archive.Days = 0
	require.NoError(t, cfg.Validate())
}

func TestEngineConfig(t *testing.T) {
	cfg := config.Default()
	ec := cfg.EngineConfig()
	require.Equal(t, cfg.Jobs.WorkerCount, ec.WorkerCount)
	require.Equal(t, cfg.Jobs.Retention, ec.Retention)
	require.Equal(t, cfg.Jobs.QueuedTimeout, ec.QueuedTimeout)
	require.Equal(t, cfg.Jobs.EvictSuperseded, ec.EvictSuperseded)
	require.Equal(t, core.DefaultBuildVolume, ec.BuildVolume)
}
