package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/orrn/slicer/internal/core"
)

type Config struct {
	Server   ServerConfig             `yaml:"server"`
	Database DatabaseConfig           `yaml:"database"`
	Storage  StorageConfig            `yaml:"storage"`
	Jobs     JobsConfig               `yaml:"jobs"`
	Webhooks WebhooksConfig           `yaml:"webhooks"`
	Archive  ArchiveConfig            `yaml:"archive"`
	Auth     AuthConfig               `yaml:"auth"`
	Logging  LoggingConfig            `yaml:"logging"`
	Profiles []core.ProfileDefinition `yaml:"profiles"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type StorageConfig struct {
	DataDir       string `yaml:"data_dir"`
	ModelDir      string `yaml:"model_dir"`
	MaxUploadSize int64  `yaml:"max_upload_size"`
}

type JobsConfig struct {
	WorkerCount      int           `yaml:"worker_count"`
	QueueSize        int           `yaml:"queue_size"`
	Retention        time.Duration `yaml:"retention"`
	QueuedTimeout    time.Duration `yaml:"queued_timeout"`
	DispatchInterval time.Duration `yaml:"dispatch_interval"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	EvictSuperseded  bool          `yaml:"evict_superseded"`
	// MaxBuildVolume bounds the models accepted for upload and slicing.
	MaxBuildVolume core.BuildVolume `yaml:"max_build_volume"`
	// LayerDelay slows the built-in layer plan slicer down per layer so
	// progress is observable on small models.
	LayerDelay time.Duration `yaml:"layer_delay"`
}

type WebhooksConfig struct {
	RetryCount  int           `yaml:"retry_count"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	Timeout     time.Duration `yaml:"timeout"`
	WorkerCount int           `yaml:"worker_count"`
	QueueSize   int           `yaml:"queue_size"`
}

type ArchiveConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Path     string `yaml:"path"`
	Days     int    `yaml:"days"`
	Schedule string `yaml:"schedule"`
}

type AuthConfig struct {
	Enabled       bool          `yaml:"enabled"`
	TokenDuration time.Duration `yaml:"token_duration"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MiB is the unit used for upload limits.
const MiB = 1 << 20

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Path: "./data/slicer.db",
		},
		Storage: StorageConfig{
			DataDir:       "./data",
			ModelDir:      "./data/models",
			MaxUploadSize: 50 * MiB,
		},
		Jobs: JobsConfig{
			WorkerCount:      2,
			QueueSize:        100,
			Retention:        time.Hour,
			QueuedTimeout:    10 * time.Minute,
			DispatchInterval: time.Second,
			SweepInterval:    30 * time.Second,
			EvictSuperseded:  true,
			MaxBuildVolume:   core.DefaultBuildVolume,
		},
		Webhooks: WebhooksConfig{
			RetryCount:  3,
			RetryDelay:  5 * time.Second,
			Timeout:     10 * time.Second,
			WorkerCount: 2,
			QueueSize:   100,
		},
		Archive: ArchiveConfig{
			Enabled:  true,
			Path:     "./data/archives",
			Days:     30,
			Schedule: "@daily",
		},
		Auth: AuthConfig{
			Enabled:       false,
			TokenDuration: 24 * time.Hour,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
		Profiles: core.DefaultProfiles(),
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaults()
}

// Load reads the YAML file at configPath over the defaults and then applies
// SLICER_* environment overrides. A missing file is not an error.
func Load(configPath string) (*Config, error) {
	cfg := defaults()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

// LoadFromEnv returns the defaults with environment overrides applied.
func LoadFromEnv() *Config {
	cfg := defaults()
	applyEnv(cfg)
	return cfg
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SLICER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	if v := os.Getenv("SLICER_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv("SLICER_DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("SLICER_MODEL_DIR"); v != "" {
		cfg.Storage.ModelDir = v
	}

	if v := os.Getenv("SLICER_ARCHIVE_PATH"); v != "" {
		cfg.Archive.Path = v
	}

	if v := os.Getenv("SLICER_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Jobs.WorkerCount = n
		}
	}

	if v := os.Getenv("SLICER_JOB_RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Jobs.Retention = d
		}
	}

	if v := os.Getenv("SLICER_AUTH_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Auth.Enabled = b
		}
	}

	if v := os.Getenv("SLICER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("SLICER_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("server read timeout must be non-negative")
	}

	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server write timeout must be non-negative")
	}

	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server shutdown timeout must be positive")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	if c.Storage.DataDir == "" {
		return fmt.Errorf("storage data dir is required")
	}

	if c.Storage.ModelDir == "" {
		return fmt.Errorf("storage model dir is required")
	}

	if c.Storage.MaxUploadSize <= 0 {
		return fmt.Errorf("max upload size must be positive")
	}

	if c.Jobs.WorkerCount < 1 {
		return fmt.Errorf("worker count must be at least 1")
	}

	if c.Jobs.QueueSize < 1 {
		return fmt.Errorf("job queue size must be at least 1")
	}

	if c.Jobs.Retention <= 0 {
		return fmt.Errorf("job retention must be positive")
	}

	if c.Jobs.QueuedTimeout < 0 {
		return fmt.Errorf("queued timeout must be non-negative")
	}

	if c.Jobs.DispatchInterval <= 0 {
		return fmt.Errorf("dispatch interval must be positive")
	}

	if c.Jobs.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive")
	}

	if !c.Jobs.MaxBuildVolume.Valid() {
		return fmt.Errorf("max build volume must be positive on every axis")
	}

	if c.Jobs.LayerDelay < 0 {
		return fmt.Errorf("layer delay must be non-negative")
	}

	if c.Webhooks.RetryCount < 0 {
		return fmt.Errorf("webhook retry count must be non-negative")
	}

	if c.Webhooks.RetryDelay < 0 {
		return fmt.Errorf("webhook retry delay must be non-negative")
	}

	if c.Archive.Enabled {
		if c.Archive.Path == "" {
			return fmt.Errorf("archive path is required when archiving is enabled")
		}
		if c.Archive.Days < 1 {
			return fmt.Errorf("archive days must be at least 1")
		}
		if c.Archive.Schedule == "" {
			return fmt.Errorf("archive schedule is required when archiving is enabled")
		}
	}

	if c.Auth.Enabled && c.Auth.TokenDuration <= 0 {
		return fmt.Errorf("auth token duration must be positive")
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json": true,
		"text": true,
		"auto": true,
	}

	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: json, text, auto)", c.Logging.Format)
	}

	if len(c.Profiles) == 0 {
		return fmt.Errorf("at least one profile is required")
	}

	if _, err := core.NewProfileCatalog(c.Profiles); err != nil {
		return fmt.Errorf("invalid profiles: %w", err)
	}

	return nil
}

// EngineConfig maps the jobs section onto the job engine options.
func (c *Config) EngineConfig() core.EngineConfig {
	return core.EngineConfig{
		WorkerCount:      c.Jobs.WorkerCount,
		QueueSize:        c.Jobs.QueueSize,
		Retention:        c.Jobs.Retention,
		QueuedTimeout:    c.Jobs.QueuedTimeout,
		DispatchInterval: c.Jobs.DispatchInterval,
		SweepInterval:    c.Jobs.SweepInterval,
		EvictSuperseded:  c.Jobs.EvictSuperseded,
		BuildVolume:      c.Jobs.MaxBuildVolume,
	}
}
