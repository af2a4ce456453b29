package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full configuration for the roster service.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Canvas    CanvasConfig    `mapstructure:"canvas"`
	Gitlab    GitlabConfig    `mapstructure:"gitlab"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Log       LogConfig       `mapstructure:"log"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
}

type DatabaseConfig struct {
	Type     string         `mapstructure:"type"`
	Sqlite   SqliteConfig   `mapstructure:"sqlite"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type SqliteConfig struct {
	Path string `mapstructure:"path"`
}

type PostgresConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Name string `mapstructure:"name"`
	User string `mapstructure:"user"`
	Pass string `mapstructure:"pass"`
	Ssl  string `mapstructure:"ssl"`
}

type CanvasConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Token   string `mapstructure:"token"`
}

type GitlabConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Token   string `mapstructure:"token"`
}

// SyncConfig drives the background resync loop.
type SyncConfig struct {
	Schedule string        `mapstructure:"schedule"`
	MaxAge   time.Duration `mapstructure:"max_age"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type AnalyticsConfig struct {
	Sentry SentryConfig `mapstructure:"sentry"`
}

type SentryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

// AppConfig is the loaded global configuration.
var AppConfig *Config

// LoadConfig reads configuration from the given file (optional) and from
// ROSTERHUB_* environment variables, validates it, and stores it globally.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("ROSTERHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	AppConfig = cfg
	return cfg, nil
}

// setDefaults registers every known key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("database.type", "postgres")
	v.SetDefault("database.sqlite.path", "rosterhub.db")
	v.SetDefault("database.postgres.host", "")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.name", "rosterhub")
	v.SetDefault("database.postgres.user", "rosterhub")
	v.SetDefault("database.postgres.pass", "")
	v.SetDefault("database.postgres.ssl", "disable")
	v.SetDefault("canvas.base_url", "")
	v.SetDefault("canvas.token", "")
	v.SetDefault("gitlab.base_url", "https://gitlab.com")
	v.SetDefault("gitlab.token", "")
	v.SetDefault("sync.schedule", "@hourly")
	v.SetDefault("sync.max_age", 2*time.Hour)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("analytics.sentry.enabled", false)
	v.SetDefault("analytics.sentry.dsn", "")
}

func validate(cfg *Config) error {
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", cfg.Log.Level)
	}

	switch cfg.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q", cfg.Log.Format)
	}

	switch cfg.Database.Type {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.type must be one of sqlite, postgres; got %q", cfg.Database.Type)
	}

	if cfg.Database.Type == "postgres" && cfg.Database.Postgres.Host == "" {
		return fmt.Errorf("database.postgres.host is required when database.type is postgres")
	}

	if cfg.Sync.MaxAge <= 0 {
		return fmt.Errorf("sync.max_age must be positive")
	}

	if cfg.Analytics.Sentry.Enabled && cfg.Analytics.Sentry.DSN == "" {
		return fmt.Errorf("analytics.sentry.dsn is required when sentry is enabled")
	}

	return nil
}

// SlogLevel maps the configured level string onto a slog level.
func (c LogConfig) SlogLevel() slog.Level {
	switch c.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
