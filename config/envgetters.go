package config

import (
	"fmt"
	"os"
)

// SetEnvFromConfig exports settings that older code paths still read from the
// environment, most importantly the database DSN.
func SetEnvFromConfig(cfg *Config) {
	if cfg.Analytics.Sentry.Enabled {
		os.Setenv("SENTRY_DSN", cfg.Analytics.Sentry.DSN)
	}

	if cfg.Database.Type == "postgres" {
		os.Setenv("DATABASE_URL", fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			cfg.Database.Postgres.User,
			cfg.Database.Postgres.Pass,
			cfg.Database.Postgres.Host,
			cfg.Database.Postgres.Port,
			cfg.Database.Postgres.Name,
			cfg.Database.Postgres.Ssl))
	}
}
