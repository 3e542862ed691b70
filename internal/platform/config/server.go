package config

import (
	"fmt"
	"strings"
	"time"
)

// Storage backends selectable with STORAGE_BACKEND.
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// ServerConfig configures the relay process.
type ServerConfig struct {
	Port            string        `env:"PORT" envDefault:"8080"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	StorageBackend string `env:"STORAGE_BACKEND" envDefault:"memory"`
	DatabaseURL    string `env:"DATABASE_URL"`
	SQLitePath     string `env:"SQLITE_PATH" envDefault:"relay.db"`

	// AuthMode is "session" (default) or "dev". Dev mode signs session tokens
	// with a per-process random secret so SESSION_SECRET is not required.
	AuthMode string `env:"AUTH_MODE" envDefault:"session"`
	// DevSubject is the REST subject used in dev mode when X-Debug-Subject is absent.
	DevSubject string `env:"DEV_SUBJECT" envDefault:"dev|local"`

	Logging LoggingConfig
}

// LoggingConfig controls structured logging settings.
type LoggingConfig struct {
	Level         string `env:"LOG_LEVEL" envDefault:"info"`
	Format        string `env:"LOG_FORMAT" envDefault:"text"` // text|json
	IncludeCaller bool   `env:"LOG_INCLUDE_CALLER" envDefault:"false"`
}

func LoadServerConfigFromEnv() (ServerConfig, error) {
	var cfg ServerConfig
	if err := ParseEnv(&cfg); err != nil {
		return ServerConfig{}, err
	}

	cfg.StorageBackend = strings.ToLower(strings.TrimSpace(cfg.StorageBackend))
	switch cfg.StorageBackend {
	case StorageMemory, StorageSQLite:
	case StoragePostgres:
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return ServerConfig{}, fmt.Errorf("DATABASE_URL is required when STORAGE_BACKEND=postgres")
		}
	default:
		return ServerConfig{}, fmt.Errorf("STORAGE_BACKEND must be one of memory|sqlite|postgres, got %q", cfg.StorageBackend)
	}

	switch cfg.AuthMode {
	case "session", "dev":
	default:
		return ServerConfig{}, fmt.Errorf("AUTH_MODE must be session or dev, got %q", cfg.AuthMode)
	}
	if cfg.ShutdownTimeout <= 0 {
		return ServerConfig{}, fmt.Errorf("SHUTDOWN_TIMEOUT must be positive")
	}
	return cfg, nil
}
