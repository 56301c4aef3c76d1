package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/go-ini/ini"

	"pgdash/model"
)

type Config struct {
	HttpPort              int            `ini:"http_port"`
	FastIntervalSeconds   int            `ini:"fast_interval_seconds"`
	SlowIntervalSeconds   int            `ini:"slow_interval_seconds"`
	SessionTimeoutMinutes int            `ini:"session_timeout_minutes"`
	ConnectTimeoutSeconds int            `ini:"connect_timeout_seconds"`
	RegistryPath          string         `ini:"registry_path"`
	DatabaseURL           string         `ini:"database_url"`
	DB                    model.DBConfig `ini:"db"`
}

// Load reads config.ini (optional), applies environment overrides, then
// fills defaults. An absent file is not an error so env-only runs work.
func Load(fileName string) (*Config, error) {
	cfg := new(Config)

	if fileName != "" {
		if c, err := ini.Load(fileName); err == nil {
			if err := c.MapTo(cfg); err != nil {
				return nil, fmt.Errorf("map config: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load config %s: %w", fileName, err)
		}
	}

	loadFromEnv(cfg)

	if cfg.HttpPort == 0 {
		cfg.HttpPort = 8080
	}
	if cfg.FastIntervalSeconds == 0 {
		cfg.FastIntervalSeconds = 3
	}
	if cfg.SlowIntervalSeconds == 0 {
		cfg.SlowIntervalSeconds = 10
	}
	if cfg.SessionTimeoutMinutes == 0 {
		cfg.SessionTimeoutMinutes = 30
	}
	if cfg.ConnectTimeoutSeconds == 0 {
		cfg.ConnectTimeoutSeconds = 5
	}
	if cfg.RegistryPath == "" {
		cfg.RegistryPath = "pgdash.db"
	}
	if cfg.DB.Port == 0 {
		cfg.DB.Port = 5432
	}

	return cfg, nil
}

func loadFromEnv(cfg *Config) {
	if port := os.Getenv("PGDASH_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.HttpPort = p
		}
	}
	if path := os.Getenv("PGDASH_REGISTRY_PATH"); path != "" {
		cfg.RegistryPath = path
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.DatabaseURL = url
	}
	if host := os.Getenv("POSTGRES_HOST"); host != "" {
		cfg.DB.Host = host
	}
	if port := os.Getenv("POSTGRES_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.DB.Port = p
		}
	}
	if db := os.Getenv("POSTGRES_DB"); db != "" {
		cfg.DB.Database = db
	}
	if user := os.Getenv("POSTGRES_USER"); user != "" {
		cfg.DB.User = user
	}
	if pass := os.Getenv("POSTGRES_PASSWORD"); pass != "" {
		cfg.DB.Password = pass
	}
}
