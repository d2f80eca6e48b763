package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/event-tracker/project/internal/platform/env"
	"gopkg.in/yaml.v3"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

type StoreConfig struct {
	// Driver selects the document store: memory, postgres or sqlite.
	Driver      string `yaml:"driver"`
	DatabaseURL string `yaml:"database_url"`
	SQLitePath  string `yaml:"sqlite_path"`
}

type NATSConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

type AuthConfig struct {
	JWTSecret      string        `yaml:"jwt_secret"`
	AccessTokenTTL time.Duration `yaml:"access_token_ttl"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Config struct {
	Listen          string        `yaml:"listen"`
	AllowedOrigin   string        `yaml:"allowed_origin"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Store           StoreConfig   `yaml:"store"`
	NATS            NATSConfig    `yaml:"nats"`
	Auth            AuthConfig    `yaml:"auth"`
	Log             LogConfig     `yaml:"log"`
}

func DefaultConfig() *Config {
	return &Config{
		Listen:          env.DefaultAPIAddr,
		AllowedOrigin:   "http://localhost:3000",
		ShutdownTimeout: 10 * time.Second,
		Store: StoreConfig{
			Driver:      StoreMemory,
			DatabaseURL: env.DefaultDatabaseURL,
			SQLitePath:  "events.db",
		},
		NATS: NATSConfig{URL: env.DefaultNATSURL},
		Auth: AuthConfig{
			JWTSecret:      "dev-insecure-change-me",
			AccessTokenTTL: 15 * time.Minute,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// Normalize fills zero values with defaults and lower-cases enum fields.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if strings.TrimSpace(c.Listen) == "" {
		c.Listen = def.Listen
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}

	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if c.Store.Driver == "" {
		c.Store.Driver = def.Store.Driver
	}
	if c.Store.DatabaseURL == "" {
		c.Store.DatabaseURL = def.Store.DatabaseURL
	}
	if c.Store.SQLitePath == "" {
		c.Store.SQLitePath = def.Store.SQLitePath
	}
	if c.NATS.URL == "" {
		c.NATS.URL = def.NATS.URL
	}
	if c.Auth.JWTSecret == "" {
		c.Auth.JWTSecret = def.Auth.JWTSecret
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = def.Auth.AccessTokenTTL
	}

	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreMemory, StorePostgres, StoreSQLite:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// Load reads the YAML file at path, if any, then applies environment
// overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, err
		}
	}

	cfg.applyEnv()
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Listen = env.String("EVENT_API_ADDR", c.Listen)
	c.AllowedOrigin = env.String("UI_ORIGIN", c.AllowedOrigin)
	c.ShutdownTimeout = env.Duration("SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
	c.Store.Driver = env.String("STORE_DRIVER", c.Store.Driver)
	c.Store.DatabaseURL = env.String("DATABASE_URL", c.Store.DatabaseURL)
	c.Store.SQLitePath = env.String("SQLITE_PATH", c.Store.SQLitePath)
	c.NATS.Enabled = env.Bool("NATS_ENABLED", c.NATS.Enabled)
	c.NATS.URL = env.String("NATS_URL", c.NATS.URL)
	c.Auth.JWTSecret = env.String("JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.AccessTokenTTL = env.Duration("ACCESS_TOKEN_TTL", c.Auth.AccessTokenTTL)
	c.Log.Level = env.String("LOG_LEVEL", c.Log.Level)
	c.Log.Format = env.String("LOG_FORMAT", c.Log.Format)
}
