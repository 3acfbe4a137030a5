package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const minSessionSecretLen = 32

// Config is read from the environment, after an optional .env file
type Config struct {
	Addr    string `env:"SECRETLY_ADDR" envDefault:":3000"`
	BaseURL string `env:"SECRETLY_BASE_URL" envDefault:"http://localhost:3000"`

	SessionSecret      string        `env:"SECRETLY_SESSION_SECRET"`
	SessionIdleTimeout time.Duration `env:"SECRETLY_SESSION_IDLE_TIMEOUT" envDefault:"30m"`
	SessionLifetime    time.Duration `env:"SECRETLY_SESSION_LIFETIME" envDefault:"24h"`
	CookieSecure       bool          `env:"SECRETLY_COOKIE_SECURE" envDefault:"false"`

	Store              string        `env:"SECRETLY_STORE" envDefault:"fs"`
	DatabaseURL        string        `env:"SECRETLY_DATABASE_URL"`
	FSPath             string        `env:"SECRETLY_FS_PATH" envDefault:"./data"`
	DatastoreProject   string        `env:"SECRETLY_DATASTORE_PROJECT"`
	DatastoreNamespace string        `env:"SECRETLY_DATASTORE_NAMESPACE"`
	RedisURL           string        `env:"SECRETLY_REDIS_URL"`
	StoreTimeout       time.Duration `env:"SECRETLY_STORE_TIMEOUT" envDefault:"5s"`

	GoogleClientId     string `env:"OAUTH2_GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `env:"OAUTH2_GOOGLE_CLIENT_SECRET"`
	GoogleCallbackURL  string `env:"OAUTH2_GOOGLE_CALLBACK_URL"`

	LogLevel string `env:"LOG_LEVEL"`
	LogDev   bool   `env:"LOG_DEV"`
}

// LoadConfig reads .env if present, then the process environment
func LoadConfig() (*Config, error) {
	// best effort: a missing .env just means the real environment is used
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if len(c.SessionSecret) < minSessionSecretLen {
		errs = append(errs, fmt.Errorf("SECRETLY_SESSION_SECRET must be at least %d bytes", minSessionSecretLen))
	}
	switch c.Store {
	case "postgres":
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("SECRETLY_DATABASE_URL is required for the postgres store"))
		}
	case "fs":
		if c.FSPath == "" {
			errs = append(errs, errors.New("SECRETLY_FS_PATH is required for the fs store"))
		}
	case "datastore":
		if c.DatastoreProject == "" {
			errs = append(errs, errors.New("SECRETLY_DATASTORE_PROJECT is required for the datastore store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown SECRETLY_STORE %q", c.Store))
	}
	if c.GoogleEnabled() && c.GoogleClientSecret == "" {
		errs = append(errs, errors.New("OAUTH2_GOOGLE_CLIENT_SECRET is required when OAUTH2_GOOGLE_CLIENT_ID is set"))
	}
	if c.SessionIdleTimeout <= 0 || c.SessionLifetime <= 0 || c.StoreTimeout <= 0 {
		errs = append(errs, errors.New("session and store timeouts must be positive"))
	}
	return errors.Join(errs...)
}

// GoogleEnabled reports whether Google login is configured
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientId != ""
}

// CallbackURL defaults to BaseURL + /auth/google/callback
func (c *Config) CallbackURL() string {
	if c.GoogleCallbackURL != "" {
		return c.GoogleCallbackURL
	}
	return c.BaseURL + "/auth/google/callback"
}
