// Package config reads the server settings from the environment, optionally
// seeded from a .env file, and the command line.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

type Config struct {
	Addr      string
	Backend   string
	DSN       string
	RedisAddr string
	JWTSecret string
	TokenTTL  time.Duration
	Env       string
	LogLevel  string

	FederatedIssuer string
	FederatedSecret string
}

// Production reports whether ENV asks for production logging.
func (c *Config) Production() bool { return c.Env == "production" }

// FederatedEnabled reports whether ID tokens from an external provider are
// accepted.
func (c *Config) FederatedEnabled() bool {
	return c.FederatedIssuer != "" && c.FederatedSecret != ""
}

// Load parses args (without the program name) after loading envFile into the
// environment. A missing envFile is not an error; existing variables win
// over the file.
func Load(envFile string, args []string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	addr := fs.String("addr", ":8080", "http service address")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := &Config{
		Addr:            *addr,
		Backend:         getenv("BACKEND", BackendMemory),
		DSN:             os.Getenv("DB_DSN"),
		RedisAddr:       getenv("REDIS_ADDR", "localhost:6379"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		Env:             getenv("ENV", "development"),
		LogLevel:        getenv("LOG_LEVEL", "info"),
		FederatedIssuer: os.Getenv("FEDERATED_ISSUER"),
		FederatedSecret: os.Getenv("FEDERATED_SECRET"),
		TokenTTL:        24 * time.Hour,
	}
	if raw := os.Getenv("TOKEN_TTL"); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("TOKEN_TTL: %w", err)
		}
		cfg.TokenTTL = ttl
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is not set")
	}
	switch c.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.DSN == "" {
			return errors.New("DB_DSN is not set")
		}
		if c.RedisAddr == "" {
			return errors.New("REDIS_ADDR is not set")
		}
	default:
		return fmt.Errorf("unknown BACKEND %q", c.Backend)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive, got %s", c.TokenTTL)
	}
	if (c.FederatedIssuer == "") != (c.FederatedSecret == "") {
		return errors.New("FEDERATED_ISSUER and FEDERATED_SECRET must be set together")
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
