package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// DefaultJWTSecret is the development signing secret. Production refuses it.
const DefaultJWTSecret = "dev-only-secret-change-me"

// Config holds all configuration for the application.
type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	Env         string `env:"ENV" envDefault:"development"`
	DatabaseURL string `env:"DATABASE_URL"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"./data/relay.db"`
	RedisURL    string `env:"REDIS_URL"`

	// Broker
	BrokerURL           string        `env:"BROKER_URL" envDefault:"memory://"`
	BrokerExchange      string        `env:"BROKER_EXCHANGE" envDefault:"chat.rooms"`
	BrokerRetryInterval time.Duration `env:"BROKER_RETRY_INTERVAL" envDefault:"3s"`

	// Tokens
	JWTSecret string        `env:"JWT_SECRET" envDefault:"dev-only-secret-change-me"`
	JWTIssuer string        `env:"JWT_ISSUER" envDefault:"chat-relay"`
	TokenTTL  time.Duration `env:"TOKEN_TTL" envDefault:"168h"`

	// WebSocket sessions
	OperationTimeout   time.Duration `env:"OPERATION_TIMEOUT" envDefault:"5s"`         // bound on each join / message operation
	MaxFramesPerSecond int           `env:"WS_MAX_FRAMES_PER_SECOND" envDefault:"20"` // per-connection inbound frame budget
	AllowedOrigins     []string      `env:"ALLOWED_ORIGINS" envSeparator:","`         // empty allows any origin

	// Rate limiting
	RateLimitWhitelist []string `env:"RATE_LIMIT_WHITELIST" envSeparator:","` // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled   bool     `env:"AUTO_BLOCK_ENABLED" envDefault:"false"`  // Enable auto-blocking after repeated violations
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg, err := Parse()
	if err != nil {
		panic(err.Error())
	}
	return cfg
}

// Parse reads the environment into a Config and validates it.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.RateLimitWhitelist = trimList(cfg.RateLimitWhitelist)
	cfg.AllowedOrigins = trimList(cfg.AllowedOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func trimList(list []string) []string {
	out := list[:0]
	for _, entry := range list {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			out = append(out, entry)
		}
	}
	return out
}

// Validate checks settings that cannot be defaulted.
func (c *Config) Validate() error {
	if c.BrokerRetryInterval <= 0 {
		return errors.New("BROKER_RETRY_INTERVAL must be positive")
	}
	if c.OperationTimeout <= 0 {
		return errors.New("OPERATION_TIMEOUT must be positive")
	}
	if c.MaxFramesPerSecond <= 0 {
		return errors.New("WS_MAX_FRAMES_PER_SECOND must be positive")
	}
	if c.TokenTTL <= 0 {
		return errors.New("TOKEN_TTL must be positive")
	}

	// In production, require a real database and signing secret
	if c.Env == "production" {
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required in production")
		}
		if c.JWTSecret == "" || c.JWTSecret == DefaultJWTSecret {
			return errors.New("JWT_SECRET must be set in production")
		}
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}
