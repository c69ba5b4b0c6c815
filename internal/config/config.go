// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration.
type Config struct {
	Port             string        `env:"PORT" envDefault:"8765"`
	FrontendURL      string        `env:"FRONTEND_URL"`
	DBPath           string        `env:"DB_PATH" envDefault:"./data/chat_history.db"`
	AllowedOrigins   []string      `env:"ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	LogLevel         slog.Level    `env:"LOG_LEVEL" envDefault:"info"`
	HistoryLimit     int           `env:"HISTORY_LIMIT" envDefault:"50"`
	MaxPendingEvents int           `env:"EVENT_QUEUE_MAX_PENDING" envDefault:"0"`
	WriteTimeout     time.Duration `env:"WRITE_TIMEOUT" envDefault:"5s"`
	MaxMessageLength int           `env:"MAX_MESSAGE_LENGTH" envDefault:"4000"`

	RateLimit   RateLimitConfig   `envPrefix:"RATE_LIMIT_"`
	Responder   ResponderConfig   `envPrefix:"RESPONDER_"`
	Diagnostics DiagnosticsConfig `envPrefix:"DIAGNOSTICS_"`

	GRPCHealthAddr string `env:"GRPC_HEALTH_ADDR"` // "" disables the gRPC health service
}

// RateLimitConfig controls the per-user message limiter.
type RateLimitConfig struct {
	Messages int           `env:"MESSAGES" envDefault:"3"`
	Window   time.Duration `env:"WINDOW" envDefault:"1s"`
	Cooldown time.Duration `env:"COOLDOWN" envDefault:"2s"`
	MaxIdle  time.Duration `env:"MAX_IDLE" envDefault:"1h"`
}

// ResponderConfig controls the scripted responder.
type ResponderConfig struct {
	Enabled bool          `env:"ENABLED" envDefault:"true"`
	Prefix  string        `env:"PREFIX" envDefault:"/Bot"`
	Name    string        `env:"NAME" envDefault:"Bot"`
	Delay   time.Duration `env:"DELAY" envDefault:"500ms"`
}

// DiagnosticsConfig controls the periodic state reporter.
type DiagnosticsConfig struct {
	Schedule string `env:"SCHEDULE" envDefault:"@every 1m"` // cron spec, "" disables
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.AllowedOrigins = normalizeOrigins(cfg.AllowedOrigins)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.HistoryLimit < 0 {
		return fmt.Errorf("HISTORY_LIMIT must be >= 0")
	}
	if c.MaxPendingEvents < 0 {
		return fmt.Errorf("EVENT_QUEUE_MAX_PENDING must be >= 0")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("WRITE_TIMEOUT must be > 0")
	}
	if c.MaxMessageLength <= 0 {
		return fmt.Errorf("MAX_MESSAGE_LENGTH must be > 0")
	}
	if c.RateLimit.Messages <= 0 {
		return fmt.Errorf("RATE_LIMIT_MESSAGES must be > 0")
	}
	if c.RateLimit.Window <= 0 || c.RateLimit.Cooldown <= 0 || c.RateLimit.MaxIdle <= 0 {
		return fmt.Errorf("RATE_LIMIT durations must be > 0")
	}
	if c.Responder.Enabled {
		if strings.TrimSpace(c.Responder.Prefix) == "" {
			return fmt.Errorf("RESPONDER_PREFIX cannot be empty")
		}
		if strings.TrimSpace(c.Responder.Name) == "" {
			return fmt.Errorf("RESPONDER_NAME cannot be empty")
		}
		if c.Responder.Delay <= 0 {
			return fmt.Errorf("RESPONDER_DELAY must be > 0")
		}
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// OriginPatterns returns the host patterns accepted for WebSocket handshakes.
// A FrontendURL host is always allowed.
func (c *Config) OriginPatterns() []string {
	patterns := append([]string(nil), c.AllowedOrigins...)
	if host := hostOf(c.FrontendURL); host != "" {
		patterns = append(patterns, host)
	}
	return patterns
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, o := range in {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func hostOf(url string) string {
	url = strings.TrimSpace(url)
	if i := strings.Index(url, "://"); i >= 0 {
		url = url[i+3:]
	}
	if i := strings.IndexByte(url, '/'); i >= 0 {
		url = url[:i]
	}
	return url
}
