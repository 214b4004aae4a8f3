// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the livechat service.
package server

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration, populated from the environment.
type Config struct {
	Port                    string        `envconfig:"SERVER_PORT" default:":8080"`
	AllowedOrigins          []string      `envconfig:"ALLOWED_ORIGINS" default:"http://localhost:8080"`
	MaxMessageSize          int64         `envconfig:"MAX_MESSAGE_SIZE" default:"512" validate:"gt=0"`
	SendBuffer              int           `envconfig:"SEND_BUFFER" default:"256" validate:"gt=0"`
	RateLimitBurst          int           `envconfig:"RATE_LIMIT_BURST" default:"5" validate:"gt=0"`
	RateLimitRefillInterval time.Duration `envconfig:"RATE_LIMIT_REFILL_INTERVAL" default:"1s" validate:"gt=0"`
	ShutdownTimeout         time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s" validate:"gt=0"`
	LogLevel                string        `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`
}

var validate = validator.New()

var (
	configMu        sync.RWMutex
	activeConfig    Config
	allowedOrigins  map[string]struct{}
	allowAllOrigins bool
)

func init() {
	SetConfig(nil)
}

func defaultConfig() Config {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		// Struct-tag defaults are static; this only fires on a malformed
		// environment at process start.
		panic(fmt.Sprintf("default config: %v", err))
	}
	return cfg
}

// SetConfig installs the provided configuration as the process-wide active
// config. Passing nil resets to defaults.
func SetConfig(cfg *Config) {
	installed := defaultConfig()
	if cfg != nil {
		installed = *cfg
		installed.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	}

	installed.Port = normalizePort(installed.Port)
	normalized, allowAll := normalizeOrigins(installed.AllowedOrigins)
	installed.AllowedOrigins = normalized

	configMu.Lock()
	defer configMu.Unlock()

	activeConfig = installed
	allowAllOrigins = allowAll
	allowedOrigins = make(map[string]struct{}, len(normalized))
	for _, origin := range normalized {
		allowedOrigins[origin] = struct{}{}
	}
}

func currentConfig() Config {
	configMu.RLock()
	defer configMu.RUnlock()

	cfg := activeConfig
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfigFromEnv builds a Config from environment variables, falling back
// to the struct-tag defaults, and validates the result.
func NewConfigFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config from environment: %w", err)
	}

	cfg.Port = normalizePort(cfg.Port)

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// normalizePort accepts both "8080" and ":8080" forms.
func normalizePort(port string) string {
	port = strings.TrimSpace(port)
	if port == "" {
		return ":8080"
	}
	if !strings.Contains(port, ":") {
		return ":" + port
	}
	return port
}
