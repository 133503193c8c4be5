// Package config provides configuration for the runtime.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the runtime configuration, loaded from the environment.
type Config struct {
	// Server settings
	HTTPPort int `env:"HTTP_PORT" envDefault:"8080"`

	// Assistant backend
	BackendURL    string        `env:"BACKEND_URL" envDefault:"http://localhost:9000"`
	BackendToken  string        `env:"BACKEND_TOKEN"`
	StreamTimeout time.Duration `env:"STREAM_TIMEOUT" envDefault:"5m"`
	TaskID        string        `env:"TASK_ID"`

	// Database
	DatabaseDSN string `env:"DATABASE_DSN" envDefault:"file:chatform.db?cache=shared&mode=rwc"`

	// Behavior
	SideEffectDelay time.Duration `env:"SIDE_EFFECT_DELAY" envDefault:"600ms"`
	KeepAfterText   bool          `env:"KEEP_AFTER_TEXT" envDefault:"true"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load parses configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	return cfg, nil
}
