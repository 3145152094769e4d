// Package config loads the server configuration from the environment and
// the route table from YAML.
package config

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the server settings.
type Config struct {
	Listen        string        `env:"GATEWAYD_LISTEN" envDefault:":8080"`
	ServerName    string        `env:"GATEWAYD_SERVER_NAME" envDefault:""`
	Routes        string        `env:"GATEWAYD_ROUTES" envDefault:"routes.yaml"`
	LogLevel      string        `env:"GATEWAYD_LOG_LEVEL" envDefault:"info"`
	LogFormat     string        `env:"GATEWAYD_LOG_FORMAT" envDefault:"console"`
	PollCapacity  int           `env:"GATEWAYD_POLL_CAPACITY" envDefault:"256"`
	ShutdownGrace time.Duration `env:"GATEWAYD_SHUTDOWN_GRACE" envDefault:"10s"`
	Tracing       bool          `env:"GATEWAYD_TRACING" envDefault:"false"`
	// InheritEnv names server variables passed through to scripts. PATH is
	// always passed.
	InheritEnv []string `env:"GATEWAYD_INHERIT_ENV" envSeparator:","`
}

// Parse reads the configuration from the process environment.
func Parse() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// ParseFrom reads the configuration from the given variables instead of the
// process environment.
func ParseFrom(vars map[string]string) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: vars}); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// Validate checks values the environment parser cannot.
func (c *Config) Validate() error {
	var errs []error
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		errs = append(errs, fmt.Errorf("listen address %q: %w", c.Listen, err))
	}
	if c.Routes == "" {
		errs = append(errs, errors.New("routes file is required"))
	}
	if c.PollCapacity <= 0 {
		errs = append(errs, fmt.Errorf("poll capacity %d must be positive", c.PollCapacity))
	}
	if c.ShutdownGrace < 0 {
		errs = append(errs, fmt.Errorf("shutdown grace %s must not be negative", c.ShutdownGrace))
	}
	return errors.Join(errs...)
}

// Port returns the port part of Listen, or "80" when it has none.
func (c *Config) Port() string {
	if _, port, err := net.SplitHostPort(c.Listen); err == nil && port != "" {
		return port
	}
	return "80"
}
