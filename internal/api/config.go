// Package api provides the HTTP monitoring surface for the ingestion
// pipeline: a JSON health endpoint and a Prometheus metrics endpoint.
package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/siripipe-io/siripipe/internal/config"
)

const (
	defaultPort      int = 8001
	maxPort          int = 65535
	defaultHost          = "0.0.0.0"
	defaultTimeout       = 30 * time.Second
	defaultRateLimit     = 20.0
	defaultRateBurst     = 40
)

var (
	// ErrInvalidPort indicates the port number is outside valid range (1-65535).
	ErrInvalidPort = errors.New("invalid port")

	// ErrEmptyHost indicates the server host address is empty.
	ErrEmptyHost = errors.New("host cannot be empty")

	// ErrInvalidReadTimeout indicates the read timeout is zero or negative.
	ErrInvalidReadTimeout = errors.New("read timeout must be positive")

	// ErrInvalidWriteTimeout indicates the write timeout is zero or negative.
	ErrInvalidWriteTimeout = errors.New("write timeout must be positive")

	// ErrInvalidShutdownTimeout indicates the shutdown timeout is zero or negative.
	ErrInvalidShutdownTimeout = errors.New("shutdown timeout must be positive")
)

// ServerConfig holds HTTP server configuration.
// Pure configuration only, no runtime dependencies.
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// RateLimit is requests per second across all monitoring endpoints;
	// zero disables rate limiting.
	RateLimit float64
	RateBurst int
}

// LoadServerConfig loads server configuration from environment variables
// with sensible defaults.
func LoadServerConfig() *ServerConfig {
	return &ServerConfig{
		Port:            config.GetEnvInt("MONITORING_PORT", defaultPort),
		Host:            config.GetEnvStr("MONITORING_HOST", defaultHost),
		ReadTimeout:     config.GetEnvDuration("MONITORING_READ_TIMEOUT", defaultTimeout),
		WriteTimeout:    config.GetEnvDuration("MONITORING_WRITE_TIMEOUT", defaultTimeout),
		ShutdownTimeout: config.GetEnvDuration("MONITORING_SHUTDOWN_TIMEOUT", defaultTimeout),
		RateLimit:       defaultRateLimit,
		RateBurst:       defaultRateBurst,
	}
}

// Validate checks the configuration for invalid values.
func (c *ServerConfig) Validate() error {
	if c.Port < 1 || c.Port > maxPort {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Port)
	}

	if c.Host == "" {
		return ErrEmptyHost
	}

	if c.ReadTimeout <= 0 {
		return ErrInvalidReadTimeout
	}

	if c.WriteTimeout <= 0 {
		return ErrInvalidWriteTimeout
	}

	if c.ShutdownTimeout <= 0 {
		return ErrInvalidShutdownTimeout
	}

	return nil
}

// Address returns the host:port the server listens on.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
