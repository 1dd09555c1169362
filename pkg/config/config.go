// Package config loads client and server configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dd0wney/cluso-graphclient/pkg/validation"
)

var ErrNoEndpoints = errors.New("config: at least one endpoint is required")

// ClientConfig describes how a client reaches the cluster
type ClientConfig struct {
	Endpoints   []string      `yaml:"endpoints" validate:"dive,required"`
	Transport   string        `yaml:"transport" validate:"oneof=nng zmq"`
	Selector    string        `yaml:"selector" validate:"oneof=random round_robin"`
	Timeout     time.Duration `yaml:"timeout" validate:"gte=0"`
	DialTimeout time.Duration `yaml:"dial_timeout" validate:"gte=0"`
	Compression bool          `yaml:"compression"`
	Retry       RetryConfig   `yaml:"retry"`
	Auth        AuthConfig    `yaml:"auth"`
	LogLevel    string        `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// RetryConfig controls failover between connections. MaxAttempts <= 1
// disables it.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" validate:"gte=0,lte=10"`
	Backoff     time.Duration `yaml:"backoff" validate:"gte=0"`
}

// AuthConfig carries a pre-issued bearer token sent with every call
type AuthConfig struct {
	Token string `yaml:"token"`
}

// ServerConfig describes the reference backend process
type ServerConfig struct {
	ListenAddr  string           `yaml:"listen_addr" validate:"required"`
	Transport   string           `yaml:"transport" validate:"oneof=nng zmq"`
	Workers     int              `yaml:"workers" validate:"gte=1,lte=1024"`
	Groups      int              `yaml:"groups" validate:"gte=1,lte=64"`
	MetricsAddr string           `yaml:"metrics_addr"`
	Compression bool             `yaml:"compression"`
	Auth        ServerAuthConfig `yaml:"auth"`
	LogLevel    string           `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// ServerAuthConfig enables bearer token verification when Secret is set
type ServerAuthConfig struct {
	Secret string `yaml:"secret" validate:"omitempty,min=32"`
}

// DefaultClientConfig returns defaults for everything but the endpoints
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Transport:   "nng",
		Selector:    "random",
		DialTimeout: 5 * time.Second,
		Compression: true,
		LogLevel:    "info",
	}
}

// DefaultServerConfig returns a single-process backend configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:  "tcp://127.0.0.1:9080",
		Transport:   "nng",
		Workers:     16,
		Groups:      3,
		MetricsAddr: ":9090",
		Compression: true,
		LogLevel:    "info",
	}
}

// Validate checks if configuration is valid
func (c *ClientConfig) Validate() error {
	if len(c.Endpoints) == 0 {
		return ErrNoEndpoints
	}
	return validation.Struct(c)
}

// Validate checks if configuration is valid
func (c *ServerConfig) Validate() error {
	return validation.Struct(c)
}

// LoadClientConfig reads path over the defaults and validates the result
func LoadClientConfig(path string) (*ClientConfig, error) {
	cfg := DefaultClientConfig()
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid client config %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadServerConfig reads path over the defaults and validates the result
func LoadServerConfig(path string) (*ServerConfig, error) {
	cfg := DefaultServerConfig()
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid server config %s: %w", path, err)
	}
	return &cfg, nil
}

func loadYAML(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}
