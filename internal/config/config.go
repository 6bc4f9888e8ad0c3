// ABOUTME: Configuration loading and parsing for chatbot-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete chatbot-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Agent     AgentConfig     `yaml:"agent"`
	Turns     TurnsConfig     `yaml:"turns"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Fallback  FallbackConfig  `yaml:"fallback"`
	Notifier  NotifierConfig  `yaml:"notifier"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AgentConfig holds the external reasoning agent settings. Both EndpointURL
// and AuthToken may be empty; the gateway then answers from the knowledge
// base alone.
type AgentConfig struct {
	EndpointURL string        `yaml:"endpoint_url"`
	AuthToken   string        `yaml:"auth_token"`
	Timeout     time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	TimeoutRaw string `yaml:"timeout"`
}

// TurnsConfig holds turn grouping configuration
type TurnsConfig struct {
	IdleWindow time.Duration `yaml:"-"`

	IdleWindowRaw string `yaml:"idle_window"`
}

// RateLimitConfig holds per-client admission limits
type RateLimitConfig struct {
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"-"`

	WindowRaw string `yaml:"window"`
}

// FallbackConfig holds the contact link offered when no answer is found
type FallbackConfig struct {
	ContactURL string `yaml:"contact_url"`
}

// NotifierConfig holds the outbound webhook for finalized turns
type NotifierConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	// Agent settings are deliberately not validated here: empty or partial
	// values mean "agent not configured" and the gateway answers from the
	// knowledge base alone.

	if c.RateLimit.MaxRequests < 0 {
		return fmt.Errorf("rate_limit.max_requests must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Agent.TimeoutRaw != "" {
		cfg.Agent.Timeout, err = time.ParseDuration(cfg.Agent.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing agent.timeout %q: %w", cfg.Agent.TimeoutRaw, err)
		}
	}

	if cfg.Turns.IdleWindowRaw != "" {
		cfg.Turns.IdleWindow, err = time.ParseDuration(cfg.Turns.IdleWindowRaw)
		if err != nil {
			return fmt.Errorf("parsing turns.idle_window %q: %w", cfg.Turns.IdleWindowRaw, err)
		}
	}

	if cfg.RateLimit.WindowRaw != "" {
		cfg.RateLimit.Window, err = time.ParseDuration(cfg.RateLimit.WindowRaw)
		if err != nil {
			return fmt.Errorf("parsing rate_limit.window %q: %w", cfg.RateLimit.WindowRaw, err)
		}
	}

	return nil
}
