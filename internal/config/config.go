// ABOUTME: Configuration loading and parsing for chat-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete chat-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Uploads  UploadsConfig  `yaml:"uploads"`
	Auth     AuthConfig     `yaml:"auth"`
	Session  SessionConfig  `yaml:"session"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// UploadsConfig holds attachment storage configuration
type UploadsConfig struct {
	Dir       string `yaml:"dir"`
	BaseURL   string `yaml:"base_url"`
	MaxSizeMB int64  `yaml:"max_size_mb"`
}

// MaxBytes returns the upload size limit in bytes.
func (u UploadsConfig) MaxBytes() int64 {
	return u.MaxSizeMB * 1024 * 1024
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	TokenTTLRaw string `yaml:"token_ttl"`
}

// SessionConfig holds live-session timing configuration
type SessionConfig struct {
	PingInterval time.Duration `yaml:"-"`
	PongTimeout  time.Duration `yaml:"-"`
	SendBuffer   int           `yaml:"send_buffer"`

	// Raw string values for YAML unmarshaling
	PingIntervalRaw string `yaml:"ping_interval"`
	PongTimeoutRaw  string `yaml:"pong_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied when the corresponding fields are absent from the file.
const (
	DefaultTokenTTL     = 30 * 24 * time.Hour
	DefaultPingInterval = 54 * time.Second
	DefaultPongTimeout  = 60 * time.Second
	DefaultSendBuffer   = 64
	DefaultMaxSizeMB    = 25
)

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

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
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

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	if c.Session.SendBuffer < 0 {
		return fmt.Errorf("session.send_buffer must not be negative")
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = DefaultTokenTTL
	}
	if c.Session.PingInterval == 0 {
		c.Session.PingInterval = DefaultPingInterval
	}
	if c.Session.PongTimeout == 0 {
		c.Session.PongTimeout = DefaultPongTimeout
	}
	if c.Session.SendBuffer == 0 {
		c.Session.SendBuffer = DefaultSendBuffer
	}
	if c.Uploads.MaxSizeMB == 0 {
		c.Uploads.MaxSizeMB = DefaultMaxSizeMB
	}
	if c.Uploads.BaseURL == "" {
		c.Uploads.BaseURL = "/uploads"
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Auth.TokenTTLRaw != "" {
		cfg.Auth.TokenTTL, err = time.ParseDuration(cfg.Auth.TokenTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing token_ttl %q: %w", cfg.Auth.TokenTTLRaw, err)
		}
	}

	if cfg.Session.PingIntervalRaw != "" {
		cfg.Session.PingInterval, err = time.ParseDuration(cfg.Session.PingIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing ping_interval %q: %w", cfg.Session.PingIntervalRaw, err)
		}
	}

	if cfg.Session.PongTimeoutRaw != "" {
		cfg.Session.PongTimeout, err = time.ParseDuration(cfg.Session.PongTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing pong_timeout %q: %w", cfg.Session.PongTimeoutRaw, err)
		}
	}

	return nil
}
