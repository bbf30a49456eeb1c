// ABOUTME: Configuration loading and parsing for wce-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Dispatch modes.
const (
	DispatchInProcess = "inprocess"
	DispatchRedis     = "redis"
)

// Config represents the complete wce-gateway configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Redis    RedisConfig    `yaml:"redis"`
	Database DatabaseConfig `yaml:"database"`
	Provider ProviderConfig `yaml:"provider"`
	Session  SessionConfig  `yaml:"session"`
	Lock     LockConfig     `yaml:"lock"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Auth     AuthConfig     `yaml:"auth"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// RedisConfig holds the optional Redis backend configuration.
// With an empty Addr the gateway runs on in-memory state, which is
// fine for a single instance but offers no cross-process safety.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DatabaseConfig holds the SQLite ticket database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ProviderConfig holds the WhatsApp Cloud API credentials
type ProviderConfig struct {
	VerifyToken   string `yaml:"verify_token"`
	AppSecret     string `yaml:"app_secret"`
	AccessToken   string `yaml:"access_token"`
	PhoneNumberID string `yaml:"phone_number_id"`
	APIBaseURL    string `yaml:"api_base_url"`
}

// SessionConfig holds session TTL configuration
type SessionConfig struct {
	UserTTL   time.Duration `yaml:"-"`
	GlobalTTL time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	UserTTLRaw   string `yaml:"user_ttl"`
	GlobalTTLRaw string `yaml:"global_ttl"`
}

// LockConfig holds per-user lock timing configuration
type LockConfig struct {
	Lease time.Duration `yaml:"-"`
	Wait  time.Duration `yaml:"-"`

	LeaseRaw string `yaml:"lease"`
	WaitRaw  string `yaml:"wait"`
}

// DispatchConfig selects and tunes the background job transport
type DispatchConfig struct {
	Mode          string `yaml:"mode"` // "inprocess" or "redis"
	RedisStream   string `yaml:"redis_stream"`
	ConsumerGroup string `yaml:"consumer_group"`
	Consumer      string `yaml:"consumer"`
}

// AuthConfig holds operator API authentication configuration
type AuthConfig struct {
	TokenSecret string        `yaml:"token_secret"`
	TokenTTL    time.Duration `yaml:"-"`

	TokenTTLRaw string `yaml:"token_ttl"`
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

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

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
	if c.Provider.VerifyToken == "" {
		return fmt.Errorf("provider.verify_token is required")
	}
	if c.Provider.AppSecret == "" {
		return fmt.Errorf("provider.app_secret is required")
	}

	switch c.Dispatch.Mode {
	case "", DispatchInProcess:
	case DispatchRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required when dispatch.mode is %q", DispatchRedis)
		}
	default:
		return fmt.Errorf("dispatch.mode must be %q or %q, got %q",
			DispatchInProcess, DispatchRedis, c.Dispatch.Mode)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"session.user_ttl", cfg.Session.UserTTLRaw, &cfg.Session.UserTTL},
		{"session.global_ttl", cfg.Session.GlobalTTLRaw, &cfg.Session.GlobalTTL},
		{"lock.lease", cfg.Lock.LeaseRaw, &cfg.Lock.Lease},
		{"lock.wait", cfg.Lock.WaitRaw, &cfg.Lock.Wait},
		{"auth.token_ttl", cfg.Auth.TokenTTLRaw, &cfg.Auth.TokenTTL},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
