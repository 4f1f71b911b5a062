// ABOUTME: Configuration loading and parsing for parlor-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete parlor-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Sessions  SessionsConfig  `yaml:"sessions" toml:"sessions"`
	Bot       BotConfig       `yaml:"bot" toml:"bot"`
	Dedupe    DedupeConfig    `yaml:"dedupe" toml:"dedupe"`
	Node      NodeConfig      `yaml:"node" toml:"node"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`   // Serve on :443 with Tailscale certs
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // Serve publicly over HTTPS via Funnel
}

// DatabaseConfig selects the snapshot backend
type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver"` // sqlite, pebble or memory
	Path   string `yaml:"path" toml:"path"`
}

// SessionsConfig holds per-connection limits and timing
type SessionsConfig struct {
	MaxNameLength  int      `yaml:"max_name_length" toml:"max_name_length"`
	MaxFrameBytes  int64    `yaml:"max_frame_bytes" toml:"max_frame_bytes"`
	SendBuffer     int      `yaml:"send_buffer" toml:"send_buffer"`
	FrameRate      float64  `yaml:"frame_rate" toml:"frame_rate"` // frames per second
	FrameBurst     int      `yaml:"frame_burst" toml:"frame_burst"`
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`

	WriteTimeout time.Duration `yaml:"-" toml:"-"`
	PingInterval time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	WriteTimeoutRaw string `yaml:"write_timeout" toml:"write_timeout"`
	PingIntervalRaw string `yaml:"ping_interval" toml:"ping_interval"`
}

// BotConfig holds the bot identity and its summarization backend
type BotConfig struct {
	Identity      string `yaml:"identity" toml:"identity"`
	DefaultPrompt string `yaml:"default_prompt" toml:"default_prompt"`
	APIKey        string `yaml:"api_key" toml:"api_key"`
	BaseURL       string `yaml:"base_url" toml:"base_url"`
	Model         string `yaml:"model" toml:"model"`
	MaxPDFBytes   int64  `yaml:"max_pdf_bytes" toml:"max_pdf_bytes"`

	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// DedupeConfig bounds the client message id cache
type DedupeConfig struct {
	MaxSize int `yaml:"max_size" toml:"max_size"`

	TTL    time.Duration `yaml:"-" toml:"-"`
	TTLRaw string        `yaml:"ttl" toml:"ttl"`
}

// NodeConfig identifies this process when minting message ids
type NodeConfig struct {
	ID int64 `yaml:"id" toml:"id"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// DefaultPath returns the config path from PARLOR_CONFIG, falling back to
// $XDG_CONFIG_HOME/parlor/gateway.yaml (or ~/.config when unset).
func DefaultPath() string {
	if p := os.Getenv("PARLOR_CONFIG"); p != "" {
		return p
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "parlor", "gateway.yaml")
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

// ApplyDefaults fills every unset field with its default.
func (c *Config) ApplyDefaults() {
	if c.Server.HTTPAddr == "" && !c.Tailscale.Enabled {
		c.Server.HTTPAddr = ":8080"
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Path == "" {
		switch c.Database.Driver {
		case "sqlite":
			c.Database.Path = "./parlor.db"
		case "pebble":
			c.Database.Path = "./parlor-data"
		}
	}

	s := &c.Sessions
	if s.MaxNameLength == 0 {
		s.MaxNameLength = 20
	}
	if s.MaxFrameBytes == 0 {
		// large enough for inline base64 images and voice clips
		s.MaxFrameBytes = 16 << 20
	}
	if s.SendBuffer == 0 {
		s.SendBuffer = 64
	}
	if s.FrameRate == 0 {
		s.FrameRate = 20
	}
	if s.FrameBurst == 0 {
		s.FrameBurst = 40
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = 10 * time.Second
	}
	if s.PingInterval == 0 {
		s.PingInterval = 30 * time.Second
	}

	if c.Bot.Identity == "" {
		c.Bot.Identity = "Assistant"
	}
	if c.Bot.Timeout == 0 {
		c.Bot.Timeout = 30 * time.Second
	}
	if c.Bot.MaxPDFBytes == 0 {
		c.Bot.MaxPDFBytes = 10 << 20
	}

	if c.Dedupe.TTL == 0 {
		c.Dedupe.TTL = 10 * time.Minute
	}
	if c.Dedupe.MaxSize == 0 {
		c.Dedupe.MaxSize = 10000
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	switch c.Database.Driver {
	case "sqlite", "pebble":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for driver %q", c.Database.Driver)
		}
	case "memory":
	default:
		return fmt.Errorf("database.driver must be sqlite, pebble or memory, got %q", c.Database.Driver)
	}

	if c.Sessions.MaxNameLength < 1 {
		return fmt.Errorf("sessions.max_name_length must be positive")
	}
	if c.Sessions.FrameRate < 0 || c.Sessions.FrameBurst < 0 {
		return fmt.Errorf("sessions.frame_rate and sessions.frame_burst must not be negative")
	}

	// snowflake node ids are 10 bits
	if c.Node.ID < 0 || c.Node.ID > 1023 {
		return fmt.Errorf("node.id must be between 0 and 1023, got %d", c.Node.ID)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
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
		{"sessions.write_timeout", cfg.Sessions.WriteTimeoutRaw, &cfg.Sessions.WriteTimeout},
		{"sessions.ping_interval", cfg.Sessions.PingIntervalRaw, &cfg.Sessions.PingInterval},
		{"bot.timeout", cfg.Bot.TimeoutRaw, &cfg.Bot.Timeout},
		{"dedupe.ttl", cfg.Dedupe.TTLRaw, &cfg.Dedupe.TTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative", f.name)
		}
		*f.dst = d
	}

	return nil
}
