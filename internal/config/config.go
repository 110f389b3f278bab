package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Database  DatabaseConfig   `yaml:"database"`
	Bot       BotConfig        `yaml:"bot"`
	Sweep     SweepConfig      `yaml:"sweep"`
	Gateway   GatewayConfig    `yaml:"gateway"`
	JWT       JWTConfig        `yaml:"jwt"`
	Operators []OperatorConfig `yaml:"operators"`
	Log       LogConfig        `yaml:"log"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig points at the SQLite file
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// BotConfig contains chat-facing behaviour
type BotConfig struct {
	Currency       string `yaml:"currency"`
	Timezone       string `yaml:"timezone"`
	FilesChannelID int64  `yaml:"files_channel_id"`

	DraftTTLSeconds       int `yaml:"draft_ttl_seconds"`
	LockTTLSeconds        int `yaml:"lock_ttl_seconds"`
	NoticeTTLSeconds      int `yaml:"notice_ttl_seconds"`
	MediaGroupQuietMillis int `yaml:"media_group_quiet_ms"`

	Shards      int `yaml:"shards"`
	ShardBuffer int `yaml:"shard_buffer"`
}

// SweepConfig contains the background reclamation schedule. Intervals are cron specs
// ("@every 60s" or six-field expressions).
type SweepConfig struct {
	ShortInterval      string `yaml:"short_interval"`
	LongInterval       string `yaml:"long_interval"`
	RejectedTTLSeconds int    `yaml:"rejected_ttl_seconds"`
	PendingTTLSeconds  int    `yaml:"pending_ttl_seconds"`
}

// GatewayConfig points at the chat platform gateway
type GatewayConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

// JWTConfig contains operator token settings
type JWTConfig struct {
	Secret             string `yaml:"secret"`
	TokenExpiryMinutes int    `yaml:"token_expiry_minutes"`
}

// OperatorConfig is one admin API account. PasswordHash is a bcrypt hash.
type OperatorConfig struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level string `yaml:"level"` // "debug", "info", "warn", "error"
}

// Load reads configuration from a YAML file. An empty path skips the file, so the
// service can run from environment variables alone.
func Load(configPath string) (*Config, error) {
	var cfg Config

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.overrideWithEnv(); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// overrideWithEnv overrides config values with environment variables
func (c *Config) overrideWithEnv() error {
	if val := os.Getenv("BOT_DB_PATH"); val != "" {
		c.Database.Path = val
	}
	if val := os.Getenv("GATEWAY_URL"); val != "" {
		c.Gateway.URL = val
	}
	if val := os.Getenv("GATEWAY_TOKEN"); val != "" {
		c.Gateway.Token = val
	}
	if val := os.Getenv("JWT_SECRET"); val != "" {
		c.JWT.Secret = val
	}
	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = val
	}
	if val := os.Getenv("BOT_CURRENCY"); val != "" {
		c.Bot.Currency = val
	}
	if val := os.Getenv("BOT_TIMEZONE"); val != "" {
		c.Bot.Timezone = val
	}

	ints := []struct {
		env string
		dst *int
	}{
		{"PORT", &c.Server.Port},
		{"DRAFT_TTL_SECONDS", &c.Bot.DraftTTLSeconds},
		{"LOCK_TTL_SECONDS", &c.Bot.LockTTLSeconds},
		{"REJECTED_TTL_SECONDS", &c.Sweep.RejectedTTLSeconds},
		{"PENDING_TTL_SECONDS", &c.Sweep.PendingTTLSeconds},
	}
	for _, o := range ints {
		val := os.Getenv(o.env)
		if val == "" {
			continue
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%s: %w", o.env, err)
		}
		*o.dst = n
	}

	if val := os.Getenv("FILES_CHANNEL_ID"); val != "" {
		id, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return fmt.Errorf("FILES_CHANNEL_ID: %w", err)
		}
		c.Bot.FilesChannelID = id
	}
	return nil
}

// Validate fills defaults and checks that the configuration is usable
func (c *Config) Validate() error {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Path == "" {
		c.Database.Path = "./data/splitbot.db"
	}

	if c.Gateway.URL == "" {
		return fmt.Errorf("gateway url is required")
	}
	if c.Bot.FilesChannelID == 0 {
		return fmt.Errorf("files channel id is required")
	}

	if c.Bot.Timezone == "" {
		c.Bot.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(c.Bot.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Bot.Timezone, err)
	}

	// Bot defaults
	if c.Bot.DraftTTLSeconds == 0 {
		c.Bot.DraftTTLSeconds = 900
	}
	if c.Bot.LockTTLSeconds == 0 {
		c.Bot.LockTTLSeconds = c.Bot.DraftTTLSeconds
	}
	if c.Bot.NoticeTTLSeconds == 0 {
		c.Bot.NoticeTTLSeconds = 5
	}
	if c.Bot.MediaGroupQuietMillis == 0 {
		c.Bot.MediaGroupQuietMillis = 1000
	}
	if c.Bot.DraftTTLSeconds < 0 || c.Bot.LockTTLSeconds < 0 || c.Bot.NoticeTTLSeconds < 0 || c.Bot.MediaGroupQuietMillis < 0 {
		return fmt.Errorf("bot durations must be positive")
	}

	// Sweep defaults
	if c.Sweep.ShortInterval == "" {
		c.Sweep.ShortInterval = "@every 60s"
	}
	if c.Sweep.LongInterval == "" {
		c.Sweep.LongInterval = "@every 1h"
	}
	if c.Sweep.RejectedTTLSeconds == 0 {
		c.Sweep.RejectedTTLSeconds = 86400
	}
	if c.Sweep.PendingTTLSeconds == 0 {
		c.Sweep.PendingTTLSeconds = 172800
	}
	if c.Sweep.RejectedTTLSeconds < 0 || c.Sweep.PendingTTLSeconds < 0 {
		return fmt.Errorf("sweep ttls must be positive")
	}

	// JWT validation only matters once someone can log in
	if c.JWT.TokenExpiryMinutes == 0 {
		c.JWT.TokenExpiryMinutes = 24 * 60
	}
	if len(c.Operators) > 0 {
		if len(c.JWT.Secret) < 32 {
			return fmt.Errorf("JWT secret must be at least 32 characters")
		}
		for _, op := range c.Operators {
			if op.Username == "" || !strings.HasPrefix(op.PasswordHash, "$2") {
				return fmt.Errorf("operator %q needs a username and a bcrypt password hash", op.Username)
			}
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "":
		c.Log.Level = "info"
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Log.Level)
	}

	return nil
}

// GetServerAddress returns the HTTP listen address
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Location returns the zone dates are shown in. Validate has already checked the name.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Bot.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (c *Config) DraftTTL() time.Duration  { return seconds(c.Bot.DraftTTLSeconds) }
func (c *Config) LockTTL() time.Duration   { return seconds(c.Bot.LockTTLSeconds) }
func (c *Config) NoticeTTL() time.Duration { return seconds(c.Bot.NoticeTTLSeconds) }

func (c *Config) MediaGroupQuiet() time.Duration {
	return time.Duration(c.Bot.MediaGroupQuietMillis) * time.Millisecond
}

func (c *Config) RejectedTTL() time.Duration { return seconds(c.Sweep.RejectedTTLSeconds) }
func (c *Config) PendingTTL() time.Duration  { return seconds(c.Sweep.PendingTTLSeconds) }

func (c *Config) TokenExpiry() time.Duration {
	return time.Duration(c.JWT.TokenExpiryMinutes) * time.Minute
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
