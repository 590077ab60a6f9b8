// Package relay provides configuration helpers that define runtime defaults,
// file and environment loading, and validation for the relay service.
package relay

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// RateLimitConfig defines the parameters for per-connection frame rate
// limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the relay server configuration. Values are resolved in three
// layers: built-in defaults, an optional TOML file, then environment
// variable overrides.
type Config struct {
	Host              string
	Port              int
	AllowedOrigins    []string
	HeartbeatInterval time.Duration
	ConnectionTimeout time.Duration
	AuthTimeout       time.Duration
	ReaperInterval    time.Duration
	MaxConnections    int
	MaxFrameSize      int64
	RateLimit         RateLimitConfig
}

// DefaultConfig returns a Config populated with default values for all
// settings.
func DefaultConfig() Config {
	return Config{
		Host:              "0.0.0.0",
		Port:              8765,
		AllowedOrigins:    []string{"*"},
		HeartbeatInterval: 30 * time.Second,
		ConnectionTimeout: 300 * time.Second,
		AuthTimeout:       10 * time.Second,
		ReaperInterval:    60 * time.Second,
		MaxConnections:    1000,
		MaxFrameSize:      1 << 20,
		RateLimit: RateLimitConfig{
			Burst:          10,
			RefillInterval: time.Second,
		},
	}
}

// Addr returns the listen address in host:port form.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// sanitize replaces zero or nonsensical values with defaults so a partially
// populated Config is always usable.
func (c Config) sanitize() Config {
	def := DefaultConfig()
	if c.Port <= 0 || c.Port > 65535 {
		c.Port = def.Port
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = def.AllowedOrigins
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = def.HeartbeatInterval
	}
	if c.ConnectionTimeout <= 0 {
		c.ConnectionTimeout = def.ConnectionTimeout
	}
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = def.AuthTimeout
	}
	if c.ReaperInterval <= 0 {
		c.ReaperInterval = def.ReaperInterval
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = def.MaxConnections
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = def.MaxFrameSize
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = def.RateLimit.Burst
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	return c
}

// fileConfig is the TOML representation of Config. Durations are expressed
// in whole seconds, matching the environment variables.
type fileConfig struct {
	Host                  string   `toml:"host"`
	Port                  int      `toml:"port"`
	AllowedOrigins        []string `toml:"allowed_origins"`
	HeartbeatInterval     int      `toml:"heartbeat_interval"`
	ConnectionTimeout     int      `toml:"connection_timeout"`
	AuthTimeout           int      `toml:"auth_timeout"`
	ReaperInterval        int      `toml:"reaper_interval"`
	MaxConnections        int      `toml:"max_connections"`
	MaxFrameSize          int64    `toml:"max_frame_size"`
	RateLimitBurst        int      `toml:"rate_limit_burst"`
	RateLimitRefillSecond int      `toml:"rate_limit_refill_interval"`
}

func (f fileConfig) apply(cfg Config) Config {
	if f.Host != "" {
		cfg.Host = f.Host
	}
	if f.Port > 0 {
		cfg.Port = f.Port
	}
	if len(f.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = f.AllowedOrigins
	}
	if f.HeartbeatInterval > 0 {
		cfg.HeartbeatInterval = time.Duration(f.HeartbeatInterval) * time.Second
	}
	if f.ConnectionTimeout > 0 {
		cfg.ConnectionTimeout = time.Duration(f.ConnectionTimeout) * time.Second
	}
	if f.AuthTimeout > 0 {
		cfg.AuthTimeout = time.Duration(f.AuthTimeout) * time.Second
	}
	if f.ReaperInterval > 0 {
		cfg.ReaperInterval = time.Duration(f.ReaperInterval) * time.Second
	}
	if f.MaxConnections > 0 {
		cfg.MaxConnections = f.MaxConnections
	}
	if f.MaxFrameSize > 0 {
		cfg.MaxFrameSize = f.MaxFrameSize
	}
	if f.RateLimitBurst > 0 {
		cfg.RateLimit.Burst = f.RateLimitBurst
	}
	if f.RateLimitRefillSecond > 0 {
		cfg.RateLimit.RefillInterval = time.Duration(f.RateLimitRefillSecond) * time.Second
	}
	return cfg
}

// LoadConfig resolves the effective configuration: defaults, then the TOML
// file at path (skipped when path is empty or the file does not exist), then
// environment variables.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			var fc fileConfig
			if _, err := toml.DecodeFile(path, &fc); err != nil {
				return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
			}
			cfg = fc.apply(cfg)
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	return cfg.FromEnv().sanitize(), nil
}

// FromEnv returns a copy of the configuration with recognized environment
// variables applied. Unset or unparseable variables leave the current value
// in place.
func (c Config) FromEnv() Config {
	if host := os.Getenv("RELAY_HOST"); host != "" {
		c.Host = host
	}
	if port := os.Getenv("RELAY_PORT"); port != "" {
		c.Port = parseIntValue(port, c.Port)
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		c.AllowedOrigins = parseOrigins(origins)
	}
	if v := os.Getenv("HEARTBEAT_INTERVAL"); v != "" {
		c.HeartbeatInterval = parseSeconds(v, c.HeartbeatInterval)
	}
	if v := os.Getenv("CONNECTION_TIMEOUT"); v != "" {
		c.ConnectionTimeout = parseSeconds(v, c.ConnectionTimeout)
	}
	if v := os.Getenv("AUTH_TIMEOUT"); v != "" {
		c.AuthTimeout = parseSeconds(v, c.AuthTimeout)
	}
	if v := os.Getenv("REAPER_INTERVAL"); v != "" {
		c.ReaperInterval = parseSeconds(v, c.ReaperInterval)
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		c.MaxConnections = parseIntValue(v, c.MaxConnections)
	}
	if v := os.Getenv("MAX_FRAME_SIZE"); v != "" {
		c.MaxFrameSize = parseInt64Value(v, c.MaxFrameSize)
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		c.RateLimit.Burst = parseIntValue(v, c.RateLimit.Burst)
	}
	if v := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); v != "" {
		c.RateLimit.RefillInterval = parseSeconds(v, c.RateLimit.RefillInterval)
	}
	return c
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseInt64Value(value string, defaultValue int64) int64 {
	if parsed, err := strconv.ParseInt(value, 10, 64); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseSeconds(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
