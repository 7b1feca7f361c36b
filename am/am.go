// Package am loads upilookup configuration ("I am").
//
// Sources merge in precedence order: system < user < project < env vars.
// Files are TOML; env vars use the UPILOOKUP_ prefix with "_" for ".".
package am

import "time"

// Config represents the upilookup configuration
type Config struct {
	Lookup    LookupConfig    `mapstructure:"lookup" toml:"lookup"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" toml:"rate_limit"`
	Pool      PoolConfig      `mapstructure:"pool" toml:"pool"`
	Input     InputConfig     `mapstructure:"input" toml:"input"`
	Database  DatabaseConfig  `mapstructure:"database" toml:"database"`
	Server    ServerConfig    `mapstructure:"server" toml:"server"`
}

// LookupConfig configures the outbound UPI lookup service
type LookupConfig struct {
	Endpoint        string   `mapstructure:"endpoint" toml:"endpoint"`                   // URL template with {upi_id}
	Handles         []string `mapstructure:"handles" toml:"handles"`                     // VPA suffixes tried in order
	TimeoutSeconds  int      `mapstructure:"timeout_seconds" toml:"timeout_seconds"`     // per request
	MaxAttempts     int      `mapstructure:"max_attempts" toml:"max_attempts"`           // per handle, including the first
	BackoffBaseMS   int      `mapstructure:"backoff_base_ms" toml:"backoff_base_ms"`     // first retry delay
	BackoffMaxMS    int      `mapstructure:"backoff_max_ms" toml:"backoff_max_ms"`       // delay cap
	BlockPrivateIPs bool     `mapstructure:"block_private_ips" toml:"block_private_ips"` // SSRF guard on the endpoint
}

// Timeout returns the per-request timeout
func (c LookupConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RateLimitConfig configures the shared outbound throttle
type RateLimitConfig struct {
	CallsPerSecond int    `mapstructure:"calls_per_second" toml:"calls_per_second"`
	WindowMS       int    `mapstructure:"window_ms" toml:"window_ms"` // sliding window length (default 1000)
	Policy         string `mapstructure:"policy" toml:"policy"`       // sliding_window | token_bucket
}

// Rate limiter policies
const (
	PolicySlidingWindow = "sliding_window"
	PolicyTokenBucket   = "token_bucket"
)

// PoolConfig configures the worker pool
type PoolConfig struct {
	Workers int `mapstructure:"workers" toml:"workers"`
}

// MaxWorkers bounds pool.workers; the rate limiter is the real throttle.
const MaxWorkers = 16

// InputConfig configures phone number validation
type InputConfig struct {
	MinDigits int    `mapstructure:"min_digits" toml:"min_digits"`
	MaxDigits int    `mapstructure:"max_digits" toml:"max_digits"`
	Pattern   string `mapstructure:"pattern" toml:"pattern"` // optional regexp, overrides digit bounds
}

// DatabaseConfig configures the SQLite run archive
type DatabaseConfig struct {
	Path string `mapstructure:"path" toml:"path"`
}

// ServerConfig configures the HTTP control server
type ServerConfig struct {
	Port           int      `mapstructure:"port" toml:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins" toml:"allowed_origins"`
}

// File system constants
const (
	DefaultDirPermissions  = 0755
	DefaultFilePermissions = 0644
)
