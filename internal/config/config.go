package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr" validate:"required"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
	LogFormat         string        `mapstructure:"log_format" yaml:"log_format" validate:"omitempty,oneof=console json"`

	DatabasePath string `mapstructure:"database_path" yaml:"database_path" validate:"required"`

	JWTSecret   string        `mapstructure:"jwt_secret" yaml:"jwt_secret" validate:"required"`
	JWTIssuer   string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	JWTTTL      time.Duration `mapstructure:"jwt_ttl" yaml:"jwt_ttl" validate:"gt=0"`

	// MaxMessageBytes limits one inbound websocket frame.
	MaxMessageBytes int64 `mapstructure:"max_message_bytes" yaml:"max_message_bytes" validate:"gte=1024"`
	// SessionBuffer is the outbound queue per connection; a full queue disconnects it.
	SessionBuffer int `mapstructure:"session_buffer" yaml:"session_buffer" validate:"gte=1"`
	// PersistenceWorkers bounds concurrent storage calls made by the messaging core.
	PersistenceWorkers int64 `mapstructure:"persistence_workers" yaml:"persistence_workers" validate:"gte=1"`
	// RateLimitPerMinute caps inbound actions per connection. Zero disables it.
	RateLimitPerMinute int `mapstructure:"rate_limit_per_minute" yaml:"rate_limit_per_minute" validate:"gte=0"`
	// LeaveRedirect is sent to clients that left or were removed from a room.
	LeaveRedirect string `mapstructure:"leave_redirect" yaml:"leave_redirect"`
	HistoryLimit  int    `mapstructure:"history_limit" yaml:"history_limit" validate:"gte=1,lte=500"`

	// RedisAddr enables the unread-count cache. Empty disables it.
	RedisAddr      string        `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPrefix    string        `mapstructure:"redis_prefix" yaml:"redis_prefix"`
	UnreadCacheTTL time.Duration `mapstructure:"unread_cache_ttl" yaml:"unread_cache_ttl"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:               ":8080",
		ReadHeaderTimeout:  5 * time.Second,
		ShutdownTimeout:    5 * time.Second,
		LogLevel:           "info",
		LogFormat:          "console",
		DatabasePath:       "roomwire.db",
		JWTSecret:          "change-me",
		JWTIssuer:          "roomwire",
		JWTAudience:        "roomwire",
		JWTTTL:             24 * time.Hour,
		MaxMessageBytes:    1 << 20,
		SessionBuffer:      64,
		PersistenceWorkers: 8,
		RateLimitPerMinute: 120,
		LeaveRedirect:      "/",
		HistoryLimit:       50,
		RedisPrefix:        "roomwire:",
		UnreadCacheTTL:     10 * time.Minute,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.RedisAddr != "" {
		c.RedisAddr = other.RedisAddr
	}
}
