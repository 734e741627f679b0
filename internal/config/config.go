package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	LogFormat         string        `mapstructure:"log_format" yaml:"log_format"`
	DatabasePath      string        `mapstructure:"database_path" yaml:"database_path"`
	PublicBaseURL     string        `mapstructure:"public_base_url" yaml:"public_base_url"`

	// Live channel limits.
	IdleTimeout               time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	SendBuffer                int           `mapstructure:"send_buffer" yaml:"send_buffer"`
	HistoryLimit              int           `mapstructure:"history_limit" yaml:"history_limit"`
	MaxMessageBytes           int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	MaxChatLength             int           `mapstructure:"max_chat_length" yaml:"max_chat_length"`
	ChatRatePerMinute         int           `mapstructure:"chat_rate_per_minute" yaml:"chat_rate_per_minute"`
	EnforcePlaybackPermission bool          `mapstructure:"enforce_playback_permission" yaml:"enforce_playback_permission"`

	JWTSecret        string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer        string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience      string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	JWTTTL           time.Duration `mapstructure:"jwt_ttl" yaml:"jwt_ttl"`
	TelegramBotToken string        `mapstructure:"telegram_bot_token" yaml:"telegram_bot_token"`

	LiveKit   LiveKitConfig   `mapstructure:"livekit" yaml:"livekit"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// LiveKitConfig configures the media relay token issuer.
type LiveKitConfig struct {
	Enabled   bool          `mapstructure:"enabled" yaml:"enabled"`
	URL       string        `mapstructure:"url" yaml:"url"`
	APIKey    string        `mapstructure:"api_key" yaml:"api_key"`
	APISecret string        `mapstructure:"api_secret" yaml:"api_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
}

// RateLimitConfig configures HTTP rate limiting. An empty RedisAddr keeps
// counters in process memory.
type RateLimitConfig struct {
	RoomCreatePerMinute int    `mapstructure:"room_create_per_minute" yaml:"room_create_per_minute"`
	RedisAddr           string `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword       string `mapstructure:"redis_password" yaml:"redis_password"`
	RedisDB             int    `mapstructure:"redis_db" yaml:"redis_db"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8000",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		LogFormat:         "console",
		DatabasePath:      "cinemate.db",

		IdleTimeout:       10 * time.Minute,
		SendBuffer:        64,
		HistoryLimit:      50,
		MaxMessageBytes:   64 << 10,
		MaxChatLength:     2000,
		ChatRatePerMinute: 60,

		JWTSecret:   "change-me",
		JWTIssuer:   "cinemate",
		JWTAudience: "cinemate",
		JWTTTL:      24 * time.Hour,

		LiveKit: LiveKitConfig{
			URL:      "ws://localhost:7880",
			TokenTTL: time.Hour,
		},
		RateLimit: RateLimitConfig{
			RoomCreatePerMinute: 30,
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
// Only the fields exposed as CLI flags are considered.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
}
