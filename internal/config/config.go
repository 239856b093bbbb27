// Package config provides application configuration management using environment variables.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig
	Discord  DiscordConfig
	Gateway  GatewayConfig
	Voice    VoiceConfig
	Database DatabaseConfig
	Logging  LoggingConfig
}

// ServerConfig holds the operational HTTP and gRPC listeners
type ServerConfig struct {
	HTTPPort string `env:"HTTP_PORT" envDefault:"8080"`
	GRPCPort string `env:"GRPC_PORT" envDefault:"50051"`
	Host     string `env:"SERVER_HOST" envDefault:"localhost"`
	Env      string `env:"ENVIRONMENT" envDefault:"development"`
}

// DiscordConfig holds Discord credentials and the REST endpoint
type DiscordConfig struct {
	BotToken     string   `env:"DISCORD_BOT_TOKEN"`
	ClientID     string   `env:"DISCORD_CLIENT_ID"`
	ClientSecret string   `env:"DISCORD_CLIENT_SECRET"`
	APIBaseURL   string   `env:"DISCORD_API_BASE_URL" envDefault:"https://discord.com/api/v10"`
	TokenURL     string   `env:"DISCORD_TOKEN_URL"`
	Scopes       []string `env:"DISCORD_OAUTH_SCOPES" envDefault:"identify" envSeparator:" "`
}

// UsesClientCredentials reports whether REST calls authenticate with an
// OAuth2 bearer token instead of the bot token.
func (d DiscordConfig) UsesClientCredentials() bool {
	return d.ClientID != "" && d.ClientSecret != ""
}

// GatewayConfig holds the gateway connection and sharding settings
type GatewayConfig struct {
	URL                string        `env:"DISCORD_GATEWAY_URL"`
	Version            int           `env:"GATEWAY_VERSION" envDefault:"10"`
	Intents            int           `env:"GATEWAY_INTENTS" envDefault:"641"`
	Compress           bool          `env:"GATEWAY_COMPRESS" envDefault:"true"`
	LargeThreshold     int           `env:"GATEWAY_LARGE_THRESHOLD" envDefault:"250"`
	ShardCount         int           `env:"SHARD_COUNT" envDefault:"0"`
	ShardIDs           []int         `env:"SHARD_IDS" envSeparator:","`
	MaxRetries         int           `env:"RECONNECT_MAX_RETRIES" envDefault:"0"`
	InitialBackoff     time.Duration `env:"RECONNECT_INITIAL_INTERVAL" envDefault:"1s"`
	MaxBackoff         time.Duration `env:"RECONNECT_MAX_INTERVAL" envDefault:"2m"`
	NotificationBuffer int           `env:"NOTIFICATION_BUFFER" envDefault:"256"`
}

// VoiceConfig holds voice connection settings
type VoiceConfig struct {
	HandshakeTimeout time.Duration `env:"VOICE_HANDSHAKE_TIMEOUT" envDefault:"10s"`
}

// DatabaseConfig holds database connection configuration. The database only
// persists shard sessions and is optional.
type DatabaseConfig struct {
	Enabled        bool          `env:"DB_ENABLED" envDefault:"false"`
	Host           string        `env:"DB_HOST" envDefault:"localhost"`
	Port           string        `env:"DB_PORT" envDefault:"5432"`
	User           string        `env:"DB_USER" envDefault:"discordlite"`
	Password       string        `env:"DB_PASSWORD"`
	Name           string        `env:"DB_NAME" envDefault:"discordlite_gateway"`
	SSLMode        string        `env:"DB_SSLMODE" envDefault:"disable"`
	MaxOpenConns   int           `env:"DB_MAX_OPEN_CONNS" envDefault:"10"`
	MaxIdleConns   int           `env:"DB_MAX_IDLE_CONNS" envDefault:"2"`
	MigrationsPath string        `env:"DB_MIGRATIONS_PATH" envDefault:"internal/database/migrations"`
	SessionTTL     time.Duration `env:"SESSION_TTL" envDefault:"5m"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load loads configuration from environment variables.
// It optionally loads the given .env files (default .env) when they exist.
func Load(envFiles ...string) (*Config, error) {
	// Missing .env files are not an error
	_ = godotenv.Load(envFiles...)

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate Discord Config
	if c.Discord.BotToken == "" {
		return fmt.Errorf("DISCORD_BOT_TOKEN is required")
	}
	if (c.Discord.ClientID == "") != (c.Discord.ClientSecret == "") {
		return fmt.Errorf("DISCORD_CLIENT_ID and DISCORD_CLIENT_SECRET must be set together")
	}

	// Validate Gateway Config
	if c.Gateway.Version <= 0 {
		return fmt.Errorf("GATEWAY_VERSION must be positive")
	}
	if c.Gateway.Intents < 0 {
		return fmt.Errorf("GATEWAY_INTENTS must not be negative")
	}
	if c.Gateway.LargeThreshold < 50 || c.Gateway.LargeThreshold > 250 {
		return fmt.Errorf("GATEWAY_LARGE_THRESHOLD must be between 50 and 250")
	}
	if c.Gateway.ShardCount < 0 {
		return fmt.Errorf("SHARD_COUNT must not be negative")
	}
	if err := c.validateShardIDs(); err != nil {
		return err
	}
	if c.Gateway.MaxRetries < 0 {
		return fmt.Errorf("RECONNECT_MAX_RETRIES must not be negative")
	}
	if c.Gateway.InitialBackoff <= 0 || c.Gateway.MaxBackoff < c.Gateway.InitialBackoff {
		return fmt.Errorf("RECONNECT_INITIAL_INTERVAL must be positive and not exceed RECONNECT_MAX_INTERVAL")
	}
	if c.Gateway.NotificationBuffer <= 0 {
		return fmt.Errorf("NOTIFICATION_BUFFER must be positive")
	}

	if c.Voice.HandshakeTimeout <= 0 {
		return fmt.Errorf("VOICE_HANDSHAKE_TIMEOUT must be positive")
	}

	// Validate Database Config
	if c.Database.Enabled {
		if c.Database.User == "" {
			return fmt.Errorf("DB_USER is required")
		}
		if c.Database.Password == "" {
			return fmt.Errorf("DB_PASSWORD is required")
		}
		if c.Database.Name == "" {
			return fmt.Errorf("DB_NAME is required")
		}
		if c.Database.SessionTTL <= 0 {
			return fmt.Errorf("SESSION_TTL must be positive")
		}
	}

	// Validate Logging Config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error")
	}
	validLogFormats := map[string]bool{"json": true, "console": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, console")
	}

	return nil
}

var errShardIDs = errors.New("invalid SHARD_IDS")

func (c *Config) validateShardIDs() error {
	if len(c.Gateway.ShardIDs) == 0 {
		return nil
	}
	if c.Gateway.ShardCount == 0 {
		return fmt.Errorf("%w: SHARD_COUNT is required when SHARD_IDS is set", errShardIDs)
	}
	seen := make(map[int]bool, len(c.Gateway.ShardIDs))
	for _, id := range c.Gateway.ShardIDs {
		if id < 0 || id >= c.Gateway.ShardCount {
			return fmt.Errorf("%w: shard %d is outside [0, %d)", errShardIDs, id, c.Gateway.ShardCount)
		}
		if seen[id] {
			return fmt.Errorf("%w: shard %d is listed twice", errShardIDs, id)
		}
		seen[id] = true
	}
	return nil
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}
