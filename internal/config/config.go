// Package config handles loading and validating the hearth configuration.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config is the root configuration for the hearth daemon.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Transports  TransportsConfig  `mapstructure:"transports"`
	Interpreter InterpreterConfig `mapstructure:"interpreter"`
	Platform    PlatformConfig    `mapstructure:"platform"`
	Inventory   InventoryConfig   `mapstructure:"inventory"`
	Rooms       RoomsConfig       `mapstructure:"rooms"`
	Refine      RefineConfig      `mapstructure:"refine"`
	Confirm     ConfirmConfig     `mapstructure:"confirm"`
	Redis       RedisConfig       `mapstructure:"redis"`
	History     HistoryConfig     `mapstructure:"history"`
	Music       MusicConfig       `mapstructure:"music"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig holds the health check server settings.
type ServerConfig struct {
	HealthPort int `mapstructure:"health_port" validate:"min=1,max=65535"`
}

// TransportsConfig holds the configuration for each ingress transport.
type TransportsConfig struct {
	GRPC GRPCConfig `mapstructure:"grpc"`
	HTTP HTTPConfig `mapstructure:"http"`
}

// GRPCConfig configures the gRPC transport.
type GRPCConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port" validate:"min=1,max=65535"`
}

// HTTPConfig configures the HTTP/WebSocket transport.
type HTTPConfig struct {
	Enabled   bool            `mapstructure:"enabled"`
	Port      int             `mapstructure:"port" validate:"min=1,max=65535"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig bounds how often a single source device may send commands.
// A zero RPS disables limiting.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps" validate:"min=0"`
	Burst int     `mapstructure:"burst" validate:"min=0"`
}

// InterpreterConfig selects and configures the LLM backend.
type InterpreterConfig struct {
	Backend      string        `mapstructure:"backend" validate:"oneof=openai"`
	OpenAI       OpenAIConfig  `mapstructure:"openai"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff" validate:"min=0"`
	ContextTurns int           `mapstructure:"context_turns" validate:"min=0"`
}

// OpenAIConfig holds settings for OpenAI or any OpenAI-compatible server
// (Ollama, vLLM, LM Studio) reachable through BaseURL.
type OpenAIConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model" validate:"required"`
	Temperature float32       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// PlatformConfig selects the home automation platform devices are controlled through.
type PlatformConfig struct {
	Backend       string              `mapstructure:"backend" validate:"oneof=homeassistant static"`
	HomeAssistant HomeAssistantConfig `mapstructure:"homeassistant"`
	Static        StaticConfig        `mapstructure:"static"`
}

// HomeAssistantConfig holds Home Assistant REST API settings.
type HomeAssistantConfig struct {
	URL     string        `mapstructure:"url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// StaticConfig points at a YAML inventory file used instead of a live platform.
type StaticConfig struct {
	Path string `mapstructure:"path"`
}

// InventoryConfig controls how often the device snapshot is rebuilt.
type InventoryConfig struct {
	RefreshInterval time.Duration `mapstructure:"refresh_interval" validate:"min=0"`
	MaxAge          time.Duration `mapstructure:"max_age" validate:"min=0"`
}

// RoomsConfig maps source device ids (satellites, phones, panels) to rooms.
// Entries here take precedence over whatever the platform reports.
type RoomsConfig struct {
	Sources map[string]string `mapstructure:"sources"`
}

// RefineConfig tunes entity candidate ranking.
type RefineConfig struct {
	MaxCandidates int     `mapstructure:"max_candidates" validate:"min=1"`
	TieMargin     float64 `mapstructure:"tie_margin" validate:"min=0"`
}

// ConfirmConfig controls when and how long confirmations are held.
type ConfirmConfig struct {
	Store             string        `mapstructure:"store" validate:"oneof=memory redis"`
	Timeout           time.Duration `mapstructure:"timeout" validate:"gt=0"`
	MaxReprompts      int           `mapstructure:"max_reprompts" validate:"min=0"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval" validate:"gt=0"`
	HighImpactActions []string      `mapstructure:"high_impact_actions"`
	Climate           ClimateConfig `mapstructure:"climate"`
}

// ClimateConfig defines the thermostat range that can be set without confirmation.
type ClimateConfig struct {
	Min      float64 `mapstructure:"min"`
	Max      float64 `mapstructure:"max"`
	MaxDelta float64 `mapstructure:"max_delta" validate:"min=0"`
}

// RedisConfig holds the connection used by the redis confirmation store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// HistoryConfig selects where the command history is persisted.
type HistoryConfig struct {
	Backend string `mapstructure:"backend" validate:"oneof=json sqlite"`
	Path    string `mapstructure:"path" validate:"required"`
}

// MusicConfig enables music search for "play ..." requests.
type MusicConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Spotify SpotifyConfig `mapstructure:"spotify"`
}

// SpotifyConfig holds Spotify Web API client-credentials settings.
type SpotifyConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	Market       string `mapstructure:"market"`
	TokenURL     string `mapstructure:"token_url"`
	APIURL       string `mapstructure:"api_url"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string        `mapstructure:"level"`  // debug, info, warn, error
	Format string        `mapstructure:"format"` // json, text
	Output string        `mapstructure:"output"` // stdout, stderr
	File   LogFileConfig `mapstructure:"file"`
}

// LogFileConfig enables an additional rotating log file.
type LogFileConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Load reads the configuration from file, environment variables, and defaults.
// If configFile is non-empty it is used directly; otherwise the standard
// search order applies: ./hearth.yaml, ./configs/hearth.yaml, /etc/hearth/hearth.yaml.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Config file
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("hearth")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/hearth")
	}

	// Environment variables: HEARTH_SERVER_HEALTH_PORT, HEARTH_PLATFORM_HOMEASSISTANT_TOKEN, etc.
	v.SetEnvPrefix("HEARTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (optional, env vars and defaults are sufficient)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		slog.Info("no config file found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// Resolve env var references in sensitive fields (e.g., "${OPENAI_API_KEY}")
	cfg.Interpreter.OpenAI.APIKey = resolveEnvRef(cfg.Interpreter.OpenAI.APIKey)
	cfg.Platform.HomeAssistant.Token = resolveEnvRef(cfg.Platform.HomeAssistant.Token)
	cfg.Redis.Password = resolveEnvRef(cfg.Redis.Password)
	cfg.Music.Spotify.ClientID = resolveEnvRef(cfg.Music.Spotify.ClientID)
	cfg.Music.Spotify.ClientSecret = resolveEnvRef(cfg.Music.Spotify.ClientSecret)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.health_port", 8081)
	v.SetDefault("transports.grpc.enabled", false)
	v.SetDefault("transports.grpc.port", 50051)
	v.SetDefault("transports.http.enabled", true)
	v.SetDefault("transports.http.port", 8080)
	v.SetDefault("transports.http.rate_limit.rps", 2)
	v.SetDefault("transports.http.rate_limit.burst", 5)
	v.SetDefault("interpreter.backend", "openai")
	v.SetDefault("interpreter.openai.model", "gpt-4o-mini")
	v.SetDefault("interpreter.openai.temperature", 0.2)
	v.SetDefault("interpreter.openai.timeout", 20*time.Second)
	v.SetDefault("interpreter.retry_backoff", 500*time.Millisecond)
	v.SetDefault("interpreter.context_turns", 3)
	v.SetDefault("platform.backend", "homeassistant")
	v.SetDefault("platform.homeassistant.url", "http://homeassistant.local:8123")
	v.SetDefault("platform.homeassistant.timeout", 10*time.Second)
	v.SetDefault("platform.static.path", "inventory.yaml")
	v.SetDefault("inventory.refresh_interval", 5*time.Minute)
	v.SetDefault("inventory.max_age", 15*time.Minute)
	v.SetDefault("refine.max_candidates", 10)
	v.SetDefault("refine.tie_margin", 10)
	v.SetDefault("confirm.store", "memory")
	v.SetDefault("confirm.timeout", 300*time.Second)
	v.SetDefault("confirm.max_reprompts", 1)
	v.SetDefault("confirm.sweep_interval", 30*time.Second)
	v.SetDefault("confirm.climate.min", 16)
	v.SetDefault("confirm.climate.max", 26)
	v.SetDefault("confirm.climate.max_delta", 5)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.prefix", "hearth:confirm:")
	v.SetDefault("history.backend", "json")
	v.SetDefault("history.path", "hearth_history.json")
	v.SetDefault("music.enabled", false)
	v.SetDefault("music.spotify.market", "US")
	v.SetDefault("music.spotify.token_url", "https://accounts.spotify.com/api/token")
	v.SetDefault("music.spotify.api_url", "https://api.spotify.com/v1")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.file.path", "hearth.log")
	v.SetDefault("logging.file.max_size_mb", 10)
	v.SetDefault("logging.file.max_backups", 3)
	v.SetDefault("logging.file.max_age_days", 28)
}

// Validate checks field constraints declared on the config structs.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Confirm.Climate.Min > c.Confirm.Climate.Max {
		return fmt.Errorf("invalid config: confirm.climate.min %.1f exceeds max %.1f",
			c.Confirm.Climate.Min, c.Confirm.Climate.Max)
	}
	return nil
}

// resolveEnvRef replaces "${VAR_NAME}" patterns with the corresponding env var value.
func resolveEnvRef(val string) string {
	if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
		envKey := val[2 : len(val)-1]
		if envVal := os.Getenv(envKey); envVal != "" {
			return envVal
		}
	}
	return val
}

// SetupLogging configures the global slog logger based on config.
func SetupLogging(cfg LoggingConfig) {
	slog.SetDefault(slog.New(NewLogHandler(cfg)))
}

// NewLogHandler builds the slog handler described by cfg. When a log file is
// enabled, records go to both the console stream and the rotating file.
func NewLogHandler(cfg LoggingConfig) slog.Handler {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var out io.Writer = os.Stdout
	if strings.ToLower(cfg.Output) == "stderr" {
		out = os.Stderr
	}
	if cfg.File.Enabled && cfg.File.Path != "" {
		out = io.MultiWriter(out, &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.MaxSizeMB,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAgeDays,
			Compress:   cfg.File.Compress,
		})
	}

	if strings.ToLower(cfg.Format) == "text" {
		return slog.NewTextHandler(out, opts)
	}
	return slog.NewJSONHandler(out, opts)
}
