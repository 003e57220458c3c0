// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DB          DBConfig
	Auth        AuthConfig
	Chat        ChatConfig
	Reminder    ReminderConfig
	RateLimit   RateLimitConfig
	Timeout     TimeoutConfig
	Retry       RetryConfig
	// Timezone names the zone whose calendar days bound daily totals and streaks.
	Timezone string
	// TrackerTTL is how long an idle user's cached state is kept in memory.
	TrackerTTL time.Duration
}

// DBConfig selects the persistence backend.
type DBConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	Path   string `yaml:"path"`   // SQLite file path
	URL    string `yaml:"url"`    // Postgres DSN
}

// AuthConfig controls identity resolution.
type AuthConfig struct {
	JWTSecret        string
	CredentialSecret string
}

// ChatConfig controls the assistant bridge.
type ChatConfig struct {
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"-"`
	DefaultModel      string        `yaml:"default_model"`
	Temperature       float64       `yaml:"temperature"`
	MaxTokens         int           `yaml:"max_tokens"`
	HistoryTokenLimit int           `yaml:"history_token_limit"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
}

// ReminderConfig controls the hydration reminder cadence.
type ReminderConfig struct {
	DefaultInterval time.Duration `yaml:"default_interval"`
	Message         string        `yaml:"message"`
}

// RateLimitConfig controls per-user chat throttling.
type RateLimitConfig struct {
	RequestsPerWindow int           `yaml:"requests_per_window"`
	WindowDuration    time.Duration `yaml:"window"`
}

// TimeoutConfig groups operational timeouts.
type TimeoutConfig struct {
	HealthCheck time.Duration `yaml:"health_check"`
	Shutdown    time.Duration `yaml:"shutdown"`
	EventWrite  time.Duration `yaml:"event_write"`
}

// RetryConfig controls SQLite busy retries.
type RetryConfig struct {
	DatabaseMaxRetries     int           `yaml:"database_max_retries"`
	DatabaseRetryBaseDelay time.Duration `yaml:"database_retry_base_delay"`
}

// fileConfig is the optional YAML overlay. Environment variables win over it.
type fileConfig struct {
	Port        string          `yaml:"port"`
	FrontendURL string          `yaml:"frontend_url"`
	DB          DBConfig        `yaml:"db"`
	Chat        fileChatConfig  `yaml:"chat"`
	Reminder    ReminderConfig  `yaml:"reminder"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
	Timeout     TimeoutConfig   `yaml:"timeout"`
	Retry       RetryConfig     `yaml:"retry"`
	Timezone    string          `yaml:"timezone"`
	TrackerTTL  time.Duration   `yaml:"tracker_ttl"`
}

// fileChatConfig mirrors ChatConfig. Temperature is a pointer because 0 is a
// valid setting.
type fileChatConfig struct {
	BaseURL           string        `yaml:"base_url"`
	DefaultModel      string        `yaml:"default_model"`
	Temperature       *float64      `yaml:"temperature"`
	MaxTokens         int           `yaml:"max_tokens"`
	HistoryTokenLimit int           `yaml:"history_token_limit"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port: "8080",
		DB: DBConfig{
			Driver: "sqlite",
			Path:   "./data/hydraflow.db",
		},
		Chat: ChatConfig{
			BaseURL:           "https://api.openai.com/v1/",
			DefaultModel:      "gpt-4o-mini",
			Temperature:       0.5,
			MaxTokens:         500,
			HistoryTokenLimit: 3000,
			RequestTimeout:    60 * time.Second,
		},
		Reminder: ReminderConfig{
			DefaultInterval: time.Minute,
			Message:         "Time to hydrate! Take a sip of water 💧",
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: 10,
			WindowDuration:    time.Minute,
		},
		Timeout: TimeoutConfig{
			HealthCheck: 5 * time.Second,
			Shutdown:    10 * time.Second,
			EventWrite:  5 * time.Second,
		},
		Retry: RetryConfig{
			DatabaseMaxRetries:     3,
			DatabaseRetryBaseDelay: 50 * time.Millisecond,
		},
		TrackerTTL: 2 * time.Hour,
	}
}

// Load reads configuration from an optional YAML file (CONFIG_FILE) and
// environment variables.
func Load() (*Config, error) {
	cfg := Default()

	if path := getEnv("CONFIG_FILE", ""); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.FrontendURL = getEnv("FRONTEND_URL", cfg.FrontendURL)
	cfg.DB.Driver = strings.ToLower(getEnv("DB_DRIVER", cfg.DB.Driver))
	cfg.DB.Path = getEnv("DB_PATH", cfg.DB.Path)
	cfg.DB.URL = getEnv("DATABASE_URL", cfg.DB.URL)
	cfg.Auth.JWTSecret = getEnv("JWT_SECRET", "")
	cfg.Auth.CredentialSecret = getEnv("CREDENTIAL_SECRET", "")
	cfg.Chat.BaseURL = getEnv("OPENAI_BASE_URL", cfg.Chat.BaseURL)
	cfg.Chat.APIKey = getEnv("OPENAI_API_KEY", "")
	cfg.Chat.DefaultModel = getEnv("CHAT_MODEL", cfg.Chat.DefaultModel)
	cfg.Chat.Temperature = getEnvFloat("CHAT_TEMPERATURE", cfg.Chat.Temperature)
	cfg.Chat.MaxTokens = getEnvInt("CHAT_MAX_TOKENS", cfg.Chat.MaxTokens)
	cfg.Chat.HistoryTokenLimit = getEnvInt("CHAT_HISTORY_TOKEN_LIMIT", cfg.Chat.HistoryTokenLimit)
	cfg.Chat.RequestTimeout = getEnvDuration("CHAT_REQUEST_TIMEOUT", cfg.Chat.RequestTimeout)
	cfg.Reminder.DefaultInterval = getEnvDuration("REMINDER_DEFAULT_INTERVAL", cfg.Reminder.DefaultInterval)
	cfg.RateLimit.RequestsPerWindow = getEnvInt("CHAT_RATE_LIMIT", cfg.RateLimit.RequestsPerWindow)
	cfg.RateLimit.WindowDuration = getEnvDuration("CHAT_RATE_WINDOW", cfg.RateLimit.WindowDuration)
	cfg.Timezone = getEnv("TIMEZONE", cfg.Timezone)
	cfg.TrackerTTL = getEnvDuration("TRACKER_TTL", cfg.TrackerTTL)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if fc.Port != "" {
		c.Port = fc.Port
	}
	if fc.FrontendURL != "" {
		c.FrontendURL = fc.FrontendURL
	}
	if fc.DB.Driver != "" {
		c.DB.Driver = fc.DB.Driver
	}
	if fc.DB.Path != "" {
		c.DB.Path = fc.DB.Path
	}
	if fc.DB.URL != "" {
		c.DB.URL = fc.DB.URL
	}
	if fc.Chat.BaseURL != "" {
		c.Chat.BaseURL = fc.Chat.BaseURL
	}
	if fc.Chat.DefaultModel != "" {
		c.Chat.DefaultModel = fc.Chat.DefaultModel
	}
	if fc.Chat.Temperature != nil {
		c.Chat.Temperature = *fc.Chat.Temperature
	}
	if fc.Chat.MaxTokens > 0 {
		c.Chat.MaxTokens = fc.Chat.MaxTokens
	}
	if fc.Chat.HistoryTokenLimit > 0 {
		c.Chat.HistoryTokenLimit = fc.Chat.HistoryTokenLimit
	}
	if fc.Chat.RequestTimeout > 0 {
		c.Chat.RequestTimeout = fc.Chat.RequestTimeout
	}
	if fc.Reminder.DefaultInterval > 0 {
		c.Reminder.DefaultInterval = fc.Reminder.DefaultInterval
	}
	if fc.Reminder.Message != "" {
		c.Reminder.Message = fc.Reminder.Message
	}
	if fc.RateLimit.RequestsPerWindow > 0 {
		c.RateLimit.RequestsPerWindow = fc.RateLimit.RequestsPerWindow
	}
	if fc.RateLimit.WindowDuration > 0 {
		c.RateLimit.WindowDuration = fc.RateLimit.WindowDuration
	}
	if fc.Timeout.HealthCheck > 0 {
		c.Timeout.HealthCheck = fc.Timeout.HealthCheck
	}
	if fc.Timeout.Shutdown > 0 {
		c.Timeout.Shutdown = fc.Timeout.Shutdown
	}
	if fc.Timeout.EventWrite > 0 {
		c.Timeout.EventWrite = fc.Timeout.EventWrite
	}
	if fc.Retry.DatabaseMaxRetries > 0 {
		c.Retry.DatabaseMaxRetries = fc.Retry.DatabaseMaxRetries
	}
	if fc.Retry.DatabaseRetryBaseDelay > 0 {
		c.Retry.DatabaseRetryBaseDelay = fc.Retry.DatabaseRetryBaseDelay
	}
	if fc.Timezone != "" {
		c.Timezone = fc.Timezone
	}
	if fc.TrackerTTL > 0 {
		c.TrackerTTL = fc.TrackerTTL
	}
	return nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	switch c.DB.Driver {
	case "sqlite":
		if c.DB.Path == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case "postgres":
		if c.DB.URL == "" {
			return fmt.Errorf("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DB.Driver)
	}
	if c.Chat.BaseURL == "" {
		return fmt.Errorf("OPENAI_BASE_URL cannot be empty")
	}
	if c.Chat.DefaultModel == "" {
		return fmt.Errorf("CHAT_MODEL cannot be empty")
	}
	if c.Chat.Temperature < 0 || c.Chat.Temperature > 2 {
		return fmt.Errorf("CHAT_TEMPERATURE must be within [0, 2]")
	}
	if c.Chat.MaxTokens <= 0 {
		return fmt.Errorf("CHAT_MAX_TOKENS must be > 0")
	}
	if c.Reminder.DefaultInterval <= 0 {
		return fmt.Errorf("REMINDER_DEFAULT_INTERVAL must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("CHAT_RATE_LIMIT must be > 0")
	}
	if c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("CHAT_RATE_WINDOW must be > 0")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid TIMEZONE: %w", err)
	}
	return nil
}

// Location resolves Timezone. An empty value means the server's local zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
