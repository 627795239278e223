package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	API                APIConfig                `mapstructure:"api"`
	Breaker            BreakerConfig            `mapstructure:"breaker"`
	Storage            StorageConfig            `mapstructure:"storage"`
	Push               PushConfig               `mapstructure:"push"`
	Server             ServerConfig             `mapstructure:"server"`
	Auth               AuthConfig               `mapstructure:"auth"`
	VAPID              VAPIDConfig              `mapstructure:"vapid"`
	CORS               CORSConfig               `mapstructure:"cors"`
	RateLimit          RateLimitConfig          `mapstructure:"rate_limit"`
	Redis              RedisConfig              `mapstructure:"redis"`
	Supabase           SupabaseConfig           `mapstructure:"supabase"`
	Queue              QueueConfig              `mapstructure:"queue"`
	RecipientRateLimit RecipientRateLimitConfig `mapstructure:"recipient_rate_limit"`
	Log                LogConfig                `mapstructure:"log"`
}

// APIConfig holds client-side backend settings.
type APIConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	Origin     string `mapstructure:"origin"`
	TimeoutSec int    `mapstructure:"timeout_sec"`
}

// Timeout returns the per-call timeout.
func (c APIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// BreakerConfig holds circuit breaker thresholds.
type BreakerConfig struct {
	LocalOpenThreshold      int `mapstructure:"local_open_threshold"`
	LocalCooldownThreshold  int `mapstructure:"local_cooldown_threshold"`
	GlobalOpenThreshold     int `mapstructure:"global_open_threshold"`
	GlobalCooldownThreshold int `mapstructure:"global_cooldown_threshold"`
	CooldownSec             int `mapstructure:"cooldown_sec"`
}

// StorageConfig selects where client state is persisted.
type StorageConfig struct {
	Backend string `mapstructure:"backend"` // file, redis or memory
	Dir     string `mapstructure:"dir"`
}

// PushConfig holds push and notification display settings.
type PushConfig struct {
	ServiceWorkerURL     string `mapstructure:"service_worker_url"`
	Scope                string `mapstructure:"scope"`
	AppName              string `mapstructure:"app_name"`
	DefaultIcon          string `mapstructure:"default_icon"`
	DefaultBadge         string `mapstructure:"default_badge"`
	DefaultRoute         string `mapstructure:"default_route"`
	ReconcileIntervalSec int    `mapstructure:"reconcile_interval_sec"`
	EndpointBase         string `mapstructure:"endpoint_base"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// AuthConfig holds sandbox token settings.
type AuthConfig struct {
	JWTSecret     string `mapstructure:"jwt_secret"`
	AccessTTLSec  int    `mapstructure:"access_ttl_sec"`
	RefreshTTLSec int    `mapstructure:"refresh_ttl_sec"`
}

// VAPIDConfig holds the application server key advertised to clients.
type VAPIDConfig struct {
	PublicKey string `mapstructure:"public_key"`
}

// CORSConfig holds CORS policy settings.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

// RateLimitConfig holds rate limiting settings.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SupabaseConfig holds Supabase project settings. An empty URL selects the
// in-memory subscription store.
type SupabaseConfig struct {
	URL        string `mapstructure:"url"`
	ServiceKey string `mapstructure:"service_key"`
}

// QueueConfig holds async queue settings.
type QueueConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	MaxRetry    int `mapstructure:"max_retry"`
}

// RecipientRateLimitConfig caps test pushes per user.
type RecipientRateLimitConfig struct {
	MaxPerHour int `mapstructure:"max_per_hour"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// SlogLevel parses Level, falling back to info.
func (c LogConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Load reads configuration from config.yaml and environment variables.
// Environment variables use the LEADWIRE_ prefix and underscore separators.
// Example: LEADWIRE_API_BASE_URL overrides api.base_url in config.yaml.
func Load() (*Config, error) {
	v := viper.New()

	// Config file settings
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	// Load .env file if it exists
	_ = godotenv.Load()

	// Environment variable settings
	v.SetEnvPrefix("LEADWIRE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional, env vars can provide everything)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Comma-separated lists from env vars
	cfg.CORS.AllowedOrigins = splitList(cfg.CORS.AllowedOrigins)
	cfg.CORS.AllowedMethods = splitList(cfg.CORS.AllowedMethods)
	cfg.CORS.AllowedHeaders = splitList(cfg.CORS.AllowedHeaders)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "http://localhost:8081")
	v.SetDefault("api.origin", "http://localhost:3000")
	v.SetDefault("api.timeout_sec", 10)

	v.SetDefault("breaker.local_open_threshold", 2)
	v.SetDefault("breaker.local_cooldown_threshold", 3)
	v.SetDefault("breaker.global_open_threshold", 3)
	v.SetDefault("breaker.global_cooldown_threshold", 5)
	v.SetDefault("breaker.cooldown_sec", 30)

	v.SetDefault("storage.backend", "file")
	v.SetDefault("storage.dir", ".leadwire")

	v.SetDefault("push.service_worker_url", "/sw.js")
	v.SetDefault("push.scope", "/")
	v.SetDefault("push.app_name", "Leadwire")
	v.SetDefault("push.default_icon", "/icons/icon-192.png")
	v.SetDefault("push.default_badge", "/icons/badge-72.png")
	v.SetDefault("push.default_route", "/")
	v.SetDefault("push.reconcile_interval_sec", 60)
	v.SetDefault("push.endpoint_base", "https://push.leadwire.local/send")

	v.SetDefault("server.port", 8081)
	v.SetDefault("server.mode", "debug")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.access_ttl_sec", 900)     // 15 minutes
	v.SetDefault("auth.refresh_ttl_sec", 604800) // 7 days

	v.SetDefault("vapid.public_key", "")

	v.SetDefault("cors.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Authorization", "Content-Type", "X-Request-ID"})

	v.SetDefault("rate_limit.requests_per_second", 10)
	v.SetDefault("rate_limit.burst", 20)

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("supabase.url", "")
	v.SetDefault("supabase.service_key", "")

	v.SetDefault("queue.concurrency", 10)
	v.SetDefault("queue.max_retry", 5)

	v.SetDefault("recipient_rate_limit.max_per_hour", 10)

	v.SetDefault("log.level", "info")
}

// splitList normalizes list values that arrived as one comma-separated string.
func splitList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case "file", "redis", "memory":
	default:
		return fmt.Errorf("storage.backend must be file, redis or memory, got %q", c.Storage.Backend)
	}
	if c.API.TimeoutSec <= 0 {
		return fmt.Errorf("api.timeout_sec must be positive")
	}
	if c.Breaker.LocalCooldownThreshold < c.Breaker.LocalOpenThreshold ||
		c.Breaker.GlobalCooldownThreshold < c.Breaker.GlobalOpenThreshold {
		return fmt.Errorf("breaker cooldown thresholds must not be below open thresholds")
	}
	return nil
}
