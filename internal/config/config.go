// Package config provides configuration management for bedsync.
// It loads configuration from environment variables with sensible defaults
// and validates it so the process refuses to start half-configured.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8000)
//   - BASE_URL: Public URL of this service; Withings calls BASE_URL/webhook (required)
//   - LOG_LEVEL: Logging level (default: INFO)
//   - LOG_FILE: Optional log file; stdout when unset
//
// Withings:
//   - WITHINGS_CLIENT_ID / WITHINGS_CLIENT_SECRET: OAuth client credentials (required)
//   - WITHINGS_AUTH_URL, WITHINGS_TOKEN_URL, WITHINGS_NOTIFY_URL, WITHINGS_SLEEP_URL: endpoint overrides
//   - WITHINGS_SCOPE: OAuth scope (default: user.sleepevents)
//
// Automation targets:
//   - BEDIN_URL / BEDOUT_URL: URLs receiving a GET on each transition (required)
//   - DISPATCH_TIMEOUT: Timeout for those calls (default: 5s)
//
// Token storage:
//   - TOKEN_STORE: file, redis, sqlite or postgres (default: file)
//   - TOKEN_FILE: Token file for the file store (default: ./tokens/withings_tokens.json)
//   - DATABASE_PATH: SQLite database file (default: ./bedsync.db)
//   - POSTGRES_DSN: PostgreSQL connection string
//   - REFRESH_INTERVAL: Proactive refresh tick (default: 60s)
//   - REFRESH_MARGIN: Refresh when less than this remains (default: 120s)
//
// Redis:
//   - REDIS_ADDRESS, REDIS_PASSWORD, REDIS_DB
//   - EVENTS_CHANNEL: Publish bed transitions to this pub/sub channel
//
// Polling:
//   - POLL_SCHEDULE: Cron spec for pulling sleep state, e.g. "@every 5m"; empty disables
//
// Inbound:
//   - RATE_LIMIT_RPS / RATE_LIMIT_BURST: Per-IP limit on /authorize and /webhook (default: 5 / 10; 0 disables)
//   - TLS_CERT_FILE / TLS_KEY_FILE: Serve HTTPS when both are set
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

const (
	DefaultAuthURL   = "https://account.withings.com/oauth2_user/authorize2"
	DefaultTokenURL  = "https://wbsapi.withings.net/v2/oauth2"
	DefaultNotifyURL = "https://wbsapi.withings.net/notify"
	DefaultSleepURL  = "https://wbsapi.withings.net/v2/sleep"
	DefaultScope     = "user.sleepevents"
)

// Token store backends
const (
	StoreFile     = "file"
	StoreRedis    = "redis"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config holds all configuration values for bedsync.
type Config struct {
	Port    string `validate:"required,numeric"`
	BaseURL string `validate:"required,url"`

	ClientID     string `validate:"required"`
	ClientSecret string `validate:"required"`
	AuthURL      string `validate:"required,url"`
	TokenURL     string `validate:"required,url"`
	NotifyURL    string `validate:"required,url"`
	SleepURL     string `validate:"required,url"`
	Scope        string `validate:"required"`

	BedInURL        string        `validate:"required,url"`
	BedOutURL       string        `validate:"required,url"`
	DispatchTimeout time.Duration `validate:"gt=0"`

	TokenStore      string        `validate:"oneof=file redis sqlite postgres"`
	TokenFile       string        `validate:"required_if=TokenStore file"`
	DatabasePath    string        `validate:"required_if=TokenStore sqlite"`
	PostgresDSN     string        `validate:"required_if=TokenStore postgres"`
	RefreshInterval time.Duration `validate:"gt=0"`
	RefreshMargin   time.Duration `validate:"gte=0"`

	RedisAddress  string
	RedisPassword string
	RedisDB       int `validate:"gte=0,lte=15"`
	EventsChannel string

	PollSchedule string

	RateLimitRPS   float64 `validate:"gte=0"`
	RateLimitBurst int     `validate:"gte=1"`

	TLSCertFile string `validate:"required_with=TLSKeyFile"`
	TLSKeyFile  string `validate:"required_with=TLSCertFile"`

	LogLevel string
	LogFile  string
}

// Load creates a new Config instance with values loaded from environment variables.
// Malformed durations and numbers fall back to their defaults; call Validate
// before use.
func Load() *Config {
	return &Config{
		Port:    getEnv("PORT", "8000"),
		BaseURL: strings.TrimRight(getEnv("BASE_URL", ""), "/"),

		ClientID:     getEnv("WITHINGS_CLIENT_ID", ""),
		ClientSecret: getEnv("WITHINGS_CLIENT_SECRET", ""),
		AuthURL:      getEnv("WITHINGS_AUTH_URL", DefaultAuthURL),
		TokenURL:     getEnv("WITHINGS_TOKEN_URL", DefaultTokenURL),
		NotifyURL:    getEnv("WITHINGS_NOTIFY_URL", DefaultNotifyURL),
		SleepURL:     getEnv("WITHINGS_SLEEP_URL", DefaultSleepURL),
		Scope:        getEnv("WITHINGS_SCOPE", DefaultScope),

		BedInURL:        getEnv("BEDIN_URL", ""),
		BedOutURL:       getEnv("BEDOUT_URL", ""),
		DispatchTimeout: getDurationEnv("DISPATCH_TIMEOUT", 5*time.Second),

		TokenStore:      strings.ToLower(getEnv("TOKEN_STORE", StoreFile)),
		TokenFile:       getEnv("TOKEN_FILE", "./tokens/withings_tokens.json"),
		DatabasePath:    getEnv("DATABASE_PATH", "./bedsync.db"),
		PostgresDSN:     getEnv("POSTGRES_DSN", ""),
		RefreshInterval: getDurationEnv("REFRESH_INTERVAL", time.Minute),
		RefreshMargin:   getDurationEnv("REFRESH_MARGIN", 120*time.Second),

		RedisAddress:  getEnv("REDIS_ADDRESS", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),
		EventsChannel: getEnv("EVENTS_CHANNEL", ""),

		PollSchedule: getEnv("POLL_SCHEDULE", ""),

		RateLimitRPS:   getFloatEnv("RATE_LIMIT_RPS", 5),
		RateLimitBurst: getIntEnv("RATE_LIMIT_BURST", 10),

		TLSCertFile: getEnv("TLS_CERT_FILE", ""),
		TLSKeyFile:  getEnv("TLS_KEY_FILE", ""),

		LogLevel: getEnv("LOG_LEVEL", "INFO"),
		LogFile:  getEnv("LOG_FILE", ""),
	}
}

// CallbackURL is the redirect URI and notification callback registered with Withings.
func (c *Config) CallbackURL() string {
	return c.BaseURL + "/webhook"
}

// Validate checks required fields, formats and cross-field dependencies.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			return fmt.Errorf("invalid configuration: %s failed %q check", verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	if c.TokenStore == StoreRedis && c.RedisAddress == "" {
		return fmt.Errorf("REDIS_ADDRESS is required when TOKEN_STORE=redis")
	}

	if c.EventsChannel != "" && c.RedisAddress == "" {
		return fmt.Errorf("REDIS_ADDRESS is required when EVENTS_CHANNEL is set")
	}

	if c.PollSchedule != "" {
		if _, err := cron.ParseStandard(c.PollSchedule); err != nil {
			return fmt.Errorf("POLL_SCHEDULE is not a valid cron spec: %w", err)
		}
	}

	return nil
}

// RedisEnabled reports whether any component needs a Redis connection.
func (c *Config) RedisEnabled() bool {
	return c.TokenStore == StoreRedis || c.EventsChannel != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getDurationEnv accepts Go durations ("90s") and bare seconds ("90").
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
