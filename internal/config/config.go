// Package config loads runtime settings from the environment and an optional
// .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Notifier backends.
const (
	NotifierLog     = "log"
	NotifierWebhook = "webhook"
	NotifierRedis   = "redis"
)

// Monitor lock modes.
const (
	LockNone   = "none"
	LockMemory = "memory"
	LockRedis  = "redis"
)

// Config holds application configuration.
type Config struct {
	Environment string
	LogLevel    string
	Port        int
	Timezone    string

	Store       string
	DatabaseURL string

	MonitorInterval time.Duration
	MonitorLock     string
	LockTTL         time.Duration

	Notifier          string
	WebhookURL        string
	WebhookToken      string
	WebhookTimeout    time.Duration
	WebhookMaxRetries int
	WebhookRetryDelay time.Duration

	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	NotificationQueue string

	PropertyName    string
	PropertyAddress string
	PropertyPhone   string

	DefaultEmail     string
	ManagementEmail  string
	ManagerEmail     string
	CollectionsEmail string

	SeedDemo bool
}

// Load loads configuration from environment variables and .env file.
func Load() *Config {
	_ = godotenv.Load()

	store := strings.ToLower(getenv("STORE", StoreSQLite))
	dsn := getenv("DATABASE_URL", "")
	if dsn == "" && store == StoreSQLite {
		dsn = "file:lifecycle.db?_pragma=foreign_keys(1)"
	}

	return &Config{
		Environment: getenv("ENVIRONMENT", "development"),
		LogLevel:    getenv("LOG_LEVEL", "info"),
		Port:        getenvInt("PORT", 8080),
		Timezone:    getenv("TIMEZONE", "UTC"),

		Store:       store,
		DatabaseURL: dsn,

		MonitorInterval: getenvDuration("MONITOR_INTERVAL", time.Minute),
		MonitorLock:     strings.ToLower(getenv("MONITOR_LOCK", LockMemory)),
		LockTTL:         getenvDuration("MONITOR_LOCK_TTL", 5*time.Minute),

		Notifier:          strings.ToLower(getenv("NOTIFIER", NotifierLog)),
		WebhookURL:        strings.TrimSpace(getenv("NOTIFY_WEBHOOK_URL", "")),
		WebhookToken:      strings.TrimSpace(getenv("NOTIFY_WEBHOOK_TOKEN", "")),
		WebhookTimeout:    getenvDuration("NOTIFY_WEBHOOK_TIMEOUT", 10*time.Second),
		WebhookMaxRetries: getenvInt("NOTIFY_WEBHOOK_MAX_RETRIES", 3),
		WebhookRetryDelay: getenvDuration("NOTIFY_WEBHOOK_RETRY_DELAY", 500*time.Millisecond),

		RedisAddr:         getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     getenv("REDIS_PASSWORD", ""),
		RedisDB:           getenvInt("REDIS_DB", 0),
		NotificationQueue: getenv("NOTIFY_QUEUE_KEY", "lifecycle:notifications"),

		PropertyName:    getenv("PROPERTY_NAME", "Maple Court Apartments"),
		PropertyAddress: getenv("PROPERTY_ADDRESS", "100 Maple Court"),
		PropertyPhone:   getenv("PROPERTY_PHONE", "555-0100"),

		DefaultEmail:     getenv("NOTIFY_DEFAULT_EMAIL", "noreply@property.local"),
		ManagementEmail:  getenv("NOTIFY_MANAGEMENT_EMAIL", "management@property.local"),
		ManagerEmail:     getenv("NOTIFY_MANAGER_EMAIL", "manager@property.local"),
		CollectionsEmail: getenv("NOTIFY_COLLECTIONS_EMAIL", "collections@property.local"),

		SeedDemo: getenvBool("SEED_DEMO", false),
	}
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.Store {
	case StoreSQLite, StorePostgres, StoreMemory:
	default:
		return fmt.Errorf("unknown STORE %q", c.Store)
	}
	if c.Store == StorePostgres && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for the postgres store")
	}
	switch c.Notifier {
	case NotifierLog, NotifierRedis:
	case NotifierWebhook:
		if c.WebhookURL == "" {
			return fmt.Errorf("NOTIFY_WEBHOOK_URL is required for the webhook notifier")
		}
	default:
		return fmt.Errorf("unknown NOTIFIER %q", c.Notifier)
	}
	switch c.MonitorLock {
	case LockNone, LockMemory, LockRedis:
	default:
		return fmt.Errorf("unknown MONITOR_LOCK %q", c.MonitorLock)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	return nil
}

// Location returns the configured time zone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// UsesRedis reports whether any component needs a Redis client.
func (c *Config) UsesRedis() bool {
	return c.Notifier == NotifierRedis || c.MonitorLock == LockRedis
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

// getenvDuration accepts Go durations ("90s") or a bare number of seconds.
func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return def
}
