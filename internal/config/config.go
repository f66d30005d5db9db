package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"wemeet/internal/models"
)

// Config holds the application configuration
type Config struct {
	Service  ServiceConfig
	Telegram TelegramConfig
	Groups   GroupsConfig
	NATS     NATSConfig
	Dedup    DedupConfig
	Events   EventsConfig
	Auth     AuthConfig
	Logging  LoggingConfig
}

// ServiceConfig holds service-level configuration
type ServiceConfig struct {
	Name    string
	Version string
	Port    int
}

// TelegramConfig holds the chat-platform transport configuration
type TelegramConfig struct {
	Token       string
	WebhookPath string
}

// GroupsConfig holds the static authorized-group allow-list
type GroupsConfig struct {
	Authorized []string // uppercase group names
}

// NATSConfig holds the durable store configuration
type NATSConfig struct {
	Embedded      bool
	ServerURL     string
	DataDir       string
	GroupsBucket  string
	MembersBucket string
	StartTimeout  string
}

// DedupConfig holds the webhook duplicate-delivery cache configuration
type DedupConfig struct {
	MaxCost     int64 // Ristretto: maximum memory cost in bytes
	NumCounters int64 // Ristretto: number of counters for TinyLFU
	BufferItems int64 // Ristretto: buffer size for async operations
	TTL         string
}

// EventsConfig holds inbound event policy
type EventsConfig struct {
	MaxAge string // events older than this are dropped before any mutation
}

// AuthConfig holds the ops-surface authentication configuration. When the
// secret is empty the protected introspection endpoint is not registered.
type AuthConfig struct {
	JWTSecret string
	JWTIssuer string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// Load loads configuration from environment variables with defaults
func Load() (*Config, error) {
	config := &Config{
		Service: ServiceConfig{
			Name:    getEnvOrDefault("SERVICE_NAME", "wemeet-bot"),
			Version: getEnvOrDefault("SERVICE_VERSION", "v1"),
			Port:    getEnvIntOrDefault("SERVICE_PORT", 8080),
		},
		Telegram: TelegramConfig{
			Token:       os.Getenv("TELEGRAM_TOKEN"),
			WebhookPath: getEnvOrDefault("TELEGRAM_WEBHOOK_PATH", "/webhook"),
		},
		Groups: GroupsConfig{
			Authorized: parseGroupList(os.Getenv("AUTHORIZED_GROUPS")),
		},
		NATS: NATSConfig{
			Embedded:      getEnvBoolOrDefault("NATS_EMBEDDED", true),
			ServerURL:     getEnvOrDefault("NATS_SERVER_URL", ""),
			DataDir:       getEnvOrDefault("NATS_DATA_DIR", "./nats-data"),
			GroupsBucket:  getEnvOrDefault("NATS_GROUPS_BUCKET", "wemeet_groups"),
			MembersBucket: getEnvOrDefault("NATS_MEMBERS_BUCKET", "wemeet_members"),
			StartTimeout:  getEnvOrDefault("NATS_START_TIMEOUT", "30s"),
		},
		Dedup: DedupConfig{
			MaxCost:     getEnvInt64OrDefault("DEDUP_MAX_COST", 1<<20),
			NumCounters: getEnvInt64OrDefault("DEDUP_NUM_COUNTERS", 100000),
			BufferItems: getEnvInt64OrDefault("DEDUP_BUFFER_ITEMS", 64),
			TTL:         getEnvOrDefault("DEDUP_TTL", "60s"),
		},
		Events: EventsConfig{
			MaxAge: getEnvOrDefault("EVENT_MAX_AGE", "10s"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnvOrDefault("JWT_SECRET", ""),
			JWTIssuer: getEnvOrDefault("JWT_ISSUER", "wemeet-bot"),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "text"),
		},
	}

	if config.Telegram.Token == "" {
		return nil, fmt.Errorf("TELEGRAM_TOKEN environment variable is required")
	}
	if len(config.Groups.Authorized) == 0 {
		return nil, fmt.Errorf("AUTHORIZED_GROUPS environment variable is required")
	}

	return config, nil
}

// parseGroupList splits a comma-separated, case-insensitive list of group
// names into canonical uppercase form
func parseGroupList(raw string) []string {
	var groups []string
	for _, part := range strings.Split(raw, ",") {
		name := models.NormalizeGroupName(part)
		if name != "" {
			groups = append(groups, name)
		}
	}
	return groups
}

// GetMaxAge returns the maximum inbound event age as a duration
func (c *EventsConfig) GetMaxAge() (time.Duration, error) {
	return time.ParseDuration(c.MaxAge)
}

// GetTTL returns the dedup cache TTL as a duration
func (c *DedupConfig) GetTTL() (time.Duration, error) {
	return time.ParseDuration(c.TTL)
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64OrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
