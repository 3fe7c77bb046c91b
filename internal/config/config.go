package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all gateway configuration
type Config struct {
	Port           string
	Environment    string
	AllowedOrigins string

	// Shared secret the launcher signs its attach token with
	LauncherSecret string

	ConnectTimeout        time.Duration
	CallTimeout           time.Duration
	MaxParallelTools      int
	ToolCacheTTL          time.Duration
	AllowPrivateEndpoints bool

	// AuditDatabaseURL is a SQLite path or a mysql:// DSN
	AuditDatabaseURL   string
	AuditRetentionDays int
	RedisURL           string // optional audit fan-out

	// ServersFile bootstraps connections from already validated ServerConfig records
	ServersFile string
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "3001"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		AllowedOrigins: getEnv("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000"),

		LauncherSecret: getEnv("LAUNCHER_SECRET", ""),

		ConnectTimeout:        getDurationEnv("MCP_CONNECT_TIMEOUT", 30*time.Second),
		CallTimeout:           getDurationEnv("MCP_CALL_TIMEOUT", 60*time.Second),
		MaxParallelTools:      getIntEnv("MCP_MAX_PARALLEL_TOOLS", 8),
		ToolCacheTTL:          getDurationEnv("MCP_TOOL_CACHE_TTL", 5*time.Minute),
		AllowPrivateEndpoints: getBoolEnv("MCP_ALLOW_PRIVATE_ENDPOINTS", false),

		AuditDatabaseURL:   getEnv("AUDIT_DATABASE_URL", "mcp_audit.db"),
		AuditRetentionDays: getIntEnv("AUDIT_RETENTION_DAYS", 30),
		RedisURL:           getEnv("REDIS_URL", ""),

		ServersFile: getEnv("MCP_SERVERS_FILE", ""),
	}
}

// IsProduction reports whether the gateway runs in production mode
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getDurationEnv accepts Go durations ("45s") or a plain number of seconds
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if parsed, err := time.ParseDuration(value); err == nil && parsed > 0 {
		return parsed
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
