package middleware

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// RateLimitConfig holds per-IP rate limiting settings
type RateLimitConfig struct {
	// All /api endpoints
	GlobalAPIMax        int
	GlobalAPIExpiration time.Duration

	// Tool execution and server connects, which spawn work on tool servers
	ToolCallMax        int
	ToolCallExpiration time.Duration

	// Launcher attach attempts
	LauncherMax        int
	LauncherExpiration time.Duration
}

// DefaultRateLimitConfig returns production defaults
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		GlobalAPIMax:        200,
		GlobalAPIExpiration: 1 * time.Minute,

		ToolCallMax:        60,
		ToolCallExpiration: 1 * time.Minute,

		// A healthy launcher reconnects with backoff
		LauncherMax:        10,
		LauncherExpiration: 1 * time.Minute,
	}
}

// LoadRateLimitConfig loads config from environment variables with defaults
func LoadRateLimitConfig() *RateLimitConfig {
	config := DefaultRateLimitConfig()

	overrides := map[string]*int{
		"RATE_LIMIT_GLOBAL_API": &config.GlobalAPIMax,
		"RATE_LIMIT_TOOL_CALLS": &config.ToolCallMax,
		"RATE_LIMIT_LAUNCHER":   &config.LauncherMax,
	}
	for key, target := range overrides {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				*target = n
			}
		}
	}

	// Development mode: more lenient limits
	if os.Getenv("ENVIRONMENT") == "development" {
		config.GlobalAPIMax = 1000
		config.ToolCallMax = 500
		log.Println("⚠️  [RATE-LIMIT] Development mode: using relaxed rate limits")
	}

	return config
}

func newLimiter(name string, max int, expiration time.Duration) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: expiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return name + ":" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			log.Printf("🚫 [RATE-LIMIT] %s limit reached for IP: %s", name, c.IP())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Too many requests. Please slow down.",
				"retry_after": int(expiration.Seconds()),
			})
		},
	})
}

// GlobalAPIRateLimiter limits all API requests
func GlobalAPIRateLimiter(config *RateLimitConfig) fiber.Handler {
	return newLimiter("global", config.GlobalAPIMax, config.GlobalAPIExpiration)
}

// ToolCallRateLimiter limits tool execution and connect requests
func ToolCallRateLimiter(config *RateLimitConfig) fiber.Handler {
	return newLimiter("tools", config.ToolCallMax, config.ToolCallExpiration)
}

// LauncherRateLimiter limits launcher attach attempts
func LauncherRateLimiter(config *RateLimitConfig) fiber.Handler {
	return newLimiter("launcher", config.LauncherMax, config.LauncherExpiration)
}
