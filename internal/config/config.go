package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/corkboard-app/corkboard/internal/models"
)

// Config holds all configuration for the application.
type Config struct {
	Port     string
	Env      string
	RedisURL string

	// Canvas geometry used to clamp box positions.
	Geometry models.Geometry

	// Rate limiting
	RateLimitWhitelist []string // IPs or CIDRs exempt from connect rate limiting
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		RedisURL: os.Getenv("REDIS_URL"),
		Geometry: models.Geometry{
			CanvasWidth:  getEnvFloat("CANVAS_WIDTH", models.DefaultCanvasWidth),
			CanvasHeight: getEnvFloat("CANVAS_HEIGHT", models.DefaultCanvasHeight),
			BoxWidth:     getEnvFloat("BOX_WIDTH", models.DefaultBoxWidth),
			BoxHeight:    getEnvFloat("BOX_HEIGHT", models.DefaultBoxHeight),
		},
	}

	// Parse whitelist (comma-separated IPs or CIDRs)
	if whitelist := os.Getenv("RATE_LIMIT_WHITELIST"); whitelist != "" {
		for _, entry := range strings.Split(whitelist, ",") {
			entry = strings.TrimSpace(entry)
			if entry != "" {
				cfg.RateLimitWhitelist = append(cfg.RateLimitWhitelist, entry)
			}
		}
	}

	// Boxes larger than the canvas would make every position invalid.
	if cfg.Geometry.BoxWidth > cfg.Geometry.CanvasWidth ||
		cfg.Geometry.BoxHeight > cfg.Geometry.CanvasHeight {
		panic("box extent must not exceed canvas extent")
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || f <= 0 {
		return defaultValue
	}
	return f
}
