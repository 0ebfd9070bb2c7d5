package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration values for the bot
type Config struct {
	// Discord
	DiscordToken string

	// Match source
	VLRBaseURL  string
	HTTPTimeout time.Duration

	// Database
	DatabasePath string

	// Intervals
	PollInterval      time.Duration
	SchedulerInterval time.Duration

	// Notifications
	DefaultLeadTime time.Duration

	// Logging
	LogLevel string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		DiscordToken: os.Getenv("DISCORD_BOT_TOKEN"),
		VLRBaseURL:   getEnvOrDefault("VLR_API_BASE_URL", ""),
		DatabasePath: getEnvOrDefault("DATABASE_PATH", "./data/valorie.db"),
		LogLevel:     getEnvOrDefault("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.PollInterval, err = secondsEnv("POLL_INTERVAL_SECONDS", 180); err != nil {
		return nil, err
	}
	if cfg.SchedulerInterval, err = secondsEnv("SCHEDULER_INTERVAL_SECONDS", 60); err != nil {
		return nil, err
	}
	if cfg.HTTPTimeout, err = secondsEnv("HTTP_TIMEOUT_SECONDS", 15); err != nil {
		return nil, err
	}

	leadStr := getEnvOrDefault("DEFAULT_LEAD_TIME_MINUTES", "15")
	lead, err := strconv.Atoi(leadStr)
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_LEAD_TIME_MINUTES: %w", err)
	}
	cfg.DefaultLeadTime = time.Duration(lead) * time.Minute

	// Validate required fields
	if cfg.DiscordToken == "" {
		return nil, fmt.Errorf("DISCORD_BOT_TOKEN is required")
	}

	return cfg, nil
}

func secondsEnv(key string, defaultSeconds int) (time.Duration, error) {
	raw := getEnvOrDefault(key, strconv.Itoa(defaultSeconds))
	seconds, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if seconds <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return time.Duration(seconds) * time.Second, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
