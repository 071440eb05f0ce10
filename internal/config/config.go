package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config keeps runtime settings for the client.
type Config struct {
	TelegramToken  string
	BackendURL     string
	DatabaseURL    string
	SessionSecret  string
	ResyncInterval time.Duration
}

// Load reads configuration from the environment (an optional .env file is
// picked up first) with sane defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		TelegramToken:  strings.TrimSpace(os.Getenv("TELEGRAM_TOKEN")),
		BackendURL:     strings.TrimSpace(os.Getenv("BACKEND_URL")),
		DatabaseURL:    strings.TrimSpace(os.Getenv("DATABASE_URL")),
		SessionSecret:  strings.TrimSpace(os.Getenv("SESSION_SECRET")),
		ResyncInterval: parseInterval(strings.TrimSpace(os.Getenv("RESYNC_INTERVAL_HOURS"))),
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = "smartjar.db"
	}

	if cfg.ResyncInterval == 0 {
		cfg.ResyncInterval = 6 * time.Hour
	}

	if cfg.TelegramToken == "" {
		return cfg, fmt.Errorf("TELEGRAM_TOKEN is required")
	}
	if cfg.BackendURL == "" {
		return cfg, fmt.Errorf("BACKEND_URL is required")
	}
	if cfg.SessionSecret == "" {
		return cfg, fmt.Errorf("SESSION_SECRET is required")
	}

	return cfg, nil
}

func parseInterval(raw string) time.Duration {
	if raw == "" {
		return 0
	}
	hours, err := time.ParseDuration(raw + "h")
	if err != nil || hours <= 0 {
		return 0
	}
	return hours
}
