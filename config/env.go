package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config carries everything read from the environment at boot.
type Config struct {
	Port          string
	DatabaseURL   string
	RedisURL      string
	EncryptionKey string
	CronSecret    string
}

// Load reads .env (when present) and the process environment.
func Load() (*Config, error) {
	if os.Getenv("RAILWAY_ENVIRONMENT") == "" {
		if err := godotenv.Load(); err != nil {
			log.Warn().Msg("no .env file loaded")
		}
	}

	cfg := &Config{
		Port:          os.Getenv("PORT"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),
		EncryptionKey: os.Getenv("ENCRYPTION_KEY"),
		CronSecret:    os.Getenv("CRON_SECRET"),
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("config: DATABASE_URL is required")
	}
	if cfg.CronSecret == "" {
		return nil, fmt.Errorf("config: CRON_SECRET is required")
	}
	return cfg, nil
}
