package main

import (
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config is the process configuration, read from the environment
// (optionally seeded from a .env file).
type Config struct {
	BotToken     string        // TELEGRAM_BOT_TOKEN; empty enables mock delivery
	Bucket       string        // STORAGE_BUCKET (GCS)
	LocalStorage string        // LOCAL_STORAGE directory for development
	MedalAPIURL  string        // MEDAL_API_URL override, empty for production
	MedalAPIKey  string        // MEDAL_API_KEY, optional seed for the stored credential
	Port         string        // PORT for the operational HTTP server
	PollInterval time.Duration // POLL_INTERVAL between passes
}

func loadConfig() Config {
	_ = godotenv.Load()
	return Config{
		BotToken:     os.Getenv("TELEGRAM_BOT_TOKEN"),
		Bucket:       os.Getenv("STORAGE_BUCKET"),
		LocalStorage: os.Getenv("LOCAL_STORAGE"),
		MedalAPIURL:  os.Getenv("MEDAL_API_URL"),
		MedalAPIKey:  os.Getenv("MEDAL_API_KEY"),
		Port:         getEnv("PORT", "8080"),
		PollInterval: getEnvAsDuration("POLL_INTERVAL", 5*time.Minute),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
