// Package config loads process settings from the environment and an optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	DB        DBConfig
	Log       LogConfig
	Scheduler SchedulerConfig
	Engine    EngineConfig
}

type ServerConfig struct {
	Port        string
	CORSOrigins []string
}

type DBConfig struct {
	Path string
}

type LogConfig struct {
	Level    string
	Encoding string
}

type SchedulerConfig struct {
	Enabled  bool
	Interval time.Duration
}

type EngineConfig struct {
	// Timezone names the calendar weeks and months are cut in.
	Timezone            string
	BonusWalletCategory string
}

// Load reads files (default ".env") if present, then the environment.
// Missing files are not an error.
func Load(files ...string) (Config, error) {
	_ = godotenv.Load(files...)

	interval, err := time.ParseDuration(getEnv("SCHEDULER_INTERVAL", "1h"))
	if err != nil {
		return Config{}, fmt.Errorf("SCHEDULER_INTERVAL: %w", err)
	}
	if interval <= 0 {
		return Config{}, fmt.Errorf("SCHEDULER_INTERVAL must be positive, got %s", interval)
	}
	enabled, err := strconv.ParseBool(getEnv("SCHEDULER_ENABLED", "true"))
	if err != nil {
		return Config{}, fmt.Errorf("SCHEDULER_ENABLED: %w", err)
	}

	cfg := Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			CORSOrigins: splitList(getEnv("CORS_ORIGINS", "http://localhost:5173,http://localhost:3000")),
		},
		DB: DBConfig{
			Path: getEnv("DB_PATH", "incentive.db"),
		},
		Log: LogConfig{
			Level:    getEnv("LOG_LEVEL", "info"),
			Encoding: getEnv("LOG_ENCODING", "console"),
		},
		Scheduler: SchedulerConfig{
			Enabled:  enabled,
			Interval: interval,
		},
		Engine: EngineConfig{
			Timezone:            getEnv("TIMEZONE", "UTC"),
			BonusWalletCategory: getEnv("BONUS_WALLET_CATEGORY", "bonus_wallet"),
		},
	}
	if _, err := cfg.Location(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Location resolves Engine.Timezone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Engine.Timezone)
	if err != nil {
		return nil, fmt.Errorf("TIMEZONE %q: %w", c.Engine.Timezone, err)
	}
	return loc, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
