package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"chart-replayv1/internal/model"
)

// Config holds all application configuration loaded from environment variables.
// Every field has a working default: no env vars are required for correctness.
type Config struct {
	// Data plane
	DataPath  string // root directory holding one CSV per timeframe
	DefaultTF model.Timeframe

	// Visible window + transition deadlines
	VisibleWindow         int
	TransitionTimeout     time.Duration // plain operations
	TransitionTimeoutGoTo time.Duration // Go-To-Date and post-goto switches

	// HTTP
	Port        int
	MetricsAddr string

	// Optional infrastructure ("" disables)
	SQLitePath    string
	RedisAddr     string
	RedisPassword string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	tf, err := model.ParseTimeframe(getEnv("DEFAULT_TF", "5m"))
	if err != nil {
		log.Printf("[config] invalid DEFAULT_TF, falling back to 5m: %v", err)
		tf = model.TF5m
	}

	return &Config{
		DataPath:  getEnv("DATA_PATH", "data"),
		DefaultTF: tf,

		VisibleWindow:         getEnvInt("VISIBLE_WINDOW", 200),
		TransitionTimeout:     time.Duration(getEnvInt("TRANSITION_TIMEOUT_MS", 8000)) * time.Millisecond,
		TransitionTimeoutGoTo: time.Duration(getEnvInt("TRANSITION_TIMEOUT_GOTO_MS", 15000)) * time.Millisecond,

		Port:        getEnvInt("PORT", 8000),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		SQLitePath:    getEnv("SQLITE_PATH", ""),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
	}
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Printf("[config] invalid %s=%q, using default %d", key, v, fallback)
		return fallback
	}
	return n
}
