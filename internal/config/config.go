package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"attendance-bot/internal/database"
	"attendance-bot/pkg/logger"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Config holds the runtime configuration loaded from the environment.
type Config struct {
	BotToken      string
	APIEndpoint   string
	BotDebug      bool
	UpdateTimeout int

	DB       database.Config
	Logger   logger.Config
	Location *time.Location

	MetricsAddr string
}

// Load reads the environment. Call godotenv.Load beforehand to pick up a
// .env file.
func Load() (*Config, error) {
	var errs []error

	cfg := &Config{
		BotToken:      os.Getenv("BOT_TOKEN"),
		APIEndpoint:   getEnv("BOT_API_ENDPOINT", tgbotapi.APIEndpoint),
		BotDebug:      boolEnv("BOT_DEBUG", false),
		UpdateTimeout: intEnv("BOT_UPDATE_TIMEOUT", 60, &errs),
		DB: database.Config{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			User:         getEnv("DB_USER", "postgres"),
			Password:     os.Getenv("DB_PASSWORD"),
			DBName:       getEnv("DB_NAME", "attendance"),
			SSLMode:      getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns: intEnv("DB_MAX_OPEN_CONNS", 10, &errs),
		},
		Logger: logger.Config{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			Output: getEnv("LOG_OUTPUT", "stdout"),
		},
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),
	}

	tz := getEnv("TIMEZONE", "UTC")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		errs = append(errs, fmt.Errorf("invalid TIMEZONE %q: %w", tz, err))
	}
	cfg.Location = loc

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// RequireBot checks the settings needed to talk to Telegram.
func (c *Config) RequireBot() error {
	if c.BotToken == "" {
		return errors.New("BOT_TOKEN is required")
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int, errs *[]error) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		*errs = append(*errs, fmt.Errorf("invalid %s %q", key, v))
		return def
	}
	return n
}

func boolEnv(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
