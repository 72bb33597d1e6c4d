package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"torntracker/internal/constants"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"go.uber.org/fx"
)

type Config struct {
	DBPath     string
	KeysFile   string
	ServerPort string
	LogLevel   string

	// SyncInterval is the scheduler tick for the crime sync pass.
	SyncInterval time.Duration

	// MaintenanceInterval is the tick for summarize-and-prune.
	MaintenanceInterval time.Duration

	PruneAfterDays int
}

func Load(logger zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		logger.Debug().Msg(".env file not found, using environment variables or defaults")
	}

	cfg := &Config{
		DBPath:              getEnv("DB_PATH", "data/torn_data.db"),
		KeysFile:            getEnv("TORN_KEYS_FILE", "data/torn_keys.json"),
		ServerPort:          getEnv("SERVER_PORT", "8080"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		SyncInterval:        getEnvDuration("SYNC_INTERVAL", 10*time.Minute),
		MaintenanceInterval: getEnvDuration("MAINTENANCE_INTERVAL", 24*time.Hour),
		PruneAfterDays:      getEnvInt("PRUNE_AFTER_DAYS", constants.DefaultPruneAfterDays),
	}

	if cfg.SyncInterval < time.Minute {
		return nil, fmt.Errorf("SYNC_INTERVAL must be at least 1m, got %s", cfg.SyncInterval)
	}
	if cfg.PruneAfterDays < 1 {
		return nil, fmt.Errorf("PRUNE_AFTER_DAYS must be positive, got %d", cfg.PruneAfterDays)
	}

	logger.Info().
		Str("db_path", cfg.DBPath).
		Str("keys_file", cfg.KeysFile).
		Str("server_port", cfg.ServerPort).
		Dur("sync_interval", cfg.SyncInterval).
		Dur("maintenance_interval", cfg.MaintenanceInterval).
		Int("prune_after_days", cfg.PruneAfterDays).
		Msg("configuration loaded")

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

var Module = fx.Provide(Load)
