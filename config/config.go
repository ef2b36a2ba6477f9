// Package config loads runtime settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

type Config struct {
	DBDriver   string
	DBDSN      string
	LogFile    string
	LogLevel   string
	FinePerDay float64
	Dev        bool
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Load reads envFile (ignored when missing) and then the LIBRARY_* variables.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg := Config{
		DBDriver: getenv("LIBRARY_DB_DRIVER", "sqlite3"),
		DBDSN:    getenv("LIBRARY_DB_DSN", "library.db"),
		LogFile:  getenv("LIBRARY_LOG_FILE", "library_system.log"),
		LogLevel: getenv("LIBRARY_LOG_LEVEL", "info"),
		Dev:      getenv("LIBRARY_DEV", "false") == "true",
	}

	fine, err := strconv.ParseFloat(getenv("LIBRARY_FINE_PER_DAY", "0"), 64)
	if err != nil {
		return Config{}, fmt.Errorf("LIBRARY_FINE_PER_DAY: %w", err)
	}
	cfg.FinePerDay = fine

	return cfg, cfg.Validate()
}

// Validate rejects settings the store cannot start with.
func (c Config) Validate() error {
	switch c.DBDriver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("unsupported db driver %q (want sqlite3 or postgres)", c.DBDriver)
	}
	if c.DBDSN == "" {
		return errors.New("db dsn is empty")
	}
	if c.FinePerDay < 0 {
		return errors.New("fine per day must be >= 0")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	return nil
}

// Level returns the parsed log level, defaulting to info.
func (c Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
