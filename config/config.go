package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	DBDriver string // "postgres" or "sqlite"

	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	SQLitePath string

	MaxConcurrency  int
	RateLimitMs     int
	MaxRetries      int
	NavTimeoutSec   int
	ScrapeBudgetSec int

	SourcesPath string
	ChromeBin   string
	LogLevel    string

	AvailabilityURL  string
	AvailabilityWing string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		DBDriver: getEnv("DB_DRIVER", "postgres"),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "rentwatch"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "rentwatch123"),
		PostgresDB:       getEnv("POSTGRES_DB", "rentwatch_db"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		SQLitePath: getEnv("SQLITE_PATH", "./rentwatch.db"),

		MaxConcurrency:  getEnvInt("MAX_CONCURRENCY", 2),
		RateLimitMs:     getEnvInt("RATE_LIMIT_MS", 2000),
		MaxRetries:      getEnvInt("MAX_RETRIES", 3),
		NavTimeoutSec:   getEnvInt("NAV_TIMEOUT_SEC", 60),
		ScrapeBudgetSec: getEnvInt("SCRAPE_BUDGET_SEC", 180),

		SourcesPath: getEnv("SOURCES_PATH", "./sources.yaml"),
		ChromeBin:   getEnv("CHROME_BIN", ""),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		AvailabilityURL:  getEnv("AVAILABILITY_URL", ""),
		AvailabilityWing: getEnv("AVAILABILITY_WING", ""),
	}
}

// DSN returns the connection string for the configured driver.
func (c *Config) DSN() string {
	if c.DBDriver == "sqlite" {
		return c.SQLitePath
	}
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}
