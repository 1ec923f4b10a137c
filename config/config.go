// Package config loads runtime settings from the environment (and .env).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/warp/invoice-engine/billing"
	"github.com/warp/invoice-engine/logger"
)

type Config struct {
	Port   int
	DBPath string

	// Document storage. GCSBucket, when set, archives finalized documents.
	DocumentsDir       string
	GCSBucket          string
	GCSCredentialsFile string

	// Redis backs invoice numbering and the per-account run lock when set.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	InvoiceDueDays     int
	InvoiceConcurrency int

	// ScanInterval > 0 enables the eligibility scheduler for ScanAccounts.
	ScanInterval time.Duration
	ScanAccounts []billing.AccountID

	CORSOrigins []string

	LogLevel      string
	LogFormat     string
	LogTimeFormat string
	LogOutput     string
}

// Load reads .env (if present) and the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnvInt("PORT", 8080),
		DBPath:             getEnv("DB_PATH", "invoices.db"),
		DocumentsDir:       getEnv("DOCUMENTS_DIR", "./data/documents"),
		GCSBucket:          getEnv("GCS_BUCKET", ""),
		GCSCredentialsFile: getEnv("GCS_CREDENTIALS_FILE", ""),
		RedisAddr:          getEnv("REDIS_ADDR", ""),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisDB:            getEnvInt("REDIS_DB", 0),
		InvoiceDueDays:     getEnvInt("INVOICE_DUE_DAYS", billing.DefaultDueDays),
		InvoiceConcurrency: getEnvInt("INVOICE_CONCURRENCY", 4),
		CORSOrigins:        splitList(getEnv("CORS_ORIGINS", "http://localhost:5173,http://localhost:8080")),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		LogFormat:          getEnv("LOG_FORMAT", "json"),
		LogTimeFormat:      getEnv("LOG_TIME_FORMAT", time.RFC3339),
		LogOutput:          getEnv("LOG_OUTPUT", "stdout"),
	}

	interval, err := time.ParseDuration(getEnv("SCAN_INTERVAL", "0s"))
	if err != nil {
		return nil, fmt.Errorf("SCAN_INTERVAL: %w", err)
	}
	cfg.ScanInterval = interval

	for _, raw := range splitList(getEnv("SCAN_ACCOUNTS", "")) {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("SCAN_ACCOUNTS: %q is not an account id", raw)
		}
		cfg.ScanAccounts = append(cfg.ScanAccounts, billing.AccountID(id))
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH is required")
	}
	if c.InvoiceDueDays < 0 {
		return fmt.Errorf("INVOICE_DUE_DAYS cannot be negative")
	}
	if c.InvoiceConcurrency < 1 {
		return fmt.Errorf("INVOICE_CONCURRENCY must be at least 1")
	}
	if c.ScanInterval > 0 && len(c.ScanAccounts) == 0 {
		return fmt.Errorf("SCAN_ACCOUNTS is required when SCAN_INTERVAL is set")
	}
	return nil
}

// LoggerConfig returns the logger configuration from the main config
func (c *Config) LoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
