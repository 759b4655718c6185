package app

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	TokenLifetime   time.Duration // Optional: lifetime of issued tokens (default: 1h)
	DefaultProvider string        // Optional: format for new tokens (opq, jws, jwz, enc) (default: enc)

	StoreDriver  string // Optional: token store driver (sqlite, memory) (default: sqlite)
	DatabaseFile string // Optional: path to SQLite database file (default: ./castellan.db)

	KeyStorageMode string        // Optional: key storage mode (ephemeral, persistent) (default: ephemeral)
	KeyGracePeriod time.Duration // Optional: how long retired keys keep validating (default: 24h)
	KeyMaxAge      time.Duration // Optional: how long a key stays primary (default: 90 days)
	MasterKeyPath  string        // Optional: path to master encryption key file (for persistent keys)
	PepperFile     string        // Optional: path to pepper file for password hashing (default: ./pepper)

	LedgerRefreshInterval time.Duration // Optional: cross-instance revocation staleness bound (default: 5s)
	HousekeepingInterval  time.Duration // Optional: expired-row cleanup interval (default: 1h)

	// Bootstrap subject for the static identity backend. Setting
	// CASTELLAN_BOOTSTRAP_SUBJECT to an empty string disables
	// authentication, for validation-only deployments.
	BootstrapSubject  string
	BootstrapPassword string
	BootstrapDomain   string

	Env                 string        // Environment (dev, staging, prod) (default: dev)
	LogLevel            string        // Log level (debug, info, warn, error) (default: info)
	LogFormat           string        // Log format (json, text) (default: json)
	Port                int           // HTTP server port (default: 8080)
	ShutdownGracePeriod time.Duration // Graceful shutdown timeout (default: 10s)
}

func LoadConfig() Config {
	return Config{
		TokenLifetime:   getEnvDurationOrDefault("CASTELLAN_TOKEN_LIFETIME", time.Hour),
		DefaultProvider: getEnvOrDefault("CASTELLAN_PROVIDER", "enc"),

		StoreDriver:  getEnvOrDefault("CASTELLAN_STORE_DRIVER", "sqlite"),
		DatabaseFile: getEnvOrDefault("CASTELLAN_DATABASE_FILE", "castellan.db"),

		KeyStorageMode: getEnvOrDefault("CASTELLAN_KEY_STORAGE_MODE", "ephemeral"),
		KeyGracePeriod: getEnvDurationOrDefault("CASTELLAN_KEY_GRACE_PERIOD", 24*time.Hour),
		KeyMaxAge:      getEnvDurationOrDefault("CASTELLAN_KEY_MAX_AGE", 90*24*time.Hour),
		MasterKeyPath:  os.Getenv("CASTELLAN_MASTER_KEY_PATH"),
		PepperFile:     getEnvOrDefault("CASTELLAN_PEPPER_FILE", "pepper"),

		LedgerRefreshInterval: getEnvDurationOrDefault("CASTELLAN_LEDGER_REFRESH_INTERVAL", 5*time.Second),
		HousekeepingInterval:  getEnvDurationOrDefault("CASTELLAN_HOUSEKEEPING_INTERVAL", time.Hour),

		BootstrapSubject:  getEnvAllowEmpty("CASTELLAN_BOOTSTRAP_SUBJECT", "admin"),
		BootstrapPassword: os.Getenv("CASTELLAN_BOOTSTRAP_PASSWORD"),
		BootstrapDomain:   getEnvOrDefault("CASTELLAN_BOOTSTRAP_DOMAIN", "default"),

		Env:                 getEnvOrDefault("ENV", "dev"),
		LogLevel:            getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:           getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod: getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAllowEmpty treats a set-but-empty variable as an explicit empty
// value rather than falling back to the default.
func getEnvAllowEmpty(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	return defaultValue
}
