package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Database configuration
	DatabaseURL string

	// NATS configuration
	NATSURL string

	// Ledger data provider configuration. The network (preprod, preview,
	// mainnet) is inferred from the project id prefix; a custom API URL
	// overrides the inferred server.
	BlockfrostProjectID string
	CustomBlockfrostURL string

	// Key management
	WalletEncryptionKey string

	// Engine configuration
	MaxRetries        int
	RetryRefreshDelay time.Duration
	QueueDepth        int
	CacheTTL          time.Duration

	// Metadata label registry
	RegistryURL     string
	RegistryRefresh time.Duration
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Database configuration
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	// NATS configuration
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	// Ledger data provider configuration
	cfg.BlockfrostProjectID = os.Getenv("BLOCKFROST_PROJECT_ID")
	if cfg.BlockfrostProjectID == "" {
		errs = append(errs, fmt.Errorf("BLOCKFROST_PROJECT_ID is required"))
	} else if len(cfg.BlockfrostProjectID) < 7 {
		errs = append(errs, fmt.Errorf("BLOCKFROST_PROJECT_ID value is invalid or too short"))
	}
	cfg.CustomBlockfrostURL = os.Getenv("CUSTOM_BLOCKFROST_API_URL")

	// Key management
	cfg.WalletEncryptionKey = os.Getenv("WALLET_ENCRYPTION_KEY")
	if cfg.WalletEncryptionKey == "" {
		errs = append(errs, fmt.Errorf("WALLET_ENCRYPTION_KEY is required"))
	}

	// Engine configuration
	maxRetries, err := parseInt("MAX_RETRIES", 5)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.MaxRetries = maxRetries
	}

	refreshDelay, err := parseDuration("RETRY_REFRESH_DELAY", "5s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.RetryRefreshDelay = refreshDelay
	}

	queueDepth, err := parseInt("QUEUE_DEPTH", 64)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.QueueDepth = queueDepth
	}

	cacheTTL, err := parseDuration("UTXO_CACHE_TTL", "5m")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.CacheTTL = cacheTTL
	}

	// Metadata label registry
	cfg.RegistryURL = getEnvOrDefault("METADATA_REGISTRY_URL",
		"https://raw.githubusercontent.com/cardano-foundation/CIPs/master/CIP-0010/registry.json")
	registryRefresh, err := parseDuration("METADATA_REGISTRY_REFRESH", "1h")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.RegistryRefresh = registryRefresh
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Mainnet reports whether the configured project id targets mainnet.
func (c *Config) Mainnet() bool {
	return len(c.BlockfrostProjectID) >= 7 && c.BlockfrostProjectID[:7] == "mainnet"
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}

	if c.BlockfrostProjectID == "" {
		errs = append(errs, fmt.Errorf("BlockfrostProjectID is required"))
	}

	if c.WalletEncryptionKey == "" {
		errs = append(errs, fmt.Errorf("WalletEncryptionKey is required"))
	}

	if c.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("MaxRetries must be at least 1"))
	}

	if c.RetryRefreshDelay < 0 {
		errs = append(errs, fmt.Errorf("RetryRefreshDelay cannot be negative"))
	}

	if c.QueueDepth < 1 {
		errs = append(errs, fmt.Errorf("QueueDepth must be at least 1"))
	}

	if c.CacheTTL < time.Second {
		errs = append(errs, fmt.Errorf("CacheTTL must be at least 1 second"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}
