package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/brojonat/nftstake/service/staking"
	"github.com/gagliardetto/solana-go"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr  string
	LogLevel    string
	MetricsAddr string

	// Database configuration
	DatabaseURL string

	// NATS configuration
	NATSURL string

	// Solana configuration
	SolanaRPCURL     string
	ProgramID        solana.PublicKey
	SubmitMaxRetries int

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Confirmation tracking
	ConfirmPollInterval time.Duration
	ConfirmTimeout      time.Duration
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9091")

	// Database configuration
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	// NATS configuration
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	// Solana configuration
	cfg.SolanaRPCURL = os.Getenv("SOLANA_RPC_URL")
	if cfg.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URL is required"))
	}

	programID := getEnvOrDefault("STAKING_PROGRAM_ID", staking.DefaultProgramID.String())
	pk, err := solana.PublicKeyFromBase58(programID)
	if err != nil {
		errs = append(errs, fmt.Errorf("STAKING_PROGRAM_ID: invalid public key %q: %w", programID, err))
	} else {
		cfg.ProgramID = pk
	}

	maxRetries, err := parseInt("SUBMIT_MAX_RETRIES", int(staking.DefaultSubmitMaxRetries))
	if err != nil {
		errs = append(errs, err)
	} else if maxRetries < 0 {
		errs = append(errs, fmt.Errorf("SUBMIT_MAX_RETRIES cannot be negative"))
	} else {
		cfg.SubmitMaxRetries = maxRetries
	}

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "nftstake-confirmations")

	// Confirmation tracking
	pollInterval, err := parseDuration("CONFIRM_POLL_INTERVAL", "2s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ConfirmPollInterval = pollInterval
	}

	timeout, err := parseDuration("CONFIRM_TIMEOUT", "2m")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ConfirmTimeout = timeout
	}

	if cfg.ConfirmPollInterval > 0 && cfg.ConfirmTimeout > 0 && cfg.ConfirmPollInterval >= cfg.ConfirmTimeout {
		errs = append(errs, fmt.Errorf("CONFIRM_POLL_INTERVAL (%v) must be less than CONFIRM_TIMEOUT (%v)",
			cfg.ConfirmPollInterval, cfg.ConfirmTimeout))
	}

	// Return all validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
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

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}

	if c.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SolanaRPCURL is required"))
	}

	if c.ProgramID.IsZero() {
		errs = append(errs, fmt.Errorf("ProgramID is required"))
	}

	if c.SubmitMaxRetries < 0 {
		errs = append(errs, fmt.Errorf("SubmitMaxRetries cannot be negative"))
	}

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}

	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if c.ConfirmPollInterval < 100*time.Millisecond {
		errs = append(errs, fmt.Errorf("ConfirmPollInterval must be at least 100ms"))
	}

	if c.ConfirmPollInterval >= c.ConfirmTimeout {
		errs = append(errs, fmt.Errorf("ConfirmPollInterval must be less than ConfirmTimeout"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// RPCEndpoint is the RPC provider name used in metrics labels and logs.
// The full URL can carry an API key and never leaves the config.
func (c *Config) RPCEndpoint() string {
	return staking.EndpointLabel(c.SolanaRPCURL)
}

// StakingClientConfig maps the Solana settings onto staking.ClientConfig.
// An explicit SUBMIT_MAX_RETRIES=0 is passed through as zero.
func (c *Config) StakingClientConfig() staking.ClientConfig {
	retries := uint(c.SubmitMaxRetries)
	return staking.ClientConfig{
		ProgramID:        c.ProgramID,
		Endpoint:         c.RPCEndpoint(),
		SubmitMaxRetries: &retries,
	}
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
