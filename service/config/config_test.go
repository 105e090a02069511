package config

import (
	"os"
	"testing"
	"time"

	"github.com/brojonat/nftstake/service/staking"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ValidConfig(t *testing.T) {
	// Setup environment variables
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	os.Setenv("SOLANA_RPC_URL", "https://api.devnet.solana.com")
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "postgres://localhost/test", cfg.DatabaseURL)
	assert.Equal(t, "https://api.devnet.solana.com", cfg.SolanaRPCURL)
	assert.Equal(t, ":8080", cfg.ServerAddr) // Default
	assert.Equal(t, "info", cfg.LogLevel)    // Default
	assert.Equal(t, staking.DefaultProgramID, cfg.ProgramID)
	assert.Equal(t, 3, cfg.SubmitMaxRetries)
	assert.Equal(t, "nftstake-confirmations", cfg.TemporalTaskQueue)
	assert.Equal(t, 2*time.Second, cfg.ConfirmPollInterval)
	assert.Equal(t, 2*time.Minute, cfg.ConfirmTimeout)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_MissingDatabaseURL(t *testing.T) {
	os.Setenv("SOLANA_RPC_URL", "https://api.devnet.solana.com")
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "DATABASE_URL is required")
}

func TestLoad_MissingSolanaRPCURL(t *testing.T) {
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "SOLANA_RPC_URL is required")
}

func TestLoad_CollectsAllErrors(t *testing.T) {
	os.Setenv("STAKING_PROGRAM_ID", "not-a-key")
	os.Setenv("SUBMIT_MAX_RETRIES", "three")
	defer cleanupEnv()

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL is required")
	assert.Contains(t, err.Error(), "SOLANA_RPC_URL is required")
	assert.Contains(t, err.Error(), "STAKING_PROGRAM_ID")
	assert.Contains(t, err.Error(), "invalid integer")
}

func TestLoad_InvalidConfirmInterval(t *testing.T) {
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	os.Setenv("SOLANA_RPC_URL", "https://api.devnet.solana.com")
	os.Setenv("CONFIRM_POLL_INTERVAL", "invalid")
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestLoad_PollIntervalNotLessThanTimeout(t *testing.T) {
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	os.Setenv("SOLANA_RPC_URL", "https://api.devnet.solana.com")
	os.Setenv("CONFIRM_POLL_INTERVAL", "1m")
	os.Setenv("CONFIRM_TIMEOUT", "30s")
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "must be less than CONFIRM_TIMEOUT")
}

func TestLoad_CustomValues(t *testing.T) {
	programID := solana.NewWallet().PublicKey()

	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	os.Setenv("SOLANA_RPC_URL", "https://api.devnet.solana.com")
	os.Setenv("STAKING_PROGRAM_ID", programID.String())
	os.Setenv("SUBMIT_MAX_RETRIES", "5")
	os.Setenv("SERVER_ADDR", ":9090")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("METRICS_ADDR", ":9999")
	os.Setenv("NATS_URL", "nats://nats.example.com:4222")
	os.Setenv("TEMPORAL_HOST", "temporal.example.com:7233")
	os.Setenv("CONFIRM_POLL_INTERVAL", "5s")
	os.Setenv("CONFIRM_TIMEOUT", "10m")
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, ":9090", cfg.ServerAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, ":9999", cfg.MetricsAddr)
	assert.Equal(t, "nats://nats.example.com:4222", cfg.NATSURL)
	assert.Equal(t, "temporal.example.com:7233", cfg.TemporalHost)
	assert.Equal(t, programID, cfg.ProgramID)
	assert.Equal(t, 5, cfg.SubmitMaxRetries)
	assert.Equal(t, 5*time.Second, cfg.ConfirmPollInterval)
	assert.Equal(t, 10*time.Minute, cfg.ConfirmTimeout)
}

func validConfig() *Config {
	return &Config{
		DatabaseURL:         "postgres://localhost/test",
		SolanaRPCURL:        "https://api.devnet.solana.com",
		ProgramID:           staking.DefaultProgramID,
		SubmitMaxRetries:    3,
		TemporalHost:        "localhost:7233",
		TemporalNamespace:   "default",
		TemporalTaskQueue:   "nftstake-confirmations",
		ConfirmPollInterval: 2 * time.Second,
		ConfirmTimeout:      2 * time.Minute,
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_MissingDatabaseURL(t *testing.T) {
	cfg := validConfig()
	cfg.DatabaseURL = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DatabaseURL is required")
}

func TestValidate_MissingProgramID(t *testing.T) {
	cfg := validConfig()
	cfg.ProgramID = solana.PublicKey{}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ProgramID is required")
}

func TestValidate_InvalidIntervals(t *testing.T) {
	cfg := validConfig()
	cfg.ConfirmPollInterval = time.Minute
	cfg.ConfirmTimeout = 30 * time.Second

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ConfirmPollInterval must be less than ConfirmTimeout")
}

func TestValidate_TooShortInterval(t *testing.T) {
	cfg := validConfig()
	cfg.ConfirmPollInterval = 10 * time.Millisecond

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be at least 100ms")
}

func TestMustLoad_Panics(t *testing.T) {
	// Don't set required env vars
	defer cleanupEnv()

	assert.Panics(t, func() {
		MustLoad()
	})
}

func TestMustLoad_Success(t *testing.T) {
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	os.Setenv("SOLANA_RPC_URL", "https://api.devnet.solana.com")
	defer cleanupEnv()

	assert.NotPanics(t, func() {
		cfg := MustLoad()
		assert.NotNil(t, cfg)
	})
}

// cleanupEnv clears all environment variables used in tests
func cleanupEnv() {
	for _, key := range []string{
		"DATABASE_URL",
		"SOLANA_RPC_URL",
		"STAKING_PROGRAM_ID",
		"SUBMIT_MAX_RETRIES",
		"SERVER_ADDR",
		"LOG_LEVEL",
		"METRICS_ADDR",
		"NATS_URL",
		"TEMPORAL_HOST",
		"TEMPORAL_NAMESPACE",
		"TEMPORAL_TASK_QUEUE",
		"CONFIRM_POLL_INTERVAL",
		"CONFIRM_TIMEOUT",
	} {
		os.Unsetenv(key)
	}
}

func TestLoad_ZeroSubmitMaxRetriesIsKept(t *testing.T) {
	os.Setenv("DATABASE_URL", "postgres://localhost/test")
	os.Setenv("SOLANA_RPC_URL", "https://api.devnet.solana.com")
	os.Setenv("SUBMIT_MAX_RETRIES", "0")
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.SubmitMaxRetries)

	stakingCfg := cfg.StakingClientConfig()
	require.NotNil(t, stakingCfg.SubmitMaxRetries)
	assert.Equal(t, uint(0), *stakingCfg.SubmitMaxRetries)
}

func TestStakingClientConfig_HidesRPCCredentials(t *testing.T) {
	cfg := validConfig()
	cfg.SolanaRPCURL = "https://mainnet.helius-rpc.com/?api-key=SECRET123"

	assert.Equal(t, "helius", cfg.RPCEndpoint())

	stakingCfg := cfg.StakingClientConfig()
	assert.Equal(t, "helius", stakingCfg.Endpoint)
	assert.Equal(t, staking.DefaultProgramID, stakingCfg.ProgramID)
	require.NotNil(t, stakingCfg.SubmitMaxRetries)
	assert.Equal(t, uint(3), *stakingCfg.SubmitMaxRetries)
}
