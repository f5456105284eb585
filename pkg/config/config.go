package config

import (
	"fmt"
	"log"
	"math/big"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/logger"
)

// Config holds the configuration for the resolver service
type Config struct {
	RegistryEndpoint string
	RegistryAPIKey   string
	QuoteEndpoint    string

	EVM   EVMConfig
	Aptos AptosConfig

	PollingInterval     time.Duration
	SecretPollInterval  time.Duration
	RecoveryInterval    time.Duration
	MaxConcurrentOrders int

	MinEVMBalance   *big.Int
	MinAptosBalance *big.Int

	MinProfitBPS         int
	GasBufferMultiplier  float64
	PartialFillThreshold *big.Int
	SecretCount          int
	MinFillPercent       int

	MetricsPort    string
	CircuitBreaker CircuitBreakerConfig
	LoggerConfig   LoggerConfig
}

// EVMConfig holds the source-chain configuration
type EVMConfig struct {
	ChainID         int64
	RPCURL          string
	PrivateKey      string
	ResolverAddress string
	FactoryAddress  string
	MaxGasPrice     *big.Int
}

// AptosConfig holds the destination-chain configuration
type AptosConfig struct {
	NodeURL      string
	PrivateKey   string
	EscrowModule string
	CoinType     string
	GasUnitPrice uint64
	MaxGasAmount uint64
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled        bool
	Threshold      int
	WindowDuration time.Duration
	ResetTimeout   time.Duration
}

// LoggerConfig holds the configuration for logging
type LoggerConfig struct {
	Level    logger.Level
	Coloring bool
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	pollingInterval, err := GetEnvPollingInterval()
	if err != nil {
		return nil, err
	}

	secretPollInterval, err := GetEnvSecretPollInterval()
	if err != nil {
		return nil, err
	}

	recoveryInterval, err := GetEnvRecoveryInterval()
	if err != nil {
		return nil, err
	}

	maxConcurrent, err := GetEnvMaxConcurrentOrders()
	if err != nil {
		return nil, err
	}

	metricsPort, err := GetEnvMetricsPort()
	if err != nil {
		return nil, err
	}

	registryEndpoint, err := GetEnvRegistryEndpoint()
	if err != nil {
		return nil, err
	}

	quoteEndpoint, err := GetEnvQuoteEndpoint()
	if err != nil {
		return nil, err
	}

	minEVMBalance, err := GetEnvBigInt("MIN_EVM_BALANCE", DefaultMinEVMBalance)
	if err != nil {
		return nil, err
	}

	minAptosBalance, err := GetEnvBigInt("MIN_APTOS_BALANCE", DefaultMinAptosBalance)
	if err != nil {
		return nil, err
	}

	minProfitBPS, err := GetEnvMinProfitBPS()
	if err != nil {
		return nil, err
	}

	gasBuffer, err := GetEnvGasBufferMultiplier()
	if err != nil {
		return nil, err
	}

	partialFillThreshold, err := GetEnvBigInt("PARTIAL_FILL_THRESHOLD", DefaultPartialFillThreshold)
	if err != nil {
		return nil, err
	}

	secretCount, err := GetEnvSecretCount()
	if err != nil {
		return nil, err
	}

	minFillPercent, err := GetEnvMinFillPercent()
	if err != nil {
		return nil, err
	}

	evmCfg, err := GetEnvEVMConfig()
	if err != nil {
		return nil, err
	}

	aptosCfg, err := GetEnvAptosConfig()
	if err != nil {
		return nil, err
	}

	cbEnabled, err := GetEnvCircuitBreakerEnabled()
	if err != nil {
		return nil, err
	}

	cbThreshold, err := GetEnvCircuitBreakerThreshold()
	if err != nil {
		return nil, err
	}

	cbWindow, err := GetEnvCircuitBreakerWindow()
	if err != nil {
		return nil, err
	}

	cbReset, err := GetEnvCircuitBreakerReset()
	if err != nil {
		return nil, err
	}

	logLevel, err := GetEnvLogLevel()
	if err != nil {
		return nil, err
	}

	logColoring, err := GetEnvLogColoring()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		RegistryEndpoint:     registryEndpoint,
		RegistryAPIKey:       os.Getenv("REGISTRY_API_KEY"),
		QuoteEndpoint:        quoteEndpoint,
		EVM:                  *evmCfg,
		Aptos:                *aptosCfg,
		PollingInterval:      pollingInterval,
		SecretPollInterval:   secretPollInterval,
		RecoveryInterval:     recoveryInterval,
		MaxConcurrentOrders:  maxConcurrent,
		MinEVMBalance:        minEVMBalance,
		MinAptosBalance:      minAptosBalance,
		MinProfitBPS:         minProfitBPS,
		GasBufferMultiplier:  gasBuffer,
		PartialFillThreshold: partialFillThreshold,
		SecretCount:          secretCount,
		MinFillPercent:       minFillPercent,
		MetricsPort:          metricsPort,
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:        cbEnabled,
			Threshold:      cbThreshold,
			WindowDuration: cbWindow,
			ResetTimeout:   cbReset,
		},
		LoggerConfig: LoggerConfig{
			Level:    logLevel,
			Coloring: logColoring,
		},
	}

	// Validate required environment variables
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.EVM.PrivateKey == "" {
		return fmt.Errorf("EVM_PRIVATE_KEY environment variable is required")
	}
	if cfg.EVM.RPCURL == "" {
		return fmt.Errorf("EVM_RPC_URL environment variable is required")
	}
	if cfg.EVM.ResolverAddress == "" {
		return fmt.Errorf("RESOLVER_CONTRACT_ADDRESS environment variable is required")
	}
	if cfg.EVM.FactoryAddress == "" {
		return fmt.Errorf("ESCROW_FACTORY_ADDRESS environment variable is required")
	}
	if cfg.Aptos.NodeURL == "" {
		return fmt.Errorf("APTOS_NODE_URL environment variable is required")
	}
	if cfg.Aptos.PrivateKey == "" {
		return fmt.Errorf("APTOS_PRIVATE_KEY environment variable is required")
	}
	if cfg.Aptos.EscrowModule == "" {
		return fmt.Errorf("APTOS_ESCROW_MODULE environment variable is required")
	}
	if cfg.RegistryAPIKey == "" {
		return fmt.Errorf("REGISTRY_API_KEY environment variable is required")
	}
	return nil
}
