package config

import (
	"fmt"
	"math/big"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/logger"
)

const (
	// DefaultPollingInterval defines the default intent polling interval in seconds
	DefaultPollingInterval = 5

	// DefaultSecretPollInterval defines the default secret polling interval in seconds
	DefaultSecretPollInterval = 3

	// DefaultRecoveryInterval defines the default recovery sweep interval in seconds
	DefaultRecoveryInterval = 60

	// DefaultMaxConcurrentOrders defines how many intents may be in flight at once
	DefaultMaxConcurrentOrders = 5

	// DefaultMetricsPort defines the default port for the metrics server
	DefaultMetricsPort = "8080"

	// DefaultRegistryEndpoint defines the default intent registry API endpoint
	DefaultRegistryEndpoint = "http://localhost:3000"

	// DefaultQuoteEndpoint defines the default price quote API endpoint
	DefaultQuoteEndpoint = "http://localhost:3001"

	// DefaultEVMChainID defines the default source chain id (Base mainnet)
	DefaultEVMChainID = 8453

	// DefaultMinEVMBalance is the minimum native balance floor on the EVM side (wei)
	DefaultMinEVMBalance = "100000000000000000" // 0.1 ETH

	// DefaultMinAptosBalance is the minimum native balance floor on Aptos (octas)
	DefaultMinAptosBalance = "100000000" // 1 APT

	// DefaultMinProfitBPS is the minimum profit margin in basis points
	DefaultMinProfitBPS = 50

	// DefaultGasBufferMultiplier is the buffer applied on top of suggested gas prices
	DefaultGasBufferMultiplier = 1.1

	// DefaultMaxGasPrice defines the maximum gas price for EVM transactions
	DefaultMaxGasPrice = "1000000000" // 1 Gwei

	// DefaultPartialFillThreshold is the notional above which orders get a
	// Merkle secret set and may be partially filled
	DefaultPartialFillThreshold = "1000000000" // 1000 units at 6 decimals

	// DefaultSecretCount is the number of Merkle leaves for partial-fill orders
	DefaultSecretCount = 16

	// DefaultMinFillPercent is the smallest partial fill the resolver accepts
	DefaultMinFillPercent = 10

	// DefaultAptosCoinType is the coin type withdrawn to makers on Aptos
	DefaultAptosCoinType = "0x1::aptos_coin::AptosCoin"

	// DefaultAptosGasUnitPrice is the gas unit price for Aptos transactions (octas)
	DefaultAptosGasUnitPrice = 100

	// DefaultAptosMaxGasAmount is the gas amount cap for Aptos transactions
	DefaultAptosMaxGasAmount = 20000

	// DefaultCircuitBreakerEnabled defines whether the circuit breaker is enabled
	DefaultCircuitBreakerEnabled = true

	// DefaultCircuitBreakerThreshold defines the number of failures before the circuit breaker trips
	DefaultCircuitBreakerThreshold = 5

	// DefaultCircuitBreakerWindow defines the time window for the circuit breaker in seconds
	DefaultCircuitBreakerWindow = 60

	// DefaultCircuitBreakerReset defines the reset timeout for the circuit breaker in seconds
	DefaultCircuitBreakerReset = 300
)

// GetEnvPollingInterval returns the intent polling interval from environment variables
func GetEnvPollingInterval() (time.Duration, error) {
	return getEnvSeconds("POLLING_INTERVAL", DefaultPollingInterval)
}

// GetEnvSecretPollInterval returns the secret polling interval from environment variables
func GetEnvSecretPollInterval() (time.Duration, error) {
	return getEnvSeconds("SECRET_POLL_INTERVAL", DefaultSecretPollInterval)
}

// GetEnvRecoveryInterval returns the recovery sweep interval from environment variables
func GetEnvRecoveryInterval() (time.Duration, error) {
	return getEnvSeconds("RECOVERY_INTERVAL", DefaultRecoveryInterval)
}

func getEnvSeconds(key string, def int) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return time.Duration(def) * time.Second, nil
	}

	interval, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %s, must be an integer", key, raw)
	}
	if interval <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", key)
	}
	return time.Duration(interval) * time.Second, nil
}

// GetEnvMaxConcurrentOrders returns the in-flight intent cap from environment variables
func GetEnvMaxConcurrentOrders() (int, error) {
	return getEnvPositiveInt("MAX_CONCURRENT_ORDERS", DefaultMaxConcurrentOrders)
}

// GetEnvSecretCount returns the Merkle leaf count for partial-fill orders
func GetEnvSecretCount() (int, error) {
	return getEnvPositiveInt("SECRET_COUNT", DefaultSecretCount)
}

// GetEnvMinFillPercent returns the smallest accepted partial fill percentage
func GetEnvMinFillPercent() (int, error) {
	v, err := getEnvPositiveInt("MIN_FILL_PERCENT", DefaultMinFillPercent)
	if err != nil {
		return 0, err
	}
	if v > 100 {
		return 0, fmt.Errorf("MIN_FILL_PERCENT must be at most 100")
	}
	return v, nil
}

// GetEnvMinProfitBPS returns the minimum profit margin in basis points
func GetEnvMinProfitBPS() (int, error) {
	raw := os.Getenv("MIN_PROFIT_BPS")
	if raw == "" {
		return DefaultMinProfitBPS, nil
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid MIN_PROFIT_BPS value: %s, must be an integer", raw)
	}
	if v < 0 {
		return 0, fmt.Errorf("MIN_PROFIT_BPS must be greater than or equal to 0")
	}
	return v, nil
}

func getEnvPositiveInt(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %s, must be an integer", key, raw)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", key)
	}
	return v, nil
}

// GetEnvMetricsPort returns the metrics server port from environment variables
func GetEnvMetricsPort() (string, error) {
	metricsPort := os.Getenv("METRICS_PORT")
	if metricsPort == "" {
		return DefaultMetricsPort, nil
	}

	// Validate port format
	if _, err := strconv.Atoi(metricsPort); err != nil {
		return "", fmt.Errorf("invalid METRICS_PORT value: %s, must be a valid integer", metricsPort)
	}
	return metricsPort, nil
}

// GetEnvRegistryEndpoint returns the intent registry endpoint from environment variables
func GetEnvRegistryEndpoint() (string, error) {
	return getEnvURL("REGISTRY_API_ENDPOINT", DefaultRegistryEndpoint)
}

// GetEnvQuoteEndpoint returns the quote service endpoint from environment variables
func GetEnvQuoteEndpoint() (string, error) {
	return getEnvURL("QUOTE_API_ENDPOINT", DefaultQuoteEndpoint)
}

func getEnvURL(key, def string) (string, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}

	if _, err := url.ParseRequestURI(raw); err != nil {
		return "", fmt.Errorf("invalid %s value: %s, must be a valid URL", key, raw)
	}
	return raw, nil
}

// GetEnvBigInt returns a base-10 big integer from environment variables
func GetEnvBigInt(key, def string) (*big.Int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		raw = def
	}

	v := new(big.Int)
	if _, ok := v.SetString(raw, 10); !ok {
		return nil, fmt.Errorf("invalid %s value: %s, must be a valid integer string", key, raw)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("%s must be greater than or equal to 0", key)
	}
	return v, nil
}

// GetEnvGasBufferMultiplier returns the gas price buffer multiplier from environment variables
func GetEnvGasBufferMultiplier() (float64, error) {
	raw := os.Getenv("GAS_BUFFER_MULTIPLIER")
	if raw == "" {
		return DefaultGasBufferMultiplier, nil
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid GAS_BUFFER_MULTIPLIER value: %s, must be a number", raw)
	}
	if v < 1.0 {
		return 0, fmt.Errorf("GAS_BUFFER_MULTIPLIER must be at least 1.0")
	}
	return v, nil
}

// GetEnvEVMConfig returns the source-chain configuration from environment variables
func GetEnvEVMConfig() (*EVMConfig, error) {
	chainID := int64(DefaultEVMChainID)
	if raw := os.Getenv("EVM_CHAIN_ID"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid EVM_CHAIN_ID value: %s, must be an integer", raw)
		}
		chainID = parsed
	}

	resolverAddr := os.Getenv("RESOLVER_CONTRACT_ADDRESS")
	if resolverAddr != "" && !common.IsHexAddress(resolverAddr) {
		return nil, fmt.Errorf("invalid RESOLVER_CONTRACT_ADDRESS value: %s, must be a valid address", resolverAddr)
	}
	factoryAddr := os.Getenv("ESCROW_FACTORY_ADDRESS")
	if factoryAddr != "" && !common.IsHexAddress(factoryAddr) {
		return nil, fmt.Errorf("invalid ESCROW_FACTORY_ADDRESS value: %s, must be a valid address", factoryAddr)
	}

	maxGasPrice, err := GetEnvBigInt("MAX_GAS_PRICE", DefaultMaxGasPrice)
	if err != nil {
		return nil, err
	}

	return &EVMConfig{
		ChainID:         chainID,
		RPCURL:          os.Getenv("EVM_RPC_URL"),
		PrivateKey:      os.Getenv("EVM_PRIVATE_KEY"),
		ResolverAddress: resolverAddr,
		FactoryAddress:  factoryAddr,
		MaxGasPrice:     maxGasPrice,
	}, nil
}

// GetEnvAptosConfig returns the destination-chain configuration from environment variables
func GetEnvAptosConfig() (*AptosConfig, error) {
	coinType := os.Getenv("APTOS_COIN_TYPE")
	if coinType == "" {
		coinType = DefaultAptosCoinType
	}

	gasUnitPrice := uint64(DefaultAptosGasUnitPrice)
	if raw := os.Getenv("APTOS_GAS_UNIT_PRICE"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid APTOS_GAS_UNIT_PRICE value: %s, must be an integer", raw)
		}
		gasUnitPrice = parsed
	}

	maxGasAmount := uint64(DefaultAptosMaxGasAmount)
	if raw := os.Getenv("APTOS_MAX_GAS_AMOUNT"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid APTOS_MAX_GAS_AMOUNT value: %s, must be an integer", raw)
		}
		maxGasAmount = parsed
	}

	return &AptosConfig{
		NodeURL:      os.Getenv("APTOS_NODE_URL"),
		PrivateKey:   os.Getenv("APTOS_PRIVATE_KEY"),
		EscrowModule: os.Getenv("APTOS_ESCROW_MODULE"),
		CoinType:     coinType,
		GasUnitPrice: gasUnitPrice,
		MaxGasAmount: maxGasAmount,
	}, nil
}

// GetEnvCircuitBreakerEnabled returns whether the circuit breaker is enabled from environment variables
func GetEnvCircuitBreakerEnabled() (bool, error) {
	enabled := os.Getenv("CIRCUIT_BREAKER_ENABLED")
	if enabled == "" {
		return DefaultCircuitBreakerEnabled, nil
	}

	if enabled == "true" {
		return true, nil
	} else if enabled == "false" {
		return false, nil
	}

	return false, fmt.Errorf("invalid CIRCUIT_BREAKER_ENABLED value: %s, must be 'true' or 'false'", enabled)
}

// GetEnvCircuitBreakerThreshold returns the circuit breaker threshold from environment variables
func GetEnvCircuitBreakerThreshold() (int, error) {
	return getEnvPositiveInt("CIRCUIT_BREAKER_THRESHOLD", DefaultCircuitBreakerThreshold)
}

// GetEnvCircuitBreakerWindow returns the circuit breaker window duration from environment variables
func GetEnvCircuitBreakerWindow() (time.Duration, error) {
	window := os.Getenv("CIRCUIT_BREAKER_WINDOW")
	if window == "" {
		return DefaultCircuitBreakerWindow * time.Second, nil
	}

	parsed, err := time.ParseDuration(window)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_WINDOW value: %s, must be a valid duration string", window)
	}
	return parsed, nil
}

// GetEnvCircuitBreakerReset returns the circuit breaker reset timeout from environment variables
func GetEnvCircuitBreakerReset() (time.Duration, error) {
	reset := os.Getenv("CIRCUIT_BREAKER_RESET")
	if reset == "" {
		return DefaultCircuitBreakerReset * time.Second, nil
	}

	parsed, err := time.ParseDuration(reset)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_RESET value: %s, must be a valid duration string", reset)
	}
	return parsed, nil
}

// GetEnvLogLevel returns the configured log level from environment variables
func GetEnvLogLevel() (logger.Level, error) {
	raw := os.Getenv("LOG_LEVEL")
	switch raw {
	case "", "info":
		return logger.InfoLevel, nil
	case "debug":
		return logger.DebugLevel, nil
	case "notice":
		return logger.NoticeLevel, nil
	case "error":
		return logger.ErrorLevel, nil
	}
	return 0, fmt.Errorf("invalid LOG_LEVEL value: %s, must be one of debug, info, notice, error", raw)
}

// GetEnvLogColoring returns whether log coloring is enabled from environment variables
func GetEnvLogColoring() (bool, error) {
	raw := os.Getenv("LOG_COLORING")
	if raw == "" {
		return true, nil
	}
	if raw == "true" {
		return true, nil
	} else if raw == "false" {
		return false, nil
	}
	return false, fmt.Errorf("invalid LOG_COLORING value: %s, must be 'true' or 'false'", raw)
}
