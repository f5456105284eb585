package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnvPollingInterval(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		got, err := GetEnvPollingInterval()
		require.NoError(t, err)
		assert.Equal(t, DefaultPollingInterval*time.Second, got)
	})

	t.Run("override", func(t *testing.T) {
		t.Setenv("POLLING_INTERVAL", "30")
		got, err := GetEnvPollingInterval()
		require.NoError(t, err)
		assert.Equal(t, 30*time.Second, got)
	})

	t.Run("rejects non-integer", func(t *testing.T) {
		t.Setenv("POLLING_INTERVAL", "fast")
		_, err := GetEnvPollingInterval()
		assert.Error(t, err)
	})

	t.Run("rejects zero", func(t *testing.T) {
		t.Setenv("POLLING_INTERVAL", "0")
		_, err := GetEnvPollingInterval()
		assert.Error(t, err)
	})
}

func TestGetEnvMinFillPercent(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		got, err := GetEnvMinFillPercent()
		require.NoError(t, err)
		assert.Equal(t, DefaultMinFillPercent, got)
	})

	t.Run("rejects over 100", func(t *testing.T) {
		t.Setenv("MIN_FILL_PERCENT", "110")
		_, err := GetEnvMinFillPercent()
		assert.Error(t, err)
	})
}

func TestGetEnvMinProfitBPS(t *testing.T) {
	t.Run("zero is allowed", func(t *testing.T) {
		t.Setenv("MIN_PROFIT_BPS", "0")
		got, err := GetEnvMinProfitBPS()
		require.NoError(t, err)
		assert.Equal(t, 0, got)
	})

	t.Run("rejects negative", func(t *testing.T) {
		t.Setenv("MIN_PROFIT_BPS", "-5")
		_, err := GetEnvMinProfitBPS()
		assert.Error(t, err)
	})
}

func TestGetEnvMetricsPort(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		got, err := GetEnvMetricsPort()
		require.NoError(t, err)
		assert.Equal(t, DefaultMetricsPort, got)
	})

	t.Run("rejects garbage", func(t *testing.T) {
		t.Setenv("METRICS_PORT", "http")
		_, err := GetEnvMetricsPort()
		assert.Error(t, err)
	})
}

func TestGetEnvBigInt(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		got, err := GetEnvBigInt("MIN_EVM_BALANCE", DefaultMinEVMBalance)
		require.NoError(t, err)
		assert.Equal(t, DefaultMinEVMBalance, got.String())
	})

	t.Run("override", func(t *testing.T) {
		t.Setenv("MIN_EVM_BALANCE", "42")
		got, err := GetEnvBigInt("MIN_EVM_BALANCE", DefaultMinEVMBalance)
		require.NoError(t, err)
		assert.Equal(t, int64(42), got.Int64())
	})

	t.Run("rejects negative", func(t *testing.T) {
		t.Setenv("MIN_EVM_BALANCE", "-1")
		_, err := GetEnvBigInt("MIN_EVM_BALANCE", DefaultMinEVMBalance)
		assert.Error(t, err)
	})

	t.Run("rejects hex", func(t *testing.T) {
		t.Setenv("MIN_EVM_BALANCE", "0xff")
		_, err := GetEnvBigInt("MIN_EVM_BALANCE", DefaultMinEVMBalance)
		assert.Error(t, err)
	})
}

func TestGetEnvGasBufferMultiplier(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		got, err := GetEnvGasBufferMultiplier()
		require.NoError(t, err)
		assert.Equal(t, DefaultGasBufferMultiplier, got)
	})

	t.Run("rejects below one", func(t *testing.T) {
		t.Setenv("GAS_BUFFER_MULTIPLIER", "0.5")
		_, err := GetEnvGasBufferMultiplier()
		assert.Error(t, err)
	})
}

func TestGetEnvRegistryEndpoint(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		got, err := GetEnvRegistryEndpoint()
		require.NoError(t, err)
		assert.Equal(t, DefaultRegistryEndpoint, got)
	})

	t.Run("rejects invalid url", func(t *testing.T) {
		t.Setenv("REGISTRY_API_ENDPOINT", "not a url")
		_, err := GetEnvRegistryEndpoint()
		assert.Error(t, err)
	})
}
