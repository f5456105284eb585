package circuitbreaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/logger"
)

func newTestBreaker(threshold int, resetTimeout time.Duration) *CircuitBreaker {
	return NewCircuitBreaker("evm", true, threshold, time.Minute, resetTimeout, &logger.EmptyLogger{})
}

func TestCircuitBreakerTrips(t *testing.T) {
	cb := newTestBreaker(3, time.Hour)

	assert.False(t, cb.RecordFailure())
	assert.False(t, cb.RecordFailure())
	assert.False(t, cb.IsOpen())

	assert.True(t, cb.RecordFailure(), "third failure crosses the threshold")
	assert.True(t, cb.IsOpen())

	_, _, tripped := cb.State()
	assert.True(t, tripped)
	assert.False(t, cb.TripTime().IsZero())
}

func TestCircuitBreakerSuccessClearsCount(t *testing.T) {
	cb := newTestBreaker(3, time.Hour)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()

	count, _, tripped := cb.State()
	assert.Equal(t, 0, count)
	assert.False(t, tripped)

	// Success does not silently close a tripped circuit.
	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordFailure()
	require.True(t, cb.IsOpen())
	cb.RecordSuccess()
	assert.True(t, cb.IsOpen())
}

func TestCircuitBreakerResetTimeout(t *testing.T) {
	cb := newTestBreaker(1, 20*time.Millisecond)

	assert.True(t, cb.RecordFailure())
	require.True(t, cb.IsOpen())

	time.Sleep(30 * time.Millisecond)
	assert.False(t, cb.IsOpen(), "circuit closes again after the reset timeout")
}

func TestCircuitBreakerManualReset(t *testing.T) {
	cb := newTestBreaker(1, time.Hour)

	cb.RecordFailure()
	require.True(t, cb.IsOpen())

	cb.Reset()
	assert.False(t, cb.IsOpen())
	count, _, tripped := cb.State()
	assert.Equal(t, 0, count)
	assert.False(t, tripped)
}

func TestCircuitBreakerDisabled(t *testing.T) {
	cb := NewCircuitBreaker("aptos", false, 1, time.Minute, time.Hour, &logger.EmptyLogger{})

	assert.False(t, cb.IsEnabled())
	for i := 0; i < 10; i++ {
		assert.False(t, cb.RecordFailure())
	}
	assert.False(t, cb.IsOpen())
}
