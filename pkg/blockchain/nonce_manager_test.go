package blockchain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/logger"
)

type fakeNonceReader struct {
	nonce uint64
	err   error
	calls int
}

func (f *fakeNonceReader) PendingNonceAt(_ context.Context, _ common.Address) (uint64, error) {
	f.calls++
	return f.nonce, f.err
}

func testAddress() common.Address {
	return common.HexToAddress("0x3F8C962eb167aD2f80C72b5F933511CcDF0719D4")
}

func TestGetNonceSequential(t *testing.T) {
	nm := NewNonceManager(testAddress(), &logger.EmptyLogger{})
	reader := &fakeNonceReader{nonce: 10}

	for want := uint64(10); want < 13; want++ {
		got, err := nm.GetNonce(context.Background(), reader)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, 1, reader.calls, "only the first allocation hits the chain")
}

func TestGetNonceSyncError(t *testing.T) {
	nm := NewNonceManager(testAddress(), &logger.EmptyLogger{})
	reader := &fakeNonceReader{err: errors.New("rpc down")}

	_, err := nm.GetNonce(context.Background(), reader)
	assert.Error(t, err)
}

func TestMarkTransactionConfirmed(t *testing.T) {
	nm := NewNonceManager(testAddress(), &logger.EmptyLogger{})

	nm.TrackTransaction(common.HexToHash("0x01"), 5)
	assert.Equal(t, 1, nm.PendingTransactionsCount())

	assert.True(t, nm.MarkTransactionConfirmed(5))
	assert.Equal(t, 0, nm.PendingTransactionsCount())

	assert.False(t, nm.MarkTransactionConfirmed(5), "confirming twice is a no-op")
}

func TestMarkTransactionFailedReusesNonce(t *testing.T) {
	nm := NewNonceManager(testAddress(), &logger.EmptyLogger{})
	reader := &fakeNonceReader{nonce: 7}

	first, err := nm.GetNonce(context.Background(), reader)
	require.NoError(t, err)
	require.Equal(t, uint64(7), first)

	nm.TrackTransaction(common.HexToHash("0xaa"), first)
	nm.MarkTransactionFailed(first)

	// The freed nonce is handed out again instead of leaving a gap.
	again, err := nm.GetNonce(context.Background(), reader)
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestMarkTransactionFailedKeepsHigherNoncePending(t *testing.T) {
	nm := NewNonceManager(testAddress(), &logger.EmptyLogger{})
	reader := &fakeNonceReader{nonce: 0}

	a, err := nm.GetNonce(context.Background(), reader)
	require.NoError(t, err)
	b, err := nm.GetNonce(context.Background(), reader)
	require.NoError(t, err)

	nm.TrackTransaction(common.HexToHash("0xaa"), a)
	nm.TrackTransaction(common.HexToHash("0xbb"), b)

	// Failing the higher nonce must not rewind below the still-pending one.
	nm.MarkTransactionFailed(b)
	next, err := nm.GetNonce(context.Background(), reader)
	require.NoError(t, err)
	assert.Equal(t, b+1, next)
}

func TestFindTimedOutTransactions(t *testing.T) {
	nm := NewNonceManager(testAddress(), &logger.EmptyLogger{})
	nm.SetTransactionTimeout(10 * time.Millisecond)

	nm.TrackTransaction(common.HexToHash("0x01"), 1)
	assert.Empty(t, nm.FindTimedOutTransactions())

	time.Sleep(20 * time.Millisecond)
	timedOut := nm.FindTimedOutTransactions()
	require.Len(t, timedOut, 1)
	assert.Equal(t, uint64(1), timedOut[0])

	// A timed-out transaction is only reported once.
	assert.Empty(t, nm.FindTimedOutTransactions())
}

func TestSyncWithBlockchain(t *testing.T) {
	nm := NewNonceManager(testAddress(), &logger.EmptyLogger{})
	reader := &fakeNonceReader{nonce: 3}

	_, err := nm.GetNonce(context.Background(), reader)
	require.NoError(t, err)

	reader.nonce = 50
	require.NoError(t, nm.SyncWithBlockchain(context.Background(), reader))

	got, err := nm.GetNonce(context.Background(), reader)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), got, "forced sync adopts the higher chain nonce")
}
