// Package blockchain holds shared EVM plumbing used by the escrow service:
// serialized nonce allocation with pending transaction tracking.
package blockchain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/logger"
)

// TransactionStatus represents the status of a tracked transaction
type TransactionStatus int

const (
	// TxPending indicates transaction is pending
	TxPending TransactionStatus = iota
	// TxConfirmed indicates transaction is confirmed
	TxConfirmed
	// TxFailed indicates transaction has failed
	TxFailed
	// TxTimedOut indicates transaction has timed out
	TxTimedOut
)

// TransactionRecord tracks details about a submitted transaction
type TransactionRecord struct {
	Hash      common.Hash
	Nonce     uint64
	CreatedAt time.Time
	UpdatedAt time.Time
	Status    TransactionStatus
}

// PendingNonceReader is the chain client surface the nonce manager needs
type PendingNonceReader interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// NonceManager serializes nonce allocation for the resolver account.
// Escrow deployments, withdrawals and cancellations all go through it, so
// concurrent order processing never produces nonce collisions.
type NonceManager struct {
	mu sync.Mutex

	address      common.Address
	currentNonce uint64
	pendingTxs   map[uint64]*TransactionRecord
	lastSync     time.Time
	syncInterval time.Duration
	txTimeout    time.Duration
	logger       logger.Logger
}

// NewNonceManager creates a nonce manager for the given account
func NewNonceManager(address common.Address, log logger.Logger) *NonceManager {
	return &NonceManager{
		address:      address,
		pendingTxs:   make(map[uint64]*TransactionRecord),
		syncInterval: 5 * time.Minute,
		txTimeout:    5 * time.Minute,
		logger:       log,
	}
}

// SetTransactionTimeout sets how long a pending transaction may stay
// unconfirmed before FindTimedOutTransactions reports it
func (nm *NonceManager) SetTransactionTimeout(timeout time.Duration) {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	nm.txTimeout = timeout
}

// GetNonce reserves and returns the next available nonce, resyncing with
// the chain when the local counter is stale
func (nm *NonceManager) GetNonce(ctx context.Context, client PendingNonceReader) (uint64, error) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	if nm.lastSync.IsZero() || time.Since(nm.lastSync) > nm.syncInterval {
		nonce, err := client.PendingNonceAt(ctx, nm.address)
		if err != nil {
			return 0, fmt.Errorf("failed to get pending nonce: %v", err)
		}
		if nonce > nm.currentNonce {
			nm.logger.DebugWithChain("evm", "Updating nonce: %d -> %d", nm.currentNonce, nonce)
			nm.currentNonce = nonce
		}
		nm.lastSync = time.Now()
	}

	nonce := nm.currentNonce
	nm.currentNonce++
	return nonce, nil
}

// TrackTransaction records a submitted transaction against its nonce
func (nm *NonceManager) TrackTransaction(txHash common.Hash, nonce uint64) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	now := time.Now()
	nm.pendingTxs[nonce] = &TransactionRecord{
		Hash:      txHash,
		Nonce:     nonce,
		CreatedAt: now,
		UpdatedAt: now,
		Status:    TxPending,
	}
	nm.logger.DebugWithChain("evm", "Tracking transaction with nonce %d: %s", nonce, txHash.Hex())
}

// MarkTransactionConfirmed removes a confirmed transaction from tracking
func (nm *NonceManager) MarkTransactionConfirmed(nonce uint64) bool {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	tx, exists := nm.pendingTxs[nonce]
	if !exists {
		nm.logger.DebugWithChain("evm", "No pending transaction found for nonce %d", nonce)
		return false
	}
	nm.logger.DebugWithChain("evm", "Transaction confirmed for nonce %d: %s", nonce, tx.Hash.Hex())
	delete(nm.pendingTxs, nonce)
	return true
}

// MarkTransactionFailed removes a failed transaction and frees its nonce for
// reuse when no lower nonce is still pending
func (nm *NonceManager) MarkTransactionFailed(nonce uint64) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	tx, exists := nm.pendingTxs[nonce]
	if !exists {
		nm.logger.DebugWithChain("evm", "No pending transaction found for nonce %d", nonce)
		return
	}
	nm.logger.InfoWithChain("evm", "Transaction failed for nonce %d: %s", nonce, tx.Hash.Hex())
	delete(nm.pendingTxs, nonce)

	if nonce == nm.lowestPendingNonceLocked() || len(nm.pendingTxs) == 0 {
		if nm.currentNonce > nonce {
			nm.currentNonce = nonce
			nm.logger.InfoWithChain("evm", "Reusing nonce %d after transaction failure", nonce)
		}
	}
}

// FindTimedOutTransactions marks and returns nonces whose transactions have
// been pending longer than the timeout
func (nm *NonceManager) FindTimedOutTransactions() []uint64 {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	now := time.Now()
	var timedOut []uint64
	for nonce, tx := range nm.pendingTxs {
		if tx.Status == TxPending && now.Sub(tx.CreatedAt) > nm.txTimeout {
			tx.Status = TxTimedOut
			tx.UpdatedAt = now
			nm.logger.InfoWithChain("evm", "Transaction timed out for nonce %d: %s", nonce, tx.Hash.Hex())
			timedOut = append(timedOut, nonce)
		}
	}
	return timedOut
}

// SyncWithBlockchain forces a resync of the local counter with the chain
func (nm *NonceManager) SyncWithBlockchain(ctx context.Context, client PendingNonceReader) error {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	nonce, err := client.PendingNonceAt(ctx, nm.address)
	if err != nil {
		return fmt.Errorf("failed to get pending nonce: %v", err)
	}
	if nonce > nm.currentNonce {
		nm.logger.InfoWithChain("evm", "Updating nonce: %d -> %d", nm.currentNonce, nonce)
		nm.currentNonce = nonce
	}
	nm.lastSync = time.Now()
	return nil
}

// PendingTransactionsCount returns the number of tracked transactions
func (nm *NonceManager) PendingTransactionsCount() int {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	return len(nm.pendingTxs)
}

func (nm *NonceManager) lowestPendingNonceLocked() uint64 {
	var lowest uint64
	first := true
	for nonce := range nm.pendingTxs {
		if first || nonce < lowest {
			lowest = nonce
			first = false
		}
	}
	return lowest
}
