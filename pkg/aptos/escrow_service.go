package aptos

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/config"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/logger"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/metrics"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/models"
)

// EscrowService drives the escrow Move module on Aptos. The destination leg
// of a swap locks the resolver's coins for the maker's recipient address
// under the same hashlock as the source escrow.
type EscrowService struct {
	client       *Client
	escrowModule string
	coinType     string
	logger       logger.Logger
}

// escrowCreatedData is the payload of the module's EscrowCreated event
type escrowCreatedData struct {
	OrderHash string `json:"order_hash"`
	Escrow    string `json:"escrow"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
}

// NewEscrowService creates the Aptos escrow adapter
func NewEscrowService(cfg config.AptosConfig, log logger.Logger) (*EscrowService, error) {
	client, err := NewClient(cfg, log)
	if err != nil {
		return nil, err
	}
	module := strings.TrimSuffix(cfg.EscrowModule, "::")
	if !strings.Contains(module, "::") {
		return nil, fmt.Errorf("invalid escrow module %q, expected address::module", cfg.EscrowModule)
	}
	return &EscrowService{
		client:       client,
		escrowModule: module,
		coinType:     cfg.CoinType,
		logger:       log,
	}, nil
}

// Client exposes the underlying fullnode client
func (s *EscrowService) Client() *Client { return s.client }

// Address returns the resolver's Aptos account address
func (s *EscrowService) Address() string { return s.client.Address() }

// Connected reports whether the fullnode answers
func (s *EscrowService) Connected(ctx context.Context) bool {
	return s.client.Connected(ctx)
}

// CreateEscrow locks amount plus the safety deposit for the recipient under
// the given hashlock. The escrow object address comes from the module's
// EscrowCreated event; a transaction without it is a hard failure.
func (s *EscrowService) CreateEscrow(ctx context.Context, orderHash, hashLock [32]byte, recipient string, amount, safetyDeposit *big.Int, timelocks models.TimeLocks) (*models.EscrowRecord, error) {
	payload := EntryFunctionPayload{
		Type:          "entry_function_payload",
		Function:      s.escrowModule + "::create_escrow",
		TypeArguments: []string{s.coinType},
		Arguments: []interface{}{
			hexArg(orderHash[:]),
			hexArg(hashLock[:]),
			recipient,
			amount.String(),
			safetyDeposit.String(),
			strconv.FormatUint(uint64(timelocks.DstWithdrawal), 10),
			strconv.FormatUint(uint64(timelocks.DstPublicWithdrawal), 10),
			strconv.FormatUint(uint64(timelocks.DstCancellation), 10),
		},
	}

	tx, err := s.client.SubmitEntryFunction(ctx, payload)
	if err != nil {
		metrics.TransactionFailures.WithLabelValues(models.ChainAptos, "create_escrow").Inc()
		return nil, fmt.Errorf("create_escrow failed: %v", err)
	}

	record, err := s.escrowFromTransaction(tx)
	if err != nil {
		metrics.TransactionFailures.WithLabelValues(models.ChainAptos, "create_escrow").Inc()
		return nil, err
	}
	metrics.EscrowsCreated.WithLabelValues(models.ChainAptos, "dst").Inc()
	s.logger.NoticeWithChain(models.ChainAptos, "Destination escrow created at %s: %s", record.Address, tx.Hash)
	return record, nil
}

// WithdrawEscrow reveals the secret to release the escrowed coins to the
// recipient
func (s *EscrowService) WithdrawEscrow(ctx context.Context, orderHash, secret [32]byte) (string, error) {
	payload := EntryFunctionPayload{
		Type:          "entry_function_payload",
		Function:      s.escrowModule + "::withdraw",
		TypeArguments: []string{s.coinType},
		Arguments: []interface{}{
			hexArg(orderHash[:]),
			hexArg(secret[:]),
		},
	}

	tx, err := s.client.SubmitEntryFunction(ctx, payload)
	if err != nil {
		metrics.EscrowWithdrawals.WithLabelValues(models.ChainAptos, "error").Inc()
		return "", fmt.Errorf("withdraw failed: %v", err)
	}
	metrics.EscrowWithdrawals.WithLabelValues(models.ChainAptos, "success").Inc()
	s.logger.NoticeWithChain(models.ChainAptos, "Escrow withdrawn for order %#x: %s", orderHash, tx.Hash)
	return tx.Hash, nil
}

// CancelEscrow reclaims the escrowed coins after the cancellation window
// opens
func (s *EscrowService) CancelEscrow(ctx context.Context, orderHash [32]byte) (string, error) {
	payload := EntryFunctionPayload{
		Type:          "entry_function_payload",
		Function:      s.escrowModule + "::cancel",
		TypeArguments: []string{s.coinType},
		Arguments: []interface{}{
			hexArg(orderHash[:]),
		},
	}

	tx, err := s.client.SubmitEntryFunction(ctx, payload)
	if err != nil {
		metrics.EscrowCancellations.WithLabelValues(models.ChainAptos, "error").Inc()
		return "", fmt.Errorf("cancel failed: %v", err)
	}
	metrics.EscrowCancellations.WithLabelValues(models.ChainAptos, "success").Inc()
	s.logger.NoticeWithChain(models.ChainAptos, "Escrow cancelled for order %#x: %s", orderHash, tx.Hash)
	return tx.Hash, nil
}

// EnsureCoinRegistered registers a CoinStore for the configured coin type
// if the account does not hold one yet. Withdrawals deposit into the store,
// so registration has to happen before the first swap.
func (s *EscrowService) EnsureCoinRegistered(ctx context.Context) error {
	var store struct {
		Coin struct {
			Value string `json:"value"`
		} `json:"coin"`
	}
	resourceType := fmt.Sprintf("0x1::coin::CoinStore<%s>", s.coinType)
	if err := s.client.AccountResource(ctx, s.client.Address(), resourceType, &store); err == nil {
		return nil
	}

	payload := EntryFunctionPayload{
		Type:          "entry_function_payload",
		Function:      "0x1::managed_coin::register",
		TypeArguments: []string{s.coinType},
		Arguments:     []interface{}{},
	}
	tx, err := s.client.SubmitEntryFunction(ctx, payload)
	if err != nil {
		return fmt.Errorf("coin registration failed: %v", err)
	}
	s.logger.NoticeWithChain(models.ChainAptos, "Registered coin store for %s: %s", s.coinType, tx.Hash)
	return nil
}

// AccountBalance returns the resolver's balance of the configured coin type
func (s *EscrowService) AccountBalance(ctx context.Context) (*big.Int, error) {
	var store struct {
		Coin struct {
			Value string `json:"value"`
		} `json:"coin"`
	}
	resourceType := fmt.Sprintf("0x1::coin::CoinStore<%s>", s.coinType)
	if err := s.client.AccountResource(ctx, s.client.Address(), resourceType, &store); err != nil {
		return nil, fmt.Errorf("failed to fetch coin store: %v", err)
	}
	balance, ok := new(big.Int).SetString(store.Coin.Value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid coin store value: %q", store.Coin.Value)
	}
	return balance, nil
}

// escrowFromTransaction extracts the EscrowCreated event from an executed
// transaction
func (s *EscrowService) escrowFromTransaction(tx *Transaction) (*models.EscrowRecord, error) {
	eventType := s.escrowModule + "::EscrowCreated"
	for _, event := range tx.Events {
		// event types carry the generic coin type suffix
		if event.Type != eventType && !strings.HasPrefix(event.Type, eventType+"<") {
			continue
		}
		var data escrowCreatedData
		if err := json.Unmarshal(event.Data, &data); err != nil {
			return nil, fmt.Errorf("failed to decode EscrowCreated in tx %s: %v", tx.Hash, err)
		}
		if data.Escrow == "" {
			return nil, fmt.Errorf("EscrowCreated event without escrow address in tx %s", tx.Hash)
		}
		return &models.EscrowRecord{
			TxHash:     tx.Hash,
			Address:    data.Escrow,
			DeployedAt: transactionTimestamp(tx),
		}, nil
	}
	return nil, fmt.Errorf("no EscrowCreated event in tx %s", tx.Hash)
}

// transactionTimestamp converts the fullnode's microsecond timestamp to unix
// seconds
func transactionTimestamp(tx *Transaction) int64 {
	micros, err := strconv.ParseInt(tx.Timestamp, 10, 64)
	if err != nil {
		return 0
	}
	return micros / 1_000_000
}

func hexArg(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}
