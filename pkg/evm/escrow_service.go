// Package evm implements the source-chain escrow adapter: escrow deployment
// through the Resolver contract, secret-based withdrawals, timeout
// cancellations and the balance and allowance plumbing around them.
package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/blockchain"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/config"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/contracts"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/logger"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/metrics"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/models"
)

const (
	receiptTimeout    = 3 * time.Minute
	allowanceCacheTTL = 10 * time.Minute

	// gas units used for profitability estimates
	escrowDeployGas   = 250_000
	escrowWithdrawGas = 120_000
	escrowCancelGas   = 120_000
)

// maxApproval is the unlimited-allowance sentinel (2^256 - 1)
var maxApproval = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// EscrowService manages escrow contract interactions on the EVM chain
type EscrowService struct {
	client       *ethclient.Client
	chainID      *big.Int
	privateKey   *ecdsa.PrivateKey
	address      common.Address
	resolver     *contracts.Resolver
	factory      *contracts.EscrowFactory
	nonceManager *blockchain.NonceManager
	maxGasPrice  *big.Int
	gasBuffer    float64
	logger       logger.Logger

	mu           sync.Mutex
	allowances   map[common.Address]time.Time // tokens approved for the resolver contract
	decimalCache map[common.Address]uint8
}

// NewEscrowService dials the RPC endpoint and binds the resolver and factory
// contracts
func NewEscrowService(cfg config.EVMConfig, gasBuffer float64, log logger.Logger) (*EscrowService, error) {
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to EVM RPC: %v", err)
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid EVM private key: %v", err)
	}
	address := crypto.PubkeyToAddress(privateKey.PublicKey)

	if !common.IsHexAddress(cfg.ResolverAddress) {
		return nil, fmt.Errorf("invalid resolver contract address: %s", cfg.ResolverAddress)
	}
	if !common.IsHexAddress(cfg.FactoryAddress) {
		return nil, fmt.Errorf("invalid escrow factory address: %s", cfg.FactoryAddress)
	}

	return &EscrowService{
		client:       client,
		chainID:      big.NewInt(cfg.ChainID),
		privateKey:   privateKey,
		address:      address,
		resolver:     contracts.NewResolver(common.HexToAddress(cfg.ResolverAddress), client),
		factory:      contracts.NewEscrowFactory(common.HexToAddress(cfg.FactoryAddress), client),
		nonceManager: blockchain.NewNonceManager(address, log),
		maxGasPrice:  cfg.MaxGasPrice,
		gasBuffer:    gasBuffer,
		logger:       log,
		allowances:   make(map[common.Address]time.Time),
		decimalCache: make(map[common.Address]uint8),
	}, nil
}

// Address returns the resolver account address
func (s *EscrowService) Address() common.Address { return s.address }

// ResolverContract returns the resolver contract address
func (s *EscrowService) ResolverContract() common.Address { return s.resolver.Address() }

// Client exposes the underlying RPC client
func (s *EscrowService) Client() *ethclient.Client { return s.client }

// NonceManager exposes the nonce manager for health reporting
func (s *EscrowService) NonceManager() *blockchain.NonceManager { return s.nonceManager }

// Connected reports whether the RPC endpoint answers
func (s *EscrowService) Connected(ctx context.Context) bool {
	_, err := s.client.BlockNumber(ctx)
	return err == nil
}

// CreateSourceEscrow deploys the source escrow by filling the maker's signed
// order through the Resolver contract. The escrow address is extracted from
// the factory's SrcEscrowCreated event; a receipt without that event is a
// hard failure because all later operations need the address.
func (s *EscrowService) CreateSourceEscrow(ctx context.Context, order contracts.Order, sigR, sigVS [32]byte, fillAmount, safetyDeposit *big.Int, args []byte) (*models.EscrowRecord, error) {
	opts, err := s.transactOpts(ctx)
	if err != nil {
		return nil, err
	}
	opts.Value = safetyDeposit

	tx, err := s.resolver.DeploySrc(opts, order, sigR, sigVS, fillAmount, args)
	if err != nil {
		s.nonceManager.MarkTransactionFailed(opts.Nonce.Uint64())
		metrics.TransactionFailures.WithLabelValues(models.ChainEVM, "deploy_src").Inc()
		return nil, fmt.Errorf("deploySrc failed: %v", err)
	}
	s.nonceManager.TrackTransaction(tx.Hash(), opts.Nonce.Uint64())
	s.logger.InfoWithChain(models.ChainEVM, "Source escrow deployment submitted: %s", tx.Hash().Hex())

	receipt, err := s.waitMined(ctx, tx, opts.Nonce.Uint64(), "deploy_src")
	if err != nil {
		return nil, err
	}

	record, err := s.srcEscrowFromReceipt(receipt, tx.Hash())
	if err != nil {
		metrics.TransactionFailures.WithLabelValues(models.ChainEVM, "deploy_src").Inc()
		return nil, err
	}
	metrics.EscrowsCreated.WithLabelValues(models.ChainEVM, "src").Inc()
	s.logger.NoticeWithChain(models.ChainEVM, "Source escrow deployed at %s (block %d)", record.Address, receipt.BlockNumber.Uint64())
	return record, nil
}

// CreateDestinationEscrow deploys a destination escrow on the EVM chain for
// swaps flowing toward it. srcCancellation bounds the destination timelocks
// on-chain.
func (s *EscrowService) CreateDestinationEscrow(ctx context.Context, immutables models.EscrowImmutables, srcCancellation int64) (*models.EscrowRecord, error) {
	// deployDst pulls the escrowed tokens from the resolver account
	if immutables.Token != (common.Address{}) {
		if err := s.EnsureTokenAllowance(ctx, immutables.Token, immutables.Amount); err != nil {
			return nil, err
		}
	}

	opts, err := s.transactOpts(ctx)
	if err != nil {
		return nil, err
	}
	opts.Value = immutables.SafetyDeposit

	tx, err := s.resolver.DeployDst(opts, toContractImmutables(immutables), big.NewInt(srcCancellation))
	if err != nil {
		s.nonceManager.MarkTransactionFailed(opts.Nonce.Uint64())
		metrics.TransactionFailures.WithLabelValues(models.ChainEVM, "deploy_dst").Inc()
		return nil, fmt.Errorf("deployDst failed: %v", err)
	}
	s.nonceManager.TrackTransaction(tx.Hash(), opts.Nonce.Uint64())

	receipt, err := s.waitMined(ctx, tx, opts.Nonce.Uint64(), "deploy_dst")
	if err != nil {
		return nil, err
	}

	record, err := s.dstEscrowFromReceipt(receipt, tx.Hash())
	if err != nil {
		metrics.TransactionFailures.WithLabelValues(models.ChainEVM, "deploy_dst").Inc()
		return nil, err
	}
	metrics.EscrowsCreated.WithLabelValues(models.ChainEVM, "dst").Inc()
	s.logger.NoticeWithChain(models.ChainEVM, "Destination escrow deployed at %s", record.Address)
	return record, nil
}

// WithdrawEscrow submits the secret to an escrow. The immutables must be
// recomputed from the recorded deployment timestamp or the call reverts.
func (s *EscrowService) WithdrawEscrow(ctx context.Context, escrowAddress string, secret [32]byte, immutables models.EscrowImmutables) (string, error) {
	if !common.IsHexAddress(escrowAddress) {
		return "", fmt.Errorf("invalid escrow address: %s", escrowAddress)
	}
	escrow := contracts.NewEscrow(common.HexToAddress(escrowAddress), s.client)

	opts, err := s.transactOpts(ctx)
	if err != nil {
		return "", err
	}

	tx, err := escrow.Withdraw(opts, secret, toContractImmutables(immutables))
	if err != nil {
		s.nonceManager.MarkTransactionFailed(opts.Nonce.Uint64())
		metrics.EscrowWithdrawals.WithLabelValues(models.ChainEVM, "error").Inc()
		return "", fmt.Errorf("withdraw failed: %v", err)
	}
	s.nonceManager.TrackTransaction(tx.Hash(), opts.Nonce.Uint64())

	if _, err := s.waitMined(ctx, tx, opts.Nonce.Uint64(), "withdraw"); err != nil {
		metrics.EscrowWithdrawals.WithLabelValues(models.ChainEVM, "error").Inc()
		return "", err
	}
	metrics.EscrowWithdrawals.WithLabelValues(models.ChainEVM, "success").Inc()
	s.logger.NoticeWithChain(models.ChainEVM, "Escrow %s withdrawn: %s", escrowAddress, tx.Hash().Hex())
	return tx.Hash().Hex(), nil
}

// CancelEscrow returns escrowed funds to the depositor after the
// cancellation window opens
func (s *EscrowService) CancelEscrow(ctx context.Context, escrowAddress string, immutables models.EscrowImmutables) (string, error) {
	if !common.IsHexAddress(escrowAddress) {
		return "", fmt.Errorf("invalid escrow address: %s", escrowAddress)
	}
	escrow := contracts.NewEscrow(common.HexToAddress(escrowAddress), s.client)

	opts, err := s.transactOpts(ctx)
	if err != nil {
		return "", err
	}

	tx, err := escrow.Cancel(opts, toContractImmutables(immutables))
	if err != nil {
		s.nonceManager.MarkTransactionFailed(opts.Nonce.Uint64())
		metrics.EscrowCancellations.WithLabelValues(models.ChainEVM, "error").Inc()
		return "", fmt.Errorf("cancel failed: %v", err)
	}
	s.nonceManager.TrackTransaction(tx.Hash(), opts.Nonce.Uint64())

	if _, err := s.waitMined(ctx, tx, opts.Nonce.Uint64(), "cancel"); err != nil {
		metrics.EscrowCancellations.WithLabelValues(models.ChainEVM, "error").Inc()
		return "", err
	}
	metrics.EscrowCancellations.WithLabelValues(models.ChainEVM, "success").Inc()
	s.logger.NoticeWithChain(models.ChainEVM, "Escrow %s cancelled: %s", escrowAddress, tx.Hash().Hex())
	return tx.Hash().Hex(), nil
}

// EscrowAddressFor computes the deterministic source escrow address for an
// immutables tuple without submitting anything
func (s *EscrowService) EscrowAddressFor(ctx context.Context, immutables models.EscrowImmutables) (common.Address, error) {
	return s.factory.AddressOfEscrowSrc(&bind.CallOpts{Context: ctx}, toContractImmutables(immutables))
}

// NativeBalance returns the resolver account's native balance
func (s *EscrowService) NativeBalance(ctx context.Context) (*big.Int, error) {
	balance, err := s.client.BalanceAt(ctx, s.address, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get native balance: %v", err)
	}
	return balance, nil
}

// TokenBalance returns the resolver account's balance of a token
func (s *EscrowService) TokenBalance(ctx context.Context, token common.Address) (*big.Int, error) {
	erc20 := contracts.NewERC20(token, s.client)
	balance, err := erc20.BalanceOf(&bind.CallOpts{Context: ctx}, s.address)
	if err != nil {
		return nil, fmt.Errorf("failed to get token balance for %s: %v", token.Hex(), err)
	}
	balanceFloat, _ := new(big.Float).SetInt(balance).Float64()
	metrics.TokenBalance.WithLabelValues(models.ChainEVM, token.Hex()).Set(balanceFloat)
	return balance, nil
}

// TokenDecimals returns a token's decimals, cached after the first call.
// Tokens that do not implement decimals() are assumed to use 18.
func (s *EscrowService) TokenDecimals(ctx context.Context, token common.Address) uint8 {
	s.mu.Lock()
	if d, ok := s.decimalCache[token]; ok {
		s.mu.Unlock()
		return d
	}
	s.mu.Unlock()

	erc20 := contracts.NewERC20(token, s.client)
	decimals, err := erc20.Decimals(&bind.CallOpts{Context: ctx})
	if err != nil {
		s.logger.DebugWithChain(models.ChainEVM, "Token %s decimals call failed, assuming 18: %v", token.Hex(), err)
		decimals = 18
	}

	s.mu.Lock()
	s.decimalCache[token] = decimals
	s.mu.Unlock()
	return decimals
}

// EnsureTokenAllowance makes sure the resolver contract can pull the token
// from the resolver account, approving the unlimited sentinel when the
// current allowance is below the needed amount. A fresh approval is cached
// so repeated fills of the same token skip the allowance call.
func (s *EscrowService) EnsureTokenAllowance(ctx context.Context, token common.Address, amount *big.Int) error {
	s.mu.Lock()
	approvedAt, ok := s.allowances[token]
	s.mu.Unlock()
	if ok && time.Since(approvedAt) < allowanceCacheTTL {
		return nil
	}

	erc20 := contracts.NewERC20(token, s.client)
	spender := s.resolver.Address()

	allowance, err := erc20.Allowance(&bind.CallOpts{Context: ctx}, s.address, spender)
	if err != nil {
		return fmt.Errorf("failed to check allowance for %s: %v", token.Hex(), err)
	}
	if allowance.Cmp(amount) >= 0 {
		s.mu.Lock()
		s.allowances[token] = time.Now()
		s.mu.Unlock()
		return nil
	}

	opts, err := s.transactOpts(ctx)
	if err != nil {
		return err
	}
	tx, err := erc20.Approve(opts, spender, maxApproval)
	if err != nil {
		s.nonceManager.MarkTransactionFailed(opts.Nonce.Uint64())
		return fmt.Errorf("failed to approve %s: %v", token.Hex(), err)
	}
	s.nonceManager.TrackTransaction(tx.Hash(), opts.Nonce.Uint64())

	if _, err := s.waitMined(ctx, tx, opts.Nonce.Uint64(), "approve"); err != nil {
		return err
	}

	s.mu.Lock()
	s.allowances[token] = time.Now()
	s.mu.Unlock()
	s.logger.InfoWithChain(models.ChainEVM, "Approved token %s for resolver contract: %s", token.Hex(), tx.Hash().Hex())
	return nil
}

// GasPrice returns the buffered gas price the service would currently use
func (s *EscrowService) GasPrice(ctx context.Context) (*big.Int, error) {
	suggested, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %v", err)
	}

	buffered := new(big.Float).Mul(new(big.Float).SetInt(suggested), big.NewFloat(s.gasBuffer))
	price, _ := buffered.Int(nil)
	if s.maxGasPrice != nil && s.maxGasPrice.Sign() > 0 && price.Cmp(s.maxGasPrice) > 0 {
		price = new(big.Int).Set(s.maxGasPrice)
	}

	priceFloat, _ := new(big.Float).SetInt(price).Float64()
	metrics.GasPrice.WithLabelValues(models.ChainEVM).Set(priceFloat)
	return price, nil
}

// EstimateSwapGasCost estimates the total native cost of the source-chain
// leg of one swap: deployment, withdrawal and a cancellation reserve.
func (s *EscrowService) EstimateSwapGasCost(ctx context.Context) (*big.Int, error) {
	price, err := s.GasPrice(ctx)
	if err != nil {
		return nil, err
	}
	units := new(big.Int).SetUint64(escrowDeployGas + escrowWithdrawGas + escrowCancelGas)
	return new(big.Int).Mul(price, units), nil
}

// transactOpts builds signed transact options with a reserved nonce and a
// buffered, capped gas price
func (s *EscrowService) transactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(s.privateKey, s.chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %v", err)
	}
	opts.Context = ctx

	nonce, err := s.nonceManager.GetNonce(ctx, s.client)
	if err != nil {
		return nil, err
	}
	opts.Nonce = new(big.Int).SetUint64(nonce)

	price, err := s.GasPrice(ctx)
	if err != nil {
		s.nonceManager.MarkTransactionFailed(nonce)
		return nil, err
	}
	opts.GasPrice = price
	return opts, nil
}

// waitMined waits for a receipt and reconciles the nonce manager with the
// outcome
func (s *EscrowService) waitMined(ctx context.Context, tx *types.Transaction, nonce uint64, operation string) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, receiptTimeout)
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, s.client, tx)
	if err != nil {
		metrics.TransactionFailures.WithLabelValues(models.ChainEVM, operation).Inc()
		return nil, fmt.Errorf("failed waiting for %s receipt %s: %v", operation, tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		s.nonceManager.MarkTransactionConfirmed(nonce)
		metrics.TransactionFailures.WithLabelValues(models.ChainEVM, operation).Inc()
		return nil, fmt.Errorf("%s transaction %s reverted", operation, tx.Hash().Hex())
	}
	s.nonceManager.MarkTransactionConfirmed(nonce)
	return receipt, nil
}

func (s *EscrowService) srcEscrowFromReceipt(receipt *types.Receipt, txHash common.Hash) (*models.EscrowRecord, error) {
	for _, vLog := range receipt.Logs {
		if len(vLog.Topics) == 0 || vLog.Topics[0] != contracts.SrcEscrowCreatedID() {
			continue
		}
		event, err := s.factory.ParseSrcEscrowCreated(*vLog)
		if err != nil {
			return nil, fmt.Errorf("failed to decode SrcEscrowCreated in tx %s: %v", txHash.Hex(), err)
		}
		return &models.EscrowRecord{
			TxHash:     txHash.Hex(),
			Address:    event.Escrow.Hex(),
			DeployedAt: s.blockTimestamp(receipt),
		}, nil
	}
	return nil, fmt.Errorf("no SrcEscrowCreated event in tx %s", txHash.Hex())
}

func (s *EscrowService) dstEscrowFromReceipt(receipt *types.Receipt, txHash common.Hash) (*models.EscrowRecord, error) {
	for _, vLog := range receipt.Logs {
		if len(vLog.Topics) == 0 || vLog.Topics[0] != contracts.DstEscrowCreatedID() {
			continue
		}
		event, err := s.factory.ParseDstEscrowCreated(*vLog)
		if err != nil {
			return nil, fmt.Errorf("failed to decode DstEscrowCreated in tx %s: %v", txHash.Hex(), err)
		}
		return &models.EscrowRecord{
			TxHash:     txHash.Hex(),
			Address:    event.Escrow.Hex(),
			DeployedAt: s.blockTimestamp(receipt),
		}, nil
	}
	return nil, fmt.Errorf("no DstEscrowCreated event in tx %s", txHash.Hex())
}

// blockTimestamp resolves the timestamp of the receipt's block. This is the
// value escrow timelocks are anchored to, so a lookup failure falls back to
// local time only as a last resort.
func (s *EscrowService) blockTimestamp(receipt *types.Receipt) int64 {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	header, err := s.client.HeaderByNumber(ctx, receipt.BlockNumber)
	if err != nil {
		s.logger.ErrorWithChain(models.ChainEVM, "Failed to fetch block %d header, using local time: %v", receipt.BlockNumber.Uint64(), err)
		return time.Now().Unix()
	}
	return int64(header.Time)
}

// toContractImmutables converts the resolver's immutables into the ABI tuple
func toContractImmutables(im models.EscrowImmutables) contracts.Immutables {
	return contracts.Immutables{
		OrderHash:     im.OrderHash,
		Hashlock:      im.HashLock,
		Maker:         im.Maker,
		Taker:         im.Taker,
		Token:         im.Token,
		Amount:        im.Amount,
		SafetyDeposit: im.SafetyDeposit,
		Timelocks:     im.TimeLocks.Pack(),
	}
}
