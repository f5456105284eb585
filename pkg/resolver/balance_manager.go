package resolver

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/aptos"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/evm"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/logger"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/metrics"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/models"
)

// BalanceManager answers two questions before any escrow is deployed: does
// the resolver hold enough on both chains for this specific swap, and are
// the wallet floors still respected so one swap cannot drain the account.
type BalanceManager struct {
	evmService      *evm.EscrowService
	aptosService    *aptos.EscrowService
	minEVMBalance   *big.Int
	minAptosBalance *big.Int
	logger          logger.Logger
}

// NewBalanceManager creates a balance manager
func NewBalanceManager(evmService *evm.EscrowService, aptosService *aptos.EscrowService, minEVM, minAptos *big.Int, log logger.Logger) *BalanceManager {
	return &BalanceManager{
		evmService:      evmService,
		aptosService:    aptosService,
		minEVMBalance:   minEVM,
		minAptosBalance: minAptos,
		logger:          log,
	}
}

// CheckMinimumBalances verifies both wallets are above their configured
// floors. A swap is never attempted from below the floor even if the swap
// itself would fit.
func (m *BalanceManager) CheckMinimumBalances(ctx context.Context) (*models.MinimumBalanceReport, error) {
	evmBalance, aptosBalance, err := m.readBalances(ctx)
	if err != nil {
		return nil, err
	}

	evmFloat, _ := new(big.Float).SetInt(evmBalance).Float64()
	aptosFloat, _ := new(big.Float).SetInt(aptosBalance).Float64()
	metrics.ChainBalance.WithLabelValues(models.ChainEVM).Set(evmFloat)
	metrics.ChainBalance.WithLabelValues(models.ChainAptos).Set(aptosFloat)

	return floorReport(evmBalance, aptosBalance, m.minEVMBalance, m.minAptosBalance), nil
}

// CheckIntentBalances verifies the resolver can fund one specific swap:
// the source safety deposit plus a gas reserve on the EVM side, and the
// taking amount plus the destination safety deposit on Aptos. It runs
// before the fill is known, so the full notional is reserved.
func (m *BalanceManager) CheckIntentBalances(ctx context.Context, intent *models.Intent) (*models.BalanceCheck, error) {
	takingAmount, err := intent.TakingAmountBig()
	if err != nil {
		return nil, err
	}
	depositSrc, err := intent.SafetyDepositSrcBig()
	if err != nil {
		return nil, err
	}
	depositDst, err := intent.SafetyDepositDstBig()
	if err != nil {
		return nil, err
	}

	evmBalance, aptosBalance, err := m.readBalances(ctx)
	if err != nil {
		return nil, err
	}
	gasReserve, err := m.evmService.EstimateSwapGasCost(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to estimate gas cost: %v", err)
	}

	evmRequired := new(big.Int).Add(depositSrc, gasReserve)
	aptosRequired := new(big.Int).Add(takingAmount, depositDst)

	check := intentBalanceCheck(evmBalance, aptosBalance, evmRequired, aptosRequired)
	if !check.Sufficient {
		m.logger.Info("Insufficient balances for intent %s: evm %s/%s, aptos %s/%s",
			intent.ID, evmBalance, evmRequired, aptosBalance, aptosRequired)
	}
	return check, nil
}

// readBalances reads both chain balances concurrently
func (m *BalanceManager) readBalances(ctx context.Context) (*big.Int, *big.Int, error) {
	var (
		wg                       sync.WaitGroup
		evmBalance, aptosBalance *big.Int
		evmErr, aptosErr         error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		evmBalance, evmErr = m.evmService.NativeBalance(ctx)
	}()
	go func() {
		defer wg.Done()
		aptosBalance, aptosErr = m.aptosService.AccountBalance(ctx)
	}()
	wg.Wait()

	if evmErr != nil {
		return nil, nil, fmt.Errorf("failed to read EVM balance: %v", evmErr)
	}
	if aptosErr != nil {
		return nil, nil, fmt.Errorf("failed to read Aptos balance: %v", aptosErr)
	}
	return evmBalance, aptosBalance, nil
}

// floorReport builds the wallet-health verdict against the configured floors
func floorReport(evmBalance, aptosBalance, minEVM, minAptos *big.Int) *models.MinimumBalanceReport {
	report := &models.MinimumBalanceReport{
		EVMSufficient:   evmBalance.Cmp(minEVM) >= 0,
		AptosSufficient: aptosBalance.Cmp(minAptos) >= 0,
		EVMBalance:      evmBalance,
		AptosBalance:    aptosBalance,
	}
	report.Sufficient = report.EVMSufficient && report.AptosSufficient
	return report
}

// intentBalanceCheck builds the per-swap sufficiency verdict
func intentBalanceCheck(evmBalance, aptosBalance, evmRequired, aptosRequired *big.Int) *models.BalanceCheck {
	return &models.BalanceCheck{
		Sufficient:    evmBalance.Cmp(evmRequired) >= 0 && aptosBalance.Cmp(aptosRequired) >= 0,
		EVMBalance:    evmBalance,
		EVMRequired:   evmRequired,
		AptosBalance:  aptosBalance,
		AptosRequired: aptosRequired,
	}
}

// AvailableDestinationLiquidity returns how much of the destination coin the
// resolver can commit to a new fill, keeping the wallet floor intact.
func (m *BalanceManager) AvailableDestinationLiquidity(ctx context.Context) (*big.Int, error) {
	balance, err := m.aptosService.AccountBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read Aptos balance: %v", err)
	}
	available := new(big.Int).Sub(balance, m.minAptosBalance)
	if available.Sign() < 0 {
		available = big.NewInt(0)
	}
	return available, nil
}

// fillTakingAmount scales the order's taking amount to the fill percentage
func fillTakingAmount(order *models.CrossChainOrder, fill *models.FillStrategy) *big.Int {
	if fill == nil || !fill.IsPartialFill {
		return new(big.Int).Set(order.TakingAmount)
	}
	return new(big.Int).Div(
		new(big.Int).Mul(order.TakingAmount, big.NewInt(int64(fill.FillPercent))),
		big.NewInt(100),
	)
}
