package resolver

import (
	"context"
	"fmt"
	"math/big"

	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/evm"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/logger"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/metrics"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/models"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/quote"
)

// ProfitabilityAnalyzer gates intents on expected profit. The gate fails
// closed: a quote that cannot be fetched makes the intent unprofitable for
// this attempt instead of letting it through unpriced.
type ProfitabilityAnalyzer struct {
	quotes       *quote.Service
	evmService   *evm.EscrowService
	minProfitBPS int
	logger       logger.Logger
}

// NewProfitabilityAnalyzer creates a profitability analyzer
func NewProfitabilityAnalyzer(quotes *quote.Service, evmService *evm.EscrowService, minProfitBPS int, log logger.Logger) *ProfitabilityAnalyzer {
	return &ProfitabilityAnalyzer{
		quotes:       quotes,
		evmService:   evmService,
		minProfitBPS: minProfitBPS,
		logger:       log,
	}
}

// Analyze prices the intent's notional into destination units and compares
// the proceeds against what the swap pays out plus estimated execution
// costs. It runs before order construction, so only intent fields are
// consulted. Profit below the configured basis-point margin rejects the
// intent.
func (a *ProfitabilityAnalyzer) Analyze(ctx context.Context, intent *models.Intent) (*models.ProfitabilityReport, error) {
	payout, err := intent.TakingAmountBig()
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

	q, err := a.quotes.GetQuote(ctx, intent.MakerAsset, intent.TakerAsset, intent.MakingAmount)
	if err != nil {
		metrics.ProfitabilityChecks.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("quote unavailable for intent %s: %v", intent.ID, err)
	}

	proceeds, err := q.AmountOutBig()
	if err != nil {
		metrics.ProfitabilityChecks.WithLabelValues("error").Inc()
		return nil, err
	}
	executionCosts, err := q.EstimatedCostsBig()
	if err != nil {
		metrics.ProfitabilityChecks.WithLabelValues("error").Inc()
		return nil, err
	}

	// gas cost in source-chain native units, reported for operators but not
	// mixed into destination-unit arithmetic
	gasCostSrc, err := a.evmService.EstimateSwapGasCost(ctx)
	if err != nil {
		gasCostSrc = big.NewInt(0)
	}

	report := a.appraise(proceeds, executionCosts, payout, gasCostSrc, new(big.Int).Add(depositSrc, depositDst))
	if report.Profitable {
		metrics.ProfitabilityChecks.WithLabelValues("accepted").Inc()
		a.logger.Debug("Intent %s profitable: proceeds %s, cost %s", intent.ID, proceeds, report.TotalCost)
	} else {
		metrics.ProfitabilityChecks.WithLabelValues("rejected").Inc()
	}
	return report, nil
}

// appraise applies the margin rule to the quoted numbers: proceeds must
// cover payout plus execution costs, and the remainder must clear the
// basis-point floor relative to the payout.
func (a *ProfitabilityAnalyzer) appraise(proceeds, executionCosts, payout, gasCostSrc, safetyDeposits *big.Int) *models.ProfitabilityReport {
	totalCost := new(big.Int).Add(payout, executionCosts)
	report := &models.ProfitabilityReport{
		ExpectedProceeds: proceeds,
		GasCostSrc:       gasCostSrc,
		GasCostDst:       executionCosts,
		SafetyDeposits:   safetyDeposits,
		TotalCost:        totalCost,
	}

	profit := new(big.Int).Sub(proceeds, totalCost)
	if profit.Sign() <= 0 {
		report.Reason = fmt.Sprintf("proceeds %s do not cover cost %s", proceeds, totalCost)
		return report
	}

	// profit * 10000 >= payout * minProfitBPS
	lhs := new(big.Int).Mul(profit, big.NewInt(10000))
	rhs := new(big.Int).Mul(payout, big.NewInt(int64(a.minProfitBPS)))
	if lhs.Cmp(rhs) < 0 {
		report.Reason = fmt.Sprintf("margin below %d bps: profit %s on payout %s", a.minProfitBPS, profit, payout)
		return report
	}

	report.Profitable = true
	return report
}
