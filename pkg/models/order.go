package models

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// CrossChainOrder is the resolver's canonical, chain-agnostic representation
// of a swap, derived deterministically from an Intent. Immutable once
// constructed: rebuilding from the same stored intent data must produce the
// same order byte for byte.
type CrossChainOrder struct {
	OrderHash           common.Hash
	Maker               common.Address
	MakerAsset          common.Address
	TakerAsset          string
	MakingAmount        *big.Int
	TakingAmount        *big.Int
	HashLock            common.Hash
	TimeLocks           TimeLocks
	SafetyDepositSrc    *big.Int
	SafetyDepositDst    *big.Int
	AptosRecipient      string
	PartialFillsAllowed bool
	SecretCount         int
}

// FillStrategy is the per-attempt fill decision computed from the resolver's
// available liquidity. Never persisted; recomputed on every attempt.
type FillStrategy struct {
	FillAmount    *big.Int
	SecretIndex   int
	IsPartialFill bool
	FillPercent   int
}

// EscrowImmutables is the tuple passed to on-chain create/withdraw/cancel
// calls. Two independent instances exist per swap (one per chain); they
// share the order hash and hashlock but differ in party roles, asset and
// active timelock track. Always recomputed from the intent and the recorded
// deployment timestamp, never cached, because the packed timelocks must
// match the deployed escrow exactly.
type EscrowImmutables struct {
	OrderHash     common.Hash
	HashLock      common.Hash
	Maker         common.Address
	Taker         common.Address
	Token         common.Address
	Amount        *big.Int
	SafetyDeposit *big.Int
	TimeLocks     TimeLocks
}

// BalanceCheck is the verdict of a per-intent balance gate, with the raw
// numbers attached for reporting.
type BalanceCheck struct {
	Sufficient    bool
	EVMBalance    *big.Int
	EVMRequired   *big.Int
	AptosBalance  *big.Int
	AptosRequired *big.Int
}

// MinimumBalanceReport is the resolver-wallet health verdict against the
// configured floors.
type MinimumBalanceReport struct {
	Sufficient      bool
	EVMSufficient   bool
	AptosSufficient bool
	EVMBalance      *big.Int
	AptosBalance    *big.Int
}

// ProfitabilityReport is the cost/proceeds breakdown behind a profitability
// verdict.
type ProfitabilityReport struct {
	Profitable       bool
	ExpectedProceeds *big.Int
	GasCostSrc       *big.Int
	GasCostDst       *big.Int
	SafetyDeposits   *big.Int
	TotalCost        *big.Int
	Reason           string
}
