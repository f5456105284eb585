package resolver

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/contracts"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/logger"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/models"
)

// OrderBuilder turns intents into cross-chain orders and fill strategies.
// Construction is deterministic: rebuilding from the same intent (with its
// persisted secrets) yields the same order and hashlock, which is what makes
// crash recovery possible mid-swap.
type OrderBuilder struct {
	partialFillThreshold *big.Int
	secretCount          int
	minFillPercent       int
	logger               logger.Logger
}

// NewOrderBuilder creates an order builder
func NewOrderBuilder(partialFillThreshold *big.Int, secretCount, minFillPercent int, log logger.Logger) *OrderBuilder {
	return &OrderBuilder{
		partialFillThreshold: partialFillThreshold,
		secretCount:          secretCount,
		minFillPercent:       minFillPercent,
		logger:               log,
	}
}

// BuildOrder constructs the CrossChainOrder and its SecretSet from an
// intent. Secrets are minted fresh only on the first construction; when the
// intent already carries persisted secrets they are reused so the hashlock
// stays stable. The returned fresh flag tells the caller whether the new
// secrets still need to be persisted to the registry.
func (b *OrderBuilder) BuildOrder(intent *models.Intent) (*models.CrossChainOrder, *models.SecretSet, bool, error) {
	if err := intent.Validate(); err != nil {
		return nil, nil, false, err
	}

	makingAmount, err := intent.MakingAmountBig()
	if err != nil {
		return nil, nil, false, err
	}
	takingAmount, err := intent.TakingAmountBig()
	if err != nil {
		return nil, nil, false, err
	}
	safetyDepositSrc, err := intent.SafetyDepositSrcBig()
	if err != nil {
		return nil, nil, false, err
	}
	safetyDepositDst, err := intent.SafetyDepositDstBig()
	if err != nil {
		return nil, nil, false, err
	}

	timelocks := models.TimeLocksFromOffsets(intent.Timelocks)
	if err := timelocks.Validate(); err != nil {
		return nil, nil, false, fmt.Errorf("intent %s: %v", intent.ID, err)
	}

	partialFillsAllowed := makingAmount.Cmp(b.partialFillThreshold) > 0
	secretCount := 1
	if partialFillsAllowed {
		secretCount = b.secretCount
	}

	secrets, fresh, err := b.secretSetFor(intent, secretCount)
	if err != nil {
		return nil, nil, false, err
	}

	hashLock := secrets.HashLock()
	if intent.SecretHash != "" {
		expected := common.HexToHash(intent.SecretHash)
		if hashLock != expected {
			return nil, nil, false, fmt.Errorf("intent %s: rebuilt hashlock %s does not match recorded %s",
				intent.ID, hashLock.Hex(), expected.Hex())
		}
	}

	order := &models.CrossChainOrder{
		OrderHash:           common.HexToHash(intent.OrderHash),
		Maker:               common.HexToAddress(intent.Maker),
		MakerAsset:          common.HexToAddress(intent.MakerAsset),
		TakerAsset:          intent.TakerAsset,
		MakingAmount:        makingAmount,
		TakingAmount:        takingAmount,
		HashLock:            hashLock,
		TimeLocks:           timelocks,
		SafetyDepositSrc:    safetyDepositSrc,
		SafetyDepositDst:    safetyDepositDst,
		AptosRecipient:      intent.AptosRecipient,
		PartialFillsAllowed: partialFillsAllowed,
		SecretCount:         secrets.Count(),
	}
	return order, secrets, fresh, nil
}

// secretSetFor reuses the intent's persisted secrets when present and mints
// a fresh set otherwise
func (b *OrderBuilder) secretSetFor(intent *models.Intent, secretCount int) (*models.SecretSet, bool, error) {
	if len(intent.Secrets) > 0 {
		secrets, err := models.SecretSetFromHex(intent.Secrets)
		if err != nil {
			return nil, false, fmt.Errorf("intent %s has invalid stored secrets: %v", intent.ID, err)
		}
		return secrets, false, nil
	}
	secrets, err := models.NewSecretSet(secretCount)
	if err != nil {
		return nil, false, fmt.Errorf("failed to generate secrets for intent %s: %v", intent.ID, err)
	}
	b.logger.Debug("Generated %d fresh secrets for intent %s", secretCount, intent.ID)
	return secrets, true, nil
}

// CalculateFillStrategy decides how much of the order to fill given the
// resolver's destination-side liquidity. Liquidity at or above the taking
// amount means a full fill using leaf 0; below that a proportional partial
// fill is computed, rejected when it would fall under the minimum fill
// percentage or the order does not allow partial fills.
func (b *OrderBuilder) CalculateFillStrategy(order *models.CrossChainOrder, availableLiquidity *big.Int) (*models.FillStrategy, error) {
	if availableLiquidity.Cmp(order.TakingAmount) >= 0 {
		return &models.FillStrategy{
			FillAmount:    new(big.Int).Set(order.MakingAmount),
			SecretIndex:   0,
			IsPartialFill: false,
			FillPercent:   100,
		}, nil
	}

	if !order.PartialFillsAllowed {
		return nil, fmt.Errorf("insufficient liquidity: have %s, need %s and order does not allow partial fills",
			availableLiquidity.String(), order.TakingAmount.String())
	}

	fillPercent := int(new(big.Int).Div(
		new(big.Int).Mul(availableLiquidity, big.NewInt(100)),
		order.TakingAmount,
	).Int64())
	if fillPercent < b.minFillPercent {
		return nil, fmt.Errorf("insufficient liquidity: fill would be %d%%, minimum is %d%%",
			fillPercent, b.minFillPercent)
	}

	fillAmount := new(big.Int).Div(
		new(big.Int).Mul(order.MakingAmount, big.NewInt(int64(fillPercent))),
		big.NewInt(100),
	)

	// leaf index proportional to the fill, clamped into [0, N-1]
	secretIndex := fillPercent * order.SecretCount / 100
	if secretIndex >= order.SecretCount {
		secretIndex = order.SecretCount - 1
	}

	return &models.FillStrategy{
		FillAmount:    fillAmount,
		SecretIndex:   secretIndex,
		IsPartialFill: true,
		FillPercent:   fillPercent,
	}, nil
}

// FillStrategyForPercent reconstructs the fill a deployed escrow was
// created with from its recorded fill percentage. A zero percent means the
// record predates fill tracking and is treated as a full fill. Used on
// crash recovery, where recomputing from live liquidity would produce
// immutables that no longer match the on-chain escrow.
func (b *OrderBuilder) FillStrategyForPercent(order *models.CrossChainOrder, percent int) (*models.FillStrategy, error) {
	if percent < 0 || percent > 100 {
		return nil, fmt.Errorf("invalid recorded fill percent %d", percent)
	}
	if percent == 0 || percent == 100 {
		return &models.FillStrategy{
			FillAmount:    new(big.Int).Set(order.MakingAmount),
			SecretIndex:   0,
			IsPartialFill: false,
			FillPercent:   100,
		}, nil
	}
	if !order.PartialFillsAllowed {
		return nil, fmt.Errorf("recorded fill percent %d on an order that does not allow partial fills", percent)
	}

	fillAmount := new(big.Int).Div(
		new(big.Int).Mul(order.MakingAmount, big.NewInt(int64(percent))),
		big.NewInt(100),
	)
	secretIndex := percent * order.SecretCount / 100
	if secretIndex >= order.SecretCount {
		secretIndex = order.SecretCount - 1
	}
	return &models.FillStrategy{
		FillAmount:    fillAmount,
		SecretIndex:   secretIndex,
		IsPartialFill: true,
		FillPercent:   percent,
	}, nil
}

// SignatureToRVS splits a 65-byte maker signature into the compact r/vs
// components deploySrc consumes (EIP-2098)
func SignatureToRVS(signature string) (r [32]byte, vs [32]byte, err error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return r, vs, fmt.Errorf("invalid signature hex: %v", err)
	}
	if len(raw) != 65 {
		return r, vs, fmt.Errorf("signature must be 65 bytes, got %d", len(raw))
	}
	copy(r[:], raw[0:32])
	copy(vs[:], raw[32:64])

	v := raw[64]
	if v >= 27 {
		v -= 27
	}
	if v > 1 {
		return r, vs, fmt.Errorf("invalid recovery id %d", raw[64])
	}
	if v == 1 {
		vs[0] |= 0x80
	}
	return r, vs, nil
}

// ToContractOrder maps a cross-chain order onto the ABI order tuple filled
// through deploySrc. The salt is derived from the order hash so repeat
// submissions stay deterministic.
func ToContractOrder(order *models.CrossChainOrder) contracts.Order {
	return contracts.Order{
		Salt:         new(big.Int).SetBytes(order.OrderHash[:16]),
		Maker:        order.Maker,
		Receiver:     common.Address{},
		MakerAsset:   order.MakerAsset,
		TakerAsset:   common.Address{},
		MakingAmount: order.MakingAmount,
		TakingAmount: order.TakingAmount,
		MakerTraits:  big.NewInt(0),
	}
}
