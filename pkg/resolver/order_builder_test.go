package resolver

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/logger"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/models"
)

func testIntent() *models.Intent {
	return &models.Intent{
		ID:               "intent-1",
		OrderHash:        "0x59c1b7bb2a34be340713e3e6851ffedcdf7321389ff2f9972d0e92a3fac0d717",
		Maker:            "0x3F8C962eb167aD2f80C72b5F933511CcDF0719D4",
		MakerAsset:       "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		TakerAsset:       "0x1::aptos_coin::AptosCoin",
		MakingAmount:     "1000000",
		TakingAmount:     "2000000",
		SrcChain:         models.ChainEVM,
		DstChain:         models.ChainAptos,
		SafetyDepositSrc: "1000",
		SafetyDepositDst: "2000",
		Timelocks: models.TimelockOffsets{
			SrcWithdrawal:         120,
			SrcPublicWithdrawal:   600,
			SrcCancellation:       1200,
			SrcPublicCancellation: 1800,
			DstWithdrawal:         60,
			DstPublicWithdrawal:   300,
			DstCancellation:       900,
		},
		Signature: "0x" + "11" + "00000000000000000000000000000000000000000000000000000000000000" +
			"2200000000000000000000000000000000000000000000000000000000000000" + "1b",
		Status:         models.StatusPending,
		AptosRecipient: "0x9125e4054f1bca16dba6f1df54e0c1f2ed657dbc9135ec345bd9a5a8a0e8a3cf",
	}
}

func testBuilder() *OrderBuilder {
	return NewOrderBuilder(big.NewInt(10_000_000), 8, 10, &logger.EmptyLogger{})
}

func TestBuildOrder(t *testing.T) {
	t.Run("fresh secrets on first construction", func(t *testing.T) {
		b := testBuilder()
		intent := testIntent()

		order, secrets, fresh, err := b.BuildOrder(intent)
		require.NoError(t, err)

		assert.True(t, fresh)
		assert.Equal(t, 1, secrets.Count(), "below the partial-fill threshold a single secret suffices")
		assert.False(t, order.PartialFillsAllowed)
		assert.Equal(t, secrets.HashLock(), order.HashLock)
		assert.Equal(t, intent.OrderHash, order.OrderHash.Hex())
	})

	t.Run("persisted secrets are reused", func(t *testing.T) {
		b := testBuilder()
		intent := testIntent()

		_, secrets, _, err := b.BuildOrder(intent)
		require.NoError(t, err)

		intent.Secrets = secrets.HexSecrets()
		intent.SecretHash = secrets.HashLock().Hex()

		order, rebuilt, fresh, err := b.BuildOrder(intent)
		require.NoError(t, err)

		assert.False(t, fresh, "stored secrets must not be replaced")
		assert.Equal(t, secrets.HexSecrets(), rebuilt.HexSecrets())
		assert.Equal(t, secrets.HashLock(), order.HashLock)
	})

	t.Run("hashlock mismatch is rejected", func(t *testing.T) {
		b := testBuilder()
		intent := testIntent()
		intent.SecretHash = "0x1111111111111111111111111111111111111111111111111111111111111111"

		_, _, _, err := b.BuildOrder(intent)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not match")
	})

	t.Run("large orders allow partial fills", func(t *testing.T) {
		b := testBuilder()
		intent := testIntent()
		intent.MakingAmount = "100000000"
		intent.TakingAmount = "200000000"

		order, secrets, _, err := b.BuildOrder(intent)
		require.NoError(t, err)

		assert.True(t, order.PartialFillsAllowed)
		assert.Equal(t, 8, secrets.Count())
	})

	t.Run("broken timelock ordering is rejected", func(t *testing.T) {
		b := testBuilder()
		intent := testIntent()
		intent.Timelocks.SrcWithdrawal = 5000

		_, _, _, err := b.BuildOrder(intent)
		assert.Error(t, err)
	})

	t.Run("same chains rejected", func(t *testing.T) {
		b := testBuilder()
		intent := testIntent()
		intent.DstChain = models.ChainEVM
		intent.SrcChain = models.ChainEVM

		_, _, _, err := b.BuildOrder(intent)
		assert.Error(t, err)
	})
}

func TestCalculateFillStrategy(t *testing.T) {
	b := testBuilder()

	order := &models.CrossChainOrder{
		MakingAmount:        big.NewInt(100_000_000),
		TakingAmount:        big.NewInt(200_000_000),
		PartialFillsAllowed: true,
		SecretCount:         8,
	}

	t.Run("full fill uses leaf zero", func(t *testing.T) {
		fill, err := b.CalculateFillStrategy(order, big.NewInt(200_000_000))
		require.NoError(t, err)

		assert.False(t, fill.IsPartialFill)
		assert.Equal(t, 0, fill.SecretIndex)
		assert.Equal(t, 100, fill.FillPercent)
		assert.Equal(t, order.MakingAmount.String(), fill.FillAmount.String())
	})

	t.Run("partial fill proportional to liquidity", func(t *testing.T) {
		fill, err := b.CalculateFillStrategy(order, big.NewInt(100_000_000))
		require.NoError(t, err)

		assert.True(t, fill.IsPartialFill)
		assert.Equal(t, 50, fill.FillPercent)
		assert.Equal(t, "50000000", fill.FillAmount.String())
		assert.Equal(t, 4, fill.SecretIndex)
	})

	t.Run("leaf index clamped to last leaf", func(t *testing.T) {
		fill, err := b.CalculateFillStrategy(order, big.NewInt(199_000_000))
		require.NoError(t, err)

		assert.Equal(t, 99, fill.FillPercent)
		assert.Equal(t, 7, fill.SecretIndex)
	})

	t.Run("below minimum fill percent", func(t *testing.T) {
		_, err := b.CalculateFillStrategy(order, big.NewInt(10_000_000))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "minimum")
	})

	t.Run("partial fills disallowed", func(t *testing.T) {
		small := &models.CrossChainOrder{
			MakingAmount:        big.NewInt(1_000_000),
			TakingAmount:        big.NewInt(2_000_000),
			PartialFillsAllowed: false,
			SecretCount:         1,
		}
		_, err := b.CalculateFillStrategy(small, big.NewInt(1_000_000))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not allow partial fills")
	})
}

func TestSignatureToRVS(t *testing.T) {
	base := "0x" +
		"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa" +
		"0bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"

	t.Run("v equals 27 keeps top bit clear", func(t *testing.T) {
		r, vs, err := SignatureToRVS(base + "1b")
		require.NoError(t, err)
		assert.Equal(t, byte(0xaa), r[0])
		assert.Equal(t, byte(0x0b), vs[0])
	})

	t.Run("v equals 28 sets top bit", func(t *testing.T) {
		_, vs, err := SignatureToRVS(base + "1c")
		require.NoError(t, err)
		assert.Equal(t, byte(0x8b), vs[0])
	})

	t.Run("raw recovery id accepted", func(t *testing.T) {
		_, vs, err := SignatureToRVS(base + "01")
		require.NoError(t, err)
		assert.Equal(t, byte(0x8b), vs[0])
	})

	t.Run("invalid recovery id", func(t *testing.T) {
		_, _, err := SignatureToRVS(base + "05")
		assert.Error(t, err)
	})

	t.Run("wrong length", func(t *testing.T) {
		_, _, err := SignatureToRVS("0xdeadbeef")
		assert.Error(t, err)
	})

	t.Run("bad hex", func(t *testing.T) {
		_, _, err := SignatureToRVS("0xzz")
		assert.Error(t, err)
	})
}

func TestFillStrategyForPercent(t *testing.T) {
	b := testBuilder()
	order := &models.CrossChainOrder{
		MakingAmount:        big.NewInt(100_000_000),
		TakingAmount:        big.NewInt(200_000_000),
		PartialFillsAllowed: true,
		SecretCount:         8,
	}

	t.Run("full fill", func(t *testing.T) {
		fill, err := b.FillStrategyForPercent(order, 100)
		require.NoError(t, err)
		assert.False(t, fill.IsPartialFill)
		assert.Equal(t, "100000000", fill.FillAmount.String())
		assert.Equal(t, 0, fill.SecretIndex)
	})

	t.Run("zero percent resumes as full fill", func(t *testing.T) {
		fill, err := b.FillStrategyForPercent(order, 0)
		require.NoError(t, err)
		assert.Equal(t, 100, fill.FillPercent)
		assert.Equal(t, "100000000", fill.FillAmount.String())
	})

	t.Run("partial fill reproduces the deployed amounts", func(t *testing.T) {
		fill, err := b.FillStrategyForPercent(order, 50)
		require.NoError(t, err)
		assert.True(t, fill.IsPartialFill)
		assert.Equal(t, "50000000", fill.FillAmount.String())
		assert.Equal(t, 4, fill.SecretIndex)

		// matching the liquidity-driven computation for the same percent
		live, err := b.CalculateFillStrategy(order, big.NewInt(100_000_000))
		require.NoError(t, err)
		assert.Equal(t, live.FillAmount.String(), fill.FillAmount.String())
		assert.Equal(t, live.SecretIndex, fill.SecretIndex)
	})

	t.Run("leaf index clamped at the top of the range", func(t *testing.T) {
		fill, err := b.FillStrategyForPercent(order, 99)
		require.NoError(t, err)
		assert.Equal(t, 7, fill.SecretIndex)
	})

	t.Run("out of range percent rejected", func(t *testing.T) {
		_, err := b.FillStrategyForPercent(order, 101)
		assert.Error(t, err)
		_, err = b.FillStrategyForPercent(order, -1)
		assert.Error(t, err)
	})

	t.Run("partial percent on a single-fill order rejected", func(t *testing.T) {
		single := &models.CrossChainOrder{
			MakingAmount: big.NewInt(1_000_000),
			SecretCount:  1,
		}
		_, err := b.FillStrategyForPercent(single, 40)
		assert.Error(t, err)
	})
}
