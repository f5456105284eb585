package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validIntent() *Intent {
	return &Intent{
		ID:           "intent-1",
		OrderHash:    "0xabc",
		SrcChain:     ChainEVM,
		DstChain:     ChainAptos,
		MakingAmount: "1000",
		TakingAmount: "2000",
	}
}

func TestIntentValidate(t *testing.T) {
	assert.NoError(t, validIntent().Validate())

	t.Run("missing id", func(t *testing.T) {
		i := validIntent()
		i.ID = ""
		assert.Error(t, i.Validate())
	})

	t.Run("missing order hash", func(t *testing.T) {
		i := validIntent()
		i.OrderHash = ""
		assert.Error(t, i.Validate())
	})

	t.Run("same chains", func(t *testing.T) {
		i := validIntent()
		i.DstChain = ChainEVM
		assert.Error(t, i.Validate())
	})

	t.Run("bad amount", func(t *testing.T) {
		i := validIntent()
		i.MakingAmount = "lots"
		assert.Error(t, i.Validate())
	})

	t.Run("negative amount", func(t *testing.T) {
		i := validIntent()
		i.TakingAmount = "-1"
		assert.Error(t, i.Validate())
	})
}

func TestIntentAmountParsing(t *testing.T) {
	i := validIntent()

	v, err := i.MakingAmountBig()
	require.NoError(t, err)
	assert.Equal(t, int64(1000), v.Int64())

	// Absent safety deposits parse as zero.
	dep, err := i.SafetyDepositSrcBig()
	require.NoError(t, err)
	assert.Zero(t, dep.Sign())
}

func TestIntentStatusTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.True(t, StatusFailed.Terminal())

	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusProcessing.Terminal())
	assert.False(t, StatusEscrowSrcCreated.Terminal())
	assert.False(t, StatusEscrowDstCreated.Terminal())
	assert.False(t, StatusExpired.Terminal(), "expired intents still need recovery")
}
