package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/aptos"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/circuitbreaker"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/config"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/logger"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/models"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/quote"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/registry"
)

func testBreakers() map[string]*circuitbreaker.CircuitBreaker {
	return map[string]*circuitbreaker.CircuitBreaker{
		models.ChainEVM: circuitbreaker.NewCircuitBreaker(models.ChainEVM,
			false, 3, time.Minute, time.Minute, &logger.EmptyLogger{}),
		models.ChainAptos: circuitbreaker.NewCircuitBreaker(models.ChainAptos,
			false, 3, time.Minute, time.Minute, &logger.EmptyLogger{}),
	}
}

func TestParseSecret(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		secret, err := parseSecret("0x000000000000000000000000000000000000000000000000000000000000002a")
		require.NoError(t, err)
		assert.Equal(t, byte(0x2a), secret[31])
	})

	t.Run("without prefix", func(t *testing.T) {
		_, err := parseSecret("000000000000000000000000000000000000000000000000000000000000002a")
		assert.NoError(t, err)
	})

	t.Run("wrong length", func(t *testing.T) {
		_, err := parseSecret("0x2a")
		assert.Error(t, err)
	})

	t.Run("bad hex", func(t *testing.T) {
		_, err := parseSecret("0xzz")
		assert.Error(t, err)
	})
}

func TestFillTakingAmount(t *testing.T) {
	order := &models.CrossChainOrder{TakingAmount: big.NewInt(200)}

	t.Run("full fill", func(t *testing.T) {
		got := fillTakingAmount(order, &models.FillStrategy{IsPartialFill: false})
		assert.Equal(t, "200", got.String())
	})

	t.Run("nil fill", func(t *testing.T) {
		got := fillTakingAmount(order, nil)
		assert.Equal(t, "200", got.String())
	})

	t.Run("partial fill", func(t *testing.T) {
		got := fillTakingAmount(order, &models.FillStrategy{IsPartialFill: true, FillPercent: 25})
		assert.Equal(t, "50", got.String())
	})
}

func TestDeploySrcArgs(t *testing.T) {
	order := &models.CrossChainOrder{
		HashLock: common.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111111"),
		TimeLocks: models.TimeLocks{
			SrcWithdrawal:   120,
			SrcCancellation: 1200,
		},
	}

	args := deploySrcArgs(order)
	require.Len(t, args, 64)
	assert.Equal(t, order.HashLock.Bytes(), args[:32])
	assert.Equal(t, order.TimeLocks.Pack(), new(big.Int).SetBytes(args[32:]))
}

func TestToContractOrder(t *testing.T) {
	order := &models.CrossChainOrder{
		OrderHash:    common.HexToHash("0x59c1b7bb2a34be340713e3e6851ffedcdf7321389ff2f9972d0e92a3fac0d717"),
		Maker:        common.HexToAddress("0x3F8C962eb167aD2f80C72b5F933511CcDF0719D4"),
		MakerAsset:   common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"),
		MakingAmount: big.NewInt(1000),
		TakingAmount: big.NewInt(2000),
	}

	contractOrder := ToContractOrder(order)
	assert.Equal(t, order.Maker, contractOrder.Maker)
	assert.Equal(t, order.MakerAsset, contractOrder.MakerAsset)
	assert.Equal(t, new(big.Int).SetBytes(order.OrderHash[:16]), contractOrder.Salt)
	assert.Zero(t, contractOrder.MakerTraits.Sign())

	// The salt derivation is deterministic: the same order always maps to
	// the same tuple, which keeps repeat submissions idempotent on-chain.
	again := ToContractOrder(order)
	assert.Equal(t, contractOrder.Salt, again.Salt)
}

func TestHandleSecretRedelivery(t *testing.T) {
	aptosSvc, err := aptos.NewEscrowService(config.AptosConfig{
		NodeURL:      "http://127.0.0.1:1",
		PrivateKey:   "0x1111111111111111111111111111111111111111111111111111111111111111",
		EscrowModule: "0xabc::escrow",
		CoinType:     "0x1::aptos_coin::AptosCoin",
		GasUnitPrice: 100,
		MaxGasAmount: 20000,
	}, &logger.EmptyLogger{})
	require.NoError(t, err)

	intent := testIntent()
	order, secrets, _, err := testBuilder().BuildOrder(intent)
	require.NoError(t, err)
	intent.Status = models.StatusEscrowSrcCreated
	intent.SrcEscrow = &models.EscrowRecord{TxHash: "0xaa", Address: "0xbb", DeployedAt: time.Now().Unix()}

	svc := &Service{
		aptosService: aptosSvc,
		breakers:     testBreakers(),
		logger:       &logger.EmptyLogger{},
		inFlight:     make(map[string]*swapState),
	}
	fill := &models.FillStrategy{FillAmount: order.MakingAmount, FillPercent: 100}
	svc.trackSwap(&swapState{intent: *intent, order: order, secrets: secrets, fill: fill})

	event := models.SecretEvent{OrderHash: intent.OrderHash, Secret: secrets.HexSecrets()[0], Index: 0}

	err = svc.handleSecret(context.Background(), event)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "destination escrow failed")

	// a failed attempt leaves the leaf unspent, so the redelivered event
	// retries the chain sequence instead of dying on replay protection
	err = svc.handleSecret(context.Background(), event)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "destination escrow failed")
	assert.False(t, secrets.Consumed(0))

	t.Run("spent leaf ignores redelivery", func(t *testing.T) {
		require.NoError(t, secrets.Consume(0))
		assert.NoError(t, svc.handleSecret(context.Background(), event))
	})
}

func TestGatesRunBeforeOrderConstruction(t *testing.T) {
	var mu sync.Mutex
	var updates []models.StatusUpdate
	registryServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPatch {
			var update models.StatusUpdate
			require.NoError(t, json.NewDecoder(r.Body).Decode(&update))
			mu.Lock()
			updates = append(updates, update)
			mu.Unlock()
		}
		fmt.Fprint(w, `{}`)
	}))
	defer registryServer.Close()

	quoteServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no pricing", http.StatusBadGateway)
	}))
	defer quoteServer.Close()

	quotes := quote.NewService(quoteServer.URL, time.Minute, &logger.EmptyLogger{})
	svc := &Service{
		registry:      registry.New(registryServer.URL, "", &logger.EmptyLogger{}),
		profitability: NewProfitabilityAnalyzer(quotes, nil, 30, &logger.EmptyLogger{}),
		breakers:      testBreakers(),
		logger:        &logger.EmptyLogger{},
		inFlight:      make(map[string]*swapState),
	}

	svc.processIntent(context.Background(), *testIntent())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, updates, 2)
	assert.Equal(t, models.StatusProcessing, updates[0].Status)
	assert.Equal(t, models.StatusFailed, updates[1].Status)
	assert.Equal(t, models.ReasonNotProfitable, updates[1].Metadata["reason"])

	// a gated intent never has secrets minted or persisted
	for _, update := range updates {
		assert.NotContains(t, update.Metadata, "secrets")
		assert.NotContains(t, update.Metadata, "secret_hash")
	}
}

func TestRebuildSwapRestoresRecordedFill(t *testing.T) {
	b := testBuilder()
	intent := testIntent()
	intent.MakingAmount = "100000000"
	intent.TakingAmount = "200000000"

	order, secrets, fresh, err := b.BuildOrder(intent)
	require.NoError(t, err)
	require.True(t, fresh)

	intent.Secrets = secrets.HexSecrets()
	intent.SecretHash = order.HashLock.Hex()
	intent.Status = models.StatusEscrowSrcCreated
	intent.SrcEscrow = &models.EscrowRecord{TxHash: "0xaa", Address: "0xbb", DeployedAt: 1_700_000_000}
	intent.FillPercent = 50

	svc := &Service{orderBuilder: b, logger: &logger.EmptyLogger{}}
	state, err := svc.rebuildSwap(intent)
	require.NoError(t, err)

	// the restored fill matches what was deployed, not current liquidity
	assert.Equal(t, 50, state.fill.FillPercent)
	assert.True(t, state.fill.IsPartialFill)
	assert.Equal(t, "50000000", state.fill.FillAmount.String())
	assert.Equal(t, 4, state.fill.SecretIndex)

	t.Run("records without a percent resume as full fills", func(t *testing.T) {
		intent.FillPercent = 0
		state, err := svc.rebuildSwap(intent)
		require.NoError(t, err)
		assert.Equal(t, 100, state.fill.FillPercent)
		assert.Equal(t, "100000000", state.fill.FillAmount.String())
	})
}

func TestSubmissionOutcomeUnknown(t *testing.T) {
	assert.True(t, submissionOutcomeUnknown(
		fmt.Errorf("failed waiting for deploySrc receipt 0xabc: context deadline exceeded")))
	assert.False(t, submissionOutcomeUnknown(
		fmt.Errorf("failed to create transactor: bad key")))
	assert.False(t, submissionOutcomeUnknown(nil))
}
