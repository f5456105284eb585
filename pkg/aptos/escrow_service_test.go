package aptos

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/sha3"

	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/config"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/logger"
)

const testSeed = "0x1111111111111111111111111111111111111111111111111111111111111111"

func testAptosConfig() config.AptosConfig {
	return config.AptosConfig{
		NodeURL:      "http://localhost:8080",
		PrivateKey:   testSeed,
		EscrowModule: "0xabc::escrow",
		CoinType:     "0x1::aptos_coin::AptosCoin",
		GasUnitPrice: 100,
		MaxGasAmount: 20000,
	}
}

func TestNewClientAddressDerivation(t *testing.T) {
	client, err := NewClient(testAptosConfig(), &logger.EmptyLogger{})
	require.NoError(t, err)

	seed, _ := hex.DecodeString(testSeed[2:])
	pub := ed25519.NewKeyFromSeed(seed).Public().(ed25519.PublicKey)
	h := sha3.New256()
	h.Write(pub)
	h.Write([]byte{0x00})
	want := "0x" + hex.EncodeToString(h.Sum(nil))

	assert.Equal(t, want, client.Address())
}

func TestNewClientRejectsBadKey(t *testing.T) {
	cfg := testAptosConfig()
	cfg.PrivateKey = "0xdeadbeef"
	_, err := NewClient(cfg, &logger.EmptyLogger{})
	assert.Error(t, err)

	cfg.PrivateKey = "not hex"
	_, err = NewClient(cfg, &logger.EmptyLogger{})
	assert.Error(t, err)
}

func TestNewEscrowService(t *testing.T) {
	t.Run("valid module", func(t *testing.T) {
		svc, err := NewEscrowService(testAptosConfig(), &logger.EmptyLogger{})
		require.NoError(t, err)
		assert.NotEmpty(t, svc.Address())
	})

	t.Run("module without address", func(t *testing.T) {
		cfg := testAptosConfig()
		cfg.EscrowModule = "escrow"
		_, err := NewEscrowService(cfg, &logger.EmptyLogger{})
		assert.Error(t, err)
	})
}

func TestEscrowFromTransaction(t *testing.T) {
	svc, err := NewEscrowService(testAptosConfig(), &logger.EmptyLogger{})
	require.NoError(t, err)

	t.Run("plain event type", func(t *testing.T) {
		tx := &Transaction{
			Hash:      "0xtx1",
			Timestamp: "1700000000123456",
			Events: []Event{{
				Type: "0xabc::escrow::EscrowCreated",
				Data: json.RawMessage(`{"order_hash":"0x1","escrow":"0xesc","recipient":"0xr","amount":"100"}`),
			}},
		}
		record, err := svc.escrowFromTransaction(tx)
		require.NoError(t, err)
		assert.Equal(t, "0xesc", record.Address)
		assert.Equal(t, "0xtx1", record.TxHash)
		assert.Equal(t, int64(1700000000), record.DeployedAt)
	})

	t.Run("generic event type", func(t *testing.T) {
		tx := &Transaction{
			Hash:      "0xtx2",
			Timestamp: "1700000000000000",
			Events: []Event{{
				Type: "0xabc::escrow::EscrowCreated<0x1::aptos_coin::AptosCoin>",
				Data: json.RawMessage(`{"escrow":"0xesc2"}`),
			}},
		}
		record, err := svc.escrowFromTransaction(tx)
		require.NoError(t, err)
		assert.Equal(t, "0xesc2", record.Address)
	})

	t.Run("missing event is a hard failure", func(t *testing.T) {
		tx := &Transaction{Hash: "0xtx3", Events: []Event{{
			Type: "0x1::coin::DepositEvent",
			Data: json.RawMessage(`{}`),
		}}}
		_, err := svc.escrowFromTransaction(tx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no EscrowCreated event")
	})

	t.Run("event without escrow address", func(t *testing.T) {
		tx := &Transaction{Hash: "0xtx4", Events: []Event{{
			Type: "0xabc::escrow::EscrowCreated",
			Data: json.RawMessage(`{"order_hash":"0x1"}`),
		}}}
		_, err := svc.escrowFromTransaction(tx)
		assert.Error(t, err)
	})
}

func TestHexArg(t *testing.T) {
	assert.Equal(t, "0x0102ff", hexArg([]byte{1, 2, 255}))
	assert.Equal(t, "0x", hexArg(nil))
}

func TestTransactionTimestamp(t *testing.T) {
	assert.Equal(t, int64(1700000000), transactionTimestamp(&Transaction{Timestamp: "1700000000999999"}))
	assert.Equal(t, int64(0), transactionTimestamp(&Transaction{Timestamp: "soon"}))
}
