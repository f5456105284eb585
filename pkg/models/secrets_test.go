package models

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretSetSingle(t *testing.T) {
	set, err := NewSecretSet(1)
	require.NoError(t, err)

	assert.Equal(t, 1, set.Count())
	assert.False(t, set.IsMerkle())

	secret, err := set.Secret(0)
	require.NoError(t, err)
	assert.Equal(t, crypto.Keccak256Hash(secret[:]), set.HashLock(),
		"single-leaf hashlock is the keccak of the secret")
}

func TestSecretSetMerkle(t *testing.T) {
	set, err := NewSecretSet(4)
	require.NoError(t, err)

	assert.True(t, set.IsMerkle())

	// Root must differ from every leaf hash.
	for i := 0; i < set.Count(); i++ {
		secret, err := set.Secret(i)
		require.NoError(t, err)
		assert.NotEqual(t, crypto.Keccak256Hash(secret[:]), set.HashLock())
	}

	// Rebuilding from the same material yields the same root.
	rebuilt, err := SecretSetFromHex(set.HexSecrets())
	require.NoError(t, err)
	assert.Equal(t, set.HashLock(), rebuilt.HashLock())
}

func TestSecretSetVerify(t *testing.T) {
	set, err := NewSecretSet(3)
	require.NoError(t, err)

	secret, err := set.Secret(1)
	require.NoError(t, err)

	assert.True(t, set.VerifySecret(1, secret))
	assert.False(t, set.VerifySecret(0, secret), "secret bound to a different leaf")

	var wrong [32]byte
	wrong[0] = 0xff
	assert.False(t, set.VerifySecret(1, wrong))
	assert.False(t, set.VerifySecret(99, secret))
}

func TestSecretSetConsume(t *testing.T) {
	set, err := NewSecretSet(2)
	require.NoError(t, err)

	assert.False(t, set.Consumed(0))
	require.NoError(t, set.Consume(0))
	assert.True(t, set.Consumed(0))

	err = set.Consume(0)
	assert.Error(t, err, "replaying a consumed leaf must fail")

	require.NoError(t, set.Consume(1))
	assert.Error(t, set.Consume(5))
}

func TestSecretSetFromHex(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		set, err := NewSecretSet(2)
		require.NoError(t, err)

		rebuilt, err := SecretSetFromHex(set.HexSecrets())
		require.NoError(t, err)
		assert.Equal(t, set.HexSecrets(), rebuilt.HexSecrets())
	})

	t.Run("rejects short secret", func(t *testing.T) {
		_, err := SecretSetFromHex([]string{"0xdeadbeef"})
		assert.Error(t, err)
	})

	t.Run("rejects empty list", func(t *testing.T) {
		_, err := SecretSetFromHex(nil)
		assert.Error(t, err)
	})
}
