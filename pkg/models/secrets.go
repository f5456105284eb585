package models

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SecretSet holds the secret material backing an order's hashlock: a single
// 32-byte secret for full fills, or an ordered list of secrets whose keccak
// hashes form a Merkle tree for partial fills. A fill consumes exactly one
// leaf; consumed leaves are tracked to prevent replay.
type SecretSet struct {
	mu       sync.Mutex
	secrets  [][32]byte
	leaves   []common.Hash
	consumed []uint64
}

// NewSecretSet generates n fresh random secrets. n must be at least 1.
func NewSecretSet(n int) (*SecretSet, error) {
	if n < 1 {
		return nil, fmt.Errorf("secret count must be at least 1, got %d", n)
	}
	secrets := make([][32]byte, n)
	for i := range secrets {
		if _, err := rand.Read(secrets[i][:]); err != nil {
			return nil, fmt.Errorf("failed to generate secret: %w", err)
		}
	}
	return SecretSetFromSecrets(secrets), nil
}

// SecretSetFromSecrets rebuilds a set from previously generated secrets, so
// that reconstruction reuses stored material instead of minting new secrets.
func SecretSetFromSecrets(secrets [][32]byte) *SecretSet {
	leaves := make([]common.Hash, len(secrets))
	for i, s := range secrets {
		leaves[i] = crypto.Keccak256Hash(s[:])
	}
	return &SecretSet{
		secrets:  secrets,
		leaves:   leaves,
		consumed: make([]uint64, (len(secrets)+63)/64),
	}
}

// SecretSetFromHex rebuilds a set from hex-encoded secrets as persisted in
// the intent record.
func SecretSetFromHex(hexSecrets []string) (*SecretSet, error) {
	secrets := make([][32]byte, len(hexSecrets))
	for i, h := range hexSecrets {
		b, err := hex.DecodeString(strings.TrimPrefix(h, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid stored secret %d: %w", i, err)
		}
		if len(b) != 32 {
			return nil, fmt.Errorf("stored secret %d has %d bytes, want 32", i, len(b))
		}
		copy(secrets[i][:], b)
	}
	if len(secrets) == 0 {
		return nil, fmt.Errorf("no stored secrets")
	}
	return SecretSetFromSecrets(secrets), nil
}

// Count returns the number of leaves.
func (s *SecretSet) Count() int { return len(s.secrets) }

// IsMerkle reports whether the set uses a Merkle hashlock.
func (s *SecretSet) IsMerkle() bool { return len(s.secrets) > 1 }

// Secret returns the secret at a leaf index.
func (s *SecretSet) Secret(idx int) ([32]byte, error) {
	if idx < 0 || idx >= len(s.secrets) {
		return [32]byte{}, fmt.Errorf("secret index %d out of range [0,%d)", idx, len(s.secrets))
	}
	return s.secrets[idx], nil
}

// HexSecrets returns the secrets hex-encoded for persistence.
func (s *SecretSet) HexSecrets() []string {
	out := make([]string, len(s.secrets))
	for i, sec := range s.secrets {
		out[i] = "0x" + hex.EncodeToString(sec[:])
	}
	return out
}

// HashLock returns the withdrawal commitment: the single leaf hash for a
// full-fill set, or the Merkle root across all leaves.
func (s *SecretSet) HashLock() common.Hash {
	if !s.IsMerkle() {
		return s.leaves[0]
	}
	return merkleRoot(s.leaves)
}

// Consume marks a leaf as used. It fails on replay.
func (s *SecretSet) Consume(idx int) error {
	if idx < 0 || idx >= len(s.secrets) {
		return fmt.Errorf("leaf index %d out of range [0,%d)", idx, len(s.secrets))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	word, bit := idx/64, uint(idx%64)
	if s.consumed[word]&(1<<bit) != 0 {
		return fmt.Errorf("leaf %d already consumed", idx)
	}
	s.consumed[word] |= 1 << bit
	return nil
}

// Consumed reports whether a leaf has been used.
func (s *SecretSet) Consumed(idx int) bool {
	if idx < 0 || idx >= len(s.secrets) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consumed[idx/64]&(1<<uint(idx%64)) != 0
}

// VerifySecret checks a revealed secret against the leaf at idx.
func (s *SecretSet) VerifySecret(idx int, secret [32]byte) bool {
	if idx < 0 || idx >= len(s.leaves) {
		return false
	}
	return crypto.Keccak256Hash(secret[:]) == s.leaves[idx]
}

// merkleRoot folds the leaves pairwise with keccak, duplicating the last
// node of odd levels.
func merkleRoot(leaves []common.Hash) common.Hash {
	level := make([]common.Hash, len(leaves))
	copy(level, leaves)
	for len(level) > 1 {
		if len(level)%2 != 0 {
			level = append(level, level[len(level)-1])
		}
		next := make([]common.Hash, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, crypto.Keccak256Hash(level[i].Bytes(), level[i+1].Bytes()))
		}
		level = next
	}
	return level[0]
}
