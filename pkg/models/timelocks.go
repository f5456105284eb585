package models

import (
	"fmt"
	"math/big"
	"time"
)

// TimelockStage identifies one of the seven relative deadlines governing an
// escrow pair.
type TimelockStage int

const (
	StageSrcWithdrawal TimelockStage = iota
	StageSrcPublicWithdrawal
	StageSrcCancellation
	StageSrcPublicCancellation
	StageDstWithdrawal
	StageDstPublicWithdrawal
	StageDstCancellation
)

// TimeLocks is the resolver's canonical timelock structure: seven relative
// offsets plus the deployment timestamp they are measured from. DeployedAt is
// stamped when the escrow transaction lands; the packed encoding must match
// what was deployed on-chain exactly or contract calls revert.
type TimeLocks struct {
	SrcWithdrawal         uint32
	SrcPublicWithdrawal   uint32
	SrcCancellation       uint32
	SrcPublicCancellation uint32
	DstWithdrawal         uint32
	DstPublicWithdrawal   uint32
	DstCancellation       uint32
	DeployedAt            uint32
}

// TimeLocksFromOffsets builds a TimeLocks from intent offsets with an unset
// deployment timestamp.
func TimeLocksFromOffsets(o TimelockOffsets) TimeLocks {
	return TimeLocks{
		SrcWithdrawal:         o.SrcWithdrawal,
		SrcPublicWithdrawal:   o.SrcPublicWithdrawal,
		SrcCancellation:       o.SrcCancellation,
		SrcPublicCancellation: o.SrcPublicCancellation,
		DstWithdrawal:         o.DstWithdrawal,
		DstPublicWithdrawal:   o.DstPublicWithdrawal,
		DstCancellation:       o.DstCancellation,
	}
}

// WithDeployedAt returns a copy stamped with the deployment timestamp.
func (t TimeLocks) WithDeployedAt(ts int64) TimeLocks {
	t.DeployedAt = uint32(ts)
	return t
}

// Validate enforces the ordering invariant on both tracks:
// withdrawal <= publicWithdrawal <= cancellation <= publicCancellation.
func (t TimeLocks) Validate() error {
	if t.SrcWithdrawal > t.SrcPublicWithdrawal ||
		t.SrcPublicWithdrawal > t.SrcCancellation ||
		t.SrcCancellation > t.SrcPublicCancellation {
		return fmt.Errorf("source timelocks out of order: %d/%d/%d/%d",
			t.SrcWithdrawal, t.SrcPublicWithdrawal, t.SrcCancellation, t.SrcPublicCancellation)
	}
	if t.DstWithdrawal > t.DstPublicWithdrawal ||
		t.DstPublicWithdrawal > t.DstCancellation {
		return fmt.Errorf("destination timelocks out of order: %d/%d/%d",
			t.DstWithdrawal, t.DstPublicWithdrawal, t.DstCancellation)
	}
	// The destination track must close before the source track so the maker
	// can always be paid out before the source escrow can be cancelled.
	if t.DstCancellation > t.SrcCancellation {
		return fmt.Errorf("destination cancellation %d after source cancellation %d",
			t.DstCancellation, t.SrcCancellation)
	}
	return nil
}

// stageOffset returns the relative offset for a stage.
func (t TimeLocks) stageOffset(stage TimelockStage) uint32 {
	switch stage {
	case StageSrcWithdrawal:
		return t.SrcWithdrawal
	case StageSrcPublicWithdrawal:
		return t.SrcPublicWithdrawal
	case StageSrcCancellation:
		return t.SrcCancellation
	case StageSrcPublicCancellation:
		return t.SrcPublicCancellation
	case StageDstWithdrawal:
		return t.DstWithdrawal
	case StageDstPublicWithdrawal:
		return t.DstPublicWithdrawal
	case StageDstCancellation:
		return t.DstCancellation
	}
	return 0
}

// DeadlineAt returns the absolute unix time at which a stage opens.
func (t TimeLocks) DeadlineAt(stage TimelockStage) time.Time {
	return time.Unix(int64(t.DeployedAt)+int64(t.stageOffset(stage)), 0)
}

// StageOpen reports whether the given stage has opened at time now.
func (t TimeLocks) StageOpen(stage TimelockStage, now time.Time) bool {
	return !now.Before(t.DeadlineAt(stage))
}

// Pack encodes the timelocks into the uint256 word the escrow contracts
// consume: each stage as a uint32 at bit 32*stage, DeployedAt in the top 32
// bits.
func (t TimeLocks) Pack() *big.Int {
	packed := new(big.Int)
	stages := []uint32{
		t.SrcWithdrawal,
		t.SrcPublicWithdrawal,
		t.SrcCancellation,
		t.SrcPublicCancellation,
		t.DstWithdrawal,
		t.DstPublicWithdrawal,
		t.DstCancellation,
	}
	for i, v := range stages {
		part := new(big.Int).Lsh(new(big.Int).SetUint64(uint64(v)), uint(32*i))
		packed.Or(packed, part)
	}
	packed.Or(packed, new(big.Int).Lsh(new(big.Int).SetUint64(uint64(t.DeployedAt)), 224))
	return packed
}

// UnpackTimeLocks decodes a packed timelocks word.
func UnpackTimeLocks(packed *big.Int) TimeLocks {
	mask := new(big.Int).SetUint64(0xffffffff)
	get := func(slot uint) uint32 {
		v := new(big.Int).Rsh(packed, 32*slot)
		return uint32(new(big.Int).And(v, mask).Uint64())
	}
	return TimeLocks{
		SrcWithdrawal:         get(0),
		SrcPublicWithdrawal:   get(1),
		SrcCancellation:       get(2),
		SrcPublicCancellation: get(3),
		DstWithdrawal:         get(4),
		DstPublicWithdrawal:   get(5),
		DstCancellation:       get(6),
		DeployedAt:            get(7),
	}
}
