package models

import (
	"fmt"
	"math/big"
	"time"
)

// IntentStatus is the lifecycle status of an intent as tracked by the registry.
type IntentStatus string

const (
	StatusPending          IntentStatus = "pending"
	StatusOpen             IntentStatus = "open"
	StatusProcessing       IntentStatus = "processing"
	StatusEscrowSrcCreated IntentStatus = "escrow_src_created"
	StatusEscrowDstCreated IntentStatus = "escrow_dst_created"
	StatusCompleted        IntentStatus = "completed"
	StatusCancelled        IntentStatus = "cancelled"
	StatusFailed           IntentStatus = "failed"
	StatusExpired          IntentStatus = "expired"
)

// Terminal reports whether no further transition is expected for the status.
func (s IntentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

// Failure reason codes reported back to the registry on gate rejections.
const (
	ReasonNotProfitable       = "not_profitable"
	ReasonInsufficientBalance = "insufficient_balance"
	ReasonOrderBuildFailed    = "order_build_failed"
	ReasonEscrowDeployFailed  = "escrow_deploy_failed"
)

// Chain identifiers used across the resolver. The source leg always runs on
// the configured EVM chain, the destination leg on Aptos.
const (
	ChainEVM   = "evm"
	ChainAptos = "aptos"
)

// TimelockOffsets carries the relative deadlines (seconds) an intent was
// signed with. All values are measured from the escrow deployment timestamp.
type TimelockOffsets struct {
	Finality              uint32 `json:"finality"`
	SrcWithdrawal         uint32 `json:"src_withdrawal"`
	SrcPublicWithdrawal   uint32 `json:"src_public_withdrawal"`
	SrcCancellation       uint32 `json:"src_cancellation"`
	SrcPublicCancellation uint32 `json:"src_public_cancellation"`
	DstWithdrawal         uint32 `json:"dst_withdrawal"`
	DstPublicWithdrawal   uint32 `json:"dst_public_withdrawal"`
	DstCancellation       uint32 `json:"dst_cancellation"`
}

// EscrowRecord describes an escrow the resolver has already deployed for an
// intent. It is persisted in the registry so immutables can be recomputed.
type EscrowRecord struct {
	TxHash     string `json:"tx_hash"`
	Address    string `json:"address"`
	DeployedAt int64  `json:"deployed_at"`
}

// Intent is the registry's record of a signed swap proposal. The resolver
// holds a read-mostly copy per processing cycle; the canonical record is only
// ever mutated through status updates back to the registry.
type Intent struct {
	ID               string          `json:"id"`
	OrderHash        string          `json:"order_hash"`
	Maker            string          `json:"maker"`
	MakerAsset       string          `json:"maker_asset"`
	TakerAsset       string          `json:"taker_asset"`
	MakingAmount     string          `json:"making_amount"`
	TakingAmount     string          `json:"taking_amount"`
	SrcChain         string          `json:"src_chain"`
	DstChain         string          `json:"dst_chain"`
	SafetyDepositSrc string          `json:"safety_deposit_src"`
	SafetyDepositDst string          `json:"safety_deposit_dst"`
	Timelocks        TimelockOffsets `json:"timelocks"`
	SecretHash       string          `json:"secret_hash"`
	Secrets          []string        `json:"secrets,omitempty"`
	Signature        string          `json:"signature"`
	Status           IntentStatus    `json:"status"`
	SrcEscrow        *EscrowRecord   `json:"src_escrow,omitempty"`
	DstEscrow        *EscrowRecord   `json:"dst_escrow,omitempty"`
	FillPercent      int             `json:"fill_percent,omitempty"`
	AptosRecipient   string          `json:"aptos_recipient"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// MakingAmountBig parses the making amount into a big.Int.
func (i *Intent) MakingAmountBig() (*big.Int, error) {
	return parseAmount(i.MakingAmount, "making_amount")
}

// TakingAmountBig parses the taking amount into a big.Int.
func (i *Intent) TakingAmountBig() (*big.Int, error) {
	return parseAmount(i.TakingAmount, "taking_amount")
}

// SafetyDepositSrcBig parses the source-side safety deposit.
func (i *Intent) SafetyDepositSrcBig() (*big.Int, error) {
	return parseAmount(i.SafetyDepositSrc, "safety_deposit_src")
}

// SafetyDepositDstBig parses the destination-side safety deposit.
func (i *Intent) SafetyDepositDstBig() (*big.Int, error) {
	return parseAmount(i.SafetyDepositDst, "safety_deposit_dst")
}

// Validate checks the intent has the shape the pipeline requires. A failure
// here is a malformed record, not a transient condition.
func (i *Intent) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("intent has no id")
	}
	if i.OrderHash == "" {
		return fmt.Errorf("intent %s has no order hash", i.ID)
	}
	if i.SrcChain == i.DstChain {
		return fmt.Errorf("intent %s: source and destination chains are the same: %s", i.ID, i.SrcChain)
	}
	if _, err := i.MakingAmountBig(); err != nil {
		return err
	}
	if _, err := i.TakingAmountBig(); err != nil {
		return err
	}
	return nil
}

func parseAmount(s, field string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid %s: %s", field, s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative %s: %s", field, s)
	}
	return v, nil
}

// SecretEvent is a secret-share notification delivered by the registry once
// the off-chain coordinator has verified both escrows. The same event may be
// delivered more than once by the transport.
type SecretEvent struct {
	OrderHash string `json:"order_hash"`
	Secret    string `json:"secret"`
	Index     int    `json:"index"`
	SharedAt  int64  `json:"shared_at"`
}

// StatusUpdate is the payload of a status PATCH to the registry.
type StatusUpdate struct {
	Status    IntentStatus      `json:"status"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}
