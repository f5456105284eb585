// Package contracts wraps the on-chain entry points the resolver consumes:
// the Resolver contract that deploys escrows, the escrow factory with its
// deployment events, the escrow itself, and plain ERC-20 tokens.
package contracts

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ResolverABI is the ABI of the Resolver contract
const ResolverABI = `[
	{
		"inputs": [
			{
				"components": [
					{"internalType": "uint256", "name": "salt", "type": "uint256"},
					{"internalType": "address", "name": "maker", "type": "address"},
					{"internalType": "address", "name": "receiver", "type": "address"},
					{"internalType": "address", "name": "makerAsset", "type": "address"},
					{"internalType": "address", "name": "takerAsset", "type": "address"},
					{"internalType": "uint256", "name": "makingAmount", "type": "uint256"},
					{"internalType": "uint256", "name": "takingAmount", "type": "uint256"},
					{"internalType": "uint256", "name": "makerTraits", "type": "uint256"}
				],
				"internalType": "struct IOrderMixin.Order",
				"name": "order",
				"type": "tuple"
			},
			{"internalType": "bytes32", "name": "r", "type": "bytes32"},
			{"internalType": "bytes32", "name": "vs", "type": "bytes32"},
			{"internalType": "uint256", "name": "amount", "type": "uint256"},
			{"internalType": "bytes", "name": "args", "type": "bytes"}
		],
		"name": "deploySrc",
		"outputs": [],
		"stateMutability": "payable",
		"type": "function"
	},
	{
		"inputs": [
			{
				"components": [
					{"internalType": "bytes32", "name": "orderHash", "type": "bytes32"},
					{"internalType": "bytes32", "name": "hashlock", "type": "bytes32"},
					{"internalType": "address", "name": "maker", "type": "address"},
					{"internalType": "address", "name": "taker", "type": "address"},
					{"internalType": "address", "name": "token", "type": "address"},
					{"internalType": "uint256", "name": "amount", "type": "uint256"},
					{"internalType": "uint256", "name": "safetyDeposit", "type": "uint256"},
					{"internalType": "uint256", "name": "timelocks", "type": "uint256"}
				],
				"internalType": "struct IBaseEscrow.Immutables",
				"name": "dstImmutables",
				"type": "tuple"
			},
			{"internalType": "uint256", "name": "srcCancellationTimestamp", "type": "uint256"}
		],
		"name": "deployDst",
		"outputs": [],
		"stateMutability": "payable",
		"type": "function"
	}
]`

// EscrowFactoryABI is the ABI of the escrow factory: deterministic address
// computation plus the deployment events the resolver extracts escrow
// addresses from.
const EscrowFactoryABI = `[
	{
		"inputs": [
			{
				"components": [
					{"internalType": "bytes32", "name": "orderHash", "type": "bytes32"},
					{"internalType": "bytes32", "name": "hashlock", "type": "bytes32"},
					{"internalType": "address", "name": "maker", "type": "address"},
					{"internalType": "address", "name": "taker", "type": "address"},
					{"internalType": "address", "name": "token", "type": "address"},
					{"internalType": "uint256", "name": "amount", "type": "uint256"},
					{"internalType": "uint256", "name": "safetyDeposit", "type": "uint256"},
					{"internalType": "uint256", "name": "timelocks", "type": "uint256"}
				],
				"internalType": "struct IBaseEscrow.Immutables",
				"name": "immutables",
				"type": "tuple"
			}
		],
		"name": "addressOfEscrowSrc",
		"outputs": [{"internalType": "address", "name": "", "type": "address"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "bytes32", "name": "orderHash", "type": "bytes32"},
			{"indexed": false, "internalType": "address", "name": "escrow", "type": "address"},
			{"indexed": false, "internalType": "bytes32", "name": "hashlock", "type": "bytes32"}
		],
		"name": "SrcEscrowCreated",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "bytes32", "name": "orderHash", "type": "bytes32"},
			{"indexed": false, "internalType": "address", "name": "escrow", "type": "address"},
			{"indexed": false, "internalType": "address", "name": "taker", "type": "address"}
		],
		"name": "DstEscrowCreated",
		"type": "event"
	}
]`

// EscrowABI is the ABI shared by source and destination escrow contracts
const EscrowABI = `[
	{
		"inputs": [
			{"internalType": "bytes32", "name": "secret", "type": "bytes32"},
			{
				"components": [
					{"internalType": "bytes32", "name": "orderHash", "type": "bytes32"},
					{"internalType": "bytes32", "name": "hashlock", "type": "bytes32"},
					{"internalType": "address", "name": "maker", "type": "address"},
					{"internalType": "address", "name": "taker", "type": "address"},
					{"internalType": "address", "name": "token", "type": "address"},
					{"internalType": "uint256", "name": "amount", "type": "uint256"},
					{"internalType": "uint256", "name": "safetyDeposit", "type": "uint256"},
					{"internalType": "uint256", "name": "timelocks", "type": "uint256"}
				],
				"internalType": "struct IBaseEscrow.Immutables",
				"name": "immutables",
				"type": "tuple"
			}
		],
		"name": "withdraw",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{
				"components": [
					{"internalType": "bytes32", "name": "orderHash", "type": "bytes32"},
					{"internalType": "bytes32", "name": "hashlock", "type": "bytes32"},
					{"internalType": "address", "name": "maker", "type": "address"},
					{"internalType": "address", "name": "taker", "type": "address"},
					{"internalType": "address", "name": "token", "type": "address"},
					{"internalType": "uint256", "name": "amount", "type": "uint256"},
					{"internalType": "uint256", "name": "safetyDeposit", "type": "uint256"},
					{"internalType": "uint256", "name": "timelocks", "type": "uint256"}
				],
				"internalType": "struct IBaseEscrow.Immutables",
				"name": "immutables",
				"type": "tuple"
			}
		],
		"name": "cancel",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

// ERC20ABI covers the token calls the resolver needs
const ERC20ABI = `[
	{"constant": true, "inputs": [{"name": "account", "type": "address"}], "name": "balanceOf", "outputs": [{"name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"},
	{"constant": true, "inputs": [{"name": "owner", "type": "address"}, {"name": "spender", "type": "address"}], "name": "allowance", "outputs": [{"name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"},
	{"constant": false, "inputs": [{"name": "spender", "type": "address"}, {"name": "value", "type": "uint256"}], "name": "approve", "outputs": [{"name": "", "type": "bool"}], "stateMutability": "nonpayable", "type": "function"},
	{"constant": true, "inputs": [], "name": "decimals", "outputs": [{"name": "", "type": "uint8"}], "stateMutability": "view", "type": "function"},
	{"constant": true, "inputs": [], "name": "symbol", "outputs": [{"name": "", "type": "string"}], "stateMutability": "view", "type": "function"}
]`

// Order mirrors the IOrderMixin.Order tuple passed to deploySrc.
type Order struct {
	Salt         *big.Int
	Maker        common.Address
	Receiver     common.Address
	MakerAsset   common.Address
	TakerAsset   common.Address
	MakingAmount *big.Int
	TakingAmount *big.Int
	MakerTraits  *big.Int
}

// Immutables mirrors the IBaseEscrow.Immutables tuple.
type Immutables struct {
	OrderHash     [32]byte
	Hashlock      [32]byte
	Maker         common.Address
	Taker         common.Address
	Token         common.Address
	Amount        *big.Int
	SafetyDeposit *big.Int
	Timelocks     *big.Int
}

// SrcEscrowCreatedEvent is the decoded factory deployment event for a
// source escrow.
type SrcEscrowCreatedEvent struct {
	OrderHash [32]byte
	Escrow    common.Address
	Hashlock  [32]byte
}

// DstEscrowCreatedEvent is the decoded factory deployment event for a
// destination escrow.
type DstEscrowCreatedEvent struct {
	OrderHash [32]byte
	Escrow    common.Address
	Taker     common.Address
}

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("invalid embedded ABI: %v", err))
	}
	return parsed
}

var (
	resolverABI = mustParseABI(ResolverABI)
	factoryABI  = mustParseABI(EscrowFactoryABI)
	escrowABI   = mustParseABI(EscrowABI)
	erc20ABI    = mustParseABI(ERC20ABI)
)

// Backend is the client surface bound contracts need.
type Backend interface {
	bind.ContractCaller
	bind.ContractTransactor
	bind.ContractFilterer
}

// Resolver is a binding around the deployed Resolver contract.
type Resolver struct {
	address  common.Address
	contract *bind.BoundContract
}

// NewResolver creates a Resolver binding at the given address.
func NewResolver(address common.Address, backend Backend) *Resolver {
	return &Resolver{
		address:  address,
		contract: bind.NewBoundContract(address, resolverABI, backend, backend, backend),
	}
}

// Address returns the contract address.
func (r *Resolver) Address() common.Address { return r.address }

// DeploySrc submits the source escrow deployment.
func (r *Resolver) DeploySrc(opts *bind.TransactOpts, order Order, sigR [32]byte, sigVS [32]byte, amount *big.Int, args []byte) (*types.Transaction, error) {
	return r.contract.Transact(opts, "deploySrc", order, sigR, sigVS, amount, args)
}

// DeployDst submits the destination escrow deployment.
func (r *Resolver) DeployDst(opts *bind.TransactOpts, dstImmutables Immutables, srcCancellationTimestamp *big.Int) (*types.Transaction, error) {
	return r.contract.Transact(opts, "deployDst", dstImmutables, srcCancellationTimestamp)
}

// EscrowFactory is a binding around the escrow factory contract.
type EscrowFactory struct {
	address  common.Address
	contract *bind.BoundContract
}

// NewEscrowFactory creates an EscrowFactory binding at the given address.
func NewEscrowFactory(address common.Address, backend Backend) *EscrowFactory {
	return &EscrowFactory{
		address:  address,
		contract: bind.NewBoundContract(address, factoryABI, backend, backend, backend),
	}
}

// Address returns the contract address.
func (f *EscrowFactory) Address() common.Address { return f.address }

// AddressOfEscrowSrc computes the deterministic source escrow address for an
// immutables tuple.
func (f *EscrowFactory) AddressOfEscrowSrc(opts *bind.CallOpts, immutables Immutables) (common.Address, error) {
	var out []interface{}
	if err := f.contract.Call(opts, &out, "addressOfEscrowSrc", immutables); err != nil {
		return common.Address{}, err
	}
	if len(out) == 0 {
		return common.Address{}, fmt.Errorf("empty result from addressOfEscrowSrc")
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected addressOfEscrowSrc result type %T", out[0])
	}
	return addr, nil
}

// SrcEscrowCreatedID returns the topic id of the SrcEscrowCreated event.
func SrcEscrowCreatedID() common.Hash { return factoryABI.Events["SrcEscrowCreated"].ID }

// DstEscrowCreatedID returns the topic id of the DstEscrowCreated event.
func DstEscrowCreatedID() common.Hash { return factoryABI.Events["DstEscrowCreated"].ID }

// ParseSrcEscrowCreated decodes a SrcEscrowCreated log.
func (f *EscrowFactory) ParseSrcEscrowCreated(vLog types.Log) (*SrcEscrowCreatedEvent, error) {
	event := new(SrcEscrowCreatedEvent)
	if err := f.contract.UnpackLog(event, "SrcEscrowCreated", vLog); err != nil {
		return nil, err
	}
	return event, nil
}

// ParseDstEscrowCreated decodes a DstEscrowCreated log.
func (f *EscrowFactory) ParseDstEscrowCreated(vLog types.Log) (*DstEscrowCreatedEvent, error) {
	event := new(DstEscrowCreatedEvent)
	if err := f.contract.UnpackLog(event, "DstEscrowCreated", vLog); err != nil {
		return nil, err
	}
	return event, nil
}

// Escrow is a binding around a deployed escrow contract.
type Escrow struct {
	address  common.Address
	contract *bind.BoundContract
}

// NewEscrow creates an Escrow binding at the given address.
func NewEscrow(address common.Address, backend Backend) *Escrow {
	return &Escrow{
		address:  address,
		contract: bind.NewBoundContract(address, escrowABI, backend, backend, backend),
	}
}

// Address returns the escrow address.
func (e *Escrow) Address() common.Address { return e.address }

// Withdraw submits the secret to release the escrowed funds.
func (e *Escrow) Withdraw(opts *bind.TransactOpts, secret [32]byte, immutables Immutables) (*types.Transaction, error) {
	return e.contract.Transact(opts, "withdraw", secret, immutables)
}

// Cancel returns the escrowed funds to the depositor once the cancellation
// window is open.
func (e *Escrow) Cancel(opts *bind.TransactOpts, immutables Immutables) (*types.Transaction, error) {
	return e.contract.Transact(opts, "cancel", immutables)
}

// ERC20 is a minimal token binding.
type ERC20 struct {
	address  common.Address
	contract *bind.BoundContract
}

// NewERC20 creates an ERC20 binding at the given address.
func NewERC20(address common.Address, backend Backend) *ERC20 {
	return &ERC20{
		address:  address,
		contract: bind.NewBoundContract(address, erc20ABI, backend, backend, backend),
	}
}

// BalanceOf returns the token balance of an account.
func (t *ERC20) BalanceOf(opts *bind.CallOpts, account common.Address) (*big.Int, error) {
	var out []interface{}
	if err := t.contract.Call(opts, &out, "balanceOf", account); err != nil {
		return nil, err
	}
	return toBigInt(out, "balanceOf")
}

// Allowance returns the spender allowance for an owner.
func (t *ERC20) Allowance(opts *bind.CallOpts, owner, spender common.Address) (*big.Int, error) {
	var out []interface{}
	if err := t.contract.Call(opts, &out, "allowance", owner, spender); err != nil {
		return nil, err
	}
	return toBigInt(out, "allowance")
}

// Approve sets the spender allowance.
func (t *ERC20) Approve(opts *bind.TransactOpts, spender common.Address, value *big.Int) (*types.Transaction, error) {
	return t.contract.Transact(opts, "approve", spender, value)
}

// Decimals returns the token decimals.
func (t *ERC20) Decimals(opts *bind.CallOpts) (uint8, error) {
	var out []interface{}
	if err := t.contract.Call(opts, &out, "decimals"); err != nil {
		return 0, err
	}
	if len(out) == 0 {
		return 0, fmt.Errorf("empty result from decimals call")
	}
	decimals, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("unexpected decimals result type %T", out[0])
	}
	return decimals, nil
}

// Symbol returns the token symbol.
func (t *ERC20) Symbol(opts *bind.CallOpts) (string, error) {
	var out []interface{}
	if err := t.contract.Call(opts, &out, "symbol"); err != nil {
		return "", err
	}
	if len(out) == 0 {
		return "", fmt.Errorf("empty result from symbol call")
	}
	symbol, ok := out[0].(string)
	if !ok {
		return "", fmt.Errorf("unexpected symbol result type %T", out[0])
	}
	return symbol, nil
}

func toBigInt(out []interface{}, method string) (*big.Int, error) {
	if len(out) == 0 || out[0] == nil {
		return nil, fmt.Errorf("empty result from %s call", method)
	}
	v, ok := out[0].(*big.Int)
	if !ok || v == nil {
		return nil, fmt.Errorf("unexpected %s result type %T", method, out[0])
	}
	return v, nil
}
