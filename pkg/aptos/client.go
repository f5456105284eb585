// Package aptos implements the destination-chain escrow adapter against an
// Aptos fullnode REST API: entry function submission with local ed25519
// signing, sequence number serialization and resource reads.
package aptos

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/config"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/logger"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/models"
)

const (
	txExpirationWindow = 10 * time.Minute
	txPollInterval     = 1 * time.Second
	txPollTimeout      = 90 * time.Second
)

// EntryFunctionPayload is the JSON payload of an entry function call
type EntryFunctionPayload struct {
	Type          string        `json:"type"`
	Function      string        `json:"function"`
	TypeArguments []string      `json:"type_arguments"`
	Arguments     []interface{} `json:"arguments"`
}

// Transaction is the JSON shape of a user transaction as returned by the
// fullnode
type Transaction struct {
	Hash      string  `json:"hash"`
	Sender    string  `json:"sender"`
	Success   bool    `json:"success"`
	VMStatus  string  `json:"vm_status"`
	Version   string  `json:"version"`
	Timestamp string  `json:"timestamp"`
	Events    []Event `json:"events"`
}

// Event is an event emitted by a transaction
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Client is an Aptos fullnode REST client bound to the resolver account.
// Submissions are serialized through a mutex so concurrent swap legs never
// race on the account sequence number.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     logger.Logger

	privateKey   ed25519.PrivateKey
	publicKey    ed25519.PublicKey
	address      string
	gasUnitPrice uint64
	maxGasAmount uint64

	seqMu sync.Mutex
}

// NewClient creates a fullnode client from the Aptos configuration. The
// account address is derived from the ed25519 key via the single-signer
// authentication scheme.
func NewClient(cfg config.AptosConfig, log logger.Logger) (*Client, error) {
	seed, err := hex.DecodeString(strings.TrimPrefix(cfg.PrivateKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid aptos private key: %v", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("aptos private key must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	privateKey := ed25519.NewKeyFromSeed(seed)
	publicKey := privateKey.Public().(ed25519.PublicKey)

	// auth key = sha3-256(pubkey || 0x00) for single ed25519 signers
	hasher := sha3.New256()
	hasher.Write(publicKey)
	hasher.Write([]byte{0x00})
	address := "0x" + hex.EncodeToString(hasher.Sum(nil))

	return &Client{
		baseURL:      strings.TrimRight(cfg.NodeURL, "/"),
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		logger:       log,
		privateKey:   privateKey,
		publicKey:    publicKey,
		address:      address,
		gasUnitPrice: cfg.GasUnitPrice,
		maxGasAmount: cfg.MaxGasAmount,
	}, nil
}

// Address returns the resolver's Aptos account address
func (c *Client) Address() string { return c.address }

// Connected reports whether the fullnode answers
func (c *Client) Connected(ctx context.Context) bool {
	_, err := c.getJSON(ctx, c.baseURL+"/v1")
	return err == nil
}

// SubmitEntryFunction signs and submits an entry function call, waits for it
// to land and returns the executed transaction. Failed execution is returned
// as an error carrying the VM status. The sequence mutex is held until the
// transaction commits: the committed sequence number is the only source of
// truth, so releasing earlier would let a concurrent submission reuse it and
// be rejected by the mempool.
func (c *Client) SubmitEntryFunction(ctx context.Context, payload EntryFunctionPayload) (*Transaction, error) {
	c.seqMu.Lock()
	defer c.seqMu.Unlock()

	pending, err := c.submit(ctx, payload)
	if err != nil {
		return nil, err
	}

	tx, err := c.WaitForTransaction(ctx, pending)
	if err != nil {
		return nil, err
	}
	if !tx.Success {
		return nil, fmt.Errorf("aptos transaction %s failed: %s", tx.Hash, tx.VMStatus)
	}
	return tx, nil
}

// submit builds, signs and posts the transaction, returning its hash.
// Callers hold seqMu so the fetched sequence number cannot be reused.
func (c *Client) submit(ctx context.Context, payload EntryFunctionPayload) (string, error) {
	sequence, err := c.sequenceNumber(ctx)
	if err != nil {
		return "", err
	}

	expiration := time.Now().Add(txExpirationWindow).Unix()
	txRequest := map[string]interface{}{
		"sender":                    c.address,
		"sequence_number":           strconv.FormatUint(sequence, 10),
		"max_gas_amount":            strconv.FormatUint(c.maxGasAmount, 10),
		"gas_unit_price":            strconv.FormatUint(c.gasUnitPrice, 10),
		"expiration_timestamp_secs": strconv.FormatInt(expiration, 10),
		"payload":                   payload,
	}

	// the fullnode produces the BCS signing message so we avoid
	// reimplementing BCS serialization locally
	signingMessage, err := c.encodeSubmission(ctx, txRequest)
	if err != nil {
		return "", err
	}
	signature := ed25519.Sign(c.privateKey, signingMessage)

	txRequest["signature"] = map[string]interface{}{
		"type":       "ed25519_signature",
		"public_key": "0x" + hex.EncodeToString(c.publicKey),
		"signature":  "0x" + hex.EncodeToString(signature),
	}

	body, err := c.postJSON(ctx, c.baseURL+"/v1/transactions", txRequest)
	if err != nil {
		return "", fmt.Errorf("failed to submit transaction: %v", err)
	}
	var pending struct {
		Hash string `json:"hash"`
	}
	if err := json.Unmarshal(body, &pending); err != nil || pending.Hash == "" {
		return "", fmt.Errorf("unexpected submit response: %s", string(body))
	}
	c.logger.InfoWithChain(models.ChainAptos, "Transaction submitted with sequence %d: %s", sequence, pending.Hash)
	return pending.Hash, nil
}

// WaitForTransaction polls until the transaction is executed or the poll
// window expires
func (c *Client) WaitForTransaction(ctx context.Context, hash string) (*Transaction, error) {
	deadline := time.Now().Add(txPollTimeout)
	for {
		body, err := c.getJSON(ctx, c.baseURL+"/v1/transactions/by_hash/"+hash)
		if err == nil {
			var tx Transaction
			if err := json.Unmarshal(body, &tx); err != nil {
				return nil, fmt.Errorf("failed to decode transaction %s: %v", hash, err)
			}
			// pending transactions have no version yet
			if tx.Version != "" {
				return &tx, nil
			}
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timed out waiting for aptos transaction %s", hash)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(txPollInterval):
		}
	}
}

// sequenceNumber fetches the account's current sequence number
func (c *Client) sequenceNumber(ctx context.Context) (uint64, error) {
	body, err := c.getJSON(ctx, c.baseURL+"/v1/accounts/"+c.address)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch account %s: %v", c.address, err)
	}
	var account struct {
		SequenceNumber string `json:"sequence_number"`
	}
	if err := json.Unmarshal(body, &account); err != nil {
		return 0, fmt.Errorf("failed to decode account: %v", err)
	}
	sequence, err := strconv.ParseUint(account.SequenceNumber, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid sequence number %q: %v", account.SequenceNumber, err)
	}
	return sequence, nil
}

// encodeSubmission asks the fullnode for the BCS signing message of an
// unsigned transaction
func (c *Client) encodeSubmission(ctx context.Context, txRequest map[string]interface{}) ([]byte, error) {
	body, err := c.postJSON(ctx, c.baseURL+"/v1/transactions/encode_submission", txRequest)
	if err != nil {
		return nil, fmt.Errorf("failed to encode submission: %v", err)
	}
	var encoded string
	if err := json.Unmarshal(body, &encoded); err != nil {
		return nil, fmt.Errorf("unexpected encode_submission response: %s", string(body))
	}
	message, err := hex.DecodeString(strings.TrimPrefix(encoded, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid signing message: %v", err)
	}
	return message, nil
}

// AccountResource fetches a resource of an account into out
func (c *Client) AccountResource(ctx context.Context, address, resourceType string, out interface{}) error {
	endpoint := fmt.Sprintf("%s/v1/accounts/%s/resource/%s", c.baseURL, address, resourceType)
	body, err := c.getJSON(ctx, endpoint)
	if err != nil {
		return err
	}
	var resource struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &resource); err != nil {
		return fmt.Errorf("failed to decode resource %s: %v", resourceType, err)
	}
	return json.Unmarshal(resource.Data, out)
}

func (c *Client) getJSON(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) postJSON(ctx context.Context, endpoint string, payload interface{}) ([]byte, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Debug("Failed to close aptos response body: %v", err)
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %v", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
