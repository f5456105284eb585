// Package registry provides a client for the intent registry API: intent
// discovery, status updates, secret delivery and escrow notifications.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/logger"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/metrics"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/models"
)

const (
	statusUpdateAttempts = 3
	statusUpdateBaseWait = 1 * time.Second
)

// APIResponse represents the structure of the registry list response
type APIResponse struct {
	Intents    []models.Intent `json:"intents,omitempty"`
	Data       []models.Intent `json:"data,omitempty"` // some deployments use "data" as the key
	Page       int             `json:"page"`
	PageSize   int             `json:"page_size"`
	TotalCount int             `json:"total_count"`
	TotalPages int             `json:"total_pages"`
}

// errorResponse is the registry's structured error body
type errorResponse struct {
	Error         string `json:"error"`
	CurrentStatus string `json:"current_status,omitempty"`
}

// Client represents a registry API client
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	logger     logger.Logger
}

// New creates a new registry API client
func New(endpoint, apiKey string, logger logger.Logger) *Client {
	return &Client{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		httpClient: createHTTPClient(),
		logger:     logger,
	}
}

// ListIntents fetches intents with the given status
func (c *Client) ListIntents(ctx context.Context, status models.IntentStatus) ([]models.Intent, error) {
	endpoint := fmt.Sprintf("%s/api/v1/intents?status=%s", c.endpoint, url.QueryEscape(string(status)))
	bodyBytes, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s intents: %v", status, err)
	}

	// Try to unmarshal into our wrapper struct first
	var apiResp APIResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		// If that fails, try directly as an array
		var intents []models.Intent
		if err := json.Unmarshal(bodyBytes, &intents); err != nil {
			return nil, fmt.Errorf("failed to decode intents: %v, body: %s", err, string(bodyBytes))
		}
		return intents, nil
	}

	if len(apiResp.Intents) > 0 {
		return apiResp.Intents, nil
	}
	if len(apiResp.Data) > 0 {
		return apiResp.Data, nil
	}
	c.logger.Debug("No %s intents found (page %d/%d, total count: %d)",
		status, apiResp.Page, apiResp.TotalPages, apiResp.TotalCount)
	return []models.Intent{}, nil
}

// GetIntent fetches a single intent by ID
func (c *Client) GetIntent(ctx context.Context, id string) (*models.Intent, error) {
	endpoint := fmt.Sprintf("%s/api/v1/intents/%s", c.endpoint, url.PathEscape(id))
	bodyBytes, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch intent %s: %v", id, err)
	}
	var intent models.Intent
	if err := json.Unmarshal(bodyBytes, &intent); err != nil {
		return nil, fmt.Errorf("failed to decode intent %s: %v", id, err)
	}
	return &intent, nil
}

// UpdateIntentStatus transitions an intent to a new status. Updates are
// retried with exponential backoff; a conflict response reporting that the
// intent already carries the requested status counts as success, so retried
// updates stay idempotent.
func (c *Client) UpdateIntentStatus(ctx context.Context, id string, update models.StatusUpdate) error {
	if update.RequestID == "" {
		update.RequestID = uuid.NewString()
	}
	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to encode status update: %v", err)
	}
	endpoint := fmt.Sprintf("%s/api/v1/intents/%s/status", c.endpoint, url.PathEscape(id))

	var lastErr error
	for attempt := 0; attempt < statusUpdateAttempts; attempt++ {
		if attempt > 0 {
			metrics.StatusUpdateRetries.WithLabelValues(string(update.Status)).Inc()
			wait := statusUpdateBaseWait * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		done, err := c.patchStatus(ctx, endpoint, id, payload, update.Status)
		if done {
			return nil
		}
		lastErr = err
		c.logger.Info("Status update for intent %s to %s failed (attempt %d/%d): %v",
			id, update.Status, attempt+1, statusUpdateAttempts, err)
	}
	return fmt.Errorf("failed to update intent %s to %s after %d attempts: %v",
		id, update.Status, statusUpdateAttempts, lastErr)
}

// patchStatus performs a single PATCH attempt. It returns done=true when the
// update succeeded or the registry reports the status is already set.
func (c *Client) patchStatus(ctx context.Context, endpoint, id string, payload []byte, status models.IntentStatus) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, bytes.NewReader(payload))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer c.closeBody(resp.Body)

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("failed to read response body: %v", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true, nil
	case resp.StatusCode == http.StatusConflict:
		var errResp errorResponse
		if json.Unmarshal(bodyBytes, &errResp) == nil && errResp.CurrentStatus == string(status) {
			c.logger.Debug("Intent %s already in status %s, treating update as applied", id, status)
			return true, nil
		}
		return false, fmt.Errorf("status conflict: %s", string(bodyBytes))
	default:
		return false, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(bodyBytes))
	}
}

// PendingSecrets fetches secrets shared by makers that have not been
// acknowledged yet
func (c *Client) PendingSecrets(ctx context.Context) ([]models.SecretEvent, error) {
	endpoint := c.endpoint + "/api/v1/secrets?acked=false"
	bodyBytes, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending secrets: %v", err)
	}
	var wrapper struct {
		Secrets []models.SecretEvent `json:"secrets"`
	}
	if err := json.Unmarshal(bodyBytes, &wrapper); err == nil && wrapper.Secrets != nil {
		return wrapper.Secrets, nil
	}
	var secrets []models.SecretEvent
	if err := json.Unmarshal(bodyBytes, &secrets); err != nil {
		return nil, fmt.Errorf("failed to decode secrets: %v, body: %s", err, string(bodyBytes))
	}
	return secrets, nil
}

// AckSecret marks a shared secret as consumed so it is not delivered again
func (c *Client) AckSecret(ctx context.Context, orderHash string, index int) error {
	payload, err := json.Marshal(map[string]interface{}{
		"order_hash": orderHash,
		"index":      index,
	})
	if err != nil {
		return fmt.Errorf("failed to encode secret ack: %v", err)
	}
	endpoint := c.endpoint + "/api/v1/secrets/ack"
	if err := c.post(ctx, endpoint, payload); err != nil {
		return fmt.Errorf("failed to ack secret for order %s: %v", orderHash, err)
	}
	return nil
}

// NotifyEscrowDeployed reports a deployed escrow back to the registry so the
// maker's client can verify it before sharing the secret
func (c *Client) NotifyEscrowDeployed(ctx context.Context, id, chain string, escrow models.EscrowRecord) error {
	payload, err := json.Marshal(map[string]interface{}{
		"chain":       chain,
		"tx_hash":     escrow.TxHash,
		"address":     escrow.Address,
		"deployed_at": escrow.DeployedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to encode escrow notification: %v", err)
	}
	endpoint := fmt.Sprintf("%s/api/v1/intents/%s/escrows", c.endpoint, url.PathEscape(id))
	if err := c.post(ctx, endpoint, payload); err != nil {
		return fmt.Errorf("failed to notify escrow for intent %s: %v", id, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer c.closeBody(resp.Body)

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(bodyBytes))
	}
	return bodyBytes, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer c.closeBody(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(bodyBytes))
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func (c *Client) closeBody(body io.ReadCloser) {
	if err := body.Close(); err != nil {
		c.logger.Error("Failed to close response body: %v", err)
	}
}

// Helper function to create an HTTP client with timeouts
func createHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
