package resolver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/logger"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/metrics"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/models"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/registry"
)

// SecretHandler completes the swap leg for one revealed secret
type SecretHandler func(ctx context.Context, event models.SecretEvent) error

// SecretMonitor consumes maker-shared secrets from both the registry poll
// endpoint and the websocket stream. Events are deduplicated by order hash
// and leaf index since the transport may deliver the same event repeatedly;
// a failed handler run removes the dedupe entry so the next delivery retries
// the swap from its last-known state.
type SecretMonitor struct {
	registry *registry.Client
	stream   *registry.SecretStream
	interval time.Duration
	handler  SecretHandler
	logger   logger.Logger

	mu        sync.Mutex
	processed map[string]struct{}
}

// NewSecretMonitor creates a secret monitor
func NewSecretMonitor(client *registry.Client, interval time.Duration, handler SecretHandler, log logger.Logger) *SecretMonitor {
	return &SecretMonitor{
		registry:  client,
		stream:    registry.NewSecretStream(client),
		interval:  interval,
		handler:   handler,
		logger:    log,
		processed: make(map[string]struct{}),
	}
}

// Start runs the poll loop and the websocket stream until the context is
// cancelled
func (m *SecretMonitor) Start(ctx context.Context) {
	m.logger.Info("Secret monitor started with polling interval %v", m.interval)
	go m.stream.Run(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Secret monitor shutting down")
			return
		case event := <-m.stream.Events():
			m.handle(ctx, event)
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

func (m *SecretMonitor) poll(ctx context.Context) {
	events, err := m.registry.PendingSecrets(ctx)
	if err != nil {
		m.logger.Error("Error fetching pending secrets: %v", err)
		return
	}
	for _, event := range events {
		m.handle(ctx, event)
	}
}

func (m *SecretMonitor) handle(ctx context.Context, event models.SecretEvent) {
	if event.OrderHash == "" || event.Secret == "" {
		return
	}
	key := dedupeKey(event)
	if !m.markProcessed(key) {
		metrics.SecretEvents.WithLabelValues("duplicate").Inc()
		return
	}

	if err := m.handler(ctx, event); err != nil {
		metrics.SecretEvents.WithLabelValues("failed").Inc()
		m.logger.Error("Secret handling failed for order %s (index %d): %v", event.OrderHash, event.Index, err)
		// allow the next delivery of this event to retry
		m.forget(key)
		return
	}
	metrics.SecretEvents.WithLabelValues("handled").Inc()

	if err := m.registry.AckSecret(ctx, event.OrderHash, event.Index); err != nil {
		// the dedupe set still suppresses the redelivered event
		m.logger.Error("Failed to ack secret for order %s: %v", event.OrderHash, err)
	}
}

func (m *SecretMonitor) markProcessed(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, seen := m.processed[key]; seen {
		return false
	}
	m.processed[key] = struct{}{}
	return true
}

func (m *SecretMonitor) forget(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.processed, key)
}

// ClearProcessedCache wipes the dedupe set, allowing redelivered secret
// events to be reprocessed
func (m *SecretMonitor) ClearProcessedCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed = make(map[string]struct{})
	m.logger.Info("Secret monitor processed cache cleared")
}

func dedupeKey(event models.SecretEvent) string {
	return fmt.Sprintf("%s:%d", event.OrderHash, event.Index)
}
