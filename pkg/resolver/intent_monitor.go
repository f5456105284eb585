package resolver

import (
	"context"
	"sync"
	"time"

	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/logger"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/metrics"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/models"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/registry"
)

// IntentMonitor polls the registry for actionable intents (pending, open
// and crash-stranded processing) and emits each unseen intent exactly once
// on its output channel. The dedupe set is keyed
// by intent id and lives for the process lifetime unless explicitly
// cleared.
type IntentMonitor struct {
	registry *registry.Client
	interval time.Duration
	logger   logger.Logger

	mu        sync.Mutex
	processed map[string]struct{}
	out       chan models.Intent
}

// NewIntentMonitor creates an intent monitor
func NewIntentMonitor(client *registry.Client, interval time.Duration, log logger.Logger) *IntentMonitor {
	return &IntentMonitor{
		registry:  client,
		interval:  interval,
		logger:    log,
		processed: make(map[string]struct{}),
		out:       make(chan models.Intent, 100),
	}
}

// Intents returns the channel new intents are emitted on
func (m *IntentMonitor) Intents() <-chan models.Intent {
	return m.out
}

// Start runs the polling loop until the context is cancelled. Poll failures
// are logged and the loop continues; monitoring never crashes the process.
func (m *IntentMonitor) Start(ctx context.Context) {
	m.logger.Info("Intent monitor started with polling interval %v", m.interval)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Intent monitor shutting down")
			return
		case <-ticker.C:
			m.poll(ctx)
		}
	}
}

func (m *IntentMonitor) poll(ctx context.Context) {
	// processing is included so intents stranded mid-pipeline by a crash
	// are rediscovered; the dedupe set keeps this instance's own
	// in-flight work from being re-emitted
	var intents []models.Intent
	for _, status := range []models.IntentStatus{models.StatusPending, models.StatusOpen, models.StatusProcessing} {
		batch, err := m.registry.ListIntents(ctx, status)
		if err != nil {
			m.logger.Error("Error fetching %s intents: %v", status, err)
			return
		}
		intents = append(intents, batch...)
	}
	metrics.PendingIntents.Set(float64(len(intents)))
	if len(intents) == 0 {
		return
	}
	m.logger.Debug("Found %d actionable intents", len(intents))

	for _, intent := range intents {
		if intent.ID == "" {
			continue
		}
		if !m.markProcessed(intent.ID) {
			continue
		}
		select {
		case m.out <- intent:
		case <-ctx.Done():
			return
		}
	}
}

// markProcessed records the id and reports whether it was new
func (m *IntentMonitor) markProcessed(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, seen := m.processed[id]; seen {
		return false
	}
	m.processed[id] = struct{}{}
	return true
}

// Forget removes an intent id from the dedupe set so a later poll cycle can
// re-surface it. Used after gating failures, which are terminal for the
// attempt but not for the intent.
func (m *IntentMonitor) Forget(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.processed, id)
}

// ClearProcessedCache wipes the dedupe set. Operational reset only:
// reprocessing an intent that is mid-flight externally is on the operator.
func (m *IntentMonitor) ClearProcessedCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed = make(map[string]struct{})
	m.logger.Info("Intent monitor processed cache cleared")
}

// ProcessedCount returns the size of the dedupe set
func (m *IntentMonitor) ProcessedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.processed)
}
