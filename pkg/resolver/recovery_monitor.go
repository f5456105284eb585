package resolver

import (
	"context"
	"strings"
	"time"

	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/logger"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/metrics"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/models"
)

// RecoveryMonitor unwinds swaps whose secret never arrived. Once an
// intent's cancellation windows open it cancels the destination escrow
// first, then the source escrow, so funds flow back to their depositors.
// The whole pass is idempotent: an already-cancelled escrow counts as
// recovered, and re-running over the same intent is a no-op.
type RecoveryMonitor struct {
	svc      *Service
	interval time.Duration
	logger   logger.Logger
}

// NewRecoveryMonitor creates a recovery monitor
func NewRecoveryMonitor(svc *Service, interval time.Duration, log logger.Logger) *RecoveryMonitor {
	return &RecoveryMonitor{svc: svc, interval: interval, logger: log}
}

// Start runs the recovery loop until the context is cancelled
func (m *RecoveryMonitor) Start(ctx context.Context) {
	m.logger.Info("Recovery monitor started with interval %v", m.interval)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Recovery monitor shutting down")
			return
		case <-ticker.C:
			m.run(ctx)
		}
	}
}

// run collects recoverable intents from the registry and from in-memory
// swaps whose cancellation deadline has passed, and cancels each
func (m *RecoveryMonitor) run(ctx context.Context) {
	metrics.RecoveryRuns.Inc()

	expired, err := m.svc.registry.ListIntents(ctx, models.StatusExpired)
	if err != nil {
		m.logger.Error("Error fetching expired intents: %v", err)
		expired = nil
	}
	for i := range expired {
		m.recoverIntent(ctx, &expired[i])
	}

	for _, state := range m.svc.trackedSwaps() {
		if !m.cancellationOpen(state) {
			continue
		}
		m.logger.Info("Intent %s passed its cancellation deadline without a secret", state.intent.ID)
		m.recoverIntent(ctx, &state.intent)
	}
}

// cancellationOpen reports whether the source cancellation window of a
// tracked swap has opened
func (m *RecoveryMonitor) cancellationOpen(state *swapState) bool {
	if state.intent.SrcEscrow == nil {
		return false
	}
	timelocks := state.order.TimeLocks.WithDeployedAt(state.intent.SrcEscrow.DeployedAt)
	return timelocks.StageOpen(models.StageSrcCancellation, time.Now())
}

// recoverIntent cancels both escrows of one intent, destination first
func (m *RecoveryMonitor) recoverIntent(ctx context.Context, intent *models.Intent) {
	if intent.Status.Terminal() {
		return
	}
	state, err := m.svc.rebuildFromIntent(intent)
	if err != nil {
		m.logger.Error("Cannot recover intent %s: %v", intent.ID, err)
		return
	}

	if state.intent.DstEscrow != nil {
		if _, err := m.svc.aptosService.CancelEscrow(ctx, state.order.OrderHash); err != nil && !alreadyFinalized(err) {
			m.logger.ErrorWithChain(models.ChainAptos, "Failed to cancel destination escrow for intent %s: %v", intent.ID, err)
			return
		}
	}

	if state.intent.SrcEscrow != nil {
		srcImmutables := m.svc.sourceImmutables(state)
		if _, err := m.svc.evmService.CancelEscrow(ctx, state.intent.SrcEscrow.Address, srcImmutables); err != nil && !alreadyFinalized(err) {
			m.logger.ErrorWithChain(models.ChainEVM, "Failed to cancel source escrow for intent %s: %v", intent.ID, err)
			return
		}
	}

	if err := m.svc.updateStatus(ctx, intent.ID, models.StatusCancelled, map[string]string{
		"reason": "cancellation window reached without secret",
	}); err != nil {
		m.logger.Error("Failed to mark intent %s cancelled: %v", intent.ID, err)
		return
	}
	m.svc.untrackSwap(intent.OrderHash)
	metrics.SwapsRecovered.Inc()
	metrics.IntentsProcessed.WithLabelValues(string(models.StatusCancelled)).Inc()
	m.logger.Notice("Recovered intent %s: both escrows cancelled", intent.ID)
}

// alreadyFinalized treats a cancel attempt on an already-closed escrow as
// success, which keeps recovery idempotent across runs
func alreadyFinalized(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "already cancelled") ||
		strings.Contains(msg, "already withdrawn") ||
		strings.Contains(msg, "ESCROW_NOT_FOUND") ||
		strings.Contains(msg, "escrow not found")
}
