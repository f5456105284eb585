package resolver

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/evm"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/metrics"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/models"
)

// swapState is the in-memory record of a swap the resolver is driving. The
// canonical record stays in the registry; this is the working copy keyed by
// order hash that the secret and recovery paths resume from.
type swapState struct {
	intent  models.Intent
	order   *models.CrossChainOrder
	secrets *models.SecretSet
	fill    *models.FillStrategy
}

// processIntent drives one intent from pending through source escrow
// creation. Completion is asynchronous: it happens when the maker's secret
// arrives, or recovery cancels once cancellation windows open.
func (s *Service) processIntent(ctx context.Context, intent models.Intent) {
	start := time.Now()
	metrics.InFlightIntents.Inc()
	defer func() {
		metrics.InFlightIntents.Dec()
		metrics.IntentProcessingTime.Observe(time.Since(start).Seconds())
	}()

	log := s.logger
	log.Info("Processing intent %s (order %s)", intent.ID, intent.OrderHash)

	if intent.SrcChain != models.ChainEVM || intent.DstChain != models.ChainAptos {
		s.failIntent(ctx, &intent, models.ReasonOrderBuildFailed,
			fmt.Sprintf("unsupported route %s -> %s", intent.SrcChain, intent.DstChain))
		return
	}

	if s.breakers[models.ChainEVM].IsOpen() || s.breakers[models.ChainAptos].IsOpen() {
		log.Info("Circuit open, deferring intent %s", intent.ID)
		s.intentMonitor.Forget(intent.ID)
		return
	}

	if err := s.updateStatus(ctx, intent.ID, models.StatusProcessing, nil); err != nil {
		log.Error("Failed to mark intent %s processing: %v", intent.ID, err)
		s.intentMonitor.Forget(intent.ID)
		return
	}

	// both gates run before any secret is minted or persisted: an intent
	// that fails gating leaves no trace beyond its failed status. The
	// profitability gate fails closed: no quote means no fill.
	report, err := s.profitability.Analyze(ctx, &intent)
	if err != nil {
		metrics.GateRejections.WithLabelValues(models.ReasonNotProfitable).Inc()
		s.failIntent(ctx, &intent, models.ReasonNotProfitable, err.Error())
		return
	}
	if !report.Profitable {
		metrics.GateRejections.WithLabelValues(models.ReasonNotProfitable).Inc()
		s.failIntent(ctx, &intent, models.ReasonNotProfitable, report.Reason)
		return
	}

	floors, err := s.balances.CheckMinimumBalances(ctx)
	if err != nil || !floors.Sufficient {
		detail := "wallet balances below configured floors"
		if err != nil {
			detail = err.Error()
		}
		metrics.GateRejections.WithLabelValues(models.ReasonInsufficientBalance).Inc()
		s.failIntent(ctx, &intent, models.ReasonInsufficientBalance, detail)
		return
	}
	check, err := s.balances.CheckIntentBalances(ctx, &intent)
	if err != nil || !check.Sufficient {
		detail := "insufficient balances for this swap"
		if err != nil {
			detail = err.Error()
		}
		metrics.GateRejections.WithLabelValues(models.ReasonInsufficientBalance).Inc()
		s.failIntent(ctx, &intent, models.ReasonInsufficientBalance, detail)
		return
	}

	order, secrets, fresh, err := s.orderBuilder.BuildOrder(&intent)
	if err != nil {
		s.failIntent(ctx, &intent, models.ReasonOrderBuildFailed, err.Error())
		return
	}
	if fresh {
		if err := s.persistSecrets(ctx, &intent, order, secrets); err != nil {
			s.failIntent(ctx, &intent, models.ReasonOrderBuildFailed,
				fmt.Sprintf("failed to persist secrets: %v", err))
			return
		}
	}

	liquidity, err := s.balances.AvailableDestinationLiquidity(ctx)
	if err != nil {
		s.failIntent(ctx, &intent, models.ReasonInsufficientBalance, err.Error())
		return
	}
	fill, err := s.orderBuilder.CalculateFillStrategy(order, liquidity)
	if err != nil {
		metrics.GateRejections.WithLabelValues(models.ReasonInsufficientBalance).Inc()
		s.failIntent(ctx, &intent, models.ReasonInsufficientBalance, err.Error())
		return
	}

	record, err := s.deploySourceEscrow(ctx, &intent, order, fill)
	if err != nil {
		s.breakers[models.ChainEVM].RecordFailure()
		s.failIntent(ctx, &intent, models.ReasonEscrowDeployFailed, err.Error())
		return
	}
	s.breakers[models.ChainEVM].RecordSuccess()
	intent.SrcEscrow = record
	intent.FillPercent = fill.FillPercent

	if err := s.registry.NotifyEscrowDeployed(ctx, intent.ID, models.ChainEVM, *record); err != nil {
		log.Error("Failed to notify source escrow for intent %s: %v", intent.ID, err)
	}
	// fill_percent rides along so a restarted process rebuilds the same
	// immutables the deployed escrow was created with
	if err := s.updateStatus(ctx, intent.ID, models.StatusEscrowSrcCreated, map[string]string{
		"src_escrow_tx":       record.TxHash,
		"src_escrow_address":  record.Address,
		"src_escrow_deployed": fmt.Sprintf("%d", record.DeployedAt),
		"fill_percent":        fmt.Sprintf("%d", fill.FillPercent),
	}); err != nil {
		log.Error("Failed to record source escrow status for intent %s: %v", intent.ID, err)
	}

	s.trackSwap(&swapState{intent: intent, order: order, secrets: secrets, fill: fill})
	metrics.IntentsProcessed.WithLabelValues(string(models.StatusEscrowSrcCreated)).Inc()
	log.NoticeWithChain(models.ChainEVM, "Intent %s waiting for secret, source escrow %s", intent.ID, record.Address)
}

// deploySourceEscrow fills the maker's signed order through the resolver
// contract. Only failures that provably happened before broadcast are
// retried with backoff; anything else is surfaced
func (s *Service) deploySourceEscrow(ctx context.Context, intent *models.Intent, order *models.CrossChainOrder, fill *models.FillStrategy) (*models.EscrowRecord, error) {
	sigR, sigVS, err := SignatureToRVS(intent.Signature)
	if err != nil {
		return nil, fmt.Errorf("invalid maker signature: %v", err)
	}
	args := deploySrcArgs(order)

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(1<<(attempt-1)) * 10 * time.Second):
			}
		}
		record, err := s.evmService.CreateSourceEscrow(ctx, ToContractOrder(order), sigR, sigVS, fill.FillAmount, order.SafetyDepositSrc, args)
		if err == nil {
			return record, nil
		}
		lastErr = err
		shouldRetry, errorType := evm.ClassifyError(err)
		// once the transaction may have been broadcast a resubmission
		// could fill the order twice, so only pre-submission failures
		// are retried
		if !shouldRetry || submissionOutcomeUnknown(err) {
			return nil, fmt.Errorf("source escrow deployment failed (%s): %v", errorType, err)
		}
		s.logger.InfoWithChain(models.ChainEVM, "Source escrow attempt %d for intent %s failed (%s): %v",
			attempt+1, intent.ID, errorType, err)
	}
	return nil, fmt.Errorf("source escrow deployment failed after retries: %v", lastErr)
}

// submissionOutcomeUnknown reports whether a deployment error happened
// after the transaction could have reached the mempool. Receipt-wait
// failures fall in this bucket: the transaction may still land, and
// resubmitting it is not safe.
func submissionOutcomeUnknown(err error) bool {
	return err != nil && strings.Contains(err.Error(), "receipt")
}

// deploySrcArgs builds the extension payload deploySrc forwards to the
// factory: the hashlock followed by the relative timelocks word
func deploySrcArgs(order *models.CrossChainOrder) []byte {
	args := make([]byte, 0, 64)
	args = append(args, order.HashLock.Bytes()...)
	args = append(args, common.LeftPadBytes(order.TimeLocks.Pack().Bytes(), 32)...)
	return args
}

// handleSecret completes a swap once the maker's secret is revealed:
// destination escrow (if still missing), destination withdrawal, then
// source withdrawal — strictly in that order so the secret is never exposed
// on the source chain before the maker has been paid.
func (s *Service) handleSecret(ctx context.Context, event models.SecretEvent) error {
	state, err := s.swapForOrderHash(ctx, event.OrderHash)
	if err != nil {
		return err
	}
	if state.intent.Status.Terminal() {
		s.logger.Debug("Ignoring secret for order %s: intent %s already %s",
			event.OrderHash, state.intent.ID, state.intent.Status)
		return nil
	}

	secret, err := parseSecret(event.Secret)
	if err != nil {
		return fmt.Errorf("order %s: %v", event.OrderHash, err)
	}

	// the chain contracts verify the hashlock themselves; this local check
	// catches a bad relay before any transaction is spent on it
	if !state.secrets.VerifySecret(event.Index, secret) {
		metrics.SecretEvents.WithLabelValues("rejected").Inc()
		return fmt.Errorf("order %s: secret at index %d does not match hashlock", event.OrderHash, event.Index)
	}
	if state.secrets.Consumed(event.Index) {
		s.logger.Debug("Leaf %d for order %s already spent, ignoring redelivery", event.Index, event.OrderHash)
		return nil
	}

	if state.intent.DstEscrow == nil {
		if err := s.deployDestinationEscrow(ctx, state); err != nil {
			s.breakers[models.ChainAptos].RecordFailure()
			return err
		}
		s.breakers[models.ChainAptos].RecordSuccess()
	}

	orderHash := state.order.OrderHash

	if _, err := s.aptosService.WithdrawEscrow(ctx, orderHash, secret); err != nil {
		s.breakers[models.ChainAptos].RecordFailure()
		return fmt.Errorf("destination withdrawal failed for order %s: %v", event.OrderHash, err)
	}
	s.breakers[models.ChainAptos].RecordSuccess()

	srcImmutables := s.sourceImmutables(state)
	if _, err := s.evmService.WithdrawEscrow(ctx, state.intent.SrcEscrow.Address, secret, srcImmutables); err != nil {
		s.breakers[models.ChainEVM].RecordFailure()
		return fmt.Errorf("source withdrawal failed for order %s: %v", event.OrderHash, err)
	}
	s.breakers[models.ChainEVM].RecordSuccess()

	// the leaf is spent only once both withdrawals have landed, so a failed
	// attempt can be retried on the next delivery of the same event
	if err := state.secrets.Consume(event.Index); err != nil {
		s.logger.Error("Failed to record spent leaf %d for order %s: %v", event.Index, event.OrderHash, err)
	}

	// refresh the token gauge with the maker asset just claimed
	if _, err := s.evmService.TokenBalance(ctx, state.order.MakerAsset); err != nil {
		s.logger.Debug("Failed to refresh token balance for %s: %v", state.order.MakerAsset.Hex(), err)
	}

	if err := s.updateStatus(ctx, state.intent.ID, models.StatusCompleted, nil); err != nil {
		s.logger.Error("Failed to mark intent %s completed: %v", state.intent.ID, err)
	}
	s.untrackSwap(event.OrderHash)
	metrics.SwapsCompleted.Inc()
	metrics.IntentsProcessed.WithLabelValues(string(models.StatusCompleted)).Inc()
	s.logger.Notice("Swap completed for intent %s (order %s)", state.intent.ID, event.OrderHash)
	return nil
}

// deployDestinationEscrow locks the destination leg on Aptos and records it
func (s *Service) deployDestinationEscrow(ctx context.Context, state *swapState) error {
	dstAmount := fillTakingAmount(state.order, state.fill)
	record, err := s.aptosService.CreateEscrow(ctx,
		state.order.OrderHash,
		state.order.HashLock,
		state.order.AptosRecipient,
		dstAmount,
		state.order.SafetyDepositDst,
		state.order.TimeLocks,
	)
	if err != nil {
		return fmt.Errorf("destination escrow failed for order %s: %v", state.order.OrderHash.Hex(), err)
	}
	state.intent.DstEscrow = record

	if err := s.registry.NotifyEscrowDeployed(ctx, state.intent.ID, models.ChainAptos, *record); err != nil {
		s.logger.Error("Failed to notify destination escrow for intent %s: %v", state.intent.ID, err)
	}
	if err := s.updateStatus(ctx, state.intent.ID, models.StatusEscrowDstCreated, map[string]string{
		"dst_escrow_tx":       record.TxHash,
		"dst_escrow_address":  record.Address,
		"dst_escrow_deployed": fmt.Sprintf("%d", record.DeployedAt),
	}); err != nil {
		s.logger.Error("Failed to record destination escrow status for intent %s: %v", state.intent.ID, err)
	}
	return nil
}

// sourceImmutables recomputes the source escrow immutables from the intent
// and the recorded deployment timestamp. Never cached: the packed timelocks
// must match the deployed escrow exactly.
func (s *Service) sourceImmutables(state *swapState) models.EscrowImmutables {
	return models.EscrowImmutables{
		OrderHash:     state.order.OrderHash,
		HashLock:      state.order.HashLock,
		Maker:         state.order.Maker,
		Taker:         s.evmService.Address(),
		Token:         state.order.MakerAsset,
		Amount:        state.fill.FillAmount,
		SafetyDeposit: state.order.SafetyDepositSrc,
		TimeLocks:     state.order.TimeLocks.WithDeployedAt(state.intent.SrcEscrow.DeployedAt),
	}
}

// swapForOrderHash resumes the swap state for an order hash, rebuilding it
// from the registry when the in-memory copy is gone (process restart)
func (s *Service) swapForOrderHash(ctx context.Context, orderHash string) (*swapState, error) {
	if state := s.trackedSwap(orderHash); state != nil {
		return state, nil
	}

	intent, err := s.intentForOrderHash(ctx, orderHash)
	if err != nil {
		return nil, err
	}
	state, err := s.rebuildSwap(intent)
	if err != nil {
		return nil, err
	}
	s.trackSwap(state)
	return state, nil
}

// rebuildSwap reconstructs order, secrets and fill from a registry intent.
// The persisted secrets make this deterministic; without a source escrow
// record there is nothing to resume.
func (s *Service) rebuildSwap(intent *models.Intent) (*swapState, error) {
	if intent.SrcEscrow == nil {
		return nil, fmt.Errorf("intent %s has no source escrow to resume", intent.ID)
	}
	order, secrets, fresh, err := s.orderBuilder.BuildOrder(intent)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild order for intent %s: %v", intent.ID, err)
	}
	if fresh {
		return nil, fmt.Errorf("intent %s has a source escrow but no persisted secrets", intent.ID)
	}
	fill, err := s.orderBuilder.FillStrategyForPercent(order, intent.FillPercent)
	if err != nil {
		return nil, fmt.Errorf("failed to restore fill for intent %s: %v", intent.ID, err)
	}
	return &swapState{intent: *intent, order: order, secrets: secrets, fill: fill}, nil
}

// intentForOrderHash finds the registry intent carrying an order hash among
// the in-progress statuses
func (s *Service) intentForOrderHash(ctx context.Context, orderHash string) (*models.Intent, error) {
	for _, status := range []models.IntentStatus{
		models.StatusEscrowSrcCreated,
		models.StatusEscrowDstCreated,
		models.StatusProcessing,
	} {
		intents, err := s.registry.ListIntents(ctx, status)
		if err != nil {
			return nil, err
		}
		for i := range intents {
			if strings.EqualFold(intents[i].OrderHash, orderHash) {
				return &intents[i], nil
			}
		}
	}
	return nil, fmt.Errorf("no in-progress intent found for order %s", orderHash)
}

// persistSecrets stores freshly generated secrets with the registry so a
// rebuilt order reuses them instead of minting unrelated ones
func (s *Service) persistSecrets(ctx context.Context, intent *models.Intent, order *models.CrossChainOrder, secrets *models.SecretSet) error {
	hexSecrets := secrets.HexSecrets()
	intent.Secrets = hexSecrets
	intent.SecretHash = order.HashLock.Hex()
	return s.updateStatus(ctx, intent.ID, models.StatusProcessing, map[string]string{
		"secret_hash": order.HashLock.Hex(),
		"secrets":     strings.Join(hexSecrets, ","),
	})
}

// failIntent reports a terminal failure for this attempt with a reason code
func (s *Service) failIntent(ctx context.Context, intent *models.Intent, reason, detail string) {
	s.logger.Info("Intent %s failed: %s (%s)", intent.ID, reason, detail)
	metrics.IntentsProcessed.WithLabelValues(string(models.StatusFailed)).Inc()
	if err := s.updateStatus(ctx, intent.ID, models.StatusFailed, map[string]string{
		"reason": reason,
		"detail": detail,
	}); err != nil {
		s.logger.Error("Failed to report failure for intent %s: %v", intent.ID, err)
	}
}

func (s *Service) updateStatus(ctx context.Context, id string, status models.IntentStatus, metadata map[string]string) error {
	return s.registry.UpdateIntentStatus(ctx, id, models.StatusUpdate{
		Status:   status,
		Metadata: metadata,
	})
}

func parseSecret(hexSecret string) ([32]byte, error) {
	var secret [32]byte
	raw, err := hex.DecodeString(strings.TrimPrefix(hexSecret, "0x"))
	if err != nil {
		return secret, fmt.Errorf("invalid secret hex: %v", err)
	}
	if len(raw) != 32 {
		return secret, fmt.Errorf("secret must be 32 bytes, got %d", len(raw))
	}
	copy(secret[:], raw)
	return secret, nil
}
