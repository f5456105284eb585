// Package resolver contains the orchestration engine: intent intake,
// gating, order construction, escrow deployment across both chains, the
// secret-triggered completion sequence and timeout recovery.
package resolver

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/aptos"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/circuitbreaker"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/config"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/evm"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/health"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/logger"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/models"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/quote"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/registry"
)

// Service is the resolver orchestrator. It owns the chain adapters, the
// gates and the three monitor loops, and dispatches per-intent work with
// bounded concurrency.
type Service struct {
	config        *config.Config
	registry      *registry.Client
	evmService    *evm.EscrowService
	aptosService  *aptos.EscrowService
	orderBuilder  *OrderBuilder
	balances      *BalanceManager
	profitability *ProfitabilityAnalyzer
	intentMonitor *IntentMonitor
	secretMonitor *SecretMonitor
	recovery      *RecoveryMonitor
	breakers      map[string]*circuitbreaker.CircuitBreaker
	logger        logger.Logger

	mu       sync.Mutex
	inFlight map[string]*swapState // keyed by lowercased order hash

	sem chan struct{}
	wg  sync.WaitGroup
}

// NewService wires the resolver from configuration
func NewService(cfg *config.Config, log logger.Logger) (*Service, error) {
	evmService, err := evm.NewEscrowService(cfg.EVM, cfg.GasBufferMultiplier, log)
	if err != nil {
		return nil, err
	}
	aptosService, err := aptos.NewEscrowService(cfg.Aptos, log)
	if err != nil {
		return nil, err
	}

	registryClient := registry.New(cfg.RegistryEndpoint, cfg.RegistryAPIKey, log)
	quotes := quote.NewService(cfg.QuoteEndpoint, 30*time.Second, log)

	breakers := map[string]*circuitbreaker.CircuitBreaker{
		models.ChainEVM: circuitbreaker.NewCircuitBreaker(models.ChainEVM,
			cfg.CircuitBreaker.Enabled, cfg.CircuitBreaker.Threshold,
			cfg.CircuitBreaker.WindowDuration, cfg.CircuitBreaker.ResetTimeout, log),
		models.ChainAptos: circuitbreaker.NewCircuitBreaker(models.ChainAptos,
			cfg.CircuitBreaker.Enabled, cfg.CircuitBreaker.Threshold,
			cfg.CircuitBreaker.WindowDuration, cfg.CircuitBreaker.ResetTimeout, log),
	}

	s := &Service{
		config:       cfg,
		registry:     registryClient,
		evmService:   evmService,
		aptosService: aptosService,
		orderBuilder: NewOrderBuilder(cfg.PartialFillThreshold, cfg.SecretCount, cfg.MinFillPercent, log),
		breakers:     breakers,
		logger:       log,
		inFlight:     make(map[string]*swapState),
		sem:          make(chan struct{}, cfg.MaxConcurrentOrders),
	}
	s.balances = NewBalanceManager(evmService, aptosService, cfg.MinEVMBalance, cfg.MinAptosBalance, log)
	s.profitability = NewProfitabilityAnalyzer(quotes, evmService, cfg.MinProfitBPS, log)
	s.intentMonitor = NewIntentMonitor(registryClient, cfg.PollingInterval, log)
	s.secretMonitor = NewSecretMonitor(registryClient, cfg.SecretPollInterval, s.handleSecret, log)
	s.recovery = NewRecoveryMonitor(s, cfg.RecoveryInterval, log)
	return s, nil
}

// Start runs the service until the context is cancelled, then drains
// in-flight work
func (s *Service) Start(ctx context.Context) {
	healthServer := health.NewServer(s.config.MetricsPort, s.evmService, s.aptosService, s.breakers)
	go healthServer.Start()

	if err := s.aptosService.EnsureCoinRegistered(ctx); err != nil {
		s.logger.ErrorWithChain(models.ChainAptos, "Coin registration failed, withdrawals may not deposit: %v", err)
	}

	go s.intentMonitor.Start(ctx)
	go s.secretMonitor.Start(ctx)
	go s.recovery.Start(ctx)
	go s.transactionRecovery(ctx)

	s.logger.Info("Resolver service started (max %d concurrent orders)", s.config.MaxConcurrentOrders)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Context cancelled, shutting down service")
			s.wg.Wait()
			return
		case intent := <-s.intentMonitor.Intents():
			s.dispatch(ctx, intent)
		}
	}
}

// dispatch runs one intent through the pipeline, bounded by the concurrency
// semaphore
func (s *Service) dispatch(ctx context.Context, intent models.Intent) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	s.wg.Add(1)
	go func() {
		defer func() {
			<-s.sem
			s.wg.Done()
		}()
		s.processIntent(ctx, intent)
	}()
}

// IntentMonitor exposes the intent monitor for operational cache resets
func (s *Service) IntentMonitor() *IntentMonitor { return s.intentMonitor }

// SecretMonitor exposes the secret monitor for operational cache resets
func (s *Service) SecretMonitor() *SecretMonitor { return s.secretMonitor }

func (s *Service) trackSwap(state *swapState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight[strings.ToLower(state.intent.OrderHash)] = state
}

func (s *Service) trackedSwap(orderHash string) *swapState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight[strings.ToLower(orderHash)]
}

func (s *Service) trackedSwaps() []*swapState {
	s.mu.Lock()
	defer s.mu.Unlock()
	states := make([]*swapState, 0, len(s.inFlight))
	for _, state := range s.inFlight {
		states = append(states, state)
	}
	return states
}

func (s *Service) untrackSwap(orderHash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, strings.ToLower(orderHash))
}

// rebuildFromIntent resumes or reconstructs swap state for recovery. Unlike
// the secret path it tolerates missing escrow records: recovery only touches
// the escrows the intent actually has.
func (s *Service) rebuildFromIntent(intent *models.Intent) (*swapState, error) {
	if state := s.trackedSwap(intent.OrderHash); state != nil {
		return state, nil
	}
	order, secrets, _, err := s.orderBuilder.BuildOrder(intent)
	if err != nil {
		return nil, err
	}
	fill, err := s.orderBuilder.FillStrategyForPercent(order, intent.FillPercent)
	if err != nil {
		return nil, err
	}
	return &swapState{intent: *intent, order: order, secrets: secrets, fill: fill}, nil
}

// transactionRecovery periodically reconciles the nonce manager with the
// chain and frees nonces held by transactions that never confirmed
func (s *Service) transactionRecovery(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			nm := s.evmService.NonceManager()
			if timedOut := nm.FindTimedOutTransactions(); len(timedOut) > 0 {
				s.logger.InfoWithChain(models.ChainEVM, "Found %d timed out transactions", len(timedOut))
				for _, nonce := range timedOut {
					nm.MarkTransactionFailed(nonce)
				}
			}
			if err := nm.SyncWithBlockchain(ctx, s.evmService.Client()); err != nil {
				s.logger.ErrorWithChain(models.ChainEVM, "Failed to sync nonce state: %v", err)
			}
		}
	}
}
