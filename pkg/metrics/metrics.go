package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for monitoring
var (
	IntentsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resolver_intents_processed_total",
		Help: "Total number of intents that finished a processing attempt, by outcome",
	}, []string{"status"})

	IntentProcessingTime = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "resolver_intent_processing_seconds",
		Help:    "Time taken to process an intent up to source escrow creation",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10), // Start at 1s with 10 buckets doubling in size
	})

	PendingIntents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "resolver_pending_intents",
		Help: "Number of pending intents seen on the last registry poll",
	})

	InFlightIntents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "resolver_inflight_intents",
		Help: "Number of intents currently being processed",
	})

	GateRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resolver_gate_rejections_total",
		Help: "Intents rejected by a pre-execution gate, by reason",
	}, []string{"reason"})

	EscrowsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resolver_escrows_created_total",
		Help: "Escrows deployed, by chain and side",
	}, []string{"chain", "side"})

	EscrowWithdrawals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resolver_escrow_withdrawals_total",
		Help: "Escrow withdrawals submitted, by chain and outcome",
	}, []string{"chain", "status"})

	EscrowCancellations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resolver_escrow_cancellations_total",
		Help: "Escrow cancellations submitted, by chain and outcome",
	}, []string{"chain", "status"})

	SecretEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resolver_secret_events_total",
		Help: "Secret-share events received, by disposition",
	}, []string{"disposition"})

	SwapsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "resolver_swaps_completed_total",
		Help: "Swaps completed with both legs withdrawn",
	})

	SwapsRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "resolver_swaps_recovered_total",
		Help: "Swaps unwound by the recovery monitor",
	})

	GasPrice = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "resolver_gas_price_gwei",
		Help: "Current gas price in gwei",
	}, []string{"chain"})

	ChainBalance = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "resolver_chain_balance",
		Help: "Native balance of the resolver account, normalized by decimals",
	}, []string{"chain"})

	TokenBalance = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "resolver_token_balance",
		Help: "Token balance of the resolver account, by token address",
	}, []string{"chain", "token"})

	StatusUpdateRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resolver_status_update_retries_total",
		Help: "Registry status-update attempts that needed a retry",
	}, []string{"status"})

	QuoteRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resolver_quote_requests_total",
		Help: "Price quote requests, by outcome (cached, fetched, error)",
	}, []string{"outcome"})

	ProfitabilityChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resolver_profitability_checks_total",
		Help: "Profitability verdicts",
	}, []string{"verdict"})

	RecoveryRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "resolver_recovery_runs_total",
		Help: "Recovery monitor sweeps executed",
	})

	TransactionFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "resolver_transaction_failures_total",
		Help: "Chain transaction failures, by chain and operation",
	}, []string{"chain", "operation"})
)
