// Package health exposes the operational HTTP surface of the resolver:
// liveness, readiness, chain status, circuit breaker control and Prometheus
// metrics.
package health

import (
	"encoding/json"
	"log"
	"math/big"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/aptos"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/circuitbreaker"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/evm"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/metrics"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/models"
)

// Server represents the health check HTTP server
type Server struct {
	port          string
	evmService    *evm.EscrowService
	aptosService  *aptos.EscrowService
	breakers      map[string]*circuitbreaker.CircuitBreaker
	metricsAPIKey string
}

// NewServer creates a new health check server
func NewServer(port string, evmService *evm.EscrowService, aptosService *aptos.EscrowService, breakers map[string]*circuitbreaker.CircuitBreaker) *Server {
	return &Server{
		port:          port,
		evmService:    evmService,
		aptosService:  aptosService,
		breakers:      breakers,
		metricsAPIKey: os.Getenv("METRICS_API_KEY"),
	}
}

// metricsAuthMiddleware is a middleware that checks for a valid API key
func (s *Server) metricsAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip auth if no API key is configured
		if s.metricsAPIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Missing Authorization header", http.StatusUnauthorized)
			return
		}
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
			return
		}
		if parts[1] != s.metricsAPIKey {
			http.Error(w, "Invalid API key", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start starts the health check server. It blocks, so run it in its own
// goroutine.
func (s *Server) Start() {
	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Readiness: both chain endpoints must answer
	http.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if !s.evmService.Connected(r.Context()) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("EVM client not connected"))
			return
		}
		if !s.aptosService.Connected(r.Context()) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("Aptos client not connected"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Ready"))
	})

	http.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]interface{}{
			models.ChainEVM:   s.evmStatus(r),
			models.ChainAptos: s.aptosStatus(r),
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(status); err != nil {
			log.Printf("Error encoding status JSON: %v", err)
		}
	})

	// Circuit breaker admin control endpoint
	http.HandleFunc("/circuit/reset", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		chain := r.URL.Query().Get("chain")
		if chain == "" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte("Missing chain parameter"))
			return
		}
		cb, ok := s.breakers[chain]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte("No circuit breaker for chain " + chain))
			return
		}
		cb.Reset()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Circuit breaker for chain " + chain + " reset"))
	})

	// Expose Prometheus metrics with API key authentication
	http.Handle("/metrics", s.metricsAuthMiddleware(promhttp.Handler()))

	log.Printf("Starting health and metrics server on port %s", s.port)
	if err := http.ListenAndServe(":"+s.port, nil); err != nil {
		log.Printf("Health server error: %v", err)
	}
}

func (s *Server) evmStatus(r *http.Request) map[string]interface{} {
	connected := s.evmService.Connected(r.Context())
	status := map[string]interface{}{
		"address":       s.evmService.Address().Hex(),
		"connected":     connected,
		"circuit":       s.circuitState(models.ChainEVM),
		"pending_nonce": s.evmService.NonceManager().PendingTransactionsCount(),
	}
	if connected {
		if balance, err := s.evmService.NativeBalance(r.Context()); err == nil {
			status["native_balance"] = balance.String()
			balanceFloat, _ := new(big.Float).SetInt(balance).Float64()
			metrics.ChainBalance.WithLabelValues(models.ChainEVM).Set(balanceFloat)
		}
	}
	return status
}

func (s *Server) aptosStatus(r *http.Request) map[string]interface{} {
	connected := s.aptosService.Connected(r.Context())
	status := map[string]interface{}{
		"address":   s.aptosService.Address(),
		"connected": connected,
		"circuit":   s.circuitState(models.ChainAptos),
	}
	if connected {
		if balance, err := s.aptosService.AccountBalance(r.Context()); err == nil {
			status["coin_balance"] = balance.String()
			balanceFloat, _ := new(big.Float).SetInt(balance).Float64()
			metrics.ChainBalance.WithLabelValues(models.ChainAptos).Set(balanceFloat)
		}
	}
	return status
}

func (s *Server) circuitState(chain string) string {
	if cb, ok := s.breakers[chain]; ok && cb.IsOpen() {
		return "open"
	}
	return "closed"
}
