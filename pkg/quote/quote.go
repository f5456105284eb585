// Package quote fetches market rates for swap pairs from the pricing
// service. Quotes gate profitability checks, so any failure here is
// surfaced to the caller rather than defaulted.
package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/logger"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/metrics"
)

// Quote is the rate the pricing service reports for a pair: how much of the
// destination asset one unit batch of the source asset is currently worth,
// plus the expected execution cost in destination units.
type Quote struct {
	SrcAsset       string    `json:"src_asset"`
	DstAsset       string    `json:"dst_asset"`
	AmountIn       string    `json:"amount_in"`
	AmountOut      string    `json:"amount_out"`
	EstimatedCosts string    `json:"estimated_costs"`
	QuotedAt       time.Time `json:"quoted_at"`
}

// AmountOutBig parses the quoted output amount.
func (q *Quote) AmountOutBig() (*big.Int, error) {
	v, ok := new(big.Int).SetString(q.AmountOut, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount_out in quote: %q", q.AmountOut)
	}
	return v, nil
}

// EstimatedCostsBig parses the quoted execution costs. A missing field
// means the service reported no cost estimate and is treated as zero.
func (q *Quote) EstimatedCostsBig() (*big.Int, error) {
	if q.EstimatedCosts == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(q.EstimatedCosts, 10)
	if !ok {
		return nil, fmt.Errorf("invalid estimated_costs in quote: %q", q.EstimatedCosts)
	}
	return v, nil
}

// cachedQuote represents a cached quote with timestamp
type cachedQuote struct {
	quote     *Quote
	timestamp time.Time
}

// Service fetches quotes from the pricing endpoint with a short-lived cache
// to avoid duplicate calls when several intents hit the same pair.
type Service struct {
	endpoint   string
	httpClient *http.Client
	logger     logger.Logger

	mu       sync.RWMutex
	cache    map[string]*cachedQuote
	cacheTTL time.Duration
}

// NewService creates a quote service with the given cache TTL.
func NewService(endpoint string, cacheTTL time.Duration, log logger.Logger) *Service {
	return &Service{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger:   log,
		cache:    make(map[string]*cachedQuote),
		cacheTTL: cacheTTL,
	}
}

// GetQuote returns the current rate for converting amountIn of srcAsset into
// dstAsset. Results are cached per (src, dst, amount) for the service TTL.
func (s *Service) GetQuote(ctx context.Context, srcAsset, dstAsset, amountIn string) (*Quote, error) {
	key := srcAsset + "|" + dstAsset + "|" + amountIn
	if q := s.cacheGet(key); q != nil {
		metrics.QuoteRequests.WithLabelValues("cached").Inc()
		return q, nil
	}

	q, err := s.fetch(ctx, srcAsset, dstAsset, amountIn)
	if err != nil {
		metrics.QuoteRequests.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.QuoteRequests.WithLabelValues("fetched").Inc()
	s.cacheSet(key, q)
	return q, nil
}

func (s *Service) fetch(ctx context.Context, srcAsset, dstAsset, amountIn string) (*Quote, error) {
	endpoint := fmt.Sprintf("%s/api/v1/quote?src=%s&dst=%s&amount=%s",
		s.endpoint, url.QueryEscape(srcAsset), url.QueryEscape(dstAsset), url.QueryEscape(amountIn))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch quote: %v", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			s.logger.Error("Failed to close quote response body: %v", err)
		}
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read quote response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(bodyBytes))
	}

	var q Quote
	if err := json.Unmarshal(bodyBytes, &q); err != nil {
		return nil, fmt.Errorf("failed to decode quote: %v, body: %s", err, string(bodyBytes))
	}
	if q.AmountOut == "" {
		return nil, fmt.Errorf("quote response missing amount_out, body: %s", string(bodyBytes))
	}
	if q.QuotedAt.IsZero() {
		q.QuotedAt = time.Now()
	}
	return &q, nil
}

func (s *Service) cacheGet(key string) *Quote {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cached, exists := s.cache[key]
	if !exists {
		return nil
	}
	if time.Since(cached.timestamp) > s.cacheTTL {
		return nil
	}
	return cached.quote
}

func (s *Service) cacheSet(key string, q *Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache[key] = &cachedQuote{quote: q, timestamp: time.Now()}
}
