package quote

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/logger"
)

func TestGetQuote(t *testing.T) {
	var requests int32
	var mu sync.Mutex
	var amounts []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		assert.Equal(t, "/api/v1/quote", r.URL.Path)
		assert.Equal(t, "USDC", r.URL.Query().Get("src"))
		assert.Equal(t, "APT", r.URL.Query().Get("dst"))
		mu.Lock()
		amounts = append(amounts, r.URL.Query().Get("amount"))
		mu.Unlock()
		fmt.Fprint(w, `{"src_asset":"USDC","dst_asset":"APT","amount_in":"1000000","amount_out":"1980000","estimated_costs":"5000"}`)
	}))
	defer server.Close()

	svc := NewService(server.URL, time.Minute, &logger.EmptyLogger{})

	q, err := svc.GetQuote(context.Background(), "USDC", "APT", "1000000")
	require.NoError(t, err)

	out, err := q.AmountOutBig()
	require.NoError(t, err)
	assert.Equal(t, "1980000", out.String())

	costs, err := q.EstimatedCostsBig()
	require.NoError(t, err)
	assert.Equal(t, "5000", costs.String())
	assert.False(t, q.QuotedAt.IsZero())

	// Same pair and amount within the TTL is served from cache.
	_, err = svc.GetQuote(context.Background(), "USDC", "APT", "1000000")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&requests))

	// A different amount is a cache miss.
	_, err = svc.GetQuote(context.Background(), "USDC", "APT", "2000000")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&requests))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"1000000", "2000000"}, amounts)
}

func TestGetQuoteCacheExpiry(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		fmt.Fprint(w, `{"amount_out":"100"}`)
	}))
	defer server.Close()

	svc := NewService(server.URL, 10*time.Millisecond, &logger.EmptyLogger{})

	_, err := svc.GetQuote(context.Background(), "a", "b", "1")
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	_, err = svc.GetQuote(context.Background(), "a", "b", "1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&requests))
}

func TestGetQuoteErrors(t *testing.T) {
	t.Run("server failure is surfaced", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "no route", http.StatusBadGateway)
		}))
		defer server.Close()

		svc := NewService(server.URL, time.Minute, &logger.EmptyLogger{})
		_, err := svc.GetQuote(context.Background(), "a", "b", "1")
		assert.Error(t, err)
	})

	t.Run("missing amount_out is rejected", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"src_asset":"a"}`)
		}))
		defer server.Close()

		svc := NewService(server.URL, time.Minute, &logger.EmptyLogger{})
		_, err := svc.GetQuote(context.Background(), "a", "b", "1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "amount_out")
	})
}

func TestQuoteParsing(t *testing.T) {
	q := &Quote{AmountOut: "123"}
	out, err := q.AmountOutBig()
	require.NoError(t, err)
	assert.Equal(t, int64(123), out.Int64())

	costs, err := q.EstimatedCostsBig()
	require.NoError(t, err)
	assert.Equal(t, int64(0), costs.Int64(), "absent costs default to zero")

	q.EstimatedCosts = "not-a-number"
	_, err = q.EstimatedCostsBig()
	assert.Error(t, err)

	q.AmountOut = "xyz"
	_, err = q.AmountOutBig()
	assert.Error(t, err)
}
