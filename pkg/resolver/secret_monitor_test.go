package resolver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/logger"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/models"
	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/registry"
)

func newSecretMonitorForTest(t *testing.T, handler SecretHandler) *SecretMonitor {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	client := registry.New(server.URL, "", &logger.EmptyLogger{})
	return NewSecretMonitor(client, time.Minute, handler, &logger.EmptyLogger{})
}

func secretEvent(index int) models.SecretEvent {
	return models.SecretEvent{
		OrderHash: "0x59c1b7bb2a34be340713e3e6851ffedcdf7321389ff2f9972d0e92a3fac0d717",
		Secret:    "0x000000000000000000000000000000000000000000000000000000000000002a",
		Index:     index,
	}
}

func TestSecretMonitorDedupe(t *testing.T) {
	var calls int32
	monitor := newSecretMonitorForTest(t, func(_ context.Context, _ models.SecretEvent) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	monitor.handle(context.Background(), secretEvent(0))
	monitor.handle(context.Background(), secretEvent(0))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "redelivered event handled once")

	// A different leaf index is a distinct event.
	monitor.handle(context.Background(), secretEvent(1))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestSecretMonitorRetriesFailedHandler(t *testing.T) {
	var calls int32
	monitor := newSecretMonitorForTest(t, func(_ context.Context, _ models.SecretEvent) error {
		if atomic.AddInt32(&calls, 1) == 1 {
			return errors.New("destination escrow not ready")
		}
		return nil
	})

	monitor.handle(context.Background(), secretEvent(0))
	// The failed attempt cleared the dedupe entry, so redelivery retries.
	monitor.handle(context.Background(), secretEvent(0))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	// Once handled, further deliveries are suppressed.
	monitor.handle(context.Background(), secretEvent(0))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestSecretMonitorIgnoresMalformedEvents(t *testing.T) {
	var calls int32
	monitor := newSecretMonitorForTest(t, func(_ context.Context, _ models.SecretEvent) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	monitor.handle(context.Background(), models.SecretEvent{OrderHash: "", Secret: "0xab"})
	monitor.handle(context.Background(), models.SecretEvent{OrderHash: "0x1", Secret: ""})
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestSecretMonitorClearProcessedCache(t *testing.T) {
	var calls int32
	monitor := newSecretMonitorForTest(t, func(_ context.Context, _ models.SecretEvent) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	monitor.handle(context.Background(), secretEvent(0))
	monitor.ClearProcessedCache()
	monitor.handle(context.Background(), secretEvent(0))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}
