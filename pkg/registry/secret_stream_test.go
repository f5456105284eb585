package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/logger"
)

func TestWebsocketEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		want     string
	}{
		{"http://localhost:3000", "ws://localhost:3000/api/v1/secrets/stream"},
		{"https://registry.example.com", "wss://registry.example.com/api/v1/secrets/stream"},
		{"ws://already-ws", "ws://already-ws/api/v1/secrets/stream"},
	}
	for _, tc := range tests {
		stream := NewSecretStream(New(tc.endpoint, "", &logger.EmptyLogger{}))
		assert.Equal(t, tc.want, stream.websocketEndpoint())
	}
}

func TestSecretStreamDeliversEvents(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v1/secrets/stream", r.URL.Path)
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		err = conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"order_hash":"0xabc","secret":"0xdef","index":3}`))
		require.NoError(t, err)

		// keep the connection open until the client goes away
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	stream := NewSecretStream(New(wsURL, "", &logger.EmptyLogger{}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go stream.Run(ctx)

	select {
	case event := <-stream.Events():
		assert.Equal(t, "0xabc", event.OrderHash)
		assert.Equal(t, "0xdef", event.Secret)
		assert.Equal(t, 3, event.Index)
	case <-time.After(5 * time.Second):
		t.Fatal("no secret event received from the stream")
	}
}
