package registry

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bitsandtea/cross-chain-nonevm-swap-sub000/pkg/models"
)

const (
	streamReconnectWait = 5 * time.Second
	streamReadDeadline  = 90 * time.Second
	streamPingInterval  = 30 * time.Second
)

// SecretStream consumes the registry's websocket feed of maker-shared
// secrets. It is a push-based complement to polling PendingSecrets: events
// arrive faster, but the poller stays authoritative so a dropped connection
// never loses a secret.
type SecretStream struct {
	client *Client
	events chan models.SecretEvent
}

// NewSecretStream creates a stream delivering secret events on Events().
func NewSecretStream(client *Client) *SecretStream {
	return &SecretStream{
		client: client,
		events: make(chan models.SecretEvent, 64),
	}
}

// Events returns the channel secret events are delivered on.
func (s *SecretStream) Events() <-chan models.SecretEvent {
	return s.events
}

// Run connects to the registry websocket and forwards secret events until
// the context is cancelled, reconnecting on any failure.
func (s *SecretStream) Run(ctx context.Context) {
	endpoint := s.websocketEndpoint()
	for {
		if err := s.consume(ctx, endpoint); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.client.logger.Info("Secret stream disconnected: %v, reconnecting in %s", err, streamReconnectWait)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(streamReconnectWait):
		}
	}
}

func (s *SecretStream) consume(ctx context.Context, endpoint string) error {
	header := http.Header{}
	if s.client.apiKey != "" {
		header.Set("Authorization", "Bearer "+s.client.apiKey)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial failed with status %d: %v", resp.StatusCode, err)
		}
		return fmt.Errorf("dial failed: %v", err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			s.client.logger.Debug("Failed to close secret stream connection: %v", err)
		}
	}()
	s.client.logger.Debug("Secret stream connected to %s", endpoint)

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamReadDeadline))
	})

	// close the connection on context cancellation to unblock ReadJSON
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(streamPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(streamReadDeadline)); err != nil {
			return err
		}
		var event models.SecretEvent
		if err := conn.ReadJSON(&event); err != nil {
			return err
		}
		if event.OrderHash == "" || event.Secret == "" {
			continue
		}
		select {
		case s.events <- event:
		case <-ctx.Done():
			return ctx.Err()
		default:
			// slow consumer, the poller will pick the event up instead
			s.client.logger.Info("Secret stream buffer full, dropping event for order %s", event.OrderHash)
		}
	}
}

func (s *SecretStream) websocketEndpoint() string {
	endpoint := s.client.endpoint
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		endpoint = "wss://" + strings.TrimPrefix(endpoint, "https://")
	case strings.HasPrefix(endpoint, "http://"):
		endpoint = "ws://" + strings.TrimPrefix(endpoint, "http://")
	}
	return endpoint + "/api/v1/secrets/stream"
}
