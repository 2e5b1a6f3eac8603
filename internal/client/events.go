package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/cartsync/internal/model"
)

// Event stream configuration constants.
const (
	handshakeTimeout = 10 * time.Second
	eventPongWait    = 60 * time.Second
	eventWriteWait   = 10 * time.Second
)

// ErrUnsupportedScheme is returned when the base URL is not http or https.
var ErrUnsupportedScheme = errors.New("base URL must use http or https")

// EventHandler receives cart events. It runs on the reading goroutine.
type EventHandler func(ctx context.Context, event model.CartEvent)

// WatchEvents subscribes to the cart event stream and calls handle for each
// event until ctx is canceled or the connection fails. A canceled ctx
// returns nil.
func (c *Client) WatchEvents(ctx context.Context, handle EventHandler) error {
	wsURL, err := eventStreamURL(c.baseURL)
	if err != nil {
		return err
	}

	header := http.Header{}
	if token := c.token(); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return &APIError{StatusCode: resp.StatusCode, Message: "event stream handshake failed"}
		}
		return fmt.Errorf("dialing event stream: %w", err)
	}

	c.logger.Info("watching cart events", zap.String("url", wsURL))

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			deadline := time.Now().Add(eventWriteWait)
			closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing")
			_ = conn.WriteControl(websocket.CloseMessage, closeMsg, deadline)
			_ = conn.Close()
		case <-done:
			_ = conn.Close()
		}
	}()

	if err := conn.SetReadDeadline(time.Now().Add(eventPongWait)); err != nil {
		return fmt.Errorf("setting read deadline: %w", err)
	}
	conn.SetPingHandler(func(data string) error {
		if err := conn.SetReadDeadline(time.Now().Add(eventPongWait)); err != nil {
			return err
		}
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(eventWriteWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("reading event stream: %w", err)
		}
		if err := conn.SetReadDeadline(time.Now().Add(eventPongWait)); err != nil {
			return fmt.Errorf("setting read deadline: %w", err)
		}

		var event model.CartEvent
		if err := json.Unmarshal(data, &event); err != nil {
			c.logger.Warn("ignoring malformed cart event", zap.Error(err))
			continue
		}
		if event.Type == model.EventTypePing {
			continue
		}
		handle(ctx, event)
	}
}

// eventStreamURL derives the WebSocket URL from the API base URL.
func eventStreamURL(baseURL string) (string, error) {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://") + "/ws", nil
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://") + "/ws", nil
	default:
		return "", ErrUnsupportedScheme
	}
}
