package orderly

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type streamMessage struct {
	ID    string `json:"id,omitempty"`
	Event string `json:"event,omitempty"`
	Topic string `json:"topic,omitempty"`
	Ts    int64  `json:"ts,omitempty"`
	Data  *struct {
		Symbol string  `json:"symbol"`
		Close  float64 `json:"close"`
	} `json:"data,omitempty"`
}

// Ticker reads the close price of a symbol from the public ticker stream.
// Each call opens a short-lived connection and returns on the first matching update.
type Ticker struct {
	url     string
	dialer  *websocket.Dialer
	timeout time.Duration
	logger  *zap.Logger
}

// NewTicker targets wsURL/accountID.
func NewTicker(wsURL, accountID string, timeout time.Duration, logger *zap.Logger) *Ticker {
	return &Ticker{
		url:     strings.TrimRight(wsURL, "/") + "/" + accountID,
		dialer:  &websocket.Dialer{HandshakeTimeout: timeout},
		timeout: timeout,
		logger:  logger.Named("ticker"),
	}
}

// Close subscribes to symbol@ticker and returns the first close price received.
func (t *Ticker) Close(ctx context.Context, symbol string) (float64, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	conn, _, err := t.dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return 0, fmt.Errorf("dial ticker stream: %w", err)
	}
	defer conn.Close()

	// Unblock ReadJSON when ctx ends before the deadline does.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}

	topic := symbol + "@ticker"
	if err := conn.WriteJSON(streamMessage{ID: uuid.NewString(), Event: "subscribe", Topic: topic}); err != nil {
		return 0, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	for {
		var msg streamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return 0, fmt.Errorf("waiting for %s: %w", topic, ctx.Err())
			}
			return 0, fmt.Errorf("read ticker stream: %w", err)
		}
		switch {
		case msg.Event == "ping":
			if err := conn.WriteJSON(streamMessage{Event: "pong", Ts: msg.Ts}); err != nil {
				return 0, fmt.Errorf("pong: %w", err)
			}
		case msg.Topic == topic && msg.Data != nil:
			if msg.Data.Close <= 0 {
				return 0, fmt.Errorf("invalid close price for %s", symbol)
			}
			return msg.Data.Close, nil
		default:
			t.logger.Debug("Ignoring stream message", zap.String("event", msg.Event), zap.String("topic", msg.Topic))
		}
	}
}
