package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
)

// Handler receives every inbound message event.
type Handler func(ev MessageEvent)

// SocketMode maintains the Socket Mode connection: it opens a WSS URL via
// apps.connections.open, acks envelopes, and dispatches message events.
// Slack tears connections down routinely, so the run loop reconnects with
// backoff until the context is cancelled.
type SocketMode struct {
	client  *Client
	handler Handler
}

// NewSocketMode creates the ingress listener.
func NewSocketMode(client *Client, handler Handler) *SocketMode {
	return &SocketMode{client: client, handler: handler}
}

// Run connects and processes events until ctx is cancelled.
func (sm *SocketMode) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		err := sm.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("socket mode disconnected, reconnecting", "error", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (sm *SocketMode) runOnce(ctx context.Context) error {
	wsURL, err := sm.openConnection(ctx)
	if err != nil {
		return err
	}

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("socket mode dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "shutting down")
	conn.SetReadLimit(1 << 20)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			slog.Debug("socket mode: unparseable frame", "error", err)
			continue
		}

		switch env.Type {
		case "hello":
			slog.Info("socket mode connected")
		case "disconnect":
			// Slack asks politely before it hangs up; reconnect fresh.
			return fmt.Errorf("server requested disconnect: %s", env.Reason)
		case "events_api":
			sm.ack(ctx, conn, env.EnvelopeID)
			sm.dispatch(env.Payload)
		default:
			if env.EnvelopeID != "" {
				sm.ack(ctx, conn, env.EnvelopeID)
			}
		}
	}
}

func (sm *SocketMode) ack(ctx context.Context, conn *websocket.Conn, envelopeID string) {
	data, err := json.Marshal(ack{EnvelopeID: envelopeID})
	if err != nil {
		return
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		slog.Debug("socket mode: ack failed", "error", err)
	}
}

func (sm *SocketMode) dispatch(payload json.RawMessage) {
	var p eventsAPIPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		slog.Debug("socket mode: bad events_api payload", "error", err)
		return
	}
	var ev MessageEvent
	if err := json.Unmarshal(p.Event, &ev); err != nil {
		slog.Debug("socket mode: bad event", "error", err)
		return
	}
	if ev.Type != "message" {
		return
	}
	sm.handler(ev)
}

// openConnection calls apps.connections.open with the app-level token and
// returns the WSS URL to dial.
func (sm *SocketMode) openConnection(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		sm.client.baseURL+"/apps.connections.open", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+sm.client.appToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := sm.client.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("apps.connections.open: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		OK    bool   `json:"ok"`
		Error string `json:"error,omitempty"`
		URL   string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("apps.connections.open: decode: %w", err)
	}
	if !result.OK {
		return "", fmt.Errorf("apps.connections.open: %s", result.Error)
	}
	return result.URL, nil
}
