// Package slack is a lightweight Slack surface for the gateway: a Web API
// client over net/http, the native chat-stream API, and a Socket Mode
// listener for inbound events.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://slack.com/api"

// API is the chat surface the rest of the gateway depends on. *Client is
// the production implementation; tests substitute fakes.
type API interface {
	PostMessage(ctx context.Context, channel, threadTS, text string) (string, error)
	UpdateMessage(ctx context.Context, channel, ts, text string) error
	DeleteMessage(ctx context.Context, channel, ts string) error
	AddReaction(ctx context.Context, channel, ts, name string) error
	RemoveReaction(ctx context.Context, channel, ts, name string) error
	UploadFile(ctx context.Context, channel, threadTS, filename, title string, content []byte) error
	OpenStream(ctx context.Context, channel, threadTS string, bufferSize int) (Streamer, error)
	Download(ctx context.Context, url string) ([]byte, error)
}

// Streamer is an open native chat stream.
type Streamer interface {
	Append(ctx context.Context, markdown string) error
	Stop(ctx context.Context) error
}

// Client is a minimal Slack Web API client using net/http.
// All calls share one rate limiter tuned to Slack's Tier-3 budget; the
// streaming responder adds its own 500ms edit throttle on top.
type Client struct {
	baseURL    string
	botToken   string
	appToken   string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a Slack client authenticated with a bot token.
// The app token is only used for Socket Mode connection handshakes.
func NewClient(botToken, appToken string) *Client {
	return &Client{
		baseURL:    defaultBaseURL,
		botToken:   botToken,
		appToken:   appToken,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(1200*time.Millisecond), 10),
	}
}

// apiResponse is the common Slack envelope.
type apiResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	TS    string `json:"ts,omitempty"`
	raw   []byte
}

// doJSON performs an authenticated JSON API call and decodes the envelope.
// Transient failures (429, 5xx) are retried once after a short pause.
func (c *Client) doJSON(ctx context.Context, method string, body any) (*apiResponse, error) {
	resp, retryable, err := c.doJSONOnce(ctx, method, body)
	if err != nil && retryable {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
		resp, _, err = c.doJSONOnce(ctx, method, body)
	}
	return resp, err
}

func (c *Client) doJSONOnce(ctx context.Context, method string, body any) (*apiResponse, bool, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, false, err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, false, fmt.Errorf("slack %s: marshal: %w", method, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(payload))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+c.botToken)

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("slack %s: %w", method, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return nil, true, fmt.Errorf("slack %s: read: %w", method, err)
	}
	if httpResp.StatusCode == http.StatusTooManyRequests || httpResp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("slack %s: http %d", method, httpResp.StatusCode)
	}

	var result apiResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, false, fmt.Errorf("slack %s: decode: %w", method, err)
	}
	result.raw = data
	if !result.OK {
		return &result, false, fmt.Errorf("slack %s: %s", method, result.Error)
	}
	return &result, false, nil
}

// PostMessage posts a threaded message and returns its ts.
func (c *Client) PostMessage(ctx context.Context, channel, threadTS, text string) (string, error) {
	body := map[string]any{"channel": channel, "text": text}
	if threadTS != "" {
		body["thread_ts"] = threadTS
	}
	resp, err := c.doJSON(ctx, "chat.postMessage", body)
	if err != nil {
		return "", err
	}
	return resp.TS, nil
}

// UpdateMessage replaces the text of an existing message.
func (c *Client) UpdateMessage(ctx context.Context, channel, ts, text string) error {
	_, err := c.doJSON(ctx, "chat.update", map[string]any{
		"channel": channel, "ts": ts, "text": text,
	})
	return err
}

// DeleteMessage removes a message.
func (c *Client) DeleteMessage(ctx context.Context, channel, ts string) error {
	_, err := c.doJSON(ctx, "chat.delete", map[string]any{
		"channel": channel, "ts": ts,
	})
	return err
}

// AddReaction adds an emoji reaction to a message.
func (c *Client) AddReaction(ctx context.Context, channel, ts, name string) error {
	_, err := c.doJSON(ctx, "reactions.add", map[string]any{
		"channel": channel, "timestamp": ts, "name": name,
	})
	return err
}

// RemoveReaction removes an emoji reaction from a message.
func (c *Client) RemoveReaction(ctx context.Context, channel, ts, name string) error {
	_, err := c.doJSON(ctx, "reactions.remove", map[string]any{
		"channel": channel, "timestamp": ts, "name": name,
	})
	return err
}

// Download fetches a file (image attachment) with bot authentication.
func (c *Client) Download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.botToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("slack download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("slack download: http %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
