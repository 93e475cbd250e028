package slack

import (
	"context"
	"encoding/json"
)

// Stream is an open native chat stream: a message Slack renders
// incrementally as markdown is appended.
type Stream struct {
	client  *Client
	channel string
	ts      string
}

// OpenStream starts a native chat stream in the thread. bufferSize hints
// how many appends Slack may coalesce before rendering; 1 surfaces the
// stream immediately.
func (c *Client) OpenStream(ctx context.Context, channel, threadTS string, bufferSize int) (Streamer, error) {
	body := map[string]any{"channel": channel, "buffer_size": bufferSize}
	if threadTS != "" {
		body["thread_ts"] = threadTS
	}
	resp, err := c.doJSON(ctx, "chat.startStream", body)
	if err != nil {
		return nil, err
	}

	ts := resp.TS
	if ts == "" {
		// Some workspaces return the stream anchor under message.ts.
		var alt struct {
			Message struct {
				TS string `json:"ts"`
			} `json:"message"`
		}
		if err := json.Unmarshal(resp.raw, &alt); err == nil {
			ts = alt.Message.TS
		}
	}
	return &Stream{client: c, channel: channel, ts: ts}, nil
}

// Append adds a markdown chunk to the stream.
func (s *Stream) Append(ctx context.Context, markdown string) error {
	_, err := s.client.doJSON(ctx, "chat.appendStream", map[string]any{
		"channel": s.channel, "ts": s.ts, "markdown_text": markdown,
	})
	return err
}

// Stop finalizes the stream.
func (s *Stream) Stop(ctx context.Context) error {
	_, err := s.client.doJSON(ctx, "chat.stopStream", map[string]any{
		"channel": s.channel, "ts": s.ts,
	})
	return err
}
