package respond

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ktamas77/claudeway/internal/slack"
)

const thinkingPlaceholder = ":thinking_face: _thinking..._"

// streamNativeResponder feeds raw markdown into Slack's chat-stream API.
// Slack renders the stream itself, so no mrkdwn translation happens here.
type streamNativeResponder struct {
	client   slack.API
	channel  string
	threadTS string

	ctx context.Context // turn-scoped; set in Start

	mu            sync.Mutex
	placeholderTS string
	stream        slack.Streamer
	fullText      string

	finalText string
}

func newStreamNative(client slack.API, channel, threadTS string) *streamNativeResponder {
	return &streamNativeResponder{client: client, channel: channel, threadTS: threadTS}
}

// Start posts a placeholder so the user sees activity before the first
// delta arrives. Placeholder failures are not fatal to the turn.
func (n *streamNativeResponder) Start(ctx context.Context) error {
	n.ctx = ctx
	ts, err := n.client.PostMessage(ctx, n.channel, n.threadTS, thinkingPlaceholder)
	if err != nil {
		slog.Warn("placeholder post failed", "channel", n.channel, "error", err)
		return nil
	}
	n.mu.Lock()
	n.placeholderTS = ts
	n.mu.Unlock()
	return nil
}

func (n *streamNativeResponder) OnTextDelta(text string) {
	n.mu.Lock()
	n.fullText += text
	stream := n.stream
	first := stream == nil
	n.mu.Unlock()

	if first {
		opened, err := n.client.OpenStream(n.ctx, n.channel, n.threadTS, 1)
		if err != nil {
			slog.Warn("chat stream open failed, buffering for batch delivery",
				"channel", n.channel, "error", err)
			return
		}
		n.mu.Lock()
		n.stream = opened
		stream = opened
		ts := n.placeholderTS
		n.placeholderTS = ""
		n.mu.Unlock()

		if ts != "" {
			if err := n.client.DeleteMessage(n.ctx, n.channel, ts); err != nil {
				slog.Debug("could not delete placeholder", "error", err)
			}
		}
	}

	if err := stream.Append(n.ctx, text); err != nil {
		slog.Warn("chat stream append failed", "channel", n.channel, "error", err)
	}
}

func (n *streamNativeResponder) Finish(ctx context.Context, finalText string) error {
	n.mu.Lock()
	if finalText == "" {
		finalText = n.fullText
	}
	stream := n.stream
	placeholder := n.placeholderTS
	n.placeholderTS = ""
	n.mu.Unlock()
	n.finalText = finalText

	if stream != nil {
		if err := stream.Stop(ctx); err != nil {
			slog.Warn("chat stream stop failed", "channel", n.channel, "error", err)
		}
		if len(finalText) > FileThreshold {
			// The stream stays as the readable copy; the file is the
			// canonical full text.
			return n.client.UploadFile(ctx, n.channel, n.threadTS, responseFilename, "Response", []byte(finalText))
		}
		return nil
	}

	// Nothing was ever streamed (no deltas, or the stream never opened).
	if placeholder != "" {
		if err := n.client.DeleteMessage(ctx, n.channel, placeholder); err != nil {
			slog.Debug("could not delete placeholder", "error", err)
		}
	}
	if finalText == "" {
		return nil
	}
	return newBatch(n.client, n.channel, n.threadTS).Finish(ctx, finalText)
}

func (n *streamNativeResponder) FinalText() string { return n.finalText }

func (n *streamNativeResponder) MessageTS() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.placeholderTS
}
