package respond

import (
	"context"
	"log/slog"

	"github.com/ktamas77/claudeway/internal/mrkdwn"
	"github.com/ktamas77/claudeway/internal/slack"
)

// batchResponder ignores deltas and posts everything at the end.
type batchResponder struct {
	client    slack.API
	channel   string
	threadTS  string
	finalText string
	messageTS string
}

func newBatch(client slack.API, channel, threadTS string) *batchResponder {
	return &batchResponder{client: client, channel: channel, threadTS: threadTS}
}

func (b *batchResponder) Start(ctx context.Context) error { return nil }

func (b *batchResponder) OnTextDelta(text string) {}

func (b *batchResponder) Finish(ctx context.Context, finalText string) error {
	b.finalText = finalText

	if len(finalText) > FileThreshold {
		return b.client.UploadFile(ctx, b.channel, b.threadTS, responseFilename, "Response", []byte(finalText))
	}

	translated := mrkdwn.ToMrkdwn(finalText)
	for i, chunk := range SplitMessage(translated, MaxMessageLength) {
		ts, err := b.client.PostMessage(ctx, b.channel, b.threadTS, chunk)
		if err != nil {
			return err
		}
		if i == 0 {
			b.messageTS = ts
		} else {
			slog.Debug("posted continuation chunk", "channel", b.channel, "chunk", i+1)
		}
	}
	return nil
}

func (b *batchResponder) FinalText() string { return b.finalText }
func (b *batchResponder) MessageTS() string { return b.messageTS }
