package respond

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ktamas77/claudeway/internal/mrkdwn"
	"github.com/ktamas77/claudeway/internal/slack"
)

// streamUpdateResponder posts one message on the first delta and edits it
// in place on a 500ms throttle until the turn finishes.
type streamUpdateResponder struct {
	client   slack.API
	channel  string
	threadTS string

	ctx context.Context // turn-scoped; set in Start

	mu         sync.Mutex
	fullText   string
	started    bool
	messageTS  string
	lastFlush  int
	done       chan struct{}
	loopExited chan struct{}

	finalText string
}

func newStreamUpdate(client slack.API, channel, threadTS string) *streamUpdateResponder {
	return &streamUpdateResponder{
		client:     client,
		channel:    channel,
		threadTS:   threadTS,
		done:       make(chan struct{}),
		loopExited: make(chan struct{}),
	}
}

func (u *streamUpdateResponder) Start(ctx context.Context) error {
	u.ctx = ctx
	return nil
}

func (u *streamUpdateResponder) OnTextDelta(text string) {
	u.mu.Lock()
	u.fullText += text
	first := !u.started
	u.started = true
	u.mu.Unlock()

	if first {
		go u.run()
	}
}

// run posts the initial message, then edits on every tick where the buffer
// has grown. Exits when Finish closes done.
func (u *streamUpdateResponder) run() {
	defer close(u.loopExited)

	text, n := u.snapshot()
	ts, err := u.client.PostMessage(u.ctx, u.channel, u.threadTS, u.render(text, true))
	if err != nil {
		slog.Warn("streaming post failed", "channel", u.channel, "error", err)
		// Keep ticking; a later update cannot work without a ts, but the
		// final flush in Finish will fall back to posting.
	} else {
		u.mu.Lock()
		u.messageTS = ts
		u.lastFlush = n
		u.mu.Unlock()
	}

	ticker := time.NewTicker(StreamUpdateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-u.done:
			return
		case <-ticker.C:
			u.flush(true)
		}
	}
}

func (u *streamUpdateResponder) snapshot() (string, int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.fullText, len(u.fullText)
}

// render translates and truncates a partial buffer for display. While
// streaming, the truncation reserves room for the writing indicator so the
// rendered message never exceeds the length limit.
func (u *streamUpdateResponder) render(text string, streaming bool) string {
	translated := mrkdwn.ToMrkdwn(text)
	if !streaming {
		return truncateForUpdate(translated, MaxMessageLength)
	}
	max := MaxMessageLength - len([]rune(writingIndicator))
	return truncateForUpdate(translated, max) + writingIndicator
}

// flush edits the posted message if the buffer has grown since last time.
func (u *streamUpdateResponder) flush(streaming bool) {
	u.mu.Lock()
	ts := u.messageTS
	grown := len(u.fullText) > u.lastFlush
	text := u.fullText
	n := len(u.fullText)
	u.mu.Unlock()

	if ts == "" || !grown {
		return
	}
	if err := u.client.UpdateMessage(u.ctx, u.channel, ts, u.render(text, streaming)); err != nil {
		slog.Warn("streaming update failed", "channel", u.channel, "error", err)
		return
	}
	u.mu.Lock()
	u.lastFlush = n
	u.mu.Unlock()
}

func (u *streamUpdateResponder) Finish(ctx context.Context, finalText string) error {
	u.mu.Lock()
	started := u.started
	if finalText == "" {
		finalText = u.fullText
	}
	u.fullText = finalText
	u.mu.Unlock()
	u.finalText = finalText

	if started {
		close(u.done)
		<-u.loopExited
	}

	u.mu.Lock()
	ts := u.messageTS
	u.mu.Unlock()

	// Oversize: replace the streamed message with a file.
	if len(finalText) > FileThreshold {
		if ts != "" {
			if err := u.client.DeleteMessage(ctx, u.channel, ts); err != nil {
				slog.Debug("could not delete streamed message before upload", "error", err)
			}
		}
		return u.client.UploadFile(ctx, u.channel, u.threadTS, responseFilename, "Response", []byte(finalText))
	}

	translated := mrkdwn.ToMrkdwn(finalText)
	chunks := SplitMessage(translated, MaxMessageLength)

	if ts == "" {
		// No delta ever posted a message (or the initial post failed):
		// deliver like batch.
		for i, chunk := range chunks {
			postTS, err := u.client.PostMessage(ctx, u.channel, u.threadTS, chunk)
			if err != nil {
				return err
			}
			if i == 0 {
				u.mu.Lock()
				u.messageTS = postTS
				u.mu.Unlock()
			}
		}
		return nil
	}

	// Final flush without the writing indicator; chunk 1 replaces the
	// streamed message, any overflow goes into follow-ups.
	if err := u.client.UpdateMessage(ctx, u.channel, ts, chunks[0]); err != nil {
		return err
	}
	for _, chunk := range chunks[1:] {
		if _, err := u.client.PostMessage(ctx, u.channel, u.threadTS, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (u *streamUpdateResponder) FinalText() string { return u.finalText }

func (u *streamUpdateResponder) MessageTS() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.messageTS
}
