// Package respond delivers Agent output into the originating Slack thread.
// Three strategies: batch (post once at the end), stream-update (edit one
// message on a throttle), and stream-native (Slack's chat-stream API).
// Oversize responses switch to a file upload in every mode.
package respond

import (
	"context"
	"strings"
	"time"

	"github.com/ktamas77/claudeway/internal/config"
	"github.com/ktamas77/claudeway/internal/slack"
)

const (
	// MaxMessageLength is the largest text Slack renders reliably in one
	// message; longer responses are chunked.
	MaxMessageLength = 3900

	// FileThreshold is the response size beyond which delivery switches to
	// a response.md file upload.
	FileThreshold = 12000

	// StreamUpdateInterval throttles chat.update calls while streaming.
	StreamUpdateInterval = 500 * time.Millisecond

	// streamingSuffix marks a truncated in-progress message.
	streamingSuffix = "\n_[streaming...]_"

	// writingIndicator is shown while deltas are still arriving.
	writingIndicator = " :writing_hand:"

	responseFilename = "response.md"
)

// Responder consumes text deltas during a turn and delivers the final text.
type Responder interface {
	// Start runs before the Agent produces output. Only the native-stream
	// responder uses it (to post its placeholder).
	Start(ctx context.Context) error

	// OnTextDelta receives one streamed chunk of assistant text. Called
	// from the supervisor's parse loop; failures here are swallowed.
	OnTextDelta(text string)

	// Finish delivers the final response text. Any error here means the
	// user got nothing, so callers must surface it in the thread.
	Finish(ctx context.Context, finalText string) error

	// FinalText returns the delivered text after Finish.
	FinalText() string

	// MessageTS returns the ts of the first delivered message, if any.
	MessageTS() string
}

// New picks the responder for a channel's configured response mode.
func New(mode config.ResponseMode, client slack.API, channel, threadTS string) Responder {
	switch mode {
	case config.ResponseStreamUpdate:
		return newStreamUpdate(client, channel, threadTS)
	case config.ResponseStreamNative:
		return newStreamNative(client, channel, threadTS)
	default:
		return newBatch(client, channel, threadTS)
	}
}

// SplitMessage chunks text at most max runes per piece, preferring to break
// at the last newline in the first half of the window.
func SplitMessage(text string, max int) []string {
	var chunks []string
	remaining := []rune(text)
	for len(remaining) > max {
		window := string(remaining[:max])
		split := strings.LastIndex(window, "\n")
		if split == -1 || split < max/2 {
			split = max
		} else {
			// LastIndex is a byte offset; convert back to runes.
			split = len([]rune(window[:split]))
		}
		chunks = append(chunks, string(remaining[:split]))
		rest := strings.TrimLeft(string(remaining[split:]), " \t\n")
		remaining = []rune(rest)
	}
	chunks = append(chunks, string(remaining))
	return chunks
}

// truncateForUpdate fits text into max runes, appending the streaming
// suffix when it had to cut.
func truncateForUpdate(text string, max int) string {
	r := []rune(text)
	if len(r) <= max {
		return text
	}
	keep := max - len([]rune(streamingSuffix))
	if keep < 0 {
		keep = 0
	}
	return string(r[:keep]) + streamingSuffix
}
