package respond

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/ktamas77/claudeway/internal/config"
	"github.com/ktamas77/claudeway/internal/slack"
)

// fakeAPI records every call so tests can assert on delivery behavior.
type fakeAPI struct {
	mu       sync.Mutex
	posted   []string
	updated  []string
	deleted  []string
	uploads  []string
	appends  []string
	stopped  int
	nextTS   int
	postErr  error
	openErr  error
	streamed bool
}

func (f *fakeAPI) PostMessage(ctx context.Context, channel, threadTS, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return "", f.postErr
	}
	f.posted = append(f.posted, text)
	f.nextTS++
	return fmt.Sprintf("100.%02d", f.nextTS), nil
}

func (f *fakeAPI) UpdateMessage(ctx context.Context, channel, ts, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated = append(f.updated, text)
	return nil
}

func (f *fakeAPI) DeleteMessage(ctx context.Context, channel, ts string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ts)
	return nil
}

func (f *fakeAPI) AddReaction(ctx context.Context, channel, ts, name string) error    { return nil }
func (f *fakeAPI) RemoveReaction(ctx context.Context, channel, ts, name string) error { return nil }

func (f *fakeAPI) UploadFile(ctx context.Context, channel, threadTS, filename, title string, content []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, string(content))
	return nil
}

func (f *fakeAPI) OpenStream(ctx context.Context, channel, threadTS string, bufferSize int) (slack.Streamer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.streamed = true
	return &fakeStream{api: f}, nil
}

func (f *fakeAPI) Download(ctx context.Context, url string) ([]byte, error) { return nil, nil }

type fakeStream struct{ api *fakeAPI }

func (s *fakeStream) Append(ctx context.Context, markdown string) error {
	s.api.mu.Lock()
	defer s.api.mu.Unlock()
	s.api.appends = append(s.api.appends, markdown)
	return nil
}

func (s *fakeStream) Stop(ctx context.Context) error {
	s.api.mu.Lock()
	defer s.api.mu.Unlock()
	s.api.stopped++
	return nil
}

func TestSplitMessage(t *testing.T) {
	tests := []struct {
		name string
		text string
		max  int
		want []string
	}{
		{"short passthrough", "hello", 10, []string{"hello"}},
		{"exact fit", "abcde", 5, []string{"abcde"}},
		{"break at newline", "aaa\nbbbb", 6, []string{"aaa", "bbbb"}},
		{"hard split without newline", "abcdefgh", 4, []string{"abcd", "efgh"}},
		{"early newline ignored", "a\nbcdefgh", 6, []string{"a\nbcde", "fgh"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitMessage(tt.text, tt.max)
			if len(got) != len(tt.want) {
				t.Fatalf("chunks = %q, want %q", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("chunk[%d] = %q, want %q", i, got[i], tt.want[i])
				}
				if len([]rune(got[i])) > tt.max {
					t.Errorf("chunk[%d] length %d exceeds max %d", i, len([]rune(got[i])), tt.max)
				}
			}
		})
	}
}

func TestTruncateForUpdate(t *testing.T) {
	if got := truncateForUpdate("short", 100); got != "short" {
		t.Errorf("short text modified: %q", got)
	}
	long := strings.Repeat("x", 200)
	got := truncateForUpdate(long, 100)
	if len([]rune(got)) != 100 {
		t.Errorf("truncated length = %d, want 100", len([]rune(got)))
	}
	if !strings.HasSuffix(got, streamingSuffix) {
		t.Errorf("missing streaming suffix: %q", got)
	}
}

func TestBatchPostsTranslatedText(t *testing.T) {
	api := &fakeAPI{}
	r := New(config.ResponseBatch, api, "C001", "1.0")
	if err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	r.OnTextDelta("ignored")
	if err := r.Finish(context.Background(), "**bold** text"); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if len(api.posted) != 1 {
		t.Fatalf("posted %d messages, want 1", len(api.posted))
	}
	if api.posted[0] != "*bold* text" {
		t.Errorf("posted = %q", api.posted[0])
	}
	if r.MessageTS() == "" {
		t.Error("MessageTS empty after delivery")
	}
}

func TestBatchChunksLongText(t *testing.T) {
	api := &fakeAPI{}
	r := New(config.ResponseBatch, api, "C001", "1.0")
	text := strings.Repeat("line of text\n", 400) // ~5200 chars, under file threshold
	if err := r.Finish(context.Background(), text); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if len(api.posted) < 2 {
		t.Fatalf("posted %d messages, want several chunks", len(api.posted))
	}
	for i, msg := range api.posted {
		if len([]rune(msg)) > MaxMessageLength {
			t.Errorf("chunk %d exceeds max length: %d", i, len([]rune(msg)))
		}
	}
}

func TestBatchUploadsOversizeResponse(t *testing.T) {
	api := &fakeAPI{}
	r := New(config.ResponseBatch, api, "C001", "1.0")
	text := strings.Repeat("x", FileThreshold+1)
	if err := r.Finish(context.Background(), text); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if len(api.posted) != 0 {
		t.Errorf("posted %d messages, want upload only", len(api.posted))
	}
	if len(api.uploads) != 1 || api.uploads[0] != text {
		t.Errorf("upload missing or altered")
	}
}

func TestStreamUpdateEditsInPlace(t *testing.T) {
	api := &fakeAPI{}
	r := New(config.ResponseStreamUpdate, api, "C001", "1.0")
	if err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	r.OnTextDelta("Hello ")
	r.OnTextDelta("**world**")
	if err := r.Finish(context.Background(), "Hello **world**"); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	if len(api.posted) != 1 {
		t.Fatalf("posted %d messages, want 1 streamed message", len(api.posted))
	}
	if !strings.Contains(api.posted[0], writingIndicator[1:]) {
		t.Errorf("initial post missing writing indicator: %q", api.posted[0])
	}
	if len(api.updated) == 0 {
		t.Fatal("no final update")
	}
	final := api.updated[len(api.updated)-1]
	if final != "Hello *world*" {
		t.Errorf("final update = %q", final)
	}
}

func TestStreamUpdateRenderStaysWithinLimit(t *testing.T) {
	u := newStreamUpdate(&fakeAPI{}, "C001", "1.0")
	long := strings.Repeat("x", MaxMessageLength+500)

	got := u.render(long, true)
	if n := len([]rune(got)); n > MaxMessageLength {
		t.Errorf("streaming render length = %d, exceeds %d", n, MaxMessageLength)
	}
	if !strings.HasSuffix(got, writingIndicator) {
		t.Errorf("streaming render missing indicator: %q", got[len(got)-30:])
	}

	final := u.render(long, false)
	if n := len([]rune(final)); n > MaxMessageLength {
		t.Errorf("final render length = %d, exceeds %d", n, MaxMessageLength)
	}
}

func TestStreamUpdateFallsBackToPostWithoutDeltas(t *testing.T) {
	api := &fakeAPI{}
	r := New(config.ResponseStreamUpdate, api, "C001", "1.0")
	if err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := r.Finish(context.Background(), "final only"); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if len(api.posted) != 1 || api.posted[0] != "final only" {
		t.Errorf("posted = %q, want single final message", api.posted)
	}
	if len(api.updated) != 0 {
		t.Errorf("unexpected updates: %q", api.updated)
	}
}

func TestStreamUpdateReplacesMessageWithFileWhenOversize(t *testing.T) {
	api := &fakeAPI{}
	r := New(config.ResponseStreamUpdate, api, "C001", "1.0")
	if err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	r.OnTextDelta("start")
	text := strings.Repeat("x", FileThreshold+1)
	if err := r.Finish(context.Background(), text); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if len(api.deleted) != 1 {
		t.Errorf("deleted %d messages, want the streamed one", len(api.deleted))
	}
	if len(api.uploads) != 1 {
		t.Fatalf("uploads = %d, want 1", len(api.uploads))
	}
}

func TestStreamNativeLifecycle(t *testing.T) {
	api := &fakeAPI{}
	r := New(config.ResponseStreamNative, api, "C001", "1.0")
	if err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(api.posted) != 1 || api.posted[0] != thinkingPlaceholder {
		t.Fatalf("placeholder not posted: %q", api.posted)
	}

	r.OnTextDelta("chunk one ")
	r.OnTextDelta("chunk two")
	if err := r.Finish(context.Background(), "chunk one chunk two"); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	if !api.streamed {
		t.Fatal("stream never opened")
	}
	if len(api.deleted) != 1 {
		t.Errorf("placeholder not deleted (deleted=%d)", len(api.deleted))
	}
	if strings.Join(api.appends, "") != "chunk one chunk two" {
		t.Errorf("appends = %q", api.appends)
	}
	if api.stopped != 1 {
		t.Errorf("stream stopped %d times, want 1", api.stopped)
	}
	if r.FinalText() != "chunk one chunk two" {
		t.Errorf("FinalText = %q", r.FinalText())
	}
}

func TestStreamNativeNoDeltasDeletesPlaceholder(t *testing.T) {
	api := &fakeAPI{}
	r := New(config.ResponseStreamNative, api, "C001", "1.0")
	if err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := r.Finish(context.Background(), ""); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if len(api.deleted) != 1 {
		t.Errorf("placeholder not deleted")
	}
	if api.streamed || api.stopped != 0 {
		t.Errorf("stream touched without deltas")
	}
}

func TestStreamNativeFallsBackWhenStreamOpenFails(t *testing.T) {
	api := &fakeAPI{openErr: fmt.Errorf("not_allowed_token_type")}
	r := New(config.ResponseStreamNative, api, "C001", "1.0")
	if err := r.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	r.OnTextDelta("buffered text")
	if err := r.Finish(context.Background(), "buffered text"); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	// Placeholder plus the batch-delivered fallback.
	if len(api.posted) != 2 || api.posted[1] != "buffered text" {
		t.Errorf("posted = %q, want placeholder then fallback", api.posted)
	}
	if len(api.deleted) != 1 {
		t.Errorf("placeholder not deleted before fallback")
	}
}
