package commands

import (
	"strings"
	"testing"
	"time"

	"github.com/ktamas77/claudeway/internal/claude"
	"github.com/ktamas77/claudeway/internal/config"
	"github.com/ktamas77/claudeway/internal/queue"
)

func testHandler(t *testing.T) *Handler {
	t.Helper()
	cfg := config.Default()
	cfg.Channels = map[string]config.ChannelConfig{
		"C001": {Name: "project-one", Folder: "/tmp/one"},
		"C002": {Name: "project-two", Folder: "/tmp/two"},
	}
	q, err := queue.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return NewHandler(cfg, claude.NewSupervisor("claude"), q)
}

func TestIsMagicCommand(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"!ps", true},
		{"!ps ", true},
		{"!kill", true},
		{"!kill #project-one", true},
		{"!killall", true},
		{"!nudge", true},
		{"!psql is a tool", false},
		{"what does !ps do?", false},
		{"deploy please", false},
		{"", false},
		{"!kill the dev server on port 3000", false},
		{"!ps please show me the processes", false},
		{"!nudge it gently", false},
		{"!killall of them", false},
		{"!nudge project-two", true},
	}
	for _, tt := range tests {
		if got := IsMagicCommand(tt.text); got != tt.want {
			t.Errorf("IsMagicCommand(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestPsEmpty(t *testing.T) {
	h := testHandler(t)
	got := h.Handle("!ps", "C001")
	if !strings.Contains(got, "No active processes") {
		t.Errorf("ps = %q", got)
	}
}

func TestPsShowsQueuedCounts(t *testing.T) {
	h := testHandler(t)
	for _, ts := range []string{"1.01", "1.02"} {
		if err := h.queue.Enqueue(queue.Message{ChannelID: "C001", Text: "x", TS: ts, QueuedAt: time.Now()}); err != nil {
			t.Fatal(err)
		}
	}
	got := h.Handle("!ps", "C001")
	if !strings.Contains(got, "*Queued:*") || !strings.Contains(got, "#project-one: 2") {
		t.Errorf("ps = %q", got)
	}
}

func TestKillNoProcess(t *testing.T) {
	h := testHandler(t)
	got := h.Handle("!kill", "C001")
	if !strings.Contains(got, ":warning:") || !strings.Contains(got, "#project-one") {
		t.Errorf("kill = %q", got)
	}
}

func TestKillUnknownTarget(t *testing.T) {
	h := testHandler(t)
	got := h.Handle("!kill #nonexistent", "C001")
	if !strings.Contains(got, "Unknown channel") {
		t.Errorf("kill = %q", got)
	}
}

func TestKillAllEmpty(t *testing.T) {
	h := testHandler(t)
	if got := h.Handle("!killall", "C001"); !strings.Contains(got, "No active processes") {
		t.Errorf("killall = %q", got)
	}
}

func TestNudgeNoProcess(t *testing.T) {
	h := testHandler(t)
	got := h.Handle("!nudge project-two", "C001")
	if !strings.Contains(got, ":warning:") || !strings.Contains(got, "#project-two") {
		t.Errorf("nudge = %q", got)
	}
}

func TestResolveTarget(t *testing.T) {
	h := testHandler(t)
	tests := []struct {
		arg    string
		wantID string
		wantOK bool
	}{
		{"<#C001|project-one>", "C001", true},
		{"<#C002>", "C002", true},
		{"#project-one", "C001", true},
		{"project-two", "C002", true},
		{"C001", "C001", true},
		{"#missing", "", false},
	}
	for _, tt := range tests {
		id, ok := h.resolveTarget(tt.arg)
		if id != tt.wantID || ok != tt.wantOK {
			t.Errorf("resolveTarget(%q) = %q, %v; want %q, %v", tt.arg, id, ok, tt.wantID, tt.wantOK)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{42 * time.Second, "42s"},
		{102 * time.Second, "1m 42s"},
		{2*time.Hour + 5*time.Minute + 9*time.Second, "2h 5m 9s"},
		{0, "0s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
