package claude

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/ktamas77/claudeway/internal/config"
)

func oneshotBatchChannel() config.Resolved {
	return config.Resolved{
		ChannelID:    "C001",
		Folder:       "/p",
		Model:        "sonnet",
		SystemPrompt: "be brief",
		ResponseMode: config.ResponseBatch,
		ProcessMode:  config.ProcessOneshot,
	}
}

func TestBuildArgsOneshotBatch(t *testing.T) {
	t.Setenv("HOME", t.TempDir()) // no session log → --session-id
	ch := oneshotBatchChannel()

	got := buildArgs(ch, "sid", "hello", nil)
	want := []string{
		"-p",
		"--output-format", "json",
		"--model", "sonnet",
		"--session-id", "sid",
		"--append-system-prompt", "be brief",
		"--dangerously-skip-permissions",
		"hello",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("args = %v\nwant  %v", got, want)
	}
}

func TestBuildArgsOneshotStreaming(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	ch := oneshotBatchChannel()
	ch.ResponseMode = config.ResponseStreamUpdate

	got := buildArgs(ch, "sid", "hello", nil)
	wantPrefix := []string{
		"-p",
		"--output-format", "stream-json", "--verbose", "--include-partial-messages",
		"--model", "sonnet",
	}
	if !reflect.DeepEqual(got[:len(wantPrefix)], wantPrefix) {
		t.Errorf("args prefix = %v\nwant %v", got[:len(wantPrefix)], wantPrefix)
	}
	if got[len(got)-1] != "hello" {
		t.Errorf("prompt not last: %v", got)
	}
}

func TestBuildArgsPersistent(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	ch := oneshotBatchChannel()
	ch.ProcessMode = config.ProcessPersistent
	ch.ResponseMode = config.ResponseStreamNative

	got := buildArgs(ch, "sid", "", nil)
	joined := strings.Join(got, " ")
	for _, flag := range []string{
		"--output-format stream-json",
		"--include-partial-messages",
		"--input-format stream-json",
		"--replay-user-messages",
		"--session-id sid",
	} {
		if !strings.Contains(joined, flag) {
			t.Errorf("missing %q in %s", flag, joined)
		}
	}
	// Persistent prompts go over stdin, never argv.
	if got[len(got)-1] != "--dangerously-skip-permissions" {
		t.Errorf("unexpected trailing arg: %v", got)
	}
}

func TestBuildArgsResumeWhenLogExists(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	ch := oneshotBatchChannel()

	logDir := filepath.Join(home, ".claude", "projects", "-p")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(logDir, "sid.jsonl"), []byte("{}\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	got := strings.Join(buildArgs(ch, "sid", "hi", nil), " ")
	if !strings.Contains(got, "--resume sid") {
		t.Errorf("expected --resume, got %s", got)
	}
	if strings.Contains(got, "--session-id") {
		t.Errorf("--session-id present alongside --resume: %s", got)
	}
}

func TestOneshotPromptWithImages(t *testing.T) {
	got := oneshotPrompt("what is this", []string{"/tmp/a.png", "/tmp/b.png"})
	if !strings.HasPrefix(got, "what is this\n\n[Attached image files") {
		t.Errorf("prompt = %q", got)
	}
	if !strings.HasSuffix(got, "/tmp/a.png\n/tmp/b.png") {
		t.Errorf("paths not appended: %q", got)
	}
}

func TestSpawnEnvDropsClaudeCode(t *testing.T) {
	t.Setenv("CLAUDECODE", "1")
	for _, kv := range spawnEnv() {
		if strings.HasPrefix(kv, "CLAUDECODE=") {
			t.Error("CLAUDECODE leaked into child env")
		}
	}
}
