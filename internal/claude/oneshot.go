package claude

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ktamas77/claudeway/internal/config"
)

// RunOneshot spawns a fresh Agent for one prompt and blocks until it exits.
// A session collision ("already in use" on stderr) clears the session
// artifacts and retries exactly once with a fresh --session-id.
func (s *Supervisor) RunOneshot(ctx context.Context, ch config.Resolved, prompt string, imagePaths []string, onDelta func(string)) (*TurnResult, error) {
	sessionID := DeriveSessionID(ch.ChannelID, ch.Folder)

	res, err := s.runOneshotOnce(ctx, ch, sessionID, prompt, imagePaths, onDelta)
	if err != nil && strings.Contains(err.Error(), "already in use") {
		slog.Warn("session in use, clearing artifacts and retrying",
			"channel", ch.ChannelID, "session", sessionID)
		ClearArtifacts(sessionID, ch.Folder)
		return s.runOneshotOnce(ctx, ch, sessionID, prompt, imagePaths, onDelta)
	}
	return res, err
}

func (s *Supervisor) runOneshotOnce(ctx context.Context, ch config.Resolved, sessionID, prompt string, imagePaths []string, onDelta func(string)) (*TurnResult, error) {
	args := buildArgs(ch, sessionID, prompt, imagePaths)

	cmd := exec.Command(s.binary, args...)
	cmd.Dir = ch.Folder
	cmd.Env = spawnEnv()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("Failed to spawn claude: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("Failed to spawn claude: %w", err)
	}

	p := &process{
		mode:       config.ProcessOneshot,
		channelID:  ch.ChannelID,
		sessionID:  sessionID,
		folder:     ch.Folder,
		cmd:        cmd,
		startedAt:  time.Now(),
		lastPrompt: truncatePrompt(prompt),
		exited:     make(chan struct{}),
	}
	if err := s.register(p); err != nil {
		return nil, err
	}

	if err := cmd.Start(); err != nil {
		s.deregister(p)
		return nil, fmt.Errorf("Failed to spawn claude: %w", err)
	}
	slog.Info("spawned oneshot agent", "channel", ch.ChannelID, "pid", p.pid(), "session", sessionID)
	s.armTimers(p, ch.Timeout)

	// Shutdown path: a cancelled context terminates the child.
	go func() {
		select {
		case <-ctx.Done():
			p.signal(syscall.SIGTERM)
		case <-p.exited:
		}
	}()

	t := newTurn(onDelta)
	handle := func(ev Event) {
		switch ev := ev.(type) {
		case TextDelta:
			t.fullText.WriteString(ev.Text)
			if t.onDelta != nil {
				t.onDelta(ev.Text)
			}
		case Result:
			res := ev
			t.result = &res
			s.mu.Lock()
			p.messageCount++
			if ev.Cost != nil {
				p.totalCost += *ev.Cost
			}
			if ev.Tokens != nil {
				p.totalTokens += *ev.Tokens
			}
			s.mu.Unlock()
		case UserReceipt:
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		buf := make([]byte, 32*1024)
		for {
			n, err := stderr.Read(buf)
			if n > 0 {
				p.touch(ch.Timeout)
				p.stderr.Write(buf[:n])
			}
			if err != nil {
				return
			}
		}
	}()

	buf := make([]byte, 32*1024)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			p.touch(ch.Timeout)
			p.feed(buf[:n], handle)
		}
		if err != nil {
			break
		}
	}
	p.drainTail(handle)

	wg.Wait()
	waitErr := cmd.Wait()
	close(p.exited)
	s.deregister(p)

	s.mu.Lock()
	reason := p.timeoutReason
	s.mu.Unlock()

	if waitErr != nil {
		if reason == "idle timeout" || reason == "absolute timeout" {
			return nil, fmt.Errorf("%s after %s", reason, time.Since(p.startedAt).Round(time.Second))
		}
		code := -1
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		}
		return nil, fmt.Errorf("Claude exited with code %d: %s", code, p.stderrTail())
	}

	result := &TurnResult{
		Text:      t.fullText.String(),
		SessionID: sessionID,
		Duration:  time.Since(p.startedAt),
	}
	if t.result != nil {
		if t.result.Text != "" {
			result.Text = t.result.Text
		}
		if t.result.SessionID != "" {
			result.SessionID = t.result.SessionID
		}
		result.Cost = t.result.Cost
		result.Tokens = t.result.Tokens
	}
	return result, nil
}
