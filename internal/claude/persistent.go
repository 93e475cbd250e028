package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/ktamas77/claudeway/internal/config"
)

// stdinUserMessage is the JSON line written to a persistent Agent's stdin
// to start a turn.
type stdinUserMessage struct {
	Type    string           `json:"type"`
	Message stdinMessageBody `json:"message"`
}

type stdinMessageBody struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RunPersistentTurn sends one prompt to the channel's long-lived Agent and
// blocks until the turn resolves. If no Agent is running (first turn, or the
// previous one exited), a new one is spawned transparently.
func (s *Supervisor) RunPersistentTurn(ctx context.Context, ch config.Resolved, prompt string, imagePaths []string, onDelta func(string)) (*TurnResult, error) {
	p, err := s.ensurePersistent(ch)
	if err != nil {
		return nil, err
	}

	t := newTurn(onDelta)
	s.mu.Lock()
	if p.curTurn != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("channel %s already has a turn in flight", ch.ChannelID)
	}
	p.curTurn = t
	p.lastPrompt = truncatePrompt(prompt)
	s.mu.Unlock()
	p.touch(ch.Timeout)

	started := time.Now()

	line, err := json.Marshal(stdinUserMessage{
		Type:    "user",
		Message: stdinMessageBody{Role: "user", Content: oneshotPrompt(prompt, imagePaths)},
	})
	if err != nil {
		s.clearTurn(p, t)
		return nil, fmt.Errorf("encode user message: %w", err)
	}
	if _, err := p.stdin.Write(append(line, '\n')); err != nil {
		// The close handler will complete the turn with the exit error if
		// the process is going down; otherwise fail the turn ourselves.
		s.clearTurn(p, t)
		p.signal(syscall.SIGTERM)
		return nil, fmt.Errorf("write to agent stdin: %w", err)
	}

	select {
	case out := <-t.done:
		if out.err != nil {
			return nil, out.err
		}
		result := &TurnResult{
			Text:      out.text,
			SessionID: p.sessionID,
			Duration:  time.Since(started),
		}
		if t.result != nil {
			result.Cost = t.result.Cost
			result.Tokens = t.result.Tokens
			if t.result.SessionID != "" {
				result.SessionID = t.result.SessionID
			}
		}
		return result, nil
	case <-ctx.Done():
		p.signal(syscall.SIGTERM)
		out := <-t.done // close handler always completes the pending turn
		if out.err != nil {
			return nil, out.err
		}
		return nil, ctx.Err()
	}
}

// clearTurn removes t from p if it is still the current turn.
func (s *Supervisor) clearTurn(p *process, t *turn) {
	s.mu.Lock()
	if p.curTurn == t {
		p.curTurn = nil
	}
	s.mu.Unlock()
}

// ensurePersistent returns the channel's live persistent process, spawning
// one when needed.
func (s *Supervisor) ensurePersistent(ch config.Resolved) (*process, error) {
	s.mu.Lock()
	p, ok := s.procs[ch.ChannelID]
	s.mu.Unlock()
	if ok {
		select {
		case <-p.exited:
			// Close handler has run or is running; fall through to respawn.
		default:
			if p.pid() != 0 {
				return p, nil
			}
		}
	}
	return s.spawnPersistent(ch)
}

func (s *Supervisor) spawnPersistent(ch config.Resolved) (*process, error) {
	sessionID := DeriveSessionID(ch.ChannelID, ch.Folder)
	args := buildArgs(ch, sessionID, "", nil)

	cmd := exec.Command(s.binary, args...)
	cmd.Dir = ch.Folder
	cmd.Env = spawnEnv()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("Failed to spawn claude: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("Failed to spawn claude: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("Failed to spawn claude: %w", err)
	}

	p := &process{
		mode:      config.ProcessPersistent,
		channelID: ch.ChannelID,
		sessionID: sessionID,
		folder:    ch.Folder,
		cmd:       cmd,
		stdin:     stdin,
		startedAt: time.Now(),
		exited:    make(chan struct{}),
	}
	if err := s.register(p); err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		s.deregister(p)
		return nil, fmt.Errorf("Failed to spawn claude: %w", err)
	}
	slog.Info("spawned persistent agent", "channel", ch.ChannelID, "pid", p.pid(), "session", sessionID)
	s.armTimers(p, ch.Timeout)

	handle := func(ev Event) {
		switch ev := ev.(type) {
		case TextDelta:
			s.mu.Lock()
			t := p.curTurn
			s.mu.Unlock()
			if t == nil {
				return
			}
			t.fullText.WriteString(ev.Text)
			if t.onDelta != nil {
				t.onDelta(ev.Text)
			}
		case Result:
			s.mu.Lock()
			p.messageCount++
			if ev.Cost != nil {
				p.totalCost += *ev.Cost
			}
			if ev.Tokens != nil {
				p.totalTokens += *ev.Tokens
			}
			t := p.curTurn
			p.curTurn = nil
			s.mu.Unlock()
			if t == nil {
				return
			}
			res := ev
			t.result = &res
			text := ev.Text
			if text == "" {
				text = t.fullText.String()
			}
			t.finish(text, nil)
		case UserReceipt:
			// The Agent acknowledging stdin input; informational only.
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		buf := make([]byte, 32*1024)
		for {
			n, err := stdout.Read(buf)
			if n > 0 {
				p.touch(ch.Timeout)
				p.feed(buf[:n], handle)
			}
			if err != nil {
				return
			}
		}
	}()
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

	// Close handler: the single cleanup point. Deregisters, drains the
	// trailing partial line, and completes any pending turn.
	go func() {
		wg.Wait()
		p.drainTail(handle)
		waitErr := cmd.Wait()
		close(p.exited)
		s.deregister(p)

		s.mu.Lock()
		t := p.curTurn
		p.curTurn = nil
		reason := p.timeoutReason
		s.mu.Unlock()

		if waitErr == nil {
			slog.Info("persistent agent exited", "channel", p.channelID)
			if t != nil {
				t.finish(t.fullText.String(), nil)
			}
			return
		}

		var err error
		if reason == "idle timeout" || reason == "absolute timeout" {
			err = fmt.Errorf("%s after %s", reason, time.Since(p.startedAt).Round(time.Second))
		} else {
			code := -1
			if exitErr, ok := waitErr.(*exec.ExitError); ok {
				code = exitErr.ExitCode()
			}
			err = fmt.Errorf("Claude exited with code %d: %s", code, p.stderrTail())
		}
		slog.Warn("persistent agent died", "channel", p.channelID, "error", err)
		if t != nil {
			t.finish("", err)
		}
	}()

	return p, nil
}
