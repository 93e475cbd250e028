package claude

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ktamas77/claudeway/internal/config"
)

// AbsoluteTimeout is the hard cap on any Agent process lifetime. Safety net
// only; the idle timeout is the operative one.
const AbsoluteTimeout = 12 * time.Hour

// MaxConcurrent caps simultaneous Agent turns across the whole gateway.
const MaxConcurrent = 8

// promptPrefixLen caps the stored prompt excerpt shown by !ps.
const promptPrefixLen = 80

// maxStderrBytes bounds the retained stderr tail used in error messages.
const maxStderrBytes = 16 * 1024

// ActiveProcess is a snapshot of one live Agent invocation.
type ActiveProcess struct {
	ChannelID    string
	SessionID    string
	Mode         config.ProcessMode
	PID          int
	StartedAt    time.Time
	LastPrompt   string
	MessageCount int
	TotalCost    float64
	TotalTokens  int
	IsActive     bool // a turn is in flight (always true for oneshot)
}

// TurnResult is the outcome of one completed request/response exchange.
type TurnResult struct {
	Text      string
	SessionID string
	Cost      *float64
	Tokens    *int
	Duration  time.Duration
}

type turnOutcome struct {
	text string
	err  error
}

// turn is the in-flight exchange of a persistent process, or the single
// exchange of a oneshot one.
type turn struct {
	onDelta  func(string)
	fullText strings.Builder
	result   *Result
	done     chan turnOutcome
}

func newTurn(onDelta func(string)) *turn {
	return &turn{onDelta: onDelta, done: make(chan turnOutcome, 1)}
}

func (t *turn) finish(text string, err error) {
	select {
	case t.done <- turnOutcome{text: text, err: err}:
	default:
	}
}

// process is one live Agent child. All mutable fields are guarded by the
// supervisor mutex; the owning goroutine is the one that spawned it, and
// registry removal happens exactly once, when the child closes.
type process struct {
	mode      config.ProcessMode
	channelID string
	sessionID string
	folder    string

	cmd   *exec.Cmd
	stdin io.WriteCloser // persistent only

	startedAt    time.Time
	lastPrompt   string
	messageCount int
	totalCost    float64
	totalTokens  int

	curTurn *turn

	idleTimer     *time.Timer
	absTimer      *time.Timer
	timeoutReason string

	lineBuf bytes.Buffer
	stderr  bytes.Buffer

	exited chan struct{}
}

// Supervisor owns every Agent child process. One registry keyed by channel
// ID holds both oneshot and persistent entries, which is what enforces the
// one-process-per-channel invariant.
type Supervisor struct {
	binary string

	mu    sync.Mutex
	procs map[string]*process
}

// NewSupervisor creates a Supervisor that spawns the given CLI binary.
func NewSupervisor(binary string) *Supervisor {
	if binary == "" {
		binary = "claude"
	}
	return &Supervisor{binary: binary, procs: make(map[string]*process)}
}

// register inserts p, failing if the channel already has a live process.
func (s *Supervisor) register(p *process) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.procs[p.channelID]; ok {
		return fmt.Errorf("channel %s already has an active process (pid %d)", p.channelID, existing.pid())
	}
	s.procs[p.channelID] = p
	return nil
}

// deregister removes p if it is still the registered entry for its channel.
// Only the close handler calls this.
func (s *Supervisor) deregister(p *process) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.procs[p.channelID] == p {
		delete(s.procs, p.channelID)
	}
	p.stopTimers()
}

func (p *process) pid() int {
	if p.cmd != nil && p.cmd.Process != nil {
		return p.cmd.Process.Pid
	}
	return 0
}

func (p *process) signal(sig syscall.Signal) {
	if p.cmd != nil && p.cmd.Process != nil {
		if err := p.cmd.Process.Signal(sig); err != nil {
			slog.Debug("signal delivery failed", "channel", p.channelID, "signal", sig, "error", err)
		}
	}
}

func (p *process) stopTimers() {
	if p.idleTimer != nil {
		p.idleTimer.Stop()
	}
	if p.absTimer != nil {
		p.absTimer.Stop()
	}
}

// armTimers starts the idle and absolute timers. The idle timer is re-armed
// on every stdout/stderr chunk via touch.
func (s *Supervisor) armTimers(p *process, idle time.Duration) {
	p.idleTimer = time.AfterFunc(idle, func() {
		s.timeoutKill(p, "idle timeout")
	})
	p.absTimer = time.AfterFunc(AbsoluteTimeout, func() {
		s.timeoutKill(p, "absolute timeout")
	})
}

func (s *Supervisor) timeoutKill(p *process, reason string) {
	s.mu.Lock()
	if p.timeoutReason == "" {
		p.timeoutReason = reason
	}
	s.mu.Unlock()
	slog.Warn("agent process timed out", "channel", p.channelID, "reason", reason)
	p.signal(syscall.SIGTERM)
}

// touch resets the idle timer; called on every chunk of child output.
func (p *process) touch(idle time.Duration) {
	if p.idleTimer != nil {
		p.idleTimer.Reset(idle)
	}
}

// feed appends a stdout chunk to the line buffer and dispatches every
// complete line. The trailing partial line stays buffered across chunks.
func (p *process) feed(chunk []byte, handle func(Event)) {
	p.lineBuf.Write(chunk)
	for {
		line, err := p.lineBuf.ReadString('\n')
		if err != nil {
			// Partial line: keep it for the next chunk.
			p.lineBuf.Reset()
			p.lineBuf.WriteString(line)
			return
		}
		if ev := ParseStreamLine(line); ev != nil {
			handle(ev)
		}
	}
}

// drainTail processes whatever partial line remains after stdout closes.
func (p *process) drainTail(handle func(Event)) {
	if tail := p.lineBuf.String(); strings.TrimSpace(tail) != "" {
		if ev := ParseStreamLine(tail); ev != nil {
			handle(ev)
		}
	}
	p.lineBuf.Reset()
}

func (p *process) stderrTail() string {
	out := strings.TrimSpace(p.stderr.String())
	if len(out) > maxStderrBytes {
		out = out[len(out)-maxStderrBytes:]
	}
	return out
}

func truncatePrompt(prompt string) string {
	r := []rune(prompt)
	if len(r) > promptPrefixLen {
		return string(r[:promptPrefixLen])
	}
	return prompt
}

// GetActiveProcesses returns a stable snapshot of every live process.
func (s *Supervisor) GetActiveProcesses() []ActiveProcess {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := make([]ActiveProcess, 0, len(s.procs))
	for _, p := range s.procs {
		snap = append(snap, ActiveProcess{
			ChannelID:    p.channelID,
			SessionID:    p.sessionID,
			Mode:         p.mode,
			PID:          p.pid(),
			StartedAt:    p.startedAt,
			LastPrompt:   p.lastPrompt,
			MessageCount: p.messageCount,
			TotalCost:    p.totalCost,
			TotalTokens:  p.totalTokens,
			IsActive:     p.mode == config.ProcessOneshot || p.curTurn != nil,
		})
	}
	sort.Slice(snap, func(i, j int) bool { return snap[i].StartedAt.Before(snap[j].StartedAt) })
	return snap
}

// KillProcess SIGTERMs the channel's process and cancels its timers.
// Reports whether a process was found. Registry removal itself happens in
// the close handler once the child actually exits.
func (s *Supervisor) KillProcess(channelID string) bool {
	s.mu.Lock()
	p, ok := s.procs[channelID]
	if ok {
		if p.timeoutReason == "" {
			p.timeoutReason = "killed"
		}
		p.stopTimers()
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	slog.Info("killing agent process", "channel", channelID, "pid", p.pid())
	p.signal(syscall.SIGTERM)
	return true
}

// NudgeProcess SIGINTs the channel's process, prompting the Agent to wrap
// up a long tool call. Timers and registry are untouched.
func (s *Supervisor) NudgeProcess(channelID string) bool {
	s.mu.Lock()
	p, ok := s.procs[channelID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	slog.Info("nudging agent process", "channel", channelID, "pid", p.pid())
	p.signal(syscall.SIGINT)
	return true
}

// KillAllProcesses SIGTERMs every process and returns the affected channels.
func (s *Supervisor) KillAllProcesses() []string {
	s.mu.Lock()
	procs := make([]*process, 0, len(s.procs))
	for _, p := range s.procs {
		if p.timeoutReason == "" {
			p.timeoutReason = "killed"
		}
		p.stopTimers()
		procs = append(procs, p)
	}
	s.mu.Unlock()

	channels := make([]string, 0, len(procs))
	for _, p := range procs {
		p.signal(syscall.SIGTERM)
		channels = append(channels, p.channelID)
	}
	sort.Strings(channels)
	return channels
}
