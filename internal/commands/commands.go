// Package commands implements the in-channel control commands: !ps, !kill,
// !killall and !nudge. They are intercepted before anything reaches the
// Agent, so they work even while a channel is busy.
package commands

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ktamas77/claudeway/internal/claude"
	"github.com/ktamas77/claudeway/internal/config"
	"github.com/ktamas77/claudeway/internal/queue"
)

// Handler resolves and executes magic commands.
type Handler struct {
	cfg   *config.Config
	sup   *claude.Supervisor
	queue *queue.Queue
}

// NewHandler wires the command surface to the supervisor and queue.
func NewHandler(cfg *config.Config, sup *claude.Supervisor, q *queue.Queue) *Handler {
	return &Handler{cfg: cfg, sup: sup, queue: q}
}

// IsMagicCommand reports whether text is a control command: the bare verb,
// or !kill/!nudge followed by exactly one channel reference. Anything more is
// a prompt that merely mentions a command and goes to the Agent untouched.
func IsMagicCommand(text string) bool {
	fields := strings.Fields(strings.TrimSpace(text))
	switch len(fields) {
	case 1:
		switch fields[0] {
		case "!ps", "!kill", "!killall", "!nudge":
			return true
		}
	case 2:
		switch fields[0] {
		case "!kill", "!nudge":
			return true
		}
	}
	return false
}

// Handle executes the command and returns the reply to post in-thread.
// channelID is where the command was typed; it is the default target.
func (h *Handler) Handle(text, channelID string) string {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return ""
	}
	switch fields[0] {
	case "!ps":
		return h.ps()
	case "!kill":
		return h.kill(fields[1:], channelID)
	case "!killall":
		return h.killAll()
	case "!nudge":
		return h.nudge(fields[1:], channelID)
	}
	return ""
}

// resolveTarget maps a command argument to a channel ID. Accepts a Slack
// channel mention (<#C123|name>), "#name", a bare name, or a raw ID.
func (h *Handler) resolveTarget(arg string) (string, bool) {
	arg = strings.TrimSpace(arg)
	if strings.HasPrefix(arg, "<#") && strings.HasSuffix(arg, ">") {
		inner := strings.TrimSuffix(strings.TrimPrefix(arg, "<#"), ">")
		if i := strings.Index(inner, "|"); i >= 0 {
			inner = inner[:i]
		}
		return inner, inner != ""
	}
	return h.cfg.ResolveByName(arg)
}

// channelLabel renders a channel for display, preferring its configured name.
func (h *Handler) channelLabel(channelID string) string {
	if r, ok := h.cfg.Resolve(channelID); ok && r.Name != channelID {
		return "#" + r.Name
	}
	return "#" + channelID
}

func (h *Handler) ps() string {
	procs := h.sup.GetActiveProcesses()
	pending := h.queue.PendingCounts()

	var b strings.Builder
	if len(procs) == 0 {
		b.WriteString("_No active processes._")
	} else {
		fmt.Fprintf(&b, "*Active processes (%d/%d):*", len(procs), claude.MaxConcurrent)
		for _, p := range procs {
			status := ":hourglass_flowing_sand:"
			if !p.IsActive {
				status = "(idle)"
			}
			fmt.Fprintf(&b, "\n• %s %s — %s, pid %d, running %s, %s",
				status, h.channelLabel(p.ChannelID), p.Mode, p.PID,
				formatDuration(time.Since(p.StartedAt)), plural(p.MessageCount, "turn"))
			if p.TotalTokens > 0 {
				fmt.Fprintf(&b, ", %d tokens", p.TotalTokens)
			} else if p.TotalCost > 0 {
				fmt.Fprintf(&b, ", $%.4f", p.TotalCost)
			}
			if p.LastPrompt != "" {
				fmt.Fprintf(&b, "\n   └ last: %q", p.LastPrompt)
			}
		}
	}

	if len(pending) > 0 {
		channels := make([]string, 0, len(pending))
		for ch := range pending {
			channels = append(channels, ch)
		}
		sort.Strings(channels)
		b.WriteString("\n*Queued:*")
		for _, ch := range channels {
			fmt.Fprintf(&b, " %s: %d", h.channelLabel(ch), pending[ch])
		}
	}
	return b.String()
}

func (h *Handler) kill(args []string, channelID string) string {
	target := channelID
	if len(args) > 0 {
		resolved, ok := h.resolveTarget(args[0])
		if !ok {
			return fmt.Sprintf(":warning: Unknown channel %q", args[0])
		}
		target = resolved
	}

	var since time.Duration
	for _, p := range h.sup.GetActiveProcesses() {
		if p.ChannelID == target {
			since = time.Since(p.StartedAt)
		}
	}
	if !h.sup.KillProcess(target) {
		return fmt.Sprintf(":warning: No active process in %s", h.channelLabel(target))
	}
	return fmt.Sprintf(":stop_sign: Killed process in %s (was running %s)",
		h.channelLabel(target), formatDuration(since))
}

func (h *Handler) killAll() string {
	killed := h.sup.KillAllProcesses()
	if len(killed) == 0 {
		return "_No active processes._"
	}
	labels := make([]string, len(killed))
	for i, ch := range killed {
		labels[i] = h.channelLabel(ch)
	}
	return fmt.Sprintf(":stop_sign: Killed %s: %s",
		plural(len(killed), "process"), strings.Join(labels, ", "))
}

func (h *Handler) nudge(args []string, channelID string) string {
	target := channelID
	if len(args) > 0 {
		resolved, ok := h.resolveTarget(args[0])
		if !ok {
			return fmt.Sprintf(":warning: Unknown channel %q", args[0])
		}
		target = resolved
	}
	if !h.sup.NudgeProcess(target) {
		return fmt.Sprintf(":warning: No active process in %s", h.channelLabel(target))
	}
	return fmt.Sprintf(":point_right: Nudged process in %s", h.channelLabel(target))
}

// formatDuration renders a duration as "1h 2m 3s", dropping leading zero
// components.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

func plural(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	if strings.HasSuffix(noun, "s") {
		return fmt.Sprintf("%d %ses", n, noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
