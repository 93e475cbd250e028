// Package claude supervises the Claude Code CLI: it derives session
// identity, assembles command lines, spawns oneshot and persistent
// processes, and parses the CLI's newline-delimited JSON output stream.
package claude

import (
	"encoding/json"
	"strings"
)

// Event is one parsed line of the CLI's stream-json output.
// Closed set: TextDelta, Result, UserReceipt.
type Event interface {
	isEvent()
}

// TextDelta is an incremental chunk of assistant text.
type TextDelta struct {
	Text string
}

// Result terminates a turn. Cost and Tokens are nil when the CLI did not
// report them.
type Result struct {
	Text      string
	SessionID string
	Cost      *float64
	Tokens    *int
}

// UserReceipt is the CLI's echo of a stdin user message in persistent mode.
type UserReceipt struct{}

func (TextDelta) isEvent()   {}
func (Result) isEvent()      {}
func (UserReceipt) isEvent() {}

// streamLine is the top-level wire shape of one NDJSON line.
type streamLine struct {
	Type         string          `json:"type"`
	Event        *innerEvent     `json:"event,omitempty"`
	Result       string          `json:"result,omitempty"`
	SessionID    string          `json:"session_id,omitempty"`
	CostUSD      *float64        `json:"cost_usd,omitempty"`
	TotalCostUSD *float64        `json:"total_cost_usd,omitempty"`
	Usage        *usage          `json:"usage,omitempty"`
	Message      json.RawMessage `json:"message,omitempty"`
}

type innerEvent struct {
	Type  string `json:"type"`
	Delta *delta `json:"delta,omitempty"`
}

type delta struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ParseStreamLine parses one line of CLI output into an Event. Returns nil
// for blank lines, truncated JSON, unknown record types, and stream_event
// envelopes whose inner shape is not a text delta. Never panics.
func ParseStreamLine(line string) Event {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	var rec streamLine
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		return nil
	}

	switch rec.Type {
	case "stream_event":
		ev := rec.Event
		if ev == nil || ev.Type != "content_block_delta" {
			return nil
		}
		if ev.Delta == nil || ev.Delta.Type != "text_delta" || ev.Delta.Text == "" {
			return nil
		}
		return TextDelta{Text: ev.Delta.Text}

	case "result":
		res := Result{Text: rec.Result}
		if rec.SessionID != "" {
			res.SessionID = rec.SessionID
		}
		switch {
		case rec.CostUSD != nil:
			res.Cost = rec.CostUSD
		case rec.TotalCostUSD != nil:
			res.Cost = rec.TotalCostUSD
		}
		if rec.Usage != nil {
			total := rec.Usage.InputTokens + rec.Usage.OutputTokens
			res.Tokens = &total
		}
		return res

	case "user":
		return UserReceipt{}
	}

	return nil
}
