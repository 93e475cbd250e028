// Package queue is the durable inbound message queue. Each pending prompt is
// one JSON file on disk, so queued work survives gateway restarts.
package queue

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Message is one unit of pending work.
type Message struct {
	ChannelID  string    `json:"channelId"`
	UserID     string    `json:"userId"`
	Text       string    `json:"text"`
	TS         string    `json:"ts"`
	ThreadTS   string    `json:"threadTs,omitempty"`
	QueuedAt   time.Time `json:"queuedAt"`
	ImagePaths []string  `json:"imagePaths,omitempty"`
}

// Queue persists messages under a single directory, one file per message.
type Queue struct {
	dir string
}

// New creates a Queue rooted at dir, creating it if needed.
func New(dir string) (*Queue, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create queue dir: %w", err)
	}
	return &Queue{dir: dir}, nil
}

// fileName derives a filesystem-safe unique name from (channel, ts).
// Slack ts values look like "1712345678.000100"; the dot is replaced so the
// name stays portable. Same (channel, ts) ⇒ same file, so a duplicate
// enqueue overwrites rather than forking.
func (q *Queue) fileName(channelID, ts string) string {
	safe := strings.ReplaceAll(ts, ".", "-")
	return filepath.Join(q.dir, channelID+"_"+safe+".json")
}

// Enqueue persists m. Write failures propagate so the caller can tell the
// user their message was not accepted.
func (q *Queue) Enqueue(m Message) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal queued message: %w", err)
	}
	if err := os.WriteFile(q.fileName(m.ChannelID, m.TS), data, 0o644); err != nil {
		return fmt.Errorf("persist queued message: %w", err)
	}
	return nil
}

// Get returns the current on-disk record for (channelID, ts). Callers that
// held a Message for a while re-read it here so edits made in the meantime
// are not lost.
func (q *Queue) Get(channelID, ts string) (Message, bool) {
	data, err := os.ReadFile(q.fileName(channelID, ts))
	if err != nil {
		return Message{}, false
	}
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		slog.Warn("queue record corrupt on read", "channel", channelID, "ts", ts, "error", err)
		return Message{}, false
	}
	return m, true
}

// Dequeue removes the record for (channelID, ts). Reports whether a record
// actually existed.
func (q *Queue) Dequeue(channelID, ts string) bool {
	err := os.Remove(q.fileName(channelID, ts))
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("queue dequeue failed", "channel", channelID, "ts", ts, "error", err)
		}
		return false
	}
	return true
}

// GetPending returns every queued message, oldest first.
// Unreadable records are skipped, not fatal.
func (q *Queue) GetPending() []Message {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		slog.Warn("queue read failed", "dir", q.dir, "error", err)
		return nil
	}

	var msgs []Message
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(q.dir, entry.Name()))
		if err != nil {
			slog.Warn("queue record unreadable, skipping", "file", entry.Name(), "error", err)
			continue
		}
		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			slog.Warn("queue record corrupt, skipping", "file", entry.Name(), "error", err)
			continue
		}
		msgs = append(msgs, m)
	}

	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].QueuedAt.Before(msgs[j].QueuedAt)
	})
	return msgs
}

// GetPendingForChannel returns the queued messages for one channel, oldest first.
func (q *Queue) GetPendingForChannel(channelID string) []Message {
	all := q.GetPending()
	var msgs []Message
	for _, m := range all {
		if m.ChannelID == channelID {
			msgs = append(msgs, m)
		}
	}
	return msgs
}

// PendingCounts returns the number of queued messages per channel.
func (q *Queue) PendingCounts() map[string]int {
	counts := make(map[string]int)
	for _, m := range q.GetPending() {
		counts[m.ChannelID]++
	}
	return counts
}

// UpdateText replaces the text of a still-queued message in place. Reports
// whether the record existed. Used when the user edits a message that has
// not started processing yet.
func (q *Queue) UpdateText(channelID, ts, newText string) bool {
	path := q.fileName(channelID, ts)
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		slog.Warn("queue record corrupt on update", "file", path, "error", err)
		return false
	}
	m.Text = newText
	updated, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return false
	}
	if err := os.WriteFile(path, updated, 0o644); err != nil {
		slog.Warn("queue update write failed", "file", path, "error", err)
		return false
	}
	return true
}
