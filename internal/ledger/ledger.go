// Package ledger records per-turn Agent usage (cost, tokens, duration) in a
// local SQLite database. Recording is best effort: a broken ledger must
// never block message delivery.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ktamas77/claudeway/internal/claude"
)

const schema = `
CREATE TABLE IF NOT EXISTS turns (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	recorded_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	channel_id  TEXT NOT NULL,
	session_id  TEXT NOT NULL,
	prompt      TEXT NOT NULL,
	cost_usd    REAL,
	tokens      INTEGER,
	duration_ms INTEGER NOT NULL,
	error       TEXT
);
CREATE INDEX IF NOT EXISTS idx_turns_channel ON turns(channel_id);
`

// Ledger is the usage database. A single mutex serializes writes; SQLite
// handles one writer at a time anyway.
type Ledger struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens (or creates) the ledger database at path.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_journal_mode=WAL&_busy_timeout=5000", path))
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping ledger: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create ledger schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// RecordTurn stores one completed turn. Failures are logged, never returned:
// the scheduler's TurnRecorder contract is fire and forget.
func (l *Ledger) RecordTurn(channelID, sessionID, prompt string, result *claude.TurnResult, turnErr error) {
	var cost sql.NullFloat64
	var tokens sql.NullInt64
	var durationMs int64
	if result != nil {
		if result.Cost != nil {
			cost = sql.NullFloat64{Float64: *result.Cost, Valid: true}
		}
		if result.Tokens != nil {
			tokens = sql.NullInt64{Int64: int64(*result.Tokens), Valid: true}
		}
		durationMs = result.Duration.Milliseconds()
	}
	var errText sql.NullString
	if turnErr != nil {
		errText = sql.NullString{String: turnErr.Error(), Valid: true}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.db.Exec(
		`INSERT INTO turns (channel_id, session_id, prompt, cost_usd, tokens, duration_ms, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		channelID, sessionID, prompt, cost, tokens, durationMs, errText)
	if err != nil {
		slog.Warn("usage record failed", "channel", channelID, "error", err)
	}
}

// ChannelUsage is the aggregated usage of one channel.
type ChannelUsage struct {
	ChannelID string
	Turns     int
	Errors    int
	CostUSD   float64
	Tokens    int64
	Duration  time.Duration
}

// Summary aggregates usage per channel, most expensive first.
func (l *Ledger) Summary(ctx context.Context) ([]ChannelUsage, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT channel_id,
		       COUNT(*),
		       COUNT(error),
		       COALESCE(SUM(cost_usd), 0),
		       COALESCE(SUM(tokens), 0),
		       COALESCE(SUM(duration_ms), 0)
		FROM turns
		GROUP BY channel_id
		ORDER BY COALESCE(SUM(cost_usd), 0) DESC`)
	if err != nil {
		return nil, fmt.Errorf("ledger summary: %w", err)
	}
	defer rows.Close()

	var out []ChannelUsage
	for rows.Next() {
		var u ChannelUsage
		var durationMs int64
		if err := rows.Scan(&u.ChannelID, &u.Turns, &u.Errors, &u.CostUSD, &u.Tokens, &durationMs); err != nil {
			return nil, fmt.Errorf("ledger summary scan: %w", err)
		}
		u.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, u)
	}
	return out, rows.Err()
}
