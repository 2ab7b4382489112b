package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/x402kamiyo/x402resolve/core/events"
	"github.com/x402kamiyo/x402resolve/core/types"
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS escrow_events (
    sequence   INTEGER PRIMARY KEY AUTOINCREMENT,
    event_type TEXT NOT NULL,
    attributes TEXT NOT NULL,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_escrow_events_type ON escrow_events(event_type);
`

// Journal is an append-only SQLite record of every lifecycle event the engine
// emits. It satisfies the emitter contract; failures are logged rather than
// propagated so a journal outage never blocks settlement.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
}

// OpenJournal opens (and if needed creates) the journal database at path.
func OpenJournal(path string, logger *slog.Logger) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	if _, err := db.Exec(journalSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: apply schema: %w", err)
	}
	return &Journal{db: db, logger: logger}, nil
}

// Emit implements events.Emitter.
func (j *Journal) Emit(evt events.Event) {
	if j == nil || j.db == nil || evt == nil {
		return
	}
	attrs := map[string]string{}
	if carrier, ok := evt.(interface{ Event() *types.Event }); ok {
		if payload := carrier.Event(); payload != nil {
			attrs = payload.Attributes
		}
	}
	encoded, err := json.Marshal(attrs)
	if err != nil {
		j.logf("encode event attributes", evt.EventType(), err)
		return
	}
	_, err = j.db.Exec(
		`INSERT INTO escrow_events (event_type, attributes, created_at) VALUES (?, ?, ?)`,
		evt.EventType(), string(encoded), time.Now().Unix(),
	)
	if err != nil {
		j.logf("append event", evt.EventType(), err)
	}
}

// Recent returns up to limit journal entries, newest first.
func (j *Journal) Recent(limit int) ([]JournalEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.Query(
		`SELECT sequence, event_type, attributes, created_at FROM escrow_events ORDER BY sequence DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		var entry JournalEntry
		var attrs string
		if err := rows.Scan(&entry.Sequence, &entry.Type, &attrs, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		if err := json.Unmarshal([]byte(attrs), &entry.Attributes); err != nil {
			return nil, fmt.Errorf("journal: decode attributes: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Close releases the underlying database handle.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func (j *Journal) logf(op, eventType string, err error) {
	if j.logger == nil {
		return
	}
	j.logger.Error("journal write failed", "op", op, "event", eventType, "error", err)
}

// JournalEntry is one persisted lifecycle event.
type JournalEntry struct {
	Sequence   int64             `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  int64             `json:"createdAt"`
}
