// Package journal keeps a local SQLite record of messages an agent has
// processed, for offline inspection. The reconciliation engine never
// reads it; it exists purely for operators (see the history command).
package journal

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/nitrogen-io/nitrogen-go/pkg/message"
)

type Journal struct {
	db *sql.DB
}

// Open opens (creating if needed) the journal database at path.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 30000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying pragma %q: %w", pragma, err)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		sender TEXT,
		recipient TEXT,
		ts TEXT NOT NULL,
		recorded_at TEXT NOT NULL,
		raw TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_ts ON messages(ts);
	CREATE INDEX IF NOT EXISTS idx_messages_type ON messages(type);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// Record stores a message. Re-recording the same id overwrites the
// previous row, so duplicate deliveries are harmless.
func (j *Journal) Record(m *message.Message) error {
	if m.ID == "" {
		return fmt.Errorf("refusing to record message without id")
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}

	_, err = j.db.Exec(`
		INSERT OR REPLACE INTO messages (id, type, sender, recipient, ts, recorded_at, raw)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Type, m.From, m.To,
		m.TS.UTC().Format(time.RFC3339Nano),
		time.Now().UTC().Format(time.RFC3339Nano),
		string(raw))
	if err != nil {
		return fmt.Errorf("recording message: %w", err)
	}
	return nil
}

// Recent returns up to limit messages, newest-first by TS.
func (j *Journal) Recent(limit int) ([]*message.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.Query(`SELECT raw FROM messages ORDER BY ts DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying journal: %w", err)
	}
	defer rows.Close()

	var msgs []*message.Message
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		m, err := message.Parse([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("decoding journal entry: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// CountByType returns how many messages of each type are recorded.
func (j *Journal) CountByType() (map[string]int, error) {
	rows, err := j.db.Query(`SELECT type, COUNT(*) FROM messages GROUP BY type`)
	if err != nil {
		return nil, fmt.Errorf("counting journal: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, fmt.Errorf("scanning count: %w", err)
		}
		counts[typ] = n
	}
	return counts, rows.Err()
}
