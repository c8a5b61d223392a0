package history

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists the final game-history artifact in a local
// sqlite database, keyed by session start time. Per-entry appends are
// a no-op; the store only cares about the finished game.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (or creates) the database at path and ensures
// the schema exists.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: opening sqlite db: %w", err)
	}
	const schema = `
CREATE TABLE IF NOT EXISTS game_history (
    session_id    TEXT PRIMARY KEY,
    session_start TEXT NOT NULL,
    rounds_played INTEGER NOT NULL,
    game_winner   TEXT,
    summary       TEXT NOT NULL,
    entries       TEXT NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: ensuring schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (st *SQLiteStore) Append(_ Entry, _ int) error { return nil }

func (st *SQLiteStore) FlushFinal(s Summary, entries []Entry) error {
	sumJSON, err := json.Marshal(s)
	if err != nil {
		return err
	}
	entJSON, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	_, err = st.db.Exec(
		`INSERT OR REPLACE INTO game_history
		 (session_id, session_start, rounds_played, game_winner, summary, entries)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		s.SessionID, s.SessionStart.UTC().Format("2006-01-02T15:04:05.000Z"),
		s.RoundsPlayed, s.GameWinner, string(sumJSON), string(entJSON),
	)
	if err != nil {
		return fmt.Errorf("history: storing final game state: %w", err)
	}
	return nil
}

func (st *SQLiteStore) Close() error { return st.db.Close() }
