package mqttc

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Compile-time check that SQLiteStore implements SessionStore.
var _ SessionStore = (*SQLiteStore)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sessions (
	client_id TEXT PRIMARY KEY,
	state     TEXT NOT NULL,
	saved_at  INTEGER NOT NULL
);`

// SQLiteStore persists session snapshots in a SQLite database, one row per
// client ID. Row replacement is a single statement, so a crash mid-save
// leaves the previous snapshot intact rather than a partial one.
type SQLiteStore struct {
	db     *sql.DB
	expiry time.Duration
}

// NewSQLiteStore opens (creating if needed) a SQLite-backed session store
// at the given path. The parent directory is created if missing. A
// positive expiry is honoured on load and by Cleanup.
func NewSQLiteStore(path string, expiry time.Duration) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSessionStore, err)
		}
	}

	// WAL keeps concurrent readers from blocking the client's own saves;
	// the busy timeout rides out short lock contention.
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionStore, err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrSessionStore, err)
	}

	return &SQLiteStore{db: db, expiry: expiry}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Save persists the snapshot for a client ID.
func (s *SQLiteStore) Save(clientID string, state *SessionState) error {
	state.Stamp()

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSessionStore, err)
	}

	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO sessions (client_id, state, saved_at) VALUES (?, ?, ?)`,
		clientID, string(data), state.SavedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSessionStore, err)
	}
	return nil
}

// Load returns the snapshot for a client ID, or nil when none exists. An
// expired row is deleted and reported as absent.
func (s *SQLiteStore) Load(clientID string) (*SessionState, error) {
	var data string
	err := s.db.QueryRow(
		`SELECT state FROM sessions WHERE client_id = ?`, clientID,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionStore, err)
	}

	var state SessionState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionStore, err)
	}

	if s.expiry > 0 && state.Age() > s.expiry {
		s.db.Exec(`DELETE FROM sessions WHERE client_id = ?`, clientID)
		return nil, nil
	}

	if state.Subscriptions == nil {
		state.Subscriptions = make(map[string]SessionSubscription)
	}

	return &state, nil
}

// Delete removes the snapshot for a client ID.
func (s *SQLiteStore) Delete(clientID string) error {
	if _, err := s.db.Exec(`DELETE FROM sessions WHERE client_id = ?`, clientID); err != nil {
		return fmt.Errorf("%w: %v", ErrSessionStore, err)
	}
	return nil
}

// Exists reports whether a snapshot is stored for a client ID.
func (s *SQLiteStore) Exists(clientID string) (bool, error) {
	var one int
	err := s.db.QueryRow(
		`SELECT 1 FROM sessions WHERE client_id = ?`, clientID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrSessionStore, err)
	}
	return true, nil
}

// Cleanup removes every expired snapshot and returns the count.
func (s *SQLiteStore) Cleanup() (int, error) {
	if s.expiry <= 0 {
		return 0, nil
	}

	cutoff := time.Now().Add(-s.expiry).Unix()
	res, err := s.db.Exec(`DELETE FROM sessions WHERE saved_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSessionStore, err)
	}

	n, _ := res.RowsAffected()
	return int(n), nil
}
