package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// DB wraps the client-local SQLite database. It holds the small durable
// state that must survive a reload: game-session membership keys and
// per-chat compose drafts.
type DB struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
}

// Open opens or creates the SQLite database at the given path.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL mode for better concurrency between the UI reads and event writes.
	if _, err := db.Exec(`
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	// Key-value table for durable client state (membership keys and the like).
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS _meta (
			key   TEXT PRIMARY KEY,
			value TEXT
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create meta table: %w", err)
	}

	// Unsent compose-box text, keyed by chat id.
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS drafts (
			chat_id    TEXT PRIMARY KEY,
			text       TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create drafts table: %w", err)
	}

	return &DB{db: db, path: path}, nil
}

// Close closes the database
func (d *DB) Close() error {
	return d.db.Close()
}

// Path returns the database file path
func (d *DB) Path() string {
	return d.path
}

// GetMeta returns the value for key, or ("", false) when absent.
func (d *DB) GetMeta(key string) (string, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var value string
	err := d.db.QueryRow(`SELECT value FROM _meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SetMeta stores or replaces the value for key.
func (d *DB) SetMeta(key, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.Exec(`INSERT OR REPLACE INTO _meta (key, value) VALUES (?, ?)`, key, value)
	return err
}

// DeleteMeta removes key. Deleting an absent key is not an error.
func (d *DB) DeleteMeta(keys ...string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, key := range keys {
		if _, err := d.db.Exec(`DELETE FROM _meta WHERE key = ?`, key); err != nil {
			return err
		}
	}
	return nil
}

// GetDraft returns the saved compose text for a chat, or "" when none.
func (d *DB) GetDraft(chatID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var text string
	err := d.db.QueryRow(`SELECT text FROM drafts WHERE chat_id = ?`, chatID).Scan(&text)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return text, nil
}

// SetDraft stores the compose text for a chat. Empty text deletes the row.
func (d *DB) SetDraft(chatID, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if text == "" {
		_, err := d.db.Exec(`DELETE FROM drafts WHERE chat_id = ?`, chatID)
		return err
	}
	_, err := d.db.Exec(`
		INSERT INTO drafts (chat_id, text, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(chat_id) DO UPDATE SET text = excluded.text, updated_at = CURRENT_TIMESTAMP
	`, chatID, text)
	return err
}

// DeleteDraft removes the draft for a chat.
func (d *DB) DeleteDraft(chatID string) error {
	return d.SetDraft(chatID, "")
}
