package storage

import (
	"database/sql"
	"time"
)

// GetKV returns the value stored under key, or ErrNotFound.
func (s *Store) GetKV(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return value, err
}

// SetKV inserts or replaces the value stored under key.
func (s *Store) SetKV(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(timeLayout),
	)
	return err
}

// DeleteKV removes key. Deleting a missing key is not an error.
func (s *Store) DeleteKV(key string) error {
	_, err := s.db.Exec("DELETE FROM kv WHERE key = ?", key)
	return err
}
