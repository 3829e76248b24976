package store

import (
	"database/sql"
	"errors"
	"time"
)

// Well-known kv keys.
const (
	KeyToken    = "auth.token"
	KeyUserID   = "auth.user_id"
	KeyUsername = "auth.username"
)

// SetValue upserts a key.
func (db *DB) SetValue(key, value string) error {
	_, err := db.Exec(`
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	return err
}

// Value returns the stored value, or "" when the key is absent.
func (db *DB) Value(key string) (string, error) {
	var v string
	err := db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

// DeleteValues removes the given keys.
func (db *DB) DeleteValues(keys ...string) error {
	for _, k := range keys {
		if _, err := db.Exec(`DELETE FROM kv WHERE key = ?`, k); err != nil {
			return err
		}
	}
	return nil
}
