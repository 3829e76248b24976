package store

import (
	"fmt"
	"strings"
	"time"
)

// ReplaceFriends stores the latest friend list. Observed presence of friends
// that remain in the list is kept; friends no longer listed are removed.
func (db *DB) ReplaceFriends(friends []Friend) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, f := range friends {
		if _, err := tx.Exec(`
			INSERT INTO friends (id, username, email, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				username = CASE WHEN excluded.username != '' THEN excluded.username ELSE friends.username END,
				email = CASE WHEN excluded.email != '' THEN excluded.email ELSE friends.email END,
				updated_at = excluded.updated_at`,
			f.ID, f.Username, f.Email, now); err != nil {
			return fmt.Errorf("upsert friend %q: %w", f.ID, err)
		}
	}
	prune := `DELETE FROM friends`
	args := make([]any, 0, len(friends))
	if len(friends) > 0 {
		prune += ` WHERE id NOT IN (?` + strings.Repeat(`, ?`, len(friends)-1) + `)`
		for _, f := range friends {
			args = append(args, f.ID)
		}
	}
	if _, err := tx.Exec(prune, args...); err != nil {
		return fmt.Errorf("prune friends: %w", err)
	}
	return tx.Commit()
}

// SetFriendStatus records the last observed presence of a friend. Unknown
// ids are ignored.
func (db *DB) SetFriendStatus(id, status string, seenAt time.Time) error {
	_, err := db.Exec(`UPDATE friends SET status = ?, seen_at = ? WHERE id = ?`, status, seenAt.UnixMilli(), id)
	return err
}

// ListFriends returns cached friends ordered by username.
func (db *DB) ListFriends() ([]Friend, error) {
	rows, err := db.Query(`SELECT id, username, email, status, seen_at FROM friends ORDER BY username COLLATE NOCASE, id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Friend
	for rows.Next() {
		var f Friend
		if err := rows.Scan(&f.ID, &f.Username, &f.Email, &f.Status, &f.SeenAt); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
