package store

import (
	"errors"
	"fmt"
	"time"
)

// ErrOutboxFull is returned by QueueOutbox when the queued row count has
// reached the capacity.
var ErrOutboxFull = errors.New("outbox full")

// QueueOutbox stores an encoded event unless capacity queued rows already
// exist. Queuing the same client id twice is a no-op.
func (db *DB) QueueOutbox(clientMsgID, peerID string, payload []byte, capacity int) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var n int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM outbox WHERE status = 'queued'`).Scan(&n); err != nil {
		return err
	}
	if capacity > 0 && n >= capacity {
		return ErrOutboxFull
	}
	now := time.Now().UnixMilli()
	if _, err := tx.Exec(`
		INSERT INTO outbox (client_msg_id, peer_id, payload, status, created_at, updated_at)
		VALUES (?, ?, ?, 'queued', ?, ?)
		ON CONFLICT(client_msg_id) DO NOTHING`,
		clientMsgID, peerID, string(payload), now, now); err != nil {
		return err
	}
	return tx.Commit()
}

// MarkOutboxSent records that the event was written to the socket.
func (db *DB) MarkOutboxSent(clientMsgID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'sent', attempts = attempts + 1, updated_at = ? WHERE client_msg_id = ?`, now, clientMsgID)
	return err
}

// MarkOutboxAttempt records a failed write; the row stays queued.
func (db *DB) MarkOutboxAttempt(clientMsgID, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET attempts = attempts + 1, error_message = ?, updated_at = ? WHERE client_msg_id = ?`, errMsg, now, clientMsgID)
	return err
}

// MarkOutboxFailed gives up on a row.
func (db *DB) MarkOutboxFailed(clientMsgID, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'failed', error_message = ?, updated_at = ? WHERE client_msg_id = ?`, errMsg, now, clientMsgID)
	return err
}

// PendingOutbox returns queued entries, oldest first.
func (db *DB) PendingOutbox() ([]OutboxEntry, error) {
	rows, err := db.Query(`
		SELECT id, client_msg_id, peer_id, payload, status, attempts, error_message, created_at
		FROM outbox WHERE status = 'queued' ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		var payload string
		if err := rows.Scan(&e.ID, &e.ClientMsgID, &e.PeerID, &payload, &e.Status, &e.Attempts, &e.ErrorMessage, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Payload = []byte(payload)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// OutboxDepth returns the number of queued rows.
func (db *DB) OutboxDepth() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM outbox WHERE status = 'queued'`).Scan(&n)
	return n, err
}

// PruneOutbox deletes sent and failed rows last touched before cutoff.
func (db *DB) PruneOutbox(cutoff time.Time) (int64, error) {
	res, err := db.Exec(`DELETE FROM outbox WHERE status != 'queued' AND updated_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
