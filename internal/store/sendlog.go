package store

import "time"

// RecordSend adds a send attempt in 'sending' status.
func (db *DB) RecordSend(e *SendEntry) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO send_log (client_msg_id, kind, receiver_id, body, has_attachment, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 'sending', ?, ?)`,
		e.ClientMsgID, e.Kind, e.ReceiverID, e.Body, e.HasAttachment, now, now)
	return err
}

// MarkSendSent updates a send attempt to 'sent' with the server message ID
// (0 when the endpoint does not return one).
func (db *DB) MarkSendSent(clientMsgID string, serverMsgID int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE send_log SET status = 'sent', server_msg_id = ?, error_message = '', updated_at = ? WHERE client_msg_id = ?`,
		serverMsgID, now, clientMsgID)
	return err
}

// MarkSendFailed updates a send attempt to 'failed' with an error message.
func (db *DB) MarkSendFailed(clientMsgID, errMsg string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE send_log SET status = 'failed', error_message = ?, updated_at = ? WHERE client_msg_id = ?`,
		errMsg, now, clientMsgID)
	return err
}

// ListSends returns send attempts newest first. An empty status lists all.
func (db *DB) ListSends(status string, limit int) ([]SendEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT id, client_msg_id, kind, receiver_id, body, has_attachment, status, error_message, server_msg_id, created_at
		FROM send_log`
	args := []any{}
	if status != "" {
		q += ` WHERE status = ?`
		args = append(args, status)
	}
	q += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []SendEntry
	for rows.Next() {
		var e SendEntry
		if err := rows.Scan(&e.ID, &e.ClientMsgID, &e.Kind, &e.ReceiverID, &e.Body, &e.HasAttachment,
			&e.Status, &e.ErrorMessage, &e.ServerMsgID, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
