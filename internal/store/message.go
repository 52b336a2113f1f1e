package store

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/matheus3301/tilechat/internal/chat"
)

// ReplaceMessages stores the message list of one conversation as fetched.
// Usernames carried by the messages are recorded in users.
func (db *DB) ReplaceMessages(conversationID int64, msgs []chat.Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}

	now := time.Now().UnixMilli()
	for i, m := range msgs {
		if _, err := tx.Exec(`
			INSERT INTO messages (id, conversation_id, position, sender, sender_username, receiver, receiver_username,
				content, attachment_url, status, is_admin_message, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				conversation_id = excluded.conversation_id,
				position = excluded.position,
				content = excluded.content,
				attachment_url = excluded.attachment_url,
				status = excluded.status,
				updated_at = excluded.updated_at`,
			m.ID, conversationID, i, m.Sender, m.SenderUsername, m.Receiver, m.ReceiverUsername,
			m.Content, m.AttachmentURL, string(m.Status), m.IsAdminMessage,
			toMillis(m.CreatedAt), toMillis(m.UpdatedAt)); err != nil {
			return fmt.Errorf("insert message %d: %w", m.ID, err)
		}
		for _, u := range []struct {
			id   int64
			name string
		}{{m.Sender, m.SenderUsername}, {m.Receiver, m.ReceiverUsername}} {
			if u.id == 0 || u.name == "" {
				continue
			}
			if err := upsertUsername(tx, u.id, u.name, now); err != nil {
				return fmt.Errorf("record user %d: %w", u.id, err)
			}
		}
	}
	return tx.Commit()
}

const messageColumns = `id, conversation_id, sender, sender_username, receiver, receiver_username,
	content, attachment_url, status, is_admin_message, created_at, updated_at`

func scanMessage(row rowScanner) (chat.Message, int64, error) {
	var (
		m                    chat.Message
		conversationID       int64
		status               string
		createdAt, updatedAt int64
	)
	err := row.Scan(&m.ID, &conversationID, &m.Sender, &m.SenderUsername, &m.Receiver, &m.ReceiverUsername,
		&m.Content, &m.AttachmentURL, &status, &m.IsAdminMessage, &createdAt, &updatedAt)
	m.Status = chat.Status(status)
	m.CreatedAt = fromMillis(createdAt)
	m.UpdatedAt = fromMillis(updatedAt)
	return m, conversationID, err
}

// ListMessages returns the cached messages of a conversation in server
// order. limit <= 0 returns all of them; otherwise the latest limit.
func (db *DB) ListMessages(conversationID int64, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(`
		SELECT `+messageColumns+`
		FROM (SELECT * FROM messages WHERE conversation_id = ? ORDER BY position DESC LIMIT ?)
		ORDER BY position ASC`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []chat.Message
	for rows.Next() {
		m, _, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// SearchMessages does a case-insensitive substring search over cached
// message content, newest first. conversationID 0 searches everything.
func (db *DB) SearchMessages(query string, conversationID int64, limit int) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	q := `SELECT ` + messageColumns + ` FROM messages WHERE content LIKE ? ESCAPE '\'`
	args := []any{"%" + escapeLike(query) + "%"}
	if conversationID != 0 {
		q += " AND conversation_id = ?"
		args = append(args, conversationID)
	}
	q += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var results []SearchResult
	for rows.Next() {
		m, convID, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, SearchResult{
			ConversationID: convID,
			Message:        m,
			Snippet:        snippet(m.Content, query, 32),
		})
	}
	return results, rows.Err()
}

// MessageCount returns the number of cached messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// snippet marks the first match with << >> and keeps about radius runes of
// context on each side.
func snippet(body, query string, radius int) string {
	idx := strings.Index(strings.ToLower(body), strings.ToLower(query))
	if idx < 0 || len(strings.ToLower(body)) != len(body) {
		return body
	}
	end := idx + len(query)

	start := idx
	for n := 0; n < radius && start > 0; n++ {
		_, size := utf8.DecodeLastRuneInString(body[:start])
		start -= size
	}
	stop := end
	for n := 0; n < radius && stop < len(body); n++ {
		_, size := utf8.DecodeRuneInString(body[stop:])
		stop += size
	}

	var b strings.Builder
	if start > 0 {
		b.WriteString("...")
	}
	b.WriteString(body[start:idx])
	b.WriteString("<<")
	b.WriteString(body[idx:end])
	b.WriteString(">>")
	b.WriteString(body[end:stop])
	if stop < len(body) {
		b.WriteString("...")
	}
	return b.String()
}
