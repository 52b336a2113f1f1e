package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/matheus3301/tilechat/internal/chat"
)

// ReplaceConversations stores the full conversation list as fetched, keeping
// server order. Conversations missing from convs are removed together with
// their cached messages. self is the viewer id used to resolve the peer.
func (db *DB) ReplaceConversations(self int64, convs []chat.Conversation) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`CREATE TEMP TABLE IF NOT EXISTS keep_conversations (id INTEGER PRIMARY KEY)`); err != nil {
		return fmt.Errorf("temp table: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM keep_conversations`); err != nil {
		return fmt.Errorf("reset temp table: %w", err)
	}

	now := time.Now().UnixMilli()
	for i, c := range convs {
		participants, err := json.Marshal(c.Participants)
		if err != nil {
			return fmt.Errorf("encode participants %d: %w", c.ID, err)
		}
		last := ""
		if c.LastMessage != nil {
			raw, err := json.Marshal(c.LastMessage)
			if err != nil {
				return fmt.Errorf("encode last message %d: %w", c.ID, err)
			}
			last = string(raw)
		}
		if _, err := tx.Exec(`
			INSERT INTO conversations (id, peer_id, participants, last_message, unread_count, position, created_at, updated_at, synced_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				peer_id = excluded.peer_id,
				participants = excluded.participants,
				last_message = excluded.last_message,
				unread_count = excluded.unread_count,
				position = excluded.position,
				created_at = excluded.created_at,
				updated_at = excluded.updated_at,
				synced_at = excluded.synced_at`,
			c.ID, c.Peer(self), string(participants), last, c.UnreadCount, i,
			toMillis(c.CreatedAt), toMillis(c.UpdatedAt), now); err != nil {
			return fmt.Errorf("upsert conversation %d: %w", c.ID, err)
		}
		if _, err := tx.Exec(`INSERT INTO keep_conversations (id) VALUES (?)`, c.ID); err != nil {
			return fmt.Errorf("mark conversation %d: %w", c.ID, err)
		}
	}

	if _, err := tx.Exec(`DELETE FROM messages WHERE conversation_id NOT IN (SELECT id FROM keep_conversations)`); err != nil {
		return fmt.Errorf("prune messages: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM conversations WHERE id NOT IN (SELECT id FROM keep_conversations)`); err != nil {
		return fmt.Errorf("prune conversations: %w", err)
	}
	return tx.Commit()
}

const conversationColumns = `
	c.id, c.peer_id,
	COALESCE(NULLIF(TRIM(u.first_name || ' ' || u.last_name), ''), NULLIF(u.username, ''), 'user #' || c.peer_id) AS peer_name,
	c.participants, c.last_message, c.unread_count, c.created_at, c.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (ConversationRecord, error) {
	var (
		r                    ConversationRecord
		participants, last   string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&r.ID, &r.PeerID, &r.PeerName, &participants, &last, &r.UnreadCount, &createdAt, &updatedAt); err != nil {
		return r, err
	}
	if err := json.Unmarshal([]byte(participants), &r.Participants); err != nil {
		return r, fmt.Errorf("decode participants %d: %w", r.ID, err)
	}
	if last != "" {
		var m chat.Message
		if err := json.Unmarshal([]byte(last), &m); err != nil {
			return r, fmt.Errorf("decode last message %d: %w", r.ID, err)
		}
		r.LastMessage = &m
	}
	r.CreatedAt = fromMillis(createdAt)
	r.UpdatedAt = fromMillis(updatedAt)
	return r, nil
}

// ListConversations returns cached conversations in server order. Peer
// names are resolved via LEFT JOIN to users with fallback:
// full name -> username -> "user #<id>"
func (db *DB) ListConversations() ([]ConversationRecord, error) {
	rows, err := db.Query(`
		SELECT` + conversationColumns + `
		FROM conversations c
		LEFT JOIN users u ON c.peer_id = u.id
		ORDER BY c.position ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []ConversationRecord
	for rows.Next() {
		r, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetConversation returns a single cached conversation, or nil.
func (db *DB) GetConversation(id int64) (*ConversationRecord, error) {
	r, err := scanConversation(db.QueryRow(`
		SELECT`+conversationColumns+`
		FROM conversations c
		LEFT JOIN users u ON c.peer_id = u.id
		WHERE c.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ConversationCount returns the number of cached conversations.
func (db *DB) ConversationCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&count)
	return count, err
}
