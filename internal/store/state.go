package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/matheus3301/tilechat/internal/chat"
)

// Checkpoint keys written by the synchronizer.
const (
	CheckpointConversations = "conversations_synced_at"
	CheckpointMessagesFmt   = "messages_synced_at:%d"
)

// UpdateCheckpoint sets a sync_state key.
func (db *DB) UpdateCheckpoint(key, value string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO sync_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return err
}

// GetCheckpoint returns a sync_state value, or "" if unset.
func (db *DB) GetCheckpoint(key string) (string, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SaveCredentials persists the token and the authenticated user.
func (db *DB) SaveCredentials(token string, user chat.User) error {
	raw, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode user: %w", err)
	}
	now := time.Now().UnixMilli()
	_, err = db.Exec(`
		INSERT INTO credentials (id, token, user_json, updated_at) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET token = excluded.token, user_json = excluded.user_json, updated_at = excluded.updated_at`,
		token, string(raw), now)
	if err != nil {
		return err
	}
	return db.UpsertUser(&user)
}

// LoadCredentials returns the persisted token and user. A missing row
// returns "", nil, nil.
func (db *DB) LoadCredentials() (string, *chat.User, error) {
	var token, userJSON string
	err := db.QueryRow(`SELECT token, user_json FROM credentials WHERE id = 1`).Scan(&token, &userJSON)
	if err == sql.ErrNoRows {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, err
	}
	if userJSON == "" {
		return token, nil, nil
	}
	var u chat.User
	if err := json.Unmarshal([]byte(userJSON), &u); err != nil {
		return "", nil, fmt.Errorf("decode user: %w", err)
	}
	return token, &u, nil
}

// ClearCredentials removes the persisted token and user.
func (db *DB) ClearCredentials() error {
	_, err := db.Exec(`DELETE FROM credentials`)
	return err
}
