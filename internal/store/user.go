package store

import (
	"database/sql"
	"time"

	"github.com/matheus3301/tilechat/internal/chat"
)

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// UpsertUser inserts or updates a user. Empty fields never overwrite
// known values.
func (db *DB) UpsertUser(u *chat.User) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO users (id, username, email, first_name, last_name, is_staff, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = CASE WHEN excluded.username != '' THEN excluded.username ELSE users.username END,
			email = CASE WHEN excluded.email != '' THEN excluded.email ELSE users.email END,
			first_name = CASE WHEN excluded.first_name != '' THEN excluded.first_name ELSE users.first_name END,
			last_name = CASE WHEN excluded.last_name != '' THEN excluded.last_name ELSE users.last_name END,
			is_staff = excluded.is_staff,
			updated_at = excluded.updated_at`,
		u.ID, u.Username, u.Email, u.FirstName, u.LastName, u.IsStaff, now)
	return err
}

func upsertUsername(x execer, id int64, username string, now int64) error {
	_, err := x.Exec(`
		INSERT INTO users (id, username, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username = excluded.username,
			updated_at = excluded.updated_at`,
		id, username, now)
	return err
}

// GetUser returns a user by id, or nil.
func (db *DB) GetUser(id int64) (*chat.User, error) {
	var u chat.User
	err := db.QueryRow(`SELECT id, username, email, first_name, last_name, is_staff FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName, &u.IsStaff)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
