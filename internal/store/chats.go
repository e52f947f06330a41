package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/matheus3301/chatsync/internal/model"
)

func saveChats(tx *sql.Tx, chats []model.Chat) error {
	if _, err := tx.Exec(`DELETE FROM chats`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`
		INSERT INTO chats (id, position, participants, last_message, unread_count, pinned, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			position = excluded.position,
			participants = excluded.participants,
			last_message = excluded.last_message,
			unread_count = excluded.unread_count,
			pinned = excluded.pinned,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().UnixMilli()
	for i, c := range chats {
		participants, err := json.Marshal(c.Participants)
		if err != nil {
			return fmt.Errorf("encode participants of %s: %w", c.ID, err)
		}
		var last sql.NullString
		if c.LastMessage != nil {
			b, err := json.Marshal(c.LastMessage)
			if err != nil {
				return fmt.Errorf("encode last message of %s: %w", c.ID, err)
			}
			last = sql.NullString{String: string(b), Valid: true}
		}
		if _, err := stmt.Exec(c.ID, i, string(participants), last, c.UnreadCount, c.Pinned, toMillis(c.CreatedAt), now); err != nil {
			return fmt.Errorf("insert chat %s: %w", c.ID, err)
		}
	}
	return nil
}

// ListChats returns persisted chats in cache order.
func (db *DB) ListChats() ([]model.Chat, error) {
	rows, err := db.Query(`
		SELECT id, participants, last_message, unread_count, pinned, created_at
		FROM chats
		ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []model.Chat
	for rows.Next() {
		var (
			c            model.Chat
			participants string
			last         sql.NullString
			createdAt    int64
		)
		if err := rows.Scan(&c.ID, &participants, &last, &c.UnreadCount, &c.Pinned, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(participants), &c.Participants); err != nil {
			return nil, fmt.Errorf("decode participants of %s: %w", c.ID, err)
		}
		if last.Valid {
			c.LastMessage = new(model.Message)
			if err := json.Unmarshal([]byte(last.String), c.LastMessage); err != nil {
				return nil, fmt.Errorf("decode last message of %s: %w", c.ID, err)
			}
		}
		c.CreatedAt = fromMillis(createdAt)
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// ChatCount returns the number of persisted chats.
func (db *DB) ChatCount() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM chats`).Scan(&n)
	return n, err
}
