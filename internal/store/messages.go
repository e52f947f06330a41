package store

import (
	"database/sql"
	"fmt"

	"github.com/matheus3301/chatsync/internal/model"
)

func saveMessages(tx *sql.Tx, byChat map[model.ID][]model.Message) error {
	if _, err := tx.Exec(`DELETE FROM messages`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`
		INSERT INTO messages (chat_id, msg_id, sender_id, body, created_at, read_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id, msg_id) DO UPDATE SET
			sender_id = excluded.sender_id,
			body = excluded.body,
			created_at = excluded.created_at,
			read_at = excluded.read_at`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for chatID, msgs := range byChat {
		for _, m := range msgs {
			var readAt sql.NullInt64
			if m.ReadAt != nil {
				readAt = sql.NullInt64{Int64: toMillis(*m.ReadAt), Valid: true}
			}
			if _, err := stmt.Exec(chatID, m.ID, m.Sender, m.Text, toMillis(m.CreatedAt), readAt); err != nil {
				return fmt.Errorf("insert message %s/%s: %w", chatID, m.ID, err)
			}
		}
	}
	return nil
}

// ListMessages returns every persisted message grouped by chat, each list in
// the order it was written.
func (db *DB) ListMessages() (map[model.ID][]model.Message, error) {
	rows, err := db.Query(`
		SELECT chat_id, msg_id, sender_id, body, created_at, read_at
		FROM messages
		ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[model.ID][]model.Message)
	for rows.Next() {
		var (
			chatID model.ID
			m      model.Message
		)
		createdAt, readAt, err := scanMessage(rows, &chatID, &m)
		if err != nil {
			return nil, err
		}
		applyTimes(&m, createdAt, readAt)
		out[chatID] = append(out[chatID], m)
	}
	return out, rows.Err()
}

// MessageCount returns the number of persisted messages.
func (db *DB) MessageCount() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&n)
	return n, err
}

func scanMessage(rows *sql.Rows, chatID *model.ID, m *model.Message) (int64, sql.NullInt64, error) {
	var (
		createdAt int64
		readAt    sql.NullInt64
	)
	err := rows.Scan(chatID, &m.ID, &m.Sender, &m.Text, &createdAt, &readAt)
	return createdAt, readAt, err
}

func applyTimes(m *model.Message, createdAt int64, readAt sql.NullInt64) {
	m.CreatedAt = fromMillis(createdAt)
	if readAt.Valid {
		t := fromMillis(readAt.Int64)
		m.ReadAt = &t
	}
}
