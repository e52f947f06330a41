package store

import (
	"strings"
	"unicode/utf8"

	"github.com/matheus3301/chatsync/internal/model"
)

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	ChatID  model.ID
	Message model.Message
	Snippet string
}

const snippetRadius = 32

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// SearchMessages returns messages whose body contains query, newest first.
// Matching is case-insensitive for ASCII. An empty chatID searches all chats.
func (db *DB) SearchMessages(query string, chatID model.ID, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `
		SELECT chat_id, msg_id, sender_id, body, created_at, read_at
		FROM messages
		WHERE body LIKE ? ESCAPE '\'`
	args := []any{"%" + likeEscaper.Replace(query) + "%"}
	if chatID != "" {
		q += " AND chat_id = ?"
		args = append(args, chatID)
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
		var r SearchResult
		createdAt, readAt, err := scanMessage(rows, &r.ChatID, &r.Message)
		if err != nil {
			return nil, err
		}
		applyTimes(&r.Message, createdAt, readAt)
		r.Snippet = snippet(r.Message.Text, query)
		results = append(results, r)
	}
	return results, rows.Err()
}

// snippet marks the first match of query in body with << >> and trims the
// surrounding text to snippetRadius bytes on each side.
func snippet(body, query string) string {
	i := strings.Index(strings.ToLower(body), strings.ToLower(query))
	if i < 0 || len(strings.ToLower(body)) != len(body) {
		return body
	}
	end := i + len(query)
	start := max(0, i-snippetRadius)
	stop := min(len(body), end+snippetRadius)
	for start > 0 && !utf8.RuneStart(body[start]) {
		start--
	}
	for stop < len(body) && !utf8.RuneStart(body[stop]) {
		stop++
	}
	var b strings.Builder
	if start > 0 {
		b.WriteString("...")
	}
	b.WriteString(body[start:i])
	b.WriteString("<<")
	b.WriteString(body[i:end])
	b.WriteString(">>")
	b.WriteString(body[end:stop])
	if stop < len(body) {
		b.WriteString("...")
	}
	return b.String()
}
