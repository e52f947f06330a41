package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/matheus3301/chatsync/internal/model"
)

func saveFriends(tx *sql.Tx, friends []model.Friend) error {
	if _, err := tx.Exec(`DELETE FROM friends`); err != nil {
		return err
	}
	for i, f := range friends {
		if _, err := tx.Exec(`
			INSERT INTO friends (id, position, name, avatar_url, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				position = excluded.position,
				name = excluded.name,
				avatar_url = excluded.avatar_url,
				created_at = excluded.created_at`,
			f.ID, i, f.Name, f.Avatar, toMillis(f.CreatedAt)); err != nil {
			return fmt.Errorf("insert friend %s: %w", f.ID, err)
		}
	}
	return nil
}

func saveFriendRequests(tx *sql.Tx, reqs []model.FriendRequest) error {
	if _, err := tx.Exec(`DELETE FROM friend_requests`); err != nil {
		return err
	}
	for i, r := range reqs {
		from, err := json.Marshal(r.From)
		if err != nil {
			return fmt.Errorf("encode request %s: %w", r.ID, err)
		}
		if _, err := tx.Exec(`
			INSERT INTO friend_requests (id, position, from_user, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				position = excluded.position,
				from_user = excluded.from_user,
				created_at = excluded.created_at`,
			r.ID, i, string(from), toMillis(r.CreatedAt)); err != nil {
			return fmt.Errorf("insert request %s: %w", r.ID, err)
		}
	}
	return nil
}

func saveSuggestions(tx *sql.Tx, profiles []model.Profile) error {
	if _, err := tx.Exec(`DELETE FROM friend_suggestions`); err != nil {
		return err
	}
	for i, p := range profiles {
		if _, err := tx.Exec(`
			INSERT INTO friend_suggestions (id, position, name, avatar_url, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				position = excluded.position,
				name = excluded.name,
				avatar_url = excluded.avatar_url,
				created_at = excluded.created_at`,
			p.ID, i, p.Name, p.Avatar, toMillis(p.CreatedAt)); err != nil {
			return fmt.Errorf("insert suggestion %s: %w", p.ID, err)
		}
	}
	return nil
}

// ListFriends returns persisted friends in cache order.
func (db *DB) ListFriends() ([]model.Friend, error) {
	profiles, err := db.listProfiles(`SELECT id, name, avatar_url, created_at FROM friends ORDER BY position`)
	if err != nil {
		return nil, err
	}
	friends := make([]model.Friend, 0, len(profiles))
	for _, p := range profiles {
		friends = append(friends, model.Friend(p))
	}
	return friends, nil
}

// ListFriendSuggestions returns persisted suggestions in cache order.
func (db *DB) ListFriendSuggestions() ([]model.Profile, error) {
	return db.listProfiles(`SELECT id, name, avatar_url, created_at FROM friend_suggestions ORDER BY position`)
}

func (db *DB) listProfiles(query string) ([]model.Profile, error) {
	rows, err := db.Query(query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.Profile
	for rows.Next() {
		var (
			p         model.Profile
			createdAt int64
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Avatar, &createdAt); err != nil {
			return nil, err
		}
		p.CreatedAt = fromMillis(createdAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListFriendRequests returns persisted pending requests in cache order.
func (db *DB) ListFriendRequests() ([]model.FriendRequest, error) {
	rows, err := db.Query(`SELECT id, from_user, created_at FROM friend_requests ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []model.FriendRequest
	for rows.Next() {
		var (
			r         model.FriendRequest
			from      string
			createdAt int64
		)
		if err := rows.Scan(&r.ID, &from, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(from), &r.From); err != nil {
			return nil, fmt.Errorf("decode request %s: %w", r.ID, err)
		}
		r.CreatedAt = fromMillis(createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}
