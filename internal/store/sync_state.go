package store

import (
	"database/sql"
	"strconv"
	"strings"
	"time"
)

const fetchedPrefix = "fetched:"

// SetCheckpoint stores a sync_state value.
func (db *DB) SetCheckpoint(key, value string) error {
	_, err := db.Exec(`
		INSERT INTO sync_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	return err
}

// Checkpoint returns a sync_state value. It returns sql.ErrNoRows when unset.
func (db *DB) Checkpoint(key string) (string, error) {
	var value string
	err := db.QueryRow(`SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if err != nil {
		return "", err
	}
	return value, nil
}

func saveFetchedAt(tx *sql.Tx, stamps map[string]time.Time) error {
	if _, err := tx.Exec(`DELETE FROM sync_state WHERE key LIKE 'fetched:%'`); err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	for key, at := range stamps {
		if _, err := tx.Exec(`INSERT INTO sync_state (key, value, updated_at) VALUES (?, ?, ?)`,
			fetchedPrefix+key, strconv.FormatInt(at.UnixMilli(), 10), now); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) loadFetchedAt() (map[string]time.Time, error) {
	rows, err := db.Query(`SELECT key, value FROM sync_state WHERE key LIKE 'fetched:%'`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]time.Time)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			continue
		}
		out[strings.TrimPrefix(key, fetchedPrefix)] = time.UnixMilli(ms).UTC()
	}
	return out, rows.Err()
}
