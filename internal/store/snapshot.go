package store

import (
	"fmt"

	"github.com/matheus3301/chatsync/internal/model"
)

// SaveSnapshot replaces the persisted state with s in a single transaction.
func (db *DB) SaveSnapshot(s *model.Snapshot) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := saveChats(tx, s.Chats); err != nil {
		return fmt.Errorf("save chats: %w", err)
	}
	if err := saveMessages(tx, s.Messages); err != nil {
		return fmt.Errorf("save messages: %w", err)
	}
	if err := saveFriends(tx, s.Friends); err != nil {
		return fmt.Errorf("save friends: %w", err)
	}
	if err := saveFriendRequests(tx, s.FriendRequests); err != nil {
		return fmt.Errorf("save friend requests: %w", err)
	}
	if err := saveSuggestions(tx, s.FriendSuggestions); err != nil {
		return fmt.Errorf("save friend suggestions: %w", err)
	}
	if err := saveFetchedAt(tx, s.FetchedAt); err != nil {
		return fmt.Errorf("save fetch stamps: %w", err)
	}
	return tx.Commit()
}

// LoadSnapshot reads the persisted state.
func (db *DB) LoadSnapshot() (*model.Snapshot, error) {
	var (
		s   model.Snapshot
		err error
	)
	if s.Chats, err = db.ListChats(); err != nil {
		return nil, fmt.Errorf("load chats: %w", err)
	}
	if s.Messages, err = db.ListMessages(); err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	if s.Friends, err = db.ListFriends(); err != nil {
		return nil, fmt.Errorf("load friends: %w", err)
	}
	if s.FriendRequests, err = db.ListFriendRequests(); err != nil {
		return nil, fmt.Errorf("load friend requests: %w", err)
	}
	if s.FriendSuggestions, err = db.ListFriendSuggestions(); err != nil {
		return nil, fmt.Errorf("load friend suggestions: %w", err)
	}
	if s.FetchedAt, err = db.loadFetchedAt(); err != nil {
		return nil, fmt.Errorf("load fetch stamps: %w", err)
	}
	return &s, nil
}

// Clear deletes all persisted session data.
func (db *DB) Clear() error {
	return db.SaveSnapshot(&model.Snapshot{})
}
