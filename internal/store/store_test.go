package store

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/model"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func ts(sec int64) time.Time { return time.Unix(1700000000+sec, 0).UTC() }

func sampleSnapshot() *model.Snapshot {
	read := ts(50)
	return &model.Snapshot{
		Chats: []model.Chat{
			{
				ID:           "c2",
				Participants: []model.Participant{{ID: "u1", Name: "Me"}, {ID: "u2", Name: "Bob", Avatar: "b.png"}},
				LastMessage:  &model.Message{ID: "m2", Sender: "u2", Text: "see you", CreatedAt: ts(20)},
				UnreadCount:  1,
				Pinned:       true,
				CreatedAt:    ts(1),
			},
			{ID: "c1", CreatedAt: ts(0)},
		},
		Messages: map[model.ID][]model.Message{
			"c2": {
				{ID: "m1", Sender: "u1", Text: "Hello Bob", CreatedAt: ts(10), ReadAt: &read},
				{ID: "m2", Sender: "u2", Text: "see you", CreatedAt: ts(20)},
			},
		},
		Friends:           []model.Friend{{ID: "u2", Name: "Bob"}, {ID: "u3", Name: "Carol"}},
		FriendRequests:    []model.FriendRequest{{ID: "r1", From: model.Profile{ID: "u4", Name: "Dan"}, CreatedAt: ts(5)}},
		FriendSuggestions: []model.Profile{{ID: "u5", Name: "Eve"}},
		FetchedAt:         map[string]time.Time{"chats": ts(30), "messages:c2": ts(31)},
	}
}

func TestMigrateAppliesOnFreshDB(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate, so a second run must be a no-op.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 1 {
		t.Errorf("version = %d, want 1", result.Version)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	db := testDB(t)
	want := sampleSnapshot()
	if err := db.SaveSnapshot(want); err != nil {
		t.Fatalf("SaveSnapshot() error = %v", err)
	}

	got, err := db.LoadSnapshot()
	if err != nil {
		t.Fatalf("LoadSnapshot() error = %v", err)
	}

	if len(got.Chats) != 2 || got.Chats[0].ID != "c2" || got.Chats[1].ID != "c1" {
		t.Fatalf("chats = %+v, want [c2 c1] in order", got.Chats)
	}
	c2 := got.Chats[0]
	if !c2.Pinned || c2.UnreadCount != 1 || len(c2.Participants) != 2 || c2.Participants[1].Avatar != "b.png" {
		t.Errorf("chat c2 = %+v", c2)
	}
	if c2.LastMessage == nil || c2.LastMessage.ID != "m2" || !c2.LastMessage.CreatedAt.Equal(ts(20)) {
		t.Errorf("last message = %+v", c2.LastMessage)
	}
	if got.Chats[1].LastMessage != nil {
		t.Errorf("chat c1 last message = %+v, want nil", got.Chats[1].LastMessage)
	}

	msgs := got.Messages["c2"]
	if len(msgs) != 2 || msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Fatalf("messages = %+v", msgs)
	}
	if msgs[0].ReadAt == nil || !msgs[0].ReadAt.Equal(ts(50)) {
		t.Errorf("m1 read_at = %v, want %v", msgs[0].ReadAt, ts(50))
	}
	if msgs[1].ReadAt != nil {
		t.Errorf("m2 read_at = %v, want nil", msgs[1].ReadAt)
	}

	if len(got.Friends) != 2 || got.Friends[1].Name != "Carol" {
		t.Errorf("friends = %+v", got.Friends)
	}
	if len(got.FriendRequests) != 1 || got.FriendRequests[0].From.Name != "Dan" {
		t.Errorf("requests = %+v", got.FriendRequests)
	}
	if len(got.FriendSuggestions) != 1 || got.FriendSuggestions[0].ID != "u5" {
		t.Errorf("suggestions = %+v", got.FriendSuggestions)
	}
	if !got.FetchedAt["messages:c2"].Equal(ts(31)) || len(got.FetchedAt) != 2 {
		t.Errorf("fetched_at = %v", got.FetchedAt)
	}
}

func TestSaveSnapshotReplacesPreviousState(t *testing.T) {
	db := testDB(t)
	if err := db.SaveSnapshot(sampleSnapshot()); err != nil {
		t.Fatal(err)
	}

	next := &model.Snapshot{Chats: []model.Chat{{ID: "c9"}}}
	if err := db.SaveSnapshot(next); err != nil {
		t.Fatal(err)
	}

	n, err := db.ChatCount()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("ChatCount() = %d, want 1", n)
	}
	m, _ := db.MessageCount()
	if m != 0 {
		t.Errorf("MessageCount() = %d, want 0", m)
	}
}

func TestClear(t *testing.T) {
	db := testDB(t)
	if err := db.SaveSnapshot(sampleSnapshot()); err != nil {
		t.Fatal(err)
	}
	if err := db.SetCheckpoint("schema_note", "kept"); err != nil {
		t.Fatal(err)
	}
	if err := db.Clear(); err != nil {
		t.Fatal(err)
	}

	s, err := db.LoadSnapshot()
	if err != nil {
		t.Fatal(err)
	}
	if len(s.Chats) != 0 || len(s.Messages) != 0 || len(s.Friends) != 0 || len(s.FetchedAt) != 0 {
		t.Errorf("state after Clear = %+v", s)
	}
	if v, err := db.Checkpoint("schema_note"); err != nil || v != "kept" {
		t.Errorf("non-fetch checkpoint = %q, %v; want kept", v, err)
	}
}

func TestCheckpoint(t *testing.T) {
	db := testDB(t)
	if _, err := db.Checkpoint("missing"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("Checkpoint(missing) error = %v, want sql.ErrNoRows", err)
	}
	if err := db.SetCheckpoint("k", "v1"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetCheckpoint("k", "v2"); err != nil {
		t.Fatal(err)
	}
	v, err := db.Checkpoint("k")
	if err != nil || v != "v2" {
		t.Errorf("Checkpoint(k) = %q, %v; want v2", v, err)
	}
}

func TestSearchMessages(t *testing.T) {
	db := testDB(t)
	s := sampleSnapshot()
	s.Messages["c1"] = []model.Message{
		{ID: "m3", Sender: "u3", Text: "hello again, 100% sure", CreatedAt: ts(40)},
	}
	if err := db.SaveSnapshot(s); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		query   string
		chatID  model.ID
		wantIDs []model.ID
	}{
		{"case insensitive across chats", "HELLO", "", []model.ID{"m3", "m1"}},
		{"scoped to chat", "hello", "c2", []model.ID{"m1"}},
		{"percent is literal", "100%", "", []model.ID{"m3"}},
		{"underscore is literal", "_", "", nil},
		{"no match", "goodbye", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := db.SearchMessages(tt.query, tt.chatID, 10)
			if err != nil {
				t.Fatal(err)
			}
			var ids []model.ID
			for _, r := range results {
				ids = append(ids, r.Message.ID)
			}
			if len(ids) != len(tt.wantIDs) {
				t.Fatalf("ids = %v, want %v", ids, tt.wantIDs)
			}
			for i := range ids {
				if ids[i] != tt.wantIDs[i] {
					t.Errorf("ids = %v, want %v", ids, tt.wantIDs)
				}
			}
		})
	}

	results, _ := db.SearchMessages("bob", "c2", 1)
	if len(results) != 1 || results[0].Snippet != "Hello <<Bob>>" || results[0].ChatID != "c2" {
		t.Errorf("result = %+v", results)
	}
}

func TestSnippet(t *testing.T) {
	long := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa needle bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	got := snippet(long, "needle")
	want := "...aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa <<needle>> bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb..."
	if got != want {
		t.Errorf("snippet = %q, want %q", got, want)
	}
	if got := snippet("nothing here", "zzz"); got != "nothing here" {
		t.Errorf("snippet without match = %q", got)
	}
}
