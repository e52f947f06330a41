package model

import (
	"encoding/json"
	"testing"
	"time"
)

func TestIDUnmarshal(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    ID
		wantErr bool
	}{
		{"string", `"abc"`, "abc", false},
		{"number", `42`, "42", false},
		{"null", `null`, "", false},
		{"bool", `true`, "", true},
		{"object", `{}`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var id ID
			err := json.Unmarshal([]byte(tt.input), &id)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Unmarshal(%s) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && id != tt.want {
				t.Errorf("Unmarshal(%s) = %q, want %q", tt.input, id, tt.want)
			}
		})
	}
}

func TestMessageDecodesNumericIDs(t *testing.T) {
	var m Message
	data := `{"id": 7, "sender": 3, "text": "hi", "created_at": "2024-05-01T10:00:00Z"}`
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		t.Fatal(err)
	}
	if m.ID != "7" || m.Sender != "3" {
		t.Errorf("ids = %q/%q, want 7/3", m.ID, m.Sender)
	}
}

func TestPlaceholderID(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	id := NewPlaceholderChatID(now, "u9")
	if id != "placeholder_1700000000123_u9" {
		t.Errorf("placeholder id = %q", id)
	}
	if !id.IsPlaceholder() {
		t.Error("IsPlaceholder() = false")
	}
	if id.IsTemp() {
		t.Error("placeholder id reported as temp")
	}
}

func TestTempMessageID(t *testing.T) {
	a, b := NewTempMessageID(), NewTempMessageID()
	if !a.IsTemp() || !b.IsTemp() {
		t.Errorf("temp ids not prefixed: %q %q", a, b)
	}
	if a == b {
		t.Error("temp ids collide")
	}
}

func TestChatOtherAndActivity(t *testing.T) {
	created := time.Unix(100, 0)
	c := Chat{
		ID:           "c1",
		Participants: []Participant{{ID: "me"}, {ID: "bob", Name: "Bob"}},
		CreatedAt:    created,
	}
	other, ok := c.Other("me")
	if !ok || other.Name != "Bob" {
		t.Errorf("Other(me) = %+v, %v", other, ok)
	}
	if !c.Activity().Equal(created) {
		t.Errorf("Activity() = %v, want created_at", c.Activity())
	}
	c.LastMessage = &Message{ID: "m1", CreatedAt: time.Unix(200, 0)}
	if c.Activity().Unix() != 200 {
		t.Errorf("Activity() = %v, want last message time", c.Activity())
	}
}
