package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewWritesJSONWithSessionFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "chatsyncd.log")

	logger, err := New(path, "work")
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("channel open", zap.String("channel", "chats"))
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	line := strings.TrimSpace(string(data))
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log line is not JSON: %q", line)
	}
	if entry["session"] != "work" {
		t.Errorf("session = %v, want work", entry["session"])
	}
	if entry["channel"] != "chats" {
		t.Errorf("channel = %v, want chats", entry["channel"])
	}
	if _, ok := entry["ts"]; !ok {
		t.Error("missing ts key")
	}
}

func TestNewWithLevelFiltersDebug(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chatsyncd.log")

	logger, err := NewWithLevel(path, "main", zapcore.WarnLevel)
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("dropped")
	logger.Warn("kept")
	_ = logger.Sync()

	data, _ := os.ReadFile(path)
	if strings.Contains(string(data), "dropped") {
		t.Error("info entry written at warn level")
	}
	if !strings.Contains(string(data), "kept") {
		t.Error("warn entry missing")
	}
}
