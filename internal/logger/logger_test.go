package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewWritesConsoleAndFile(t *testing.T) {
	var console bytes.Buffer
	file := filepath.Join(t.TempDir(), "mapfile.log")

	l := New(Options{File: file, Console: zapcore.AddSync(&console)})
	l.Info("Query finished", zap.Int("pois", 3))
	l.Debug("hidden at info level")
	_ = l.Sync()

	if !strings.Contains(console.String(), "Query finished") {
		t.Errorf("console output missing message: %q", console.String())
	}
	if strings.Contains(console.String(), "hidden") {
		t.Error("debug message logged at info level")
	}

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &entry); err != nil {
		t.Fatalf("log file is not JSON: %v", err)
	}
	if entry["msg"] != "Query finished" || entry["pois"] != float64(3) {
		t.Errorf("unexpected entry %v", entry)
	}
}

func TestNewDebug(t *testing.T) {
	var console bytes.Buffer
	l := New(Options{Debug: true, Console: zapcore.AddSync(&console)})
	l.Debug("block skipped")
	if !strings.Contains(console.String(), "block skipped") {
		t.Errorf("debug output missing: %q", console.String())
	}
}

func TestGetReturnsLogger(t *testing.T) {
	if Get() == nil {
		t.Fatal("Get returned nil")
	}
}
