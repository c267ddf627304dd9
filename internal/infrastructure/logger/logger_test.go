package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew_JSONFormatWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	log, err := New(Config{Level: "info", Format: "json", OutputPath: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Info("hello there")
	log.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "hello there") {
		t.Errorf("log file = %q, want it to contain the logged message", data)
	}
	if !strings.Contains(string(data), `"timestamp"`) {
		t.Errorf("expected a timestamp field in json output, got %q", data)
	}
}

func TestNew_ConsoleFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	log, err := New(Config{Level: "debug", Format: "console", OutputPath: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Debug("debug line")
	log.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "debug line") {
		t.Errorf("log file = %q, want it to contain the logged message", data)
	}
}

func TestNew_UnparseableLevelFallsBackToInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	log, err := New(Config{Level: "not-a-real-level", Format: "json", OutputPath: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Debug("should be suppressed")
	log.Info("should appear")
	log.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if strings.Contains(string(data), "should be suppressed") {
		t.Error("expected debug-level logs to be suppressed at the info fallback level")
	}
	if !strings.Contains(string(data), "should appear") {
		t.Error("expected info-level logs to appear")
	}
}
