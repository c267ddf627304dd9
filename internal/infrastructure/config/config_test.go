package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"OWNER_ID", "BOT_TOKEN", "INACTIVITY_TIMEOUT_MINUTES",
		"APPROVAL_TIMEOUT_MINUTES", "STORAGE_DIR", "WORKSPACE_DIR",
		"LOG_LEVEL", "LOG_FORMAT",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoad_MissingOwnerIDErrors(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("BOT_TOKEN", "tok")
	if _, err := Load(); err == nil {
		t.Error("expected Load to fail without OWNER_ID")
	}
}

func TestLoad_MissingBotTokenErrors(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("OWNER_ID", "1")
	if _, err := Load(); err == nil {
		t.Error("expected Load to fail without BOT_TOKEN")
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("OWNER_ID", "42")
	t.Setenv("BOT_TOKEN", "tok")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.OwnerID != 42 || cfg.BotToken != "tok" {
		t.Errorf("cfg = %+v, want owner_id=42 bot_token=tok", cfg)
	}
	if cfg.InactivityTimeoutMinutes != 30 {
		t.Errorf("InactivityTimeoutMinutes = %d, want default 30", cfg.InactivityTimeoutMinutes)
	}
	if cfg.ApprovalTimeoutMinutes != 5 {
		t.Errorf("ApprovalTimeoutMinutes = %d, want default 5", cfg.ApprovalTimeoutMinutes)
	}
	if cfg.Log.LogLevel != "info" || cfg.Log.LogFormat != "json" {
		t.Errorf("Log = %+v, want info/json defaults", cfg.Log)
	}
}

func TestLoad_ExplicitValuesOverrideDefaults(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("OWNER_ID", "1")
	t.Setenv("BOT_TOKEN", "tok")
	t.Setenv("INACTIVITY_TIMEOUT_MINUTES", "15")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.InactivityTimeoutMinutes != 15 {
		t.Errorf("InactivityTimeoutMinutes = %d, want 15", cfg.InactivityTimeoutMinutes)
	}
	if cfg.Log.LogLevel != "debug" {
		t.Errorf("Log.LogLevel = %q, want debug", cfg.Log.LogLevel)
	}
}

func TestLoad_ExpandsHomeInStorageDir(t *testing.T) {
	clearConfigEnv(t)
	t.Setenv("OWNER_ID", "1")
	t.Setenv("BOT_TOKEN", "tok")
	t.Setenv("STORAGE_DIR", "~/.safeclaw-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	home, _ := os.UserHomeDir()
	want := filepath.Join(home, ".safeclaw-test")
	if cfg.StorageDir != want {
		t.Errorf("StorageDir = %q, want %q", cfg.StorageDir, want)
	}
}

func TestConfig_TimeoutHelpers(t *testing.T) {
	cfg := &Config{InactivityTimeoutMinutes: 10, ApprovalTimeoutMinutes: 2}
	if cfg.InactivityTimeout() != 10*time.Minute {
		t.Errorf("InactivityTimeout() = %v, want 10m", cfg.InactivityTimeout())
	}
	if cfg.ApprovalTimeout() != 2*time.Minute {
		t.Errorf("ApprovalTimeout() = %v, want 2m", cfg.ApprovalTimeout())
	}
}
