package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := Default()
	cfg.DefaultSession = "work"
	cfg.TypingDebounce = Duration{2 * time.Second}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultSession != "work" {
		t.Errorf("DefaultSession = %q, want %q", loaded.DefaultSession, "work")
	}
	if loaded.TypingDebounce.Duration != 2*time.Second {
		t.Errorf("TypingDebounce = %v, want 2s", loaded.TypingDebounce.Duration)
	}
	if loaded.OutboxCapacity != 100 {
		t.Errorf("OutboxCapacity = %d, want 100", loaded.OutboxCapacity)
	}
}

func TestLoadPartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := "api_url = \"https://goals.example\"\nrequest_timeout = \"5s\"\noutbox_capacity = 0\n"
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.APIURL != "https://goals.example" {
		t.Errorf("APIURL = %q", cfg.APIURL)
	}
	if cfg.RequestTimeout.Duration != 5*time.Second {
		t.Errorf("RequestTimeout = %v, want 5s", cfg.RequestTimeout.Duration)
	}
	if cfg.PresenceGrace.Duration != 3*time.Second {
		t.Errorf("PresenceGrace = %v, want 3s", cfg.PresenceGrace.Duration)
	}
	if cfg.OutboxCapacity != 100 {
		t.Errorf("OutboxCapacity = %d, want default 100", cfg.OutboxCapacity)
	}
}

func TestLoadBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("typing_debounce = \"soon\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for bad duration")
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load("/nonexistent/config.toml")
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
	cfg, err := LoadOrDefault("/nonexistent/config.toml")
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.ChatURL == "" {
		t.Error("LoadOrDefault() returned empty ChatURL")
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, &Config{DefaultSession: "main"}); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}

func TestApplyEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("GOALCHAT_CHAT_URL=ws://dotenv/ws\nGOALCHAT_TOKEN=from-file\n"), 0600); err != nil {
		t.Fatal(err)
	}
	// godotenv only fills variables that are not set at all.
	for _, k := range []string{EnvChatURL, EnvAPIURL, EnvSession, EnvLogLevel} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	t.Setenv(EnvToken, "from-env")
	t.Setenv(EnvOutboxCapacity, "7")

	cfg := Default()
	if err := ApplyEnv(cfg, envFile, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}
	if cfg.ChatURL != "ws://dotenv/ws" {
		t.Errorf("ChatURL = %q, want dotenv value", cfg.ChatURL)
	}
	if cfg.Token != "from-env" {
		t.Errorf("Token = %q, want existing env to win", cfg.Token)
	}
	if cfg.OutboxCapacity != 7 {
		t.Errorf("OutboxCapacity = %d, want 7", cfg.OutboxCapacity)
	}
}

func TestApplyEnvBadCapacity(t *testing.T) {
	t.Setenv(EnvOutboxCapacity, "many")
	if err := ApplyEnv(Default()); err == nil {
		t.Error("ApplyEnv() expected error for bad capacity")
	}
}
