package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_PATH", filepath.Join(t.TempDir(), "h.db"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Chat.DefaultModel != "gpt-4o-mini" {
		t.Errorf("expected default model gpt-4o-mini, got %q", cfg.Chat.DefaultModel)
	}
	if cfg.Chat.Temperature != 0.5 || cfg.Chat.MaxTokens != 500 {
		t.Errorf("unexpected sampling defaults: %v / %d", cfg.Chat.Temperature, cfg.Chat.MaxTokens)
	}
	if cfg.Reminder.DefaultInterval != time.Minute {
		t.Errorf("expected 1m reminder default, got %v", cfg.Reminder.DefaultInterval)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hydraflow.yaml")
	content := []byte("port: \"9000\"\nchat:\n  default_model: file-model\n  max_tokens: 800\nreminder:\n  default_interval: 2m\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("DB_PATH", filepath.Join(dir, "h.db"))
	t.Setenv("CHAT_MODEL", "env-model")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "9000" {
		t.Errorf("expected port from file, got %q", cfg.Port)
	}
	if cfg.Chat.DefaultModel != "env-model" {
		t.Errorf("expected env to win, got %q", cfg.Chat.DefaultModel)
	}
	if cfg.Chat.MaxTokens != 800 {
		t.Errorf("expected max tokens from file, got %d", cfg.Chat.MaxTokens)
	}
	if cfg.Reminder.DefaultInterval != 2*time.Minute {
		t.Errorf("expected 2m interval from file, got %v", cfg.Reminder.DefaultInterval)
	}
}

func TestLoadFileTemperatureZero(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hydraflow.yaml")
	if err := os.WriteFile(path, []byte("chat:\n  temperature: 0\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("DB_PATH", filepath.Join(dir, "h.db"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Chat.Temperature != 0 {
		t.Errorf("expected temperature 0 from file, got %v", cfg.Chat.Temperature)
	}
}

func TestValidateRejectsPostgresWithoutURL(t *testing.T) {
	cfg := Default()
	cfg.DB.Driver = "postgres"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for postgres without DATABASE_URL")
	}
}

func TestGetEnvDurationFallsBackOnGarbage(t *testing.T) {
	t.Setenv("SOME_DURATION", "soon")
	if got := getEnvDuration("SOME_DURATION", time.Second); got != time.Second {
		t.Errorf("expected fallback, got %v", got)
	}
}

func TestTimezone(t *testing.T) {
	cfg := Default()
	loc, err := cfg.Location()
	if err != nil || loc != time.Local {
		t.Fatalf("expected local zone by default, got %v, %v", loc, err)
	}

	cfg.Timezone = "Europe/Berlin"
	if loc, err = cfg.Location(); err != nil || loc.String() != "Europe/Berlin" {
		t.Errorf("expected Europe/Berlin, got %v, %v", loc, err)
	}

	cfg.Timezone = "Mars/Olympus"
	if err := cfg.Validate(); err == nil {
		t.Error("expected unknown timezone to fail validation")
	}
}
