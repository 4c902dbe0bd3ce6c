package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return dir
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := writeConfig(t, `
server:
  port: "9090"
jwt:
  secret: dev-secret
storage:
  type: memory
`)

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Fatalf("port = %q", cfg.Server.Port)
	}
	if cfg.Session.TimeoutPolicy != "auto_finish" {
		t.Fatalf("timeout policy = %q", cfg.Session.TimeoutPolicy)
	}
	if cfg.Session.RedirectDelay() != 2*time.Second {
		t.Fatalf("redirect delay = %v", cfg.Session.RedirectDelay())
	}
	if cfg.Session.RedirectPath != "/Practise?tab=quizzes" {
		t.Fatalf("redirect path = %q", cfg.Session.RedirectPath)
	}
	if cfg.AI.Model != "gemini-2.0-flash" {
		t.Fatalf("ai model = %q", cfg.AI.Model)
	}
	if cfg.JWT.ExpireTime != 72*time.Hour {
		t.Fatalf("jwt expire = %v", cfg.JWT.ExpireTime)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	dir := writeConfig(t, `
jwt:
  secret: dev-secret
storage:
  type: memory
`)
	t.Setenv("AI_API_KEY", "from-env")
	t.Setenv("DATABASE_DRIVER", "sqlite")

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.AI.APIKey != "from-env" {
		t.Fatalf("ai key = %q", cfg.AI.APIKey)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Fatalf("driver = %q", cfg.Database.Driver)
	}
}

func TestLoadConfigRejectsShortSecretInRelease(t *testing.T) {
	dir := writeConfig(t, `
server:
  mode: release
jwt:
  secret: short
storage:
  type: memory
`)
	if _, err := LoadConfig(dir); err == nil {
		t.Fatal("expected error for short secret in release mode")
	}
}

func TestLoadConfigRejectsUnknownTimeoutPolicy(t *testing.T) {
	dir := writeConfig(t, `
jwt:
  secret: dev-secret
storage:
  type: memory
session:
  timeout_policy: explode
`)
	if _, err := LoadConfig(dir); err == nil {
		t.Fatal("expected error for unknown timeout policy")
	}
}
