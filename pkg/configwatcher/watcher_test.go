package configwatcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"techquest_backend/internal/config"
)

func writePolicy(t *testing.T, path, policy string) {
	t.Helper()
	body := []byte("jwt:\n  secret: dev-secret\nstorage:\n  type: memory\nsession:\n  timeout_policy: " + policy + "\n")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestWatchConfigReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writePolicy(t, path, "auto_finish")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *config.Config, 1)
	done := make(chan error, 1)
	go func() {
		done <- WatchConfig(ctx, path, func(cfg *config.Config) {
			select {
			case reloaded <- cfg:
			default:
			}
		})
	}()

	// 等待监听建立
	time.Sleep(200 * time.Millisecond)
	writePolicy(t, path, "none")

	select {
	case cfg := <-reloaded:
		if cfg.Session.TimeoutPolicy != "none" {
			t.Fatalf("timeout policy = %q", cfg.Session.TimeoutPolicy)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("config was not reloaded")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("WatchConfig: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
