//go:build !windows

package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"snapkey/internal/config"
	"snapkey/internal/logging"
)

func hookApp(t *testing.T, mutate func(*config.Config)) *App {
	t.Helper()
	cfg := testConfig(t, freePort(t))
	mutate(cfg)
	return newApp(config.NewStore(cfg), logging.NewTestLogger(), Options{})
}

func TestHookRunsAfterCapture(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "hook.txt")
	a := hookApp(t, func(c *config.Config) {
		c.Hook.Command = "/bin/sh"
		c.Hook.Args = []string{"-c", `printf '%s' "$1" > "$0"`, marker}
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.hookWorker(ctx)
	}()

	a.queueHook("/tmp/shot.png")

	deadline := time.Now().Add(3 * time.Second)
	for {
		data, err := os.ReadFile(marker)
		if err == nil && strings.TrimSpace(string(data)) == "/tmp/shot.png" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("hook never wrote the path (err=%v data=%q)", err, data)
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done
	if got := a.Metrics().HooksSent; got != 1 {
		t.Fatalf("hooks sent = %d, want 1", got)
	}
}

func TestHookDisabledQueuesNothing(t *testing.T) {
	a := hookApp(t, func(*config.Config) {})
	a.queueHook("/tmp/shot.png")
	if len(a.hookCh) != 0 {
		t.Fatalf("disabled hook queued %d jobs", len(a.hookCh))
	}
}

func TestHookQueueFullDrops(t *testing.T) {
	a := hookApp(t, func(c *config.Config) { c.Hook.Command = "/bin/true" })
	for i := 0; i < hookQueueSize+2; i++ {
		a.queueHook("/tmp/shot.png")
	}
	if len(a.hookCh) != hookQueueSize {
		t.Fatalf("queue holds %d, want %d", len(a.hookCh), hookQueueSize)
	}
	if got := a.Metrics().Dropped; got != 2 {
		t.Fatalf("dropped = %d, want 2", got)
	}
}
