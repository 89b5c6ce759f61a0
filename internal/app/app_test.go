package app

import (
	"context"
	"errors"
	"image"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"snapkey/internal/capture"
	"snapkey/internal/config"
	"snapkey/internal/hotkey"
	"snapkey/internal/ipc"
	"snapkey/internal/logging"
)

type peer bool

func (p peer) IsAlreadyRunning(context.Context, string) bool { return bool(p) }

type fakeBackend struct {
	mu     sync.Mutex
	active map[string]func()
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Register(k hotkey.Key, cb func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active == nil {
		f.active = map[string]func(){}
	}
	f.active[k.String()] = cb
	return nil
}

func (f *fakeBackend) UnregisterAll() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = nil
	return nil
}

func (f *fakeBackend) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for k := range f.active {
		out = append(out, k)
	}
	return out
}

func (f *fakeBackend) press(id string) bool {
	f.mu.Lock()
	cb := f.active[id]
	f.mu.Unlock()
	if cb != nil {
		cb()
	}
	return cb != nil
}

type stubScreen struct{}

func (stubScreen) Displays() ([]image.Rectangle, error) {
	return []image.Rectangle{image.Rect(0, 0, 16, 16)}, nil
}

func (stubScreen) Pointer() (image.Point, error) { return image.Point{}, errors.New("no pointer") }

func (stubScreen) Capture(r image.Rectangle) (*image.RGBA, error) {
	return image.NewRGBA(r), nil
}

type failing struct{}

func (failing) WriteImage([]byte) error { return errors.New("no clipboard") }

func (failing) Notify(string, string) error { return errors.New("no notifications") }

func (failing) Open(string) error { return errors.New("no browser") }

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func testConfig(t *testing.T, port int) *config.Config {
	t.Helper()
	cfg, err := config.Default()
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	dir := t.TempDir()
	cfg.Paths.ConfigPath = filepath.Join(dir, "config.toml")
	cfg.Paths.StateDir = filepath.Join(dir, "state")
	cfg.ScreenshotPath = filepath.Join(dir, "shots")
	cfg.IPC.Port = port
	if err := config.Save(cfg, cfg.Paths.ConfigPath); err != nil {
		t.Fatalf("save: %v", err)
	}
	return cfg
}

// startPeer runs an IPC server standing in for an already running instance.
func startPeer(t *testing.T) (port int, got chan ipc.Action) {
	t.Helper()
	srv, err := ipc.Listen("127.0.0.1:0", logging.NewTestLogger())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	got = make(chan ipc.Action, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx, func(_ context.Context, a ipc.Action) { got <- a })
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	_, p, _ := net.SplitHostPort(srv.Addr())
	port, _ = strconv.Atoi(p)
	return port, got
}

func expectOne(t *testing.T, got chan ipc.Action, want ipc.Action) {
	t.Helper()
	select {
	case a := <-got:
		if a != want {
			t.Fatalf("peer got %q want %q", a, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("peer received nothing")
	}
	select {
	case a := <-got:
		t.Fatalf("peer got a second request %q", a)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSecondLaunchHandsOff(t *testing.T) {
	port, got := startPeer(t)
	fb := &fakeBackend{}
	err := Run(context.Background(), testConfig(t, port), logging.NewTestLogger(), Options{
		NoTray:    true,
		Guard:     peer(true),
		Backend:   fb,
		ShowError: func(string, string) { t.Errorf("unexpected dialog") },
	})
	if err != nil {
		t.Fatalf("handoff should succeed: %v", err)
	}
	expectOne(t, got, ipc.ActionReopenSettings)
	if len(fb.keys()) != 0 {
		t.Fatalf("second launch registered hotkeys: %v", fb.keys())
	}
}

func TestHandoffFailureShowsDialog(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dialogs := 0
	err := Run(ctx, testConfig(t, freePort(t)), logging.NewTestLogger(), Options{
		NoTray:    true,
		Guard:     peer(true),
		Backend:   &fakeBackend{},
		ShowError: func(string, string) { dialogs++ },
	})
	if !errors.Is(err, ErrHandoff) {
		t.Fatalf("expected ErrHandoff, got %v", err)
	}
	if dialogs != 1 {
		t.Fatalf("dialogs=%d want 1", dialogs)
	}
}

func TestPeerWithoutListenerBecomesPrimary(t *testing.T) {
	port := freePort(t)
	cfg := testConfig(t, port)
	fb := &fakeBackend{}
	done := make(chan error, 1)
	go func() {
		done <- Run(context.Background(), cfg, logging.NewTestLogger(), Options{
			NoTray:    true,
			Guard:     peer(true),
			Backend:   fb,
			Capture:   capture.Deps{Screen: stubScreen{}, Clipboard: failing{}, Notifier: failing{}, Browser: failing{}},
			OpenFile:  func(string) error { return nil },
			ShowError: func(string, string) { t.Errorf("unexpected dialog") },
		})
	}()
	waitFor(t, "hotkeys", func() bool { return len(fb.keys()) == 2 })

	if err := ipc.Send(context.Background(), cfg.IPCAddr(), ipc.ActionQuit); err != nil {
		t.Fatalf("quit: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("run did not return after quit")
	}
}

func TestPortTakenFallsBackToHandoff(t *testing.T) {
	port, got := startPeer(t)
	err := Run(context.Background(), testConfig(t, port), logging.NewTestLogger(), Options{
		NoTray:  true,
		Guard:   peer(false),
		Backend: &fakeBackend{},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	expectOne(t, got, ipc.ActionReopenSettings)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestPrimaryInstanceLifecycle(t *testing.T) {
	port := freePort(t)
	cfg := testConfig(t, port)
	fb := &fakeBackend{}
	var opened []string
	var mu sync.Mutex
	captured := make(chan string, 4)

	done := make(chan error, 1)
	go func() {
		done <- Run(context.Background(), cfg, logging.NewTestLogger(), Options{
			NoTray:  true,
			Guard:   peer(false),
			Backend: fb,
			Capture: capture.Deps{
				Screen:    stubScreen{},
				Clipboard: failing{},
				Notifier:  failing{},
				Browser:   failing{},
				OnCapture: func(path string, err error) {
					if err == nil {
						captured <- path
					}
				},
			},
			OpenFile: func(p string) error {
				mu.Lock()
				defer mu.Unlock()
				opened = append(opened, p)
				return nil
			},
		})
	}()

	waitFor(t, "hotkey registration", func() bool { return len(fb.keys()) == 2 })
	addr := cfg.IPCAddr()

	if !fb.press("f10") {
		t.Fatalf("f10 not registered")
	}
	select {
	case p := <-captured:
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("capture file: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("hotkey did not capture")
	}

	if err := ipc.Send(context.Background(), addr, ipc.ActionReopenSettings); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, "settings reopen", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(opened) == 1 && opened[0] == cfg.Paths.ConfigPath
	})

	if err := ipc.Send(context.Background(), addr, ipc.ActionQuit); err != nil {
		t.Fatalf("send quit: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not return after QUIT")
	}
	if len(fb.keys()) != 0 {
		t.Fatalf("hotkeys still registered after quit: %v", fb.keys())
	}
	if ok, _ := ipc.Notify(context.Background(), addr, ipc.ActionCapture); ok {
		t.Fatalf("ipc still listening after quit")
	}
}

func TestSettingsEditReRegisters(t *testing.T) {
	port := freePort(t)
	cfg := testConfig(t, port)
	fb := &fakeBackend{}
	done := make(chan error, 1)
	go func() {
		done <- Run(context.Background(), cfg, logging.NewTestLogger(), Options{
			NoTray:  true,
			Guard:   peer(false),
			Backend: fb,
			Capture: capture.Deps{Screen: stubScreen{}, Browser: failing{}},
		})
	}()
	waitFor(t, "hotkey registration", func() bool { return len(fb.keys()) == 2 })

	edited := cfg.Clone()
	edited.ScreenshotKey = "ctrl+shift+s"
	if err := config.Save(edited, cfg.Paths.ConfigPath); err != nil {
		t.Fatalf("save: %v", err)
	}
	waitFor(t, "rebind from file", func() bool {
		for _, k := range fb.keys() {
			if k == "ctrl+shift+s" {
				return true
			}
		}
		return false
	})

	if err := ipc.Send(context.Background(), cfg.IPCAddr(), ipc.ActionQuit); err != nil {
		t.Fatalf("quit: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	cfg := testConfig(t, freePort(t))
	a := newApp(config.NewStore(cfg), logging.NewTestLogger(), Options{})
	a.metrics.observeCapture(nil)
	a.metrics.observeCapture(errors.New("boom"))
	a.metrics.observePass(hotkey.PassResult{Registered: 1, Failed: 1})

	rec := httptest.NewRecorder()
	a.metricsHandler(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, line := range []string{
		"snapkey_captures_total 1",
		"snapkey_capture_errors_total 1",
		"snapkey_hotkey_passes_total 1",
		"snapkey_hotkey_register_errors_total 1",
	} {
		if !strings.Contains(body, line+"\n") {
			t.Fatalf("missing %q in:\n%s", line, body)
		}
	}
}
