package control

import (
	"bytes"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"snapkey/internal/config"

	"github.com/spf13/cobra"
)

func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func tempConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg, _ := config.Default()
	cfg.Paths.StateDir = filepath.Join(dir, "state")
	cfg.LogsPath = filepath.Join(dir, "logs")
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	cfg.IPC.Port = ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	path := filepath.Join(dir, "config.toml")
	if err := config.Save(cfg, path); err != nil {
		t.Fatalf("save: %v", err)
	}
	return path
}

func TestBindSavesNormalizedKey(t *testing.T) {
	path := tempConfig(t)
	out, err := execute(t, NewBindCmd(&path), "capture", "Shift+Ctrl+S")
	if err != nil {
		t.Fatalf("bind: %v (%s)", err, out)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ScreenshotKey != "ctrl+shift+s" || cfg.OpenFolderKey != config.DefaultOpenFolderKey {
		t.Fatalf("keys %q / %q", cfg.ScreenshotKey, cfg.OpenFolderKey)
	}
}

func TestBindRejectsBadInput(t *testing.T) {
	path := tempConfig(t)
	before, _ := os.ReadFile(path)
	if _, err := execute(t, NewBindCmd(&path), "quit", "f1"); err == nil {
		t.Fatalf("unknown action accepted")
	}
	if _, err := execute(t, NewBindCmd(&path), "capture", "hyper+q"); err == nil {
		t.Fatalf("unknown key accepted")
	}
	after, _ := os.ReadFile(path)
	if !bytes.Equal(before, after) {
		t.Fatalf("config changed on rejected bind")
	}
}

func TestBindRefusesMalformedConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	bad := []byte("screenshot_key = [unterminated")
	if err := os.WriteFile(path, bad, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := execute(t, NewBindCmd(&path), "capture", "f8"); err == nil {
		t.Fatalf("bind over a malformed file should fail")
	}
	got, _ := os.ReadFile(path)
	if !bytes.Equal(got, bad) {
		t.Fatalf("malformed file was rewritten")
	}
}

func TestStatusJSONWhenStopped(t *testing.T) {
	path := tempConfig(t)
	out, err := execute(t, NewStatusCmd(&path), "--json")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var st Status
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if st.Running || st.Listening {
		t.Fatalf("nothing should be running: %+v", st)
	}
	if st.Bindings["capture"] != "f10" || st.Bindings["open-folder"] != "f9" {
		t.Fatalf("bindings %v", st.Bindings)
	}
}

func TestActionWithoutInstanceFails(t *testing.T) {
	path := tempConfig(t)
	for _, cmd := range ActionCmds(&path) {
		if _, err := execute(t, cmd); err == nil || !strings.Contains(err.Error(), "no instance listening") {
			t.Fatalf("%s: expected not-listening error, got %v", cmd.Name(), err)
		}
	}
}

func TestTailFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "latest.log")
	if err := os.WriteFile(path, []byte("one\ntwo\n\nthree\nfour\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	var buf bytes.Buffer
	if err := tailFile(&buf, path, 2); err != nil {
		t.Fatalf("tail: %v", err)
	}
	if buf.String() != "three\nfour\n" {
		t.Fatalf("tail output %q", buf.String())
	}
}

func TestConfigPrintsMergedDocument(t *testing.T) {
	path := tempConfig(t)
	out, err := execute(t, NewConfigCmd(&path))
	if err != nil {
		t.Fatalf("config: %v", err)
	}
	if !strings.Contains(out, "screenshot_key") || !strings.Contains(out, "f10") {
		t.Fatalf("merged document missing screenshot_key:\n%s", out)
	}
	out, _ = execute(t, NewConfigCmd(&path), "--path")
	if strings.TrimSpace(out) != path {
		t.Fatalf("--path printed %q", out)
	}
}
