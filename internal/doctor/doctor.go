package doctor

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"snapkey/internal/config"
	"snapkey/internal/desktop"
	"snapkey/internal/hotkey"
	"snapkey/internal/instance"
	"snapkey/internal/ipc"
)

// Result represents a diagnostic check.
type Result struct {
	Name   string
	Pass   bool
	Detail string
}

// Displays lists the active displays.
type Displays interface {
	Displays() ([]image.Rectangle, error)
}

// Run executes doctor checks. loadErr is the error config.Load returned.
func Run(ctx context.Context, cfg *config.Config, loadErr error) []Result {
	return run(ctx, cfg, loadErr, desktop.Screen{})
}

func run(ctx context.Context, cfg *config.Config, loadErr error, screen Displays) []Result {
	results := []Result{checkConfig(cfg.Paths.ConfigPath, loadErr)}
	for _, a := range hotkey.Actions() {
		results = append(results, checkKey(string(a), hotkey.KeyFor(cfg, a)))
	}
	results = append(results,
		checkWritable("screenshot_path", config.ExpandPath(cfg.ScreenshotPath)),
		checkWritable("logs_path", config.ExpandPath(cfg.LogsPath)),
		checkIPC(ctx, cfg),
		checkDisplays(screen),
	)
	return results
}

func checkConfig(path string, loadErr error) Result {
	label := "config"
	if loadErr != nil {
		return Result{Name: label, Pass: false, Detail: loadErr.Error()}
	}
	if _, err := os.Stat(path); err != nil {
		return Result{Name: label, Pass: false, Detail: err.Error()}
	}
	return Result{Name: label, Pass: true, Detail: path}
}

func checkKey(action, key string) Result {
	label := "key " + action
	k, err := hotkey.ParseKey(key)
	if err != nil {
		return Result{Name: label, Pass: false, Detail: err.Error()}
	}
	return Result{Name: label, Pass: true, Detail: k.String()}
}

// checkWritable creates dir if needed and writes a probe file into it.
func checkWritable(label, dir string) Result {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Result{Name: label, Pass: false, Detail: err.Error()}
	}
	f, err := os.CreateTemp(dir, ".snapkey-doctor-*")
	if err != nil {
		return Result{Name: label, Pass: false, Detail: "not writable: " + err.Error()}
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	return Result{Name: label, Pass: true, Detail: dir}
}

// checkIPC passes when the port is free or owned by a live snapkey.
func checkIPC(ctx context.Context, cfg *config.Config) Result {
	label := "ipc port"
	addr := cfg.IPCAddr()
	running := instance.Held(cfg.PIDPath())
	srv, err := ipc.Listen(addr, nullLogger())
	switch {
	case err == nil:
		_ = srv.Close()
		if running {
			return Result{Name: label, Pass: false, Detail: addr + " is free but the pid file is locked; instance is not listening"}
		}
		return Result{Name: label, Pass: true, Detail: addr + " free"}
	case errors.Is(err, ipc.ErrAddrInUse):
		if running && ipc.Probe(ctx, addr) {
			return Result{Name: label, Pass: true, Detail: addr + " owned by the running instance"}
		}
		return Result{Name: label, Pass: false, Detail: addr + " taken by another program; set [ipc] port"}
	default:
		return Result{Name: label, Pass: false, Detail: err.Error()}
	}
}

func checkDisplays(screen Displays) Result {
	label := "displays"
	ds, err := screen.Displays()
	if err != nil {
		return Result{Name: label, Pass: false, Detail: err.Error()}
	}
	if len(ds) == 0 {
		return Result{Name: label, Pass: false, Detail: "no active displays"}
	}
	return Result{Name: label, Pass: true, Detail: fmt.Sprintf("%d active, primary %dx%d", len(ds), ds[0].Dx(), ds[0].Dy())}
}

func nullLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
