// Package app runs the resident snapkey process: it decides whether this
// launch is the primary instance, then owns hotkeys, IPC and the tray.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"snapkey/internal/capture"
	"snapkey/internal/config"
	"snapkey/internal/desktop"
	"snapkey/internal/hook"
	"snapkey/internal/hotkey"
	"snapkey/internal/instance"
	"snapkey/internal/ipc"
)

const (
	actionQueueSize = 8
	hookQueueSize   = 16
)

// ErrHandoff means a running instance was detected but could not be told
// to reopen its settings.
var ErrHandoff = errors.New("could not reach the running instance")

// PeerChecker reports whether another process with name is running.
type PeerChecker interface {
	IsAlreadyRunning(ctx context.Context, name string) bool
}

// TrayFunc runs the tray loop until it exits. ready is called once the loop
// can service hotkey registration.
type TrayFunc func(ctx context.Context, c *App, ready func()) error

// Options controls Run. Zero values use the real desktop.
type Options struct {
	NoTray      bool
	ProcessName string
	Guard       PeerChecker
	Backend     hotkey.Backend
	Capture     capture.Deps
	Tray        TrayFunc
	// OpenFile opens the settings file for ReopenSettings.
	OpenFile  func(path string) error
	ShowError func(title, msg string)
	// RunLogger builds the logger used once this process owns the IPC
	// port. Until then Run logs to the logger it was given, so a second
	// launch never touches the primary's log file.
	RunLogger func() (*logrus.Logger, error)
}

type job struct {
	action hotkey.Action
	at     time.Time
}

// App is the running primary instance.
type App struct {
	store      *config.Store
	logger     *logrus.Logger
	opts       Options
	supervisor *hotkey.Supervisor
	dispatcher *capture.Dispatcher
	startedAt  time.Time

	hook   *hook.Runner
	hookCh chan hook.Job

	metrics metrics
	jobs    chan job
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Run starts snapkey with cfg. It returns nil after a graceful quit or a
// successful handoff to an already running instance.
func Run(ctx context.Context, cfg *config.Config, logger *logrus.Logger, opts Options) error {
	opts = withDefaults(opts, logger)
	addr := cfg.IPCAddr()

	if opts.Guard.IsAlreadyRunning(ctx, opts.ProcessName) {
		logger.Infof("another %s is running; forwarding to %s", opts.ProcessName, addr)
		if handled, err := handoff(ctx, addr, logger, opts); handled {
			return err
		}
		logger.Infof("nothing answered on %s; taking over as the primary instance", addr)
	}

	srv, err := ipc.Listen(addr, logger)
	if errors.Is(err, ipc.ErrAddrInUse) {
		logger.Infof("ipc port %s is taken; forwarding to its owner", addr)
		if handled, herr := handoff(ctx, addr, logger, opts); handled {
			return herr
		}
		return failHandoff(logger, opts, fmt.Errorf("%w: port %s is held but refuses connections", ipc.ErrNotListening, addr))
	}
	if err != nil {
		opts.ShowError("snapkey", err.Error())
		return err
	}
	defer srv.Close()

	if opts.RunLogger != nil {
		l, err := opts.RunLogger()
		if err != nil {
			logger.Warnf("run log: %v", err)
		} else {
			logger = l
			srv.SetLogger(l)
		}
	}

	pid, err := instance.AcquirePID(cfg.PIDPath())
	if err != nil {
		logger.Warnf("pid file %s: %v", cfg.PIDPath(), err)
	}
	defer func() {
		if err := pid.Release(); err != nil {
			logger.Warnf("release pid file: %v", err)
		}
	}()

	logger.Infof("snapkey primary instance (pid %d) on %s", os.Getpid(), srv.Addr())
	a := newApp(config.NewStore(cfg), logger, opts)
	return a.serve(ctx, srv)
}

// handoff asks the instance at addr to reopen its settings. It reports
// handled=false only when the connection was refused, so the caller may
// become the primary instance itself.
func handoff(ctx context.Context, addr string, logger *logrus.Logger, opts Options) (handled bool, err error) {
	ok, err := ipc.Notify(ctx, addr, ipc.ActionReopenSettings)
	if err != nil {
		return true, failHandoff(logger, opts, err)
	}
	if !ok {
		return false, nil
	}
	logger.Info("settings reopened in the running instance")
	return true, nil
}

func failHandoff(logger *logrus.Logger, opts Options, err error) error {
	logger.Errorf("handoff: %v", err)
	opts.ShowError("snapkey", "snapkey is already running but did not respond.\n\n"+err.Error())
	return fmt.Errorf("%w: %v", ErrHandoff, err)
}

func withDefaults(opts Options, logger *logrus.Logger) Options {
	if opts.ProcessName == "" {
		opts.ProcessName = instance.CurrentName()
	}
	if opts.Guard == nil {
		opts.Guard = instance.NewGuard(logger)
	}
	if opts.ShowError == nil {
		opts.ShowError = desktop.ShowError
	}
	if opts.OpenFile == nil {
		opts.OpenFile = desktop.Browser{}.Open
	}
	d := &opts.Capture
	if d.Screen == nil {
		d.Screen = desktop.Screen{}
	}
	if d.Clipboard == nil {
		d.Clipboard = &desktop.Clipboard{}
	}
	if d.Notifier == nil {
		d.Notifier = desktop.Notifier{App: "snapkey"}
	}
	if d.Browser == nil {
		d.Browser = desktop.Browser{}
	}
	return opts
}

func newApp(store *config.Store, logger *logrus.Logger, opts Options) *App {
	a := &App{
		store:     store,
		logger:    logger,
		opts:      opts,
		startedAt: time.Now(),
		jobs:      make(chan job, actionQueueSize),
		hook:      hook.NewRunner(store, logger),
		hookCh:    make(chan hook.Job, hookQueueSize),
	}
	deps := opts.Capture
	observe := deps.OnCapture
	deps.OnCapture = func(path string, err error) {
		a.metrics.observeCapture(err)
		if err == nil {
			a.queueHook(path)
		}
		if observe != nil {
			observe(path, err)
		}
	}
	a.dispatcher = capture.New(store, deps, logger)
	return a
}

func (a *App) serve(parent context.Context, srv *ipc.Server) error {
	cfg := a.store.Current()
	backend := a.opts.Backend
	if backend == nil {
		b, err := hotkey.NewBackend(cfg.Hotkeys.Backend, a.logger)
		if err != nil {
			a.logger.Errorf("%v; using %s", err, hotkey.BackendNative)
			b = hotkey.NewNativeBackend(a.logger)
		}
		backend = b
	}
	a.supervisor = hotkey.New(backend, a.store, map[hotkey.Action]func(){
		hotkey.ActionCapture:    func() { a.enqueue(hotkey.ActionCapture) },
		hotkey.ActionOpenFolder: func() { a.enqueue(hotkey.ActionOpenFolder) },
	}, a.logger, hotkey.Options{OnPass: a.metrics.observePass})

	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx, a.cancel = context.WithCancel(ctx)
	defer a.cancel()

	a.goLoop(func() { a.actionWorker(ctx) })
	a.goLoop(func() { a.hookWorker(ctx) })
	a.goLoop(func() {
		if err := srv.Serve(ctx, a.handleIPC); err != nil {
			a.logger.Errorf("ipc: %v", err)
		}
	})
	a.goLoop(func() {
		if err := config.Watch(ctx, a.store.Path(), a.logger, a.settingsChanged); err != nil {
			a.logger.Warnf("config watch: %v", err)
		}
	})
	if cfg.Metrics.Enabled {
		a.goLoop(func() { a.metricsServe(ctx, cfg.Metrics.Addr) })
	}

	start := func() {
		if err := a.supervisor.Start(ctx); err != nil {
			a.logger.Errorf("hotkeys: %v", err)
		}
	}
	var err error
	if a.opts.NoTray || a.opts.Tray == nil {
		runMain(func() {
			start()
			<-ctx.Done()
		})
	} else {
		err = a.opts.Tray(ctx, a, func() { go start() })
	}

	a.logger.Info("shutting down")
	a.cancel()
	a.supervisor.Stop()
	a.wg.Wait()
	return err
}

func (a *App) goLoop(fn func()) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		fn()
	}()
}

func (a *App) settingsChanged() {
	changed, err := a.store.Reload()
	if err != nil {
		a.logger.Errorf("settings: %v", err)
		return
	}
	if changed {
		a.logger.Info("settings changed on disk; re-registering hotkeys")
		a.supervisor.Refresh("settings")
	}
}

func (a *App) handleIPC(_ context.Context, act ipc.Action) {
	a.metrics.ipc.Add(1)
	switch act {
	case ipc.ActionReopenSettings:
		if err := a.ReopenSettings(); err != nil {
			a.logger.Errorf("reopen settings: %v", err)
		}
	case ipc.ActionCapture:
		a.CaptureNow()
	case ipc.ActionOpenFolder:
		a.OpenFolderNow()
	case ipc.ActionQuit:
		a.Quit()
	}
}

func (a *App) enqueue(act hotkey.Action) {
	select {
	case a.jobs <- job{action: act, at: time.Now()}:
	default:
		a.metrics.dropped.Add(1)
		a.logger.Warnf("action queue full, dropping %s", act)
	}
}

func (a *App) actionWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-a.jobs:
			a.logger.Debugf("%s queued %s ago", j.action, time.Since(j.at).Round(time.Millisecond))
			switch j.action {
			case hotkey.ActionCapture:
				_, _ = a.dispatcher.Capture(ctx)
			case hotkey.ActionOpenFolder:
				_ = a.dispatcher.OpenFolder(ctx)
			}
		}
	}
}

// CaptureNow queues a screenshot.
func (a *App) CaptureNow() { a.enqueue(hotkey.ActionCapture) }

// OpenFolderNow queues opening the screenshot folder.
func (a *App) OpenFolderNow() { a.enqueue(hotkey.ActionOpenFolder) }

// Rebind changes the key for action and re-registers hotkeys.
func (a *App) Rebind(action hotkey.Action, key string) error {
	return a.supervisor.Rebind(action, key)
}

// ReopenSettings opens the settings file in the default editor.
func (a *App) ReopenSettings() error {
	return a.opts.OpenFile(a.store.Path())
}

// Quit starts a graceful shutdown.
func (a *App) Quit() {
	if a.cancel != nil {
		a.cancel()
	}
}

// Bindings returns the configured key per action.
func (a *App) Bindings() map[hotkey.Action]string { return a.supervisor.Bindings() }

// Logger is the instance's run logger.
func (a *App) Logger() *logrus.Logger { return a.logger }

// Uptime is how long this instance has been running.
func (a *App) Uptime() time.Duration { return time.Since(a.startedAt) }
