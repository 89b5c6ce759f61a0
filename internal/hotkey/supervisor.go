// Package hotkey owns the global hotkey registrations and keeps them alive.
package hotkey

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"snapkey/internal/config"
)

// Backend names accepted by hotkeys.backend.
const (
	BackendNative = "native"
	BackendHook   = "hook"
)

// Backend is a source of global key presses.
type Backend interface {
	Name() string
	Register(k Key, callback func()) error
	UnregisterAll() error
}

// NewBackend picks a backend by name.
func NewBackend(name string, logger *logrus.Logger) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", BackendNative:
		return NewNativeBackend(logger), nil
	case BackendHook:
		return NewHookBackend(logger), nil
	}
	return nil, fmt.Errorf("unknown hotkey backend %q (want %s or %s)", name, BackendNative, BackendHook)
}

// Action is a bindable operation.
type Action string

const (
	ActionCapture    Action = "capture"
	ActionOpenFolder Action = "open-folder"
)

// Actions lists bindable actions in registration order.
func Actions() []Action { return []Action{ActionCapture, ActionOpenFolder} }

// ParseAction accepts the action names used on the command line.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "capture", "screenshot":
		return ActionCapture, nil
	case "open-folder", "open_folder", "folder":
		return ActionOpenFolder, nil
	}
	return "", fmt.Errorf("unknown action %q (want capture or open-folder)", s)
}

// KeyFor returns the identifier bound to a in cfg.
func KeyFor(cfg *config.Config, a Action) string {
	switch a {
	case ActionCapture:
		return cfg.ScreenshotKey
	case ActionOpenFolder:
		return cfg.OpenFolderKey
	}
	return ""
}

// SetKey binds key to a in cfg.
func SetKey(cfg *config.Config, a Action, key string) {
	switch a {
	case ActionCapture:
		cfg.ScreenshotKey = key
	case ActionOpenFolder:
		cfg.OpenFolderKey = key
	}
}

// Settings is the part of config.Store the supervisor uses.
type Settings interface {
	Current() *config.Config
	Update(fn func(*config.Config)) (*config.Config, error)
}

// State of the supervisor.
type State int32

const (
	StateStopped State = iota
	StateRegistering
	StateActive
	StateRefreshing
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRegistering:
		return "registering"
	case StateActive:
		return "active"
	case StateRefreshing:
		return "refreshing"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// PassResult summarizes one registration pass.
type PassResult struct {
	Reason     string
	Registered int
	Failed     int
}

// Options tunes the watchdog. Zero values use the config defaults.
type Options struct {
	Poll    time.Duration
	Refresh time.Duration
	// OnPass is called after every registration pass, under the pass lock.
	OnPass func(PassResult)
}

// Supervisor registers one hotkey per action and re-registers them on a
// timer, because some desktops silently drop global registrations.
type Supervisor struct {
	backend  Backend
	settings Settings
	handlers map[Action]func()
	logger   *logrus.Logger
	opts     Options

	mu    sync.Mutex // held for a whole registration pass
	state atomic.Int32

	life   sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	passes atomic.Int64
}

// New builds a stopped supervisor. handlers maps each action to the callback
// a key press should run; callbacks should return quickly.
func New(backend Backend, settings Settings, handlers map[Action]func(), logger *logrus.Logger, opts Options) *Supervisor {
	cfg := settings.Current()
	if opts.Poll <= 0 {
		opts.Poll = durationOf(cfg.Watchdog.PollSec, config.DefaultWatchdogPollSec)
	}
	if opts.Refresh <= 0 {
		opts.Refresh = durationOf(cfg.Watchdog.RefreshSec, config.DefaultWatchdogRefreshSec)
	}
	return &Supervisor{
		backend:  backend,
		settings: settings,
		handlers: handlers,
		logger:   logger,
		opts:     opts,
	}
}

func durationOf(sec, def float64) time.Duration {
	if sec <= 0 {
		sec = def
	}
	return time.Duration(sec * float64(time.Second))
}

// State returns the current state.
func (s *Supervisor) State() State { return State(s.state.Load()) }

// Passes returns how many registration passes have completed.
func (s *Supervisor) Passes() int64 { return s.passes.Load() }

// Backend returns the backend name.
func (s *Supervisor) Backend() string { return s.backend.Name() }

// Start runs the first registration pass and launches the watchdog.
// Calling Start on a running supervisor does nothing.
func (s *Supervisor) Start(ctx context.Context) error {
	s.life.Lock()
	defer s.life.Unlock()
	if s.cancel != nil {
		return nil
	}
	s.state.Store(int32(StateRegistering))
	s.pass("start")

	wctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.watchdog(wctx, s.done)
	s.logger.Infof("hotkeys: watchdog every %s, refresh after %s (%s backend)", s.opts.Poll, s.opts.Refresh, s.backend.Name())
	return nil
}

// Stop ends the watchdog and releases every registration. It is safe to call
// before Start and more than once.
func (s *Supervisor) Stop() {
	s.life.Lock()
	defer s.life.Unlock()
	if s.cancel != nil {
		s.cancel()
		<-s.done
		s.cancel, s.done = nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.backend.UnregisterAll(); err != nil {
		s.logger.Warnf("hotkeys: %v", err)
	}
	s.state.Store(int32(StateStopped))
}

// Refresh runs an immediate registration pass. It does nothing when stopped.
func (s *Supervisor) Refresh(reason string) { s.pass(reason) }

// Rebind validates key, saves it as the binding for a and re-registers.
// A failed save is logged; the new binding is still applied in memory.
func (s *Supervisor) Rebind(a Action, key string) error {
	k, err := ParseKey(key)
	if err != nil {
		return err
	}
	if _, ok := s.handlers[a]; !ok {
		return fmt.Errorf("unknown action %q", a)
	}
	if _, err := s.settings.Update(func(c *config.Config) { SetKey(c, a, k.String()) }); err != nil {
		s.logger.Errorf("hotkeys: %v", err)
	}
	s.logger.Infof("hotkeys: %s bound to %s", a, k)
	s.Refresh("rebind")
	return nil
}

// Bindings reports the configured key per action.
func (s *Supervisor) Bindings() map[Action]string {
	cfg := s.settings.Current()
	out := make(map[Action]string, len(s.handlers))
	for _, a := range Actions() {
		out[a] = KeyFor(cfg, a)
	}
	return out
}

func (s *Supervisor) pass(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.State() {
	case StateStopped:
		return
	case StateActive:
		s.state.Store(int32(StateRefreshing))
	}
	if err := s.backend.UnregisterAll(); err != nil {
		s.logger.Warnf("hotkeys: %v", err)
	}

	res := PassResult{Reason: reason}
	cfg := s.settings.Current()
	for _, a := range Actions() {
		cb, ok := s.handlers[a]
		if !ok {
			continue
		}
		id := KeyFor(cfg, a)
		k, err := ParseKey(id)
		if err != nil {
			s.logger.Errorf("hotkeys: %s: %v", a, err)
			res.Failed++
			continue
		}
		if err := s.backend.Register(k, cb); err != nil {
			s.logger.Errorf("hotkeys: %s on %s: %v", a, k, err)
			res.Failed++
			continue
		}
		res.Registered++
	}
	s.passes.Add(1)
	s.state.Store(int32(StateActive))
	s.logger.Debugf("hotkeys: %s pass registered %d, failed %d", reason, res.Registered, res.Failed)
	if s.opts.OnPass != nil {
		s.opts.OnPass(res)
	}
}

func (s *Supervisor) watchdog(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.opts.Poll)
	defer ticker.Stop()
	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if now.Sub(last) < s.opts.Refresh {
				continue
			}
			s.pass("watchdog")
			last = time.Now()
		}
	}
}
