package hotkey

import (
	"fmt"
	"sync"

	gohook "github.com/robotn/gohook"
	"github.com/sirupsen/logrus"
)

// The hook reports platform-neutral codes in Event.Keycode. They are looked
// up through gohook's own name table; each entry lists the names to try.
var modifierKeyNames = map[Modifier][]string{
	ModCtrl:  {"ctrl", "rctrl"},
	ModShift: {"shift", "rshift"},
	ModAlt:   {"alt", "ralt"},
	ModSuper: {"cmd", "rcmd"},
}

var hookKeyNames = map[string][]string{
	"enter":  {"enter", "return"},
	"esc":    {"esc", "escape"},
	"delete": {"delete", "del"},
}

func keyCode(name string) (uint16, bool) {
	names := hookKeyNames[name]
	if names == nil {
		names = []string{name}
	}
	for _, n := range names {
		if code, ok := gohook.Keycode[n]; ok {
			return code, true
		}
	}
	return 0, false
}

// modifierCodes returns every code that satisfies m, left variant first.
func modifierCodes(m Modifier) []uint16 {
	var out []uint16
	for _, n := range modifierKeyNames[m] {
		if code, ok := gohook.Keycode[n]; ok {
			out = append(out, code)
		}
	}
	return out
}

type chord struct {
	id       string
	key      uint16
	mods     [][]uint16
	callback func()
}

// chordMatcher tracks pressed keycodes and reports chords completed by a
// key-down.
type chordMatcher struct {
	pressed map[uint16]bool
	chords  map[string]chord
}

func newChordMatcher() *chordMatcher {
	return &chordMatcher{pressed: map[uint16]bool{}, chords: map[string]chord{}}
}

func (m *chordMatcher) add(k Key, callback func()) error {
	code, ok := keyCode(k.Name)
	if !ok {
		return fmt.Errorf("%w: %q has no hook keycode", ErrUnknownKey, k.Name)
	}
	id := k.String()
	if _, dup := m.chords[id]; dup {
		return fmt.Errorf("hotkey %s already registered", id)
	}
	c := chord{id: id, key: code, callback: callback}
	for _, mod := range k.Mods {
		codes := modifierCodes(mod)
		if len(codes) == 0 {
			return fmt.Errorf("%w: modifier %s has no hook keycode", ErrUnknownKey, mod)
		}
		c.mods = append(c.mods, codes)
	}
	m.chords[id] = c
	return nil
}

func (m *chordMatcher) clear() {
	m.chords = map[string]chord{}
	m.pressed = map[uint16]bool{}
}

func (m *chordMatcher) down(code uint16) []chord {
	repeat := m.pressed[code]
	m.pressed[code] = true
	if repeat {
		return nil
	}
	var fired []chord
	for _, c := range m.chords {
		if c.key == code && m.modsHeld(c.mods) {
			fired = append(fired, c)
		}
	}
	return fired
}

func (m *chordMatcher) up(code uint16) { delete(m.pressed, code) }

func (m *chordMatcher) modsHeld(mods [][]uint16) bool {
	for _, variants := range mods {
		held := false
		for _, v := range variants {
			if m.pressed[v] {
				held = true
				break
			}
		}
		if !held {
			return false
		}
	}
	return true
}

// HookBackend watches the global keyboard hook instead of registering
// hotkeys with the OS. Keys are not swallowed, so the focused app also sees
// them.
type HookBackend struct {
	logger *logrus.Logger

	mu      sync.Mutex
	matcher *chordMatcher
	stop    chan struct{}
	done    chan struct{}
}

func NewHookBackend(logger *logrus.Logger) *HookBackend {
	return &HookBackend{logger: logger, matcher: newChordMatcher()}
}

func (b *HookBackend) Name() string { return BackendHook }

// Register adds a chord and starts the hook loop if it is not running.
func (b *HookBackend) Register(k Key, callback func()) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.matcher.add(k, callback); err != nil {
		return err
	}
	if b.stop == nil {
		events := gohook.Start()
		if events == nil {
			b.matcher.clear()
			return fmt.Errorf("keyboard hook failed to start")
		}
		b.stop = make(chan struct{})
		b.done = make(chan struct{})
		go b.loop(events, b.stop, b.done)
	}
	return nil
}

func (b *HookBackend) loop(events chan gohook.Event, stop, done chan struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			b.logger.Errorf("hotkey hook loop panic: %v", r)
		}
	}()
	for {
		select {
		case <-stop:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			var fired []chord
			b.mu.Lock()
			switch ev.Kind {
			case gohook.KeyDown:
				fired = b.matcher.down(ev.Keycode)
			case gohook.KeyUp:
				b.matcher.up(ev.Keycode)
			}
			b.mu.Unlock()
			for _, c := range fired {
				b.logger.Debugf("hotkey: %s pressed", c.id)
				c.callback()
			}
		}
	}
}

// UnregisterAll drops every chord and ends the hook.
func (b *HookBackend) UnregisterAll() error {
	b.mu.Lock()
	b.matcher.clear()
	stop, done := b.stop, b.done
	b.stop, b.done = nil, nil
	b.mu.Unlock()
	if stop == nil {
		return nil
	}
	close(stop)
	gohook.End()
	<-done
	return nil
}
