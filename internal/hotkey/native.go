//go:build darwin || linux || windows

package hotkey

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.design/x/hotkey"
)

var nativeKeys = map[string]hotkey.Key{
	"a": hotkey.KeyA, "b": hotkey.KeyB, "c": hotkey.KeyC, "d": hotkey.KeyD,
	"e": hotkey.KeyE, "f": hotkey.KeyF, "g": hotkey.KeyG, "h": hotkey.KeyH,
	"i": hotkey.KeyI, "j": hotkey.KeyJ, "k": hotkey.KeyK, "l": hotkey.KeyL,
	"m": hotkey.KeyM, "n": hotkey.KeyN, "o": hotkey.KeyO, "p": hotkey.KeyP,
	"q": hotkey.KeyQ, "r": hotkey.KeyR, "s": hotkey.KeyS, "t": hotkey.KeyT,
	"u": hotkey.KeyU, "v": hotkey.KeyV, "w": hotkey.KeyW, "x": hotkey.KeyX,
	"y": hotkey.KeyY, "z": hotkey.KeyZ,
	"0": hotkey.Key0, "1": hotkey.Key1, "2": hotkey.Key2, "3": hotkey.Key3,
	"4": hotkey.Key4, "5": hotkey.Key5, "6": hotkey.Key6, "7": hotkey.Key7,
	"8": hotkey.Key8, "9": hotkey.Key9,
	"f1": hotkey.KeyF1, "f2": hotkey.KeyF2, "f3": hotkey.KeyF3, "f4": hotkey.KeyF4,
	"f5": hotkey.KeyF5, "f6": hotkey.KeyF6, "f7": hotkey.KeyF7, "f8": hotkey.KeyF8,
	"f9": hotkey.KeyF9, "f10": hotkey.KeyF10, "f11": hotkey.KeyF11, "f12": hotkey.KeyF12,
	"f13": hotkey.KeyF13, "f14": hotkey.KeyF14, "f15": hotkey.KeyF15, "f16": hotkey.KeyF16,
	"f17": hotkey.KeyF17, "f18": hotkey.KeyF18, "f19": hotkey.KeyF19, "f20": hotkey.KeyF20,
	"space":  hotkey.KeySpace,
	"enter":  hotkey.KeyReturn,
	"esc":    hotkey.KeyEscape,
	"tab":    hotkey.KeyTab,
	"delete": hotkey.KeyDelete,
	"left":   hotkey.KeyLeft,
	"right":  hotkey.KeyRight,
	"up":     hotkey.KeyUp,
	"down":   hotkey.KeyDown,
}

type nativeBinding struct {
	hk   *hotkey.Hotkey
	stop chan struct{}
	done chan struct{}
}

// NativeBackend registers system-wide hotkeys through the OS hotkey API.
type NativeBackend struct {
	logger *logrus.Logger

	mu       sync.Mutex
	bindings map[string]*nativeBinding
}

// NewNativeBackend returns a backend with no registrations.
func NewNativeBackend(logger *logrus.Logger) *NativeBackend {
	return &NativeBackend{logger: logger, bindings: map[string]*nativeBinding{}}
}

func (b *NativeBackend) Name() string { return BackendNative }

// Register binds k and runs callback on every key-down.
func (b *NativeBackend) Register(k Key, callback func()) error {
	code, ok := nativeKeys[k.Name]
	if !ok {
		return fmt.Errorf("%w: %q has no native code", ErrUnknownKey, k.Name)
	}
	mods := make([]hotkey.Modifier, 0, len(k.Mods))
	for _, m := range k.Mods {
		nm, ok := modifierMap[m]
		if !ok {
			return fmt.Errorf("%w: modifier %s unsupported here", ErrUnknownKey, m)
		}
		mods = append(mods, nm)
	}

	id := k.String()
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, dup := b.bindings[id]; dup {
		return fmt.Errorf("hotkey %s already registered", id)
	}
	hk := hotkey.New(mods, code)
	if err := hk.Register(); err != nil {
		return fmt.Errorf("register %s: %w", id, err)
	}
	nb := &nativeBinding{hk: hk, stop: make(chan struct{}), done: make(chan struct{})}
	b.bindings[id] = nb
	go b.loop(id, nb, callback)
	return nil
}

func (b *NativeBackend) loop(id string, nb *nativeBinding, callback func()) {
	defer close(nb.done)
	keydown := nb.hk.Keydown()
	for {
		select {
		case <-nb.stop:
			return
		case _, ok := <-keydown:
			if !ok {
				return
			}
			b.logger.Debugf("hotkey: %s pressed", id)
			callback()
		}
	}
}

// UnregisterAll releases every binding. Errors are collected and the rest
// are still released.
func (b *NativeBackend) UnregisterAll() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var failed []string
	for id, nb := range b.bindings {
		close(nb.stop)
		if err := nb.hk.Unregister(); err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", id, err))
		}
		delete(b.bindings, id)
	}
	if len(failed) > 0 {
		return fmt.Errorf("unregister: %s", strings.Join(failed, "; "))
	}
	return nil
}
