package hotkey

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownKey is returned for key identifiers snapkey cannot bind.
var ErrUnknownKey = errors.New("unknown key")

// Modifier is a platform-neutral modifier; each backend maps it.
type Modifier int

const (
	ModCtrl Modifier = iota + 1
	ModShift
	ModAlt
	ModSuper
)

func (m Modifier) String() string {
	switch m {
	case ModCtrl:
		return "ctrl"
	case ModShift:
		return "shift"
	case ModAlt:
		return "alt"
	case ModSuper:
		return "super"
	}
	return fmt.Sprintf("mod(%d)", int(m))
}

// Key is a parsed identifier such as "ctrl+shift+s" or "f10".
type Key struct {
	Mods []Modifier // sorted, no duplicates
	Name string     // normalized base key, e.g. "f10", "s", "space"
}

// String is the canonical identifier; ParseKey(k.String()) == k.
func (k Key) String() string {
	parts := make([]string, 0, len(k.Mods)+1)
	for _, m := range k.Mods {
		parts = append(parts, m.String())
	}
	return strings.Join(append(parts, k.Name), "+")
}

var modifierNames = map[string]Modifier{
	"ctrl":    ModCtrl,
	"control": ModCtrl,
	"shift":   ModShift,
	"alt":     ModAlt,
	"option":  ModAlt,
	"super":   ModSuper,
	"win":     ModSuper,
	"cmd":     ModSuper,
	"meta":    ModSuper,
}

var keyAliases = map[string]string{
	"return":   "enter",
	"escape":   "esc",
	"del":      "delete",
	"spacebar": "space",
}

// ParseKey parses a '+'-separated identifier. Modifiers come first and the
// last element is the base key. Matching is case-insensitive.
func ParseKey(id string) (Key, error) {
	raw := strings.ToLower(strings.TrimSpace(id))
	if raw == "" {
		return Key{}, fmt.Errorf("%w: empty identifier", ErrUnknownKey)
	}
	parts := strings.Split(raw, "+")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	name := parts[len(parts)-1]
	if alias, ok := keyAliases[name]; ok {
		name = alias
	}
	if !isBaseKey(name) {
		return Key{}, fmt.Errorf("%w: %q in %q", ErrUnknownKey, name, id)
	}
	seen := map[Modifier]bool{}
	var mods []Modifier
	for _, p := range parts[:len(parts)-1] {
		m, ok := modifierNames[p]
		if !ok {
			return Key{}, fmt.Errorf("%w: modifier %q in %q", ErrUnknownKey, p, id)
		}
		if !seen[m] {
			seen[m] = true
			mods = append(mods, m)
		}
	}
	sort.Slice(mods, func(i, j int) bool { return mods[i] < mods[j] })
	return Key{Mods: mods, Name: name}, nil
}

// BaseKeys lists every supported base key name.
func BaseKeys() []string {
	out := make([]string, 0, 64)
	for c := 'a'; c <= 'z'; c++ {
		out = append(out, string(c))
	}
	for c := '0'; c <= '9'; c++ {
		out = append(out, string(c))
	}
	for i := 1; i <= 20; i++ {
		out = append(out, fmt.Sprintf("f%d", i))
	}
	return append(out, "space", "enter", "esc", "tab", "delete", "left", "right", "up", "down")
}

var baseKeySet = func() map[string]bool {
	m := map[string]bool{}
	for _, k := range BaseKeys() {
		m[k] = true
	}
	return m
}()

func isBaseKey(name string) bool { return baseKeySet[name] }
