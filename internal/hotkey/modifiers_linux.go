//go:build linux

package hotkey

import "golang.design/x/hotkey"

var modifierMap = map[Modifier]hotkey.Modifier{
	ModCtrl:  hotkey.ModCtrl,
	ModShift: hotkey.ModShift,
	ModAlt:   hotkey.Mod1, // Alt is Mod1 on X11
	ModSuper: hotkey.Mod4, // Super is Mod4 on X11
}
