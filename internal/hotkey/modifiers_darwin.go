//go:build darwin

package hotkey

import "golang.design/x/hotkey"

var modifierMap = map[Modifier]hotkey.Modifier{
	ModCtrl:  hotkey.ModCtrl,
	ModShift: hotkey.ModShift,
	ModAlt:   hotkey.ModOption,
	ModSuper: hotkey.ModCmd,
}
