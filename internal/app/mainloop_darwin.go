//go:build darwin

package app

import "golang.design/x/hotkey/mainthread"

// Cocoa delivers hotkeys on the main thread, which must run an event loop
// when there is no tray to provide one.
func runMain(fn func()) { mainthread.Init(fn) }
