//go:build linux

package desktop

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	notifyDest   = "org.freedesktop.Notifications"
	notifyPath   = "/org/freedesktop/Notifications"
	notifyMethod = "org.freedesktop.Notifications.Notify"
	notifyMillis = int32(3000)
)

// Notifier posts desktop notifications over the session bus.
type Notifier struct {
	App string
}

func (n Notifier) Notify(title, body string) error {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return fmt.Errorf("session bus: %w", err)
	}
	defer conn.Close()
	obj := conn.Object(notifyDest, dbus.ObjectPath(notifyPath))
	call := obj.Call(notifyMethod, 0, n.App, uint32(0), "", title, body, []string{}, map[string]dbus.Variant{}, notifyMillis)
	if call.Err != nil {
		return fmt.Errorf("notify: %w", call.Err)
	}
	return nil
}
