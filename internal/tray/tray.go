// Package tray shows the notification-area icon and its menu.
package tray

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/getlantern/systray"
	"github.com/sirupsen/logrus"

	"snapkey/internal/hotkey"
)

const labelRefresh = 2 * time.Second

// Controller is what the menu drives.
type Controller interface {
	CaptureNow()
	OpenFolderNow()
	ReopenSettings() error
	Quit()
	Bindings() map[hotkey.Action]string
}

// Run blocks in the tray loop on the calling goroutine, which must be the
// main one. ready runs once the loop is up. The loop ends when ctx is done.
func Run(ctx context.Context, c Controller, ready func(), logger *logrus.Logger) error {
	systray.Run(func() {
		onReady(ctx, c, logger)
		if ready != nil {
			ready()
		}
	}, func() {
		logger.Debug("tray: exited")
	})
	return nil
}

func onReady(ctx context.Context, c Controller, logger *logrus.Logger) {
	systray.SetIcon(Icon())
	systray.SetTitle("snapkey")
	systray.SetTooltip("snapkey - screenshot hotkeys")

	b := c.Bindings()
	mCapture := systray.AddMenuItem(Label("Capture screen", b[hotkey.ActionCapture]), "Save a screenshot of the display under the pointer")
	mFolder := systray.AddMenuItem(Label("Open screenshots folder", b[hotkey.ActionOpenFolder]), "Open the folder screenshots are saved to")
	systray.AddSeparator()
	mSettings := systray.AddMenuItem("Settings...", "Edit the settings file")
	mQuit := systray.AddMenuItem("Quit", "Quit snapkey")

	go func() {
		ticker := time.NewTicker(labelRefresh)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				systray.Quit()
				return
			case <-ticker.C:
				b := c.Bindings()
				mCapture.SetTitle(Label("Capture screen", b[hotkey.ActionCapture]))
				mFolder.SetTitle(Label("Open screenshots folder", b[hotkey.ActionOpenFolder]))
			case <-mCapture.ClickedCh:
				c.CaptureNow()
			case <-mFolder.ClickedCh:
				c.OpenFolderNow()
			case <-mSettings.ClickedCh:
				if err := c.ReopenSettings(); err != nil {
					logger.Errorf("tray: settings: %v", err)
				}
			case <-mQuit.ClickedCh:
				logger.Info("tray: quit requested")
				c.Quit()
			}
		}
	}()
}

// Label renders a menu entry with its key, e.g. "Capture screen (F10)".
func Label(title, key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return title
	}
	parts := strings.Split(key, "+")
	for i, p := range parts {
		if len(p) > 0 {
			parts[i] = strings.ToUpper(p[:1]) + p[1:]
		}
	}
	return fmt.Sprintf("%s (%s)", title, strings.Join(parts, "+"))
}
