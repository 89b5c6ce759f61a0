// Package desktop wraps the OS facilities snapkey needs: displays, the
// pointer, the clipboard, notifications, dialogs and the file browser.
package desktop

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/kbinani/screenshot"
	"github.com/skratchdot/open-golang/open"
	"github.com/sqweek/dialog"
	"golang.design/x/clipboard"
)

// ErrUnsupported is returned where the platform lacks a facility.
var ErrUnsupported = errors.New("not supported on this platform")

// Screen reads display geometry and pixels.
type Screen struct{}

// Displays returns the bounds of each active display in virtual-screen
// coordinates. Index 0 is the primary display.
func (Screen) Displays() ([]image.Rectangle, error) {
	n := screenshot.NumActiveDisplays()
	if n == 0 {
		return nil, errors.New("no active displays found")
	}
	out := make([]image.Rectangle, n)
	for i := range out {
		out[i] = screenshot.GetDisplayBounds(i)
	}
	return out, nil
}

// Capture grabs r.
func (Screen) Capture(r image.Rectangle) (*image.RGBA, error) {
	img, err := screenshot.CaptureRect(r)
	if err != nil {
		return nil, fmt.Errorf("capture %v: %w", r, err)
	}
	return img, nil
}

// Pointer returns the pointer position in virtual-screen coordinates.
func (Screen) Pointer() (image.Point, error) { return pointer() }

// Clipboard copies images to the system clipboard. The first write
// initializes the clipboard backend.
type Clipboard struct {
	once    sync.Once
	initErr error
	mu      sync.Mutex
}

// WriteImage places PNG data on the clipboard.
func (c *Clipboard) WriteImage(pngData []byte) error {
	c.once.Do(func() { c.initErr = clipboard.Init() })
	if c.initErr != nil {
		return fmt.Errorf("clipboard init: %w", c.initErr)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	clipboard.Write(clipboard.FmtImage, pngData)
	return nil
}

// Browser opens files and folders with the desktop's default handler.
type Browser struct{}

func (Browser) Open(path string) error {
	if err := open.Run(path); err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	return nil
}

// ShowError shows a blocking error dialog.
func ShowError(title, msg string) {
	dialog.Message("%s", msg).Title(title).Error()
}
