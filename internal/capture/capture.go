// Package capture performs the screenshot and open-folder actions.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"snapkey/internal/config"
)

const (
	filePrefix   = "screenshot_"
	timeLayout   = "2006-01-02_15-04-05"
	jpegQuality  = 90
	notifyTitle  = "Screenshot saved"
	maxSameStamp = 100
)

// Screen enumerates displays, reads the pointer and grabs pixels.
type Screen interface {
	Displays() ([]image.Rectangle, error)
	Pointer() (image.Point, error)
	Capture(r image.Rectangle) (*image.RGBA, error)
}

type Clipboard interface {
	WriteImage(pngData []byte) error
}

type Notifier interface {
	Notify(title, body string) error
}

// Browser opens a path with the desktop's default handler.
type Browser interface {
	Open(path string) error
}

// Settings supplies the current configuration snapshot.
type Settings interface {
	Current() *config.Config
}

// Deps are the collaborators a Dispatcher uses. Nil Clipboard or Notifier
// disables that side effect; Now and Run default to the real clock and
// os/exec.
type Deps struct {
	Screen    Screen
	Clipboard Clipboard
	Notifier  Notifier
	Browser   Browser
	Now       func() time.Time
	Run       Runner
	// OnCapture observes every finished capture.
	OnCapture func(path string, err error)
}

// Dispatcher runs one action at a time.
type Dispatcher struct {
	settings Settings
	deps     Deps
	logger   *logrus.Logger

	mu sync.Mutex
}

func New(settings Settings, deps Deps, logger *logrus.Logger) *Dispatcher {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Run == nil {
		deps.Run = execRunner
	}
	return &Dispatcher{settings: settings, deps: deps, logger: logger}
}

// Capture saves one screenshot and returns its path. The file is the only
// required outcome; clipboard and notification failures are logged.
func (d *Dispatcher) Capture(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	path, err := d.capture(ctx)
	if err != nil {
		d.logger.Errorf("capture: %v", err)
	}
	if d.deps.OnCapture != nil {
		d.deps.OnCapture(path, err)
	}
	return path, err
}

func (d *Dispatcher) capture(ctx context.Context) (string, error) {
	cfg := d.settings.Current()
	rect, err := d.target(ctx, cfg)
	if err != nil {
		return "", err
	}
	img, err := d.deps.Screen.Capture(rect)
	if err != nil {
		return "", err
	}

	dir := config.ExpandPath(cfg.ScreenshotPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	format := normalizeFormat(cfg.Capture.Format)
	path, err := uniquePath(dir, d.deps.Now(), format)
	if err != nil {
		return "", err
	}
	data, err := encode(img, format)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	d.logger.Infof("capture: saved %s (%dx%d)", path, rect.Dx(), rect.Dy())

	if cfg.Capture.Clipboard && d.deps.Clipboard != nil {
		d.copyToClipboard(img, data, format)
	}
	if cfg.Capture.Notify && d.deps.Notifier != nil {
		if err := d.deps.Notifier.Notify(notifyTitle, filepath.Base(path)); err != nil {
			d.logger.Warnf("capture: notification: %v", err)
		}
	}
	return path, nil
}

// target picks the rectangle to grab: the region command's selection when
// configured, otherwise the display under the pointer.
func (d *Dispatcher) target(ctx context.Context, cfg *config.Config) (image.Rectangle, error) {
	if cmd := strings.TrimSpace(cfg.Capture.RegionCommand); cmd != "" {
		r, ok, err := selectRegion(ctx, d.deps.Run, cmd)
		if err != nil || ok {
			return r, err
		}
		d.logger.Debug("capture: region command printed nothing, grabbing the display")
	}
	displays, err := d.deps.Screen.Displays()
	if err != nil {
		return image.Rectangle{}, err
	}
	if len(displays) == 0 {
		return image.Rectangle{}, errors.New("no active displays found")
	}
	pt, err := d.deps.Screen.Pointer()
	if err != nil {
		d.logger.Debugf("capture: pointer unavailable, using primary display: %v", err)
		return displays[0], nil
	}
	return displays[PickDisplay(displays, pt)], nil
}

// PickDisplay returns the index of the display containing pt, or 0.
func PickDisplay(displays []image.Rectangle, pt image.Point) int {
	for i, r := range displays {
		if pt.In(r) {
			return i
		}
	}
	return 0
}

func (d *Dispatcher) copyToClipboard(img image.Image, data []byte, format string) {
	if format != "png" {
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			d.logger.Warnf("capture: clipboard encode: %v", err)
			return
		}
		data = buf.Bytes()
	}
	if err := d.deps.Clipboard.WriteImage(data); err != nil {
		d.logger.Warnf("capture: clipboard: %v", err)
	}
}

// OpenFolder creates the screenshot directory if needed and opens it.
func (d *Dispatcher) OpenFolder(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	dir := config.ExpandPath(d.settings.Current().ScreenshotPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	if err := d.deps.Browser.Open(dir); err != nil {
		d.logger.Errorf("open folder: %v", err)
		return err
	}
	return nil
}

// FileName is the name a capture taken at t gets.
func FileName(t time.Time, format string) string {
	return filePrefix + t.Format(timeLayout) + "." + extension(format)
}

func uniquePath(dir string, t time.Time, format string) (string, error) {
	path := filepath.Join(dir, FileName(t, format))
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return path, nil
	}
	base := strings.TrimSuffix(FileName(t, format), "."+extension(format))
	for i := 1; i < maxSameStamp; i++ {
		p := filepath.Join(dir, fmt.Sprintf("%s-%d.%s", base, i, extension(format)))
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			return p, nil
		}
	}
	return "", fmt.Errorf("too many captures at %s", t.Format(timeLayout))
}

func normalizeFormat(f string) string {
	switch strings.ToLower(strings.TrimSpace(f)) {
	case "jpg", "jpeg":
		return "jpeg"
	}
	return "png"
}

func extension(format string) string {
	if normalizeFormat(format) == "jpeg" {
		return "jpg"
	}
	return "png"
}

func encode(img image.Image, format string) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	if format == "jpeg" {
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality})
	} else {
		err = png.Encode(&buf, img)
	}
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", format, err)
	}
	return buf.Bytes(), nil
}
