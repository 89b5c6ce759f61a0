package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os/exec"
	"strings"

	"github.com/google/shlex"
)

// ErrNoRegion means the region command exited non-zero, usually because the
// user cancelled it.
var ErrNoRegion = errors.New("no region selected")

// Runner runs an external command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// selectRegion runs command and parses its first output line as a
// rectangle in "x,y WxH" form, the format printed by slurp. Empty output
// reports ok=false: no region, so the caller grabs a whole display.
func selectRegion(ctx context.Context, run Runner, command string) (r image.Rectangle, ok bool, err error) {
	argv, err := shlex.Split(command)
	if err != nil {
		return image.Rectangle{}, false, fmt.Errorf("region command: %w", err)
	}
	if len(argv) == 0 {
		return image.Rectangle{}, false, fmt.Errorf("region command is empty")
	}
	out, err := run(ctx, argv[0], argv[1:]...)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return image.Rectangle{}, false, fmt.Errorf("%w: %s exited %d", ErrNoRegion, argv[0], exitErr.ExitCode())
		}
		return image.Rectangle{}, false, fmt.Errorf("region command %s: %w", argv[0], err)
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	if line == "" {
		return image.Rectangle{}, false, nil
	}
	r, err = ParseGeometry(line)
	return r, err == nil, err
}

// ParseGeometry parses "x,y WxH".
func ParseGeometry(s string) (image.Rectangle, error) {
	var x, y, w, h int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d,%d %dx%d", &x, &y, &w, &h); err != nil {
		return image.Rectangle{}, fmt.Errorf("parse geometry %q: %w", s, err)
	}
	if w <= 0 || h <= 0 {
		return image.Rectangle{}, fmt.Errorf("%w: empty geometry %q", ErrNoRegion, s)
	}
	return image.Rect(x, y, x+w, y+h), nil
}
