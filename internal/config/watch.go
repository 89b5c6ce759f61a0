package config

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

const watchDebounce = 250 * time.Millisecond

// Watch calls onChange after the file at path has been written, created or
// renamed into place. The parent directory is watched because editors often
// replace the file instead of writing it. Watcher errors are logged and the
// watch continues. Watch blocks until ctx is done.
func Watch(ctx context.Context, path string, logger *logrus.Logger, onChange func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	target := filepath.Clean(path)
	if err := w.Add(filepath.Dir(target)); err != nil {
		return err
	}
	watchLoop(ctx, target, w.Events, w.Errors, logger, onChange)
	return nil
}

func watchLoop(ctx context.Context, target string, events <-chan fsnotify.Event, errs <-chan error, logger *logrus.Logger, onChange func()) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				return
			}
			logger.Warnf("config watch %s: %v", target, err)
		case ev, ok := <-events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(watchDebounce, onChange)
		}
	}
}
