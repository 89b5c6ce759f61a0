package app

import (
	"context"
	"time"

	"snapkey/internal/hook"
)

func (a *App) queueHook(path string) {
	if !a.hook.Enabled() {
		return
	}
	if !a.hook.ShouldRun() {
		a.logger.Debug("hook skipped (cooldown)")
		a.metrics.hookSkipped.Add(1)
		return
	}
	select {
	case a.hookCh <- hook.Job{Path: path, Timestamp: time.Now()}:
	default:
		a.metrics.dropped.Add(1)
		a.logger.Warn("hook queue full, dropping job")
	}
}

func (a *App) hookWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-a.hookCh:
			if err := a.hook.Run(ctx, job); err != nil {
				a.logger.Errorf("hook: %v", err)
				continue
			}
			a.metrics.hookSent.Add(1)
		}
	}
}
