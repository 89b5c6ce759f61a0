// Package hook runs the user's post-capture command.
package hook

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"snapkey/internal/config"

	"github.com/sirupsen/logrus"
)

// Job represents a hook invocation request.
type Job struct {
	Path      string
	Timestamp time.Time
}

// Runner executes the hook with cooldown handling.
type Runner struct {
	settings interface{ Current() *config.Config }
	logger   *logrus.Logger
	lastRun  time.Time
	mu       sync.Mutex
}

func NewRunner(settings interface{ Current() *config.Config }, logger *logrus.Logger) *Runner {
	return &Runner{settings: settings, logger: logger}
}

// Enabled reports whether a hook command is configured.
func (r *Runner) Enabled() bool {
	return strings.TrimSpace(r.settings.Current().Hook.Command) != ""
}

// ShouldRun returns whether cooldown allows a new hook.
func (r *Runner) ShouldRun() bool {
	cooldown := r.settings.Current().Hook.CooldownSec
	r.mu.Lock()
	defer r.mu.Unlock()
	if cooldown <= 0 {
		return true
	}
	return time.Since(r.lastRun).Seconds() >= cooldown
}

// Run executes the configured command with the screenshot path as the last
// argument.
func (r *Runner) Run(ctx context.Context, job Job) error {
	r.mu.Lock()
	r.lastRun = time.Now()
	r.mu.Unlock()

	hk := r.settings.Current().Hook
	cmdStr := config.ExpandPath(strings.TrimSpace(hk.Command))
	if cmdStr == "" {
		return fmt.Errorf("no hook.command configured")
	}
	args := append(append([]string{}, hk.Args...), job.Path)

	runCtx := ctx
	var cancel context.CancelFunc
	if hk.TimeoutSec > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(float64(time.Second)*hk.TimeoutSec))
		defer cancel()
	}
	cmd := exec.CommandContext(runCtx, cmdStr, args...)
	cmd.Env = os.Environ()
	for k, v := range hk.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = append(cmd.Env,
		fmt.Sprintf("SNAPKEY_FILE=%s", job.Path),
		fmt.Sprintf("SNAPKEY_DIR=%s", filepath.Dir(job.Path)),
		fmt.Sprintf("SNAPKEY_TIME=%s", job.Timestamp.Format(time.RFC3339)),
	)

	out, err := cmd.CombinedOutput()
	if len(out) > 0 {
		r.logger.Infof("hook output: %s", strings.TrimSpace(string(out)))
	}
	if err != nil {
		return fmt.Errorf("hook failed: %w", err)
	}
	return nil
}
