// Package instance detects other copies of snapkey and records the pid of the
// one that owns the hotkeys.
package instance

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
	"github.com/sirupsen/logrus"
)

// Process is the part of an OS process the guard looks at.
type Process struct {
	PID  int32
	Name func(ctx context.Context) (string, error)
}

// Lister enumerates live processes.
type Lister interface {
	Processes(ctx context.Context) ([]Process, error)
}

// Guard answers whether another instance is alive. It is advisory: two
// launches inside one scan can miss each other. Ownership is decided by the
// loopback port bind.
type Guard struct {
	lister  Lister
	selfPID int32
	logger  *logrus.Logger
}

// NewGuard returns a Guard backed by gopsutil.
func NewGuard(logger *logrus.Logger) *Guard {
	return NewGuardWithLister(systemLister{}, logger)
}

// NewGuardWithLister returns a Guard over a custom process source.
func NewGuardWithLister(l Lister, logger *logrus.Logger) *Guard {
	return &Guard{lister: l, selfPID: int32(os.Getpid()), logger: logger}
}

// IsAlreadyRunning reports whether a process other than the caller has the
// given name (case-insensitive exact match). Processes that vanish or cannot
// be inspected mid-scan are skipped.
func (g *Guard) IsAlreadyRunning(ctx context.Context, name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	procs, err := g.lister.Processes(ctx)
	if err != nil {
		g.logger.Warnf("instance: list processes: %v", err)
		return false
	}
	for _, p := range procs {
		if p.PID == g.selfPID || p.Name == nil {
			continue
		}
		pname, err := p.Name(ctx)
		if err != nil {
			continue
		}
		if strings.EqualFold(pname, name) {
			g.logger.Debugf("instance: found %s with pid %d", pname, p.PID)
			return true
		}
	}
	return false
}

// CurrentName is the process name of the running executable.
func CurrentName() string {
	exe, err := os.Executable()
	if err != nil {
		return filepath.Base(os.Args[0])
	}
	return filepath.Base(exe)
}

type systemLister struct{}

func (systemLister) Processes(ctx context.Context) ([]Process, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Process, 0, len(procs))
	for _, p := range procs {
		out = append(out, Process{PID: p.Pid, Name: p.NameWithContext})
	}
	return out, nil
}
