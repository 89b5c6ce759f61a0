package instance

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"snapkey/internal/logging"
)

type fakeLister struct {
	procs []Process
	err   error
}

func (f fakeLister) Processes(context.Context) ([]Process, error) { return f.procs, f.err }

func named(pid int32, name string) Process {
	return Process{PID: pid, Name: func(context.Context) (string, error) { return name, nil }}
}

func vanished(pid int32) Process {
	return Process{PID: pid, Name: func(context.Context) (string, error) { return "", errors.New("no such process") }}
}

func TestIsAlreadyRunning(t *testing.T) {
	self := int32(os.Getpid())
	cases := []struct {
		name  string
		procs []Process
		query string
		want  bool
	}{
		{"only self", []Process{named(self, "snapkey.exe")}, "snapkey.exe", false},
		{"peer with same name", []Process{named(self, "snapkey.exe"), named(self+1, "snapkey.exe")}, "snapkey.exe", true},
		{"case insensitive", []Process{named(self+1, "SnapKey.EXE")}, "snapkey.exe", true},
		{"exact match only", []Process{named(self+1, "snapkey.exe.bak")}, "snapkey.exe", false},
		{"skips vanished", []Process{vanished(self + 1), named(self+2, "snapkey")}, "snapkey", true},
		{"all vanished", []Process{vanished(self + 1), vanished(self + 2)}, "snapkey", false},
		{"nil name func", []Process{{PID: self + 1}}, "snapkey", false},
		{"empty query", []Process{named(self+1, "")}, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := NewGuardWithLister(fakeLister{procs: tc.procs}, logging.NewTestLogger())
			if got := g.IsAlreadyRunning(context.Background(), tc.query); got != tc.want {
				t.Fatalf("IsAlreadyRunning(%q)=%v want %v", tc.query, got, tc.want)
			}
		})
	}
}

func TestIsAlreadyRunningListError(t *testing.T) {
	g := NewGuardWithLister(fakeLister{err: errors.New("boom")}, logging.NewTestLogger())
	if g.IsAlreadyRunning(context.Background(), "snapkey") {
		t.Fatalf("list failure must not report a peer")
	}
}

func TestIsAlreadyRunningNeverMatchesSelf(t *testing.T) {
	g := NewGuard(logging.NewTestLogger())
	// The test binary is unique to this run, so only this process carries its name.
	if g.IsAlreadyRunning(context.Background(), CurrentName()) {
		t.Fatalf("guard matched its own process %q", CurrentName())
	}
}

func TestPIDFileLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "snapkey.pid")
	pf, err := AcquirePID(path)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	pid, err := ReadPID(path)
	if err != nil || pid != os.Getpid() {
		t.Fatalf("read pid: %d %v", pid, err)
	}
	if !Held(path) {
		t.Fatalf("expected lock to be held")
	}
	if _, err := AcquirePID(path); !errors.Is(err, ErrLocked) {
		t.Fatalf("second acquire should fail with ErrLocked, got %v", err)
	}
	if err := pf.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if Held(path) {
		t.Fatalf("lock should be free after release")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("pid file should be removed")
	}
}
