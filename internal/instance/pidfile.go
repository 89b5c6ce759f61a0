package instance

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
)

// ErrLocked means another live process holds the pid file.
var ErrLocked = errors.New("pid file held by another process")

// PIDFile records the pid of the primary instance. The companion .lock file
// stays locked for the owner's lifetime, so a stale pid file is detectable.
type PIDFile struct {
	path string
	lock *flock.Flock
}

// AcquirePID locks path+".lock" and writes the current pid to path.
func AcquirePID(path string) (*PIDFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	lk := flock.New(path + ".lock")
	ok, err := lk.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock pid file: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d", os.Getpid())), 0o644); err != nil {
		_ = lk.Unlock()
		return nil, err
	}
	return &PIDFile{path: path, lock: lk}, nil
}

// Release removes the pid file and drops the lock.
func (p *PIDFile) Release() error {
	if p == nil {
		return nil
	}
	err := os.Remove(p.path)
	if errors.Is(err, os.ErrNotExist) {
		err = nil
	}
	if uerr := p.lock.Unlock(); uerr != nil && err == nil {
		err = uerr
	}
	return err
}

// ReadPID returns the pid recorded at path.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pid file %s: %w", path, err)
	}
	return pid, nil
}

// Held reports whether some process currently holds the lock next to path.
func Held(path string) bool {
	lk := flock.New(path + ".lock")
	ok, err := lk.TryLock()
	if err != nil {
		return false
	}
	if ok {
		_ = lk.Unlock()
		return false
	}
	return true
}
