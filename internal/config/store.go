package config

import (
	"bytes"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
)

// Store is the in-memory authority for the running process. Readers get an
// immutable snapshot; writers replace the whole document.
type Store struct {
	path string
	cur  atomic.Pointer[Config]

	mu        sync.Mutex // serializes writers
	lastSaved []byte
}

// NewStore wraps an already loaded config. The snapshot must not be mutated
// after being handed over.
func NewStore(cfg *Config) *Store {
	s := &Store{path: cfg.Paths.ConfigPath}
	s.cur.Store(cfg)
	if data, err := os.ReadFile(s.path); err == nil {
		s.lastSaved = data
	}
	return s
}

// Path returns the backing file.
func (s *Store) Path() string { return s.path }

// Current returns the active snapshot. Callers must treat it as read-only.
func (s *Store) Current() *Config { return s.cur.Load() }

// Replace persists next and makes it current. The swap happens even when the
// write fails, so the returned error is informational.
func (s *Store) Replace(next *Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replaceLocked(next)
}

func (s *Store) replaceLocked(next *Config) error {
	next.Paths.ConfigPath = s.path
	s.cur.Store(next)
	data, err := writeFile(next, s.path)
	if err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	s.lastSaved = data
	return nil
}

// Update clones the current snapshot, applies fn, and replaces it.
func (s *Store) Update(fn func(*Config)) (*Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := s.cur.Load().Clone()
	fn(next)
	fillDefaults(next)
	return next, s.replaceLocked(next)
}

// Reload re-reads the file and swaps it in when it differs from what this
// process last wrote. A malformed file keeps the current snapshot.
func (s *Store) Reload() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		return false, fmt.Errorf("read config: %w", err)
	}
	if bytes.Equal(data, s.lastSaved) {
		return false, nil
	}
	next, err := decode(data, s.path)
	if err != nil {
		return false, err
	}
	applyEnvOverrides(next)
	s.lastSaved = data
	s.cur.Store(next)
	return true, nil
}
