package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// RuleState records whether a rule was active at the last evaluation.
type RuleState struct {
	Active       bool      `json:"active"`
	Since        time.Time `json:"since"`
	LastNotified time.Time `json:"last_notified,omitempty"`
}

// Store persists rule activity to disk so notifications survive restarts
// without repeating.
type Store struct {
	path   string
	lock   *flock.Flock
	values map[string]RuleState
	mu     sync.Mutex
}

// Open returns a Store persisted at path. When lockPath is not empty an
// exclusive file lock is taken so a second daemon cannot share the state.
func Open(path, lockPath string) (*Store, error) {
	s := &Store{
		path:   path,
		values: map[string]RuleState{},
	}
	if lockPath != "" {
		if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
			return nil, err
		}
		lock := flock.New(lockPath)
		ok, err := lock.TryLock()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("another daemon is already running (lock: %s)", lockPath)
		}
		s.lock = lock
	}
	if err := s.load(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the lock, if held.
func (s *Store) Close() error {
	if s == nil || s.lock == nil {
		return nil
	}
	return s.lock.Unlock()
}

func (s *Store) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return os.MkdirAll(filepath.Dir(s.path), 0o755)
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, &s.values)
}

// Record stores whether a rule is active at now and reports whether it just
// became active. The file is only rewritten when something changed.
func (s *Store) Record(name string, active bool, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, seen := s.values[name]
	if seen && prev.Active == active {
		return false, nil
	}
	next := RuleState{Active: active, Since: now, LastNotified: prev.LastNotified}
	rising := active
	if rising {
		next.LastNotified = now
	}
	s.values[name] = next
	return rising, s.persist()
}

// Prune forgets rules not present in keep.
func (s *Store) Prune(keep map[string]struct{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false
	for name := range s.values {
		if _, ok := keep[name]; !ok {
			delete(s.values, name)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return s.persist()
}

func (s *Store) persist() error {
	data, err := json.MarshalIndent(s.values, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
