package stats

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Snapshot is the persisted form of the local player's statistics.
type Snapshot struct {
	Wins     int     `json:"wins"`
	Distance float64 `json:"distance"`
}

// Store keeps win and distance totals and mirrors them to a JSON file. An
// empty path keeps the totals in memory only.
type Store struct {
	path string

	mu       sync.RWMutex
	snapshot Snapshot
}

// Open loads the totals at path. A missing file starts from zero.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &s.snapshot); err != nil {
		return nil, fmt.Errorf("stats: decode %s: %w", path, err)
	}
	return s, nil
}

func (s *Store) WinCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot.Wins
}

func (s *Store) DistanceTraveled() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot.Distance
}

// AddDistance accumulates in memory; totals reach disk on the next Save.
func (s *Store) AddDistance(d float64) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.snapshot.Distance += d
	s.mu.Unlock()
}

// RecordWin increments the win count and persists the totals.
func (s *Store) RecordWin() error {
	s.mu.Lock()
	s.snapshot.Wins++
	s.mu.Unlock()
	return s.Save()
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot
}

// Save writes the totals through a temporary file so a crash never leaves a
// truncated document behind.
func (s *Store) Save() error {
	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(s.Snapshot(), "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
