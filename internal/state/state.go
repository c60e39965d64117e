// Package state persists the chat-source cursor between runs: the highest
// update ID already processed. The cursor only ever advances, so a crashed
// run can reprocess messages but never silently skip them.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// Store reads and writes the cursor file.
type Store struct {
	path   string
	logger *zap.Logger
}

type fileState struct {
	LastUpdateID int64     `json:"last_update_id"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NewStore creates a store for the given path.
func NewStore(path string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{path: path, logger: logger}
}

// Load returns the saved cursor, zero when none exists. A corrupted file
// logs a warning and reads as absent so the next run rebuilds it.
func (s *Store) Load() int64 {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return 0
	}
	if err != nil {
		s.logger.Warn("Failed to read state file", zap.String("path", s.path), zap.Error(err))
		return 0
	}

	var st fileState
	if err := json.Unmarshal(data, &st); err != nil {
		s.logger.Warn("State file is corrupted, starting fresh", zap.String("path", s.path), zap.Error(err))
		return 0
	}
	return st.LastUpdateID
}

// Advance persists cursor if it is ahead of the stored one and returns the
// effective cursor. Values at or behind the stored cursor are ignored.
func (s *Store) Advance(cursor int64) (int64, error) {
	current := s.Load()
	if cursor <= current {
		return current, nil
	}
	if err := s.save(cursor); err != nil {
		return current, err
	}
	return cursor, nil
}

// save writes the cursor atomically via a temp file rename.
func (s *Store) save(cursor int64) error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	data, err := json.MarshalIndent(fileState{
		LastUpdateID: cursor,
		UpdatedAt:    time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace state: %w", err)
	}
	return nil
}
