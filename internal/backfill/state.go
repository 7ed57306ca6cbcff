package backfill

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// StateFileName is used when no state path is configured. It lives in the
// import directory and is skipped by discovery.
const StateFileName = ".scribe-import-state.json"

// ImportState tracks progress for resumable directory imports.
type ImportState struct {
	StartedAt        time.Time `json:"started_at"`
	LastProcessedAt  time.Time `json:"last_processed_at"`
	FilesProcessed   []string  `json:"files_processed"`
	FilesRemaining   int       `json:"files_remaining"`
	Imported         int       `json:"imported"`
	Failed           int       `json:"failed"`
	Duplicates       int       `json:"duplicates"`
	MessagesImported int       `json:"messages_imported"`
	RecordsSkipped   int       `json:"records_skipped"`
	Errors           []string  `json:"errors"`

	path string
	done map[string]bool
}

// LoadState reads the state at path, or starts a new one if the file does
// not exist.
func LoadState(path string) (*ImportState, error) {
	p := expandHome(path)

	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return &ImportState{StartedAt: time.Now().UTC(), path: p}, nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}

	var s ImportState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse state: %w", err)
	}
	s.path = p
	return &s, nil
}

// Path is where Save writes.
func (s *ImportState) Path() string { return s.path }

// Save persists the state through a temp file and rename.
func (s *ImportState) Save() error {
	s.LastProcessedAt = time.Now().UTC()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return os.Rename(tmp, s.path)
}

// IsProcessed reports whether the file was handled by an earlier run,
// successfully or not.
func (s *ImportState) IsProcessed(path string) bool {
	if s.done == nil {
		s.done = make(map[string]bool, len(s.FilesProcessed))
		for _, f := range s.FilesProcessed {
			s.done[f] = true
		}
	}
	return s.done[path]
}

// MarkProcessed records a file as handled.
func (s *ImportState) MarkProcessed(path string) {
	if s.IsProcessed(path) {
		return
	}
	s.FilesProcessed = append(s.FilesProcessed, path)
	s.done[path] = true
}

// AddError records a per-file failure.
func (s *ImportState) AddError(msg string) {
	s.Errors = append(s.Errors, msg)
}

func expandHome(path string) string {
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
