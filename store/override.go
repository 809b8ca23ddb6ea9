package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"entrybeat/metrics"
)

// OverrideConfig is the entry clip of one user
type OverrideConfig struct {
	Source      string `json:"source"`
	StartSec    int    `json:"startSec"`
	DurationSec int    `json:"durationSec"`
}

// Validate checks the playback window
func (c OverrideConfig) Validate() error {
	if c.Source == "" {
		return errors.New("source is required")
	}
	if c.StartSec < 0 {
		return fmt.Errorf("start must be >= 0, got %d", c.StartSec)
	}
	if c.DurationSec < 1 {
		return fmt.Errorf("duration must be >= 1, got %d", c.DurationSec)
	}
	return nil
}

// OverrideStore keeps entry clip settings keyed by "username#discriminator" and
// rewrites its JSON file on every change. The in-memory map stays authoritative
// when a write fails.
type OverrideStore struct {
	mu      sync.RWMutex
	path    string
	entries map[string]OverrideConfig
	logger  *slog.Logger
}

// NewOverrideStore creates an empty store backed by path
func NewOverrideStore(path string) *OverrideStore {
	return &OverrideStore{
		path:    path,
		entries: make(map[string]OverrideConfig),
		logger:  slog.With("component", "override-store"),
	}
}

// Load replaces the in-memory entries with the file content. A missing file is not an error.
func (s *OverrideStore) Load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Info("No entry song store file, starting empty", slog.String("path", s.path))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read entry song store: %w", err)
	}

	loaded := make(map[string]OverrideConfig)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &loaded); err != nil {
			return fmt.Errorf("failed to decode entry song store %s: %w", s.path, err)
		}
	}

	s.mu.Lock()
	s.entries = loaded
	s.mu.Unlock()

	s.logger.Info("Loaded entry songs", slog.Int("entries", len(loaded)))
	return nil
}

// LoadOrEmpty loads the file and falls back to an empty store when it cannot be read or
// decoded. It reports whether the file was loaded.
func (s *OverrideStore) LoadOrEmpty() bool {
	err := s.Load()
	if err == nil {
		return true
	}
	metrics.StoreReadFailures.Inc()
	s.logger.Error("Failed to load entry songs, starting empty",
		slog.String("path", s.path),
		slog.Any("error", err))

	s.mu.Lock()
	s.entries = make(map[string]OverrideConfig)
	s.mu.Unlock()
	return false
}

// Get returns the entry clip configured for key
func (s *OverrideStore) Get(key string) (OverrideConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.entries[key]
	return cfg, ok
}

// Set overwrites the entry clip of key and persists the store
func (s *OverrideStore) Set(key string, cfg OverrideConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = cfg
	return s.save()
}

// Remove deletes the entry clip of key and persists the store
func (s *OverrideStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[key]; !ok {
		return nil
	}
	delete(s.entries, key)
	return s.save()
}

// Len returns the number of configured entry clips
func (s *OverrideStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// save writes the whole map; callers hold mu
func (s *OverrideStore) save() error {
	if err := s.write(); err != nil {
		metrics.StoreWriteFailures.Inc()
		s.logger.Error("Failed to persist entry songs",
			slog.String("path", s.path),
			slog.Any("error", err))
		return err
	}
	s.logger.Debug("Saved entry songs", slog.Int("entries", len(s.entries)))
	return nil
}

func (s *OverrideStore) write() error {
	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode entry songs: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write entry songs: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("failed to replace store file: %w", err)
	}
	return nil
}
