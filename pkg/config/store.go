package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// fileVersion is written to every config file. Files from a newer release
// are refused rather than half-read.
const fileVersion = 1

// Store persists section data keyed by section id.
type Store interface {
	Load() error
	Save() error
	Section(id string) (map[string]any, error)
	SetSection(id string, data map[string]any) error
	// SectionIDs lists the ids present in the store, sorted.
	SectionIDs() []string
	Path() string
}

type fileLayout struct {
	Version  int                       `json:"version"`
	Sections map[string]map[string]any `json:"sections"`
}

// FileStore keeps every section in one JSON file, by default
// ~/.reimburse/config.json.
type FileStore struct {
	path     string
	mu       sync.RWMutex
	sections map[string]map[string]any
}

// NewFileStore opens the store at path and loads it. A missing file is an
// empty store.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("locate home directory: %w", err)
		}
		path = filepath.Join(home, ".reimburse", "config.json")
	}
	s := &FileStore{path: path, sections: map[string]map[string]any{}}
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Load replaces the in-memory sections with the file's.
func (s *FileStore) Load() error {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.mu.Lock()
		s.sections = map[string]map[string]any{}
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config %s: %w", s.path, err)
	}

	var layout fileLayout
	if err := json.Unmarshal(raw, &layout); err != nil {
		return fmt.Errorf("parse config %s: %w", s.path, err)
	}
	if layout.Version > fileVersion {
		return fmt.Errorf("config %s has version %d, this build reads up to %d", s.path, layout.Version, fileVersion)
	}
	if layout.Sections == nil {
		layout.Sections = map[string]map[string]any{}
	}

	s.mu.Lock()
	s.sections = layout.Sections
	s.mu.Unlock()
	return nil
}

// Save writes the file through a temp file in the same directory so a
// crash never leaves a truncated config behind.
func (s *FileStore) Save() error {
	s.mu.RLock()
	raw, err := json.MarshalIndent(fileLayout{Version: fileVersion, Sections: s.sections}, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".config-*.json")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(raw, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace config %s: %w", s.path, err)
	}
	return nil
}

// Section returns a copy of the section's data, empty when absent.
func (s *FileStore) Section(id string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneData(s.sections[id]), nil
}

// SetSection replaces a section's data. Nothing is written until Save.
func (s *FileStore) SetSection(id string, data map[string]any) error {
	if id == "" {
		return errors.New("config section id is empty")
	}
	s.mu.Lock()
	s.sections[id] = cloneData(data)
	s.mu.Unlock()
	return nil
}

func (s *FileStore) SectionIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sections))
	for id := range s.sections {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *FileStore) Path() string { return s.path }

func cloneData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}
