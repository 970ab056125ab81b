// Package store persists camera descriptors in a TOML file.
package store

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sync"

	"github.com/pelletier/go-toml/v2"
	"github.com/smazurov/camhub/internal/cameras"
)

// config represents the complete cameras file for TOML marshaling.
type config struct {
	Version int                           `toml:"version" json:"version"`
	Cameras map[string]cameras.Descriptor `toml:"cameras" json:"cameras"`
}

// tomlStore implements cameras.Store using TOML file storage.
type tomlStore struct {
	configPath string

	mu     sync.RWMutex
	config *config
}

// NewTOML creates a new TOML-based store.
func NewTOML(configPath string) cameras.Store {
	if configPath == "" {
		configPath = "cameras.toml"
	}

	return &tomlStore{
		configPath: configPath,
		config: &config{
			Version: 1,
			Cameras: make(map[string]cameras.Descriptor),
		},
	}
}

// Path returns the backing file.
func (s *tomlStore) Path() string {
	return s.configPath
}

// Load replaces the in-memory descriptors with the file contents.
// A missing file yields an empty set.
func (s *tomlStore) Load() error {
	if _, err := os.Stat(s.configPath); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(s.configPath)
	if err != nil {
		return fmt.Errorf("failed to read cameras config: %w", err)
	}

	loaded := &config{}
	if unmarshalErr := toml.Unmarshal(data, loaded); unmarshalErr != nil {
		return fmt.Errorf("failed to parse cameras config: %w", unmarshalErr)
	}
	if loaded.Cameras == nil {
		loaded.Cameras = make(map[string]cameras.Descriptor)
	}
	if loaded.Version == 0 {
		loaded.Version = 1
	}
	// The table key is authoritative for the id.
	for id, d := range loaded.Cameras {
		if d.ID != id {
			d.ID = id
			loaded.Cameras[id] = d
		}
	}

	s.mu.Lock()
	s.config = loaded
	s.mu.Unlock()
	return nil
}

// Save writes the descriptors to file.
func (s *tomlStore) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saveLocked()
}

func (s *tomlStore) saveLocked() error {
	dir := filepath.Dir(s.configPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := toml.Marshal(s.config)
	if err != nil {
		return fmt.Errorf("failed to marshal cameras config: %w", err)
	}

	// Write through a temp file so the watcher never sees a partial file.
	tmp := s.configPath + ".tmp"
	if writeErr := os.WriteFile(tmp, data, 0o644); writeErr != nil {
		return fmt.Errorf("failed to write cameras config: %w", writeErr)
	}
	if renameErr := os.Rename(tmp, s.configPath); renameErr != nil {
		return fmt.Errorf("failed to replace cameras config: %w", renameErr)
	}

	return nil
}

// AddCamera adds a new descriptor and saves.
func (s *tomlStore) AddCamera(d cameras.Descriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config.Cameras[d.ID] = d
	return s.saveLocked()
}

// UpdateCamera replaces a descriptor and saves.
func (s *tomlStore) UpdateCamera(id string, d cameras.Descriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.ID = id
	s.config.Cameras[id] = d
	return s.saveLocked()
}

// RemoveCamera removes a descriptor and saves.
func (s *tomlStore) RemoveCamera(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.config.Cameras, id)
	return s.saveLocked()
}

// GetCamera retrieves a descriptor by ID.
func (s *tomlStore) GetCamera(id string) (cameras.Descriptor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, exists := s.config.Cameras[id]
	return d, exists
}

// GetAllCameras returns a copy of all descriptors.
func (s *tomlStore) GetAllCameras() map[string]cameras.Descriptor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.config.Cameras)
}
