package container

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nace/skrinja/internal/system"
)

// Store locates container backing files and their persisted sidecar
// configuration under a base directory. All operations are plain reads
// and writes of durable state; live state is never recorded here.
type Store struct {
	baseDir string
}

// NewStore creates a store rooted at baseDir
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// ContainerPath returns the backing file path for a container name
func (s *Store) ContainerPath(name string) string {
	return filepath.Join(s.baseDir, name+".img")
}

// ConfigPath returns the sidecar config path for a container name
func (s *Store) ConfigPath(name string) string {
	return filepath.Join(s.baseDir, name+".json")
}

// Exists reports whether the backing file exists
func (s *Store) Exists(name string) bool {
	return system.FileExists(s.ContainerPath(name))
}

// Orphaned reports the repair case of a sidecar config without a backing
// file, as left behind by an interrupted delete.
func (s *Store) Orphaned(name string) bool {
	return !s.Exists(name) && system.FileExists(s.ConfigPath(name))
}

// SaveConfig persists the sidecar record
func (s *Store) SaveConfig(cfg *VolumeConfig) error {
	if err := os.MkdirAll(s.baseDir, 0700); err != nil {
		return fmt.Errorf("failed to create base directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.WriteFile(s.ConfigPath(cfg.Name), data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// LoadConfig reads the sidecar record, returning ErrNoConfig when absent
func (s *Store) LoadConfig(name string) (*VolumeConfig, error) {
	data, err := os.ReadFile(s.ConfigPath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNoConfig, name)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg VolumeConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", s.ConfigPath(name), err)
	}
	return &cfg, nil
}

// RemoveConfig deletes the sidecar record; removing a missing one is fine
func (s *Store) RemoveConfig(name string) error {
	err := os.Remove(s.ConfigPath(name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove config: %w", err)
	}
	return nil
}

// List enumerates the names of containers with a backing file
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read base directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), ".img") {
			names = append(names, strings.TrimSuffix(e.Name(), ".img"))
		}
	}
	return names, nil
}
