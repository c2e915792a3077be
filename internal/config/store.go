package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// For mocking in tests
var osUserHomeDir = os.UserHomeDir

const (
	userConfigDir   = ".config/tunnelctl"
	tunnelsFileName = "tunnels.yaml"
)

// ErrTunnelNotFound is returned when no tunnel with the given ID exists.
var ErrTunnelNotFound = errors.New("tunnel not found")

// ErrDuplicateTunnelID is returned when adding a tunnel whose ID is taken.
var ErrDuplicateTunnelID = errors.New("tunnel id already exists")

// tunnelsFile is the on-disk document wrapping the ordered tunnel list.
type tunnelsFile struct {
	Tunnels []TunnelConfig `yaml:"tunnels"`
}

// Store persists the ordered tunnel list as YAML. Every mutation rewrites the
// file so external edits between operations are overwritten, not merged.
type Store struct {
	mu      sync.Mutex
	path    string
	tunnels []TunnelConfig
}

// DefaultStorePath returns the per-user tunnels file path.
func DefaultStorePath() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir, tunnelsFileName), nil
}

// NewStore creates a store backed by the given file path. The file is loaded
// immediately; a missing file yields an empty list, not an error.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.tunnels = nil
			return nil
		}
		return fmt.Errorf("error reading tunnel list from %s: %w", s.path, err)
	}
	var doc tunnelsFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("error parsing tunnel list from %s: %w", s.path, err)
	}
	s.tunnels = doc.Tunnels
	return nil
}

// save rewrites the whole file atomically (temp file + rename).
// Caller must hold s.mu.
func (s *Store) save() error {
	data, err := yaml.Marshal(tunnelsFile{Tunnels: s.tunnels})
	if err != nil {
		return fmt.Errorf("error marshalling tunnel list: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("error writing tunnel list to %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("error replacing tunnel list at %s: %w", s.path, err)
	}
	return nil
}

// List returns a copy of the ordered tunnel list.
func (s *Store) List() []TunnelConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TunnelConfig, len(s.tunnels))
	copy(out, s.tunnels)
	return out
}

// Get returns the tunnel with the given ID.
func (s *Store) Get(id string) (TunnelConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tunnels {
		if t.ID == id {
			return t, true
		}
	}
	return TunnelConfig{}, false
}

// Add appends a tunnel to the list and rewrites the file.
func (s *Store) Add(cfg TunnelConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tunnels {
		if t.ID == cfg.ID {
			return fmt.Errorf("%w: %s", ErrDuplicateTunnelID, cfg.ID)
		}
	}
	s.tunnels = append(s.tunnels, cfg)
	return s.save()
}

// Update replaces the tunnel with cfg.ID in place, preserving list order,
// and rewrites the file.
func (s *Store) Update(cfg TunnelConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.tunnels {
		if t.ID == cfg.ID {
			s.tunnels[i] = cfg
			return s.save()
		}
	}
	return fmt.Errorf("%w: %s", ErrTunnelNotFound, cfg.ID)
}

// Remove deletes the tunnel with the given ID and rewrites the file.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.tunnels {
		if t.ID == id {
			s.tunnels = append(s.tunnels[:i], s.tunnels[i+1:]...)
			return s.save()
		}
	}
	return fmt.Errorf("%w: %s", ErrTunnelNotFound, id)
}
