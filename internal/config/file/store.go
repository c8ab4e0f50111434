// Package file provides a file-based config.Store implementation.
//
// Configuration is persisted as a versioned JSON envelope:
//
//	{"version": 1, "config": { ... }}
//
// Every Save rewrites the full file atomically via temp-file-then-rename,
// the same durability pattern internal/chunk's metastore uses for chunk
// metadata sidecars.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"chronodb/internal/config"
)

const currentVersion = 1

type envelope struct {
	Version int            `json:"version"`
	Config  *config.Config `json:"config"`
}

// Store is a file-based config.Store implementation.
type Store struct {
	path string
}

var _ config.Store = (*Store)(nil)

// NewStore creates a file-based config.Store backed by path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the configuration from disk, returning nil if the file does
// not exist.
func (s *Store) Load(ctx context.Context) (*config.Config, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if env.Version > currentVersion {
		return nil, fmt.Errorf("config file version %d is newer than supported version %d", env.Version, currentVersion)
	}
	return env.Config, nil
}

// Save atomically writes cfg to disk, replacing the previous file.
func (s *Store) Save(ctx context.Context, cfg *config.Config) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	env := envelope{Version: currentVersion, Config: cfg}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write temp config file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config file: %w", err)
	}
	return nil
}
