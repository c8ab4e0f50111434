// Package home manages the ChronoDB home directory layout.
//
// The home directory owns all persistent state: the config file and the
// storage root under which every branch's chunk files live.
//
// Layout:
//
//	<root>/
//	  config.json                     (config store)
//	  storage/
//	    index.bolt                     (secondary index backend)
//	    branches/<name>/               (one branch's chunk files)
package home

import (
	"fmt"
	"os"
	"path/filepath"
)

// Dir represents a ChronoDB home directory.
type Dir struct {
	root string
}

// New creates a Dir with an explicit root path.
func New(root string) Dir {
	return Dir{root: root}
}

// Default returns a Dir using the platform-appropriate default location:
//   - Linux:   ~/.config/chronodb
//   - macOS:   ~/Library/Application Support/chronodb
//   - Windows: %APPDATA%/chronodb
func Default() (Dir, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return Dir{}, fmt.Errorf("determine config directory: %w", err)
	}
	return Dir{root: filepath.Join(base, "chronodb")}, nil
}

// Root returns the home directory path.
func (d Dir) Root() string {
	return d.root
}

// ConfigPath returns the path to the config file.
func (d Dir) ConfigPath() string {
	return filepath.Join(d.root, "config.json")
}

// StorageRoot returns the directory under which every branch's chunk
// files and the secondary index live.
func (d Dir) StorageRoot() string {
	return filepath.Join(d.root, "storage")
}

// EnsureExists creates the home directory (and parents) if it doesn't exist.
func (d Dir) EnsureExists() error {
	if err := os.MkdirAll(d.root, 0o750); err != nil {
		return fmt.Errorf("create home directory %s: %w", d.root, err)
	}
	return nil
}
