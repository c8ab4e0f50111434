// Package memory provides an in-memory config.Store implementation.
// Intended for tests and single-process bootstrapping. Configuration is
// not persisted across restarts.
package memory

import (
	"context"
	"sync"

	"chronodb/internal/config"
)

// Store is an in-memory config.Store implementation.
type Store struct {
	mu  sync.RWMutex
	cfg *config.Config
}

var _ config.Store = (*Store)(nil)

// NewStore creates a new in-memory config.Store.
func NewStore() *Store {
	return &Store{}
}

// Load returns a copy of the stored configuration, or nil if Save has
// never been called.
func (s *Store) Load(ctx context.Context) (*config.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cfg == nil {
		return nil, nil
	}
	cp := *s.cfg
	cp.Branches = append([]config.BranchConfig(nil), s.cfg.Branches...)
	cp.Indexes = append([]config.IndexConfig(nil), s.cfg.Indexes...)
	return &cp, nil
}

// Save replaces the stored configuration outright.
func (s *Store) Save(ctx context.Context, cfg *config.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *cfg
	cp.Branches = append([]config.BranchConfig(nil), cfg.Branches...)
	cp.Indexes = append([]config.IndexConfig(nil), cfg.Indexes...)
	s.cfg = &cp
	return nil
}
