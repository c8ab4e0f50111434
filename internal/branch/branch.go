// Package branch implements the branch registry and BranchResolver:
// branches form a forest rooted at "master", and a read at (branch, T)
// may need to fall through to an ancestor branch when T precedes the
// fork point. It follows the pattern of resolving an identity to the
// right downstream object before doing the real work — here, routing a
// read to the branch that actually owns the data.
package branch

import (
	"fmt"
	"sync"

	"chronodb/internal/chronoerr"
)

// RootBranch is the name of the branch every fork eventually resolves
// back to.
const RootBranch = "master"

// Info describes one branch's fork point. Origin is empty for the root.
type Info struct {
	Name               string
	Origin             string
	BranchingTimestamp uint64
}

// IsRoot reports whether this branch has no origin.
func (i Info) IsRoot() bool { return i.Origin == "" }

// Registry tracks every known branch and its fork ancestry. A
// sync.RWMutex guards the whole map: branch creation takes the write
// lock, and the far more frequent reads that consult it share the read
// lock.
type Registry struct {
	mu       sync.RWMutex
	branches map[string]Info
}

// NewRegistry returns a registry seeded with the root branch.
func NewRegistry() *Registry {
	return &Registry{
		branches: map[string]Info{
			RootBranch: {Name: RootBranch},
		},
	}
}

// Create forks a new branch from origin at branchingTimestamp. origin must
// already exist; name must not.
func (r *Registry) Create(name, origin string, branchingTimestamp uint64) error {
	if name == "" {
		return fmt.Errorf("%w: branch name must not be empty", chronoerr.ErrInvalidArgument)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.branches[name]; exists {
		return fmt.Errorf("%w: %s", chronoerr.ErrBranchExists, name)
	}
	if _, ok := r.branches[origin]; !ok {
		return fmt.Errorf("%w: origin %s", chronoerr.ErrBranchUnknown, origin)
	}
	r.branches[name] = Info{Name: name, Origin: origin, BranchingTimestamp: branchingTimestamp}
	return nil
}

// Get returns a branch's fork info.
func (r *Registry) Get(name string) (Info, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.branches[name]
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", chronoerr.ErrBranchUnknown, name)
	}
	return info, nil
}

// List returns every known branch, in no particular order.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.branches))
	for _, info := range r.branches {
		out = append(out, info)
	}
	return out
}

// Chain returns [B0, B1, ..., Bn]: B0 is branch itself;
// each subsequent Bi+1 is Bi's origin, appended as long as T is at or
// before Bi's own branching timestamp. Reads consult B0 first and fall
// through the chain only when B0's own chunks don't cover T.
func (r *Registry) Chain(branchName string, T uint64) ([]Info, error) {
	cur, err := r.Get(branchName)
	if err != nil {
		return nil, err
	}
	chain := []Info{cur}
	for !cur.IsRoot() && T <= cur.BranchingTimestamp {
		next, err := r.Get(cur.Origin)
		if err != nil {
			return nil, err
		}
		chain = append(chain, next)
		cur = next
	}
	return chain, nil
}
