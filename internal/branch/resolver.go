package branch

import (
	"chronodb/internal/temporalkey"
	"chronodb/internal/tmatrix"
)

// MatrixProvider resolves a branch name to the TemporalMatrix that reads
// and writes its own chunks, without any knowledge of ancestry.
type MatrixProvider interface {
	Matrix(branch string) (*tmatrix.Matrix, error)
}

// Resolver answers reads across a branch's fork chain: it tries B0 first,
// then walks to B0.origin, B1.origin, and so on, stopping at the first
// branch whose own matrix actually has an answer.
type Resolver struct {
	Registry *Registry
	Matrices MatrixProvider
}

// NewResolver builds a Resolver over a branch registry and matrix provider.
func NewResolver(registry *Registry, matrices MatrixProvider) *Resolver {
	return &Resolver{Registry: registry, Matrices: matrices}
}

// Get performs a point-in-time read of (keyspace, key) as of T on branch,
// falling through to ancestor branches when the queried branch's own
// chunks don't cover T.
func (r *Resolver) Get(branch, keyspace, key string, T temporalkey.Timestamp) ([]byte, bool, error) {
	chain, err := r.Registry.Chain(branch, uint64(T))
	if err != nil {
		return nil, false, err
	}
	for _, b := range chain {
		m, err := r.Matrices.Matrix(b.Name)
		if err != nil {
			return nil, false, err
		}
		value, found, err := m.Get(keyspace, key, T)
		if err != nil {
			return nil, false, err
		}
		if found {
			return value, true, nil
		}
		// Not found on this branch at all (no row, not even a tombstone):
		// fall through to the origin per the chain, unless we've reached
		// the chain's end.
	}
	return nil, false, nil
}

// History walks the chain the same way Get does, concatenating each
// branch's own history for (keyspace, key) up to T. Commits are always on
// B0, so only B0's history can include versions after its own
// branchingTimestamp; ancestor branches only contribute the history that
// predates the fork.
func (r *Resolver) History(branch, keyspace, key string, T temporalkey.Timestamp, order tmatrix.Order) ([]tmatrix.Version, error) {
	chain, err := r.Registry.Chain(branch, uint64(T))
	if err != nil {
		return nil, err
	}
	// T is already bounded correctly for every branch in the chain: Chain
	// only appends an origin when T <= the child's own branchingTimestamp,
	// and each branch's own History(T) call naturally excludes anything
	// after T. No per-branch cutoff adjustment is needed.
	var out []tmatrix.Version
	for _, b := range chain {
		m, err := r.Matrices.Matrix(b.Name)
		if err != nil {
			return nil, err
		}
		versions, err := m.History(keyspace, key, T, order)
		if err != nil {
			return nil, err
		}
		out = append(out, versions...)
	}
	return out, nil
}
