package chunk

import "time"

// ActiveChunkState snapshots the head chunk's current size for a
// RotationPolicy to judge against: policies are pure predicates over a
// snapshot, never touching the chunk or its lock themselves.
type ActiveChunkState struct {
	RowCount  int64
	DiskBytes int64
	CreatedAt time.Time
	Now       time.Time
}

// RotationPolicy decides whether a branch's head chunk should be sealed and
// replaced with a new one before the next write proceeds.
type RotationPolicy interface {
	ShouldRotate(state ActiveChunkState) bool
}

// CompositePolicy rotates as soon as any child policy says to; this is how
// "rotate at 50k rows OR 24h, whichever comes first" is expressed.
type CompositePolicy struct {
	Policies []RotationPolicy
}

func (p CompositePolicy) ShouldRotate(state ActiveChunkState) bool {
	for _, child := range p.Policies {
		if child.ShouldRotate(state) {
			return true
		}
	}
	return false
}

// RowCountPolicy rotates once the head chunk holds at least MaxRows rows.
type RowCountPolicy struct {
	MaxRows int64
}

func (p RowCountPolicy) ShouldRotate(state ActiveChunkState) bool {
	return state.RowCount >= p.MaxRows
}

// SizePolicy rotates once the head chunk's on-disk footprint reaches
// MaxBytes, as estimated by the DiskBytes total that
// BranchChunkManager.UpdateHeadStats accumulates from each commit's row
// sizes.
type SizePolicy struct {
	MaxBytes int64
}

func (p SizePolicy) ShouldRotate(state ActiveChunkState) bool {
	return state.DiskBytes >= p.MaxBytes
}

// AgePolicy rotates once the head chunk has been open at least MaxAge,
// bounding how much history a crash can lose from one unsealed chunk.
type AgePolicy struct {
	MaxAge time.Duration
}

func (p AgePolicy) ShouldRotate(state ActiveChunkState) bool {
	if state.CreatedAt.IsZero() {
		return false
	}
	return state.Now.Sub(state.CreatedAt) >= p.MaxAge
}

// NeverRotatePolicy never rotates; useful for branches whose writers manage
// rollover explicitly (e.g. import jobs sized to one chunk).
type NeverRotatePolicy struct{}

func (NeverRotatePolicy) ShouldRotate(ActiveChunkState) bool { return false }

// AlwaysRotatePolicy rotates on every write, a test/debug aid for exercising
// multi-chunk branch paths without generating large fixtures.
type AlwaysRotatePolicy struct{}

func (AlwaysRotatePolicy) ShouldRotate(ActiveChunkState) bool { return true }
