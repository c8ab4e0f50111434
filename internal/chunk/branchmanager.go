package chunk

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// BranchChunkManager maintains one branch's ordered, non-overlapping
// sequence of chunks. Exactly one chunk — the last one, by construction —
// is ever the open head (Sealed == false, ValidTo == 0).
type BranchChunkManager struct {
	Branch    string
	branchDir string

	Rotation  RotationPolicy
	Retention RetentionPolicy
	Now       func() time.Time
	Logger    *slog.Logger

	mu         sync.Mutex // guards chunks
	rolloverMu sync.Mutex // serializes PerformRollover per branch
	chunks     []Meta     // ascending by ValidFrom
}

// NewBranchChunkManager loads a branch's chunk inventory from branchDir,
// creating the first head chunk if the branch has none yet.
func NewBranchChunkManager(branch, branchDir string, rotation RotationPolicy, retention RetentionPolicy) (*BranchChunkManager, error) {
	if rotation == nil {
		rotation = NeverRotatePolicy{}
	}
	if retention == nil {
		retention = NeverExpirePolicy{}
	}
	bcm := &BranchChunkManager{
		Branch:    branch,
		branchDir: branchDir,
		Rotation:  rotation,
		Retention: retention,
		Now:       time.Now,
		Logger:    slog.Default(),
	}

	loaded, err := ListMeta(branchDir)
	if err != nil {
		return nil, err
	}
	sort.Slice(loaded, func(i, j int) bool { return loaded[i].ValidFrom < loaded[j].ValidFrom })
	bcm.chunks = loaded

	if len(bcm.chunks) == 0 {
		head := Meta{
			ID:        NewID(),
			Branch:    branch,
			ValidFrom: 0,
			ValidTo:   0,
			CreatedAt: time.Now().UnixNano(),
		}
		if _, err := openFile(branchDir, head); err != nil {
			return nil, err
		}
		if err := SaveMeta(branchDir, head); err != nil {
			return nil, err
		}
		bcm.chunks = append(bcm.chunks, head)
	}
	return bcm, nil
}

// BranchDir returns the directory holding this branch's chunk files,
// needed by GlobalChunkManager to derive handle pool keys.
func (b *BranchChunkManager) BranchDir() string { return b.branchDir }

// ChunkForTimestamp returns the chunk whose interval contains T, preferring
// validFrom <= T < validTo (validTo == 0 meaning the head, unbounded).
func (b *BranchChunkManager) ChunkForTimestamp(T uint64) (Meta, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.chunks) == 0 || T < b.chunks[0].ValidFrom {
		return Meta{}, fmt.Errorf("%w: branch %s has no chunk covering t=%d", ErrChunkNotFound, b.Branch, T)
	}
	for _, m := range b.chunks {
		if m.Contains(T) {
			return m, nil
		}
	}
	// T is at or past the last chunk's upper bound only if that chunk is
	// sealed and a later one is missing, which should not happen given
	// PerformRollover's invariant; fall back to the last chunk.
	return b.chunks[len(b.chunks)-1], nil
}

// ChunksInRange returns every chunk intersecting [lo, hi], ascending.
func (b *BranchChunkManager) ChunksInRange(lo, hi uint64) ([]Meta, error) {
	if hi < lo {
		return nil, ErrEmptyRange
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Meta
	for _, m := range b.chunks {
		upper := m.ValidTo
		if upper == 0 {
			upper = ^uint64(0)
		}
		if m.ValidFrom > hi || upper <= lo {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// HeadMeta returns the branch's current writable head chunk.
func (b *BranchChunkManager) HeadMeta() (Meta, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.chunks) == 0 {
		return Meta{}, ErrNoActiveChunk
	}
	head := b.chunks[len(b.chunks)-1]
	if !head.Open() {
		return Meta{}, ErrNoActiveChunk
	}
	return head, nil
}

// ShouldRotate reports whether the current head meets this branch's
// rotation policy given its present row/byte accounting.
func (b *BranchChunkManager) ShouldRotate() bool {
	head, err := b.HeadMeta()
	if err != nil {
		return false
	}
	state := ActiveChunkState{
		RowCount:  head.RowCount,
		DiskBytes: head.DiskBytes,
		CreatedAt: time.Unix(0, head.CreatedAt),
		Now:       b.Now(),
	}
	return b.Rotation.ShouldRotate(state)
}

// PerformRollover seals the current head at tNow+1 and opens a new head
// beginning at tNow+1. Serialized per branch via rolloverMu so two
// concurrent commits can never both roll over the same head.
func (b *BranchChunkManager) PerformRollover(tNow uint64) (oldHead, newHead Meta, err error) {
	b.rolloverMu.Lock()
	defer b.rolloverMu.Unlock()

	b.mu.Lock()
	if len(b.chunks) == 0 {
		b.mu.Unlock()
		return Meta{}, Meta{}, ErrNoActiveChunk
	}
	old := b.chunks[len(b.chunks)-1]
	b.mu.Unlock()

	if !old.Open() {
		// Already rolled over by a racing caller; nothing to do.
		return old, old, nil
	}

	validTo := tNow + 1
	if validTo <= old.ValidFrom {
		return Meta{}, Meta{}, fmt.Errorf("%w: rollover at t=%d precedes chunk %s start %d", ErrTimestampOrder, tNow, old.ID, old.ValidFrom)
	}
	old.Sealed = true
	old.ValidTo = validTo
	if err := SaveMeta(b.branchDir, old); err != nil {
		return Meta{}, Meta{}, err
	}
	if err := archiveSealed(b.branchDir, old.ID); err != nil {
		b.Logger.Warn("chunk archive failed", "chunk", old.ID, "branch", b.Branch, "error", err)
	}

	fresh := Meta{
		ID:        NewID(),
		Branch:    b.Branch,
		ValidFrom: validTo,
		ValidTo:   0,
		CreatedAt: time.Now().UnixNano(),
	}
	if _, err := openFile(b.branchDir, fresh); err != nil {
		return Meta{}, Meta{}, err
	}
	if err := SaveMeta(b.branchDir, fresh); err != nil {
		return Meta{}, Meta{}, err
	}

	b.mu.Lock()
	b.chunks[len(b.chunks)-1] = old
	b.chunks = append(b.chunks, fresh)
	b.mu.Unlock()

	return old, fresh, nil
}

// UpdateHeadStats records row/byte growth on the head chunk after a
// commit, so future ShouldRotate checks see current counts.
func (b *BranchChunkManager) UpdateHeadStats(rowDelta, byteDelta int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.chunks) == 0 {
		return ErrNoActiveChunk
	}
	idx := len(b.chunks) - 1
	b.chunks[idx].RowCount += rowDelta
	b.chunks[idx].DiskBytes += byteDelta
	return SaveMeta(b.branchDir, b.chunks[idx])
}

// ApplyRetention drops sealed chunks expired under the branch's
// RetentionPolicy from this manager's in-memory chunk list, returning the
// dropped chunk IDs. It never touches the head. It removes nothing from
// disk: the chunk's data, metadata and archive files stay in the branch
// directory and are listed again when the branch is reopened. It does not
// touch index documents or dirty flags. If the policy names a chunk that
// is not sealed, it returns ErrChunkNotSealed and drops nothing.
func (b *BranchChunkManager) ApplyRetention() ([]ID, error) {
	b.mu.Lock()
	var sealed []Meta
	for _, m := range b.chunks {
		if m.Sealed {
			sealed = append(sealed, m)
		}
	}
	b.mu.Unlock()

	expired := b.Retention.Expired(BranchState{SealedChunks: sealed, Now: b.Now()})
	if len(expired) == 0 {
		return nil, nil
	}

	expiredSet := make(map[ID]struct{}, len(expired))
	for _, id := range expired {
		expiredSet[id] = struct{}{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.chunks[:0:0]
	for _, m := range b.chunks {
		if _, gone := expiredSet[m.ID]; gone {
			if !m.Sealed {
				return nil, fmt.Errorf("%w: chunk %s", ErrChunkNotSealed, m.ID)
			}
			continue
		}
		kept = append(kept, m)
	}
	b.chunks = kept
	return expired, nil
}
