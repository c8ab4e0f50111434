package chunk

import (
	"fmt"
	"log/slog"
	"sync"

	"chronodb/internal/chronoerr"
	"chronodb/internal/kvstore"

	lru "github.com/hashicorp/golang-lru"
)

// DefaultMaxOpenFiles is the default bound on concurrently open chunk
// files.
const DefaultMaxOpenFiles = 5

// handle wraps one open chunk File with its reference tracking. refcount
// counts live transactions against the handle; a handle is only evictable
// while refcount is zero.
type handle struct {
	file     *File
	refcount int
}

// Txn is a transaction against a chunk file, scoped so the caller cannot
// outlive the handle it was opened against without the manager knowing.
type Txn struct {
	kvstore.Txn
	mgr    *GlobalChunkManager
	path   string
	closed bool
}

// Close commits-or-rolls-back bookkeeping; callers must still call
// Commit/Rollback on the embedded kvstore.Txn themselves, then Close to
// release the handle refcount. Close is idempotent.
func (t *Txn) Close() {
	if t.closed {
		return
	}
	t.closed = true
	t.mgr.onTransactionClosed(t.path)
}

// GlobalChunkManager pools open kvstore handles across every chunk file in
// the process, bounded by MaxOpenFiles, the way a shared registry guards
// its entries: one mutex for fast in-memory bookkeeping, held only across
// cheap operations, never across an in-flight read.
type GlobalChunkManager struct {
	MaxOpenFiles int
	Logger       *slog.Logger

	mu       sync.Mutex
	handles  map[string]*handle // path -> handle
	recency  *lru.Cache         // path -> struct{}, used only to track MRU/LRU order

	branchMu sync.RWMutex
	branches map[string]*BranchChunkManager
}

// NewGlobalChunkManager constructs a manager with the given open-file
// bound. A bound of zero falls back to DefaultMaxOpenFiles.
func NewGlobalChunkManager(maxOpenFiles int, logger *slog.Logger) *GlobalChunkManager {
	if maxOpenFiles <= 0 {
		maxOpenFiles = DefaultMaxOpenFiles
	}
	if logger == nil {
		logger = slog.Default()
	}
	// recency never evicts on its own: it is sized far above any
	// realistic number of simultaneously tracked chunk files, so it never
	// exercises golang-lru's own capacity eviction. Eviction decisions are
	// made explicitly below, honoring refcounts golang-lru knows nothing
	// about.
	recency, _ := lru.New(1 << 20)
	return &GlobalChunkManager{
		MaxOpenFiles: maxOpenFiles,
		Logger:       logger,
		handles:      make(map[string]*handle),
		recency:      recency,
		branches:     make(map[string]*BranchChunkManager),
	}
}

// RegisterBranch installs a branch's chunk manager, making it reachable by
// name from openTransaction.
func (g *GlobalChunkManager) RegisterBranch(bcm *BranchChunkManager) {
	g.branchMu.Lock()
	defer g.branchMu.Unlock()
	g.branches[bcm.Branch] = bcm
}

func (g *GlobalChunkManager) branchManager(branch string) (*BranchChunkManager, error) {
	g.branchMu.RLock()
	defer g.branchMu.RUnlock()
	bcm, ok := g.branches[branch]
	if !ok {
		return nil, fmt.Errorf("%w: branch %q", chronoerr.ErrBranchUnknown, branch)
	}
	return bcm, nil
}

// OpenTransaction resolves branch -> chunk -> kvstore handle for timestamp
// T, opening (or reusing) the pooled handle and starting a transaction on
// it. The caller must call Close on the returned Txn exactly once, in
// addition to Commit or Rollback.
func (g *GlobalChunkManager) OpenTransaction(branch string, T uint64, writable bool) (*Txn, Meta, error) {
	bcm, err := g.branchManager(branch)
	if err != nil {
		return nil, Meta{}, err
	}
	meta, err := bcm.ChunkForTimestamp(T)
	if err != nil {
		return nil, Meta{}, err
	}
	if writable && meta.Sealed {
		return nil, Meta{}, fmt.Errorf("%w: chunk %s", ErrChunkSealed, meta.ID)
	}

	h, err := g.acquireHandle(bcm, meta)
	if err != nil {
		return nil, Meta{}, err
	}

	kvTxn, err := h.file.store.BeginTx(writable)
	if err != nil {
		g.onTransactionClosed(h.file.path)
		return nil, Meta{}, err
	}
	return &Txn{Txn: kvTxn, mgr: g, path: h.file.path}, meta, nil
}

// OpenBogusTransaction opens a read-only, no-durability transaction
// directly against a known chunk file, for point reads that must never
// produce side effects (e.g. speculative reads during branch resolution).
func (g *GlobalChunkManager) OpenBogusTransaction(bcm *BranchChunkManager, meta Meta) (*Txn, error) {
	h, err := g.acquireHandle(bcm, meta)
	if err != nil {
		return nil, err
	}
	kvTxn, err := h.file.store.BeginBogusTx()
	if err != nil {
		g.onTransactionClosed(h.file.path)
		return nil, err
	}
	return &Txn{Txn: kvTxn, mgr: g, path: h.file.path}, nil
}

// acquireHandle opens or reuses the handle for a chunk, bumping its
// refcount and marking it most-recently-used. Disk I/O to actually open
// the backing file happens while the pool mutex is held; the returned
// handle's refcount keeps it pinned until the caller closes its
// transaction.
func (g *GlobalChunkManager) acquireHandle(bcm *BranchChunkManager, meta Meta) (*handle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	path := chunkFilePath(bcm.branchDir, meta.ID)
	if h, ok := g.handles[path]; ok {
		h.refcount++
		g.recency.Add(path, struct{}{})
		return h, nil
	}

	g.evictLocked()

	file, err := openFile(bcm.branchDir, meta)
	if err != nil {
		return nil, fmt.Errorf("%w: open chunk %s: %v", chronoerr.ErrStorageBackend, meta.ID, err)
	}
	h := &handle{file: file, refcount: 1}
	g.handles[path] = h
	g.recency.Add(path, struct{}{})
	return h, nil
}

// evictLocked closes LRU-coldest handles with zero refcount until the pool
// is within MaxOpenFiles, or until every remaining handle is busy. Must be
// called with g.mu held.
func (g *GlobalChunkManager) evictLocked() {
	if len(g.handles) < g.MaxOpenFiles {
		return
	}
	for _, key := range g.recency.Keys() {
		if len(g.handles) < g.MaxOpenFiles {
			return
		}
		path, ok := key.(string)
		if !ok {
			continue
		}
		h, ok := g.handles[path]
		if !ok || h.refcount != 0 {
			continue
		}
		if err := h.file.store.Close(); err != nil {
			g.Logger.Warn("chunk handle close failed during eviction", "path", path, "error", err)
		}
		delete(g.handles, path)
		g.recency.Remove(path)
	}
}

// onTransactionClosed decrements the handle's refcount and opportunistically
// evicts now-idle handles if the pool is over its bound.
func (g *GlobalChunkManager) onTransactionClosed(path string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	h, ok := g.handles[path]
	if !ok {
		return
	}
	if h.refcount > 0 {
		h.refcount--
	}
	if len(g.handles) > g.MaxOpenFiles {
		g.evictLocked()
	}
}

// SealChunk marks chunk's pooled File handle sealed, if one happens to be
// open, so a stray writable transaction against it is rejected by the
// open handle itself and not just by BranchChunkManager's own bookkeeping.
// A chunk with no pooled handle needs no action: OpenTransaction already
// consults BranchChunkManager's Meta.Sealed before acquiring one.
func (g *GlobalChunkManager) SealChunk(bcm *BranchChunkManager, meta Meta, validTo uint64) error {
	g.mu.Lock()
	h, ok := g.handles[chunkFilePath(bcm.branchDir, meta.ID)]
	g.mu.Unlock()
	if !ok {
		return nil
	}
	return h.file.Seal(validTo)
}

// EnsureClosed closes the handle for a chunk file outright, failing with
// HandleBusy if a transaction is still live against it.
func (g *GlobalChunkManager) EnsureClosed(path string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	h, ok := g.handles[path]
	if !ok {
		return nil
	}
	if h.refcount != 0 {
		return fmt.Errorf("%w: %s", chronoerr.ErrHandleBusy, path)
	}
	if err := h.file.store.Close(); err != nil {
		return err
	}
	delete(g.handles, path)
	g.recency.Remove(path)
	return nil
}

// Shutdown closes every pooled handle unconditionally, for process exit.
func (g *GlobalChunkManager) Shutdown() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	var firstErr error
	for path, h := range g.handles {
		if err := h.file.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(g.handles, path)
		g.recency.Remove(path)
	}
	return firstErr
}
