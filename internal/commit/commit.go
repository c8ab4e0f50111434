// Package commit implements CommitPipeline: it serializes writes against
// one branch, assigns each commit its timestamp, coordinates the
// base-data write with index maintenance, and persists an opaque commit
// record alongside the rows it covers. Each Pipeline has one mutex, and
// Commit holds it for the whole commit, including the transaction's own
// disk I/O.
package commit

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"chronodb/internal/chronoerr"
	"chronodb/internal/chunk"
	"chronodb/internal/index"
	"chronodb/internal/index/extractor"
	"chronodb/internal/readcache"
	"chronodb/internal/temporalkey"
	"chronodb/internal/tmatrix"

	"github.com/vmihailenco/msgpack/v5"
)

// Write is one (keyspace, key) mutation submitted to a single commit. A
// Deleted write stores a tombstone rather than removing history.
type Write struct {
	Keyspace string
	Key      string
	Value    []byte
	Deleted  bool
}

// IndexDescriptor ties one named index to the keyspace it watches and the
// extractor that derives indexed values from a stored value.
type IndexDescriptor struct {
	IndexName string
	Keyspace  string
	Extractor extractor.Descriptor
}

// Record is the opaque commit metadata persisted at (branch, t).
type Record struct {
	T              uint64   `msgpack:"t"`
	Writes         int      `msgpack:"writes"`
	Deletes        int      `msgpack:"deletes"`
	IndexesTouched []string `msgpack:"indexesTouched,omitempty"`
	CommittedAt    int64    `msgpack:"committedAt"`
}

func recordKey(t uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, t)
	return k
}

// Pipeline drives commits for one branch. Commits always land on this
// branch directly; reads that fall through to an origin branch are
// BranchResolver's concern, not this package's.
type Pipeline struct {
	Branch string
	Global *chunk.GlobalChunkManager
	BCM    *chunk.BranchChunkManager
	Matrix *tmatrix.Matrix

	Index       *index.Backend
	Extractors  *extractor.Registry
	Descriptors []IndexDescriptor

	// ReadCache, if set, is invalidated by the cross-branch rule after
	// every successful commit. Nil disables cache invalidation (there is
	// nothing to invalidate).
	ReadCache *readcache.Cache

	Logger *slog.Logger

	mu      sync.Mutex // serializes commits on this branch
	lastT   uint64
	started bool
}

// New builds a commit pipeline for one branch. lastT seeds the logical
// clock; pass the timestamp of the most recently committed write (0 for a
// fresh branch).
func New(branch string, global *chunk.GlobalChunkManager, bcm *chunk.BranchChunkManager, matrix *tmatrix.Matrix, idx *index.Backend, extractors *extractor.Registry, descriptors []IndexDescriptor, lastT uint64, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		Branch:      branch,
		Global:      global,
		BCM:         bcm,
		Matrix:      matrix,
		Index:       idx,
		Extractors:  extractors,
		Descriptors: descriptors,
		Logger:      logger,
		lastT:       lastT,
	}
}

// WithReadCache attaches a ReadCache to be invalidated after every
// successful commit on this branch.
func (p *Pipeline) WithReadCache(c *readcache.Cache) *Pipeline {
	p.ReadCache = c
	return p
}

// LastCommittedT returns the timestamp of the most recently committed
// write on this branch, 0 if none yet.
func (p *Pipeline) LastCommittedT() temporalkey.Timestamp {
	return temporalkey.Timestamp(atomic.LoadUint64(&p.lastT))
}

// Commit applies a batch of writes as one atomic step: it acquires the
// branch's write lock, assigns the batch a single timestamp, rotates the
// head chunk if the rotation policy requires it, writes every row, derives
// and applies index modifications, and durably records the commit. Base
// data is always committed before index modifications are attempted; an
// index failure is surfaced as chronoerr.ErrIndexWriteFailed with the
// commit's timestamp still valid and the affected indexes marked dirty.
func (p *Pipeline) Commit(writes []Write) (temporalkey.Timestamp, error) {
	if len(writes) == 0 {
		return 0, fmt.Errorf("%w: commit requires at least one write", chronoerr.ErrInvalidArgument)
	}
	for _, w := range writes {
		if temporalkey.ContainsSeparator(w.Keyspace) || temporalkey.ContainsSeparator(w.Key) {
			return 0, fmt.Errorf("%w: keyspace/key may not contain the null separator byte", chronoerr.ErrInvalidArgument)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	t := p.lastT + 1

	if p.BCM.ShouldRotate() {
		oldHead, _, err := p.BCM.PerformRollover(t - 1)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", chronoerr.ErrBranchStalled, err)
		}
		if err := p.Global.SealChunk(p.BCM, oldHead, oldHead.ValidTo); err != nil {
			p.Logger.Warn("failed to seal rolled-over chunk's open handle", "branch", p.Branch, "chunk", oldHead.ID, "error", err)
		}
	}

	headMeta, err := p.BCM.HeadMeta()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", chronoerr.ErrBranchStalled, err)
	}
	if t < headMeta.ValidFrom {
		t = headMeta.ValidFrom
	}

	touchedIndexes, err := p.commitBaseData(writes, headMeta, t)
	if err != nil {
		return 0, err
	}

	atomic.StoreUint64(&p.lastT, t)

	if p.ReadCache != nil {
		p.ReadCache.OnCommit(p.Branch, t)
	}

	var rowBytes int64
	for _, w := range writes {
		rowBytes += int64(len(w.Keyspace) + len(w.Key) + len(w.Value) + 17)
	}
	if err := p.BCM.UpdateHeadStats(int64(len(writes)), rowBytes); err != nil {
		p.Logger.Warn("failed to update head chunk stats after commit", "branch", p.Branch, "t", t, "error", err)
	}

	if err := p.applyIndexModifications(writes, t); err != nil {
		for _, name := range touchedIndexes {
			if markErr := p.Index.MarkDirty(name); markErr != nil {
				p.Logger.Error("failed to mark index dirty after index write failure", "index", name, "error", markErr)
			}
		}
		p.Logger.Warn("index write failed after durable base-data commit", "branch", p.Branch, "t", t, "error", err)
		return temporalkey.Timestamp(t), fmt.Errorf("%w: %v", chronoerr.ErrIndexWriteFailed, err)
	}

	return temporalkey.Timestamp(t), nil
}

// commitBaseData opens the head chunk's transaction, writes every row and
// the commit record, and commits durably. It returns the set of index
// names this batch of writes is relevant to, for dirty-marking if the
// subsequent index step fails.
func (p *Pipeline) commitBaseData(writes []Write, headMeta chunk.Meta, t uint64) ([]string, error) {
	txn, _, err := p.Global.OpenTransaction(p.Branch, t, true)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			txn.Rollback()
			txn.Close()
		}
	}()

	deletes := 0
	touchedSet := make(map[string]struct{})
	for _, w := range writes {
		if err := p.Matrix.Put(txn, headMeta, w.Keyspace, w.Key, temporalkey.Timestamp(t), w.Value, w.Deleted); err != nil {
			return nil, err
		}
		if w.Deleted {
			deletes++
		}
		for _, d := range p.Descriptors {
			if d.Keyspace == w.Keyspace {
				touchedSet[d.IndexName] = struct{}{}
			}
		}
	}

	touched := make([]string, 0, len(touchedSet))
	for name := range touchedSet {
		touched = append(touched, name)
	}

	record := Record{
		T:              t,
		Writes:         len(writes),
		Deletes:        deletes,
		IndexesTouched: touched,
		CommittedAt:    time.Now().UnixNano(),
	}
	raw, err := msgpack.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("commit: encode commit record: %w", err)
	}
	if err := txn.Store(chunk.CommitsBucket, recordKey(t), raw); err != nil {
		return nil, err
	}

	if err := txn.Commit(); err != nil {
		return nil, err
	}
	committed = true
	txn.Close()
	return touched, nil
}

// applyIndexModifications derives create/terminate document changes for
// every index watching a written keyspace and applies them atomically
// against the index backend. It runs after the base-data commit so the
// durable record always precedes its derived index state.
func (p *Pipeline) applyIndexModifications(writes []Write, t uint64) error {
	if p.Index == nil || len(p.Descriptors) == 0 {
		return nil
	}

	mods := index.Modifications{}
	for _, w := range writes {
		for _, d := range p.Descriptors {
			if d.Keyspace != w.Keyspace {
				continue
			}
			termMods, creations, err := p.diffIndexedValues(d, w, t)
			if err != nil {
				return err
			}
			mods.Terminations = append(mods.Terminations, termMods...)
			mods.Creations = append(mods.Creations, creations...)
		}
	}
	if len(mods.Terminations) == 0 && len(mods.Creations) == 0 {
		return nil
	}
	return p.Index.ApplyModifications(mods)
}

func (p *Pipeline) diffIndexedValues(d IndexDescriptor, w Write, t uint64) ([]index.Termination, []index.NewDocument, error) {
	extr, err := p.Extractors.Resolve(d.Extractor)
	if err != nil {
		return nil, nil, err
	}

	current, err := p.Index.GetMatching(p.Branch, w.Keyspace, t, index.SearchSpec{
		IndexName: d.IndexName,
		Match:     index.MatchCustom,
		Predicate: func([]byte) bool { return true },
	})
	if err != nil {
		return nil, nil, err
	}

	var currentForKey []index.Document
	for _, doc := range current {
		if doc.Key == w.Key {
			currentForKey = append(currentForKey, doc)
		}
	}

	var newValues [][]byte
	if !w.Deleted {
		newValues, err = extr.Extract(w.Value)
		if err != nil {
			return nil, nil, fmt.Errorf("commit: extractor %q: %w", d.Extractor.Name, err)
		}
	}

	keep := make(map[string]bool, len(newValues))
	for _, v := range newValues {
		keep[string(v)] = false
	}

	var terminations []index.Termination
	for _, doc := range currentForKey {
		if _, want := keep[string(doc.IndexedValue)]; want {
			keep[string(doc.IndexedValue)] = true
			continue
		}
		terminations = append(terminations, index.Termination{DocID: doc.ID, ValidTo: t})
	}

	var creations []index.NewDocument
	for _, v := range newValues {
		if keep[string(v)] {
			continue
		}
		creations = append(creations, index.NewDocument{
			Branch:       p.Branch,
			Keyspace:     w.Keyspace,
			Key:          w.Key,
			IndexName:    d.IndexName,
			IndexedValue: v,
			ValidFrom:    t,
		})
	}
	return terminations, creations, nil
}
