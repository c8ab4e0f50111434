// Package memstore is an in-memory kvstore.Store implementation, used by
// tests (for example the index and commit tests). It follows a memory chunk
// manager in spirit: a single mutex guarding plain Go maps, no IO,
// correctness over throughput.
package memstore

import (
	"bytes"
	"slices"
	"sync"

	"chronodb/internal/kvstore"
)

// Store is an in-memory, bucket-partitioned ordered key-value store.
type Store struct {
	mu      sync.Mutex
	buckets map[string]map[string][]byte
	closed  bool
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{buckets: make(map[string]map[string][]byte)}
}

func (s *Store) BeginTx(writable bool) (kvstore.Txn, error) {
	return &txn{store: s, writable: writable, bogus: false}, nil
}

func (s *Store) BeginBogusTx() (kvstore.Txn, error) {
	return &txn{store: s, writable: false, bogus: true}, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type writeOp struct {
	bucket string
	key    []byte
	value  []byte // nil means delete
}

// txn buffers writes and applies them atomically under the store mutex at
// Commit time, giving memstore the same all-or-nothing visibility the file
// backend gets from a real bbolt transaction.
type txn struct {
	store    *Store
	writable bool
	bogus    bool
	writes   []writeOp
	done     bool
}

func (t *txn) Writable() bool { return t.writable }

func (t *txn) Store(bucket string, key, value []byte) error {
	if !t.writable {
		return kvstore.ErrBogusWrite
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	t.writes = append(t.writes, writeOp{bucket: bucket, key: append([]byte(nil), key...), value: cp})
	return nil
}

func (t *txn) Delete(bucket string, key []byte) error {
	if !t.writable {
		return kvstore.ErrBogusWrite
	}
	t.writes = append(t.writes, writeOp{bucket: bucket, key: append([]byte(nil), key...), value: nil})
	return nil
}

// visibleBucket returns a snapshot view of bucket with this txn's own
// buffered writes applied on top, so a transaction can read back its own
// uncommitted writes.
func (t *txn) visibleBucket(bucket string) map[string][]byte {
	t.store.mu.Lock()
	base := t.store.buckets[bucket]
	out := make(map[string][]byte, len(base))
	for k, v := range base {
		out[k] = v
	}
	t.store.mu.Unlock()

	for _, w := range t.writes {
		if w.bucket != bucket {
			continue
		}
		if w.value == nil {
			delete(out, string(w.key))
		} else {
			out[string(w.key)] = w.value
		}
	}
	return out
}

func (t *txn) Load(bucket string, key []byte) ([]byte, bool, error) {
	view := t.visibleBucket(bucket)
	v, ok := view[string(key)]
	return v, ok, nil
}

func (t *txn) Scan(bucket string, lo, hi []byte, order kvstore.Order) (kvstore.Iterator, error) {
	view := t.visibleBucket(bucket)
	keys := make([][]byte, 0, len(view))
	for k := range view {
		kb := []byte(k)
		if lo != nil && bytes.Compare(kb, lo) < 0 {
			continue
		}
		if hi != nil && bytes.Compare(kb, hi) > 0 {
			continue
		}
		keys = append(keys, kb)
	}
	slices.SortFunc(keys, bytes.Compare)
	if order == kvstore.Descending {
		slices.Reverse(keys)
	}
	items := make([]kvstore.Item, len(keys))
	for i, k := range keys {
		items[i] = kvstore.Item{Key: k, Value: view[string(k)]}
	}
	return &sliceIterator{items: items, pos: -1}, nil
}

func (t *txn) Floor(bucket string, key []byte) (kvstore.Item, bool, error) {
	view := t.visibleBucket(bucket)
	var best []byte
	hasBest := false
	for k := range view {
		kb := []byte(k)
		if bytes.Compare(kb, key) > 0 {
			continue
		}
		if !hasBest || bytes.Compare(kb, best) > 0 {
			best = kb
			hasBest = true
		}
	}
	if !hasBest {
		return kvstore.Item{}, false, nil
	}
	return kvstore.Item{Key: best, Value: view[string(best)]}, true, nil
}

func (t *txn) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	if !t.writable {
		return nil
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for _, w := range t.writes {
		b, ok := t.store.buckets[w.bucket]
		if !ok {
			b = make(map[string][]byte)
			t.store.buckets[w.bucket] = b
		}
		if w.value == nil {
			delete(b, string(w.key))
		} else {
			b[string(w.key)] = w.value
		}
	}
	return nil
}

func (t *txn) Rollback() error {
	t.done = true
	t.writes = nil
	return nil
}

type sliceIterator struct {
	items []kvstore.Item
	pos   int
}

func (it *sliceIterator) Next() bool {
	it.pos++
	return it.pos < len(it.items)
}

func (it *sliceIterator) Item() kvstore.Item { return it.items[it.pos] }
func (it *sliceIterator) Err() error         { return nil }
func (it *sliceIterator) Close() error       { return nil }

var _ kvstore.Store = (*Store)(nil)
