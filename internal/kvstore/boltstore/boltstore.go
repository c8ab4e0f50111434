// Package boltstore backs kvstore.Store with go.etcd.io/bbolt, an
// embedded, ordered, transactional B+tree keyed by raw byte slices —
// an opaque ordered map with transactions that the core treats as an
// external collaborator. Keys are compared byte-wise by bbolt natively,
// which is what TemporalKeyCodec's ordering invariant
// depends on.
package boltstore

import (
	"errors"
	"fmt"

	"chronodb/internal/chronoerr"
	"chronodb/internal/kvstore"

	bolt "go.etcd.io/bbolt"
)

// Store opens one bbolt database file as an ordered KV store.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the bbolt database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o640, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", chronoerr.ErrStorageBackend, path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) BeginTx(writable bool) (kvstore.Txn, error) {
	tx, err := s.db.Begin(writable)
	if err != nil {
		return nil, fmt.Errorf("%w: begin tx: %v", chronoerr.ErrStorageBackend, err)
	}
	return &txn{tx: tx, writable: writable}, nil
}

// BeginBogusTx starts a read-only bbolt transaction. bbolt read
// transactions never write to the WAL/file, so this naturally satisfies
// the "no-durability" requirement of a bogus transaction.
func (s *Store) BeginBogusTx() (kvstore.Txn, error) {
	tx, err := s.db.Begin(false)
	if err != nil {
		return nil, fmt.Errorf("%w: begin bogus tx: %v", chronoerr.ErrStorageBackend, err)
	}
	return &txn{tx: tx, writable: false, bogus: true}, nil
}

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("%w: close: %v", chronoerr.ErrStorageBackend, err)
	}
	return nil
}

type txn struct {
	tx       *bolt.Tx
	writable bool
	bogus    bool
	done     bool
}

func (t *txn) Writable() bool { return t.writable }

func (t *txn) bucket(name string, create bool) (*bolt.Bucket, error) {
	if create {
		b, err := t.tx.CreateBucketIfNotExists([]byte(name))
		if err != nil {
			return nil, fmt.Errorf("%w: create bucket %s: %v", chronoerr.ErrStorageBackend, name, err)
		}
		return b, nil
	}
	return t.tx.Bucket([]byte(name)), nil
}

func (t *txn) Store(bucket string, key, value []byte) error {
	if !t.writable {
		return kvstore.ErrBogusWrite
	}
	b, err := t.bucket(bucket, true)
	if err != nil {
		return err
	}
	if err := b.Put(key, value); err != nil {
		return fmt.Errorf("%w: put: %v", chronoerr.ErrStorageBackend, err)
	}
	return nil
}

func (t *txn) Delete(bucket string, key []byte) error {
	if !t.writable {
		return kvstore.ErrBogusWrite
	}
	b, err := t.bucket(bucket, false)
	if err != nil {
		return err
	}
	if b == nil {
		return nil
	}
	if err := b.Delete(key); err != nil {
		return fmt.Errorf("%w: delete: %v", chronoerr.ErrStorageBackend, err)
	}
	return nil
}

func (t *txn) Load(bucket string, key []byte) ([]byte, bool, error) {
	b, err := t.bucket(bucket, false)
	if err != nil {
		return nil, false, err
	}
	if b == nil {
		return nil, false, nil
	}
	v := b.Get(key)
	if v == nil {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

func (t *txn) Scan(bucket string, lo, hi []byte, order kvstore.Order) (kvstore.Iterator, error) {
	b, err := t.bucket(bucket, false)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return &emptyIterator{}, nil
	}
	return &cursorIterator{cursor: b.Cursor(), lo: lo, hi: hi, order: order, started: false}, nil
}

func (t *txn) Floor(bucket string, key []byte) (kvstore.Item, bool, error) {
	b, err := t.bucket(bucket, false)
	if err != nil {
		return kvstore.Item{}, false, err
	}
	if b == nil {
		return kvstore.Item{}, false, nil
	}
	c := b.Cursor()
	k, v := c.Seek(key)
	if k == nil {
		// Seek landed past the end; the last entry, if any, is the floor.
		k, v = c.Last()
		if k == nil {
			return kvstore.Item{}, false, nil
		}
		return cloneItem(k, v), true, nil
	}
	if string(k) == string(key) {
		return cloneItem(k, v), true, nil
	}
	// Seek landed on the first key > target; step back one.
	k, v = c.Prev()
	if k == nil {
		return kvstore.Item{}, false, nil
	}
	return cloneItem(k, v), true, nil
}

func (t *txn) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	if t.bogus || !t.writable {
		return t.tx.Rollback()
	}
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", chronoerr.ErrStorageBackend, err)
	}
	return nil
}

func (t *txn) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, bolt.ErrTxClosed) {
		return fmt.Errorf("%w: rollback: %v", chronoerr.ErrStorageBackend, err)
	}
	return nil
}

func cloneItem(k, v []byte) kvstore.Item {
	ck := make([]byte, len(k))
	copy(ck, k)
	cv := make([]byte, len(v))
	copy(cv, v)
	return kvstore.Item{Key: ck, Value: cv}
}

type cursorIterator struct {
	cursor  *bolt.Cursor
	lo, hi  []byte
	order   kvstore.Order
	started bool
	cur     kvstore.Item
	done    bool
}

func (it *cursorIterator) Next() bool {
	if it.done {
		return false
	}
	var k, v []byte
	if !it.started {
		it.started = true
		if it.order == kvstore.Descending {
			if it.hi != nil {
				k, v = it.cursor.Seek(it.hi)
				if k == nil {
					k, v = it.cursor.Last()
				} else if string(k) != string(it.hi) {
					k, v = it.cursor.Prev()
				}
			} else {
				k, v = it.cursor.Last()
			}
		} else {
			if it.lo != nil {
				k, v = it.cursor.Seek(it.lo)
			} else {
				k, v = it.cursor.First()
			}
		}
	} else if it.order == kvstore.Descending {
		k, v = it.cursor.Prev()
	} else {
		k, v = it.cursor.Next()
	}

	if k == nil {
		it.done = true
		return false
	}
	if it.order == kvstore.Ascending && it.hi != nil && string(k) > string(it.hi) {
		it.done = true
		return false
	}
	if it.order == kvstore.Descending && it.lo != nil && string(k) < string(it.lo) {
		it.done = true
		return false
	}
	it.cur = cloneItem(k, v)
	return true
}

func (it *cursorIterator) Item() kvstore.Item { return it.cur }
func (it *cursorIterator) Err() error         { return nil }
func (it *cursorIterator) Close() error       { return nil }

type emptyIterator struct{}

func (emptyIterator) Next() bool            { return false }
func (emptyIterator) Item() kvstore.Item    { return kvstore.Item{} }
func (emptyIterator) Err() error            { return nil }
func (emptyIterator) Close() error          { return nil }

var _ kvstore.Store = (*Store)(nil)
