// Package kvstore defines the opaque ordered key-value store contract the
// ChronoDB core consumes: insert, point-get, range-scan, and transactional
// commit/rollback over a file, plus a "bogus" (no-durability, read-only)
// transaction flavor for side-effect-free reads.
//
// This is the one external collaborator the core treats as opaque — it
// never reaches past this interface into a specific backend's internals.
// Two implementations are provided: boltstore (file-backed, via
// go.etcd.io/bbolt) and memstore (in-memory, used by tests), mirroring a
// file/memory manager split. Chunk files always use boltstore.
package kvstore

import "chronodb/internal/chronoerr"

// Order selects ascending or descending iteration for Scan.
type Order int

const (
	Ascending Order = iota
	Descending
)

// Item is one key/value pair returned from a scan or floor lookup.
type Item struct {
	Key   []byte
	Value []byte
}

// Iterator is a single-pass, forward-only cursor over the results of a
// Scan call. It must be fully consumed or Closed before the enclosing
// transaction closes.
type Iterator interface {
	// Next advances the iterator and reports whether an item is available.
	Next() bool
	// Item returns the current item. Only valid after a Next call returned true.
	Item() Item
	// Err returns any error encountered during iteration.
	Err() error
	// Close releases resources held by the iterator.
	Close() error
}

// Txn is a transaction over one bucket-partitioned ordered key space.
// "Bucket" here is the KV store's own partitioning (one chunk file may hold
// several buckets, e.g. a row bucket and small management buckets); it is
// unrelated to ChronoDB's own (branch, keyspace) concepts layered on top.
type Txn interface {
	// Store inserts or overwrites key with value in bucket.
	Store(bucket string, key, value []byte) error
	// Load returns the value for key in bucket, or ok=false if absent.
	Load(bucket string, key []byte) (value []byte, ok bool, err error)
	// Scan returns an iterator over [lo, hi] in bucket, in the given order.
	// A nil lo/hi means "unbounded" on that side.
	Scan(bucket string, lo, hi []byte, order Order) (Iterator, error)
	// Floor returns the greatest item with key <= the given key in bucket,
	// or ok=false if no such item exists.
	Floor(bucket string, key []byte) (item Item, ok bool, err error)
	// Delete removes key from bucket. Deleting an absent key is a no-op.
	Delete(bucket string, key []byte) error
	// Writable reports whether this transaction may mutate the store.
	// A bogus transaction is never writable.
	Writable() bool
	// Commit durably applies the transaction's writes. On a bogus or
	// read-only transaction it applies nothing, ends the transaction and
	// returns nil.
	Commit() error
	// Rollback discards the transaction's writes. Always safe to call,
	// including after Commit (no-op) or multiple times (no-op).
	Rollback() error
}

// Store is one opaque ordered KV file handle.
type Store interface {
	// BeginTx starts a real transaction. If writable, the transaction may
	// call Store/Delete; Commit durably applies them.
	BeginTx(writable bool) (Txn, error)
	// BeginBogusTx starts a no-durability, read-only transaction suitable
	// for side-effect-free point/range reads that must not be allowed to
	// mutate the store. Writes against a bogus transaction fail.
	BeginBogusTx() (Txn, error)
	// Close releases the underlying file handle. Implementations must
	// tolerate Close being called with no open transactions (callers are
	// responsible for that invariant; see internal/chunk's GlobalChunkManager).
	Close() error
}

// ErrBogusWrite is returned when a write method is called against a bogus
// (no-durability) transaction.
var ErrBogusWrite = chronoerr.ErrInvalidArgument
