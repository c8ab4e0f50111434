// Package tmatrix implements TemporalMatrix: point-in-time get, per-key
// history, and time-range modification scans, built atop one branch's
// chunk manager plus the temporal key codec. History and
// ModificationsBetween return fully built slices of decoded temporal
// triples; History sorts its slice in ascending or descending order.
package tmatrix

import (
	"fmt"
	"sort"

	"chronodb/internal/chronoerr"
	"chronodb/internal/chunk"
	"chronodb/internal/kvstore"
	"chronodb/internal/temporalkey"
)

// row tags distinguish a stored value from an explicit tombstone, since a
// zero-length byte slice is otherwise ambiguous between "empty value" and
// "deleted".
const (
	tagValue     byte = 1
	tagTombstone byte = 0
)

func encodeRow(value []byte, tombstone bool) []byte {
	if tombstone {
		return []byte{tagTombstone}
	}
	out := make([]byte, 1+len(value))
	out[0] = tagValue
	copy(out[1:], value)
	return out
}

func decodeRow(raw []byte) (value []byte, tombstone bool, err error) {
	if len(raw) == 0 {
		return nil, false, fmt.Errorf("tmatrix: empty row")
	}
	switch raw[0] {
	case tagTombstone:
		return nil, true, nil
	case tagValue:
		return raw[1:], false, nil
	default:
		return nil, false, fmt.Errorf("tmatrix: unknown row tag %d", raw[0])
	}
}

// Order selects ascending or descending iteration for History.
type Order int

const (
	Ascending Order = iota
	Descending
)

// Version is one historical value of a key at a specific timestamp.
type Version struct {
	T         temporalkey.Timestamp
	Value     []byte
	Tombstone bool
}

// Modification is one stored row surfaced by ModificationsBetween.
type Modification struct {
	T        temporalkey.Timestamp
	Keyspace string
	Key      string
	Value    []byte
	Deleted  bool
}

// Matrix reads and writes one branch's temporal rows through its chunk
// manager, without knowledge of branch ancestry — walking across a fork
// point into an origin branch is BranchResolver's job, layered above this.
type Matrix struct {
	Global *chunk.GlobalChunkManager
	BCM    *chunk.BranchChunkManager
	Branch string
}

// New builds a Matrix over one branch's already-registered chunk manager.
func New(global *chunk.GlobalChunkManager, bcm *chunk.BranchChunkManager, branch string) *Matrix {
	return &Matrix{Global: global, BCM: bcm, Branch: branch}
}

// Get performs a point-in-time read of (keyspace, key) as of T, walking
// backward across sealed chunks when the current chunk holds no version of
// the key at all (as opposed to holding an explicit tombstone, which is
// itself a terminal answer).
func (m *Matrix) Get(keyspace, key string, T temporalkey.Timestamp) (value []byte, found bool, err error) {
	cur := uint64(T)
	for {
		meta, cerr := m.BCM.ChunkForTimestamp(cur)
		if cerr != nil {
			return nil, false, nil
		}

		txn, berr := m.Global.OpenBogusTransaction(m.BCM, meta)
		if berr != nil {
			return nil, false, berr
		}
		item, ok, ferr := txn.Floor(chunk.RowsBucket, temporalkey.Encode(keyspace, key, temporalkey.Timestamp(cur)))
		txn.Rollback()
		txn.Close()
		if ferr != nil {
			return nil, false, ferr
		}

		if ok {
			triple, derr := temporalkey.Decode(item.Key)
			if derr != nil {
				return nil, false, derr
			}
			if triple.SamePair(keyspace, key) {
				v, tombstone, rerr := decodeRow(item.Value)
				if rerr != nil {
					return nil, false, rerr
				}
				if tombstone {
					return nil, true, nil
				}
				return v, true, nil
			}
		}

		if meta.ValidFrom == 0 {
			return nil, false, nil
		}
		cur = meta.ValidFrom - 1
	}
}

// History returns every version of (keyspace, key) with t <= T, across every
// chunk whose interval touches [0, T], in the requested order.
func (m *Matrix) History(keyspace, key string, T temporalkey.Timestamp, order Order) ([]Version, error) {
	chunks, err := m.BCM.ChunksInRange(0, uint64(T))
	if err != nil {
		return nil, err
	}

	prefix := temporalkey.EncodePrefix(keyspace, key)
	upper := temporalkey.Encode(keyspace, key, T)

	var out []Version
	for _, meta := range chunks {
		txn, err := m.Global.OpenBogusTransaction(m.BCM, meta)
		if err != nil {
			return nil, err
		}
		versions, err := scanVersions(txn, prefix, upper, keyspace, key)
		txn.Rollback()
		txn.Close()
		if err != nil {
			return nil, err
		}
		out = append(out, versions...)
	}

	sort.Slice(out, func(i, j int) bool {
		if order == Descending {
			return out[i].T > out[j].T
		}
		return out[i].T < out[j].T
	})
	return out, nil
}

func scanVersions(txn *chunk.Txn, prefix, upper []byte, keyspace, key string) ([]Version, error) {
	it, err := txn.Scan(chunk.RowsBucket, prefix, upper, kvstore.Ascending)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []Version
	for it.Next() {
		item := it.Item()
		triple, err := temporalkey.Decode(item.Key)
		if err != nil {
			return nil, err
		}
		if !triple.SamePair(keyspace, key) {
			continue
		}
		value, tombstone, err := decodeRow(item.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, Version{T: triple.T, Value: value, Tombstone: tombstone})
	}
	return out, it.Err()
}

// ModificationsBetween scans every chunk intersecting [lo, hi] and emits
// every stored row whose timestamp falls in that window.
func (m *Matrix) ModificationsBetween(lo, hi temporalkey.Timestamp) ([]Modification, error) {
	chunks, err := m.BCM.ChunksInRange(uint64(lo), uint64(hi))
	if err != nil {
		return nil, err
	}

	var out []Modification
	for _, meta := range chunks {
		txn, err := m.Global.OpenBogusTransaction(m.BCM, meta)
		if err != nil {
			return nil, err
		}
		mods, err := scanModifications(txn, lo, hi)
		txn.Rollback()
		txn.Close()
		if err != nil {
			return nil, err
		}
		out = append(out, mods...)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].T < out[j].T })
	return out, nil
}

func scanModifications(txn *chunk.Txn, lo, hi temporalkey.Timestamp) ([]Modification, error) {
	it, err := txn.Scan(chunk.RowsBucket, nil, nil, kvstore.Ascending)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []Modification
	for it.Next() {
		item := it.Item()
		triple, err := temporalkey.Decode(item.Key)
		if err != nil {
			return nil, err
		}
		if triple.T < lo || triple.T > hi {
			continue
		}
		value, tombstone, err := decodeRow(item.Value)
		if err != nil {
			return nil, err
		}
		out = append(out, Modification{
			T:        triple.T,
			Keyspace: triple.Keyspace,
			Key:      triple.Key,
			Value:    value,
			Deleted:  tombstone,
		})
	}
	return out, it.Err()
}

// Put writes value (or a tombstone, when tombstone is true) for
// (keyspace, key) at timestamp t into the head chunk's already-open
// transaction. Writing a t older than the head chunk's lower bound is
// rejected: callers may only write into the head.
func (m *Matrix) Put(txn *chunk.Txn, headMeta chunk.Meta, keyspace, key string, t temporalkey.Timestamp, value []byte, tombstone bool) error {
	if uint64(t) < headMeta.ValidFrom {
		return fmt.Errorf("%w: t=%d precedes head chunk validFrom=%d", chronoerr.ErrTimestampPrecedesHead, t, headMeta.ValidFrom)
	}
	encKey := temporalkey.Encode(keyspace, key, t)
	return txn.Store(chunk.RowsBucket, encKey, encodeRow(value, tombstone))
}
