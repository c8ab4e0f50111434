// Package index implements IndexBackend: a document store keyed by
// synthetic ID, with secondary lookup by (branch, keyspace, indexName,
// indexed value); validity is checked per document when it is read. It
// follows an indexer-list-feeding-a-typed-
// store shape, generalized from "index ingested chunk records" to "index
// temporal documents with validity intervals".
package index

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"chronodb/internal/chronoerr"
	"chronodb/internal/kvstore"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	bucketDocuments = "index_documents"
	bucketByValue   = "index_by_value"
	bucketDirty     = "index_dirty"
)

// ValidToInfinite marks a document as currently valid (not yet terminated).
const ValidToInfinite = math.MaxUint64

// Document is one indexed fact: (branch, keyspace, key, indexName) held
// IndexedValue during [ValidFrom, ValidTo).
type Document struct {
	ID           uint64 `msgpack:"id"`
	Branch       string `msgpack:"branch"`
	Keyspace     string `msgpack:"keyspace"`
	Key          string `msgpack:"key"`
	IndexName    string `msgpack:"indexName"`
	IndexedValue []byte `msgpack:"indexedValue"`
	ValidFrom    uint64 `msgpack:"validFrom"`
	ValidTo      uint64 `msgpack:"validTo"`
}

func (d Document) valid(t uint64) bool {
	return d.ValidFrom <= t && t < d.ValidTo
}

// NewDocument describes a document creation, before a synthetic ID is
// assigned.
type NewDocument struct {
	Branch       string
	Keyspace     string
	Key          string
	IndexName    string
	IndexedValue []byte
	ValidFrom    uint64
}

// Termination describes setting an existing document's ValidTo.
type Termination struct {
	DocID   uint64
	ValidTo uint64
}

// Modifications is the disjoint three-part change set applyModifications
// performs atomically.
type Modifications struct {
	Terminations []Termination
	Creations    []NewDocument
	Deletions    []uint64
}

// MatchKind selects how SearchSpec.Value is compared against a document's
// IndexedValue.
type MatchKind int

const (
	MatchEquals MatchKind = iota
	MatchPrefix
	MatchCustom
)

// SearchSpec selects documents by indexed value within getMatching's
// (branch, keyspace, T, indexName) scope.
type SearchSpec struct {
	IndexName string
	Match     MatchKind
	Value     []byte
	Predicate func(indexedValue []byte) bool // used when Match == MatchCustom
}

func (s SearchSpec) matches(value []byte) bool {
	switch s.Match {
	case MatchEquals:
		return string(value) == string(s.Value)
	case MatchPrefix:
		return len(value) >= len(s.Value) && string(value[:len(s.Value)]) == string(s.Value)
	case MatchCustom:
		return s.Predicate != nil && s.Predicate(value)
	default:
		return false
	}
}

// Backend is the concrete IndexBackend, backed by one kvstore.Store.
// Writes are single-writer, serialized by mu; reads open their own
// transactions and never block on mu.
type Backend struct {
	store kvstore.Store

	mu     sync.Mutex
	nextID uint64
}

// Open wraps an already-open kvstore.Store as an index backend.
func Open(store kvstore.Store) (*Backend, error) {
	b := &Backend{store: store}
	tx, err := store.BeginTx(false)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	it, err := tx.Scan(bucketDocuments, nil, nil, kvstore.Descending)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	if it.Next() {
		b.nextID = binary.BigEndian.Uint64(it.Item().Key) + 1
	}
	return b, nil
}

func docKey(id uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, id)
	return k
}

// valueKey encodes the secondary index key:
// branch \x00 keyspace \x00 indexName \x00 indexedValue \x00 docID, so a
// prefix scan over (branch, keyspace, indexName) yields every document for
// that scope ordered by indexed value then by creation order.
func valueKey(branch, keyspace, indexName string, value []byte, docID uint64) []byte {
	out := make([]byte, 0, len(branch)+len(keyspace)+len(indexName)+len(value)+8+4)
	out = append(out, []byte(branch)...)
	out = append(out, 0)
	out = append(out, []byte(keyspace)...)
	out = append(out, 0)
	out = append(out, []byte(indexName)...)
	out = append(out, 0)
	out = append(out, value...)
	out = append(out, 0)
	out = append(out, docKey(docID)...)
	return out
}

func valuePrefix(branch, keyspace, indexName string) []byte {
	out := make([]byte, 0, len(branch)+len(keyspace)+len(indexName)+3)
	out = append(out, []byte(branch)...)
	out = append(out, 0)
	out = append(out, []byte(keyspace)...)
	out = append(out, 0)
	out = append(out, []byte(indexName)...)
	out = append(out, 0)
	return out
}

func valuePrefixUpperBound(prefix []byte) []byte {
	out := make([]byte, len(prefix))
	copy(out, prefix)
	out = append(out, 0xFF)
	return out
}

// ApplyModifications atomically performs terminations, creations, and
// deletions in one kvstore transaction.
func (b *Backend) ApplyModifications(mods Modifications) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	tx, err := b.store.BeginTx(true)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	for _, term := range mods.Terminations {
		doc, err := b.loadDoc(tx, term.DocID)
		if err != nil {
			return err
		}
		if err := b.deleteDocRow(tx, doc); err != nil {
			return err
		}
		doc.ValidTo = term.ValidTo
		if err := b.putDoc(tx, doc); err != nil {
			return err
		}
	}

	for _, nd := range mods.Creations {
		id := b.nextID
		b.nextID++
		doc := Document{
			ID:           id,
			Branch:       nd.Branch,
			Keyspace:     nd.Keyspace,
			Key:          nd.Key,
			IndexName:    nd.IndexName,
			IndexedValue: nd.IndexedValue,
			ValidFrom:    nd.ValidFrom,
			ValidTo:      ValidToInfinite,
		}
		if err := b.putDoc(tx, doc); err != nil {
			return err
		}
	}

	for _, id := range mods.Deletions {
		doc, err := b.loadDoc(tx, id)
		if err != nil {
			return err
		}
		if err := b.deleteDocRow(tx, doc); err != nil {
			return err
		}
		if err := tx.Delete(bucketDocuments, docKey(id)); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func (b *Backend) loadDoc(tx kvstore.Txn, id uint64) (Document, error) {
	raw, ok, err := tx.Load(bucketDocuments, docKey(id))
	if err != nil {
		return Document{}, err
	}
	if !ok {
		return Document{}, fmt.Errorf("%w: document %d", chronoerr.ErrInvalidArgument, id)
	}
	var doc Document
	if err := msgpack.Unmarshal(raw, &doc); err != nil {
		return Document{}, fmt.Errorf("index: decode document %d: %w", id, err)
	}
	return doc, nil
}

func (b *Backend) putDoc(tx kvstore.Txn, doc Document) error {
	raw, err := msgpack.Marshal(doc)
	if err != nil {
		return fmt.Errorf("index: encode document %d: %w", doc.ID, err)
	}
	if err := tx.Store(bucketDocuments, docKey(doc.ID), raw); err != nil {
		return err
	}
	return tx.Store(bucketByValue, valueKey(doc.Branch, doc.Keyspace, doc.IndexName, doc.IndexedValue, doc.ID), docKey(doc.ID))
}

func (b *Backend) deleteDocRow(tx kvstore.Txn, doc Document) error {
	return tx.Delete(bucketByValue, valueKey(doc.Branch, doc.Keyspace, doc.IndexName, doc.IndexedValue, doc.ID))
}

// GetMatching returns documents in (branch, keyspace) valid at T under
// indexName whose indexed value satisfies spec's predicate.
func (b *Backend) GetMatching(branch, keyspace string, T uint64, spec SearchSpec) ([]Document, error) {
	if dirty, err := b.DirtyState(spec.IndexName); err != nil {
		return nil, err
	} else if dirty {
		return nil, fmt.Errorf("%w: index %s", chronoerr.ErrIndexDirty, spec.IndexName)
	}

	tx, err := b.store.BeginTx(false)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	prefix := valuePrefix(branch, keyspace, spec.IndexName)
	it, err := tx.Scan(bucketByValue, prefix, valuePrefixUpperBound(prefix), kvstore.Ascending)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []Document
	for it.Next() {
		docKeyBytes := it.Item().Value
		raw, ok, err := tx.Load(bucketDocuments, docKeyBytes)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		var doc Document
		if err := msgpack.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("index: decode document: %w", err)
		}
		if !doc.valid(T) {
			continue
		}
		if !spec.matches(doc.IndexedValue) {
			continue
		}
		out = append(out, doc)
	}
	return out, it.Err()
}

// DirtyState reports whether indexName needs a rebuild before it can be
// queried.
func (b *Backend) DirtyState(indexName string) (bool, error) {
	tx, err := b.store.BeginTx(false)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	raw, ok, err := tx.Load(bucketDirty, []byte(indexName))
	if err != nil {
		return false, err
	}
	return ok && len(raw) == 1 && raw[0] == 1, nil
}

// MarkDirty flags indexName as needing a rebuild, e.g. after an
// IndexWriteFailed during commit.
func (b *Backend) MarkDirty(indexName string) error {
	return b.setDirty(indexName, true)
}

func (b *Backend) setDirty(indexName string, dirty bool) error {
	tx, err := b.store.BeginTx(true)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	val := []byte{0}
	if dirty {
		val = []byte{1}
	}
	if err := tx.Store(bucketDirty, []byte(indexName), val); err != nil {
		return err
	}
	return tx.Commit()
}

// Rebuild replaces every document under indexName with the set freshly
// computed by build, then clears the dirty flag. build is supplied by the
// caller (the commit/query layer), which alone knows how to re-scan base
// data across branches; this package only owns document storage.
func (b *Backend) Rebuild(indexName string, build func() ([]NewDocument, error)) error {
	fresh, err := build()
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	tx, err := b.store.BeginTx(true)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	if err := b.deleteAllForIndex(tx, indexName); err != nil {
		return err
	}
	for _, nd := range fresh {
		if nd.IndexName != indexName {
			continue
		}
		id := b.nextID
		b.nextID++
		doc := Document{
			ID:           id,
			Branch:       nd.Branch,
			Keyspace:     nd.Keyspace,
			Key:          nd.Key,
			IndexName:    nd.IndexName,
			IndexedValue: nd.IndexedValue,
			ValidFrom:    nd.ValidFrom,
			ValidTo:      ValidToInfinite,
		}
		if err := b.putDoc(tx, doc); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return b.setDirty(indexName, false)
}

func (b *Backend) deleteAllForIndex(tx kvstore.Txn, indexName string) error {
	it, err := tx.Scan(bucketDocuments, nil, nil, kvstore.Ascending)
	if err != nil {
		return err
	}
	defer it.Close()
	var toDelete []Document
	for it.Next() {
		var doc Document
		if err := msgpack.Unmarshal(it.Item().Value, &doc); err != nil {
			return fmt.Errorf("index: decode document during rebuild scan: %w", err)
		}
		if doc.IndexName == indexName {
			toDelete = append(toDelete, doc)
		}
	}
	if err := it.Err(); err != nil {
		return err
	}
	for _, doc := range toDelete {
		if err := tx.Delete(bucketDocuments, docKey(doc.ID)); err != nil {
			return err
		}
		if err := b.deleteDocRow(tx, doc); err != nil {
			return err
		}
	}
	return nil
}
