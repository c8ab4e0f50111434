package chunk

import (
	"fmt"
	"path/filepath"

	"chronodb/internal/kvstore"
	"chronodb/internal/kvstore/boltstore"
)

// RowsBucket is the kvstore bucket every ChunkFile stores its encoded
// temporal rows under. One bucket per file keeps the scan/floor surface
// simple; chunks never need more than one namespace of rows.
const RowsBucket = "rows"

// CommitsBucket holds one opaque, msgpack-encoded commit record per
// committed timestamp, keyed by its big-endian encoding. It lives in the
// same chunk file as the rows it describes, so commit metadata and the
// rows it covers are always durable together.
const CommitsBucket = "commits"

// File is a handle over one chunk's backing kvstore.Store plus its
// metadata. openForRead/openForWrite/seal all operate on the Meta plus
// the opened Store: a small struct wrapping one storage handle guarded
// by the caller (here, GlobalChunkManager) rather than an internal lock.
type File struct {
	meta  Meta
	store kvstore.Store
	path  string
}

// Path returns the chunk's on-disk bbolt file path. The sidecar metadata
// path is derived separately, by metaPath from the branch directory and
// chunk ID.
func (f *File) Path() string { return f.path }

func (f *File) Meta() Meta { return f.meta }

func (f *File) Store() kvstore.Store { return f.store }

// Seal marks the chunk closed for further writes as of validTo. Sealing is
// idempotent: calling it again with the same validTo is a no-op; calling it
// with a different validTo after the chunk is already sealed is rejected,
// since a sealed interval is immutable history.
func (f *File) Seal(validTo uint64) error {
	if f.meta.Sealed {
		if f.meta.ValidTo == validTo {
			return nil
		}
		return fmt.Errorf("%w: chunk %s already sealed at %d", ErrChunkSealed, f.meta.ID, f.meta.ValidTo)
	}
	f.meta.Sealed = true
	f.meta.ValidTo = validTo
	return nil
}

// chunkFilePath derives the bbolt file path for a chunk within a branch's
// directory, named after the chunk ID so directory listings stay sorted by
// creation order (ID is a UUIDv7).
func chunkFilePath(branchDir string, id ID) string {
	return filepath.Join(branchDir, id.String()+".chunk")
}

// openFile opens (creating if absent) the bbolt-backed store for a chunk
// file on disk. GlobalChunkManager is the only caller; it owns the open
// handle's lifetime thereafter.
func openFile(branchDir string, meta Meta) (*File, error) {
	path := chunkFilePath(branchDir, meta.ID)
	store, err := boltstore.Open(path)
	if err != nil {
		return nil, err
	}
	return &File{meta: meta, store: store, path: path}, nil
}
