// Package chunk implements the chunked storage layer of a branch's temporal
// key-value history: ChunkFile (one bounded, ordered key-value store per
// time interval), BranchChunkManager (the ordered sequence of chunks that
// make up a single branch), and GlobalChunkManager (the process-wide bound
// on concurrently open chunk file handles). It plays the role a file/memory
// chunk manager pair plays for a record-log store, adapted to a
// row-oriented, sealed-interval model and built on the internal/kvstore
// abstraction rather than a private log format.
package chunk

import (
	"encoding/base32"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Sentinel errors surfaced by this package. Callers match them with
// errors.Is; wrapping preserves context added along the way.
var (
	ErrChunkNotFound    = errors.New("chunk: not found")
	ErrChunkSealed      = errors.New("chunk: sealed")
	ErrChunkNotSealed   = errors.New("chunk: not sealed")
	ErrNoActiveChunk    = errors.New("chunk: no active chunk")
	ErrTimestampOrder   = errors.New("chunk: timestamp precedes chunk head")
	ErrEmptyRange       = errors.New("chunk: empty interval")
)

// base32Encoding is unpadded, lowercase base32hex, chosen because it sorts
// lexicographically in the same order as the underlying bytes, so chunk
// IDs derived from UUIDv7 stay time-ordered as strings too.
var base32Encoding = base32.HexEncoding.WithPadding(base32.NoPadding)

// ID identifies one chunk. It wraps a UUIDv7 so that IDs are both globally
// unique and roughly time-ordered, which keeps directory listings and log
// lines in creation order without an extra index.
type ID [16]byte

// NewID generates a fresh, time-ordered chunk ID.
func NewID() ID {
	return ID(uuid.Must(uuid.NewV7()))
}

// ParseID parses the base32hex string form produced by String.
func ParseID(s string) (ID, error) {
	raw, err := base32Encoding.DecodeString(strings.ToUpper(s))
	if err != nil {
		return ID{}, fmt.Errorf("chunk: parse id %q: %w", s, err)
	}
	if len(raw) != 16 {
		return ID{}, fmt.Errorf("chunk: parse id %q: want 16 bytes, got %d", s, len(raw))
	}
	var id ID
	copy(id[:], raw)
	return id, nil
}

func (id ID) String() string {
	return strings.ToLower(base32Encoding.EncodeToString(id[:]))
}

func (id ID) IsZero() bool { return id == ID{} }

// Meta describes a chunk's interval and bookkeeping state, independent of
// its storage backend. ValidTo of zero means "open", i.e. this is the
// branch's head chunk.
type Meta struct {
	ID         ID
	Branch     string
	ValidFrom  uint64
	ValidTo    uint64 // 0 means unbounded (head chunk)
	Sealed     bool
	RowCount   int64
	DiskBytes  int64
	CreatedAt  int64 // unix nanos, wall-clock creation time for age-based policies
}

// Open reports whether the chunk is the branch's writable head (unsealed,
// unbounded upper interval).
func (m Meta) Open() bool { return !m.Sealed && m.ValidTo == 0 }

// Contains reports whether timestamp t falls within [ValidFrom, ValidTo),
// where ValidTo == 0 means unbounded.
func (m Meta) Contains(t uint64) bool {
	if t < m.ValidFrom {
		return false
	}
	if m.ValidTo == 0 {
		return true
	}
	return t < m.ValidTo
}
