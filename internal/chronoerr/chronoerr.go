// Package chronoerr centralizes the error kinds surfaced by the ChronoDB
// core. Components return these sentinels (wrapped with context via
// fmt.Errorf("%w: ...") at the point of detection) rather than defining
// their own ad-hoc error types, following the rest of the codebase's
// package-scoped sentinel-error convention.
package chronoerr

import "errors"

var (
	// ErrInvalidArgument covers nulls, negatives, and malformed branch names
	// rejected at the API boundary.
	ErrInvalidArgument = errors.New("chronodb: invalid argument")

	// ErrBranchUnknown is returned when a branch name has no registered entry.
	ErrBranchUnknown = errors.New("chronodb: unknown branch")

	// ErrBranchExists is returned when creating a branch whose name is already registered.
	ErrBranchExists = errors.New("chronodb: branch already exists")

	// ErrIndexUnknown is returned when an index name has no registered descriptor.
	ErrIndexUnknown = errors.New("chronodb: unknown index")

	// ErrChunkMissing is returned when a timestamp addresses no chunk on a branch.
	ErrChunkMissing = errors.New("chronodb: no chunk covers the given timestamp")

	// ErrIndexDirty is returned when a query is attempted against an index whose
	// documents may not reflect all base-data writes.
	ErrIndexDirty = errors.New("chronodb: index is dirty, rebuild required")

	// ErrTimestampPrecedesHead is an internal invariant violation: a write
	// targeted a chunk other than the branch's head.
	ErrTimestampPrecedesHead = errors.New("chronodb: timestamp precedes head chunk")

	// ErrChunkSealed is an internal invariant violation: a write was attempted
	// against a sealed (non-head) chunk.
	ErrChunkSealed = errors.New("chronodb: chunk is sealed")

	// ErrHandleBusy is returned by ensureClosed when transactions are still
	// outstanding against the handle.
	ErrHandleBusy = errors.New("chronodb: handle has live transactions")

	// ErrIndexWriteFailed indicates the base data committed durably but the
	// index writer failed; the affected index has been marked dirty.
	ErrIndexWriteFailed = errors.New("chronodb: index write failed, index marked dirty")

	// ErrStorageBackend wraps any I/O or encoding failure surfaced by the
	// underlying ordered KV store or document index store.
	ErrStorageBackend = errors.New("chronodb: storage backend error")

	// ErrBranchStalled is returned when the next commit timestamp would
	// exceed the head chunk's capacity policy and rollover did not resolve it.
	ErrBranchStalled = errors.New("chronodb: branch stalled, rollover required")

	// ErrInvalidEncoding is returned by TemporalKeyCodec.Decode when the
	// decoded separator count is wrong.
	ErrInvalidEncoding = errors.New("chronodb: invalid temporal key encoding")
)
