package commit

import (
	"errors"
	"testing"

	"chronodb/internal/chunk"
	"chronodb/internal/index"
	"chronodb/internal/index/extractor"
	"chronodb/internal/kvstore/memstore"
	"chronodb/internal/tmatrix"
)

func newTestPipeline(t *testing.T, descriptors []IndexDescriptor) (*Pipeline, *index.Backend) {
	t.Helper()
	global := chunk.NewGlobalChunkManager(chunk.DefaultMaxOpenFiles, nil)
	bcm, err := chunk.NewBranchChunkManager("master", t.TempDir(), nil, nil)
	if err != nil {
		t.Fatalf("new bcm: %v", err)
	}
	global.RegisterBranch(bcm)
	matrix := tmatrix.New(global, bcm, "master")

	idx, err := index.Open(memstore.New())
	if err != nil {
		t.Fatalf("open index: %v", err)
	}

	p := New("master", global, bcm, matrix, idx, extractor.NewRegistry(), descriptors, 0, nil)
	return p, idx
}

func TestCommitAssignsIncreasingTimestamps(t *testing.T) {
	p, _ := newTestPipeline(t, nil)

	t1, err := p.Commit([]Write{{Keyspace: "ks", Key: "a", Value: []byte("1")}})
	if err != nil {
		t.Fatalf("commit 1: %v", err)
	}
	t2, err := p.Commit([]Write{{Keyspace: "ks", Key: "a", Value: []byte("2")}})
	if err != nil {
		t.Fatalf("commit 2: %v", err)
	}
	if t2 <= t1 {
		t.Fatalf("expected increasing timestamps, got %d then %d", t1, t2)
	}

	value, found, err := p.Matrix.Get("ks", "a", t2)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !found || string(value) != "2" {
		t.Fatalf("expected latest committed value, got %q found=%v", value, found)
	}
}

func TestCommitRejectsEmptyBatch(t *testing.T) {
	p, _ := newTestPipeline(t, nil)
	if _, err := p.Commit(nil); err == nil {
		t.Fatal("expected error committing an empty batch")
	}
}

func TestCommitMaintainsIndexDocuments(t *testing.T) {
	descriptors := []IndexDescriptor{
		{IndexName: "by-status", Keyspace: "users", Extractor: extractor.Descriptor{Name: "json-field", Params: map[string]string{"field": "status"}}},
	}
	p, idx := newTestPipeline(t, descriptors)

	tCommit, err := p.Commit([]Write{{Keyspace: "users", Key: "u1", Value: []byte(`{"status":"active"}`)}})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	docs, err := idx.GetMatching("master", "users", uint64(tCommit), index.SearchSpec{IndexName: "by-status", Match: index.MatchEquals, Value: []byte("active")})
	if err != nil {
		t.Fatalf("get matching: %v", err)
	}
	if len(docs) != 1 || docs[0].Key != "u1" {
		t.Fatalf("expected one indexed document for u1, got %+v", docs)
	}

	tCommit2, err := p.Commit([]Write{{Keyspace: "users", Key: "u1", Value: []byte(`{"status":"inactive"}`)}})
	if err != nil {
		t.Fatalf("commit 2: %v", err)
	}

	docs, err = idx.GetMatching("master", "users", uint64(tCommit2), index.SearchSpec{IndexName: "by-status", Match: index.MatchEquals, Value: []byte("active")})
	if err != nil {
		t.Fatalf("get matching after status change: %v", err)
	}
	if len(docs) != 0 {
		t.Fatalf("expected no active match after status changed, got %+v", docs)
	}

	docs, err = idx.GetMatching("master", "users", uint64(tCommit2), index.SearchSpec{IndexName: "by-status", Match: index.MatchEquals, Value: []byte("inactive")})
	if err != nil {
		t.Fatalf("get matching inactive: %v", err)
	}
	if len(docs) != 1 || docs[0].Key != "u1" {
		t.Fatalf("expected one inactive match, got %+v", docs)
	}

	// The stale "active" document should still be readable as history at
	// the timestamp it was valid.
	docs, err = idx.GetMatching("master", "users", uint64(tCommit), index.SearchSpec{IndexName: "by-status", Match: index.MatchEquals, Value: []byte("active")})
	if err != nil {
		t.Fatalf("get matching historical: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected the historical active document still valid at its own commit time, got %+v", docs)
	}
}

func TestCommitRolloverSealsOldChunkAgainstWrites(t *testing.T) {
	global := chunk.NewGlobalChunkManager(chunk.DefaultMaxOpenFiles, nil)
	bcm, err := chunk.NewBranchChunkManager("master", t.TempDir(), chunk.RowCountPolicy{MaxRows: 1}, nil)
	if err != nil {
		t.Fatalf("new bcm: %v", err)
	}
	global.RegisterBranch(bcm)
	matrix := tmatrix.New(global, bcm, "master")
	idx, err := index.Open(memstore.New())
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	p := New("master", global, bcm, matrix, idx, extractor.NewRegistry(), nil, 0, nil)

	t1, err := p.Commit([]Write{{Keyspace: "ks", Key: "a", Value: []byte("1")}})
	if err != nil {
		t.Fatalf("commit 1: %v", err)
	}
	// Row-count policy of 1 forces a rollover on the next commit.
	if _, err := p.Commit([]Write{{Keyspace: "ks", Key: "b", Value: []byte("2")}}); err != nil {
		t.Fatalf("commit 2: %v", err)
	}

	oldChunk, err := bcm.ChunkForTimestamp(uint64(t1))
	if err != nil {
		t.Fatalf("ChunkForTimestamp: %v", err)
	}
	if !oldChunk.Sealed {
		t.Fatalf("expected chunk covering t1 to be sealed after rollover, got %+v", oldChunk)
	}

	if _, _, err := global.OpenTransaction("master", uint64(t1), true); !errors.Is(err, chunk.ErrChunkSealed) {
		t.Fatalf("expected ErrChunkSealed writing to the rolled-over chunk, got %v", err)
	}
}

func TestCommitRejectsSeparatorByteInKeys(t *testing.T) {
	p, _ := newTestPipeline(t, nil)
	if _, err := p.Commit([]Write{{Keyspace: "ks\x00bad", Key: "k", Value: []byte("v")}}); err == nil {
		t.Fatal("expected error for keyspace containing the separator byte")
	}
}
