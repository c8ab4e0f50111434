package commit

import (
	"testing"

	"chronodb/internal/index"
	"chronodb/internal/index/extractor"
	"chronodb/internal/tmatrix"
)

type fakeBranchSource struct {
	branches []string
	matrices map[string]*tmatrix.Matrix
}

func (f *fakeBranchSource) Branches() []string { return f.branches }

func (f *fakeBranchSource) Matrix(branch string) (*tmatrix.Matrix, error) {
	return f.matrices[branch], nil
}

func TestReindexRebuildsFromScratch(t *testing.T) {
	descriptors := []IndexDescriptor{
		{IndexName: "by-status", Keyspace: "users", Extractor: extractor.Descriptor{Name: "json-field", Params: map[string]string{"field": "status"}}},
	}
	p, idx := newTestPipeline(t, descriptors)

	if _, err := p.Commit([]Write{{Keyspace: "users", Key: "u1", Value: []byte(`{"status":"active"}`)}}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := p.Commit([]Write{{Keyspace: "users", Key: "u2", Value: []byte(`{"status":"active"}`)}}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	// Simulate corruption by marking the index dirty; its existing
	// documents are left in place for Reindex to replace.
	if err := idx.MarkDirty("by-status"); err != nil {
		t.Fatalf("mark dirty: %v", err)
	}

	source := &fakeBranchSource{branches: []string{"master"}, matrices: map[string]*tmatrix.Matrix{"master": p.Matrix}}
	reindexer := NewReindexer(source, idx, extractor.NewRegistry(), descriptors)

	if err := reindexer.Reindex("by-status"); err != nil {
		t.Fatalf("reindex: %v", err)
	}

	dirty, err := idx.DirtyState("by-status")
	if err != nil {
		t.Fatalf("dirty state: %v", err)
	}
	if dirty {
		t.Fatal("expected index to be clean after reindex")
	}

	docs, err := idx.GetMatching("master", "users", ^uint64(0)>>1, index.SearchSpec{IndexName: "by-status", Match: index.MatchEquals, Value: []byte("active")})
	if err != nil {
		t.Fatalf("get matching: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected both users reindexed as active, got %+v", docs)
	}
}

func TestReindexDeduplicatesConcurrentCalls(t *testing.T) {
	descriptors := []IndexDescriptor{
		{IndexName: "by-status", Keyspace: "users", Extractor: extractor.Descriptor{Name: "json-field", Params: map[string]string{"field": "status"}}},
	}
	p, idx := newTestPipeline(t, descriptors)
	if _, err := p.Commit([]Write{{Keyspace: "users", Key: "u1", Value: []byte(`{"status":"active"}`)}}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	source := &fakeBranchSource{branches: []string{"master"}, matrices: map[string]*tmatrix.Matrix{"master": p.Matrix}}
	reindexer := NewReindexer(source, idx, extractor.NewRegistry(), descriptors)

	done := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() { done <- reindexer.Reindex("by-status") }()
	}
	for i := 0; i < 2; i++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent reindex: %v", err)
		}
	}
}
