package engine

import (
	"path/filepath"
	"testing"

	"chronodb/internal/commit"
	"chronodb/internal/config"
	"chronodb/internal/index"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		StorageRoot: filepath.Join(t.TempDir(), "chronodb"),
		Indexes: []config.IndexConfig{
			{Name: "by-value", Keyspace: "widgets", Extractor: config.ExtractorConfig{Name: "identity"}},
		},
		ReadCache: config.CacheConfig{Enabled: true, MaxSize: 64},
	}
}

func TestOpenCreatesRootBranchAndAcceptsCommits(t *testing.T) {
	e, err := Open(testConfig(t), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	pipeline, err := e.Pipeline("master")
	if err != nil {
		t.Fatalf("Pipeline: %v", err)
	}

	ts, err := pipeline.Commit([]commit.Write{{Keyspace: "widgets", Key: "w1", Value: []byte("v1")}})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	matrix, err := e.Matrix("master")
	if err != nil {
		t.Fatalf("Matrix: %v", err)
	}
	value, found, err := matrix.Get("widgets", "w1", ts)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found || string(value) != "v1" {
		t.Fatalf("expected v1, got value=%q found=%v", value, found)
	}

	docs, err := e.Index.GetMatching("master", "widgets", uint64(ts), index.SearchSpec{
		IndexName: "by-value",
		Match:     index.MatchEquals,
		Value:     []byte("v1"),
	})
	if err != nil {
		t.Fatalf("GetMatching: %v", err)
	}
	if len(docs) != 1 || string(docs[0].IndexedValue) != "v1" {
		t.Fatalf("expected one indexed document for v1, got %+v", docs)
	}
}

func TestCreateBranchRegistersAndOpensStorage(t *testing.T) {
	e, err := Open(testConfig(t), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer e.Close()

	if err := e.CreateBranch("feature", "master", 5); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}

	if _, err := e.Pipeline("feature"); err != nil {
		t.Fatalf("expected feature's pipeline to be wired: %v", err)
	}
	if _, err := e.Matrix("feature"); err != nil {
		t.Fatalf("expected feature's matrix to be wired: %v", err)
	}
}
