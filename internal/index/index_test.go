package index

import (
	"testing"

	"chronodb/internal/kvstore/memstore"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := Open(memstore.New())
	if err != nil {
		t.Fatalf("open backend: %v", err)
	}
	return b
}

func TestApplyModificationsCreatesQueryableDocument(t *testing.T) {
	b := newTestBackend(t)

	err := b.ApplyModifications(Modifications{
		Creations: []NewDocument{
			{Branch: "master", Keyspace: "ks", Key: "user:1", IndexName: "by-status", IndexedValue: []byte("active"), ValidFrom: 10},
		},
	})
	if err != nil {
		t.Fatalf("apply modifications: %v", err)
	}

	docs, err := b.GetMatching("master", "ks", 20, SearchSpec{IndexName: "by-status", Match: MatchEquals, Value: []byte("active")})
	if err != nil {
		t.Fatalf("get matching: %v", err)
	}
	if len(docs) != 1 || docs[0].Key != "user:1" {
		t.Fatalf("expected one matching document for user:1, got %+v", docs)
	}

	// Not valid yet before ValidFrom.
	docs, err = b.GetMatching("master", "ks", 5, SearchSpec{IndexName: "by-status", Match: MatchEquals, Value: []byte("active")})
	if err != nil {
		t.Fatalf("get matching before validity: %v", err)
	}
	if len(docs) != 0 {
		t.Fatalf("expected no matches before ValidFrom, got %+v", docs)
	}
}

func TestApplyModificationsTerminatesDocument(t *testing.T) {
	b := newTestBackend(t)

	if err := b.ApplyModifications(Modifications{
		Creations: []NewDocument{
			{Branch: "master", Keyspace: "ks", Key: "user:1", IndexName: "by-status", IndexedValue: []byte("active"), ValidFrom: 10},
		},
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := b.ApplyModifications(Modifications{
		Terminations: []Termination{{DocID: 0, ValidTo: 50}},
	}); err != nil {
		t.Fatalf("terminate: %v", err)
	}

	docs, err := b.GetMatching("master", "ks", 100, SearchSpec{IndexName: "by-status", Match: MatchEquals, Value: []byte("active")})
	if err != nil {
		t.Fatalf("get matching after term: %v", err)
	}
	if len(docs) != 0 {
		t.Fatalf("expected no matches after ValidTo, got %+v", docs)
	}

	docs, err = b.GetMatching("master", "ks", 30, SearchSpec{IndexName: "by-status", Match: MatchEquals, Value: []byte("active")})
	if err != nil {
		t.Fatalf("get matching within validity: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("expected one match within [validFrom, validTo), got %+v", docs)
	}
}

func TestGetMatchingPrefixAndCustom(t *testing.T) {
	b := newTestBackend(t)

	if err := b.ApplyModifications(Modifications{
		Creations: []NewDocument{
			{Branch: "master", Keyspace: "ks", Key: "a", IndexName: "by-name", IndexedValue: []byte("alice"), ValidFrom: 0},
			{Branch: "master", Keyspace: "ks", Key: "b", IndexName: "by-name", IndexedValue: []byte("alicia"), ValidFrom: 0},
			{Branch: "master", Keyspace: "ks", Key: "c", IndexName: "by-name", IndexedValue: []byte("bob"), ValidFrom: 0},
		},
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	docs, err := b.GetMatching("master", "ks", 1, SearchSpec{IndexName: "by-name", Match: MatchPrefix, Value: []byte("ali")})
	if err != nil {
		t.Fatalf("get matching prefix: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("expected 2 prefix matches, got %+v", docs)
	}

	docs, err = b.GetMatching("master", "ks", 1, SearchSpec{
		IndexName: "by-name",
		Match:     MatchCustom,
		Predicate: func(v []byte) bool { return len(v) == 3 },
	})
	if err != nil {
		t.Fatalf("get matching custom: %v", err)
	}
	if len(docs) != 1 || docs[0].Key != "c" {
		t.Fatalf("expected custom predicate to match only 'bob', got %+v", docs)
	}
}

func TestDirtyIndexRejectsQueries(t *testing.T) {
	b := newTestBackend(t)

	if err := b.MarkDirty("by-status"); err != nil {
		t.Fatalf("mark dirty: %v", err)
	}

	_, err := b.GetMatching("master", "ks", 1, SearchSpec{IndexName: "by-status", Match: MatchEquals, Value: []byte("x")})
	if err == nil {
		t.Fatal("expected error querying a dirty index")
	}

	dirty, err := b.DirtyState("by-status")
	if err != nil {
		t.Fatalf("dirty state: %v", err)
	}
	if !dirty {
		t.Fatal("expected by-status to report dirty")
	}
}

func TestRebuildReplacesDocumentsAndClearsDirty(t *testing.T) {
	b := newTestBackend(t)

	if err := b.ApplyModifications(Modifications{
		Creations: []NewDocument{
			{Branch: "master", Keyspace: "ks", Key: "stale", IndexName: "by-status", IndexedValue: []byte("active"), ValidFrom: 0},
		},
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := b.MarkDirty("by-status"); err != nil {
		t.Fatalf("mark dirty: %v", err)
	}

	err := b.Rebuild("by-status", func() ([]NewDocument, error) {
		return []NewDocument{
			{Branch: "master", Keyspace: "ks", Key: "fresh", IndexName: "by-status", IndexedValue: []byte("active"), ValidFrom: 0},
		}, nil
	})
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	dirty, err := b.DirtyState("by-status")
	if err != nil {
		t.Fatalf("dirty state: %v", err)
	}
	if dirty {
		t.Fatal("expected by-status to be clean after rebuild")
	}

	docs, err := b.GetMatching("master", "ks", 1, SearchSpec{IndexName: "by-status", Match: MatchEquals, Value: []byte("active")})
	if err != nil {
		t.Fatalf("get matching after rebuild: %v", err)
	}
	if len(docs) != 1 || docs[0].Key != "fresh" {
		t.Fatalf("expected rebuild to replace stale document with fresh one, got %+v", docs)
	}
}

func TestApplyModificationsDeletesDocument(t *testing.T) {
	b := newTestBackend(t)

	if err := b.ApplyModifications(Modifications{
		Creations: []NewDocument{
			{Branch: "master", Keyspace: "ks", Key: "gone", IndexName: "by-status", IndexedValue: []byte("active"), ValidFrom: 0},
		},
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := b.ApplyModifications(Modifications{Deletions: []uint64{0}}); err != nil {
		t.Fatalf("delete: %v", err)
	}

	docs, err := b.GetMatching("master", "ks", 1, SearchSpec{IndexName: "by-status", Match: MatchEquals, Value: []byte("active")})
	if err != nil {
		t.Fatalf("get matching after delete: %v", err)
	}
	if len(docs) != 0 {
		t.Fatalf("expected no documents after deletion, got %+v", docs)
	}
}
