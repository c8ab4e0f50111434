package chunk

import (
	"errors"
	"testing"

	"chronodb/internal/temporalkey"
)

func newTestGlobalManager(t *testing.T, maxOpenFiles int) (*GlobalChunkManager, *BranchChunkManager) {
	t.Helper()
	dir := t.TempDir()
	bcm, err := NewBranchChunkManager("master", dir, nil, nil)
	if err != nil {
		t.Fatalf("new branch manager: %v", err)
	}
	g := NewGlobalChunkManager(maxOpenFiles, nil)
	g.RegisterBranch(bcm)
	return g, bcm
}

func TestGlobalManagerOpenTransactionRoundTrip(t *testing.T) {
	g, _ := newTestGlobalManager(t, DefaultMaxOpenFiles)

	txn, meta, err := g.OpenTransaction("master", 0, true)
	if err != nil {
		t.Fatalf("open tx: %v", err)
	}
	if !meta.Open() {
		t.Fatal("expected head chunk")
	}
	key := temporalkey.Encode("ks", "k", 0)
	if err := txn.Store(RowsBucket, key, []byte("v1")); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	txn.Close()

	readTxn, _, err := g.OpenTransaction("master", 0, false)
	if err != nil {
		t.Fatalf("open read tx: %v", err)
	}
	defer readTxn.Close()
	defer readTxn.Rollback()
	v, ok, err := readTxn.Load(RowsBucket, key)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !ok || string(v) != "v1" {
		t.Fatalf("expected v1, got %q ok=%v", v, ok)
	}
}

func TestGlobalManagerRejectsWriteToSealedChunk(t *testing.T) {
	g, bcm := newTestGlobalManager(t, DefaultMaxOpenFiles)

	oldHead, _, err := bcm.PerformRollover(100)
	if err != nil {
		t.Fatalf("rollover: %v", err)
	}
	if err := g.SealChunk(bcm, oldHead, oldHead.ValidTo); err != nil {
		t.Fatalf("SealChunk: %v", err)
	}

	if _, _, err := g.OpenTransaction("master", 50, true); !errors.Is(err, ErrChunkSealed) {
		t.Fatalf("expected ErrChunkSealed for writable open against sealed chunk, got %v", err)
	}

	// Read-only transactions against a sealed chunk remain allowed.
	readTxn, _, err := g.OpenTransaction("master", 50, false)
	if err != nil {
		t.Fatalf("expected read-only open to succeed, got %v", err)
	}
	readTxn.Rollback()
	readTxn.Close()
}

func TestGlobalManagerUnknownBranch(t *testing.T) {
	g, _ := newTestGlobalManager(t, DefaultMaxOpenFiles)
	if _, _, err := g.OpenTransaction("nonexistent", 0, false); err == nil {
		t.Fatal("expected error for unknown branch")
	}
}

func TestGlobalManagerEvictsIdleHandles(t *testing.T) {
	g := NewGlobalChunkManager(1, nil)
	dirA := t.TempDir()
	bcmA, err := NewBranchChunkManager("a", dirA, nil, nil)
	if err != nil {
		t.Fatalf("new a: %v", err)
	}
	dirB := t.TempDir()
	bcmB, err := NewBranchChunkManager("b", dirB, nil, nil)
	if err != nil {
		t.Fatalf("new b: %v", err)
	}
	g.RegisterBranch(bcmA)
	g.RegisterBranch(bcmB)

	txnA, _, err := g.OpenTransaction("a", 0, false)
	if err != nil {
		t.Fatalf("open a: %v", err)
	}
	txnA.Rollback()
	txnA.Close()

	if len(g.handles) != 1 {
		t.Fatalf("expected 1 handle open, got %d", len(g.handles))
	}

	txnB, _, err := g.OpenTransaction("b", 0, false)
	if err != nil {
		t.Fatalf("open b: %v", err)
	}
	defer txnB.Close()
	defer txnB.Rollback()

	if len(g.handles) != 1 {
		t.Fatalf("expected idle handle for a to be evicted, pool has %d", len(g.handles))
	}
}

func TestGlobalManagerHandleBusyNotEvicted(t *testing.T) {
	g := NewGlobalChunkManager(1, nil)
	dirA := t.TempDir()
	bcmA, err := NewBranchChunkManager("a", dirA, nil, nil)
	if err != nil {
		t.Fatalf("new a: %v", err)
	}
	dirB := t.TempDir()
	bcmB, err := NewBranchChunkManager("b", dirB, nil, nil)
	if err != nil {
		t.Fatalf("new b: %v", err)
	}
	g.RegisterBranch(bcmA)
	g.RegisterBranch(bcmB)

	txnA, _, err := g.OpenTransaction("a", 0, false)
	if err != nil {
		t.Fatalf("open a: %v", err)
	}
	defer txnA.Rollback()
	defer txnA.Close()

	txnB, _, err := g.OpenTransaction("b", 0, false)
	if err != nil {
		t.Fatalf("open b: %v", err)
	}
	defer txnB.Close()
	defer txnB.Rollback()

	if len(g.handles) != 2 {
		t.Fatalf("expected both handles retained since a is still busy, got %d", len(g.handles))
	}
}

func TestGlobalManagerShutdownClosesAll(t *testing.T) {
	g, _ := newTestGlobalManager(t, DefaultMaxOpenFiles)
	txn, _, err := g.OpenTransaction("master", 0, false)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	txn.Rollback()
	txn.Close()

	if err := g.Shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if len(g.handles) != 0 {
		t.Fatalf("expected no handles after shutdown, got %d", len(g.handles))
	}
}
