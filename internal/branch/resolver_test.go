package branch

import (
	"fmt"
	"testing"

	"chronodb/internal/chunk"
	"chronodb/internal/temporalkey"
	"chronodb/internal/tmatrix"
)

type fakeProvider struct {
	matrices map[string]*tmatrix.Matrix
}

func (f *fakeProvider) Matrix(branch string) (*tmatrix.Matrix, error) {
	m, ok := f.matrices[branch]
	if !ok {
		return nil, fmt.Errorf("no matrix registered for branch %q", branch)
	}
	return m, nil
}

func setupBranchPair(t *testing.T, forkT uint64) (*Registry, *fakeProvider, *chunk.GlobalChunkManager) {
	t.Helper()
	global := chunk.NewGlobalChunkManager(chunk.DefaultMaxOpenFiles, nil)

	masterDir := t.TempDir()
	masterBCM, err := chunk.NewBranchChunkManager(RootBranch, masterDir, nil, nil)
	if err != nil {
		t.Fatalf("master bcm: %v", err)
	}
	global.RegisterBranch(masterBCM)

	featureDir := t.TempDir()
	featureBCM, err := chunk.NewBranchChunkManager("feature", featureDir, nil, nil)
	if err != nil {
		t.Fatalf("feature bcm: %v", err)
	}
	global.RegisterBranch(featureBCM)

	registry := NewRegistry()
	if err := registry.Create("feature", RootBranch, forkT); err != nil {
		t.Fatalf("create feature: %v", err)
	}

	provider := &fakeProvider{matrices: map[string]*tmatrix.Matrix{
		RootBranch: tmatrix.New(global, masterBCM, RootBranch),
		"feature":  tmatrix.New(global, featureBCM, "feature"),
	}}
	return registry, provider, global
}

func putOn(t *testing.T, global *chunk.GlobalChunkManager, m *tmatrix.Matrix, branch string, keyspace, key string, ts temporalkey.Timestamp, value []byte) {
	t.Helper()
	txn, head, err := global.OpenTransaction(branch, uint64(ts), true)
	if err != nil {
		t.Fatalf("open tx: %v", err)
	}
	if err := m.Put(txn, head, keyspace, key, ts, value, false); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	txn.Close()
}

func TestResolverFallsThroughToOriginBeforeFork(t *testing.T) {
	registry, provider, global := setupBranchPair(t, 100)
	resolver := NewResolver(registry, provider)

	putOn(t, global, provider.matrices[RootBranch], RootBranch, "ks", "k1", 10, []byte("on-master"))

	value, found, err := resolver.Get("feature", "ks", "k1", 50)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !found || string(value) != "on-master" {
		t.Fatalf("expected feature read before fork to fall through to master, got %q found=%v", value, found)
	}
}

func TestResolverPrefersOwnBranchAfterFork(t *testing.T) {
	registry, provider, global := setupBranchPair(t, 100)
	resolver := NewResolver(registry, provider)

	putOn(t, global, provider.matrices[RootBranch], RootBranch, "ks", "k1", 10, []byte("on-master"))
	putOn(t, global, provider.matrices["feature"], "feature", "ks", "k1", 200, []byte("on-feature"))

	value, found, err := resolver.Get("feature", "ks", "k1", 250)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !found || string(value) != "on-feature" {
		t.Fatalf("expected feature's own write to win after fork, got %q found=%v", value, found)
	}
}
