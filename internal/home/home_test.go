package home

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNew(t *testing.T) {
	d := New("/tmp/chronodb-test")
	if d.Root() != "/tmp/chronodb-test" {
		t.Errorf("expected root /tmp/chronodb-test, got %s", d.Root())
	}
}

func TestDefault(t *testing.T) {
	d, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	if d.Root() == "" {
		t.Fatal("expected non-empty root")
	}
	if filepath.Base(d.Root()) != "chronodb" {
		t.Errorf("expected root to end with 'chronodb', got %s", d.Root())
	}
}

func TestConfigPath(t *testing.T) {
	d := New("/data")
	if got := d.ConfigPath(); got != "/data/config.json" {
		t.Errorf("got %s", got)
	}
}

func TestStorageRoot(t *testing.T) {
	d := New("/data")
	if got := d.StorageRoot(); got != "/data/storage" {
		t.Errorf("got %s", got)
	}
}

func TestEnsureExists(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "chronodb")
	d := New(root)
	if err := d.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists: %v", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if !info.IsDir() {
		t.Error("expected directory")
	}

	if err := d.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists (idempotent): %v", err)
	}
}
