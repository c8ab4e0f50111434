package chunk

import (
	"errors"
	"testing"
)

func TestFileSealIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	f, err := openFile(dir, Meta{ID: NewID(), Branch: "master"})
	if err != nil {
		t.Fatalf("openFile: %v", err)
	}

	if err := f.Seal(100); err != nil {
		t.Fatalf("first seal: %v", err)
	}
	if !f.Meta().Sealed || f.Meta().ValidTo != 100 {
		t.Fatalf("expected sealed at 100, got %+v", f.Meta())
	}
	if err := f.Seal(100); err != nil {
		t.Fatalf("repeat seal at same validTo must be a no-op: %v", err)
	}
}

func TestFileSealRejectsConflictingValidTo(t *testing.T) {
	dir := t.TempDir()
	f, err := openFile(dir, Meta{ID: NewID(), Branch: "master"})
	if err != nil {
		t.Fatalf("openFile: %v", err)
	}
	if err := f.Seal(100); err != nil {
		t.Fatalf("seal: %v", err)
	}
	if err := f.Seal(200); !errors.Is(err, ErrChunkSealed) {
		t.Fatalf("expected ErrChunkSealed for conflicting re-seal, got %v", err)
	}
}
