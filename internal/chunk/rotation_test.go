package chunk

import (
	"testing"
	"time"
)

func TestRowCountPolicy(t *testing.T) {
	p := RowCountPolicy{MaxRows: 10}
	if p.ShouldRotate(ActiveChunkState{RowCount: 9}) {
		t.Fatal("expected no rotation below threshold")
	}
	if !p.ShouldRotate(ActiveChunkState{RowCount: 10}) {
		t.Fatal("expected rotation at threshold")
	}
}

func TestAgePolicy(t *testing.T) {
	p := AgePolicy{MaxAge: time.Hour}
	now := time.Now()
	if p.ShouldRotate(ActiveChunkState{CreatedAt: now, Now: now.Add(30 * time.Minute)}) {
		t.Fatal("expected no rotation before age elapses")
	}
	if !p.ShouldRotate(ActiveChunkState{CreatedAt: now, Now: now.Add(2 * time.Hour)}) {
		t.Fatal("expected rotation after age elapses")
	}
}

func TestCompositePolicyRotatesOnAnyChild(t *testing.T) {
	p := CompositePolicy{Policies: []RotationPolicy{
		RowCountPolicy{MaxRows: 1000},
		AgePolicy{MaxAge: time.Minute},
	}}
	now := time.Now()
	state := ActiveChunkState{RowCount: 1, CreatedAt: now, Now: now.Add(2 * time.Minute)}
	if !p.ShouldRotate(state) {
		t.Fatal("expected composite to rotate when age child fires")
	}
}

func TestNeverAndAlwaysRotate(t *testing.T) {
	if (NeverRotatePolicy{}).ShouldRotate(ActiveChunkState{RowCount: 1 << 30}) {
		t.Fatal("never policy must never rotate")
	}
	if !(AlwaysRotatePolicy{}).ShouldRotate(ActiveChunkState{}) {
		t.Fatal("always policy must always rotate")
	}
}
