package chunk

import (
	"testing"
	"time"
)

func TestTTLRetentionPolicy(t *testing.T) {
	now := time.Now()
	sealed := []Meta{
		{ID: NewID(), ValidTo: uint64(now.Add(-2 * time.Hour).UnixNano())},
		{ID: NewID(), ValidTo: uint64(now.Add(-10 * time.Minute).UnixNano())},
	}
	p := TTLRetentionPolicy{TTL: time.Hour}
	expired := p.Expired(BranchState{SealedChunks: sealed, Now: now})
	if len(expired) != 1 || expired[0] != sealed[0].ID {
		t.Fatalf("expected only the 2h-old chunk expired, got %v", expired)
	}
}

func TestHardLimitPolicyKeepsNewest(t *testing.T) {
	m1 := Meta{ID: NewID(), ValidFrom: 0}
	m2 := Meta{ID: NewID(), ValidFrom: 100}
	m3 := Meta{ID: NewID(), ValidFrom: 200}
	p := HardLimitPolicy{MaxChunks: 2}
	expired := p.Expired(BranchState{SealedChunks: []Meta{m3, m1, m2}})
	if len(expired) != 1 || expired[0] != m1.ID {
		t.Fatalf("expected oldest chunk m1 expired, got %v", expired)
	}
}

func TestCompositeRetentionPolicyUnion(t *testing.T) {
	now := time.Now()
	old := Meta{ID: NewID(), ValidFrom: 0, ValidTo: uint64(now.Add(-2 * time.Hour).UnixNano())}
	recent := Meta{ID: NewID(), ValidFrom: 100, ValidTo: uint64(now.Add(-time.Minute).UnixNano())}
	p := CompositeRetentionPolicy{Policies: []RetentionPolicy{
		TTLRetentionPolicy{TTL: time.Hour},
		HardLimitPolicy{MaxChunks: 1},
	}}
	expired := p.Expired(BranchState{SealedChunks: []Meta{old, recent}, Now: now})
	if len(expired) != 1 || expired[0] != old.ID {
		t.Fatalf("expected only old chunk expired (deduped union), got %v", expired)
	}
}

func TestNeverExpirePolicy(t *testing.T) {
	if got := (NeverExpirePolicy{}).Expired(BranchState{SealedChunks: []Meta{{ID: NewID()}}}); got != nil {
		t.Fatalf("expected no expirations, got %v", got)
	}
}
