package chunk

import "time"

// BranchState snapshots a branch's sealed chunk inventory for a
// RetentionPolicy to judge, for the same reason as rotation: policies
// stay pure functions over a snapshot, never touching the manager's lock.
type BranchState struct {
	SealedChunks []Meta
	Now          time.Time
}

// RetentionPolicy decides which sealed chunks of a branch are eligible for
// deletion. It never sees the head chunk; the head is never a retention
// candidate.
type RetentionPolicy interface {
	Expired(state BranchState) []ID
}

// CompositeRetentionPolicy expires the union of what its children expire.
type CompositeRetentionPolicy struct {
	Policies []RetentionPolicy
}

func (p CompositeRetentionPolicy) Expired(state BranchState) []ID {
	seen := make(map[ID]struct{})
	var out []ID
	for _, child := range p.Policies {
		for _, id := range child.Expired(state) {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// TTLRetentionPolicy expires chunks whose upper interval bound is older than
// TTL relative to Now, i.e. chunks whose newest record could not possibly
// still be within the retention window.
type TTLRetentionPolicy struct {
	TTL time.Duration
}

func (p TTLRetentionPolicy) Expired(state BranchState) []ID {
	var out []ID
	cutoff := state.Now.Add(-p.TTL)
	for _, m := range state.SealedChunks {
		if m.ValidTo == 0 {
			continue
		}
		if time.Unix(0, int64(m.ValidTo)).Before(cutoff) {
			out = append(out, m.ID)
		}
	}
	return out
}

// HardLimitPolicy keeps at most MaxChunks sealed chunks, expiring the
// oldest first once the limit is exceeded. A branch held hostage by a
// stalled writer still respects this bound, since sealed chunks are
// independent of the head.
type HardLimitPolicy struct {
	MaxChunks int
}

func (p HardLimitPolicy) Expired(state BranchState) []ID {
	if len(state.SealedChunks) <= p.MaxChunks {
		return nil
	}
	ordered := append([]Meta(nil), state.SealedChunks...)
	// Sealed chunks are contiguous and non-overlapping; ValidFrom order is
	// chronological order.
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j].ValidFrom < ordered[j-1].ValidFrom; j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}
	excess := len(ordered) - p.MaxChunks
	out := make([]ID, 0, excess)
	for i := 0; i < excess; i++ {
		out = append(out, ordered[i].ID)
	}
	return out
}

// NeverExpirePolicy retains every sealed chunk forever, the default for a
// branch with no explicit retention configured.
type NeverExpirePolicy struct{}

func (NeverExpirePolicy) Expired(BranchState) []ID { return nil }
