package commit

import (
	"chronodb/internal/callgroup"
	"chronodb/internal/index"
	"chronodb/internal/index/extractor"
	"chronodb/internal/tmatrix"

	"golang.org/x/sync/errgroup"
)

// BranchSource resolves every branch that may contribute documents to a
// rebuild, since a rebuild must fan out across every chunk holding a
// given key.
type BranchSource interface {
	Branches() []string
	Matrix(branch string) (*tmatrix.Matrix, error)
}

// Reindexer drives full rebuilds of one index across every branch,
// deduplicating concurrent requests for the same index name the way the
// teacher's index/build.go coalesces concurrent builds of the same key.
type Reindexer struct {
	Sources     BranchSource
	Index       *index.Backend
	Extractors  *extractor.Registry
	Descriptors []IndexDescriptor

	inflight callgroup.Group[string]
}

// NewReindexer builds a Reindexer over the given branch source and index backend.
func NewReindexer(sources BranchSource, idx *index.Backend, extractors *extractor.Registry, descriptors []IndexDescriptor) *Reindexer {
	return &Reindexer{Sources: sources, Index: idx, Extractors: extractors, Descriptors: descriptors}
}

// Reindex rebuilds indexName from scratch by rescanning every branch's
// full modification history concurrently, then replacing the index's
// documents in one atomic swap. Concurrent calls for the same indexName
// share one in-flight rebuild.
func (r *Reindexer) Reindex(indexName string) error {
	ch := r.inflight.DoChan(indexName, func() error {
		return r.Index.Rebuild(indexName, func() ([]index.NewDocument, error) {
			return r.scanAllBranches(indexName)
		})
	})
	return <-ch
}

func (r *Reindexer) scanAllBranches(indexName string) ([]index.NewDocument, error) {
	var descriptor *IndexDescriptor
	for i := range r.Descriptors {
		if r.Descriptors[i].IndexName == indexName {
			descriptor = &r.Descriptors[i]
			break
		}
	}
	if descriptor == nil {
		return nil, nil
	}

	branches := r.Sources.Branches()
	perBranch := make([][]index.NewDocument, len(branches))

	var g errgroup.Group
	for i, branch := range branches {
		i, branch := i, branch
		g.Go(func() error {
			matrix, err := r.Sources.Matrix(branch)
			if err != nil {
				return err
			}
			docs, err := scanBranch(matrix, branch, *descriptor, r.Extractors)
			if err != nil {
				return err
			}
			perBranch[i] = docs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []index.NewDocument
	for _, docs := range perBranch {
		out = append(out, docs...)
	}
	return out, nil
}

// scanBranch replays one branch's full modification history, keeps the
// latest version of each (keyspace, key) as of "now" (the highest
// timestamp seen), and re-derives its indexed values through the same
// extractor a live commit would have used.
func scanBranch(matrix *tmatrix.Matrix, branch string, d IndexDescriptor, extractors *extractor.Registry) ([]index.NewDocument, error) {
	mods, err := matrix.ModificationsBetween(0, ^uint64(0)>>1)
	if err != nil {
		return nil, err
	}

	type latest struct {
		value   []byte
		t       uint64
		deleted bool
	}
	winners := make(map[string]latest)
	for _, m := range mods {
		if m.Keyspace != d.Keyspace {
			continue
		}
		cur, ok := winners[m.Key]
		if ok && cur.t > uint64(m.T) {
			continue
		}
		winners[m.Key] = latest{value: m.Value, t: uint64(m.T), deleted: m.Deleted}
	}

	extr, err := extractors.Resolve(d.Extractor)
	if err != nil {
		return nil, err
	}

	var out []index.NewDocument
	for key, w := range winners {
		if w.deleted {
			continue
		}
		values, err := extr.Extract(w.value)
		if err != nil {
			return nil, err
		}
		for _, v := range values {
			out = append(out, index.NewDocument{
				Branch:       branch,
				Keyspace:     d.Keyspace,
				Key:          key,
				IndexName:    d.IndexName,
				IndexedValue: v,
				ValidFrom:    w.t,
			})
		}
	}
	return out, nil
}
