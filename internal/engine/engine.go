// Package engine wires one running ChronoDB instance together from a
// loaded config.Config: the branch registry and resolver, one
// BranchChunkManager/TemporalMatrix/CommitPipeline per configured branch
// sharing a single GlobalChunkManager, the index backend, and the read
// cache. It performs the same config -> factories -> started-service
// sequence cmd/chronodb needs before it can serve any command, whether
// that command blocks in the server loop or runs once and exits.
package engine

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"chronodb/internal/branch"
	"chronodb/internal/chronoerr"
	"chronodb/internal/chunk"
	"chronodb/internal/commit"
	"chronodb/internal/config"
	"chronodb/internal/index"
	"chronodb/internal/index/extractor"
	"chronodb/internal/kvstore/boltstore"
	"chronodb/internal/logging"
	"chronodb/internal/readcache"
	"chronodb/internal/temporalkey"
	"chronodb/internal/tmatrix"
)

// Engine owns every branch's storage and commit pipeline for one ChronoDB
// instance, plus the shared index backend and read cache. It implements
// branch.MatrixProvider and commit.BranchSource so the resolver and
// Reindexer can be built directly over it.
type Engine struct {
	Config *config.Config
	Logger *slog.Logger

	Global     *chunk.GlobalChunkManager
	Registry   *branch.Registry
	Resolver   *branch.Resolver
	Index      *index.Backend
	Extractors *extractor.Registry
	ReadCache  *readcache.Cache
	Reindexer  *commit.Reindexer

	descriptors []commit.IndexDescriptor

	mu        sync.Mutex
	bcms      map[string]*chunk.BranchChunkManager
	matrices  map[string]*tmatrix.Matrix
	pipelines map[string]*commit.Pipeline
}

// Open builds and starts an Engine from cfg, creating every configured
// branch's storage directory and registering it with the branch registry
// and the shared GlobalChunkManager. The root branch always exists and
// needs no entry in cfg.Branches.
func Open(cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	logger = logging.Default(logger)

	maxOpenFiles := chunk.DefaultMaxOpenFiles
	for _, bc := range cfg.Branches {
		if bc.MaxOpenFiles > maxOpenFiles {
			maxOpenFiles = bc.MaxOpenFiles
		}
	}

	e := &Engine{
		Config:     cfg,
		Logger:     logger,
		Global:     chunk.NewGlobalChunkManager(maxOpenFiles, logger.With("component", "global-chunk-manager")),
		Registry:   branch.NewRegistry(),
		Extractors: extractor.NewRegistry(),
		bcms:       make(map[string]*chunk.BranchChunkManager),
		matrices:   make(map[string]*tmatrix.Matrix),
		pipelines:  make(map[string]*commit.Pipeline),
	}
	e.Resolver = branch.NewResolver(e.Registry, e)

	if err := os.MkdirAll(cfg.StorageRoot, 0o750); err != nil {
		return nil, fmt.Errorf("engine: create storage root: %w", err)
	}

	idxStore, err := boltstore.Open(filepath.Join(cfg.StorageRoot, "index.bolt"))
	if err != nil {
		return nil, fmt.Errorf("engine: open index store: %w", err)
	}
	idx, err := index.Open(idxStore)
	if err != nil {
		return nil, fmt.Errorf("engine: open index backend: %w", err)
	}
	e.Index = idx

	for _, ic := range cfg.Indexes {
		e.descriptors = append(e.descriptors, commit.IndexDescriptor{
			IndexName: ic.Name,
			Keyspace:  ic.Keyspace,
			Extractor: extractor.Descriptor{Name: ic.Extractor.Name, Params: ic.Extractor.Params},
		})
	}

	if cfg.ReadCache.Enabled {
		e.ReadCache = readcache.New(cfg.ReadCache.MaxSize, cfg.ReadCache.AssumeImmutable, e.Registry)
	}

	if err := e.openBranch(branch.RootBranch, "", 0, config.PolicyConfig{}, config.PolicyConfig{}, 0); err != nil {
		return nil, fmt.Errorf("engine: open root branch: %w", err)
	}
	for _, bc := range cfg.Branches {
		if err := e.Registry.Create(bc.Name, bc.Origin, bc.BranchingTimestamp); err != nil {
			return nil, fmt.Errorf("engine: register branch %s: %w", bc.Name, err)
		}
		if err := e.openBranch(bc.Name, bc.Origin, bc.BranchingTimestamp, bc.Rotation, bc.Retention, bc.MaxOpenFiles); err != nil {
			return nil, fmt.Errorf("engine: open branch %s: %w", bc.Name, err)
		}
	}

	e.Reindexer = commit.NewReindexer(e, e.Index, e.Extractors, e.descriptors)

	return e, nil
}

// openBranch creates (or loads) one branch's on-disk chunk directory and
// wires its BranchChunkManager, TemporalMatrix, and CommitPipeline.
func (e *Engine) openBranch(name, origin string, branchingTimestamp uint64, rotCfg, retCfg config.PolicyConfig, _ int) error {
	branchDir := filepath.Join(e.Config.StorageRoot, "branches", name)
	if err := os.MkdirAll(branchDir, 0o750); err != nil {
		return fmt.Errorf("create branch dir: %w", err)
	}

	bcm, err := chunk.NewBranchChunkManager(name, branchDir, resolveRotation(rotCfg), resolveRetention(retCfg))
	if err != nil {
		return err
	}
	bcm.Logger = e.Logger.With("component", "branch-chunk-manager", "branch", name)
	e.Global.RegisterBranch(bcm)

	matrix := tmatrix.New(e.Global, bcm, name)

	lastT, err := latestCommittedTimestamp(matrix)
	if err != nil {
		return err
	}

	pipeline := commit.New(name, e.Global, bcm, matrix, e.Index, e.Extractors, e.descriptors, lastT,
		e.Logger.With("component", "commit-pipeline", "branch", name))
	if e.ReadCache != nil {
		pipeline.WithReadCache(e.ReadCache)
	}

	e.mu.Lock()
	e.bcms[name] = bcm
	e.matrices[name] = matrix
	e.pipelines[name] = pipeline
	e.mu.Unlock()
	return nil
}

// latestCommittedTimestamp seeds a freshly-opened branch's commit clock by
// scanning its own history for the highest timestamp with any recorded
// modification; a branch with no writes yet starts at 0.
func latestCommittedTimestamp(m *tmatrix.Matrix) (uint64, error) {
	mods, err := m.ModificationsBetween(0, temporalkey.Timestamp(^uint64(0)>>1))
	if err != nil {
		return 0, err
	}
	var max uint64
	for _, mod := range mods {
		if uint64(mod.T) > max {
			max = uint64(mod.T)
		}
	}
	return max, nil
}

func resolveRotation(pc config.PolicyConfig) chunk.RotationPolicy {
	switch pc.Type {
	case "", "never":
		return chunk.NeverRotatePolicy{}
	case "always":
		return chunk.AlwaysRotatePolicy{}
	case "row-count":
		return chunk.RowCountPolicy{MaxRows: parseInt64(pc.Params["maxRows"], 50000)}
	case "size":
		return chunk.SizePolicy{MaxBytes: parseInt64(pc.Params["maxBytes"], 64<<20)}
	case "age":
		return chunk.AgePolicy{MaxAge: parseDuration(pc.Params["maxAge"], 24*time.Hour)}
	default:
		return chunk.NeverRotatePolicy{}
	}
}

func resolveRetention(pc config.PolicyConfig) chunk.RetentionPolicy {
	switch pc.Type {
	case "", "never":
		return chunk.NeverExpirePolicy{}
	case "ttl":
		return chunk.TTLRetentionPolicy{TTL: parseDuration(pc.Params["ttl"], 30*24*time.Hour)}
	case "hard-limit":
		return chunk.HardLimitPolicy{MaxChunks: int(parseInt64(pc.Params["maxChunks"], 100))}
	default:
		return chunk.NeverExpirePolicy{}
	}
}

func parseInt64(s string, fallback int64) int64 {
	if s == "" {
		return fallback
	}
	var v int64
	if _, err := fmt.Sscanf(s, "%d", &v); err != nil {
		return fallback
	}
	return v
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// Matrix implements branch.MatrixProvider and commit.BranchSource.
func (e *Engine) Matrix(branchName string) (*tmatrix.Matrix, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.matrices[branchName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", chronoerr.ErrBranchUnknown, branchName)
	}
	return m, nil
}

// Branches implements commit.BranchSource.
func (e *Engine) Branches() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.matrices))
	for name := range e.matrices {
		out = append(out, name)
	}
	return out
}

// BranchChunkManager returns the chunk manager for branchName, used by
// cmd/chronodb's server loop to drive periodic retention sweeps.
func (e *Engine) BranchChunkManager(branchName string) (*chunk.BranchChunkManager, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	bcm, ok := e.bcms[branchName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", chronoerr.ErrBranchUnknown, branchName)
	}
	return bcm, nil
}

// Pipeline returns the commit pipeline for branchName.
func (e *Engine) Pipeline(branchName string) (*commit.Pipeline, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.pipelines[branchName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", chronoerr.ErrBranchUnknown, branchName)
	}
	return p, nil
}

// CreateBranch forks a new branch from origin at branchingTimestamp,
// registers it, and opens its storage with default (never-rotate,
// never-expire) policies. Use Open's cfg.Branches for branches that need
// non-default policies configured up front.
func (e *Engine) CreateBranch(name, origin string, branchingTimestamp uint64) error {
	if err := e.Registry.Create(name, origin, branchingTimestamp); err != nil {
		return err
	}
	return e.openBranch(name, origin, branchingTimestamp, config.PolicyConfig{}, config.PolicyConfig{}, 0)
}

// Close releases every open chunk handle held by the shared
// GlobalChunkManager.
func (e *Engine) Close() error {
	return e.Global.Shutdown()
}
