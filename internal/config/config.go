// Package config provides configuration persistence for ChronoDB.
//
// Store persists and reloads the desired system configuration across
// restarts. This is control-plane state, not data-plane state: it
// describes branches, indexes, and cache policy, not any individual
// commit. Store is not accessed on the commit or query hot path.
package config

import "context"

// Store persists and loads ChronoDB's configuration.
type Store interface {
	// Load reads the configuration. Returns nil config if none exists.
	Load(ctx context.Context) (*Config, error)

	// Save persists the configuration.
	Save(ctx context.Context, cfg *Config) error
}

// Config describes the desired shape of one ChronoDB instance.
type Config struct {
	// StorageRoot is the directory under which every branch's chunk files
	// live, one subdirectory per branch (root/branches/<branchName>/).
	StorageRoot string

	// Branches lists every branch besides the implicit root branch. The
	// root branch always exists and needs no entry.
	Branches []BranchConfig

	// Indexes lists the named indexes maintained by CommitPipeline.
	Indexes []IndexConfig

	// ReadCache configures the point-read cache (internal/readcache).
	ReadCache CacheConfig

	// QueryCache holds settings for a cache of IndexBackend.GetMatching
	// results. It is saved and loaded with the rest of the config, but no
	// component reads it: no query cache is built from it.
	QueryCache CacheConfig
}

// BranchConfig describes one non-root branch to create at startup if it
// does not already exist, plus its storage policy.
type BranchConfig struct {
	Name               string
	Origin             string
	BranchingTimestamp uint64
	MaxOpenFiles       int
	Rotation           PolicyConfig
	Retention          PolicyConfig
}

// PolicyConfig names a rotation or retention policy variant plus its
// parameters, resolved against internal/chunk's policy constructors the
// way internal/index/extractor.Descriptor resolves extractors.
type PolicyConfig struct {
	Type   string
	Params map[string]string
}

// IndexConfig describes one index CommitPipeline maintains: the keyspace
// it watches and the extractor that derives its indexed values.
type IndexConfig struct {
	Name      string
	Keyspace  string
	Extractor ExtractorConfig
}

// ExtractorConfig names an extractor.Registry entry plus its parameters.
type ExtractorConfig struct {
	Name   string
	Params map[string]string
}

// CacheConfig configures a bounded cache's size and immutability
// assumption.
type CacheConfig struct {
	Enabled         bool
	MaxSize         int
	AssumeImmutable bool
}
