// Package config holds the handful of settings spec.md §6 recognizes as
// environment input to the core: where a repository's storage lives,
// where repositories are discovered from, and how verbose logging is.
// Loading an actual file from disk is left to whatever embeds this
// module (a CLI, a session supervisor) — this package only knows how to
// marshal and unmarshal the settings themselves.
package config

import (
	"time"

	"github.com/ouisync/ouisync/pkg/repository"
	"gopkg.in/yaml.v3"
)

// Options is the complete set of settings spec.md §6 recognizes as
// environment input to the core.
type Options struct {
	// StoreDir is where a repository's single bbolt file lives.
	StoreDir string `yaml:"store_dir"`
	// RepositoriesDir names a directory of repositories. pkg/session does
	// not read it: Init starts with an empty registry, and repositories
	// enter it only through Session.Open.
	RepositoriesDir string `yaml:"repositories_dir"`
	// LogFilter is a zerolog level string (debug, info, warn, error).
	LogFilter string `yaml:"log_filter"`
	// BlockCacheBytes is the per-repository LRU block cache budget; see
	// repository.Options.BlockCacheBytes.
	BlockCacheBytes int64 `yaml:"block_cache_bytes"`
	// GCInterval is the per-repository background garbage collection
	// period; see repository.Options.GCInterval.
	GCInterval time.Duration `yaml:"gc_interval"`
}

// Default returns the options a session starts with absent a config
// file, with the repository façade's own defaults for cache size and GC
// cadence.
func Default() Options {
	defaults := repository.DefaultOptions()
	return Options{
		StoreDir:        "",
		RepositoriesDir: "",
		LogFilter:       "info",
		BlockCacheBytes: defaults.BlockCacheBytes,
		GCInterval:      defaults.GCInterval,
	}
}

// RepositoryOptions projects the repository-relevant fields of Options
// into a repository.Options, the shape Open actually takes.
func (o Options) RepositoryOptions() repository.Options {
	return repository.Options{
		BlockCacheBytes: o.BlockCacheBytes,
		GCInterval:      o.GCInterval,
	}
}

// Marshal serializes o as YAML.
func (o Options) Marshal() ([]byte, error) {
	return yaml.Marshal(o)
}

// Unmarshal parses YAML produced by Marshal (or hand-written config) into
// an Options, starting from Default so an omitted field keeps its
// default rather than zeroing out.
func Unmarshal(data []byte) (Options, error) {
	opts := Default()
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return Options{}, err
	}
	return opts, nil
}
