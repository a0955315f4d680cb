// Package unifiedcache implements the client-side authoritative pixel cache:
// an in-memory ARC over (w, h, contentId) -> decoded pixels, optional
// disk-backed shards, lazy hydration, and eviction notification.
//
// The cache is a generic core (internal/arc.ArcCache) wrapped by a
// functional-option config and an optional Prometheus metrics sink. It is
// not sharded by key hash: it is owned by a single writer, the connection's
// decode coordinator, so one mutex suffices and there is no contention to
// spread across independent generations.
//
// © 2025 pxcache authors. MIT License.
package unifiedcache

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	defaultMaxMemoryMB  uint32  = 2048
	defaultShardSizeMB  uint32  = 64
	defaultMinGCRatio   float64 = 0.5
	defaultFlushEveryN  int     = 32
	bytesPerMB                  = 1 << 20
)

// Config enumerates every knob recognised by UnifiedCache.
type Config struct {
	MaxMemoryMB uint32
	MaxDiskMB   uint32 // 0 => 2x MaxMemoryMB
	ShardSizeMB uint32

	PersistentMode bool
	CacheDir       string

	// PersistLossyEntries controls whether entries stored under a
	// non-canonical (actual != canonical hash) key are ever written to disk.
	// Off by default: a lossy entry is a local substitution decision and
	// rebuilding it from a fresh decode is preferable to persisting a
	// divergent pixel history across restarts.
	PersistLossyEntries bool

	// GCLiveRatio is the live-byte-ratio threshold below which a shard is
	// compacted.
	GCLiveRatio float64

	// FlushEveryNInserts bounds how long a dirty entry can go unflushed to
	// disk; a manual FlushDirty() call is also always available.
	FlushEveryNInserts int

	Logger   *zap.Logger
	Registry *prometheus.Registry
}

// Option mutates a Config under construction; see With* below.
type Option func(*Config)

func WithMaxMemoryMB(mb uint32) Option      { return func(c *Config) { c.MaxMemoryMB = mb } }
func WithMaxDiskMB(mb uint32) Option        { return func(c *Config) { c.MaxDiskMB = mb } }
func WithShardSizeMB(mb uint32) Option      { return func(c *Config) { c.ShardSizeMB = mb } }
func WithPersistentMode(on bool) Option     { return func(c *Config) { c.PersistentMode = on } }
func WithCacheDir(dir string) Option        { return func(c *Config) { c.CacheDir = dir } }
func WithGCLiveRatio(r float64) Option      { return func(c *Config) { c.GCLiveRatio = r } }
func WithPersistLossyEntries(b bool) Option { return func(c *Config) { c.PersistLossyEntries = b } }
func WithFlushEveryNInserts(n int) Option   { return func(c *Config) { c.FlushEveryNInserts = n } }

// WithLogger plugs an external zap.Logger. UnifiedCache never logs on the
// hot (per-rectangle) path — only slow events: shard rolls, GC passes, disk
// I/O failures, corruption recovery.
func WithLogger(l *zap.Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}

// WithMetrics enables Prometheus metrics collection. Passing nil disables
// metrics (the default).
func WithMetrics(reg *prometheus.Registry) Option {
	return func(c *Config) { c.Registry = reg }
}

func defaultCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "pxcache")
	}
	return filepath.Join(os.TempDir(), "pxcache")
}

func defaultConfig() Config {
	return Config{
		MaxMemoryMB:         defaultMaxMemoryMB,
		ShardSizeMB:         defaultShardSizeMB,
		PersistentMode:      true,
		CacheDir:            defaultCacheDir(),
		GCLiveRatio:         defaultMinGCRatio,
		FlushEveryNInserts:  defaultFlushEveryN,
		Logger:              zap.NewNop(),
	}
}

var (
	errInvalidMemory = errors.New("unifiedcache: MaxMemoryMB must be > 0")
	errInvalidShard  = errors.New("unifiedcache: ShardSizeMB must be > 0")
	errInvalidGCRatio = errors.New("unifiedcache: GCLiveRatio must be in (0, 1]")
	errNoCacheDir    = errors.New("unifiedcache: CacheDir must be set when PersistentMode is enabled")
)

func applyOptions(opts []Option) (Config, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.MaxMemoryMB == 0 {
		return Config{}, errInvalidMemory
	}
	if cfg.ShardSizeMB == 0 {
		return Config{}, errInvalidShard
	}
	if cfg.GCLiveRatio <= 0 || cfg.GCLiveRatio > 1 {
		return Config{}, errInvalidGCRatio
	}
	if cfg.MaxDiskMB == 0 {
		cfg.MaxDiskMB = 2 * cfg.MaxMemoryMB
	}
	if cfg.PersistentMode && cfg.CacheDir == "" {
		return Config{}, errNoCacheDir
	}
	if cfg.FlushEveryNInserts <= 0 {
		cfg.FlushEveryNInserts = defaultFlushEveryN
	}
	return cfg, nil
}

func (c Config) maxMemoryBytes() int64 { return int64(c.MaxMemoryMB) * bytesPerMB }
func (c Config) maxDiskBytes() int64   { return int64(c.MaxDiskMB) * bytesPerMB }
func (c Config) shardSizeBytes() int64 { return int64(c.ShardSizeMB) * bytesPerMB }
