// Package unifiedcache is the client-side authoritative pixel cache: keys
// are (width, height, contentId) tuples, values are decoded pixel
// rectangles. An internal/arc.ArcCache bounds memory residency; an optional
// pkg/diskstore layer lets entries survive eviction (and process restarts)
// as cold, lazily-rehydrated records.
package unifiedcache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/arcvnc/pxcache/internal/arc"
	"github.com/arcvnc/pxcache/pkg/diskstore"
	"github.com/arcvnc/pxcache/pkg/pixfmt"
)

// ErrNotFound is returned by GetBlocking when a key is neither resident nor
// known on disk.
var ErrNotFound = errors.New("unifiedcache: content id not found")

// UnifiedCache is safe for concurrent use. It is designed to be owned by a
// single connection's decode/encode coordinator. Hydration reads payloads
// from disk outside the lock; flushing (FlushDirty, the periodic flush inside
// Insert, Close), SaveIndex and GarbageCollect do their shard and index I/O
// while holding it, so other callers wait for those writes to finish.
type UnifiedCache struct {
	cfg Config

	mu    sync.Mutex
	arc   *arc.ArcCache[ContentKey, *DecodedPixels]
	tick  uint64
	state HydrationState

	// records tracks every entry this cache has ever persisted, whether or
	// not it is currently resident. A key present here but absent from arc
	// is cold-on-disk.
	records map[ContentKey]diskstore.IndexRecord
	dirty   map[ContentKey]*DecodedPixels

	evictQueue []uint64

	shardWriter    *diskstore.ShardWriter
	insertsPending int

	hydrateGroup singleflight.Group
	hydrateQueue chan ContentKey
	workerDone   chan struct{}
	closed       int32

	logger  *zap.Logger
	metrics *metricsSink
}

// New constructs a UnifiedCache. When cfg.PersistentMode is set, it loads
// (or, on corruption, quarantines and starts fresh) the on-disk index and
// opens the active shard for appends.
func New(opts ...Option) (*UnifiedCache, error) {
	cfg, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}

	uc := &UnifiedCache{
		cfg:          cfg,
		records:      make(map[ContentKey]diskstore.IndexRecord),
		dirty:        make(map[ContentKey]*DecodedPixels),
		hydrateQueue: make(chan ContentKey, 256),
		workerDone:   make(chan struct{}),
		logger:       cfg.Logger,
		metrics:      newMetricsSink(cfg.Registry),
		state:        Uninitialized,
	}
	uc.arc = arc.New[ContentKey, *DecodedPixels](cfg.maxMemoryBytes(), (*DecodedPixels).byteSize, uc.onEvict)

	if cfg.PersistentMode {
		if err := uc.openDisk(); err != nil {
			return nil, err
		}
	}

	go uc.hydrationWorker()
	return uc, nil
}

func (uc *UnifiedCache) openDisk() error {
	header, records, err := diskstore.LoadIndex(uc.cfg.CacheDir)
	if err != nil {
		if errors.Is(err, diskstore.ErrCorrupt) {
			uc.logger.Warn("cache index corrupt, quarantining and starting empty", zap.String("dir", uc.cfg.CacheDir))
			if qerr := diskstore.QuarantineCorruptIndex(uc.cfg.CacheDir); qerr != nil {
				return qerr
			}
			header, records = diskstore.IndexHeader{}, nil
		} else {
			return err
		}
	}
	for _, r := range records {
		key := ContentKey{W: r.W, H: r.H, ContentID: r.ContentID}
		uc.records[key] = r
	}
	_ = header

	var nextShard uint16
	for _, r := range records {
		if r.ShardID >= nextShard {
			nextShard = r.ShardID + 1
		}
	}
	writer, err := diskstore.OpenShardWriter(uc.cfg.CacheDir, nextShard, uc.cfg.shardSizeBytes())
	if err != nil {
		return err
	}
	uc.shardWriter = writer
	uc.state = IndexLoaded
	return nil
}

// onEvict is the internal/arc.EvictCallback: whenever a key is demoted out
// of residency (T1/T2 -> B1/B2), its content id is queued for an
// EVICTION_NOTICE to the peer. This fires regardless of whether the entry
// was already flushed to disk: losing memory residency means the server can
// no longer assume a bare CACHE_REF will be servable without a hydration
// round trip, so the conservative choice is to always report it.
func (uc *UnifiedCache) onEvict(key ContentKey) {
	uc.evictQueue = append(uc.evictQueue, key.ContentID)
	delete(uc.dirty, key) // the value is gone from arc; nothing left to flush
	uc.metrics.observeEviction()
}

// Get returns a resident entry without ever touching disk. A miss on a key
// known to be cold-on-disk schedules a best-effort background hydration and
// still reports a miss — callers that need the data immediately should use
// GetBlocking.
func (uc *UnifiedCache) Get(key ContentKey) (*DecodedPixels, bool) {
	uc.mu.Lock()
	dp, ok := uc.arc.Get(key)
	if ok {
		uc.tick++
		dp.LastAccess = uc.tick
	}
	_, cold := uc.records[key]
	uc.mu.Unlock()

	if !ok {
		uc.metrics.observeMiss()
		if cold {
			uc.scheduleHydration(key)
		}
		return nil, false
	}
	uc.metrics.observeHit()
	return dp, true
}

// GetBlocking behaves like Get but synchronously hydrates a cold entry from
// disk when one is known, collapsing concurrent callers for the same key
// into a single disk read via singleflight.
func (uc *UnifiedCache) GetBlocking(ctx context.Context, key ContentKey) (*DecodedPixels, error) {
	if dp, ok := uc.Get(key); ok {
		return dp, nil
	}

	uc.mu.Lock()
	_, cold := uc.records[key]
	uc.mu.Unlock()
	if !cold {
		return nil, ErrNotFound
	}

	v, err, _ := uc.hydrateGroup.Do(key.String(), func() (interface{}, error) {
		return uc.hydrate(key)
	})
	if err != nil {
		return nil, err
	}
	return v.(*DecodedPixels), nil
}

func (uc *UnifiedCache) scheduleHydration(key ContentKey) {
	select {
	case uc.hydrateQueue <- key:
	default:
		// queue full; the entry stays cold until the next explicit GetBlocking
	}
}

func (uc *UnifiedCache) hydrationWorker() {
	defer close(uc.workerDone)
	for key := range uc.hydrateQueue {
		if _, err, _ := uc.hydrateGroup.Do(key.String(), func() (interface{}, error) {
			return uc.hydrate(key)
		}); err != nil {
			uc.logger.Warn("background hydration failed", zap.Stringer("key", key), zap.Error(err))
		}
	}
}

func (uc *UnifiedCache) hydrate(key ContentKey) (*DecodedPixels, error) {
	uc.mu.Lock()
	rec, ok := uc.records[key]
	if !ok {
		uc.mu.Unlock()
		return nil, ErrNotFound
	}
	dir := uc.cfg.CacheDir
	uc.mu.Unlock()

	payload, err := diskstore.ReadPayload(dir, rec.ShardID, rec.Offset, rec.Size)
	if err != nil {
		return nil, errors.Wrap(err, "unifiedcache: hydrate")
	}

	uc.mu.Lock()
	uc.tick++
	dp := &DecodedPixels{
		Pixels:         payload,
		PF:             rec.PF,
		W:              int(rec.W),
		H:              int(rec.H),
		StrideInPixels: int(rec.StrideInPixels),
		LastAccess:     uc.tick,
		State:          stateHydrated,
		Locator:        DiskLocator{ShardID: rec.ShardID, Offset: rec.Offset, Size: rec.Size},
	}
	uc.arc.Insert(key, dp)
	if uc.state == IndexLoaded {
		uc.state = PartiallyHydrated
	}
	uc.mu.Unlock()
	return dp, nil
}

// Insert admits a freshly decoded rectangle. pixels is copied into a
// tightly packed buffer (row stride == w) regardless of the caller's source
// stride, so every resident entry has a uniform, directly-persistable
// layout. isPersistable should be false for entries stored under a lossy
// (non-canonical) key, unless cfg.PersistLossyEntries overrides that.
func (uc *UnifiedCache) Insert(key ContentKey, src []byte, pf pixfmt.PixelFormat, w, h, srcStrideInPixels int, isPersistable bool) *DecodedPixels {
	bpp := pf.BytesPerPixel()
	rowLen := pixfmt.RowLength(w, bpp)
	tight := make([]byte, rowLen*h)
	for y := 0; y < h; y++ {
		srcOff := pixfmt.RowOffset(y, srcStrideInPixels, bpp)
		dstOff := pixfmt.RowOffset(y, w, bpp)
		copy(tight[dstOff:dstOff+rowLen], src[srcOff:srcOff+rowLen])
	}

	uc.mu.Lock()
	defer uc.mu.Unlock()
	uc.tick++
	dp := &DecodedPixels{
		Pixels:         tight,
		PF:             pf,
		W:              w,
		H:              h,
		StrideInPixels: w,
		LastAccess:     uc.tick,
		State:          stateHydrated,
	}
	uc.arc.Insert(key, dp)
	uc.metrics.observeInsert(int64(len(tight)))

	if uc.cfg.PersistentMode && (isPersistable || uc.cfg.PersistLossyEntries) {
		uc.dirty[key] = dp
		uc.insertsPending++
		if uc.insertsPending >= uc.cfg.FlushEveryNInserts {
			if err := uc.flushDirtyLocked(); err != nil {
				uc.logger.Warn("periodic flush failed", zap.Error(err))
			}
		}
	}
	return dp
}

// DrainEvictions returns and clears the content ids queued by ARC evictions
// since the last call. The caller is expected to batch these into
// EVICTION_NOTICE messages before its next network flush.
func (uc *UnifiedCache) DrainEvictions() []uint64 {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	if len(uc.evictQueue) == 0 {
		return nil
	}
	out := uc.evictQueue
	uc.evictQueue = nil
	return out
}

// KnownIDs reports every content id this cache currently has a claim to,
// whether resident in memory or cold on disk. It is the basis for an
// optional HASH_LIST bootstrap advertisement.
func (uc *UnifiedCache) KnownIDs() []uint64 {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	seen := make(map[uint64]struct{}, len(uc.records))
	ids := make([]uint64, 0, len(uc.records))
	add := func(id uint64) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	for _, k := range uc.arc.Keys() {
		add(k.ContentID)
	}
	for k := range uc.records {
		add(k.ContentID)
	}
	return ids
}

// FlushDirty writes every pending dirty entry to the active shard and
// rewrites index.dat. It is a no-op when PersistentMode is disabled.
func (uc *UnifiedCache) FlushDirty() error {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.flushDirtyLocked()
}

func (uc *UnifiedCache) flushDirtyLocked() error {
	if !uc.cfg.PersistentMode || len(uc.dirty) == 0 {
		uc.insertsPending = 0
		return nil
	}
	for key, dp := range uc.dirty {
		shardID, offset, size, err := uc.shardWriter.Append(dp.Pixels)
		if err != nil {
			return errors.Wrap(err, "unifiedcache: flush append")
		}
		dp.Locator = DiskLocator{ShardID: shardID, Offset: offset, Size: size}
		uc.records[key] = diskstore.IndexRecord{
			ContentID:      key.ContentID,
			W:              key.W,
			H:              key.H,
			StrideInPixels: uint16(dp.StrideInPixels),
			PF:             dp.PF,
			ShardID:        shardID,
			Offset:         offset,
			Size:           size,
		}
	}
	if err := uc.shardWriter.Flush(); err != nil {
		return err
	}
	uc.dirty = make(map[ContentKey]*DecodedPixels)
	uc.insertsPending = 0
	return uc.saveIndexLocked()
}

func (uc *UnifiedCache) saveIndexLocked() error {
	records := make([]diskstore.IndexRecord, 0, len(uc.records))
	var total uint64
	for _, r := range uc.records {
		records = append(records, r)
		total += uint64(r.Size)
	}
	header := diskstore.IndexHeader{EntryCount: uint64(len(records)), TotalBytes: total}
	return diskstore.SaveIndex(uc.cfg.CacheDir, header, records)
}

// SaveIndex forces an index.dat rewrite reflecting the current record set.
func (uc *UnifiedCache) SaveIndex() error {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.saveIndexLocked()
}

// GarbageCollect compacts shards whose live-byte ratio has fallen below
// cfg.GCLiveRatio and rewrites the index to match.
func (uc *UnifiedCache) GarbageCollect() error {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	if !uc.cfg.PersistentMode {
		return nil
	}
	records := make([]diskstore.IndexRecord, 0, len(uc.records))
	keys := make([]ContentKey, 0, len(uc.records))
	for k, r := range uc.records {
		keys = append(keys, k)
		records = append(records, r)
	}
	updated, compacted, err := diskstore.GC(uc.cfg.CacheDir, records, uc.cfg.shardSizeBytes(), uc.cfg.GCLiveRatio)
	if err != nil {
		return err
	}
	for i, k := range keys {
		uc.records[k] = updated[i]
	}
	if len(compacted) > 0 {
		uc.logger.Info("compacted shards", zap.Int("count", len(compacted)))
	}
	return uc.saveIndexLocked()
}

// State reports the cache's current hydration state.
func (uc *UnifiedCache) State() HydrationState {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.state
}

// Stats exposes the underlying ARC's bookkeeping counters.
func (uc *UnifiedCache) Stats() arc.Stats {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.arc.Stats()
}

// Close flushes any pending dirty entries, saves the index, and stops the
// background hydration worker. Calls after the first are no-ops that
// return nil.
func (uc *UnifiedCache) Close() error {
	if !atomic.CompareAndSwapInt32(&uc.closed, 0, 1) {
		return nil
	}
	close(uc.hydrateQueue)
	<-uc.workerDone

	uc.mu.Lock()
	defer uc.mu.Unlock()
	if !uc.cfg.PersistentMode {
		return nil
	}
	if err := uc.flushDirtyLocked(); err != nil {
		return err
	}
	if uc.shardWriter != nil {
		if err := uc.shardWriter.Close(); err != nil {
			return fmt.Errorf("unifiedcache: close shard writer: %w", err)
		}
	}
	return nil
}
