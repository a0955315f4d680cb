package unifiedcache

import (
	"fmt"

	"github.com/arcvnc/pxcache/pkg/pixfmt"
)

// HydrationState describes how much of a cache's disk-backed state has been
// brought into memory.
type HydrationState uint8

const (
	Uninitialized HydrationState = iota
	IndexLoaded
	PartiallyHydrated
	FullyHydrated
)

func (s HydrationState) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case IndexLoaded:
		return "index-loaded"
	case PartiallyHydrated:
		return "partially-hydrated"
	case FullyHydrated:
		return "fully-hydrated"
	default:
		return "unknown"
	}
}

// entryState distinguishes an entry whose pixel bytes sit in memory from one
// that exists only as an index record on disk.
type entryState uint8

const (
	stateHydrated entryState = iota
	stateCold
)

// ContentKey identifies one cache entry: its content id alone is not enough,
// since two rectangles of different dimensions can legitimately share a
// content id collision-free hash space only when the dimensions are folded
// into the key (dimensions are never hashed into the id itself).
type ContentKey struct {
	W, H      uint16
	ContentID uint64
}

func (k ContentKey) String() string {
	return fmt.Sprintf("%dx%d@%016x", k.W, k.H, k.ContentID)
}

// DiskLocator points at one payload record inside a shard file.
type DiskLocator struct {
	ShardID uint16
	Offset  uint32
	Size    uint32
}

// DecodedPixels is the value type stored in the cache: one rectangle's worth
// of tightly packed pixel bytes (row stride always equals width; no
// inter-row padding), plus enough metadata to reconstruct, blit, or persist
// it. Pixels, PF and the dimensions are never changed after construction —
// a content update creates a brand-new DecodedPixels and replaces the map
// entry. LastAccess (on a Get hit) and Locator (on flush) are updated in
// place under the cache's lock.
type DecodedPixels struct {
	Pixels         []byte
	PF             pixfmt.PixelFormat
	W, H           int
	StrideInPixels int // always == W for entries produced by Insert

	LastAccess uint64
	State      entryState
	Locator    DiskLocator
}

func (d *DecodedPixels) byteSize() int64 { return int64(len(d.Pixels)) }
