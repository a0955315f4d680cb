// Package decoder is the client-side half of the cache protocol: it
// dispatches CACHE_REF/CACHE_INIT rectangles against a parallel decode
// pipeline, enforcing the ordering barrier the pipeline's overlap semantics
// require, and drives pkg/unifiedcache accordingly.
package decoder

import (
	"go.uber.org/zap"

	"github.com/arcvnc/pxcache/internal/contenthash"
	"github.com/arcvnc/pxcache/pkg/pixfmt"
	"github.com/arcvnc/pxcache/pkg/unifiedcache"
	"github.com/arcvnc/pxcache/pkg/wire"
)

// Framebuffer is the host's pixel surface. Blit applies decoded pixels at
// (x, y); View reads back the current content of a region, used only for
// seeded inits where the pixels already live in the framebuffer.
type Framebuffer interface {
	Blit(x, y, w, h int, pixels []byte, strideInPixels int, pf pixfmt.PixelFormat)
	View(x, y, w, h int) (pixels []byte, strideInPixels int)
}

// Transport sends the client-to-server messages the decoder can trigger.
type Transport interface {
	SendRequestCachedData(id uint64) error
	SendHashReport(canonical, actual uint64) error
	SendEvictionNotice(ids []uint64) error
}

// InnerDecodeFunc delegates an inner-encoded CACHE_INIT payload to the
// host's decode pipeline, returning tightly-packed-or-not pixels and their
// stride; Decoder re-packs via unifiedcache.Insert regardless.
type InnerDecodeFunc func(rect wire.RectHeader, innerEncoding int32, payload []byte, pf pixfmt.PixelFormat) (pixels []byte, strideInPixels int, err error)

// Decoder wires a UnifiedCache, an ordering Barrier, the host framebuffer,
// and the outgoing transport together.
type Decoder struct {
	cache       *unifiedcache.UnifiedCache
	barrier     *Barrier
	fb          Framebuffer
	transport   Transport
	innerDecode InnerDecodeFunc
	logger      *zap.Logger
}

type Option func(*Decoder)

func WithLogger(l *zap.Logger) Option {
	return func(d *Decoder) {
		if l != nil {
			d.logger = l
		}
	}
}

func New(cache *unifiedcache.UnifiedCache, fb Framebuffer, transport Transport, innerDecode InnerDecodeFunc, opts ...Option) *Decoder {
	d := &Decoder{
		cache:       cache,
		barrier:     NewBarrier(),
		fb:          fb,
		transport:   transport,
		innerDecode: innerDecode,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// HandleCacheRef processes a CACHE_REF rectangle: flush the ordering
// barrier for its region, then blit on a hit or request repair on a miss.
func (d *Decoder) HandleCacheRef(rect wire.RectHeader, ref wire.CacheRef) error {
	ticket := d.barrier.Register(int(rect.X), int(rect.Y), int(rect.W), int(rect.H))
	defer ticket.Done()
	ticket.Await()

	key := unifiedcache.ContentKey{W: rect.W, H: rect.H, ContentID: ref.ContentID}
	dp, ok := d.cache.Get(key)
	if !ok {
		return d.transport.SendRequestCachedData(ref.ContentID)
	}
	d.fb.Blit(int(rect.X), int(rect.Y), dp.W, dp.H, dp.Pixels, dp.StrideInPixels, dp.PF)
	return nil
}

// HandleCacheInit processes a CACHE_INIT rectangle: the inner payload is
// decoded first (off the barrier, since it only needs the payload bytes),
// then the barrier is flushed before the cache and framebuffer are touched.
func (d *Decoder) HandleCacheInit(rect wire.RectHeader, init wire.CacheInit, pf pixfmt.PixelFormat) error {
	pixels, stride, err := d.innerDecode(rect, init.InnerEncoding, init.Payload, pf)
	if err != nil {
		return err
	}

	ticket := d.barrier.Register(int(rect.X), int(rect.Y), int(rect.W), int(rect.H))
	defer ticket.Done()
	ticket.Await()

	w, h := int(rect.W), int(rect.H)
	actualID := contenthash.Sum(pixels, pf, w, h, stride)
	storageID := init.ContentID
	if actualID != init.ContentID {
		storageID = actualID
	}
	isPersistable := storageID == init.ContentID

	key := unifiedcache.ContentKey{W: rect.W, H: rect.H, ContentID: storageID}
	dp := d.cache.Insert(key, pixels, pf, w, h, stride, isPersistable)

	if actualID != init.ContentID {
		if err := d.transport.SendHashReport(init.ContentID, actualID); err != nil {
			d.logger.Warn("send hash report failed", zap.Error(err))
		}
	}
	d.fb.Blit(int(rect.X), int(rect.Y), dp.W, dp.H, dp.Pixels, dp.StrideInPixels, dp.PF)
	d.flushEvictions()
	return nil
}

// HandleSeededInit stores the framebuffer's current content at rect under
// its own hash, without any wire payload having arrived — used when the
// host seeds the cache from pixels it already has (e.g. after a local
// CopyRect). A hash mismatch against canonicalID is reported but never
// rejected: the seed is accepted regardless of which id it lands under.
func (d *Decoder) HandleSeededInit(rect wire.RectHeader, canonicalID uint64, pf pixfmt.PixelFormat) error {
	w, h := int(rect.W), int(rect.H)
	pixels, stride := d.fb.View(int(rect.X), int(rect.Y), w, h)
	actualID := contenthash.Sum(pixels, pf, w, h, stride)

	key := unifiedcache.ContentKey{W: rect.W, H: rect.H, ContentID: actualID}
	d.cache.Insert(key, pixels, pf, w, h, stride, actualID == canonicalID)

	if actualID != canonicalID {
		if err := d.transport.SendHashReport(canonicalID, actualID); err != nil {
			d.logger.Warn("send hash report failed", zap.Error(err))
		}
	}
	d.flushEvictions()
	return nil
}

func (d *Decoder) flushEvictions() {
	ids := d.cache.DrainEvictions()
	if len(ids) == 0 {
		return
	}
	if err := d.transport.SendEvictionNotice(ids); err != nil {
		d.logger.Warn("send eviction notice failed", zap.Error(err))
	}
}
