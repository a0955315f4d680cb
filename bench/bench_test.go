// Package bench provides reproducible micro-benchmarks for the cache stack.
// Run via: go test ./bench -bench=. -benchmem -cpu 1,4,16
//
// NOTE: unit tests live alongside each package; this file is only for
// performance.
//
// © 2025 pxcache authors. MIT License.
package bench

import (
	"context"
	"math/rand"
	"testing"

	"github.com/arcvnc/pxcache/internal/contenthash"
	"github.com/arcvnc/pxcache/pkg/pixfmt"
	"github.com/arcvnc/pxcache/pkg/unifiedcache"
)

const (
	tileW, tileH = 32, 32
	poolSize     = 1 << 14
)

var pf = pixfmt.PixelFormat{BitsPerPixel: 32, Depth: 24, TrueColour: true}

func newTestCache(b *testing.B) *unifiedcache.UnifiedCache {
	uc, err := unifiedcache.New(
		unifiedcache.WithMaxMemoryMB(64),
		unifiedcache.WithPersistentMode(false),
	)
	if err != nil {
		b.Fatalf("cache init: %v", err)
	}
	return uc
}

var pool = func() [][]byte {
	r := rand.New(rand.NewSource(42))
	tiles := make([][]byte, poolSize)
	for i := range tiles {
		t := make([]byte, tileW*tileH*pf.BytesPerPixel())
		r.Read(t)
		tiles[i] = t
	}
	return tiles
}()

var keys = func() []unifiedcache.ContentKey {
	ks := make([]unifiedcache.ContentKey, poolSize)
	for i, t := range pool {
		ks[i] = unifiedcache.ContentKey{
			W: tileW, H: tileH,
			ContentID: contenthash.SumTight(t, pf, tileW, tileH),
		}
	}
	return ks
}()

func BenchmarkInsert(b *testing.B) {
	uc := newTestCache(b)
	defer uc.Close()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		idx := i & (poolSize - 1)
		uc.Insert(keys[idx], pool[idx], pf, tileW, tileH, tileW, false)
	}
}

func BenchmarkGetHit(b *testing.B) {
	uc := newTestCache(b)
	defer uc.Close()
	for i, t := range pool {
		uc.Insert(keys[i], t, pf, tileW, tileH, tileW, false)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		uc.Get(keys[i&(poolSize-1)])
	}
}

func BenchmarkGetParallel(b *testing.B) {
	uc := newTestCache(b)
	defer uc.Close()
	for i, t := range pool {
		uc.Insert(keys[i], t, pf, tileW, tileH, tileW, false)
	}
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		idx := rand.Intn(poolSize)
		for pb.Next() {
			idx = (idx + 1) & (poolSize - 1)
			uc.Get(keys[idx])
		}
	})
}

func BenchmarkGetBlockingHydrate(b *testing.B) {
	dir := b.TempDir()
	uc, err := unifiedcache.New(
		unifiedcache.WithMaxMemoryMB(1),
		unifiedcache.WithPersistentMode(true),
		unifiedcache.WithCacheDir(dir),
	)
	if err != nil {
		b.Fatalf("cache init: %v", err)
	}
	defer uc.Close()
	for i, t := range pool {
		uc.Insert(keys[i], t, pf, tileW, tileH, tileW, true)
	}
	if err := uc.FlushDirty(); err != nil {
		b.Fatalf("flush: %v", err)
	}
	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := uc.GetBlocking(ctx, keys[i&(poolSize-1)]); err != nil {
			b.Fatalf("get blocking: %v", err)
		}
	}
}
