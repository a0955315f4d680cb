package unifiedcache

import (
	"context"
	"testing"
	"time"

	"github.com/arcvnc/pxcache/pkg/pixfmt"
	"github.com/stretchr/testify/require"
)

var testPF = pixfmt.PixelFormat{BitsPerPixel: 8, Depth: 8}

func tile(w, h int, fill byte) []byte {
	buf := make([]byte, w*h)
	for i := range buf {
		buf[i] = fill
	}
	return buf
}

func newVolatileCache(t *testing.T) *UnifiedCache {
	t.Helper()
	uc, err := New(WithMaxMemoryMB(64), WithPersistentMode(false))
	require.NoError(t, err)
	t.Cleanup(func() { _ = uc.Close() })
	return uc
}

func TestInsertThenGetHits(t *testing.T) {
	uc := newVolatileCache(t)
	key := ContentKey{W: 4, H: 4, ContentID: 1}
	uc.Insert(key, tile(4, 4, 7), testPF, 4, 4, 4, false)

	dp, ok := uc.Get(key)
	require.True(t, ok)
	require.Equal(t, tile(4, 4, 7), dp.Pixels)
}

func TestGetMissOnUnknownKey(t *testing.T) {
	uc := newVolatileCache(t)
	_, ok := uc.Get(ContentKey{W: 1, H: 1, ContentID: 99})
	require.False(t, ok)
}

func TestInsertCopiesFromPaddedStride(t *testing.T) {
	uc := newVolatileCache(t)
	const w, h, stride = 2, 2, 4
	src := []byte{1, 2, 0xAA, 0xAA, 3, 4, 0xAA, 0xAA}
	key := ContentKey{W: w, H: h, ContentID: 5}
	dp := uc.Insert(key, src, testPF, w, h, stride, false)
	require.Equal(t, []byte{1, 2, 3, 4}, dp.Pixels)
	require.Equal(t, w, dp.StrideInPixels)
}

func TestDrainEvictionsEmptyInitially(t *testing.T) {
	uc := newVolatileCache(t)
	require.Nil(t, uc.DrainEvictions())
}

func TestEvictionQueuedUnderMemoryPressure(t *testing.T) {
	uc, err := New(WithMaxMemoryMB(0)) // invalid: below min
	require.Error(t, err)
	require.Nil(t, uc)

	small, err := New(WithMaxMemoryMB(1), WithPersistentMode(false))
	require.NoError(t, err)
	defer small.Close()

	// 1MB budget, 32KB-ish tiles: enough inserts force evictions.
	const w, h = 128, 256
	for i := 0; i < 64; i++ {
		key := ContentKey{W: w, H: h, ContentID: uint64(i)}
		small.Insert(key, tile(w, h, byte(i)), testPF, w, h, w, false)
	}
	ids := small.DrainEvictions()
	require.NotEmpty(t, ids)
}

func TestKnownIDsCombinesResidentAndColdOnDisk(t *testing.T) {
	dir := t.TempDir()
	uc, err := New(WithCacheDir(dir), WithPersistentMode(true), WithMaxMemoryMB(64))
	require.NoError(t, err)
	defer uc.Close()

	key := ContentKey{W: 4, H: 4, ContentID: 42}
	uc.Insert(key, tile(4, 4, 1), testPF, 4, 4, 4, true)
	require.NoError(t, uc.FlushDirty())

	ids := uc.KnownIDs()
	require.Contains(t, ids, uint64(42))
}

func TestPersistenceRoundTripAcrossClose(t *testing.T) {
	dir := t.TempDir()
	key := ContentKey{W: 4, H: 4, ContentID: 77}

	first, err := New(WithCacheDir(dir), WithPersistentMode(true), WithMaxMemoryMB(64))
	require.NoError(t, err)
	first.Insert(key, tile(4, 4, 9), testPF, 4, 4, 4, true)
	require.NoError(t, first.FlushDirty())
	require.NoError(t, first.Close())

	second, err := New(WithCacheDir(dir), WithPersistentMode(true), WithMaxMemoryMB(64))
	require.NoError(t, err)
	defer second.Close()

	// A fresh process starts cold: nothing resident yet.
	_, ok := second.Get(key)
	require.False(t, ok)

	dp, err := second.GetBlocking(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, tile(4, 4, 9), dp.Pixels)
}

func TestGetBlockingUnknownKeyReturnsNotFound(t *testing.T) {
	dir := t.TempDir()
	uc, err := New(WithCacheDir(dir), WithPersistentMode(true), WithMaxMemoryMB(64))
	require.NoError(t, err)
	defer uc.Close()

	_, err = uc.GetBlocking(context.Background(), ContentKey{W: 1, H: 1, ContentID: 12345})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestBackgroundHydrationEventuallyMakesEntryResident(t *testing.T) {
	dir := t.TempDir()
	key := ContentKey{W: 2, H: 2, ContentID: 3}

	first, err := New(WithCacheDir(dir), WithPersistentMode(true), WithMaxMemoryMB(64))
	require.NoError(t, err)
	first.Insert(key, tile(2, 2, 5), testPF, 2, 2, 2, true)
	require.NoError(t, first.FlushDirty())
	require.NoError(t, first.Close())

	second, err := New(WithCacheDir(dir), WithPersistentMode(true), WithMaxMemoryMB(64))
	require.NoError(t, err)
	defer second.Close()

	// Triggers a miss that schedules background hydration.
	_, ok := second.Get(key)
	require.False(t, ok)

	require.Eventually(t, func() bool {
		_, ok := second.Get(key)
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestStateTransitionsOnReopenAndHydrate(t *testing.T) {
	dir := t.TempDir()
	key := ContentKey{W: 2, H: 2, ContentID: 8}

	first, err := New(WithCacheDir(dir), WithPersistentMode(true), WithMaxMemoryMB(64))
	require.NoError(t, err)
	first.Insert(key, tile(2, 2, 2), testPF, 2, 2, 2, true)
	require.NoError(t, first.FlushDirty())
	require.NoError(t, first.Close())

	second, err := New(WithCacheDir(dir), WithPersistentMode(true), WithMaxMemoryMB(64))
	require.NoError(t, err)
	defer second.Close()
	require.Equal(t, IndexLoaded, second.State())

	_, err = second.GetBlocking(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, PartiallyHydrated, second.State())
}

func TestCloseIsIdempotent(t *testing.T) {
	uc := newVolatileCache(t)
	require.NoError(t, uc.Close())
	require.NoError(t, uc.Close())
}

func TestStatsReflectsUnderlyingArc(t *testing.T) {
	uc := newVolatileCache(t)
	key := ContentKey{W: 1, H: 1, ContentID: 1}
	uc.Insert(key, []byte{1}, testPF, 1, 1, 1, false)
	uc.Get(key)
	stats := uc.Stats()
	require.Equal(t, uint64(1), stats.Hits)
}
