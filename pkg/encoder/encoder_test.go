package encoder

import (
	"errors"
	"testing"

	"github.com/arcvnc/pxcache/pkg/pixfmt"
	"github.com/arcvnc/pxcache/pkg/session"
	"github.com/arcvnc/pxcache/pkg/wire"
	"github.com/stretchr/testify/require"
)

var testPF = pixfmt.PixelFormat{BitsPerPixel: 8, Depth: 8}

func fixedInnerEncode(payload []byte, tag int32) InnerEncodeFunc {
	return func(rect wire.RectHeader, pf pixfmt.PixelFormat, fb FramebufferView) ([]byte, int32, error) {
		return payload, tag, nil
	}
}

func failingInnerEncode(err error) InnerEncodeFunc {
	return func(rect wire.RectHeader, pf pixfmt.PixelFormat, fb FramebufferView) ([]byte, int32, error) {
		return nil, 0, err
	}
}

func bigRect() (wire.RectHeader, FramebufferView) {
	const w, h = 64, 64
	rect := wire.RectHeader{X: 0, Y: 0, W: w, H: h}
	fb := FramebufferView{Pixels: make([]byte, w*h), StrideInPixels: w}
	return rect, fb
}

func TestEncodeOneFirstSightSendsInit(t *testing.T) {
	tr := session.New(session.WithMinCacheArea(1))
	enc := New(tr, fixedInnerEncode([]byte("payload"), 3))
	rect, fb := bigRect()

	ev, err := enc.EncodeOne(rect, testPF, fb, true)
	require.NoError(t, err)
	require.Equal(t, EventInit, ev.Kind)
	require.Equal(t, []byte("payload"), ev.Init.Payload)
	require.Equal(t, int32(3), ev.Init.InnerEncoding)
}

func TestEncodeOneSecondSightSendsRef(t *testing.T) {
	tr := session.New(session.WithMinCacheArea(1))
	enc := New(tr, fixedInnerEncode([]byte("payload"), 3))
	rect, fb := bigRect()

	first, err := enc.EncodeOne(rect, testPF, fb, true)
	require.NoError(t, err)
	require.Equal(t, EventInit, first.Kind)

	second, err := enc.EncodeOne(rect, testPF, fb, true)
	require.NoError(t, err)
	require.Equal(t, EventRef, second.Kind)
	require.Equal(t, first.Init.ContentID, second.Ref.ContentID)
}

func TestEncodeOneBelowMinAreaEncodesNormally(t *testing.T) {
	tr := session.New(session.WithMinCacheArea(1_000_000))
	enc := New(tr, fixedInnerEncode([]byte("payload"), 3))
	rect, fb := bigRect()

	ev, err := enc.EncodeOne(rect, testPF, fb, true)
	require.NoError(t, err)
	require.Equal(t, EventNormal, ev.Kind)
}

func TestEncodeOneInnerEncodeFailureRevokesOptimisticAdd(t *testing.T) {
	tr := session.New(session.WithMinCacheArea(1))
	boom := errors.New("inner encode blew up")
	enc := New(tr, failingInnerEncode(boom))
	rect, fb := bigRect()

	_, err := enc.EncodeOne(rect, testPF, fb, true)
	require.ErrorIs(t, err, boom)

	// Retry with a working encoder: must be offered as a fresh init, not
	// silently treated as already known.
	enc2 := New(tr, fixedInnerEncode([]byte("ok"), 1))
	ev, err := enc2.EncodeOne(rect, testPF, fb, true)
	require.NoError(t, err)
	require.Equal(t, EventInit, ev.Kind)
}

func TestEncodeRepairReusesContentID(t *testing.T) {
	tr := session.New(session.WithMinCacheArea(1))
	enc := New(tr, fixedInnerEncode([]byte("first"), 2))
	rect, fb := bigRect()

	first, err := enc.EncodeOne(rect, testPF, fb, true)
	require.NoError(t, err)

	pending := session.PendingInit{X: rect.X, Y: rect.Y, W: rect.W, H: rect.H, ContentID: first.Init.ContentID}
	repairEnc := New(tr, fixedInnerEncode([]byte("repaired"), 9))
	ev, err := repairEnc.EncodeRepair(pending, testPF, fb)
	require.NoError(t, err)
	require.Equal(t, first.Init.ContentID, ev.Init.ContentID)
	require.Equal(t, []byte("repaired"), ev.Init.Payload)
}
