// Package encoder is the server-side half of the cache protocol: for each
// outgoing rectangle it decides, via pkg/session's Tracker, whether a bare
// reference suffices or a fresh payload must be sent, and produces the
// resulting wire event. It never interprets inner-encoded payload bytes —
// those belong entirely to the host's encoder, reached through InnerEncodeFunc.
package encoder

import (
	"go.uber.org/zap"

	"github.com/arcvnc/pxcache/internal/contenthash"
	"github.com/arcvnc/pxcache/pkg/pixfmt"
	"github.com/arcvnc/pxcache/pkg/session"
	"github.com/arcvnc/pxcache/pkg/wire"
)

// FramebufferView is a read-only window into the rectangle's pixels at the
// time of the call. Per the ordering model, the caller guarantees no
// concurrent write overlaps rect for the duration of EncodeOne.
type FramebufferView struct {
	Pixels         []byte
	StrideInPixels int
}

// InnerEncodeFunc delegates the actual pixel encoding (Tight, H.264,
// whatever the host supports) to the caller. It returns the encoded payload
// and the tag identifying which encoding produced it.
type InnerEncodeFunc func(rect wire.RectHeader, pf pixfmt.PixelFormat, fb FramebufferView) (payload []byte, innerEncoding int32, err error)

// EventKind discriminates the three shapes EncodeOne can return.
type EventKind uint8

const (
	EventNormal EventKind = iota
	EventRef
	EventInit
)

// WireEvent is what the caller should actually write to the connection.
type WireEvent struct {
	Kind EventKind
	Rect wire.RectHeader
	Ref  wire.CacheRef
	Init wire.CacheInit
}

// Encoder wraps one connection's session.Tracker with the decision
// procedure and hash computation. It holds no pixel state of its own.
type Encoder struct {
	tracker     *session.Tracker
	innerEncode InnerEncodeFunc
	logger      *zap.Logger
}

type Option func(*Encoder)

func WithLogger(l *zap.Logger) Option {
	return func(e *Encoder) {
		if l != nil {
			e.logger = l
		}
	}
}

func New(tracker *session.Tracker, innerEncode InnerEncodeFunc, opts ...Option) *Encoder {
	e := &Encoder{tracker: tracker, innerEncode: innerEncode, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EncodeOne runs the per-rectangle decision procedure and returns the event
// to emit on the wire. capabilityNegotiated reflects whether the peer
// advertised PSEUDO_CACHE_SUPPORT on this connection.
func (e *Encoder) EncodeOne(rect wire.RectHeader, pf pixfmt.PixelFormat, fb FramebufferView, capabilityNegotiated bool) (WireEvent, error) {
	w, h := int(rect.W), int(rect.H)
	canonicalID := contenthash.Sum(fb.Pixels, pf, w, h, fb.StrideInPixels)
	area := w * h

	outcome := e.tracker.Evaluate(canonicalID, area, capabilityNegotiated)
	switch outcome.Decision {
	case session.DecisionSendRef, session.DecisionSendRefAlias:
		e.tracker.RecordSent(session.PendingInit{
			X: rect.X, Y: rect.Y, W: rect.W, H: rect.H,
			ContentID: outcome.ReferenceID,
		})
		return WireEvent{
			Kind: EventRef,
			Rect: rect,
			Ref:  wire.CacheRef{ContentID: outcome.ReferenceID},
		}, nil

	case session.DecisionSendInit:
		payload, innerEnc, err := e.innerEncode(rect, pf, fb)
		if err != nil {
			e.tracker.RevokeOptimisticAdd(canonicalID)
			return WireEvent{}, err
		}
		e.tracker.RecordSent(session.PendingInit{
			X: rect.X, Y: rect.Y, W: rect.W, H: rect.H,
			ContentID: canonicalID, InnerEncoding: innerEnc,
		})
		return WireEvent{
			Kind: EventInit,
			Rect: rect,
			Init: wire.CacheInit{ContentID: canonicalID, InnerEncoding: innerEnc, Payload: payload},
		}, nil

	default:
		return WireEvent{Kind: EventNormal, Rect: rect}, nil
	}
}

// EncodeRepair produces a CACHE_INIT for a rectangle the tracker already
// decided to send once before, in response to a REQUEST_CACHED_DATA. It
// never touches tracker state beyond re-recording the rectangle.
func (e *Encoder) EncodeRepair(pending session.PendingInit, pf pixfmt.PixelFormat, fb FramebufferView) (WireEvent, error) {
	rect := wire.RectHeader{X: pending.X, Y: pending.Y, W: pending.W, H: pending.H}
	payload, innerEnc, err := e.innerEncode(rect, pf, fb)
	if err != nil {
		return WireEvent{}, err
	}
	e.tracker.RecordSent(session.PendingInit{
		X: pending.X, Y: pending.Y, W: pending.W, H: pending.H,
		ContentID: pending.ContentID, InnerEncoding: innerEnc,
	})
	return WireEvent{
		Kind: EventInit,
		Rect: rect,
		Init: wire.CacheInit{ContentID: pending.ContentID, InnerEncoding: innerEnc, Payload: payload},
	}, nil
}
