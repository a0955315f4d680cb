// Package session implements the server-side per-connection bookkeeping
// that decides, for each outgoing rectangle, whether the peer can already
// resolve a bare reference to previously sent pixels. It tracks no pixel
// data itself — only the ids the peer is believed to hold.
package session

import (
	"sync"

	"go.uber.org/zap"
)

// Decision is the outcome of evaluating one rectangle against tracker state.
type Decision uint8

const (
	// DecisionSendInit means the rectangle must be encoded and sent as a
	// fresh CACHE_INIT; the id is optimistically recorded as known.
	DecisionSendInit Decision = iota
	// DecisionSendRef means a CACHE_REF by CanonicalID is sufficient.
	DecisionSendRef
	// DecisionSendRefAlias means a CACHE_REF by the lossy alias id is
	// sufficient.
	DecisionSendRefAlias
	// DecisionEncodeNormally means the rectangle falls below the
	// minimum cacheable area, or the cache capability was never
	// negotiated: encode it with the ordinary non-cache path.
	DecisionEncodeNormally
)

// Outcome is returned by Evaluate; ReferenceID is only meaningful for
// DecisionSendRef/DecisionSendRefAlias.
type Outcome struct {
	Decision    Decision
	ReferenceID uint64
}

// PendingInit describes a rectangle the tracker has queued to be (re)sent
// to the peer as a CACHE_INIT, because it answered a RequestCachedData or
// seeds a targeted refresh.
type PendingInit struct {
	X, Y, W, H    uint16
	ContentID     uint64
	InnerEncoding int32
}

// Tracker holds the per-connection state described above. Zero value is not
// usable; construct with New.
type Tracker struct {
	mu sync.Mutex

	minCacheArea int

	knownIDs     map[uint64]struct{}
	lossyAliases map[uint64]uint64 // canonical -> actual
	pendingInits []PendingInit

	// lastSeen records the most recent (x,y,w,h,innerEncoding) a content id
	// was associated with, so RequestCachedData can re-seed it without the
	// caller having to track that itself.
	lastSeen map[uint64]PendingInit

	logger *zap.Logger
}

const defaultMinCacheArea = 2048 // pixels

// Option configures a Tracker at construction.
type Option func(*Tracker)

func WithMinCacheArea(pixels int) Option {
	return func(t *Tracker) {
		if pixels > 0 {
			t.minCacheArea = pixels
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

// New returns an empty Tracker, as at the start of every connection: the
// protocol intentionally carries no cross-session server-side state, so a
// fresh connection always starts here.
func New(opts ...Option) *Tracker {
	t := &Tracker{
		minCacheArea: defaultMinCacheArea,
		knownIDs:     make(map[uint64]struct{}),
		lossyAliases: make(map[uint64]uint64),
		lastSeen:     make(map[uint64]PendingInit),
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Evaluate runs the four-step decision procedure for a rectangle whose
// canonical content id has already been computed by the caller. area is the
// rectangle's pixel area (w*h); capabilityNegotiated reflects whether the
// peer advertised the cache pseudo-encoding on this connection.
func (t *Tracker) Evaluate(canonicalID uint64, area int, capabilityNegotiated bool) Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.knownIDs[canonicalID]; ok {
		return Outcome{Decision: DecisionSendRef, ReferenceID: canonicalID}
	}
	if alias, ok := t.lossyAliases[canonicalID]; ok {
		if _, known := t.knownIDs[alias]; known {
			return Outcome{Decision: DecisionSendRefAlias, ReferenceID: alias}
		}
	}
	if area >= t.minCacheArea && capabilityNegotiated {
		t.knownIDs[canonicalID] = struct{}{}
		return Outcome{Decision: DecisionSendInit, ReferenceID: canonicalID}
	}
	return Outcome{Decision: DecisionEncodeNormally}
}

// RecordSent remembers, for a given content id, the rectangle coordinates
// and inner encoding it was last sent with — the data RequestCachedData
// needs to re-seed a CACHE_INIT without external bookkeeping.
func (t *Tracker) RecordSent(rect PendingInit) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastSeen[rect.ContentID] = rect
}

// RevokeOptimisticAdd undoes the optimistic knownIDs insertion Evaluate made
// for DecisionSendInit when the inner encode subsequently failed: the
// tracker's idea of what the peer holds must not drift from what was
// actually sent.
func (t *Tracker) RevokeOptimisticAdd(canonicalID uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.knownIDs, canonicalID)
	delete(t.lastSeen, canonicalID)
}

// OnHashReport applies a HASH_REPORT: actual != canonical indicates the
// client decoded lossily and stored under a different id than the one the
// server offered.
func (t *Tracker) OnHashReport(canonical, actual uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if actual == canonical {
		return
	}
	delete(t.knownIDs, canonical)
	t.knownIDs[actual] = struct{}{}
	t.lossyAliases[canonical] = actual
}

// OnEvictionNotice applies an EVICTION_NOTICE: each id is erased from
// knownIDs and from the value side of lossyAliases.
func (t *Tracker) OnEvictionNotice(ids []uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	evicted := make(map[uint64]struct{}, len(ids))
	for _, id := range ids {
		evicted[id] = struct{}{}
		delete(t.knownIDs, id)
	}
	for canonical, actual := range t.lossyAliases {
		if _, gone := evicted[actual]; gone {
			delete(t.lossyAliases, canonical)
		}
	}
}

// OnHashList applies an (optional) HASH_LIST bootstrap chunk: every id is
// unioned into knownIDs.
func (t *Tracker) OnHashList(ids []uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		t.knownIDs[id] = struct{}{}
	}
}

// OnRequestCachedData applies a REQUEST_CACHED_DATA: the rectangle most
// recently associated with id, if any, is queued for a repair CACHE_INIT.
// It returns false if the tracker has no memory of id (the caller should
// simply drop the request — the client will eventually send an updated
// reference or framebuffer update on its own).
func (t *Tracker) OnRequestCachedData(id uint64) (PendingInit, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rect, ok := t.lastSeen[id]
	if !ok {
		return PendingInit{}, false
	}
	t.pendingInits = append(t.pendingInits, rect)
	return rect, true
}

// DrainPendingInits returns and clears queued repair inits.
func (t *Tracker) DrainPendingInits() []PendingInit {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.pendingInits) == 0 {
		return nil
	}
	out := t.pendingInits
	t.pendingInits = nil
	return out
}

// Snapshot is a point-in-time, JSON-friendly dump of tracker state for a
// debug/inspection endpoint.
type Snapshot struct {
	KnownIDCount      int `json:"known_id_count"`
	LossyAliasCount   int `json:"lossy_alias_count"`
	PendingInitsCount int `json:"pending_inits_count"`
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		KnownIDCount:      len(t.knownIDs),
		LossyAliasCount:   len(t.lossyAliases),
		PendingInitsCount: len(t.pendingInits),
	}
}
