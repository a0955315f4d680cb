// Package arc implements a byte-capacity Adaptive Replacement Cache (ARC):
// two resident lists T1 (recency) and T2 (frequency), and two ghost lists B1
// and B2 that remember evicted keys without their payload, used to adapt the
// T1/T2 split point p. See Megiddo & Modha, "ARC: A Self-Tuning, Low
// Overhead Replacement Cache" (FAST 2003) for the algorithm this package
// follows: explicit T1/T2/B1/B2 lists, a ghost bound of 4*(|T1|+|T2|+1), and
// promotion to T2 on a repeat hit.
//
// List nodes are index-based rather than pointer-based: the hashmap owns
// keys, a flat slice of nodes owns prev/next *indices*, and no two
// structures hold owning pointers into each other. This sidesteps the
// cyclic-reference hazard a circular, pointer-linked ring would otherwise
// introduce between a node and the structure walking it for eviction.
//
// Every operation here runs under the lock held by the caller
// (pkg/unifiedcache); this package does not lock internally.
//
// © 2025 pxcache authors. MIT License.
package arc

const nilIdx int32 = -1

// listID names one of the four ARC lists a node can belong to.
type listID uint8

const (
	listNone listID = iota
	listT1          // resident, recency
	listT2          // resident, frequency
	listB1          // ghost, evicted from T1
	listB2          // ghost, evicted from T2
)

// node is one entry's metadata: the key (needed for ejection callbacks and
// deletion from the index), its size in bytes (0 for ghosts), and its
// position within whichever of the four lists it currently belongs to.
type node[K comparable] struct {
	key        K
	size       int64
	list       listID
	prev, next int32
	inUse      bool
}

// ring is an intrusive doubly linked list over the shared node slice,
// addressed by index. LRU end is head; MRU end is tail; new items are pushed
// to the tail, eviction victims are popped from the head.
type ring struct {
	head, tail int32
	count      int
	bytes      int64
}

func newRing() ring { return ring{head: nilIdx, tail: nilIdx} }

// Stats is a point-in-time snapshot of cache counters, returned by
// ArcCache.Stats(). All fields are safe to read without further locking
// once returned.
type Stats struct {
	Hits        uint64
	Misses      uint64
	Evictions   uint64
	T1Count     int
	T2Count     int
	B1Count     int
	B2Count     int
	T1Bytes     int64
	T2Bytes     int64
	P           int64
	UsedBytes   int64
	MaxBytes    int64
}

// EvictCallback is invoked synchronously whenever a resident key is evicted
// from T1 or T2 under capacity pressure. It must not call back into the
// ArcCache that is calling it (no re-entrancy).
type EvictCallback[K comparable] func(key K)

// SizeFunc returns the number of bytes a given value occupies for capacity
// accounting purposes.
type SizeFunc[V any] func(v V) int64

// ArcCache is a byte-capacity Adaptive Replacement Cache mapping keys of type
// K to values of type V.
type ArcCache[K comparable, V any] struct {
	maxBytes int64
	sizeOf   SizeFunc[V]
	onEvict  EvictCallback[K]

	nodes []node[K]
	free  []int32
	index map[K]int32 // key -> slot index, covers all four lists

	values map[K]V // resident values only (T1 ∪ T2)

	t1, t2, b1, b2 ring
	p              int64 // adaptation parameter, 0 <= p <= maxBytes

	hits, misses, evictions uint64
}

// New constructs an empty ArcCache with the given byte budget. sizeOf must be
// cheap and deterministic; onEvict may be nil.
func New[K comparable, V any](maxBytes int64, sizeOf SizeFunc[V], onEvict EvictCallback[K]) *ArcCache[K, V] {
	if maxBytes <= 0 {
		panic("arc: maxBytes must be > 0")
	}
	return &ArcCache[K, V]{
		maxBytes: maxBytes,
		sizeOf:   sizeOf,
		onEvict:  onEvict,
		index:    make(map[K]int32),
		values:   make(map[K]V),
		t1:       newRing(),
		t2:       newRing(),
		b1:       newRing(),
		b2:       newRing(),
	}
}

/* -------------------------------------------------------------------------
   Node/slot management
   ------------------------------------------------------------------------- */

func (c *ArcCache[K, V]) allocSlot(key K, size int64) int32 {
	if n := len(c.free); n > 0 {
		idx := c.free[n-1]
		c.free = c.free[:n-1]
		c.nodes[idx] = node[K]{key: key, size: size, list: listNone, prev: nilIdx, next: nilIdx, inUse: true}
		return idx
	}
	c.nodes = append(c.nodes, node[K]{key: key, size: size, list: listNone, prev: nilIdx, next: nilIdx, inUse: true})
	return int32(len(c.nodes) - 1)
}

func (c *ArcCache[K, V]) freeSlot(idx int32) {
	c.nodes[idx] = node[K]{prev: nilIdx, next: nilIdx}
	c.free = append(c.free, idx)
}

func (c *ArcCache[K, V]) ringOf(l listID) *ring {
	switch l {
	case listT1:
		return &c.t1
	case listT2:
		return &c.t2
	case listB1:
		return &c.b1
	case listB2:
		return &c.b2
	default:
		return nil
	}
}

// pushTail appends idx to the MRU end of list l.
func (c *ArcCache[K, V]) pushTail(l listID, idx int32) {
	r := c.ringOf(l)
	n := &c.nodes[idx]
	n.list = l
	n.prev = r.tail
	n.next = nilIdx
	if r.tail != nilIdx {
		c.nodes[r.tail].next = idx
	} else {
		r.head = idx
	}
	r.tail = idx
	r.count++
	r.bytes += n.size
}

// unlink removes idx from whichever list it currently belongs to.
func (c *ArcCache[K, V]) unlink(idx int32) {
	n := &c.nodes[idx]
	r := c.ringOf(n.list)
	if r == nil {
		return
	}
	if n.prev != nilIdx {
		c.nodes[n.prev].next = n.next
	} else {
		r.head = n.next
	}
	if n.next != nilIdx {
		c.nodes[n.next].prev = n.prev
	} else {
		r.tail = n.prev
	}
	r.count--
	r.bytes -= n.size
	n.list = listNone
	n.prev, n.next = nilIdx, nilIdx
}

func (c *ArcCache[K, V]) moveToTail(l listID, idx int32) {
	c.unlink(idx)
	c.pushTail(l, idx)
}

/* -------------------------------------------------------------------------
   Public operations
   ------------------------------------------------------------------------- */

// Get returns the resident value for key, promoting it to T2 (property 5:
// "promotion on hit"). Returns ok=false on a miss (including ghost hits,
// which carry no payload).
func (c *ArcCache[K, V]) Get(key K) (V, bool) {
	idx, found := c.index[key]
	if !found {
		c.misses++
		var zero V
		return zero, false
	}
	n := &c.nodes[idx]
	if n.list != listT1 && n.list != listT2 {
		// ghost entry: metadata only, no payload.
		c.misses++
		var zero V
		return zero, false
	}
	c.hits++
	c.moveToTail(listT2, idx)
	return c.values[key], true
}

// Has reports resident membership only (ghosts do not count).
func (c *ArcCache[K, V]) Has(key K) bool {
	idx, found := c.index[key]
	if !found {
		return false
	}
	l := c.nodes[idx].list
	return l == listT1 || l == listT2
}

// Insert admits or updates key with the given value. Oversize values (larger
// than the entire cache budget) are silently rejected: the caller should
// still use the value for the current operation, just not expect it to be
// cached.
func (c *ArcCache[K, V]) Insert(key K, value V) {
	size := c.sizeOf(value)
	if size > c.maxBytes {
		c.misses++
		return
	}

	if idx, found := c.index[key]; found {
		n := &c.nodes[idx]
		switch n.list {
		case listT1, listT2:
			// Already resident: replace value, adjust bytes, promote to T2.
			r := c.ringOf(n.list)
			r.bytes += size - n.size
			n.size = size
			c.values[key] = value
			c.moveToTail(listT2, idx)
			return
		case listB1:
			c.adaptUp(size)
			c.replace(size)
			c.unlink(idx)
			n.size = size
			c.values[key] = value
			c.pushTail(listT2, idx)
			c.trimGhosts()
			return
		case listB2:
			c.adaptDown(size)
			c.replace(size)
			c.unlink(idx)
			n.size = size
			c.values[key] = value
			c.pushTail(listT2, idx)
			c.trimGhosts()
			return
		}
	}

	// Fresh key.
	c.replace(size)
	idx := c.allocSlot(key, size)
	c.index[key] = idx
	c.values[key] = value
	c.pushTail(listT1, idx)
	c.trimGhosts()
}

// adaptUp handles an insert hitting a B1 ghost: p grows by
// max(1, |B2|/|B1|) item-count units (expressed in bytes, since p is a byte
// budget split point), clamped to maxBytes.
func (c *ArcCache[K, V]) adaptUp(size int64) {
	delta := int64(1)
	if c.b1.count > 0 {
		d := int64(c.b2.count) / int64(c.b1.count)
		delta = max64(1, d)
	}
	c.p += delta
	if c.p > c.maxBytes {
		c.p = c.maxBytes
	}
}

// adaptDown handles an insert hitting a B2 ghost: p shrinks by
// max(1, |B1|/|B2|), clamped to 0.
func (c *ArcCache[K, V]) adaptDown(size int64) {
	delta := int64(1)
	if c.b2.count > 0 {
		d := int64(c.b1.count) / int64(c.b2.count)
		delta = max64(1, d)
	}
	c.p -= delta
	if c.p < 0 {
		c.p = 0
	}
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// replace runs the ARC eviction step (§4.2 "Eviction step (replace)") until
// there is room for `incoming` additional bytes.
func (c *ArcCache[K, V]) replace(incoming int64) {
	for c.t1.bytes+c.t2.bytes+incoming > c.maxBytes {
		switch {
		case c.t1.count > 0 && c.t1.bytes >= c.p:
			// Ties (bytesOf(T1) == p) favor T1, preserving frequency-list entries.
			c.evictLRU(listT1, listB1)
		case c.t2.count > 0:
			c.evictLRU(listT2, listB2)
		case c.t1.count > 0:
			c.evictLRU(listT1, listB1)
		default:
			return // both resident lists empty; nothing left to evict
		}
	}
}

func (c *ArcCache[K, V]) evictLRU(from, ghostTo listID) {
	r := c.ringOf(from)
	if r.head == nilIdx {
		return
	}
	idx := r.head
	key := c.nodes[idx].key

	c.unlink(idx)
	delete(c.values, key)
	c.evictions++
	if c.onEvict != nil {
		c.onEvict(key)
	}

	// Demote to ghost: keep the slot, drop the size to 0 (metadata only).
	c.nodes[idx].size = 0
	c.pushTail(ghostTo, idx)
}

// trimGhosts enforces |B1|+|B2| <= 4*(|T1|+|T2|+1) (property 4), discarding
// the oldest ghost metadata first.
func (c *ArcCache[K, V]) trimGhosts() {
	bound := 4 * int64(c.t1.count+c.t2.count+1)
	for int64(c.b1.count+c.b2.count) > bound {
		if c.b1.count >= c.b2.count && c.b1.count > 0 {
			c.dropGhostHead(listB1)
		} else if c.b2.count > 0 {
			c.dropGhostHead(listB2)
		} else {
			break
		}
	}
}

func (c *ArcCache[K, V]) dropGhostHead(l listID) {
	r := c.ringOf(l)
	if r.head == nilIdx {
		return
	}
	idx := r.head
	key := c.nodes[idx].key
	c.unlink(idx)
	delete(c.index, key)
	c.freeSlot(idx)
}

// Stats returns a snapshot of cache counters for metrics/debug exposure.
func (c *ArcCache[K, V]) Stats() Stats {
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		T1Count:   c.t1.count,
		T2Count:   c.t2.count,
		B1Count:   c.b1.count,
		B2Count:   c.b2.count,
		T1Bytes:   c.t1.bytes,
		T2Bytes:   c.t2.bytes,
		P:         c.p,
		UsedBytes: c.t1.bytes + c.t2.bytes,
		MaxBytes:  c.maxBytes,
	}
}

// Len returns the number of resident (non-ghost) entries.
func (c *ArcCache[K, V]) Len() int { return c.t1.count + c.t2.count }

// Keys returns every resident key, in no particular order. Used by
// UnifiedCache.KnownIDs for optional hash-list advertisement.
func (c *ArcCache[K, V]) Keys() []K {
	out := make([]K, 0, c.Len())
	for _, r := range [2]*ring{&c.t1, &c.t2} {
		for idx := r.head; idx != nilIdx; idx = c.nodes[idx].next {
			out = append(out, c.nodes[idx].key)
		}
	}
	return out
}

// Delete removes key from residency (and from ghost tracking, if present)
// without running the eviction callback — this is an explicit removal, not a
// capacity-driven eviction.
func (c *ArcCache[K, V]) Delete(key K) {
	idx, found := c.index[key]
	if !found {
		return
	}
	if c.nodes[idx].list == listT1 || c.nodes[idx].list == listT2 {
		delete(c.values, key)
	}
	c.unlink(idx)
	delete(c.index, key)
	c.freeSlot(idx)
}
