package storage

import "sync"

// entry is one cached page's bookkeeping node. It lives on exactly one of
// a shard's two sub-lists (old or new) at a time.
type entry struct {
	pageIndex  uint32
	localFrame int
	inNew      bool
	prev, next *entry
}

// list is an intrusive doubly-linked list of *entry with O(1) push/remove
// at either end and a running length.
type list struct {
	head, tail *entry
	length     int
}

func (l *list) pushFront(e *entry) {
	e.prev, e.next = nil, l.head
	if l.head != nil {
		l.head.prev = e
	}
	l.head = e
	if l.tail == nil {
		l.tail = e
	}
	l.length++
}

func (l *list) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		l.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		l.tail = e.prev
	}
	e.prev, e.next = nil, nil
	l.length--
}

func (l *list) moveToFront(e *entry) {
	if l.head == e {
		return
	}
	l.remove(e)
	l.pushFront(e)
}

func (l *list) popTail() *entry {
	if l.tail == nil {
		return nil
	}
	e := l.tail
	l.remove(e)
	return e
}

// Shard is a single segmented 2Q cache partition. "old" holds entries
// inserted but never re-accessed; "new" holds entries that have been hit
// at least once. Eviction always takes from the tail of old, which is
// what makes a single full scan resistant to pollution.
type Shard struct {
	mu        sync.Mutex
	capacity  int
	offset    int // this shard's frame-id offset into the global frame array
	old, new_ list
	byIndex   map[uint32]*entry
	reverse   []uint32 // localFrame -> pageIndex
	freeSlots []int
}

func newShard(capacity, offset int) *Shard {
	s := &Shard{
		capacity: capacity,
		offset:   offset,
		byIndex:  make(map[uint32]*entry, capacity),
		reverse:  make([]uint32, capacity),
	}
	s.freeSlots = make([]int, capacity)
	for i := 0; i < capacity; i++ {
		s.freeSlots[i] = capacity - 1 - i
	}
	return s
}

// rebalance restores |new| * 3 <= |old| * 5 by demoting entries from the
// tail of new back to the head of old.
func (s *Shard) rebalance() {
	for s.new_.length*3 > s.old.length*5 {
		e := s.new_.popTail()
		if e == nil {
			return
		}
		e.inNew = false
		s.old.pushFront(e)
	}
}

// AcquireResult is returned on a cache hit.
type AcquireResult struct {
	FrameID int
}

// Guard is returned on a cache miss. It holds the shard's mutex; the
// caller must populate the frame at FrameID (and write back EvictedIndex
// if EvictedOK is true) before calling Release, so that a racing acquire
// of the same page index blocks until the frame is fully initialized.
type Guard struct {
	shard        *Shard
	FrameID      int
	EvictedIndex uint32
	EvictedOK    bool
	released     bool
}

// Release unlocks the shard. It must be called exactly once.
func (g *Guard) Release() {
	if g.released {
		return
	}
	g.released = true
	g.shard.mu.Unlock()
}

// Acquire looks up pageIndex. On hit it promotes the entry and returns
// (result, nil, true). On miss it allocates a frame (evicting if the
// shard is full), registers the mapping immediately, and returns a held
// Guard the caller must Release after refilling the frame.
func (s *Shard) Acquire(pageIndex uint32) (AcquireResult, *Guard, bool) {
	s.mu.Lock()
	if s.capacity == 0 {
		// A zero-capacity shard never caches: every acquire is a miss with
		// no frame to populate and nothing to evict.
		return AcquireResult{}, &Guard{shard: s, FrameID: -1}, false
	}
	if e, ok := s.byIndex[pageIndex]; ok {
		if e.inNew {
			s.new_.moveToFront(e)
		} else {
			s.old.remove(e)
			e.inNew = true
			s.new_.pushFront(e)
			s.rebalance()
		}
		frameID := s.offset + e.localFrame
		s.mu.Unlock()
		return AcquireResult{FrameID: frameID}, nil, true
	}

	var local int
	var evicted uint32
	evictedOK := false
	if n := len(s.freeSlots); n > 0 {
		local = s.freeSlots[n-1]
		s.freeSlots = s.freeSlots[:n-1]
	} else {
		victim := s.old.popTail()
		if victim == nil {
			victim = s.new_.popTail()
		}
		local = victim.localFrame
		evicted = victim.pageIndex
		evictedOK = true
		delete(s.byIndex, victim.pageIndex)
	}

	e := &entry{pageIndex: pageIndex, localFrame: local}
	s.old.pushFront(e)
	s.byIndex[pageIndex] = e
	s.reverse[local] = pageIndex

	return AcquireResult{}, &Guard{
		shard:        s,
		FrameID:      s.offset + local,
		EvictedIndex: evicted,
		EvictedOK:    evictedOK,
	}, false
}

// Len reports the combined old+new length, for the capacity invariant.
func (s *Shard) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.old.length + s.new_.length
}

// Table shards the page-index keyspace across S independent Shards so
// that unrelated pages never contend on the same mutex.
type Table struct {
	shards []*Shard
	pow2   bool
	mask   uint64
	count  uint64
}

// NewTable builds a Table with shardCount shards sharing totalCapacity
// frames evenly. Per the shard-index dispatch decision: a power-of-two
// shard count uses a mask, anything else falls back to modulo.
func NewTable(shardCount, totalCapacity int) *Table {
	if shardCount <= 0 {
		shardCount = 1
	}
	perShard := totalCapacity / shardCount
	t := &Table{shards: make([]*Shard, shardCount), count: uint64(shardCount)}
	t.pow2 = shardCount&(shardCount-1) == 0
	if t.pow2 {
		t.mask = uint64(shardCount - 1)
	}
	for i := 0; i < shardCount; i++ {
		t.shards[i] = newShard(perShard, i*perShard)
	}
	return t
}

func hashPageIndex(pageIndex uint32) uint64 {
	h := uint64(pageIndex)
	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	h *= 0xc4ceb9fe1a85ec53
	h ^= h >> 33
	return h
}

func (t *Table) shardFor(pageIndex uint32) *Shard {
	h := hashPageIndex(pageIndex)
	var idx uint64
	if t.pow2 {
		idx = h & t.mask
	} else {
		idx = h % t.count
	}
	return t.shards[idx]
}

// Acquire dispatches to the owning shard. See Shard.Acquire.
func (t *Table) Acquire(pageIndex uint32) (AcquireResult, *Guard, bool) {
	return t.shardFor(pageIndex).Acquire(pageIndex)
}

// Len sums every shard's combined old+new length.
func (t *Table) Len() int {
	n := 0
	for _, s := range t.shards {
		n += s.Len()
	}
	return n
}

// Shards exposes the underlying shards, for diagnostics and tests that
// check the rebalance invariant directly.
func (t *Table) Shards() []*Shard { return t.shards }

// OldLen and NewLen expose each sub-list's length for invariant tests.
func (s *Shard) OldLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.old.length
}

func (s *Shard) NewLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.new_.length
}
