package xr

// Iblock is a pre-decoded basic block cached per (virtual PC, ASID)
// (spec.md §3, §4.4). Successor/hash/LRU linkage uses indices into the
// owning IblockCache's arena rather than pointers, so that the cyclic
// "cached next block" graph the original builds with raw C pointers has
// no ownership cycle in Go (spec.md §9, "Cyclic pointers").
type Iblock struct {
	inUse bool
	self  int32

	PC     uint32
	ASID   uint32
	Flags  uint32 // PTE flags captured at decode time
	Insts  []Inst
	Cycles int

	TruePath  int32 // index of cached true/unconditional successor, -1 if none
	FalsePath int32 // index of cached false (fall-through/not-taken) successor, -1 if none

	// CachedBy is a FIFO of slot addresses (encoded as *int32 pointers into
	// other blocks' TruePath/FalsePath fields) that currently cache this
	// block's index, so eviction can null them out (spec.md §4.4).
	CachedBy      [IblockBackPointers]*int32
	cachedByFifo  int

	lruPrev, lruNext   int32
	hashPrev, hashNext int32
	hashBucket         int
}

const iblockNone int32 = -1

// IblockCache is the per-CPU arena of Iblocks with an intrusive
// index-linked LRU list, a 128-bucket PC-hash table, and a free list.
type IblockCache struct {
	blocks []Iblock
	free   []int32

	lruHead, lruTail int32
	hashHeads        [IblockHashBuckets]int32
}

func NewIblockCache(capacity int) *IblockCache {
	c := &IblockCache{
		blocks:  make([]Iblock, capacity),
		lruHead: iblockNone,
		lruTail: iblockNone,
	}
	for i := range c.hashHeads {
		c.hashHeads[i] = iblockNone
	}
	c.free = make([]int32, capacity)
	for i := range c.free {
		c.free[i] = int32(capacity - 1 - i)
	}
	for i := range c.blocks {
		c.blocks[i].hashPrev = iblockNone
		c.blocks[i].hashNext = iblockNone
		c.blocks[i].lruPrev = iblockNone
		c.blocks[i].lruNext = iblockNone
		c.blocks[i].TruePath = iblockNone
		c.blocks[i].FalsePath = iblockNone
	}
	return c
}

func hashPC(pc uint32) int {
	return int((pc >> ICacheLineSizeLog) % IblockHashBuckets)
}

// Lookup finds the cached Iblock for (pc, asid), returning its index or
// iblockNone.
func (c *IblockCache) Lookup(pc, asid uint32) int32 {
	bucket := hashPC(pc)
	for i := c.hashHeads[bucket]; i != iblockNone; i = c.blocks[i].hashNext {
		b := &c.blocks[i]
		if b.PC == pc && b.ASID == asid {
			return i
		}
	}
	return iblockNone
}

func (c *IblockCache) Get(i int32) *Iblock { return &c.blocks[i] }

// Alloc returns a free slot, reclaiming from the LRU tail in batches if the
// free list is empty (spec.md §4.4, "Reclaim").
func (c *IblockCache) Alloc() int32 {
	if len(c.free) == 0 {
		c.reclaim(IblockReclaimBatch)
	}
	if len(c.free) == 0 {
		// Arena fully pinned (shouldn't happen at these capacities); force
		// one more victim off the LRU tail.
		c.reclaim(1)
	}
	idx := c.free[len(c.free)-1]
	c.free = c.free[:len(c.free)-1]
	c.blocks[idx] = Iblock{
		inUse:     true,
		self:      idx,
		TruePath:  iblockNone,
		FalsePath: iblockNone,
		hashPrev:  iblockNone,
		hashNext:  iblockNone,
		lruPrev:   iblockNone,
		lruNext:   iblockNone,
	}
	return idx
}

// IndexOf reports the arena slot backing b, for handlers that receive a
// successor *Iblock and need to fold it back into the dispatch loop's index
// space (spec.md §4.4, §4.7).
func (c *IblockCache) IndexOf(b *Iblock) int32 { return b.self }

// Insert installs block idx (already populated) at the LRU head and the
// head of its PC-hash bucket.
func (c *IblockCache) Insert(idx int32) {
	b := &c.blocks[idx]
	b.hashBucket = hashPC(b.PC)
	c.hashPush(idx)
	c.lruPushFront(idx)
}

func (c *IblockCache) hashPush(idx int32) {
	b := &c.blocks[idx]
	head := c.hashHeads[b.hashBucket]
	b.hashNext = head
	b.hashPrev = iblockNone
	if head != iblockNone {
		c.blocks[head].hashPrev = idx
	}
	c.hashHeads[b.hashBucket] = idx
}

func (c *IblockCache) hashRemove(idx int32) {
	b := &c.blocks[idx]
	if b.hashPrev != iblockNone {
		c.blocks[b.hashPrev].hashNext = b.hashNext
	} else {
		c.hashHeads[b.hashBucket] = b.hashNext
	}
	if b.hashNext != iblockNone {
		c.blocks[b.hashNext].hashPrev = b.hashPrev
	}
}

func (c *IblockCache) lruPushFront(idx int32) {
	b := &c.blocks[idx]
	b.lruPrev = iblockNone
	b.lruNext = c.lruHead
	if c.lruHead != iblockNone {
		c.blocks[c.lruHead].lruPrev = idx
	}
	c.lruHead = idx
	if c.lruTail == iblockNone {
		c.lruTail = idx
	}
}

func (c *IblockCache) lruRemove(idx int32) {
	b := &c.blocks[idx]
	if b.lruPrev != iblockNone {
		c.blocks[b.lruPrev].lruNext = b.lruNext
	} else {
		c.lruHead = b.lruNext
	}
	if b.lruNext != iblockNone {
		c.blocks[b.lruNext].lruPrev = b.lruPrev
	} else {
		c.lruTail = b.lruPrev
	}
}

// Touch moves idx to the LRU head (spec.md §4.7 step e).
func (c *IblockCache) Touch(idx int32) {
	if c.lruHead == idx {
		return
	}
	c.lruRemove(idx)
	c.lruPushFront(idx)
}

// LinkSuccessor records that the block at slot caches idx's address, so
// that reclaiming idx can null slot out; mirrors the back-pointer FIFO of
// spec.md §4.4.
func (c *IblockCache) LinkSuccessor(idx int32, slot *int32) {
	*slot = idx
	b := &c.blocks[idx]
	pos := b.cachedByFifo % IblockBackPointers
	b.cachedByFifo++
	if old := b.CachedBy[pos]; old != nil {
		*old = iblockNone
	}
	b.CachedBy[pos] = slot
}

func (c *IblockCache) deactivate(idx int32) {
	b := &c.blocks[idx]
	for i := range b.CachedBy {
		if b.CachedBy[i] != nil {
			*b.CachedBy[i] = iblockNone
			b.CachedBy[i] = nil
		}
	}
	c.hashRemove(idx)
	c.lruRemove(idx)
	b.inUse = false
	c.free = append(c.free, idx)
}

// reclaim detaches up to n blocks from the LRU tail onto the free list.
func (c *IblockCache) reclaim(n int) {
	for i := 0; i < n && c.lruTail != iblockNone; i++ {
		c.deactivate(c.lruTail)
	}
}

// Flush empties the whole cache (I-TB or I-cache invalidation, spec.md §4.4).
func (c *IblockCache) Flush() {
	for c.lruHead != iblockNone {
		c.deactivate(c.lruHead)
	}
}
