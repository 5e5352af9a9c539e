package xr

// WriteBuffer is a per-CPU bounded FIFO of dirty D-cache line indices
// awaiting writeback (spec.md §3, §4.5). lineOf maps a D-cache line index
// (set*CacheWays+way) to its write-buffer slot; a line that isn't buffered
// has no key.
type WriteBuffer struct {
	tags    [WriteBufferDepth]uint32
	lines   [WriteBufferDepth]int
	occupied [WriteBufferDepth]bool
	head, count int

	lineOf map[int]int

	drainTimer int
}

func NewWriteBuffer() *WriteBuffer {
	wb := &WriteBuffer{lineOf: make(map[int]int)}
	for i := range wb.lines {
		wb.lines[i] = -1
	}
	return wb
}

func (wb *WriteBuffer) Full() bool { return wb.count == WriteBufferDepth }

// Claim reserves a slot for lineIdx/tag, evicting the oldest occupied slot
// first if full. Returns the slot index and, if an entry had to be evicted
// to make room, the evicted (tag, lineIdx) pair plus true.
func (wb *WriteBuffer) Claim(lineIdx int, tag uint32) (slot int, evictedTag uint32, evictedLine int, evicted bool) {
	if wb.Full() {
		evictedSlot := wb.head
		evictedTag = wb.tags[evictedSlot]
		evictedLine = wb.lines[evictedSlot]
		evicted = true
		wb.releaseSlot(evictedSlot)
	}
	slot = (wb.head + wb.count) % WriteBufferDepth
	wb.tags[slot] = tag
	wb.lines[slot] = lineIdx
	wb.occupied[slot] = true
	wb.count++
	wb.lineOf[lineIdx] = slot
	return slot, evictedTag, evictedLine, evicted
}

func (wb *WriteBuffer) releaseSlot(slot int) {
	if !wb.occupied[slot] {
		return
	}
	delete(wb.lineOf, wb.lines[slot])
	wb.occupied[slot] = false
	wb.lines[slot] = -1
	for wb.count > 0 && !wb.occupied[wb.head] {
		wb.head = (wb.head + 1) % WriteBufferDepth
		wb.count--
	}
}

// SlotFor reports whether D-cache line idx currently has a buffered entry.
func (wb *WriteBuffer) SlotFor(lineIdx int) (int, bool) {
	slot, ok := wb.lineOf[lineIdx]
	return slot, ok
}

// Purge drops the buffered entry for lineIdx without writeback (used when
// the line's data has already been written back through another path).
func (wb *WriteBuffer) Purge(lineIdx int) {
	if slot, ok := wb.lineOf[lineIdx]; ok {
		wb.releaseSlot(slot)
	}
}

// Oldest returns the head slot's (tag, lineIdx) if the buffer is non-empty.
func (wb *WriteBuffer) Oldest() (tag uint32, lineIdx int, ok bool) {
	if wb.count == 0 {
		return 0, 0, false
	}
	return wb.tags[wb.head], wb.lines[wb.head], true
}

// Pop drains the head entry, reporting it for writeback.
func (wb *WriteBuffer) Pop() (tag uint32, lineIdx int, ok bool) {
	tag, lineIdx, ok = wb.Oldest()
	if ok {
		wb.releaseSlot(wb.head)
	}
	return
}

func (wb *WriteBuffer) Empty() bool { return wb.count == 0 }
