package xr

import "sync"

// Bus is the narrow physical-memory surface the cache hierarchy calls
// into. A bus error is reported as ok=false; callers translate that into
// the bus-error exception (spec.md §4.1, §9 "do not model bus errors as
// panics").
type Bus interface {
	ReadLine(phys uint32, buf []byte) bool
	WriteLine(phys uint32, buf []byte) bool
}

// PolledBus is the optional extended view a CPU checks for on its Bus: a
// noncached read that lands on a polling-looking I/O port (spec.md §4.7)
// reports polled=true so the dispatch loop can decrement Progress.
type PolledBus interface {
	Bus
	ReadLinePolled(phys uint32, buf []byte) (ok bool, polled bool)
}

type dcLine struct {
	tag   uint32
	valid bool
	state LineState
	data  [CacheLineSize]byte
}

// DCache is one CPU's private data cache: Invalid/Shared/Exclusive line
// states backed by the shared Scache directory (spec.md §4.5).
type DCache struct {
	cpuID int
	mu    [CacheSets]sync.Mutex
	sets  [CacheSets][CacheWays]dcLine
	repl  [CacheSets]int

	scache *Scache
	bus    Bus
	wb     *WriteBuffer
	owner  *CPU

	lineToWb map[int]int // D-cache line index -> write-buffer slot
}

func NewDCache(cpuID int, scache *Scache, bus Bus, owner *CPU) *DCache {
	d := &DCache{cpuID: cpuID, scache: scache, bus: bus, wb: NewWriteBuffer(), owner: owner}
	scache.Attach(cpuID, d)
	return d
}

func dcLineIndex(set, way int) int { return set*CacheWays + way }

func (d *DCache) find(set int, tag uint32) (way int, ok bool) {
	for w := 0; w < CacheWays; w++ {
		if d.sets[set][w].valid && d.sets[set][w].tag == tag {
			return w, true
		}
	}
	return 0, false
}

func (d *DCache) victim(set int) int {
	w := d.repl[set] % CacheWays
	d.repl[set]++
	return w
}

// writeback forces a dirty line back to the bus and purges its
// write-buffer slot. Caller holds the set lock.
func (d *DCache) writeback(set, way int) {
	line := &d.sets[set][way]
	idx := dcLineIndex(set, way)
	if slot, ok := d.lineToWb[idx]; ok {
		d.bus.WriteLine(line.tag, line.data[:])
		delete(d.lineToWb, idx)
		d.wb.Purge(idx)
		_ = slot
	}
}

// Downgrade implements Sharer: invalidate our copy of the line tagged by
// tag, writing it back first if dirty (spec.md §4.5's "Read miss" step 2/3
// and "Write miss"). Per spec.md §8's LL/SC invariant, a coherence
// invalidation of the line holding our LL reservation clears it implicitly.
func (d *DCache) Downgrade(tag uint32) {
	if d.owner != nil && d.owner.Locked && lineTag(d.owner.LockedAddr) == tag {
		d.owner.Locked = false
	}

	set := setOf(tag)
	d.mu[set].Lock()
	defer d.mu[set].Unlock()
	way, ok := d.find(set, tag)
	if !ok {
		return
	}
	d.writeback(set, way)
	d.sets[set][way] = dcLine{}
}

// fill loads a line from the bus into set/way with the given state.
func (d *DCache) fill(set, way int, tag uint32, state LineState) bool {
	var buf [CacheLineSize]byte
	if !d.bus.ReadLine(tag, buf[:]) {
		return false
	}
	d.sets[set][way] = dcLine{tag: tag, valid: true, state: state, data: buf}
	return true
}

// Read performs a D-cache read access to the line containing phys,
// returning the full line and ok. Implements spec.md §4.5's read-miss path
// (a hit just returns the cached line).
func (d *DCache) Read(phys uint32) (line [CacheLineSize]byte, ok bool) {
	tag := lineTag(phys)
	set := setOf(tag)

	d.mu[set].Lock()
	if way, hit := d.find(set, tag); hit {
		line = d.sets[set][way].data
		d.mu[set].Unlock()
		return line, true
	}
	d.mu[set].Unlock()

	// Miss: acquire Scache Shared state for this line (may invalidate/
	// downgrade remote copies), then reacquire our local lock and fill.
	d.scache.Lock(tag)
	d.scache.Acquire(tag, LineShared, d.cpuID)
	d.scache.Unlock(tag)

	d.mu[set].Lock()
	defer d.mu[set].Unlock()
	if way, hit := d.find(set, tag); hit {
		return d.sets[set][way].data, true
	}
	way := d.victim(set)
	d.writeback(set, way)
	if !d.fill(set, way, tag, LineShared) {
		return line, false
	}
	return d.sets[set][way].data, true
}

// Write performs a D-cache write of data (1/2/4 bytes) at phys, handling
// write-hit-on-Shared upgrade and write-miss per spec.md §4.5.
func (d *DCache) Write(phys uint32, data []byte) bool {
	tag := lineTag(phys)
	off := phys - tag
	set := setOf(tag)

	d.mu[set].Lock()
	if way, hit := d.find(set, tag); hit {
		if d.sets[set][way].state == LineExclusive {
			copy(d.sets[set][way].data[off:], data)
			d.claimWriteBuffer(set, way, tag)
			d.mu[set].Unlock()
			return true
		}
		// Shared: drop local lock, acquire Exclusive via Scache, re-validate.
		d.mu[set].Unlock()
		d.scache.Lock(tag)
		d.scache.Acquire(tag, LineExclusive, d.cpuID)
		d.scache.Unlock(tag)
		d.mu[set].Lock()
		if way, hit := d.find(set, tag); hit {
			d.sets[set][way].state = LineExclusive
			copy(d.sets[set][way].data[off:], data)
			d.claimWriteBuffer(set, way, tag)
			d.mu[set].Unlock()
			return true
		}
		d.mu[set].Unlock()
		return d.writeMiss(phys, tag, off, data)
	}
	d.mu[set].Unlock()
	return d.writeMiss(phys, tag, off, data)
}

func (d *DCache) writeMiss(phys, tag uint32, off uint32, data []byte) bool {
	set := setOf(tag)
	d.scache.Lock(tag)
	d.scache.Acquire(tag, LineExclusive, d.cpuID)
	d.scache.Unlock(tag)

	d.mu[set].Lock()
	defer d.mu[set].Unlock()
	if way, hit := d.find(set, tag); hit {
		d.sets[set][way].state = LineExclusive
		copy(d.sets[set][way].data[off:], data)
		d.claimWriteBuffer(set, way, tag)
		return true
	}
	way := d.victim(set)
	d.writeback(set, way)
	if !d.fill(set, way, tag, LineExclusive) {
		return false
	}
	copy(d.sets[set][way].data[off:], data)
	d.claimWriteBuffer(set, way, tag)
	return true
}

// claimWriteBuffer enqueues set/way as dirty, draining the oldest entry
// synchronously if the buffer is already full (spec.md §4.5, "full").
func (d *DCache) claimWriteBuffer(set, way int, tag uint32) {
	if d.lineToWb == nil {
		d.lineToWb = make(map[int]int)
	}
	idx := dcLineIndex(set, way)
	if _, ok := d.lineToWb[idx]; ok {
		return // already buffered; in-place store already merged above
	}
	slot, evTag, evLine, evicted := d.wb.Claim(idx, tag)
	d.lineToWb[idx] = slot
	if evicted {
		d.drainEvicted(evTag, evLine)
	}
}

func (d *DCache) drainEvicted(tag uint32, lineIdx int) {
	set := lineIdx / CacheWays
	way := lineIdx % CacheWays
	d.mu[set].Lock()
	if d.sets[set][way].valid && d.sets[set][way].tag == tag {
		d.bus.WriteLine(tag, d.sets[set][way].data[:])
	}
	delete(d.lineToWb, lineIdx)
	d.mu[set].Unlock()
}

// DrainOne writes back the oldest buffered line, if any (spec.md §4.7 step g).
func (d *DCache) DrainOne() {
	tag, lineIdx, ok := d.wb.Pop()
	if !ok {
		return
	}
	set := lineIdx / CacheWays
	way := lineIdx % CacheWays
	d.mu[set].Lock()
	if d.sets[set][way].valid && d.sets[set][way].tag == tag {
		d.bus.WriteLine(tag, d.sets[set][way].data[:])
	}
	delete(d.lineToWb, lineIdx)
	d.mu[set].Unlock()
}

// FlushAll drains every buffered dirty line (WMB/MB, spec.md §4.5).
func (d *DCache) FlushAll() {
	for !d.wb.Empty() {
		d.DrainOne()
	}
}

func (d *DCache) InvalidateAll() {
	for s := range d.sets {
		d.mu[s].Lock()
		for w := range d.sets[s] {
			d.sets[s][w] = dcLine{}
		}
		d.mu[s].Unlock()
	}
}

// ICache is per-CPU and holds shared-only copies (spec.md §3).
type ICache struct {
	mu   [CacheSets]sync.Mutex
	sets [CacheSets][CacheWays]dcLine
	repl [CacheSets]int
	bus  Bus
}

func NewICache(bus Bus) *ICache { return &ICache{bus: bus} }

func (ic *ICache) Read(phys uint32) (line [CacheLineSize]byte, ok bool) {
	tag := lineTag(phys)
	set := setOf(tag)
	ic.mu[set].Lock()
	defer ic.mu[set].Unlock()
	for w := 0; w < CacheWays; w++ {
		if ic.sets[set][w].valid && ic.sets[set][w].tag == tag {
			return ic.sets[set][w].data, true
		}
	}
	way := ic.repl[set] % CacheWays
	ic.repl[set]++
	var buf [CacheLineSize]byte
	if !ic.bus.ReadLine(tag, buf[:]) {
		return line, false
	}
	ic.sets[set][way] = dcLine{tag: tag, valid: true, state: LineShared, data: buf}
	return buf, true
}

func (ic *ICache) InvalidateAll() {
	for s := range ic.sets {
		ic.mu[s].Lock()
		for w := range ic.sets[s] {
			ic.sets[s][w] = dcLine{}
		}
		ic.mu[s].Unlock()
	}
}
