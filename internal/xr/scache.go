package xr

import "sync"

// Line coherence states (spec.md §3, Scache entry / D-cache line).
type LineState uint8

const (
	LineInvalid LineState = iota
	LineShared
	LineExclusive
)

const scacheBuckets = 64

type scLine struct {
	tag     uint32
	valid   bool
	state   LineState
	sharers uint8 // bitmask of CPU ids holding this line Shared
	owner   int   // exclusive owner CPU id, -1 if not Exclusive
}

// Sharer is the narrow callback surface a CPU's D-cache exposes to the
// Scache so that it can enforce the MESI-like inclusion invariant across
// CPUs without the Scache owning full CPU state (spec.md §4.5, §9).
type Sharer interface {
	// Downgrade invalidates this CPU's copy of the line tagged by phys
	// (forcing writeback first if dirty), transitioning it to Invalid.
	Downgrade(phys uint32)
}

// Scache is the shared directory-style second-level cache: it tracks line
// state and sharer identity but not line data (the data lives in each
// CPU's D-cache/I-cache). Access is synchronized by a small array of
// bucket mutexes, per spec.md §9's "Coherence locks" guidance.
type Scache struct {
	mu        [scacheBuckets]sync.Mutex
	sets      [CacheSets][CacheWays]scLine
	replIndex [CacheSets]int

	sharerOf [8]Sharer // populated by Attach, which NewDCache calls
}

func NewScache() *Scache {
	s := &Scache{}
	for si := range s.sets {
		for wi := range s.sets[si] {
			s.sets[si][wi].owner = -1
		}
	}
	return s
}

// Attach registers cpu id's D-cache as a coherence participant.
func (s *Scache) Attach(cpuID int, d Sharer) { s.sharerOf[cpuID] = d }

func lineTag(phys uint32) uint32 { return phys &^ (CacheLineSize - 1) }

func setOf(tag uint32) int { return int((tag / CacheLineSize) % CacheSets) }

func bucketOf(tag uint32) int { return int((tag / CacheLineSize) % scacheBuckets) }

// Lock/Unlock acquire the bucket lock for a line's tag. Callers must drop
// their local D-cache tag lock before calling Lock, per the documented
// ordering: this-CPU D-cache tag lock before any Scache operation
// (spec.md §5, §9).
func (s *Scache) Lock(tag uint32)   { s.mu[bucketOf(tag)].Lock() }
func (s *Scache) Unlock(tag uint32) { s.mu[bucketOf(tag)].Unlock() }

func (s *Scache) find(tag uint32) (set int, way int, ok bool) {
	set = setOf(tag)
	for w := 0; w < CacheWays; w++ {
		if s.sets[set][w].valid && s.sets[set][w].tag == tag {
			return set, w, true
		}
	}
	return set, 0, false
}

// victim picks a random-ish way within the set via an incrementing index,
// per spec.md §9 (true LRU/PLRU are an explicitly permitted substitute;
// this implementation keeps the original's scheme for determinism).
func (s *Scache) victim(set int) int {
	w := s.replIndex[set] % CacheWays
	s.replIndex[set]++
	return w
}

// Acquire ensures the line for tag is present with at least state want,
// evicting/downgrading sharers as needed, and returns the prior state.
// Caller holds the bucket lock for tag.
func (s *Scache) Acquire(tag uint32, want LineState, requester int) LineState {
	set, way, ok := s.find(tag)
	if !ok {
		way = s.victim(set)
		line := &s.sets[set][way]
		s.evict(line)
		*line = scLine{tag: tag, valid: true, state: want, owner: -1}
		if want == LineExclusive {
			line.owner = requester
		} else {
			line.sharers = 1 << uint(requester)
		}
		return LineInvalid
	}

	line := &s.sets[set][way]
	prior := line.state
	switch {
	case want == LineShared:
		if line.state == LineExclusive && line.owner != requester && line.owner >= 0 {
			if d := s.sharerOf[line.owner]; d != nil {
				d.Downgrade(tag)
			}
		}
		line.state = LineShared
		line.owner = -1
		line.sharers |= 1 << uint(requester)
	case want == LineExclusive:
		for cpu := 0; cpu < 8; cpu++ {
			if cpu == requester {
				continue
			}
			if line.sharers&(1<<uint(cpu)) != 0 {
				if d := s.sharerOf[cpu]; d != nil {
					d.Downgrade(tag)
				}
			}
		}
		if line.state == LineExclusive && line.owner != requester && line.owner >= 0 {
			if d := s.sharerOf[line.owner]; d != nil {
				d.Downgrade(tag)
			}
		}
		line.state = LineExclusive
		line.owner = requester
		line.sharers = 1 << uint(requester)
	}
	return prior
}

// Release drops requester's sharing of tag (on local eviction), clearing
// the directory entry if no one holds it anymore.
func (s *Scache) Release(tag uint32, requester int) {
	set, way, ok := s.find(tag)
	if !ok {
		return
	}
	line := &s.sets[set][way]
	line.sharers &^= 1 << uint(requester)
	if line.owner == requester {
		line.owner = -1
		line.state = LineInvalid
		line.valid = false
		return
	}
	if line.sharers == 0 {
		line.state = LineInvalid
		line.valid = false
	}
}

func (s *Scache) evict(line *scLine) {
	if !line.valid {
		return
	}
	if line.state == LineExclusive && line.owner >= 0 {
		if d := s.sharerOf[line.owner]; d != nil {
			d.Downgrade(line.tag)
		}
	}
	for cpu := 0; cpu < 8; cpu++ {
		if line.sharers&(1<<uint(cpu)) != 0 {
			if d := s.sharerOf[cpu]; d != nil {
				d.Downgrade(line.tag)
			}
		}
	}
}
