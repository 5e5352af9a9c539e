package xr

import "encoding/binary"

// CPU is one XR/17032 processor core: registers, TLBs, private caches, the
// per-CPU Iblock cache, and the cycle-budgeted dispatch loop (spec.md §3).
type CPU struct {
	ID  int
	Reg [32]uint32
	Cr  [NumControlRegs]uint32
	PC  uint32

	Itb *TLB
	Dtb *TLB
	Ic  *ICache
	Dc  *DCache

	Iblocks *IblockCache
	Scache  *Scache
	Bus     Bus

	NmiMaskCounter      int
	Halted              bool
	UserBreak           bool
	Running             bool
	PauseCalls          int
	StallCycles         int
	Progress            int
	LastTbMissWasWrite  bool
	ASID                uint32

	// CurrentException guards against double faults: set while an exception
	// is being vectored, cleared when vectoring finishes (spec.md §7).
	CurrentException bool

	drainTimer int
	pinnedSucc int32

	// Locked is the LL/SC reservation flag (spec.md §3, §8): set by LL,
	// cleared by a successful or failed SC, by RFE, and by a coherence
	// invalidation of the reserved line. LockedAddr is the reserved
	// address, needed to tell whether a given invalidation applies.
	Locked     bool
	LockedAddr uint32
}

// NewCPU builds processor id wired to a shared Scache and physical bus.
func NewCPU(id int, scache *Scache, bus Bus) *CPU {
	p := &CPU{
		ID:      id,
		Itb:     NewTLB(ITBSizeDefault),
		Dtb:     NewTLB(DTBSizeDefault),
		Scache:  scache,
		Bus:     bus,
		Iblocks: NewIblockCache(4096),
	}
	p.Dc = NewDCache(id, scache, bus, p)
	p.Ic = NewICache(bus)
	p.Reset()
	return p
}

// Reset restores reset state (spec.md §6.3).
func (p *CPU) Reset() {
	p.PC = ResetPC
	for i := range p.Cr {
		p.Cr[i] = 0
	}
	p.Cr[CrWHAMI] = uint32(p.ID)
	p.Itb = NewTLB(ITBSizeDefault)
	p.Dtb = NewTLB(DTBSizeDefault)
	p.Dc.InvalidateAll()
	p.Ic.InvalidateAll()
	p.Iblocks.Flush()
	p.Locked = false
	p.Halted = false
	p.UserBreak = false
	p.Running = true
	p.NmiMaskCounter = NMIMaskDefault
	p.Progress = PollMax
	p.PauseCalls = 0
	p.StallCycles = 0
	p.ASID = 0
	p.pinnedSucc = iblockNone
	p.Locked = false
	p.CurrentException = false
}

// Translate implements the I-TB/D-TB state machine of spec.md §4.3: fast
// last-result path, full search, miss vectoring, and the per-fetch
// Valid/Kernel/Writable checks. ok is false exactly when an exception was
// raised (TB miss or page fault); the caller must stop the current access
// and let the vectored handler run next.
func (p *CPU) Translate(virtual uint32, writing, ifetch bool) (phys uint32, flags uint32, ok bool) {
	if p.Cr[CrRS]&RSMmu == 0 {
		return virtual, pteKernel | pteWritable, true
	}

	vpn := virtual >> 12
	tb := p.Dtb
	tagReg := CrDTBTAG
	if ifetch {
		tb = p.Itb
		tagReg = CrITBTAG
	}

	entry, hit := tb.LastResult(vpn)
	if !hit {
		matching := (p.Cr[tagReg] & 0xFFF00000) | vpn
		entry, hit = tb.Lookup(matching)
		if !hit {
			p.tbMiss(ifetch, virtual, writing)
			return 0, 0, false
		}
		tb.SetLastResult(vpn, entry)
	}

	if !entry.valid() {
		p.pageFault(virtual, writing)
		return 0, 0, false
	}
	if entry.kernel() && p.Cr[CrRS]&RSUser != 0 {
		p.pageFault(virtual, writing)
		return 0, 0, false
	}
	if writing && !entry.writable() {
		p.pageFault(virtual, writing)
		return 0, 0, false
	}

	phys = (entry.frame() << 12) | (virtual & 0xFFF)
	return phys, entry.PTE & 0x1F, true
}

// getReg/setReg are plain register-file accesses. r0 is not hardwired at
// this layer: spec.md §3/§8 let a TB-miss handler use r0 as a real scratch
// register while RS.TBMISS is set. The dispatch loop in RunTimeslice is
// what re-zeros it every cycle RS.TBMISS is clear (matching the original's
// "make sure the zero register is always zero, except during TLB misses").
func (p *CPU) getReg(n uint8) uint32 {
	return p.Reg[n]
}

func (p *CPU) setReg(n uint8, v uint32) {
	p.Reg[n] = v
}

func (p *CPU) noncachedFor(phys uint32, flags uint32) bool {
	return phys >= NoncachedBoundary || flags&pteNonCached != 0
}

// Access is the general-purpose CPU-facing data read/write path: translate,
// alignment check, then dispatch to the D-cache or a direct noncached bus
// access (spec.md §4.1, §4.5).
func (p *CPU) Access(virtual uint32, length int, writing bool, value uint32) (result uint32, ok bool) {
	if virtual%uint32(length) != 0 {
		p.basicException(ECauseUnaligned, p.PC)
		return 0, false
	}

	phys, flags, ok := p.Translate(virtual, writing, false)
	if !ok {
		return 0, false
	}

	if p.noncachedFor(phys, flags) {
		p.StallCycles += UncachedStall
		var buf [4]byte
		if writing {
			binary.LittleEndian.PutUint32(buf[:], value)
			if !p.Bus.WriteLine(phys&^3, buf[:]) {
				p.basicException(ECauseBusError, p.PC)
				return 0, false
			}
			return 0, true
		}
		ok := false
		polled := false
		if pb, isPolled := p.Bus.(PolledBus); isPolled {
			ok, polled = pb.ReadLinePolled(phys&^3, buf[:])
		} else {
			ok = p.Bus.ReadLine(phys&^3, buf[:])
		}
		if !ok {
			p.basicException(ECauseBusError, p.PC)
			return 0, false
		}
		if polled && p.Progress > 0 {
			p.Progress--
		}
		return binary.LittleEndian.Uint32(buf[:]), true
	}

	off := phys % CacheLineSize
	if writing {
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], value)
		if !p.Dc.Write(phys, buf[:length]) {
			p.basicException(ECauseBusError, p.PC)
			return 0, false
		}
		return 0, true
	}
	line, ok := p.Dc.Read(phys)
	if !ok {
		p.basicException(ECauseBusError, p.PC)
		return 0, false
	}
	var v uint32
	switch length {
	case 1:
		v = uint32(line[off])
	case 2:
		v = uint32(binary.LittleEndian.Uint16(line[off:]))
	case 4:
		v = binary.LittleEndian.Uint32(line[off:])
	}
	return v, true
}

func (p *CPU) ReadByte(a uint32) (uint32, bool)  { return p.Access(a, 1, false, 0) }
func (p *CPU) ReadInt(a uint32) (uint32, bool)   { return p.Access(a, 2, false, 0) }
func (p *CPU) ReadLong(a uint32) (uint32, bool)  { return p.Access(a, 4, false, 0) }
func (p *CPU) WriteByte(a, v uint32) bool        { _, ok := p.Access(a, 1, true, v); return ok }
func (p *CPU) WriteInt(a, v uint32) bool         { _, ok := p.Access(a, 2, true, v); return ok }
func (p *CPU) WriteLong(a, v uint32) bool        { _, ok := p.Access(a, 4, true, v); return ok }

// fetchLine reads the Icache line containing the given physical address,
// going through the I-cache unless noncached.
func (p *CPU) fetchLine(phys uint32, flags uint32) ([CacheLineSize]byte, bool) {
	if p.noncachedFor(phys, flags) {
		var buf [CacheLineSize]byte
		if !p.Bus.ReadLine(phys&^(CacheLineSize-1), buf[:]) {
			return buf, false
		}
		return buf, true
	}
	return p.Ic.Read(phys)
}

// decodeBlock builds a fresh Iblock for (pc, ASID): spec.md §4.4.
func (p *CPU) decodeBlock(pc uint32) int32 {
	phys, flags, ok := p.Translate(pc, false, true)
	if !ok {
		return iblockNone
	}

	pageEnd := (pc &^ 0xFFF) + 0x1000
	maxInsts := int((pageEnd - pc) / 4)
	if maxInsts > IblockMaxInstructions {
		maxInsts = IblockMaxInstructions
	}

	idx := p.Iblocks.Alloc()
	blk := p.Iblocks.Get(idx)
	blk.PC = pc
	blk.ASID = p.ASID
	blk.Flags = flags
	blk.Insts = blk.Insts[:0]
	blk.TruePath = iblockNone
	blk.FalsePath = iblockNone

	addr := pc
	phy := phys
	var line [CacheLineSize]byte
	lineTag := uint32(1) // forces a fetch on the first iteration
	for n := 0; n < maxInsts; n++ {
		base := phy &^ (CacheLineSize - 1)
		if base != lineTag {
			var ok bool
			line, ok = p.fetchLine(phy, flags)
			if !ok {
				p.basicException(ECauseBusError, p.PC)
				return iblockNone
			}
			lineTag = base
		}
		ir := binary.LittleEndian.Uint32(line[phy%CacheLineSize:])

		var inst Inst
		terminates := Decode(&inst, ir, addr)
		blk.Insts = append(blk.Insts, inst)
		blk.Cycles++

		addr += 4
		phy += 4
		if terminates {
			break
		}
	}

	p.Iblocks.Insert(idx)
	return idx
}

func (p *CPU) lookupOrDecode(pc uint32) int32 {
	if idx := p.Iblocks.Lookup(pc, p.ASID); idx != iblockNone {
		return idx
	}
	return p.decodeBlock(pc)
}

// RunTimeslice executes the dispatch loop for up to cycles cycles (spec.md
// §4.7). It returns early on halt-with-no-pending-interrupt or an
// exhausted progress budget; the scheduler re-enters next tick.
func (p *CPU) RunTimeslice(cycles int, lsic InterruptSource) {
	if p.UserBreak && p.NmiMaskCounter == 0 {
		p.basicException(ECauseNMI, p.PC)
	}
	if p.Halted {
		if !lsic.Pending(p.ID) {
			return
		}
		p.Halted = false
	}
	if p.Progress <= 0 {
		return
	}

	for cycles > 0 && p.PauseCalls < PauseCallLimit && !p.Halted {
		if p.NmiMaskCounter > 0 {
			p.NmiMaskCounter--
		}
		if p.StallCycles > 0 {
			p.StallCycles--
			cycles--
			continue
		}
		if p.Cr[CrRS]&RSInt != 0 && lsic.Pending(p.ID) {
			p.basicException(ECauseInterrupt, p.PC)
		}

		var idx int32
		if p.pinnedSucc != iblockNone && p.Iblocks.Get(p.pinnedSucc).PC == p.PC {
			idx = p.pinnedSucc
		} else {
			idx = p.lookupOrDecode(p.PC)
		}
		p.pinnedSucc = iblockNone
		if idx == iblockNone {
			// Ifetch mishap already vectored; the handler runs on the next
			// loop iteration.
			continue
		}
		p.Iblocks.Touch(idx)
		blk := p.Iblocks.Get(idx)

		addr := blk.PC
		stopped := false
		for i := range blk.Insts {
			in := &blk.Insts[i]
			p.PC = addr
			if p.Cr[CrRS]&RSTbMiss == 0 {
				p.Reg[0] = 0
			}
			succ := in.Handler(p, blk, in)
			addr += 4
			if in.Terminates {
				stopped = true
				if succ != nil {
					p.pinnedSucc = p.Iblocks.IndexOf(succ)
				}
				break
			}
		}
		if !stopped {
			p.PC = addr
		}
		cycles -= blk.Cycles
		if cycles < 0 {
			cycles = 0
		}

		p.drainTimer++
		if p.drainTimer >= UncachedStall {
			p.drainTimer = 0
			p.Dc.DrainOne()
		}
	}
}

// InterruptSource is the narrow view of the LSIC a CPU's dispatch loop
// needs (spec.md §4.2).
type InterruptSource interface {
	Pending(cpu int) bool
}
