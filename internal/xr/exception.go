package xr

import "log"

// beginException guards against double faults: an exception raised while
// another is still being vectored means the exception machinery itself hit
// a fault it cannot service, which is an emulator bug rather than
// architectural behavior, so it aborts with processor state attached
// (spec.md §7).
func (p *CPU) beginException() {
	if p.CurrentException {
		log.Panicf("xr: double fault on cpu %d at pc %#x: cr=%v reg=%v", p.ID, p.PC, p.Cr, p.Reg)
	}
	p.CurrentException = true
}

// pushMode shifts the low 16 bits of RS (current mode | saved prior mode)
// left by 8, preserving ECAUSE (spec.md §3, §4.6).
func (p *CPU) pushMode() {
	rs := p.Cr[CrRS]
	p.Cr[CrRS] = (rs & 0xFF0000FF) | ((rs & 0xFFFF) << 8)
}

// popMode is RFE's inverse: shift right 8, keep only ECAUSE above that.
func (p *CPU) popMode() {
	rs := p.Cr[CrRS]
	p.Cr[CrRS] = (rs & 0xF0000000) | ((rs >> 8) & 0xFFFF)
}

func (p *CPU) setEcause(exc uint32) {
	p.Cr[CrRS] = (p.Cr[CrRS] &^ (0xF << rsEcauseShift)) | (exc << rsEcauseShift)
}

// vectorException computes the new mode, redirects PC to the vector, and
// resets the NMI mask / poll counters (spec.md §4.6). It does not push the
// mode stack, save EPC, or set ECAUSE — callers do that first.
func (p *CPU) vectorException(exc uint32) {
	defer func() { p.CurrentException = false }()

	if p.Cr[CrEB] == 0 {
		p.Reset()
		return
	}

	newMode := p.Cr[CrRS] & rsModeMaskLow &^ (RSUser | RSInt)
	if p.Cr[CrRS]&RSLegacy != 0 {
		newMode &^= RSMmu
	}

	p.PC = p.Cr[CrEB] | (exc << 8)
	p.Cr[CrRS] = (p.Cr[CrRS] &^ 0xFF) | newMode
	p.NmiMaskCounter = NMIMaskDefault
	p.Progress = PollMax
}

const rsModeMaskLow = 0xFF

// basicException is the common path for "ordinary" faults: save EPC, push
// the mode stack, set ECAUSE, vector.
func (p *CPU) basicException(exc uint32, pc uint32) {
	p.beginException()
	p.Cr[CrEPC] = pc
	p.pushMode()
	p.setEcause(exc)
	p.vectorException(exc)
}

// tbMiss handles an I-TB or D-TB miss: program TBTAG/TBADDR, save
// TBPC/TBMISSADDR unless a TB miss is already being serviced (nested TB
// miss is disallowed — the original frame's saved state wins), set TBMISS,
// and vector (spec.md §4.3).
func (p *CPU) tbMiss(ifetch bool, virtual uint32, writing bool) {
	p.beginException()
	vpn := virtual >> 12
	if ifetch {
		p.Cr[CrITBTAG] = (p.Cr[CrITBTAG] & 0xFFF00000) | vpn
		p.Cr[CrITBADDR] = (p.Cr[CrITBADDR] & 0xFFC00000) | (vpn << 2)
	} else {
		p.Cr[CrDTBTAG] = (p.Cr[CrDTBTAG] & 0xFFF00000) | vpn
		p.Cr[CrDTBADDR] = (p.Cr[CrDTBADDR] & 0xFFC00000) | (vpn << 2)
	}
	p.LastTbMissWasWrite = writing

	if p.Cr[CrRS]&RSTbMiss == 0 {
		p.pushMode()
		p.Cr[CrTBMISSADDR] = virtual
		p.Cr[CrTBPC] = p.PC
		p.Cr[CrRS] |= RSTbMiss
	}

	exc := ECauseITBMiss
	if !ifetch {
		exc = ECauseDTBMiss
	}
	p.setEcause(exc)
	p.vectorException(exc)
}

// pageFault handles a TLB hit whose PTE rejects the access. A page fault
// that occurs while TBMISS is set is a fault on the page table itself: the
// original faulting address is restored and TBMISS is cleared (spec.md §4.3).
func (p *CPU) pageFault(virtual uint32, writing bool) {
	p.beginException()
	exc := ECausePageFaultRead
	if writing {
		exc = ECausePageFaultWrite
	}

	if p.Cr[CrRS]&RSTbMiss != 0 {
		p.Cr[CrEBADADDR] = p.Cr[CrTBMISSADDR]
		p.Cr[CrEPC] = p.Cr[CrTBPC]
		p.Cr[CrRS] &^= RSTbMiss
		writing = p.LastTbMissWasWrite
		if writing {
			exc = ECausePageFaultWrite
		} else {
			exc = ECausePageFaultRead
		}
	} else {
		p.Cr[CrEBADADDR] = virtual
		p.Cr[CrEPC] = p.PC
		p.pushMode()
	}

	p.setEcause(exc)
	p.vectorException(exc)
}

func (p *CPU) privilegeFault() {
	p.Cr[CrEBADADDR] = p.PC
	p.basicException(ECauseInvalidPrivilege, p.PC)
}
