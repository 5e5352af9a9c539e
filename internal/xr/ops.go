package xr

import "xrsim/internal/utils"

// LinkReg is the general register the unconditional-call forms (JAL) use to
// stash the return address; XR/17032 has no dedicated link register in the
// encoding, only a software convention (spec.md §3, "Register file").
const LinkReg = 31

func bool2uint32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// branch resolves a block-terminating control transfer to dest, looks up (or
// decodes) the successor Iblock, records slot as a back-pointer on it, and
// returns it so the dispatch loop can pin it as the next block to run
// (spec.md §4.4, §4.7).
func (p *CPU) branch(blk *Iblock, taken bool, target, fallthroughPC uint32, slotTrue, slotFalse *int32) *Iblock {
	dest := fallthroughPC
	slot := slotFalse
	if taken {
		dest = target
		slot = slotTrue
	}
	p.PC = dest
	idx := p.lookupOrDecode(dest)
	if idx == iblockNone {
		return nil
	}
	p.Iblocks.LinkSuccessor(idx, slot)
	return p.Iblocks.Get(idx)
}

func (p *CPU) condBranch(blk *Iblock, in *Inst, taken bool) *Iblock {
	target := p.PC + in.Imm
	fall := p.PC + 4
	return p.branch(blk, taken, target, fall, &blk.TruePath, &blk.FalsePath)
}

// --- control flow ---

func execIllegalInstruction(p *CPU, blk *Iblock, in *Inst) *Iblock {
	p.basicException(ECauseInvalidInstruction, p.PC)
	return nil
}

func execB(p *CPU, blk *Iblock, in *Inst) *Iblock {
	return p.condBranch(blk, in, true)
}

func execBeq(p *CPU, blk *Iblock, in *Inst) *Iblock {
	return p.condBranch(blk, in, p.getReg(in.Rd) == 0)
}

func execBne(p *CPU, blk *Iblock, in *Inst) *Iblock {
	return p.condBranch(blk, in, p.getReg(in.Rd) != 0)
}

func execBge(p *CPU, blk *Iblock, in *Inst) *Iblock {
	return p.condBranch(blk, in, int32(p.getReg(in.Rd)) >= 0)
}

func execBle(p *CPU, blk *Iblock, in *Inst) *Iblock {
	return p.condBranch(blk, in, int32(p.getReg(in.Rd)) <= 0)
}

func execBgt(p *CPU, blk *Iblock, in *Inst) *Iblock {
	return p.condBranch(blk, in, int32(p.getReg(in.Rd)) > 0)
}

func execBlt(p *CPU, blk *Iblock, in *Inst) *Iblock {
	return p.condBranch(blk, in, int32(p.getReg(in.Rd)) < 0)
}

// execBpo/execBpe branch on the tested register's low bit (odd/even), the
// XR assembler's bit-test shorthand for flag words packed into a GPR.
func execBpo(p *CPU, blk *Iblock, in *Inst) *Iblock {
	return p.condBranch(blk, in, p.getReg(in.Rd)&1 != 0)
}

func execBpe(p *CPU, blk *Iblock, in *Inst) *Iblock {
	return p.condBranch(blk, in, p.getReg(in.Rd)&1 == 0)
}

func execJ(p *CPU, blk *Iblock, in *Inst) *Iblock {
	return p.branch(blk, true, in.Imm, in.Imm, &blk.TruePath, &blk.TruePath)
}

func execJal(p *CPU, blk *Iblock, in *Inst) *Iblock {
	p.setReg(LinkReg, p.PC+4)
	return p.branch(blk, true, in.Imm, in.Imm, &blk.TruePath, &blk.TruePath)
}

func execJalr(p *CPU, blk *Iblock, in *Inst) *Iblock {
	target := p.getReg(in.Ra) + in.Imm
	link := p.PC + 4
	p.setReg(in.Rd, link)
	return p.branch(blk, true, target, target, &blk.TruePath, &blk.TruePath)
}

// --- immediate ALU ---

func execOri(p *CPU, blk *Iblock, in *Inst) *Iblock {
	p.setReg(in.Rd, p.getReg(in.Ra)|in.Imm)
	return nil
}

func execXori(p *CPU, blk *Iblock, in *Inst) *Iblock {
	p.setReg(in.Rd, p.getReg(in.Ra)^in.Imm)
	return nil
}

func execAndi(p *CPU, blk *Iblock, in *Inst) *Iblock {
	p.setReg(in.Rd, p.getReg(in.Ra)&in.Imm)
	return nil
}

func execAddi(p *CPU, blk *Iblock, in *Inst) *Iblock {
	p.setReg(in.Rd, p.getReg(in.Ra)+in.Imm)
	return nil
}

func execSubi(p *CPU, blk *Iblock, in *Inst) *Iblock {
	p.setReg(in.Rd, p.getReg(in.Ra)-in.Imm)
	return nil
}

func execSltiSigned(p *CPU, blk *Iblock, in *Inst) *Iblock {
	p.setReg(in.Rd, bool2uint32(int32(p.getReg(in.Ra)) < int32(in.Imm)))
	return nil
}

func execSlti(p *CPU, blk *Iblock, in *Inst) *Iblock {
	p.setReg(in.Rd, bool2uint32(p.getReg(in.Ra) < in.Imm))
	return nil
}

// --- immediate-literal stores: store a 5-bit sign-extended literal (packed
// into the Ra field at decode) to [rd+imm] ---

func execStoreLongImmOffsetImm(p *CPU, blk *Iblock, in *Inst) *Iblock {
	lit := utils.SignExtend(uint32(in.Ra), 5)
	p.WriteLong(p.getReg(in.Rd)+in.Imm, lit)
	return nil
}

func execStoreIntImmOffsetImm(p *CPU, blk *Iblock, in *Inst) *Iblock {
	lit := utils.SignExtend(uint32(in.Ra), 5)
	p.WriteInt(p.getReg(in.Rd)+in.Imm, lit)
	return nil
}

func execStoreByteImmOffsetImm(p *CPU, blk *Iblock, in *Inst) *Iblock {
	lit := utils.SignExtend(uint32(in.Ra), 5)
	p.WriteByte(p.getReg(in.Rd)+in.Imm, lit)
	return nil
}

// --- imm-offset loads/stores: addr = ra + imm, data = rd ---

func execStoreLongImmOffsetReg(p *CPU, blk *Iblock, in *Inst) *Iblock {
	p.WriteLong(p.getReg(in.Ra)+in.Imm, p.getReg(in.Rd))
	return nil
}

func execStoreIntImmOffsetReg(p *CPU, blk *Iblock, in *Inst) *Iblock {
	p.WriteInt(p.getReg(in.Ra)+in.Imm, p.getReg(in.Rd))
	return nil
}

func execStoreByteImmOffsetReg(p *CPU, blk *Iblock, in *Inst) *Iblock {
	p.WriteByte(p.getReg(in.Ra)+in.Imm, p.getReg(in.Rd))
	return nil
}

func execLoadLongImmOffset(p *CPU, blk *Iblock, in *Inst) *Iblock {
	if v, ok := p.ReadLong(p.getReg(in.Ra) + in.Imm); ok {
		p.setReg(in.Rd, v)
	}
	return nil
}

func execLoadIntImmOffset(p *CPU, blk *Iblock, in *Inst) *Iblock {
	if v, ok := p.ReadInt(p.getReg(in.Ra) + in.Imm); ok {
		p.setReg(in.Rd, v)
	}
	return nil
}

func execLoadByteImmOffset(p *CPU, blk *Iblock, in *Inst) *Iblock {
	if v, ok := p.ReadByte(p.getReg(in.Ra) + in.Imm); ok {
		p.setReg(in.Rd, v)
	}
	return nil
}

// --- register-form ALU (opcode 57, funct 0-7): op2 = shift(rb, shamt) ---

func (in *Inst) op2(p *CPU) uint32 { return in.Shift(p.getReg(in.Rb), uint32(in.Shamt)) }

func execNor(p *CPU, blk *Iblock, in *Inst) *Iblock {
	p.setReg(in.Rd, ^(p.getReg(in.Ra) | in.op2(p)))
	return nil
}

func execOr(p *CPU, blk *Iblock, in *Inst) *Iblock {
	p.setReg(in.Rd, p.getReg(in.Ra)|in.op2(p))
	return nil
}

func execXor(p *CPU, blk *Iblock, in *Inst) *Iblock {
	p.setReg(in.Rd, p.getReg(in.Ra)^in.op2(p))
	return nil
}

func execAnd(p *CPU, blk *Iblock, in *Inst) *Iblock {
	p.setReg(in.Rd, p.getReg(in.Ra)&in.op2(p))
	return nil
}

func execSltSigned(p *CPU, blk *Iblock, in *Inst) *Iblock {
	p.setReg(in.Rd, bool2uint32(int32(p.getReg(in.Ra)) < int32(in.op2(p))))
	return nil
}

func execSlt(p *CPU, blk *Iblock, in *Inst) *Iblock {
	p.setReg(in.Rd, bool2uint32(p.getReg(in.Ra) < in.op2(p)))
	return nil
}

func execSub(p *CPU, blk *Iblock, in *Inst) *Iblock {
	p.setReg(in.Rd, p.getReg(in.Ra)-in.op2(p))
	return nil
}

func execAdd(p *CPU, blk *Iblock, in *Inst) *Iblock {
	p.setReg(in.Rd, p.getReg(in.Ra)+in.op2(p))
	return nil
}

// --- dedicated register-amount shifts (opcode 57, funct 8) ---

func execLsh(p *CPU, blk *Iblock, in *Inst) *Iblock {
	p.setReg(in.Rd, shiftLsh(p.getReg(in.Ra), p.getReg(in.Rb)))
	return nil
}

func execRsh(p *CPU, blk *Iblock, in *Inst) *Iblock {
	p.setReg(in.Rd, shiftRsh(p.getReg(in.Ra), p.getReg(in.Rb)))
	return nil
}

func execAsh(p *CPU, blk *Iblock, in *Inst) *Iblock {
	p.setReg(in.Rd, shiftAsh(p.getReg(in.Ra), p.getReg(in.Rb)))
	return nil
}

func execRor(p *CPU, blk *Iblock, in *Inst) *Iblock {
	p.setReg(in.Rd, shiftRor(p.getReg(in.Ra), p.getReg(in.Rb)))
	return nil
}

var regShiftTable = [4]Handler{execLsh, execRsh, execAsh, execRor}

// --- register-offset loads/stores (opcode 57, funct 9-15 except 12):
// addr = ra + shift(rb, shamt) ---

func execStoreLongRegOffset(p *CPU, blk *Iblock, in *Inst) *Iblock {
	p.WriteLong(p.getReg(in.Ra)+in.op2(p), p.getReg(in.Rd))
	return nil
}

func execStoreIntRegOffset(p *CPU, blk *Iblock, in *Inst) *Iblock {
	p.WriteInt(p.getReg(in.Ra)+in.op2(p), p.getReg(in.Rd))
	return nil
}

func execStoreByteRegOffset(p *CPU, blk *Iblock, in *Inst) *Iblock {
	p.WriteByte(p.getReg(in.Ra)+in.op2(p), p.getReg(in.Rd))
	return nil
}

func execLoadLongRegOffset(p *CPU, blk *Iblock, in *Inst) *Iblock {
	if v, ok := p.ReadLong(p.getReg(in.Ra) + in.op2(p)); ok {
		p.setReg(in.Rd, v)
	}
	return nil
}

func execLoadIntRegOffset(p *CPU, blk *Iblock, in *Inst) *Iblock {
	if v, ok := p.ReadInt(p.getReg(in.Ra) + in.op2(p)); ok {
		p.setReg(in.Rd, v)
	}
	return nil
}

func execLoadByteRegOffset(p *CPU, blk *Iblock, in *Inst) *Iblock {
	if v, ok := p.ReadByte(p.getReg(in.Ra) + in.op2(p)); ok {
		p.setReg(in.Rd, v)
	}
	return nil
}

// --- opcode 49: SYS/BRK/WMB/MB/PAUSE/SC/LL/MOD/DIV.s/DIV/MUL ---

func execSys(p *CPU, blk *Iblock, in *Inst) *Iblock {
	p.basicException(ECauseSyscall, p.PC)
	return nil
}

func execBrk(p *CPU, blk *Iblock, in *Inst) *Iblock {
	p.basicException(ECauseBreakpoint, p.PC)
	return nil
}

// execWmb serves both the write-memory-barrier and full-memory-barrier
// functs: this implementation's write buffer is the only thing to drain.
func execWmb(p *CPU, blk *Iblock, in *Inst) *Iblock {
	p.Dc.FlushAll()
	return nil
}

func execPause(p *CPU, blk *Iblock, in *Inst) *Iblock {
	p.PauseCalls++
	return nil
}

func execLL(p *CPU, blk *Iblock, in *Inst) *Iblock {
	addr := p.getReg(in.Ra)
	v, ok := p.ReadLong(addr)
	if !ok {
		return nil
	}
	p.setReg(in.Rd, v)
	p.Locked = true
	p.LockedAddr = addr
	return nil
}

func execSC(p *CPU, blk *Iblock, in *Inst) *Iblock {
	addr := p.getReg(in.Ra)
	if p.Locked && p.LockedAddr == addr && p.WriteLong(addr, p.getReg(in.Rb)) {
		p.setReg(in.Rd, 1)
	} else {
		p.setReg(in.Rd, 0)
	}
	p.Locked = false
	return nil
}

func execMod(p *CPU, blk *Iblock, in *Inst) *Iblock {
	b := p.getReg(in.Rb)
	if b == 0 {
		p.setReg(in.Rd, 0)
		return nil
	}
	p.setReg(in.Rd, p.getReg(in.Ra)%b)
	return nil
}

func execDivSigned(p *CPU, blk *Iblock, in *Inst) *Iblock {
	b := int32(p.getReg(in.Rb))
	if b == 0 {
		p.setReg(in.Rd, 0)
		return nil
	}
	p.setReg(in.Rd, uint32(int32(p.getReg(in.Ra))/b))
	return nil
}

func execDiv(p *CPU, blk *Iblock, in *Inst) *Iblock {
	b := p.getReg(in.Rb)
	if b == 0 {
		p.setReg(in.Rd, 0)
		return nil
	}
	p.setReg(in.Rd, p.getReg(in.Ra)/b)
	return nil
}

func execMul(p *CPU, blk *Iblock, in *Inst) *Iblock {
	p.setReg(in.Rd, p.getReg(in.Ra)*p.getReg(in.Rb))
	return nil
}

// --- opcode 41: RFE/HLT/MTCR/MFCR (privileged) ---

func execRfe(p *CPU, blk *Iblock, in *Inst) *Iblock {
	if p.Cr[CrRS]&RSUser != 0 {
		p.privilegeFault()
		return nil
	}
	// Any exception return clears the LL/SC reservation (spec.md §4.6, §8).
	p.Locked = false
	if p.Cr[CrRS]&RSTbMiss != 0 {
		p.PC = p.Cr[CrTBPC]
	} else {
		p.PC = p.Cr[CrEPC]
	}
	p.popMode()
	return nil
}

func execHlt(p *CPU, blk *Iblock, in *Inst) *Iblock {
	if p.Cr[CrRS]&RSUser != 0 {
		p.privilegeFault()
		return nil
	}
	p.Halted = true
	return nil
}

func execMtcr(p *CPU, blk *Iblock, in *Inst) *Iblock {
	if p.Cr[CrRS]&RSUser != 0 {
		p.privilegeFault()
		return nil
	}
	val := p.getReg(in.Ra)
	switch in.Rb {
	case CrITBCTRL:
		p.Itb.Invalidate(val&3, p.Cr[CrITBTAG]&tlbVpnMask)
		p.Iblocks.Flush()
	case CrDTBCTRL:
		p.Dtb.Invalidate(val&3, p.Cr[CrDTBTAG]&tlbVpnMask)
	case CrITBPTE:
		p.Cr[CrITBPTE] = val
		p.Itb.Refill(tagOf(p.Cr[CrITBTAG]>>tlbAsidShift, p.Cr[CrITBTAG]&tlbVpnMask), val)
		p.Itb.ResetLastResult()
	case CrDTBPTE:
		p.Cr[CrDTBPTE] = val
		p.Dtb.Refill(tagOf(p.Cr[CrDTBTAG]>>tlbAsidShift, p.Cr[CrDTBTAG]&tlbVpnMask), val)
		p.Dtb.ResetLastResult()
	case CrITBINDEX:
		p.Cr[CrITBINDEX] = val
		p.Itb.Index = val
	case CrDTBINDEX:
		p.Cr[CrDTBINDEX] = val
		p.Dtb.Index = val
	case CrITBTAG:
		p.Cr[CrITBTAG] = val
		p.Itb.ResetLastResult()
	case CrDTBTAG:
		p.Cr[CrDTBTAG] = val
		p.Dtb.ResetLastResult()
	case CrICACHECTRL:
		p.Cr[CrICACHECTRL] = val
		p.Ic.InvalidateAll()
		p.Iblocks.Flush()
	case CrDCACHECTRL:
		p.Cr[CrDCACHECTRL] = val
		p.Dc.FlushAll()
		p.Dc.InvalidateAll()
	default:
		p.Cr[in.Rb] = val
	}
	return nil
}

func execMfcr(p *CPU, blk *Iblock, in *Inst) *Iblock {
	if p.Cr[CrRS]&RSUser != 0 {
		p.privilegeFault()
		return nil
	}
	p.setReg(in.Rd, p.Cr[in.Rb])
	return nil
}
