package xr

import "xrsim/internal/utils"

// ShiftFunc implements one of the four register-shift variants used both
// by the reg-form ALU ops' shift-operand and by the dedicated *SH ops.
type ShiftFunc func(a, b uint32) uint32

func shiftLsh(a, b uint32) uint32 { return a << (b & 31) }
func shiftRsh(a, b uint32) uint32 { return a >> (b & 31) }
func shiftAsh(a, b uint32) uint32 { return uint32(int32(a) >> (b & 31)) }
func shiftRor(a, b uint32) uint32 {
	n := b & 31
	if n == 0 {
		return a
	}
	return (a >> n) | (a << (32 - n))
}

var shiftTable = [4]ShiftFunc{shiftLsh, shiftRsh, shiftAsh, shiftRor}

// Handler executes one pre-decoded instruction against the running CPU and
// the Iblock it belongs to, returning the next Iblock to run (or nil to
// force the dispatch loop to re-look-up by PC).
type Handler func(p *CPU, blk *Iblock, in *Inst) *Iblock

// Inst is a pre-decoded instruction slot inside an Iblock (spec.md §3,
// "Cached instruction"). Rd/Ra/Rb double as general register numbers or,
// for MTCR/MFCR, a control-register index.
type Inst struct {
	Handler    Handler
	Rd, Ra, Rb uint8
	Shamt      uint8
	Imm        uint32
	Shift      ShiftFunc
	Terminates bool
}

// decodeFn fills in inst from the raw word ir fetched at virtual pc, and
// reports whether the instruction terminates an Iblock.
type decodeFn func(inst *Inst, ir, pc uint32) bool

func field(ir uint32, lo, n int) uint8 { return uint8(utils.Field(ir, lo, n)) }

func decodeIllegal(inst *Inst, ir, pc uint32) bool {
	inst.Handler = execIllegalInstruction
	return true
}

// --- LUI / immediate ALU (rd, ra, imm16), low-6 opcodes 60/52/44/36/28/20/12/4 ---

func decodeLui(inst *Inst, ir, pc uint32) bool {
	inst.Handler = execOri
	inst.Rd = field(ir, 6, 5)
	inst.Ra = field(ir, 11, 5)
	inst.Imm = (ir >> 16) << 16
	return false
}

func immForm(h Handler, imm func(ir uint32) uint32) decodeFn {
	return func(inst *Inst, ir, pc uint32) bool {
		inst.Handler = h
		inst.Rd = field(ir, 6, 5)
		inst.Ra = field(ir, 11, 5)
		inst.Imm = imm(ir)
		return false
	}
}

func rawImm16(ir uint32) uint32   { return ir >> 16 }
func signImm16(ir uint32) uint32  { return uint32(utils.SignExtend(uint16(ir>>16), 16)) }
func scaledImm4(ir uint32) uint32 { return (ir >> 16) << 2 }
func scaledImm2(ir uint32) uint32 { return (ir >> 16) << 1 }

// --- branches (rd, 21-bit pc-relative signed offset scaled x4) ---

func branchOffset(ir uint32) uint32 {
	return uint32(utils.SignExtend((ir>>11)<<2, 23))
}

func decodeBranch(h Handler) decodeFn {
	return func(inst *Inst, ir, pc uint32) bool {
		inst.Handler = h
		inst.Rd = field(ir, 6, 5)
		inst.Imm = branchOffset(ir)
		return true
	}
}

func decodeBeq(inst *Inst, ir, pc uint32) bool {
	inst.Imm = branchOffset(ir)
	if field(ir, 6, 5) == 0 {
		// BEQ rd=0 is the canonical unconditional branch "B".
		inst.Handler = execB
		return true
	}
	inst.Handler = execBeq
	inst.Rd = field(ir, 6, 5)
	return true
}

// --- J / JAL: low-3 major kind 6/7, 29-bit word-aligned absolute target ---

func decodeJ(inst *Inst, ir, pc uint32) bool {
	inst.Handler = execJ
	inst.Imm = (pc & 0x80000000) | ((ir >> 3) << 2)
	return true
}

func decodeJal(inst *Inst, ir, pc uint32) bool {
	inst.Handler = execJal
	inst.Imm = (pc & 0x80000000) | ((ir >> 3) << 2)
	return true
}

func decodeJalr(inst *Inst, ir, pc uint32) bool {
	inst.Handler = execJalr
	inst.Rd = field(ir, 6, 5)
	inst.Ra = field(ir, 11, 5)
	inst.Imm = uint32(utils.SignExtend((ir>>16)<<2, 18))
	return true
}

// --- MOV (load) / store, immediate-offset forms: rd, ra, imm16 (scaled) ---

func decodeMem(h Handler, imm func(uint32) uint32) decodeFn {
	return func(inst *Inst, ir, pc uint32) bool {
		inst.Handler = h
		inst.Rd = field(ir, 6, 5)
		inst.Ra = field(ir, 11, 5)
		inst.Imm = imm(ir)
		return false
	}
}

// store [rd+imm], imm5 (literal from ra field) — opcodes 10/18/26.
func decodeStoreImmOffsetImm(h Handler, scale uint32) decodeFn {
	return func(inst *Inst, ir, pc uint32) bool {
		inst.Handler = h
		inst.Rd = field(ir, 6, 5)
		inst.Ra = field(ir, 11, 5) // literal value, sign-extended at execute
		inst.Imm = (ir >> 16) << scale
		return false
	}
}

// --- register-form ALU / shift / reg-offset mem (opcode 57, funct hi-4) ---

func decodeRegALU(h Handler) decodeFn {
	return func(inst *Inst, ir, pc uint32) bool {
		inst.Handler = h
		inst.Rd = field(ir, 6, 5)
		inst.Ra = field(ir, 11, 5)
		inst.Rb = field(ir, 16, 5)
		inst.Shamt = field(ir, 21, 5)
		inst.Shift = shiftTable[field(ir, 26, 2)]
		return false
	}
}

func decodeRegShifts(inst *Inst, ir, pc uint32) bool {
	inst.Handler = regShiftTable[field(ir, 26, 2)]
	inst.Rd = field(ir, 6, 5)
	inst.Ra = field(ir, 11, 5)
	inst.Rb = field(ir, 16, 5)
	return false
}

func decodeRegOffsetMem(h Handler) decodeFn {
	return func(inst *Inst, ir, pc uint32) bool {
		inst.Handler = h
		inst.Rd = field(ir, 6, 5)
		inst.Ra = field(ir, 11, 5)
		inst.Rb = field(ir, 16, 5)
		inst.Shamt = field(ir, 21, 5)
		inst.Shift = shiftTable[field(ir, 26, 2)]
		return false
	}
}

// --- opcode 49: SYS/BRK/WMB/MB/PAUSE/SC/LL/MOD/DIV.s/DIV/MUL ---

func decodeNoOperand(h Handler, terminates bool) decodeFn {
	return func(inst *Inst, ir, pc uint32) bool {
		inst.Handler = h
		return terminates
	}
}

func decodeSC(inst *Inst, ir, pc uint32) bool {
	inst.Handler = execSC
	inst.Rd = field(ir, 6, 5)
	inst.Ra = field(ir, 11, 5)
	inst.Rb = field(ir, 16, 5)
	return false
}

func decodeLL(inst *Inst, ir, pc uint32) bool {
	inst.Handler = execLL
	inst.Rd = field(ir, 6, 5)
	inst.Ra = field(ir, 11, 5)
	return false
}

func decodeMulDivMod(h Handler) decodeFn {
	return func(inst *Inst, ir, pc uint32) bool {
		inst.Handler = h
		inst.Rd = field(ir, 6, 5)
		inst.Ra = field(ir, 11, 5)
		inst.Rb = field(ir, 16, 5)
		return false
	}
}

// --- opcode 41: RFE/HLT/MTCR/MFCR (privileged) ---

func decodeMtcr(inst *Inst, ir, pc uint32) bool {
	inst.Handler = execMtcr
	inst.Ra = field(ir, 11, 5) // source GPR
	inst.Rb = field(ir, 16, 5) // control register index
	return false
}

func decodeMfcr(inst *Inst, ir, pc uint32) bool {
	inst.Handler = execMfcr
	inst.Rd = field(ir, 6, 5)  // dest GPR
	inst.Rb = field(ir, 16, 5) // control register index
	return false
}

var decodeFunctions101001 = [16]decodeFn{
	11: func(inst *Inst, ir, pc uint32) bool { inst.Handler = execRfe; return true },
	12: func(inst *Inst, ir, pc uint32) bool { inst.Handler = execHlt; return true },
	14: decodeMtcr,
	15: decodeMfcr,
}

var decodeFunctions110001 = [16]decodeFn{
	0:  decodeNoOperand(execSys, true),
	1:  decodeNoOperand(execBrk, true),
	2:  decodeNoOperand(execWmb, false),
	3:  decodeNoOperand(execWmb, false),
	6:  decodeNoOperand(execPause, false),
	8:  decodeSC,
	9:  decodeLL,
	11: decodeMulDivMod(execMod),
	12: decodeMulDivMod(execDivSigned),
	13: decodeMulDivMod(execDiv),
	15: decodeMulDivMod(execMul),
}

var decodeFunctions111001 = [16]decodeFn{
	0: decodeRegALU(execNor),
	1: decodeRegALU(execOr),
	2: decodeRegALU(execXor),
	3: decodeRegALU(execAnd),
	4: decodeRegALU(execSltSigned),
	5: decodeRegALU(execSlt),
	6: decodeRegALU(execSub),
	7: decodeRegALU(execAdd),
	8: decodeRegShifts,
	9: decodeRegOffsetMem(execStoreLongRegOffset),
	10: decodeRegOffsetMem(execStoreIntRegOffset),
	11: decodeRegOffsetMem(execStoreByteRegOffset),
	12: decodeIllegal,
	13: decodeRegOffsetMem(execLoadLongRegOffset),
	14: decodeRegOffsetMem(execLoadIntRegOffset),
	15: decodeRegOffsetMem(execLoadByteRegOffset),
}

func decode101001(inst *Inst, ir, pc uint32) bool {
	return decodeFunctions101001[ir>>28](inst, ir, pc)
}

func decode110001(inst *Inst, ir, pc uint32) bool {
	return decodeFunctions110001[ir>>28](inst, ir, pc)
}

func decode111001(inst *Inst, ir, pc uint32) bool {
	return decodeFunctions111001[ir>>28](inst, ir, pc)
}

var decodeLowSix [64]decodeFn

func init() {
	for i := range decodeLowSix {
		decodeLowSix[i] = decodeIllegal
	}
	decodeLowSix[4] = decodeLui
	decodeLowSix[5] = decodeBranch(execBpo)
	decodeLowSix[10] = decodeStoreImmOffsetImm(execStoreLongImmOffsetImm, 2)
	decodeLowSix[12] = immForm(execOri, rawImm16)
	decodeLowSix[13] = decodeBranch(execBpe)
	decodeLowSix[18] = decodeStoreImmOffsetImm(execStoreIntImmOffsetImm, 1)
	decodeLowSix[20] = immForm(execXori, rawImm16)
	decodeLowSix[21] = decodeBranch(execBge)
	decodeLowSix[26] = decodeStoreImmOffsetImm(execStoreByteImmOffsetImm, 0)
	decodeLowSix[28] = immForm(execAndi, rawImm16)
	decodeLowSix[29] = decodeBranch(execBle)
	decodeLowSix[36] = immForm(execSltiSigned, signImm16)
	decodeLowSix[37] = decodeBranch(execBgt)
	decodeLowSix[41] = decode101001
	decodeLowSix[42] = decodeMem(execStoreLongImmOffsetReg, scaledImm4)
	decodeLowSix[43] = decodeMem(execLoadLongImmOffset, scaledImm4)
	decodeLowSix[44] = immForm(execSlti, rawImm16)
	decodeLowSix[45] = decodeBranch(execBlt)
	decodeLowSix[49] = decode110001
	decodeLowSix[50] = decodeMem(execStoreIntImmOffsetReg, scaledImm2)
	decodeLowSix[51] = decodeMem(execLoadIntImmOffset, scaledImm2)
	decodeLowSix[52] = immForm(execSubi, rawImm16)
	decodeLowSix[53] = decodeBranch(execBne)
	decodeLowSix[56] = decodeJalr
	decodeLowSix[57] = decode111001
	decodeLowSix[58] = decodeMem(execStoreByteImmOffsetReg, rawImm16)
	decodeLowSix[59] = decodeMem(execLoadByteImmOffset, rawImm16)
	decodeLowSix[60] = immForm(execAddi, rawImm16)
	decodeLowSix[61] = decodeBeq
}

func decodeMajor(inst *Inst, ir, pc uint32) bool {
	return decodeLowSix[ir&63](inst, ir, pc)
}

var decodeLowThree [8]decodeFn

func init() {
	for i := 0; i <= 5; i++ {
		decodeLowThree[i] = decodeMajor
	}
	decodeLowThree[6] = decodeJ
	decodeLowThree[7] = decodeJal
}

// Decode turns one 32-bit instruction word fetched at virtual address pc
// into a pre-decoded Inst, returning whether it terminates an Iblock.
func Decode(inst *Inst, ir, pc uint32) bool {
	*inst = Inst{}
	terminates := decodeLowThree[ir&7](inst, ir, pc)
	inst.Terminates = terminates
	return terminates
}
