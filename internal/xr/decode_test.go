package xr

import (
	"reflect"
	"testing"
)

// funcPtr compares two Handler/ShiftFunc values by code pointer, since Go
// forbids == between non-nil func values directly.
func funcPtr(f interface{}) uintptr {
	return reflect.ValueOf(f).Pointer()
}

// TestDecodeIdempotent covers spec.md §8's round-trip property: decoding the
// same instruction word at the same PC twice yields an identical Inst.
func TestDecodeIdempotent(t *testing.T) {
	words := []struct {
		name string
		ir   uint32
		pc   uint32
	}{
		{"ADDI", 0xFC<<24 | 0x1234<<16 | 2<<11 | 1<<6 | 60, 0x1000},
		{"LUI", 0x00FF<<16 | 3<<6 | 4, 0x2000},
		{"BEQ", 7<<6 | 0xAA<<11 | 61, 0x3000},
		{"J", 0x12345<<3 | 6, 0x80000000},
		{"JAL", 0x12345<<3 | 7, 0x80000000},
		{"reg-ALU ADD", (7 << 28) | (1 << 26) | (2 << 21) | (3 << 16) | (4 << 11) | (5 << 6) | 57, 0x4000},
	}

	for _, w := range words {
		var a, b Inst
		Decode(&a, w.ir, w.pc)
		Decode(&b, w.ir, w.pc)

		if a.Rd != b.Rd || a.Ra != b.Ra || a.Rb != b.Rb || a.Shamt != b.Shamt || a.Imm != b.Imm || a.Terminates != b.Terminates {
			t.Errorf("%s: non-idempotent decode: %+v vs %+v", w.name, a, b)
		}
		if (a.Handler == nil) != (b.Handler == nil) {
			t.Errorf("%s: Handler nilness differs", w.name)
		}
		if a.Handler != nil && funcPtr(a.Handler) != funcPtr(b.Handler) {
			t.Errorf("%s: Handler differs across decodes", w.name)
		}
		if (a.Shift == nil) != (b.Shift == nil) {
			t.Errorf("%s: Shift nilness differs", w.name)
		}
		if a.Shift != nil && funcPtr(a.Shift) != funcPtr(b.Shift) {
			t.Errorf("%s: Shift differs across decodes", w.name)
		}
	}
}

func TestDecodeJTarget(t *testing.T) {
	var inst Inst
	// J with a 29-bit word-aligned target field of 0x12345, high bit of pc set.
	ir := uint32(0x12345<<3 | 6)
	terminates := Decode(&inst, ir, 0x80000010)
	if !terminates {
		t.Fatal("J must terminate its Iblock")
	}
	if funcPtr(inst.Handler) != funcPtr(Handler(execJ)) {
		t.Errorf("J should dispatch to execJ")
	}
	want := uint32(0x80000000) | (0x12345 << 2)
	if inst.Imm != want {
		t.Errorf("J target = %#x, want %#x", inst.Imm, want)
	}
}

func TestDecodeBeqZeroIsUnconditionalB(t *testing.T) {
	var inst Inst
	ir := uint32(0<<6 | 5<<11 | 61) // rd=0, opcode 61 (BEQ slot)
	Decode(&inst, ir, 0x1000)
	if funcPtr(inst.Handler) != funcPtr(Handler(execB)) {
		t.Errorf("BEQ with rd=0 should decode as the unconditional branch")
	}
}

func TestDecodeIllegalOpcodeTerminates(t *testing.T) {
	var inst Inst
	// Low-6 opcode 0 is never assigned in decodeLowSix; falls through to decodeIllegal.
	terminates := Decode(&inst, 0, 0x1000)
	if !terminates {
		t.Fatal("illegal instruction must terminate its Iblock")
	}
	if funcPtr(inst.Handler) != funcPtr(Handler(execIllegalInstruction)) {
		t.Errorf("opcode 0 should decode as illegal")
	}
}

func TestDecodeRegALUShiftTable(t *testing.T) {
	var inst Inst
	// opcode 57, funct=7 (ADD), shift-type field (bits 26-27) = 2 (arithmetic shift right).
	ir := uint32(7<<28 | 2<<26 | 0<<21 | 2<<16 | 3<<11 | 4<<6 | 57)
	Decode(&inst, ir, 0x1000)
	if funcPtr(inst.Handler) != funcPtr(Handler(execAdd)) {
		t.Errorf("funct 7 should decode as execAdd")
	}
	if funcPtr(inst.Shift) != funcPtr(ShiftFunc(shiftAsh)) {
		t.Errorf("shift-type 2 should select shiftAsh")
	}
}
