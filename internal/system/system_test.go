package system

import (
	"encoding/binary"
	"testing"

	"xrsim/internal/xr"
)

func newTestSystem(t *testing.T, cpus int) *System {
	t.Helper()
	sys := New(Config{CPUCount: cpus, MemorySize: 4 * 1024 * 1024, HzPerCPU: 1_000_000})
	sys.Reset()
	return sys
}

// --- minimal opcode-57/49/immediate-ALU encoders for hand-assembled test programs ---

func llWord(rd, ra uint8) uint32          { return 9<<28 | uint32(ra)<<11 | uint32(rd)<<6 | 49 }
func scWord(rd, ra, rb uint8) uint32      { return 8<<28 | uint32(rb)<<16 | uint32(ra)<<11 | uint32(rd)<<6 | 49 }
func addiWord(rd, ra uint8, imm uint16) uint32 { return uint32(imm)<<16 | uint32(ra)<<11 | uint32(rd)<<6 | 60 }
func subiWord(rd, ra uint8, imm uint16) uint32 { return uint32(imm)<<16 | uint32(ra)<<11 | uint32(rd)<<6 | 52 }

// raw21 turns a signed instruction-count delta into the 21-bit field the
// branch encodings scale by 4 (spec.md §6.1's branch-offset field).
func raw21(deltaInstructions int32) uint32 { return uint32(deltaInstructions) & 0x1FFFFF }

func beqWord(rd uint8, deltaInstructions int32) uint32 {
	return raw21(deltaInstructions)<<11 | uint32(rd)<<6 | 61
}
func bneWord(rd uint8, deltaInstructions int32) uint32 {
	return raw21(deltaInstructions)<<11 | uint32(rd)<<6 | 53
}
func hltWord() uint32 { return 12<<28 | 41 }

// llscProgram assembles:
//
//	0: LL   r2, [r1]
//	1: ADDI r3, r2, 1
//	2: SC   r4, [r1], r3
//	3: BEQ  r4, -3          ; retry the whole LL/ADD/SC if the SC failed
//	4: SUBI r5, r5, 1
//	5: BNE  r5, -5          ; loop while the trial counter is nonzero
//	6: HLT
//
// run with r1 preset to the counter's address and r5 to the trial count.
func llscProgram() []uint32 {
	return []uint32{
		llWord(2, 1),
		addiWord(3, 2, 1),
		scWord(4, 1, 3),
		beqWord(4, -3),
		subiWord(5, 5, 1),
		bneWord(5, -5),
		hltWord(),
	}
}

func loadProgram(sys *System, phys uint32, words []uint32) {
	for i, w := range words {
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], w)
		sys.Bus.WriteLine(phys+uint32(i*4), buf[:])
	}
}

// runUntilHalted drives cpu's dispatch loop until it halts or maxRounds is
// exhausted. It reports failure via its return value rather than calling
// into *testing.T directly, since it is meant to run on a worker goroutine
// and t.Fatalf is only safe from the goroutine running the test function.
func runUntilHalted(cpu *xr.CPU, lsic xr.InterruptSource, maxRounds, cyclesPerRound int) bool {
	for i := 0; i < maxRounds; i++ {
		if cpu.Halted {
			return true
		}
		cpu.RunTimeslice(cyclesPerRound, lsic)
	}
	return cpu.Halted
}

// TestCrossCPUInvalidation covers spec.md §8 scenario 3: CPU0 reads address
// A (Shared), CPU1 writes A (Exclusive on CPU1, Invalid on CPU0), CPU0
// re-reads A and observes CPU1's value.
func TestCrossCPUInvalidation(t *testing.T) {
	sys := newTestSystem(t, 2)
	const addr = 0x00200000

	cpu0, cpu1 := sys.CPUs[0], sys.CPUs[1]

	if !cpu0.WriteLong(addr, 0x11111111) {
		t.Fatal("seed write failed")
	}
	v, ok := cpu0.ReadLong(addr)
	if !ok || v != 0x11111111 {
		t.Fatalf("cpu0 seed read = %#x, ok=%v", v, ok)
	}

	if !cpu1.WriteLong(addr, 0x22222222) {
		t.Fatal("cpu1 write failed")
	}

	v, ok = cpu0.ReadLong(addr)
	if !ok {
		t.Fatal("cpu0 re-read failed")
	}
	if v != 0x22222222 {
		t.Errorf("cpu0 should observe cpu1's value after invalidation, got %#x", v)
	}
}

// TestLLSCContention covers spec.md §8 scenario 4: two CPUs run the
// LL/ADD/SC sequence on the same counter 10000 times each. The program only
// advances its trial counter after a successful SC (instruction 4 is
// reachable only by falling through instruction 3's retry branch), so the
// "sum of observed SC successes equals 20000" invariant holds by
// construction once both CPUs halt with their counters at zero; what this
// test verifies directly is that no update was lost: the final value is
// exactly 20000, not less.
func TestLLSCContention(t *testing.T) {
	sys := newTestSystem(t, 2)
	const (
		addr    = 0x00300000
		progA   = 0x00301000
		progB   = 0x00302000
		trials  = 10000
	)

	loadProgram(sys, progA, llscProgram())
	loadProgram(sys, progB, llscProgram())

	var zero [4]byte
	sys.Bus.WriteLine(addr, zero[:])

	for _, cpu := range sys.CPUs {
		cpu.Reg[1] = addr
		cpu.Reg[5] = trials
	}
	sys.CPUs[0].PC = progA
	sys.CPUs[1].PC = progB

	halted := make(chan bool, 2)
	for _, cpu := range sys.CPUs {
		cpu := cpu
		go func() {
			halted <- runUntilHalted(cpu, sys.LSIC, 4*trials, 100000)
		}()
	}
	for i := 0; i < 2; i++ {
		if !<-halted {
			t.Fatal("a cpu did not halt within its round budget")
		}
	}

	var buf [4]byte
	if !sys.Bus.ReadLine(addr, buf[:]) {
		t.Fatal("final read failed")
	}
	final := binary.LittleEndian.Uint32(buf[:])
	if final != 2*trials {
		t.Errorf("final counter = %d, want %d", final, 2*trials)
	}
}
