// Package system is the LIMNstation composition root: it owns the bus, the
// LSIC set, the per-CPU cores, the scheduler, and the peripheral set, and
// drives the wall-clock tick loop that the original's main.c ran inline
// (spec.md §4.8, grounded on src/main.c's per-tick RTCInterval/DKSOperation/
// SerialInterval/CPUDoCycles sequence, minus its SDL rendering/input loop).
package system

import (
	"log"

	"xrsim/internal/bus"
	"xrsim/internal/lsic"
	"xrsim/internal/scheduler"
	"xrsim/internal/xr"
)

// CPUHzDefault is the nominal clock rate each CPU's cycle budget is derived
// from (CPUHZDEFAULT).
const CPUHzDefault = 25_000_000

// TicksPerSecond is the wall-clock tick rate the frame driver runs at
// (main.c's FPS*TPF, collapsed to one tick == one frame here since this
// core has no independent "ticks per frame" redraw granularity to honor).
const TicksPerSecond = 60

// MaxCPUs mirrors XR_PROC_MAX: the scheduler never owns more worker
// threads than this regardless of the CPU count requested.
const MaxCPUs = 8

// System owns every shared piece of LIMNstation state: the bus, the LSIC
// table, one CPU per configured core, and the peripheral set.
type System struct {
	Bus   *bus.Bus
	Board *bus.Board
	LSIC  *lsic.Controller
	CPUs  []*xr.CPU

	RAM         *bus.RAM
	Framebuffer *bus.Framebuffer
	Serials     [2]*bus.Serial
	RTC         *bus.RTC
	Mouse       *bus.Mouse
	Keyboard    *bus.Keyboard

	sched *scheduler.Scheduler
	work  []*scheduler.Schedulable

	hz int
}

// Config describes how to build a System.
type Config struct {
	CPUCount   int
	MemorySize int
	HzPerCPU   int
	BootROM    []byte
	Console    bool // true wires a Keyboard that polls the host terminal
}

// New wires a System per cfg. CPUCount is clamped to [1, MaxCPUs].
func New(cfg Config) *System {
	n := cfg.CPUCount
	if n < 1 {
		n = 1
	}
	if n > MaxCPUs {
		n = MaxCPUs
	}
	hz := cfg.HzPerCPU
	if hz <= 0 {
		hz = CPUHzDefault
	}

	s := &System{hz: hz}

	s.Bus = bus.New()
	s.RAM = bus.NewRAM(cfg.MemorySize)
	s.RAM.Attach(s.Bus)

	s.LSIC = lsic.NewController(n, s.wake)
	s.Board = bus.NewBoard(s.Bus, s.LSIC)
	s.Bus.Attach(31, s.Board)

	s.Framebuffer = bus.NewFramebuffer()
	s.Bus.Attach(24, s.Framebuffer)
	if len(cfg.BootROM) > 0 {
		s.Board.LoadROM(cfg.BootROM)
	}

	s.Serials[0] = bus.NewSerial(0, s.LSIC, logWriter{})
	s.Serials[1] = bus.NewSerial(1, s.LSIC, logWriter{})
	s.Serials[0].AttachPorts(s.Board)
	s.Serials[1].AttachPorts(s.Board)

	s.RTC = bus.NewRTC(s.LSIC)
	s.RTC.AttachPorts(s.Board)

	s.Mouse = bus.NewMouse(s.LSIC)
	s.Mouse.AttachPorts(s.Board)

	if cfg.Console {
		s.Keyboard = bus.NewKeyboard(s.LSIC)
		s.Keyboard.AttachPorts(s.Board)
	}

	scache := xr.NewScache()
	s.CPUs = make([]*xr.CPU, n)
	for i := range s.CPUs {
		s.CPUs[i] = xr.NewCPU(i, scache, s.Bus)
		s.LSIC.Enable(i)
	}

	s.sched = scheduler.New(n)
	s.work = make([]*scheduler.Schedulable, n)
	for i, cpu := range s.CPUs {
		s.work[i] = scheduler.NewSchedulable(nil, nil, cpu)
	}

	return s
}

// Start launches the scheduler's worker pool.
func (s *System) Start() { s.sched.Start() }

// Stop halts the scheduler's worker pool.
func (s *System) Stop() { s.sched.Stop() }

// Reset reinitializes every CPU, the bus (which cascades to every
// branch's Reset, including the board), the serial/RTC/mouse/keyboard
// devices, and the LSIC.
func (s *System) Reset() {
	for _, cpu := range s.CPUs {
		cpu.Reset()
	}
	s.Bus.Reset()
	for _, sp := range s.Serials {
		sp.Reset()
	}
	s.RTC.Reset()
	s.Mouse.Reset()
	if s.Keyboard != nil {
		s.Keyboard.Reset()
	}
	s.LSIC.Reset()
}

// Tick advances the system by dtMS milliseconds of wall-clock time: it
// advances the RTC interval timer, computes each CPU's cycle
// budget for this tick, and hands the tick's work to the scheduler,
// blocking until every CPU's timeslice completes (main.c's per-tick
// RTCInterval/DKSOperation/SerialInterval/CPUDoCycles sequence).
func (s *System) Tick(dtMS int) {
	if dtMS <= 0 {
		dtMS = 1
	}

	s.RTC.Tick(uint32(dtMS))

	cyclesPerCPU := s.hz * dtMS / 1000
	if cyclesPerCPU <= 0 {
		cyclesPerCPU = 1
	}

	done := make(chan struct{}, len(s.CPUs))
	for i, cpu := range s.CPUs {
		cpu := cpu
		w := s.work[i]
		w.Func = func(w *scheduler.Schedulable) {
			cpu.RunTimeslice(cyclesPerCPU, s.LSIC)
			done <- struct{}{}
		}
		s.sched.ScheduleForAny(w)
	}
	for range s.CPUs {
		<-done
	}
}

// wake is the LSIC's broadcast-on-assert callback (spec.md §4.2): in this
// cooperative, pull-based dispatch loop there is no blocked worker to
// actually wake, so it is a deliberate no-op kept for parity with the
// original's XrPokeCpu hook point and as a home for future preemptive
// scheduling.
func (s *System) wake(cpu int) {}

type logWriter struct{}

func (logWriter) Write(p []byte) (int, error) {
	log.Printf("serial: %s", p)
	return len(p), nil
}
