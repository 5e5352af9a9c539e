package bus

import (
	"sync"
	"time"

	"xrsim/internal/lsic"
)

const (
	rtcCmdPort   = 0x20
	rtcPortAPort = 0x21

	rtcCmdSetInterval = 1
	rtcCmdGetEpoch    = 2
	rtcCmdGetEpochMS  = 3
	rtcCmdSetEpoch    = 4

	rtcInterruptSource = 2
)

// RTC is the platform real-time clock: a command port plus a scratch data
// register (PortA) used to pass arguments/results, and a periodic interval
// timer that raises LSIC interrupt 2 (grounded on rtc.c; file-backed NVRAM
// offset persistence is out of scope here, see SPEC_FULL.md).
type RTC struct {
	mu sync.Mutex

	ctrl *lsic.Controller

	portA          uint32
	epochOffset    int64
	intervalMS     uint32
	intervalAccMS  uint32
}

func NewRTC(ctrl *lsic.Controller) *RTC { return &RTC{ctrl: ctrl} }

func (r *RTC) AttachPorts(board *Board) {
	board.AttachPort(rtcCmdPort, rtcCmd{r})
	board.AttachPort(rtcPortAPort, rtcPortA{r})
}

// Tick advances the interval timer by dt milliseconds of wall-clock time,
// raising the RTC interrupt when the configured interval elapses (spec.md
// §4.2's periodic-interrupt-sampling step, grounded on RTCInterval).
func (r *RTC) Tick(dtMS uint32) {
	r.mu.Lock()
	fire := false
	if r.intervalMS != 0 {
		r.intervalAccMS += dtMS
		if r.intervalAccMS >= r.intervalMS {
			r.intervalAccMS -= r.intervalMS
			fire = true
		}
	}
	r.mu.Unlock()

	if fire {
		r.ctrl.Interrupt(rtcInterruptSource)
	}
}

func (r *RTC) Reset() {
	r.mu.Lock()
	r.intervalMS = 0
	r.intervalAccMS = 0
	r.portA = 0
	r.mu.Unlock()
}

type rtcCmd struct{ r *RTC }

func (c rtcCmd) ReadPort(length uint32) (uint32, bool, bool) { return 0, true, false }

func (c rtcCmd) WritePort(length uint32, value uint32) bool {
	r := c.r
	r.mu.Lock()
	defer r.mu.Unlock()
	switch value {
	case rtcCmdSetInterval:
		r.intervalMS = r.portA
		r.intervalAccMS = 0
	case rtcCmdGetEpoch:
		r.portA = uint32(time.Now().Unix() + r.epochOffset)
	case rtcCmdGetEpochMS:
		r.portA = uint32(time.Now().Nanosecond() / 1_000_000)
	case rtcCmdSetEpoch:
		r.epochOffset = int64(r.portA) - time.Now().Unix()
	default:
		return false
	}
	return true
}

type rtcPortA struct{ r *RTC }

// ReadPort always reports polled=true: spec.md §4.7 names "RTC port A read"
// unconditionally as a progress-throttled polling access, unlike the
// keyboard/serial/mouse ports which only throttle on an empty read.
func (p rtcPortA) ReadPort(length uint32) (uint32, bool, bool) {
	p.r.mu.Lock()
	defer p.r.mu.Unlock()
	return p.r.portA, true, true
}

func (p rtcPortA) WritePort(length uint32, value uint32) bool {
	p.r.mu.Lock()
	p.r.portA = value
	p.r.mu.Unlock()
	return true
}
