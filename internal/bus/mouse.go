package bus

import (
	"sync"

	"xrsim/internal/lsic"
)

const (
	mouseCmdPort = 0x22
	mouseAPort   = 0x23
	mouseBPort   = 0x24

	mouseActionRead  = 1
	mouseActionReset = 2

	mouseInterruptSource = 5
)

// Mouse is a minimal pointer device: host-side Press/Release/Moved calls
// latch an event, and the guest polls it off via the command port's "read
// info" action (grounded on mouse.c's MouseAction; the original multiplexes
// this through the Amtsu device bus, collapsed here to three direct Citron
// ports per SPEC_FULL.md's reduced device-model depth).
type Mouse struct {
	mu sync.Mutex

	ctrl *lsic.Controller

	pressedButton  uint32
	releasedButton uint32
	dx, dy         uint32
	moved          bool
	portA          uint32
	portB          uint32
}

func NewMouse(ctrl *lsic.Controller) *Mouse { return &Mouse{ctrl: ctrl} }

func (m *Mouse) AttachPorts(board *Board) {
	board.AttachPort(mouseCmdPort, mouseCmd{m})
	board.AttachPort(mouseAPort, mousePort{reg: &m.portA, isEvent: true})
	board.AttachPort(mouseBPort, mousePort{reg: &m.portB})
}

// Press/Release/Moved are called from the host input layer (cmd/xrsim).
func (m *Mouse) Press(button uint32) {
	m.mu.Lock()
	m.pressedButton = button
	m.mu.Unlock()
	m.ctrl.Interrupt(mouseInterruptSource)
}

func (m *Mouse) Release(button uint32) {
	m.mu.Lock()
	m.releasedButton = button
	m.mu.Unlock()
	m.ctrl.Interrupt(mouseInterruptSource)
}

func (m *Mouse) Moved(dx, dy int32) {
	m.mu.Lock()
	m.dx += uint32(dx)
	m.dy += uint32(dy)
	m.moved = true
	m.mu.Unlock()
	m.ctrl.Interrupt(mouseInterruptSource)
}

func (m *Mouse) Reset() {
	m.mu.Lock()
	m.pressedButton, m.releasedButton, m.dx, m.dy, m.moved = 0, 0, 0, 0, false
	m.portA, m.portB = 0, 0
	m.mu.Unlock()
}

type mouseCmd struct{ m *Mouse }

func (c mouseCmd) ReadPort(length uint32) (uint32, bool, bool) { return 0, true, false }

func (c mouseCmd) WritePort(length uint32, value uint32) bool {
	m := c.m
	m.mu.Lock()
	defer m.mu.Unlock()
	switch value {
	case mouseActionRead:
		switch {
		case m.pressedButton != 0:
			m.portA, m.portB = 1, m.pressedButton
			m.pressedButton = 0
		case m.releasedButton != 0:
			m.portA, m.portB = 2, m.releasedButton
			m.releasedButton = 0
		case m.moved:
			m.portA, m.portB = 3, (m.dx&0xFFFF)<<16|(m.dy&0xFFFF)
			m.dx, m.dy, m.moved = 0, 0, false
		default:
			m.portA = 0
		}
	case mouseActionReset:
		m.pressedButton, m.releasedButton, m.dx, m.dy, m.moved = 0, 0, 0, 0, false
	default:
		return false
	}
	return true
}

// mousePort serves portA/portB. isEvent marks portA, whose value is the
// "mouse event" code left by the command port's read action; a value of 0
// means no event arrived, which is the polling-looking read spec.md §4.7
// throttles (portB, the event's data word, never reports polled).
type mousePort struct {
	reg     *uint32
	isEvent bool
}

func (p mousePort) ReadPort(length uint32) (uint32, bool, bool) {
	return *p.reg, true, p.isEvent && *p.reg == 0
}

func (p mousePort) WritePort(length uint32, value uint32) bool { *p.reg = value; return true }
