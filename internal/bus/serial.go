package bus

import (
	"io"
	"sync"

	"xrsim/internal/lsic"
)

const (
	serialCmdBase  = 0x10 // citron port base for SERIALCMD per-port pair
	receiveBufSize = 32
)

// serialCommand values written to the CMD port (spec.md's serial device,
// grounded on serial.c's SERIALCMDDOINT/SERIALCMDDONTINT).
const (
	serialCmdDoInterrupts   = 3
	serialCmdDontInterrupts = 4
)

// Serial is one of the platform's two UART-like ports: a command port that
// toggles interrupt delivery, and a data port for byte-at-a-time TX/RX.
type Serial struct {
	mu sync.Mutex

	number       int
	ctrl         *lsic.Controller
	out          io.Writer
	doInterrupts bool

	receiveBuf               [receiveBufSize]byte
	receiveHead, receiveTail int
	receiveCount             int
}

// NewSerial builds port `number` (0 or 1), writing transmitted bytes to out
// and raising LSIC interrupt 0x4+number when a byte is received while
// interrupts are enabled.
func NewSerial(number int, ctrl *lsic.Controller, out io.Writer) *Serial {
	return &Serial{number: number, ctrl: ctrl, out: out}
}

// AttachPorts installs this port's CMD/DATA Citron ports on board.
func (s *Serial) AttachPorts(board *Board) {
	off := s.number * 2
	board.AttachPort(serialCmdBase+off, serialCmd{s})
	board.AttachPort(serialCmdBase+off+1, serialData{s})
}

// Push delivers one received byte from the host side (e.g. a terminal
// reader in cmd/xrsim), mirroring SerialInput.
func (s *Serial) Push(c byte) {
	s.mu.Lock()
	if s.receiveCount == receiveBufSize {
		s.mu.Unlock()
		return
	}
	s.receiveBuf[s.receiveHead] = c
	s.receiveHead = (s.receiveHead + 1) % receiveBufSize
	s.receiveCount++
	doInt := s.doInterrupts
	s.mu.Unlock()

	if doInt {
		s.ctrl.Interrupt(0x4 + s.number)
	}
}

func (s *Serial) Reset() {
	s.mu.Lock()
	s.doInterrupts = false
	s.mu.Unlock()
}

type serialCmd struct{ s *Serial }

func (c serialCmd) ReadPort(length uint32) (uint32, bool, bool) { return 0, true, false }

func (c serialCmd) WritePort(length uint32, value uint32) bool {
	c.s.mu.Lock()
	switch value {
	case serialCmdDoInterrupts:
		c.s.doInterrupts = true
	case serialCmdDontInterrupts:
		c.s.doInterrupts = false
	}
	c.s.mu.Unlock()
	return true
}

type serialData struct{ s *Serial }

func (d serialData) ReadPort(length uint32) (uint32, bool, bool) {
	s := d.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.receiveCount == 0 {
		// No data pending, matches SerialReadData's idle sentinel; this is
		// the "serial receive empty" polling read spec.md §4.7 throttles.
		return 0xFFFF, true, true
	}
	v := uint32(s.receiveBuf[s.receiveTail])
	s.receiveTail = (s.receiveTail + 1) % receiveBufSize
	s.receiveCount--
	return v, true, false
}

func (d serialData) WritePort(length uint32, value uint32) bool {
	_, err := d.s.out.Write([]byte{byte(value)})
	return err == nil
}
