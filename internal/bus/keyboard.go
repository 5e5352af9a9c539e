package bus

import (
	"sync"

	"github.com/eiannone/keyboard"

	"xrsim/internal/lsic"
)

const (
	kbdStatusPort = 0x25 // KBSR-equivalent: bit 15 set when a key is pending
	kbdDataPort   = 0x26 // KBDR-equivalent: the pending scan code

	kbdInterruptSource = 6

	kbdStatusReady = 1 << 15
)

// Keyboard polls the host keyboard on a background goroutine (the teacher's
// synchronous keyboard.GetSingleKey-per-read doesn't fit an interrupt-driven
// bus, so the blocking read moves to its own goroutine and only posts a
// ready bit + scan code, mirroring the KBSR/KBDR pair from
// internal/lc3/memory.go's MemoryRead).
type Keyboard struct {
	mu      sync.Mutex
	ctrl    *lsic.Controller
	pending bool
	code    uint16
	stop    chan struct{}
}

func NewKeyboard(ctrl *lsic.Controller) *Keyboard {
	return &Keyboard{ctrl: ctrl, stop: make(chan struct{})}
}

func (k *Keyboard) AttachPorts(board *Board) {
	board.AttachPort(kbdStatusPort, kbdStatus{k})
	board.AttachPort(kbdDataPort, kbdData{k})
}

// Run starts the polling goroutine; callers stop it by calling Close.
func (k *Keyboard) Run() {
	go func() {
		for {
			select {
			case <-k.stop:
				return
			default:
			}
			ch, _, err := keyboard.GetSingleKey()
			if err != nil {
				return
			}
			k.mu.Lock()
			k.pending = true
			k.code = uint16(ch)
			k.mu.Unlock()
			k.ctrl.Interrupt(kbdInterruptSource)
		}
	}()
}

func (k *Keyboard) Close() { close(k.stop) }

func (k *Keyboard) Reset() {
	k.mu.Lock()
	k.pending = false
	k.code = 0
	k.mu.Unlock()
}

type kbdStatus struct{ k *Keyboard }

func (s kbdStatus) ReadPort(length uint32) (uint32, bool, bool) {
	s.k.mu.Lock()
	defer s.k.mu.Unlock()
	if s.k.pending {
		return kbdStatusReady, true, false
	}
	// Nothing pending: this is the polling-looking "keyboard empty" read
	// spec.md §4.7 throttles via the owning CPU's progress counter.
	return 0, true, true
}

func (s kbdStatus) WritePort(length uint32, value uint32) bool { return true }

type kbdData struct{ k *Keyboard }

func (d kbdData) ReadPort(length uint32) (uint32, bool, bool) {
	d.k.mu.Lock()
	defer d.k.mu.Unlock()
	v := uint32(d.k.code)
	d.k.pending = false
	return v, true, false
}

func (d kbdData) WritePort(length uint32, value uint32) bool { return true }
