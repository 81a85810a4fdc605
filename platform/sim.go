// Package platform provides a host-simulated board: a loopback UART
// register block, a goroutine-paced DMA mover, simulated pins and a
// window watchdog model. Demos and integration-style tests run the
// same driver code against these that targets run against hardware.
package platform

import (
	"sync"

	"mcuhal-go/errcode"
	"mcuhal-go/gpio"
	"mcuhal-go/rcc"
	"mcuhal-go/uart"
	"mcuhal-go/wdg"
)

// minDivisor is the smallest clock/baud ratio the simulated block
// accepts, matching 16x oversampling.
const minDivisor = 16

// SimPort is a simulated UART register block. Transmitted frames land
// in the peer's one-deep receive latch (or its own when self-wired);
// a frame arriving on a full latch raises the overrun flag, exactly
// the failure mode the driver's blocking-error path handles.
type SimPort struct {
	Clocks rcc.Clocks

	mu      sync.Mutex
	peer    *SimPort
	enabled bool
	cfg     uart.Config
	line    uart.LineSetup

	flags  uart.Flag // sticky flags: TC, idle, errors
	irqs   uart.IRQ
	reqs   [2]bool
	rxData uint16
	rxFull bool

	mute   bool
	dir    uart.Direction
	breaks int

	txLog []uint16
}

// NewLoopback returns a port wired to itself: every transmitted frame
// comes back on its own receiver.
func NewLoopback(clk rcc.Clocks) *SimPort {
	p := &SimPort{Clocks: clk}
	p.peer = p
	return p
}

// NewPair returns two cross-wired ports.
func NewPair(clk rcc.Clocks) (*SimPort, *SimPort) {
	a := &SimPort{Clocks: clk}
	b := &SimPort{Clocks: clk}
	a.peer, b.peer = b, a
	return a, b
}

func (p *SimPort) Enable() {
	p.mu.Lock()
	p.enabled = true
	p.mu.Unlock()
}

func (p *SimPort) Disable() {
	p.mu.Lock()
	p.enabled = false
	p.mu.Unlock()
}

func (p *SimPort) Apply(cfg uart.Config, line uart.LineSetup) error {
	if cfg.BaudRate == 0 {
		return errcode.InvalidParams
	}
	if p.Clocks != nil {
		if hz := p.Clocks.Hz(rcc.APB1); hz/cfg.BaudRate < minDivisor {
			return errcode.Unsupported
		}
	}
	p.mu.Lock()
	p.cfg, p.line = cfg, line
	p.mu.Unlock()
	return nil
}

func (p *SimPort) Flags() uart.Flag {
	p.mu.Lock()
	defer p.mu.Unlock()
	f := p.flags | uart.FlagTxEmpty // the simulated shift register never backs up
	if p.rxFull {
		f |= uart.FlagRxNotEmpty
	}
	return f
}

func (p *SimPort) ClearFlag(f uart.Flag) {
	p.mu.Lock()
	p.flags &^= f
	p.mu.Unlock()
}

func (p *SimPort) EnableIRQ(i uart.IRQ) {
	p.mu.Lock()
	p.irqs |= i
	p.mu.Unlock()
}

func (p *SimPort) DisableIRQ(i uart.IRQ) {
	p.mu.Lock()
	p.irqs &^= i
	p.mu.Unlock()
}

func (p *SimPort) IRQs() uart.IRQ {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.irqs
}

func (p *SimPort) SetRequest(r uart.Request, on bool) {
	p.mu.Lock()
	p.reqs[r] = on
	p.mu.Unlock()
}

func (p *SimPort) RequestEnabled(r uart.Request) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reqs[r]
}

func (p *SimPort) WriteData(v uint16) {
	p.mu.Lock()
	p.txLog = append(p.txLog, v)
	p.flags |= uart.FlagTxComplete
	peer := p.peer
	p.mu.Unlock()
	if peer != nil {
		peer.deliver(v, 0)
	}
}

// deliver places a frame in the receive latch, raising overrun when
// the previous frame was never read.
func (p *SimPort) deliver(v uint16, fault uart.Flag) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mute {
		return
	}
	p.flags |= fault
	if p.rxFull {
		p.flags |= uart.FlagOverrun
		return
	}
	p.rxData = v
	p.rxFull = true
}

func (p *SimPort) ReadData() uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	v := p.rxData
	p.rxFull = false
	return v
}

// SendBreak delivers an all-zero frame with a framing fault, which is
// what a break looks like to the far receiver.
func (p *SimPort) SendBreak() {
	p.mu.Lock()
	p.breaks++
	peer := p.peer
	p.mu.Unlock()
	if peer != nil {
		peer.deliver(0, uart.FlagFramingErr)
	}
}

func (p *SimPort) SetMute(m bool) {
	p.mu.Lock()
	p.mute = m
	p.mu.Unlock()
}

func (p *SimPort) SetDirection(d uart.Direction) {
	p.mu.Lock()
	p.dir = d
	p.mu.Unlock()
}

// InjectFault raises error flags as if the line glitched.
func (p *SimPort) InjectFault(f uart.Flag) {
	p.mu.Lock()
	p.flags |= f
	p.mu.Unlock()
}

// TxLog returns a copy of everything transmitted so far.
func (p *SimPort) TxLog() []uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]uint16, len(p.txLog))
	copy(out, p.txLog)
	return out
}

// Breaks returns the number of break frames sent.
func (p *SimPort) Breaks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.breaks
}

// pendingIRQ reports whether any enabled interrupt condition is live,
// the simulated equivalent of the NVIC line being asserted.
func (p *SimPort) pendingIRQ() bool {
	f := p.Flags()
	i := p.IRQs()
	switch {
	case f&uart.FlagErrMask != 0 && i&(uart.IRQError|uart.IRQRxNotEmpty|uart.IRQParity) != 0:
		return true
	case f&uart.FlagRxNotEmpty != 0 && i&uart.IRQRxNotEmpty != 0:
		return true
	case f&uart.FlagIdle != 0 && i&uart.IRQIdle != 0:
		return true
	case f&uart.FlagTxEmpty != 0 && i&uart.IRQTxEmpty != 0:
		return true
	case f&uart.FlagTxComplete != 0 && i&uart.IRQTxComplete != 0:
		return true
	}
	return false
}

// SimPin is a simulated GPIO line.
type SimPin struct {
	mu    sync.Mutex
	cfg   gpio.Config
	state bool
}

func (p *SimPin) Configure(c gpio.Config) error {
	p.mu.Lock()
	p.cfg = c
	p.mu.Unlock()
	return nil
}

func (p *SimPin) Set(high bool) {
	p.mu.Lock()
	p.state = high
	p.mu.Unlock()
}

func (p *SimPin) Get() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *SimPin) Toggle() {
	p.mu.Lock()
	p.state = !p.state
	p.mu.Unlock()
}

// SimWatchdog models the window watchdog downcounter. Tick steps it;
// refreshing above the window, or underflow, latches ResetFired.
type SimWatchdog struct {
	mu         sync.Mutex
	cfg        wdg.Config
	counter    uint8
	running    bool
	ewiPending bool
	resetFired bool
}

func (w *SimWatchdog) Program(c wdg.Config) {
	w.mu.Lock()
	w.cfg = c
	w.counter = c.Counter
	w.running = true
	w.mu.Unlock()
}

func (w *SimWatchdog) Refresh(counter uint8) {
	w.mu.Lock()
	if w.running && w.counter > w.cfg.Window {
		w.resetFired = true
	}
	w.counter = counter
	w.mu.Unlock()
}

func (w *SimWatchdog) EarlyWakeupPending() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ewiPending
}

func (w *SimWatchdog) ClearEarlyWakeup() {
	w.mu.Lock()
	w.ewiPending = false
	w.mu.Unlock()
}

// Tick advances the downcounter by one.
func (w *SimWatchdog) Tick() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.counter--
	if w.counter == wdg.CounterMin && w.cfg.EarlyWakeup {
		w.ewiPending = true
	}
	if w.counter < wdg.CounterMin {
		w.resetFired = true
		w.running = false
	}
	w.mu.Unlock()
}

// ResetFired reports whether the watchdog would have reset the system.
func (w *SimWatchdog) ResetFired() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.resetFired
}
