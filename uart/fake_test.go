package uart

import (
	"mcuhal-go/dma"
)

// fakePort is a scriptable register block. RxNotEmpty is derived from
// the pending receive queue so per-unit reads behave like hardware.
type fakePort struct {
	enabled  bool
	applyErr error
	applies  int
	cfg      Config
	line     LineSetup

	flags Flag
	irqs  IRQ
	reqs  [2]bool

	txLog   []uint16
	rxQueue []uint16

	disabledLog IRQ

	breaks int
	mute   bool
	dir    Direction
}

func (p *fakePort) Enable()  { p.enabled = true }
func (p *fakePort) Disable() { p.enabled = false }

func (p *fakePort) Apply(cfg Config, line LineSetup) error {
	p.applies++
	p.cfg, p.line = cfg, line
	return p.applyErr
}

func (p *fakePort) Flags() Flag {
	f := p.flags
	if len(p.rxQueue) > 0 {
		f |= FlagRxNotEmpty
	}
	return f
}
func (p *fakePort) ClearFlag(f Flag) { p.flags &^= f }

func (p *fakePort) EnableIRQ(i IRQ) { p.irqs |= i }
func (p *fakePort) DisableIRQ(i IRQ) {
	p.irqs &^= i
	p.disabledLog |= i
}
func (p *fakePort) IRQs() IRQ { return p.irqs }

func (p *fakePort) SetRequest(r Request, on bool) { p.reqs[r] = on }
func (p *fakePort) RequestEnabled(r Request) bool { return p.reqs[r] }

func (p *fakePort) WriteData(v uint16) { p.txLog = append(p.txLog, v) }
func (p *fakePort) ReadData() uint16 {
	if len(p.rxQueue) == 0 {
		return 0
	}
	v := p.rxQueue[0]
	p.rxQueue = p.rxQueue[1:]
	return v
}

func (p *fakePort) SendBreak()               { p.breaks++ }
func (p *fakePort) SetMute(m bool)           { p.mute = m }
func (p *fakePort) SetDirection(d Direction) { p.dir = d }

func (p *fakePort) push(bs ...byte) {
	for _, b := range bs {
		p.rxQueue = append(p.rxQueue, uint16(b))
	}
}

// fakeMover never moves anything; tests drive the channel's
// notification methods by hand.
type fakeMover struct {
	startErr error
	abortErr error
	asyncErr error
	starts   int
	aborts   int
	asyncs   int
}

func (m *fakeMover) Start(ch *dma.Channel, buf []byte, count int) error {
	m.starts++
	return m.startErr
}
func (m *fakeMover) Abort(ch *dma.Channel) error {
	m.aborts++
	return m.abortErr
}
func (m *fakeMover) AbortAsync(ch *dma.Channel) error {
	m.asyncs++
	return m.asyncErr
}

func testConfig() Config {
	return Config{
		BaudRate:   115200,
		WordLength: WordLength8,
		StopBits:   StopBits1,
		Parity:     ParityNone,
		Mode:       ModeTxRx,
	}
}

func newTestHandle() (*Handle, *fakePort) {
	p := &fakePort{}
	h := &Handle{Port: p, Config: testConfig()}
	if err := h.Init(); err != nil {
		panic(err)
	}
	return h, p
}

func newDMAHandle() (*Handle, *fakePort, *fakeMover, *fakeMover) {
	h, p := newTestHandle()
	mt := &fakeMover{}
	mr := &fakeMover{}
	h.DMATx = &dma.Channel{Mover: mt, Direction: dma.MemToPeriph}
	h.DMARx = &dma.Channel{Mover: mr, Direction: dma.PeriphToMem}
	return h, p, mt, mr
}
