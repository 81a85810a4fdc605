package serialio

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"mcuhal-go/platform"
	"mcuhal-go/uart"
)

// loopSetup wires a producer handle to a consumer Stream through the
// simulated board. send pushes bytes one frame at a time, pumping the
// interrupt dispatch after each so the one-deep latch never overruns.
func loopSetup(t *testing.T) (s *Stream, send func([]byte)) {
	t.Helper()
	b := platform.NewBoard()
	pa, pb := platform.NewPair(b.Clocks)
	cfg := uart.Config{BaudRate: 115200, Mode: uart.ModeTxRx}
	ha := &uart.Handle{Port: pa, Config: cfg}
	hb := &uart.Handle{Port: pb, Config: cfg}
	if err := ha.Init(); err != nil {
		t.Fatalf("Init a: %v", err)
	}
	if err := hb.Init(); err != nil {
		t.Fatalf("Init b: %v", err)
	}
	b.AttachUART(hb, pb)

	s, err := New(hb, 256)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	send = func(data []byte) {
		for _, c := range data {
			// Errorf: send runs from helper goroutines in some tests.
			if err := ha.Transmit([]byte{c}, time.Second); err != nil {
				t.Errorf("Transmit: %v", err)
				return
			}
			b.Pump(10)
		}
	}
	return s, send
}

func TestStreamBuffersAndDrains(t *testing.T) {
	s, send := loopSetup(t)
	send([]byte("hello"))

	if got := s.Buffered(); got != 5 {
		t.Fatalf("Buffered = %d, want 5", got)
	}
	buf := make([]byte, 8)
	n := s.TryRead(buf)
	if n != 5 || !bytes.Equal(buf[:5], []byte("hello")) {
		t.Fatalf("TryRead = %d %q, want 5 %q", n, buf[:n], "hello")
	}
	if _, err := s.ReadByte(); err != ErrEmpty {
		t.Fatalf("ReadByte on empty = %v, want ErrEmpty", err)
	}
}

func TestStreamReadByte(t *testing.T) {
	s, send := loopSetup(t)
	send([]byte{0x7E})
	b, err := s.ReadByte()
	if err != nil || b != 0x7E {
		t.Fatalf("ReadByte = %#x, %v", b, err)
	}
}

func TestStreamBlockingReadUnblocksOnData(t *testing.T) {
	s, send := loopSetup(t)

	go func() {
		time.Sleep(20 * time.Millisecond)
		send([]byte("x"))
	}()

	buf := make([]byte, 4)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n, err := s.RecvSomeContext(ctx, buf)
	if err != nil {
		t.Fatalf("RecvSomeContext: %v", err)
	}
	if n != 1 || buf[0] != 'x' {
		t.Fatalf("read %d %q, want 1 %q", n, buf[:n], "x")
	}
}

func TestStreamReadContextCancel(t *testing.T) {
	s, _ := loopSetup(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s.RecvSomeContext(ctx, make([]byte, 1)); err != context.DeadlineExceeded {
		t.Fatalf("RecvSomeContext = %v, want DeadlineExceeded", err)
	}
}

func TestStreamCloseDrainsThenEOF(t *testing.T) {
	s, send := loopSetup(t)
	send([]byte("zz"))
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	buf := make([]byte, 4)
	n, err := s.Read(buf)
	if err != nil || n != 2 {
		t.Fatalf("Read after close = %d, %v; want buffered bytes first", n, err)
	}
	if _, err := s.Read(buf); err != io.EOF {
		t.Fatalf("Read on drained closed stream = %v, want EOF", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestStreamWriteRoundTrip(t *testing.T) {
	b := platform.NewBoard()
	port := platform.NewLoopback(b.Clocks)
	h := &uart.Handle{Port: port, Config: uart.Config{BaudRate: 115200, Mode: uart.ModeTxRx}}
	if err := h.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	b.AttachUART(h, port)

	s, err := New(h, 64)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s.Write([]byte("q")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	b.Pump(10)

	got, err := s.ReadByte()
	if err != nil || got != 'q' {
		t.Fatalf("ReadByte = %q, %v", got, err)
	}
}

// stallPort is a register block whose transmitter drains only when
// the test says so, keeping a blocking Transmit (and the handle's
// advisory lock) in flight as long as needed.
type stallPort struct {
	mu     sync.Mutex
	flags  uart.Flag
	irqs   uart.IRQ
	rxData uint16
	rxFull bool
}

func (p *stallPort) Enable()  {}
func (p *stallPort) Disable() {}

func (p *stallPort) Apply(uart.Config, uart.LineSetup) error { return nil }

func (p *stallPort) SendBreak()                       {}
func (p *stallPort) SetMute(bool)                     {}
func (p *stallPort) SetDirection(uart.Direction)      {}
func (p *stallPort) SetRequest(uart.Request, bool)    {}
func (p *stallPort) RequestEnabled(uart.Request) bool { return false }
func (p *stallPort) WriteData(uint16)                 {}

func (p *stallPort) Flags() uart.Flag {
	p.mu.Lock()
	defer p.mu.Unlock()
	f := p.flags
	if p.rxFull {
		f |= uart.FlagRxNotEmpty
	}
	return f
}

func (p *stallPort) ClearFlag(f uart.Flag) {
	p.mu.Lock()
	p.flags &^= f
	p.mu.Unlock()
}

func (p *stallPort) EnableIRQ(i uart.IRQ) {
	p.mu.Lock()
	p.irqs |= i
	p.mu.Unlock()
}

func (p *stallPort) DisableIRQ(i uart.IRQ) {
	p.mu.Lock()
	p.irqs &^= i
	p.mu.Unlock()
}

func (p *stallPort) IRQs() uart.IRQ {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.irqs
}

func (p *stallPort) ReadData() uint16 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rxFull = false
	return p.rxData
}

func (p *stallPort) push(b byte) {
	p.mu.Lock()
	p.rxData = uint16(b)
	p.rxFull = true
	p.mu.Unlock()
}

func (p *stallPort) releaseTx() {
	p.mu.Lock()
	p.flags |= uart.FlagTxEmpty | uart.FlagTxComplete
	p.mu.Unlock()
}

// A receive completing while a blocking Write holds the advisory lock
// cannot re-arm immediately; the stream must retry instead of going
// deaf with RXNE disabled.
func TestRearmRetriesAfterBlockedWrite(t *testing.T) {
	p := &stallPort{}
	h := &uart.Handle{Port: p, Config: uart.Config{BaudRate: 115200, Mode: uart.ModeTxRx}}
	if err := h.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	s, err := New(h, 64)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.WriteTimeout = 5 * time.Second

	wrote := make(chan error, 1)
	go func() {
		_, err := s.Write([]byte{'w'})
		wrote <- err
	}()
	time.Sleep(20 * time.Millisecond) // writer is polling TXE with the lock held

	// A byte lands mid-write: buffered, but the re-arm is rejected.
	p.push('1')
	h.IRQHandler()
	if got := s.Buffered(); got != 1 {
		t.Fatalf("Buffered = %d, want 1", got)
	}

	p.releaseTx()
	if err := <-wrote; err != nil {
		t.Fatalf("Write: %v", err)
	}

	// Write's exit retried the re-arm, so the next byte must land too.
	p.push('2')
	h.IRQHandler()

	buf := make([]byte, 4)
	if n := s.TryRead(buf); n != 2 || !bytes.Equal(buf[:2], []byte("12")) {
		t.Fatalf("TryRead = %d %q, want 2 %q", n, buf[:n], "12")
	}
	if _, rx := h.State(); rx != uart.StateBusy {
		t.Fatal("receive not re-armed after the retry")
	}
}

func TestLineWatcherFraming(t *testing.T) {
	s, send := loopSetup(t)
	w := WatchLines(s, LineOptions{Idle: time.Second})
	defer w.Stop()

	send([]byte("alpha\r\nbeta\n"))

	want := []string{"alpha", "beta"}
	for _, exp := range want {
		select {
		case got := <-w.Lines():
			if got != exp {
				t.Fatalf("line = %q, want %q", got, exp)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %q", exp)
		}
	}
}

func TestLineWatcherIdleFlush(t *testing.T) {
	s, send := loopSetup(t)
	w := WatchLines(s, LineOptions{Idle: 100 * time.Millisecond})
	defer w.Stop()

	send([]byte("partial")) // no terminator

	select {
	case got := <-w.Lines():
		if got != "partial" {
			t.Fatalf("line = %q, want %q", got, "partial")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("idle flush never happened")
	}
}

func TestLineWatcherMaxLen(t *testing.T) {
	s, send := loopSetup(t)
	w := WatchLines(s, LineOptions{MaxLen: 16, Idle: time.Hour})
	defer w.Stop()

	long := bytes.Repeat([]byte("a"), 20)
	send(long)

	select {
	case got := <-w.Lines():
		if len(got) != 16 {
			t.Fatalf("line length = %d, want 16", len(got))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("max-length flush never happened")
	}
}
