// Package serialio adapts a uart.Handle to stream-style consumers: a
// software receive ring fed from interrupt context, a coalesced
// readability notification, context-based blocking reads and plain
// io.Reader/io.Writer entry points.
package serialio

import (
	"context"
	"io"
	"sync"
	"time"

	"mcuhal-go/errcode"
	"mcuhal-go/uart"
	"mcuhal-go/x/mathx"
)

// ErrEmpty is returned by non-blocking reads when no data is buffered.
const ErrEmpty = errcode.Code("rx_empty")

// Ring size bounds; requests outside are clamped and then rounded up
// to a power of two.
const (
	minRing = 64
	maxRing = 8192
)

// Stream owns the handle's receive path: it keeps a one-byte
// interrupt-driven receive permanently armed and copies each byte into
// the ring from the completion callback. Nothing else may start
// receives on the handle while a Stream is attached.
type Stream struct {
	h *uart.Handle

	mu     sync.Mutex
	buf    []byte
	mask   int
	r, w   int
	closed bool

	overflows int
	lineErrs  int

	// rearmPending is set when the one-byte receive could not be
	// re-armed (handle lock held by a concurrent Write); the next
	// stream entry point retries.
	rearmPending bool

	notify chan struct{}
	rxByte [1]byte

	// WriteTimeout bounds each Write call. Zero means wait forever.
	WriteTimeout time.Duration
}

// New attaches a Stream to an initialized handle and arms the receive
// path. size is the ring capacity hint.
func New(h *uart.Handle, size int) (*Stream, error) {
	n := 1
	for n < mathx.Clamp(size, minRing, maxRing) {
		n <<= 1
	}
	s := &Stream{
		h:      h,
		buf:    make([]byte, n),
		mask:   n - 1,
		notify: make(chan struct{}, 1),
	}
	if err := h.RegisterCallback(uart.CallbackRxComplete, s.onRxComplete); err != nil {
		return nil, err
	}
	if err := h.RegisterCallback(uart.CallbackError, s.onError); err != nil {
		return nil, err
	}
	if err := h.ReceiveAsync(s.rxByte[:]); err != nil {
		return nil, err
	}
	return s, nil
}

// onRxComplete runs in interrupt context: push the byte, wake any
// waiter, re-arm.
func (s *Stream) onRxComplete(h *uart.Handle) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.w-s.r == len(s.buf) {
		s.overflows++ // newest byte lost
	} else {
		s.buf[s.w&s.mask] = s.rxByte[0]
		s.w++
	}
	s.mu.Unlock()

	s.wake()
	s.rearm()
}

// onError counts recoverable line errors and re-arms after a blocking
// teardown left the receive side idle.
func (s *Stream) onError(h *uart.Handle) {
	s.mu.Lock()
	closed := s.closed
	s.lineErrs++
	s.mu.Unlock()
	if closed {
		return
	}
	if _, rx := h.State(); rx == uart.StateReady {
		s.rearm()
	}
}

// rearm arms the one-byte receive. A failure (the advisory lock is
// held by a concurrent blocking call) is recorded, never dropped: the
// stream would otherwise go permanently deaf with RXNE disabled.
func (s *Stream) rearm() {
	s.mu.Lock()
	if s.closed {
		s.rearmPending = false
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	err := s.h.ReceiveAsync(s.rxByte[:])
	s.mu.Lock()
	s.rearmPending = err != nil
	s.mu.Unlock()
}

// retryRearm re-attempts a recorded re-arm failure once the receive
// side is idle again. Called from every stream entry point.
func (s *Stream) retryRearm() {
	s.mu.Lock()
	pending := s.rearmPending && !s.closed
	s.mu.Unlock()
	if !pending {
		return
	}
	if _, rx := s.h.State(); rx != uart.StateReady {
		return
	}
	s.rearm()
}

// wake publishes readability. Coalesced: a pending token is enough.
func (s *Stream) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Readable returns the coalesced notification channel. A receive from
// it means "the ring may have data"; always follow with TryRead.
func (s *Stream) Readable() <-chan struct{} { return s.notify }

// Buffered returns the number of bytes waiting in the ring.
func (s *Stream) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w - s.r
}

// Overflows returns how many received bytes were dropped on a full
// ring; Errors returns how many line errors the handle surfaced.
func (s *Stream) Overflows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overflows
}

func (s *Stream) Errors() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lineErrs
}

// ReadByte pops one byte without blocking.
func (s *Stream) ReadByte() (byte, error) {
	s.retryRearm()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.r == s.w {
		if s.closed {
			return 0, io.EOF
		}
		return 0, ErrEmpty
	}
	b := s.buf[s.r&s.mask]
	s.r++
	return b, nil
}

// TryRead copies up to len(p) buffered bytes without blocking.
func (s *Stream) TryRead(p []byte) int {
	s.retryRearm()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for n < len(p) && s.r != s.w {
		p[n] = s.buf[s.r&s.mask]
		s.r++
		n++
	}
	return n
}

// Read blocks until at least one byte is available, then returns what
// is buffered. Returns io.EOF once the stream is closed and drained.
func (s *Stream) Read(p []byte) (int, error) {
	return s.RecvSomeContext(context.Background(), p)
}

// RecvSomeContext is Read with a context bound on the wait.
func (s *Stream) RecvSomeContext(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		if n := s.TryRead(p); n > 0 {
			return n, nil
		}
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return 0, io.EOF
		}
		select {
		case <-s.notify:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// Write transmits p, blocking until it is on the wire.
func (s *Stream) Write(p []byte) (int, error) {
	timeout := s.WriteTimeout
	if timeout == 0 {
		timeout = uart.NoTimeout
	}
	err := s.h.Transmit(p, timeout)
	// A receive completion during the transmit could not re-arm while
	// the lock was held; pick it up now.
	s.retryRearm()
	if err != nil {
		return 0, err
	}
	return len(p), nil
}

// WriteByte transmits a single byte.
func (s *Stream) WriteByte(b byte) error {
	_, err := s.Write([]byte{b})
	return err
}

// Close detaches from the handle, aborts the armed receive and wakes
// any blocked reader. Buffered bytes stay readable until drained.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.h.AbortReceive()
	_ = s.h.UnregisterCallback(uart.CallbackRxComplete)
	_ = s.h.UnregisterCallback(uart.CallbackError)
	s.wake()
	return err
}
