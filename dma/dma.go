// Package dma models a DMA channel as a handle over a Mover, the thing
// that actually moves bytes (hardware engine, or a simulator on host).
// Peripheral drivers own a Channel per direction and attach transfer
// callbacks; the mover reports completion and failure back through the
// channel's notification methods.
package dma

import (
	"sync"

	"mcuhal-go/errcode"
)

// Direction of a transfer relative to memory.
type Direction uint8

const (
	MemToPeriph Direction = iota
	PeriphToMem
	MemToMem
)

// State of a channel.
type State uint8

const (
	StateReset State = iota
	StateReady
	StateBusy
	StateAborting
)

// Error is a sticky bitmask of channel faults. Cleared on Start.
type Error uint32

const (
	ErrNone        Error = 0
	ErrTransfer    Error = 1 << 0
	ErrNoTransfer  Error = 1 << 1
	ErrTimeout     Error = 1 << 2
	ErrUnsupported Error = 1 << 3
)

// Mover performs the actual data movement for a channel. Start must be
// non-blocking; completion and failure arrive later via the channel's
// Complete/HalfComplete/Fail methods. Abort must stop the transfer and
// only return once no more notifications will fire. AbortAsync requests
// a stop and arranges for FinishAbort to be called when it lands.
type Mover interface {
	Start(ch *Channel, buf []byte, count int) error
	Abort(ch *Channel) error
	AbortAsync(ch *Channel) error
}

// Channel is one DMA stream bound to a peripheral direction.
//
// The On* callbacks are set by the owning driver before Start and are
// invoked by the notification methods with the channel as argument.
// Parent carries the owning handle so adapters can get back to it.
type Channel struct {
	Mover     Mover
	Direction Direction
	Circular  bool

	Parent any

	OnComplete     func(*Channel)
	OnHalfComplete func(*Channel)
	OnError        func(*Channel)
	OnAbort        func(*Channel)

	mu    sync.Mutex
	state State
	errs  Error
}

// State returns the channel state.
func (ch *Channel) State() State {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

// Err returns the sticky error mask from the last transfer.
func (ch *Channel) Err() Error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.errs
}

// Start begins moving count units through buf. Fails with Busy if a
// transfer is in flight.
func (ch *Channel) Start(buf []byte, count int) error {
	if ch.Mover == nil {
		return errcode.Unsupported
	}
	ch.mu.Lock()
	if ch.state == StateBusy || ch.state == StateAborting {
		ch.mu.Unlock()
		return errcode.Busy
	}
	ch.state = StateBusy
	ch.errs = ErrNone
	ch.mu.Unlock()

	if err := ch.Mover.Start(ch, buf, count); err != nil {
		ch.mu.Lock()
		ch.state = StateReady
		ch.errs |= ErrTransfer
		ch.mu.Unlock()
		return err
	}
	return nil
}

// Abort stops the transfer and blocks until the mover has quiesced.
// No callback fires. If the mover cannot stop in time the channel is
// forced Ready with ErrTimeout latched and Timeout is returned.
func (ch *Channel) Abort() error {
	ch.mu.Lock()
	if ch.state != StateBusy {
		ch.errs |= ErrNoTransfer
		ch.mu.Unlock()
		return errcode.NoTransfer
	}
	ch.mu.Unlock()

	if err := ch.Mover.Abort(ch); err != nil {
		ch.mu.Lock()
		ch.errs |= ErrTimeout
		ch.state = StateReady
		ch.mu.Unlock()
		return errcode.Timeout
	}
	ch.mu.Lock()
	ch.state = StateReady
	ch.mu.Unlock()
	return nil
}

// AbortAsync requests a stop and returns immediately. When the mover
// has quiesced it calls FinishAbort, which fires OnAbort. If no
// transfer is in flight the error is returned and nothing is armed.
func (ch *Channel) AbortAsync() error {
	ch.mu.Lock()
	if ch.state != StateBusy {
		ch.errs |= ErrNoTransfer
		ch.mu.Unlock()
		return errcode.NoTransfer
	}
	ch.state = StateAborting
	ch.mu.Unlock()

	if err := ch.Mover.AbortAsync(ch); err != nil {
		ch.mu.Lock()
		ch.state = StateReady
		ch.mu.Unlock()
		return err
	}
	return nil
}

// Complete is called by the mover when the transfer (or one lap of a
// circular transfer) finishes. Non-circular channels go Ready first so
// the callback observes a quiescent channel.
func (ch *Channel) Complete() {
	ch.mu.Lock()
	if !ch.Circular {
		ch.state = StateReady
	}
	cb := ch.OnComplete
	ch.mu.Unlock()
	if cb != nil {
		cb(ch)
	}
}

// HalfComplete is called by the mover at the transfer midpoint.
func (ch *Channel) HalfComplete() {
	ch.mu.Lock()
	cb := ch.OnHalfComplete
	ch.mu.Unlock()
	if cb != nil {
		cb(ch)
	}
}

// Fail is called by the mover on a transfer fault. The transfer is
// considered dead; the channel goes Ready with e latched.
func (ch *Channel) Fail(e Error) {
	ch.mu.Lock()
	ch.errs |= e
	ch.state = StateReady
	cb := ch.OnError
	ch.mu.Unlock()
	if cb != nil {
		cb(ch)
	}
}

// FinishAbort is called by the mover once an AbortAsync has landed.
func (ch *Channel) FinishAbort() {
	ch.mu.Lock()
	ch.state = StateReady
	cb := ch.OnAbort
	ch.mu.Unlock()
	if cb != nil {
		cb(ch)
	}
}
