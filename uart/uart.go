// Package uart drives a UART peripheral through a typed handle: blocking,
// interrupt-driven and DMA-driven transfers, interrupt dispatch with
// recoverable-vs-blocking error classification, and a layered abort
// protocol. The register block is reached through the Port seam so the
// same engine runs against hardware or a simulated board.
package uart

import (
	"sync"

	"mcuhal-go/dma"
	"mcuhal-go/errcode"
	"mcuhal-go/x/timex"
)

// NoTimeout means "wait forever" on blocking transfers.
const NoTimeout = timex.NoTimeout

// WordLength selects the frame data width.
type WordLength uint8

const (
	WordLength8 WordLength = iota
	WordLength9
)

// Parity selects the parity mode.
type Parity uint8

const (
	ParityNone Parity = iota
	ParityEven
	ParityOdd
)

// StopBits selects the stop bit count.
type StopBits uint8

const (
	StopBits1 StopBits = iota
	StopBits2
)

// Mode gates the transmitter and receiver.
type Mode uint8

const (
	ModeTxRx Mode = iota
	ModeTx
	ModeRx
)

// FlowControl selects hardware flow control lines.
type FlowControl uint8

const (
	FlowNone FlowControl = iota
	FlowRTS
	FlowCTS
	FlowRTSCTS
)

// Oversampling selects the receiver sampling rate.
type Oversampling uint8

const (
	Oversample16 Oversampling = iota
	Oversample8
)

// Config is the line configuration, set before Init and immutable while
// a transfer is active.
type Config struct {
	BaudRate      uint32
	WordLength    WordLength
	StopBits      StopBits
	Parity        Parity
	Mode          Mode
	HWFlowControl FlowControl
	Oversampling  Oversampling
}

// LineMode selects the physical line discipline.
type LineMode uint8

const (
	LineFullDuplex LineMode = iota
	LineHalfDuplex
	LineLIN
	LineMultiProcessor
)

// BreakDetect selects the LIN break detection length.
type BreakDetect uint8

const (
	BreakDetect10 BreakDetect = iota
	BreakDetect11
)

// WakeMethod selects multiprocessor wakeup.
type WakeMethod uint8

const (
	WakeIdleLine WakeMethod = iota
	WakeAddressMark
)

// LineSetup carries the per-line-mode extras.
type LineSetup struct {
	Mode        LineMode
	BreakDetect BreakDetect
	Address     uint8
	WakeMethod  WakeMethod
}

// State of one transfer direction.
type State uint8

const (
	StateReset State = iota
	StateReady
	StateBusy
	StateTimeout
)

func (s State) String() string {
	switch s {
	case StateReset:
		return "reset"
	case StateReady:
		return "ready"
	case StateBusy:
		return "busy"
	case StateTimeout:
		return "timeout"
	}
	return "unknown"
}

// Error is the accumulated fault mask. Cleared at the start of every
// new operation.
type Error uint32

const (
	ErrNone            Error = 0
	ErrParity          Error = 1 << 0
	ErrNoise           Error = 1 << 1
	ErrFraming         Error = 1 << 2
	ErrOverrun         Error = 1 << 3
	ErrDMA             Error = 1 << 4
	ErrInvalidCallback Error = 1 << 5
)

func (e Error) String() string {
	if e == ErrNone {
		return "none"
	}
	s := ""
	add := func(bit Error, name string) {
		if e&bit != 0 {
			if s != "" {
				s += "|"
			}
			s += name
		}
	}
	add(ErrParity, "parity")
	add(ErrNoise, "noise")
	add(ErrFraming, "framing")
	add(ErrOverrun, "overrun")
	add(ErrDMA, "dma")
	add(ErrInvalidCallback, "invalid_callback")
	return s
}

// CallbackID names a slot in the handle's callback table.
type CallbackID uint8

const (
	CallbackTxComplete CallbackID = iota
	CallbackTxHalfComplete
	CallbackRxComplete
	CallbackRxHalfComplete
	CallbackError
	CallbackAbortComplete
	CallbackAbortTxComplete
	CallbackAbortRxComplete
	CallbackIdle

	numCallbacks
)

// Handle is one UART instance. Construct with the Port, Config and
// optional DMA channels populated, then call Init. Not safe for use by
// multiple application goroutines; the advisory lock rejects, rather
// than serializes, concurrent calls.
type Handle struct {
	Port   Port
	Config Config

	// Optional DMA channels; nil means that direction never uses DMA.
	DMATx *dma.Channel
	DMARx *dma.Channel

	// Setup runs once when Init takes the handle out of Reset (clock
	// and pin muxing); Teardown runs on DeInit. Either may be nil.
	Setup    func(*Handle)
	Teardown func(*Handle)

	line LineSetup

	mu sync.Mutex // advisory; TryLock only

	txState State
	rxState State
	errs    Error

	txBuf   []byte
	txSize  int // total units
	txCount int // remaining units
	rxBuf   []byte
	rxSize  int
	rxCount int

	abortPending abortPending

	cbs [numCallbacks]func(*Handle)
}

// lock rejects a second concurrent application-thread call. It never
// blocks.
func (h *Handle) lock() error {
	if !h.mu.TryLock() {
		return errcode.Busy
	}
	return nil
}

func (h *Handle) unlock() { h.mu.Unlock() }

func (h *Handle) callback(id CallbackID) {
	if fn := h.cbs[id]; fn != nil {
		fn(h)
	}
}

// Init configures the peripheral for full-duplex operation. The first
// Init out of Reset runs the Setup hook; repeated Init reconfigures
// without re-running it.
func (h *Handle) Init() error {
	return h.init(LineSetup{Mode: LineFullDuplex})
}

// InitHalfDuplex configures single-wire half-duplex operation. The
// core does not force TX/RX mutual exclusion in this mode; the caller
// owns line turnaround via EnableHalfDuplexTransmitter/Receiver.
func (h *Handle) InitHalfDuplex() error {
	return h.init(LineSetup{Mode: LineHalfDuplex})
}

// InitLIN configures LIN mode with the given break detection length.
func (h *Handle) InitLIN(bd BreakDetect) error {
	return h.init(LineSetup{Mode: LineLIN, BreakDetect: bd})
}

// InitMultiProcessor configures multiprocessor mode with a node
// address and wake method.
func (h *Handle) InitMultiProcessor(addr uint8, wake WakeMethod) error {
	return h.init(LineSetup{Mode: LineMultiProcessor, Address: addr, WakeMethod: wake})
}

func (h *Handle) init(line LineSetup) error {
	if h.Port == nil {
		return errcode.InvalidParams
	}
	if h.txState == StateReset {
		if h.Setup != nil {
			h.Setup(h)
		}
	}
	h.txState = StateBusy
	h.Port.Disable()
	if err := h.Port.Apply(h.Config, line); err != nil {
		h.txState = StateReady
		return err
	}
	h.line = line
	h.Port.Enable()
	h.errs = ErrNone
	h.txState = StateReady
	h.rxState = StateReady
	return nil
}

// DeInit disables the peripheral and returns the handle to Reset.
// Idempotent.
func (h *Handle) DeInit() error {
	if h.Port == nil {
		return errcode.InvalidParams
	}
	h.txState = StateBusy
	h.Port.Disable()
	if h.Teardown != nil {
		h.Teardown(h)
	}
	h.errs = ErrNone
	h.txState = StateReset
	h.rxState = StateReset
	return nil
}

// State returns the TX and RX states.
func (h *Handle) State() (tx, rx State) { return h.txState, h.rxState }

// Err returns the accumulated fault mask.
func (h *Handle) Err() Error { return h.errs }

// TxCount and RxCount report remaining units; meaningful only while
// the direction is Busy.
func (h *Handle) TxCount() int { return h.txCount }
func (h *Handle) RxCount() int { return h.rxCount }

// RegisterCallback installs fn in the slot named by id. Registration
// is only allowed while the handle is Ready or Reset; misuse latches
// ErrInvalidCallback and returns InvalidParams without other effect.
func (h *Handle) RegisterCallback(id CallbackID, fn func(*Handle)) error {
	if fn == nil || id >= numCallbacks {
		h.errs |= ErrInvalidCallback
		return errcode.InvalidParams
	}
	if !h.callbackStateOK() {
		h.errs |= ErrInvalidCallback
		return errcode.InvalidParams
	}
	h.cbs[id] = fn
	return nil
}

// UnregisterCallback restores the slot to the no-op default.
func (h *Handle) UnregisterCallback(id CallbackID) error {
	if id >= numCallbacks {
		h.errs |= ErrInvalidCallback
		return errcode.InvalidParams
	}
	if !h.callbackStateOK() {
		h.errs |= ErrInvalidCallback
		return errcode.InvalidParams
	}
	h.cbs[id] = nil
	return nil
}

func (h *Handle) callbackStateOK() bool {
	txOK := h.txState == StateReady || h.txState == StateReset
	rxOK := h.rxState == StateReady || h.rxState == StateReset
	return txOK && rxOK
}

// wideMode reports whether data moves as 16-bit units (9-bit frames
// with no parity).
func (h *Handle) wideMode() bool {
	return h.Config.WordLength == WordLength9 && h.Config.Parity == ParityNone
}
