package uart

import (
	"encoding/binary"
	"time"
	"unsafe"

	"mcuhal-go/errcode"
	"mcuhal-go/x/timex"
)

// validateXfer checks the common transfer preconditions: non-empty
// buffer, and for wide mode an even length and 2-byte alignment (data
// moves as 16-bit little-endian units).
func (h *Handle) validateXfer(data []byte) error {
	if len(data) == 0 {
		return errcode.InvalidParams
	}
	if h.wideMode() {
		if len(data)%2 != 0 {
			return errcode.InvalidParams
		}
		if uintptr(unsafe.Pointer(&data[0]))&1 != 0 {
			return errcode.InvalidParams
		}
	}
	return nil
}

// unitCount returns the number of transfer units in data.
func (h *Handle) unitCount(data []byte) int {
	if h.wideMode() {
		return len(data) / 2
	}
	return len(data)
}

// rxMask is the valid-data mask applied to the data register on read.
func (h *Handle) rxMask() uint16 {
	if h.wideMode() {
		return 0x01FF
	}
	if h.Config.Parity != ParityNone {
		return 0x007F
	}
	return 0x00FF
}

// waitFlag polls for flag until the deadline. On expiry it performs
// the full timeout teardown: disables TX/RX/error interrupt enables,
// forces both states Ready, releases the lock and returns Timeout.
// The caller must not touch the handle after a Timeout return.
func (h *Handle) waitFlag(flag Flag, dl timex.Deadline) error {
	for h.Port.Flags()&flag == 0 {
		if dl.Expired() {
			h.Port.DisableIRQ(IRQTxEmpty | IRQTxComplete | IRQRxNotEmpty | IRQParity | IRQError)
			h.txState = StateReady
			h.rxState = StateReady
			h.unlock()
			return errcode.Timeout
		}
		time.Sleep(0) // yield; keeps host schedulers fair
	}
	return nil
}

// Transmit sends data, blocking until the last unit has fully left the
// shift register or the timeout expires. NoTimeout waits forever.
func (h *Handle) Transmit(data []byte, timeout time.Duration) error {
	if err := h.validateXfer(data); err != nil {
		return err
	}
	if err := h.lock(); err != nil {
		return err
	}
	if h.txState != StateReady {
		h.unlock()
		return errcode.Busy
	}

	h.errs = ErrNone
	h.txState = StateBusy
	h.txBuf = data
	h.txSize = h.unitCount(data)
	h.txCount = h.txSize

	dl := timex.After(timeout)
	wide := h.wideMode()
	for h.txCount > 0 {
		if err := h.waitFlag(FlagTxEmpty, dl); err != nil {
			return err
		}
		i := (h.txSize - h.txCount) * h.unitBytes()
		if wide {
			h.Port.WriteData(binary.LittleEndian.Uint16(data[i:]) & 0x01FF)
		} else {
			h.Port.WriteData(uint16(data[i]))
		}
		h.txCount--
	}
	if err := h.waitFlag(FlagTxComplete, dl); err != nil {
		return err
	}

	h.txState = StateReady
	h.unlock()
	return nil
}

// Receive fills data, blocking per unit against the timeout deadline.
func (h *Handle) Receive(data []byte, timeout time.Duration) error {
	if err := h.validateXfer(data); err != nil {
		return err
	}
	if err := h.lock(); err != nil {
		return err
	}
	if h.rxState != StateReady {
		h.unlock()
		return errcode.Busy
	}

	h.errs = ErrNone
	h.rxState = StateBusy
	h.rxBuf = data
	h.rxSize = h.unitCount(data)
	h.rxCount = h.rxSize

	dl := timex.After(timeout)
	mask := h.rxMask()
	wide := h.wideMode()
	for h.rxCount > 0 {
		if err := h.waitFlag(FlagRxNotEmpty, dl); err != nil {
			return err
		}
		v := h.Port.ReadData() & mask
		i := (h.rxSize - h.rxCount) * h.unitBytes()
		if wide {
			binary.LittleEndian.PutUint16(data[i:], v)
		} else {
			data[i] = byte(v)
		}
		h.rxCount--
	}

	h.rxState = StateReady
	h.unlock()
	return nil
}

func (h *Handle) unitBytes() int {
	if h.wideMode() {
		return 2
	}
	return 1
}
