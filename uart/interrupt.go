package uart

import (
	"encoding/binary"

	"mcuhal-go/dma"
	"mcuhal-go/errcode"
)

// TransmitAsync starts an interrupt-driven transmit. Byte movement
// happens in IRQHandler; TxComplete fires from interrupt context once
// the last unit has fully left the shift register.
func (h *Handle) TransmitAsync(data []byte) error {
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

	h.txBuf = data
	h.txSize = h.unitCount(data)
	h.txCount = h.txSize
	h.errs = ErrNone
	h.txState = StateBusy
	h.unlock()

	h.Port.EnableIRQ(IRQTxEmpty)
	return nil
}

// ReceiveAsync starts an interrupt-driven receive. RxComplete fires
// from interrupt context when the buffer is full.
func (h *Handle) ReceiveAsync(data []byte) error {
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

	h.rxBuf = data
	h.rxSize = h.unitCount(data)
	h.rxCount = h.rxSize
	h.errs = ErrNone
	h.rxState = StateBusy
	h.unlock()

	h.Port.EnableIRQ(IRQParity | IRQError | IRQRxNotEmpty)
	return nil
}

// IRQHandler is the vector entry point. Status and enable registers
// are snapshotted once; branches are examined in priority order and
// each taken branch returns.
func (h *Handle) IRQHandler() {
	flags := h.Port.Flags()
	irqs := h.Port.IRQs()
	errFlags := flags & FlagErrMask

	// Receive, no errors pending.
	if errFlags == 0 {
		if flags&FlagRxNotEmpty != 0 && irqs&IRQRxNotEmpty != 0 {
			h.receiveUnit()
			return
		}
	} else if irqs&(IRQError|IRQRxNotEmpty|IRQParity) != 0 {
		// Error classification. All pending error bits are latched
		// before deciding severity.
		if errFlags&FlagParityErr != 0 {
			h.errs |= ErrParity
		}
		if errFlags&FlagNoiseErr != 0 {
			h.errs |= ErrNoise
		}
		if errFlags&FlagFramingErr != 0 {
			h.errs |= ErrFraming
		}
		if errFlags&FlagOverrun != 0 {
			h.errs |= ErrOverrun
		}
		h.Port.ClearFlag(errFlags)

		// Drain any data that arrived with the error.
		if flags&FlagRxNotEmpty != 0 && irqs&IRQRxNotEmpty != 0 {
			h.receiveUnit()
		}

		dmaActive := h.Port.RequestEnabled(RequestRx)
		if h.errs&ErrOverrun != 0 || dmaActive {
			// Blocking: the receive is dead. Quiesce it, then
			// surface the error once the DMA channel has stopped.
			h.endRxTransfer()
			if dmaActive {
				h.Port.SetRequest(RequestRx, false)
				if h.DMARx != nil {
					h.DMARx.OnAbort = dmaAbortOnError
					if err := h.DMARx.AbortAsync(); err != nil {
						dmaAbortOnError(h.DMARx)
					}
				} else {
					h.callback(CallbackError)
				}
			} else {
				h.callback(CallbackError)
			}
		} else {
			// Recoverable: surface and keep going.
			h.callback(CallbackError)
			h.errs = ErrNone
		}
		return
	}

	// Idle line. Informational; transfer state is untouched.
	if flags&FlagIdle != 0 && irqs&IRQIdle != 0 {
		h.Port.ClearFlag(FlagIdle)
		h.callback(CallbackIdle)
		return
	}

	// Transmit, one unit per interrupt.
	if flags&FlagTxEmpty != 0 && irqs&IRQTxEmpty != 0 {
		h.transmitUnit()
		return
	}

	// Transmission complete: the last unit has left the wire.
	if flags&FlagTxComplete != 0 && irqs&IRQTxComplete != 0 {
		h.endTransmit()
		return
	}
}

// transmitUnit moves one unit out. On the last unit it swaps the
// register-empty interrupt for transmission-complete so completion is
// only declared once the shift register drains.
func (h *Handle) transmitUnit() {
	if h.txState != StateBusy {
		return
	}
	i := (h.txSize - h.txCount) * h.unitBytes()
	if h.wideMode() {
		h.Port.WriteData(binary.LittleEndian.Uint16(h.txBuf[i:]) & 0x01FF)
	} else {
		h.Port.WriteData(uint16(h.txBuf[i]))
	}
	h.txCount--
	if h.txCount == 0 {
		h.Port.DisableIRQ(IRQTxEmpty)
		h.Port.EnableIRQ(IRQTxComplete)
	}
}

func (h *Handle) endTransmit() {
	h.Port.DisableIRQ(IRQTxComplete)
	h.txState = StateReady
	h.callback(CallbackTxComplete)
}

// receiveUnit moves one unit in and completes the transfer from
// interrupt context when the count reaches zero.
func (h *Handle) receiveUnit() {
	if h.rxState != StateBusy {
		return
	}
	v := h.Port.ReadData() & h.rxMask()
	i := (h.rxSize - h.rxCount) * h.unitBytes()
	if h.wideMode() {
		binary.LittleEndian.PutUint16(h.rxBuf[i:], v)
	} else {
		h.rxBuf[i] = byte(v)
	}
	h.rxCount--
	if h.rxCount == 0 {
		h.Port.DisableIRQ(IRQRxNotEmpty | IRQParity | IRQError)
		h.rxState = StateReady
		h.callback(CallbackRxComplete)
	}
}

// endTxTransfer quiesces the transmit side without callbacks.
func (h *Handle) endTxTransfer() {
	h.Port.DisableIRQ(IRQTxEmpty | IRQTxComplete)
	h.txState = StateReady
}

// endRxTransfer quiesces the receive side without callbacks.
func (h *Handle) endRxTransfer() {
	h.Port.DisableIRQ(IRQRxNotEmpty | IRQParity | IRQError)
	h.rxState = StateReady
}

// dmaAbortOnError finishes a blocking-error teardown once the RX DMA
// channel has stopped.
func dmaAbortOnError(ch *dma.Channel) {
	h := ch.Parent.(*Handle)
	h.txCount = 0
	h.rxCount = 0
	h.callback(CallbackError)
}
