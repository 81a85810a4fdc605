package uart

import (
	"mcuhal-go/dma"
	"mcuhal-go/errcode"
)

// TransmitDMA starts a DMA-driven transmit. Completion is signalled
// through the TxComplete callback once the transmission-complete
// interrupt confirms the last unit left the wire (normal mode), or on
// every buffer lap (circular mode).
func (h *Handle) TransmitDMA(data []byte) error {
	if h.DMATx == nil {
		return errcode.Unsupported
	}
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

	h.DMATx.Parent = h
	h.DMATx.OnComplete = dmaTransmitComplete
	h.DMATx.OnHalfComplete = dmaTransmitHalfComplete
	h.DMATx.OnError = dmaError

	if err := h.DMATx.Start(data, h.txSize); err != nil {
		h.errs |= ErrDMA
		h.txState = StateReady
		h.unlock()
		return err
	}

	// A stale TC flag would fire the completion interrupt early.
	h.Port.ClearFlag(FlagTxComplete)
	h.unlock()

	h.Port.SetRequest(RequestTx, true)
	return nil
}

// ReceiveDMA starts a DMA-driven receive. The DMA engine shifts data
// silently, so the peripheral's own parity and error detection stays
// armed at the interrupt level.
func (h *Handle) ReceiveDMA(data []byte) error {
	if h.DMARx == nil {
		return errcode.Unsupported
	}
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

	h.DMARx.Parent = h
	h.DMARx.OnComplete = dmaReceiveComplete
	h.DMARx.OnHalfComplete = dmaReceiveHalfComplete
	h.DMARx.OnError = dmaError

	if err := h.DMARx.Start(data, h.rxSize); err != nil {
		h.errs |= ErrDMA
		h.rxState = StateReady
		h.unlock()
		return err
	}

	h.Port.ClearFlag(FlagOverrun)
	h.Port.EnableIRQ(IRQParity | IRQError)
	h.unlock()

	h.Port.SetRequest(RequestRx, true)
	return nil
}

// DMAPause gates the DMA request line(s) for whichever direction is
// Busy without touching DMA engine state.
func (h *Handle) DMAPause() error {
	if err := h.lock(); err != nil {
		return err
	}
	if h.txState == StateBusy && h.Port.RequestEnabled(RequestTx) {
		h.Port.SetRequest(RequestTx, false)
	}
	if h.rxState == StateBusy && h.Port.RequestEnabled(RequestRx) {
		h.Port.DisableIRQ(IRQParity | IRQError)
		h.Port.SetRequest(RequestRx, false)
	}
	h.unlock()
	return nil
}

// DMAResume re-enables the request line(s). A stale overrun is cleared
// before RX resumes; data received while paused is lost, not faulted.
func (h *Handle) DMAResume() error {
	if err := h.lock(); err != nil {
		return err
	}
	if h.txState == StateBusy {
		h.Port.SetRequest(RequestTx, true)
	}
	if h.rxState == StateBusy {
		h.Port.ClearFlag(FlagOverrun)
		h.Port.EnableIRQ(IRQParity | IRQError)
		h.Port.SetRequest(RequestRx, true)
	}
	h.unlock()
	return nil
}

// DMAStop aborts any Busy direction's DMA transfer synchronously and
// forces that direction Ready without callbacks. It takes no lock: it
// is legal from completion callbacks, which may run under one.
func (h *Handle) DMAStop() error {
	var ret error
	if h.txState == StateBusy && h.Port.RequestEnabled(RequestTx) {
		h.Port.SetRequest(RequestTx, false)
		if h.DMATx != nil {
			if err := h.DMATx.Abort(); err == errcode.Timeout {
				h.errs |= ErrDMA
				ret = errcode.Timeout
			}
		}
		h.endTxTransfer()
	}
	if h.rxState == StateBusy && h.Port.RequestEnabled(RequestRx) {
		h.Port.SetRequest(RequestRx, false)
		if h.DMARx != nil {
			if err := h.DMARx.Abort(); err == errcode.Timeout {
				h.errs |= ErrDMA
				ret = errcode.Timeout
			}
		}
		h.endRxTransfer()
	}
	return ret
}

// dmaTransmitComplete translates DMA TX completion into UART terms.
// Normal mode hands off to the transmission-complete interrupt so the
// user callback only fires once the wire is idle; circular mode
// reports every lap directly.
func dmaTransmitComplete(ch *dma.Channel) {
	h := ch.Parent.(*Handle)
	if ch.Circular {
		h.callback(CallbackTxComplete)
		return
	}
	h.txCount = 0
	h.Port.SetRequest(RequestTx, false)
	h.Port.EnableIRQ(IRQTxComplete)
}

func dmaTransmitHalfComplete(ch *dma.Channel) {
	h := ch.Parent.(*Handle)
	h.callback(CallbackTxHalfComplete)
}

// dmaReceiveComplete performs the IT path's quiesce before the user
// callback in normal mode; circular mode leaves the transfer running.
func dmaReceiveComplete(ch *dma.Channel) {
	h := ch.Parent.(*Handle)
	if ch.Circular {
		h.callback(CallbackRxComplete)
		return
	}
	h.rxCount = 0
	h.Port.DisableIRQ(IRQParity | IRQError)
	h.Port.SetRequest(RequestRx, false)
	h.rxState = StateReady
	h.callback(CallbackRxComplete)
}

func dmaReceiveHalfComplete(ch *dma.Channel) {
	h := ch.Parent.(*Handle)
	h.callback(CallbackRxHalfComplete)
}

// dmaError tears down whichever direction the failing channel drives.
// Any DMA fault is blocking for that direction.
func dmaError(ch *dma.Channel) {
	h := ch.Parent.(*Handle)
	if h.txState == StateBusy && ch == h.DMATx {
		h.txCount = 0
		h.Port.SetRequest(RequestTx, false)
		h.endTxTransfer()
	}
	if h.rxState == StateBusy && ch == h.DMARx {
		h.rxCount = 0
		h.Port.SetRequest(RequestRx, false)
		h.endRxTransfer()
	}
	h.errs |= ErrDMA
	h.callback(CallbackError)
}
