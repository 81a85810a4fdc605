package uart

import (
	"mcuhal-go/dma"
	"mcuhal-go/errcode"
)

// Abort stops both directions and blocks until they are quiesced. No
// abort callback fires. A DMA abort timeout is reported as Timeout
// with ErrDMA latched, but both directions are still forced Ready so
// the handle stays usable.
func (h *Handle) Abort() error {
	h.Port.DisableIRQ(IRQTxEmpty | IRQTxComplete | IRQRxNotEmpty | IRQParity | IRQError)

	var ret error
	if h.Port.RequestEnabled(RequestTx) {
		h.Port.SetRequest(RequestTx, false)
		if h.DMATx != nil {
			h.DMATx.OnAbort = nil
			if err := h.DMATx.Abort(); err == errcode.Timeout {
				ret = errcode.Timeout
			}
		}
	}
	if h.Port.RequestEnabled(RequestRx) {
		h.Port.SetRequest(RequestRx, false)
		if h.DMARx != nil {
			h.DMARx.OnAbort = nil
			if err := h.DMARx.Abort(); err == errcode.Timeout {
				ret = errcode.Timeout
			}
		}
	}

	h.txCount = 0
	h.rxCount = 0
	h.Port.ClearFlag(FlagErrMask | FlagIdle)
	h.errs = ErrNone
	if ret != nil {
		h.errs = ErrDMA
	}
	h.txState = StateReady
	h.rxState = StateReady
	return ret
}

// AbortTransmit stops the transmit direction, blocking.
func (h *Handle) AbortTransmit() error {
	h.Port.DisableIRQ(IRQTxEmpty | IRQTxComplete)

	var ret error
	if h.Port.RequestEnabled(RequestTx) {
		h.Port.SetRequest(RequestTx, false)
		if h.DMATx != nil {
			h.DMATx.OnAbort = nil
			if err := h.DMATx.Abort(); err == errcode.Timeout {
				h.errs |= ErrDMA
				ret = errcode.Timeout
			}
		}
	}
	h.txCount = 0
	h.txState = StateReady
	return ret
}

// AbortReceive stops the receive direction, blocking.
func (h *Handle) AbortReceive() error {
	h.Port.DisableIRQ(IRQRxNotEmpty | IRQParity | IRQError)

	var ret error
	if h.Port.RequestEnabled(RequestRx) {
		h.Port.SetRequest(RequestRx, false)
		if h.DMARx != nil {
			h.DMARx.OnAbort = nil
			if err := h.DMARx.Abort(); err == errcode.Timeout {
				h.errs |= ErrDMA
				ret = errcode.Timeout
			}
		}
	}
	h.rxCount = 0
	h.Port.ClearFlag(FlagErrMask)
	h.rxState = StateReady
	return ret
}

// abort completion tracking for the joint async form. A direction is
// pending while its DMA abort acknowledgment is outstanding.
type abortPending struct {
	tx bool
	rx bool
}

// AbortAsync stops both directions without blocking. When DMA teardown
// must wait for acknowledgment, the joint AbortComplete callback fires
// from the last direction's abort adapter; with no DMA in flight the
// reset and callback happen before AbortAsync returns.
func (h *Handle) AbortAsync() error {
	h.Port.DisableIRQ(IRQTxEmpty | IRQTxComplete | IRQRxNotEmpty | IRQParity | IRQError)

	txDMA := h.DMATx != nil && h.txState == StateBusy && h.Port.RequestEnabled(RequestTx) && h.DMATx.State() == dma.StateBusy
	rxDMA := h.DMARx != nil && h.rxState == StateBusy && h.Port.RequestEnabled(RequestRx) && h.DMARx.State() == dma.StateBusy

	// Arm both adapters before requesting any abort, so whichever
	// acknowledgment lands first can see whether the other is still
	// outstanding.
	h.abortPending = abortPending{tx: txDMA, rx: rxDMA}
	if txDMA {
		h.DMATx.OnAbort = dmaTxAbortJoint
	} else if h.DMATx != nil {
		h.DMATx.OnAbort = nil
	}
	if rxDMA {
		h.DMARx.OnAbort = dmaRxAbortJoint
	} else if h.DMARx != nil {
		h.DMARx.OnAbort = nil
	}

	if txDMA {
		h.Port.SetRequest(RequestTx, false)
		if err := h.DMATx.AbortAsync(); err != nil {
			// Nothing will acknowledge; count it satisfied.
			h.DMATx.OnAbort = nil
			h.abortPending.tx = false
		}
	}
	if rxDMA {
		h.Port.SetRequest(RequestRx, false)
		if err := h.DMARx.AbortAsync(); err != nil {
			h.DMARx.OnAbort = nil
			h.abortPending.rx = false
		}
	}

	if !h.abortPending.tx && !h.abortPending.rx {
		h.finishAbort()
	}
	return nil
}

// AbortTransmitAsync stops the transmit direction without blocking;
// completion arrives on the AbortTxComplete callback.
func (h *Handle) AbortTransmitAsync() error {
	h.Port.DisableIRQ(IRQTxEmpty | IRQTxComplete)

	if h.DMATx != nil && h.txState == StateBusy && h.Port.RequestEnabled(RequestTx) && h.DMATx.State() == dma.StateBusy {
		h.DMATx.OnAbort = dmaTxAbortSolo
		h.Port.SetRequest(RequestTx, false)
		if err := h.DMATx.AbortAsync(); err != nil {
			dmaTxAbortSolo(h.DMATx)
		}
		return nil
	}

	h.txCount = 0
	h.txState = StateReady
	h.callback(CallbackAbortTxComplete)
	return nil
}

// AbortReceiveAsync stops the receive direction without blocking;
// completion arrives on the AbortRxComplete callback.
func (h *Handle) AbortReceiveAsync() error {
	h.Port.DisableIRQ(IRQRxNotEmpty | IRQParity | IRQError)

	if h.DMARx != nil && h.rxState == StateBusy && h.Port.RequestEnabled(RequestRx) && h.DMARx.State() == dma.StateBusy {
		h.DMARx.OnAbort = dmaRxAbortSolo
		h.Port.SetRequest(RequestRx, false)
		if err := h.DMARx.AbortAsync(); err != nil {
			dmaRxAbortSolo(h.DMARx)
		}
		return nil
	}

	h.rxCount = 0
	h.Port.ClearFlag(FlagErrMask)
	h.rxState = StateReady
	h.callback(CallbackAbortRxComplete)
	return nil
}

// finishAbort is the joint reset: counters zeroed, error mask cleared,
// both directions Ready, then exactly one AbortComplete callback.
func (h *Handle) finishAbort() {
	h.txCount = 0
	h.rxCount = 0
	h.Port.ClearFlag(FlagErrMask | FlagIdle)
	h.errs = ErrNone
	h.txState = StateReady
	h.rxState = StateReady
	h.callback(CallbackAbortComplete)
}

func dmaTxAbortJoint(ch *dma.Channel) {
	h := ch.Parent.(*Handle)
	h.abortPending.tx = false
	if h.abortPending.rx {
		return
	}
	h.finishAbort()
}

func dmaRxAbortJoint(ch *dma.Channel) {
	h := ch.Parent.(*Handle)
	h.abortPending.rx = false
	if h.abortPending.tx {
		return
	}
	h.finishAbort()
}

func dmaTxAbortSolo(ch *dma.Channel) {
	h := ch.Parent.(*Handle)
	h.txCount = 0
	h.txState = StateReady
	h.callback(CallbackAbortTxComplete)
}

func dmaRxAbortSolo(ch *dma.Channel) {
	h := ch.Parent.(*Handle)
	h.rxCount = 0
	h.Port.ClearFlag(FlagErrMask)
	h.rxState = StateReady
	h.callback(CallbackAbortRxComplete)
}
