package uart

import "mcuhal-go/errcode"

// control runs a short register operation under the advisory lock with
// the usual Ready gate on the TX state machine.
func (h *Handle) control(op func()) error {
	if err := h.lock(); err != nil {
		return err
	}
	if h.txState != StateReady {
		h.unlock()
		return errcode.Busy
	}
	h.txState = StateBusy
	op()
	h.txState = StateReady
	h.unlock()
	return nil
}

// SendBreak transmits a break frame (LIN wakeup and sync).
func (h *Handle) SendBreak() error {
	return h.control(func() { h.Port.SendBreak() })
}

// EnterMuteMode stops the receiver delivering frames until the wake
// condition configured at InitMultiProcessor occurs.
func (h *Handle) EnterMuteMode() error {
	return h.control(func() { h.Port.SetMute(true) })
}

// ExitMuteMode re-enables frame delivery.
func (h *Handle) ExitMuteMode() error {
	return h.control(func() { h.Port.SetMute(false) })
}

// EnableHalfDuplexTransmitter turns the single-wire line around for
// transmit. Line turnaround is the caller's responsibility.
func (h *Handle) EnableHalfDuplexTransmitter() error {
	return h.control(func() { h.Port.SetDirection(DirectionTx) })
}

// EnableHalfDuplexReceiver turns the single-wire line around for
// receive.
func (h *Handle) EnableHalfDuplexReceiver() error {
	return h.control(func() { h.Port.SetDirection(DirectionRx) })
}
