package uart

import (
	"testing"

	"mcuhal-go/errcode"
)

func startBothDMA(t *testing.T, h *Handle) {
	t.Helper()
	if err := h.TransmitDMA(make([]byte, 8)); err != nil {
		t.Fatalf("TransmitDMA: %v", err)
	}
	if err := h.ReceiveDMA(make([]byte, 8)); err != nil {
		t.Fatalf("ReceiveDMA: %v", err)
	}
}

func TestAbortBlockingBothDirections(t *testing.T) {
	h, p, mt, mr := newDMAHandle()
	var cb int
	h.RegisterCallback(CallbackAbortComplete, func(*Handle) { cb++ })
	startBothDMA(t, h)

	if err := h.Abort(); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if mt.aborts != 1 || mr.aborts != 1 {
		t.Fatalf("blocking aborts = %d/%d, want 1/1", mt.aborts, mr.aborts)
	}
	tx, rx := h.State()
	if tx != StateReady || rx != StateReady {
		t.Fatalf("states = %v/%v, want Ready/Ready", tx, rx)
	}
	if h.TxCount() != 0 || h.RxCount() != 0 {
		t.Fatalf("counts = %d/%d, want 0/0", h.TxCount(), h.RxCount())
	}
	if h.Err() != ErrNone {
		t.Fatalf("mask = %v, want none", h.Err())
	}
	if cb != 0 {
		t.Fatal("blocking Abort must not fire the abort callback")
	}
	if p.RequestEnabled(RequestTx) || p.RequestEnabled(RequestRx) {
		t.Fatal("requests still set")
	}
}

func TestAbortBlockingDMATimeout(t *testing.T) {
	h, _, _, mr := newDMAHandle()
	mr.abortErr = errcode.Error
	startBothDMA(t, h)

	if err := h.Abort(); err != errcode.Timeout {
		t.Fatalf("Abort = %v, want Timeout", err)
	}
	if h.Err()&ErrDMA == 0 {
		t.Fatalf("mask = %v, want DMA set", h.Err())
	}
	tx, rx := h.State()
	if tx != StateReady || rx != StateReady {
		t.Fatalf("states = %v/%v, want Ready/Ready even on timeout", tx, rx)
	}
}

func TestAbortTransmitScoped(t *testing.T) {
	h, _, mt, mr := newDMAHandle()
	startBothDMA(t, h)

	if err := h.AbortTransmit(); err != nil {
		t.Fatalf("AbortTransmit: %v", err)
	}
	if mt.aborts != 1 {
		t.Fatalf("tx aborts = %d, want 1", mt.aborts)
	}
	if mr.aborts != 0 {
		t.Fatal("rx channel touched by AbortTransmit")
	}
	tx, rx := h.State()
	if tx != StateReady {
		t.Fatalf("tx state = %v, want Ready", tx)
	}
	if rx != StateBusy {
		t.Fatalf("rx state = %v, want Busy (untouched)", rx)
	}
}

func TestAbortReceiveScoped(t *testing.T) {
	h, _, mt, mr := newDMAHandle()
	startBothDMA(t, h)

	if err := h.AbortReceive(); err != nil {
		t.Fatalf("AbortReceive: %v", err)
	}
	if mr.aborts != 1 || mt.aborts != 0 {
		t.Fatalf("aborts = tx %d rx %d, want 0/1", mt.aborts, mr.aborts)
	}
	tx, rx := h.State()
	if rx != StateReady || tx != StateBusy {
		t.Fatalf("states = %v/%v, want Busy/Ready", tx, rx)
	}
}

func TestJointAbortAsyncConvergence(t *testing.T) {
	h, _, mt, mr := newDMAHandle()
	var cb int
	h.RegisterCallback(CallbackAbortComplete, func(hh *Handle) {
		cb++
		if hh.TxCount() != 0 || hh.RxCount() != 0 {
			t.Errorf("counts in abort callback = %d/%d, want 0/0", hh.TxCount(), hh.RxCount())
		}
		if hh.Err() != ErrNone {
			t.Errorf("mask in abort callback = %v, want none", hh.Err())
		}
	})
	startBothDMA(t, h)

	if err := h.AbortAsync(); err != nil {
		t.Fatalf("AbortAsync: %v", err)
	}
	if mt.asyncs != 1 || mr.asyncs != 1 {
		t.Fatalf("async aborts = %d/%d, want 1/1", mt.asyncs, mr.asyncs)
	}
	if cb != 0 {
		t.Fatal("abort callback fired before any acknowledgment")
	}

	// First acknowledgment must not complete the joint abort.
	h.DMATx.FinishAbort()
	if cb != 0 {
		t.Fatal("abort callback fired after only one acknowledgment")
	}

	h.DMARx.FinishAbort()
	if cb != 1 {
		t.Fatalf("abort callback fired %d times, want exactly 1", cb)
	}
	tx, rx := h.State()
	if tx != StateReady || rx != StateReady {
		t.Fatalf("states = %v/%v, want Ready/Ready", tx, rx)
	}
}

func TestAbortAsyncNoDMAIsSynchronous(t *testing.T) {
	h, _ := newTestHandle()
	var cb int
	h.RegisterCallback(CallbackAbortComplete, func(*Handle) { cb++ })

	if err := h.TransmitAsync(make([]byte, 4)); err != nil {
		t.Fatalf("TransmitAsync: %v", err)
	}
	if err := h.AbortAsync(); err != nil {
		t.Fatalf("AbortAsync: %v", err)
	}
	if cb != 1 {
		t.Fatalf("abort callback fired %d times, want 1 (synchronous path)", cb)
	}
	tx, rx := h.State()
	if tx != StateReady || rx != StateReady {
		t.Fatalf("states = %v/%v, want Ready/Ready", tx, rx)
	}
}

func TestAbortAsyncStartFailureStillConverges(t *testing.T) {
	h, _, _, mr := newDMAHandle()
	mr.asyncErr = errcode.Error
	var cb int
	h.RegisterCallback(CallbackAbortComplete, func(*Handle) { cb++ })
	startBothDMA(t, h)

	if err := h.AbortAsync(); err != nil {
		t.Fatalf("AbortAsync: %v", err)
	}
	// RX abort never started; only the TX acknowledgment is pending.
	if cb != 0 {
		t.Fatal("abort callback fired early")
	}
	h.DMATx.FinishAbort()
	if cb != 1 {
		t.Fatalf("abort callback fired %d times, want 1", cb)
	}
}

func TestAbortTransmitAsyncSolo(t *testing.T) {
	h, _, _, _ := newDMAHandle()
	var cb int
	h.RegisterCallback(CallbackAbortTxComplete, func(*Handle) { cb++ })
	startBothDMA(t, h)

	if err := h.AbortTransmitAsync(); err != nil {
		t.Fatalf("AbortTransmitAsync: %v", err)
	}
	if cb != 0 {
		t.Fatal("callback fired before acknowledgment")
	}
	h.DMATx.FinishAbort()
	if cb != 1 {
		t.Fatalf("callback fired %d times, want 1", cb)
	}
	tx, rx := h.State()
	if tx != StateReady || rx != StateBusy {
		t.Fatalf("states = %v/%v, want Ready/Busy", tx, rx)
	}
}

func TestAbortTransmitAsyncStartFailureFallsBack(t *testing.T) {
	h, _, mt, _ := newDMAHandle()
	mt.asyncErr = errcode.Error
	var cb int
	h.RegisterCallback(CallbackAbortTxComplete, func(*Handle) { cb++ })

	if err := h.TransmitDMA(make([]byte, 4)); err != nil {
		t.Fatalf("TransmitDMA: %v", err)
	}
	if err := h.AbortTransmitAsync(); err != nil {
		t.Fatalf("AbortTransmitAsync: %v", err)
	}
	if cb != 1 {
		t.Fatalf("callback fired %d times, want 1 (direct fallback)", cb)
	}
	if tx, _ := h.State(); tx != StateReady {
		t.Fatalf("tx state = %v, want Ready", tx)
	}
}

func TestAbortReceiveAsyncNoDMA(t *testing.T) {
	h, _ := newTestHandle()
	var cb int
	h.RegisterCallback(CallbackAbortRxComplete, func(*Handle) { cb++ })

	if err := h.ReceiveAsync(make([]byte, 4)); err != nil {
		t.Fatalf("ReceiveAsync: %v", err)
	}
	if err := h.AbortReceiveAsync(); err != nil {
		t.Fatalf("AbortReceiveAsync: %v", err)
	}
	if cb != 1 {
		t.Fatalf("callback fired %d times, want 1", cb)
	}
	if _, rx := h.State(); rx != StateReady {
		t.Fatalf("rx state = %v, want Ready", rx)
	}
}
