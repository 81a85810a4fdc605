package platform

import (
	"sync"
	"time"

	"mcuhal-go/dma"
	"mcuhal-go/uart"
	"mcuhal-go/x/timex"
)

// SimMover is a goroutine-paced DMA engine over a SimPort. It honors
// the peripheral request line (clearing the request pauses movement
// without losing position) and drives the channel's notification
// methods the way a real engine drives its interrupt callbacks.
//
// 8-bit frames only; the simulated board does not model wide DMA.
type SimMover struct {
	Port *SimPort
	// Pace is the per-unit delay. Zero means as fast as the
	// scheduler allows.
	Pace time.Duration

	mu    sync.Mutex
	stop  chan struct{}
	done  chan struct{}
	async bool
}

// PaceFromBaud returns a per-frame pace for a baud rate, assuming ten
// bit times per frame.
func PaceFromBaud(baud uint32) time.Duration {
	return time.Duration(timex.PeriodFromHz(baud)) * 10
}

func (m *SimMover) Start(ch *dma.Channel, buf []byte, count int) error {
	m.mu.Lock()
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	m.async = false
	stop, done := m.stop, m.done
	m.mu.Unlock()

	go m.run(ch, buf, count, stop, done)
	return nil
}

func (m *SimMover) run(ch *dma.Channel, buf []byte, count int, stop, done chan struct{}) {
	defer close(done)
	req := uart.RequestTx
	if ch.Direction == dma.PeriphToMem {
		req = uart.RequestRx
	}

	for {
		for i := 0; i < count; i++ {
			for {
				select {
				case <-stop:
					m.finishStop(ch)
					return
				default:
				}
				if m.Port.RequestEnabled(req) {
					if ch.Direction == dma.MemToPeriph {
						break
					}
					if m.Port.Flags()&uart.FlagRxNotEmpty != 0 {
						break
					}
				}
				m.pause()
			}

			if ch.Direction == dma.MemToPeriph {
				m.Port.WriteData(uint16(buf[i]))
			} else {
				buf[i] = byte(m.Port.ReadData())
			}
			m.pause()

			if count > 1 && i == count/2-1 {
				ch.HalfComplete()
			}
		}
		ch.Complete()
		if !ch.Circular {
			return
		}
	}
}

func (m *SimMover) pause() {
	if m.Pace > 0 {
		time.Sleep(m.Pace)
	} else {
		time.Sleep(0)
	}
}

func (m *SimMover) finishStop(ch *dma.Channel) {
	m.mu.Lock()
	async := m.async
	m.mu.Unlock()
	if async {
		ch.FinishAbort()
	}
}

// Abort stops the goroutine and waits for it to exit. No notification
// fires.
func (m *SimMover) Abort(ch *dma.Channel) error {
	m.mu.Lock()
	m.async = false
	stop, done := m.stop, m.done
	if stop != nil {
		select {
		case <-stop:
		default:
			close(stop)
		}
	}
	m.mu.Unlock()
	if done != nil {
		<-done
	}
	return nil
}

// AbortAsync requests a stop; the goroutine calls FinishAbort on its
// way out.
func (m *SimMover) AbortAsync(ch *dma.Channel) error {
	m.mu.Lock()
	m.async = true
	if m.stop != nil {
		select {
		case <-m.stop:
		default:
			close(m.stop)
		}
	}
	m.mu.Unlock()
	return nil
}
