package serialio

import (
	"time"

	"mcuhal-go/x/mathx"
)

// LineOptions tunes a LineWatcher.
type LineOptions struct {
	// Idle flushes a partial line after this long with no new data.
	// Zero defaults to 50ms.
	Idle time.Duration
	// MaxLen force-flushes lines that grow past this length.
	// Clamped to [16, 4096]; zero defaults to 512.
	MaxLen int
	// Depth is the output channel capacity. Lines are dropped, not
	// blocked on, when the consumer falls behind. Zero defaults to 32.
	Depth int
}

func (o *LineOptions) fill() {
	if o.Idle == 0 {
		o.Idle = 50 * time.Millisecond
	}
	if o.MaxLen == 0 {
		o.MaxLen = 512
	}
	o.MaxLen = mathx.Clamp(o.MaxLen, 16, 4096)
	if o.Depth == 0 {
		o.Depth = 32
	}
}

// LineWatcher frames a Stream's bytes into lines: split on LF, CR
// ignored, partial lines flushed after an idle gap or at MaxLen.
type LineWatcher struct {
	s    *Stream
	opt  LineOptions
	out  chan string
	stop chan struct{}
	done chan struct{}
}

// WatchLines starts a watcher goroutine over s.
func WatchLines(s *Stream, opt LineOptions) *LineWatcher {
	opt.fill()
	w := &LineWatcher{
		s:    s,
		opt:  opt,
		out:  make(chan string, opt.Depth),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go w.run()
	return w
}

// Lines is the framed output. Closed when the watcher stops.
func (w *LineWatcher) Lines() <-chan string { return w.out }

// Stop ends the watcher, flushing any partial line, and waits for the
// goroutine to exit.
func (w *LineWatcher) Stop() {
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}
	<-w.done
}

func (w *LineWatcher) run() {
	defer close(w.done)
	defer close(w.out)

	line := make([]byte, 0, w.opt.MaxLen)
	tmp := make([]byte, 64)
	idle := time.NewTimer(w.opt.Idle)
	defer idle.Stop()

	for {
		n := w.s.TryRead(tmp)
		if n == 0 {
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(w.opt.Idle)
			select {
			case <-w.stop:
				line = w.flush(line)
				return
			case <-w.s.Readable():
				continue
			case <-idle.C:
				line = w.flush(line)
				continue
			}
		}
		for _, b := range tmp[:n] {
			switch b {
			case '\n':
				line = w.flush(line)
			case '\r':
				// stripped
			default:
				line = append(line, b)
				if len(line) >= w.opt.MaxLen {
					line = w.flush(line)
				}
			}
		}
	}
}

// flush emits the accumulated line if non-empty and returns the reset
// buffer. Slow consumers lose lines rather than stall the framer.
func (w *LineWatcher) flush(line []byte) []byte {
	if len(line) == 0 {
		return line
	}
	select {
	case w.out <- string(line):
	default:
	}
	return line[:0]
}
