// Package wdg drives a window watchdog: a downcounter that resets the
// system if it is refreshed too early (above the window) or allowed to
// underflow. An optional early-wakeup interrupt fires one tick before
// underflow for last-chance housekeeping.
package wdg

import "mcuhal-go/errcode"

// Counter bounds. Refreshing is only legal while the downcounter is
// between Window and CounterMin; underflow happens at CounterMin-1.
const (
	CounterMin = 0x40
	CounterMax = 0x7F
)

// Prescaler divides the watchdog input clock.
type Prescaler uint8

const (
	Prescaler1 Prescaler = iota
	Prescaler2
	Prescaler4
	Prescaler8
)

// Config for Init. Window and Counter must lie in
// [CounterMin, CounterMax] with Window <= Counter.
type Config struct {
	Prescaler   Prescaler
	Window      uint8
	Counter     uint8
	EarlyWakeup bool
}

// Port is the register seam for the watchdog block.
type Port interface {
	// Program starts the watchdog. Once started it cannot be stopped
	// until reset; early-wakeup enable is likewise sticky.
	Program(Config)
	// Refresh reloads the downcounter with the configured value.
	Refresh(counter uint8)
	EarlyWakeupPending() bool
	ClearEarlyWakeup()
}

// Handle is one watchdog instance.
type Handle struct {
	Port   Port
	Config Config

	// EarlyWakeupCallback fires from IRQHandler after the flag is
	// cleared. Optional.
	EarlyWakeupCallback func(*Handle)
}

// Init validates the configuration and starts the watchdog. There is
// no DeInit: hardware keeps counting until system reset.
func (h *Handle) Init() error {
	if h.Port == nil {
		return errcode.InvalidParams
	}
	c := h.Config
	if c.Counter < CounterMin || c.Counter > CounterMax {
		return errcode.InvalidParams
	}
	if c.Window < CounterMin || c.Window > c.Counter {
		return errcode.InvalidParams
	}
	h.Port.Program(c)
	return nil
}

// Refresh reloads the downcounter. Calling it while the counter is
// still above the window resets the system; that policy lives in
// hardware (or the simulator), not here.
func (h *Handle) Refresh() error {
	if h.Port == nil {
		return errcode.InvalidParams
	}
	h.Port.Refresh(h.Config.Counter)
	return nil
}

// IRQHandler is the vector entry point for the early-wakeup interrupt.
func (h *Handle) IRQHandler() {
	if !h.Port.EarlyWakeupPending() {
		return
	}
	h.Port.ClearEarlyWakeup()
	if h.EarlyWakeupCallback != nil {
		h.EarlyWakeupCallback(h)
	}
}
