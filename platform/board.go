package platform

import (
	"mcuhal-go/rcc"
	"mcuhal-go/uart"
)

// Board ties simulated peripherals to their drivers and plays the part
// of the interrupt controller: Pump scans for asserted interrupt lines
// and calls the matching vector handlers, the cooperative equivalent
// of NVIC dispatch.
type Board struct {
	Clocks rcc.Fixed

	uarts []boardUART
}

type boardUART struct {
	h *uart.Handle
	p *SimPort
}

// NewBoard returns a board with the reset clock tree.
func NewBoard() *Board {
	return &Board{Clocks: rcc.Default8MHz()}
}

// AttachUART registers a handle/port pair for interrupt dispatch.
func (b *Board) AttachUART(h *uart.Handle, p *SimPort) {
	b.uarts = append(b.uarts, boardUART{h: h, p: p})
}

// Pump services pending interrupts until either no line is asserted
// or maxServices handlers have run, and returns the number of handler
// invocations. The bound keeps a stuck line from spinning forever.
func (b *Board) Pump(maxServices int) int {
	services := 0
	for services < maxServices {
		progress := false
		for _, u := range b.uarts {
			if u.p.pendingIRQ() {
				u.h.IRQHandler()
				services++
				progress = true
				if services >= maxServices {
					return services
				}
			}
		}
		if !progress {
			return services
		}
	}
	return services
}
