// Package rcc exposes the clock tree to peripheral drivers. Drivers only
// ever need the frequency of the bus they hang off, so the surface is a
// single lookup interface plus a fixed-table implementation for hosts
// and tests.
package rcc

// Bus identifies a peripheral bus domain.
type Bus uint8

const (
	AHB Bus = iota
	APB1
	APB2
)

// Clocks reports bus frequencies in Hz. A zero return means the bus is
// ungated or unknown; drivers must treat that as a configuration error.
type Clocks interface {
	Hz(Bus) uint32
}

// Fixed is a static clock table.
type Fixed map[Bus]uint32

func (f Fixed) Hz(b Bus) uint32 { return f[b] }

// Default8MHz is the reset clock tree of the reference part: everything
// off the 8 MHz internal oscillator, no prescalers.
func Default8MHz() Fixed {
	return Fixed{AHB: 8_000_000, APB1: 8_000_000, APB2: 8_000_000}
}
