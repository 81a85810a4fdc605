// Package gpio defines the pin abstraction peripheral drivers and
// board code share. Hardware backends and simulators implement Pin.
package gpio

// Mode selects the pin function.
type Mode uint8

const (
	ModeInput Mode = iota
	ModeOutputPushPull
	ModeOutputOpenDrain
	ModeAltFunc
	ModeAnalog
)

// Pull selects the internal resistor.
type Pull uint8

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

// Config describes a pin setup. AltFunc is only meaningful with
// ModeAltFunc and names the peripheral mux selection.
type Config struct {
	Mode    Mode
	Pull    Pull
	AltFunc uint8
}

// Pin is one GPIO line.
type Pin interface {
	Configure(Config) error
	Set(high bool)
	Get() bool
	Toggle()
}
