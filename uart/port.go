package uart

// Flag bits in the port status snapshot. Mirrors the usual status
// register layout of this peripheral family.
type Flag uint32

const (
	FlagParityErr  Flag = 1 << 0
	FlagFramingErr Flag = 1 << 1
	FlagNoiseErr   Flag = 1 << 2
	FlagOverrun    Flag = 1 << 3
	FlagIdle       Flag = 1 << 4
	FlagRxNotEmpty Flag = 1 << 5
	FlagTxComplete Flag = 1 << 6
	FlagTxEmpty    Flag = 1 << 7
)

// FlagErrMask covers the receive error flags.
const FlagErrMask = FlagParityErr | FlagFramingErr | FlagNoiseErr | FlagOverrun

// IRQ identifies interrupt enable sources.
type IRQ uint32

const (
	IRQTxEmpty    IRQ = 1 << 0
	IRQTxComplete IRQ = 1 << 1
	IRQRxNotEmpty IRQ = 1 << 2
	IRQParity     IRQ = 1 << 3
	IRQError      IRQ = 1 << 4 // noise, framing, overrun
	IRQIdle       IRQ = 1 << 5
)

// Request identifies the peripheral-side DMA request lines.
type Request uint8

const (
	RequestTx Request = iota
	RequestRx
)

// Direction selects the half-duplex transceiver direction.
type Direction uint8

const (
	DirectionTx Direction = iota
	DirectionRx
)

// Port is the register-access seam. Implementations wrap a real
// register block or a simulated one; every method is synchronous,
// atomic with respect to IRQHandler, and (except Apply) infallible.
type Port interface {
	Enable()
	Disable()

	// Apply programs line format and baud rate. May reject an
	// unsupported combination.
	Apply(cfg Config, line LineSetup) error

	Flags() Flag
	ClearFlag(Flag)

	EnableIRQ(IRQ)
	DisableIRQ(IRQ)
	IRQs() IRQ

	SetRequest(Request, bool)
	RequestEnabled(Request) bool

	// Data register access, 16 bits wide to carry 9-bit frames.
	WriteData(uint16)
	ReadData() uint16

	SendBreak()
	SetMute(bool)
	SetDirection(Direction)
}
