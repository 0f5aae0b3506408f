package qiprog

// Driver is the dispatch surface between a Device and one programmer
// backend. Every protocol command has one method; ReadN and WriteN carry
// the bulk streams. A Driver instance belongs to exactly one Device and
// keeps whatever private state its transport needs.
//
// Backends in this package: the USB master (host side of the wire), the
// loopback driver (marshals onto a Translator in-process, the same path a
// programmer's firmware runs), and the simulator used by tests and the CLI.
type Driver interface {
	// Open prepares the backend for use: the USB master claims the
	// programmer's interface, a firmware driver configures its hardware.
	Open(dev *Device) error
	// Close releases the backend and restores hardware defaults.
	Close(dev *Device) error

	Capabilities(dev *Device) (Capabilities, error)
	SetBus(dev *Device, bus Bus) error
	// SetClock requests a bus clock in kHz and reports the clock the
	// programmer actually achieved.
	SetClock(dev *Device, khz uint32) (uint32, error)
	ReadChipID(dev *Device) ([]ChipID, error)
	// SetAddress declares the inclusive chip-address window for
	// subsequent bulk I/O and reseats both cursors at start.
	SetAddress(dev *Device, start, end uint32) error
	SetEraseSize(dev *Device, chip uint8, sizes []EraseSize) error
	SetEraseCommand(dev *Device, chip uint8, cmd ChipCommand) error
	SetWriteCommand(dev *Device, chip uint8, cmd ChipCommand) error
	SetChipSize(dev *Device, chip uint8, size uint32) error
	SetSPITiming(dev *Device, tpuReadUs uint16, tcesNs uint16) error
	SetVdd(dev *Device, mv uint16, enabled bool) error

	Read8(dev *Device, addr uint32) (uint8, error)
	Read16(dev *Device, addr uint32) (uint16, error)
	Read32(dev *Device, addr uint32) (uint32, error)
	Write8(dev *Device, addr uint32, data uint8) error
	Write16(dev *Device, addr uint32, data uint16) error
	Write32(dev *Device, addr uint32, data uint32) error

	// ReadN fills dest with chip bytes starting at where. WriteN sends
	// src to the chip starting at where. Both advance the device's
	// cursors and compose across calls: consecutive calls over adjacent
	// ranges behave like one call over the union.
	ReadN(dev *Device, where uint32, dest []byte) error
	WriteN(dev *Device, where uint32, src []byte) error
}
