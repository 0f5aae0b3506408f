package qiprog

import "fmt"

// simDriver emulates a programmer with one attached flash chip entirely in
// memory. It backs unit tests and the CLI's hardware-free mode, and it is
// the stand-in for a real bus driver behind the device-side translator.
type simDriver struct {
	caps  Capabilities
	ids   []ChipID
	image []byte
	base  uint32 // chip image occupies [base, base+len(image)-1]

	bus      Bus
	clockKHz uint32
	vddMV    uint16
	vddOn    bool

	opens    int
	closes   int
	setAddrs int
}

// SimOptions configure a simulated programmer.
type SimOptions struct {
	// Capabilities reported by the programmer. Zero value gets a usable
	// LPC+FWH+SPI default.
	Capabilities Capabilities
	// IDs returned by READ_DEVICE_ID. A nil slice gets one JEDEC record
	// for an SST49LF160C (0xbf:0x4c); an empty non-nil slice means no
	// chip detected.
	IDs []ChipID
	// Image is the flash content; Base is the chip address of Image[0].
	// A nil Image simulates a 1 MiB chip at the top of the 32-bit space
	// filled with an address-derived pattern.
	Image []byte
	Base  uint32
}

const simDefaultChipSize = 1 << 20

func defaultSimCaps() Capabilities {
	return Capabilities{
		BusMaster: BusLPC | BusFWH | BusSPI,
		Voltages:  [10]uint16{3300, 1800},
	}
}

// simPattern is the deterministic filler for default images: cheap to
// recompute at any address, unlikely to alias across offsets.
func simPattern(addr uint32) byte {
	x := addr*2654435761 + 0x9e3779b9
	return byte(x>>24) ^ byte(x>>8)
}

// NewSimDevice registers a simulated programmer with the context and
// returns its device handle.
func NewSimDevice(ctx *Context, opts SimOptions) (*Device, error) {
	if ctx == nil {
		return nil, ErrArgument
	}
	s := &simDriver{
		caps:  opts.Capabilities,
		ids:   opts.IDs,
		image: opts.Image,
		base:  opts.Base,
	}
	if s.caps.BusMaster == 0 {
		s.caps = defaultSimCaps()
	}
	if s.image == nil {
		s.image = make([]byte, simDefaultChipSize)
		s.base = 0xffffffff - simDefaultChipSize + 1
		for i := range s.image {
			s.image[i] = simPattern(s.base + uint32(i))
		}
	}
	if len(s.ids) == 0 && opts.IDs == nil {
		s.ids = []ChipID{{Method: IDMethodJEDEC, VendorID: 0xbf, DeviceID: 0x4c}}
	}
	dev := ctx.addDevice(s)
	dev.Manufacturer = "QiProg"
	dev.Product = "simulated programmer"
	return dev, nil
}

func (s *simDriver) Open(dev *Device) error {
	s.opens++
	return nil
}

func (s *simDriver) Close(dev *Device) error {
	// Power-on defaults, as a hardware driver's close would restore.
	s.closes++
	s.bus = 0
	s.vddOn = false
	return nil
}

func (s *simDriver) Capabilities(dev *Device) (Capabilities, error) {
	return s.caps, nil
}

func (s *simDriver) SetBus(dev *Device, bus Bus) error {
	if bus&s.caps.BusMaster == 0 {
		return fmt.Errorf("%w: bus %v not supported", ErrArgument, bus)
	}
	s.bus = bus
	return nil
}

func (s *simDriver) SetClock(dev *Device, khz uint32) (uint32, error) {
	if khz == 0 {
		return 0, ErrArgument
	}
	s.clockKHz = khz
	return khz, nil
}

func (s *simDriver) ReadChipID(dev *Device) ([]ChipID, error) {
	return s.ids, nil
}

func (s *simDriver) SetAddress(dev *Device, start, end uint32) error {
	s.setAddrs++
	return nil
}

func (s *simDriver) SetEraseSize(dev *Device, chip uint8, sizes []EraseSize) error {
	return nil
}

func (s *simDriver) SetEraseCommand(dev *Device, chip uint8, cmd ChipCommand) error {
	return nil
}

func (s *simDriver) SetWriteCommand(dev *Device, chip uint8, cmd ChipCommand) error {
	return nil
}

func (s *simDriver) SetChipSize(dev *Device, chip uint8, size uint32) error {
	return nil
}

func (s *simDriver) SetSPITiming(dev *Device, tpuReadUs uint16, tcesNs uint16) error {
	return nil
}

func (s *simDriver) SetVdd(dev *Device, mv uint16, enabled bool) error {
	s.vddMV = mv
	s.vddOn = enabled
	return nil
}

// peek returns the chip byte at addr; addresses outside the image float
// high, as an open bus would.
func (s *simDriver) peek(addr uint32) byte {
	off := uint64(addr) - uint64(s.base)
	if addr < s.base || off >= uint64(len(s.image)) {
		return 0xff
	}
	return s.image[off]
}

func (s *simDriver) poke(addr uint32, b byte) {
	off := uint64(addr) - uint64(s.base)
	if addr < s.base || off >= uint64(len(s.image)) {
		return
	}
	s.image[off] = b
}

func (s *simDriver) Read8(dev *Device, addr uint32) (uint8, error) {
	return s.peek(addr), nil
}

func (s *simDriver) Read16(dev *Device, addr uint32) (uint16, error) {
	return uint16(s.peek(addr)) | uint16(s.peek(addr+1))<<8, nil
}

func (s *simDriver) Read32(dev *Device, addr uint32) (uint32, error) {
	var v uint32
	for i := uint32(0); i < 4; i++ {
		v |= uint32(s.peek(addr+i)) << (8 * i)
	}
	return v, nil
}

func (s *simDriver) Write8(dev *Device, addr uint32, data uint8) error {
	s.poke(addr, data)
	return nil
}

func (s *simDriver) Write16(dev *Device, addr uint32, data uint16) error {
	s.poke(addr, byte(data))
	s.poke(addr+1, byte(data>>8))
	return nil
}

func (s *simDriver) Write32(dev *Device, addr uint32, data uint32) error {
	for i := uint32(0); i < 4; i++ {
		s.poke(addr+i, byte(data>>(8*i)))
	}
	return nil
}

func (s *simDriver) ReadN(dev *Device, where uint32, dest []byte) error {
	for i := range dest {
		dest[i] = s.peek(where + uint32(i))
	}
	dev.window.pread = uint64(where) + uint64(len(dest))
	return nil
}

func (s *simDriver) WriteN(dev *Device, where uint32, src []byte) error {
	for i, b := range src {
		s.poke(where+uint32(i), b)
	}
	dev.window.pwrite = uint64(where) + uint64(len(src))
	return nil
}
