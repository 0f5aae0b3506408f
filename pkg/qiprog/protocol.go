package qiprog

import "fmt"

// QiProg control request opcodes. Control requests use bmRequestType 0xC0
// (IN) or 0x40 (OUT); all multi-byte fields on the wire are little-endian,
// including wValue and wIndex.
const (
	OpGetCapabilities = 0x00
	OpSetBus          = 0x01
	OpSetClock        = 0x02
	OpReadDeviceID    = 0x03
	OpSetAddress      = 0x04
	OpSetEraseSize    = 0x05
	OpSetEraseCommand = 0x06
	OpSetWriteCommand = 0x07
	OpSetChipSize     = 0x08
	OpSetSPITiming    = 0x20
	OpRead8           = 0x30
	OpRead16          = 0x31
	OpRead32          = 0x32
	OpWrite8          = 0x33
	OpWrite16         = 0x34
	OpWrite32         = 0x35
	OpSetVdd          = 0xF0
)

// Control transfer direction constants (bmRequestType).
const (
	reqIn  = 0xC0
	reqOut = 0x40
)

// Bus identifies the electrical bus by which a programmer speaks to a flash
// chip. Values may be OR'ed together where a bitmask of supported buses is
// expected; commands that select a bus take exactly one bit.
type Bus uint32

const (
	BusISA Bus = 1 << iota
	BusLPC
	BusFWH
	BusSPI
	BusBDM17
	BusBDM35
	BusAUD
)

var busNames = []struct {
	bus  Bus
	name string
}{
	{BusISA, "ISA"},
	{BusLPC, "LPC"},
	{BusFWH, "FWH"},
	{BusSPI, "SPI"},
	{BusBDM17, "BDM17"},
	{BusBDM35, "BDM35"},
	{BusAUD, "AUD"},
}

// String renders a bus bitmask as a space-separated list of bus names.
func (b Bus) String() string {
	if b == 0 {
		return "none"
	}
	s := ""
	for _, n := range busNames {
		if b&n.bus == 0 {
			continue
		}
		if s != "" {
			s += " "
		}
		s += n.name
	}
	if rest := b &^ (BusISA | BusLPC | BusFWH | BusSPI | BusBDM17 | BusBDM35 | BusAUD); rest != 0 {
		if s != "" {
			s += " "
		}
		s += fmt.Sprintf("unknown(0x%x)", uint32(rest))
	}
	return s
}

// Chip identification methods.
const (
	IDMethodNone    = 0x00 // record absent; terminates the chip-ID list
	IDMethodJEDEC   = 0x01 // JEDEC ID over ISA/LPC/FWH
	IDMethodSPIRes  = 0x20 // SPI RES
	IDMethodSPIRems = 0x21 // SPI REMS
)

// Wire sizes of the structured control bodies.
const (
	capsWireLen     = 30 // u16 iset + u32 bus + u32 max_direct + 10 × u16 mV
	capsBodyLen     = 32 // capabilities travel in a 32-byte control body
	chipIDWireLen   = 7  // u8 method + u16 vendor + u32 device
	chipIDBodyLen   = chipIDWireLen * MaxChipIDs
	addrRangeLen    = 8 // u32 start + u32 end
	eraseSizeLen    = 5 // u8 kind + u32 size
	chipCommandLen  = 4 // u8 cmd + u8 subcmd + u16 flags
	chipSizeLen     = 4 // u32 size
	maxControlBody  = 64
	MaxChipIDs      = 9  // chip-ID records per READ_DEVICE_ID response
	MaxEraseEntries = 12 // erase-size entries fitting a control body
)

// Capabilities is the fixed record a programmer reports at power-on.
// Read-only to hosts.
type Capabilities struct {
	// InstructionSet is a bitmask of supported EP2 instruction sets, zero
	// when the device implements none.
	InstructionSet uint16
	// BusMaster is a bitmask of Bus values the programmer can drive.
	// Non-zero for any operational programmer.
	BusMaster Bus
	// MaxDirectData is the number of bytes the device can store for the
	// EP2 instruction-set mechanism.
	MaxDirectData uint32
	// Voltages lists supplies in mV. The list ends at the first zero, or
	// holds exactly ten entries when no zero is present.
	Voltages [10]uint16
}

// VoltageList returns the meaningful prefix of the voltage array.
func (c *Capabilities) VoltageList() []uint16 {
	for i, mv := range c.Voltages {
		if mv == 0 {
			return c.Voltages[:i]
		}
	}
	return c.Voltages[:]
}

// EncodeCapabilities serializes caps into a 32-byte control body.
func EncodeCapabilities(caps *Capabilities) []byte {
	buf := make([]byte, capsBodyLen)
	putLE16(caps.InstructionSet, buf, 0)
	putLE32(uint32(caps.BusMaster), buf, 2)
	putLE32(caps.MaxDirectData, buf, 6)
	for i, mv := range caps.Voltages {
		putLE16(mv, buf, 10+2*i)
	}
	return buf
}

// DecodeCapabilities parses a capabilities record from a control body.
func DecodeCapabilities(buf []byte) (Capabilities, error) {
	var caps Capabilities
	if len(buf) < capsWireLen {
		return caps, fmt.Errorf("%w: capabilities body is %d bytes, need %d",
			ErrDevice, len(buf), capsWireLen)
	}
	caps.InstructionSet = getLE16(buf, 0)
	caps.BusMaster = Bus(getLE32(buf, 2))
	caps.MaxDirectData = getLE32(buf, 6)
	for i := range caps.Voltages {
		caps.Voltages[i] = getLE16(buf, 10+2*i)
	}
	return caps, nil
}

// ChipID identifies one flash chip attached to a programmer.
type ChipID struct {
	Method   uint8 // IDMethod constant; IDMethodNone terminates a list
	VendorID uint16
	DeviceID uint32
}

// EncodeChipIDs serializes up to MaxChipIDs records into the 63-byte
// READ_DEVICE_ID body. Unused trailing records stay zeroed, terminating the
// list on the wire.
func EncodeChipIDs(ids []ChipID) []byte {
	buf := make([]byte, chipIDBodyLen)
	for i, id := range ids {
		if i == MaxChipIDs {
			break
		}
		base := i * chipIDWireLen
		buf[base] = id.Method
		putLE16(id.VendorID, buf, base+1)
		putLE32(id.DeviceID, buf, base+3)
	}
	return buf
}

// DecodeChipIDs parses a READ_DEVICE_ID body, stopping at the first record
// with an absent ID method.
func DecodeChipIDs(buf []byte) ([]ChipID, error) {
	if len(buf) < chipIDBodyLen {
		return nil, fmt.Errorf("%w: chip-ID body is %d bytes, need %d",
			ErrDevice, len(buf), chipIDBodyLen)
	}
	var ids []ChipID
	for i := 0; i < MaxChipIDs; i++ {
		base := i * chipIDWireLen
		if buf[base] == IDMethodNone {
			break
		}
		ids = append(ids, ChipID{
			Method:   buf[base],
			VendorID: getLE16(buf, base+1),
			DeviceID: getLE32(buf, base+3),
		})
	}
	return ids, nil
}

// EncodeAddressRange serializes a SET_ADDRESS body. end is inclusive.
func EncodeAddressRange(start, end uint32) []byte {
	buf := make([]byte, addrRangeLen)
	putLE32(start, buf, 0)
	putLE32(end, buf, 4)
	return buf
}

// DecodeAddressRange parses a SET_ADDRESS body.
func DecodeAddressRange(buf []byte) (start, end uint32, err error) {
	if len(buf) != addrRangeLen {
		return 0, 0, fmt.Errorf("%w: address range body is %d bytes, need %d",
			ErrArgument, len(buf), addrRangeLen)
	}
	return getLE32(buf, 0), getLE32(buf, 4), nil
}

// EraseSize describes one erase granularity of a chip.
type EraseSize struct {
	Kind uint8
	Size uint32
}

// EncodeEraseSizes serializes SET_ERASE_SIZE entries. At most
// MaxEraseEntries fit the 64-byte control body.
func EncodeEraseSizes(sizes []EraseSize) ([]byte, error) {
	if len(sizes) == 0 || len(sizes) > MaxEraseEntries {
		return nil, fmt.Errorf("%w: %d erase-size entries, limit %d",
			ErrArgument, len(sizes), MaxEraseEntries)
	}
	buf := make([]byte, len(sizes)*eraseSizeLen)
	for i, es := range sizes {
		base := i * eraseSizeLen
		buf[base] = es.Kind
		putLE32(es.Size, buf, base+1)
	}
	return buf, nil
}

// DecodeEraseSizes parses a SET_ERASE_SIZE body.
func DecodeEraseSizes(buf []byte) ([]EraseSize, error) {
	if len(buf) == 0 || len(buf)%eraseSizeLen != 0 ||
		len(buf)/eraseSizeLen > MaxEraseEntries {
		return nil, fmt.Errorf("%w: erase-size body of %d bytes",
			ErrArgument, len(buf))
	}
	sizes := make([]EraseSize, len(buf)/eraseSizeLen)
	for i := range sizes {
		base := i * eraseSizeLen
		sizes[i].Kind = buf[base]
		sizes[i].Size = getLE32(buf, base+1)
	}
	return sizes, nil
}

// ChipCommand carries a SET_ERASE_COMMAND or SET_WRITE_COMMAND payload.
type ChipCommand struct {
	Cmd    uint8
	Subcmd uint8
	Flags  uint16
}

// EncodeChipCommand serializes a chip command body.
func EncodeChipCommand(cmd ChipCommand) []byte {
	buf := make([]byte, chipCommandLen)
	buf[0] = cmd.Cmd
	buf[1] = cmd.Subcmd
	putLE16(cmd.Flags, buf, 2)
	return buf
}

// DecodeChipCommand parses a chip command body.
func DecodeChipCommand(buf []byte) (ChipCommand, error) {
	if len(buf) != chipCommandLen {
		return ChipCommand{}, fmt.Errorf("%w: chip command body is %d bytes, need %d",
			ErrArgument, len(buf), chipCommandLen)
	}
	return ChipCommand{
		Cmd:    buf[0],
		Subcmd: buf[1],
		Flags:  getLE16(buf, 2),
	}, nil
}

// splitAddr packs a 32-bit chip address (or bus bitmask) into the wValue and
// wIndex control fields: most-significant half first.
func splitAddr(v uint32) (hi, lo uint16) {
	return uint16(v >> 16), uint16(v & 0xffff)
}

// joinAddr reassembles a 32-bit value from the wValue and wIndex fields.
func joinAddr(hi, lo uint16) uint32 {
	return uint32(hi)<<16 | uint32(lo)
}
