// Package chipdb maps flash-chip identification codes to chip parameters.
// It is a deliberately small lookup table for the qiprog tool; it knows
// nothing about buses or programmers.
package chipdb

// Chip describes one known flash part.
type Chip struct {
	VendorID uint16
	DeviceID uint32
	Size     uint32 // bytes
	Name     string
}

const (
	kib = 1 << 10
	mib = 1 << 20
)

// The list is not meant to be comprehensive, in chips or in the parameters
// it stores; it covers the parts the exerciser is commonly pointed at.
var chips = []Chip{
	{VendorID: 0xbf, DeviceID: 0x4c, Size: 2 * mib, Name: "SST49LF160C"},
	{VendorID: 0xbf, DeviceID: 0x5b, Size: 1 * mib, Name: "SST49LF080A"},
	{VendorID: 0xbf, DeviceID: 0x50, Size: 512 * kib, Name: "SST49LF040"},
	{VendorID: 0xef, DeviceID: 0x4016, Size: 4 * mib, Name: "W25Q32"},
	{VendorID: 0xef, DeviceID: 0x4017, Size: 8 * mib, Name: "W25Q64"},
	{VendorID: 0xc2, DeviceID: 0x2016, Size: 4 * mib, Name: "MX25L3205D"},
}

// Lookup finds a chip by its identification codes.
func Lookup(vendorID uint16, deviceID uint32) (Chip, bool) {
	for _, c := range chips {
		if c.VendorID == vendorID && c.DeviceID == deviceID {
			return c, true
		}
	}
	return Chip{}, false
}

// All returns the known chips.
func All() []Chip {
	out := make([]Chip, len(chips))
	copy(out, chips)
	return out
}
