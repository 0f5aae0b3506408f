package qiprog

import "fmt"

// addrWindow is the per-device chip-address window declared with
// SetAddress. end is inclusive; the cursors are held as 64-bit values so
// that "one past the end" is representable even when end is 0xFFFFFFFF.
// Invariant: start ≤ pread ≤ end+1 and start ≤ pwrite ≤ end+1.
type addrWindow struct {
	start  uint32
	end    uint32
	pread  uint64
	pwrite uint64
}

// setRange reseats the window and both cursors.
func (w *addrWindow) setRange(start, end uint32) {
	w.start = start
	w.end = end
	w.pread = uint64(start)
	w.pwrite = uint64(start)
}

// covers reports whether [where, where+n-1] lies within the declared range.
func (w *addrWindow) covers(where uint64, n int) bool {
	return where >= uint64(w.start) && where+uint64(n)-1 <= uint64(w.end)
}

// Device is one programmer known to a Context. The context owns the device
// for its whole lifetime; callers hold non-owning references. All methods
// validate their arguments before any wire contact.
type Device struct {
	ctx *Context
	drv Driver

	// Identification strings, when the transport can supply them.
	Manufacturer string
	Product      string
	Serial       string

	window addrWindow
	open   bool
}

// check is the guard every API entry point runs first.
func (d *Device) check() error {
	if d == nil || d.drv == nil {
		return ErrArgument
	}
	return nil
}

func (d *Device) requireOpen() error {
	if err := d.check(); err != nil {
		return err
	}
	if !d.open {
		return fmt.Errorf("%w: device is not open", ErrArgument)
	}
	return nil
}

// Open transitions the device from CLOSED to OPEN, claiming whatever the
// backend needs (the USB master claims interface 0 of the programmer).
func (d *Device) Open() error {
	if err := d.check(); err != nil {
		return err
	}
	if d.open {
		return nil
	}
	if err := d.drv.Open(d); err != nil {
		return err
	}
	d.open = true
	return nil
}

// Close returns the device to CLOSED and lets the backend restore hardware
// defaults.
func (d *Device) Close() error {
	if err := d.check(); err != nil {
		return err
	}
	if !d.open {
		return nil
	}
	d.open = false
	return d.drv.Close(d)
}

// Capabilities queries the fixed capability record of the programmer.
// Permitted on a CLOSED device; everything past open/capabilities requires
// OPEN state.
func (d *Device) Capabilities() (Capabilities, error) {
	if err := d.check(); err != nil {
		return Capabilities{}, err
	}
	return d.drv.Capabilities(d)
}

// SetBus selects the bus the programmer drives toward the flash chip. A
// zero mask is rejected before wire contact.
func (d *Device) SetBus(bus Bus) error {
	if err := d.requireOpen(); err != nil {
		return err
	}
	if bus == 0 {
		return fmt.Errorf("%w: empty bus mask", ErrArgument)
	}
	return d.drv.SetBus(d, bus)
}

// SetClock requests a bus clock in kHz and returns the clock actually set.
func (d *Device) SetClock(khz uint32) (uint32, error) {
	if err := d.requireOpen(); err != nil {
		return 0, err
	}
	return d.drv.SetClock(d, khz)
}

// ReadChipID asks the programmer to identify attached chips. The returned
// slice holds only present records, at most MaxChipIDs of them.
func (d *Device) ReadChipID() ([]ChipID, error) {
	if err := d.requireOpen(); err != nil {
		return nil, err
	}
	return d.drv.ReadChipID(d)
}

// SetAddress declares the chip-address window [start, end] for bulk I/O
// and reseats both cursors at start. Windows with end < start are invalid.
func (d *Device) SetAddress(start, end uint32) error {
	if err := d.requireOpen(); err != nil {
		return err
	}
	if end < start {
		return fmt.Errorf("%w: address range 0x%08x..0x%08x is inverted",
			ErrArgument, start, end)
	}
	if err := d.drv.SetAddress(d, start, end); err != nil {
		return err
	}
	d.window.setRange(start, end)
	return nil
}

// SetEraseSize reports the erase granularities of chip index chip.
func (d *Device) SetEraseSize(chip uint8, sizes []EraseSize) error {
	if err := d.requireOpen(); err != nil {
		return err
	}
	if len(sizes) == 0 || len(sizes) > MaxEraseEntries {
		return fmt.Errorf("%w: %d erase-size entries, limit %d",
			ErrArgument, len(sizes), MaxEraseEntries)
	}
	return d.drv.SetEraseSize(d, chip, sizes)
}

// SetEraseCommand configures the erase sequence for chip index chip.
func (d *Device) SetEraseCommand(chip uint8, cmd ChipCommand) error {
	if err := d.requireOpen(); err != nil {
		return err
	}
	return d.drv.SetEraseCommand(d, chip, cmd)
}

// SetWriteCommand configures the write sequence for chip index chip.
func (d *Device) SetWriteCommand(chip uint8, cmd ChipCommand) error {
	if err := d.requireOpen(); err != nil {
		return err
	}
	return d.drv.SetWriteCommand(d, chip, cmd)
}

// SetChipSize declares the size in bytes of chip index chip.
func (d *Device) SetChipSize(chip uint8, size uint32) error {
	if err := d.requireOpen(); err != nil {
		return err
	}
	if size == 0 {
		return fmt.Errorf("%w: zero chip size", ErrArgument)
	}
	return d.drv.SetChipSize(d, chip, size)
}

// SetSPITiming configures SPI power-up and chip-enable setup timing. The
// chip-enable setup time travels in a 16-bit control field.
func (d *Device) SetSPITiming(tpuReadUs uint16, tcesNs uint32) error {
	if err := d.requireOpen(); err != nil {
		return err
	}
	if tcesNs > 0xffff {
		return fmt.Errorf("%w: tces %dns exceeds 16-bit field", ErrArgument, tcesNs)
	}
	return d.drv.SetSPITiming(d, tpuReadUs, uint16(tcesNs))
}

// SetVdd sets the chip supply voltage in mV and switches it on or off.
func (d *Device) SetVdd(mv uint16, enabled bool) error {
	if err := d.requireOpen(); err != nil {
		return err
	}
	return d.drv.SetVdd(d, mv, enabled)
}

// Read8 reads one byte from the given chip address.
func (d *Device) Read8(addr uint32) (uint8, error) {
	if err := d.requireOpen(); err != nil {
		return 0, err
	}
	return d.drv.Read8(d, addr)
}

// Read16 reads a 16-bit value from the given chip address.
func (d *Device) Read16(addr uint32) (uint16, error) {
	if err := d.requireOpen(); err != nil {
		return 0, err
	}
	return d.drv.Read16(d, addr)
}

// Read32 reads a 32-bit value from the given chip address.
func (d *Device) Read32(addr uint32) (uint32, error) {
	if err := d.requireOpen(); err != nil {
		return 0, err
	}
	return d.drv.Read32(d, addr)
}

// Write8 writes one byte to the given chip address.
func (d *Device) Write8(addr uint32, data uint8) error {
	if err := d.requireOpen(); err != nil {
		return err
	}
	return d.drv.Write8(d, addr, data)
}

// Write16 writes a 16-bit value to the given chip address.
func (d *Device) Write16(addr uint32, data uint16) error {
	if err := d.requireOpen(); err != nil {
		return err
	}
	return d.drv.Write16(d, addr, data)
}

// Write32 writes a 32-bit value to the given chip address.
func (d *Device) Write32(addr uint32, data uint32) error {
	if err := d.requireOpen(); err != nil {
		return err
	}
	return d.drv.Write32(d, addr, data)
}

// ReadN streams len(dest) chip bytes starting at where into dest. Exactly
// len(dest) bytes of dest are written; consecutive calls over adjacent
// ranges return the same bytes as one combined call, with at most one
// SET_ADDRESS round-trip per contiguous stream.
func (d *Device) ReadN(where uint32, dest []byte) error {
	if err := d.requireOpen(); err != nil {
		return err
	}
	if len(dest) == 0 {
		return nil
	}
	if uint64(where)+uint64(len(dest))-1 > 0xffffffff {
		return fmt.Errorf("%w: read of %d bytes at 0x%08x passes the top of the address space",
			ErrArgument, len(dest), where)
	}
	return d.drv.ReadN(d, where, dest)
}

// WriteN streams src to the chip starting at where.
func (d *Device) WriteN(where uint32, src []byte) error {
	if err := d.requireOpen(); err != nil {
		return err
	}
	if len(src) == 0 {
		return nil
	}
	if uint64(where)+uint64(len(src))-1 > 0xffffffff {
		return fmt.Errorf("%w: write of %d bytes at 0x%08x passes the top of the address space",
			ErrArgument, len(src), where)
	}
	return d.drv.WriteN(d, where, src)
}

// Context returns the context owning this device.
func (d *Device) Context() *Context {
	return d.ctx
}

// Label returns a human-readable identification of the programmer.
func (d *Device) Label() string {
	switch {
	case d.Manufacturer != "" && d.Serial != "":
		return fmt.Sprintf("%s %s (s/n %s)", d.Manufacturer, d.Product, d.Serial)
	case d.Manufacturer != "":
		return fmt.Sprintf("%s %s", d.Manufacturer, d.Product)
	case d.Product != "":
		return d.Product
	}
	return "QiProg programmer"
}
