package qiprog

// controlPort carries one control request to a programmer. The USB master
// maps it onto real control transfers; the loopback port feeds a
// Translator in-process.
type controlPort interface {
	// controlIn issues an IN request and returns exactly want bytes.
	controlIn(op uint8, fieldA, fieldB uint16, want int) ([]byte, error)
	// controlOut issues an OUT request carrying body (possibly nil).
	controlOut(op uint8, fieldA, fieldB uint16, body []byte) error
}

// wireDriver marshals typed QiProg calls into wire requests on a
// controlPort and streams bulk data through its bulkEngine. Transport
// lifecycle stays with the embedding backend; everything here is the rigid
// field-packing / body-serialization / response-deserialization pattern
// shared by all wire transports.
type wireDriver struct {
	bulkEngine
	port controlPort
}

func (w *wireDriver) Capabilities(dev *Device) (Capabilities, error) {
	buf, err := w.port.controlIn(OpGetCapabilities, 0, 0, capsBodyLen)
	if err != nil {
		return Capabilities{}, err
	}
	return DecodeCapabilities(buf)
}

func (w *wireDriver) SetBus(dev *Device, bus Bus) error {
	hi, lo := splitAddr(uint32(bus))
	return w.port.controlOut(OpSetBus, hi, lo, nil)
}

func (w *wireDriver) SetClock(dev *Device, khz uint32) (uint32, error) {
	hi, lo := splitAddr(khz)
	buf, err := w.port.controlIn(OpSetClock, hi, lo, 4)
	if err != nil {
		return 0, err
	}
	return getLE32(buf, 0), nil
}

func (w *wireDriver) ReadChipID(dev *Device) ([]ChipID, error) {
	buf, err := w.port.controlIn(OpReadDeviceID, 0, 0, chipIDBodyLen)
	if err != nil {
		return nil, err
	}
	return DecodeChipIDs(buf)
}

func (w *wireDriver) SetAddress(dev *Device, start, end uint32) error {
	if err := w.port.controlOut(OpSetAddress, 0, 0, EncodeAddressRange(start, end)); err != nil {
		return err
	}
	// Read-ahead from the previous range is now stale.
	w.invalidate()
	return nil
}

func (w *wireDriver) SetEraseSize(dev *Device, chip uint8, sizes []EraseSize) error {
	body, err := EncodeEraseSizes(sizes)
	if err != nil {
		return err
	}
	return w.port.controlOut(OpSetEraseSize, 0, uint16(chip), body)
}

func (w *wireDriver) SetEraseCommand(dev *Device, chip uint8, cmd ChipCommand) error {
	return w.port.controlOut(OpSetEraseCommand, 0, uint16(chip), EncodeChipCommand(cmd))
}

func (w *wireDriver) SetWriteCommand(dev *Device, chip uint8, cmd ChipCommand) error {
	return w.port.controlOut(OpSetWriteCommand, 0, uint16(chip), EncodeChipCommand(cmd))
}

func (w *wireDriver) SetChipSize(dev *Device, chip uint8, size uint32) error {
	body := make([]byte, chipSizeLen)
	putLE32(size, body, 0)
	return w.port.controlOut(OpSetChipSize, 0, uint16(chip), body)
}

func (w *wireDriver) SetSPITiming(dev *Device, tpuReadUs uint16, tcesNs uint16) error {
	return w.port.controlOut(OpSetSPITiming, tpuReadUs, tcesNs, nil)
}

func (w *wireDriver) SetVdd(dev *Device, mv uint16, enabled bool) error {
	var on uint16
	if enabled {
		on = 1
	}
	return w.port.controlOut(OpSetVdd, mv, on, nil)
}

func (w *wireDriver) Read8(dev *Device, addr uint32) (uint8, error) {
	hi, lo := splitAddr(addr)
	buf, err := w.port.controlIn(OpRead8, hi, lo, 1)
	if err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (w *wireDriver) Read16(dev *Device, addr uint32) (uint16, error) {
	hi, lo := splitAddr(addr)
	buf, err := w.port.controlIn(OpRead16, hi, lo, 2)
	if err != nil {
		return 0, err
	}
	return getLE16(buf, 0), nil
}

func (w *wireDriver) Read32(dev *Device, addr uint32) (uint32, error) {
	hi, lo := splitAddr(addr)
	buf, err := w.port.controlIn(OpRead32, hi, lo, 4)
	if err != nil {
		return 0, err
	}
	return getLE32(buf, 0), nil
}

func (w *wireDriver) Write8(dev *Device, addr uint32, data uint8) error {
	hi, lo := splitAddr(addr)
	return w.port.controlOut(OpWrite8, hi, lo, []byte{data})
}

func (w *wireDriver) Write16(dev *Device, addr uint32, data uint16) error {
	hi, lo := splitAddr(addr)
	body := make([]byte, 2)
	putLE16(data, body, 0)
	return w.port.controlOut(OpWrite16, hi, lo, body)
}

func (w *wireDriver) Write32(dev *Device, addr uint32, data uint32) error {
	hi, lo := splitAddr(addr)
	body := make([]byte, 4)
	putLE32(data, body, 0)
	return w.port.controlOut(OpWrite32, hi, lo, body)
}

func (w *wireDriver) ReadN(dev *Device, where uint32, dest []byte) error {
	return w.bulkEngine.readN(dev, where, dest)
}

func (w *wireDriver) WriteN(dev *Device, where uint32, src []byte) error {
	return w.bulkEngine.writeN(dev, where, src)
}
