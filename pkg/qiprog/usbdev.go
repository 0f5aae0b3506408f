package qiprog

import "fmt"

// The device side of the wire: a translator that demarshals QiProg USB
// requests into driver calls on the programmer firmware. The translator is
// not a driver in the usual sense — it sits between the USB stack and one
// or more bus drivers internal to the device, which stay entirely
// invisible to the host.
//
// Integration contract: forward every control transfer with type VENDOR
// and recipient DEVICE (bmRequestType 0xC0 or 0x40) to
// HandleControlRequest. A nil error means the transaction may be ACKed and
// any returned bytes sent back to the host; a non-nil error means the
// control endpoint must be STALLed. Call HandleEvents from the main loop
// between USB interrupt servicing to keep bulk IN data flowing.

// bulkRingSlots is the number of bulk IN packets buffered ahead of the
// host.
const bulkRingSlots = 4

type taskStatus uint8

const (
	taskIdle taskStatus = iota
	taskReadySend
)

// transferTask is one slot of the bulk IN ring.
type transferTask struct {
	buf    []byte
	len    int
	status taskStatus
}

// PacketSender hands one bulk IN packet to the device's USB stack. It
// reports how many bytes the stack accepted; anything short of the full
// packet leaves the packet queued for a later attempt.
type PacketSender func(p []byte) int

// Translator demarshals inbound wire requests for one programmer device.
// All state is explicit: embedding firmware creates one Translator and
// feeds it, rather than this package keeping a current-device global.
type Translator struct {
	dev *Device

	maxRxPacket int
	maxTxPacket int
	send        PacketSender

	window     addrWindow
	haveWindow bool
	tasks      [bulkRingSlots]transferTask
	head       int
}

// NewTranslator builds a translator for a device-side USB stack whose
// endpoint 1 accepts maxRxPacket-byte OUT and maxTxPacket-byte IN packets.
// send is how finished bulk IN packets reach the stack.
func NewTranslator(send PacketSender, maxRxPacket, maxTxPacket int) (*Translator, error) {
	if send == nil || maxRxPacket <= 0 || maxTxPacket <= 0 {
		return nil, ErrArgument
	}
	t := &Translator{
		maxRxPacket: maxRxPacket,
		maxTxPacket: maxTxPacket,
		send:        send,
	}
	for i := range t.tasks {
		t.tasks[i].buf = make([]byte, maxTxPacket)
	}
	return t, nil
}

// ChangeDevice selects the device the translator operates on. An already
// selected device is closed first, letting its driver restore the hardware
// to power-on defaults; the new device is opened before returning. Useful
// during SET_BUS handling when each bus has a separate driver.
func (t *Translator) ChangeDevice(dev *Device) error {
	if dev == nil {
		return ErrArgument
	}
	if t.dev != nil {
		if err := t.dev.Close(); err != nil {
			return err
		}
	}
	t.dev = dev
	return dev.Open()
}

// Device returns the currently selected device.
func (t *Translator) Device() *Device {
	return t.dev
}

// dropBufferedBulk idles the whole ring. Runs on SET_ADDRESS so the host
// never sees packets read ahead under a superseded window.
func (t *Translator) dropBufferedBulk() {
	for i := range t.tasks {
		t.tasks[i].status = taskIdle
		t.tasks[i].len = 0
	}
	t.head = 0
}

// HandleControlRequest dispatches one inbound control request. payload
// carries the data stage of OUT requests (nil when wLength is zero). For
// IN requests the returned bytes form the response; they are never longer
// than 64 bytes. A non-nil error signals that the endpoint must be
// STALLed.
func (t *Translator) HandleControlRequest(bRequest uint8, wValue, wIndex uint16, payload []byte) ([]byte, error) {
	if t.dev == nil {
		return nil, fmt.Errorf("%w: no device selected", ErrArgument)
	}
	dev := t.dev

	switch bRequest {
	case OpGetCapabilities:
		caps, err := dev.Capabilities()
		if err != nil {
			return nil, err
		}
		return EncodeCapabilities(&caps), nil

	case OpSetBus:
		return nil, dev.SetBus(Bus(joinAddr(wValue, wIndex)))

	case OpSetClock:
		actual, err := dev.SetClock(joinAddr(wValue, wIndex))
		if err != nil {
			return nil, err
		}
		buf := make([]byte, 4)
		putLE32(actual, buf, 0)
		return buf, nil

	case OpReadDeviceID:
		ids, err := dev.ReadChipID()
		if err != nil {
			return nil, err
		}
		return EncodeChipIDs(ids), nil

	case OpSetAddress:
		start, end, err := DecodeAddressRange(payload)
		if err != nil {
			return nil, err
		}
		if err := dev.SetAddress(start, end); err != nil {
			return nil, err
		}
		// Reseat the streaming cursor and forget read-ahead from the
		// old range before the host asks for bulk data.
		t.window.setRange(start, end)
		t.haveWindow = true
		t.dropBufferedBulk()
		return nil, nil

	case OpSetEraseSize:
		sizes, err := DecodeEraseSizes(payload)
		if err != nil {
			return nil, err
		}
		return nil, dev.SetEraseSize(uint8(wIndex), sizes)

	case OpSetEraseCommand:
		cmd, err := DecodeChipCommand(payload)
		if err != nil {
			return nil, err
		}
		return nil, dev.SetEraseCommand(uint8(wIndex), cmd)

	case OpSetWriteCommand:
		cmd, err := DecodeChipCommand(payload)
		if err != nil {
			return nil, err
		}
		return nil, dev.SetWriteCommand(uint8(wIndex), cmd)

	case OpSetChipSize:
		if len(payload) != chipSizeLen {
			return nil, fmt.Errorf("%w: chip size body is %d bytes", ErrArgument, len(payload))
		}
		return nil, dev.SetChipSize(uint8(wIndex), getLE32(payload, 0))

	case OpSetSPITiming:
		return nil, dev.SetSPITiming(wValue, uint32(wIndex))

	case OpRead8:
		v, err := dev.Read8(joinAddr(wValue, wIndex))
		if err != nil {
			return nil, err
		}
		return []byte{v}, nil

	case OpRead16:
		v, err := dev.Read16(joinAddr(wValue, wIndex))
		if err != nil {
			return nil, err
		}
		buf := make([]byte, 2)
		putLE16(v, buf, 0)
		return buf, nil

	case OpRead32:
		v, err := dev.Read32(joinAddr(wValue, wIndex))
		if err != nil {
			return nil, err
		}
		buf := make([]byte, 4)
		putLE32(v, buf, 0)
		return buf, nil

	case OpWrite8:
		if len(payload) != 1 {
			return nil, fmt.Errorf("%w: write8 body is %d bytes", ErrArgument, len(payload))
		}
		return nil, dev.Write8(joinAddr(wValue, wIndex), payload[0])

	case OpWrite16:
		if len(payload) != 2 {
			return nil, fmt.Errorf("%w: write16 body is %d bytes", ErrArgument, len(payload))
		}
		return nil, dev.Write16(joinAddr(wValue, wIndex), getLE16(payload, 0))

	case OpWrite32:
		if len(payload) != 4 {
			return nil, fmt.Errorf("%w: write32 body is %d bytes", ErrArgument, len(payload))
		}
		return nil, dev.Write32(joinAddr(wValue, wIndex), getLE32(payload, 0))

	case OpSetVdd:
		return nil, dev.SetVdd(wValue, wIndex != 0)
	}

	return nil, fmt.Errorf("%w: unknown request 0x%02x", ErrDevice, bRequest)
}

// HandleBulkOut consumes one bulk OUT packet of the chip-write stream,
// writing it at the streaming cursor.
func (t *Translator) HandleBulkOut(p []byte) error {
	if t.dev == nil {
		return fmt.Errorf("%w: no device selected", ErrArgument)
	}
	if !t.haveWindow {
		return fmt.Errorf("%w: no address window declared", ErrArgument)
	}
	if len(p) == 0 {
		return nil
	}
	w := &t.window
	if w.pwrite+uint64(len(p))-1 > uint64(w.end) {
		return fmt.Errorf("%w: bulk write passes end of window", ErrArgument)
	}
	if err := t.dev.WriteN(uint32(w.pwrite), p); err != nil {
		return err
	}
	w.pwrite += uint64(len(p))
	return nil
}

// HandleEvents runs one tick of the bulk IN machinery. Packets leave in
// cursor order and at most bulkRingSlots packets are ever buffered ahead
// of the host.
func (t *Translator) HandleEvents() error {
	if t.dev == nil || !t.haveWindow {
		return nil
	}

	// Try to hand the oldest finished packet to the USB stack. Only a
	// fully accepted packet retires its slot.
	if task := &t.tasks[t.head]; task.status == taskReadySend {
		if n := t.send(task.buf[:task.len]); n == task.len {
			task.status = taskIdle
			task.len = 0
			t.head = (t.head + 1) % bulkRingSlots
		}
	}

	// Refill one free slot while the window still has bytes to stream.
	w := &t.window
	if w.pread > uint64(w.end) {
		return nil
	}
	slot := -1
	for i := 0; i < bulkRingSlots; i++ {
		idx := (t.head + i) % bulkRingSlots
		if t.tasks[idx].status == taskIdle {
			slot = idx
			break
		}
	}
	if slot < 0 {
		return nil
	}

	n := uint64(t.maxTxPacket)
	if left := uint64(w.end) - w.pread + 1; left < n {
		n = left
	}
	task := &t.tasks[slot]
	if err := t.dev.ReadN(uint32(w.pread), task.buf[:n]); err != nil {
		return err
	}
	task.len = int(n)
	task.status = taskReadySend
	w.pread += n
	return nil
}
