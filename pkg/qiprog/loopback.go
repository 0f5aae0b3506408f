package qiprog

import "fmt"

// loopbackDriver runs the full wire round-trip in-process: every typed
// call is marshalled exactly as the USB master would marshal it, then
// handed straight to a Translator, whose reply is demarshalled back. The
// bulk path pulls its packets from the translator's event loop the way a
// USB stack drains the firmware's IN ring. It exists so the whole codec
// and state machine can be exercised without a programmer on the bus, and
// it doubles as the reference wiring for translator integrations.
type loopbackDriver struct {
	wireDriver

	tr    *Translator
	inbox [][]byte
}

// NewLoopbackDevice registers a wire-loopback programmer whose far end is
// the given translator-managed device, typically a simulator. epSize
// stands in for the endpoint max-packet size on both directions; 64
// matches common full-speed firmware.
func NewLoopbackDevice(ctx *Context, inner *Device, epSize int) (*Device, error) {
	if ctx == nil || inner == nil || epSize <= 0 {
		return nil, ErrArgument
	}
	l := &loopbackDriver{}
	tr, err := NewTranslator(l.acceptPacket, epSize, epSize)
	if err != nil {
		return nil, err
	}
	if err := tr.ChangeDevice(inner); err != nil {
		return nil, err
	}
	l.tr = tr
	l.wireDriver.port = l
	l.bulkEngine.init(epSize, epSize)
	l.bulkEngine.newConn = l.newBulkConn
	l.bulkEngine.transfer = l.bulkTransfer
	return ctx.addDevice(l), nil
}

func (l *loopbackDriver) Open(dev *Device) error  { return nil }
func (l *loopbackDriver) Close(dev *Device) error { return nil }

// acceptPacket is the translator's PacketSender: the "USB stack" here is a
// queue the host side drains.
func (l *loopbackDriver) acceptPacket(p []byte) int {
	l.inbox = append(l.inbox, append([]byte(nil), p...))
	return len(p)
}

func (l *loopbackDriver) controlIn(op uint8, fieldA, fieldB uint16, want int) ([]byte, error) {
	resp, err := l.tr.HandleControlRequest(op, fieldA, fieldB, nil)
	if err != nil {
		// The host only ever sees the STALL, not the device's reason.
		return nil, fmt.Errorf("%w: control 0x%02x stalled", ErrDevice, op)
	}
	if len(resp) < want {
		return nil, fmt.Errorf("%w: control 0x%02x returned %d of %d bytes",
			ErrDevice, op, len(resp), want)
	}
	return resp[:want], nil
}

func (l *loopbackDriver) controlOut(op uint8, fieldA, fieldB uint16, body []byte) error {
	if _, err := l.tr.HandleControlRequest(op, fieldA, fieldB, body); err != nil {
		return fmt.Errorf("%w: control 0x%02x stalled", ErrDevice, op)
	}
	return nil
}

// bulkTransfer services one packet. IN packets come from the translator's
// ring, driven until it produces one; OUT packets feed the chip-write
// stream.
func (l *loopbackDriver) bulkTransfer(in bool, buf []byte) (int, error) {
	if !in {
		if err := l.tr.HandleBulkOut(buf); err != nil {
			return 0, fmt.Errorf("%w: bulk OUT rejected", ErrDevice)
		}
		return len(buf), nil
	}
	// The ring sends at most one packet per tick, so a bounded number of
	// ticks either produces a packet or proves the stream is dry.
	for tick := 0; len(l.inbox) == 0; tick++ {
		if tick > 2*bulkRingSlots+2 {
			return 0, fmt.Errorf("%w: bulk IN stream is dry", ErrDevice)
		}
		if err := l.tr.HandleEvents(); err != nil {
			return 0, err
		}
	}
	p := l.inbox[0]
	l.inbox = l.inbox[1:]
	return copy(buf, p), nil
}

func (l *loopbackDriver) newBulkConn(in bool) (bulkConn, func()) {
	return &queuedConn{xfer: func(buf []byte) (int, error) {
		return l.bulkTransfer(in, buf)
	}}, func() {}
}
