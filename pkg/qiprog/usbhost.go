package qiprog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/gousb"
	"github.com/sirupsen/logrus"
)

// Per-operation deadline on the wire.
const wireTimeout = 3000 * time.Millisecond

// Endpoint 1 carries the chip I/O streams; endpoint 2 is reserved for the
// instruction-set mechanism and not driven by this package.
const bulkEndpointNum = 1

// usbDriver is the host-side USB master: it carries marshalled QiProg
// requests over real control and bulk transfers toward a programmer on the
// bus.
type usbDriver struct {
	wireDriver

	usbDev *gousb.Device
	cfg    *gousb.Config
	intf   *gousb.Interface
	epIn   *gousb.InEndpoint
	epOut  *gousb.OutEndpoint

	log *logrus.Entry
}

// newUSBDriver wraps an enumerated (but not yet claimed) gousb device.
func newUSBDriver(ud *gousb.Device, log *logrus.Entry) (*usbDriver, error) {
	ud.ControlTimeout = wireTimeout
	u := &usbDriver{usbDev: ud, log: log}
	u.wireDriver.port = u
	return u, nil
}

// release drops the underlying USB handle. Called by Context.Exit after
// Close.
func (u *usbDriver) release() {
	if u.usbDev != nil {
		u.usbDev.Close()
		u.usbDev = nil
	}
}

// Open claims interface 0 of the programmer and locates the bulk
// endpoints. The endpoint max-packet sizes come from the device's own
// descriptors; 64 is typical but never assumed.
func (u *usbDriver) Open(dev *Device) error {
	if u.usbDev == nil {
		return ErrArgument
	}
	if err := u.usbDev.SetAutoDetach(true); err != nil {
		// Only meaningful on platforms with kernel drivers to detach.
		u.log.Debugf("auto-detach not available: %v", err)
	}

	cfg, err := u.usbDev.Config(1)
	if err != nil {
		return fmt.Errorf("%w: selecting configuration: %v", ErrDevice, err)
	}
	intf, err := cfg.Interface(0, 0)
	if err != nil {
		cfg.Close()
		return fmt.Errorf("%w: claiming interface 0: %v", ErrDevice, err)
	}

	var epIn *gousb.InEndpoint
	var epOut *gousb.OutEndpoint
	for _, ep := range intf.Setting.Endpoints {
		if ep.TransferType != gousb.TransferTypeBulk || ep.Number != bulkEndpointNum {
			continue
		}
		switch ep.Direction {
		case gousb.EndpointDirectionIn:
			epIn, err = intf.InEndpoint(ep.Number)
		case gousb.EndpointDirectionOut:
			epOut, err = intf.OutEndpoint(ep.Number)
		}
		if err != nil {
			intf.Close()
			cfg.Close()
			return fmt.Errorf("%w: opening endpoint %d: %v", ErrDevice, ep.Number, err)
		}
	}
	if epIn == nil || epOut == nil {
		intf.Close()
		cfg.Close()
		return fmt.Errorf("%w: programmer lacks bulk endpoint %d IN/OUT",
			ErrDevice, bulkEndpointNum)
	}

	u.cfg = cfg
	u.intf = intf
	u.epIn = epIn
	u.epOut = epOut
	u.bulkEngine.init(epIn.Desc.MaxPacketSize, epOut.Desc.MaxPacketSize)
	u.bulkEngine.newConn = u.newBulkConn
	u.bulkEngine.transfer = u.bulkTransfer
	u.log.Debugf("max packet size: %d IN, %d OUT", u.epSizeIn, u.epSizeOut)
	return nil
}

// Close releases the claimed interface; the device handle stays with the
// context until Exit.
func (u *usbDriver) Close(dev *Device) error {
	u.invalidate()
	if u.intf != nil {
		u.intf.Close()
		u.intf = nil
	}
	if u.cfg != nil {
		u.cfg.Close()
		u.cfg = nil
	}
	u.epIn = nil
	u.epOut = nil
	return nil
}

func (u *usbDriver) ReadN(dev *Device, where uint32, dest []byte) error {
	if u.epIn == nil {
		return ErrArgument
	}
	return u.wireDriver.ReadN(dev, where, dest)
}

func (u *usbDriver) WriteN(dev *Device, where uint32, src []byte) error {
	if u.epOut == nil {
		return ErrArgument
	}
	return u.wireDriver.WriteN(dev, where, src)
}

// mapUSBErr folds transport errors into the QiProg taxonomy.
func mapUSBErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, gousb.ErrorTimeout),
		errors.Is(err, gousb.TransferTimedOut):
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrDevice, err)
}

func (u *usbDriver) controlIn(op uint8, fieldA, fieldB uint16, want int) ([]byte, error) {
	buf := make([]byte, want)
	n, err := u.usbDev.Control(reqIn, op, fieldA, fieldB, buf)
	if err != nil {
		u.log.Errorf("control 0x%02x failed: %v", op, err)
		return nil, mapUSBErr(err)
	}
	if n != want {
		return nil, fmt.Errorf("%w: control 0x%02x returned %d of %d bytes",
			ErrDevice, op, n, want)
	}
	return buf, nil
}

func (u *usbDriver) controlOut(op uint8, fieldA, fieldB uint16, body []byte) error {
	n, err := u.usbDev.Control(reqOut, op, fieldA, fieldB, body)
	if err != nil {
		u.log.Errorf("control 0x%02x failed: %v", op, err)
		return mapUSBErr(err)
	}
	if n != len(body) {
		return fmt.Errorf("%w: control 0x%02x sent %d of %d bytes",
			ErrDevice, op, n, len(body))
	}
	return nil
}

// bulkTransfer moves one packet synchronously. It serves the sub-packet
// tails of bulk calls and runs each transfer of the pipeline's endpoint
// worker.
func (u *usbDriver) bulkTransfer(in bool, buf []byte) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), wireTimeout)
	defer cancel()
	var n int
	var err error
	if in {
		n, err = u.epIn.ReadContext(ctx, buf)
	} else {
		n, err = u.epOut.WriteContext(ctx, buf)
	}
	return n, mapUSBErr(err)
}

// usbBulkJob rides the queue between the submitting goroutine and the
// endpoint worker.
type usbBulkJob struct {
	buf  []byte
	done func(n int, err error)
	n    int
	err  error
}

// usbBulkConn runs submitted transfers on one worker goroutine in
// submission order and queues completions back to the event-driving
// goroutine. Per-endpoint ordering is what the pipeline's resubmission
// addressing relies on; the channel pair is the completion-waiting
// primitive the cooperative reference gets from libusb_handle_events.
type usbBulkConn struct {
	jobs    chan *usbBulkJob
	results chan *usbBulkJob
}

// newBulkConn opens a pipelined stream on the bulk endpoint. The returned
// release function must run once the call's transfers have drained.
func (u *usbDriver) newBulkConn(in bool) (bulkConn, func()) {
	conn := &usbBulkConn{
		jobs:    make(chan *usbBulkJob, maxInFlight),
		results: make(chan *usbBulkJob, maxInFlight),
	}
	go func() {
		for job := range conn.jobs {
			job.n, job.err = u.bulkTransfer(in, job.buf)
			conn.results <- job
		}
	}()
	return conn, func() { close(conn.jobs) }
}

func (c *usbBulkConn) Submit(buf []byte, done func(n int, err error)) error {
	c.jobs <- &usbBulkJob{buf: buf, done: done}
	return nil
}

func (c *usbBulkConn) DriveEvents() error {
	// Block for one completion, then run everything already queued.
	job := <-c.results
	job.done(job.n, job.err)
	for {
		select {
		case job := <-c.results:
			job.done(job.n, job.err)
		default:
			return nil
		}
	}
}
