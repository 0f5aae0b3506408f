package qiprog

import (
	"fmt"
	"io"

	"github.com/google/gousb"
	"github.com/sirupsen/logrus"
)

// Default USB identification of QiProg programmers.
const (
	VendorIDOpenmoko     = 0x1d50
	ProductIDVultureProg = 0x6076
)

// ScanOptions select which USB devices a Scan considers. The zero value
// matches the default QiProg VID/PID.
type ScanOptions struct {
	VendorID  uint16
	ProductID uint16
}

func (o *ScanOptions) vidpid() (gousb.ID, gousb.ID) {
	vid, pid := uint16(VendorIDOpenmoko), uint16(ProductIDVultureProg)
	if o != nil && o.VendorID != 0 {
		vid = o.VendorID
	}
	if o != nil && o.ProductID != 0 {
		pid = o.ProductID
	}
	return gousb.ID(vid), gousb.ID(pid)
}

// Context owns the USB transport state and the live device registry. No
// device handle may outlive its context. A single goroutine owns a context;
// none of its methods are reentrant.
type Context struct {
	usb     *gousb.Context
	devices []*Device
	log     *logrus.Logger
}

// Init allocates a fresh context. The USB transport is brought up lazily on
// the first Scan, so contexts serving only in-process backends never touch
// the USB stack.
func Init() (*Context, error) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return &Context{log: log}, nil
}

// Exit tears down every device and the transport. The context must not be
// used afterwards.
func (c *Context) Exit() error {
	if c == nil {
		return ErrArgument
	}
	for _, dev := range c.devices {
		dev.Close()
		if ud, ok := dev.drv.(*usbDriver); ok {
			ud.release()
		}
	}
	c.devices = nil
	if c.usb != nil {
		if err := c.usb.Close(); err != nil {
			return fmt.Errorf("%w: closing USB context: %v", ErrDevice, err)
		}
		c.usb = nil
	}
	return nil
}

// SetLogOutput directs diagnostics to w. Contexts log nowhere by default.
func (c *Context) SetLogOutput(w io.Writer) {
	c.log.SetOutput(w)
}

// SetLogLevel adjusts diagnostic verbosity. Diagnostics never affect
// behavior; logrus evaluates lazily below the active level.
func (c *Context) SetLogLevel(level logrus.Level) {
	c.log.SetLevel(level)
}

// Logger exposes the context logger for embedding applications.
func (c *Context) Logger() *logrus.Logger {
	return c.log
}

// Devices returns the registry of programmers discovered so far.
func (c *Context) Devices() []*Device {
	return c.devices
}

// addDevice appends a device to the registry and hands it back.
func (c *Context) addDevice(drv Driver) *Device {
	dev := &Device{ctx: c, drv: drv}
	c.devices = append(c.devices, dev)
	return dev
}

func (c *Context) usbContext() *gousb.Context {
	if c.usb == nil {
		c.usb = gousb.NewContext()
	}
	return c.usb
}

// Scan enumerates programmers on the USB bus and appends one CLOSED device
// per match to the registry. Pass opts to look for a non-default VID/PID.
// Finding no devices is not an error.
func (c *Context) Scan(opts *ScanOptions) ([]*Device, error) {
	if c == nil {
		return nil, ErrArgument
	}
	vid, pid := opts.vidpid()
	log := c.log.WithField("drv", "usb")

	usbDevs, err := c.usbContext().OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Vendor == vid && desc.Product == pid
	})
	// gousb hands back the devices it could open even when some matches
	// failed; access errors on unrelated devices are routine on Linux.
	if err != nil && err != gousb.ErrorAccess {
		for _, ud := range usbDevs {
			ud.Close()
		}
		return nil, fmt.Errorf("%w: enumerating %04x:%04x: %v", ErrDevice, uint16(vid), uint16(pid), err)
	}

	var found []*Device
	for _, ud := range usbDevs {
		drv, err := newUSBDriver(ud, log)
		if err != nil {
			log.Warnf("skipping %04x:%04x: %v", uint16(vid), uint16(pid), err)
			ud.Close()
			continue
		}
		dev := c.addDevice(drv)
		// String descriptors are best-effort; not every firmware
		// populates them.
		dev.Manufacturer, _ = ud.Manufacturer()
		dev.Product, _ = ud.Product()
		dev.Serial, _ = ud.SerialNumber()
		log.Debugf("found programmer: %s", dev.Label())
		found = append(found, dev)
	}
	return found, nil
}
