package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/bradfa/qiprog/pkg/chipdb"
	"github.com/bradfa/qiprog/pkg/qiprog"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	programmerType string
	usbVID         uint16
	usbPID         uint16
	busName        string
)

// addConnectionFlags registers the flags every device-touching subcommand
// shares.
func addConnectionFlags(c *cobra.Command) {
	c.Flags().StringVarP(&programmerType, "programmer", "p", "usb",
		"programmer backend (usb, sim)")
	c.Flags().Uint16Var(&usbVID, "vid", 0,
		"USB vendor ID override (default QiProg 0x1d50)")
	c.Flags().Uint16Var(&usbPID, "pid", 0,
		"USB product ID override (default QiProg 0x6076)")
	c.Flags().StringVarP(&busName, "bus", "b", "",
		"bus to select before the operation (isa, lpc, fwh, spi)")
}

func parseBus(name string) (qiprog.Bus, error) {
	switch strings.ToLower(name) {
	case "isa":
		return qiprog.BusISA, nil
	case "lpc":
		return qiprog.BusLPC, nil
	case "fwh":
		return qiprog.BusFWH, nil
	case "spi":
		return qiprog.BusSPI, nil
	case "bdm17":
		return qiprog.BusBDM17, nil
	case "bdm35":
		return qiprog.BusBDM35, nil
	case "aud":
		return qiprog.BusAUD, nil
	}
	return 0, fmt.Errorf("unknown bus %q (isa, lpc, fwh, spi, bdm17, bdm35, aud)", name)
}

// openProgrammer brings up a context, finds a programmer on the selected
// backend and opens it. The caller must ctx.Exit() when done.
func openProgrammer() (*qiprog.Context, *qiprog.Device, error) {
	ctx, err := qiprog.Init()
	if err != nil {
		return nil, nil, err
	}
	if verbose {
		ctx.SetLogOutput(os.Stderr)
		ctx.SetLogLevel(logrus.DebugLevel)
	}

	var dev *qiprog.Device
	switch programmerType {
	case "sim", "simulator":
		// Software mode still runs the full wire path: a simulated
		// chip behind the device-side translator, loopbacked to the
		// host marshaller.
		inner, err := qiprog.NewSimDevice(ctx, qiprog.SimOptions{})
		if err != nil {
			ctx.Exit()
			return nil, nil, err
		}
		dev, err = qiprog.NewLoopbackDevice(ctx, inner, 64)
		if err != nil {
			ctx.Exit()
			return nil, nil, err
		}

	case "usb":
		var opts *qiprog.ScanOptions
		if usbVID != 0 || usbPID != 0 {
			opts = &qiprog.ScanOptions{VendorID: usbVID, ProductID: usbPID}
		}
		devs, err := ctx.Scan(opts)
		if err != nil {
			ctx.Exit()
			return nil, nil, err
		}
		if len(devs) == 0 {
			ctx.Exit()
			return nil, nil, fmt.Errorf("no QiProg programmer found")
		}
		// Choose the first device for now.
		dev = devs[0]

	default:
		ctx.Exit()
		return nil, nil, fmt.Errorf("unknown programmer type %q (usb, sim)", programmerType)
	}

	if err := dev.Open(); err != nil {
		ctx.Exit()
		return nil, nil, fmt.Errorf("opening %s: %w", dev.Label(), err)
	}
	if verbose {
		fmt.Printf("Opened %s\n", dev.Label())
	}

	if busName != "" {
		bus, err := parseBus(busName)
		if err != nil {
			ctx.Exit()
			return nil, nil, err
		}
		if err := dev.SetBus(bus); err != nil {
			ctx.Exit()
			return nil, nil, fmt.Errorf("selecting %s bus: %w", bus, err)
		}
	}

	return ctx, dev, nil
}

// identifyChip reads the chip IDs and resolves the first one against the
// chip database.
func identifyChip(dev *qiprog.Device) (chipdb.Chip, error) {
	ids, err := dev.ReadChipID()
	if err != nil {
		return chipdb.Chip{}, fmt.Errorf("reading chip IDs: %w", err)
	}
	if len(ids) == 0 {
		return chipdb.Chip{}, fmt.Errorf("no flash chip connected to programmer")
	}

	// Only look at the first identified chip.
	id := ids[0]
	fmt.Printf("Identified chip with ID %x:%x\n", id.VendorID, id.DeviceID)

	chip, ok := chipdb.Lookup(id.VendorID, id.DeviceID)
	if !ok {
		return chipdb.Chip{}, fmt.Errorf("chip %x:%x is not in the chip database",
			id.VendorID, id.DeviceID)
	}
	fmt.Printf("Chip is a %s\n", chip.Name)
	return chip, nil
}
