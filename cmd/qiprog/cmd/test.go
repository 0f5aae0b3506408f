package cmd

import (
	"fmt"

	"github.com/bradfa/qiprog/pkg/qiprog"
	"github.com/spf13/cobra"
)

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Exercise a programmer and its protocol handling",
	Long: `Run the protocol exerciser against a programmer: single-cycle reads and
writes across all widths, then the bulk alignment suite that checks
buffer-overrun safety, resumable reads and read-ahead discarding.

LPC chips respond to address 0xFFBC0000 with their IDs, so the
single-cycle tests probe there; the single-cycle writes go to
0xFFFFFFF0, near the top of the address space.`,
	RunE: runTest,
}

func init() {
	rootCmd.AddCommand(testCmd)
	addConnectionFlags(testCmd)
}

func runTest(cmd *cobra.Command, args []string) error {
	ctx, dev, err := openProgrammer()
	if err != nil {
		return err
	}
	defer ctx.Exit()

	if err := stressTest(dev); err != nil {
		return err
	}
	if err := alignmentTest(dev); err != nil {
		return err
	}
	fmt.Println("All tests passed")
	return nil
}

// stressTest pokes every single-cycle operation once and checks the device
// ACKs them.
func stressTest(dev *qiprog.Device) error {
	if err := dev.SetBus(qiprog.BusLPC); err != nil {
		return fmt.Errorf("setting device to LPC bus: %w", err)
	}

	ids, err := dev.ReadChipID()
	if err != nil {
		return fmt.Errorf("reading IDs of connected chips: %w", err)
	}
	for _, id := range ids {
		fmt.Printf("Identified chip with [manufacturer:product] ID %x:%x\n",
			id.VendorID, id.DeviceID)
	}

	const probe = 0xffbc0000
	r8, err := dev.Read8(probe)
	if err != nil {
		return fmt.Errorf("read8 failure: %w", err)
	}
	fmt.Printf("read8: %.2x\n", r8)
	r16, err := dev.Read16(probe)
	if err != nil {
		return fmt.Errorf("read16 failure: %w", err)
	}
	fmt.Printf("read16: %.4x\n", r16)
	r32, err := dev.Read32(probe)
	if err != nil {
		return fmt.Errorf("read32 failure: %w", err)
	}
	fmt.Printf("read32: %.8x\n", r32)

	// Writes near the top of the address space only check that the chip
	// responds to write cycles.
	const scratch = 0xfffffff0
	if err := dev.Write8(scratch, 0xdb); err != nil {
		return fmt.Errorf("write8 failure: %w", err)
	}
	if err := dev.Write16(scratch, 0xd0b1); err != nil {
		return fmt.Errorf("write16 failure: %w", err)
	}
	if err := dev.Write32(scratch, 0x00c0ffee); err != nil {
		return fmt.Errorf("write32 failure: %w", err)
	}
	fmt.Println("Single-cycle writes worked")
	return nil
}

// alignmentTest checks that misaligned and partial bulk reads return
// correct data.
func alignmentTest(dev *qiprog.Device) error {
	const size = 1024
	const top = uint32(0xffffffff)
	base := top - size + 1

	// Read the top KiB in one pass as the reference.
	align := make([]byte, size)
	if err := dev.SetAddress(base, top); err != nil {
		return err
	}
	if err := dev.ReadN(base, align); err != nil {
		return err
	}

	// Fill the test buffer with the inverse so overwrites are visible.
	unalign := make([]byte, size)
	for i := range unalign {
		unalign[i] = ^align[i]
	}

	// Test 1: an incomplete read must not write past the bytes asked
	// for, no matter the device's transfer granularity.
	fmt.Println("Checking for buffer overflows")
	if err := dev.SetAddress(base, top); err != nil {
		return err
	}
	if err := dev.ReadN(base, unalign[:15]); err != nil {
		return err
	}
	for i := 0; i < 15; i++ {
		if unalign[i] != align[i] {
			return fmt.Errorf("failed to re-read (byte %d)", i)
		}
	}
	for i := 15; i < size; i++ {
		if unalign[i] != ^align[i] {
			return fmt.Errorf("buffer overflow (byte %d)", i)
		}
	}

	// Test 2: a read must continue where the last one left off, with
	// 1-byte granularity.
	fmt.Println("Checking if bulk reads are 1-byte granular")
	if err := dev.ReadN(base+15, unalign[15:size/2]); err != nil {
		return err
	}
	for i := 15; i < size/2; i++ {
		if unalign[i] != align[i] {
			return fmt.Errorf("read resumed incorrectly (byte %d)", i)
		}
	}

	// Test 3: data buffered beyond what the last read consumed must be
	// discarded once a new address range is set.
	fmt.Println("Checking if device properly discards obsolete buffers")
	if err := dev.SetAddress(base, top); err != nil {
		return err
	}
	if err := dev.ReadN(base, unalign); err != nil {
		return err
	}
	for i := 0; i < size; i++ {
		if unalign[i] != align[i] {
			return fmt.Errorf("buffer was not discarded (byte %d)", i)
		}
	}

	return nil
}
