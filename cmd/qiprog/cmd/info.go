package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show programmer capabilities and attached chips",
	RunE:  runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
	addConnectionFlags(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) error {
	ctx, dev, err := openProgrammer()
	if err != nil {
		return err
	}
	defer ctx.Exit()

	caps, err := dev.Capabilities()
	if err != nil {
		return fmt.Errorf("querying device capabilities: %w", err)
	}

	fmt.Printf("Programmer: %s\n", dev.Label())
	fmt.Printf("Device supports %s\n", caps.BusMaster)
	for _, mv := range caps.VoltageList() {
		fmt.Printf("Supported voltage: %dmV\n", mv)
	}
	if caps.InstructionSet != 0 {
		fmt.Printf("Instruction sets: 0x%04x (max direct data %d bytes)\n",
			caps.InstructionSet, caps.MaxDirectData)
	}

	ids, err := dev.ReadChipID()
	if err != nil {
		return fmt.Errorf("reading chip IDs: %w", err)
	}
	if len(ids) == 0 {
		fmt.Println("No flash chip connected")
		return nil
	}
	for _, id := range ids {
		fmt.Printf("Chip ID %x:%x (method 0x%02x)\n", id.VendorID, id.DeviceID, id.Method)
	}
	return nil
}
