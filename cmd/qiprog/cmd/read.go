package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var readOutput string

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Read the flash chip into a file",
	Long: `Identify the attached flash chip and bulk-read its whole contents into
the output file. The chip is mapped at the top of the 32-bit address
space, as LPC and FWH firmware hubs are.`,
	RunE: runRead,
}

func init() {
	rootCmd.AddCommand(readCmd)
	addConnectionFlags(readCmd)
	readCmd.Flags().StringVarP(&readOutput, "output", "o", "", "output file")
	readCmd.MarkFlagRequired("output")
}

// chipRange maps a chip size to its window at the top of the address
// space.
func chipRange(size uint32) (base, top uint32) {
	top = 0xffffffff
	return top - size + 1, top
}

func runRead(cmd *cobra.Command, args []string) error {
	ctx, dev, err := openProgrammer()
	if err != nil {
		return err
	}
	defer ctx.Exit()

	chip, err := identifyChip(dev)
	if err != nil {
		return err
	}

	base, top := chipRange(chip.Size)
	if err := dev.SetAddress(base, top); err != nil {
		return fmt.Errorf("setting bulk address: %w", err)
	}

	fmt.Printf("Reading %d KiB...\n", chip.Size/1024)
	buf := make([]byte, chip.Size)
	if err := dev.ReadN(base, buf); err != nil {
		return fmt.Errorf("bulk read failed: %w", err)
	}

	if err := os.WriteFile(readOutput, buf, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", readOutput, err)
	}
	fmt.Printf("Wrote %s\n", readOutput)
	return nil
}
