package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var writeInput string

var writeCmd = &cobra.Command{
	Use:   "write",
	Short: "Write a file to the flash chip",
	Long: `Identify the attached flash chip and bulk-write the input file over its
whole contents. The file size must match the chip size exactly.`,
	RunE: runWrite,
}

func init() {
	rootCmd.AddCommand(writeCmd)
	addConnectionFlags(writeCmd)
	writeCmd.Flags().StringVarP(&writeInput, "input", "i", "", "input file")
	writeCmd.MarkFlagRequired("input")
}

func runWrite(cmd *cobra.Command, args []string) error {
	ctx, dev, err := openProgrammer()
	if err != nil {
		return err
	}
	defer ctx.Exit()

	chip, err := identifyChip(dev)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(writeInput)
	if err != nil {
		return fmt.Errorf("reading %s: %w", writeInput, err)
	}
	if uint32(len(data)) != chip.Size {
		return fmt.Errorf("file size %d differs from chip size %d", len(data), chip.Size)
	}

	base, top := chipRange(chip.Size)
	if err := dev.SetAddress(base, top); err != nil {
		return fmt.Errorf("setting bulk address: %w", err)
	}

	fmt.Printf("Writing %d KiB...\n", chip.Size/1024)
	if err := dev.WriteN(base, data); err != nil {
		return fmt.Errorf("bulk write failed: %w", err)
	}
	fmt.Println("Done")
	return nil
}
