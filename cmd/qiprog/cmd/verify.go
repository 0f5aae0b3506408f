package cmd

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var verifyInput string

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Compare the flash chip contents to a file",
	RunE:  runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	addConnectionFlags(verifyCmd)
	verifyCmd.Flags().StringVarP(&verifyInput, "input", "i", "", "reference file")
	verifyCmd.MarkFlagRequired("input")
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx, dev, err := openProgrammer()
	if err != nil {
		return err
	}
	defer ctx.Exit()

	chip, err := identifyChip(dev)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(verifyInput)
	if err != nil {
		return fmt.Errorf("reading %s: %w", verifyInput, err)
	}
	if uint32(len(data)) != chip.Size {
		return fmt.Errorf("file size %d differs from chip size %d", len(data), chip.Size)
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

	if !bytes.Equal(buf, data) {
		return fmt.Errorf("verification failed: contents differ")
	}
	fmt.Println("Match")
	return nil
}
