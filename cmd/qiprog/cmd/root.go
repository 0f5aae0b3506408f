package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "qiprog",
	Short: "QiProg flash programmer tool",
	Long: `Drive QiProg USB flash programmers: query capabilities, identify the
attached flash chip, and read, write or verify its contents.

Examples:
  qiprog info                          # Show programmer capabilities
  qiprog read -o dump.bin              # Read the chip to a file
  qiprog verify -i dump.bin            # Compare chip contents to a file
  qiprog test --programmer sim         # Run the protocol exerciser in software`,
	Version: "0.2.0",
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
