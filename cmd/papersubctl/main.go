package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const (
	exitOK       = 0
	exitRejected = 1
	exitError    = 2
)

var rootCmd = &cobra.Command{
	Use:           "papersubctl",
	Short:         "Administer the submission store",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.AddCommand(newImportCmd(), newTokenCmd(), newReindexCmd(), newHistoryCmd())
	if err := rootCmd.Execute(); err != nil {
		var rejected errRejected
		if errors.As(err, &rejected) {
			fmt.Fprintln(os.Stderr, rejected.Error())
			os.Exit(exitRejected)
		}
		fmt.Fprintf(os.Stderr, "papersubctl: %v\n", err)
		os.Exit(exitError)
	}
	os.Exit(exitOK)
}
