package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/testsched/internal/domain/booking"
)

var (
	Version   = "dev"
	CommitSHA = "none"
	BuildDate = "unknown"
)

// Exit codes besides 0 (booked or success) and 1 (any other error).
const (
	exitGaveUp      = 2
	exitInterrupted = 130
)

func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "testsched",
		Short:         "Polls a testing provider for open appointment slots and books the first one in your window",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newVersionCmd())
	root.AddCommand(newRunCmd())
	root.AddCommand(newSitesCmd())
	root.AddCommand(newHistoryCmd())

	return root
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, booking.ErrGaveUp):
		return exitGaveUp
	case errors.Is(err, errInterrupted):
		return exitInterrupted
	default:
		return 1
	}
}
