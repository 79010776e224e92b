package client

import (
	"github.com/spf13/cobra"
)

// Commands returns the client command set: remote append and tail plus the
// offline read and bench commands.
func Commands() []*cobra.Command {
	return []*cobra.Command{
		newAppendCommand(),
		newTailCommand(),
		newReadCommand(),
		newBenchCommand(),
	}
}

// NewRoot constructs a root Cobra command holding the client commands.
func NewRoot() *cobra.Command {
	root := &cobra.Command{
		Use:   "logstreams",
		Short: "logstreams client commands",
	}
	root.AddCommand(Commands()...)
	return root
}
