package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/frpdeck/frpdeck/internal/daemon"
)

func NewOffCommand() *cobra.Command {
	offCmd := &cobra.Command{
		Use:     "off <slot>",
		Aliases: []string{"stop"},
		Short:   "Stop the tunnel in a slot",
		Args:    cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			response, err := daemon.SendCommand("OFF " + args[0])
			if err != nil {
				slog.Error("Could not connect to daemon. Nothing to stop.")
				os.Exit(1)
			}
			response.LogMessages()
			if response.HasError() {
				os.Exit(1)
			}
		},
	}

	return offCmd
}
