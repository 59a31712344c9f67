package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/frpdeck/frpdeck/internal/daemon"
)

func NewOnCommand() *cobra.Command {
	onCmd := &cobra.Command{
		Use:     "on <slot>",
		Aliases: []string{"start"},
		Short:   "Start the tunnel in a slot",
		Args:    cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			daemon.EnsureDaemonIsRunning()
			response, err := daemon.SendCommand("ON " + args[0])
			if err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
			response.LogMessages()
			if response.HasError() {
				os.Exit(1)
			}
		},
	}

	return onCmd
}
