package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/frpdeck/frpdeck/internal/daemon"
)

func NewLogsCommand() *cobra.Command {
	var lines int

	logsCmd := &cobra.Command{
		Use:     "logs <slot>",
		Aliases: []string{"log"},
		Short:   "Stream a tunnel's process output",
		Long: `Streams the live output of the tunnel client in a slot, one line
per line in receipt order, starting with recent history.

Press Ctrl+C to exit.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			done := make(chan struct{})
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigChan
				close(done)
			}()

			command := fmt.Sprintf("LOGS %s %d", args[0], lines)
			if err := daemon.StreamCommand(command, os.Stdout, done); err != nil {
				slog.Error("Could not connect to daemon.")
				os.Exit(1)
			}
		},
	}
	logsCmd.Flags().IntVarP(&lines, "lines", "n", 20, "history lines to replay first")

	return logsCmd
}
