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

func NewAttachCommand() *cobra.Command {
	var lines int

	attachCmd := &cobra.Command{
		Use:   "attach",
		Short: "Stream the daemon's own logs",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			done := make(chan struct{})
			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigChan
				close(done)
			}()

			command := fmt.Sprintf("ATTACH %d", lines)
			if err := daemon.StreamCommand(command, os.Stdout, done); err != nil {
				slog.Error("Could not connect to daemon.")
				os.Exit(1)
			}
		},
	}
	attachCmd.Flags().IntVarP(&lines, "lines", "n", 20, "history lines to replay first")

	return attachCmd
}
