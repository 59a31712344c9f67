package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/frpdeck/frpdeck/internal/daemon"
)

func NewDaemonCommand() *cobra.Command {
	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the supervisor daemon in the foreground",
		Long: `Runs the frpdeck daemon: loads the tunnel table, listens on the
control socket, and supervises tunnel processes until stopped.`,
		Args: cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			d, err := daemon.New()
			if err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}
			d.Run()
		},
	}

	return daemonCmd
}
