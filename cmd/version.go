package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/frpdeck/frpdeck/internal/core"
	"github.com/frpdeck/frpdeck/internal/daemon"
)

func NewVersionCommand() *cobra.Command {
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Long:  `Show version of both client and daemon (if running)`,
		Run: func(cmd *cobra.Command, args []string) {
			clientFormatted := core.FormatVersion(core.Version)
			fmt.Fprintf(os.Stderr, "Client version: %s\n", clientFormatted)

			response, err := daemon.SendCommand("VERSION")
			if err != nil {
				fmt.Fprintln(os.Stderr, "Daemon: not running")
				return
			}

			dataMap, ok := response.Data.(map[string]interface{})
			if !ok {
				return
			}
			version, ok := dataMap["version"].(string)
			if !ok {
				return
			}
			daemonFormatted := core.FormatVersion(version)
			fmt.Fprintf(os.Stderr, "Daemon version: %s\n", daemonFormatted)
			if clientFormatted != daemonFormatted {
				slog.Warn(fmt.Sprintf("Version mismatch! Client %s and daemon %s differ. Consider restarting the daemon.", clientFormatted, daemonFormatted))
			}
		},
	}

	return versionCmd
}
