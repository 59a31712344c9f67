package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/frpdeck/frpdeck/internal/core"
)

// NewRootCommand builds the frpdeck command tree.
func NewRootCommand() *cobra.Command {
	var configPath string
	var verbose int

	homeDir, _ := os.UserHomeDir()

	rootCmd := &cobra.Command{
		Use:   "frpdeck",
		Short: "frpdeck - frp tunnel client supervisor",
		Long: `frpdeck supervises a fixed set of frp tunnel client processes,
streams their output, and remembers each tunnel's public endpoint.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := core.LoadConfig(configPath)
			if err != nil {
				return err
			}
			if verbose > 0 {
				cfg.Verbose = verbose
			}
			core.Config = cfg
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(
		&configPath, "config-path", fmt.Sprintf("%s/%s", homeDir, core.BaseDirName),
		"config path",
	)
	rootCmd.PersistentFlags().CountVarP(&verbose, "verbose", "v", "more output, repeat for even more")

	rootCmd.AddCommand(
		NewDaemonCommand(),
		NewOnCommand(),
		NewOffCommand(),
		NewSetCommand(),
		NewStatusCommand(),
		NewLogsCommand(),
		NewAttachCommand(),
		NewEndpointCommand(),
		NewCopyCommand(),
		NewEventsCommand(),
		NewQuitCommand(),
		NewVersionCommand(),
	)

	return rootCmd
}
