package cmd

import (
	"log/slog"
	"os"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"
)

func NewCopyCommand() *cobra.Command {
	copyCmd := &cobra.Command{
		Use:   "copy <slot>",
		Short: "Copy a tunnel's endpoint to the clipboard",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			endpoint, err := fetchEndpoint(args[0])
			if err != nil {
				slog.Error("Could not connect to daemon.")
				os.Exit(1)
			}
			if endpoint == "" {
				slog.Warn("No endpoint known yet, nothing copied.")
				os.Exit(1)
			}
			if err := clipboard.WriteAll(endpoint); err != nil {
				slog.Error("Failed to copy to clipboard: " + err.Error())
				os.Exit(1)
			}
			slog.Info("Copied " + endpoint + " to clipboard")
		},
	}

	return copyCmd
}
