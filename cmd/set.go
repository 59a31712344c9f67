package cmd

import (
	"encoding/json"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/frpdeck/frpdeck/internal/daemon"
)

func NewSetCommand() *cobra.Command {
	var name, params, desc string

	setCmd := &cobra.Command{
		Use:   "set <slot>",
		Short: "Edit a tunnel's settings",
		Long: `Edits a slot's name, launch parameters, or description. A running
tunnel is restarted with the new settings. Descriptions are limited
to 18 characters; longer text is rejected and the previous
description is kept.`,
		Args: cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			edit := map[string]string{}
			if cmd.Flags().Changed("name") {
				edit["name"] = name
			}
			if cmd.Flags().Changed("params") {
				edit["params"] = params
			}
			if cmd.Flags().Changed("desc") {
				edit["desc"] = desc
			}
			if len(edit) == 0 {
				slog.Error("Nothing to change: pass --name, --params or --desc")
				os.Exit(1)
			}

			payload, err := json.Marshal(edit)
			if err != nil {
				slog.Error(err.Error())
				os.Exit(1)
			}

			daemon.EnsureDaemonIsRunning()
			response, err := daemon.SendCommand("SET " + args[0] + " " + string(payload))
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
	setCmd.Flags().StringVar(&name, "name", "", "display name")
	setCmd.Flags().StringVar(&params, "params", "", "launch parameters, e.g. './frpc -c frpc.ini'")
	setCmd.Flags().StringVar(&desc, "desc", "", "short description (max 18 characters)")

	return setCmd
}
