package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/frpdeck/frpdeck/internal/daemon"
)

// fetchEndpoint asks the daemon for a slot's last-known endpoint.
func fetchEndpoint(slot string) (string, error) {
	response, err := daemon.SendCommand("ENDPOINT " + slot)
	if err != nil {
		return "", err
	}
	if response.HasError() {
		response.LogMessages()
		os.Exit(1)
	}

	jsonBytes, _ := json.Marshal(response.Data)
	var payload struct {
		Endpoint string `json:"endpoint"`
	}
	json.Unmarshal(jsonBytes, &payload)
	return payload.Endpoint, nil
}

func NewEndpointCommand() *cobra.Command {
	endpointCmd := &cobra.Command{
		Use:     "endpoint <slot>",
		Aliases: []string{"url", "ip"},
		Short:   "Print a tunnel's last-known endpoint",
		Args:    cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			endpoint, err := fetchEndpoint(args[0])
			if err != nil {
				slog.Error("Could not connect to daemon.")
				os.Exit(1)
			}
			if endpoint == "" {
				slog.Warn("No endpoint known yet.")
				return
			}
			fmt.Println(endpoint)
		},
	}

	return endpointCmd
}
