package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/frpdeck/frpdeck/internal/daemon"
)

func NewEventsCommand() *cobra.Command {
	var limit int

	eventsCmd := &cobra.Command{
		Use:   "events",
		Short: "Show recent tunnel lifecycle events",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			response, err := daemon.SendCommand(fmt.Sprintf("EVENTS %d", limit))
			if err != nil {
				slog.Error("Could not connect to daemon.")
				os.Exit(1)
			}
			if response.HasError() {
				response.LogMessages()
				os.Exit(1)
			}

			jsonBytes, _ := json.Marshal(response.Data)
			var payload struct {
				Events []struct {
					Slot      int    `json:"slot"`
					Tunnel    string `json:"tunnel"`
					EventType string `json:"event_type"`
					Details   string `json:"details"`
					Timestamp string `json:"timestamp"`
				} `json:"events"`
			}
			json.Unmarshal(jsonBytes, &payload)

			for _, e := range payload.Events {
				line := fmt.Sprintf("%s [%d] %s %s", e.Timestamp, e.Slot, e.Tunnel, e.EventType)
				if e.Details != "" {
					line += " (" + e.Details + ")"
				}
				fmt.Println(line)
			}
		},
	}
	eventsCmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum events to show")

	return eventsCmd
}
