package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/frpdeck/frpdeck/internal/daemon"
	"github.com/frpdeck/frpdeck/internal/tunnel"
)

// slotView mirrors the daemon's status payload.
type slotView struct {
	tunnel.SlotStatus
	CPUPercent float64 `json:"cpu_percent,omitempty"`
	MemoryRSS  uint64  `json:"memory_rss,omitempty"`
	Alive      bool    `json:"alive"`
}

func NewStatusCommand() *cobra.Command {
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show all tunnel slots",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			response, err := daemon.SendCommand("STATUS")
			if err != nil {
				slog.Warn("No tunnels running (daemon is not running).")
				return
			}

			jsonBytes, _ := json.Marshal(response.Data)
			var payload struct {
				Slots []slotView `json:"slots"`
			}
			json.Unmarshal(jsonBytes, &payload)

			format, _ := cmd.Flags().GetString("format")
			switch format {
			case "text":
				for _, slot := range payload.Slots {
					marker := " "
					if slot.State == tunnel.StateRunning {
						marker = "*"
					}
					line := fmt.Sprintf("%s [%d] %s", marker, slot.Slot, slot.Name)
					if slot.Description != "" {
						line += fmt.Sprintf(" (%s)", slot.Description)
					}
					if slot.State == tunnel.StateRunning {
						line += fmt.Sprintf(" - PID %d", slot.Pid)
						if slot.MemoryRSS > 0 {
							line += fmt.Sprintf(", RSS %d KiB", slot.MemoryRSS/1024)
						}
						if !slot.Alive {
							line += " (process gone)"
						}
					}
					if slot.Endpoint != "" {
						line += fmt.Sprintf(" -> %s", slot.Endpoint)
					}
					fmt.Println(line)
				}
			case "json":
				fmt.Println(string(jsonBytes))
			default:
				slog.Error("unknown format")
				os.Exit(1)
			}
		},
	}
	statusCmd.Flags().StringP("format", "F", "text", "Format to use (text/json)")

	return statusCmd
}
