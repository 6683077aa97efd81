// cmd/devices.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mdwn/mtrack/internal/audio"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List playback-capable audio devices",
	RunE: func(cmd *cobra.Command, _ []string) error {
		devices, err := audio.ListDevices()
		if err != nil {
			return fmt.Errorf("list devices: %w", err)
		}
		if len(devices) == 0 {
			cmd.Println("No playback devices found.")
			return nil
		}
		for _, device := range devices {
			marker := " "
			if device.IsDefault {
				marker = "*"
			}
			cmd.Printf("%s %s\n", marker, device)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}
