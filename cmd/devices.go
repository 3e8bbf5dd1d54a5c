package cmd

import (
	"fmt"
	"log/slog"
	"os"

	pa "github.com/drgolem/go-portaudio/portaudio"
	"github.com/spf13/cobra"
)

// devicesCmd represents the devices command.
var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List available PortAudio output devices",
	Long: `List the output devices PortAudio can see on this system, along with the
index to pass to "play --device".`,
	Args: cobra.NoArgs,
	Run:  runDevices,
}

func init() {
	rootCmd.AddCommand(devicesCmd)
}

func runDevices(cmd *cobra.Command, args []string) {
	if err := pa.Initialize(); err != nil {
		slog.Error("Failed to initialize PortAudio", "error", err)
		os.Exit(1)
	}
	defer pa.Terminate()

	count, err := pa.GetDeviceCount()
	if err != nil {
		slog.Error("Failed to enumerate devices", "error", err)
		os.Exit(1)
	}

	defaultOut, _ := pa.GetDefaultOutputDevice()

	fmt.Printf("%-5s %-40s %-10s %-10s\n", "Index", "Name", "Channels", "Rate")
	for i := 0; i < count; i++ {
		info, err := pa.GetDeviceInfo(i)
		if err != nil {
			slog.Warn("Failed to query device", "index", i, "error", err)
			continue
		}
		if info.MaxOutputChannels <= 0 {
			continue
		}
		marker := " "
		if i == defaultOut {
			marker = "*"
		}
		fmt.Printf("%s%-4d %-40s %-10d %-10.0f\n", marker, i, info.Name, info.MaxOutputChannels, info.DefaultSampleRate)
	}
}
