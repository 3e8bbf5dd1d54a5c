package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "gapless",
	Short: "Gapless audio playback engine",
	Long: `gapless - a lock-free producer/consumer audio playback engine built around
a frame-addressed SPSC ring buffer, an active-decoder set, and a realtime
render callback that never allocates or blocks.

Features:
  - Lock-free SPSC ring buffer with absolute frame addressing
  - Bit-exact gapless join across back-to-back decoders
  - Seeking without stalling the realtime render path
  - WAV, MP3, FLAC, Ogg Vorbis, Opus, AIFF, and raw G.711 decoders

Commands:
  - play: Play one or more audio files back to back, gaplessly
  - devices: List available output devices
  - transform: Convert an audio file's sample rate and write it as WAV`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(). It only needs to happen once
// to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
