package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/drgolem/go-portaudio/portaudio"
	"github.com/spf13/cobra"

	"github.com/audiopipe/gapless/internal/converter/soxr"
	"github.com/audiopipe/gapless/internal/decoder/factory"
	"github.com/audiopipe/gapless/internal/decoder/streamdecoder"
	paout "github.com/audiopipe/gapless/internal/device/portaudio"
	"github.com/audiopipe/gapless/internal/pcmformat"
	"github.com/audiopipe/gapless/player"
)

var (
	playDeviceIdx     int
	playCapacity      int
	playFrames        int
	playVerbose       bool
	playStdin         bool
	playStdinRate     int
	playStdinChannels int
	playStdinBits     int
)

// playCmd represents the play command.
var playCmd = &cobra.Command{
	Use:   "play <audio_file> [audio_file...]",
	Short: "Play one or more audio files back to back, gaplessly",
	Long: `Play one or more audio files using PortAudio callback-mode output.

Every file is enqueued up front; the engine joins back-to-back files without
a gap whenever their decoded formats match bit-exactly. A file whose format
differs from the first file's is rejected at enqueue and skipped, with an
error logged.

Examples:
  # Play a single file
  gapless play track.flac

  # Play an album gaplessly
  gapless play -d 0 01.flac 02.flac 03.flac

Supported Formats:
  WAV, MP3, FLAC, Ogg Vorbis, Opus, AIFF, raw G.711 (u-law/A-law)

With --stdin, audio_file arguments are ignored and one raw interleaved PCM
stream is read from standard input instead, using --stdin-rate/--stdin-channels/
--stdin-bits to describe its format (there is no container to sniff it from).`,
	Args: func(cmd *cobra.Command, args []string) error {
		if playStdin {
			return nil
		}
		return cobra.MinimumNArgs(1)(cmd, args)
	},
	Run: runPlay,
}

func init() {
	rootCmd.AddCommand(playCmd)

	playCmd.Flags().IntVarP(&playDeviceIdx, "device", "d", 0, "Audio output device index")
	playCmd.Flags().IntVarP(&playCapacity, "capacity", "c", 16384, "Ring buffer capacity in frames")
	playCmd.Flags().IntVarP(&playFrames, "frames", "f", 512, "PortAudio frames per buffer")
	playCmd.Flags().BoolVarP(&playVerbose, "verbose", "v", false, "Verbose output (debug logging)")
	playCmd.Flags().BoolVar(&playStdin, "stdin", false, "Read one raw PCM stream from standard input instead of file arguments")
	playCmd.Flags().IntVar(&playStdinRate, "stdin-rate", 44100, "Sample rate of the raw PCM stream read via --stdin")
	playCmd.Flags().IntVar(&playStdinChannels, "stdin-channels", 2, "Channel count of the raw PCM stream read via --stdin")
	playCmd.Flags().IntVar(&playStdinBits, "stdin-bits", 16, "Bits per sample of the raw PCM stream read via --stdin")
}

// stdinProvider adapts an io.Reader of raw interleaved PCM into a
// streamdecoder.Provider, packetizing it maxFrames at a time.
type stdinProvider struct {
	r      io.Reader
	format pcmformat.Format
}

func (p *stdinProvider) ReadPacket(ctx context.Context, maxFrames int) (streamdecoder.Packet, error) {
	buf := make([]byte, maxFrames*p.format.BytesPerFrame)
	n, err := io.ReadFull(p.r, buf)
	switch err {
	case nil:
		return streamdecoder.Packet{Audio: buf, Frames: maxFrames, Format: p.format}, nil
	case io.ErrUnexpectedEOF:
		frames := n / p.format.BytesPerFrame
		if frames == 0 {
			return streamdecoder.Packet{}, io.EOF
		}
		return streamdecoder.Packet{Audio: buf[:frames*p.format.BytesPerFrame], Frames: frames, Format: p.format}, nil
	case io.EOF:
		return streamdecoder.Packet{}, io.EOF
	default:
		return streamdecoder.Packet{}, err
	}
}

func runPlay(cmd *cobra.Command, args []string) {
	logLevel := slog.LevelInfo
	if playVerbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	if !playStdin {
		for _, fileName := range args {
			if _, err := os.Stat(fileName); os.IsNotExist(err) {
				slog.Error("File not found", "path", fileName)
				os.Exit(1)
			}
		}
	}

	slog.Info("Initializing PortAudio")
	if err := portaudio.Initialize(); err != nil {
		slog.Error("Failed to initialize PortAudio", "error", err)
		os.Exit(1)
	}
	defer portaudio.Terminate()

	slog.Info("PortAudio initialized", "version", portaudio.GetVersion())
	slog.Info("Engine configuration",
		"device_index", playDeviceIdx,
		"ring_capacity_frames", playCapacity,
		"frames_per_buffer", playFrames,
		"file_count", len(args))

	dev := paout.New(playDeviceIdx)
	ctrl, err := player.New(dev, soxr.New,
		player.WithDeviceIndex(playDeviceIdx),
		player.WithRingBufferCapacity(playCapacity),
		player.WithFramesPerBuffer(playFrames),
	)
	if err != nil {
		slog.Error("Failed to create player", "error", err)
		os.Exit(1)
	}
	defer ctrl.Close()

	if playStdin {
		format := pcmformat.Format{
			SampleRate:    playStdinRate,
			Channels:      playStdinChannels,
			BitsPerSample: playStdinBits,
			BytesPerFrame: playStdinChannels * (playStdinBits / 8),
		}
		provider := &stdinProvider{r: bufio.NewReader(os.Stdin), format: format}
		dec := streamdecoder.New(context.Background(), "stdin://", provider, format)
		if !ctrl.Enqueue(dec) {
			slog.Error("Failed to enqueue stdin stream (format mismatch or resource exhaustion)")
			dec.Close()
			os.Exit(1)
		}
		slog.Info("Enqueued stdin stream", "sample_rate", format.SampleRate, "channels", format.Channels, "bits", format.BitsPerSample)
	} else {
		for _, fileName := range args {
			dec, err := factory.Open(fileName)
			if err != nil {
				slog.Error("Failed to open decoder", "file", fileName, "error", err)
				os.Exit(1)
			}
			if !ctrl.Enqueue(dec) {
				slog.Error("Failed to enqueue file (format mismatch or resource exhaustion)", "file", fileName)
				dec.Close()
				continue
			}
			slog.Info("Enqueued file", "path", fileName)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	slog.Info("Starting playback")
	if err := ctrl.Play(); err != nil {
		slog.Error("Failed to start playback", "error", err)
		os.Exit(1)
	}

	statusDone := make(chan struct{})
	go monitorController(ctrl, statusDone)

	done := make(chan struct{})
	go func() {
		waitUntilIdle(ctrl)
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Playback completed")
	case sig := <-sigChan:
		slog.Info("Signal received, stopping playback", "signal", sig)
	}

	close(statusDone)
	if err := ctrl.Stop(); err != nil {
		slog.Error("Failed to stop player", "error", err)
	}

	slog.Info("Exiting")
}

// waitUntilIdle polls Controller.Idle until the engine has drained every
// enqueued file, giving the decoder worker a moment to activate the first
// decoder before sampling.
func waitUntilIdle(ctrl *player.Controller) {
	time.Sleep(100 * time.Millisecond)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		if ctrl.Idle() {
			return
		}
	}
}

func monitorController(ctrl *player.Controller, done chan struct{}) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			current := ctrl.GetCurrentFrame()
			total := ctrl.GetTotalFrames()
			rate, _ := ctrl.SampleRate()
			slog.Info("Playback status",
				"current_time", ctrl.CurrentTime(),
				"current_frame", current,
				"total_frames", total,
				"sample_rate", rate,
				"elapsed", fmt.Sprintf("%.1fs", ctrl.CurrentTime().Seconds()))
		case <-done:
			return
		}
	}
}
