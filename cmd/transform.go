package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	wav "github.com/youpy/go-wav"

	"github.com/audiopipe/gapless/internal/converter/soxr"
	"github.com/audiopipe/gapless/internal/decoder"
	"github.com/audiopipe/gapless/internal/decoder/factory"
	"github.com/audiopipe/gapless/internal/pcmformat"
)

var transformCmd = &cobra.Command{
	Use:   "transform <input_file>",
	Short: "Transform audio file sample rate and format",
	Long: `Transform audio files to different sample rates and convert to WAV format.
Accepts any format the engine has a decoder for.

Examples:
  # Transform FLAC to 48kHz WAV
  gapless transform input.flac --new-samplerate 48000 --out output.wav

  # Transform to 44.1kHz mono WAV
  gapless transform input.mp3 --new-samplerate 44100 --mono --out output.wav

Output Format:
  - WAV PCM at the decoded input's bit depth (resampling accepts 16-bit
    PCM only; --mono treats samples as 16-bit)

Sample Rate Options:
  Common rates: 8000, 16000, 22050, 44100, 48000, 96000, 192000 Hz`,
	Args: cobra.ExactArgs(1),
	Run:  runTransform,
}

func init() {
	rootCmd.AddCommand(transformCmd)

	transformCmd.Flags().Int("new-samplerate", 48000, "Target sample rate in Hz")
	transformCmd.Flags().String("out", "out_transformed.wav", "Output WAV file path")
	transformCmd.Flags().Bool("mono", false, "Convert output to mono signal (average channels)")
}

func runTransform(cmd *cobra.Command, args []string) {
	inFileName := args[0]

	if _, err := os.Stat(inFileName); os.IsNotExist(err) {
		slog.Error("Input file not found", "path", inFileName)
		os.Exit(1)
	}

	newSampleRate, err := cmd.Flags().GetInt("new-samplerate")
	if err != nil {
		slog.Error("Failed to get new-samplerate flag", "error", err)
		os.Exit(1)
	}
	outFileName, err := cmd.Flags().GetString("out")
	if err != nil {
		slog.Error("Failed to get out flag", "error", err)
		os.Exit(1)
	}
	convertToMono, err := cmd.Flags().GetBool("mono")
	if err != nil {
		slog.Error("Failed to get mono flag", "error", err)
		os.Exit(1)
	}

	if newSampleRate <= 0 || newSampleRate > 384000 {
		slog.Error("Invalid sample rate", "rate", newSampleRate, "valid_range", "1-384000")
		os.Exit(1)
	}

	dec, err := factory.Open(inFileName)
	if err != nil {
		slog.Error("Failed to create decoder", "error", err)
		os.Exit(1)
	}
	defer dec.Close()

	inFormat := dec.Format()

	slog.Info("Audio transformation starting",
		"input_file", inFileName,
		"input_sample_rate", inFormat.SampleRate,
		"input_channels", inFormat.Channels,
		"input_bits_per_sample", inFormat.BitsPerSample,
		"output_sample_rate", newSampleRate,
		"output_mono", convertToMono,
		"output_file", outFileName)

	slog.Info("Decoding audio data")
	audioData, totalFrames, err := decodeAllAudio(dec, inFormat)
	if err != nil {
		slog.Error("Failed to decode audio", "error", err)
		os.Exit(1)
	}
	slog.Info("Decoding complete", "input_frames", totalFrames, "input_bytes", len(audioData))

	outFormat := inFormat
	outFormat.SampleRate = newSampleRate

	slog.Info("Resampling audio", "from_rate", inFormat.SampleRate, "to_rate", newSampleRate)
	resampledData, err := resampleAudio(audioData, inFormat, outFormat)
	if err != nil {
		slog.Error("Failed to resample audio", "error", err)
		os.Exit(1)
	}

	outSamples := len(resampledData) / outFormat.BytesPerFrame
	slog.Info("Resampling complete", "output_samples", outSamples, "output_bytes", len(resampledData))

	outChannels := outFormat.Channels
	outputData := resampledData
	if convertToMono && outFormat.Channels > 1 {
		slog.Info("Converting to mono", "input_channels", outFormat.Channels)
		outputData = convertToMono16Bit(resampledData, outFormat.Channels)
		outChannels = 1
	}

	slog.Info("Writing output WAV file", "path", outFileName)
	if err := writeWAVFile(outFileName, outputData, uint32(outSamples), uint16(outChannels), uint32(newSampleRate), uint16(outFormat.BitsPerSample)); err != nil {
		slog.Error("Failed to write WAV file", "error", err)
		os.Exit(1)
	}

	slog.Info("Transformation complete",
		"input_frames", totalFrames,
		"output_samples", outSamples,
		"sample_rate_ratio", fmt.Sprintf("%.3f", float64(newSampleRate)/float64(inFormat.SampleRate)))
}

// decodeAllAudio reads every frame from dec into memory, one chunk at a time.
func decodeAllAudio(dec decoder.Decoder, format pcmformat.Format) ([]byte, int, error) {
	const chunkFrames = 4096
	buf := make([]byte, chunkFrames*format.BytesPerFrame)
	audioData := make([]byte, 0, len(buf)*16)
	totalFrames := 0

	for {
		n, err := dec.Read([][]byte{buf}, chunkFrames)
		if n > 0 {
			audioData = append(audioData, buf[:n*format.BytesPerFrame]...)
			totalFrames += n
		}
		if err != nil {
			return nil, 0, fmt.Errorf("decode error: %w", err)
		}
		if n == 0 {
			break
		}
	}

	return audioData, totalFrames, nil
}

// resampleAudio drives the engine's pull-based converter over an in-memory
// source buffer for a one-shot batch conversion.
func resampleAudio(audioData []byte, src, dst pcmformat.Format) ([]byte, error) {
	if src.SampleRate == dst.SampleRate {
		return audioData, nil
	}

	conv, err := soxr.New(src, dst)
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}
	defer conv.Dispose()

	pos := 0
	pull := func(buffers [][]byte, frames int) (int, error) {
		needed := frames * src.BytesPerFrame
		remaining := len(audioData) - pos
		if remaining <= 0 {
			return 0, nil
		}
		if remaining < needed {
			needed = remaining
		}
		n := copy(buffers[0], audioData[pos:pos+needed])
		pos += n
		return n / src.BytesPerFrame, nil
	}

	var out []byte
	chunk := make([][]byte, 1)
	const outChunkFrames = 4096
	chunk[0] = make([]byte, outChunkFrames*dst.BytesPerFrame)
	for {
		n, err := conv.Fill(outChunkFrames, chunk, pull)
		if n > 0 {
			out = append(out, chunk[0][:n*dst.BytesPerFrame]...)
		}
		if err != nil || n == 0 {
			break
		}
	}
	return out, nil
}

// convertToMono16Bit converts interleaved 16-bit audio to mono by averaging
// channels.
func convertToMono16Bit(data []byte, channels int) []byte {
	if channels == 1 {
		return data
	}

	monoSize := len(data) / channels
	mono := make([]byte, monoSize)

	idx, outIdx := 0, 0
	for idx < len(data) {
		sum := int32(0)
		for ch := 0; ch < channels; ch++ {
			if idx+1 >= len(data) {
				break
			}
			sample := int16(uint16(data[idx]) | uint16(data[idx+1])<<8)
			sum += int32(sample)
			idx += 2
		}
		avg := int16(sum / int32(channels))
		if outIdx+1 < len(mono) {
			mono[outIdx] = byte(avg)
			mono[outIdx+1] = byte(avg >> 8)
			outIdx += 2
		}
	}
	return mono
}

// writeWAVFile writes interleaved PCM audio data of bitsPerSample bits to a
// WAV file.
func writeWAVFile(fileName string, audioData []byte, numSamples uint32, numChannels uint16, sampleRate uint32, bitsPerSample uint16) error {
	fOut, err := os.OpenFile(fileName, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer fOut.Close()

	wavWriter := wav.NewWriter(fOut, numSamples, numChannels, sampleRate, bitsPerSample)
	if _, err := wavWriter.Write(audioData); err != nil {
		return fmt.Errorf("failed to write WAV data: %w", err)
	}
	return nil
}
