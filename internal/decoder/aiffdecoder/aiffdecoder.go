// Package aiffdecoder decodes uncompressed AIFF/AIFF-C audio.
//
// AIFF is Apple's big-endian IFF container; the "FORM"/"COMM"/"SSND" chunk
// walk below follows the same chunk-then-payload shape as go-wav's RIFF
// parsing (youpy/go-wav, which this workspace already uses in wavdecoder),
// but byte order and chunk IDs differ enough that go-wav's own dependency,
// github.com/youpy/go-riff, cannot parse it: go-riff's reader assumes
// RIFF's little-endian chunk-size field, and a IFF FORM chunk's size field
// is big-endian. See DESIGN.md for why this package reads chunks directly
// with encoding/binary instead.
package aiffdecoder

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/audiopipe/gapless/internal/decoder"
	"github.com/audiopipe/gapless/internal/pcmformat"
)

// Decoder decodes PCM AIFF files.
type Decoder struct {
	url  string
	file *os.File

	format    pcmformat.Format
	dataStart int64
	dataSize  int64
	current   int64

	callbacks decoder.Callbacks
}

// Open opens fileName for AIFF decoding.
func Open(fileName string) (*Decoder, error) {
	file, err := os.Open(fileName)
	if err != nil {
		return nil, fmt.Errorf("aiffdecoder: failed to open %s: %w", fileName, err)
	}

	d := &Decoder{url: fileName, file: file}
	if err := d.readHeader(); err != nil {
		file.Close()
		return nil, err
	}
	return d, nil
}

func (d *Decoder) readHeader() error {
	var form [12]byte
	if _, err := io.ReadFull(d.file, form[:]); err != nil {
		return fmt.Errorf("aiffdecoder: failed to read FORM header: %w", err)
	}
	if string(form[0:4]) != "FORM" || (string(form[8:12]) != "AIFF" && string(form[8:12]) != "AIFC") {
		return fmt.Errorf("aiffdecoder: not an AIFF file")
	}

	var commFound, ssndFound bool
	var channels int
	var sampleSize int
	var sampleRate int

	for {
		var chunkID [4]byte
		var chunkSize uint32
		if _, err := io.ReadFull(d.file, chunkID[:]); err != nil {
			break
		}
		if err := binary.Read(d.file, binary.BigEndian, &chunkSize); err != nil {
			break
		}

		switch string(chunkID[:]) {
		case "COMM":
			var numChannels int16
			var numFrames uint32
			var sampleSizeBits int16
			var extended [10]byte
			binary.Read(d.file, binary.BigEndian, &numChannels)
			binary.Read(d.file, binary.BigEndian, &numFrames)
			binary.Read(d.file, binary.BigEndian, &sampleSizeBits)
			io.ReadFull(d.file, extended[:])

			channels = int(numChannels)
			sampleSize = int(sampleSizeBits)
			sampleRate = int(decodeIEEEExtended(extended))
			commFound = true

			remaining := int64(chunkSize) - 2 - 4 - 2 - 10
			if remaining > 0 {
				d.file.Seek(remaining, io.SeekCurrent)
			}

		case "SSND":
			var offset, blockSize uint32
			binary.Read(d.file, binary.BigEndian, &offset)
			binary.Read(d.file, binary.BigEndian, &blockSize)
			d.file.Seek(int64(offset), io.SeekCurrent)

			pos, _ := d.file.Seek(0, io.SeekCurrent)
			d.dataStart = pos
			d.dataSize = int64(chunkSize) - 8 - int64(offset)
			ssndFound = true

			if _, err := d.file.Seek(d.dataSize, io.SeekCurrent); err != nil {
				break
			}

		default:
			skip := int64(chunkSize)
			if skip%2 != 0 {
				skip++ // chunks are word-aligned
			}
			if _, err := d.file.Seek(skip, io.SeekCurrent); err != nil {
				break
			}
		}

		if commFound && ssndFound {
			break
		}
	}

	if !commFound || !ssndFound {
		return fmt.Errorf("aiffdecoder: missing COMM or SSND chunk")
	}

	d.format = pcmformat.Format{
		SampleRate:    sampleRate,
		Channels:      channels,
		BitsPerSample: sampleSize,
		BytesPerFrame: channels * sampleSize / 8,
	}

	_, err := d.file.Seek(d.dataStart, io.SeekStart)
	return err
}

// decodeIEEEExtended decodes the 80-bit IEEE 754 extended-precision float
// AIFF uses for its sample rate field.
func decodeIEEEExtended(b [10]byte) float64 {
	sign := 1.0
	exponent := int(b[0]&0x7f)<<8 | int(b[1])
	if b[0]&0x80 != 0 {
		sign = -1.0
	}
	mantissa := binary.BigEndian.Uint64(b[2:10])
	if exponent == 0 && mantissa == 0 {
		return 0
	}
	f := float64(mantissa) * math.Pow(2, float64(exponent-16383-63))
	return sign * f
}

func (d *Decoder) URL() string             { return d.url }
func (d *Decoder) Format() pcmformat.Format { return d.format }
func (d *Decoder) SupportsSeeking() bool    { return true }
func (d *Decoder) CurrentFrame() int64      { return d.current }

// SeekToFrame repositions the file within the SSND chunk's sample data.
func (d *Decoder) SeekToFrame(f int64) int64 {
	offset := d.dataStart + f*int64(d.format.BytesPerFrame)
	if offset > d.dataStart+d.dataSize {
		return -1
	}
	if _, err := d.file.Seek(offset, io.SeekStart); err != nil {
		return -1
	}
	d.current = f
	return f
}

// Read decodes up to maxFrames frames of big-endian PCM into buffers[0].
// AIFF stores samples big-endian, unlike the engine's little-endian wire
// convention, so bytes are byte-swapped per sample on the way out.
func (d *Decoder) Read(buffers [][]byte, maxFrames int) (int, error) {
	out := buffers[0]
	needed := maxFrames * d.format.BytesPerFrame
	if len(out) < needed {
		needed = len(out)
	}

	n, err := io.ReadFull(d.file, out[:needed])
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return 0, fmt.Errorf("aiffdecoder: read failed: %w", err)
	}

	bytesPerSample := d.format.BitsPerSample / 8
	for i := 0; i+bytesPerSample <= n; i += bytesPerSample {
		swapBytes(out[i : i+bytesPerSample])
	}

	frames := n / d.format.BytesPerFrame
	d.current += int64(frames)
	return frames, nil
}

func swapBytes(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}

func (d *Decoder) SetCallbacks(cb decoder.Callbacks) { d.callbacks = cb }

func (d *Decoder) Close() error {
	if d.file != nil {
		return d.file.Close()
	}
	return nil
}
